package node

import (
	"github.com/google/uuid"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// HandleCheckStatus compares a joiner's StartUpStatus against this member's parameters. It is a
// pure probe: no cluster state changes.
func HandleCheckStatus(node *Node, command *raft_commands.CheckStatusCommand) raft_commands.CheckStatusResult {
	return compareStartUpStatus(command.Status)
}

func compareStartUpStatus(status raft_state.StartUpStatus) raft_commands.CheckStatusResult {
	return raft_commands.CheckStatusResult{
		VersionMatches:           status.Version == config.Config.ClusterVersion,
		PartitionIntervalMatches: status.PartitionIntervalSeconds == config.Config.PartitionIntervalSeconds,
		HashSaltMatches:          status.HashSalt == config.Config.HashSalt,
		ReplicationNumberMatches: status.ReplicationNumber == config.Config.ReplicationNumber,
		SeedNodesMatch:           seedNodesMatch(status.SeedNodes),
	}
}

func seedNodesMatch(seedNodes []string) bool {
	if len(config.Config.SeedNodes) == 0 {
		// a simulator or test cluster with no configured seeds accepts any list
		return true
	}
	if len(seedNodes) != len(config.Config.SeedNodes) {
		return false
	}
	matched := make(map[string]bool, len(config.Config.SeedNodes))
	for _, seed := range config.Config.SeedNodes {
		matched[seed] = false
	}
	for _, seed := range seedNodes {
		if _, exists := matched[seed]; !exists {
			return false
		}
		matched[seed] = true
	}
	for _, seen := range matched {
		if !seen {
			return false
		}
	}
	return true
}

// HandleAddNode runs the admission handshake. Compatibility is checked locally; the actual
// membership change goes through the log pipeline on the leader, so concurrent admissions
// serialize and at most one may immediately succeed the current configuration.
func HandleAddNode(node *Node, command *raft_commands.AddNodeCommand) raft_commands.AddNodeResult {
	check := compareStartUpStatus(command.Status)
	if !check.Compatible() {
		return raft_commands.AddNodeResult{Reason: check.Reason(), CheckStatus: check}
	}

	node.stateMutex.Lock()

	if node.exiled {
		node.stateMutex.Unlock()
		return raft_commands.AddNodeResult{Reason: ErrExiled.Error(), CheckStatus: check}
	}

	if node.VolatileState.Role != raft_state.Leader {
		leader, known := leaderNodeLocked(node)
		node.stateMutex.Unlock()
		if !known {
			return raft_commands.AddNodeResult{Reason: ErrLeaderUnknown.Error(), Retryable: true, CheckStatus: check}
		}
		result, err := node.raftNetworking.SendAddNodeCommand(leader, *command)
		if err != nil {
			return raft_commands.AddNodeResult{Reason: err.Error(), Retryable: true, CheckStatus: check}
		}
		return result
	}

	if node.Configuration.Contains(command.Node.ID) {
		// re-admission of a known member is answered from the current configuration
		result := acceptedAddNodeLocked(node, check, node.Configuration.Version)
		node.stateMutex.Unlock()
		return result
	}

	if node.configChangeInFlight {
		node.stateMutex.Unlock()
		return raft_commands.AddNodeResult{Reason: ErrConfigChangeInProgress.Error(), Retryable: true, CheckStatus: check}
	}
	node.configChangeInFlight = true
	node.stateMutex.Unlock()

	joiner := command.Node
	index, err := proposeEntry(node, raft_state.LogEntry{
		Type: raft_state.EntryAddNode,
		Node: &joiner,
	})

	node.stateMutex.Lock()
	node.configChangeInFlight = false
	if err != nil {
		node.stateMutex.Unlock()
		return raft_commands.AddNodeResult{Reason: err.Error(), Retryable: true, CheckStatus: check}
	}

	result := acceptedAddNodeLocked(node, check, index)
	node.stateMutex.Unlock()

	node.logger.Logf("admitted node %d at log index %d", joiner.ID, index)
	return result
}

func acceptedAddNodeLocked(node *Node, check raft_commands.CheckStatusResult, commitIndex uint64) raft_commands.AddNodeResult {
	result := raft_commands.AddNodeResult{
		Accepted:      true,
		CheckStatus:   check,
		Configuration: node.Configuration,
		CommitIndex:   commitIndex,
	}
	if node.latestSnapshot != nil {
		result.Snapshot = raft_commands.SnapshotLocator{
			Node: node.PersistentState.Node,
			Path: node.latestSnapshot.Path,
		}
	}
	return result
}

// HandleRemoveNode commits a removal through the log and, once applied, exiles the removed node
// so it cannot keep believing it holds a seat.
func HandleRemoveNode(node *Node, command *raft_commands.RemoveNodeCommand) raft_commands.RemoveNodeResult {
	node.stateMutex.Lock()

	if node.exiled {
		node.stateMutex.Unlock()
		return raft_commands.RemoveNodeResult{Reason: ErrExiled.Error()}
	}

	if node.VolatileState.Role != raft_state.Leader {
		leader, known := leaderNodeLocked(node)
		node.stateMutex.Unlock()
		if !known {
			return raft_commands.RemoveNodeResult{Reason: ErrLeaderUnknown.Error(), Retryable: true}
		}
		result, err := node.raftNetworking.SendRemoveNodeCommand(leader, *command)
		if err != nil {
			return raft_commands.RemoveNodeResult{Reason: err.Error(), Retryable: true}
		}
		return result
	}

	if command.Node.ID == node.PersistentState.Node.ID {
		// removing the leader itself would orphan the in-flight change; callers remove a
		// leader by electing another one first
		node.stateMutex.Unlock()
		return raft_commands.RemoveNodeResult{Reason: "cannot remove the current leader"}
	}

	if !node.Configuration.Contains(command.Node.ID) {
		node.stateMutex.Unlock()
		return raft_commands.RemoveNodeResult{Reason: "not a cluster member"}
	}

	if node.configChangeInFlight {
		node.stateMutex.Unlock()
		return raft_commands.RemoveNodeResult{Reason: ErrConfigChangeInProgress.Error(), Retryable: true}
	}
	node.configChangeInFlight = true
	node.stateMutex.Unlock()

	removed := command.Node
	index, err := proposeEntry(node, raft_state.LogEntry{
		Type: raft_state.EntryRemoveNode,
		Node: &removed,
	})

	node.stateMutex.Lock()
	node.configChangeInFlight = false
	node.stateMutex.Unlock()

	if err != nil {
		return raft_commands.RemoveNodeResult{Reason: err.Error(), Retryable: true}
	}

	node.logger.Logf("removed node %d at log index %d", removed.ID, index)

	// fire-and-forget: the removed node must learn it no longer holds a seat
	go func() {
		if err := node.raftNetworking.SendExileCommand(removed); err != nil {
			node.logger.Logf("exile notification to node %d failed: %v", removed.ID, err)
		}
	}()

	return raft_commands.RemoveNodeResult{Success: true, CommitIndex: index}
}

// applyMembershipLocked is where a committed membership change actually takes effect: the
// configuration is superseded by a new version keyed by the entry's index.
func applyMembershipLocked(node *Node, entry raft_state.LogEntry) {
	if entry.Node == nil {
		node.logger.Logf("membership entry %d carries no node, ignoring", entry.Index)
		return
	}

	switch entry.Type {
	case raft_state.EntryAddNode:
		node.Configuration = node.Configuration.WithNode(entry.Index, *entry.Node, config.Config.SlotCount)
		startReplicatorForNewMemberLocked(node, *entry.Node)
	case raft_state.EntryRemoveNode:
		node.Configuration = node.Configuration.WithoutNode(entry.Index, *entry.Node, config.Config.SlotCount)
		if entry.Node.ID == node.PersistentState.Node.ID {
			exileLocked(node)
		}
	}
}

func startReplicatorForNewMemberLocked(node *Node, member raft_state.Node) {
	lead := node.leadership
	if lead == nil || member.ID == node.PersistentState.Node.ID {
		return
	}
	if _, exists := lead.triggers[member.ID]; exists {
		return
	}

	lead.nextIndex[member.ID] = node.Log.LastIndex() + 1
	lead.matchIndex[member.ID] = 0
	lead.triggers[member.ID] = make(chan struct{}, 1)
	go runReplicator(node, member, lead)
	triggerFollowerLocked(node, member.ID)
}

// HandleExile processes the removal notification: this member wipes its raft identity so it can
// never rejoin the voting set by simply resuming replication.
func HandleExile(node *Node) raft_commands.ExileResult {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	exileLocked(node)
	return raft_commands.ExileResult{}
}

func exileLocked(node *Node) {
	if node.exiled {
		return
	}

	node.logger.Log("exiled from cluster, clearing raft identity")

	node.exiled = true
	becomeFollowerLocked(node)

	node.PersistentState.CurrentTerm = 0
	node.PersistentState.VotedFor = raft_state.NilVotedFor
	node.PersistentState.Node.Identity = uuid.Nil
	node.VolatileState.CommitIndex = 0
	node.VolatileState.LastApplied = 0
	node.VolatileState.LeaderId = raft_state.NilLeader
	node.latestSnapshot = nil

	if err := node.Log.Reset(); err != nil {
		node.logger.Logf("failed to reset log after exile: %v", err)
	}
}
