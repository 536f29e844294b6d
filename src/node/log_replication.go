package node

import (
	"errors"
	"sort"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// runReplicator is the outbound replication stream for one follower. It wakes on demand and
// pushes everything from nextIndex to the log tail, falling back to snapshot transfer when the
// follower is behind the retained log. One unreachable follower only ever blocks its own stream.
func runReplicator(node *Node, follower raft_state.Node, lead *leadership) {
	trigger := lead.triggers[follower.ID]

	for {
		select {
		case <-lead.cancelled:
			return
		case <-trigger:
		}

		replicateToFollower(node, follower, lead)
	}
}

// triggerReplicationLocked wakes the streams of all current followers.
func triggerReplicationLocked(node *Node) {
	if node.leadership == nil {
		return
	}
	for _, trigger := range node.leadership.triggers {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
}

func triggerFollowerLocked(node *Node, followerId uint) {
	if node.leadership == nil {
		return
	}
	if trigger, exists := node.leadership.triggers[followerId]; exists {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}
}

func replicateToFollower(node *Node, follower raft_state.Node, lead *leadership) {
	for {
		node.stateMutex.Lock()
		if node.leadership != lead {
			node.stateMutex.Unlock()
			return
		}
		if !node.Configuration.Contains(follower.ID) {
			// removed by a committed membership change
			node.stateMutex.Unlock()
			return
		}

		nextIndex := lead.nextIndex[follower.ID]
		prevLogIndex := nextIndex - 1
		prevLogTerm, err := node.Log.Term(prevLogIndex)
		if errors.Is(err, raft_log.ErrCompacted) {
			node.stateMutex.Unlock()
			sendSnapshotToFollower(node, follower, lead)
			return
		}
		if err != nil {
			node.logger.Logf("replication to node %d stopped: %v", follower.ID, err)
			node.stateMutex.Unlock()
			return
		}

		entries, err := node.Log.EntriesFrom(nextIndex, config.Config.MaxBatchSize)
		if err != nil {
			node.stateMutex.Unlock()
			sendSnapshotToFollower(node, follower, lead)
			return
		}

		command := raft_commands.AppendEntriesCommand{
			Term:              lead.term,
			LeaderId:          node.PersistentState.Node.ID,
			PrevLogIndex:      prevLogIndex,
			PrevLogTerm:       prevLogTerm,
			Entries:           entries,
			LeaderCommitIndex: node.VolatileState.CommitIndex,
		}
		node.stateMutex.Unlock()

		// an empty batch is still sent: it probes (prevLogIndex, prevLogTerm) so divergence
		// detected by heartbeats gets repaired
		result, err := node.raftNetworking.SendAppendEntriesCommand(follower, command)
		if err != nil {
			// unreachable follower: wait and retry with the then-current log position
			timeout := node.timeoutFactory.Timeout("append-entries-retry", config.Config.RetryTimeout)
			select {
			case <-timeout.Done():
				continue
			case <-lead.cancelled:
				timeout.Cancel()
				return
			}
		}

		if result.Term > lead.term {
			observeTerm(node, result.Term)
			return
		}

		node.stateMutex.Lock()
		if node.leadership != lead {
			node.stateMutex.Unlock()
			return
		}

		if result.Success {
			lastAppended := command.PrevLogIndex + uint64(len(command.Entries))
			if result.MatchIndex > 0 && result.MatchIndex < lastAppended {
				lastAppended = result.MatchIndex
			}
			lead.matchIndex[follower.ID] = lastAppended
			lead.nextIndex[follower.ID] = lastAppended + 1
			maybeAdvanceCommitLocked(node)

			more := lead.nextIndex[follower.ID] <= node.Log.LastIndex()
			node.stateMutex.Unlock()
			if !more {
				return
			}
			continue
		}

		// log-matching rejection: step back, guided by the follower's hint
		nextIndex = lead.nextIndex[follower.ID] - 1
		if result.ConflictHint > 0 && result.ConflictHint < nextIndex {
			nextIndex = result.ConflictHint
		}
		if nextIndex < 1 {
			nextIndex = 1
		}
		lead.nextIndex[follower.ID] = nextIndex
		node.stateMutex.Unlock()
	}
}

// maybeAdvanceCommitLocked advances the commit index to the highest N replicated on a majority,
// provided the entry at N was created in the current term — entries from prior terms commit only
// transitively through it.
func maybeAdvanceCommitLocked(node *Node) {
	lead := node.leadership
	if lead == nil {
		return
	}

	matchIndexes := []uint64{node.Log.LastIndex()} // the leader's own log counts as a match
	for _, member := range node.Configuration.Nodes {
		if member.ID == node.PersistentState.Node.ID {
			continue
		}
		matchIndexes = append(matchIndexes, lead.matchIndex[member.ID])
	}

	sort.Slice(matchIndexes, func(i, j int) bool { return matchIndexes[i] > matchIndexes[j] })
	quorumIndex := matchIndexes[node.Configuration.Quorum()-1]

	if quorumIndex <= node.VolatileState.CommitIndex {
		return
	}
	if !node.Log.MatchTerm(quorumIndex, node.PersistentState.CurrentTerm) {
		return
	}

	node.VolatileState.CommitIndex = quorumIndex
	applyCommittedLocked(node)
}

// applyCommittedLocked applies every committed-but-unapplied entry, in order, to the metadata
// state machine (or the configuration, for membership entries) and releases proposal waiters.
func applyCommittedLocked(node *Node) {
	for node.VolatileState.LastApplied < node.VolatileState.CommitIndex {
		index := node.VolatileState.LastApplied + 1
		entry, err := node.Log.Entry(index)
		if err != nil {
			node.logger.Logf("cannot apply entry %d: %v", index, err)
			return
		}

		switch entry.Type {
		case raft_state.EntryData:
			if err := node.Metadata.Apply(entry.Command); err != nil {
				node.logger.Logf("entry %d rejected by state machine: %v", index, err)
			}
		case raft_state.EntryAddNode, raft_state.EntryRemoveNode:
			applyMembershipLocked(node, entry)
		}

		node.VolatileState.LastApplied = index

		if waiters, exists := node.commitWaiters[index]; exists {
			for _, waiter := range waiters {
				waiter <- true
			}
			delete(node.commitWaiters, index)
		}
	}

	maybeCompactLocked(node)
}

// proposeEntry appends one entry to the leader's log and blocks until it commits or leadership
// is lost. Returns the entry's index.
func proposeEntry(node *Node, entry raft_state.LogEntry) (uint64, error) {
	node.stateMutex.Lock()

	if node.exiled {
		node.stateMutex.Unlock()
		return 0, ErrExiled
	}
	if node.VolatileState.Role != raft_state.Leader || node.leadership == nil {
		node.stateMutex.Unlock()
		return 0, ErrNotLeader
	}

	entry.Index = node.Log.LastIndex() + 1
	entry.Term = node.PersistentState.CurrentTerm

	if err := node.Log.Append(entry); err != nil {
		node.stateMutex.Unlock()
		return 0, err
	}

	waiter := make(chan bool, 1)
	node.commitWaiters[entry.Index] = append(node.commitWaiters[entry.Index], waiter)

	// a single-member configuration commits on the leader's own append
	maybeAdvanceCommitLocked(node)
	triggerReplicationLocked(node)
	node.stateMutex.Unlock()

	if committed := <-waiter; !committed {
		return 0, ErrLeadershipLost
	}
	return entry.Index, nil
}

// broadcastHeartbeat sends the periodic empty append to every follower in parallel. Responses
// are compared against the leader's log tail; a diverging follower's stream is woken so the
// divergence gets repaired even when there is no new data.
func broadcastHeartbeat(node *Node) {
	node.stateMutex.Lock()
	lead := node.leadership
	if lead == nil {
		node.stateMutex.Unlock()
		return
	}

	commitIndex := node.VolatileState.CommitIndex
	commitTerm, err := node.Log.Term(commitIndex)
	if err != nil {
		commitTerm = 0
	}
	command := raft_commands.HeartbeatCommand{
		Term:        lead.term,
		LeaderId:    node.PersistentState.Node.ID,
		CommitIndex: commitIndex,
		CommitTerm:  commitTerm,
	}

	followers := make([]raft_state.Node, 0, len(node.Configuration.Nodes))
	for _, member := range node.Configuration.Nodes {
		if member.ID != node.PersistentState.Node.ID {
			followers = append(followers, member)
		}
	}
	node.stateMutex.Unlock()

	for _, follower := range followers {
		follower := follower
		go func() {
			result, err := node.raftNetworking.SendHeartbeatCommand(follower, command)
			if err != nil {
				return
			}
			handleHeartbeatResponse(node, follower, lead, result)
		}()
	}
}

func handleHeartbeatResponse(node *Node, follower raft_state.Node, lead *leadership, result raft_commands.HeartbeatResult) {
	if result.Term > lead.term {
		observeTerm(node, result.Term)
		return
	}
	if !result.Success {
		return
	}

	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	if node.leadership != lead {
		return
	}

	// identical (index, term) at the follower's tail implies an identical prefix, so the tail
	// itself is a confirmed match
	if node.Log.MatchTerm(result.LastLogIndex, result.LastLogTerm) {
		if result.LastLogIndex > lead.matchIndex[follower.ID] {
			lead.matchIndex[follower.ID] = result.LastLogIndex
			if lead.nextIndex[follower.ID] <= result.LastLogIndex {
				lead.nextIndex[follower.ID] = result.LastLogIndex + 1
			}
			maybeAdvanceCommitLocked(node)
		}
		if result.LastLogIndex < node.Log.LastIndex() {
			triggerFollowerLocked(node, follower.ID)
		}
		return
	}

	// diverging tail: restart the probe near the follower's end of log and wake the stream,
	// the append path walks nextIndex back from there
	if result.LastLogIndex+1 < lead.nextIndex[follower.ID] {
		lead.nextIndex[follower.ID] = result.LastLogIndex + 1
	}
	triggerFollowerLocked(node, follower.ID)
}

// confirmLeadership verifies this node still leads by collecting a quorum of heartbeat
// responses, used before serving linearizable reads.
func confirmLeadership(node *Node) bool {
	node.stateMutex.Lock()
	lead := node.leadership
	if lead == nil {
		node.stateMutex.Unlock()
		return false
	}

	commitIndex := node.VolatileState.CommitIndex
	commitTerm, err := node.Log.Term(commitIndex)
	if err != nil {
		commitTerm = 0
	}
	command := raft_commands.HeartbeatCommand{
		Term:        lead.term,
		LeaderId:    node.PersistentState.Node.ID,
		CommitIndex: commitIndex,
		CommitTerm:  commitTerm,
	}

	followers := make([]raft_state.Node, 0, len(node.Configuration.Nodes))
	for _, member := range node.Configuration.Nodes {
		if member.ID != node.PersistentState.Node.ID {
			followers = append(followers, member)
		}
	}
	quorum := node.Configuration.Quorum()
	node.stateMutex.Unlock()

	acks := make(chan bool, len(followers))
	for _, follower := range followers {
		follower := follower
		go func() {
			result, err := node.raftNetworking.SendHeartbeatCommand(follower, command)
			acks <- err == nil && result.Success
		}()
	}

	confirmed := 1 // the leader itself
	for range followers {
		if <-acks {
			confirmed++
		}
		if confirmed >= quorum {
			return true
		}
	}
	return confirmed >= quorum
}
