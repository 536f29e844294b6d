package node

import (
	"errors"

	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// HandleCheckAlive answers the liveness probe with this member's identity.
func HandleCheckAlive(node *Node) raft_commands.CheckAliveResult {
	return raft_commands.CheckAliveResult{Node: node.Self()}
}

// HandleQueryNodeStatus reports role, term, log position and health for operational diagnostics.
// It mutates nothing.
func HandleQueryNodeStatus(node *Node) raft_commands.QueryNodeStatusResult {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	return raft_commands.QueryNodeStatusResult{
		Status: raft_state.NodeStatus{
			Node:         node.PersistentState.Node,
			Role:         node.VolatileState.Role,
			Term:         node.PersistentState.CurrentTerm,
			LastLogIndex: node.Log.LastIndex(),
			LastLogTerm:  node.Log.LastTerm(),
			CommitIndex:  node.VolatileState.CommitIndex,
			LastApplied:  node.VolatileState.LastApplied,
			Exiled:       node.exiled,
		},
	}
}

func HandleRequestCommitIndex(node *Node) raft_commands.RequestCommitIndexResult {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	return raft_commands.RequestCommitIndexResult{
		Term:        node.PersistentState.CurrentTerm,
		CommitIndex: node.VolatileState.CommitIndex,
	}
}

// HandleMatchTerm answers "is there an entry at this index with this term" without an append
// round-trip. An index folded into the snapshot matches when it equals the snapshot boundary.
func HandleMatchTerm(node *Node, command *raft_commands.MatchTermCommand) raft_commands.MatchTermResult {
	return raft_commands.MatchTermResult{Matches: node.Log.MatchTerm(command.Index, command.Term)}
}

// HandleReadFile serves one bounded chunk of a stored snapshot body.
func HandleReadFile(node *Node, command *raft_commands.ReadFileCommand) raft_commands.ReadFileResult {
	data, err := node.snapshots.Read(command.Path, command.Offset, command.Length)
	if errors.Is(err, raft_log.ErrNoSuchSnapshot) {
		return raft_commands.ReadFileResult{}
	}
	if err != nil {
		node.logger.Logf("readFile(%s, %d, %d) failed: %v", command.Path, command.Offset, command.Length, err)
		return raft_commands.ReadFileResult{}
	}
	return raft_commands.ReadFileResult{Data: data, Found: true}
}
