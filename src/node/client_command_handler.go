package node

import (
	"fmt"

	"github.com/chaw1/incubator-iotdb/src/metadata"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// HandleClientCommand executes one metadata command on the leader: reads are served after a
// quorum leadership check, writes go through the log and return once committed and applied.
// Non-leaders return ErrNotLeader; callers redirect using the node's leader hint.
func HandleClientCommand(node *Node, command string) (string, error) {
	if !metadata.IsValidCommand(command) {
		return "", fmt.Errorf("'%s' - invalid command", command)
	}

	node.stateMutex.Lock()
	if node.exiled {
		node.stateMutex.Unlock()
		return "", ErrExiled
	}
	if node.VolatileState.Role != raft_state.Leader {
		node.stateMutex.Unlock()
		return "", ErrNotLeader
	}
	node.stateMutex.Unlock()

	if metadata.IsReadOnlyCommand(command) {
		// confirm this node still leads before answering, so a deposed leader in a
		// partition cannot serve stale reads as current
		if !confirmLeadership(node) {
			return "", ErrNotLeader
		}
		return node.Metadata.Query(command)
	}

	index, err := proposeEntry(node, raft_state.LogEntry{
		Type:    raft_state.EntryData,
		Command: command,
	})
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("committed at index %d", index), nil
}
