package raft_networking

import (
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// CommandWrapper carries one inbound request and the channel its result must be written to.
type CommandWrapper struct {
	Command raft_commands.RaftCommand
	Result  chan<- raft_commands.RaftCommandResult
}

// RaftNetworking is the transport consumed by the consensus core. Implementations deliver
// well-typed calls with at-least-once or best-effort semantics; idempotence and retry are the
// protocol's responsibility, not the transport's.
type RaftNetworking interface {
	ListenForRaftCommands() chan CommandWrapper

	SendAppendEntriesCommand(node raft_state.Node, command raft_commands.AppendEntriesCommand) (raft_commands.AppendEntriesResult, error)
	SendRequestVoteCommand(node raft_state.Node, command raft_commands.RequestVoteCommand) (raft_commands.RequestVoteResult, error)
	SendHeartbeatCommand(node raft_state.Node, command raft_commands.HeartbeatCommand) (raft_commands.HeartbeatResult, error)
	SendSnapshotCommand(node raft_state.Node, command raft_commands.SendSnapshotCommand) (raft_commands.SendSnapshotResult, error)
	SendAddNodeCommand(node raft_state.Node, command raft_commands.AddNodeCommand) (raft_commands.AddNodeResult, error)
	SendRemoveNodeCommand(node raft_state.Node, command raft_commands.RemoveNodeCommand) (raft_commands.RemoveNodeResult, error)
	SendExileCommand(node raft_state.Node) error
	ReadFile(node raft_state.Node, path string, offset int64, length int) ([]byte, error)
}
