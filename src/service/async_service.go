package service

import (
	"github.com/chaw1/incubator-iotdb/src/node"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
)

// AsyncService is the callback RPC surface. Every method returns immediately and later invokes
// its callback exactly once with the same result the SyncService would have returned - the two
// surfaces share handlers, so their semantics cannot drift apart.
type AsyncService struct {
	node *node.Node
}

func NewAsyncService(member *node.Node) *AsyncService {
	return &AsyncService{node: member}
}

func (s *AsyncService) StartElection(command raft_commands.RequestVoteCommand, callback func(raft_commands.RequestVoteResult)) {
	go func() { callback(node.HandleRequestVote(s.node, &command)) }()
}

func (s *AsyncService) AppendEntries(command raft_commands.AppendEntriesCommand, callback func(raft_commands.AppendEntriesResult)) {
	go func() { callback(node.HandleAppendEntries(s.node, &command)) }()
}

func (s *AsyncService) AppendEntry(command raft_commands.AppendEntryCommand, callback func(raft_commands.AppendEntriesResult)) {
	go func() {
		batch := command.AsBatch()
		callback(node.HandleAppendEntries(s.node, &batch))
	}()
}

func (s *AsyncService) SendHeartbeat(command raft_commands.HeartbeatCommand, callback func(raft_commands.HeartbeatResult)) {
	go func() { callback(node.HandleHeartbeat(s.node, &command)) }()
}

func (s *AsyncService) SendSnapshot(command raft_commands.SendSnapshotCommand, callback func(raft_commands.SendSnapshotResult)) {
	go func() { callback(node.HandleSendSnapshot(s.node, &command)) }()
}

func (s *AsyncService) ReadFile(command raft_commands.ReadFileCommand, callback func(raft_commands.ReadFileResult)) {
	go func() { callback(node.HandleReadFile(s.node, &command)) }()
}

func (s *AsyncService) AddNode(command raft_commands.AddNodeCommand, callback func(raft_commands.AddNodeResult)) {
	go func() { callback(node.HandleAddNode(s.node, &command)) }()
}

func (s *AsyncService) RemoveNode(command raft_commands.RemoveNodeCommand, callback func(raft_commands.RemoveNodeResult)) {
	go func() { callback(node.HandleRemoveNode(s.node, &command)) }()
}

func (s *AsyncService) CheckStatus(command raft_commands.CheckStatusCommand, callback func(raft_commands.CheckStatusResult)) {
	go func() { callback(node.HandleCheckStatus(s.node, &command)) }()
}

func (s *AsyncService) Exile(callback func(raft_commands.ExileResult)) {
	go func() { callback(node.HandleExile(s.node)) }()
}

func (s *AsyncService) CheckAlive(callback func(raft_commands.CheckAliveResult)) {
	go func() { callback(node.HandleCheckAlive(s.node)) }()
}

func (s *AsyncService) QueryNodeStatus(callback func(raft_commands.QueryNodeStatusResult)) {
	go func() { callback(node.HandleQueryNodeStatus(s.node)) }()
}

func (s *AsyncService) RequestCommitIndex(callback func(raft_commands.RequestCommitIndexResult)) {
	go func() { callback(node.HandleRequestCommitIndex(s.node)) }()
}

func (s *AsyncService) MatchTerm(command raft_commands.MatchTermCommand, callback func(raft_commands.MatchTermResult)) {
	go func() { callback(node.HandleMatchTerm(s.node, &command)) }()
}

func (s *AsyncService) ExecuteCommand(command string, callback func(result string, err error)) {
	go func() { callback(node.HandleClientCommand(s.node, command)) }()
}
