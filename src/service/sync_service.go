package service

import (
	"github.com/chaw1/incubator-iotdb/src/node"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
)

// SyncService is the blocking RPC surface of one cluster member. Every method maps to exactly
// one wire operation and runs the same handler the processing loop would; results are returned
// once the handler finishes, including commit waits for membership changes.
type SyncService struct {
	node *node.Node
}

func NewSyncService(member *node.Node) *SyncService {
	return &SyncService{node: member}
}

// StartElection answers a candidate's vote solicitation.
func (s *SyncService) StartElection(command raft_commands.RequestVoteCommand) raft_commands.RequestVoteResult {
	return node.HandleRequestVote(s.node, &command)
}

// AppendEntries replicates a batch of log entries from the leader.
func (s *SyncService) AppendEntries(command raft_commands.AppendEntriesCommand) raft_commands.AppendEntriesResult {
	return node.HandleAppendEntries(s.node, &command)
}

// AppendEntry replicates a single log entry; semantics are identical to a one-entry batch.
func (s *SyncService) AppendEntry(command raft_commands.AppendEntryCommand) raft_commands.AppendEntriesResult {
	batch := command.AsBatch()
	return node.HandleAppendEntries(s.node, &batch)
}

// SendHeartbeat asserts the sender's leadership and reports this member's log tail.
func (s *SyncService) SendHeartbeat(command raft_commands.HeartbeatCommand) raft_commands.HeartbeatResult {
	return node.HandleHeartbeat(s.node, &command)
}

// SendSnapshot accepts a snapshot descriptor and blocks through the chunked body transfer.
func (s *SyncService) SendSnapshot(command raft_commands.SendSnapshotCommand) raft_commands.SendSnapshotResult {
	return node.HandleSendSnapshot(s.node, &command)
}

// ReadFile serves one chunk of a stored snapshot body.
func (s *SyncService) ReadFile(command raft_commands.ReadFileCommand) raft_commands.ReadFileResult {
	return node.HandleReadFile(s.node, &command)
}

// AddNode runs the admission handshake; on a non-leader it forwards to the known leader. The
// call blocks until the membership entry commits or is rejected.
func (s *SyncService) AddNode(command raft_commands.AddNodeCommand) raft_commands.AddNodeResult {
	return node.HandleAddNode(s.node, &command)
}

// RemoveNode commits the removal of a member and notifies it of its exile.
func (s *SyncService) RemoveNode(command raft_commands.RemoveNodeCommand) raft_commands.RemoveNodeResult {
	return node.HandleRemoveNode(s.node, &command)
}

// CheckStatus compares a joiner's startup parameters against this member's.
func (s *SyncService) CheckStatus(command raft_commands.CheckStatusCommand) raft_commands.CheckStatusResult {
	return node.HandleCheckStatus(s.node, &command)
}

// Exile tells this member it has been removed from the cluster.
func (s *SyncService) Exile() raft_commands.ExileResult {
	return node.HandleExile(s.node)
}

// CheckAlive is the liveness probe.
func (s *SyncService) CheckAlive() raft_commands.CheckAliveResult {
	return node.HandleCheckAlive(s.node)
}

// QueryNodeStatus reports role, term and log position for diagnostics.
func (s *SyncService) QueryNodeStatus() raft_commands.QueryNodeStatusResult {
	return node.HandleQueryNodeStatus(s.node)
}

// RequestCommitIndex reports this member's commit index and term.
func (s *SyncService) RequestCommitIndex() raft_commands.RequestCommitIndexResult {
	return node.HandleRequestCommitIndex(s.node)
}

// MatchTerm checks whether this member's log holds the given (index, term).
func (s *SyncService) MatchTerm(command raft_commands.MatchTermCommand) raft_commands.MatchTermResult {
	return node.HandleMatchTerm(s.node, &command)
}

// ExecuteCommand runs one metadata command on this member; only the leader serves it.
func (s *SyncService) ExecuteCommand(command string) (string, error) {
	return node.HandleClientCommand(s.node, command)
}
