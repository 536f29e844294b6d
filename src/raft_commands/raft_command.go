package raft_commands

type CommandType int

const (
	AppendEntries CommandType = iota
	RequestVote
	Heartbeat
	SendSnapshot
	AddNode
	RemoveNode
	CheckStatus
	Exile
	MatchTerm
	RequestCommitIndex
	CheckAlive
	QueryNodeStatus
	ReadFile
)

// RaftCommand is implemented by every inbound request so the processing loop can dispatch and
// apply the term gate uniformly.
type RaftCommand interface {
	// CommandType returns type of given command
	CommandType() CommandType
	// CommandTypeString returns type of given command as string
	CommandTypeString() string
	// CommandTerm returns term of command sender, 0 for term-less side channels
	CommandTerm() uint64
}

// RaftCommandResult is implemented by every response type.
type RaftCommandResult interface {
	ResultType() CommandType
}
