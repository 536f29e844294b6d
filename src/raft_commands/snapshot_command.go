package raft_commands

import (
	"github.com/google/uuid"

	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// SendSnapshotCommand is the snapshot descriptor a leader sends when a follower's next index has
// been compacted out of the retained log. The follower pulls the body itself through readFile.
type SendSnapshotCommand struct {
	// Leader's term
	Term uint64
	// Leader's identity, used by the follower to pull chunks
	Leader raft_state.Node
	// Snapshot covers the log up to and including (LastIndex, LastTerm)
	LastIndex uint64
	LastTerm  uint64
	// Identifier of the snapshot file
	SnapshotId uuid.UUID
	// Path readable through readFile on the leader
	Path string
	// Body size in bytes
	Size int64
	// CRC32 (IEEE) of the body
	Checksum uint32
}

type SendSnapshotResult struct {
	Term    uint64
	Success bool
}

func (*SendSnapshotCommand) CommandType() CommandType {
	return SendSnapshot
}

func (*SendSnapshotCommand) CommandTypeString() string {
	return "SendSnapshot"
}

func (command *SendSnapshotCommand) CommandTerm() uint64 {
	return command.Term
}

func (SendSnapshotResult) ResultType() CommandType {
	return SendSnapshot
}

// ReadFileCommand is the chunked snapshot-body read. It carries no term: a lagging node must be
// able to read even while its term catches up.
type ReadFileCommand struct {
	Path   string
	Offset int64
	Length int
}

type ReadFileResult struct {
	Data []byte
	// false when the path is unknown to the receiver
	Found bool
}

func (*ReadFileCommand) CommandType() CommandType {
	return ReadFile
}

func (*ReadFileCommand) CommandTypeString() string {
	return "ReadFile"
}

func (*ReadFileCommand) CommandTerm() uint64 {
	return 0
}

func (ReadFileResult) ResultType() CommandType {
	return ReadFile
}
