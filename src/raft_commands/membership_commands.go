package raft_commands

import (
	"strings"

	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// SnapshotLocator tells a freshly admitted node where to pull its seed snapshot from.
type SnapshotLocator struct {
	Node raft_state.Node
	Path string
}

// AddNodeCommand is the admission handshake: the joiner reports itself and its StartUpStatus to
// any known member.
type AddNodeCommand struct {
	Node   raft_state.Node
	Status raft_state.StartUpStatus
}

type AddNodeResult struct {
	Accepted bool
	// Rejection reason when not accepted
	Reason string
	// true when the caller should retry (e.g. another membership change was in flight)
	Retryable bool
	// Per-parameter compatibility verdict
	CheckStatus CheckStatusResult
	// Configuration after the committed change (valid when Accepted)
	Configuration raft_state.ClusterConfiguration
	// Where to pull a seed snapshot from; empty path when the leader's log suffices
	Snapshot SnapshotLocator
	// Index of the committed membership-change entry
	CommitIndex uint64
}

func (*AddNodeCommand) CommandType() CommandType  { return AddNode }
func (*AddNodeCommand) CommandTypeString() string { return "AddNode" }
func (*AddNodeCommand) CommandTerm() uint64       { return 0 }
func (AddNodeResult) ResultType() CommandType     { return AddNode }

// RemoveNodeCommand removes a voting member through the log pipeline.
type RemoveNodeCommand struct {
	Node raft_state.Node
}

type RemoveNodeResult struct {
	Success   bool
	Reason    string
	Retryable bool
	// Index of the committed membership-change entry
	CommitIndex uint64
}

func (*RemoveNodeCommand) CommandType() CommandType  { return RemoveNode }
func (*RemoveNodeCommand) CommandTypeString() string { return "RemoveNode" }
func (*RemoveNodeCommand) CommandTerm() uint64       { return 0 }
func (RemoveNodeResult) ResultType() CommandType     { return RemoveNode }

// CheckStatusCommand is the non-mutating compatibility probe of the admission handshake.
type CheckStatusCommand struct {
	Status raft_state.StartUpStatus
}

type CheckStatusResult struct {
	VersionMatches           bool
	PartitionIntervalMatches bool
	HashSaltMatches          bool
	ReplicationNumberMatches bool
	SeedNodesMatch           bool
}

func (*CheckStatusCommand) CommandType() CommandType  { return CheckStatus }
func (*CheckStatusCommand) CommandTypeString() string { return "CheckStatus" }
func (*CheckStatusCommand) CommandTerm() uint64       { return 0 }
func (CheckStatusResult) ResultType() CommandType     { return CheckStatus }

func (result CheckStatusResult) Compatible() bool {
	return result.VersionMatches &&
		result.PartitionIntervalMatches &&
		result.HashSaltMatches &&
		result.ReplicationNumberMatches &&
		result.SeedNodesMatch
}

// Reason names every mismatched parameter, for the joiner's rejection message.
func (result CheckStatusResult) Reason() string {
	var mismatches []string
	if !result.VersionMatches {
		mismatches = append(mismatches, "cluster version")
	}
	if !result.PartitionIntervalMatches {
		mismatches = append(mismatches, "partition interval")
	}
	if !result.HashSaltMatches {
		mismatches = append(mismatches, "hash salt")
	}
	if !result.ReplicationNumberMatches {
		mismatches = append(mismatches, "replication number")
	}
	if !result.SeedNodesMatch {
		mismatches = append(mismatches, "seed node list")
	}
	if len(mismatches) == 0 {
		return ""
	}
	return "incompatible " + strings.Join(mismatches, ", ")
}

// ExileCommand is the fire-and-forget notification delivered to a removed node.
type ExileCommand struct{}

type ExileResult struct{}

func (*ExileCommand) CommandType() CommandType  { return Exile }
func (*ExileCommand) CommandTypeString() string { return "Exile" }
func (*ExileCommand) CommandTerm() uint64       { return 0 }
func (ExileResult) ResultType() CommandType     { return Exile }
