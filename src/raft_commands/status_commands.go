package raft_commands

import (
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// MatchTermCommand asks "do you have an entry at this index with this term", used by operational
// tooling and repair paths to detect divergence without an append round-trip.
type MatchTermCommand struct {
	Index uint64
	Term  uint64
}

type MatchTermResult struct {
	Matches bool
}

func (*MatchTermCommand) CommandType() CommandType  { return MatchTerm }
func (*MatchTermCommand) CommandTypeString() string { return "MatchTerm" }
func (*MatchTermCommand) CommandTerm() uint64       { return 0 }
func (MatchTermResult) ResultType() CommandType     { return MatchTerm }

type RequestCommitIndexCommand struct{}

type RequestCommitIndexResult struct {
	Term        uint64
	CommitIndex uint64
}

func (*RequestCommitIndexCommand) CommandType() CommandType  { return RequestCommitIndex }
func (*RequestCommitIndexCommand) CommandTypeString() string { return "RequestCommitIndex" }
func (*RequestCommitIndexCommand) CommandTerm() uint64       { return 0 }
func (RequestCommitIndexResult) ResultType() CommandType     { return RequestCommitIndex }

type CheckAliveCommand struct{}

type CheckAliveResult struct {
	Node raft_state.Node
}

func (*CheckAliveCommand) CommandType() CommandType  { return CheckAlive }
func (*CheckAliveCommand) CommandTypeString() string { return "CheckAlive" }
func (*CheckAliveCommand) CommandTerm() uint64       { return 0 }
func (CheckAliveResult) ResultType() CommandType     { return CheckAlive }

type QueryNodeStatusCommand struct{}

type QueryNodeStatusResult struct {
	Status raft_state.NodeStatus
}

func (*QueryNodeStatusCommand) CommandType() CommandType  { return QueryNodeStatus }
func (*QueryNodeStatusCommand) CommandTypeString() string { return "QueryNodeStatus" }
func (*QueryNodeStatusCommand) CommandTerm() uint64       { return 0 }
func (QueryNodeStatusResult) ResultType() CommandType     { return QueryNodeStatus }
