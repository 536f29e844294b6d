package raft_commands

// HeartbeatCommand is the empty append a leader sends on a fixed period to assert leadership and
// ship its commit index. Responses carry the follower's log tail so the leader can spot
// divergence even when there is nothing new to replicate.
type HeartbeatCommand struct {
	// Leader's term
	Term uint64
	// Leader's id
	LeaderId uint
	// Leader's commit index
	CommitIndex uint64
	// Term of the entry at CommitIndex
	CommitTerm uint64
}

type HeartbeatResult struct {
	// currentTerm of given follower, for leader to update itself
	Term uint64
	// false only on a stale-term or exiled rejection
	Success bool
	// follower's log tail, used by the leader to detect divergence
	LastLogIndex uint64
	LastLogTerm  uint64
}

func (*HeartbeatCommand) CommandType() CommandType {
	return Heartbeat
}

func (*HeartbeatCommand) CommandTypeString() string {
	return "Heartbeat"
}

func (command *HeartbeatCommand) CommandTerm() uint64 {
	return command.Term
}

func (HeartbeatResult) ResultType() CommandType {
	return Heartbeat
}
