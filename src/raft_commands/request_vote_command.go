package raft_commands

// RequestVoteCommand is sent by a candidate soliciting votes (the startElection RPC).
type RequestVoteCommand struct {
	// Candidate's term
	Term uint64
	// Id of candidate requesting vote
	CandidateId uint
	// Index of candidate's last log entry
	LastLogIndex uint64
	// Term of candidate's last log entry
	LastLogTerm uint64
}

type RequestVoteResult struct {
	// currentTerm of given voter, for candidate to update itself
	Term uint64
	// boolean indicating whether vote was granted
	VoteGranted bool
}

func (*RequestVoteCommand) CommandType() CommandType {
	return RequestVote
}

func (*RequestVoteCommand) CommandTypeString() string {
	return "RequestVote"
}

func (command *RequestVoteCommand) CommandTerm() uint64 {
	return command.Term
}

func (RequestVoteResult) ResultType() CommandType {
	return RequestVote
}
