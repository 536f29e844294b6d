package node

import (
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// handleRaftCommand dispatches the synchronous (lock-only) commands. The second return value
// tells the processing loop to reset its election timeout: any current-term leader contact
// counts, even a log-matching rejection, since it proves a live leader. Only granted votes
// count for RequestVote.
func handleRaftCommand(node *Node, command raft_commands.RaftCommand) (raft_commands.RaftCommandResult, bool) {
	switch command := command.(type) {
	case *raft_commands.AppendEntriesCommand:
		result := HandleAppendEntries(node, command)
		return result, result.Term <= command.Term
	case *raft_commands.AppendEntryCommand:
		batch := command.AsBatch()
		result := HandleAppendEntries(node, &batch)
		return result, result.Term <= batch.Term
	case *raft_commands.HeartbeatCommand:
		result := HandleHeartbeat(node, command)
		return result, result.Term <= command.Term
	case *raft_commands.RequestVoteCommand:
		result := HandleRequestVote(node, command)
		return result, result.VoteGranted
	case *raft_commands.ExileCommand:
		return HandleExile(node), false
	case *raft_commands.CheckStatusCommand:
		return HandleCheckStatus(node, command), false
	case *raft_commands.MatchTermCommand:
		return HandleMatchTerm(node, command), false
	case *raft_commands.RequestCommitIndexCommand:
		return HandleRequestCommitIndex(node), false
	case *raft_commands.CheckAliveCommand:
		return HandleCheckAlive(node), false
	case *raft_commands.QueryNodeStatusCommand:
		return HandleQueryNodeStatus(node), false
	case *raft_commands.ReadFileCommand:
		return HandleReadFile(node, command), false
	}

	node.logger.Logf("dropping unknown command %s", command.CommandTypeString())
	return nil, false
}

// HandleAppendEntries is the follower-side write path: the term gate first, then the
// log-matching check on (prevLogIndex, prevLogTerm), then conflict truncation and append. New
// entries are persisted before the success response leaves this node.
func HandleAppendEntries(node *Node, command *raft_commands.AppendEntriesCommand) raft_commands.AppendEntriesResult {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	result := raft_commands.AppendEntriesResult{Term: node.PersistentState.CurrentTerm}

	if node.exiled {
		return result
	}
	if command.Term < node.PersistentState.CurrentTerm {
		return result
	}

	adoptLeaderLocked(node, command.Term, command.LeaderId)
	result.Term = node.PersistentState.CurrentTerm

	if !node.Log.MatchTerm(command.PrevLogIndex, command.PrevLogTerm) {
		result.ConflictHint = conflictHint(node, command.PrevLogIndex)
		return result
	}

	matchIndex := command.PrevLogIndex
	if len(command.Entries) > 0 {
		lastStored, err := node.Log.StoreEntries(command.Entries)
		if err != nil {
			node.logger.Logf("failed to store entries: %v", err)
			return result
		}
		matchIndex = lastStored
	}

	advanceFollowerCommitLocked(node, command.LeaderCommitIndex, matchIndex)

	result.Success = true
	result.MatchIndex = matchIndex
	return result
}

// HandleHeartbeat asserts the sender's leadership and ships its commit index. The response
// carries this node's log tail so the leader can detect divergence without sending data.
func HandleHeartbeat(node *Node, command *raft_commands.HeartbeatCommand) raft_commands.HeartbeatResult {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	result := raft_commands.HeartbeatResult{Term: node.PersistentState.CurrentTerm}

	if node.exiled {
		return result
	}
	if command.Term < node.PersistentState.CurrentTerm {
		return result
	}

	adoptLeaderLocked(node, command.Term, command.LeaderId)
	result.Term = node.PersistentState.CurrentTerm

	// the leader's commit index is only adopted up to an entry this log actually shares
	if node.Log.MatchTerm(command.CommitIndex, command.CommitTerm) {
		advanceFollowerCommitLocked(node, command.CommitIndex, command.CommitIndex)
	}

	result.Success = true
	result.LastLogIndex = node.Log.LastIndex()
	result.LastLogTerm = node.Log.LastTerm()
	return result
}

// conflictHint suggests where the leader should retry after a log-matching rejection: one past
// this log's tail when the probe overshot it, otherwise one below the probe.
func conflictHint(node *Node, prevLogIndex uint64) uint64 {
	lastIndex := node.Log.LastIndex()
	if prevLogIndex > lastIndex {
		return lastIndex + 1
	}
	if prevLogIndex == 0 {
		return 1
	}
	return prevLogIndex
}

// advanceFollowerCommitLocked moves the commit index toward the leader's, bounded by the highest
// entry this log is known to share with the leader.
func advanceFollowerCommitLocked(node *Node, leaderCommitIndex uint64, lastSharedIndex uint64) {
	if leaderCommitIndex <= node.VolatileState.CommitIndex {
		return
	}

	commitIndex := leaderCommitIndex
	if commitIndex > lastSharedIndex {
		commitIndex = lastSharedIndex
	}
	if commitIndex <= node.VolatileState.CommitIndex {
		return
	}

	node.VolatileState.CommitIndex = commitIndex
	applyCommittedLocked(node)
}

// HandleRequestVote grants a vote iff the candidate's term is current, this node has not yet
// voted for someone else in it, and the candidate's log is at least as up-to-date as ours.
func HandleRequestVote(node *Node, command *raft_commands.RequestVoteCommand) raft_commands.RequestVoteResult {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	result := raft_commands.RequestVoteResult{Term: node.PersistentState.CurrentTerm}

	if node.exiled {
		return result
	}
	if command.Term < node.PersistentState.CurrentTerm {
		return result
	}

	tryAdvanceTermLocked(node, command.Term)
	result.Term = node.PersistentState.CurrentTerm

	alreadyVotedForOther := node.PersistentState.VotedFor != raft_state.NilVotedFor &&
		node.PersistentState.VotedFor != int64(command.CandidateId)
	if alreadyVotedForOther {
		return result
	}

	lastLogIndex := node.Log.LastIndex()
	lastLogTerm := node.Log.LastTerm()
	candidateUpToDate := command.LastLogTerm > lastLogTerm ||
		(command.LastLogTerm == lastLogTerm && command.LastLogIndex >= lastLogIndex)
	if !candidateUpToDate {
		return result
	}

	node.PersistentState.VotedFor = int64(command.CandidateId)
	persistHardStateLocked(node)
	result.VoteGranted = true
	return result
}
