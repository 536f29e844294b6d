package raft_commands

import (
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// AppendEntriesCommand is sent by leader to replicate log entries. The single-entry appendEntry
// path is this command with exactly one entry.
type AppendEntriesCommand struct {
	// Leader's term
	Term uint64
	// Leader's id
	LeaderId uint
	// Index of log entry immediately preceding new ones
	PrevLogIndex uint64
	// Term of PrevLogIndex entry
	PrevLogTerm uint64
	// LogEntries to store
	Entries []raft_state.LogEntry
	// Leader's commit index
	LeaderCommitIndex uint64
}

type AppendEntriesResult struct {
	// currentTerm of given follower, for leader to update itself
	Term uint64
	// boolean indicating whether entries were appended
	Success bool
	// index of the last entry the follower now shares with the leader (valid when Success)
	MatchIndex uint64
	// next index worth trying on a log-matching rejection
	ConflictHint uint64
}

// AppendEntryCommand is the single-entry wire form; receivers treat it exactly as a one-entry
// batch and answer with an AppendEntriesResult.
type AppendEntryCommand struct {
	Term              uint64
	LeaderId          uint
	PrevLogIndex      uint64
	PrevLogTerm       uint64
	Entry             *raft_state.LogEntry
	LeaderCommitIndex uint64
}

func (command *AppendEntryCommand) AsBatch() AppendEntriesCommand {
	batch := AppendEntriesCommand{
		Term:              command.Term,
		LeaderId:          command.LeaderId,
		PrevLogIndex:      command.PrevLogIndex,
		PrevLogTerm:       command.PrevLogTerm,
		LeaderCommitIndex: command.LeaderCommitIndex,
	}
	if command.Entry != nil {
		batch.Entries = []raft_state.LogEntry{*command.Entry}
	}
	return batch
}

func (*AppendEntryCommand) CommandType() CommandType {
	return AppendEntries
}

func (*AppendEntryCommand) CommandTypeString() string {
	return "AppendEntry"
}

func (command *AppendEntryCommand) CommandTerm() uint64 {
	return command.Term
}

func (*AppendEntriesCommand) CommandType() CommandType {
	return AppendEntries
}

func (*AppendEntriesCommand) CommandTypeString() string {
	return "AppendEntries"
}

func (command *AppendEntriesCommand) CommandTerm() uint64 {
	return command.Term
}

func (AppendEntriesResult) ResultType() CommandType {
	return AppendEntries
}
