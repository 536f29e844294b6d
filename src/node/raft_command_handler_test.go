package node

import (
	"testing"

	"github.com/go-test/deep"

	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

func TestHandleAppendEntries(t *testing.T) {
	createFollower := func(terms ...uint64) *Node {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		member.PersistentState.CurrentTerm = 2
		appendTestEntries(member, terms...)
		return member
	}

	expectRejection := func(t *testing.T, result raft_commands.AppendEntriesResult, term uint64) {
		t.Helper()
		if result.Success {
			t.Fatal("expected success to be false, got true")
		}
		if result.Term != term {
			t.Fatalf("expected result term to be %d, got %d", term, result.Term)
		}
	}

	t.Run("rejects when command term is older than current term", func(t *testing.T) {
		member := createFollower(1, 2)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{Term: 1, LeaderId: 1})

		expectRejection(t, result, 2)
	})

	t.Run("rejects with conflict hint when prev log entry is missing", func(t *testing.T) {
		member := createFollower(1, 2)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 5, PrevLogTerm: 2,
		})

		expectRejection(t, result, 2)
		if result.ConflictHint != 3 {
			t.Fatalf("expected conflict hint 3 (one past log tail), got %d", result.ConflictHint)
		}
	})

	t.Run("rejects when prev log entry has a different term", func(t *testing.T) {
		member := createFollower(1, 1)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 2, PrevLogTerm: 2,
		})

		expectRejection(t, result, 2)
		if result.ConflictHint != 2 {
			t.Fatalf("expected conflict hint 2, got %d", result.ConflictHint)
		}
	})

	t.Run("appends new entries and reports the match index", func(t *testing.T) {
		member := createFollower(1)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 1, PrevLogTerm: 1,
			Entries: []raft_state.LogEntry{
				{Index: 2, Term: 2, Type: raft_state.EntryData, Command: "create-sg root.a"},
				{Index: 3, Term: 2, Type: raft_state.EntryData, Command: "create-sg root.b"},
			},
		})

		if !result.Success {
			t.Fatal("expected success")
		}
		if result.MatchIndex != 3 {
			t.Fatalf("expected match index 3, got %d", result.MatchIndex)
		}
		if member.Log.LastIndex() != 3 {
			t.Fatalf("expected log to end at 3, got %d", member.Log.LastIndex())
		}
	})

	t.Run("truncates a conflicting tail before appending", func(t *testing.T) {
		member := createFollower(1, 1, 1)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 1, PrevLogTerm: 1,
			Entries: []raft_state.LogEntry{
				{Index: 2, Term: 2, Type: raft_state.EntryData, Command: "create-sg root.new"},
			},
		})

		if !result.Success {
			t.Fatal("expected success")
		}
		if member.Log.LastIndex() != 2 {
			t.Fatalf("expected conflicting entry 3 to be dropped, log ends at %d", member.Log.LastIndex())
		}
		entry, _ := member.Log.Entry(2)
		if entry.Command != "create-sg root.new" {
			t.Fatalf("expected conflicting entry to be replaced, got %q", entry.Command)
		}
	})

	t.Run("advances commit index and applies entries up to leader commit", func(t *testing.T) {
		member := createFollower()

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 0, PrevLogTerm: 0,
			Entries: []raft_state.LogEntry{
				{Index: 1, Term: 2, Type: raft_state.EntryData, Command: "create-sg root.a"},
				{Index: 2, Term: 2, Type: raft_state.EntryData, Command: "set-ttl root.a 60"},
			},
			LeaderCommitIndex: 2,
		})

		if !result.Success {
			t.Fatal("expected success")
		}
		if member.VolatileState.CommitIndex != 2 || member.VolatileState.LastApplied != 2 {
			t.Fatalf("expected commit/applied 2/2, got %d/%d",
				member.VolatileState.CommitIndex, member.VolatileState.LastApplied)
		}

		expected := "60"
		if ttl, err := member.Metadata.Query("get-ttl root.a"); err != nil || ttl != expected {
			t.Fatalf("expected applied ttl %s, got %q (err %v)", expected, ttl, err)
		}
	})

	t.Run("caps commit index at the last entry shared with the leader", func(t *testing.T) {
		member := createFollower(1)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 1, PrevLogTerm: 1,
			LeaderCommitIndex: 5,
		})

		if !result.Success {
			t.Fatal("expected success")
		}
		if member.VolatileState.CommitIndex != 1 {
			t.Fatalf("expected commit index capped at 1, got %d", member.VolatileState.CommitIndex)
		}
	})

	t.Run("demotes a candidate of the same term", func(t *testing.T) {
		member := createFollower(1)
		member.VolatileState.Role = raft_state.Candidate

		HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 1, PrevLogTerm: 1,
		})

		if member.VolatileState.Role != raft_state.Follower {
			t.Fatal("expected candidate to yield to the established leader")
		}
		if member.VolatileState.LeaderId != 1 {
			t.Fatalf("expected leader id 1, got %d", member.VolatileState.LeaderId)
		}
	})

	t.Run("rejects everything after exile", func(t *testing.T) {
		member := createFollower(1)
		HandleExile(member)

		result := HandleAppendEntries(member, &raft_commands.AppendEntriesCommand{
			Term: 9, LeaderId: 1, PrevLogIndex: 0, PrevLogTerm: 0,
		})

		if result.Success {
			t.Fatal("expected exiled node to reject append entries")
		}
	})
}

func TestHandleHeartbeat(t *testing.T) {
	t.Run("reports the follower's log tail", func(t *testing.T) {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		member.PersistentState.CurrentTerm = 2
		appendTestEntries(member, 1, 2)

		result := HandleHeartbeat(member, &raft_commands.HeartbeatCommand{Term: 2, LeaderId: 1})

		if !result.Success {
			t.Fatal("expected success")
		}
		if result.LastLogIndex != 2 || result.LastLogTerm != 2 {
			t.Fatalf("expected tail (2, 2), got (%d, %d)", result.LastLogIndex, result.LastLogTerm)
		}
	})

	t.Run("advances commit only when the commit entry is shared", func(t *testing.T) {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		member.PersistentState.CurrentTerm = 2
		appendTestEntries(member, 1, 1)

		// commit term mismatch: entry 2 has term 1, leader says 2
		HandleHeartbeat(member, &raft_commands.HeartbeatCommand{
			Term: 2, LeaderId: 1, CommitIndex: 2, CommitTerm: 2,
		})
		if member.VolatileState.CommitIndex != 0 {
			t.Fatalf("expected commit index to stay 0, got %d", member.VolatileState.CommitIndex)
		}

		HandleHeartbeat(member, &raft_commands.HeartbeatCommand{
			Term: 2, LeaderId: 1, CommitIndex: 2, CommitTerm: 1,
		})
		if member.VolatileState.CommitIndex != 2 {
			t.Fatalf("expected commit index 2, got %d", member.VolatileState.CommitIndex)
		}
	})

	t.Run("rejects a stale leader's heartbeat", func(t *testing.T) {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		member.PersistentState.CurrentTerm = 5

		result := HandleHeartbeat(member, &raft_commands.HeartbeatCommand{Term: 3, LeaderId: 1})

		if result.Success {
			t.Fatal("expected stale heartbeat to be rejected")
		}
		if result.Term != 5 {
			t.Fatalf("expected current term 5 in response, got %d", result.Term)
		}
	})
}

func TestHandleRequestVote(t *testing.T) {
	createVoter := func(terms ...uint64) *Node {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		member.PersistentState.CurrentTerm = 2
		appendTestEntries(member, terms...)
		return member
	}

	t.Run("rejects a candidate with an older term", func(t *testing.T) {
		member := createVoter(1)

		result := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 1, CandidateId: 3, LastLogIndex: 5, LastLogTerm: 1,
		})

		if result.VoteGranted {
			t.Fatal("expected vote to be denied")
		}
	})

	t.Run("rejects a candidate with a less up-to-date log", func(t *testing.T) {
		member := createVoter(1, 2)

		byTerm := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 3, CandidateId: 3, LastLogIndex: 9, LastLogTerm: 1,
		})
		if byTerm.VoteGranted {
			t.Fatal("expected vote denied for older last log term")
		}

		byIndex := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 4, CandidateId: 3, LastLogIndex: 1, LastLogTerm: 2,
		})
		if byIndex.VoteGranted {
			t.Fatal("expected vote denied for shorter log of same term")
		}
	})

	t.Run("grants at most one vote per term", func(t *testing.T) {
		member := createVoter(1)

		first := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 3, CandidateId: 3, LastLogIndex: 1, LastLogTerm: 1,
		})
		if !first.VoteGranted {
			t.Fatal("expected first vote to be granted")
		}

		other := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 3, CandidateId: 1, LastLogIndex: 9, LastLogTerm: 3,
		})
		if other.VoteGranted {
			t.Fatal("expected second vote in the same term to be denied")
		}

		repeat := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 3, CandidateId: 3, LastLogIndex: 1, LastLogTerm: 1,
		})
		if !repeat.VoteGranted {
			t.Fatal("expected repeated vote for the same candidate to be granted")
		}
	})

	t.Run("newer term demotes and clears the previous vote", func(t *testing.T) {
		member := createVoter(1)
		member.VolatileState.Role = raft_state.Candidate
		member.PersistentState.VotedFor = 2

		result := HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 7, CandidateId: 3, LastLogIndex: 1, LastLogTerm: 1,
		})

		if !result.VoteGranted {
			t.Fatal("expected vote granted after term advance")
		}
		if member.VolatileState.Role != raft_state.Follower {
			t.Fatal("expected demotion to follower")
		}
		if member.PersistentState.CurrentTerm != 7 {
			t.Fatalf("expected term 7, got %d", member.PersistentState.CurrentTerm)
		}
	})

	t.Run("persists the granted vote", func(t *testing.T) {
		member := createVoter(1)

		HandleRequestVote(member, &raft_commands.RequestVoteCommand{
			Term: 3, CandidateId: 3, LastLogIndex: 1, LastLogTerm: 1,
		})

		hardState, found, err := member.Log.LoadHardState()
		if err != nil || !found {
			t.Fatalf("expected persisted hard state, found=%t err=%v", found, err)
		}
		expected := struct {
			Term     uint64
			VotedFor int64
		}{3, 3}
		actual := struct {
			Term     uint64
			VotedFor int64
		}{hardState.CurrentTerm, hardState.VotedFor}
		if diff := deep.Equal(actual, expected); diff != nil {
			t.Fatalf("persisted state differs: %v", diff)
		}
	})
}

func TestElectionTimerReset(t *testing.T) {
	createFollower := func() *Node {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		member.PersistentState.CurrentTerm = 2
		appendTestEntries(member, 1, 2)
		return member
	}

	t.Run("a current-term append resets the timer even when the log check rejects it", func(t *testing.T) {
		member := createFollower()

		_, resetTimer := handleRaftCommand(member, &raft_commands.AppendEntriesCommand{
			Term: 2, LeaderId: 1, PrevLogIndex: 5, PrevLogTerm: 2,
		})

		if !resetTimer {
			t.Fatal("expected a rejected current-term append to still reset the election timer")
		}
	})

	t.Run("a stale-term append does not reset the timer", func(t *testing.T) {
		member := createFollower()

		_, resetTimer := handleRaftCommand(member, &raft_commands.AppendEntriesCommand{
			Term: 1, LeaderId: 1,
		})

		if resetTimer {
			t.Fatal("expected a stale-term append to leave the election timer running")
		}
	})

	t.Run("a stale-term heartbeat does not reset the timer", func(t *testing.T) {
		member := createFollower()

		_, resetTimer := handleRaftCommand(member, &raft_commands.HeartbeatCommand{
			Term: 1, LeaderId: 1,
		})

		if resetTimer {
			t.Fatal("expected a stale-term heartbeat to leave the election timer running")
		}
	})

	t.Run("a denied vote does not reset the timer", func(t *testing.T) {
		member := createFollower()
		member.PersistentState.VotedFor = 1

		_, resetTimer := handleRaftCommand(member, &raft_commands.RequestVoteCommand{
			Term: 2, CandidateId: 3, LastLogIndex: 2, LastLogTerm: 2,
		})

		if resetTimer {
			t.Fatal("expected a denied vote to leave the election timer running")
		}
	})
}
