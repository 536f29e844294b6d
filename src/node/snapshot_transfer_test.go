package node

import (
	"hash/crc32"
	"testing"

	"github.com/google/uuid"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// buildSnapshotBody serializes a metadata store + configuration the way a leader would.
func buildSnapshotBody(t *testing.T, commands []string, configuration raft_state.ClusterConfiguration) []byte {
	t.Helper()
	donor := createTestNodeWithConfiguration(&raftNetworkingMock{}, &timeoutFactoryMock{}, configuration)
	for _, command := range commands {
		if err := donor.Metadata.Apply(command); err != nil {
			t.Fatalf("apply %q: %v", command, err)
		}
	}
	body, err := encodeSnapshotPayload(donor)
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	return body
}

func snapshotCommandFor(body []byte, lastIndex uint64, lastTerm uint64, leader raft_state.Node) *raft_commands.SendSnapshotCommand {
	return &raft_commands.SendSnapshotCommand{
		Term:       lastTerm,
		Leader:     leader,
		LastIndex:  lastIndex,
		LastTerm:   lastTerm,
		SnapshotId: uuid.New(),
		Path:       "meta-snapshot-test",
		Size:       int64(len(body)),
		Checksum:   crc32.ChecksumIEEE(body),
	}
}

func TestTakeSnapshot(t *testing.T) {
	t.Run("compacts the applied prefix and records the descriptor", func(t *testing.T) {
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		appendTestEntries(member, 1, 1, 2, 2)

		member.stateMutex.Lock()
		member.PersistentState.CurrentTerm = 2
		member.VolatileState.CommitIndex = 3
		member.VolatileState.LastApplied = 3
		err := takeSnapshotLocked(member)
		member.stateMutex.Unlock()
		if err != nil {
			t.Fatalf("snapshot failed: %v", err)
		}

		if first := member.Log.FirstIndex(); first != 4 {
			t.Fatalf("expected retained log to start at 4, got %d", first)
		}
		member.stateMutex.Lock()
		descriptor := member.latestSnapshot
		member.stateMutex.Unlock()
		if descriptor == nil || descriptor.LastIndex != 3 || descriptor.LastTerm != 2 {
			t.Fatalf("unexpected descriptor %+v", descriptor)
		}

		body, err := member.snapshots.Read(descriptor.Path, 0, int(descriptor.Size))
		if err != nil {
			t.Fatalf("stored body unreadable: %v", err)
		}
		if crc32.ChecksumIEEE(body) != descriptor.Checksum {
			t.Fatal("stored body does not match the descriptor checksum")
		}
	})

	t.Run("maybeCompact respects the threshold", func(t *testing.T) {
		config.Config.CompactionThreshold = 10
		member := createTestNode(&raftNetworkingMock{}, &timeoutFactoryMock{})
		appendTestEntries(member, 1, 1, 1)

		member.stateMutex.Lock()
		member.VolatileState.CommitIndex = 3
		member.VolatileState.LastApplied = 3
		maybeCompactLocked(member)
		member.stateMutex.Unlock()

		if first := member.Log.FirstIndex(); first != 1 {
			t.Fatalf("expected no compaction below the threshold, log starts at %d", first)
		}
	})
}

func TestHandleSendSnapshot(t *testing.T) {
	config.Config.SnapshotChunkSize = 16
	config.Config.SnapshotChunkRetries = 3
	leader := testMember(1)
	newConfiguration := testConfiguration(1, 2, 3, 4)

	prepare := func(body []byte) (*Node, *raftNetworkingMock, *timeoutFactoryMock) {
		networking := &raftNetworkingMock{readFileContent: map[string][]byte{"meta-snapshot-test": body}}
		factory := &timeoutFactoryMock{}
		member := createTestNode(networking, factory)
		member.PersistentState.CurrentTerm = 2
		appendTestEntries(member, 1, 1)
		return member, networking, factory
	}

	t.Run("pulls the body in chunks, installs and adopts the configuration", func(t *testing.T) {
		body := buildSnapshotBody(t, []string{"create-sg root.a", "set-ttl root.a 60"}, newConfiguration)
		member, networking, _ := prepare(body)

		result := HandleSendSnapshot(member, snapshotCommandFor(body, 5, 2, leader))

		if !result.Success {
			t.Fatal("expected success")
		}
		if member.VolatileState.CommitIndex != 5 || member.VolatileState.LastApplied != 5 {
			t.Fatalf("expected commit/applied 5/5, got %d/%d",
				member.VolatileState.CommitIndex, member.VolatileState.LastApplied)
		}
		if member.Log.LastIndex() != 5 || member.Log.FirstIndex() != 6 {
			t.Fatalf("expected log restarted after 5, got first %d last %d",
				member.Log.FirstIndex(), member.Log.LastIndex())
		}
		if ttl, err := member.Metadata.Query("get-ttl root.a"); err != nil || ttl != "60" {
			t.Fatalf("expected restored metadata, got %q (err %v)", ttl, err)
		}
		if len(member.Configuration.Nodes) != 4 {
			t.Fatalf("expected adopted 4-node configuration, got %d", len(member.Configuration.Nodes))
		}

		expectedReads := (len(body) + config.Config.SnapshotChunkSize - 1) / config.Config.SnapshotChunkSize
		networking.mutex.Lock()
		reads := networking.readFileCalls
		networking.mutex.Unlock()
		if reads != expectedReads {
			t.Fatalf("expected %d chunk reads, got %d", expectedReads, reads)
		}
	})

	t.Run("retries a failed chunk before giving up", func(t *testing.T) {
		body := buildSnapshotBody(t, []string{"create-sg root.a"}, newConfiguration)
		member, networking, factory := prepare(body)
		networking.readFileErrors = 1

		done := make(chan raft_commands.SendSnapshotResult)
		factory.timeoutCreated = make(chan *timeoutMock)
		go func() { done <- HandleSendSnapshot(member, snapshotCommandFor(body, 5, 2, leader)) }()

		timeout := <-factory.timeoutCreated
		if timeout.kind != "snapshot-chunk-retry" {
			t.Fatalf("expected snapshot-chunk-retry timeout, got %s", timeout.kind)
		}
		timeout.fire()

		if result := <-done; !result.Success {
			t.Fatal("expected success after the retried chunk")
		}
	})

	t.Run("discards a body failing checksum validation", func(t *testing.T) {
		body := buildSnapshotBody(t, []string{"create-sg root.a"}, newConfiguration)
		member, _, _ := prepare(body)
		command := snapshotCommandFor(body, 5, 2, leader)
		command.Checksum++

		result := HandleSendSnapshot(member, command)

		if result.Success {
			t.Fatal("expected corrupted snapshot to be rejected")
		}
		if member.Log.LastIndex() != 2 || member.VolatileState.CommitIndex != 0 {
			t.Fatal("expected pre-transfer state to survive the failed transfer")
		}
	})

	t.Run("rejects a stale leader's snapshot", func(t *testing.T) {
		body := buildSnapshotBody(t, []string{"create-sg root.a"}, newConfiguration)
		member, _, _ := prepare(body)
		member.PersistentState.CurrentTerm = 9
		command := snapshotCommandFor(body, 5, 2, leader)

		result := HandleSendSnapshot(member, command)

		if result.Success {
			t.Fatal("expected stale snapshot to be rejected")
		}
		if result.Term != 9 {
			t.Fatalf("expected current term 9 in response, got %d", result.Term)
		}
	})

	t.Run("a snapshot already covered by the commit index succeeds without transfer", func(t *testing.T) {
		body := buildSnapshotBody(t, nil, newConfiguration)
		member, networking, _ := prepare(body)
		member.VolatileState.CommitIndex = 2

		result := HandleSendSnapshot(member, snapshotCommandFor(body, 1, 1, leader))

		if !result.Success {
			t.Fatal("expected success")
		}
		networking.mutex.Lock()
		defer networking.mutex.Unlock()
		if member.Log.FirstIndex() != 1 {
			t.Fatal("expected log to be untouched")
		}
	})
}

func TestSnapshotRestartRecovery(t *testing.T) {
	t.Run("a restart after compaction resumes from the retained snapshot", func(t *testing.T) {
		config.Config.CompactionThreshold = 100
		persistence := raft_log.NewMemoryPersistence()
		snapshots := raft_log.NewMemorySnapshotStorage()
		boot := func() *Node {
			member, err := CreateNode(
				testMember(2),
				testConfiguration(1, 2, 3),
				persistence,
				snapshots,
				&raftNetworkingMock{},
				&timeoutFactoryMock{},
				logging.CreateLogger("[TEST]", nil),
			)
			if err != nil {
				t.Fatalf("create node: %v", err)
			}
			return member
		}

		member := boot()
		commands := []string{"create-sg root.a", "set-ttl root.a 60", "create-sg root.b"}
		for i, command := range commands {
			err := member.Log.Append(raft_state.LogEntry{
				Index:   uint64(i + 1),
				Term:    1,
				Type:    raft_state.EntryData,
				Command: command,
			})
			if err != nil {
				t.Fatalf("append: %v", err)
			}
			if err := member.Metadata.Apply(command); err != nil {
				t.Fatalf("apply %q: %v", command, err)
			}
		}

		member.stateMutex.Lock()
		member.PersistentState.CurrentTerm = 1
		member.VolatileState.CommitIndex = 3
		member.VolatileState.LastApplied = 3
		err := takeSnapshotLocked(member)
		member.stateMutex.Unlock()
		if err != nil {
			t.Fatalf("snapshot failed: %v", err)
		}

		restarted := boot()
		if restarted.VolatileState.CommitIndex != 3 || restarted.VolatileState.LastApplied != 3 {
			t.Fatalf("expected commit/applied 3/3 after restart, got %d/%d",
				restarted.VolatileState.CommitIndex, restarted.VolatileState.LastApplied)
		}
		if restarted.latestSnapshot == nil || restarted.latestSnapshot.LastIndex != 3 {
			t.Fatalf("expected restored descriptor at index 3, got %+v", restarted.latestSnapshot)
		}
		if ttl, err := restarted.Metadata.Query("get-ttl root.a"); err != nil || ttl != "60" {
			t.Fatalf("expected restored metadata, got %q (err %v)", ttl, err)
		}

		result := HandleAppendEntries(restarted, &raft_commands.AppendEntriesCommand{
			Term:         1,
			LeaderId:     1,
			PrevLogIndex: 3,
			PrevLogTerm:  1,
			Entries: []raft_state.LogEntry{
				{Index: 4, Term: 1, Type: raft_state.EntryData, Command: "set-ttl root.b 30"},
			},
			LeaderCommitIndex: 4,
		})
		if !result.Success {
			t.Fatal("expected the restarted member to accept appends past the snapshot")
		}
		if ttl, err := restarted.Metadata.Query("get-ttl root.b"); err != nil || ttl != "30" {
			t.Fatalf("expected the follow-up entry applied, got %q (err %v)", ttl, err)
		}
	})

	t.Run("a compacted log without a retained body fails restart", func(t *testing.T) {
		persistence := raft_log.NewMemoryPersistence()
		if err := persistence.RewriteLog(nil, 3, 1); err != nil {
			t.Fatalf("rewrite log: %v", err)
		}
		err := persistence.SaveHardState(raft_log.HardState{
			CurrentTerm: 1,
			VotedFor:    raft_state.NilVotedFor,
			Identity:    uuid.NewString(),
		})
		if err != nil {
			t.Fatalf("save hard state: %v", err)
		}

		_, err = CreateNode(
			testMember(2),
			testConfiguration(1, 2, 3),
			persistence,
			raft_log.NewMemorySnapshotStorage(),
			&raftNetworkingMock{},
			&timeoutFactoryMock{},
			logging.CreateLogger("[TEST]", nil),
		)
		if err == nil {
			t.Fatal("expected a compacted log with no retained snapshot to fail restart")
		}
	})
}
