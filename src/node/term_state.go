package node

import (
	"encoding/json"
	"fmt"
	"hash/crc32"

	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// tryAdvanceTermLocked is the single backbone check of the protocol: observing a newer term
// demotes this node to Follower, clears its vote, adopts the term and aborts any in-flight
// candidate or leader duties. Returns whether the term advanced.
func tryAdvanceTermLocked(node *Node, observedTerm uint64) bool {
	if observedTerm <= node.PersistentState.CurrentTerm {
		return false
	}

	node.PersistentState.CurrentTerm = observedTerm
	node.PersistentState.VotedFor = raft_state.NilVotedFor
	node.VolatileState.LeaderId = raft_state.NilLeader
	becomeFollowerLocked(node)
	persistHardStateLocked(node)
	return true
}

// observeTerm applies the term gate outside of a handler (e.g. from a response carrying a newer
// term).
func observeTerm(node *Node, observedTerm uint64) {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	tryAdvanceTermLocked(node, observedTerm)
}

// adoptLeaderLocked records the sender of a valid append/heartbeat/snapshot as the current
// leader. The caller has already established command.Term >= CurrentTerm.
func adoptLeaderLocked(node *Node, term uint64, leaderId uint) {
	tryAdvanceTermLocked(node, term)
	if node.VolatileState.Role != raft_state.Follower {
		// a candidate (or stale leader) of the same term yields to the established leader
		becomeFollowerLocked(node)
	}
	node.VolatileState.LeaderId = int64(leaderId)
}

func becomeFollowerLocked(node *Node) {
	changed := node.VolatileState.Role != raft_state.Follower
	node.VolatileState.Role = raft_state.Follower
	cancelElectionLocked(node)
	cancelLeadershipLocked(node)
	if changed {
		signalRoleChanged(node)
	}
}

func cancelElectionLocked(node *Node) {
	if node.electionCancelledChannel != nil {
		close(node.electionCancelledChannel)
		node.electionCancelledChannel = nil
	}
}

// cancelLeadershipLocked ends the current leadership: replicators abort and every proposal still
// waiting for commit is failed.
func cancelLeadershipLocked(node *Node) {
	if node.leadership == nil {
		return
	}

	close(node.leadership.cancelled)
	node.leadership = nil

	for index, waiters := range node.commitWaiters {
		for _, waiter := range waiters {
			waiter <- false
		}
		delete(node.commitWaiters, index)
	}
}

func persistHardStateLocked(node *Node) {
	if err := persistHardState(node); err != nil {
		node.logger.Logf("failed to persist hard state: %v", err)
	}
}

func persistHardState(node *Node) error {
	hardState := raft_log.HardState{
		CurrentTerm: node.PersistentState.CurrentTerm,
		VotedFor:    node.PersistentState.VotedFor,
		Identity:    node.PersistentState.Node.Identity.String(),
	}
	if node.latestSnapshot != nil {
		hardState.SnapshotPath = node.latestSnapshot.Path
	}
	return node.Log.SaveHardState(hardState)
}

// snapshotPayload is the transferable snapshot body: the metadata state machine plus the
// configuration as of the snapshot index.
type snapshotPayload struct {
	Meta          []byte                           `json:"meta"`
	Configuration raft_state.ClusterConfiguration `json:"configuration"`
}

func encodeSnapshotPayload(node *Node) ([]byte, error) {
	meta, err := node.Metadata.Snapshot()
	if err != nil {
		return nil, err
	}
	return json.Marshal(snapshotPayload{Meta: meta, Configuration: node.Configuration})
}

func decodeSnapshotPayload(data []byte) (snapshotPayload, error) {
	var payload snapshotPayload
	err := json.Unmarshal(data, &payload)
	return payload, err
}

// restoreLocalSnapshot rebuilds the state machine from the locally retained snapshot body after
// a restart with a compacted log. The log's own bounds are authoritative: a compacted log whose
// hard state names no restorable body is unrecoverable locally and must fail the restart rather
// than come up with a permanently unappliable suffix.
func restoreLocalSnapshot(node *Node, hardState raft_log.HardState) error {
	snapshotIndex, snapshotTerm := node.Log.SnapshotBounds()
	if snapshotIndex == 0 {
		return nil
	}
	if hardState.SnapshotPath == "" {
		return fmt.Errorf("log compacted to index %d but no snapshot body retained", snapshotIndex)
	}

	size, err := node.snapshots.Size(hardState.SnapshotPath)
	if err != nil {
		return err
	}
	body, err := node.snapshots.Read(hardState.SnapshotPath, 0, int(size))
	if err != nil {
		return err
	}

	payload, err := decodeSnapshotPayload(body)
	if err != nil {
		return err
	}
	if err := node.Metadata.Restore(payload.Meta); err != nil {
		return err
	}

	node.Configuration = payload.Configuration
	node.VolatileState.CommitIndex = snapshotIndex
	node.VolatileState.LastApplied = snapshotIndex
	node.latestSnapshot = &raft_commands.SendSnapshotCommand{
		LastIndex: snapshotIndex,
		LastTerm:  snapshotTerm,
		Path:      hardState.SnapshotPath,
		Size:      size,
		Checksum:  crc32.ChecksumIEEE(body),
	}
	return nil
}
