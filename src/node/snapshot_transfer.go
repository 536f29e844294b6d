package node

import (
	"fmt"
	"hash/crc32"

	"github.com/google/uuid"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// maybeCompactLocked folds the applied log prefix into a snapshot once enough entries have
// accumulated. The snapshot body stays in snapshot storage so lagging followers can pull it.
func maybeCompactLocked(node *Node) {
	firstIndex := node.Log.FirstIndex()
	applied := node.VolatileState.LastApplied
	if applied < firstIndex || applied-firstIndex+1 < uint64(config.Config.CompactionThreshold) {
		return
	}

	if err := takeSnapshotLocked(node); err != nil {
		node.logger.Logf("compaction failed: %v", err)
	}
}

// takeSnapshotLocked serializes the state machine as of lastApplied, stores it under a fresh
// UUID and compacts the log up to it.
func takeSnapshotLocked(node *Node) error {
	applied := node.VolatileState.LastApplied
	appliedTerm, err := node.Log.Term(applied)
	if err != nil {
		return err
	}

	body, err := encodeSnapshotPayload(node)
	if err != nil {
		return err
	}

	snapshotId := uuid.New()
	path, err := node.snapshots.Write(fmt.Sprintf("meta-snapshot-%s", snapshotId), body)
	if err != nil {
		return err
	}

	// the hard state must point at the new body before the log loses the entries it covers,
	// otherwise a crash in between leaves a compacted log with nothing to restore from
	previous := node.latestSnapshot
	node.latestSnapshot = &raft_commands.SendSnapshotCommand{
		LastIndex:  applied,
		LastTerm:   appliedTerm,
		SnapshotId: snapshotId,
		Path:       path,
		Size:       int64(len(body)),
		Checksum:   crc32.ChecksumIEEE(body),
	}
	if err := persistHardState(node); err != nil {
		node.latestSnapshot = previous
		if removeErr := node.snapshots.Remove(path); removeErr != nil {
			node.logger.Logf("failed to drop unrecorded snapshot %s: %v", path, removeErr)
		}
		return err
	}

	if err := node.Log.Compact(applied); err != nil {
		return err
	}
	persistHardStateLocked(node)

	if previous != nil {
		if err := node.snapshots.Remove(previous.Path); err != nil {
			node.logger.Logf("failed to drop superseded snapshot %s: %v", previous.Path, err)
		}
	}

	node.logger.Logf("compacted log up to index %d (snapshot %s)", applied, snapshotId)
	return nil
}

// sendSnapshotToFollower replaces a doomed append retry loop once the follower's next index has
// fallen behind the retained log: it ships the snapshot descriptor and resumes appends after it.
func sendSnapshotToFollower(node *Node, follower raft_state.Node, lead *leadership) {
	node.stateMutex.Lock()
	if node.leadership != lead || node.latestSnapshot == nil {
		node.stateMutex.Unlock()
		return
	}

	command := *node.latestSnapshot
	command.Term = lead.term
	command.Leader = node.PersistentState.Node
	node.stateMutex.Unlock()

	node.logger.Logf("sending snapshot at index %d to node %d", command.LastIndex, follower.ID)

	result, err := node.raftNetworking.SendSnapshotCommand(follower, command)
	if err != nil {
		// the next replication attempt retries the whole transfer
		return
	}
	if result.Term > lead.term {
		observeTerm(node, result.Term)
		return
	}
	if !result.Success {
		return
	}

	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	if node.leadership != lead {
		return
	}

	if command.LastIndex > lead.matchIndex[follower.ID] {
		lead.matchIndex[follower.ID] = command.LastIndex
	}
	lead.nextIndex[follower.ID] = command.LastIndex + 1
	maybeAdvanceCommitLocked(node)
	triggerFollowerLocked(node, follower.ID)
}

// HandleSendSnapshot is the follower side of the transfer: accept the descriptor, pull the body
// in bounded chunks (without holding the state lock), validate it, then install. Any failure
// leaves this node at its pre-transfer state.
func HandleSendSnapshot(node *Node, command *raft_commands.SendSnapshotCommand) raft_commands.SendSnapshotResult {
	node.stateMutex.Lock()
	result := raft_commands.SendSnapshotResult{Term: node.PersistentState.CurrentTerm}

	if node.exiled || command.Term < node.PersistentState.CurrentTerm {
		node.stateMutex.Unlock()
		return result
	}

	adoptLeaderLocked(node, command.Term, command.Leader.ID)
	result.Term = node.PersistentState.CurrentTerm

	if command.LastIndex <= node.VolatileState.CommitIndex {
		// everything in the snapshot is already committed locally
		result.Success = true
		node.stateMutex.Unlock()
		return result
	}
	node.stateMutex.Unlock()

	body, err := pullSnapshotBody(node, command)
	if err != nil {
		node.logger.Logf("snapshot transfer from node %d failed: %v", command.Leader.ID, err)
		return result
	}

	if int64(len(body)) != command.Size || crc32.ChecksumIEEE(body) != command.Checksum {
		node.logger.Logf("snapshot %s failed validation, discarding", command.SnapshotId)
		return result
	}

	payload, err := decodeSnapshotPayload(body)
	if err != nil {
		node.logger.Logf("snapshot %s is not decodable: %v", command.SnapshotId, err)
		return result
	}

	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()

	// the world may have moved on while chunks were in flight
	if node.exiled || node.PersistentState.CurrentTerm != command.Term {
		result.Term = node.PersistentState.CurrentTerm
		return result
	}

	// retain the body and record its path before the log is rewritten, so a crash mid-install
	// always leaves either the old log intact or a restorable snapshot behind
	localPath, err := node.snapshots.Write(fmt.Sprintf("meta-snapshot-%s", command.SnapshotId), body)
	if err != nil {
		node.logger.Logf("failed to retain snapshot locally: %v", err)
		return result
	}

	previous := node.latestSnapshot
	node.latestSnapshot = &raft_commands.SendSnapshotCommand{
		LastIndex:  command.LastIndex,
		LastTerm:   command.LastTerm,
		SnapshotId: command.SnapshotId,
		Path:       localPath,
		Size:       command.Size,
		Checksum:   command.Checksum,
	}
	if err := persistHardState(node); err != nil {
		node.logger.Logf("failed to persist snapshot descriptor: %v", err)
		node.latestSnapshot = previous
		if removeErr := node.snapshots.Remove(localPath); removeErr != nil {
			node.logger.Logf("failed to drop unrecorded snapshot %s: %v", localPath, removeErr)
		}
		return result
	}

	if err := node.Log.InstallSnapshot(command.LastIndex, command.LastTerm); err != nil {
		node.logger.Logf("snapshot install failed: %v", err)
		return result
	}
	if err := node.Metadata.Restore(payload.Meta); err != nil {
		node.logger.Logf("snapshot restore failed: %v", err)
		return result
	}

	node.Configuration = payload.Configuration
	node.VolatileState.CommitIndex = command.LastIndex
	node.VolatileState.LastApplied = command.LastIndex
	persistHardStateLocked(node)

	if previous != nil && previous.Path != localPath {
		if err := node.snapshots.Remove(previous.Path); err != nil {
			node.logger.Logf("failed to drop superseded snapshot %s: %v", previous.Path, err)
		}
	}

	node.logger.Logf("installed snapshot at index %d from node %d", command.LastIndex, command.Leader.ID)
	result.Success = true
	return result
}

// pullSnapshotBody reads the snapshot in offset-ordered chunks, retrying each chunk on transient
// failure without restarting the transfer.
func pullSnapshotBody(node *Node, command *raft_commands.SendSnapshotCommand) ([]byte, error) {
	body := make([]byte, 0, command.Size)
	chunkSize := config.Config.SnapshotChunkSize

	for offset := int64(0); offset < command.Size; {
		remaining := command.Size - offset
		length := chunkSize
		if int64(length) > remaining {
			length = int(remaining)
		}

		chunk, err := readChunkWithRetries(node, command, offset, length)
		if err != nil {
			return nil, err
		}

		body = append(body, chunk...)
		offset += int64(len(chunk))
	}

	return body, nil
}

func readChunkWithRetries(node *Node, command *raft_commands.SendSnapshotCommand, offset int64, length int) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < config.Config.SnapshotChunkRetries; attempt++ {
		if attempt > 0 {
			<-node.timeoutFactory.Timeout("snapshot-chunk-retry", config.Config.RetryTimeout).Done()
		}

		chunk, err := node.raftNetworking.ReadFile(command.Leader, command.Path, offset, length)
		if err == nil && len(chunk) > 0 {
			return chunk, nil
		}
		if err == nil {
			lastErr = fmt.Errorf("empty chunk at offset %d", offset)
		} else {
			lastErr = err
		}
	}
	return nil, fmt.Errorf("chunk at offset %d failed after %d attempts: %w", offset, config.Config.SnapshotChunkRetries, lastErr)
}
