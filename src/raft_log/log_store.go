package raft_log

import (
	"errors"
	"sync"

	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

var (
	// ErrCompacted is returned for indexes already folded into a snapshot
	ErrCompacted = errors.New("log index compacted into snapshot")
	// ErrUnavailable is returned for indexes past the last log entry
	ErrUnavailable = errors.New("log index beyond last entry")
	// ErrOutOfOrder is returned when an append would break index continuity
	ErrOutOfOrder = errors.New("log entry index out of order")
)

// LogStore is the append-only, term-indexed entry sequence of one raft group. It keeps the
// retained window in memory and mirrors every mutation to its Persistence before returning.
type LogStore struct {
	mutex sync.Mutex

	// entries[i].Index == snapshotIndex + 1 + i
	entries       []raft_state.LogEntry
	snapshotIndex uint64
	snapshotTerm  uint64

	persistence Persistence
}

func NewLogStore(persistence Persistence) (*LogStore, error) {
	entries, snapshotIndex, snapshotTerm, err := persistence.LoadLog()
	if err != nil {
		return nil, err
	}

	return &LogStore{
		entries:       entries,
		snapshotIndex: snapshotIndex,
		snapshotTerm:  snapshotTerm,
		persistence:   persistence,
	}, nil
}

// FirstIndex returns the lowest index still present in the retained log. Entries below it are
// only reachable through the snapshot.
func (store *LogStore) FirstIndex() uint64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.snapshotIndex + 1
}

func (store *LogStore) LastIndex() uint64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.lastIndexLocked()
}

func (store *LogStore) LastTerm() uint64 {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if len(store.entries) == 0 {
		return store.snapshotTerm
	}
	return store.entries[len(store.entries)-1].Term
}

// SnapshotBounds returns the (index, term) the retained log starts after.
func (store *LogStore) SnapshotBounds() (uint64, uint64) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.snapshotIndex, store.snapshotTerm
}

// Term returns the term of the entry at index. The snapshot boundary itself still answers.
func (store *LogStore) Term(index uint64) (uint64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return store.termLocked(index)
}

// MatchTerm reports whether the log contains an entry at index with the given term. Index 0 is
// the empty-log sentinel and matches term 0.
func (store *LogStore) MatchTerm(index uint64, term uint64) bool {
	actual, err := store.Term(index)
	if err != nil {
		return false
	}
	return actual == term
}

func (store *LogStore) Entry(index uint64) (raft_state.LogEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if index <= store.snapshotIndex {
		return raft_state.LogEntry{}, ErrCompacted
	}
	if index > store.lastIndexLocked() {
		return raft_state.LogEntry{}, ErrUnavailable
	}
	return store.entries[index-store.snapshotIndex-1], nil
}

// EntriesFrom returns up to maxCount entries starting at index.
func (store *LogStore) EntriesFrom(index uint64, maxCount int) ([]raft_state.LogEntry, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if index <= store.snapshotIndex {
		return nil, ErrCompacted
	}

	lastIndex := store.lastIndexLocked()
	if index > lastIndex {
		return nil, nil
	}

	from := index - store.snapshotIndex - 1
	to := from + uint64(maxCount)
	if to > uint64(len(store.entries)) {
		to = uint64(len(store.entries))
	}

	return append([]raft_state.LogEntry(nil), store.entries[from:to]...), nil
}

// Append adds leader-created entries at the log tail. Leader logs are append-only, so a gap or
// overlap is a programming error and rejected.
func (store *LogStore) Append(entries ...raft_state.LogEntry) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	next := store.lastIndexLocked() + 1
	for _, entry := range entries {
		if entry.Index != next {
			return ErrOutOfOrder
		}
		next++
	}

	if err := store.persistence.AppendEntries(entries); err != nil {
		return err
	}
	store.entries = append(store.entries, entries...)
	return nil
}

// StoreEntries is the follower-side write path: entries already present with a matching term are
// skipped, the first conflict truncates the tail, and everything new is appended. Returns the
// index of the last entry covered by the call.
func (store *LogStore) StoreEntries(entries []raft_state.LogEntry) (uint64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	lastCovered := store.lastIndexLocked()
	truncated := false
	var appended []raft_state.LogEntry

	for _, entry := range entries {
		if entry.Index <= store.snapshotIndex {
			// already folded into the snapshot
			continue
		}

		existingTerm, err := store.termLocked(entry.Index)
		switch {
		case err == nil && existingTerm == entry.Term:
			// already stored
		case err == nil:
			// conflicting entry, drop it and everything after it
			store.entries = store.entries[:entry.Index-store.snapshotIndex-1]
			store.entries = append(store.entries, entry)
			truncated = true
		case errors.Is(err, ErrUnavailable):
			if entry.Index != store.lastIndexLocked()+1 {
				return 0, ErrOutOfOrder
			}
			store.entries = append(store.entries, entry)
			if !truncated {
				appended = append(appended, entry)
			}
		default:
			return 0, err
		}
	}

	if last := store.lastIndexLocked(); len(entries) > 0 {
		lastCovered = entries[len(entries)-1].Index
		if lastCovered > last {
			lastCovered = last
		}
	}

	if truncated {
		err := store.persistence.RewriteLog(store.entries, store.snapshotIndex, store.snapshotTerm)
		return lastCovered, err
	}
	if len(appended) > 0 {
		err := store.persistence.AppendEntries(appended)
		return lastCovered, err
	}
	return lastCovered, nil
}

// Compact drops all entries at or below upTo, recording (upTo, its term) as the new log start.
func (store *LogStore) Compact(upTo uint64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	if upTo <= store.snapshotIndex {
		return nil
	}

	term, err := store.termLocked(upTo)
	if err != nil {
		return err
	}

	store.entries = append([]raft_state.LogEntry(nil), store.entries[upTo-store.snapshotIndex:]...)
	store.snapshotIndex = upTo
	store.snapshotTerm = term

	return store.persistence.RewriteLog(store.entries, store.snapshotIndex, store.snapshotTerm)
}

// InstallSnapshot discards the whole retained log and restarts it after (index, term). Used when
// a received snapshot supersedes the local log.
func (store *LogStore) InstallSnapshot(index uint64, term uint64) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.entries = nil
	store.snapshotIndex = index
	store.snapshotTerm = term

	return store.persistence.RewriteLog(nil, index, term)
}

func (store *LogStore) SaveHardState(hardState HardState) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	hardState.SnapshotIndex = store.snapshotIndex
	hardState.SnapshotTerm = store.snapshotTerm
	return store.persistence.SaveHardState(hardState)
}

func (store *LogStore) LoadHardState() (HardState, bool, error) {
	return store.persistence.LoadHardState()
}

// Reset wipes log and hard state, invalidating this member's raft identity.
func (store *LogStore) Reset() error {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.entries = nil
	store.snapshotIndex = 0
	store.snapshotTerm = 0
	return store.persistence.Reset()
}

func (store *LogStore) lastIndexLocked() uint64 {
	if len(store.entries) == 0 {
		return store.snapshotIndex
	}
	return store.entries[len(store.entries)-1].Index
}

func (store *LogStore) termLocked(index uint64) (uint64, error) {
	if index == store.snapshotIndex {
		return store.snapshotTerm, nil
	}
	if index < store.snapshotIndex {
		return 0, ErrCompacted
	}
	if index > store.lastIndexLocked() {
		return 0, ErrUnavailable
	}
	return store.entries[index-store.snapshotIndex-1].Term, nil
}
