package raft_log

import (
	"sync"

	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// HardState is the part of a member's state that must survive restarts: the current term, the
// vote cast in it, and the member's raft identity.
type HardState struct {
	CurrentTerm uint64 `json:"currentTerm"`
	VotedFor    int64  `json:"votedFor"`
	Identity    string `json:"identity"`
	// Log start after the latest compaction
	SnapshotIndex uint64 `json:"snapshotIndex"`
	SnapshotTerm  uint64 `json:"snapshotTerm"`
	// Locally retained snapshot body covering the compacted prefix
	SnapshotPath string `json:"snapshotPath,omitempty"`
}

// Persistence is the durable facility backing a LogStore. Implementations must make entries
// durable before returning so a success response to a leader never lies.
type Persistence interface {
	SaveHardState(hardState HardState) error
	// LoadHardState returns found == false on a fresh store
	LoadHardState() (hardState HardState, found bool, err error)
	AppendEntries(entries []raft_state.LogEntry) error
	// RewriteLog replaces the whole retained log, used after truncation, compaction and
	// snapshot installation
	RewriteLog(entries []raft_state.LogEntry, snapshotIndex uint64, snapshotTerm uint64) error
	LoadLog() (entries []raft_state.LogEntry, snapshotIndex uint64, snapshotTerm uint64, err error)
	// Reset wipes everything, used when a node is exiled
	Reset() error
}

// MemoryPersistence keeps everything in memory. It backs simulator and test nodes, surviving
// the simulator's node-restart command the way a disk would survive a process restart.
type MemoryPersistence struct {
	mutex         sync.Mutex
	hardState     HardState
	hasHardState  bool
	entries       []raft_state.LogEntry
	snapshotIndex uint64
	snapshotTerm  uint64
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{}
}

func (persistence *MemoryPersistence) SaveHardState(hardState HardState) error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	persistence.hardState = hardState
	persistence.hasHardState = true
	return nil
}

func (persistence *MemoryPersistence) LoadHardState() (HardState, bool, error) {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	return persistence.hardState, persistence.hasHardState, nil
}

func (persistence *MemoryPersistence) AppendEntries(entries []raft_state.LogEntry) error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	persistence.entries = append(persistence.entries, entries...)
	return nil
}

func (persistence *MemoryPersistence) RewriteLog(entries []raft_state.LogEntry, snapshotIndex uint64, snapshotTerm uint64) error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	persistence.entries = append([]raft_state.LogEntry(nil), entries...)
	persistence.snapshotIndex = snapshotIndex
	persistence.snapshotTerm = snapshotTerm
	return nil
}

func (persistence *MemoryPersistence) LoadLog() ([]raft_state.LogEntry, uint64, uint64, error) {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	entries := append([]raft_state.LogEntry(nil), persistence.entries...)
	return entries, persistence.snapshotIndex, persistence.snapshotTerm, nil
}

func (persistence *MemoryPersistence) Reset() error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	persistence.hardState = HardState{}
	persistence.hasHardState = false
	persistence.entries = nil
	persistence.snapshotIndex = 0
	persistence.snapshotTerm = 0
	return nil
}
