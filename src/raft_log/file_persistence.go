package raft_log

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// FilePersistence stores the hard state as JSON and the log as a length-prefixed sequence of
// JSON-encoded entries. Appends go to the end of the log file; truncation, compaction and
// snapshot installation rewrite it through a temp file.
type FilePersistence struct {
	mutex         sync.Mutex
	dir           string
	hardStatePath string
	logPath       string
}

type persistedLog struct {
	SnapshotIndex uint64 `json:"snapshotIndex"`
	SnapshotTerm  uint64 `json:"snapshotTerm"`
}

func NewFilePersistence(dir string) (*FilePersistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	persistence := &FilePersistence{
		dir:           dir,
		hardStatePath: filepath.Join(dir, "hardstate.json"),
		logPath:       filepath.Join(dir, "log.bin"),
	}

	if _, err := os.Stat(persistence.logPath); errors.Is(err, os.ErrNotExist) {
		if err := persistence.rewriteLocked(nil, 0, 0); err != nil {
			return nil, err
		}
	}

	return persistence, nil
}

func (persistence *FilePersistence) SaveHardState(hardState HardState) error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()

	data, err := json.Marshal(hardState)
	if err != nil {
		return err
	}

	tmpPath := persistence.hardStatePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, persistence.hardStatePath)
}

func (persistence *FilePersistence) LoadHardState() (HardState, bool, error) {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()

	data, err := os.ReadFile(persistence.hardStatePath)
	if errors.Is(err, os.ErrNotExist) {
		return HardState{}, false, nil
	}
	if err != nil {
		return HardState{}, false, err
	}

	var hardState HardState
	if err := json.Unmarshal(data, &hardState); err != nil {
		return HardState{}, false, err
	}
	return hardState, true, nil
}

func (persistence *FilePersistence) AppendEntries(entries []raft_state.LogEntry) error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()

	file, err := os.OpenFile(persistence.logPath, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, entry := range entries {
		if err := writeEntry(writer, entry); err != nil {
			return err
		}
	}
	if err := writer.Flush(); err != nil {
		return err
	}
	return file.Sync()
}

func (persistence *FilePersistence) RewriteLog(entries []raft_state.LogEntry, snapshotIndex uint64, snapshotTerm uint64) error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()
	return persistence.rewriteLocked(entries, snapshotIndex, snapshotTerm)
}

func (persistence *FilePersistence) LoadLog() ([]raft_state.LogEntry, uint64, uint64, error) {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()

	file, err := os.Open(persistence.logPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, 0, nil
	}
	if err != nil {
		return nil, 0, 0, err
	}
	defer file.Close()

	reader := bufio.NewReader(file)

	var header persistedLog
	headerData, err := readRecord(reader)
	if err != nil {
		return nil, 0, 0, err
	}
	if err := json.Unmarshal(headerData, &header); err != nil {
		return nil, 0, 0, err
	}

	var entries []raft_state.LogEntry
	for {
		data, err := readRecord(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, 0, err
		}

		var entry raft_state.LogEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, 0, 0, err
		}
		entries = append(entries, entry)
	}

	return entries, header.SnapshotIndex, header.SnapshotTerm, nil
}

func (persistence *FilePersistence) Reset() error {
	persistence.mutex.Lock()
	defer persistence.mutex.Unlock()

	if err := os.Remove(persistence.hardStatePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return persistence.rewriteLocked(nil, 0, 0)
}

func (persistence *FilePersistence) rewriteLocked(entries []raft_state.LogEntry, snapshotIndex uint64, snapshotTerm uint64) error {
	tmpPath := persistence.logPath + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	writer := bufio.NewWriter(file)
	headerData, err := json.Marshal(persistedLog{SnapshotIndex: snapshotIndex, SnapshotTerm: snapshotTerm})
	if err != nil {
		file.Close()
		return err
	}
	if err := writeRecord(writer, headerData); err != nil {
		file.Close()
		return err
	}

	for _, entry := range entries {
		if err := writeEntry(writer, entry); err != nil {
			file.Close()
			return err
		}
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return err
	}
	if err := file.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, persistence.logPath)
}

func writeEntry(writer io.Writer, entry raft_state.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return writeRecord(writer, data)
}

func writeRecord(writer io.Writer, data []byte) error {
	if err := binary.Write(writer, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := writer.Write(data)
	return err
}

func readRecord(reader io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(reader, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(reader, data); err != nil {
		return nil, err
	}
	return data, nil
}
