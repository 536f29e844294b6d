package raft_log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// ErrNoSuchSnapshot is returned when a readFile path does not name a stored snapshot.
var ErrNoSuchSnapshot = errors.New("no such snapshot file")

// SnapshotStorage holds transferable snapshot bodies. The leader writes a body under a name and
// followers read it back in bounded chunks through the readFile RPC.
type SnapshotStorage interface {
	Write(name string, data []byte) (path string, err error)
	Read(path string, offset int64, length int) ([]byte, error)
	Size(path string) (int64, error)
	Remove(path string) error
}

// FileSnapshotStorage keeps snapshot bodies as plain files under one directory.
type FileSnapshotStorage struct {
	dir string
}

func NewFileSnapshotStorage(dir string) (*FileSnapshotStorage, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileSnapshotStorage{dir: dir}, nil
}

func (storage *FileSnapshotStorage) Write(name string, data []byte) (string, error) {
	path := filepath.Join(storage.dir, name)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return "", err
	}
	return path, nil
}

func (storage *FileSnapshotStorage) Read(path string, offset int64, length int) ([]byte, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSuchSnapshot
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data := make([]byte, length)
	read, err := file.ReadAt(data, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return data[:read], nil
}

func (storage *FileSnapshotStorage) Size(path string) (int64, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, ErrNoSuchSnapshot
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (storage *FileSnapshotStorage) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// MemorySnapshotStorage keeps snapshot bodies in memory, used by the simulator and tests.
type MemorySnapshotStorage struct {
	mutex sync.Mutex
	files map[string][]byte
}

func NewMemorySnapshotStorage() *MemorySnapshotStorage {
	return &MemorySnapshotStorage{files: make(map[string][]byte)}
}

func (storage *MemorySnapshotStorage) Write(name string, data []byte) (string, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	storage.files[name] = append([]byte(nil), data...)
	return name, nil
}

func (storage *MemorySnapshotStorage) Read(path string, offset int64, length int) ([]byte, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()

	data, exists := storage.files[path]
	if !exists {
		return nil, ErrNoSuchSnapshot
	}
	if offset >= int64(len(data)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return append([]byte(nil), data[offset:end]...), nil
}

func (storage *MemorySnapshotStorage) Size(path string) (int64, error) {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()

	data, exists := storage.files[path]
	if !exists {
		return 0, ErrNoSuchSnapshot
	}
	return int64(len(data)), nil
}

func (storage *MemorySnapshotStorage) Remove(path string) error {
	storage.mutex.Lock()
	defer storage.mutex.Unlock()
	delete(storage.files, path)
	return nil
}
