package metadata

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// StorageGroup is one schema-metadata record: a named group of time series with a retention TTL.
type StorageGroup struct {
	Name       string `json:"name"`
	TTLSeconds int64  `json:"ttlSeconds"`
}

// Store is the metadata state machine committed log entries are applied to. Apply is
// deterministic: two members applying the same command sequence hold identical stores.
type Store struct {
	mutex         sync.Mutex
	storageGroups map[string]StorageGroup
}

func NewStore() *Store {
	return &Store{storageGroups: make(map[string]StorageGroup)}
}

// IsValidCommand reports whether command parses as one of the supported metadata operations.
func IsValidCommand(command string) bool {
	tokens := strings.Fields(command)
	if len(tokens) < 2 {
		return false
	}

	switch strings.ToLower(tokens[0]) {
	case "create-sg", "delete-sg", "get-ttl":
		return len(tokens) == 2
	case "set-ttl":
		if len(tokens) != 3 {
			return false
		}
		_, err := strconv.ParseInt(tokens[2], 10, 64)
		return err == nil
	}

	return false
}

// IsReadOnlyCommand reports whether command only reads metadata and can be served by the leader
// without a log entry.
func IsReadOnlyCommand(command string) bool {
	tokens := strings.Fields(command)
	return len(tokens) > 0 && strings.ToLower(tokens[0]) == "get-ttl"
}

// Apply executes a write command. Unknown or malformed commands are rejected, never partially
// applied.
func (store *Store) Apply(command string) error {
	tokens := strings.Fields(command)
	if len(tokens) < 2 {
		return fmt.Errorf("malformed metadata command %q", command)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	switch strings.ToLower(tokens[0]) {
	case "create-sg":
		name := tokens[1]
		if _, exists := store.storageGroups[name]; !exists {
			store.storageGroups[name] = StorageGroup{Name: name}
		}
		return nil
	case "delete-sg":
		delete(store.storageGroups, tokens[1])
		return nil
	case "set-ttl":
		if len(tokens) != 3 {
			return fmt.Errorf("malformed metadata command %q", command)
		}
		ttl, err := strconv.ParseInt(tokens[2], 10, 64)
		if err != nil {
			return fmt.Errorf("malformed metadata command %q: %v", command, err)
		}
		group, exists := store.storageGroups[tokens[1]]
		if !exists {
			return fmt.Errorf("storage group %q does not exist", tokens[1])
		}
		group.TTLSeconds = ttl
		store.storageGroups[tokens[1]] = group
		return nil
	}

	return fmt.Errorf("unknown metadata command %q", command)
}

// Query executes a read-only command.
func (store *Store) Query(command string) (string, error) {
	tokens := strings.Fields(command)
	if len(tokens) != 2 || strings.ToLower(tokens[0]) != "get-ttl" {
		return "", fmt.Errorf("unknown metadata query %q", command)
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	group, exists := store.storageGroups[tokens[1]]
	if !exists {
		return "", fmt.Errorf("storage group %q does not exist", tokens[1])
	}
	return strconv.FormatInt(group.TTLSeconds, 10), nil
}

// StorageGroups returns all groups sorted by name.
func (store *Store) StorageGroups() []StorageGroup {
	store.mutex.Lock()
	defer store.mutex.Unlock()

	groups := make([]StorageGroup, 0, len(store.storageGroups))
	for _, group := range store.storageGroups {
		groups = append(groups, group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups
}

// Snapshot serializes the whole store.
func (store *Store) Snapshot() ([]byte, error) {
	return json.Marshal(store.StorageGroups())
}

// Restore replaces the store's contents with a snapshot produced by Snapshot.
func (store *Store) Restore(data []byte) error {
	var groups []StorageGroup
	if err := json.Unmarshal(data, &groups); err != nil {
		return err
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()

	store.storageGroups = make(map[string]StorageGroup, len(groups))
	for _, group := range groups {
		store.storageGroups[group.Name] = group
	}
	return nil
}
