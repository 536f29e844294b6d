package raft_state

import (
	"sort"

	"github.com/chaw1/incubator-iotdb/src/partition"
)

// ClusterConfiguration is the set of voting members plus the partition ownership table. It is
// versioned by the log index of the membership change that produced it and superseded, never
// mutated, on each committed change.
type ClusterConfiguration struct {
	// Log index of the membership-change entry this configuration came from (0 for the seed
	// configuration)
	Version uint64
	// Voting members, sorted by ID
	Nodes []Node
	// Partition ownership derived from Nodes
	SlotTable partition.SlotTable
}

// NewClusterConfiguration builds a configuration with a freshly derived slot table.
func NewClusterConfiguration(version uint64, nodes []Node, slotCount int) ClusterConfiguration {
	sorted := make([]Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	ids := make([]uint, len(sorted))
	for i, node := range sorted {
		ids[i] = node.ID
	}

	return ClusterConfiguration{
		Version:   version,
		Nodes:     sorted,
		SlotTable: partition.Rebuild(ids, slotCount),
	}
}

// WithNode returns a new configuration containing node; adding an existing member is a no-op
// apart from the version bump.
func (config ClusterConfiguration) WithNode(version uint64, node Node, slotCount int) ClusterConfiguration {
	nodes := make([]Node, 0, len(config.Nodes)+1)
	for _, existing := range config.Nodes {
		if !existing.Same(node) {
			nodes = append(nodes, existing)
		}
	}
	nodes = append(nodes, node)
	return NewClusterConfiguration(version, nodes, slotCount)
}

// WithoutNode returns a new configuration with node removed.
func (config ClusterConfiguration) WithoutNode(version uint64, node Node, slotCount int) ClusterConfiguration {
	nodes := make([]Node, 0, len(config.Nodes))
	for _, existing := range config.Nodes {
		if !existing.Same(node) {
			nodes = append(nodes, existing)
		}
	}
	return NewClusterConfiguration(version, nodes, slotCount)
}

// Contains reports whether the node with the given ID is a voting member.
func (config ClusterConfiguration) Contains(id uint) bool {
	for _, node := range config.Nodes {
		if node.ID == id {
			return true
		}
	}
	return false
}

// Quorum is the strict majority of the current voting configuration.
func (config ClusterConfiguration) Quorum() int {
	return len(config.Nodes)/2 + 1
}
