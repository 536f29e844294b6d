package raft_state

import "github.com/google/uuid"

// Node identifies a cluster member. Nodes are compared by ID, never by address, so a member
// keeps its identity across address changes.
type Node struct {
	// Stable numeric identifier
	ID uint
	// Address for metadata (consensus) traffic
	MetaAddr string
	// Address for data traffic
	DataAddr string
	// Raft identity minted when the member first starts; wiped by exile
	Identity uuid.UUID
}

func (node Node) Same(other Node) bool {
	return node.ID == other.ID
}

// NodeStatus is the operational diagnostics answer of queryNodeStatus.
type NodeStatus struct {
	Node         Node
	Role         NodeRole
	Term         uint64
	LastLogIndex uint64
	LastLogTerm  uint64
	CommitIndex  uint64
	LastApplied  uint64
	Exiled       bool
}
