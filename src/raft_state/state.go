package raft_state

type NodeRole int

const (
	Follower NodeRole = iota
	Candidate
	Leader
)

// NilVotedFor Constant indicating that given node has not voted yet
const NilVotedFor = -1

// NilLeader Constant indicating that given node does not know the current leader
const NilLeader = -1

type EntryType int

const (
	// EntryData carries a metadata state-machine command
	EntryData EntryType = iota
	// EntryAddNode adds a voting member to the configuration
	EntryAddNode
	// EntryRemoveNode removes a voting member from the configuration
	EntryRemoveNode
)

type LogEntry struct {
	// Index of given log entry, 1-based and strictly increasing
	Index uint64
	// Term in which entry was created by the then-leader
	Term uint64
	// Kind of the entry
	Type EntryType
	// Command for the metadata state machine (EntryData only)
	Command string
	// Member affected by a membership change (EntryAddNode/EntryRemoveNode only)
	Node *Node
}

// PersistentState struct for persistent state kept on all nodes
type PersistentState struct {
	// This node's identity
	Node Node
	// Latest term server has seen
	CurrentTerm uint64
	// Id of candidate that received vote in current term (NilVotedFor if none)
	VotedFor int64
}

// VolatileState struct for volatile state kept on all nodes
type VolatileState struct {
	// Current role of this node in the raft group
	Role NodeRole
	// Index of highest log entry known to be committed
	CommitIndex uint64
	// Index of highest log entry applied to state machine
	LastApplied uint64
	// Id of current leader (NilLeader if unknown)
	LeaderId int64
}
