package node

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/metadata"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_networking"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
	"github.com/chaw1/incubator-iotdb/src/timer"
)

var (
	// ErrNotLeader is returned for operations only the leader may serve
	ErrNotLeader = errors.New("not the group leader")
	// ErrExiled is returned once this member has been removed from the cluster
	ErrExiled = errors.New("node exiled from cluster")
	// ErrConfigChangeInProgress is returned when a membership change is already in flight
	ErrConfigChangeInProgress = errors.New("another membership change in progress")
	// ErrLeadershipLost is returned to proposal waiters when leadership ends before commit
	ErrLeadershipLost = errors.New("leadership lost before commit")
	// ErrLeaderUnknown is returned when a request must reach the leader but none is known
	ErrLeaderUnknown = errors.New("group leader unknown")
)

type electionResult struct {
	term uint64
	won  bool
}

// leadership holds the leader-side replication state, reinitialized on every election win and
// discarded on demotion.
type leadership struct {
	term       uint64
	nextIndex  map[uint]uint64
	matchIndex map[uint]uint64
	// per-follower replication wakeups
	triggers map[uint]chan struct{}
	// closed when this leadership term ends; in-flight replication for it must abort
	cancelled chan struct{}
}

type Node struct {
	PersistentState raft_state.PersistentState
	VolatileState   raft_state.VolatileState
	Configuration   raft_state.ClusterConfiguration
	Log             *raft_log.LogStore
	Metadata        *metadata.Store

	// guards all fields above plus the bookkeeping below; log appends/truncations happen
	// while it is held so term checks and log mutations stay one critical section
	stateMutex sync.Mutex

	raftNetworking raft_networking.RaftNetworking
	timeoutFactory timer.TimeoutFactory
	snapshots      raft_log.SnapshotStorage
	logger         *logging.Logger

	exiled bool

	electionResultChannel    chan electionResult
	electionCancelledChannel chan struct{}

	// non-nil only while this node is Leader
	leadership *leadership

	// only one membership change may be in flight at a time
	configChangeInFlight bool

	// latest compacted snapshot available for transfer, nil before first compaction
	latestSnapshot *raft_commands.SendSnapshotCommand

	// proposal waiters keyed by log index, flushed on commit or on demotion
	commitWaiters map[uint64][]chan bool

	// buffered wakeup for the processing loop when the role changes
	roleChanged chan struct{}
}

// CreateNode restores a member from its persistence (or initializes a fresh one) without
// starting its processing loop.
func CreateNode(
	self raft_state.Node,
	seedConfiguration raft_state.ClusterConfiguration,
	persistence raft_log.Persistence,
	snapshots raft_log.SnapshotStorage,
	raftNetworking raft_networking.RaftNetworking,
	timeoutFactory timer.TimeoutFactory,
	logger *logging.Logger,
) (*Node, error) {
	logStore, err := raft_log.NewLogStore(persistence)
	if err != nil {
		return nil, err
	}

	node := &Node{
		Log:                   logStore,
		Metadata:              metadata.NewStore(),
		Configuration:         seedConfiguration,
		raftNetworking:        raftNetworking,
		timeoutFactory:        timeoutFactory,
		snapshots:             snapshots,
		logger:                logger,
		electionResultChannel: make(chan electionResult, 1),
		commitWaiters:         make(map[uint64][]chan bool),
		roleChanged:           make(chan struct{}, 1),
	}

	node.PersistentState.Node = self
	node.PersistentState.VotedFor = raft_state.NilVotedFor
	node.VolatileState.Role = raft_state.Follower
	node.VolatileState.LeaderId = raft_state.NilLeader

	hardState, found, err := logStore.LoadHardState()
	if err != nil {
		return nil, err
	}

	if found {
		node.PersistentState.CurrentTerm = hardState.CurrentTerm
		node.PersistentState.VotedFor = hardState.VotedFor
		if identity, err := uuid.Parse(hardState.Identity); err == nil {
			node.PersistentState.Node.Identity = identity
		}
		if err := restoreLocalSnapshot(node, hardState); err != nil {
			return nil, err
		}
	}

	if node.PersistentState.Node.Identity == uuid.Nil {
		node.PersistentState.Node.Identity = uuid.New()
		if err := persistHardState(node); err != nil {
			return nil, err
		}
	}

	return node, nil
}

// StartProcessingLoop drives the node until quit closes: inbound commands, the election timeout
// while not leading, and the heartbeat period while leading all funnel through here so access to
// term, role and log stays serialized.
func StartProcessingLoop(node *Node, quit chan struct{}) {
	commands := node.raftNetworking.ListenForRaftCommands()

	for {
		var timeout timer.Timeout
		if node.Role() == raft_state.Leader {
			timeout = node.timeoutFactory.Timeout("heartbeat", config.Config.HeartbeatTimeout)
		} else {
			timeout = node.timeoutFactory.Timeout("election", timer.ElectionTimeout())
		}

	waiting:
		for {
			select {
			case wrapper := <-commands:
				if dispatchAsync(node, wrapper) {
					continue
				}
				result, resetTimer := handleRaftCommand(node, wrapper.Command)
				wrapper.Result <- result
				if resetTimer {
					timeout.Cancel()
					break waiting
				}
			case <-node.roleChanged:
				timeout.Cancel()
				break waiting
			case result := <-node.electionResultChannel:
				if result.won {
					becomeLeader(node, result.term)
				}
				timeout.Cancel()
				break waiting
			case <-timeout.Done():
				if node.Role() == raft_state.Leader {
					broadcastHeartbeat(node)
				} else {
					startNewElection(node)
				}
				break waiting
			case <-quit:
				timeout.Cancel()
				return
			}
		}
	}
}

// dispatchAsync hands off commands that block on network or commit waits so one slow transfer
// never stalls election and replication handling.
func dispatchAsync(node *Node, wrapper raft_networking.CommandWrapper) bool {
	switch command := wrapper.Command.(type) {
	case *raft_commands.SendSnapshotCommand:
		go func() { wrapper.Result <- HandleSendSnapshot(node, command) }()
	case *raft_commands.AddNodeCommand:
		go func() { wrapper.Result <- HandleAddNode(node, command) }()
	case *raft_commands.RemoveNodeCommand:
		go func() { wrapper.Result <- HandleRemoveNode(node, command) }()
	default:
		return false
	}
	return true
}

// Shutdown demotes the node so its replicators stop and every blocked proposal fails with
// ErrLeadershipLost. Call it after closing the processing loop's quit channel when discarding
// a node, otherwise leader-side goroutines outlive it.
func (node *Node) Shutdown() {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	becomeFollowerLocked(node)
}

func (node *Node) Role() raft_state.NodeRole {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	return node.VolatileState.Role
}

func (node *Node) Self() raft_state.Node {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	return node.PersistentState.Node
}

// LeaderHint returns the node this member believes is the leader.
func (node *Node) LeaderHint() (raft_state.Node, bool) {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	return leaderNodeLocked(node)
}

func leaderNodeLocked(node *Node) (raft_state.Node, bool) {
	if node.VolatileState.LeaderId == raft_state.NilLeader {
		return raft_state.Node{}, false
	}
	for _, member := range node.Configuration.Nodes {
		if member.ID == uint(node.VolatileState.LeaderId) {
			return member, true
		}
	}
	return raft_state.Node{}, false
}

// AdoptConfiguration installs a cluster configuration handed out during the admission handshake.
// Only a fresh joiner should call it; a running member learns configurations from committed
// membership entries.
func (node *Node) AdoptConfiguration(configuration raft_state.ClusterConfiguration) {
	node.stateMutex.Lock()
	defer node.stateMutex.Unlock()
	if configuration.Version > node.Configuration.Version {
		node.Configuration = configuration
	}
}

// signalRoleChanged nudges the processing loop to pick the timeout matching the new role.
func signalRoleChanged(node *Node) {
	select {
	case node.roleChanged <- struct{}{}:
	default:
	}
}
