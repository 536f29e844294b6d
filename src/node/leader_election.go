package node

import (
	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// startNewElection turns this node into a Candidate for a fresh term and solicits votes from the
// whole voting configuration in parallel. The outcome arrives on the node's election result
// channel; losing simply means the processing loop times out again with a new randomized timeout.
func startNewElection(node *Node) {
	node.stateMutex.Lock()

	if node.exiled {
		node.stateMutex.Unlock()
		return
	}

	cancelElectionLocked(node)
	electionCancelledChannel := make(chan struct{})
	node.electionCancelledChannel = electionCancelledChannel

	node.VolatileState.Role = raft_state.Candidate
	node.VolatileState.LeaderId = raft_state.NilLeader
	node.PersistentState.CurrentTerm++
	node.PersistentState.VotedFor = int64(node.PersistentState.Node.ID)
	persistHardStateLocked(node)

	term := node.PersistentState.CurrentTerm
	configuration := node.Configuration
	command := raft_commands.RequestVoteCommand{
		Term:         term,
		CandidateId:  node.PersistentState.Node.ID,
		LastLogIndex: node.Log.LastIndex(),
		LastLogTerm:  node.Log.LastTerm(),
	}

	node.stateMutex.Unlock()

	node.logger.Logf("starting election for term %d", term)

	requiredVotes := configuration.Quorum()
	receivedVotes := 1 // candidate voted for itself

	if receivedVotes >= requiredVotes {
		// single-node configuration wins immediately
		node.electionResultChannel <- electionResult{term: term, won: true}
		return
	}

	results := sendRequestVoteCommands(node, configuration, command, electionCancelledChannel)

	go func() {
		for receivedVotes < requiredVotes {
			select {
			case result := <-results:
				if result.VoteGranted {
					receivedVotes++
				} else if result.Term > term {
					observeTerm(node, result.Term)
					return
				}
			case <-electionCancelledChannel:
				return
			}
		}

		node.electionResultChannel <- electionResult{term: term, won: true}
	}()
}

func sendRequestVoteCommands(
	node *Node,
	configuration raft_state.ClusterConfiguration,
	command raft_commands.RequestVoteCommand,
	electionCancelledChannel chan struct{},
) <-chan raft_commands.RequestVoteResult {
	// buffered channel to ensure all goroutines spawned below don't leak and are able to put
	// their result in the channel even when the caller stops reading after a majority
	results := make(chan raft_commands.RequestVoteResult, len(configuration.Nodes))

	for _, member := range configuration.Nodes {
		if member.ID == command.CandidateId {
			continue
		}

		voter := member
		sendCommand := func() bool {
			result, err := node.raftNetworking.SendRequestVoteCommand(voter, command)
			if err != nil {
				return false
			}
			results <- result
			return true
		}

		go func() {
			if sendCommand() {
				return
			}

			// one retry after the configured timeout; beyond that the next election round
			// will solicit this voter again
			timeout := node.timeoutFactory.Timeout("request-vote-retry", config.Config.RetryTimeout)
			select {
			case <-timeout.Done():
				sendCommand()
			case <-electionCancelledChannel:
				timeout.Cancel()
			}
		}()
	}

	return results
}

// becomeLeader promotes this node after a majority of grants, resets the per-follower
// replication state and immediately asserts leadership with a heartbeat round.
func becomeLeader(node *Node, term uint64) {
	node.stateMutex.Lock()

	if node.PersistentState.CurrentTerm != term || node.VolatileState.Role != raft_state.Candidate {
		// the term moved on while votes were being counted
		node.stateMutex.Unlock()
		return
	}

	cancelElectionLocked(node)
	node.VolatileState.Role = raft_state.Leader
	node.VolatileState.LeaderId = int64(node.PersistentState.Node.ID)

	lead := &leadership{
		term:       term,
		nextIndex:  make(map[uint]uint64),
		matchIndex: make(map[uint]uint64),
		triggers:   make(map[uint]chan struct{}),
		cancelled:  make(chan struct{}),
	}

	nextIndex := node.Log.LastIndex() + 1
	for _, member := range node.Configuration.Nodes {
		if member.ID == node.PersistentState.Node.ID {
			continue
		}
		lead.nextIndex[member.ID] = nextIndex
		lead.matchIndex[member.ID] = 0
		lead.triggers[member.ID] = make(chan struct{}, 1)

		follower := member
		go runReplicator(node, follower, lead)
	}

	node.leadership = lead
	signalRoleChanged(node)
	node.stateMutex.Unlock()

	node.logger.Logf("won election, leading term %d", term)
	broadcastHeartbeat(node)
}
