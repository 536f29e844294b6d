package cli

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_networking"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

var errNodeUnreachable = errors.New("node unreachable")

// networkController is the simulated wire shared by all nodes: per-node inbound channels plus
// the current partition layout. Nodes can talk only within the same split.
type networkController struct {
	mutex              sync.Mutex
	networkSplits      [][]uint
	raftListenChannels map[uint]chan raft_networking.CommandWrapper
	logger             *logging.Logger
}

// controllableNetworking is one node's view of the controller.
type controllableNetworking struct {
	nodeId     uint
	controller *networkController
}

func createNetworkController(logger *logging.Logger) *networkController {
	return &networkController{
		raftListenChannels: make(map[uint]chan raft_networking.CommandWrapper),
		logger:             logger,
	}
}

// register adds a node to the wire and to the first split so a joiner can reach the cluster.
func (controller *networkController) register(nodeId uint) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()

	if _, exists := controller.raftListenChannels[nodeId]; exists {
		return
	}
	controller.raftListenChannels[nodeId] = make(chan raft_networking.CommandWrapper, 1000)
	if len(controller.networkSplits) == 0 {
		controller.networkSplits = [][]uint{{}}
	}
	controller.networkSplits[0] = append(controller.networkSplits[0], nodeId)
}

func (controller *networkController) setSplits(splits [][]uint) {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	controller.networkSplits = splits
}

func (controller *networkController) canConnect(a uint, b uint) bool {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()

	for _, split := range controller.networkSplits {
		if sliceContains(split, a) && sliceContains(split, b) {
			return true
		}
	}
	return false
}

func (controller *networkController) listenChannel(nodeId uint) chan raft_networking.CommandWrapper {
	controller.mutex.Lock()
	defer controller.mutex.Unlock()
	return controller.raftListenChannels[nodeId]
}

func sliceContains(s []uint, x uint) bool {
	for _, val := range s {
		if val == x {
			return true
		}
	}
	return false
}

func (networking *controllableNetworking) ListenForRaftCommands() chan raft_networking.CommandWrapper {
	return networking.controller.listenChannel(networking.nodeId)
}

// sendRaftCommand delivers one command to the target's inbound channel, honoring the current
// splits and simulated latency, and blocks for the result.
func (networking *controllableNetworking) sendRaftCommand(
	target raft_state.Node,
	command raft_commands.RaftCommand,
) (raft_commands.RaftCommandResult, error) {
	controller := networking.controller
	if !controller.canConnect(networking.nodeId, target.ID) {
		controller.logger.Logf("%d->%d %s dropped - node unreachable",
			networking.nodeId, target.ID, command.CommandTypeString())
		return nil, errNodeUnreachable
	}

	simulateLatency()

	channel := controller.listenChannel(target.ID)
	if channel == nil {
		return nil, errNodeUnreachable
	}

	result := make(chan raft_commands.RaftCommandResult, 1)
	channel <- raft_networking.CommandWrapper{Command: command, Result: result}
	controller.logger.Logf("%d->%d %s(term: %d)",
		networking.nodeId, target.ID, command.CommandTypeString(), command.CommandTerm())

	return <-result, nil
}

func simulateLatency() {
	latency := config.Config.NetworkLatency
	if latency <= 0 {
		return
	}
	jitter := latency / 4
	if jitter > 0 {
		latency += rand.Intn(jitter)
	}
	<-time.After(time.Duration(latency) * time.Millisecond)
}

func (networking *controllableNetworking) SendAppendEntriesCommand(
	target raft_state.Node,
	command raft_commands.AppendEntriesCommand,
) (raft_commands.AppendEntriesResult, error) {
	result, err := networking.sendRaftCommand(target, &command)
	if err != nil {
		return raft_commands.AppendEntriesResult{}, err
	}
	return result.(raft_commands.AppendEntriesResult), nil
}

func (networking *controllableNetworking) SendRequestVoteCommand(
	target raft_state.Node,
	command raft_commands.RequestVoteCommand,
) (raft_commands.RequestVoteResult, error) {
	result, err := networking.sendRaftCommand(target, &command)
	if err != nil {
		return raft_commands.RequestVoteResult{}, err
	}
	return result.(raft_commands.RequestVoteResult), nil
}

func (networking *controllableNetworking) SendHeartbeatCommand(
	target raft_state.Node,
	command raft_commands.HeartbeatCommand,
) (raft_commands.HeartbeatResult, error) {
	result, err := networking.sendRaftCommand(target, &command)
	if err != nil {
		return raft_commands.HeartbeatResult{}, err
	}
	return result.(raft_commands.HeartbeatResult), nil
}

func (networking *controllableNetworking) SendSnapshotCommand(
	target raft_state.Node,
	command raft_commands.SendSnapshotCommand,
) (raft_commands.SendSnapshotResult, error) {
	result, err := networking.sendRaftCommand(target, &command)
	if err != nil {
		return raft_commands.SendSnapshotResult{}, err
	}
	return result.(raft_commands.SendSnapshotResult), nil
}

func (networking *controllableNetworking) SendAddNodeCommand(
	target raft_state.Node,
	command raft_commands.AddNodeCommand,
) (raft_commands.AddNodeResult, error) {
	result, err := networking.sendRaftCommand(target, &command)
	if err != nil {
		return raft_commands.AddNodeResult{}, err
	}
	return result.(raft_commands.AddNodeResult), nil
}

func (networking *controllableNetworking) SendRemoveNodeCommand(
	target raft_state.Node,
	command raft_commands.RemoveNodeCommand,
) (raft_commands.RemoveNodeResult, error) {
	result, err := networking.sendRaftCommand(target, &command)
	if err != nil {
		return raft_commands.RemoveNodeResult{}, err
	}
	return result.(raft_commands.RemoveNodeResult), nil
}

func (networking *controllableNetworking) SendExileCommand(target raft_state.Node) error {
	_, err := networking.sendRaftCommand(target, &raft_commands.ExileCommand{})
	return err
}

func (networking *controllableNetworking) ReadFile(
	target raft_state.Node,
	path string,
	offset int64,
	length int,
) ([]byte, error) {
	result, err := networking.sendRaftCommand(target, &raft_commands.ReadFileCommand{
		Path:   path,
		Offset: offset,
		Length: length,
	})
	if err != nil {
		return nil, err
	}
	readResult := result.(raft_commands.ReadFileResult)
	if !readResult.Found {
		return nil, raft_log.ErrNoSuchSnapshot
	}
	return readResult.Data, nil
}
