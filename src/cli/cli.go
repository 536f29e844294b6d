package cli

import (
	"fmt"
	"sync"
	"time"

	"github.com/rivo/tview"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/node"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
)

// appContext is the simulator's registry of running members and their controllable plumbing.
type appContext struct {
	mutex                sync.Mutex
	nodeIds              []uint
	nodesById            map[uint]*node.Node
	nodePersistence      map[uint]raft_log.Persistence
	nodeSnapshots        map[uint]raft_log.SnapshotStorage
	nodeQuitChannels     map[uint]chan struct{}
	nodeTimeoutFactories map[uint]*controllableTimeoutFactory
	networkController    *networkController
	logs                 chan logging.LoggerEntry
}

// StartCli boots an in-process cluster of simulated members and the terminal UI to poke at it.
func StartCli(seedNodeIds []uint) {
	logs := make(chan logging.LoggerEntry, 1000)
	context := &appContext{
		nodesById:            make(map[uint]*node.Node),
		nodePersistence:      make(map[uint]raft_log.Persistence),
		nodeSnapshots:        make(map[uint]raft_log.SnapshotStorage),
		nodeQuitChannels:     make(map[uint]chan struct{}),
		nodeTimeoutFactories: make(map[uint]*controllableTimeoutFactory),
		networkController:    createNetworkController(logging.CreateLogger("[NETWORK]", logs)),
		logs:                 logs,
	}

	seedMembers := make([]raft_state.Node, len(seedNodeIds))
	for i, nodeId := range seedNodeIds {
		seedMembers[i] = simulatedMember(nodeId)
	}
	seedConfiguration := raft_state.NewClusterConfiguration(0, seedMembers, config.Config.SlotCount)

	for _, nodeId := range seedNodeIds {
		if err := createMember(context, nodeId, seedConfiguration); err != nil {
			panic(any(err))
		}
		startNode(nodeId, context)
	}

	app, appQuit := setupApp(context)

	if err := app.Run(); err != nil {
		panic(any(err))
	}

	close(appQuit)
}

func simulatedMember(nodeId uint) raft_state.Node {
	return raft_state.Node{
		ID:       nodeId,
		MetaAddr: fmt.Sprintf("127.0.0.1:%d", 9003+nodeId*10),
		DataAddr: fmt.Sprintf("127.0.0.1:%d", 9005+nodeId*10),
	}
}

// createMember builds a node around fresh in-memory persistence and registers it on the wire,
// without starting its processing loop.
func createMember(context *appContext, nodeId uint, configuration raft_state.ClusterConfiguration) error {
	context.mutex.Lock()
	defer context.mutex.Unlock()

	persistence := raft_log.NewMemoryPersistence()
	snapshots := raft_log.NewMemorySnapshotStorage()
	context.networkController.register(nodeId)

	member, err := node.CreateNode(
		simulatedMember(nodeId),
		configuration,
		persistence,
		snapshots,
		&controllableNetworking{nodeId: nodeId, controller: context.networkController},
		createTimeoutFactory(context, nodeId),
		logging.CreateLogger(fmt.Sprintf("[NODE %d]", nodeId), context.logs),
	)
	if err != nil {
		return err
	}

	context.nodeIds = append(context.nodeIds, nodeId)
	context.nodesById[nodeId] = member
	context.nodePersistence[nodeId] = persistence
	context.nodeSnapshots[nodeId] = snapshots
	return nil
}

func createTimeoutFactory(context *appContext, nodeId uint) *controllableTimeoutFactory {
	if factory, exists := context.nodeTimeoutFactories[nodeId]; exists {
		return factory
	}
	factory := createControllableTimeoutFactory(nodeId)
	context.nodeTimeoutFactories[nodeId] = factory
	return factory
}

func startNode(nodeId uint, context *appContext) {
	context.mutex.Lock()
	quit := make(chan struct{})
	context.nodeQuitChannels[nodeId] = quit
	member := context.nodesById[nodeId]
	context.mutex.Unlock()

	go node.StartProcessingLoop(member, quit)
}

// restartNode stops a member and rebuilds it from its surviving persistence, modeling a crash
// and recovery: volatile state is lost, hard state and snapshots are not.
func restartNode(nodeId uint, context *appContext) error {
	context.mutex.Lock()
	old, exists := context.nodesById[nodeId]
	if !exists {
		context.mutex.Unlock()
		return fmt.Errorf("unknown node %d", nodeId)
	}
	close(context.nodeQuitChannels[nodeId])
	// stop the old node's replicators and fail its pending proposals before discarding it
	old.Shutdown()
	persistence := context.nodePersistence[nodeId]
	snapshots := context.nodeSnapshots[nodeId]
	configuration := old.Configuration

	member, err := node.CreateNode(
		simulatedMember(nodeId),
		configuration,
		persistence,
		snapshots,
		&controllableNetworking{nodeId: nodeId, controller: context.networkController},
		createTimeoutFactory(context, nodeId),
		logging.CreateLogger(fmt.Sprintf("[NODE %d]", nodeId), context.logs),
	)
	if err != nil {
		context.mutex.Unlock()
		return err
	}
	context.nodesById[nodeId] = member
	context.mutex.Unlock()

	startNode(nodeId, context)
	return nil
}

func setupApp(context *appContext) (*tview.Application, chan struct{}) {
	flex := tview.NewFlex()
	flex.SetDirection(tview.FlexRow)

	nodesStateTextView := tview.NewTextView()
	nodesStateTextView.SetBorder(true).SetTitle("Nodes State")
	flex.AddItem(nodesStateTextView, 0, 2, false)

	loggerTextView := tview.NewTextView()
	loggerTextView.SetBorder(true).SetTitle("Logs")
	flex.AddItem(loggerTextView, 0, 3, false)

	commandsInputField := tview.NewInputField()
	commandsInputField.SetBorder(true).SetTitle("Commands Input")
	flex.AddItem(commandsInputField, 3, 1, true)

	appQuit := make(chan struct{})
	app := tview.NewApplication().SetRoot(flex, true)

	go listenForUserCommands(commandsInputField, context, appQuit)
	go renderLogs(context.logs, loggerTextView, appQuit)
	go func() {
		for {
			select {
			case <-time.After(100 * time.Millisecond):
				renderNodesState(context, nodesStateTextView)
				app.Draw()
			case <-appQuit:
				return
			}
		}
	}()
	return app, appQuit
}
