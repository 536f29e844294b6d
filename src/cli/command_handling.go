package cli

import (
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/chaw1/incubator-iotdb/src/config"
	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
	"github.com/chaw1/incubator-iotdb/src/service"
)

func listenForUserCommands(inputField *tview.InputField, context *appContext, quit chan struct{}) {
	logger := logging.CreateLogger("[green][COMMAND[]", context.logs)
	commandsChannel := make(chan string)
	inputField.SetDoneFunc(func(key tcell.Key) {
		if key == tcell.KeyEnter {
			command := inputField.GetText()
			if len(command) > 0 {
				commandsChannel <- command
			}
		}
	})

	for {
		select {
		case command := <-commandsChannel:
			handleCommand(command, context, logger)
			inputField.SetText("")
		case <-quit:
			return
		}
	}
}

func handleCommand(command string, context *appContext, logger *logging.Logger) {
	tokens := strings.Split(command, " ")
	switch tokens[0] {
	case "client":
		handleClientCommand(command, tokens, context, logger)
	case "node-add":
		handleNodeAdd(command, tokens, context, logger)
	case "node-remove":
		handleNodeRemove(command, tokens, context, logger)
	case "node-restart":
		handleNodeRestart(command, tokens, context, logger)
	case "status":
		handleStatus(command, tokens, context, logger)
	case "freeze", "unfreeze":
		handleFreeze(command, tokens, context, logger)
	case "network-splits":
		handleNetworkSplits(command, tokens, context, logger)
	case "network-latency", "election-timeout-min", "election-timeout-max", "heartbeat-timeout", "retry-timeout":
		handleTimeoutTuning(command, tokens, logger)
	case "help":
		logHelp(logger)
	default:
		logInvalidCommand(command, logger)
	}
}

func memberService(context *appContext, token string) (*service.SyncService, uint, bool) {
	nodeId, err := strconv.Atoi(token)
	if err != nil {
		return nil, 0, false
	}

	context.mutex.Lock()
	member, exists := context.nodesById[uint(nodeId)]
	context.mutex.Unlock()
	if !exists {
		return nil, 0, false
	}
	return service.NewSyncService(member), uint(nodeId), true
}

func handleClientCommand(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) < 3 {
		logInvalidCommand(command, logger)
		return
	}

	target, nodeId, exists := memberService(context, tokens[1])
	if !exists {
		logInvalidCommand(command, logger)
		return
	}

	logger.Log(command)
	go func() {
		result, err := target.ExecuteCommand(strings.Join(tokens[2:], " "))
		if err != nil {
			context.mutex.Lock()
			member := context.nodesById[nodeId]
			context.mutex.Unlock()
			if leader, known := member.LeaderHint(); known {
				logger.Logf("'%s' failed: %v (try node %d)", command, err, leader.ID)
			} else {
				logger.Logf("'%s' failed: %v", command, err)
			}
			return
		}
		logger.Logf("'%s' result: %s", command, result)
	}()
}

// handleNodeAdd boots a brand-new member and runs the admission handshake against the cluster:
// checkStatus first, then addNode through any existing member (which forwards to the leader).
func handleNodeAdd(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) != 2 {
		logInvalidCommand(command, logger)
		return
	}
	nodeId, err := strconv.Atoi(tokens[1])
	if err != nil {
		logInvalidCommand(command, logger)
		return
	}

	context.mutex.Lock()
	_, exists := context.nodesById[uint(nodeId)]
	noSeeds := len(context.nodeIds) == 0
	var seedId uint
	if !noSeeds {
		seedId = context.nodeIds[0]
	}
	context.mutex.Unlock()
	if exists {
		logger.Logf("node %d already exists", nodeId)
		return
	}
	if noSeeds {
		logger.Log("no running node to admit through")
		return
	}

	// empty seed configuration: the joiner must not vote or campaign until admitted
	if err := createMember(context, uint(nodeId), raft_state.ClusterConfiguration{}); err != nil {
		logger.Logf("'%s' failed: %v", command, err)
		return
	}
	logger.Log(command)

	go func() {
		context.mutex.Lock()
		joiner := context.nodesById[uint(nodeId)]
		seed := context.nodesById[seedId]
		context.mutex.Unlock()

		networking := &controllableNetworking{nodeId: uint(nodeId), controller: context.networkController}
		result, err := networking.SendAddNodeCommand(seed.Self(), raft_commands.AddNodeCommand{
			Node:   joiner.Self(),
			Status: localStartUpStatus(),
		})
		if err != nil {
			logger.Logf("node %d admission failed: %v", nodeId, err)
			return
		}
		if !result.Accepted {
			logger.Logf("node %d admission rejected: %s", nodeId, result.Reason)
			return
		}

		joiner.AdoptConfiguration(result.Configuration)
		startNode(uint(nodeId), context)
		logger.Logf("node %d admitted (configuration version %d)", nodeId, result.Configuration.Version)
	}()
}

func localStartUpStatus() raft_state.StartUpStatus {
	return raft_state.StartUpStatus{
		Version:                  config.Config.ClusterVersion,
		PartitionIntervalSeconds: config.Config.PartitionIntervalSeconds,
		HashSalt:                 config.Config.HashSalt,
		ReplicationNumber:        config.Config.ReplicationNumber,
		SeedNodes:                config.Config.SeedNodes,
	}
}

func handleNodeRemove(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) != 3 {
		logInvalidCommand(command, logger)
		return
	}

	target, _, exists := memberService(context, tokens[1])
	if !exists {
		logInvalidCommand(command, logger)
		return
	}
	removedId, err := strconv.Atoi(tokens[2])
	if err != nil {
		logInvalidCommand(command, logger)
		return
	}

	context.mutex.Lock()
	removed, knownMember := context.nodesById[uint(removedId)]
	context.mutex.Unlock()
	if !knownMember {
		logInvalidCommand(command, logger)
		return
	}

	logger.Log(command)
	go func() {
		result := target.RemoveNode(raft_commands.RemoveNodeCommand{Node: removed.Self()})
		if result.Success {
			logger.Logf("node %d removed at index %d", removedId, result.CommitIndex)
		} else {
			logger.Logf("'%s' rejected: %s", command, result.Reason)
		}
	}()
}

func handleNodeRestart(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) != 2 {
		logInvalidCommand(command, logger)
		return
	}
	nodeId, err := strconv.Atoi(tokens[1])
	if err != nil {
		logInvalidCommand(command, logger)
		return
	}

	if err := restartNode(uint(nodeId), context); err != nil {
		logger.Logf("'%s' failed: %v", command, err)
		return
	}
	logger.Log(command)
}

func handleStatus(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) != 2 {
		logInvalidCommand(command, logger)
		return
	}

	target, nodeId, exists := memberService(context, tokens[1])
	if !exists {
		logInvalidCommand(command, logger)
		return
	}

	status := target.QueryNodeStatus().Status
	logger.Logf("node %d: role=%s term=%d lastLog=(%d,%d) commit=%d applied=%d exiled=%t",
		nodeId, roleToString(status.Role), status.Term,
		status.LastLogIndex, status.LastLogTerm, status.CommitIndex, status.LastApplied, status.Exiled)
}

func handleFreeze(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) != 2 {
		logInvalidCommand(command, logger)
		return
	}
	nodeId, err := strconv.Atoi(tokens[1])
	if err != nil {
		logInvalidCommand(command, logger)
		return
	}

	context.mutex.Lock()
	factory, exists := context.nodeTimeoutFactories[uint(nodeId)]
	context.mutex.Unlock()
	if !exists {
		logInvalidCommand(command, logger)
		return
	}

	factory.setFrozen(tokens[0] == "freeze")
	logger.Log(command)
}

func handleNetworkSplits(command string, tokens []string, context *appContext, logger *logging.Logger) {
	if len(tokens) < 2 {
		logInvalidCommand(command, logger)
		return
	}

	splits := make([][]uint, len(tokens[1:]))
	for i, token := range tokens[1:] {
		nodes := strings.Split(token, ",")
		splits[i] = make([]uint, len(nodes))

		for j, nodeIdStr := range nodes {
			nodeId, err := strconv.Atoi(nodeIdStr)
			if err != nil {
				logInvalidCommand(command, logger)
				return
			}
			splits[i][j] = uint(nodeId)
		}
	}

	logger.Log(command)
	context.networkController.setSplits(splits)
}

func handleTimeoutTuning(command string, tokens []string, logger *logging.Logger) {
	if len(tokens) != 2 {
		logInvalidCommand(command, logger)
		return
	}

	timeout, err := strconv.Atoi(tokens[1])
	if err != nil {
		logInvalidCommand(command, logger)
		return
	}

	switch tokens[0] {
	case "network-latency":
		config.Config.NetworkLatency = timeout
	case "election-timeout-min":
		config.Config.ElectionTimeoutMin = timeout
	case "election-timeout-max":
		config.Config.ElectionTimeoutMax = timeout
	case "heartbeat-timeout":
		config.Config.HeartbeatTimeout = timeout
	case "retry-timeout":
		config.Config.RetryTimeout = timeout
	}
	logger.Log(command)
}

func logInvalidCommand(command string, logger *logging.Logger) {
	logger.Logf("'%s' - invalid command", command)
	logHelp(logger)
}

func logHelp(logger *logging.Logger) {
	logger.LogMultiple([]string{
		"Available commands:",
		"client [NODE_ID[] [COMMAND[] (e.g. client 2 create-sg root.vehicles) - runs a metadata command on given node",
		"                  metadata commands: create-sg [NAME[], delete-sg [NAME[], set-ttl [NAME[] [SECONDS[], get-ttl [NAME[]",
		"node-add [NODE_ID[] (e.g. node-add 6) - boots a new node and admits it into the cluster",
		"node-remove [NODE_ID[] [REMOVED_ID[] (e.g. node-remove 1 4) - asks given node to remove a member",
		"node-restart [NODE_ID[] (e.g. node-restart 2) - restarts given node (keeps persisted state)",
		"status [NODE_ID[] (e.g. status 2) - prints given node's role, term and log position",
		"freeze [NODE_ID[] / unfreeze [NODE_ID[] - stops/resumes given node's timers (simulates a hang)",
		"network-splits [SPLITS[] (e.g network-splits 1,2,3 4,5) - splits nodes into sets that can communicate only",
		"                        with other nodes in the same set",
		"network-latency [TIMEOUT[] (e.g. network-latency 2000) - sets network latency (in milliseconds)",
		"election-timeout-min / election-timeout-max [TIMEOUT[] - bounds of the randomized election timeout",
		"heartbeat-timeout [TIMEOUT[] / retry-timeout [TIMEOUT[] - leader heartbeat period / send retry backoff",
		"help - displays this information",
	})
}
