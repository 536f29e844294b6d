package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chaw1/incubator-iotdb/src/logging"
	"github.com/chaw1/incubator-iotdb/src/raft_commands"
	"github.com/chaw1/incubator-iotdb/src/raft_log"
	"github.com/chaw1/incubator-iotdb/src/raft_networking"
	"github.com/chaw1/incubator-iotdb/src/raft_state"
	"github.com/chaw1/incubator-iotdb/src/timer"
)

var errUnreachable = errors.New("node unreachable")

type requestVoteResponse struct {
	result raft_commands.RequestVoteResult
	err    bool
}

type appendEntriesResponse struct {
	result raft_commands.AppendEntriesResult
	err    bool
}

type heartbeatResponse struct {
	result raft_commands.HeartbeatResult
	err    bool
}

type snapshotResponse struct {
	result raft_commands.SendSnapshotResult
	err    bool
}

// raftNetworkingMock records every outbound command and answers from per-node response queues,
// falling back to the default response, or to an unreachable error when nothing is configured.
type raftNetworkingMock struct {
	mutex sync.Mutex

	requestVoteResponses       map[uint][]requestVoteResponse
	requestVoteDefaultResponse *requestVoteResponse
	sentRequestVoteCommands    map[uint][]raft_commands.RequestVoteCommand
	sentRequestVoteCommand     chan raft_commands.RequestVoteCommand

	appendEntriesResponses       map[uint][]appendEntriesResponse
	appendEntriesDefaultResponse *appendEntriesResponse
	sentAppendEntriesCommands    map[uint][]raft_commands.AppendEntriesCommand
	sentAppendEntriesCommand     chan raft_commands.AppendEntriesCommand

	heartbeatDefaultResponse *heartbeatResponse
	sentHeartbeatCommands    map[uint][]raft_commands.HeartbeatCommand
	sentHeartbeatCommand     chan raft_commands.HeartbeatCommand

	snapshotDefaultResponse *snapshotResponse
	sentSnapshotCommands    map[uint][]raft_commands.SendSnapshotCommand
	sentSnapshotCommand     chan raft_commands.SendSnapshotCommand

	addNodeDefaultResponse    *raft_commands.AddNodeResult
	sentAddNodeCommands       map[uint][]raft_commands.AddNodeCommand
	removeNodeDefaultResponse *raft_commands.RemoveNodeResult
	sentRemoveNodeCommands    map[uint][]raft_commands.RemoveNodeCommand

	exiledNodes     []uint
	exiledNode      chan uint
	readFileContent map[string][]byte
	readFileErrors  int
	readFileCalls   int
}

func (*raftNetworkingMock) ListenForRaftCommands() chan raft_networking.CommandWrapper {
	return nil
}

func (mock *raftNetworkingMock) SendRequestVoteCommand(
	target raft_state.Node,
	command raft_commands.RequestVoteCommand,
) (raft_commands.RequestVoteResult, error) {
	mock.mutex.Lock()
	if mock.sentRequestVoteCommands == nil {
		mock.sentRequestVoteCommands = make(map[uint][]raft_commands.RequestVoteCommand)
	}
	mock.sentRequestVoteCommands[target.ID] = append(mock.sentRequestVoteCommands[target.ID], command)
	notify := mock.sentRequestVoteCommand
	response, hasResponse := popResponse(target.ID, mock.requestVoteResponses, mock.requestVoteDefaultResponse)
	mock.mutex.Unlock()

	if notify != nil {
		go func() { notify <- command }()
	}
	if !hasResponse || response.err {
		return raft_commands.RequestVoteResult{}, errUnreachable
	}
	return response.result, nil
}

func (mock *raftNetworkingMock) SendAppendEntriesCommand(
	target raft_state.Node,
	command raft_commands.AppendEntriesCommand,
) (raft_commands.AppendEntriesResult, error) {
	mock.mutex.Lock()
	if mock.sentAppendEntriesCommands == nil {
		mock.sentAppendEntriesCommands = make(map[uint][]raft_commands.AppendEntriesCommand)
	}
	mock.sentAppendEntriesCommands[target.ID] = append(mock.sentAppendEntriesCommands[target.ID], command)
	notify := mock.sentAppendEntriesCommand
	response, hasResponse := popResponse(target.ID, mock.appendEntriesResponses, mock.appendEntriesDefaultResponse)
	mock.mutex.Unlock()

	if notify != nil {
		go func() { notify <- command }()
	}
	if !hasResponse || response.err {
		return raft_commands.AppendEntriesResult{}, errUnreachable
	}
	return response.result, nil
}

func (mock *raftNetworkingMock) SendHeartbeatCommand(
	target raft_state.Node,
	command raft_commands.HeartbeatCommand,
) (raft_commands.HeartbeatResult, error) {
	mock.mutex.Lock()
	if mock.sentHeartbeatCommands == nil {
		mock.sentHeartbeatCommands = make(map[uint][]raft_commands.HeartbeatCommand)
	}
	mock.sentHeartbeatCommands[target.ID] = append(mock.sentHeartbeatCommands[target.ID], command)
	notify := mock.sentHeartbeatCommand
	response := mock.heartbeatDefaultResponse
	mock.mutex.Unlock()

	if notify != nil {
		go func() { notify <- command }()
	}
	if response == nil || response.err {
		return raft_commands.HeartbeatResult{}, errUnreachable
	}
	return response.result, nil
}

func (mock *raftNetworkingMock) SendSnapshotCommand(
	target raft_state.Node,
	command raft_commands.SendSnapshotCommand,
) (raft_commands.SendSnapshotResult, error) {
	mock.mutex.Lock()
	if mock.sentSnapshotCommands == nil {
		mock.sentSnapshotCommands = make(map[uint][]raft_commands.SendSnapshotCommand)
	}
	mock.sentSnapshotCommands[target.ID] = append(mock.sentSnapshotCommands[target.ID], command)
	notify := mock.sentSnapshotCommand
	response := mock.snapshotDefaultResponse
	mock.mutex.Unlock()

	if notify != nil {
		go func() { notify <- command }()
	}
	if response == nil || response.err {
		return raft_commands.SendSnapshotResult{}, errUnreachable
	}
	return response.result, nil
}

func (mock *raftNetworkingMock) SendAddNodeCommand(
	target raft_state.Node,
	command raft_commands.AddNodeCommand,
) (raft_commands.AddNodeResult, error) {
	mock.mutex.Lock()
	if mock.sentAddNodeCommands == nil {
		mock.sentAddNodeCommands = make(map[uint][]raft_commands.AddNodeCommand)
	}
	mock.sentAddNodeCommands[target.ID] = append(mock.sentAddNodeCommands[target.ID], command)
	response := mock.addNodeDefaultResponse
	mock.mutex.Unlock()

	if response == nil {
		return raft_commands.AddNodeResult{}, errUnreachable
	}
	return *response, nil
}

func (mock *raftNetworkingMock) SendRemoveNodeCommand(
	target raft_state.Node,
	command raft_commands.RemoveNodeCommand,
) (raft_commands.RemoveNodeResult, error) {
	mock.mutex.Lock()
	if mock.sentRemoveNodeCommands == nil {
		mock.sentRemoveNodeCommands = make(map[uint][]raft_commands.RemoveNodeCommand)
	}
	mock.sentRemoveNodeCommands[target.ID] = append(mock.sentRemoveNodeCommands[target.ID], command)
	response := mock.removeNodeDefaultResponse
	mock.mutex.Unlock()

	if response == nil {
		return raft_commands.RemoveNodeResult{}, errUnreachable
	}
	return *response, nil
}

func (mock *raftNetworkingMock) SendExileCommand(target raft_state.Node) error {
	mock.mutex.Lock()
	mock.exiledNodes = append(mock.exiledNodes, target.ID)
	notify := mock.exiledNode
	mock.mutex.Unlock()

	if notify != nil {
		go func() { notify <- target.ID }()
	}
	return nil
}

func (mock *raftNetworkingMock) ReadFile(
	target raft_state.Node,
	path string,
	offset int64,
	length int,
) ([]byte, error) {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()

	mock.readFileCalls++
	if mock.readFileErrors > 0 {
		mock.readFileErrors--
		return nil, errUnreachable
	}

	content, exists := mock.readFileContent[path]
	if !exists {
		return nil, raft_log.ErrNoSuchSnapshot
	}
	if offset >= int64(len(content)) {
		return nil, nil
	}
	end := offset + int64(length)
	if end > int64(len(content)) {
		end = int64(len(content))
	}
	return content[offset:end], nil
}

func popResponse[T any](nodeId uint, responses map[uint][]T, defaultResponse *T) (T, bool) {
	if queue, exists := responses[nodeId]; exists {
		if len(queue) == 0 {
			panic(any(fmt.Sprintf("node %d called more times than expected - no more response mocks", nodeId)))
		}
		response := queue[0]
		responses[nodeId] = queue[1:]
		return response, true
	}

	if defaultResponse != nil {
		return *defaultResponse, true
	}

	var zero T
	return zero, false
}

// loopbackNetworking connects test nodes in process: every outbound command is delivered
// straight to the target node's handler, so whole-cluster scenarios run without a wire.
type loopbackNetworking struct {
	mutex sync.Mutex
	nodes map[uint]*Node
}

func (wire *loopbackNetworking) register(member *Node) {
	wire.mutex.Lock()
	defer wire.mutex.Unlock()
	if wire.nodes == nil {
		wire.nodes = make(map[uint]*Node)
	}
	wire.nodes[member.Self().ID] = member
}

func (wire *loopbackNetworking) lookup(nodeId uint) (*Node, bool) {
	wire.mutex.Lock()
	defer wire.mutex.Unlock()
	member, exists := wire.nodes[nodeId]
	return member, exists
}

func (*loopbackNetworking) ListenForRaftCommands() chan raft_networking.CommandWrapper {
	return nil
}

func (wire *loopbackNetworking) SendRequestVoteCommand(
	target raft_state.Node,
	command raft_commands.RequestVoteCommand,
) (raft_commands.RequestVoteResult, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return raft_commands.RequestVoteResult{}, errUnreachable
	}
	return HandleRequestVote(member, &command), nil
}

func (wire *loopbackNetworking) SendAppendEntriesCommand(
	target raft_state.Node,
	command raft_commands.AppendEntriesCommand,
) (raft_commands.AppendEntriesResult, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return raft_commands.AppendEntriesResult{}, errUnreachable
	}
	return HandleAppendEntries(member, &command), nil
}

func (wire *loopbackNetworking) SendHeartbeatCommand(
	target raft_state.Node,
	command raft_commands.HeartbeatCommand,
) (raft_commands.HeartbeatResult, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return raft_commands.HeartbeatResult{}, errUnreachable
	}
	return HandleHeartbeat(member, &command), nil
}

func (wire *loopbackNetworking) SendSnapshotCommand(
	target raft_state.Node,
	command raft_commands.SendSnapshotCommand,
) (raft_commands.SendSnapshotResult, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return raft_commands.SendSnapshotResult{}, errUnreachable
	}
	return HandleSendSnapshot(member, &command), nil
}

func (wire *loopbackNetworking) SendAddNodeCommand(
	target raft_state.Node,
	command raft_commands.AddNodeCommand,
) (raft_commands.AddNodeResult, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return raft_commands.AddNodeResult{}, errUnreachable
	}
	return HandleAddNode(member, &command), nil
}

func (wire *loopbackNetworking) SendRemoveNodeCommand(
	target raft_state.Node,
	command raft_commands.RemoveNodeCommand,
) (raft_commands.RemoveNodeResult, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return raft_commands.RemoveNodeResult{}, errUnreachable
	}
	return HandleRemoveNode(member, &command), nil
}

func (wire *loopbackNetworking) SendExileCommand(target raft_state.Node) error {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return errUnreachable
	}
	HandleExile(member)
	return nil
}

func (wire *loopbackNetworking) ReadFile(
	target raft_state.Node,
	path string,
	offset int64,
	length int,
) ([]byte, error) {
	member, exists := wire.lookup(target.ID)
	if !exists {
		return nil, errUnreachable
	}
	result := HandleReadFile(member, &raft_commands.ReadFileCommand{Path: path, Offset: offset, Length: length})
	if !result.Found {
		return nil, raft_log.ErrNoSuchSnapshot
	}
	return result.Data, nil
}

type timeoutMock struct {
	kind         string
	milliseconds int
	done         chan struct{}
	fired        bool
}

func (mock *timeoutMock) Done() <-chan struct{} { return mock.done }
func (mock *timeoutMock) Cancel()               {}

func (mock *timeoutMock) fire() {
	if !mock.fired {
		mock.fired = true
		close(mock.done)
	}
}

type timeoutFactoryMock struct {
	mutex          sync.Mutex
	timeouts       []*timeoutMock
	timeoutCreated chan *timeoutMock
}

func (mock *timeoutFactoryMock) Timeout(kind string, milliseconds int) timer.Timeout {
	timeout := &timeoutMock{
		kind:         kind,
		milliseconds: milliseconds,
		done:         make(chan struct{}),
	}

	mock.mutex.Lock()
	mock.timeouts = append(mock.timeouts, timeout)
	notify := mock.timeoutCreated
	mock.mutex.Unlock()

	if notify != nil {
		go func() { notify <- timeout }()
	}
	return timeout
}

func testMember(nodeId uint) raft_state.Node {
	return raft_state.Node{
		ID:       nodeId,
		MetaAddr: fmt.Sprintf("127.0.0.1:%d", 9003+nodeId*10),
		DataAddr: fmt.Sprintf("127.0.0.1:%d", 9005+nodeId*10),
	}
}

func testConfiguration(nodeIds ...uint) raft_state.ClusterConfiguration {
	members := make([]raft_state.Node, len(nodeIds))
	for i, nodeId := range nodeIds {
		members[i] = testMember(nodeId)
	}
	return raft_state.NewClusterConfiguration(0, members, 16)
}

// createTestNode builds node 2 of a {1, 2, 3} cluster around fresh in-memory persistence.
func createTestNode(networking *raftNetworkingMock, factory *timeoutFactoryMock) *Node {
	return createTestNodeWithConfiguration(networking, factory, testConfiguration(1, 2, 3))
}

func createTestNodeWithConfiguration(
	networking *raftNetworkingMock,
	factory *timeoutFactoryMock,
	configuration raft_state.ClusterConfiguration,
) *Node {
	member, err := CreateNode(
		testMember(2),
		configuration,
		raft_log.NewMemoryPersistence(),
		raft_log.NewMemorySnapshotStorage(),
		networking,
		factory,
		logging.CreateLogger("[TEST]", nil),
	)
	if err != nil {
		panic(any(err))
	}
	return member
}

// appendTestEntries puts data entries with the given terms at indexes 1..len(terms).
func appendTestEntries(member *Node, terms ...uint64) {
	for i, term := range terms {
		err := member.Log.Append(raft_state.LogEntry{
			Index:   uint64(i + 1),
			Term:    term,
			Type:    raft_state.EntryData,
			Command: fmt.Sprintf("create-sg root.group%d", i+1),
		})
		if err != nil {
			panic(any(err))
		}
	}
}
