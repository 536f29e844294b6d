package cli

import (
	"sync"

	"github.com/chaw1/incubator-iotdb/src/timer"
)

// frozenTimeout never fires and ignores Cancel, simulating a hung node.
type frozenTimeout struct{}

func (frozenTimeout) Done() <-chan struct{} { return nil }
func (frozenTimeout) Cancel()               {}

// controllableTimeoutFactory hands out real timeouts unless the node is frozen via the
// freeze/unfreeze simulator commands, in which case timers stop firing entirely.
type controllableTimeoutFactory struct {
	mutex   sync.Mutex
	nodeId  uint
	frozen  bool
	regular timer.DefaultTimeoutFactory
}

func createControllableTimeoutFactory(nodeId uint) *controllableTimeoutFactory {
	return &controllableTimeoutFactory{nodeId: nodeId}
}

func (factory *controllableTimeoutFactory) setFrozen(frozen bool) {
	factory.mutex.Lock()
	defer factory.mutex.Unlock()
	factory.frozen = frozen
}

func (factory *controllableTimeoutFactory) Timeout(kind string, milliseconds int) timer.Timeout {
	factory.mutex.Lock()
	frozen := factory.frozen
	factory.mutex.Unlock()

	if frozen {
		return frozenTimeout{}
	}
	return factory.regular.Timeout(kind, milliseconds)
}
