package timer

import (
	"math/rand"
	"sync"
	"time"

	"github.com/chaw1/incubator-iotdb/src/config"
)

type TimeoutFactory interface {
	Timeout(kind string, milliseconds int) Timeout
}

type Timeout interface {
	Done() <-chan struct{}
	Cancel()
}

// ElectionTimeout returns a fresh timeout in milliseconds drawn uniformly from the configured
// [ElectionTimeoutMin, ElectionTimeoutMax) range. Every election round draws again so that
// competing candidates' timeouts eventually diverge.
func ElectionTimeout() int {
	min := config.Config.ElectionTimeoutMin
	max := config.Config.ElectionTimeoutMax
	if max <= min {
		return min
	}
	return min + rand.Intn(max-min)
}

type defaultTimeout struct {
	done     chan struct{}
	cancel   chan struct{}
	cancelMu sync.Mutex
	canceled bool
}

func (timeout *defaultTimeout) Done() <-chan struct{} {
	return timeout.done
}

func (timeout *defaultTimeout) Cancel() {
	timeout.cancelMu.Lock()
	defer timeout.cancelMu.Unlock()
	if !timeout.canceled {
		timeout.canceled = true
		close(timeout.cancel)
	}
}

type DefaultTimeoutFactory struct{}

func (*DefaultTimeoutFactory) Timeout(kind string, milliseconds int) Timeout {
	timeout := &defaultTimeout{
		done:   make(chan struct{}),
		cancel: make(chan struct{}),
	}

	go func() {
		select {
		case <-time.After(time.Duration(milliseconds) * time.Millisecond):
			close(timeout.done)
		case <-timeout.cancel:
		}
	}()

	return timeout
}
