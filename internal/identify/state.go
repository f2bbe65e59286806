package identify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// State is a per-connection identify lifecycle state.
type State int

const (
	Unidentified State = iota
	Identifying
	IdentifiedSuccess
	IdentifiedFailure
)

func (s State) String() string {
	switch s {
	case Identifying:
		return "identifying"
	case IdentifiedSuccess:
		return "identified"
	case IdentifiedFailure:
		return "failed"
	default:
		return "unidentified"
	}
}

// ErrTimeout is published as the Reason of EvtPeerIdentificationFailed
// when a read exceeds StreamReadTimeout.
var ErrTimeout = errors.New("identify: stream read timed out")

// entry tracks the identify state of a single connection. Exactly one
// identify attempt runs per connection; concurrent identifyWait callers
// attach to the same done channel.
type entry struct {
	mu    sync.Mutex
	state State
	err   error
	done  chan struct{}
}

// connections guards per-connection identify entries, mirroring the
// single-mutex-per-map shared-state rule used throughout this module.
type connections struct {
	mu      sync.Mutex
	entries map[types.ConnID]*entry
}

func newConnections() *connections {
	return &connections{entries: make(map[types.ConnID]*entry)}
}

func (c *connections) getOrCreate(id types.ConnID) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[id]; ok {
		return e, false
	}
	e := &entry{state: Unidentified, done: make(chan struct{})}
	c.entries[id] = e
	return e, true
}

func (c *connections) remove(id types.ConnID) {
	c.mu.Lock()
	delete(c.entries, id)
	c.mu.Unlock()
}

// identifyWait runs fn exactly once per connection id; additional
// concurrent callers block on the same attempt's result.
func (c *connections) identifyWait(ctx context.Context, conn interfaces.Connection, fn func() error) error {
	e, isNew := c.getOrCreate(conn.ID())
	if !isNew {
		select {
		case <-e.done:
			return e.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.mu.Lock()
	e.state = Identifying
	e.mu.Unlock()

	err := fn()

	e.mu.Lock()
	e.err = err
	if err != nil {
		e.state = IdentifiedFailure
	} else {
		e.state = IdentifiedSuccess
	}
	e.mu.Unlock()
	close(e.done)
	return err
}

func (c *connections) stateOf(id types.ConnID) State {
	c.mu.Lock()
	e, ok := c.entries[id]
	c.mu.Unlock()
	if !ok {
		return Unidentified
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// withReadTimeout runs fn with the stream's deadline set to
// StreamReadTimeout, clearing it afterward. fn's error is translated to
// ErrTimeout when the deadline was the cause.
func withReadTimeout(st interfaces.Stream, timeout time.Duration, fn func() error) error {
	deadline := time.Now().Add(timeout)
	_ = st.SetReadDeadline(deadline)
	defer st.SetReadDeadline(time.Time{})

	errCh := make(chan error, 1)
	go func() { errCh <- fn() }()

	select {
	case err := <-errCh:
		if err != nil && !time.Now().Before(deadline) {
			return ErrTimeout
		}
		return err
	case <-time.After(timeout + time.Second):
		return ErrTimeout
	}
}
