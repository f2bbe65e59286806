// Package resourcemgr accounts for memory and connection/stream counts
// consumed by the swarm, refusing operations that would exceed
// configured limits rather than letting them grow unbounded.
package resourcemgr

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("resourcemgr")

// ErrResourceLimitExceeded is returned when a reservation would exceed
// a configured limit.
var ErrResourceLimitExceeded = errors.New("resourcemgr: limit exceeded")

// Limits bounds what the Manager will admit.
type Limits struct {
	MaxMemory       int64
	MaxConns        int
	MaxConnsInbound int
	MaxStreams      int
}

// DefaultLimits mirrors conservative defaults; callers override via
// NewManager's Limits argument.
func DefaultLimits() Limits {
	return Limits{
		MaxMemory:       1 << 30, // 1 GiB
		MaxConns:        1000,
		MaxConnsInbound: 800,
		MaxStreams:      10000,
	}
}

// Manager implements pkg/interfaces.ResourceManager.
type Manager struct {
	mu          sync.Mutex
	limits      Limits
	usedMemory  int64
	numConns    int
	numInbound  int
	numStreams  int
	closed      bool
}

// NewManager constructs a Manager enforcing the given limits.
func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// OpenConnection reserves one connection slot, returning a scope that
// must be released via Done regardless of how the caller's operation
// concludes.
func (m *Manager) OpenConnection(dir types.Direction, usefd bool, addr multiaddr.Multiaddr) (interfaces.ConnManagementScope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("resourcemgr: manager closed")
	}
	if m.numConns >= m.limits.MaxConns {
		return nil, ErrResourceLimitExceeded
	}
	if dir == types.DirInbound && m.numInbound >= m.limits.MaxConnsInbound {
		return nil, ErrResourceLimitExceeded
	}
	m.numConns++
	if dir == types.DirInbound {
		m.numInbound++
	}
	id := uuid.NewString()
	logger.Debugw("connection scope opened", "id", id, "dir", dir.String(), "addr", addr.String())
	return &connScope{
		baseScope: baseScope{mgr: m, id: id},
		dir:       dir,
	}, nil
}

// OpenStream reserves one stream slot.
func (m *Manager) OpenStream(peer types.PeerID, dir types.Direction) (interfaces.StreamManagementScope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New("resourcemgr: manager closed")
	}
	if m.numStreams >= m.limits.MaxStreams {
		return nil, ErrResourceLimitExceeded
	}
	m.numStreams++
	id := uuid.NewString()
	logger.Debugw("stream scope opened", "id", id, "peer", peer.ShortString(), "dir", dir.String())
	return &streamScope{
		baseScope: baseScope{mgr: m, id: id},
		peer:      peer,
	}, nil
}

// Close stops admitting new scopes; existing scopes remain valid until
// their own Done is called.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

func (m *Manager) releaseMemory(n int64) {
	m.mu.Lock()
	m.usedMemory -= n
	if m.usedMemory < 0 {
		m.usedMemory = 0
	}
	m.mu.Unlock()
}

func (m *Manager) reserveMemory(n int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.usedMemory+n > m.limits.MaxMemory {
		return ErrResourceLimitExceeded
	}
	m.usedMemory += n
	return nil
}

func (m *Manager) releaseConn(dir types.Direction) {
	m.mu.Lock()
	m.numConns--
	if dir == types.DirInbound {
		m.numInbound--
	}
	m.mu.Unlock()
}

func (m *Manager) releaseStream() {
	m.mu.Lock()
	m.numStreams--
	m.mu.Unlock()
}
