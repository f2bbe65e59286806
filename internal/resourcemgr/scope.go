package resourcemgr

import (
	"sync"

	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
)

// baseScope carries the memory reservation bookkeeping shared by every
// scope kind; reserved bytes are tracked locally so Done can release
// exactly what this scope reserved, never more.
type baseScope struct {
	mu       sync.Mutex
	mgr      *Manager
	id       string
	reserved int64
	done     bool
}

func (s *baseScope) ReserveMemory(size int, prio uint8) error {
	if err := s.mgr.reserveMemory(int64(size)); err != nil {
		return err
	}
	s.mu.Lock()
	s.reserved += int64(size)
	s.mu.Unlock()
	return nil
}

func (s *baseScope) ReleaseMemory(size int) {
	s.mu.Lock()
	if int64(size) > s.reserved {
		size = int(s.reserved)
	}
	s.reserved -= int64(size)
	s.mu.Unlock()
	s.mgr.releaseMemory(int64(size))
}

func (s *baseScope) BeginSpan() (interfaces.ResourceScopeSpan, error) {
	return &span{parent: s}, nil
}

// doneBase releases this scope's reserved memory and reports whether
// this call was the one that transitioned the scope to done, so
// callers can make their own one-time release (connection/stream
// slots) idempotent too.
func (s *baseScope) doneBase() bool {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return false
	}
	s.done = true
	reserved := s.reserved
	s.reserved = 0
	s.mu.Unlock()
	if reserved > 0 {
		s.mgr.releaseMemory(reserved)
	}
	return true
}

// span is a short-lived nested scope; its reservations are tracked
// against the same manager budget and released on Done independent of
// the parent's lifetime.
type span struct {
	parent   *baseScope
	mu       sync.Mutex
	reserved int64
	done     bool
}

func (sp *span) ReserveMemory(size int, prio uint8) error {
	if err := sp.parent.mgr.reserveMemory(int64(size)); err != nil {
		return err
	}
	sp.mu.Lock()
	sp.reserved += int64(size)
	sp.mu.Unlock()
	return nil
}

func (sp *span) ReleaseMemory(size int) {
	sp.mu.Lock()
	if int64(size) > sp.reserved {
		size = int(sp.reserved)
	}
	sp.reserved -= int64(size)
	sp.mu.Unlock()
	sp.parent.mgr.releaseMemory(int64(size))
}

func (sp *span) BeginSpan() (interfaces.ResourceScopeSpan, error) {
	return &span{parent: sp.parent}, nil
}

func (sp *span) Done() {
	sp.mu.Lock()
	if sp.done {
		sp.mu.Unlock()
		return
	}
	sp.done = true
	reserved := sp.reserved
	sp.reserved = 0
	sp.mu.Unlock()
	if reserved > 0 {
		sp.parent.mgr.releaseMemory(reserved)
	}
}
