package resourcemgr

import "github.com/meshlayer/go-meshlayer/pkg/types"

// connScope is the ConnManagementScope held by a Connection for its
// entire lifetime.
type connScope struct {
	baseScope
	dir  types.Direction
	peer types.PeerID
}

func (s *connScope) SetPeer(p types.PeerID) error {
	s.mu.Lock()
	s.peer = p
	s.mu.Unlock()
	return nil
}

// Done releases this scope's memory and its connection-count slot. Safe
// to call more than once.
func (s *connScope) Done() {
	if s.doneBase() {
		s.mgr.releaseConn(s.dir)
	}
}
