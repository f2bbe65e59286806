package resourcemgr

import "github.com/meshlayer/go-meshlayer/pkg/types"

// streamScope is the StreamManagementScope held by a Stream for its
// entire lifetime.
type streamScope struct {
	baseScope
	peer     types.PeerID
	protocol types.ProtocolID
	service  string
}

func (s *streamScope) SetProtocol(proto types.ProtocolID) error {
	s.mu.Lock()
	s.protocol = proto
	s.mu.Unlock()
	return nil
}

func (s *streamScope) SetService(service string) error {
	s.mu.Lock()
	s.service = service
	s.mu.Unlock()
	return nil
}

// Done releases this scope's memory and its stream-count slot. Safe to
// call more than once.
func (s *streamScope) Done() {
	if s.doneBase() {
		s.mgr.releaseStream()
	}
}
