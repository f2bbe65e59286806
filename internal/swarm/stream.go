package swarm

import (
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// stream implements pkg/interfaces.Stream, wrapping one MuxStream and
// its resource scope. Exclusively owned by its parent conn; resetting
// the parent resets every stream registered under it.
type stream struct {
	conn     *conn
	ms       interfaces.MuxStream
	scope    interfaces.StreamManagementScope
	protocol types.ProtocolID
}

func (s *stream) Read(p []byte) (int, error)  { return s.ms.Read(p) }
func (s *stream) Write(p []byte) (int, error) { return s.ms.Write(p) }

func (s *stream) Protocol() types.ProtocolID { return s.protocol }

func (s *stream) SetProtocol(p types.ProtocolID) {
	s.protocol = p
	_ = s.scope.SetProtocol(p)
}

func (s *stream) Conn() interfaces.Connection { return s.conn }

func (s *stream) CloseWrite() error { return s.ms.CloseWrite() }
func (s *stream) CloseRead() error  { return s.ms.CloseRead() }

func (s *stream) Reset() error {
	err := s.ms.Reset()
	s.conn.removeStream(s.ms.ID())
	s.scope.Done()
	return err
}

func (s *stream) Close() error {
	err := s.ms.Close()
	s.conn.removeStream(s.ms.ID())
	s.scope.Done()
	return err
}

func (s *stream) SetDeadline(t time.Time) error      { return s.ms.SetDeadline(t) }
func (s *stream) SetReadDeadline(t time.Time) error  { return s.ms.SetReadDeadline(t) }
func (s *stream) SetWriteDeadline(t time.Time) error { return s.ms.SetWriteDeadline(t) }
