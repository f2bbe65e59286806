package identify

import (
	"context"
	"sync"
	"time"

	"github.com/meshlayer/go-meshlayer/internal/multistream"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// receivePushTimeout bounds how long a push send may take before being
// abandoned, per spec §5.
const receivePushTimeout = 5 * time.Second

// pushTarget is one connection selected for a push: its peer is
// recorded in the peerstore's protocol book as supporting the push
// protocol, which happens once that peer has identified at least once.
type pushTarget struct {
	conn interfaces.Connection
}

// pushToAll fans a changed snapshot out to every connection known to
// support the push protocol, bounded by maxPushConcurrency concurrent
// sends.
func (s *Service) pushToAll(snap *Snapshot) {
	targets := s.pushableConnections()
	if len(targets) == 0 {
		return
	}

	sem := make(chan struct{}, s.maxPushConcurrency)
	var wg sync.WaitGroup
	for _, t := range targets {
		t := t
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.pushOne(t.conn, snap)
		}()
	}
	wg.Wait()
}

// pushableConnections returns one connection per peer that has
// previously identified itself as supporting the push protocol
// (recorded in the protocol book by consumeMessage's SetProtocols
// call).
func (s *Service) pushableConnections() []pushTarget {
	if s.network == nil {
		return nil
	}
	var out []pushTarget
	for _, p := range s.peerstore.Peers() {
		if len(s.peerstore.SupportsProtocols(p, []types.ProtocolID{ProtocolIDPush})) == 0 {
			continue
		}
		conns := s.network.ConnsToPeer(p)
		if len(conns) == 0 {
			continue
		}
		out = append(out, pushTarget{conn: conns[0]})
	}
	return out
}

func (s *Service) pushOne(conn interfaces.Connection, snap *Snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), receivePushTimeout)
	defer cancel()

	st, err := conn.NewStream(ctx)
	if err != nil {
		logger.Warnw("push: failed to open stream", "peer", conn.RemotePeer().ShortString(), "err", err)
		return
	}
	defer st.Close()
	if _, err := multistream.SelectOne(st, []types.ProtocolID{ProtocolIDPush}, receivePushTimeout); err != nil {
		logger.Warnw("push: protocol negotiation failed", "peer", conn.RemotePeer().ShortString(), "err", err)
		s.metrics.PushFailed()
		return
	}
	st.SetProtocol(ProtocolIDPush)

	msg := snap.toMessage(conn.RemoteMultiaddr(), s.signedRecordBytes(snap))
	_ = st.SetWriteDeadline(time.Now().Add(receivePushTimeout))
	if err := writeChunked(st, msg); err != nil {
		logger.Warnw("push: failed to write snapshot", "peer", conn.RemotePeer().ShortString(), "err", err)
		s.metrics.PushFailed()
		return
	}
	s.metrics.PushSucceeded()
}
