package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// conn implements pkg/interfaces.Connection, owning a mux session and
// its resource scope. Streams are registered under the connection by
// id so both sides of the Swarm<->Connection<->Stream ownership tree
// stay non-circular (see DESIGN.md's arena-ownership note).
type conn struct {
	swarm *Swarm

	id         types.ConnID
	raw        interfaces.RawConn
	session    interfaces.MuxSession
	scope      interfaces.ConnManagementScope
	localPeer  types.PeerID
	remotePeer types.PeerID
	dir        types.Direction
	opened     time.Time
	transient  bool

	mu      sync.Mutex
	streams map[uint32]*stream
	closed  bool
}

func (c *conn) ID() types.ConnID                         { return c.id }
func (c *conn) LocalPeer() types.PeerID                  { return c.localPeer }
func (c *conn) RemotePeer() types.PeerID                 { return c.remotePeer }
func (c *conn) LocalMultiaddr() multiaddr.Multiaddr       { return c.raw.LocalAddr() }
func (c *conn) RemoteMultiaddr() multiaddr.Multiaddr      { return c.raw.RemoteAddr() }
func (c *conn) Direction() types.Direction                { return c.dir }
func (c *conn) OpenedAt() time.Time                       { return c.opened }
func (c *conn) IsTransient() bool                         { return c.transient }

func (c *conn) Stat() interfaces.ConnStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return interfaces.ConnStats{
		Direction:  c.dir,
		Opened:     c.opened,
		NumStreams: len(c.streams),
		Transient:  c.transient,
	}
}

func (c *conn) NewStream(ctx context.Context) (interfaces.Stream, error) {
	scope, err := c.swarm.resourceMgr.OpenStream(c.remotePeer, types.DirOutbound)
	if err != nil {
		return nil, err
	}
	ms, err := c.session.OpenStream(ctx)
	if err != nil {
		scope.Done()
		return nil, err
	}
	return c.registerStream(ms, scope), nil
}

func (c *conn) AcceptStream() (interfaces.Stream, error) {
	ms, err := c.session.AcceptStream()
	if err != nil {
		return nil, err
	}
	scope, err := c.swarm.resourceMgr.OpenStream(c.remotePeer, types.DirInbound)
	if err != nil {
		_ = ms.Reset()
		return nil, err
	}
	return c.registerStream(ms, scope), nil
}

func (c *conn) registerStream(ms interfaces.MuxStream, scope interfaces.StreamManagementScope) *stream {
	st := &stream{conn: c, ms: ms, scope: scope}
	c.mu.Lock()
	c.streams[ms.ID()] = st
	c.mu.Unlock()
	return st
}

func (c *conn) removeStream(id uint32) {
	c.mu.Lock()
	delete(c.streams, id)
	c.mu.Unlock()
}

func (c *conn) Streams() []interfaces.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]interfaces.Stream, 0, len(c.streams))
	for _, st := range c.streams {
		out = append(out, st)
	}
	return out
}

func (c *conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close tears down all child streams, the mux session, the transport
// pipe, and releases the connection's resource scope.
func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := make([]*stream, 0, len(c.streams))
	for _, st := range c.streams {
		streams = append(streams, st)
	}
	c.mu.Unlock()

	for _, st := range streams {
		_ = st.Reset()
	}
	err := c.session.Close()
	c.scope.Done()
	c.swarm.removeConn(c)
	return err
}
