package swarm

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/internal/eventbus"
	"github.com/meshlayer/go-meshlayer/internal/multistream"
	"github.com/meshlayer/go-meshlayer/internal/muxer/yamux"
	"github.com/meshlayer/go-meshlayer/internal/peerstore"
	"github.com/meshlayer/go-meshlayer/internal/resourcemgr"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// pipeRegistry wires pipeTransport Dial calls to the matching Listen
// call's Accept channel, so two independently constructed Swarms can
// exchange real RawConns over net.Pipe() without a real socket.
type pipeRegistry struct {
	mu        sync.Mutex
	listeners map[string]chan net.Conn
}

func newPipeRegistry() *pipeRegistry {
	return &pipeRegistry{listeners: make(map[string]chan net.Conn)}
}

type pipeRawConn struct {
	net.Conn
	local, remote multiaddr.Multiaddr
}

func (c *pipeRawConn) LocalAddr() multiaddr.Multiaddr  { return c.local }
func (c *pipeRawConn) RemoteAddr() multiaddr.Multiaddr { return c.remote }

type pipeTransport struct {
	reg *pipeRegistry
}

func newPipeTransport(reg *pipeRegistry) *pipeTransport { return &pipeTransport{reg: reg} }

func (t *pipeTransport) Protocol() string { return "tcp" }

func (t *pipeTransport) CanDial(addr multiaddr.Multiaddr) bool {
	return addr.NetworkProtocol() == "tcp"
}

func (t *pipeTransport) Dial(ctx context.Context, addr multiaddr.Multiaddr) (interfaces.RawConn, error) {
	t.reg.mu.Lock()
	ch, ok := t.reg.listeners[addr.String()]
	t.reg.mu.Unlock()
	if !ok {
		return nil, errors.New("pipeTransport: no listener for " + addr.String())
	}
	client, server := net.Pipe()
	select {
	case ch <- server:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &pipeRawConn{Conn: client, local: addr, remote: addr}, nil
}

func (t *pipeTransport) Listen(addr multiaddr.Multiaddr) (interfaces.Listener, error) {
	ch := make(chan net.Conn, 8)
	t.reg.mu.Lock()
	t.reg.listeners[addr.String()] = ch
	t.reg.mu.Unlock()
	return &pipeListener{addr: addr, ch: ch, reg: t.reg}, nil
}

type pipeListener struct {
	addr multiaddr.Multiaddr
	ch   chan net.Conn
	reg  *pipeRegistry
}

func (l *pipeListener) Accept() (interfaces.RawConn, error) {
	conn, ok := <-l.ch
	if !ok {
		return nil, io.EOF
	}
	return &pipeRawConn{Conn: conn, local: l.addr, remote: l.addr}, nil
}

func (l *pipeListener) Multiaddr() multiaddr.Multiaddr { return l.addr }

func (l *pipeListener) Close() error {
	l.reg.mu.Lock()
	delete(l.reg.listeners, l.addr.String())
	l.reg.mu.Unlock()
	close(l.ch)
	return nil
}

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func newTestSwarm(t *testing.T, id types.PeerID, reg *pipeRegistry, opts ...Option) *Swarm {
	t.Helper()
	ps, err := peerstore.New()
	require.NoError(t, err)
	bus := eventbus.New()
	rm := resourcemgr.NewManager(resourcemgr.DefaultLimits())
	s := New(id, ps, bus, rm, yamux.NewFactory(), opts...)
	s.AddTransport(newPipeTransport(reg))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

const (
	peerA types.PeerID = "peerA-0000000000000000000000000000"
	peerB types.PeerID = "peerB-0000000000000000000000000000"
)

// newConnectedPair starts b listening, tells a about b's address, and
// returns both swarms ready to dial.
func newConnectedPair(t *testing.T) (a, b *Swarm, addrB multiaddr.Multiaddr) {
	t.Helper()
	reg := newPipeRegistry()
	a = newTestSwarm(t, peerA, reg)
	b = newTestSwarm(t, peerB, reg)

	addrB = mustAddr(t, "/ip4/127.0.0.1/tcp/4242")
	require.NoError(t, b.Listen(addrB))
	a.peerstore.AddAddr(peerB, addrB, time.Hour)
	return a, b, addrB
}

func TestDialPeerEstablishesConnectionAndEmitsConnectedness(t *testing.T) {
	a, b, _ := newConnectedPair(t)
	_ = b

	sub, err := a.eventbus.Subscribe(new(types.EvtPeerConnectednessChanged))
	require.NoError(t, err)
	defer sub.Close()

	conn, err := a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)
	require.Equal(t, peerB, conn.RemotePeer())
	require.Equal(t, types.DirOutbound, conn.Direction())

	select {
	case evt := <-sub.Out():
		cc := evt.(types.EvtPeerConnectednessChanged)
		require.Equal(t, peerB, cc.Peer)
		require.True(t, cc.Connected)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for connectedness event")
	}
}

func TestDialPeerReturnsExistingConnectionWithoutRedialing(t *testing.T) {
	a, _, _ := newConnectedPair(t)

	c1, err := a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)
	c2, err := a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)
	require.Equal(t, c1.ID(), c2.ID())
	require.Len(t, a.ConnsToPeer(peerB), 1)
}

func TestDialPeerWithNoKnownAddressesFails(t *testing.T) {
	reg := newPipeRegistry()
	a := newTestSwarm(t, peerA, reg)
	_, err := a.DialPeer(context.Background(), peerB)
	require.Error(t, err)
}

func TestNewStreamNegotiatesProtocolAndDeliversData(t *testing.T) {
	a, b, _ := newConnectedPair(t)

	const proto types.ProtocolID = "/test/echo/1.0.0"
	received := make(chan string, 1)
	b.SetStreamHandler(proto, func(st interfaces.Stream) {
		defer st.Close()
		buf := make([]byte, 5)
		_, err := io.ReadFull(st, buf)
		require.NoError(t, err)
		received <- string(buf)
	})

	st, err := a.NewStream(context.Background(), peerB)
	require.NoError(t, err)
	negotiated, err := multistream.SelectOne(st, []types.ProtocolID{proto}, NegotiationTimeout)
	require.NoError(t, err)
	require.Equal(t, proto, negotiated)
	st.SetProtocol(negotiated)

	_, err = st.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	select {
	case got := <-received:
		require.Equal(t, "hello", got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for handler to receive data")
	}
}

func TestNewStreamFailsWhenPeerSupportsNoRequestedProtocol(t *testing.T) {
	a, b, _ := newConnectedPair(t)
	b.SetStreamHandler("/test/other/1.0.0", func(interfaces.Stream) {})

	st, err := a.NewStream(context.Background(), peerB)
	require.NoError(t, err)
	defer st.Close()

	_, err = multistream.SelectOne(st, []types.ProtocolID{"/test/echo/1.0.0"}, NegotiationTimeout)
	require.Error(t, err)
}

func TestSetStreamHandlerMatchDispatchesByPredicate(t *testing.T) {
	a, b, _ := newConnectedPair(t)

	matched := make(chan types.ProtocolID, 1)
	b.SetStreamHandlerMatch("/test/versioned", func(p types.ProtocolID) bool {
		return len(p) > len("/test/versioned")
	}, func(st interfaces.Stream) {
		matched <- st.Protocol()
		st.Close()
	})

	st, err := a.NewStream(context.Background(), peerB)
	require.NoError(t, err)
	const wanted types.ProtocolID = "/test/versioned/2.0.0"
	negotiated, err := multistream.SelectOne(st, []types.ProtocolID{wanted}, NegotiationTimeout)
	require.NoError(t, err)
	require.Equal(t, wanted, negotiated)
	st.SetProtocol(negotiated)

	select {
	case got := <-matched:
		require.Equal(t, wanted, got)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match handler dispatch")
	}
}

func TestClosePeerRemovesConnectionsAndEmitsDisconnected(t *testing.T) {
	a, _, _ := newConnectedPair(t)

	sub, err := a.eventbus.Subscribe(new(types.EvtPeerConnectednessChanged))
	require.NoError(t, err)
	defer sub.Close()
	// Drain the "connected" event so the next read sees "disconnected".
	_, err = a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)
	<-sub.Out()

	require.NoError(t, a.ClosePeer(peerB))
	require.Empty(t, a.ConnsToPeer(peerB))
	require.Equal(t, types.DirUnknown, a.Connectedness(peerB))

	select {
	case evt := <-sub.Out():
		cc := evt.(types.EvtPeerConnectednessChanged)
		require.False(t, cc.Connected)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnected event")
	}
}

type recordingNotifiee struct {
	mu           sync.Mutex
	connected    []types.PeerID
	disconnected []types.PeerID
}

func (n *recordingNotifiee) Listen(interfaces.Network, multiaddr.Multiaddr)      {}
func (n *recordingNotifiee) ListenClose(interfaces.Network, multiaddr.Multiaddr) {}
func (n *recordingNotifiee) Connected(_ interfaces.Network, c interfaces.Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, c.RemotePeer())
}
func (n *recordingNotifiee) Disconnected(_ interfaces.Network, c interfaces.Connection) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, c.RemotePeer())
}

func TestNotifyReceivesConnectedAndDisconnectedCallbacks(t *testing.T) {
	a, _, _ := newConnectedPair(t)
	n := &recordingNotifiee{}
	a.Notify(n)

	_, err := a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)
	require.NoError(t, a.ClosePeer(peerB))

	require.Eventually(t, func() bool {
		n.mu.Lock()
		defer n.mu.Unlock()
		return len(n.connected) == 1 && len(n.disconnected) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStopNotifyStopsFurtherCallbacks(t *testing.T) {
	a, _, _ := newConnectedPair(t)
	n := &recordingNotifiee{}
	a.Notify(n)
	a.StopNotify(n)

	_, err := a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)

	n.mu.Lock()
	defer n.mu.Unlock()
	require.Empty(t, n.connected)
}

type denyAllGater struct{}

func (denyAllGater) InterceptPeerDial(types.PeerID) bool                                      { return true }
func (denyAllGater) InterceptAddrDial(types.PeerID, multiaddr.Multiaddr) bool                  { return true }
func (denyAllGater) InterceptAccept(multiaddr.Multiaddr) bool                                  { return false }
func (denyAllGater) InterceptSecured(types.Direction, types.PeerID, multiaddr.Multiaddr) bool { return true }

func TestInboundConnectionRejectedByGaterIsClosedImmediately(t *testing.T) {
	reg := newPipeRegistry()
	a := newTestSwarm(t, peerA, reg)
	b := newTestSwarm(t, peerB, reg, WithGater(denyAllGater{}))

	addrB := mustAddr(t, "/ip4/127.0.0.1/tcp/4343")
	require.NoError(t, b.Listen(addrB))
	a.peerstore.AddAddr(peerB, addrB, time.Hour)

	_, err := a.DialPeer(context.Background(), peerB)
	require.Error(t, err)
}

func TestListenAddrsReflectsActiveListeners(t *testing.T) {
	_, b, addrB := newConnectedPair(t)
	addrs := b.ListenAddrs()
	require.Len(t, addrs, 1)
	require.True(t, addrs[0].Equal(addrB))
}

func TestSwarmCloseClosesListenersAndConnections(t *testing.T) {
	a, b, _ := newConnectedPair(t)
	_, err := a.DialPeer(context.Background(), peerB)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.Empty(t, a.ConnsToPeer(peerB))

	err = b.Listen(mustAddr(t, "/ip4/127.0.0.1/tcp/4444"))
	require.NoError(t, err)
}
