package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/internal/eventbus"
	"github.com/meshlayer/go-meshlayer/internal/muxer/yamux"
	"github.com/meshlayer/go-meshlayer/internal/peerstore"
	"github.com/meshlayer/go-meshlayer/internal/resourcemgr"
	"github.com/meshlayer/go-meshlayer/internal/swarm"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

const testPeerID = types.PeerID("01234567890123456789012345678901")

func newTestHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	ps, err := peerstore.New()
	require.NoError(t, err)
	bus := eventbus.New()
	rm := resourcemgr.NewManager(resourcemgr.DefaultLimits())
	sw := swarm.New(testPeerID, ps, bus, rm, yamux.NewFactory())

	base := []Option{
		WithIdentity(testPeerID),
		WithSwarm(sw),
		WithPeerstore(ps),
		WithEventBus(bus),
	}
	h, err := New(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestNewRequiresIdentity(t *testing.T) {
	ps, err := peerstore.New()
	require.NoError(t, err)
	bus := eventbus.New()
	rm := resourcemgr.NewManager(resourcemgr.DefaultLimits())
	sw := swarm.New(testPeerID, ps, bus, rm, yamux.NewFactory())

	_, err = New(WithSwarm(sw), WithPeerstore(ps), WithEventBus(bus))
	require.Error(t, err)
	require.Contains(t, err.Error(), "identity")
}

func TestNewRequiresSwarmPeerstoreEventBus(t *testing.T) {
	_, err := New(WithIdentity(testPeerID))
	require.Error(t, err)
	require.Contains(t, err.Error(), "swarm")

	ps, err := peerstore.New()
	require.NoError(t, err)
	bus := eventbus.New()
	rm := resourcemgr.NewManager(resourcemgr.DefaultLimits())
	sw := swarm.New(testPeerID, ps, bus, rm, yamux.NewFactory())

	_, err = New(WithIdentity(testPeerID), WithSwarm(sw))
	require.Error(t, err)
	require.Contains(t, err.Error(), "peerstore")

	_, err = New(WithIdentity(testPeerID), WithSwarm(sw), WithPeerstore(ps))
	require.Error(t, err)
	require.Contains(t, err.Error(), "event bus")
}

func TestHostBasicAccessors(t *testing.T) {
	h := newTestHost(t)
	require.Equal(t, testPeerID, h.ID())
	require.NotNil(t, h.Peerstore())
	require.NotNil(t, h.EventBus())
	require.NotNil(t, h.Network())
	require.Empty(t, h.Addrs())
}

func TestSetAndRemoveStreamHandlerPublishesProtocolEvents(t *testing.T) {
	h := newTestHost(t)

	sub, err := h.eventbus.Subscribe(new(types.EvtLocalProtocolsUpdated))
	require.NoError(t, err)
	defer sub.Close()

	const proto types.ProtocolID = "/mesh/ping/1.0.0"
	h.SetStreamHandler(proto, func(interfaces.Stream) {})

	select {
	case evt := <-sub.Out():
		added := evt.(types.EvtLocalProtocolsUpdated)
		require.Equal(t, []types.ProtocolID{proto}, added.Added)
	default:
		t.Fatal("expected EvtLocalProtocolsUpdated on SetStreamHandler")
	}

	h.RemoveStreamHandler(proto)
	select {
	case evt := <-sub.Out():
		removed := evt.(types.EvtLocalProtocolsUpdated)
		require.Equal(t, []types.ProtocolID{proto}, removed.Removed)
	default:
		t.Fatal("expected EvtLocalProtocolsUpdated on RemoveStreamHandler")
	}
}

func TestConnectWithoutAddrsToUnreachablePeerFails(t *testing.T) {
	h := newTestHost(t)
	other := types.PeerID("98765432109876543210987654321098")

	err := h.Connect(context.Background(), other, nil)
	require.Error(t, err)
}
