// Package host wires Swarm, Peerstore, EventBus, and the identify
// service together behind the thin facade application code programs
// against. It is the only package importing all four subsystem
// packages.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/meshlayer/go-meshlayer/internal/eventbus"
	"github.com/meshlayer/go-meshlayer/internal/identify"
	"github.com/meshlayer/go-meshlayer/internal/multistream"
	"github.com/meshlayer/go-meshlayer/internal/peerstore"
	"github.com/meshlayer/go-meshlayer/internal/swarm"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("host")

// negotiationTimeout bounds how long NewStream's client-side multistream
// negotiation may take.
const negotiationTimeout = 30 * time.Second

// Host is the composition root: it owns a Swarm, a Peerstore, an
// EventBus, and an identify.Service, and exposes the narrow surface
// callers actually need.
type Host struct {
	id        types.PeerID
	swarm     *swarm.Swarm
	peerstore interfaces.Peerstore
	eventbus  interfaces.EventBus
	identify  *identify.Service

	identifyOpts  []identify.Option
	pendingListen []multiaddr.Multiaddr

	mu        sync.RWMutex
	protocols map[types.ProtocolID]struct{}
}

// New constructs and starts a Host from the given options. WithIdentity,
// WithSwarm, WithPeerstore, and WithEventBus are required.
func New(opts ...Option) (*Host, error) {
	h := &Host{protocols: make(map[types.ProtocolID]struct{})}
	for _, o := range opts {
		if err := o(h); err != nil {
			return nil, err
		}
	}
	if h.id.IsEmpty() {
		return nil, errors.New("host: identity is required (WithIdentity)")
	}
	if h.swarm == nil {
		return nil, errors.New("host: swarm is required (WithSwarm)")
	}
	if h.peerstore == nil {
		return nil, errors.New("host: peerstore is required (WithPeerstore)")
	}
	if h.eventbus == nil {
		return nil, errors.New("host: event bus is required (WithEventBus)")
	}

	h.identify = identify.NewService(h.id, h.peerstore, h.eventbus, h.swarm, h.identifyOpts...)
	h.swarm.Notify(h.identify)
	h.swarm.SetStreamHandler(identify.ProtocolID, h.identify.Handler)
	h.swarm.SetStreamHandler(identify.ProtocolIDPush, h.identify.PushHandler)

	for _, addr := range h.pendingListen {
		if err := h.swarm.Listen(addr); err != nil {
			return nil, fmt.Errorf("host: listen %s: %w", addr, err)
		}
	}
	h.publishLocalAddrsUpdated()
	h.identify.UpdateSnapshot(h.swarm.ListenAddrs(), h.registeredProtocols())

	return h, nil
}

// ID returns the host's own peer id.
func (h *Host) ID() types.PeerID { return h.id }

// Peerstore returns the peer metadata store backing this host.
func (h *Host) Peerstore() interfaces.Peerstore { return h.peerstore }

// EventBus returns the host's event bus.
func (h *Host) EventBus() interfaces.EventBus { return h.eventbus }

// Network returns the underlying Swarm as a Network.
func (h *Host) Network() interfaces.Network { return h.swarm }

// Addrs returns the host's current listen addresses.
func (h *Host) Addrs() []multiaddr.Multiaddr { return h.swarm.ListenAddrs() }

// Connect ensures the host has at least one open connection to p,
// first recording addrs in the peerstore at TempAddrTTL so the dialer
// has something to try.
func (h *Host) Connect(ctx context.Context, p types.PeerID, addrs []multiaddr.Multiaddr) error {
	if len(addrs) > 0 {
		h.peerstore.AddAddrs(p, addrs, peerstore.TempAddrTTL)
	}
	if h.swarm.Connectedness(p) != types.DirUnknown {
		return nil
	}
	_, err := h.swarm.DialPeer(ctx, p)
	if err != nil {
		logger.Debugw("connect failed", "peer", p.ShortString(), "err", err)
	}
	return err
}

// NewStream opens a connection to p if needed, then negotiates one of
// protos over a fresh stream.
func (h *Host) NewStream(ctx context.Context, p types.PeerID, protos ...types.ProtocolID) (interfaces.Stream, error) {
	if len(protos) == 0 {
		return nil, errors.New("host: NewStream requires at least one protocol")
	}
	st, err := h.swarm.NewStream(ctx, p)
	if err != nil {
		return nil, err
	}
	selected, err := multistream.SelectOne(st, protos, negotiationTimeout)
	if err != nil {
		_ = st.Reset()
		return nil, fmt.Errorf("host: protocol negotiation with %s failed: %w", p.ShortString(), err)
	}
	st.SetProtocol(selected)
	return st, nil
}

// SetStreamHandler registers handler for proto and advertises the change.
func (h *Host) SetStreamHandler(proto types.ProtocolID, handler interfaces.StreamHandler) {
	h.swarm.SetStreamHandler(proto, handler)
	h.mu.Lock()
	h.protocols[proto] = struct{}{}
	h.mu.Unlock()
	h.publishProtocolsUpdated([]types.ProtocolID{proto}, nil)
}

// SetStreamHandlerMatch registers handler for every protocol id match
// accepts and advertises proto as a representative addition.
func (h *Host) SetStreamHandlerMatch(proto types.ProtocolID, match func(types.ProtocolID) bool, handler interfaces.StreamHandler) {
	h.swarm.SetStreamHandlerMatch(proto, match, handler)
	h.mu.Lock()
	h.protocols[proto] = struct{}{}
	h.mu.Unlock()
	h.publishProtocolsUpdated([]types.ProtocolID{proto}, nil)
}

// RemoveStreamHandler unregisters proto and advertises the change.
func (h *Host) RemoveStreamHandler(proto types.ProtocolID) {
	h.swarm.RemoveStreamHandler(proto)
	h.mu.Lock()
	delete(h.protocols, proto)
	h.mu.Unlock()
	h.publishProtocolsUpdated(nil, []types.ProtocolID{proto})
}

// Close tears down the swarm and, transitively, every open connection
// and listener.
func (h *Host) Close() error {
	return h.swarm.Close()
}

func (h *Host) registeredProtocols() []types.ProtocolID {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]types.ProtocolID, 0, len(h.protocols))
	for p := range h.protocols {
		out = append(out, p)
	}
	return out
}

func (h *Host) publishProtocolsUpdated(added, removed []types.ProtocolID) {
	h.identify.UpdateSnapshot(h.swarm.ListenAddrs(), h.registeredProtocols())
	if h.eventbus == nil {
		return
	}
	em, err := h.eventbus.Emitter(new(types.EvtLocalProtocolsUpdated), eventbus.Stateful())
	if err != nil {
		return
	}
	defer em.Close()
	_ = em.Emit(types.EvtLocalProtocolsUpdated{Added: added, Removed: removed})
}

func (h *Host) publishLocalAddrsUpdated() {
	if h.eventbus == nil {
		return
	}
	em, err := h.eventbus.Emitter(new(interfaces.EvtLocalAddressesUpdated), eventbus.Stateful())
	if err != nil {
		return
	}
	defer em.Close()
	_ = em.Emit(interfaces.EvtLocalAddressesUpdated{Addrs: h.swarm.ListenAddrs()})
}

var _ interfaces.Host = (*Host)(nil)
