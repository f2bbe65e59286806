package host

import (
	"errors"

	"github.com/meshlayer/go-meshlayer/internal/identify"
	"github.com/meshlayer/go-meshlayer/internal/swarm"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// Option configures a Host under construction.
type Option func(*Host) error

// WithIdentity sets the host's own peer id. Required.
func WithIdentity(id types.PeerID) Option {
	return func(h *Host) error {
		if id.IsEmpty() {
			return errors.New("host: identity must not be empty")
		}
		h.id = id
		return nil
	}
}

// WithSwarm installs the Network implementation backing this host.
// Required.
func WithSwarm(s *swarm.Swarm) Option {
	return func(h *Host) error {
		h.swarm = s
		return nil
	}
}

// WithPeerstore installs the peerstore. Required.
func WithPeerstore(ps interfaces.Peerstore) Option {
	return func(h *Host) error {
		h.peerstore = ps
		return nil
	}
}

// WithEventBus installs the event bus. Required.
func WithEventBus(bus interfaces.EventBus) Option {
	return func(h *Host) error {
		h.eventbus = bus
		return nil
	}
}

// WithIdentifyOptions passes through options to the embedded identify.Service.
func WithIdentifyOptions(opts ...identify.Option) Option {
	return func(h *Host) error {
		h.identifyOpts = append(h.identifyOpts, opts...)
		return nil
	}
}

// WithListenAddrs starts listening on each addr once the swarm is wired.
func WithListenAddrs(addrs ...multiaddr.Multiaddr) Option {
	return func(h *Host) error {
		h.pendingListen = append(h.pendingListen, addrs...)
		return nil
	}
}
