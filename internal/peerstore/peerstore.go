// Package peerstore composes the address book, key book, protocol
// book, metrics, and metadata sub-stores into the process-local index
// of everything known about each peer, implementing
// pkg/interfaces.Peerstore.
package peerstore

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/meshlayer/go-meshlayer/internal/peerstore/addrbook"
	"github.com/meshlayer/go-meshlayer/internal/peerstore/keybook"
	"github.com/meshlayer/go-meshlayer/internal/peerstore/metadata"
	"github.com/meshlayer/go-meshlayer/internal/peerstore/metrics"
	"github.com/meshlayer/go-meshlayer/internal/peerstore/protobook"
	"github.com/meshlayer/go-meshlayer/internal/storage/kv"
	"github.com/meshlayer/go-meshlayer/internal/storage/memkv"
	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// Peerstore implements pkg/interfaces.Peerstore by composing five
// sub-stores; the address and key books persist to the backing
// kv.Store, while the protocol book, metadata, and metrics are in-memory.
type Peerstore struct {
	addrs *addrbook.AddressBook
	keys  *keybook.KeyBook
	proto *protobook.ProtocolBook
	meta  *metadata.Metadata
	stats *metrics.Metrics
}

// Option configures Peerstore construction.
type Option func(*config)

type config struct {
	store      kv.Store
	clock      clock.Clock
	encryption *keybook.EncryptionConfig
}

// WithStore sets the persistence engine for the address and key books.
func WithStore(store kv.Store) Option {
	return func(c *config) { c.store = store }
}

// WithClock injects a clock (use clock.NewMock() in tests) for all TTL
// computation.
func WithClock(clk clock.Clock) Option {
	return func(c *config) { c.clock = clk }
}

// WithKeyEncryption enables private-key-at-rest encryption.
func WithKeyEncryption(enc *keybook.EncryptionConfig) Option {
	return func(c *config) { c.encryption = enc }
}

// New constructs a Peerstore. Without WithStore, an in-memory engine
// backs the address and key books (suitable for tests and ephemeral hosts).
func New(opts ...Option) (*Peerstore, error) {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.store == nil {
		cfg.store = memStore()
	}
	kb, err := keybook.New(cfg.store, cfg.encryption)
	if err != nil {
		return nil, err
	}
	return &Peerstore{
		addrs: addrbook.New(cfg.store, cfg.clock),
		keys:  kb,
		proto: protobook.New(),
		meta:  metadata.New(),
		stats: metrics.New(),
	}, nil
}

func memStore() kv.Store {
	return memkv.New()
}

// AddressBook
func (p *Peerstore) AddAddr(peer types.PeerID, addr multiaddr.Multiaddr, ttl time.Duration) {
	p.addrs.AddAddr(peer, addr, ttl)
}
func (p *Peerstore) AddAddrs(peer types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration) {
	p.addrs.AddAddrs(peer, addrs, ttl)
}
func (p *Peerstore) SetAddr(peer types.PeerID, addr multiaddr.Multiaddr, ttl time.Duration) {
	p.addrs.SetAddr(peer, addr, ttl)
}
func (p *Peerstore) SetAddrs(peer types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration) {
	p.addrs.SetAddrs(peer, addrs, ttl)
}
func (p *Peerstore) UpdateAddrs(peer types.PeerID, oldTTL, newTTL time.Duration) {
	p.addrs.UpdateAddrs(peer, oldTTL, newTTL)
}
func (p *Peerstore) Addrs(peer types.PeerID) []multiaddr.Multiaddr { return p.addrs.Addrs(peer) }
func (p *Peerstore) ClearAddrs(peer types.PeerID)                 { p.addrs.ClearAddrs(peer) }
func (p *Peerstore) PeersWithAddrs() []types.PeerID                { return p.addrs.PeersWithAddrs() }
func (p *Peerstore) AddrStream(ctx context.Context, peer types.PeerID) <-chan multiaddr.Multiaddr {
	return p.addrs.AddrStream(ctx, peer)
}
func (p *Peerstore) ConsumePeerRecord(env *crypto.Envelope, ttl time.Duration) (bool, error) {
	return p.addrs.ConsumePeerRecord(env, ttl)
}
func (p *Peerstore) GetPeerRecord(peer types.PeerID) *crypto.Envelope { return p.addrs.GetPeerRecord(peer) }

// KeyBook
func (p *Peerstore) AddRemoteIdentity(peer types.PeerID, pub crypto.PublicKey) error {
	return p.keys.AddRemoteIdentity(peer, pub)
}
func (p *Peerstore) RemoteIdentity(peer types.PeerID) (crypto.PublicKey, error) {
	return p.keys.RemoteIdentity(peer)
}
func (p *Peerstore) AddLocalIdentity(peer types.PeerID, priv crypto.PrivateKey) error {
	return p.keys.AddLocalIdentity(peer, priv)
}
func (p *Peerstore) LocalIdentity(peer types.PeerID) (crypto.PrivateKey, error) {
	return p.keys.LocalIdentity(peer)
}
func (p *Peerstore) RotateKeychainPass(newPassword string) error {
	return p.keys.RotateKeychainPass(newPassword)
}

// ProtocolBook
func (p *Peerstore) GetProtocols(peer types.PeerID) []types.ProtocolID { return p.proto.GetProtocols(peer) }
func (p *Peerstore) AddProtocols(peer types.PeerID, protos ...types.ProtocolID) {
	p.proto.AddProtocols(peer, protos...)
}
func (p *Peerstore) SetProtocols(peer types.PeerID, protos ...types.ProtocolID) {
	p.proto.SetProtocols(peer, protos...)
}
func (p *Peerstore) RemoveProtocols(peer types.PeerID, protos ...types.ProtocolID) {
	p.proto.RemoveProtocols(peer, protos...)
}
func (p *Peerstore) SupportsProtocols(peer types.PeerID, protos []types.ProtocolID) []types.ProtocolID {
	return p.proto.SupportsProtocols(peer, protos)
}
func (p *Peerstore) FirstSupportedProtocol(peer types.PeerID, protos []types.ProtocolID) types.ProtocolID {
	return p.proto.FirstSupportedProtocol(peer, protos)
}

// Metrics
func (p *Peerstore) RecordLatency(peer types.PeerID, rtt time.Duration) {
	p.stats.RecordLatency(peer, rtt)
}
func (p *Peerstore) LatencyEWMA(peer types.PeerID) time.Duration { return p.stats.LatencyEWMA(peer) }

// Metadata
func (p *Peerstore) Get(peer types.PeerID, key string) (interface{}, error) {
	return p.meta.Get(peer, key)
}
func (p *Peerstore) Put(peer types.PeerID, key string, value interface{}) error {
	return p.meta.Put(peer, key, value)
}

// Peers returns the union of protocol-bearing, metadata-bearing, and
// address-bearing peers. Peers known only through the key book are not
// included.
func (p *Peerstore) Peers() []types.PeerID {
	seen := make(map[types.PeerID]struct{})
	for _, id := range p.addrs.PeersWithAddrs() {
		seen[id] = struct{}{}
	}
	for _, id := range p.proto.Peers() {
		seen[id] = struct{}{}
	}
	for _, id := range p.meta.Peers() {
		seen[id] = struct{}{}
	}
	out := make([]types.PeerID, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out
}

// Close releases the address book's resources (the backing kv.Store
// itself is owned and closed by whoever constructed it).
func (p *Peerstore) Close() error { return p.addrs.Close() }

// RemovePeer deletes metrics, metadata, and protocols for peer. It does
// not delete key-book entries, nor address-book entries, which expire
// naturally per their TTL.
func (p *Peerstore) RemovePeer(peer types.PeerID) {
	p.proto.RemovePeer(peer)
	p.meta.RemovePeer(peer)
	p.stats.RemovePeer(peer)
}
