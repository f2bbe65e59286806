// Package interfaces collects the contracts the core subsystems (swarm,
// muxer, identify, peerstore, host) depend on but do not themselves
// implement: transports, connection gating, resource accounting, and the
// event bus. Concrete transports and gater policy are out of scope for
// this module; only the capability surface they must expose is defined
// here.
package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// ---------------------------------------------------------------------------
// Events carrying a multiaddr (kept out of pkg/types to avoid an import
// cycle: pkg/multiaddr already imports pkg/types for PeerID).
// ---------------------------------------------------------------------------

// EvtLocalAddressesUpdated fires when the host's own listen address set
// changes (new listener, listener closed, NAT-discovered address, etc).
type EvtLocalAddressesUpdated struct {
	Addrs []multiaddr.Multiaddr
}

// EvtPeerIdentificationCompleted fires once identify succeeds on a
// connection.
type EvtPeerIdentificationCompleted struct {
	Peer        types.PeerID
	Conn        types.ConnID
	ListenAddrs []multiaddr.Multiaddr
	Protocols   []types.ProtocolID
}

// ---------------------------------------------------------------------------
// Streams and connections
// ---------------------------------------------------------------------------

// Stream is a half-closable, resettable, bidirectional byte channel
// tagged with the protocol negotiated for it.
type Stream interface {
	io.Reader
	io.Writer
	Protocol() types.ProtocolID
	SetProtocol(types.ProtocolID)
	Conn() Connection
	CloseWrite() error
	CloseRead() error
	Reset() error
	Close() error
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Connection is one transport-level link to a remote peer, carrying zero
// or more logical Streams.
type Connection interface {
	ID() types.ConnID
	LocalPeer() types.PeerID
	RemotePeer() types.PeerID
	LocalMultiaddr() multiaddr.Multiaddr
	RemoteMultiaddr() multiaddr.Multiaddr
	Direction() types.Direction
	OpenedAt() time.Time
	IsTransient() bool
	Stat() ConnStats
	NewStream(ctx context.Context) (Stream, error)
	AcceptStream() (Stream, error)
	Streams() []Stream
	Close() error
	IsClosed() bool
}

// ConnStats is a read-only snapshot of a connection's bookkeeping.
type ConnStats struct {
	Direction   types.Direction
	Opened      time.Time
	NumStreams  int
	Transient   bool
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// RawConn is the minimal capability the swarm needs from a dialed or
// accepted transport socket before it is handed to a Muxer: an ordered,
// backpressured byte pipe plus addressing.
type RawConn interface {
	io.ReadWriteCloser
	LocalAddr() multiaddr.Multiaddr
	RemoteAddr() multiaddr.Multiaddr
	SetDeadline(t time.Time) error
}

// Transport dials and listens for a single network protocol (e.g. tcp,
// quic-v1). Concrete socket implementations are out of scope; this
// module only invokes the capability surface.
type Transport interface {
	Protocol() string
	CanDial(addr multiaddr.Multiaddr) bool
	Dial(ctx context.Context, addr multiaddr.Multiaddr) (RawConn, error)
	Listen(addr multiaddr.Multiaddr) (Listener, error)
}

// Listener accepts inbound RawConns for one Transport.
type Listener interface {
	Accept() (RawConn, error)
	Multiaddr() multiaddr.Multiaddr
	Close() error
}

// Resolver lets a Transport rewrite one address into zero or more
// concrete addresses (e.g. DNS resolution) before dialing.
type Resolver interface {
	Resolve(ctx context.Context, addr multiaddr.Multiaddr) ([]multiaddr.Multiaddr, error)
}

// Upgrader wraps a raw transport connection with security (handshake +
// peer authentication) and multiplexing, producing a Connection.
type Upgrader interface {
	UpgradeOutbound(ctx context.Context, raw RawConn, remote types.PeerID) (MuxSession, types.PeerID, error)
	UpgradeInbound(ctx context.Context, raw RawConn) (MuxSession, types.PeerID, error)
}

// ---------------------------------------------------------------------------
// Stream multiplexer
// ---------------------------------------------------------------------------

// MuxSession owns one ordered transport byte pipe and multiplexes many
// logical MuxStreams over it (see internal/muxer/yamux for the concrete
// yamux-backed realization).
type MuxSession interface {
	OpenStream(ctx context.Context) (MuxStream, error)
	AcceptStream() (MuxStream, error)
	Ping(ctx context.Context) (time.Duration, error)
	IsClosed() bool
	NumStreams() int
	Close() error
	CloseWithError(code GoAwayCode) error
}

// MuxStream is one flow-controlled, half-closable logical stream over a
// MuxSession.
type MuxStream interface {
	io.Reader
	io.Writer
	ID() uint32
	Close() error
	CloseWrite() error
	CloseRead() error
	Reset() error
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// GoAwayCode mirrors the yamux GO_AWAY reason codes.
type GoAwayCode uint32

const (
	GoAwayNormal GoAwayCode = iota
	GoAwayProtocolError
	GoAwayInternalError
)

// MuxerFactory creates a MuxSession over a transport byte pipe.
type MuxerFactory interface {
	NewSession(conn io.ReadWriteCloser, isServer bool) (MuxSession, error)
}

// ---------------------------------------------------------------------------
// Event bus
// ---------------------------------------------------------------------------

// Subscription yields events of one registered type.
type Subscription interface {
	Out() <-chan interface{}
	Close() error
}

// Emitter publishes events of one registered type.
type Emitter interface {
	Emit(evt interface{}) error
	Close() error
}

// SubscriptionOpt configures a Subscribe call (e.g. buffer size).
type SubscriptionOpt func(*SubscriptionSettings)

// SubscriptionSettings is the mutable state SubscriptionOpt functions act on.
type SubscriptionSettings struct {
	Buffer int
}

// EmitterOpt configures an Emitter call (e.g. stateful replay-last).
type EmitterOpt func(*EmitterSettings)

// EmitterSettings is the mutable state EmitterOpt functions act on.
type EmitterSettings struct {
	MakeStateful bool
}

// EventBus is a typed pub/sub bus keyed by the pointed-to event struct
// type, e.g. Subscribe(new(types.EvtLocalAddressesUpdated)).
type EventBus interface {
	Subscribe(eventType interface{}, opts ...SubscriptionOpt) (Subscription, error)
	Emitter(eventType interface{}, opts ...EmitterOpt) (Emitter, error)
}

// ---------------------------------------------------------------------------
// Resource manager
// ---------------------------------------------------------------------------

// ResourceScope is the common reserve/release/done lifecycle shared by
// every scope kind (connection, stream, peer, service, protocol, system).
type ResourceScope interface {
	ReserveMemory(size int, prio uint8) error
	ReleaseMemory(size int)
	BeginSpan() (ResourceScopeSpan, error)
	Done()
}

// ResourceScopeSpan is a short-lived nested scope for one operation; its
// memory reservations are released when Done is called regardless of
// whether the operation succeeded.
type ResourceScopeSpan interface {
	ResourceScope
}

// ConnManagementScope is the scope held by a Connection for its lifetime.
type ConnManagementScope interface {
	ResourceScope
	SetPeer(p types.PeerID) error
}

// StreamManagementScope is the scope held by a Stream for its lifetime.
type StreamManagementScope interface {
	ResourceScope
	SetProtocol(proto types.ProtocolID) error
	SetService(service string) error
}

// ResourceManager is the accounting authority the swarm consults before
// accepting a connection or opening a stream.
type ResourceManager interface {
	OpenConnection(dir types.Direction, usefd bool, addr multiaddr.Multiaddr) (ConnManagementScope, error)
	OpenStream(peer types.PeerID, dir types.Direction) (StreamManagementScope, error)
	Close() error
}

// ---------------------------------------------------------------------------
// Connection gater
// ---------------------------------------------------------------------------

// ConnectionGater lets policy veto dials/accepts at defined checkpoints.
// Concrete blocklist rules are out of scope; only the interface is
// specified here.
type ConnectionGater interface {
	InterceptPeerDial(p types.PeerID) bool
	InterceptAddrDial(p types.PeerID, addr multiaddr.Multiaddr) bool
	InterceptAccept(addr multiaddr.Multiaddr) bool
	InterceptSecured(dir types.Direction, p types.PeerID, addr multiaddr.Multiaddr) bool
}

// ---------------------------------------------------------------------------
// Peerstore
// ---------------------------------------------------------------------------

// AddressSource tags how an address was learned, for bulk eviction.
type AddressSource int

const (
	SourceUnknown AddressSource = iota
	SourceIdentify
	SourceDiscovery
	SourceManual
)

// AddressBook is the authoritative per-peer address index (see
// internal/peerstore/addrbook).
type AddressBook interface {
	AddAddr(p types.PeerID, addr multiaddr.Multiaddr, ttl time.Duration)
	AddAddrs(p types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration)
	SetAddr(p types.PeerID, addr multiaddr.Multiaddr, ttl time.Duration)
	SetAddrs(p types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration)
	UpdateAddrs(p types.PeerID, oldTTL, newTTL time.Duration)
	Addrs(p types.PeerID) []multiaddr.Multiaddr
	ClearAddrs(p types.PeerID)
	PeersWithAddrs() []types.PeerID
	AddrStream(ctx context.Context, p types.PeerID) <-chan multiaddr.Multiaddr
	ConsumePeerRecord(env *crypto.Envelope, ttl time.Duration) (bool, error)
	GetPeerRecord(p types.PeerID) *crypto.Envelope
	Close() error
}

// KeyBook stores per-peer public/private identities.
type KeyBook interface {
	AddRemoteIdentity(p types.PeerID, pub crypto.PublicKey) error
	RemoteIdentity(p types.PeerID) (crypto.PublicKey, error)
	AddLocalIdentity(p types.PeerID, priv crypto.PrivateKey) error
	LocalIdentity(p types.PeerID) (crypto.PrivateKey, error)
	RotateKeychainPass(newPassword string) error
}

// ProtocolBook stores per-peer supported protocols.
type ProtocolBook interface {
	GetProtocols(p types.PeerID) []types.ProtocolID
	AddProtocols(p types.PeerID, protos ...types.ProtocolID)
	SetProtocols(p types.PeerID, protos ...types.ProtocolID)
	RemoveProtocols(p types.PeerID, protos ...types.ProtocolID)
	SupportsProtocols(p types.PeerID, protos []types.ProtocolID) []types.ProtocolID
	FirstSupportedProtocol(p types.PeerID, protos []types.ProtocolID) types.ProtocolID
}

// Metrics stores rolling per-peer measurements (currently latency EWMA).
type Metrics interface {
	RecordLatency(p types.PeerID, rtt time.Duration)
	LatencyEWMA(p types.PeerID) time.Duration
}

// Metadata stores small typed per-peer key/value pairs.
type Metadata interface {
	Get(p types.PeerID, key string) (interface{}, error)
	Put(p types.PeerID, key string, value interface{}) error
}

// Peerstore composes the sub-stores into the process-local index of
// everything known about each peer.
type Peerstore interface {
	AddressBook
	KeyBook
	ProtocolBook
	Metrics
	Metadata
	Peers() []types.PeerID
	RemovePeer(p types.PeerID)
}

// ---------------------------------------------------------------------------
// Network / Swarm
// ---------------------------------------------------------------------------

// Network is the swarm's external contract: dial, open streams, accept,
// and report lifecycle notifications.
type Network interface {
	DialPeer(ctx context.Context, p types.PeerID) (Connection, error)
	NewStream(ctx context.Context, p types.PeerID) (Stream, error)
	ConnsToPeer(p types.PeerID) []Connection
	Connectedness(p types.PeerID) types.Direction
	ClosePeer(p types.PeerID) error
	Close() error
	Notify(n Notifiee)
	StopNotify(n Notifiee)
}

// Notifiee receives swarm lifecycle callbacks.
type Notifiee interface {
	Listen(Network, multiaddr.Multiaddr)
	ListenClose(Network, multiaddr.Multiaddr)
	Connected(Network, Connection)
	Disconnected(Network, Connection)
}

// ---------------------------------------------------------------------------
// Host
// ---------------------------------------------------------------------------

// StreamHandler processes an inbound stream after protocol negotiation.
type StreamHandler func(Stream)

// Host is the user-facing facade binding Network, Peerstore, EventBus,
// and the multistream muxer.
type Host interface {
	ID() types.PeerID
	Peerstore() Peerstore
	Addrs() []multiaddr.Multiaddr
	EventBus() EventBus
	Network() Network
	Connect(ctx context.Context, p types.PeerID, addrs []multiaddr.Multiaddr) error
	NewStream(ctx context.Context, p types.PeerID, protos ...types.ProtocolID) (Stream, error)
	SetStreamHandler(proto types.ProtocolID, h StreamHandler)
	SetStreamHandlerMatch(proto types.ProtocolID, match func(types.ProtocolID) bool, h StreamHandler)
	RemoveStreamHandler(proto types.ProtocolID)
	Close() error
}
