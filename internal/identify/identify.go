// Package identify implements the identify and identify-push protocols:
// each side learns the other's peer-id-proved public key, supported
// protocols, reachable addresses, and observed endpoint.
package identify

import (
	"bufio"
	"context"
	"time"

	"github.com/meshlayer/go-meshlayer/internal/metrics"
	"github.com/meshlayer/go-meshlayer/internal/multistream"
	"github.com/meshlayer/go-meshlayer/internal/peerstore"
	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("identify")

// ProtocolID is the request/response identify protocol.
const ProtocolID types.ProtocolID = "/ipfs/id/1.0.0"

// ProtocolIDPush is the one-way push protocol.
const ProtocolIDPush types.ProtocolID = "/ipfs/id/push/1.0.0"

// defaultStreamReadTimeout is spec §4.4/§5's StreamReadTimeout.
const defaultStreamReadTimeout = 60 * time.Second

// defaultMaxPushConcurrency bounds concurrent outbound pushes.
const defaultMaxPushConcurrency = 32

// Option configures a Service.
type Option func(*Service)

// WithStreamReadTimeout overrides the default 60s read bound, an
// explicit per-Service field rather than a package-level mutable
// global so multiple hosts in one process never interfere.
func WithStreamReadTimeout(d time.Duration) Option {
	return func(s *Service) { s.streamReadTimeout = d }
}

// WithMaxPushConcurrency overrides the default push fan-out bound.
func WithMaxPushConcurrency(n int) Option {
	return func(s *Service) { s.maxPushConcurrency = n }
}

// WithAgentVersion sets the AgentVersion advertised in snapshots.
func WithAgentVersion(v string) Option {
	return func(s *Service) { s.agentVersion = v }
}

// WithProtocolVersion sets the ProtocolVersion advertised in snapshots.
func WithProtocolVersion(v string) Option {
	return func(s *Service) { s.protocolVersion = v }
}

// WithMetrics installs a prometheus recorder for identify/push outcomes.
func WithMetrics(m *metrics.Identify) Option {
	return func(s *Service) { s.metrics = m }
}

// Service runs the identify/identify-push protocols for one host.
type Service struct {
	localPeer types.PeerID
	peerstore interfaces.Peerstore
	eventbus  interfaces.EventBus
	network   interfaces.Network

	streamReadTimeout  time.Duration
	maxPushConcurrency int
	agentVersion       string
	protocolVersion    string

	snapshot *SnapshotTracker
	observed *ObservedAddrManager
	conns    *connections
	metrics  *metrics.Identify
}

// NewService constructs a Service bound to the given host facilities.
func NewService(localPeer types.PeerID, ps interfaces.Peerstore, bus interfaces.EventBus, net interfaces.Network, opts ...Option) *Service {
	s := &Service{
		localPeer:          localPeer,
		peerstore:          ps,
		eventbus:           bus,
		network:            net,
		streamReadTimeout:  defaultStreamReadTimeout,
		maxPushConcurrency: defaultMaxPushConcurrency,
		protocolVersion:    "meshlayer/1.0.0",
		agentVersion:       "go-meshlayer/0.1.0",
		snapshot:           NewSnapshotTracker(),
		observed:           NewObservedAddrManager(),
		conns:              newConnections(),
	}
	for _, o := range opts {
		o(s)
	}
	s.snapshot.OnChange(func(snap *Snapshot) { s.pushToAll(snap) })
	return s
}

// UpdateSnapshot recomputes the host-wide snapshot from current
// listen addresses and registered protocols, triggering a push to
// every IdentifyPushSupported connection if the content changed.
func (s *Service) UpdateSnapshot(listenAddrs []multiaddr.Multiaddr, protos []types.ProtocolID) {
	var pub []byte
	if priv, err := s.peerstore.LocalIdentity(s.localPeer); err == nil && priv != nil {
		if marshalled, err := crypto.MarshalPublicKey(priv.GetPublic()); err == nil {
			pub = marshalled
		}
	}
	s.snapshot.Update(s.protocolVersion, s.agentVersion, pub, listenAddrs, protos)
}

// Handler serves the responder side of the request/response protocol:
// it writes the current snapshot (chunked per spec §4.4) and closes.
func (s *Service) Handler(st interfaces.Stream) {
	defer st.Close()
	snap := s.snapshot.Current()
	msg := snap.toMessage(st.Conn().RemoteMultiaddr(), s.signedRecordBytes(snap))
	if err := writeChunked(st, msg); err != nil {
		logger.Warnw("failed writing identify response", "peer", st.Conn().RemotePeer().ShortString(), "err", err)
	}
}

// PushHandler serves the one-way push protocol: read one chunked
// message and consume it as an unsolicited snapshot update.
func (s *Service) PushHandler(st interfaces.Stream) {
	defer st.Close()
	conn := st.Conn()
	err := withReadTimeout(st, s.streamReadTimeout, func() error {
		msg, err := readChunked(bufio.NewReader(st))
		if err != nil {
			return err
		}
		consumeMessage(s.peerstore, s.eventbus, s.observed, conn, msg, true, true)
		return nil
	})
	if err != nil {
		logger.Warnw("identify push failed", "peer", conn.RemotePeer().ShortString(), "err", err)
	}
}

// Identify runs (or attaches to an in-flight run of) the initiator
// side of the request/response protocol over conn: open a stream,
// read the chunked response, consume it, and record the outcome in
// the per-connection state machine.
func (s *Service) Identify(ctx context.Context, conn interfaces.Connection) error {
	return s.conns.identifyWait(ctx, conn, func() error {
		st, err := conn.NewStream(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if _, err := multistream.SelectOne(st, []types.ProtocolID{ProtocolID}, NegotiationTimeoutMargin); err != nil {
			return err
		}
		st.SetProtocol(ProtocolID)

		var result *Message
		err = withReadTimeout(st, s.streamReadTimeout, func() error {
			m, err := readChunked(bufio.NewReader(st))
			if err != nil {
				return err
			}
			result = m
			return nil
		})
		if err != nil {
			s.metrics.AttemptFailed()
			s.publishFailed(conn, err)
			return err
		}
		consumeMessage(s.peerstore, s.eventbus, s.observed, conn, result, false, true)
		s.metrics.AttemptSucceeded()
		s.publishCompleted(conn, result)
		return nil
	})
}

// State reports the identify lifecycle state of conn.
func (s *Service) State(conn interfaces.Connection) State {
	return s.conns.stateOf(conn.ID())
}

// Connected implements interfaces.Notifiee: every new connection
// triggers a background identify attempt.
func (s *Service) Connected(_ interfaces.Network, conn interfaces.Connection) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.streamReadTimeout+NegotiationTimeoutMargin)
		defer cancel()
		_ = s.Identify(ctx, conn)
	}()
}

// Disconnected implements interfaces.Notifiee: downgrades the
// disconnected peer's ConnectedAddrTTL entries per spec §4.4's
// disconnect semantics, when this was the last connection to that peer.
func (s *Service) Disconnected(net interfaces.Network, conn interfaces.Connection) {
	remote := conn.RemotePeer()
	if remote.IsEmpty() {
		return
	}
	if len(net.ConnsToPeer(remote)) > 0 {
		return
	}
	s.peerstore.UpdateAddrs(remote, peerstore.ConnectedAddrTTL, peerstore.RecentlyConnectedAddrTTL)
	s.conns.remove(conn.ID())
}

func (s *Service) Listen(interfaces.Network, multiaddr.Multiaddr)      {}
func (s *Service) ListenClose(interfaces.Network, multiaddr.Multiaddr) {}

func (s *Service) publishFailed(conn interfaces.Connection, err error) {
	if s.eventbus == nil {
		return
	}
	em, emErr := s.eventbus.Emitter(new(types.EvtPeerIdentificationFailed))
	if emErr != nil {
		return
	}
	defer em.Close()
	_ = em.Emit(types.EvtPeerIdentificationFailed{Peer: conn.RemotePeer(), Conn: conn.ID(), Reason: err})
}

func (s *Service) publishCompleted(conn interfaces.Connection, msg *Message) {
	if s.eventbus == nil {
		return
	}
	em, err := s.eventbus.Emitter(new(interfaces.EvtPeerIdentificationCompleted))
	if err != nil {
		return
	}
	defer em.Close()
	var addrs []multiaddr.Multiaddr
	for _, raw := range msg.ListenAddrs {
		if a, err := multiaddr.NewMultiaddrBytes(raw); err == nil {
			addrs = append(addrs, a)
		}
	}
	_ = em.Emit(interfaces.EvtPeerIdentificationCompleted{
		Peer:        conn.RemotePeer(),
		Conn:        conn.ID(),
		ListenAddrs: addrs,
		Protocols:   msg.protocolIDs(),
	})
}

// signedRecordBytes builds a certified PeerRecord envelope for snap's
// listen addresses when a local private key is available, else nil.
func (s *Service) signedRecordBytes(snap *Snapshot) []byte {
	priv, err := s.peerstore.LocalIdentity(s.localPeer)
	if err != nil || priv == nil {
		return nil
	}
	addrs := make([][]byte, len(snap.ListenAddrs))
	for i, a := range snap.ListenAddrs {
		addrs[i] = a.Bytes()
	}
	rec := &crypto.PeerRecord{PeerID: s.localPeer, Seq: snap.Sequence, Addrs: addrs}
	env, err := crypto.Seal(priv, crypto.PeerRecordPayloadType, rec.Marshal())
	if err != nil {
		return nil
	}
	b, err := crypto.MarshalEnvelope(env)
	if err != nil {
		return nil
	}
	return b
}

// NegotiationTimeoutMargin pads the per-identify-attempt context
// beyond streamReadTimeout to leave room for stream negotiation.
const NegotiationTimeoutMargin = 10 * time.Second
