// Package swarm implements the connection manager and dialer: it owns
// live Connections, coordinates concurrent dials to the same peer via
// internal/swarm/dial, ranks candidate addresses, accepts inbound
// connections, and negotiates protocols for inbound streams via
// internal/multistream.
package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jbenet/goprocess"
	"go.uber.org/multierr"

	"github.com/meshlayer/go-meshlayer/internal/metrics"
	"github.com/meshlayer/go-meshlayer/internal/multistream"
	"github.com/meshlayer/go-meshlayer/internal/swarm/dial"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("swarm")

// NegotiationTimeout bounds how long multistream-select may take on an
// inbound stream before it is reset.
const NegotiationTimeout = 60 * time.Second

type matchHandler struct {
	match   func(types.ProtocolID) bool
	handler interfaces.StreamHandler
}

// Swarm implements pkg/interfaces.Network.
type Swarm struct {
	localPeer   types.PeerID
	peerstore   interfaces.Peerstore
	eventbus    interfaces.EventBus
	resourceMgr interfaces.ResourceManager
	gater       interfaces.ConnectionGater
	muxFactory  interfaces.MuxerFactory
	rank        func([]multiaddr.Multiaddr) []dial.AddressDelay
	dialSync    *dial.Synchronizer

	mu         sync.RWMutex
	transports map[string]interfaces.Transport
	listeners  []interfaces.Listener
	conns      map[types.PeerID][]*conn
	connsByID  map[types.ConnID]*conn
	nextConnID uint64

	notifeesMu sync.Mutex
	notifees   map[interfaces.Notifiee]struct{}

	handlersMu    sync.RWMutex
	handlers      map[types.ProtocolID]interfaces.StreamHandler
	matchHandlers []matchHandler

	metrics *metrics.Swarm

	proc goprocess.Process
}

// Option configures Swarm construction.
type Option func(*Swarm)

// WithGater installs a connection gater.
func WithGater(g interfaces.ConnectionGater) Option {
	return func(s *Swarm) { s.gater = g }
}

// WithRanker overrides the default address-ranking function.
func WithRanker(rank func([]multiaddr.Multiaddr) []dial.AddressDelay) Option {
	return func(s *Swarm) { s.rank = rank }
}

// WithMetrics installs a prometheus recorder for connection and stream
// lifecycle counters.
func WithMetrics(m *metrics.Swarm) Option {
	return func(s *Swarm) { s.metrics = m }
}

// New constructs a Swarm for localPeer.
func New(localPeer types.PeerID, ps interfaces.Peerstore, bus interfaces.EventBus, rm interfaces.ResourceManager, muxf interfaces.MuxerFactory, opts ...Option) *Swarm {
	s := &Swarm{
		localPeer:   localPeer,
		peerstore:   ps,
		eventbus:    bus,
		resourceMgr: rm,
		muxFactory:  muxf,
		rank:        dial.DefaultRank,
		dialSync:    dial.NewSynchronizer(),
		transports:  make(map[string]interfaces.Transport),
		conns:       make(map[types.PeerID][]*conn),
		connsByID:   make(map[types.ConnID]*conn),
		notifees:    make(map[interfaces.Notifiee]struct{}),
		handlers:    make(map[types.ProtocolID]interfaces.StreamHandler),
		proc:        goprocess.WithParent(goprocess.Background()),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddTransport registers t under its protocol name ("tcp", "quic-v1", ...).
func (s *Swarm) AddTransport(t interfaces.Transport) {
	s.mu.Lock()
	s.transports[t.Protocol()] = t
	s.mu.Unlock()
}

// Listen starts a listener for addr and spawns its accept loop.
func (s *Swarm) Listen(addr multiaddr.Multiaddr) error {
	t := s.transportFor(addr)
	if t == nil {
		return fmt.Errorf("swarm: no transport registered for %s", addr.String())
	}
	l, err := t.Listen(addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	s.notifyListen(addr)
	go s.acceptLoop(l)
	return nil
}

// ListenAddrs returns the addresses this swarm is currently listening on.
func (s *Swarm) ListenAddrs() []multiaddr.Multiaddr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]multiaddr.Multiaddr, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.Multiaddr())
	}
	return out
}

func (s *Swarm) acceptLoop(l interfaces.Listener) {
	for {
		raw, err := l.Accept()
		if err != nil {
			return
		}
		go s.handleInbound(raw)
	}
}

func (s *Swarm) handleInbound(raw interfaces.RawConn) {
	if s.gater != nil && !s.gater.InterceptAccept(raw.RemoteAddr()) {
		_ = raw.Close()
		return
	}
	scope, err := s.resourceMgr.OpenConnection(types.DirInbound, true, raw.RemoteAddr())
	if err != nil {
		_ = raw.Close()
		return
	}
	session, err := s.muxFactory.NewSession(raw, true)
	if err != nil {
		scope.Done()
		_ = raw.Close()
		return
	}
	c := s.registerConn(raw, session, scope, types.EmptyPeerID, types.DirInbound)
	s.notifyConnected(c)
	go s.inboundStreamLoop(c)
}

// inboundStreamLoop accepts multiplexed sub-streams on c and negotiates
// a protocol for each, per §4.3's per-connection inbound-stream loop.
func (s *Swarm) inboundStreamLoop(c *conn) {
	for {
		st, err := c.AcceptStream()
		if err != nil {
			return
		}
		go s.negotiateAndDispatch(st)
	}
}

func (s *Swarm) negotiateAndDispatch(st interfaces.Stream) {
	_ = st.SetDeadline(time.Now().Add(NegotiationTimeout))
	proto, err := multistream.Negotiate(st, s.listedProtocols(), s.isSupported, NegotiationTimeout)
	_ = st.SetDeadline(time.Time{})
	if err != nil {
		logger.Warnw("multistream negotiation failed, resetting stream", "err", err)
		_ = st.Reset()
		return
	}
	st.SetProtocol(proto)
	handler := s.handlerFor(proto)
	if handler == nil {
		logger.Warnw("no handler registered for negotiated protocol", "protocol", proto)
		_ = st.Reset()
		return
	}
	handler(st)
}

func (s *Swarm) isSupported(p types.ProtocolID) bool {
	return s.handlerFor(p) != nil
}

func (s *Swarm) handlerFor(p types.ProtocolID) interfaces.StreamHandler {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	if h, ok := s.handlers[p]; ok {
		return h
	}
	for _, m := range s.matchHandlers {
		if m.match(p) {
			return m.handler
		}
	}
	return nil
}

func (s *Swarm) listedProtocols() []types.ProtocolID {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()
	out := make([]types.ProtocolID, 0, len(s.handlers))
	for p := range s.handlers {
		out = append(out, p)
	}
	return out
}

// SetStreamHandler registers h for proto.
func (s *Swarm) SetStreamHandler(proto types.ProtocolID, h interfaces.StreamHandler) {
	s.handlersMu.Lock()
	s.handlers[proto] = h
	s.handlersMu.Unlock()
}

// SetStreamHandlerMatch registers h for any protocol id accepted by match.
func (s *Swarm) SetStreamHandlerMatch(proto types.ProtocolID, match func(types.ProtocolID) bool, h interfaces.StreamHandler) {
	s.handlersMu.Lock()
	s.matchHandlers = append(s.matchHandlers, matchHandler{match: match, handler: h})
	s.handlersMu.Unlock()
}

// RemoveStreamHandler unregisters proto's exact-match handler.
func (s *Swarm) RemoveStreamHandler(proto types.ProtocolID) {
	s.handlersMu.Lock()
	delete(s.handlers, proto)
	s.handlersMu.Unlock()
}

func (s *Swarm) registerConn(raw interfaces.RawConn, session interfaces.MuxSession, scope interfaces.ConnManagementScope, remote types.PeerID, dir types.Direction) *conn {
	s.mu.Lock()
	s.nextConnID++
	id := types.ConnID(s.nextConnID)
	c := &conn{
		swarm:      s,
		id:         id,
		raw:        raw,
		session:    session,
		scope:      scope,
		localPeer:  s.localPeer,
		remotePeer: remote,
		dir:        dir,
		opened:     time.Now(),
		streams:    make(map[uint32]*stream),
	}
	s.connsByID[id] = c
	if !remote.IsEmpty() {
		s.conns[remote] = append(s.conns[remote], c)
	}
	s.mu.Unlock()
	s.metrics.ConnOpened(dir.String())
	return c
}

// bindConnPeer associates a previously peer-less inbound conn with its
// now-known remote peer id, called once the security handshake (or, in
// this module's scope, the caller) has authenticated it.
func (s *Swarm) bindConnPeer(c *conn, remote types.PeerID) {
	s.mu.Lock()
	c.remotePeer = remote
	s.conns[remote] = append(s.conns[remote], c)
	s.mu.Unlock()
	_ = c.scope.SetPeer(remote)
}

func (s *Swarm) removeConn(c *conn) {
	s.mu.Lock()
	delete(s.connsByID, c.id)
	lastForPeer := false
	if peers, ok := s.conns[c.remotePeer]; ok {
		for i, pc := range peers {
			if pc == c {
				peers = append(peers[:i], peers[i+1:]...)
				break
			}
		}
		if len(peers) == 0 {
			delete(s.conns, c.remotePeer)
			lastForPeer = true
		} else {
			s.conns[c.remotePeer] = peers
		}
	}
	s.mu.Unlock()
	s.metrics.ConnClosed(c.dir.String())
	s.notifyDisconnected(c)
	if lastForPeer && !c.remotePeer.IsEmpty() {
		s.emitConnectedness(c.remotePeer, false)
	}
}

// DialPeer dials peer if not already connected, or returns an existing
// connection, coordinating concurrent callers through the dial.Synchronizer.
func (s *Swarm) DialPeer(ctx context.Context, p types.PeerID) (interfaces.Connection, error) {
	if existing := s.bestConn(p); existing != nil {
		return existing, nil
	}

	addrs, err := s.addressesForDial(ctx, p)
	if err != nil {
		return nil, err
	}
	ranked := s.rank(addrs)

	raw, err := s.dialSync.Dial(ctx, p, ranked, s.dialOneAddr)
	if err != nil {
		s.metrics.DialError()
		return nil, err
	}

	scope, err := s.resourceMgr.OpenConnection(types.DirOutbound, true, raw.RemoteAddr())
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	session, err := s.muxFactory.NewSession(raw, false)
	if err != nil {
		scope.Done()
		_ = raw.Close()
		return nil, err
	}
	c := s.registerConn(raw, session, scope, p, types.DirOutbound)
	wasFirst := s.isFirstConn(p)
	s.notifyConnected(c)
	if wasFirst {
		s.emitConnectedness(p, true)
	}
	go s.inboundStreamLoop(c)
	return c, nil
}

func (s *Swarm) dialOneAddr(ctx context.Context, addr multiaddr.Multiaddr) (interfaces.RawConn, error) {
	t := s.transportFor(addr)
	if t == nil {
		return nil, fmt.Errorf("dial: no transport for %s", addr.String())
	}
	return t.Dial(ctx, addr)
}

func (s *Swarm) bestConn(p types.PeerID) *conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.conns[p]
	if len(conns) == 0 {
		return nil
	}
	return conns[0]
}

func (s *Swarm) isFirstConn(p types.PeerID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[p]) == 1
}

// NewStream opens a stream to an existing connection to p, dialing
// first if none exists. Protocol negotiation is the caller's
// responsibility (Host.NewStream runs multistream-select).
func (s *Swarm) NewStream(ctx context.Context, p types.PeerID) (interfaces.Stream, error) {
	c := s.bestConn(p)
	if c == nil {
		conn, err := s.DialPeer(ctx, p)
		if err != nil {
			return nil, err
		}
		c = conn.(*conn)
	}
	st, err := c.NewStream(ctx)
	if err == nil {
		s.metrics.StreamOpened()
	}
	return st, err
}

func (s *Swarm) ConnsToPeer(p types.PeerID) []interfaces.Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.conns[p]
	out := make([]interfaces.Connection, len(conns))
	for i, c := range conns {
		out[i] = c
	}
	return out
}

func (s *Swarm) Connectedness(p types.PeerID) types.Direction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conns := s.conns[p]
	if len(conns) == 0 {
		return types.DirUnknown
	}
	return conns[0].dir
}

// ClosePeer closes every connection to p.
func (s *Swarm) ClosePeer(p types.PeerID) error {
	s.mu.RLock()
	conns := append([]*conn{}, s.conns[p]...)
	s.mu.RUnlock()
	var errs error
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// Close shuts down every listener and connection.
func (s *Swarm) Close() error {
	s.mu.Lock()
	listeners := append([]interfaces.Listener{}, s.listeners...)
	conns := make([]*conn, 0, len(s.connsByID))
	for _, c := range s.connsByID {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	var errs error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	s.dialSync.Close()
	return multierr.Append(errs, s.proc.Close())
}

func (s *Swarm) Notify(n interfaces.Notifiee) {
	s.notifeesMu.Lock()
	s.notifees[n] = struct{}{}
	s.notifeesMu.Unlock()
}

func (s *Swarm) StopNotify(n interfaces.Notifiee) {
	s.notifeesMu.Lock()
	delete(s.notifees, n)
	s.notifeesMu.Unlock()
}

func (s *Swarm) notifyListen(addr multiaddr.Multiaddr) {
	for _, n := range s.snapshotNotifees() {
		n.Listen(s, addr)
	}
}

func (s *Swarm) notifyConnected(c *conn) {
	for _, n := range s.snapshotNotifees() {
		n.Connected(s, c)
	}
}

func (s *Swarm) notifyDisconnected(c *conn) {
	for _, n := range s.snapshotNotifees() {
		n.Disconnected(s, c)
	}
}

func (s *Swarm) snapshotNotifees() []interfaces.Notifiee {
	s.notifeesMu.Lock()
	defer s.notifeesMu.Unlock()
	out := make([]interfaces.Notifiee, 0, len(s.notifees))
	for n := range s.notifees {
		out = append(out, n)
	}
	return out
}

func (s *Swarm) emitConnectedness(p types.PeerID, connected bool) {
	if s.eventbus == nil {
		return
	}
	em, err := s.eventbus.Emitter(new(types.EvtPeerConnectednessChanged))
	if err != nil {
		return
	}
	defer em.Close()
	_ = em.Emit(types.EvtPeerConnectednessChanged{Peer: p, Connected: connected, Timestamp: time.Now()})
}
