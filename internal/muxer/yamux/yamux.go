// Package yamux wraps github.com/hashicorp/yamux to provide the
// MuxSession/MuxStream surface spec'd for the stream multiplexer: its
// wire format and stream state machine already implement the
// documented framing (12-byte header, DATA/WINDOW_UPDATE/PING/GO_AWAY,
// odd/even stream-id parity, stream windows, keep-alive).
package yamux

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/hashicorp/yamux"
	"golang.org/x/sync/singleflight"

	"github.com/meshlayer/go-meshlayer/internal/metrics"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/log"
)

var logger = log.Logger("muxer/yamux")

const (
	initialStreamWindow = 256 * 1024
	maxStreamWindow     = 16 * 1024 * 1024
	defaultKeepAlive    = 30 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Option configures session construction.
type Option func(*yamux.Config)

// WithKeepAlive enables/disables the keep-alive timer and sets its
// interval.
func WithKeepAlive(enabled bool, interval time.Duration) Option {
	return func(c *yamux.Config) {
		c.EnableKeepAlive = enabled
		if interval > 0 {
			c.KeepAliveInterval = interval
		}
	}
}

// WithMaxIncomingStreams caps concurrently open inbound streams;
// additional inbound SYNs are answered with RST by the library.
func WithMaxIncomingStreams(n uint32) Option {
	return func(c *yamux.Config) { c.MaxIncomingStreams = n }
}

// WithAcceptBacklog bounds the accept channel depth.
func WithAcceptBacklog(n int) Option {
	return func(c *yamux.Config) { c.AcceptBacklog = n }
}

func defaultConfig() *yamux.Config {
	c := yamux.DefaultConfig()
	c.EnableKeepAlive = true
	c.KeepAliveInterval = defaultKeepAlive
	c.ConnectionWriteTimeout = defaultWriteTimeout
	c.MaxStreamWindowSize = maxStreamWindow
	c.LogOutput = io.Discard
	return c
}

// Factory implements pkg/interfaces.MuxerFactory.
type Factory struct {
	opts    []Option
	metrics *metrics.Muxer
}

// NewFactory builds a Factory applying opts to every session it creates.
func NewFactory(opts ...Option) *Factory {
	return &Factory{opts: opts}
}

// WithMetrics installs a prometheus recorder shared by every session
// this factory creates.
func (f *Factory) WithMetrics(m *metrics.Muxer) *Factory {
	f.metrics = m
	return f
}

func (f *Factory) NewSession(conn io.ReadWriteCloser, isServer bool) (interfaces.MuxSession, error) {
	cfg := defaultConfig()
	for _, o := range f.opts {
		o(cfg)
	}
	rwc, ok := conn.(io.ReadWriteCloser)
	if !ok {
		return nil, errors.New("yamux: connection does not satisfy io.ReadWriteCloser")
	}
	var ys *yamux.Session
	var err error
	if isServer {
		ys, err = yamux.Server(rwc, cfg)
	} else {
		ys, err = yamux.Client(rwc, cfg)
	}
	if err != nil {
		return nil, err
	}
	return &Session{ys: ys, metrics: f.metrics}, nil
}

// Session adapts *yamux.Session to pkg/interfaces.MuxSession, adding
// single-flight ping de-duplication and an RTT EWMA the underlying
// library does not itself expose.
type Session struct {
	ys      *yamux.Session
	metrics *metrics.Muxer

	pingGroup singleflight.Group

	mu      sync.Mutex
	rttEWMA time.Duration
}

func (s *Session) OpenStream(ctx context.Context) (interfaces.MuxStream, error) {
	ys, err := s.ys.OpenStream()
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		if ctx.Err() != nil {
			_ = ys.Close()
		}
	}()
	return &Stream{ys: ys}, nil
}

func (s *Session) AcceptStream() (interfaces.MuxStream, error) {
	ys, err := s.ys.AcceptStream()
	if err != nil {
		return nil, err
	}
	return &Stream{ys: ys}, nil
}

// Ping issues a session ping, or — if one is already in flight — waits
// for and returns that ping's result (§4.2: "at most one in-flight
// ping per session; additional callers await the same result").
func (s *Session) Ping(ctx context.Context) (time.Duration, error) {
	v, err, _ := s.pingGroup.Do("ping", func() (interface{}, error) {
		return s.ys.Ping()
	})
	if err != nil {
		return 0, err
	}
	rtt := v.(time.Duration)

	s.mu.Lock()
	if s.rttEWMA == 0 {
		s.rttEWMA = rtt
	} else {
		s.rttEWMA = (s.rttEWMA + rtt) / 2
	}
	s.mu.Unlock()
	s.metrics.ObservePingRTT(rtt.Seconds())
	return rtt, nil
}

// RTT returns the current round-trip-time EWMA (half old, half new).
func (s *Session) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rttEWMA
}

func (s *Session) IsClosed() bool  { return s.ys.IsClosed() }
func (s *Session) NumStreams() int { return s.ys.NumStreams() }

func (s *Session) Close() error {
	err := s.ys.Close()
	s.metrics.SessionClosed("close")
	return err
}

func (s *Session) CloseWithError(code interfaces.GoAwayCode) error {
	logger.Debugw("session go-away", "code", code)
	s.metrics.SessionClosed("go_away")
	return s.ys.GoAway()
}

// Stream adapts *yamux.Stream to pkg/interfaces.MuxStream.
type Stream struct {
	ys *yamux.Stream
}

func (s *Stream) Read(p []byte) (int, error)  { return s.ys.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.ys.Write(p) }
func (s *Stream) ID() uint32                  { return s.ys.StreamID() }
func (s *Stream) Close() error                { return s.ys.Close() }

// CloseWrite half-closes the write side, signalling FIN to the peer.
func (s *Stream) CloseWrite() error { return s.ys.CloseWrite() }

// CloseRead is a no-op: yamux does not expose independent read-side
// half-close, only full close and reset.
func (s *Stream) CloseRead() error { return nil }

// Reset forcibly tears down the stream; the underlying library
// collapses RST into the same hard close used for session shutdown, so
// this is equivalent to Close for the application's purposes.
func (s *Stream) Reset() error { return s.ys.Close() }

func (s *Stream) SetDeadline(t time.Time) error      { return s.ys.SetDeadline(t) }
func (s *Stream) SetReadDeadline(t time.Time) error  { return s.ys.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.ys.SetWriteDeadline(t) }
