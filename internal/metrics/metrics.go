// Package metrics exposes prometheus instrumentation for the swarm,
// muxer, and identify subsystems as small injectable recorders rather
// than package-level globals, so a process embedding more than one
// host never double-registers a collector.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "meshlayer"

// Swarm records connection and stream lifecycle counters for one
// *swarm.Swarm. A nil *Swarm is valid and every method becomes a no-op,
// so wiring it is optional.
type Swarm struct {
	connsOpened   *prometheus.CounterVec
	connsClosed   *prometheus.CounterVec
	dialErrors    prometheus.Counter
	streamsOpened prometheus.Counter
	activeConns   *prometheus.GaugeVec
}

// NewSwarm builds and registers a Swarm recorder against reg.
func NewSwarm(reg prometheus.Registerer) *Swarm {
	s := &Swarm{
		connsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "conns_opened_total",
			Help: "Connections opened, labeled by direction.",
		}, []string{"direction"}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "conns_closed_total",
			Help: "Connections closed, labeled by direction.",
		}, []string{"direction"}),
		dialErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "dial_errors_total",
			Help: "Outbound dial attempts that exhausted every ranked address.",
		}),
		streamsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "streams_opened_total",
			Help: "Streams opened over any connection, inbound or outbound.",
		}),
		activeConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "swarm", Name: "active_conns",
			Help: "Currently open connections, labeled by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(s.connsOpened, s.connsClosed, s.dialErrors, s.streamsOpened, s.activeConns)
	return s
}

func (s *Swarm) ConnOpened(direction string) {
	if s == nil {
		return
	}
	s.connsOpened.WithLabelValues(direction).Inc()
	s.activeConns.WithLabelValues(direction).Inc()
}

func (s *Swarm) ConnClosed(direction string) {
	if s == nil {
		return
	}
	s.connsClosed.WithLabelValues(direction).Inc()
	s.activeConns.WithLabelValues(direction).Dec()
}

func (s *Swarm) DialError() {
	if s == nil {
		return
	}
	s.dialErrors.Inc()
}

func (s *Swarm) StreamOpened() {
	if s == nil {
		return
	}
	s.streamsOpened.Inc()
}

// Muxer records per-session multiplexer behavior: ping RTTs and
// session teardown reasons. A nil *Muxer is a valid no-op.
type Muxer struct {
	pingRTT      prometheus.Histogram
	sessionsDone *prometheus.CounterVec
}

// NewMuxer builds and registers a Muxer recorder against reg.
func NewMuxer(reg prometheus.Registerer) *Muxer {
	m := &Muxer{
		pingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "muxer", Name: "ping_rtt_seconds",
			Help:    "Session ping round-trip time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}),
		sessionsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "muxer", Name: "sessions_closed_total",
			Help: "Multiplexer sessions torn down, labeled by cause (close, go_away).",
		}, []string{"cause"}),
	}
	reg.MustRegister(m.pingRTT, m.sessionsDone)
	return m
}

func (m *Muxer) ObservePingRTT(seconds float64) {
	if m == nil {
		return
	}
	m.pingRTT.Observe(seconds)
}

func (m *Muxer) SessionClosed(cause string) {
	if m == nil {
		return
	}
	m.sessionsDone.WithLabelValues(cause).Inc()
}

// Identify records identify/identify-push protocol outcomes. A nil
// *Identify is a valid no-op.
type Identify struct {
	attempts *prometheus.CounterVec
	pushes   *prometheus.CounterVec
}

// NewIdentify builds and registers an Identify recorder against reg.
func NewIdentify(reg prometheus.Registerer) *Identify {
	id := &Identify{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "identify", Name: "attempts_total",
			Help: "Identify attempts, labeled by outcome (success, failure).",
		}, []string{"outcome"}),
		pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "identify", Name: "pushes_total",
			Help: "Identify-push sends, labeled by outcome (success, failure).",
		}, []string{"outcome"}),
	}
	reg.MustRegister(id.attempts, id.pushes)
	return id
}

func (id *Identify) AttemptSucceeded() {
	if id == nil {
		return
	}
	id.attempts.WithLabelValues("success").Inc()
}

func (id *Identify) AttemptFailed() {
	if id == nil {
		return
	}
	id.attempts.WithLabelValues("failure").Inc()
}

func (id *Identify) PushSucceeded() {
	if id == nil {
		return
	}
	id.pushes.WithLabelValues("success").Inc()
}

func (id *Identify) PushFailed() {
	if id == nil {
		return
	}
	id.pushes.WithLabelValues("failure").Inc()
}
