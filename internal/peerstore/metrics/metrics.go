// Package metrics implements the peerstore's Metrics contract: a
// rolling latency EWMA per peer.
package metrics

import (
	"sync"
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// smoothing is the EWMA weight given to each new sample (alpha); the
// remainder (1-alpha) is retained from the previous estimate.
const smoothing = 0.1

// Metrics is an in-memory, mutex-guarded per-peer latency tracker.
type Metrics struct {
	mu    sync.RWMutex
	ewma  map[types.PeerID]time.Duration
}

// New constructs an empty Metrics store.
func New() *Metrics {
	return &Metrics{ewma: make(map[types.PeerID]time.Duration)}
}

// RecordLatency folds one RTT sample into p's EWMA.
func (m *Metrics) RecordLatency(p types.PeerID, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.ewma[p]
	if !ok {
		m.ewma[p] = rtt
		return
	}
	m.ewma[p] = time.Duration(smoothing*float64(rtt) + (1-smoothing)*float64(prev))
}

// LatencyEWMA returns p's current latency estimate, or 0 if unknown.
func (m *Metrics) LatencyEWMA(p types.PeerID) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ewma[p]
}

// RemovePeer drops p's latency estimate.
func (m *Metrics) RemovePeer(p types.PeerID) {
	m.mu.Lock()
	delete(m.ewma, p)
	m.mu.Unlock()
}
