package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

const peerA types.PeerID = "peerA"

func TestLatencyEWMAUnknownPeerIsZero(t *testing.T) {
	m := New()
	require.Zero(t, m.LatencyEWMA(peerA))
}

func TestRecordLatencyFirstSampleIsExact(t *testing.T) {
	m := New()
	m.RecordLatency(peerA, 100*time.Millisecond)
	require.Equal(t, 100*time.Millisecond, m.LatencyEWMA(peerA))
}

func TestRecordLatencySmoothsTowardsNewSamples(t *testing.T) {
	m := New()
	m.RecordLatency(peerA, 100*time.Millisecond)
	m.RecordLatency(peerA, 200*time.Millisecond)

	got := m.LatencyEWMA(peerA)
	require.Greater(t, got, 100*time.Millisecond)
	require.Less(t, got, 200*time.Millisecond)
}

func TestRemovePeerDropsEstimate(t *testing.T) {
	m := New()
	m.RecordLatency(peerA, 100*time.Millisecond)
	m.RemovePeer(peerA)
	require.Zero(t, m.LatencyEWMA(peerA))
}
