package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestSwarmRecorderRegistersAndCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSwarm(reg)

	s.ConnOpened("inbound")
	s.ConnOpened("outbound")
	s.ConnClosed("inbound")
	s.DialError()
	s.StreamOpened()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}

func TestNilRecordersAreNoOps(t *testing.T) {
	var s *Swarm
	var m *Muxer
	var id *Identify

	require.NotPanics(t, func() {
		s.ConnOpened("inbound")
		s.ConnClosed("inbound")
		s.DialError()
		s.StreamOpened()
		m.ObservePingRTT(0.01)
		m.SessionClosed("close")
		id.AttemptSucceeded()
		id.AttemptFailed()
		id.PushSucceeded()
		id.PushFailed()
	})
}

func TestMuxerAndIdentifyRecordersRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMuxer(reg)
	id := NewIdentify(reg)

	m.ObservePingRTT(0.05)
	m.SessionClosed("go_away")
	id.AttemptSucceeded()
	id.PushFailed()

	mfs, err := reg.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
}
