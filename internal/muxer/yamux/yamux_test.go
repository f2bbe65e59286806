package yamux

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/internal/metrics"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
)

func newSessionPair(t *testing.T, f *Factory) (interfaces.MuxSession, interfaces.MuxSession) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	client, err := f.NewSession(clientConn, false)
	require.NoError(t, err)
	server, err := f.NewSession(serverConn, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
	})
	return client, server
}

func TestOpenStreamAndAcceptStreamExchangeData(t *testing.T) {
	f := NewFactory()
	client, server := newSessionPair(t, f)

	accepted := make(chan interfaces.MuxStream, 1)
	go func() {
		st, err := server.AcceptStream()
		require.NoError(t, err)
		accepted <- st
	}()

	cst, err := client.OpenStream(context.Background())
	require.NoError(t, err)
	defer cst.Close()

	_, err = cst.Write([]byte("hello"))
	require.NoError(t, err)

	var sst interfaces.MuxStream
	select {
	case sst = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for accepted stream")
	}
	defer sst.Close()

	buf := make([]byte, 5)
	_, err = io.ReadFull(sst, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

func TestSessionPingReportsRTTAndUpdatesEWMA(t *testing.T) {
	f := NewFactory()
	client, server := newSessionPair(t, f)
	_ = server

	rtt, err := client.(*Session).Ping(context.Background())
	require.NoError(t, err)
	require.GreaterOrEqual(t, rtt, time.Duration(0))
	require.Equal(t, rtt, client.(*Session).RTT())
}

func TestConcurrentPingsShareOneInFlightResult(t *testing.T) {
	f := NewFactory()
	client, server := newSessionPair(t, f)
	_ = server

	const n = 5
	results := make(chan time.Duration, n)
	for i := 0; i < n; i++ {
		go func() {
			rtt, err := client.(*Session).Ping(context.Background())
			require.NoError(t, err)
			results <- rtt
		}()
	}
	for i := 0; i < n; i++ {
		<-results
	}
}

func TestSessionCloseRecordsMetricsWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := NewFactory().WithMetrics(metrics.NewMuxer(reg))
	client, server := newSessionPair(t, f)

	require.NotPanics(t, func() {
		require.NoError(t, client.Close())
		require.NoError(t, server.Close())
	})
}

func TestStreamCloseWriteAndReset(t *testing.T) {
	f := NewFactory()
	client, server := newSessionPair(t, f)

	accepted := make(chan interfaces.MuxStream, 1)
	go func() {
		st, err := server.AcceptStream()
		require.NoError(t, err)
		accepted <- st
	}()

	cst, err := client.OpenStream(context.Background())
	require.NoError(t, err)
	require.NoError(t, cst.(*Stream).CloseWrite())

	sst := <-accepted
	buf := make([]byte, 1)
	_, err = sst.Read(buf)
	require.ErrorIs(t, err, io.EOF)

	require.NoError(t, sst.(*Stream).Reset())
}
