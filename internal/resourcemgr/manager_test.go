package resourcemgr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestOpenConnectionRespectsMaxConns(t *testing.T) {
	m := NewManager(Limits{MaxConns: 1, MaxConnsInbound: 1, MaxStreams: 10, MaxMemory: 1 << 20})
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	scope, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	require.NotNil(t, scope)

	_, err = m.OpenConnection(types.DirOutbound, true, addr)
	require.ErrorIs(t, err, ErrResourceLimitExceeded)

	scope.Done()
	scope2, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	scope2.Done()
}

func TestOpenConnectionRespectsMaxConnsInboundIndependently(t *testing.T) {
	m := NewManager(Limits{MaxConns: 10, MaxConnsInbound: 1, MaxStreams: 10, MaxMemory: 1 << 20})
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	inbound, err := m.OpenConnection(types.DirInbound, true, addr)
	require.NoError(t, err)
	defer inbound.Done()

	_, err = m.OpenConnection(types.DirInbound, true, addr)
	require.ErrorIs(t, err, ErrResourceLimitExceeded)

	outbound, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	defer outbound.Done()
}

func TestConnScopeDoneIsIdempotent(t *testing.T) {
	m := NewManager(Limits{MaxConns: 1, MaxConnsInbound: 1, MaxStreams: 10, MaxMemory: 1 << 20})
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	scope, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)

	scope.Done()
	scope.Done()
	scope.Done()

	// a double-release must not have freed more than one slot: with
	// MaxConns=1, exactly one more connection should be admissible.
	s1, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	defer s1.Done()

	_, err = m.OpenConnection(types.DirOutbound, true, addr)
	require.ErrorIs(t, err, ErrResourceLimitExceeded)
}

func TestOpenStreamRespectsMaxStreams(t *testing.T) {
	m := NewManager(Limits{MaxConns: 10, MaxConnsInbound: 10, MaxStreams: 1, MaxMemory: 1 << 20})
	peer := types.PeerID("p")

	scope, err := m.OpenStream(peer, types.DirOutbound)
	require.NoError(t, err)

	_, err = m.OpenStream(peer, types.DirOutbound)
	require.ErrorIs(t, err, ErrResourceLimitExceeded)

	scope.Done()
	scope2, err := m.OpenStream(peer, types.DirOutbound)
	require.NoError(t, err)
	scope2.Done()
}

func TestStreamScopeDoneIsIdempotent(t *testing.T) {
	m := NewManager(Limits{MaxConns: 10, MaxConnsInbound: 10, MaxStreams: 1, MaxMemory: 1 << 20})
	peer := types.PeerID("p")

	scope, err := m.OpenStream(peer, types.DirOutbound)
	require.NoError(t, err)
	scope.Done()
	scope.Done()

	s1, err := m.OpenStream(peer, types.DirOutbound)
	require.NoError(t, err)
	defer s1.Done()

	_, err = m.OpenStream(peer, types.DirOutbound)
	require.ErrorIs(t, err, ErrResourceLimitExceeded)
}

func TestReserveMemoryRespectsMaxMemory(t *testing.T) {
	m := NewManager(Limits{MaxConns: 10, MaxConnsInbound: 10, MaxStreams: 10, MaxMemory: 100})
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	scope, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	defer scope.Done()

	require.NoError(t, scope.ReserveMemory(60, 0))
	require.ErrorIs(t, scope.ReserveMemory(60, 0), ErrResourceLimitExceeded)

	scope.ReleaseMemory(60)
	require.NoError(t, scope.ReserveMemory(60, 0))
}

func TestScopeDoneReleasesOutstandingMemory(t *testing.T) {
	m := NewManager(Limits{MaxConns: 10, MaxConnsInbound: 10, MaxStreams: 10, MaxMemory: 100})
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	scope, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	require.NoError(t, scope.ReserveMemory(100, 0))
	scope.Done()

	scope2, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	defer scope2.Done()
	require.NoError(t, scope2.ReserveMemory(100, 0))
}

func TestBeginSpanTracksMemoryIndependently(t *testing.T) {
	m := NewManager(Limits{MaxConns: 10, MaxConnsInbound: 10, MaxStreams: 10, MaxMemory: 100})
	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")

	scope, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.NoError(t, err)
	defer scope.Done()

	span, err := scope.BeginSpan()
	require.NoError(t, err)
	require.NoError(t, span.ReserveMemory(50, 0))
	require.NoError(t, scope.ReserveMemory(50, 0))
	require.ErrorIs(t, scope.ReserveMemory(1, 0), ErrResourceLimitExceeded)

	span.Done()
	require.NoError(t, scope.ReserveMemory(50, 0))
}

func TestManagerCloseRejectsNewScopes(t *testing.T) {
	m := NewManager(DefaultLimits())
	require.NoError(t, m.Close())

	addr := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")
	_, err := m.OpenConnection(types.DirOutbound, true, addr)
	require.Error(t, err)

	_, err = m.OpenStream(types.PeerID("p"), types.DirOutbound)
	require.Error(t, err)
}
