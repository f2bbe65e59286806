package dial

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
)

func mustAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	a, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestDefaultRankSingleQUICDialsImmediatelyTCPWaits(t *testing.T) {
	addrs := []multiaddr.Multiaddr{
		mustAddr(t, "/ip4/1.2.3.4/udp/4001/quic-v1"),
		mustAddr(t, "/ip4/1.2.3.4/tcp/4001"),
	}
	ranked := DefaultRank(addrs)
	require.Len(t, ranked, 2)
	require.Zero(t, ranked[0].Delay)
	require.Equal(t, PublicQUICDelay+PublicTCPDelay, ranked[1].Delay)
}

func TestDefaultRankStaggersDuplicateQUIC(t *testing.T) {
	addrs := []multiaddr.Multiaddr{
		mustAddr(t, "/ip4/1.2.3.4/udp/4001/quic-v1"),
		mustAddr(t, "/ip4/1.2.3.5/udp/4001/quic-v1"),
	}
	ranked := DefaultRank(addrs)
	require.Len(t, ranked, 2)
	require.Zero(t, ranked[0].Delay)
	require.Equal(t, PublicQUICDelay, ranked[1].Delay)
}

func TestDefaultRankDelaysTCPBehindQUIC(t *testing.T) {
	addrs := []multiaddr.Multiaddr{
		mustAddr(t, "/ip4/1.2.3.4/tcp/4001"),
		mustAddr(t, "/ip4/1.2.3.4/udp/4001/quic-v1"),
	}
	ranked := DefaultRank(addrs)
	require.Len(t, ranked, 2)

	var tcpDelay, quicDelay = -1, -1
	for _, r := range ranked {
		switch r.Addr.NetworkProtocol() {
		case "tcp":
			tcpDelay = int(r.Delay)
		case "quic-v1":
			quicDelay = int(r.Delay)
		}
	}
	require.Zero(t, quicDelay)
	require.Equal(t, int(PublicQUICDelay+PublicTCPDelay), tcpDelay)
}

func TestDefaultRankStaggersAcrossQUICFamiliesAndWebtransport(t *testing.T) {
	tcp := mustAddr(t, "/ip4/1.2.3.4/tcp/4001")
	quicV6 := mustAddr(t, "/ip6/::1/udp/1/quic-v1")
	quicV4 := mustAddr(t, "/ip4/1.2.3.4/udp/2/quic-v1")
	webtransport := mustAddr(t, "/ip4/1.2.3.4/udp/1/quic-v1/webtransport")

	ranked := DefaultRank([]multiaddr.Multiaddr{tcp, quicV6, quicV4, webtransport})
	require.Len(t, ranked, 4)

	delays := make(map[string]time.Duration, len(ranked))
	for _, r := range ranked {
		delays[r.Addr.String()] = r.Delay
	}

	require.Zero(t, delays[quicV6.String()])
	require.Equal(t, PublicQUICDelay, delays[quicV4.String()])
	require.Equal(t, 2*PublicQUICDelay, delays[webtransport.String()])
	require.Equal(t, PublicQUICDelay+PublicTCPDelay, delays[tcp.String()])
}

func TestDefaultRankTCPOnlyDialsImmediately(t *testing.T) {
	addrs := []multiaddr.Multiaddr{mustAddr(t, "/ip4/1.2.3.4/tcp/4001")}
	ranked := DefaultRank(addrs)
	require.Len(t, ranked, 1)
	require.Zero(t, ranked[0].Delay)
}

func TestNoDelayRankAlwaysZero(t *testing.T) {
	addrs := []multiaddr.Multiaddr{
		mustAddr(t, "/ip4/1.2.3.4/udp/4001/quic-v1"),
		mustAddr(t, "/ip4/1.2.3.5/udp/4001/quic-v1"),
		mustAddr(t, "/ip4/1.2.3.4/tcp/4001"),
	}
	ranked := NoDelayRank(addrs)
	for _, r := range ranked {
		require.Zero(t, r.Delay)
	}
}
