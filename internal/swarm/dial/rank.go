// Package dial implements the swarm's dial coordination: at-most-one
// DialWorker per peer, address ranking with staggered delays, and
// fan-out of concurrent dial attempts.
package dial

import (
	"time"

	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
)

// Defaults for the address-ranking delay schedule.
const (
	PublicQUICDelay = 250 * time.Millisecond
	PublicTCPDelay  = 250 * time.Millisecond
)

// AddressDelay pairs a candidate address with its scheduled start delay.
type AddressDelay struct {
	Addr  multiaddr.Multiaddr
	Delay time.Duration
}

type transportClass int

const (
	classQUIC transportClass = iota
	classWebTransport
	classTCP
	classOther
)

func classify(addr multiaddr.Multiaddr) transportClass {
	switch addr.NetworkProtocol() {
	case "quic-v1":
		for _, c := range addr.Protocols() {
			if c.Code == multiaddr.P_WEBTRANSPORT {
				return classWebTransport
			}
		}
		return classQUIC
	case "webtransport":
		return classWebTransport
	case "tcp":
		return classTCP
	default:
		return classOther
	}
}

// DefaultRank assigns start delays per spec §4.3: exactly one address
// across the whole QUIC family (quic-v1, regardless of IP family, and
// webtransport) dials at delay 0; every other QUIC-family address is
// staggered behind it by a multiple of PublicQUICDelay, in the order
// encountered — the delay-0 slot is never per-IP-family. TCP is
// delayed behind any QUIC candidate by PublicQUICDelay+PublicTCPDelay,
// or dials at 0 if QUIC is absent.
func DefaultRank(addrs []multiaddr.Multiaddr) []AddressDelay {
	quicBestSeen := false
	var quicDupRank int
	hasQUIC := false

	out := make([]AddressDelay, 0, len(addrs))
	for _, a := range addrs {
		class := classify(a)

		if class == classQUIC || class == classWebTransport {
			hasQUIC = true
			if !quicBestSeen {
				quicBestSeen = true
				out = append(out, AddressDelay{Addr: a, Delay: 0})
				continue
			}
			quicDupRank++
			out = append(out, AddressDelay{Addr: a, Delay: time.Duration(quicDupRank) * PublicQUICDelay})
			continue
		}

		out = append(out, AddressDelay{Addr: a, Delay: 0})
	}

	// TCP addresses (delay 0 above) get delayed behind QUIC once we
	// know whether any QUIC candidate exists at all.
	if hasQUIC {
		for i := range out {
			if classify(out[i].Addr) == classTCP {
				out[i].Delay = PublicQUICDelay + PublicTCPDelay
			}
		}
	}
	return out
}

// NoDelayRank assigns delay 0 to every address (ranking disabled).
func NoDelayRank(addrs []multiaddr.Multiaddr) []AddressDelay {
	out := make([]AddressDelay, len(addrs))
	for i, a := range addrs {
		out[i] = AddressDelay{Addr: a, Delay: 0}
	}
	return out
}
