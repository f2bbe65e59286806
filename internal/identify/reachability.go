package identify

import "github.com/meshlayer/go-meshlayer/pkg/multiaddr"

// filterByReachability implements the address-filter rule of spec
// §4.4: loopback remotes are trusted with every advertised address;
// private (RFC 1918 / ULA) remotes get everything except loopback
// addresses; public remotes only get public addresses. This prevents a
// public peer from learning a host's LAN topology.
func filterByReachability(remote multiaddr.Multiaddr, candidates []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	switch {
	case remote.IsLoopback():
		return candidates
	case remote.IsPrivate():
		out := make([]multiaddr.Multiaddr, 0, len(candidates))
		for _, a := range candidates {
			if !a.IsLoopback() {
				out = append(out, a)
			}
		}
		return out
	default:
		out := make([]multiaddr.Multiaddr, 0, len(candidates))
		for _, a := range candidates {
			if a.IsPublic() {
				out = append(out, a)
			}
		}
		return out
	}
}
