package swarm

import (
	"context"
	"fmt"

	"github.com/meshlayer/go-meshlayer/internal/peerstore"
	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// addressesForDial implements the resolution pipeline of §4.3: fetch
// stored addresses, resolve via transport Resolvers, dedupe, filter
// undialable candidates, persist survivors at TempAddrTTL.
func (s *Swarm) addressesForDial(ctx context.Context, p types.PeerID) ([]multiaddr.Multiaddr, error) {
	known := s.peerstore.Addrs(p)
	if len(known) == 0 {
		return nil, fmt.Errorf("dial: no addresses known for peer %s", p.ShortString())
	}

	var resolved []multiaddr.Multiaddr
	for _, a := range known {
		t := s.transportFor(a)
		if r, ok := t.(interfaces.Resolver); ok && t != nil {
			more, err := r.Resolve(ctx, a)
			if err == nil && len(more) > 0 {
				resolved = append(resolved, more...)
				continue
			}
		}
		resolved = append(resolved, a)
	}

	deduped := dedupe(resolved)
	survivors := s.filterKnownUndialables(p, deduped)
	if len(survivors) == 0 {
		return nil, fmt.Errorf("dial: no good addresses for peer %s", p.ShortString())
	}
	s.peerstore.AddAddrs(p, survivors, peerstore.TempAddrTTL)
	return survivors, nil
}

func dedupe(addrs []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	seen := make(map[string]struct{}, len(addrs))
	out := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		key := string(a.Bytes())
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, a)
	}
	return out
}

// filterKnownUndialables rejects addresses this swarm cannot or should
// not dial: no matching transport, IPv6 link-local, our own listen
// addresses, or gater-vetoed.
func (s *Swarm) filterKnownUndialables(p types.PeerID, addrs []multiaddr.Multiaddr) []multiaddr.Multiaddr {
	local := s.ListenAddrs()
	localSet := make(map[string]struct{}, len(local))
	for _, a := range local {
		localSet[string(a.Bytes())] = struct{}{}
	}

	out := make([]multiaddr.Multiaddr, 0, len(addrs))
	for _, a := range addrs {
		if s.transportFor(a) == nil {
			continue
		}
		if a.IsIP6LinkLocal() {
			continue
		}
		if _, ok := localSet[string(a.Bytes())]; ok {
			continue
		}
		if s.gater != nil && !s.gater.InterceptAddrDial(p, a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (s *Swarm) transportFor(addr multiaddr.Multiaddr) interfaces.Transport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := addr.NetworkProtocol()
	t, ok := s.transports[name]
	if !ok {
		return nil
	}
	if !t.CanDial(addr) {
		return nil
	}
	return t
}
