package identify

import (
	"sync"

	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// activationThresh is the number of distinct confirming peers required
// before an observed address is reported as reliable. Reliable observed
// addresses are not added to the local snapshot.
const activationThresh = 4

type observation struct {
	addr       multiaddr.Multiaddr
	confirmers map[types.PeerID]struct{}
}

// ObservedAddrManager groups remote-reported observed addresses by the
// local listen address they were observed on, and requires
// activationThresh distinct corroborating peers before treating an
// observed address as reliable. This is a minimal implementation of
// spec §4.4 step 2; NAT classification and subnet heuristics are out
// of scope.
type ObservedAddrManager struct {
	mu sync.Mutex
	// groups maps the local address string to its observations, keyed
	// by the observed address's canonical bytes.
	groups map[string]map[string]*observation
}

// NewObservedAddrManager constructs an empty manager.
func NewObservedAddrManager() *ObservedAddrManager {
	return &ObservedAddrManager{groups: make(map[string]map[string]*observation)}
}

// Record notes that confirmer reported observed as our address while
// we were communicating on localAddr.
func (m *ObservedAddrManager) Record(localAddr, observed multiaddr.Multiaddr, confirmer types.PeerID) {
	if observed.IsZero() || localAddr.IsZero() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	group, ok := m.groups[string(localAddr.Bytes())]
	if !ok {
		group = make(map[string]*observation)
		m.groups[string(localAddr.Bytes())] = group
	}
	key := string(observed.Bytes())
	obs, ok := group[key]
	if !ok {
		obs = &observation{addr: observed, confirmers: make(map[types.PeerID]struct{})}
		group[key] = obs
	}
	obs.confirmers[confirmer] = struct{}{}
}

// Reliable returns the observed addresses for localAddr that have
// reached activationThresh distinct confirmers.
func (m *ObservedAddrManager) Reliable(localAddr multiaddr.Multiaddr) []multiaddr.Multiaddr {
	m.mu.Lock()
	defer m.mu.Unlock()

	group := m.groups[string(localAddr.Bytes())]
	var out []multiaddr.Multiaddr
	for _, obs := range group {
		if len(obs.confirmers) >= activationThresh {
			out = append(out, obs.addr)
		}
	}
	return out
}

// AllReliable returns the union of every reliable observed address
// across all known local addresses, deduplicated.
func (m *ObservedAddrManager) AllReliable() []multiaddr.Multiaddr {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	var out []multiaddr.Multiaddr
	for _, group := range m.groups {
		for _, obs := range group {
			if len(obs.confirmers) < activationThresh {
				continue
			}
			key := string(obs.addr.Bytes())
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, obs.addr)
		}
	}
	return out
}
