// Package protobook implements the peerstore's ProtocolBook contract:
// per-peer sets of supported protocol identifiers.
package protobook

import (
	"sync"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// ProtocolBook is an in-memory, mutex-guarded protocol set per peer.
// Protocol sets are small and re-derived from identify exchanges, so
// unlike the address book this is not persisted.
type ProtocolBook struct {
	mu    sync.RWMutex
	peers map[types.PeerID]types.ProtocolIDSet
}

// New constructs an empty ProtocolBook.
func New() *ProtocolBook {
	return &ProtocolBook{peers: make(map[types.PeerID]types.ProtocolIDSet)}
}

// GetProtocols returns p's currently known protocols.
func (b *ProtocolBook) GetProtocols(p types.PeerID) []types.ProtocolID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.peers[p]
	if !ok {
		return nil
	}
	return set.Slice()
}

// AddProtocols unions protos into p's set.
func (b *ProtocolBook) AddProtocols(p types.PeerID, protos ...types.ProtocolID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.peers[p]
	if !ok {
		set = make(types.ProtocolIDSet)
		b.peers[p] = set
	}
	for _, id := range protos {
		set[id] = struct{}{}
	}
}

// SetProtocols replaces p's set with exactly protos.
func (b *ProtocolBook) SetProtocols(p types.PeerID, protos ...types.ProtocolID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peers[p] = types.NewProtocolIDSet(protos)
}

// RemoveProtocols removes protos from p's set.
func (b *ProtocolBook) RemoveProtocols(p types.PeerID, protos ...types.ProtocolID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.peers[p]
	if !ok {
		return
	}
	for _, id := range protos {
		delete(set, id)
	}
}

// SupportsProtocols returns the intersection of p's set with protos.
func (b *ProtocolBook) SupportsProtocols(p types.PeerID, protos []types.ProtocolID) []types.ProtocolID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.peers[p]
	if !ok {
		return nil
	}
	var out []types.ProtocolID
	for _, id := range protos {
		if _, ok := set[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// FirstSupportedProtocol returns the first of protos, in order, that p
// supports, or "" if none match.
func (b *ProtocolBook) FirstSupportedProtocol(p types.PeerID, protos []types.ProtocolID) types.ProtocolID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set, ok := b.peers[p]
	if !ok {
		return ""
	}
	for _, id := range protos {
		if _, ok := set[id]; ok {
			return id
		}
	}
	return ""
}

// removePeer drops p's entry entirely, invoked by Peerstore.RemovePeer.
func (b *ProtocolBook) removePeer(p types.PeerID) {
	b.mu.Lock()
	delete(b.peers, p)
	b.mu.Unlock()
}

// RemovePeer is exported so the composing Peerstore can call it without
// a separate internal-only interface.
func (b *ProtocolBook) RemovePeer(p types.PeerID) { b.removePeer(p) }

// Peers lists peers with a non-empty (ever-populated) protocol entry.
func (b *ProtocolBook) Peers() []types.PeerID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.PeerID, 0, len(b.peers))
	for p := range b.peers {
		out = append(out, p)
	}
	return out
}
