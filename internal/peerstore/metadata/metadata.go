// Package metadata implements the peerstore's Metadata contract: small
// typed per-peer key/value pairs (protocol/agent version strings, and
// whatever else callers choose to stash).
package metadata

import (
	"fmt"
	"sync"

	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// Metadata is an in-memory, mutex-guarded per-peer key/value store.
type Metadata struct {
	mu   sync.RWMutex
	data map[types.PeerID]map[string]interface{}
}

// New constructs an empty Metadata store.
func New() *Metadata {
	return &Metadata{data: make(map[types.PeerID]map[string]interface{})}
}

// Get returns the value stored for (p, key).
func (m *Metadata) Get(p types.PeerID, key string) (interface{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	peerData, ok := m.data[p]
	if !ok {
		return nil, fmt.Errorf("metadata: no data for peer %s", p.ShortString())
	}
	v, ok := peerData[key]
	if !ok {
		return nil, fmt.Errorf("metadata: key %q not found for peer %s", key, p.ShortString())
	}
	return v, nil
}

// Put stores value under (p, key).
func (m *Metadata) Put(p types.PeerID, key string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	peerData, ok := m.data[p]
	if !ok {
		peerData = make(map[string]interface{})
		m.data[p] = peerData
	}
	peerData[key] = value
	return nil
}

// RemovePeer drops all metadata for p.
func (m *Metadata) RemovePeer(p types.PeerID) {
	m.mu.Lock()
	delete(m.data, p)
	m.mu.Unlock()
}

// Peers lists peers with at least one metadata entry.
func (m *Metadata) Peers() []types.PeerID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.PeerID, 0, len(m.data))
	for p := range m.data {
		out = append(out, p)
	}
	return out
}
