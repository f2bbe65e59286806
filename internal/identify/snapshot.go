package identify

import (
	"sync"

	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

// Snapshot is the host-wide identify payload recomputed on every
// listen-address or registered-protocol change. Sequence is bumped
// only when the content differs from the previous snapshot, ignoring
// sequence itself.
type Snapshot struct {
	Sequence        uint64
	ProtocolVersion string
	AgentVersion    string
	PublicKey       []byte
	ListenAddrs     []multiaddr.Multiaddr
	Protocols       []types.ProtocolID
}

func (s *Snapshot) toMessage(observed multiaddr.Multiaddr, signedRecord []byte) *Message {
	m := &Message{
		ProtocolVersion:  s.ProtocolVersion,
		AgentVersion:     s.AgentVersion,
		PublicKey:        s.PublicKey,
		SignedPeerRecord: signedRecord,
	}
	for _, a := range s.ListenAddrs {
		m.ListenAddrs = append(m.ListenAddrs, a.Bytes())
	}
	for _, p := range s.Protocols {
		m.Protocols = append(m.Protocols, string(p))
	}
	if !observed.IsZero() {
		m.ObservedAddr = observed.Bytes()
	}
	return m
}

func (s *Snapshot) asMessage() *Message {
	return s.toMessage(multiaddr.Multiaddr{}, nil)
}

// snapshotEqualIgnoringSequence compares two snapshots' content,
// ignoring the Sequence field itself and the order of Protocols.
func snapshotEqualIgnoringSequence(a, b *Snapshot) bool {
	if !types.NewProtocolIDSet(a.Protocols).Equal(types.NewProtocolIDSet(b.Protocols)) {
		return false
	}
	am, bm := a.asMessage(), b.asMessage()
	am.Protocols, bm.Protocols = nil, nil
	return am.equalIgnoringSequence(bm)
}

// SnapshotTracker holds the current Snapshot and recomputes/bumps its
// sequence on demand, notifying registered listeners on change.
type SnapshotTracker struct {
	mu       sync.Mutex
	current  *Snapshot
	onChange []func(*Snapshot)
}

// NewSnapshotTracker constructs a tracker seeded with an empty snapshot.
func NewSnapshotTracker() *SnapshotTracker {
	return &SnapshotTracker{current: &Snapshot{}}
}

// OnChange registers a callback invoked (outside the tracker's lock)
// whenever Update bumps the sequence.
func (t *SnapshotTracker) OnChange(f func(*Snapshot)) {
	t.mu.Lock()
	t.onChange = append(t.onChange, f)
	t.mu.Unlock()
}

// Current returns the latest snapshot.
func (t *SnapshotTracker) Current() *Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t.current
	return &cp
}

// Update recomputes the snapshot from the supplied fields; if the
// content differs from the previous snapshot (ignoring sequence), the
// sequence is bumped and onChange listeners are notified.
func (t *SnapshotTracker) Update(protocolVersion, agentVersion string, pub []byte, listenAddrs []multiaddr.Multiaddr, protos []types.ProtocolID) {
	t.mu.Lock()
	next := &Snapshot{
		Sequence:        t.current.Sequence,
		ProtocolVersion: protocolVersion,
		AgentVersion:    agentVersion,
		PublicKey:       pub,
		ListenAddrs:     listenAddrs,
		Protocols:       protos,
	}
	changed := !snapshotEqualIgnoringSequence(t.current, next)
	if changed {
		next.Sequence = t.current.Sequence + 1
	}
	t.current = next
	listeners := append([]func(*Snapshot){}, t.onChange...)
	t.mu.Unlock()

	if changed {
		for _, f := range listeners {
			f(next)
		}
	}
}
