// Package addrbook implements the peerstore's AddressBook contract:
// TTL-indexed per-peer addresses with monotone-extension semantics,
// peer-id hygiene, and certified peer-record replay resistance.
package addrbook

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/meshlayer/go-meshlayer/internal/storage/kv"
	"github.com/meshlayer/go-meshlayer/pkg/crypto"
	"github.com/meshlayer/go-meshlayer/pkg/log"
	"github.com/meshlayer/go-meshlayer/pkg/multiaddr"
	"github.com/meshlayer/go-meshlayer/pkg/types"
)

var logger = log.Logger("peerstore/addrbook")

const keyPrefix = "/peers/addrs/"

type entry struct {
	addr   multiaddr.Multiaddr
	expiry time.Time
	ttl    time.Duration
}

type record struct {
	mu        sync.Mutex
	peer      types.PeerID
	entries   map[string]*entry
	certified *crypto.Envelope
	certSeq   uint64
}

// AddressBook implements pkg/interfaces.AddressBook.
type AddressBook struct {
	store kv.Store
	clock clock.Clock

	mu      sync.RWMutex
	records map[types.PeerID]*record

	streamsMu sync.Mutex
	streams   map[types.PeerID][]chan multiaddr.Multiaddr
}

// New constructs an AddressBook persisting to store, using clk for all
// expiry computation (inject clock.NewMock() in tests).
func New(store kv.Store, clk clock.Clock) *AddressBook {
	if clk == nil {
		clk = clock.New()
	}
	return &AddressBook{
		store:   store,
		clock:   clk,
		records: make(map[types.PeerID]*record),
		streams: make(map[types.PeerID][]chan multiaddr.Multiaddr),
	}
}

func (b *AddressBook) getOrCreate(p types.PeerID) *record {
	b.mu.RLock()
	r, ok := b.records[p]
	b.mu.RUnlock()
	if ok {
		return r
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok = b.records[p]; ok {
		return r
	}
	r = &record{peer: p, entries: make(map[string]*entry)}
	b.records[p] = r
	return r
}

func (b *AddressBook) get(p types.PeerID) (*record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.records[p]
	return r, ok
}

// sanitize strips an address's own peer-id suffix when it matches p, or
// rejects the address when the suffix names a different peer.
func sanitize(a multiaddr.Multiaddr, p types.PeerID) (multiaddr.Multiaddr, bool) {
	id, has := a.PeerID()
	if !has {
		return a, true
	}
	if id != p {
		return multiaddr.Multiaddr{}, false
	}
	return a.WithoutPeerID(), true
}

// AddAddr records one address with ttl, extending (never shortening)
// any existing expiry for the same canonical address.
func (b *AddressBook) AddAddr(p types.PeerID, addr multiaddr.Multiaddr, ttl time.Duration) {
	b.AddAddrs(p, []multiaddr.Multiaddr{addr}, ttl)
}

// AddAddrs is the monotone bulk form of AddAddr.
func (b *AddressBook) AddAddrs(p types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	rec := b.getOrCreate(p)
	now := b.clock.Now()
	expiry := now.Add(ttl)

	var added []multiaddr.Multiaddr
	rec.mu.Lock()
	for _, a := range addrs {
		clean, ok := sanitize(a, p)
		if !ok {
			logger.Warnw("dropping address with mismatched peer-id", "peer", p.ShortString(), "addr", a.String())
			continue
		}
		key := string(clean.Bytes())
		e, exists := rec.entries[key]
		if !exists {
			rec.entries[key] = &entry{addr: clean, expiry: expiry, ttl: ttl}
			added = append(added, clean)
			continue
		}
		if expiry.After(e.expiry) {
			e.expiry = expiry
			e.ttl = ttl
		}
	}
	rec.mu.Unlock()

	b.persist(rec)
	for _, a := range added {
		b.publish(p, a)
	}
}

// SetAddr replaces p's address set with a single address at ttl;
// ttl<=0 deletes.
func (b *AddressBook) SetAddr(p types.PeerID, addr multiaddr.Multiaddr, ttl time.Duration) {
	b.SetAddrs(p, []multiaddr.Multiaddr{addr}, ttl)
}

// SetAddrs replaces p's address set unconditionally; ttl<=0 clears it.
func (b *AddressBook) SetAddrs(p types.PeerID, addrs []multiaddr.Multiaddr, ttl time.Duration) {
	rec := b.getOrCreate(p)
	now := b.clock.Now()

	rec.mu.Lock()
	if ttl <= 0 {
		rec.entries = make(map[string]*entry)
	} else {
		expiry := now.Add(ttl)
		next := make(map[string]*entry, len(addrs))
		for _, a := range addrs {
			clean, ok := sanitize(a, p)
			if !ok {
				continue
			}
			next[string(clean.Bytes())] = &entry{addr: clean, expiry: expiry, ttl: ttl}
		}
		rec.entries = next
	}
	rec.mu.Unlock()

	b.persist(rec)
}

// UpdateAddrs rewrites the TTL class of every entry currently tagged
// oldTTL to newTTL (newTTL<=0 deletes them), used by identify to
// downgrade ConnectedAddrTTL entries on disconnect.
func (b *AddressBook) UpdateAddrs(p types.PeerID, oldTTL, newTTL time.Duration) {
	rec, ok := b.get(p)
	if !ok {
		return
	}
	now := b.clock.Now()
	rec.mu.Lock()
	for key, e := range rec.entries {
		if e.ttl != oldTTL {
			continue
		}
		if newTTL <= 0 {
			delete(rec.entries, key)
			continue
		}
		e.ttl = newTTL
		e.expiry = now.Add(newTTL)
	}
	rec.mu.Unlock()
	b.persist(rec)
}

// Addrs returns p's live (non-expired) addresses, lazily evicting
// expired entries first.
func (b *AddressBook) Addrs(p types.PeerID) []multiaddr.Multiaddr {
	rec, ok := b.get(p)
	if !ok {
		return nil
	}
	b.gc(rec)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]multiaddr.Multiaddr, 0, len(rec.entries))
	for _, e := range rec.entries {
		out = append(out, e.addr)
	}
	return out
}

// ClearAddrs removes all of p's addresses.
func (b *AddressBook) ClearAddrs(p types.PeerID) {
	rec, ok := b.get(p)
	if !ok {
		return
	}
	rec.mu.Lock()
	rec.entries = make(map[string]*entry)
	rec.mu.Unlock()
	b.persist(rec)
}

// PeersWithAddrs lists peers currently holding at least one live address.
func (b *AddressBook) PeersWithAddrs() []types.PeerID {
	b.mu.RLock()
	recs := make([]*record, 0, len(b.records))
	for _, r := range b.records {
		recs = append(recs, r)
	}
	b.mu.RUnlock()

	var out []types.PeerID
	for _, r := range recs {
		b.gc(r)
		r.mu.Lock()
		n := len(r.entries)
		r.mu.Unlock()
		if n > 0 {
			out = append(out, r.peer)
		}
	}
	return out
}

// AddrStream yields addresses newly added for p until ctx is done.
func (b *AddressBook) AddrStream(ctx context.Context, p types.PeerID) <-chan multiaddr.Multiaddr {
	ch := make(chan multiaddr.Multiaddr, 16)
	b.streamsMu.Lock()
	b.streams[p] = append(b.streams[p], ch)
	b.streamsMu.Unlock()

	go func() {
		<-ctx.Done()
		b.streamsMu.Lock()
		subs := b.streams[p]
		for i, s := range subs {
			if s == ch {
				b.streams[p] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		b.streamsMu.Unlock()
		close(ch)
	}()
	return ch
}

func (b *AddressBook) publish(p types.PeerID, a multiaddr.Multiaddr) {
	b.streamsMu.Lock()
	subs := append([]chan multiaddr.Multiaddr{}, b.streams[p]...)
	b.streamsMu.Unlock()
	for _, ch := range subs {
		select {
		case ch <- a:
		default:
		}
	}
}

// ConsumePeerRecord validates env as a certified PeerRecord and, if its
// sequence exceeds the previously stored one, merges its addresses
// (TTL-extent semantics) and persists the envelope. Returns false
// (without error) when the record is a replay of an equal-or-older
// sequence.
func (b *AddressBook) ConsumePeerRecord(env *crypto.Envelope, ttl time.Duration) (bool, error) {
	if err := env.Open(crypto.PeerRecordPayloadType); err != nil {
		return false, err
	}
	rec, err := crypto.UnmarshalPeerRecord(env.Payload)
	if err != nil {
		return false, err
	}
	if !crypto.MatchesPublicKey(rec.PeerID, env.PublicKey) {
		return false, errors.New("addrbook: envelope public key does not match peer record peer id")
	}

	target := b.getOrCreate(rec.PeerID)
	target.mu.Lock()
	if rec.Seq <= target.certSeq {
		target.mu.Unlock()
		return false, nil
	}
	target.certified = env
	target.certSeq = rec.Seq
	target.mu.Unlock()

	var addrs []multiaddr.Multiaddr
	for _, raw := range rec.Addrs {
		ma, err := multiaddr.NewMultiaddrBytes(raw)
		if err != nil {
			continue
		}
		addrs = append(addrs, ma)
	}
	b.AddAddrs(rec.PeerID, addrs, ttl)
	b.persist(target)
	return true, nil
}

// GetPeerRecord returns the most recently accepted certified record for
// p, or nil if none is stored.
func (b *AddressBook) GetPeerRecord(p types.PeerID) *crypto.Envelope {
	rec, ok := b.get(p)
	if !ok {
		return nil
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.certified
}

// Close releases no resources of its own; the backing kv.Store is
// closed by whoever constructed it.
func (b *AddressBook) Close() error { return nil }

func (b *AddressBook) gc(rec *record) {
	now := b.clock.Now()
	rec.mu.Lock()
	changed := false
	for key, e := range rec.entries {
		if now.After(e.expiry) {
			delete(rec.entries, key)
			changed = true
		}
	}
	rec.mu.Unlock()
	if changed {
		b.persist(rec)
	}
}

// persist flushes rec to the backing store, deleting the key entirely
// when the record has become empty (no entries, no certified record).
func (b *AddressBook) persist(rec *record) {
	if b.store == nil {
		return
	}
	key := []byte(keyPrefix + rec.peer.B32String())

	rec.mu.Lock()
	empty := len(rec.entries) == 0 && rec.certified == nil
	data, err := encodeRecord(rec)
	rec.mu.Unlock()

	if empty {
		_ = b.store.Delete(key)
		return
	}
	if err != nil {
		logger.Errorw("failed to encode address record", "peer", rec.peer.ShortString(), "err", err)
		return
	}
	if err := b.store.Put(key, data); err != nil {
		logger.Errorw("failed to persist address record", "peer", rec.peer.ShortString(), "err", err)
	}
}

// encodeRecord must be called with rec.mu held.
func encodeRecord(rec *record) ([]byte, error) {
	var buf []byte
	buf = appendLP(buf, rec.peer.Bytes())

	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(rec.entries)))
	buf = append(buf, countBuf[:]...)
	for _, e := range rec.entries {
		buf = appendLP(buf, e.addr.Bytes())
		var tsBuf [8]byte
		binary.BigEndian.PutUint64(tsBuf[:], uint64(e.expiry.UnixNano()))
		buf = append(buf, tsBuf[:]...)
		var ttlBuf [8]byte
		binary.BigEndian.PutUint64(ttlBuf[:], uint64(e.ttl))
		buf = append(buf, ttlBuf[:]...)
	}

	if rec.certified == nil {
		buf = append(buf, 0)
		return buf, nil
	}
	buf = append(buf, 1)
	envBytes, err := crypto.MarshalEnvelope(rec.certified)
	if err != nil {
		return nil, err
	}
	buf = appendLP(buf, envBytes)
	return buf, nil
}

func appendLP(buf, v []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
	buf = append(buf, lenBuf[:]...)
	return append(buf, v...)
}
