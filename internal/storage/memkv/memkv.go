// Package memkv is an in-memory kv.Store used by tests and by
// peerstores constructed without a persistence directory.
package memkv

import (
	"sort"
	"strings"
	"sync"

	"github.com/meshlayer/go-meshlayer/internal/storage/kv"
)

// Store is a mutex-guarded map implementing kv.Store.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New constructs an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

func (s *Store) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[string(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *Store) Put(key, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := make([]byte, len(value))
	copy(v, value)
	s.data[string(key)] = v
	return nil
}

func (s *Store) Delete(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, string(key))
	return nil
}

func (s *Store) PrefixIterate(prefix []byte, fn func(key, value []byte) bool) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	p := string(prefix)
	for k := range s.data {
		if strings.HasPrefix(k, p) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	type kvpair struct {
		k string
		v []byte
	}
	pairs := make([]kvpair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, kvpair{k, s.data[k]})
	}
	s.mu.RUnlock()

	for _, p := range pairs {
		if !fn([]byte(p.k), p.v) {
			break
		}
	}
	return nil
}

func (s *Store) NewBatch() kv.Batch {
	return &batch{store: s}
}

func (s *Store) Close() error { return nil }

type op struct {
	del   bool
	key   []byte
	value []byte
}

type batch struct {
	store *Store
	ops   []op
}

func (b *batch) Put(key, value []byte) error {
	b.ops = append(b.ops, op{key: key, value: value})
	return nil
}

func (b *batch) Delete(key []byte) error {
	b.ops = append(b.ops, op{del: true, key: key})
	return nil
}

func (b *batch) Commit() error {
	b.store.mu.Lock()
	defer b.store.mu.Unlock()
	for _, o := range b.ops {
		if o.del {
			delete(b.store.data, string(o.key))
			continue
		}
		v := make([]byte, len(o.value))
		copy(v, o.value)
		b.store.data[string(o.key)] = v
	}
	b.ops = nil
	return nil
}

func (b *batch) Discard() { b.ops = nil }
