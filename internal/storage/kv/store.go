// Package kv defines the minimal ordered key/value contract the
// peerstore's persisted sub-stores (addrbook, keybook) are built
// against, so the engine backing them (badger for
// production, an in-memory map for tests) is swappable.
package kv

import "errors"

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// Store is a byte-keyed, byte-valued store with prefix iteration,
// batched writes, and a Close lifecycle.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	// PrefixIterate calls fn for every key with the given prefix, in
	// key order, until fn returns false or iteration is exhausted.
	PrefixIterate(prefix []byte, fn func(key, value []byte) bool) error
	NewBatch() Batch
	Close() error
}

// Batch accumulates writes for atomic application via Commit.
type Batch interface {
	Put(key, value []byte) error
	Delete(key []byte) error
	Commit() error
	Discard()
}
