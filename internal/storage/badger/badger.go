// Package badger backs kv.Store with github.com/dgraph-io/badger/v4, an
// embedded LSM-tree KV engine, for peerstores that persist across
// process restarts.
package badger

import (
	"github.com/dgraph-io/badger/v4"
	"github.com/meshlayer/go-meshlayer/internal/storage/kv"
	"github.com/meshlayer/go-meshlayer/pkg/log"
)

var logger = log.Logger("storage/badger")

// Engine wraps a *badger.DB to implement kv.Store.
type Engine struct {
	db *badger.DB
}

// Open opens (creating if absent) a badger database rooted at dir. An
// empty dir opens an in-memory badger instance, useful for tests that
// still want to exercise the real engine's semantics.
func Open(dir string) (*Engine, error) {
	opts := badger.DefaultOptions(dir)
	opts = opts.WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logger.Infow("opened badger store", "dir", dir)
	return &Engine{db: db}, nil
}

func (e *Engine) Get(key []byte) ([]byte, error) {
	var out []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte{}, val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, kv.ErrNotFound
	}
	return out, err
}

func (e *Engine) Put(key, value []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (e *Engine) Delete(key []byte) error {
	return e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

func (e *Engine) PrefixIterate(prefix []byte, fn func(key, value []byte) bool) error {
	return e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			k := append([]byte{}, item.KeyCopy(nil)...)
			var v []byte
			if err := item.Value(func(val []byte) error {
				v = append([]byte{}, val...)
				return nil
			}); err != nil {
				return err
			}
			if !fn(k, v) {
				break
			}
		}
		return nil
	})
}

func (e *Engine) NewBatch() kv.Batch {
	return &batch{wb: e.db.NewWriteBatch()}
}

func (e *Engine) Close() error {
	return e.db.Close()
}

type batch struct {
	wb *badger.WriteBatch
}

func (b *batch) Put(key, value []byte) error {
	return b.wb.Set(key, value)
}

func (b *batch) Delete(key []byte) error {
	return b.wb.Delete(key)
}

func (b *batch) Commit() error {
	return b.wb.Flush()
}

func (b *batch) Discard() {
	b.wb.Cancel()
}
