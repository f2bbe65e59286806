package badger

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshlayer/go-meshlayer/internal/storage/kv"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestGetMissingKeyReturnsErrNotFound(t *testing.T) {
	e := openTestEngine(t)
	_, err := e.Get([]byte("missing"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	got, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)
}

func TestDeleteRemovesKey(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Delete([]byte("k")))
	_, err := e.Get([]byte("k"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

func TestPrefixIterateVisitsMatchingKeysInOrder(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Put([]byte("peer/b"), []byte("2")))
	require.NoError(t, e.Put([]byte("peer/a"), []byte("1")))
	require.NoError(t, e.Put([]byte("other/x"), []byte("9")))

	var keys []string
	err := e.PrefixIterate([]byte("peer/"), func(key, value []byte) bool {
		keys = append(keys, string(key))
		return true
	})
	require.NoError(t, err)
	require.Equal(t, []string{"peer/a", "peer/b"}, keys)
}

func TestBatchCommitAppliesWrites(t *testing.T) {
	e := openTestEngine(t)
	require.NoError(t, e.Put([]byte("remove"), []byte("x")))

	b := e.NewBatch()
	require.NoError(t, b.Put([]byte("new"), []byte("3")))
	require.NoError(t, b.Delete([]byte("remove")))
	require.NoError(t, b.Commit())

	got, err := e.Get([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, []byte("3"), got)
	_, err = e.Get([]byte("remove"))
	require.ErrorIs(t, err, kv.ErrNotFound)
}

var _ kv.Store = (*Engine)(nil)
