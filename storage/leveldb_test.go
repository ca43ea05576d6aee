package storage_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lineage/lineage/storage"
)

func openStore(t *testing.T) *storage.Store {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRangeReturnsRequestedSpan(t *testing.T) {
	log, err := storage.OpenLog(openStore(t), "log")
	require.NoError(t, err)

	require.NoError(t, log.Append([][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}))

	got, err := log.Range(1, 3)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("b"), []byte("c")}, got)

	all, err := log.Range(0, log.Length())
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d")}, all)
}

func TestRangeClampsAndHandlesEmptySpan(t *testing.T) {
	log, err := storage.OpenLog(openStore(t), "log")
	require.NoError(t, err)
	require.NoError(t, log.Append([][]byte{[]byte("a"), []byte("b")}))

	got, err := log.Range(1, 10)
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("b")}, got)

	got, err = log.Range(2, 2)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = log.Range(5, 5)
	require.NoError(t, err)
	require.Empty(t, got)
}
