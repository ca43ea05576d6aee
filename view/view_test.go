package view_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lineage/lineage/storage"
	"github.com/lineage/lineage/view"
)

var errApplyViolation = errors.New("append issued outside apply")

func openStore(t *testing.T) *storage.Store {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

type recordingSink struct {
	calls [][]byte
	err   error
}

func (s *recordingSink) OnUserAppend(_ string, blocks [][]byte) error {
	if s.err != nil {
		return s.err
	}
	s.calls = append(s.calls, blocks...)
	return nil
}

func TestAppendCommitIndexRoundTrip(t *testing.T) {
	sink := &recordingSink{}
	vs := view.NewStore(openStore(t), sink)

	v, err := vs.Get("log", view.Options{})
	require.NoError(t, err)

	require.NoError(t, v.Append([]byte("a"), []byte("b")))
	require.Equal(t, 2, v.Appending())
	require.Equal(t, 0, v.TipLength())

	v.Commit([][]byte{[]byte("a"), []byte("b")})
	require.Equal(t, 0, v.Appending())
	require.Equal(t, 2, v.TipLength())

	blk, err := v.ReadBlock(1)
	require.NoError(t, err)
	require.Equal(t, []byte("b"), blk)

	require.NoError(t, v.Index(1))
	require.Equal(t, 1, v.IndexedLength())
	require.Equal(t, 1, v.TipLength())

	first, err := v.ReadBlock(0)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), first)

	indexed, err := v.IndexedBlocks()
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("a")}, indexed)
}

func TestUndoTruncatesTip(t *testing.T) {
	vs := view.NewStore(openStore(t), &recordingSink{})
	v, err := vs.Get("log", view.Options{})
	require.NoError(t, err)

	v.Commit([][]byte{[]byte("a"), []byte("b"), []byte("c")})
	require.Equal(t, 3, v.TipLength())

	v.Undo(2)
	require.Equal(t, 1, v.TipLength())

	v.Undo(10) // clamps rather than going negative
	require.Equal(t, 0, v.TipLength())
}

func TestAppendPropagatesApplyViolation(t *testing.T) {
	sink := &recordingSink{err: errApplyViolation}
	vs := view.NewStore(openStore(t), sink)
	v, err := vs.Get("log", view.Options{})
	require.NoError(t, err)

	err = v.Append([]byte("x"))
	require.ErrorIs(t, err, errApplyViolation)
	require.Equal(t, 0, v.Appending())
}

func TestReadyPendingMarksNewViewsOnce(t *testing.T) {
	vs := view.NewStore(openStore(t), &recordingSink{})

	v, err := vs.Get("a", view.Options{})
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, vs.Names())
	require.False(t, v.IsReady())

	vs.ReadyPending()
	require.True(t, v.IsReady())

	_, ok := vs.View("a")
	require.True(t, ok)

	// A second ReadyPending call with nothing newly created is a no-op,
	// not a panic on an empty pending list.
	vs.ReadyPending()
	require.True(t, v.IsReady())

	w, err := vs.Get("b", view.Options{})
	require.NoError(t, err)
	require.False(t, w.IsReady())
	require.True(t, v.IsReady())
}
