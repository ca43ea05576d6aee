package systemview_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
	"github.com/lineage/lineage/storage"
	"github.com/lineage/lineage/systemview"
)

func openLog(t *testing.T) *storage.Log {
	dir := t.TempDir()
	store, err := storage.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log, err := storage.OpenLog(store, "system")
	require.NoError(t, err)
	return log
}

func TestBootstrapIsSortedAndOnce(t *testing.T) {
	sv, err := systemview.Open(openLog(t))
	require.NoError(t, err)
	require.True(t, sv.IsBootstrapping())

	sv.Bootstrap([]string{"zebra", "apple", "mango"})
	require.Equal(t, []string{"apple", "mango", "zebra"}, sv.Writers())
	require.False(t, sv.IsBootstrapping())

	// A second Bootstrap call must be a no-op once membership exists.
	sv.Bootstrap([]string{"newcomer"})
	require.Equal(t, []string{"apple", "mango", "zebra"}, sv.Writers())
}

func TestAddConfirmFlushRoundTrip(t *testing.T) {
	log := openLog(t)
	sv, err := systemview.Open(log)
	require.NoError(t, err)

	sv.Bootstrap([]string{"a"})
	sv.AddWriter("b")
	require.Equal(t, 1, sv.PendingChanges())

	// Until confirmed, a queued change has no effect on membership.
	require.Equal(t, []string{"a"}, sv.Writers())

	ids := sv.RecentPendingIDs(1)
	require.True(t, sv.ConfirmPending(ids))
	require.Equal(t, 0, sv.PendingChanges())
	require.ElementsMatch(t, []string{"a", "b"}, sv.Writers())

	err = sv.Flush([]node.Head{{Key: "a", Length: 3}}, &oplog.Checkpoint{Length: 3})
	require.NoError(t, err)
	require.Equal(t, 1, log.Length())

	sv.RemoveWriter("b")
	ids = sv.RecentPendingIDs(1)
	require.True(t, sv.ConfirmPending(ids))
	require.Equal(t, []string{"a"}, sv.Writers())

	err = sv.Flush([]node.Head{{Key: "a", Length: 3}}, nil)
	require.NoError(t, err)

	// Reopening against the same log replays the latest digest only.
	reopened, err := systemview.Open(log)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, reopened.Writers())
}

func TestPopPendingIDsDiscardsQueuedChanges(t *testing.T) {
	sv, err := systemview.Open(openLog(t))
	require.NoError(t, err)
	sv.Bootstrap([]string{"a"})

	sv.AddWriter("b")
	bID := sv.RecentPendingIDs(1)
	sv.AddWriter("c")
	cID := sv.RecentPendingIDs(1)
	require.Equal(t, 2, sv.PendingChanges())

	sv.PopPendingIDs(bID)
	require.Equal(t, 1, sv.PendingChanges())

	sv.PopPendingIDs(cID)
	require.Equal(t, 0, sv.PendingChanges())

	// Neither discarded change ever reached membership.
	require.Equal(t, []string{"a"}, sv.Writers())
}

func TestConfirmPendingIgnoresAlreadyPoppedIDs(t *testing.T) {
	sv, err := systemview.Open(openLog(t))
	require.NoError(t, err)
	sv.Bootstrap([]string{"a"})

	sv.AddWriter("b")
	ids := sv.RecentPendingIDs(1)
	sv.PopPendingIDs(ids)

	require.False(t, sv.ConfirmPending(ids))
	require.Equal(t, []string{"a"}, sv.Writers())
}

func TestIsIndexedAndSetIndexed(t *testing.T) {
	sv, err := systemview.Open(openLog(t))
	require.NoError(t, err)
	sv.Bootstrap([]string{"a"})

	require.False(t, sv.IsIndexed("a", 1))
	require.Equal(t, 0, sv.IndexedLength("a"))

	sv.SetIndexed("a", 5)
	require.True(t, sv.IsIndexed("a", 3))
	require.False(t, sv.IsIndexed("a", 6))
	require.Equal(t, 5, sv.IndexedLength("a"))

	// SetIndexed never regresses the watermark.
	sv.SetIndexed("a", 2)
	require.Equal(t, 5, sv.IndexedLength("a"))
}
