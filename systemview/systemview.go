// Package systemview implements the distinguished materialized view that
// records authoritative writer membership and the heads in force at the
// last committed point (spec §4.3). It is the source of truth consulted
// on startup or restart to rebuild the writer set.
package systemview

import (
	"fmt"
	"sort"

	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
	"github.com/lineage/lineage/storage"
)

// pendingChange is one membership mutation queued during an apply call
// whose node has not yet been confirmed indexed. It stays reversible
// (PopPendingIDs) or becomes permanent (ConfirmPending) depending on what
// the linearizer later decides about the node that produced it — a
// pending change is never applied to writers/order on its own (spec
// §4.5 step 3, a system change only commits once it has "landed in the
// indexed region").
type pendingChange struct {
	id  int
	add bool
	key string
}

// SystemView tracks the authoritative indexer set and the heads last
// flushed with it.
type SystemView struct {
	log *storage.Log

	writers map[string]int // key -> length known indexed for that writer
	order   []string        // insertion order, for deterministic iteration

	heads []node.Head

	pending   []pendingChange
	nextID    int

	checkpoint *oplog.Checkpoint
}

// Open attaches to the systemview's underlying log, replaying its most
// recent digest (if any) to rebuild membership.
func Open(log *storage.Log) (*SystemView, error) {
	sv := &SystemView{
		log:     log,
		writers: make(map[string]int),
	}
	if log.Length() == 0 {
		return sv, nil
	}
	raw, err := log.Get(log.Length() - 1)
	if err != nil {
		return nil, fmt.Errorf("systemview: read digest: %w", err)
	}
	digest, err := oplog.DecodeDigest(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDigestCorrupt, err)
	}
	sv.applyDigest(digest)
	return sv, nil
}

func (sv *SystemView) applyDigest(d *oplog.Digest) {
	sv.writers = make(map[string]int, len(d.Writers))
	sv.order = sv.order[:0]
	for _, w := range d.Writers {
		sv.writers[w.Key] = w.Length
		sv.order = append(sv.order, w.Key)
	}
	sv.heads = append([]node.Head(nil), d.Heads...)
	sv.checkpoint = d.Checkpoint
}

// Bootstrap seeds the SystemView with an initial writer set when no digest
// has ever been committed (spec §4.5, "if the system is still
// bootstrapping").
func (sv *SystemView) Bootstrap(keys []string) {
	if len(sv.order) > 0 {
		return
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted) // spec §9, "bootstrap ordering"
	for _, k := range sorted {
		if _, ok := sv.writers[k]; ok {
			continue
		}
		sv.writers[k] = 0
		sv.order = append(sv.order, k)
	}
}

// IsBootstrapping reports whether the SystemView has never observed a
// committed digest with a writer set.
func (sv *SystemView) IsBootstrapping() bool {
	return len(sv.order) == 0
}

// AddWriter queues a membership addition, reversible until the node whose
// apply call issued it is confirmed indexed (ConfirmPending) or undone
// (PopPendingIDs). It does not check whether an apply call is active, and
// nothing else does either: a change queued outside an apply call is not
// attributed to any batch, so it is never confirmed or popped and stays
// queued.
func (sv *SystemView) AddWriter(key string) {
	sv.nextID++
	sv.pending = append(sv.pending, pendingChange{id: sv.nextID, add: true, key: key})
}

// RemoveWriter queues a membership removal, with the same reversibility
// as AddWriter.
func (sv *SystemView) RemoveWriter(key string) {
	sv.nextID++
	sv.pending = append(sv.pending, pendingChange{id: sv.nextID, add: false, key: key})
}

// PendingChanges reports how many membership mutations are still queued
// and unconfirmed — the "system" counter on an Update record.
func (sv *SystemView) PendingChanges() int {
	return len(sv.pending)
}

// RecentPendingIDs returns the identities of the last n entries currently
// queued, for a caller to remember which of its own apply call's pending
// changes to later confirm or pop. Must be called before any other batch's
// apply call queues further changes, since identity is the only thing
// that survives those later changes being appended after it.
func (sv *SystemView) RecentPendingIDs(n int) []int {
	if n <= 0 {
		return nil
	}
	if n > len(sv.pending) {
		n = len(sv.pending)
	}
	ids := make([]int, 0, n)
	for _, c := range sv.pending[len(sv.pending)-n:] {
		ids = append(ids, c.id)
	}
	return ids
}

// ConfirmPending permanently applies the queued changes named by ids to
// writers/order, removing them from the pending queue, and reports
// whether membership actually changed. Called once the node that queued
// them has itself been confirmed indexed (spec §4.5 step 3): a change
// still sitting in the speculative tip must never reach here.
func (sv *SystemView) ConfirmPending(ids []int) bool {
	if len(ids) == 0 {
		return false
	}
	want := idSet(ids)
	changed := false
	kept := sv.pending[:0]
	for _, c := range sv.pending {
		if want[c.id] {
			if _, present := sv.writers[c.key]; present != c.add {
				changed = true
			}
			sv.applyChange(c)
			continue
		}
		kept = append(kept, c)
	}
	sv.pending = kept
	return changed
}

// PopPendingIDs discards the queued changes named by ids without ever
// applying them, undoing the system-writer bookkeeping of an Update the
// linearizer has just popped from its tip (spec §4.3/§4.4, "Undo"
// propagated to the system writer).
func (sv *SystemView) PopPendingIDs(ids []int) {
	if len(ids) == 0 {
		return
	}
	drop := idSet(ids)
	kept := sv.pending[:0]
	for _, c := range sv.pending {
		if drop[c.id] {
			continue
		}
		kept = append(kept, c)
	}
	sv.pending = kept
}

func idSet(ids []int) map[int]bool {
	set := make(map[int]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func (sv *SystemView) applyChange(c pendingChange) {
	if c.add {
		if _, ok := sv.writers[c.key]; !ok {
			sv.writers[c.key] = 0
			sv.order = append(sv.order, c.key)
		}
		return
	}
	if _, ok := sv.writers[c.key]; ok {
		delete(sv.writers, c.key)
		sv.order = removeString(sv.order, c.key)
	}
}

// Writers returns the current authoritative indexer set, in the order it
// was established.
func (sv *SystemView) Writers() []string {
	return append([]string(nil), sv.order...)
}

// IsIndexed answers whether writer key's length has been committed,
// consulted by writers to prune clocks (spec §4.3).
func (sv *SystemView) IsIndexed(key string, length int) bool {
	indexed, ok := sv.writers[key]
	if !ok {
		return false
	}
	return indexed >= length
}

// IndexedLength returns the length of key's log known to be committed, 0
// if key is not yet tracked.
func (sv *SystemView) IndexedLength(key string) int {
	return sv.writers[key]
}

// SetIndexed records that writer key's log is committed up to length,
// without itself flushing a digest.
func (sv *SystemView) SetIndexed(key string, length int) {
	if cur, ok := sv.writers[key]; !ok || length > cur {
		sv.writers[key] = length
	}
}

// Checkpoint returns the last flushed checkpoint, or nil if none exists
// yet.
func (sv *SystemView) Checkpoint() *oplog.Checkpoint {
	return sv.checkpoint
}

// Flush persists a new digest of the current (already-confirmed) writer
// set along with heads and checkpoint. Unconfirmed pending changes are
// left untouched — they are not membership yet and have no business in a
// committed digest.
func (sv *SystemView) Flush(heads []node.Head, checkpoint *oplog.Checkpoint) error {
	sv.heads = append([]node.Head(nil), heads...)
	sv.checkpoint = checkpoint

	digest := &oplog.Digest{
		Writers:    sv.writerHeads(),
		Heads:      sv.heads,
		Checkpoint: sv.checkpoint,
	}
	encoded, err := oplog.EncodeDigest(digest)
	if err != nil {
		return err
	}
	if err := sv.log.Append([][]byte{encoded}); err != nil {
		return fmt.Errorf("systemview: flush: %w", err)
	}
	return nil
}

func (sv *SystemView) writerHeads() []node.Head {
	out := make([]node.Head, 0, len(sv.order))
	for _, k := range sv.order {
		out = append(out, node.Head{Key: k, Length: sv.writers[k]})
	}
	return out
}

// Heads returns the heads that were in force at the last committed digest.
func (sv *SystemView) Heads() []node.Head {
	return append([]node.Head(nil), sv.heads...)
}

func removeString(s []string, v string) []string {
	for i, x := range s {
		if x == v {
			return append(s[:i], s[i+1:]...)
		}
	}
	return s
}
