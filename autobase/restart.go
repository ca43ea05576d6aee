package autobase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lineage/lineage/linearizer"
	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
)

// rebuildFromSystemView (re)constructs the writer set and linearizer
// indexer set from the SystemView's current membership, as happens once
// at Open and again any time a committed digest changes membership (spec
// §4.5, "Restart").
func (b *Autobase) rebuildFromSystemView() error {
	if b.sys.IsBootstrapping() {
		seed := b.opts.Bootstrap
		if len(seed) == 0 && b.opts.LocalKey != "" {
			// No explicit bootstrap list: a lone local writer bootstraps
			// the SystemView with itself (spec §8, scenario 1).
			seed = []string{b.opts.LocalKey}
		}
		if len(seed) > 0 {
			b.sys.Bootstrap(seed)
		}
	}

	keys := b.sys.Writers()
	if b.opts.LocalKey != "" {
		found := false
		for _, k := range keys {
			if k == b.opts.LocalKey {
				found = true
				break
			}
		}
		if !found {
			keys = append(keys, b.opts.LocalKey)
		}
	}

	wanted := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		wanted[k] = struct{}{}
		if _, err := b.ensureWriter(k); err != nil {
			return err
		}
	}
	// A writer dropped from membership is kept on the removed list rather
	// than discarded outright, since it may still be mid-drain: its
	// already-resolved nodes can still be referenced as dependencies of
	// nodes other writers appended before the removal was observed.
	for key, w := range b.writers {
		if _, ok := wanted[key]; !ok {
			b.removed = append(b.removed, w)
			delete(b.writers, key)
		}
	}

	// Recreated from scratch rather than mutated in place (spec §4.5,
	// "recreate the linearizer seeded with heads from the digest"): a
	// writer dropped from membership must not leave a stale entry in the
	// new instance's heads, and a head left over from before a restart
	// could otherwise be mistaken for fresh, causally-verified knowledge.
	// Each surviving indexer is seeded with a minimal, already-indexed
	// placeholder node built from its last-flushed digest head, with no
	// value and no clock, so nothing can be declared stable against it
	// until that writer publishes a head beyond its digest length. A
	// resolved node with the same key as the placeholder does not replace
	// it, since AddHead ignores a head whose key is already on file.
	b.lin = linearizer.New(b.sys.Writers())
	for _, h := range b.sys.Heads() {
		if _, ok := wanted[h.Key]; !ok {
			continue
		}
		b.lin.AddHead(&node.Node{Writer: h.Key, Length: h.Length, Batch: 1, Indexed: true})
	}

	cp, err := b.resolveCheckpoint()
	if err != nil {
		return err
	}
	b.checkpoint = cp
	if cp != nil && cp.Length > b.totalIndexed {
		b.totalIndexed = cp.Length
	}

	for key, w := range b.writers {
		w.SetIndexed(b.sys.IndexedLength(key))
	}
	return nil
}

// resolveCheckpoint prefers the SystemView's own last-flushed checkpoint;
// falling back to the local writer's on-disk chain lets a fresh process
// resume from what it last wrote even before any digest commits.
func (b *Autobase) resolveCheckpoint() (*oplog.Checkpoint, error) {
	if cp := b.sys.Checkpoint(); cp != nil {
		return cp, nil
	}
	if b.localWriter == nil {
		return nil, nil
	}
	cp, err := b.localWriter.GetCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("autobase: resolve checkpoint: %w", err)
	}
	return cp, nil
}

// restart rebuilds writer/linearizer state after a committed system change
// (spec §4.5: "any committed system change forces a restart"). Every
// outstanding Update still sitting in the speculative tip is undone first
// (same step as handlePopped's, advance.go:87-106, run over the whole tip
// rather than just the newly popped count) so no view is left holding
// orphaned tip blocks: the linearizer recomputes its candidate set fresh
// from the (now re-scoped) indexer heads on the next advance.
func (b *Autobase) restart() error {
	b.log.Info("restarting after system change", zap.Strings("writers", b.sys.Writers()))
	if err := b.handlePopped(len(b.tipOrder)); err != nil {
		return err
	}
	b.applied = make(map[string]*nodeApply)
	b.tipOrder = nil
	return b.rebuildFromSystemView()
}
