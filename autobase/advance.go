package autobase

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/lineage/lineage/linearizer"
	"github.com/lineage/lineage/node"
)

// runAdvance is one tick of the advance loop (spec §4.5): fold in queued
// local appends, let every writer resolve as many dependency-satisfied
// nodes as it can, recompute the linearizer's total order, apply newly
// stable batches and undo displaced ones, persist everything, and
// restart if membership changed.
func (b *Autobase) runAdvance() error {
	b.membershipChanged = false

	reqs := b.drainAppendQueue()
	b.applyLocalAppends(reqs)

	if err := b.progressWriters(); err != nil {
		return err
	}

	upd := b.lin.Update()
	if upd == nil {
		b.viewStore.ReadyPending()
		b.cleanupRemoved()
		return b.flushLocal()
	}

	if err := b.handlePopped(upd.Popped); err != nil {
		return err
	}
	newlyApplied, err := b.processIndexed(upd.Indexed)
	if err != nil {
		return err
	}
	b.totalIndexed += newlyApplied
	shared := len(b.tipOrder)
	if err := b.processTip(upd.Tip[shared:]); err != nil {
		return err
	}

	b.viewStore.ReadyPending()
	b.cleanupRemoved()

	if err := b.flushLocal(); err != nil {
		return err
	}

	changed, err := b.flushSystem()
	if err != nil {
		return err
	}
	if changed {
		return b.restart()
	}
	return nil
}

// progressWriters runs EnsureNext/AdoptNext across every tracked writer
// until a full pass makes no further progress, registering each newly
// adopted node as its writer's head with the linearizer.
func (b *Autobase) progressWriters() error {
	for {
		progressed := false
		for _, w := range b.writers {
			resolved, err := w.EnsureNext(b, b)
			if err != nil {
				return fmt.Errorf("autobase: advance writer %s: %w", w.Key, err)
			}
			if resolved == nil {
				continue
			}
			adopted := w.AdoptNext()
			b.lin.AddHead(adopted)
			progressed = true
		}
		if !progressed {
			return nil
		}
	}
}

// handlePopped undoes the last popped entries of the previous tip (spec
// §4.4, "Undo"), in reverse order, deduplicating batches whose member
// nodes share one applied record.
func (b *Autobase) handlePopped(popped int) error {
	for i := 0; i < popped && len(b.tipOrder) > 0; i++ {
		key := b.tipOrder[len(b.tipOrder)-1]
		b.tipOrder = b.tipOrder[:len(b.tipOrder)-1]

		rec, ok := b.applied[key]
		delete(b.applied, key)
		if !ok || rec.undone {
			continue
		}
		rec.undone = true
		for name, count := range rec.viewBlocks {
			if v, ok := b.viewStore.View(name); ok {
				v.Undo(count)
			}
		}
		b.sys.PopPendingIDs(rec.systemChangeIDs)
	}
	return nil
}

// confirmPending permanently applies a batch's queued system changes once
// its node is known indexed, never while it is still speculative tip
// content (spec §4.5 step 3: a system change commits only once it has
// landed in the indexed region).
func (b *Autobase) confirmPending(ids []int) {
	if b.sys.ConfirmPending(ids) {
		b.membershipChanged = true
	}
}

// processIndexed commits every newly stable node to its view's persisted
// log and returns how many of them were genuinely new work. A node
// already tracked in b.applied was previously speculative tip content
// being promoted now. A node the SystemView already reports as indexed
// is a replay: the linearizer recomputes its candidate order from
// scratch on every restart, so a node this process applied and flushed
// in a prior run surfaces again here purely to rebuild the in-memory
// DAG, and must not be re-applied to the views a second time (spec
// §4.5, "Checkpoint"). Anything else is stable for the first time and
// must run through apply before being promoted, per the simplifying
// assumption that a batch never straddles the indexed/tip boundary.
func (b *Autobase) processIndexed(indexed []*linearizer.IndexedNode) (int, error) {
	applied := 0
	for i := 0; i < len(indexed); {
		n := indexed[i].Node
		key := n.Key()
		if rec, ok := b.applied[key]; ok {
			delete(b.applied, key)
			if len(b.tipOrder) > 0 && b.tipOrder[0] == key {
				b.tipOrder = b.tipOrder[1:]
			}
			b.sys.SetIndexed(n.Writer, n.Length)
			if !rec.promoted {
				rec.promoted = true
				b.confirmPending(rec.systemChangeIDs)
				if err := b.promote(rec); err != nil {
					return applied, err
				}
			}
			indexed[i].AdvancedSystem = len(rec.systemChangeIDs) > 0
			applied++
			i++
			continue
		}

		if b.sys.IsIndexed(n.Writer, n.Length) {
			batch, next := collectBatch(indexed, i)
			for _, bn := range batch {
				b.sys.SetIndexed(bn.Writer, bn.Length)
			}
			i = next
			continue
		}

		batch, next := collectBatch(indexed, i)
		rec, err := b.runBatch(batch, true)
		if err != nil {
			return applied, err
		}
		for j := i; j < next; j++ {
			indexed[j].AdvancedSystem = len(rec.systemChangeIDs) > 0
		}
		for _, bn := range batch {
			b.sys.SetIndexed(bn.Writer, bn.Length)
		}
		applied += len(batch)
		i = next
	}
	return applied, nil
}

// processTip runs apply over every newly surfaced tip node (those beyond
// the shared prefix retained from the previous tip), leaving their
// effects speculative until a later Index or Undo.
func (b *Autobase) processTip(fresh []*node.Node) error {
	for i := 0; i < len(fresh); {
		batch, next := collectPlainBatch(fresh, i)
		rec, err := b.runBatch(batch, false)
		if err != nil {
			return err
		}
		keys := keysOf(batch)
		for _, k := range keys {
			b.applied[k] = rec
		}
		b.tipOrder = append(b.tipOrder, keys...)
		i = next
	}
	return nil
}

// promote moves a previously-tip'd batch's speculative view blocks into
// their persisted logs.
func (b *Autobase) promote(rec *nodeApply) error {
	for name, count := range rec.viewBlocks {
		v, ok := b.viewStore.View(name)
		if !ok {
			continue
		}
		if err := v.Index(count); err != nil {
			return err
		}
	}
	return nil
}

// runBatch invokes the user apply handler once over batch, building
// BatchItems from each member node, and returns the resulting nodeApply
// record. When promote is true the batch's view contributions are
// immediately committed and indexed; otherwise they are committed to
// tip only, left speculative for a later Index or Undo.
func (b *Autobase) runBatch(batch []*node.Node, promote bool) (*nodeApply, error) {
	items := make([]BatchItem, 0, len(batch))
	for _, n := range batch {
		items = append(items, BatchItem{
			Indexed: promote,
			From:    n.Writer,
			Length:  n.Length,
			Value:   n.Value,
			Heads:   n.Heads,
		})
	}

	prevApplying := b.applying
	rec := &nodeApply{viewBlocks: make(map[string]int)}
	b.applying = &updateRecord{viewBlocks: make(map[string][][]byte)}
	sysBefore := b.sys.PendingChanges()

	if b.opts.Apply != nil {
		if err := b.opts.Apply(items, b.userView, b); err != nil {
			b.applying = prevApplying
			b.log.Error("apply failed", zap.Int("batch_size", len(batch)), zap.Error(err))
			return nil, fmt.Errorf("autobase: apply: %w", err)
		}
	}

	for name, blocks := range b.applying.viewBlocks {
		v, ok := b.viewStore.View(name)
		if !ok {
			continue
		}
		v.Commit(blocks)
		rec.viewBlocks[name] = len(blocks)
		if promote {
			if err := v.Index(len(blocks)); err != nil {
				b.applying = prevApplying
				return nil, err
			}
			delete(rec.viewBlocks, name)
		}
	}
	rec.systemChangeIDs = b.sys.RecentPendingIDs(b.sys.PendingChanges() - sysBefore)
	if promote {
		// This batch is already indexed, not merely speculative tip
		// content: its system changes commit immediately rather than
		// waiting for a later promotion (spec §4.5 step 3).
		b.confirmPending(rec.systemChangeIDs)
	}
	b.applying = prevApplying
	return rec, nil
}

// collectBatch scans indexed starting at i for one atomic group
// (stopping at the member whose node is a batch tail) and returns the
// raw node slice plus the index immediately after it.
func collectBatch(indexed []*linearizer.IndexedNode, i int) ([]*node.Node, int) {
	batch := make([]*node.Node, 0, 1)
	for ; i < len(indexed); i++ {
		batch = append(batch, indexed[i].Node)
		if indexed[i].Node.IsBatchTail() {
			i++
			break
		}
	}
	return batch, i
}

// collectPlainBatch is collectBatch's counterpart over a plain node
// slice (the linearizer's Tip).
func collectPlainBatch(nodes []*node.Node, i int) ([]*node.Node, int) {
	batch := make([]*node.Node, 0, 1)
	for ; i < len(nodes); i++ {
		batch = append(batch, nodes[i])
		if nodes[i].IsBatchTail() {
			i++
			break
		}
	}
	return batch, i
}

// cleanupRemoved drops any removed writer whose own log is now fully
// indexed (spec §4.5 step 6, "close any writer that has been removed
// and has drained"). A removed writer stays on b.removed, and Lookup
// keeps resolving it, only so that another writer's still-pending node
// can still chase a dependency authored before the removal; once that
// writer's tail is entirely indexed no unresolved head can name it any
// longer, since EnsureNext drops an indexed dependency by swap-and-pop
// without ever calling GetCached on it.
func (b *Autobase) cleanupRemoved() {
	if len(b.removed) == 0 {
		return
	}
	kept := b.removed[:0]
	for _, w := range b.removed {
		if w.Indexed() < w.Length() {
			kept = append(kept, w)
			continue
		}
		b.log.Info("removed writer drained", zap.String("writer", w.Key))
	}
	b.removed = kept
}
