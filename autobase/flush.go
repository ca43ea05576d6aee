package autobase

import (
	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
)

// flushLocal persists every newly cached node of the local writer to its
// underlying log, embedding the most recent checkpoint (spec §4.5,
// "Local block layout").
func (b *Autobase) flushLocal() error {
	if b.localWriter == nil {
		return nil
	}
	cp := b.checkpoint
	if cp == nil {
		cp = &oplog.Checkpoint{Length: b.totalIndexed}
	}
	return b.localWriter.FlushLocal(cp)
}

// flushSystem persists a fresh SystemView digest whenever this tick
// confirmed a membership change (spec §4.5 step 3 — only changes
// attributable to nodes that actually landed in the indexed region ever
// reach b.membershipChanged, via confirmPending) or the indexed prefix
// merely advanced with no membership change at all, since the digest is
// the only place writer indexed watermarks survive a restart — without
// this, a restarted process would replay and reapply nodes the previous
// process had already indexed (spec §4.5, "Checkpoint"). The returned
// bool reports only whether membership itself changed, signalling the
// caller to restart.
func (b *Autobase) flushSystem() (bool, error) {
	indexedAdvanced := b.totalIndexed > b.lastFlushedIndexed
	if !b.membershipChanged && !indexedAdvanced {
		return false, nil
	}
	cp := b.checkpoint
	if cp == nil {
		cp = &oplog.Checkpoint{Length: b.totalIndexed}
	}
	if err := b.sys.Flush(b.digestHeads(), cp); err != nil {
		return false, err
	}
	b.checkpoint = cp
	b.lastFlushedIndexed = b.totalIndexed
	return b.membershipChanged, nil
}

// digestHeads snapshots the current head of every indexer writer, for
// embedding into the next SystemView digest.
func (b *Autobase) digestHeads() []node.Head {
	keys := b.sys.Writers()
	out := make([]node.Head, 0, len(keys))
	for _, k := range keys {
		w, ok := b.writers[k]
		if !ok {
			continue
		}
		out = append(out, node.Head{Key: k, Length: w.Length()})
	}
	return out
}
