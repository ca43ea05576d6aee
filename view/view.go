// Package view implements the named materialized logs spec §4.4 calls
// LinearizedCore and the ViewStore that creates and tracks them. Each view
// carries a persisted "indexed" region, a speculative "tip" above it, and
// an "appending" counter tracking blocks appended within the apply call
// currently in flight.
package view

import (
	"fmt"

	"github.com/lineage/lineage/storage"
)

// AppendSink receives the _on_user_append callback spec §4.4 describes:
// every block a user apply handler appends to a view is reported here so
// the orchestrator can fold it into the Update record for the current
// batch.
type AppendSink interface {
	OnUserAppend(viewName string, blocks [][]byte) error
}

// View is one named materialized log.
type View struct {
	name  string
	log   *storage.Log
	sink  AppendSink
	ready bool

	tip       [][]byte
	appending int
}

// Append records blocks appended by the user apply handler. It is the
// only mutating operation the apply handler may perform on a view (spec
// §4.4). Blocks appear in the exact order the handler issued them (spec
// §5). It returns ErrApplyViolation-wrapping errors from the sink when the
// handler appends outside of an active apply call (spec §7).
func (v *View) Append(blocks ...[]byte) error {
	if v.sink != nil {
		if err := v.sink.OnUserAppend(v.name, blocks); err != nil {
			return err
		}
	}
	v.appending += len(blocks)
	return nil
}

// Name returns the view's identifier, the external identifier named in
// spec §6.
func (v *View) Name() string {
	return v.name
}

// IsReady reports whether this view has survived past the advance tick
// that created it (spec §4.4, "pending newly-created cores are ready-ed at
// the end of each advance tick"). A view is usable by the apply handler
// that created it within that same tick regardless — only external readers
// need to wait for readiness.
func (v *View) IsReady() bool {
	return v.ready
}

// IndexedLength returns the persisted length of the view.
func (v *View) IndexedLength() int {
	return v.log.Length()
}

// TipLength returns the number of speculative blocks above the indexed
// region.
func (v *View) TipLength() int {
	return len(v.tip)
}

// Appending returns the number of blocks appended within the apply call
// currently in flight, not yet promoted to tip.
func (v *View) Appending() int {
	return v.appending
}

// ReadBlock returns the block at absolute position seq, transparently
// spanning the indexed region and the speculative tip (spec §5, "reads
// during apply see the tip plus indexed prefix").
func (v *View) ReadBlock(seq int) ([]byte, error) {
	indexed := v.log.Length()
	if seq < indexed {
		return v.log.Get(seq)
	}
	i := seq - indexed
	if i < 0 || i >= len(v.tip) {
		return nil, fmt.Errorf("view %s: block %d out of range", v.name, seq)
	}
	return v.tip[i], nil
}

// IndexedBlocks returns every block in the persisted region, scanning the
// underlying log once rather than one point read per block (spec §6.B).
func (v *View) IndexedBlocks() ([][]byte, error) {
	blocks, err := v.log.Range(0, v.log.Length())
	if err != nil {
		return nil, fmt.Errorf("view %s: %w", v.name, err)
	}
	return blocks, nil
}

// Commit promotes blocks appended during the apply call just finished
// into tip, and resets the appending counter (spec §4.4).
func (v *View) Commit(blocks [][]byte) {
	v.tip = append(v.tip, blocks...)
	v.appending = 0
}

// Undo truncates tip by k blocks, because the linearizer popped the
// Update that produced them (spec §4.4, "Undo").
func (v *View) Undo(k int) {
	if k > len(v.tip) {
		k = len(v.tip)
	}
	v.tip = v.tip[:len(v.tip)-k]
}

// Index moves the first k blocks from tip to the persisted underlying
// log, because the linearizer committed them (spec §4.4, "Index").
func (v *View) Index(k int) error {
	if k > len(v.tip) {
		k = len(v.tip)
	}
	if k == 0 {
		return nil
	}
	if err := v.log.Append(v.tip[:k]); err != nil {
		return fmt.Errorf("view %s: flush: %w", v.name, err)
	}
	v.tip = v.tip[k:]
	return nil
}
