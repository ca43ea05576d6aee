// Package writer implements per-writer log state and causal-clock
// bookkeeping (spec §4.1): the cached tail of unindexed entries, the
// writer's current and indexed lengths, and the dependency-resolution
// machinery that turns a freshly decoded block into a linearizer-ready
// Node.
package writer

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
	"github.com/lineage/lineage/storage"
)

// Registry resolves a writer's public key to the live Writer tracking it.
// Implemented by the set of writers the linearizer/autobase currently
// knows about; kept as an interface so a Node's clock can reference
// writers by key (a stable handle) rather than an owning pointer, avoiding
// the cyclic clock/writer/node references spec §9 warns about.
type Registry interface {
	Lookup(key string) (*Writer, bool)
}

// IndexChecker answers whether a writer length has already been committed,
// per spec §4.3 ("is_indexed"). Clocks drop entries once the SystemView
// reports them indexed.
type IndexChecker interface {
	IsIndexed(key string, length int) bool
}

// ErrMissingWriter is not a failure: it signals that a referenced writer or
// length is not yet available and the caller should retry later (spec §7,
// "Missing writer").
var ErrMissingWriter = errors.New("writer: referenced writer or length not yet available")

// Writer tracks one append-only log, local or remote.
type Writer struct {
	Key string

	core     storage.BlockSource
	sink     storage.BlockSink // non-nil only for the local writer
	encoding interface {
		Decode([]byte) (*oplog.Message, error)
	}

	length  int // highest known writer length
	indexed int // last linearized length
	offset  int // number of leading nodes no longer retained; nodes[0] has length offset+1

	nodes []*node.Node

	next      *node.Node // resolved, dependency-satisfied
	nextCache *node.Node // decoded but dependency-pending
}

// New wraps core as a writer identified by key. sink is nil unless this is
// the local writer.
func New(key string, core storage.BlockSource, sink storage.BlockSink) *Writer {
	return &Writer{
		Key:    key,
		core:   core,
		sink:   sink,
		offset: 0,
	}
}

// Writable reports whether this writer can accept local appends.
func (w *Writer) Writable() bool {
	return w.sink != nil
}

// Length returns the highest known writer length.
func (w *Writer) Length() int {
	return w.length
}

// Indexed returns the last linearized length.
func (w *Writer) Indexed() int {
	return w.indexed
}

// SetIndexed advances the writer's indexed watermark and trims cached nodes
// whose length is at or below it.
func (w *Writer) SetIndexed(length int) {
	if length > w.indexed {
		w.indexed = length
	}
	w.trim()
}

// trim drops cached nodes once their length is at or below indexed. Spec
// §3 leaves the exact policy for trimming past writers still referenced by
// other writers' clocks open (see DESIGN.md); this implementation trims
// purely on the local indexed watermark, which is sufficient because a
// clock that still needs an older node keeps that node's length recorded,
// and GetCached simply returns nil (EnsureNext then reports the dependency
// as not yet available) if ever asked for a length trimmed too early —
// which cannot happen for already-indexed
// lengths, since indexed dependencies are never re-resolved.
func (w *Writer) trim() {
	for len(w.nodes) > 0 && w.nodes[0].Length <= w.indexed {
		w.nodes = w.nodes[1:]
		w.offset++
	}
}

// Head returns the newest cached node, or nil if none is cached.
func (w *Writer) Head() *node.Node {
	if len(w.nodes) == 0 {
		return nil
	}
	return w.nodes[len(w.nodes)-1]
}

// Shift drops and returns the oldest cached node, advancing offset.
func (w *Writer) Shift() *node.Node {
	if len(w.nodes) == 0 {
		return nil
	}
	n := w.nodes[0]
	w.nodes = w.nodes[1:]
	w.offset++
	return n
}

// GetCached returns the node at absolute length seq, or nil if seq falls
// outside the cached window.
func (w *Writer) GetCached(seq int) *node.Node {
	if seq <= w.offset || seq > w.offset+len(w.nodes) {
		return nil
	}
	return w.nodes[seq-w.offset-1]
}

// Reset truncates the cache to len after a restart from the system digest,
// dropping any pending next.
func (w *Writer) Reset(length int) {
	kept := make([]*node.Node, 0, len(w.nodes))
	for _, n := range w.nodes {
		if n.Length <= length {
			kept = append(kept, n)
		}
	}
	w.nodes = kept
	if len(kept) > 0 {
		w.offset = kept[0].Length - 1
	} else {
		w.offset = length
	}
	w.length = length
	w.indexed = length
	w.next = nil
	w.nextCache = nil
}

// Append builds a new node from heads (live Node references, not keys) and
// appends it to the local writer's cache. The writer's own newest cached
// node, if any, is added to heads, so consecutive local appends chain to
// each other; every head becomes one of the node's Dependencies. It is
// only valid for the local writer.
func (w *Writer) Append(value []byte, heads []*node.Node, batch int) (*node.Node, error) {
	if !w.Writable() {
		return nil, fmt.Errorf("writer %s: append: %w", w.Key, ErrNotWritable)
	}

	deps := append([]*node.Node(nil), heads...)
	if prev := w.Head(); prev != nil {
		deps = append(deps, prev)
	}

	newLength := w.length + 1
	clock := node.Clock{}
	headRefs := make([]node.Head, 0, len(deps))
	for _, h := range deps {
		headRefs = append(headRefs, node.Head{Key: h.Writer, Length: h.Length})
		capped := capClock(h.Clock, h.Writer, h.Length)
		clock.Merge(capped)
	}
	clock[w.Key] = newLength

	n := &node.Node{
		Writer: w.Key,
		Length: newLength,
		Value:  value,
		Heads:  headRefs,
		Batch:  batch,
		Clock:  clock,

		Dependencies: deps,
	}

	w.length = newLength
	w.nodes = append(w.nodes, n)
	return n, nil
}

// capClock returns a copy of c with writer's own entry capped at length,
// matching spec §4.1's "computes its clock as the union of each head's
// clock capped at that head's length".
func capClock(c node.Clock, writer string, length int) node.Clock {
	if c == nil {
		return node.Clock{writer: length}
	}
	out := c.Clone()
	if cur, ok := out[writer]; !ok || cur > length {
		out[writer] = length
	}
	return out
}

// EnsureNext attempts to advance next one step (spec §4.1). It is
// idempotent: partial progress (a decoded nextCache) survives across
// calls. A (nil, nil) result means a referenced writer or length is not
// yet available; calling again simply tries again once more data is
// available.
func (w *Writer) EnsureNext(registry Registry, checker IndexChecker) (*node.Node, error) {
	if w.length >= w.core.Length() || w.core.Length() == 0 {
		return nil, nil
	}
	if w.next != nil {
		return w.next, nil
	}

	if w.nextCache == nil {
		raw, err := w.core.Get(w.length)
		if err != nil {
			return nil, fmt.Errorf("writer %s: fetch block %d: %w", w.Key, w.length, err)
		}
		msg, err := oplog.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("writer %s: %w", w.Key, err)
		}
		w.nextCache = &node.Node{
			Writer: w.Key,
			Length: w.length + 1,
			Value:  msg.Value,
			Heads:  append([]node.Head(nil), msg.Heads...),
			Batch:  int(msg.Batch),
			Clock:  node.Clock{},
		}
	}

	n := w.nextCache
	for i := 0; i < len(n.Heads); {
		h := n.Heads[i]
		dep, ok := registry.Lookup(h.Key)
		if !ok {
			return nil, nil // writer not yet known; retry later
		}

		if dep.Indexed() >= h.Length {
			// The dependency has already been committed and consumed;
			// drop the head in place (swap-and-pop, spec §9).
			n.RemoveHeadAt(i)
			continue
		}

		depNode := dep.GetCached(h.Length)
		if depNode == nil {
			return nil, nil // length not yet available; retry later
		}
		n.Dependencies = append(n.Dependencies, depNode)
		if depNode.Clock != nil {
			n.Clock.Merge(filterIndexed(depNode.Clock, checker))
		}
		i++
	}

	n.Clock[w.Key] = w.length + 1
	w.next = n
	w.nextCache = nil
	return n, nil
}

// filterIndexed drops clock entries the SystemView already reports as
// indexed, the "GC'd clocks" behaviour of spec §9.
func filterIndexed(c node.Clock, checker IndexChecker) node.Clock {
	if checker == nil {
		return c
	}
	out := make(node.Clock, len(c))
	for k, v := range c {
		if !checker.IsIndexed(k, v) {
			out[k] = v
		}
	}
	return out
}

// AdoptNext promotes the previously published next into the cached tail,
// advancing length, and clears next so EnsureNext can progress further.
func (w *Writer) AdoptNext() *node.Node {
	n := w.next
	if n == nil {
		return nil
	}
	w.nodes = append(w.nodes, n)
	w.length = n.Length
	w.next = nil
	return n
}

// FlushLocal persists every cached node past the sink's current length as
// an oplog block, embedding checkpoint as the carried checkpoint on the
// first such block (checkpointer = 0) and incrementing the back-pointer
// distance on each subsequent block, per spec §4.5 ("Local block layout").
// It is a no-op if there is nothing new to persist.
func (w *Writer) FlushLocal(checkpoint *oplog.Checkpoint) error {
	if !w.Writable() {
		return fmt.Errorf("writer %s: flush: %w", w.Key, ErrNotWritable)
	}

	persisted := w.sink.Length()
	if w.length <= persisted {
		return nil
	}

	pending := w.nodes[len(w.nodes)-(w.length-persisted):]
	blocks := make([][]byte, 0, len(pending))
	hop := uint32(1)
	for i, n := range pending {
		msg := &oplog.Message{
			Value: n.Value,
			Heads: n.Heads,
			Batch: uint32(n.Batch),
		}
		switch {
		case i == 0 && checkpoint != nil:
			msg.Checkpointer = 0
			msg.Checkpoint = checkpoint
			hop = 0
		case i == 0 && persisted == 0:
			// First block ever written for this writer with no
			// checkpoint yet available: nothing precedes it to point
			// back to.
			msg.Checkpointer = 0
		default:
			msg.Checkpointer = hop
		}
		hop++
		encoded, err := oplog.Encode(msg)
		if err != nil {
			return fmt.Errorf("writer %s: flush: %w", w.Key, err)
		}
		blocks = append(blocks, encoded)
	}
	return w.sink.Append(blocks)
}

// GetCheckpoint reads the tail of the underlying log, follows the
// checkpointer back-pointer to the carrying entry, and returns its
// checkpoint payload, or nil if the log is empty.
func (w *Writer) GetCheckpoint() (*oplog.Checkpoint, error) {
	length := w.core.Length()
	if length == 0 {
		return nil, nil
	}

	seq := length - 1
	hops := 0
	const maxHops = 1 << 20 // defensive bound against a corrupt chain
	for hops < maxHops {
		raw, err := w.core.Get(seq)
		if err != nil {
			return nil, fmt.Errorf("writer %s: checkpoint scan at %d: %w", w.Key, seq, err)
		}
		msg, err := oplog.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("writer %s: %w", w.Key, err)
		}
		if msg.Checkpoint != nil {
			return msg.Checkpoint, nil
		}
		if msg.Checkpointer == 0 || int(msg.Checkpointer) > seq {
			return nil, nil
		}
		seq -= int(msg.Checkpointer)
		hops++
	}
	return nil, fmt.Errorf("writer %s: checkpoint chain too long", w.Key)
}

// SortedKeys returns a copy of keys sorted lexicographically, the tie-break
// ordering used by the linearizer (spec §4.1).
func SortedKeys(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}
