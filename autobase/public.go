package autobase

import (
	"fmt"

	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
)

// appendRequest is a local append waiting to be folded into the next
// advance run by the loop goroutine (spec §5.A: public methods hand off
// to the single mutating goroutine rather than taking a lock on the
// state itself). values holds one or more entries submitted together,
// realizing spec §6's overloaded "append(value | value[])": every value
// in one request is folded into a single apply call as one atomic batch.
type appendRequest struct {
	values   [][]byte
	resultCh chan appendBatchResult
}

type appendBatchResult struct {
	lengths []int
	err     error
}

// Append appends value to the local writer's log, observing every other
// currently known writer's head as a causal dependency (spec §6, public
// operation "Append"). It blocks until the append has been folded into
// the linearizer's view of the DAG.
func (b *Autobase) Append(value []byte) (int, error) {
	lengths, err := b.AppendBatch([][]byte{value})
	if err != nil {
		return 0, err
	}
	return lengths[0], nil
}

// AppendBatch appends every value in values as one atomic group: batch
// fields count down from len(values) to 1, so a single apply call
// receives the whole group together (spec §8, scenario 1). It blocks
// until the group has been folded into the linearizer's view of the DAG.
func (b *Autobase) AppendBatch(values [][]byte) ([]int, error) {
	if b.localWriter == nil {
		return nil, ErrNotWritable
	}
	if len(values) == 0 {
		return nil, nil
	}

	req := &appendRequest{values: values, resultCh: make(chan appendBatchResult, 1)}
	b.mu.Lock()
	b.appendQueue = append(b.appendQueue, req)
	b.dirty = true
	b.mu.Unlock()

	select {
	case b.bumpCh <- struct{}{}:
	default:
	}

	res := <-req.resultCh
	return res.lengths, res.err
}

// Ack acknowledges that this process has observed every writer update it
// currently knows about, forcing one advance pass without appending
// anything itself (spec §6, public operation "Ack").
func (b *Autobase) Ack() error {
	return b.requestAdvanceAndWait()
}

// Update forces (or, if wait is false, merely schedules) a linearizer
// pass and returns the resulting total indexed length (spec §6, public
// operation "Update").
func (b *Autobase) Update(wait bool) (int, error) {
	if wait {
		if err := b.requestAdvanceAndWait(); err != nil {
			return 0, err
		}
	} else {
		b.requestAdvance()
	}
	return b.totalIndexed, nil
}

// Checkpoint returns the SystemView's last flushed checkpoint or, before
// any digest carries one, the checkpoint found on the local writer's own
// log. Other writers' logs are not consulted, so this is not the
// greatest-length checkpoint across all writers. Concurrent callers collapse into a single scan via singleflight,
// since this is a read-only operation over logs that may be read
// concurrently (spec §5, "shared-resource policy").
func (b *Autobase) Checkpoint() (*oplog.Checkpoint, error) {
	v, err, _ := b.checkpointGroup.Do("checkpoint", func() (any, error) {
		return b.resolveCheckpoint()
	})
	if err != nil {
		return nil, err
	}
	cp, _ := v.(*oplog.Checkpoint)
	return cp, nil
}

// currentHeadsLocked returns the current head node of every tracked
// writer other than the local one, for use as the dependency set of a
// fresh local append (Writer.Append adds the local writer's own newest
// node itself). Only called from the loop goroutine.
func (b *Autobase) currentHeadsLocked() []*node.Node {
	heads := make([]*node.Node, 0, len(b.writers))
	for key, w := range b.writers {
		if key == b.opts.LocalKey {
			continue
		}
		if h := w.Head(); h != nil {
			heads = append(heads, h)
		}
	}
	return heads
}

// drainAppendQueue detaches the queued append requests under the
// handshake mutex, leaving the queue empty for the next tick.
func (b *Autobase) drainAppendQueue() []*appendRequest {
	b.mu.Lock()
	reqs := b.appendQueue
	b.appendQueue = nil
	b.mu.Unlock()
	return reqs
}

// applyLocalAppends folds every queued append request into the local
// writer's log and registers the resulting nodes as the linearizer's new
// head for that writer. Within one request, batch counts down to 1 on
// the last value, per spec §4.5 step 1 ("the batch length decreases to 1
// on the last element so the apply handler can detect atomic groups").
func (b *Autobase) applyLocalAppends(reqs []*appendRequest) {
	for _, req := range reqs {
		lengths := make([]int, 0, len(req.values))
		var failed error
		for i, value := range req.values {
			heads := b.currentHeadsLocked()
			batch := len(req.values) - i
			n, err := b.localWriter.Append(value, heads, batch)
			if err != nil {
				failed = fmt.Errorf("autobase: append: %w", err)
				break
			}
			b.lin.AddHead(n)
			lengths = append(lengths, n.Length)
		}
		if failed != nil {
			req.resultCh <- appendBatchResult{err: failed}
			continue
		}
		req.resultCh <- appendBatchResult{lengths: lengths}
	}
}
