// Package autobase implements the orchestrator described in spec §4.5:
// the top-level state machine that ingests local appends, drives the
// linearizer, runs the user apply over new batches, flushes committed
// blocks to the underlying logs, writes checkpoints into the local
// writer's log, and restarts when membership changes.
package autobase

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lineage/lineage/linearizer"
	"github.com/lineage/lineage/oplog"
	"github.com/lineage/lineage/storage"
	"github.com/lineage/lineage/systemview"
	"github.com/lineage/lineage/view"
	"github.com/lineage/lineage/writer"
)

// Autobase is the orchestrator. Every exported method is safe to call
// from any goroutine; state mutation itself always happens on the single
// background loop goroutine (spec §5).
type Autobase struct {
	store *storage.Store
	opts  Options
	log   *zap.Logger

	localWriter *writer.Writer
	writers     map[string]*writer.Writer
	removed     []*writer.Writer

	sys    *systemview.SystemView
	sysLog *storage.Log

	lin *linearizer.Linearizer

	viewStore *view.Store
	userView  any

	applying *updateRecord

	// tipOrder mirrors the linearizer's own notion of the current tip, in
	// the same order, so a later Popped count can be translated back into
	// which applied records to undo.
	tipOrder []string
	applied  map[string]*nodeApply

	appendQueue []*appendRequest

	totalIndexed       int
	lastFlushedIndexed int
	checkpoint         *oplog.Checkpoint

	// membershipChanged is true once some batch's system changes have
	// been confirmed (spec §4.5 step 3) during the current advance tick,
	// reset at the top of each tick. It is what actually gates a restart,
	// never the raw presence of still-speculative pending changes.
	membershipChanged bool

	// debounce machinery (spec §9: "a single task with a dirty flag and
	// a one-slot wake channel")
	mu      sync.Mutex
	dirty   bool
	waiters []chan error
	bumpCh  chan struct{}
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool

	checkpointGroup singleflight.Group
}

// Open constructs an Autobase over store using opts, bootstrapping the
// SystemView and local writer as needed, and starts its background
// advance loop.
func Open(store *storage.Store, opts Options) (*Autobase, error) {
	sysLog, err := storage.OpenLog(store, "system")
	if err != nil {
		return nil, fmt.Errorf("autobase: open system log: %w", err)
	}
	sys, err := systemview.Open(sysLog)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Autobase{
		store:   store,
		opts:    opts,
		log:     logger,
		writers: make(map[string]*writer.Writer),
		sys:     sys,
		sysLog:  sysLog,
		applied: make(map[string]*nodeApply),
		bumpCh:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
	b.viewStore = view.NewStore(store, b)

	if opts.Open != nil {
		userView, err := opts.Open(b.viewStore, b)
		if err != nil {
			return nil, fmt.Errorf("autobase: open user view: %w", err)
		}
		b.userView = userView
	}

	if err := b.rebuildFromSystemView(); err != nil {
		return nil, err
	}

	b.wg.Add(1)
	go b.loop()

	if err := b.requestAdvanceAndWait(); err != nil {
		return nil, err
	}
	return b, nil
}

// Close shuts down the background advance loop, waiting for any in-flight
// apply/flush to complete cleanly first (spec §5, "Cancellation").
func (b *Autobase) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	close(b.closeCh)
	b.wg.Wait()
	return b.store.Close()
}

// System returns the SystemView, letting an apply handler mutate
// membership (spec §4.3).
func (b *Autobase) System() *systemview.SystemView {
	return b.sys
}

// Views returns the ViewStore backing every named materialized log.
func (b *Autobase) Views() *view.Store {
	return b.viewStore
}

// UserView returns the object constructed by Options.Open.
func (b *Autobase) UserView() any {
	return b.userView
}

// Writable reports whether this process has a local writer.
func (b *Autobase) Writable() bool {
	return b.localWriter != nil
}

// Lookup implements writer.Registry, falling back to the removed-writer
// list so dependencies authored before a membership removal can still
// resolve.
func (b *Autobase) Lookup(key string) (*writer.Writer, bool) {
	if w, ok := b.writers[key]; ok {
		return w, true
	}
	for _, w := range b.removed {
		if w.Key == key {
			return w, true
		}
	}
	return nil, false
}

// IsIndexed implements writer.IndexChecker by delegating to the
// SystemView.
func (b *Autobase) IsIndexed(key string, length int) bool {
	return b.sys.IsIndexed(key, length)
}

// OnUserAppend implements view.AppendSink: every block the apply handler
// appends to a view is buffered on the Update record currently open,
// enforcing spec §7's "Apply-violation" rule structurally rather than via
// a counter check, since there is no active record outside apply.
func (b *Autobase) OnUserAppend(viewName string, blocks [][]byte) error {
	if b.applying == nil {
		return ErrApplyViolation
	}
	if b.applying.viewBlocks == nil {
		b.applying.viewBlocks = make(map[string][][]byte)
	}
	b.applying.viewBlocks[viewName] = append(b.applying.viewBlocks[viewName], blocks...)
	return nil
}

func (b *Autobase) ensureWriter(key string) (*writer.Writer, error) {
	if w, ok := b.writers[key]; ok {
		return w, nil
	}
	log, err := storage.OpenLog(b.store, "writer/"+key)
	if err != nil {
		return nil, fmt.Errorf("autobase: open writer log %s: %w", key, err)
	}

	var w *writer.Writer
	if key == b.opts.LocalKey {
		w = writer.New(key, log, log)
		b.localWriter = w
	} else {
		w = writer.New(key, log, nil)
	}
	b.writers[key] = w
	return w, nil
}
