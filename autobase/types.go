package autobase

import (
	"go.uber.org/zap"

	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/view"
)

// BatchItem is one entry handed to the user apply handler (spec §6,
// "Constructor options" → apply signature).
type BatchItem struct {
	Indexed bool
	From    string
	Length  int
	Value   []byte
	Heads   []node.Head
}

// ApplyFunc is the user-supplied view transformation invoked once per
// batch. base is the orchestrator itself, letting the handler reach
// base.System() to mutate membership.
type ApplyFunc func(batch []BatchItem, userView any, base *Autobase) error

// OpenFunc constructs the user's view object once, given the ViewStore.
type OpenFunc func(store *view.Store, base *Autobase) (any, error)

// Options configures an Autobase instance (spec §6, "Constructor
// options").
type Options struct {
	ValueEncoding string
	Apply         ApplyFunc
	Open          OpenFunc
	Sparse        bool

	// Bootstrap lists the writer keys that seed the SystemView the first
	// time it is opened with no prior digest.
	Bootstrap []string

	// LocalKey identifies this process's own writer. Empty means this
	// participant has no local writer (read-only).
	LocalKey string

	// Logger receives structured diagnostics for restarts, drained
	// removed writers, and apply errors. Decode failures are returned to
	// the caller, not logged. A no-op logger is used if nil.
	Logger *zap.Logger
}

// updateRecord is the record open while one apply invocation runs: it
// buffers the blocks each view receives through OnUserAppend. runBatch
// discards it once the call returns; from then on the batch's nodeApply
// record carries its view and system bookkeeping until it is indexed or
// undone. Only viewBlocks is filled in; nodeCount, system, userAppends and
// tailNode are never set.
type updateRecord struct {
	nodeCount int
	system    int
	viewBlocks map[string][][]byte // view name -> blocks appended, pending promotion to tip
	userAppends map[string]int     // view name -> block count, once promoted
	tailNode *node.Node
}
