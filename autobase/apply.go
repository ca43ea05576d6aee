package autobase

import "github.com/lineage/lineage/node"

// nodeApply is the bookkeeping kept for one already-applied batch, shared
// by every node key belonging to that batch, so a later Popped count can
// locate and undo exactly the view/system side effects that batch
// produced (spec §3, "Update" record; spec §4.4, "Undo").
type nodeApply struct {
	viewBlocks      map[string]int // view name -> blocks appended
	systemChangeIDs []int          // SystemView pending-change ids queued by this batch's apply call
	undone          bool
	promoted        bool
}

// keysOf returns the node-key list of a batch, in order.
func keysOf(batch []*node.Node) []string {
	out := make([]string, 0, len(batch))
	for _, n := range batch {
		out = append(out, n.Key())
	}
	return out
}
