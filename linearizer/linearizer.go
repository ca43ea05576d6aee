// Package linearizer implements the deterministic total order described in
// spec §4.2: it collapses the causal DAG discovered through writer heads
// into a single committed sequence, discovering the prefix that can no
// longer change and the prefix that must be undone when a new head
// disagrees with a previous tip.
package linearizer

import (
	"container/heap"

	"github.com/lineage/lineage/node"
)

// IndexedNode is one node newly committed to the total order by a call to
// Update. AdvancedSystem is not computed by the linearizer itself — it is
// set by the orchestrator once it has matched this node against the
// Update record produced when the node was originally applied (spec
// §4.5), since only the orchestrator knows whether that apply touched the
// system writer. It stays false for a node replayed from a prior run,
// which is not applied again.
type IndexedNode struct {
	Node           *node.Node
	BatchTail      bool
	AdvancedSystem bool
}

// Update is the result of a successful call to Update: a prefix extension
// plus whatever tip entries must be undone because the new order disagrees
// with the previously reported one.
type Update struct {
	Indexed []*IndexedNode
	Tip     []*node.Node
	Shared  int
	Popped  int
	Length  int
}

// Linearizer owns the set of indexer writers and their published heads and
// computes, on each call to Update, the deterministic linear extension of
// the causal DAG induced by those heads.
type Linearizer struct {
	indexers map[string]struct{}
	heads    map[string]*node.Node
	prevTip  []*node.Node
	dirty    bool
}

// New creates a Linearizer whose authoritative indexer set is indexerKeys.
func New(indexerKeys []string) *Linearizer {
	l := &Linearizer{heads: map[string]*node.Node{}}
	l.SetIndexers(indexerKeys)
	return l
}

// SetIndexers replaces the authoritative indexer set. Used by New to seed a
// freshly constructed Linearizer; a membership change at runtime goes
// through a full restart (a new Linearizer altogether, spec §4.5) rather
// than calling this on the live instance, since it has no way to prune
// heads belonging to writers no longer in keys.
func (l *Linearizer) SetIndexers(keys []string) {
	l.indexers = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		l.indexers[k] = struct{}{}
	}
	l.dirty = true
}

// Indexers returns the current indexer key set.
func (l *Linearizer) Indexers() []string {
	out := make([]string, 0, len(l.indexers))
	for k := range l.indexers {
		out = append(out, k)
	}
	return out
}

// AddHead registers n as the current candidate tip for its writer. A head
// equal (by key) to the one already on file is a no-op, preserving
// Update's idempotence guarantee.
func (l *Linearizer) AddHead(n *node.Node) {
	if n == nil {
		return
	}
	if cur, ok := l.heads[n.Writer]; ok && cur != nil && cur.Key() == n.Key() {
		return
	}
	l.heads[n.Writer] = n
	l.dirty = true
}

// Update computes the deterministic linear extension of the DAG induced by
// the current heads. It returns nil if nothing has changed since the
// previous call (spec §8, "Idempotence").
func (l *Linearizer) Update() *Update {
	if !l.dirty {
		return nil
	}
	l.dirty = false

	candidates := l.collectCandidates()
	if len(candidates) == 0 && len(l.prevTip) == 0 {
		return nil
	}

	order := topoOrder(candidates)

	breakpoint := 0
	for breakpoint < len(order) && l.isStable(order[breakpoint]) {
		breakpoint++
	}

	newlyIndexed := order[:breakpoint]
	tip := order[breakpoint:]

	// The previous tip's leading run that just became indexed is a normal
	// promotion, not a reorder: strip it before comparing, so "popped"
	// only counts entries genuinely displaced by a changed order.
	indexedNow := make(map[string]bool, len(newlyIndexed))
	for _, n := range newlyIndexed {
		indexedNow[n.Key()] = true
	}
	consumed := 0
	for consumed < len(l.prevTip) && indexedNow[l.prevTip[consumed].Key()] {
		consumed++
	}
	remaining := l.prevTip[consumed:]

	shared := commonPrefixLen(remaining, tip)
	popped := len(remaining) - shared

	indexed := make([]*IndexedNode, 0, len(newlyIndexed))
	for _, n := range newlyIndexed {
		n.Indexed = true
		indexed = append(indexed, &IndexedNode{Node: n, BatchTail: n.IsBatchTail()})
		n.Clock = nil // GC'd: nothing resolves a dependency against an indexed node's clock
	}

	l.prevTip = tip

	return &Update{
		Indexed: indexed,
		Tip:     tip,
		Shared:  shared,
		Popped:  popped,
		Length:  len(indexed) + len(tip),
	}
}

// collectCandidates walks back from every current head through
// Dependencies, stopping at already-indexed nodes, and returns the set of
// unindexed nodes reachable this way.
func (l *Linearizer) collectCandidates() []*node.Node {
	visited := make(map[string]*node.Node)
	stack := make([]*node.Node, 0, len(l.heads))
	for _, h := range l.heads {
		if h != nil && !h.Indexed {
			stack = append(stack, h)
		}
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.Indexed {
			continue
		}
		if _, ok := visited[n.Key()]; ok {
			continue
		}
		visited[n.Key()] = n
		for _, d := range n.Dependencies {
			if d != nil && !d.Indexed {
				stack = append(stack, d)
			}
		}
	}
	out := make([]*node.Node, 0, len(visited))
	for _, n := range visited {
		out = append(out, n)
	}
	return out
}

// isStable reports whether n's position in the order can no longer change
// regardless of which future heads appear: every current indexer writer
// must already have n in its causal frontier.
func (l *Linearizer) isStable(n *node.Node) bool {
	if len(l.indexers) == 0 {
		return false
	}
	for key := range l.indexers {
		h, ok := l.heads[key]
		if !ok || h == nil || h.Indexed {
			return false
		}
		if h.Clock == nil || h.Clock[n.Writer] < n.Length {
			return false
		}
	}
	return true
}

func commonPrefixLen(a, b []*node.Node) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i].Key() == b[i].Key() {
		i++
	}
	return i
}

// topoOrder computes the tie-break-deterministic linear extension of
// candidates: a Kahn's-algorithm topological sort that, among nodes ready
// to be placed, always picks the one with the lexicographically smallest
// (writer key, length) pair (spec §4.1, "Tie-break ordering").
func topoOrder(candidates []*node.Node) []*node.Node {
	set := make(map[string]*node.Node, len(candidates))
	for _, n := range candidates {
		set[n.Key()] = n
	}

	indegree := make(map[string]int, len(candidates))
	dependents := make(map[string][]*node.Node, len(candidates))
	for _, n := range candidates {
		count := 0
		for _, d := range n.Dependencies {
			if d == nil {
				continue
			}
			if _, ok := set[d.Key()]; ok {
				count++
				dependents[d.Key()] = append(dependents[d.Key()], n)
			}
		}
		indegree[n.Key()] = count
	}

	ready := &nodeHeap{}
	heap.Init(ready)
	for _, n := range candidates {
		if indegree[n.Key()] == 0 {
			heap.Push(ready, n)
		}
	}

	order := make([]*node.Node, 0, len(candidates))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(*node.Node)
		order = append(order, n)
		for _, dep := range dependents[n.Key()] {
			indegree[dep.Key()]--
			if indegree[dep.Key()] == 0 {
				heap.Push(ready, dep)
			}
		}
	}
	return order
}

// nodeHeap orders nodes by (writer key, length), ascending.
type nodeHeap []*node.Node

func (h nodeHeap) Len() int { return len(h) }
func (h nodeHeap) Less(i, j int) bool {
	if h[i].Writer != h[j].Writer {
		return h[i].Writer < h[j].Writer
	}
	return h[i].Length < h[j].Length
}
func (h nodeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *nodeHeap) Push(x any)   { *h = append(*h, x.(*node.Node)) }
func (h *nodeHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
