// Package node defines the causal-DAG vertex produced by every writer and the
// clock bookkeeping attached to it.
package node

import "fmt"

// Head is a writer's tip as observed from some other node: the writer's
// public key and the length of its log at the time of observation.
type Head struct {
	Key    string `json:"key"`
	Length int    `json:"length"`
}

// Clock maps a writer's public key to the highest length of that writer's
// log reachable from a node, excluding lengths already known to be indexed.
//
// A nil Clock means the node has been indexed and its clock was discarded
// ("GC'd") — callers must treat nil as "already absorbed into the indexed
// prefix", never as "no dependencies".
type Clock map[string]int

// Clone returns an independent copy of c, or nil if c is nil.
func (c Clock) Clone() Clock {
	if c == nil {
		return nil
	}
	out := make(Clock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Merge folds other into c, keeping the maximum length per writer. other may
// be nil, in which case c is unchanged.
func (c Clock) Merge(other Clock) {
	for k, v := range other {
		if cur, ok := c[k]; !ok || v > cur {
			c[k] = v
		}
	}
}

// Node is one vertex of the causal DAG: a value appended by a single writer,
// together with the heads of other writers it observed and the resulting
// causal frontier.
type Node struct {
	Writer string `json:"writer"`
	Length int    `json:"length"`
	Value  []byte `json:"value"`

	// Heads lists the tips of other writers observed when this node was
	// produced. Writer.EnsureNext removes an entry in place (swap-and-pop)
	// when its writer has already indexed that length, and keeps the
	// entries it resolves into Dependencies; order does not matter for
	// this list.
	Heads []Head `json:"heads"`

	// Batch is a positive integer; nodes with Batch > 1 are intermediate
	// members of an atomic group whose last member has Batch == 1.
	Batch int `json:"batch"`

	// Clock is the causal frontier of this node: the highest observed
	// writer lengths reachable from it, excluding entries already known
	// to be indexed. Nil once the node is indexed.
	Clock Clock `json:"clock,omitempty"`

	// Dependencies are resolved pointers to dependency Nodes, filled in by
	// Writer.EnsureNext as heads are resolved, or by Writer.Append for a
	// local node. Not serialized: they are rebuilt on decode from Heads.
	Dependencies []*Node `json:"-"`

	// Indexed is a monotonic flag set once the linearizer commits this
	// node to the total order. It never reverts to false.
	Indexed bool `json:"-"`
}

// Key identifies a node uniquely by (writer, length).
func (n *Node) Key() string {
	return fmt.Sprintf("%s/%d", n.Writer, n.Length)
}

// IsBatchTail reports whether n is the last member of its atomic group.
func (n *Node) IsBatchTail() bool {
	return n.Batch == 1
}

// Clone returns a shallow copy of n with an independently mutable Heads
// slice and Clock map. Dependencies are shared by reference.
func (n *Node) Clone() *Node {
	clone := *n
	clone.Heads = append([]Head(nil), n.Heads...)
	clone.Clock = n.Clock.Clone()
	clone.Dependencies = append([]*Node(nil), n.Dependencies...)
	return &clone
}

// RemoveHeadAt drops the head at index i using swap-and-pop, an intentional
// O(1) choice used throughout this codebase for small unordered lists.
func (n *Node) RemoveHeadAt(i int) {
	last := len(n.Heads) - 1
	n.Heads[i] = n.Heads[last]
	n.Heads = n.Heads[:last]
}
