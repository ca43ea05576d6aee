package linearizer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lineage/lineage/linearizer"
	"github.com/lineage/lineage/node"
)

func mkNode(writer string, length int, clock node.Clock, deps ...*node.Node) *node.Node {
	return &node.Node{
		Writer:       writer,
		Length:       length,
		Batch:        1,
		Clock:        clock,
		Dependencies: deps,
	}
}

// TestUpdateIdempotent covers spec §8's universal invariant: calling
// Update with no new heads is a no-op.
func TestUpdateIdempotent(t *testing.T) {
	l := linearizer.New([]string{"A"})
	require.Nil(t, l.Update())

	a1 := mkNode("A", 1, node.Clock{"A": 1})
	l.AddHead(a1)
	u := l.Update()
	require.NotNil(t, u)

	require.Nil(t, l.Update())

	l.AddHead(a1)
	require.Nil(t, l.Update())
}

// TestTwoWritersMerge implements spec §8 scenario 2: disjoint appends from
// A and B merge into a single node observing both, ordered by writer key.
func TestTwoWritersMerge(t *testing.T) {
	l := linearizer.New([]string{"A", "B"})

	x := mkNode("A", 1, node.Clock{"A": 1})
	y := mkNode("B", 1, node.Clock{"B": 1})
	z := mkNode("A", 2, node.Clock{"A": 2, "B": 1}, x, y)

	l.AddHead(x)
	l.AddHead(y)
	l.AddHead(z)

	u := l.Update()
	require.NotNil(t, u)

	var order []string
	for _, in := range u.Indexed {
		order = append(order, in.Node.Key())
	}
	for _, n := range u.Tip {
		order = append(order, n.Key())
	}
	require.Equal(t, []string{"A/1", "B/1", "A/2"}, order)
}

// TestPoppedOnReorder implements spec §8 scenario 3: a late-arriving head
// from a writer whose public key sorts earlier than the existing tip
// forces the existing tip to be undone, since tie-break is purely
// lexicographic over writer keys and carries no notion of arrival order.
func TestPoppedOnReorder(t *testing.T) {
	const keyA = "4141" // sorts after keyC
	const keyB = "4242" // sorts after keyA
	const keyC = "0101" // sorts before keyA and keyB

	l := linearizer.New([]string{keyA, keyB})

	a1 := mkNode(keyA, 1, node.Clock{keyA: 1})
	b1 := mkNode(keyB, 1, node.Clock{keyB: 1})
	l.AddHead(a1)
	l.AddHead(b1)

	first := l.Update()
	require.NotNil(t, first)
	require.Equal(t, []string{keyA + "/1", keyB + "/1"}, tipKeys(first.Tip))

	c1 := mkNode(keyC, 1, node.Clock{keyC: 1})
	l.AddHead(c1)

	second := l.Update()
	require.NotNil(t, second)
	require.Equal(t, 2, second.Popped)
	require.Equal(t, []string{keyC + "/1", keyA + "/1", keyB + "/1"}, tipKeys(second.Tip))
}

func tipKeys(nodes []*node.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.Key())
	}
	return out
}

func TestTieBreakDeterministic(t *testing.T) {
	l1 := linearizer.New([]string{"A", "B"})
	l2 := linearizer.New([]string{"A", "B"})

	a1 := mkNode("A", 1, node.Clock{"A": 1})
	b1 := mkNode("B", 1, node.Clock{"B": 1})

	for _, l := range []*linearizer.Linearizer{l1, l2} {
		l.AddHead(a1)
		l.AddHead(b1)
	}

	u1 := l1.Update()
	u2 := l2.Update()
	require.Equal(t, len(u1.Tip), len(u2.Tip))
	for i := range u1.Tip {
		require.Equal(t, u1.Tip[i].Key(), u2.Tip[i].Key())
	}
}
