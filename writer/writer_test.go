package writer_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lineage/lineage/node"
	"github.com/lineage/lineage/oplog"
	"github.com/lineage/lineage/writer"
)

// memLog is a minimal in-memory stand-in for storage.Log, mirroring the
// mockRepo pattern the teacher's handlers_test.go uses in place of real
// LevelDB.
type memLog struct {
	key    string
	blocks [][]byte
}

func (m *memLog) Key() string        { return m.key }
func (m *memLog) Length() int        { return len(m.blocks) }
func (m *memLog) Has(seq int) bool   { return seq >= 0 && seq < len(m.blocks) }
func (m *memLog) Get(seq int) ([]byte, error) {
	if !m.Has(seq) {
		return nil, errNotFound
	}
	return m.blocks[seq], nil
}
func (m *memLog) Append(blocks [][]byte) error {
	m.blocks = append(m.blocks, blocks...)
	return nil
}

type registry map[string]*writer.Writer

func (r registry) Lookup(key string) (*writer.Writer, bool) {
	w, ok := r[key]
	return w, ok
}

type alwaysUnindexed struct{}

func (alwaysUnindexed) IsIndexed(string, int) bool { return false }

func TestWriterAppendAndFlush(t *testing.T) {
	core := &memLog{key: "writer/a"}
	w := writer.New("A", core, core)

	n, err := w.Append([]byte("v1"), nil, 1)
	require.NoError(t, err)
	require.Equal(t, 1, n.Length)
	require.Equal(t, 1, w.Length())

	require.NoError(t, w.FlushLocal(nil))
	require.Equal(t, 1, core.Length())

	raw, err := core.Get(0)
	require.NoError(t, err)
	msg, err := oplog.Decode(raw)
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), msg.Value)
	require.Equal(t, uint32(0), msg.Checkpointer)
}

func TestWriterFlushEmbedsCheckpoint(t *testing.T) {
	core := &memLog{key: "writer/a"}
	w := writer.New("A", core, core)

	_, err := w.Append([]byte("v1"), nil, 1)
	require.NoError(t, err)
	require.NoError(t, w.FlushLocal(nil))

	_, err = w.Append([]byte("v2"), nil, 1)
	require.NoError(t, err)
	require.NoError(t, w.FlushLocal(&oplog.Checkpoint{Length: 1}))

	raw, err := core.Get(1)
	require.NoError(t, err)
	msg, err := oplog.Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, msg.Checkpoint)
	require.Equal(t, 1, msg.Checkpoint.Length)
	require.Equal(t, uint32(0), msg.Checkpointer)
}

func TestEnsureNextResolvesDependency(t *testing.T) {
	aCore := &memLog{key: "writer/a"}
	bCore := &memLog{key: "writer/b"}

	a := writer.New("A", aCore, aCore)
	b := writer.New("B", bCore, bCore)

	a1, err := a.Append([]byte("a1"), nil, 1)
	require.NoError(t, err)
	require.NoError(t, a.FlushLocal(nil))

	b1, err := b.Append([]byte("b1"), []*node.Node{a1}, 1)
	require.NoError(t, err)
	require.NoError(t, b.FlushLocal(nil))
	require.Len(t, b1.Heads, 1)

	// Simulate b as a freshly-attached remote writer with nothing cached
	// yet, forcing EnsureNext to decode and resolve from the raw log.
	fresh := writer.New("B", bCore, nil)
	reg := registry{"A": a, "B": fresh}

	n, err := fresh.EnsureNext(reg, alwaysUnindexed{})
	require.NoError(t, err)
	require.NotNil(t, n)
	require.Len(t, n.Dependencies, 1)
	require.Equal(t, "A/1", n.Dependencies[0].Key())
}

func TestEnsureNextRetriesOnMissingDependency(t *testing.T) {
	aCore := &memLog{key: "writer/a"}
	bCore := &memLog{key: "writer/b"}

	a := writer.New("A", aCore, aCore)
	b := writer.New("B", bCore, bCore)

	a1, err := a.Append([]byte("a1"), nil, 1)
	require.NoError(t, err)
	require.NoError(t, a.FlushLocal(nil))

	_, err = b.Append([]byte("b1"), []*node.Node{a1}, 1)
	require.NoError(t, err)
	require.NoError(t, b.FlushLocal(nil))

	fresh := writer.New("B", bCore, nil)
	reg := registry{"B": fresh} // A is not yet known

	n, err := fresh.EnsureNext(reg, alwaysUnindexed{})
	require.NoError(t, err)
	require.Nil(t, n) // retry later, not an error
}

var errNotFound = writer.ErrMissingWriter
