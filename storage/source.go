package storage

// BlockSource is the read-only surface of a writer's underlying log, as
// consumed by the linearizer/writer machinery (spec §6, "consumed from the
// log transport"). It is the seam at which a real network transport would
// later be substituted; replication itself stays out of scope.
type BlockSource interface {
	Length() int
	Has(seq int) bool
	Get(seq int) ([]byte, error)
	Key() string
}

// BlockSink additionally allows appending, and is held only by the local
// writer.
type BlockSink interface {
	BlockSource
	Append(blocks [][]byte) error
}

var (
	_ BlockSource = (*Log)(nil)
	_ BlockSink   = (*Log)(nil)
)
