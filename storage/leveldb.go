// Package storage provides the append-only block store that backs writer
// logs, view logs, and the SystemView digest. It wraps goleveldb the same
// way the teacher's db package wraps it for a single flat keyspace, but
// generalizes the keyspace to namespaced, length-addressed blocks so many
// independent logical logs can share one on-disk database.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a requested block does not exist.
var ErrNotFound = errors.New("storage: block not found")

// Store wraps a LevelDB handle shared by every log namespaced within it.
type Store struct {
	conn *leveldb.DB
}

// Open opens (or creates) a LevelDB instance at the given path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{conn: db}, nil
}

// Close safely closes the underlying LevelDB connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

func blockKey(namespace string, seq int) []byte {
	key := make([]byte, 0, len(namespace)+1+8)
	key = append(key, namespace...)
	key = append(key, '/')
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(seq))
	return append(key, buf[:]...)
}

// Log is a single named, length-addressed append-only log inside a Store. It
// implements BlockSource for remote/read-only use and BlockSink for the
// local writer's own log.
type Log struct {
	store     *Store
	namespace string
	length    int
}

// OpenLog attaches to (or creates) the named log within store, recovering
// its current length by scanning existing keys.
func OpenLog(store *Store, namespace string) (*Log, error) {
	l := &Log{store: store, namespace: namespace}
	length, err := l.scanLength()
	if err != nil {
		return nil, err
	}
	l.length = length
	return l, nil
}

func (l *Log) scanLength() (int, error) {
	prefix := append([]byte(l.namespace), '/')
	iter := l.store.conn.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	count := 0
	for iter.Next() {
		count++
	}
	return count, iter.Error()
}

// Key returns the namespace this log is addressed under.
func (l *Log) Key() string {
	return l.namespace
}

// Length returns the number of blocks currently stored.
func (l *Log) Length() int {
	return l.length
}

// Has reports whether block seq (0-based) has been written.
func (l *Log) Has(seq int) bool {
	return seq >= 0 && seq < l.length
}

// Get returns the raw bytes of block seq.
func (l *Log) Get(seq int) ([]byte, error) {
	if !l.Has(seq) {
		return nil, ErrNotFound
	}
	data, err := l.store.conn.Get(blockKey(l.namespace, seq), nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get %s/%d: %w", l.namespace, seq, err)
	}
	return data, nil
}

// Append writes blocks in order, assigning them the next available
// sequence numbers.
func (l *Log) Append(blocks [][]byte) error {
	batch := new(leveldb.Batch)
	for _, b := range blocks {
		batch.Put(blockKey(l.namespace, l.length), b)
		l.length++
	}
	if err := l.store.conn.Write(batch, nil); err != nil {
		return fmt.Errorf("storage: append to %s: %w", l.namespace, err)
	}
	return nil
}

// NewIterator returns a raw iterator over every block in this log, in
// sequence order.
func (l *Log) NewIterator() iterator.Iterator {
	prefix := append([]byte(l.namespace), '/')
	return l.store.conn.NewIterator(util.BytesPrefix(prefix), nil)
}

// Range returns every block with sequence number in [from, to), walking the
// log's iterator once rather than issuing one point Get per sequence
// number, for callers that want a whole span of a log at once (e.g. a
// control-plane read of a view's full indexed region).
func (l *Log) Range(from, to int) ([][]byte, error) {
	if from < 0 {
		from = 0
	}
	if to > l.length {
		to = l.length
	}
	if from >= to {
		return nil, nil
	}

	iter := l.NewIterator()
	defer iter.Release()

	out := make([][]byte, 0, to-from)
	seq := 0
	for seq < to && iter.Next() {
		if seq >= from {
			out = append(out, append([]byte(nil), iter.Value()...))
		}
		seq++
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("storage: range %s[%d:%d]: %w", l.namespace, from, to, err)
	}
	return out, nil
}
