// Package oplog defines the wire encoding of local writer blocks
// ("OplogMessage" in spec §6) including checkpoint embedding, and of the
// SystemView digest persisted as the tail of its own view.
package oplog

import (
	"encoding/json"
	"fmt"

	"github.com/lineage/lineage/node"
)

// Checkpoint snapshots the SystemView's committed state, embedded into
// local blocks so any participant can resume (spec §3, "Checkpoint").
type Checkpoint struct {
	Length int `json:"length"`
	// Payload carries opaque additional state; currently unused by the
	// core but preserved across encode/decode round trips.
	Payload []byte `json:"payload,omitempty"`
}

// Message is one block appended to a local writer's log.
type Message struct {
	Value   []byte      `json:"value"`
	Heads   []node.Head `json:"heads"`
	Batch   uint32      `json:"batch"`

	// Checkpointer is the hop count to the nearest preceding block that
	// carries a checkpoint, and is 0 on a block that carries one itself.
	// A writer's very first block, written before any checkpoint exists,
	// also has Checkpointer 0 with Checkpoint nil; readers treat that as
	// "no checkpoint".
	Checkpointer uint32      `json:"checkpointer"`
	Checkpoint   *Checkpoint `json:"checkpoint,omitempty"`
}

// Encode serializes m as JSON, matching the teacher's json.Marshal-then-Put
// persistence style.
func Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("oplog: encode: %w", err)
	}
	return data, nil
}

// Decode parses a block previously produced by Encode.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return &m, nil
}

// Digest is the SystemView's persisted tail record: the authoritative
// writer set, the heads in force at the last system-committed point, and
// the best checkpoint known at flush time.
type Digest struct {
	Writers    []node.Head `json:"writers"`
	Heads      []node.Head `json:"heads"`
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// EncodeDigest serializes a SystemView digest.
func EncodeDigest(d *Digest) ([]byte, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("oplog: encode digest: %w", err)
	}
	return data, nil
}

// DecodeDigest parses a digest previously produced by EncodeDigest.
func DecodeDigest(data []byte) (*Digest, error) {
	var d Digest
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return &d, nil
}
