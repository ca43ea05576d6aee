package systemview

import "errors"

// ErrDigestCorrupt means the persisted SystemView digest could not be
// decoded — fatal, with no recovery path (spec §7).
var ErrDigestCorrupt = errors.New("systemview: digest is corrupt")
