package oplog

import "errors"

// ErrDecodeFailed is returned when a fetched block fails to decode under
// the expected encoding; fatal for that writer's progress at that offset
// (spec §7, "Decode errors").
var ErrDecodeFailed = errors.New("oplog: failed to decode block")
