package writer

import "errors"

// ErrNotWritable is returned by Append when invoked on a remote (read-only)
// writer (spec §7, "Not-writable").
var ErrNotWritable = errors.New("writer: not writable")
