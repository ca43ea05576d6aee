package autobase

import "errors"

var (
	// ErrNotWritable is returned by Append when this process has no local
	// writer registered (spec §7, "Not-writable").
	ErrNotWritable = errors.New("autobase: no local writer registered")

	// ErrApplyViolation is returned when a view is appended to outside of
	// an active apply call (spec §7, "Apply-violation").
	ErrApplyViolation = errors.New("autobase: append issued outside apply")
)
