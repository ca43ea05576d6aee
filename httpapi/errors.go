package httpapi

import "errors"

var (
	errNoCheckpoint = errors.New("httpapi: no checkpoint available yet")
	errUnknownView  = errors.New("httpapi: unknown view")
	errViewNotReady = errors.New("httpapi: view created this tick, not yet ready")
)
