package controlplane

import "errors"

// Sentinel errors for control plane operations.
var (
	ErrNotFound      = errors.New("experiment not found")
	ErrUnknownSource = errors.New("unknown experiment source")
	ErrNotAllowed    = errors.New("experiment not allowed on this source")
	ErrNotRunning    = errors.New("experiment not running")
)
