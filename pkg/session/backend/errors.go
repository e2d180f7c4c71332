package backend

import "errors"

var (
	ErrUnknownBackend = errors.New("backend.unknown")
	ErrInvalidConfig  = errors.New("backend.invalid_config")
	ErrOpenFailed     = errors.New("backend.open_failed")
)
