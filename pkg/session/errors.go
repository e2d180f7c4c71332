package session

import "errors"

var (
	// ErrNotFound is returned by operations that require an existing session.
	ErrNotFound = errors.New("session.not_found")

	// ErrTransient wraps backend failures (network, timeout, driver errors).
	// The operation may succeed if retried.
	ErrTransient = errors.New("session.backend_unavailable")

	// ErrSerialization indicates a payload could not be encoded or decoded.
	ErrSerialization = errors.New("session.serialization_failed")

	// ErrIndexUnsupported is returned by index operations on a backend
	// that cannot maintain a secondary index.
	ErrIndexUnsupported = errors.New("session.index_unsupported")

	// ErrIdentifierCollision is returned by Create when a live session
	// already uses the identifier.
	ErrIdentifierCollision = errors.New("session.id_collision")

	ErrIDGeneration  = errors.New("session.id_generation_failed")
	ErrInvalidConfig = errors.New("session.invalid_config")
	ErrNoStore       = errors.New("session.no_store")

	// ErrNoJar means a cookie-backed store was used outside of a request
	// scope prepared by Middleware or WithJar.
	ErrNoJar = errors.New("session.no_cookie_jar")

	ErrLockTimeout = errors.New("session.lock_timeout")
	ErrFinalized   = errors.New("session.finalized")
)

// IsRetryable reports whether repeating the failed operation can succeed.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrIdentifierCollision) || errors.Is(err, ErrLockTimeout)
}
