package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrymomot/sessionkit/pkg/logger"
)

// State describes what a handle will do when finalized.
type State int

const (
	// StateUnbound: no session is attached to the request.
	StateUnbound State = iota
	// StateLoaded: an existing session was loaded and not modified.
	StateLoaded
	// StateCreated: a new session will be created under a fresh id.
	StateCreated
	// StateUpdated: an existing session was modified and will be saved.
	StateUpdated
	// StateDeleted: the session will be deleted.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateLoaded:
		return "loaded"
	case StateCreated:
		return "created"
	case StateUpdated:
		return "updated"
	case StateDeleted:
		return "deleted"
	default:
		return "unbound"
	}
}

// Handle is the per-request view of one session. The backing record is
// read at most once, on first use; while a loaded session is attached the
// handle holds the session's lock, which Finalize or Release gives back.
//
// A Handle is safe for use by the goroutines of one request but is not
// meant to outlive it.
type Handle[T any] struct {
	m        *Manager[T]
	incoming string

	mu        sync.Mutex
	loaded    bool
	finalized bool
	directive Directive
	state     State
	id        string
	value     T
	createdAt time.Time
	ttl       time.Duration
	ttlSet    bool
	obsolete  []string
	unlock    func()
	loadErr   error
}

// load reads the incoming session once. Failures leave the handle unbound
// and are kept for Err.
func (h *Handle[T]) load(ctx context.Context) {
	if h.loaded {
		return
	}
	h.loaded = true
	h.state = StateUnbound

	if h.incoming == "" {
		return
	}

	unlock, err := h.m.locker.Lock(ctx, h.incoming)
	if err != nil {
		h.fail(ctx, "lock", err)
		return
	}

	rec, err := h.m.store.Get(ctx, h.incoming)
	if err != nil {
		unlock()
		h.fail(ctx, "get", err)
		return
	}
	if rec == nil {
		unlock()
		return
	}

	v, err := h.m.codec.Decode(rec.Data)
	if err != nil {
		unlock()
		h.fail(ctx, "decode", err)
		return
	}

	h.unlock = unlock
	h.id = h.incoming
	h.value = v
	h.createdAt = rec.CreatedAt
	h.state = StateLoaded
}

func (h *Handle[T]) fail(ctx context.Context, op string, err error) {
	h.loadErr = err
	h.m.log.WarnContext(ctx, "session load failed, continuing without session",
		logger.Operation(op),
		logger.SessionID(h.incoming),
		logger.Error(err),
	)
}

// ID returns the current session id, or "" when no session is attached.
func (h *Handle[T]) ID(ctx context.Context) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)
	return h.id
}

// State returns the pending outcome.
func (h *Handle[T]) State(ctx context.Context) State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)
	return h.state
}

// Err returns the error that prevented loading the incoming session.
func (h *Handle[T]) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loadErr
}

// Get returns the payload and whether a session is attached.
func (h *Handle[T]) Get(ctx context.Context) (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)

	switch h.state {
	case StateLoaded, StateCreated, StateUpdated:
		return h.value, true
	}
	var zero T
	return zero, false
}

// Set replaces the payload. Without an attached session a new one is
// started under a freshly generated id.
func (h *Handle[T]) Set(ctx context.Context, v T) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)
	return h.setLocked(v)
}

func (h *Handle[T]) setLocked(v T) error {
	if h.finalized {
		return ErrFinalized
	}

	switch h.state {
	case StateUnbound, StateDeleted:
		id, err := h.m.newID()
		if err != nil {
			return err
		}
		h.id = id
		h.createdAt = time.Time{}
		h.state = StateCreated
	case StateLoaded:
		h.state = StateUpdated
	}
	h.value = v
	return nil
}

// Update applies fn to a copy of the payload (the zero value when no
// session is attached) and stores the result unless fn fails.
func (h *Handle[T]) Update(ctx context.Context, fn func(*T) error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)

	if h.finalized {
		return ErrFinalized
	}

	var cur T
	if h.state != StateUnbound && h.state != StateDeleted {
		cur = h.value
	}
	if err := fn(&cur); err != nil {
		return err
	}
	return h.setLocked(cur)
}

// Delete ends the session. Finalize removes it from the store and returns
// a ClearCookie directive.
func (h *Handle[T]) Delete(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)

	if h.finalized {
		return ErrFinalized
	}
	h.deleteLocked()
	return nil
}

func (h *Handle[T]) deleteLocked() {
	switch h.state {
	case StateLoaded, StateUpdated:
		h.obsolete = append(h.obsolete, h.id)
		h.state = StateDeleted
	case StateCreated:
		// never persisted
		if len(h.obsolete) > 0 {
			h.state = StateDeleted
		} else {
			h.state = StateUnbound
		}
	default:
		return
	}

	var zero T
	h.id = ""
	h.value = zero
}

// SetTTL overrides the lifetime applied when this request saves the
// session. Non-positive values restore the configured TTL.
func (h *Handle[T]) SetTTL(ctx context.Context, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)

	if h.finalized {
		return ErrFinalized
	}
	h.ttl = ttl
	h.ttlSet = ttl > 0
	if h.state == StateLoaded {
		h.state = StateUpdated
	}
	return nil
}

// TTL returns the lifetime that Finalize will apply.
func (h *Handle[T]) TTL() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ttlLocked()
}

func (h *Handle[T]) ttlLocked() time.Duration {
	if h.ttlSet {
		return h.ttl
	}
	return h.m.cfg.TTL
}

// Rotate moves the session to a new id, keeping its payload. The old id is
// deleted on Finalize. Use it after privilege changes such as login.
func (h *Handle[T]) Rotate(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)

	if h.finalized {
		return ErrFinalized
	}

	switch h.state {
	case StateLoaded, StateUpdated:
		h.obsolete = append(h.obsolete, h.id)
	case StateCreated:
	default:
		return nil
	}

	id, err := h.m.newID()
	if err != nil {
		return err
	}
	h.id = id
	h.state = StateCreated
	return nil
}

// SessionIDs returns the ids of all live sessions sharing this session's
// index key, including the current one once it has been saved.
func (h *Handle[T]) SessionIDs(ctx context.Context) ([]string, error) {
	key, err := h.currentIndexKey(ctx)
	if err != nil || key == "" {
		return nil, err
	}
	return h.m.FindByIndex(ctx, key)
}

// InvalidateAll deletes every session sharing this session's index key.
// With keepCurrent the current session survives; otherwise it is deleted
// as well and the cookie cleared on Finalize.
func (h *Handle[T]) InvalidateAll(ctx context.Context, keepCurrent bool) (int64, error) {
	key, err := h.currentIndexKey(ctx)
	if err != nil || key == "" {
		return 0, err
	}

	h.mu.Lock()
	var except []string
	if keepCurrent && h.id != "" {
		except = append(except, h.id)
	}
	h.mu.Unlock()

	n, err := h.m.InvalidateByIndex(ctx, key, except...)
	if err != nil {
		return n, err
	}

	if !keepCurrent {
		h.mu.Lock()
		h.deleteLocked()
		h.mu.Unlock()
	}
	return n, nil
}

func (h *Handle[T]) currentIndexKey(ctx context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.load(ctx)

	if h.state == StateUnbound || h.state == StateDeleted {
		return "", nil
	}
	return h.m.indexKeyOf(h.value)
}

// Finalize persists the pending outcome and reports the cookie directive.
// It performs at most one write for the session plus one delete per
// obsolete id, and releases the session lock. Later calls return the same
// directive.
func (h *Handle[T]) Finalize(ctx context.Context) (Directive, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.finalized {
		return h.directive, nil
	}
	defer h.releaseLocked()

	if !h.loaded {
		if !h.m.cfg.Rolling {
			h.finalized = true
			return h.directive, nil
		}
		h.load(ctx)
	}

	d, err := h.apply(ctx)
	if err != nil {
		h.m.log.ErrorContext(ctx, "session finalize failed",
			logger.Operation(h.state.String()),
			logger.SessionID(h.id),
			logger.Error(err),
		)
		return Directive{}, err
	}

	h.finalized = true
	h.directive = d
	return d, nil
}

// apply writes the session state, then deletes obsolete ids.
func (h *Handle[T]) apply(ctx context.Context) (Directive, error) {
	d, err := h.write(ctx)
	if err != nil {
		return Directive{}, err
	}

	for len(h.obsolete) > 0 {
		if _, err := h.m.store.Delete(ctx, h.obsolete[0]); err != nil {
			return Directive{}, err
		}
		h.obsolete = h.obsolete[1:]
	}
	h.obsolete = nil
	return d, nil
}

func (h *Handle[T]) write(ctx context.Context) (Directive, error) {
	ttl := h.ttlLocked()
	set := Directive{Action: SetCookie, MaxAge: ttl}

	switch h.state {
	case StateCreated:
		if err := h.create(ctx, ttl); err != nil {
			return Directive{}, err
		}
		set.ID = h.id
		return set, nil

	case StateUpdated:
		err := h.m.persist(ctx, h.id, h.value, h.createdAt, ttl, writeUpdate)
		if errors.Is(err, ErrNotFound) {
			h.m.log.InfoContext(ctx, "session removed during request, changes dropped", logger.SessionID(h.id))
			return Directive{Action: ClearCookie}, nil
		}
		if err != nil {
			return Directive{}, err
		}
		if h.m.cfg.Rolling || h.ttlSet {
			set.ID = h.id
			return set, nil
		}
		return Directive{Action: NoChange}, nil

	case StateLoaded:
		if !h.m.cfg.Rolling {
			return Directive{Action: NoChange}, nil
		}
		if err := h.m.store.Touch(ctx, h.id, ttl); err != nil {
			return Directive{}, err
		}
		set.ID = h.id
		return set, nil

	case StateDeleted:
		return Directive{Action: ClearCookie}, nil
	}

	return Directive{Action: NoChange}, nil
}

// create inserts a new session, drawing another id when the store reports
// a collision.
func (h *Handle[T]) create(ctx context.Context, ttl time.Duration) error {
	backoff := retry.WithMaxRetries(uint64(h.m.cfg.CollisionRetries), retry.NewConstant(time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := h.m.persist(ctx, h.id, h.value, h.createdAt, ttl, writeCreate)
		if !errors.Is(err, ErrIdentifierCollision) {
			return err
		}

		h.m.log.WarnContext(ctx, "session id collision, regenerating", logger.SessionID(h.id))
		id, genErr := h.m.newID()
		if genErr != nil {
			return genErr
		}
		h.id = id
		return retry.RetryableError(err)
	})
}

// Release gives back the session lock without persisting anything. It is
// a no-op after Finalize.
func (h *Handle[T]) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.releaseLocked()
}

func (h *Handle[T]) releaseLocked() {
	if h.unlock != nil {
		h.unlock()
		h.unlock = nil
	}
}

// peekID returns the id without triggering a load.
func (h *Handle[T]) peekID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.loaded {
		return h.id
	}
	return h.incoming
}
