package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
)

// DefaultPayloadCookie names the cookie that carries CookieStore payloads.
const DefaultPayloadCookie = "sdata"

// CookieStore keeps the whole session in an encrypted client-side cookie.
// Nothing is stored on the server, so it cannot maintain an index and does
// not implement IndexedStore. Every call needs a Jar in the context.
//
// Payload size is not checked; browsers drop cookies above roughly 4KB.
type CookieStore struct {
	cookies *cookie.Manager
	name    string
	opts    []cookie.Option
	now     func() time.Time
}

var _ Store = (*CookieStore)(nil)

// CookieStoreOption configures a CookieStore.
type CookieStoreOption func(*CookieStore)

// WithPayloadCookie sets the payload cookie name.
func WithPayloadCookie(name string) CookieStoreOption {
	return func(s *CookieStore) {
		if name != "" {
			s.name = name
		}
	}
}

// WithPayloadCookieOptions overrides attributes of the payload cookie.
func WithPayloadCookieOptions(opts ...cookie.Option) CookieStoreOption {
	return func(s *CookieStore) {
		s.opts = append(s.opts, opts...)
	}
}

// WithCookieClock replaces time.Now, mainly for tests.
func WithCookieClock(now func() time.Time) CookieStoreOption {
	return func(s *CookieStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewCookieStore(cookies *cookie.Manager, opts ...CookieStoreOption) *CookieStore {
	s := &CookieStore{
		cookies: cookies,
		name:    DefaultPayloadCookie,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type cookieEnvelope struct {
	ID        string    `json:"id"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created"`
	TouchedAt time.Time `json:"touched"`
	ExpiresAt time.Time `json:"expires"`
}

// Get opens the incoming payload cookie. Cookies that fail authentication,
// belong to another id or have expired read as absent.
func (s *CookieStore) Get(ctx context.Context, id string) (*Record, error) {
	jar, ok := JarFromContext(ctx)
	if !ok {
		return nil, ErrNoJar
	}

	sealed, ok := jar.Value(s.name)
	if !ok || sealed == "" {
		return nil, nil
	}

	plain, err := s.cookies.Open(sealed)
	if err != nil {
		return nil, nil
	}

	var env cookieEnvelope
	if err := json.Unmarshal(plain, &env); err != nil {
		return nil, nil
	}

	rec := Record{
		Data:      env.Data,
		CreatedAt: env.CreatedAt,
		TouchedAt: env.TouchedAt,
		ExpiresAt: env.ExpiresAt,
	}
	if env.ID != id || rec.Expired(s.now()) {
		return nil, nil
	}
	return &rec, nil
}

func (s *CookieStore) Save(ctx context.Context, id string, rec Record, ttl time.Duration) error {
	jar, ok := JarFromContext(ctx)
	if !ok {
		return ErrNoJar
	}

	if ttl <= 0 {
		jar.Set(s.cookies.Expired(s.name, s.opts...))
		return nil
	}

	stamped := Stamp(rec, "", ttl, s.now())
	plain, err := json.Marshal(cookieEnvelope{
		ID:        id,
		Data:      stamped.Data,
		CreatedAt: stamped.CreatedAt,
		TouchedAt: stamped.TouchedAt,
		ExpiresAt: stamped.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	sealed, err := s.cookies.Seal(plain)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSerialization, err)
	}

	opts := append([]cookie.Option{cookie.WithMaxAge(int(ttl / time.Second))}, s.opts...)
	jar.Set(s.cookies.Cookie(s.name, sealed, opts...))
	return nil
}

func (s *CookieStore) Delete(ctx context.Context, id string) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	jar, _ := JarFromContext(ctx)
	jar.Set(s.cookies.Expired(s.name, s.opts...))
	return rec, nil
}

func (s *CookieStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	rec, err := s.Get(ctx, id)
	if err != nil || rec == nil {
		return err
	}
	return s.Save(ctx, id, *rec, ttl)
}
