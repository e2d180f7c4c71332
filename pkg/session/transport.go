package session

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
)

// Transport moves the session id between client and server.
type Transport interface {
	// GetToken returns the id sent by the client or ErrNotFound.
	GetToken(r *http.Request) (string, error)
	// SetToken sends id to the client for ttl.
	SetToken(w http.ResponseWriter, id string, ttl time.Duration) error
	// ClearToken tells the client to forget the id.
	ClearToken(w http.ResponseWriter) error
}

// CookieTransport keeps the id in an encrypted cookie, so the client
// never sees the raw identifier.
type CookieTransport struct {
	cookies *cookie.Manager
	name    string
	opts    []cookie.Option
}

// NewCookieTransport creates a cookie transport. opts override the cookie
// manager defaults for the session cookie.
func NewCookieTransport(cookies *cookie.Manager, name string, opts ...cookie.Option) *CookieTransport {
	return &CookieTransport{cookies: cookies, name: name, opts: opts}
}

// NewCookieTransportFromConfig uses cfg.CookieName and cfg.SecureCookies.
func NewCookieTransportFromConfig(cookies *cookie.Manager, cfg Config, opts ...cookie.Option) *CookieTransport {
	base := []cookie.Option{cookie.WithHTTPOnly(true)}
	if cfg.SecureCookies {
		base = append(base, cookie.WithSecure(true))
	}
	return NewCookieTransport(cookies, cfg.CookieName, append(base, opts...)...)
}

func (t *CookieTransport) GetToken(r *http.Request) (string, error) {
	id, err := t.cookies.GetEncrypted(r, t.name)
	if err != nil || id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

func (t *CookieTransport) SetToken(w http.ResponseWriter, id string, ttl time.Duration) error {
	opts := append([]cookie.Option{cookie.WithMaxAge(int(ttl / time.Second))}, t.opts...)
	return t.cookies.SetEncrypted(w, t.name, id, opts...)
}

func (t *CookieTransport) ClearToken(w http.ResponseWriter) error {
	t.cookies.Delete(w, t.name, t.opts...)
	return nil
}

// HeaderTransport reads the id from a request header such as
// Authorization and echoes new ids in the same response header.
type HeaderTransport struct {
	header string
	prefix string
}

// HeaderOption configures a HeaderTransport.
type HeaderOption func(*HeaderTransport)

// WithHeaderPrefix sets the value prefix (default "Bearer ").
func WithHeaderPrefix(prefix string) HeaderOption {
	return func(t *HeaderTransport) { t.prefix = prefix }
}

func NewHeaderTransport(header string, opts ...HeaderOption) *HeaderTransport {
	t := &HeaderTransport{header: header, prefix: "Bearer "}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *HeaderTransport) GetToken(r *http.Request) (string, error) {
	v := strings.TrimSpace(strings.TrimPrefix(r.Header.Get(t.header), t.prefix))
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

func (t *HeaderTransport) SetToken(w http.ResponseWriter, id string, ttl time.Duration) error {
	w.Header().Set(t.header, t.prefix+id)
	if ttl > 0 {
		w.Header().Set(t.header+"-Expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	}
	return nil
}

func (t *HeaderTransport) ClearToken(w http.ResponseWriter) error {
	w.Header().Del(t.header)
	w.Header().Del(t.header + "-Expires")
	return nil
}

// CompositeTransport reads from the first transport that yields an id and
// writes through all of them.
type CompositeTransport []Transport

func NewCompositeTransport(transports ...Transport) CompositeTransport {
	return CompositeTransport(transports)
}

func (c CompositeTransport) GetToken(r *http.Request) (string, error) {
	for _, t := range c {
		if id, err := t.GetToken(r); err == nil && id != "" {
			return id, nil
		}
	}
	return "", ErrNotFound
}

func (c CompositeTransport) SetToken(w http.ResponseWriter, id string, ttl time.Duration) error {
	var errs []error
	for _, t := range c {
		errs = append(errs, t.SetToken(w, id, ttl))
	}
	return errors.Join(errs...)
}

func (c CompositeTransport) ClearToken(w http.ResponseWriter) error {
	var errs []error
	for _, t := range c {
		errs = append(errs, t.ClearToken(w))
	}
	return errors.Join(errs...)
}
