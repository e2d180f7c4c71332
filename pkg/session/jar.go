package session

import (
	"context"
	"net/http"
	"sync"
)

// Jar bridges a request's cookies to stores that keep state on the client.
// It reads the incoming request cookies and collects outgoing ones until
// Apply writes them to the response. Reads observe writes made earlier in
// the same request.
type Jar struct {
	mu    sync.Mutex
	req   *http.Request
	out   map[string]*http.Cookie
	order []string
}

// NewJar creates a jar for r. A nil request yields a jar with no incoming
// cookies.
func NewJar(r *http.Request) *Jar {
	return &Jar{req: r, out: make(map[string]*http.Cookie)}
}

type jarContextKey struct{}

// WithJar stores jar in ctx.
func WithJar(ctx context.Context, jar *Jar) context.Context {
	return context.WithValue(ctx, jarContextKey{}, jar)
}

// JarFromContext returns the jar stored by WithJar.
func JarFromContext(ctx context.Context) (*Jar, bool) {
	jar, ok := ctx.Value(jarContextKey{}).(*Jar)
	return jar, ok && jar != nil
}

// Value returns the current value of the named cookie.
func (j *Jar) Value(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if c, ok := j.out[name]; ok {
		if c.MaxAge < 0 {
			return "", false
		}
		return c.Value, true
	}
	if j.req == nil {
		return "", false
	}
	c, err := j.req.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

// Set queues c for the response, replacing an earlier cookie with the same name.
func (j *Jar) Set(c *http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.out[c.Name]; !ok {
		j.order = append(j.order, c.Name)
	}
	j.out[c.Name] = c
}

// Cookies returns the queued cookies in first-set order.
func (j *Jar) Cookies() []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]*http.Cookie, 0, len(j.order))
	for _, name := range j.order {
		out = append(out, j.out[name])
	}
	return out
}

// Apply writes the queued cookies as Set-Cookie headers.
func (j *Jar) Apply(w http.ResponseWriter) {
	for _, c := range j.Cookies() {
		http.SetCookie(w, c)
	}
}
