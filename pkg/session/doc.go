// Package session is a session engine for HTTP servers. It issues opaque
// identifiers, stores typed payloads behind a small storage contract and
// hands each request a lazily loaded Handle.
//
// # Architecture
//
//	┌────────┐   id    ┌───────────┐  Open(id)  ┌─────────────┐
//	│ Client │ ──────► │ Transport │ ─────────► │  Manager[T] │
//	└────────┘         └───────────┘            └─────────────┘
//	     ▲                                         │ Handle[T]
//	     │ Set/Clear cookie                        ▼
//	┌────────────┐   Directive   ┌───────────────────────────────┐
//	│ Middleware │ ◄──────────── │ Finalize: save / delete / touch│
//	└────────────┘               └───────────────────────────────┘
//	                                              │
//	                                              ▼
//	                     Store (memory, cookie, redis, postgres, gorm, mongo)
//
// A Store implements Get, Save, Delete and Touch. Stores that can keep a
// secondary index from an application key (for example a user id) to
// session ids also implement IndexedStore; the cookie-backed store cannot
// and index operations report ErrIndexUnsupported.
//
// Handles load at most once per request and, while a session is attached,
// hold a per-id lock from the manager's Locker. Concurrent requests for the
// same session therefore apply their changes one after another instead of
// overwriting each other. The lock is process-local.
//
// # Usage
//
//	type Data struct {
//	    UserID string
//	    Visits int
//	}
//
//	store := session.NewMemoryStore(time.Minute)
//	mgr, err := session.NewBuilder[Data](store).
//	    WithTTL(24 * time.Hour).
//	    WithIndexKey(func(d Data) (string, bool) { return d.UserID, d.UserID != "" }).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	cookies, _ := cookie.New([]string{secret})
//	mw := session.Middleware(mgr, session.NewCookieTransport(cookies, "sid"))
//
//	http.Handle("/", mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
//	    h := session.MustFromContext[Data](r.Context())
//	    _ = h.Update(r.Context(), func(d *Data) error {
//	        d.Visits++
//	        return nil
//	    })
//	})))
//
// # Errors
//
// Backends wrap driver failures in ErrTransient. ErrNotFound,
// ErrSerialization, ErrIndexUnsupported and ErrIdentifierCollision cover
// the other outcomes; IsRetryable groups the ones worth retrying.
package session
