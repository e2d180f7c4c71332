package cookie_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dmitrymomot/sessionkit/pkg/cookie"
)

const (
	secret    = "this-is-a-very-long-secret-key-32-chars-long"
	oldSecret = "this-is-old-very-long-secret-key-32-chars-ok"
)

func requestWith(w *httptest.ResponseRecorder) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range w.Result().Cookies() {
		r.AddCookie(c)
	}
	return r
}

func TestNew(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		secrets []string
		wantErr error
	}{
		{name: "no secrets", secrets: []string{}, wantErr: cookie.ErrNoSecret},
		{name: "empty secrets", secrets: []string{"", ""}, wantErr: cookie.ErrNoSecret},
		{name: "secret too short", secrets: []string{"short"}, wantErr: cookie.ErrSecretTooShort},
		{name: "valid secret", secrets: []string{secret}},
		{name: "rotation", secrets: []string{secret, oldSecret}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := cookie.New(tt.secrets)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestManager_SetGet(t *testing.T) {
	t.Parallel()
	m, _ := cookie.New([]string{secret})

	w := httptest.NewRecorder()
	if err := m.Set(w, "plain", "hello=world"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := m.Get(requestWith(w), "plain")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "hello=world" {
		t.Errorf("Get() = %q, want %q", got, "hello=world")
	}

	if _, err := m.Get(httptest.NewRequest(http.MethodGet, "/", nil), "plain"); !errors.Is(err, cookie.ErrCookieNotFound) {
		t.Errorf("Get() on missing cookie error = %v, want %v", err, cookie.ErrCookieNotFound)
	}
}

func TestManager_Signed(t *testing.T) {
	t.Parallel()
	m, _ := cookie.New([]string{secret})

	w := httptest.NewRecorder()
	if err := m.SetSigned(w, "signed", "user-42"); err != nil {
		t.Fatalf("SetSigned() error = %v", err)
	}

	got, err := m.GetSigned(requestWith(w), "signed")
	if err != nil {
		t.Fatalf("GetSigned() error = %v", err)
	}
	if got != "user-42" {
		t.Errorf("GetSigned() = %q, want %q", got, "user-42")
	}

	t.Run("tampered signature", func(t *testing.T) {
		signed := m.Sign("user-42")
		value, _, _ := strings.Cut(signed, ".")
		forged := value + "." + strings.Repeat("A", 43)
		if _, err := m.Verify(forged); !errors.Is(err, cookie.ErrInvalidSignature) {
			t.Errorf("Verify() error = %v, want %v", err, cookie.ErrInvalidSignature)
		}
	})

	t.Run("missing separator", func(t *testing.T) {
		if _, err := m.Verify("no-separator"); !errors.Is(err, cookie.ErrInvalidFormat) {
			t.Errorf("Verify() error = %v, want %v", err, cookie.ErrInvalidFormat)
		}
	})
}

func TestManager_SealOpen(t *testing.T) {
	t.Parallel()
	m, _ := cookie.New([]string{secret})

	payload := []byte(`{"id":"abc","data":"eyJ4IjoxfQ"}`)
	first, err := m.Seal(payload)
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	second, _ := m.Seal(payload)
	if first == second {
		t.Error("Seal() produced identical ciphertexts for the same input")
	}

	plain, err := m.Open(first)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(plain) != string(payload) {
		t.Errorf("Open() = %q, want %q", plain, payload)
	}

	t.Run("tampered ciphertext", func(t *testing.T) {
		b := []byte(first)
		if b[len(b)-2] == 'A' {
			b[len(b)-2] = 'B'
		} else {
			b[len(b)-2] = 'A'
		}
		if _, err := m.Open(string(b)); !errors.Is(err, cookie.ErrDecryptionFailed) {
			t.Errorf("Open() error = %v, want %v", err, cookie.ErrDecryptionFailed)
		}
	})

	t.Run("too short", func(t *testing.T) {
		if _, err := m.Open("AAAA"); !errors.Is(err, cookie.ErrInvalidFormat) {
			t.Errorf("Open() error = %v, want %v", err, cookie.ErrInvalidFormat)
		}
	})

	t.Run("not base64", func(t *testing.T) {
		if _, err := m.Open("***"); !errors.Is(err, cookie.ErrInvalidFormat) {
			t.Errorf("Open() error = %v, want %v", err, cookie.ErrInvalidFormat)
		}
	})
}

func TestManager_Rotation(t *testing.T) {
	t.Parallel()
	old, _ := cookie.New([]string{oldSecret})
	rotated, _ := cookie.New([]string{secret, oldSecret})
	other, _ := cookie.New([]string{secret})

	sealed, err := old.Seal([]byte("legacy"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}

	plain, err := rotated.Open(sealed)
	if err != nil {
		t.Fatalf("Open() with rotated secrets error = %v", err)
	}
	if string(plain) != "legacy" {
		t.Errorf("Open() = %q, want %q", plain, "legacy")
	}

	if _, err := other.Open(sealed); !errors.Is(err, cookie.ErrDecryptionFailed) {
		t.Errorf("Open() without old secret error = %v, want %v", err, cookie.ErrDecryptionFailed)
	}

	if _, err := rotated.Verify(old.Sign("v")); err != nil {
		t.Errorf("Verify() with rotated secrets error = %v", err)
	}
}

func TestManager_Encrypted(t *testing.T) {
	t.Parallel()
	m, _ := cookie.New([]string{secret})

	w := httptest.NewRecorder()
	if err := m.SetEncrypted(w, "enc", "secret value", cookie.WithMaxAge(60)); err != nil {
		t.Fatalf("SetEncrypted() error = %v", err)
	}

	raw := w.Result().Cookies()[0]
	if strings.Contains(raw.Value, "secret") {
		t.Errorf("encrypted cookie leaks plaintext: %q", raw.Value)
	}
	if raw.MaxAge != 60 {
		t.Errorf("MaxAge = %d, want 60", raw.MaxAge)
	}

	got, err := m.GetEncrypted(requestWith(w), "enc")
	if err != nil {
		t.Fatalf("GetEncrypted() error = %v", err)
	}
	if got != "secret value" {
		t.Errorf("GetEncrypted() = %q, want %q", got, "secret value")
	}
}

func TestManager_Attributes(t *testing.T) {
	t.Parallel()
	m, _ := cookie.New([]string{secret}, cookie.WithSecure(true), cookie.WithDomain("example.com"))

	c := m.Cookie("sid", "v", cookie.WithSameSite(http.SameSiteStrictMode))
	if !c.Secure || !c.HttpOnly {
		t.Errorf("Cookie() secure=%v httpOnly=%v, want both true", c.Secure, c.HttpOnly)
	}
	if c.Domain != "example.com" || c.Path != "/" {
		t.Errorf("Cookie() domain=%q path=%q", c.Domain, c.Path)
	}
	if c.SameSite != http.SameSiteStrictMode {
		t.Errorf("Cookie() SameSite = %v, want strict", c.SameSite)
	}

	w := httptest.NewRecorder()
	m.Delete(w, "sid")
	deleted := w.Result().Cookies()[0]
	if deleted.MaxAge >= 0 || deleted.Value != "" {
		t.Errorf("Delete() cookie MaxAge=%d value=%q", deleted.MaxAge, deleted.Value)
	}
}

func TestNewFromConfig(t *testing.T) {
	t.Parallel()

	cfg := cookie.DefaultConfig()
	cfg.Secrets = []string{" " + secret + " ", ""}
	cfg.SameSite = "Strict"
	cfg.Secure = true

	m, err := cookie.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}
	c := m.Cookie("x", "y")
	if c.SameSite != http.SameSiteStrictMode || !c.Secure {
		t.Errorf("Cookie() SameSite=%v Secure=%v", c.SameSite, c.Secure)
	}

	cfg.SameSite = "sideways"
	if _, err := cookie.NewFromConfig(cfg); !errors.Is(err, cookie.ErrInvalidFormat) {
		t.Errorf("NewFromConfig() error = %v, want %v", err, cookie.ErrInvalidFormat)
	}

	if _, err := cookie.NewFromConfig(cookie.DefaultConfig()); !errors.Is(err, cookie.ErrNoSecret) {
		t.Errorf("NewFromConfig() without secrets error = %v, want %v", err, cookie.ErrNoSecret)
	}
}
