package cookie

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

const (
	minSecretLength = 32
	keySize         = 32

	encryptionInfo = "sessionkit/cookie/enc/v1"
	signingInfo    = "sessionkit/cookie/sig/v1"
)

// keyPair holds the keys derived from one configured secret.
type keyPair struct {
	aead cipher.AEAD
	mac  []byte
}

// Manager reads and writes plain, signed and encrypted cookies.
// The first secret is used for writing, all secrets are accepted for reading.
type Manager struct {
	keys     []keyPair
	defaults Options
}

func New(secrets []string, opts ...Option) (*Manager, error) {
	secrets = slices.DeleteFunc(slices.Clone(secrets), func(s string) bool { return s == "" })
	if len(secrets) == 0 {
		return nil, ErrNoSecret
	}

	keys := make([]keyPair, 0, len(secrets))
	for i, s := range secrets {
		if len(s) < minSecretLength {
			return nil, fmt.Errorf("%w: secret %d has %d chars, need at least %d", ErrSecretTooShort, i, len(s), minSecretLength)
		}
		kp, err := deriveKeys(s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, kp)
	}

	defaults := Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{
		keys:     keys,
		defaults: defaults.with(opts),
	}, nil
}

func deriveKeys(secret string) (keyPair, error) {
	encKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(encryptionInfo)), encKey); err != nil {
		return keyPair{}, errors.Join(ErrKeyDerivation, err)
	}
	macKey := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(signingInfo)), macKey); err != nil {
		return keyPair{}, errors.Join(ErrKeyDerivation, err)
	}

	block, err := aes.NewCipher(encKey)
	if err != nil {
		return keyPair{}, errors.Join(ErrKeyDerivation, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return keyPair{}, errors.Join(ErrKeyDerivation, err)
	}

	return keyPair{aead: aead, mac: macKey}, nil
}

// Cookie builds an outgoing cookie using the manager defaults overridden by opts.
func (m *Manager) Cookie(name, value string, opts ...Option) *http.Cookie {
	options := m.defaults.with(opts)

	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     options.Path,
		Domain:   options.Domain,
		MaxAge:   options.MaxAge,
		Secure:   options.Secure,
		HttpOnly: options.HttpOnly,
		SameSite: options.SameSite,
	}
	if options.MaxAge > 0 {
		c.Expires = time.Now().Add(time.Duration(options.MaxAge) * time.Second)
	}
	return c
}

// Expired builds a cookie that instructs the browser to drop name.
func (m *Manager) Expired(name string, opts ...Option) *http.Cookie {
	c := m.Cookie(name, "", opts...)
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	return c
}

func (m *Manager) Set(w http.ResponseWriter, name, value string, opts ...Option) error {
	http.SetCookie(w, m.Cookie(name, value, opts...))
	return nil
}

func (m *Manager) Get(r *http.Request, name string) (string, error) {
	c, err := r.Cookie(name)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return "", ErrCookieNotFound
		}
		return "", err
	}
	return c.Value, nil
}

func (m *Manager) Delete(w http.ResponseWriter, name string, opts ...Option) {
	http.SetCookie(w, m.Expired(name, opts...))
}

func (m *Manager) SetSigned(w http.ResponseWriter, name, value string, opts ...Option) error {
	return m.Set(w, name, m.Sign(value), opts...)
}

func (m *Manager) GetSigned(r *http.Request, name string) (string, error) {
	signed, err := m.Get(r, name)
	if err != nil {
		return "", err
	}
	return m.Verify(signed)
}

func (m *Manager) SetEncrypted(w http.ResponseWriter, name, value string, opts ...Option) error {
	sealed, err := m.Seal([]byte(value))
	if err != nil {
		return err
	}
	return m.Set(w, name, sealed, opts...)
}

func (m *Manager) GetEncrypted(r *http.Request, name string) (string, error) {
	sealed, err := m.Get(r, name)
	if err != nil {
		return "", err
	}
	plain, err := m.Open(sealed)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Sign returns value with an HMAC-SHA256 tag appended.
func (m *Manager) Sign(value string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(value)) + "." + m.tag(m.keys[0].mac, []byte(value))
}

// Verify checks a value produced by Sign against every configured secret.
func (m *Manager) Verify(signed string) (string, error) {
	encoded, signature, ok := strings.Cut(signed, ".")
	if !ok {
		return "", ErrInvalidFormat
	}

	value, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrInvalidFormat
	}

	for _, kp := range m.keys {
		if hmac.Equal([]byte(signature), []byte(m.tag(kp.mac, value))) {
			return string(value), nil
		}
	}

	return "", ErrInvalidSignature
}

func (m *Manager) tag(key, value []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(value)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Seal encrypts and authenticates plaintext with the primary secret.
// The result is safe to use as a cookie value.
func (m *Manager) Seal(plaintext []byte) (string, error) {
	aead := m.keys[0].aead

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", errors.Join(ErrEncryptionFailed, err)
	}

	return base64.RawURLEncoding.EncodeToString(aead.Seal(nonce, nonce, plaintext, nil)), nil
}

// Open reverses Seal, trying every configured secret.
func (m *Manager) Open(sealed string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrInvalidFormat
	}

	for _, kp := range m.keys {
		ns := kp.aead.NonceSize()
		if len(raw) < ns+kp.aead.Overhead() {
			return nil, ErrInvalidFormat
		}
		plain, err := kp.aead.Open(nil, raw[:ns], raw[ns:], nil)
		if err == nil {
			return plain, nil
		}
	}

	return nil, ErrDecryptionFailed
}
