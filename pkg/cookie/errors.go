package cookie

import "errors"

// Configuration errors, returned by New and NewFromConfig.
var (
	ErrNoSecret       = errors.New("cookie.no_secret")
	ErrSecretTooShort = errors.New("cookie.secret_too_short")
	ErrKeyDerivation  = errors.New("cookie.key_derivation_failed")
)

// Errors returned while reading or writing cookie values.
var (
	ErrCookieNotFound   = errors.New("cookie.not_found")
	ErrInvalidFormat    = errors.New("cookie.invalid_format")
	ErrInvalidSignature = errors.New("cookie.invalid_signature")
	ErrEncryptionFailed = errors.New("cookie.encryption_failed")
	ErrDecryptionFailed = errors.New("cookie.decryption_failed")
)
