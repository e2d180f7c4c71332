// Package cookie reads and writes HTTP cookies with optional integrity
// protection and confidentiality.
//
// A Manager is created from one or more secrets of at least 32 characters.
// For each secret two independent keys are derived with HKDF-SHA256: one for
// HMAC-SHA256 signatures and one for AES-256-GCM. The first secret is used for
// writing; every secret is tried when reading, so secrets can be rotated by
// prepending a new one.
//
//	man, err := cookie.New([]string{os.Getenv("COOKIE_SECRET")})
//	if err != nil {
//	    return err
//	}
//	_ = man.SetEncrypted(w, "prefs", `{"theme":"dark"}`, cookie.WithMaxAge(3600))
//	v, err := man.GetEncrypted(r, "prefs")
//
// Seal and Open work on raw bytes and are used by the session package to
// keep whole session payloads in a cookie.
//
// Configuration can be loaded from the environment (COOKIE_*) into Config and
// passed to NewFromConfig.
package cookie
