package cookie

import (
	"fmt"
	"net/http"
	"strings"
)

// Config holds cookie manager configuration.
type Config struct {
	// Secrets are comma separated; the first one signs and encrypts, the rest only verify.
	Secrets  []string `env:"COOKIE_SECRETS" envSeparator:","`
	Path     string   `env:"COOKIE_PATH" envDefault:"/"`
	Domain   string   `env:"COOKIE_DOMAIN"`
	Secure   bool     `env:"COOKIE_SECURE" envDefault:"false"`
	HttpOnly bool     `env:"COOKIE_HTTP_ONLY" envDefault:"true"`
	SameSite string   `env:"COOKIE_SAME_SITE" envDefault:"lax"`
}

// DefaultConfig returns default cookie configuration
func DefaultConfig() Config {
	return Config{
		Path:     "/",
		HttpOnly: true,
		SameSite: "lax",
	}
}

// ParseSameSite maps lax, strict, none (case-insensitive) to http.SameSite.
func ParseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "lax":
		return http.SameSiteLaxMode, nil
	case "strict":
		return http.SameSiteStrictMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	case "default":
		return http.SameSiteDefaultMode, nil
	}
	return 0, fmt.Errorf("%w: unknown same-site mode %q", ErrInvalidFormat, v)
}

// NewFromConfig creates a new Manager from the provided Config.
// Options passed explicitly override the config values.
func NewFromConfig(cfg Config, opts ...Option) (*Manager, error) {
	sameSite, err := ParseSameSite(cfg.SameSite)
	if err != nil {
		return nil, err
	}

	secrets := make([]string, 0, len(cfg.Secrets))
	for _, s := range cfg.Secrets {
		if s = strings.TrimSpace(s); s != "" {
			secrets = append(secrets, s)
		}
	}

	configOpts := []Option{
		WithHTTPOnly(cfg.HttpOnly),
		WithSecure(cfg.Secure),
		WithSameSite(sameSite),
	}
	if cfg.Path != "" {
		configOpts = append(configOpts, WithPath(cfg.Path))
	}
	if cfg.Domain != "" {
		configOpts = append(configOpts, WithDomain(cfg.Domain))
	}

	return New(secrets, append(configOpts, opts...)...)
}
