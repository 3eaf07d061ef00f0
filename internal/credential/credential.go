// Package credential supplies the auth token used to open the notification socket and call the REST API.
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"carenotify/pkg/exception"

	"github.com/golang-jwt/jwt/v5"
)

// Source returns the current bearer token.
type Source interface {
	Token(ctx context.Context) (string, error)
}

type static string

// Static always returns token.
func Static(token string) Source {
	return static(strings.TrimSpace(token))
}

func (s static) Token(context.Context) (string, error) {
	if s == "" {
		return "", exception.ErrAuthenticationMissing
	}
	return string(s), nil
}

type file string

// File reads the token from path on every call so rotated tokens are picked up.
func File(path string) Source {
	return file(path)
}

func (f file) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return "", fmt.Errorf("%w: read token file: %w", exception.ErrAuthenticationMissing, err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", exception.ErrAuthenticationMissing
	}
	return token, nil
}

type env string

// Env reads the token from the named environment variable.
func Env(name string) Source {
	return env(name)
}

func (e env) Token(context.Context) (string, error) {
	token := strings.TrimSpace(os.Getenv(string(e)))
	if token == "" {
		return "", fmt.Errorf("%w: env %s is empty", exception.ErrAuthenticationMissing, string(e))
	}
	return token, nil
}

type chain []Source

// Chain returns the first token any source yields. Nil sources are skipped.
func Chain(sources ...Source) Source {
	out := make(chain, 0, len(sources))
	for _, s := range sources {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (c chain) Token(ctx context.Context) (string, error) {
	var last error
	for _, s := range c {
		token, err := s.Token(ctx)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil {
			last = err
		}
	}
	if last != nil {
		return "", last
	}
	return "", exception.ErrAuthenticationMissing
}

type unexpired struct {
	src Source
	now func() time.Time
}

// RequireUnexpired rejects JWTs whose exp claim has passed. The signature is
// not verified here; the backend does that. Opaque tokens pass through.
func RequireUnexpired(src Source) Source {
	return unexpired{src: src, now: time.Now}
}

func (u unexpired) Token(ctx context.Context) (string, error) {
	token, err := u.src.Token(ctx)
	if err != nil {
		return "", err
	}
	exp, ok := expiry(token)
	if ok && !exp.After(u.now()) {
		return "", fmt.Errorf("%w: token expired at %s", exception.ErrAuthenticationMissing, exp.UTC().Format(time.RFC3339))
	}
	return token, nil
}

// expiry reports the exp claim of a JWT. ok is false for opaque tokens and JWTs without exp.
func expiry(token string) (time.Time, bool) {
	if strings.Count(token, ".") != 2 {
		return time.Time{}, false
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
