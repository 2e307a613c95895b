package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// StaticToken presents a fixed bearer token. An empty token sends no
// Authorization header.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) { return string(s), nil }

// HMACSource mints short-lived HS256 tokens for a workspace and caches each
// one until shortly before it expires.
type HMACSource struct {
	Secret    []byte
	Subject   string
	Workspace string
	TTL       time.Duration
	now       func() time.Time

	mu      sync.Mutex
	token   string
	expires time.Time
}

func NewHMACSource(secret, subject, workspace string) *HMACSource {
	return &HMACSource{
		Secret:    []byte(secret),
		Subject:   subject,
		Workspace: workspace,
		TTL:       15 * time.Minute,
		now:       time.Now,
	}
}

func (h *HMACSource) Token(context.Context) (string, error) {
	if len(h.Secret) == 0 {
		return "", errors.New("hmac secret not configured")
	}
	now := h.now()
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.token != "" && now.Add(time.Minute).Before(h.expires) {
		return h.token, nil
	}
	exp := now.Add(h.TTL)
	claims := Claims{
		Workspace: h.Workspace,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   h.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-30 * time.Second)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	h.token, h.expires = signed, exp
	return signed, nil
}
