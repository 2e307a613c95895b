// Package auth issues and verifies the bearer tokens used on the push
// channel and the tracking HTTP surface.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims carried by tracker tokens.
type Claims struct {
	Workspace string `json:"workspace"`
	jwt.RegisteredClaims
}

type Principal struct {
	Subject   string
	Workspace string
}

// Verifier validates bearer tokens. Modes: dev (token format
// workspace:subject, no signature) and hmac (HS256).
type Verifier struct {
	Mode       string
	HMACSecret []byte
}

func NewVerifier(secret string) *Verifier {
	if strings.TrimSpace(secret) == "" {
		return &Verifier{Mode: "dev"}
	}
	return &Verifier{Mode: "hmac", HMACSecret: []byte(secret)}
}

func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, ErrInvalidToken
	}
	switch v.Mode {
	case "dev":
		ws, sub, ok := strings.Cut(token, ":")
		if !ok || ws == "" {
			return Principal{}, fmt.Errorf("%w: expected workspace:subject", ErrInvalidToken)
		}
		return Principal{Subject: sub, Workspace: ws}, nil
	case "hmac":
		var claims Claims
		_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
			return v.HMACSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
		if claims.Workspace == "" {
			return Principal{}, fmt.Errorf("%w: missing workspace claim", ErrInvalidToken)
		}
		return Principal{Subject: claims.Subject, Workspace: claims.Workspace}, nil
	}
	return Principal{}, errors.New("unsupported auth mode")
}
