// Package auth verifies the Ed25519-signed bearer tokens minted by the
// external SSO. The public key is pinned once at startup; rotation
// requires a restart.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the token payload: {exp, uid}.
type Claims struct {
	UID int64 `json:"uid"`
	jwt.RegisteredClaims
}

// Verifier validates compact JWS tokens against one pinned public key.
type Verifier struct {
	key ed25519.PublicKey
}

// NewVerifier creates a verifier for the given public key.
func NewVerifier(key ed25519.PublicKey) *Verifier {
	return &Verifier{key: key}
}

// Verify checks the token's signature and expiry and returns the uid.
func (v *Verifier) Verify(token string) (int64, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return v.key, nil
		},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("invalid token: %w", err)
	}

	return claims.UID, nil
}

// ParseKey decodes a PEM-encoded Ed25519 public key.
func ParseKey(data []byte) (ed25519.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in key data")
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	key, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is %T, want ed25519", pub)
	}

	return key, nil
}

// FetchKey downloads and parses the SSO's PEM public key.
func FetchKey(ctx context.Context, url string) (ed25519.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch public key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch public key: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}

	return ParseKey(data)
}

// ExpiresIn is a convenience for tests: it builds
// the registered claims for a token valid for the given duration.
func ExpiresIn(d time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(d)),
	}
}
