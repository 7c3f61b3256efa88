// Package auth verifies signed connect tokens. A token carries the claimed
// identity and an expiry, signed with the deployment's Ed25519 key; the
// server only needs the public half.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eldtechnologies/pulse/internal/models"
)

var (
	ErrInvalidPublicKey = errors.New("invalid Ed25519 public key")
	ErrInvalidToken     = errors.New("invalid token")
	ErrTokenExpired     = errors.New("token expired")
)

// TokenClaims is the signed payload of a connect token.
type TokenClaims struct {
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Role        models.Role `json:"role"`
	ExpiresAt   int64       `json:"exp"` // Unix seconds
}

// Authenticator validates connect tokens and produces identities.
type Authenticator interface {
	Authenticate(token string) (*models.Identity, error)
}

// ValidatePublicKey checks if a base64-encoded string is a valid Ed25519 public key.
func ValidatePublicKey(pubkeyB64 string) (ed25519.PublicKey, error) {
	decoded, err := base64.StdEncoding.DecodeString(pubkeyB64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64 encoding", ErrInvalidPublicKey)
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(decoded))
	}

	return ed25519.PublicKey(decoded), nil
}

// TokenVerifier authenticates tokens against a single trusted public key.
type TokenVerifier struct {
	pubkey ed25519.PublicKey
	now    func() time.Time
}

// NewTokenVerifier creates a verifier for the given base64 public key.
func NewTokenVerifier(pubkeyB64 string) (*TokenVerifier, error) {
	pubkey, err := ValidatePublicKey(pubkeyB64)
	if err != nil {
		return nil, err
	}
	return &TokenVerifier{pubkey: pubkey, now: time.Now}, nil
}

// Authenticate parses and verifies a token, returning the embedded identity.
func (v *TokenVerifier) Authenticate(token string) (*models.Identity, error) {
	payload, sig, ok := strings.Cut(token, ".")
	if !ok {
		return nil, fmt.Errorf("%w: missing signature", ErrInvalidToken)
	}

	payloadBytes, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload encoding", ErrInvalidToken)
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature encoding", ErrInvalidToken)
	}

	if !ed25519.Verify(v.pubkey, payloadBytes, sigBytes) {
		return nil, fmt.Errorf("%w: signature verification failed", ErrInvalidToken)
	}

	var claims TokenClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, fmt.Errorf("%w: malformed claims", ErrInvalidToken)
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}
	if claims.ExpiresAt > 0 && v.now().Unix() > claims.ExpiresAt {
		return nil, ErrTokenExpired
	}

	role := claims.Role
	if role == "" {
		role = models.RoleMember
	}

	return &models.Identity{
		UserID:      claims.UserID,
		DisplayName: claims.DisplayName,
		Role:        role,
	}, nil
}

// SignToken mints a token for the given claims. Used by the mktoken tool
// and by tests; the server itself never signs.
func SignToken(priv ed25519.PrivateKey, claims TokenClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	sig := ed25519.Sign(priv, payloadBytes)
	return base64.RawURLEncoding.EncodeToString(payloadBytes) + "." + base64.RawURLEncoding.EncodeToString(sig), nil
}
