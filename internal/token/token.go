// Package token mints and validates the opaque access tokens that gate every
// recipient-facing action. A token is scoped to one (document, recipient)
// pair; only its SHA-256 digest is persisted, so a leaked database never
// yields usable signing links.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

const tokenBytes = 32

// Mint generates a cryptographically random, unguessable token and its
// storage digest
func Mint() (token string, digest string, err error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate token bytes: %w", err)
	}
	token = base64.RawURLEncoding.EncodeToString(b)
	return token, Digest(token), nil
}

// Digest returns the storage digest of a token value
func Digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Guard validates tokens against recipient data. It is stateless logic over
// the recipient ledger; it owns no store of its own.
type Guard struct {
	recipients ports.RecipientRepository
	clock      ports.Clock
}

// NewGuard creates a token guard
func NewGuard(recipients ports.RecipientRepository, clock ports.Clock) *Guard {
	return &Guard{recipients: recipients, clock: clock}
}

// Authorize resolves a token to its recipient, failing with TokenInvalid,
// TokenRevoked, or TokenExpired. Every recipient-facing operation passes
// through this check before touching any state. When the token resolved to a
// recipient but is revoked or expired, that recipient is returned alongside
// the error so the caller can record a denied-action audit entry against the
// right document.
func (g *Guard) Authorize(ctx context.Context, tok string) (*domain.Recipient, error) {
	if tok == "" {
		return nil, domain.ErrTokenInvalid
	}

	rec, err := g.recipients.FindByTokenDigest(ctx, Digest(tok))
	if err != nil {
		if err == domain.ErrRecipientNotFound {
			return nil, domain.ErrTokenInvalid
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	// expiry outranks revocation: expiring a document revokes its tokens
	// too, and the recipient-facing failure must stay TokenExpired
	if rec.TokenExpired(g.clock.Now()) {
		return rec, domain.ErrTokenExpired
	}
	if rec.TokenRevoked {
		return rec, domain.ErrTokenRevoked
	}

	return rec, nil
}
