package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signato/signato/internal/adapter/memory"
	"github.com/signato/signato/internal/domain"
)

func TestMint(t *testing.T) {
	tok1, digest1, err := Mint()
	require.NoError(t, err)
	tok2, digest2, err := Mint()
	require.NoError(t, err)

	assert.NotEqual(t, tok1, tok2, "tokens must be unguessable, not repeated")
	assert.Equal(t, Digest(tok1), digest1)
	assert.NotEqual(t, digest1, digest2)
	assert.NotContains(t, tok1, "=", "token must be URL-safe")
}

func TestGuard_Authorize(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := memory.NewClock(now)
	recipients := memory.NewRecipientRepository()
	guard := NewGuard(recipients, clock)

	tok, digest, err := Mint()
	require.NoError(t, err)

	rec := domain.NewRecipient("doc-1", "a@example.com", 1, now)
	rec.SetToken(digest, now.Add(time.Hour), now)
	require.NoError(t, recipients.Create(ctx, rec))

	t.Run("valid token resolves the recipient", func(t *testing.T) {
		got, err := guard.Authorize(ctx, tok)
		require.NoError(t, err)
		assert.Equal(t, rec.ID, got.ID)
		assert.Equal(t, "doc-1", got.DocumentID)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := guard.Authorize(ctx, "not-a-token")
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	})

	t.Run("empty token", func(t *testing.T) {
		_, err := guard.Authorize(ctx, "")
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	})

	t.Run("expired token", func(t *testing.T) {
		clock.Advance(2 * time.Hour)
		_, err := guard.Authorize(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrTokenExpired)
	})

	t.Run("revoked token", func(t *testing.T) {
		rec.SetToken(digest, clock.Now().Add(time.Hour), clock.Now())
		rec.RevokeToken(clock.Now())
		require.NoError(t, recipients.Update(ctx, rec))
		_, err := guard.Authorize(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrTokenRevoked)
	})

	t.Run("expired token that was also revoked reports expiry", func(t *testing.T) {
		// expiring a document revokes its tokens; the recipient still sees
		// the expiry, not the revocation bookkeeping
		clock.Advance(2 * time.Hour)
		_, err := guard.Authorize(ctx, tok)
		assert.ErrorIs(t, err, domain.ErrTokenExpired)
	})
}
