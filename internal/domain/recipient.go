package domain

import (
	"time"

	"github.com/google/uuid"
)

// RecipientStatus represents the status of a recipient
type RecipientStatus string

const (
	RecipientStatusPending   RecipientStatus = "PENDING"
	RecipientStatusViewed    RecipientStatus = "VIEWED"
	RecipientStatusCompleted RecipientStatus = "COMPLETED"
	RecipientStatusDeclined  RecipientStatus = "DECLINED"
)

// Recipient is a person required to act on a document, identified by a scoped
// access token rather than an account. The token itself is never stored; only
// its SHA-256 digest is kept for lookup.
type Recipient struct {
	ID             string          `json:"id"`
	DocumentID     string          `json:"document_id"`
	Email          string          `json:"email"`
	SigningOrder   int             `json:"signing_order"`
	Status         RecipientStatus `json:"status"`
	TokenDigest    string          `json:"-"`
	TokenExpiresAt *time.Time      `json:"token_expires_at,omitempty"`
	TokenRevoked   bool            `json:"-"`
	RemindedAt     *time.Time      `json:"reminded_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewRecipient creates a recipient for a draft document. Equal signing order
// values denote a parallel tier.
func NewRecipient(documentID, email string, signingOrder int, now time.Time) *Recipient {
	return &Recipient{
		ID:           uuid.NewString(),
		DocumentID:   documentID,
		Email:        email,
		SigningOrder: signingOrder,
		Status:       RecipientStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MarkViewed records the first time the recipient opened the document
func (r *Recipient) MarkViewed(now time.Time) {
	if r.Status == RecipientStatusPending {
		r.Status = RecipientStatusViewed
		r.UpdatedAt = now
	}
}

// Complete marks the recipient as done signing
func (r *Recipient) Complete(now time.Time) error {
	if r.Status == RecipientStatusCompleted || r.Status == RecipientStatusDeclined {
		return ErrInvalidTransition
	}
	r.Status = RecipientStatusCompleted
	r.UpdatedAt = now
	return nil
}

// Decline marks the recipient as having refused to sign
func (r *Recipient) Decline(now time.Time) error {
	if r.Status == RecipientStatusCompleted || r.Status == RecipientStatusDeclined {
		return ErrInvalidTransition
	}
	r.Status = RecipientStatusDeclined
	r.UpdatedAt = now
	return nil
}

// SetToken installs a freshly minted token digest with its expiry, clearing
// any previous revocation
func (r *Recipient) SetToken(digest string, expiresAt time.Time, now time.Time) {
	r.TokenDigest = digest
	r.TokenExpiresAt = &expiresAt
	r.TokenRevoked = false
	r.UpdatedAt = now
}

// RevokeToken invalidates the current token
func (r *Recipient) RevokeToken(now time.Time) {
	r.TokenRevoked = true
	r.UpdatedAt = now
}

// TokenExpired reports whether the recipient's token is past its expiry
func (r *Recipient) TokenExpired(now time.Time) bool {
	return r.TokenExpiresAt != nil && now.After(*r.TokenExpiresAt)
}

// LowestIncompleteTier returns the lowest signing order among recipients that
// have not yet completed. The second return value is false when every
// recipient has completed. Parallel tiers require all members to complete
// before the next tier unlocks.
func LowestIncompleteTier(recipients []*Recipient) (int, bool) {
	lowest := 0
	found := false
	for _, r := range recipients {
		if r.Status == RecipientStatusCompleted {
			continue
		}
		if !found || r.SigningOrder < lowest {
			lowest = r.SigningOrder
			found = true
		}
	}
	return lowest, found
}
