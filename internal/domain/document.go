package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the lifecycle status of a document
type DocumentStatus string

const (
	DocumentStatusDraft     DocumentStatus = "DRAFT"
	DocumentStatusPending   DocumentStatus = "PENDING"
	DocumentStatusCompleted DocumentStatus = "COMPLETED"
	DocumentStatusCancelled DocumentStatus = "CANCELLED"
	DocumentStatusExpired   DocumentStatus = "EXPIRED"
)

// Document represents a signable unit: a source PDF plus its field layout,
// recipients, and lifecycle status. The workflow engine is the only mutator
// of Status; transitions are monotonic and terminal states accept none.
type Document struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	IssuerID  string         `json:"issuer_id"`
	Status    DocumentStatus `json:"status"`
	SourceRef string         `json:"source_ref"`
	FinalRef  string         `json:"final_ref,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NewDocument creates a new document in Draft status
func NewDocument(title, issuerID, sourceRef string, expiresAt *time.Time, now time.Time) *Document {
	return &Document{
		ID:        uuid.NewString(),
		Title:     title,
		IssuerID:  issuerID,
		Status:    DocumentStatusDraft,
		SourceRef: sourceRef,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Editable reports whether the field layout and recipient set may still change
func (d *Document) Editable() bool {
	return d.Status == DocumentStatusDraft
}

// Terminal reports whether the document reached a final state
func (d *Document) Terminal() bool {
	switch d.Status {
	case DocumentStatusCompleted, DocumentStatusCancelled, DocumentStatusExpired:
		return true
	}
	return false
}

// Send transitions Draft -> Pending
func (d *Document) Send(now time.Time) error {
	if d.Status != DocumentStatusDraft {
		return ErrInvalidTransition
	}
	d.Status = DocumentStatusPending
	d.UpdatedAt = now
	return nil
}

// Cancel transitions Pending -> Cancelled
func (d *Document) Cancel(now time.Time) error {
	if d.Status != DocumentStatusPending {
		return ErrInvalidTransition
	}
	d.Status = DocumentStatusCancelled
	d.UpdatedAt = now
	return nil
}

// Expire transitions Pending -> Expired
func (d *Document) Expire(now time.Time) error {
	if d.Status != DocumentStatusPending {
		return ErrInvalidTransition
	}
	d.Status = DocumentStatusExpired
	d.UpdatedAt = now
	return nil
}

// Complete transitions Pending -> Completed and records the final artifact.
// A Completed document without a final artifact reference is an invariant
// violation, so an empty ref is rejected outright.
func (d *Document) Complete(finalRef string, now time.Time) error {
	if d.Status != DocumentStatusPending {
		return ErrInvalidTransition
	}
	if finalRef == "" {
		return ErrInvariantViolation
	}
	d.Status = DocumentStatusCompleted
	d.FinalRef = finalRef
	d.UpdatedAt = now
	return nil
}

// DeadlinePassed reports whether the document's own expiry deadline has passed
func (d *Document) DeadlinePassed(now time.Time) bool {
	return d.ExpiresAt != nil && now.After(*d.ExpiresAt)
}
