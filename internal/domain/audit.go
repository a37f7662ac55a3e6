package domain

import (
	"time"
)

// AuditAction represents one kind of recorded action
type AuditAction string

const (
	AuditActionCreated            AuditAction = "CREATED"
	AuditActionSent               AuditAction = "SENT"
	AuditActionViewed             AuditAction = "VIEWED"
	AuditActionFieldFilled        AuditAction = "FIELD_FILLED"
	AuditActionRecipientCompleted AuditAction = "RECIPIENT_COMPLETED"
	AuditActionComposed           AuditAction = "COMPOSED"
	AuditActionCancelled          AuditAction = "CANCELLED"
	AuditActionExpired            AuditAction = "EXPIRED"
	AuditActionDeclined           AuditAction = "DECLINED"
	AuditActionTokenRotated       AuditAction = "TOKEN_ROTATED"
	AuditActionAccessDenied       AuditAction = "ACCESS_DENIED"
)

// ActorSystem identifies actions taken by the engine itself
const ActorSystem = "system"

// AuditEntry is one immutable, ordered record of an action taken on a
// document. Sequence numbers are strictly increasing and gap-free per
// document; they are assigned under the document's serialization point.
// The log is append-only: entries are never updated or deleted.
type AuditEntry struct {
	DocumentID string            `json:"document_id"`
	Seq        int64             `json:"seq"`
	Actor      string            `json:"actor"`
	Action     AuditAction       `json:"action"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
