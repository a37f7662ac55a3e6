package ports

import (
	"context"
	"time"

	"github.com/signato/signato/internal/domain"
)

// DocumentRepository defines the interface for document persistence
type DocumentRepository interface {
	// Create saves a new document
	Create(ctx context.Context, doc *domain.Document) error

	// FindByID retrieves a document by its ID
	FindByID(ctx context.Context, id string) (*domain.Document, error)

	// Update updates an existing document
	Update(ctx context.Context, doc *domain.Document) error

	// Delete removes a document; only drafts are ever deleted
	Delete(ctx context.Context, id string) error

	// ListExpiredPending returns IDs of pending documents whose expiry
	// deadline has passed
	ListExpiredPending(ctx context.Context, now time.Time) ([]string, error)

	// ListAwaitingComposition returns IDs of pending documents whose
	// recipients have all completed; used for crash recovery
	ListAwaitingComposition(ctx context.Context) ([]string, error)
}

// RecipientRepository defines the interface for recipient persistence
type RecipientRepository interface {
	// Create saves a new recipient
	Create(ctx context.Context, rec *domain.Recipient) error

	// FindByID retrieves a recipient by its ID
	FindByID(ctx context.Context, id string) (*domain.Recipient, error)

	// FindByTokenDigest resolves a recipient from a token digest
	FindByTokenDigest(ctx context.Context, digest string) (*domain.Recipient, error)

	// ListByDocument retrieves all recipients of a document
	ListByDocument(ctx context.Context, documentID string) ([]*domain.Recipient, error)

	// Update updates an existing recipient
	Update(ctx context.Context, rec *domain.Recipient) error

	// ListReminderDue returns recipients of pending documents whose token
	// expires within the window and who have not been reminded yet
	ListReminderDue(ctx context.Context, now time.Time, window time.Duration) ([]*domain.Recipient, error)
}

// FieldRepository defines the interface for field persistence
type FieldRepository interface {
	// CreateDefinition saves a new field definition
	CreateDefinition(ctx context.Context, def *domain.FieldDefinition) error

	// FindDefinition retrieves a field definition by its ID
	FindDefinition(ctx context.Context, id string) (*domain.FieldDefinition, error)

	// ListDefinitions retrieves all field definitions of a document
	ListDefinitions(ctx context.Context, documentID string) ([]*domain.FieldDefinition, error)

	// UpdateDefinition updates an existing field definition
	UpdateDefinition(ctx context.Context, def *domain.FieldDefinition) error

	// UpsertAssignment stores or replaces the value for a field
	UpsertAssignment(ctx context.Context, a *domain.FieldAssignment) error

	// ListAssignments retrieves all assignments of a document
	ListAssignments(ctx context.Context, documentID string) ([]*domain.FieldAssignment, error)
}

// AuditRepository defines the interface for the append-only audit log.
// Only append and read-all are exposed; entries are never updated or deleted.
type AuditRepository interface {
	// Append stores a new entry. The caller assigns the sequence number
	// under the document's serialization point; a duplicate sequence is an
	// invariant violation and must fail.
	Append(ctx context.Context, entry *domain.AuditEntry) error

	// NextSeq returns the next sequence number for a document
	NextSeq(ctx context.Context, documentID string) (int64, error)

	// ListByDocument retrieves all entries of a document in sequence order
	ListByDocument(ctx context.Context, documentID string) ([]*domain.AuditEntry, error)
}

// ArtifactStore is the document store adapter: opaque, durable,
// reference-stable persistence for artifact bytes
type ArtifactStore interface {
	// Put stores bytes and returns a stable reference
	Put(ctx context.Context, data []byte) (string, error)

	// Get retrieves the bytes behind a reference
	Get(ctx context.Context, ref string) ([]byte, error)
}

// PageSize is one page's dimensions in PDF points
type PageSize struct {
	Width  float64
	Height float64
}

// PDFInfo is the page-level metadata of a source document
type PDFInfo struct {
	PageCount int
	Pages     []PageSize
}

// PageInspector extracts page count and geometry metadata from PDF bytes
type PageInspector interface {
	Inspect(data []byte) (*PDFInfo, error)
}

// Overlay is one field value resolved to absolute page coordinates
// (PDF points, origin bottom-left)
type Overlay struct {
	Page   int
	X      float64
	Y      float64
	Width  float64
	Height float64
	Kind   domain.FieldType
	Text   string
	Image  []byte
}

// Renderer merges overlays into the source PDF and returns the final bytes.
// Implementations must be deterministic: identical source bytes and overlay
// plans yield byte-identical output, so a retried composition reproduces the
// same artifact.
type Renderer interface {
	Render(ctx context.Context, source []byte, overlays []Overlay) ([]byte, error)
}

// EventType identifies an outbound notification event
type EventType string

const (
	EventDocumentSent         EventType = "document_sent"
	EventRecipientReminderDue EventType = "recipient_reminder_due"
	EventDocumentCompleted    EventType = "document_completed"
	EventDocumentCancelled    EventType = "document_cancelled"
	EventDocumentExpired      EventType = "document_expired"
)

// Event is an outbound notification consumed by email/webhook layers.
// The engine only emits these; delivery is out of scope.
type Event struct {
	Type       EventType         `json:"type"`
	DocumentID string            `json:"document_id"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// EventPublisher defines the interface for emitting outbound events
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// CompositionJobState is the lifecycle of an asynchronous composition job
type CompositionJobState string

const (
	JobStateQueued   CompositionJobState = "QUEUED"
	JobStateRunning  CompositionJobState = "RUNNING"
	JobStateRetrying CompositionJobState = "RETRYING"
	JobStateFailed   CompositionJobState = "FAILED"
	JobStateDone     CompositionJobState = "DONE"
)

// CompositionJobStatus is surfaced to issuers via getStatus
type CompositionJobStatus struct {
	State     CompositionJobState `json:"state"`
	Attempts  int                 `json:"attempts"`
	NextRetry *time.Time          `json:"next_retry,omitempty"`
	LastError string              `json:"last_error,omitempty"`
}

// CompositionQueue accepts composition jobs for asynchronous execution
type CompositionQueue interface {
	// Enqueue schedules composition for a document. Idempotent: a duplicate
	// request for an already queued, in-flight, or composed document is a
	// no-op, not an error. Callers invoke it while holding the document lock.
	Enqueue(documentID string)

	// InFlight reports whether a composition job is queued or executing for
	// the document; field submissions are rejected while it is
	InFlight(documentID string) bool

	// Status returns the job status for a document, if any
	Status(documentID string) (*CompositionJobStatus, bool)
}

// Clock abstracts time for deterministic tests
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
