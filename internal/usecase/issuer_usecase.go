package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/audit"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/ports"
	"github.com/signato/signato/internal/token"
)

// CreateDocumentRequest represents the request to create a document
type CreateDocumentRequest struct {
	IssuerID  string     `json:"issuer_id"`
	Title     string     `json:"title" validate:"required,min=1,max=200"`
	PDF       []byte     `json:"pdf" validate:"required"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// FieldSpec describes one field to place on a document
type FieldSpec struct {
	Type        domain.FieldType `json:"type"`
	Page        int              `json:"page"`
	X           float64          `json:"x"`
	Y           float64          `json:"y"`
	Width       float64          `json:"width"`
	Height      float64          `json:"height"`
	Required    bool             `json:"required"`
	RecipientID string           `json:"recipient_id,omitempty"`
}

// SigningLink pairs a recipient with the freshly issued token for its
// signing link. Tokens appear here and in the DocumentSent event only; they
// are never persisted in the clear.
type SigningLink struct {
	RecipientID string `json:"recipient_id"`
	Email       string `json:"email"`
	Token       string `json:"token"`
}

// SendResponse represents the result of sending a document
type SendResponse struct {
	Document *domain.Document `json:"document"`
	Links    []SigningLink    `json:"links"`
}

// StatusResponse represents a document's status for the issuer
type StatusResponse struct {
	Document    *domain.Document            `json:"document"`
	Recipients  []*domain.Recipient         `json:"recipients"`
	Composition *ports.CompositionJobStatus `json:"composition,omitempty"`
}

// IssuerUseCase handles issuer-facing document workflow operations
type IssuerUseCase struct {
	docs       ports.DocumentRepository
	recipients ports.RecipientRepository
	fields     ports.FieldRepository
	recorder   *audit.Recorder
	auditLog   ports.AuditRepository
	store      ports.ArtifactStore
	inspector  ports.PageInspector
	publisher  ports.EventPublisher
	queue      ports.CompositionQueue
	locks      *lock.Keyed
	clock      ports.Clock
	tokenTTL   time.Duration
	log        *logrus.Logger
}

// NewIssuerUseCase creates a new issuer use case
func NewIssuerUseCase(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	fields ports.FieldRepository,
	auditLog ports.AuditRepository,
	store ports.ArtifactStore,
	inspector ports.PageInspector,
	publisher ports.EventPublisher,
	queue ports.CompositionQueue,
	locks *lock.Keyed,
	clock ports.Clock,
	tokenTTL time.Duration,
	log *logrus.Logger,
) *IssuerUseCase {
	return &IssuerUseCase{
		docs:       docs,
		recipients: recipients,
		fields:     fields,
		recorder:   audit.NewRecorder(auditLog, clock),
		auditLog:   auditLog,
		store:      store,
		inspector:  inspector,
		publisher:  publisher,
		queue:      queue,
		locks:      locks,
		clock:      clock,
		tokenTTL:   tokenTTL,
		log:        log,
	}
}

// CreateDocument stores the source PDF and creates a Draft document
func (uc *IssuerUseCase) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*domain.Document, error) {
	if req.Title == "" {
		return nil, fmt.Errorf("title is required")
	}
	if len(req.PDF) == 0 {
		return nil, fmt.Errorf("source PDF is required")
	}

	// reject sources we cannot place fields on later
	if _, err := uc.inspector.Inspect(req.PDF); err != nil {
		return nil, fmt.Errorf("failed to read source PDF: %w", err)
	}

	sourceRef, err := uc.store.Put(ctx, req.PDF)
	if err != nil {
		return nil, fmt.Errorf("failed to store source artifact: %w", err)
	}

	doc := domain.NewDocument(req.Title, req.IssuerID, sourceRef, req.ExpiresAt, uc.clock.Now())
	if err := uc.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	if _, err := uc.recorder.Record(ctx, doc.ID, req.IssuerID, domain.AuditActionCreated, nil); err != nil {
		return nil, err
	}

	uc.log.WithFields(logrus.Fields{
		"document_id": doc.ID,
		"issuer_id":   req.IssuerID,
	}).Info("Document created")

	return doc, nil
}

// DefineFields validates and places field definitions on a draft document
func (uc *IssuerUseCase) DefineFields(ctx context.Context, documentID, issuerID string, specs []FieldSpec) ([]*domain.FieldDefinition, error) {
	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return nil, err
	}
	if !doc.Editable() {
		return nil, domain.ErrDocumentNotEditable
	}

	source, err := uc.store.Get(ctx, doc.SourceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load source artifact: %w", err)
	}
	info, err := uc.inspector.Inspect(source)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect source PDF: %w", err)
	}

	recs, err := uc.recipients.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	known := make(map[string]bool, len(recs))
	for _, r := range recs {
		known[r.ID] = true
	}

	defs := make([]*domain.FieldDefinition, 0, len(specs))
	for _, spec := range specs {
		def := domain.NewFieldDefinition(documentID, spec.Type, spec.Page, spec.X, spec.Y, spec.Width, spec.Height, spec.Required, spec.RecipientID)
		if !def.ValidType() {
			return nil, domain.ErrInvalidFieldValue
		}
		if !def.ValidGeometry() {
			return nil, domain.ErrInvalidGeometry
		}
		if def.Page < 0 || def.Page >= info.PageCount {
			return nil, domain.ErrPageOutOfRange
		}
		if def.RecipientID != "" && !known[def.RecipientID] {
			return nil, domain.ErrUnknownRecipient
		}
		defs = append(defs, def)
	}

	for _, def := range defs {
		if err := uc.fields.CreateDefinition(ctx, def); err != nil {
			return nil, fmt.Errorf("failed to create field definition: %w", err)
		}
	}
	return defs, nil
}

// AddRecipient adds a recipient to a draft document. Equal signing order
// values place recipients in the same parallel tier.
func (uc *IssuerUseCase) AddRecipient(ctx context.Context, documentID, issuerID, email string, signingOrder int) (*domain.Recipient, error) {
	if email == "" {
		return nil, fmt.Errorf("recipient email is required")
	}

	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return nil, err
	}
	if !doc.Editable() {
		return nil, domain.ErrDocumentNotEditable
	}

	rec := domain.NewRecipient(documentID, email, signingOrder, uc.clock.Now())
	if err := uc.recipients.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create recipient: %w", err)
	}
	return rec, nil
}

// AssignField binds a field definition to a recipient of the same document
func (uc *IssuerUseCase) AssignField(ctx context.Context, documentID, issuerID, fieldID, recipientID string) error {
	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return err
	}
	if !doc.Editable() {
		return domain.ErrDocumentNotEditable
	}

	def, err := uc.fields.FindDefinition(ctx, fieldID)
	if err != nil || def.DocumentID != documentID {
		return domain.ErrUnknownField
	}

	rec, err := uc.recipients.FindByID(ctx, recipientID)
	if err != nil || rec.DocumentID != documentID {
		return domain.ErrUnknownRecipient
	}

	def.RecipientID = recipientID
	if err := uc.fields.UpdateDefinition(ctx, def); err != nil {
		return fmt.Errorf("failed to assign field: %w", err)
	}
	return nil
}

// Send freezes the layout, issues one token per recipient, and transitions
// the document Draft -> Pending
func (uc *IssuerUseCase) Send(ctx context.Context, documentID, issuerID string) (*SendResponse, error) {
	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return nil, err
	}

	recs, err := uc.recipients.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	if len(recs) == 0 {
		return nil, domain.ErrNoRecipients
	}

	defs, err := uc.fields.ListDefinitions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	hasRequired := false
	for _, def := range defs {
		if def.RecipientID == "" {
			// every field needs exactly one assigned recipient before send
			return nil, domain.ErrUnknownRecipient
		}
		if def.Required {
			hasRequired = true
		}
	}
	if !hasRequired {
		return nil, domain.ErrNoRequiredFields
	}

	now := uc.clock.Now()
	if err := doc.Send(now); err != nil {
		return nil, err
	}

	links := make([]SigningLink, 0, len(recs))
	eventData := map[string]string{"title": doc.Title}
	for _, rec := range recs {
		tok, digest, err := token.Mint()
		if err != nil {
			return nil, err
		}
		rec.SetToken(digest, now.Add(uc.tokenTTL), now)
		if err := uc.recipients.Update(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to issue token: %w", err)
		}
		links = append(links, SigningLink{RecipientID: rec.ID, Email: rec.Email, Token: tok})
		eventData["token:"+rec.ID] = tok
	}

	if err := uc.docs.Update(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to update document: %w", err)
	}
	if _, err := uc.recorder.Record(ctx, documentID, issuerID, domain.AuditActionSent, nil); err != nil {
		return nil, err
	}

	_ = uc.publisher.Publish(ctx, ports.Event{
		Type:       ports.EventDocumentSent,
		DocumentID: documentID,
		Data:       eventData,
		OccurredAt: now,
	})

	uc.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"recipients":  len(recs),
	}).Info("Document sent")

	return &SendResponse{Document: doc, Links: links}, nil
}

// Cancel transitions a pending document to Cancelled and invalidates all
// outstanding tokens
func (uc *IssuerUseCase) Cancel(ctx context.Context, documentID, issuerID string) error {
	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return err
	}

	now := uc.clock.Now()
	if err := doc.Cancel(now); err != nil {
		return err
	}
	if err := uc.revokeAllTokens(ctx, documentID, now); err != nil {
		return err
	}
	if err := uc.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if _, err := uc.recorder.Record(ctx, documentID, issuerID, domain.AuditActionCancelled, nil); err != nil {
		return err
	}

	_ = uc.publisher.Publish(ctx, ports.Event{
		Type:       ports.EventDocumentCancelled,
		DocumentID: documentID,
		OccurredAt: now,
	})
	return nil
}

// DiscardDraft deletes a draft outright. This is not a state transition and
// leaves no audit trail.
func (uc *IssuerUseCase) DiscardDraft(ctx context.Context, documentID, issuerID string) error {
	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusDraft {
		return domain.ErrInvalidTransition
	}
	return uc.docs.Delete(ctx, documentID)
}

// RotateToken invalidates a recipient's current token and issues a fresh
// one. This is the only recovery path for a leaked or expired token.
func (uc *IssuerUseCase) RotateToken(ctx context.Context, documentID, issuerID, recipientID string) (string, error) {
	unlock := uc.locks.Lock(documentID)
	defer unlock()

	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return "", err
	}
	if doc.Status != domain.DocumentStatusPending {
		return "", domain.ErrInvalidTransition
	}

	rec, err := uc.recipients.FindByID(ctx, recipientID)
	if err != nil || rec.DocumentID != documentID {
		return "", domain.ErrUnknownRecipient
	}

	now := uc.clock.Now()
	tok, digest, err := token.Mint()
	if err != nil {
		return "", err
	}
	rec.SetToken(digest, now.Add(uc.tokenTTL), now)
	if err := uc.recipients.Update(ctx, rec); err != nil {
		return "", fmt.Errorf("failed to rotate token: %w", err)
	}

	if _, err := uc.recorder.Record(ctx, documentID, issuerID, domain.AuditActionTokenRotated, map[string]string{
		"recipient_id": recipientID,
	}); err != nil {
		return "", err
	}
	return tok, nil
}

// GetStatus returns the document, its recipient summaries, and the state of
// any composition job, including retry count and next retry time
func (uc *IssuerUseCase) GetStatus(ctx context.Context, documentID, issuerID string) (*StatusResponse, error) {
	doc, err := uc.loadOwned(ctx, documentID, issuerID)
	if err != nil {
		return nil, err
	}
	recs, err := uc.recipients.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	resp := &StatusResponse{Document: doc, Recipients: recs}
	if status, ok := uc.queue.Status(documentID); ok {
		resp.Composition = status
	}
	return resp, nil
}

// GetAuditTrail returns the ordered, read-only audit entries of a document
func (uc *IssuerUseCase) GetAuditTrail(ctx context.Context, documentID, issuerID string) ([]*domain.AuditEntry, error) {
	if _, err := uc.loadOwned(ctx, documentID, issuerID); err != nil {
		return nil, err
	}
	entries, err := uc.auditLog.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}

// loadOwned fetches a document and hides it from non-owners
func (uc *IssuerUseCase) loadOwned(ctx context.Context, documentID, issuerID string) (*domain.Document, error) {
	doc, err := uc.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if issuerID != "" && doc.IssuerID != issuerID {
		return nil, domain.ErrDocumentNotFound
	}
	return doc, nil
}

func (uc *IssuerUseCase) revokeAllTokens(ctx context.Context, documentID string, now time.Time) error {
	recs, err := uc.recipients.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	for _, rec := range recs {
		rec.RevokeToken(now)
		if err := uc.recipients.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
	}
	return nil
}
