package usecase

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/audit"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/ports"
	"github.com/signato/signato/internal/token"
)

// FieldView pairs a field definition with its current value, if any
type FieldView struct {
	Definition *domain.FieldDefinition `json:"definition"`
	Assignment *domain.FieldAssignment `json:"assignment,omitempty"`
}

// ViewResponse is what a recipient sees when opening a signing link
type ViewResponse struct {
	DocumentID   string      `json:"document_id"`
	Title        string      `json:"title"`
	RecipientID  string      `json:"recipient_id"`
	Email        string      `json:"email"`
	SigningOrder int         `json:"signing_order"`
	TierUnlocked bool        `json:"tier_unlocked"`
	Fields       []FieldView `json:"fields"`
	SourceRef    string      `json:"source_ref"`
}

// SubmitFieldRequest represents a recipient filling one field
type SubmitFieldRequest struct {
	Token      string            `json:"-"`
	FieldID    string            `json:"field_id"`
	Value      domain.FieldValue `json:"value"`
	Image      []byte            `json:"image,omitempty"`
	RemoteAddr string            `json:"-"`
}

// SigningUseCase handles recipient-facing, token-gated operations
type SigningUseCase struct {
	docs       ports.DocumentRepository
	recipients ports.RecipientRepository
	fields     ports.FieldRepository
	recorder   *audit.Recorder
	store      ports.ArtifactStore
	publisher  ports.EventPublisher
	queue      ports.CompositionQueue
	guard      *token.Guard
	locks      *lock.Keyed
	clock      ports.Clock
	log        *logrus.Logger
}

// NewSigningUseCase creates a new signing use case
func NewSigningUseCase(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	fields ports.FieldRepository,
	auditLog ports.AuditRepository,
	store ports.ArtifactStore,
	publisher ports.EventPublisher,
	queue ports.CompositionQueue,
	guard *token.Guard,
	locks *lock.Keyed,
	clock ports.Clock,
	log *logrus.Logger,
) *SigningUseCase {
	return &SigningUseCase{
		docs:       docs,
		recipients: recipients,
		fields:     fields,
		recorder:   audit.NewRecorder(auditLog, clock),
		store:      store,
		publisher:  publisher,
		queue:      queue,
		guard:      guard,
		locks:      locks,
		clock:      clock,
		log:        log,
	}
}

// GetView returns the document and the recipient's fields; the first view
// marks the recipient Viewed
func (uc *SigningUseCase) GetView(ctx context.Context, tok, remoteAddr string) (*ViewResponse, error) {
	rec, err := uc.authorize(ctx, tok, "view", remoteAddr)
	if err != nil {
		return nil, err
	}

	unlock := uc.locks.Lock(rec.DocumentID)
	defer unlock()

	rec, err = uc.reauthorize(ctx, tok, rec.DocumentID, "view", remoteAddr)
	if err != nil {
		return nil, err
	}

	doc, err := uc.docs.FindByID(ctx, rec.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.DocumentStatusPending {
		return nil, domain.ErrTokenRevoked
	}

	if rec.Status == domain.RecipientStatusPending {
		rec.MarkViewed(uc.clock.Now())
		if err := uc.recipients.Update(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to mark viewed: %w", err)
		}
		if _, err := uc.recorder.Record(ctx, doc.ID, rec.ID, domain.AuditActionViewed, remoteMeta(remoteAddr, nil)); err != nil {
			return nil, err
		}
	}

	defs, err := uc.fields.ListDefinitions(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	assigns, err := uc.fields.ListAssignments(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	byField := make(map[string]*domain.FieldAssignment, len(assigns))
	for _, a := range assigns {
		byField[a.FieldID] = a
	}

	var views []FieldView
	for _, def := range defs {
		if def.RecipientID != rec.ID {
			continue
		}
		views = append(views, FieldView{Definition: def, Assignment: byField[def.ID]})
	}

	recs, err := uc.recipients.ListByDocument(ctx, doc.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	lowest, incomplete := domain.LowestIncompleteTier(recs)

	return &ViewResponse{
		DocumentID:   doc.ID,
		Title:        doc.Title,
		RecipientID:  rec.ID,
		Email:        rec.Email,
		SigningOrder: rec.SigningOrder,
		TierUnlocked: incomplete && lowest == rec.SigningOrder,
		Fields:       views,
		SourceRef:    doc.SourceRef,
	}, nil
}

// SubmitField stores a field value for the acting recipient
func (uc *SigningUseCase) SubmitField(ctx context.Context, req SubmitFieldRequest) error {
	rec, err := uc.authorize(ctx, req.Token, "submit_field", req.RemoteAddr)
	if err != nil {
		return err
	}

	value := req.Value
	// signature strokes are uploaded as image bytes; store them outside the
	// document lock and carry only the reference inward
	if len(req.Image) > 0 && (value.Kind == domain.FieldTypeSignature || value.Kind == domain.FieldTypeInitialMark) {
		ref, err := uc.store.Put(ctx, req.Image)
		if err != nil {
			return fmt.Errorf("failed to store signature image: %w", err)
		}
		value.ImageRef = ref
	}

	unlock := uc.locks.Lock(rec.DocumentID)
	defer unlock()

	rec, err = uc.reauthorize(ctx, req.Token, rec.DocumentID, "submit_field", req.RemoteAddr)
	if err != nil {
		return err
	}

	doc, err := uc.docs.FindByID(ctx, rec.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusPending {
		return domain.ErrTokenRevoked
	}
	if uc.queue.InFlight(doc.ID) {
		return uc.denied(ctx, doc.ID, rec.ID, domain.ErrDocumentLocked, remoteMeta(req.RemoteAddr, map[string]string{"field_id": req.FieldID}))
	}

	def, err := uc.fields.FindDefinition(ctx, req.FieldID)
	if err != nil || def.DocumentID != doc.ID || def.RecipientID != rec.ID {
		return domain.ErrUnknownField
	}

	if err := uc.checkTier(ctx, doc.ID, rec); err != nil {
		return uc.denied(ctx, doc.ID, rec.ID, err, remoteMeta(req.RemoteAddr, map[string]string{"field_id": req.FieldID}))
	}

	if err := value.Validate(def.Type); err != nil {
		return err
	}

	assignment := &domain.FieldAssignment{
		FieldID:     def.ID,
		RecipientID: rec.ID,
		Value:       value,
		FilledAt:    uc.clock.Now(),
	}
	if err := uc.fields.UpsertAssignment(ctx, assignment); err != nil {
		return fmt.Errorf("failed to store field value: %w", err)
	}

	if _, err := uc.recorder.Record(ctx, doc.ID, rec.ID, domain.AuditActionFieldFilled, remoteMeta(req.RemoteAddr, map[string]string{
		"field_id": def.ID,
	})); err != nil {
		return err
	}
	return nil
}

// CompleteSigning is the recipient's explicit finalization signal. It
// requires every required field of the recipient to be filled; once the last
// recipient completes, exactly one composition job is enqueued.
func (uc *SigningUseCase) CompleteSigning(ctx context.Context, tok, remoteAddr string) error {
	rec, err := uc.authorize(ctx, tok, "complete", remoteAddr)
	if err != nil {
		return err
	}

	unlock := uc.locks.Lock(rec.DocumentID)
	defer unlock()

	rec, err = uc.reauthorize(ctx, tok, rec.DocumentID, "complete", remoteAddr)
	if err != nil {
		return err
	}

	doc, err := uc.docs.FindByID(ctx, rec.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusPending {
		return domain.ErrTokenRevoked
	}
	if rec.Status == domain.RecipientStatusCompleted {
		return nil
	}
	if uc.queue.InFlight(doc.ID) {
		return uc.denied(ctx, doc.ID, rec.ID, domain.ErrDocumentLocked, remoteMeta(remoteAddr, nil))
	}
	if err := uc.checkTier(ctx, doc.ID, rec); err != nil {
		return uc.denied(ctx, doc.ID, rec.ID, err, remoteMeta(remoteAddr, nil))
	}

	if err := uc.requiredFieldsFilled(ctx, doc.ID, rec.ID); err != nil {
		return err
	}

	now := uc.clock.Now()
	if err := rec.Complete(now); err != nil {
		return err
	}
	if err := uc.recipients.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}
	if _, err := uc.recorder.Record(ctx, doc.ID, rec.ID, domain.AuditActionRecipientCompleted, remoteMeta(remoteAddr, nil)); err != nil {
		return err
	}

	recs, err := uc.recipients.ListByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	if _, incomplete := domain.LowestIncompleteTier(recs); !incomplete {
		// enqueued under the document lock so the idempotence check and the
		// completion that triggered it cannot interleave
		uc.queue.Enqueue(doc.ID)
	}

	uc.log.WithFields(logrus.Fields{
		"document_id":  doc.ID,
		"recipient_id": rec.ID,
	}).Info("Recipient completed signing")
	return nil
}

// Decline records the recipient's refusal and cancels the document
func (uc *SigningUseCase) Decline(ctx context.Context, tok, reason, remoteAddr string) error {
	rec, err := uc.authorize(ctx, tok, "decline", remoteAddr)
	if err != nil {
		return err
	}

	unlock := uc.locks.Lock(rec.DocumentID)
	defer unlock()

	rec, err = uc.reauthorize(ctx, tok, rec.DocumentID, "decline", remoteAddr)
	if err != nil {
		return err
	}

	doc, err := uc.docs.FindByID(ctx, rec.DocumentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusPending {
		return domain.ErrTokenRevoked
	}

	now := uc.clock.Now()
	if err := rec.Decline(now); err != nil {
		return err
	}
	if err := uc.recipients.Update(ctx, rec); err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}
	if _, err := uc.recorder.Record(ctx, doc.ID, rec.ID, domain.AuditActionDeclined, remoteMeta(remoteAddr, map[string]string{
		"reason": reason,
	})); err != nil {
		return err
	}

	// a decline cancels the whole document
	if err := doc.Cancel(now); err != nil {
		return err
	}
	recs, err := uc.recipients.ListByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	for _, other := range recs {
		other.RevokeToken(now)
		if err := uc.recipients.Update(ctx, other); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
	}
	if err := uc.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if _, err := uc.recorder.Record(ctx, doc.ID, domain.ActorSystem, domain.AuditActionCancelled, map[string]string{
		"trigger":      "declined",
		"recipient_id": rec.ID,
	}); err != nil {
		return err
	}

	_ = uc.publisher.Publish(ctx, ports.Event{
		Type:       ports.EventDocumentCancelled,
		DocumentID: doc.ID,
		Data:       map[string]string{"reason": "declined"},
		OccurredAt: now,
	})
	return nil
}

// authorize resolves the token before any lock is held, so the caller
// learns which document to lock. Revoked/expired tokens that still map to
// a known document get a denied-action entry. Callers must re-run the
// check via reauthorize once they hold the document lock.
func (uc *SigningUseCase) authorize(ctx context.Context, tok, action, remoteAddr string) (*domain.Recipient, error) {
	rec, err := uc.guard.Authorize(ctx, tok)
	if err != nil {
		if rec != nil {
			unlock := uc.locks.Lock(rec.DocumentID)
			if _, recErr := uc.recorder.Record(ctx, rec.DocumentID, rec.ID, domain.AuditActionAccessDenied, remoteMeta(remoteAddr, map[string]string{
				"operation": action,
				"reason":    err.Error(),
			})); recErr != nil {
				uc.log.WithError(recErr).Warn("Failed to record denied access")
			}
			unlock()
		}
		return nil, err
	}
	return rec, nil
}

// reauthorize re-runs the guard after the document lock is acquired. A
// rotation or revocation that landed while the caller was waiting on the
// lock kills the stale token here, before any state changes. The caller
// holds the lock, so denied entries are recorded directly.
func (uc *SigningUseCase) reauthorize(ctx context.Context, tok, documentID, action, remoteAddr string) (*domain.Recipient, error) {
	rec, err := uc.guard.Authorize(ctx, tok)
	if err != nil {
		if rec != nil && rec.DocumentID == documentID {
			if _, recErr := uc.recorder.Record(ctx, documentID, rec.ID, domain.AuditActionAccessDenied, remoteMeta(remoteAddr, map[string]string{
				"operation": action,
				"reason":    err.Error(),
			})); recErr != nil {
				uc.log.WithError(recErr).Warn("Failed to record denied access")
			}
		}
		return nil, err
	}
	if rec.DocumentID != documentID {
		return nil, domain.ErrTokenInvalid
	}
	return rec, nil
}

// denied appends the forensic audit entry for an authorization failure and
// returns the original error. The caller holds the document lock.
func (uc *SigningUseCase) denied(ctx context.Context, documentID, recipientID string, cause error, meta map[string]string) error {
	if meta == nil {
		meta = map[string]string{}
	}
	meta["reason"] = cause.Error()
	if _, err := uc.recorder.Record(ctx, documentID, recipientID, domain.AuditActionAccessDenied, meta); err != nil {
		uc.log.WithError(err).Warn("Failed to record denied access")
	}
	return cause
}

// checkTier enforces signing order: a recipient may act only while its tier
// is the lowest tier that has not fully completed
func (uc *SigningUseCase) checkTier(ctx context.Context, documentID string, rec *domain.Recipient) error {
	recs, err := uc.recipients.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	lowest, incomplete := domain.LowestIncompleteTier(recs)
	if !incomplete || rec.SigningOrder != lowest {
		return domain.ErrOutOfOrder
	}
	return nil
}

// requiredFieldsFilled verifies every required field of the recipient
// carries a valid, non-empty value
func (uc *SigningUseCase) requiredFieldsFilled(ctx context.Context, documentID, recipientID string) error {
	defs, err := uc.fields.ListDefinitions(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list fields: %w", err)
	}
	assigns, err := uc.fields.ListAssignments(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list assignments: %w", err)
	}
	byField := make(map[string]*domain.FieldAssignment, len(assigns))
	for _, a := range assigns {
		byField[a.FieldID] = a
	}

	for _, def := range defs {
		if def.RecipientID != recipientID || !def.Required {
			continue
		}
		a, ok := byField[def.ID]
		if !ok || a.Value.Empty() || a.Value.Validate(def.Type) != nil {
			return domain.ErrIncompleteFields
		}
	}
	return nil
}

func remoteMeta(remoteAddr string, meta map[string]string) map[string]string {
	if remoteAddr == "" {
		return meta
	}
	if meta == nil {
		meta = map[string]string{}
	}
	meta["remote_addr"] = remoteAddr
	return meta
}
