// Package compose implements the composition engine: the asynchronous step
// that merges all captured field values into the final artifact and
// certifies it with the audit trail.
package compose

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/audit"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/ports"
)

// Composer renders final artifacts. Rendering and store I/O happen outside
// the document lock; only the snapshot at the start and the status
// transition at the end hold it.
type Composer struct {
	docs       ports.DocumentRepository
	recipients ports.RecipientRepository
	fields     ports.FieldRepository
	auditLog   ports.AuditRepository
	recorder   *audit.Recorder
	store      ports.ArtifactStore
	inspector  ports.PageInspector
	renderer   ports.Renderer
	publisher  ports.EventPublisher
	locks      *lock.Keyed
	clock      ports.Clock
	log        *logrus.Logger
}

// NewComposer creates a composer
func NewComposer(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	fields ports.FieldRepository,
	auditLog ports.AuditRepository,
	store ports.ArtifactStore,
	inspector ports.PageInspector,
	renderer ports.Renderer,
	publisher ports.EventPublisher,
	locks *lock.Keyed,
	clock ports.Clock,
	log *logrus.Logger,
) *Composer {
	return &Composer{
		docs:       docs,
		recipients: recipients,
		fields:     fields,
		auditLog:   auditLog,
		recorder:   audit.NewRecorder(auditLog, clock),
		store:      store,
		inspector:  inspector,
		renderer:   renderer,
		publisher:  publisher,
		locks:      locks,
		clock:      clock,
		log:        log,
	}
}

type snapshot struct {
	doc     *domain.Document
	defs    []*domain.FieldDefinition
	assigns map[string]*domain.FieldAssignment
	entries []*domain.AuditEntry
}

// Compose produces the final artifact and audit certificate for a document
// and performs the Pending -> Completed transition atomically with the
// artifact reference write. Safe to retry: identical inputs reproduce
// byte-identical artifacts, and a document that lost the race to a terminal
// state is left untouched.
func (c *Composer) Compose(ctx context.Context, documentID string) error {
	snap, err := c.snapshot(ctx, documentID)
	if err != nil || snap == nil {
		return err
	}

	// defense in depth: re-validate completeness independently of the
	// workflow's bookkeeping before touching the store
	if err := c.verifyComplete(snap); err != nil {
		return err
	}

	source, err := c.store.Get(ctx, snap.doc.SourceRef)
	if err != nil {
		return fmt.Errorf("failed to load source artifact: %w", err)
	}
	info, err := c.inspector.Inspect(source)
	if err != nil {
		return fmt.Errorf("failed to inspect source PDF: %w", err)
	}

	overlays, err := c.buildOverlays(ctx, snap, info)
	if err != nil {
		return err
	}

	final, err := c.renderer.Render(ctx, source, overlays)
	if err != nil {
		return fmt.Errorf("failed to render final artifact: %w", err)
	}
	sum := sha256.Sum256(final)
	fingerprint := hex.EncodeToString(sum[:])

	certBytes, err := BuildCertificate(documentID, fingerprint, snap.entries)
	if err != nil {
		return fmt.Errorf("failed to build audit certificate: %w", err)
	}

	finalRef, err := c.store.Put(ctx, final)
	if err != nil {
		return fmt.Errorf("failed to store final artifact: %w", err)
	}
	certRef, err := c.store.Put(ctx, certBytes)
	if err != nil {
		return fmt.Errorf("failed to store audit certificate: %w", err)
	}

	return c.finish(ctx, documentID, finalRef, certRef, fingerprint)
}

// snapshot reads everything composition needs under the document lock.
// Returns (nil, nil) when the document is already terminal: retries of a
// finished composition are no-ops.
func (c *Composer) snapshot(ctx context.Context, documentID string) (*snapshot, error) {
	unlock := c.locks.Lock(documentID)
	defer unlock()

	doc, err := c.docs.FindByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != domain.DocumentStatusPending {
		return nil, nil
	}

	defs, err := c.fields.ListDefinitions(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	assignList, err := c.fields.ListAssignments(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	assigns := make(map[string]*domain.FieldAssignment, len(assignList))
	for _, a := range assignList {
		assigns[a.FieldID] = a
	}

	entries, err := c.auditLog.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}

	return &snapshot{doc: doc, defs: defs, assigns: assigns, entries: entries}, nil
}

func (c *Composer) verifyComplete(snap *snapshot) error {
	for _, def := range snap.defs {
		if !def.Required {
			continue
		}
		a, ok := snap.assigns[def.ID]
		if !ok || a.Value.Empty() || a.Value.Validate(def.Type) != nil {
			return domain.ErrIncompleteFields
		}
	}
	return nil
}

// buildOverlays resolves each filled field's normalized geometry against the
// actual page dimensions. The plan is ordered by field id so retries render
// identically regardless of submission order.
func (c *Composer) buildOverlays(ctx context.Context, snap *snapshot, info *ports.PDFInfo) ([]ports.Overlay, error) {
	defs := make([]*domain.FieldDefinition, len(snap.defs))
	copy(defs, snap.defs)
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	var overlays []ports.Overlay
	for _, def := range defs {
		a, ok := snap.assigns[def.ID]
		if !ok {
			continue // optional field left blank
		}
		if def.Page < 0 || def.Page >= len(info.Pages) {
			return nil, domain.ErrInvariantViolation
		}
		page := info.Pages[def.Page]

		// normalized geometry has a top-left origin; PDF points count from
		// the bottom-left corner
		o := ports.Overlay{
			Page:   def.Page,
			X:      def.X * page.Width,
			Y:      page.Height - (def.Y+def.Height)*page.Height,
			Width:  def.Width * page.Width,
			Height: def.Height * page.Height,
			Kind:   def.Type,
		}

		switch def.Type {
		case domain.FieldTypeSignature, domain.FieldTypeInitialMark:
			img, err := c.store.Get(ctx, a.Value.ImageRef)
			if err != nil {
				return nil, fmt.Errorf("failed to load signature image: %w", err)
			}
			o.Image = img
		case domain.FieldTypeText:
			o.Text = a.Value.Text
		case domain.FieldTypeDate:
			o.Text = a.Value.Date
		case domain.FieldTypeCheckbox:
			if !a.Value.Checked {
				continue
			}
			o.Text = "X"
		}
		overlays = append(overlays, o)
	}
	return overlays, nil
}

// finish re-acquires the document lock and applies the terminal transition.
// Both the status change and the artifact reference are written together,
// or not at all.
func (c *Composer) finish(ctx context.Context, documentID, finalRef, certRef, fingerprint string) error {
	unlock := c.locks.Lock(documentID)
	defer unlock()

	doc, err := c.docs.FindByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.Status != domain.DocumentStatusPending {
		// cancellation or expiry won the race; the rendered artifact is
		// unreferenced and the document stays as the winner left it
		return nil
	}

	now := c.clock.Now()
	if err := doc.Complete(finalRef, now); err != nil {
		return err
	}

	// token policy: outstanding links die on completion
	recs, err := c.recipients.ListByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to list recipients: %w", err)
	}
	for _, rec := range recs {
		rec.RevokeToken(now)
		if err := c.recipients.Update(ctx, rec); err != nil {
			return fmt.Errorf("failed to revoke token: %w", err)
		}
	}

	if err := c.docs.Update(ctx, doc); err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}
	if _, err := c.recorder.Record(ctx, documentID, domain.ActorSystem, domain.AuditActionComposed, map[string]string{
		"fingerprint":     fingerprint,
		"final_ref":       finalRef,
		"certificate_ref": certRef,
	}); err != nil {
		return err
	}

	_ = c.publisher.Publish(ctx, ports.Event{
		Type:       ports.EventDocumentCompleted,
		DocumentID: documentID,
		Data:       map[string]string{"fingerprint": fingerprint},
		OccurredAt: now,
	})

	c.log.WithFields(logrus.Fields{
		"document_id": documentID,
		"fingerprint": fingerprint,
	}).Info("Document composed")
	return nil
}
