// Package memory provides in-memory implementations of every engine port.
// They back the test suite and the development mode of cmd/server; the
// production wiring uses the postgres, s3, and pdf adapters instead.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// DocumentRepository is an in-memory ports.DocumentRepository
type DocumentRepository struct {
	mu   sync.RWMutex
	docs map[string]domain.Document

	recipients *RecipientRepository
}

// NewDocumentRepository creates an empty document repository. The recipient
// repository is consulted for the awaiting-composition scan.
func NewDocumentRepository(recipients *RecipientRepository) *DocumentRepository {
	return &DocumentRepository{docs: make(map[string]domain.Document), recipients: recipients}
}

func (r *DocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[doc.ID] = *doc
	return nil
}

func (r *DocumentRepository) FindByID(ctx context.Context, id string) (*domain.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	out := doc
	return &out, nil
}

func (r *DocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[doc.ID]; !ok {
		return domain.ErrDocumentNotFound
	}
	r.docs[doc.ID] = *doc
	return nil
}

func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return domain.ErrDocumentNotFound
	}
	delete(r.docs, id)
	return nil
}

func (r *DocumentRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, doc := range r.docs {
		if doc.Status == domain.DocumentStatusPending && doc.DeadlinePassed(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *DocumentRepository) ListAwaitingComposition(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	docs := make([]domain.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		docs = append(docs, doc)
	}
	r.mu.RUnlock()

	var ids []string
	for _, doc := range docs {
		if doc.Status != domain.DocumentStatusPending {
			continue
		}
		recs, err := r.recipients.ListByDocument(ctx, doc.ID)
		if err != nil {
			return nil, err
		}
		if len(recs) == 0 {
			continue
		}
		if _, incomplete := domain.LowestIncompleteTier(recs); !incomplete {
			ids = append(ids, doc.ID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// RecipientRepository is an in-memory ports.RecipientRepository
type RecipientRepository struct {
	mu   sync.RWMutex
	recs map[string]domain.Recipient
}

func NewRecipientRepository() *RecipientRepository {
	return &RecipientRepository{recs: make(map[string]domain.Recipient)}
}

func (r *RecipientRepository) Create(ctx context.Context, rec *domain.Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs[rec.ID] = *rec
	return nil
}

func (r *RecipientRepository) FindByID(ctx context.Context, id string) (*domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.recs[id]
	if !ok {
		return nil, domain.ErrRecipientNotFound
	}
	out := rec
	return &out, nil
}

func (r *RecipientRepository) FindByTokenDigest(ctx context.Context, digest string) (*domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.recs {
		if rec.TokenDigest != "" && rec.TokenDigest == digest {
			out := rec
			return &out, nil
		}
	}
	return nil, domain.ErrRecipientNotFound
}

func (r *RecipientRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Recipient
	for _, rec := range r.recs {
		if rec.DocumentID == documentID {
			c := rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SigningOrder != out[j].SigningOrder {
			return out[i].SigningOrder < out[j].SigningOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r *RecipientRepository) Update(ctx context.Context, rec *domain.Recipient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.recs[rec.ID]; !ok {
		return domain.ErrRecipientNotFound
	}
	r.recs[rec.ID] = *rec
	return nil
}

func (r *RecipientRepository) ListReminderDue(ctx context.Context, now time.Time, window time.Duration) ([]*domain.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Recipient
	cutoff := now.Add(window)
	for _, rec := range r.recs {
		if rec.Status == domain.RecipientStatusCompleted || rec.Status == domain.RecipientStatusDeclined {
			continue
		}
		if rec.TokenRevoked || rec.TokenExpiresAt == nil || rec.RemindedAt != nil {
			continue
		}
		if rec.TokenExpiresAt.After(now) && rec.TokenExpiresAt.Before(cutoff) {
			c := rec
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FieldRepository is an in-memory ports.FieldRepository
type FieldRepository struct {
	mu      sync.RWMutex
	defs    map[string]domain.FieldDefinition
	assigns map[string]domain.FieldAssignment // keyed by field id
}

func NewFieldRepository() *FieldRepository {
	return &FieldRepository{
		defs:    make(map[string]domain.FieldDefinition),
		assigns: make(map[string]domain.FieldAssignment),
	}
}

func (r *FieldRepository) CreateDefinition(ctx context.Context, def *domain.FieldDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.ID] = *def
	return nil
}

func (r *FieldRepository) FindDefinition(ctx context.Context, id string) (*domain.FieldDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	if !ok {
		return nil, domain.ErrFieldNotFound
	}
	out := def
	return &out, nil
}

func (r *FieldRepository) ListDefinitions(ctx context.Context, documentID string) ([]*domain.FieldDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.FieldDefinition
	for _, def := range r.defs {
		if def.DocumentID == documentID {
			c := def
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *FieldRepository) UpdateDefinition(ctx context.Context, def *domain.FieldDefinition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.ID]; !ok {
		return domain.ErrFieldNotFound
	}
	r.defs[def.ID] = *def
	return nil
}

func (r *FieldRepository) UpsertAssignment(ctx context.Context, a *domain.FieldAssignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigns[a.FieldID] = *a
	return nil
}

func (r *FieldRepository) ListAssignments(ctx context.Context, documentID string) ([]*domain.FieldAssignment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.FieldAssignment
	for fieldID, a := range r.assigns {
		def, ok := r.defs[fieldID]
		if !ok || def.DocumentID != documentID {
			continue
		}
		c := a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out, nil
}

// AuditRepository is an in-memory ports.AuditRepository
type AuditRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.AuditEntry
}

func NewAuditRepository() *AuditRepository {
	return &AuditRepository{entries: make(map[string][]domain.AuditEntry)}
}

func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := r.entries[entry.DocumentID]
	// a duplicate or out-of-order sequence is a defect, never repaired
	if int64(len(log))+1 != entry.Seq {
		return domain.ErrInvariantViolation
	}
	r.entries[entry.DocumentID] = append(log, *entry)
	return nil
}

func (r *AuditRepository) NextSeq(ctx context.Context, documentID string) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.entries[documentID])) + 1, nil
}

func (r *AuditRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.AuditEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	log := r.entries[documentID]
	out := make([]*domain.AuditEntry, len(log))
	for i := range log {
		c := log[i]
		out[i] = &c
	}
	return out, nil
}

// ArtifactStore is an in-memory, content-addressed ports.ArtifactStore
type ArtifactStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailPuts makes the next n Put calls fail; used to simulate store
	// outages in retry tests
	FailPuts int
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{blobs: make(map[string][]byte)}
}

func (s *ArtifactStore) Put(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPuts > 0 {
		s.FailPuts--
		return "", context.DeadlineExceeded
	}
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[ref] = cp
	return ref, nil
}

func (s *ArtifactStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[ref]
	if !ok {
		return nil, domain.ErrDocumentNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// ChannelPublisher is a ports.EventPublisher that records events for tests
type ChannelPublisher struct {
	mu     sync.Mutex
	events []ports.Event
}

func NewChannelPublisher() *ChannelPublisher {
	return &ChannelPublisher{}
}

func (p *ChannelPublisher) Publish(ctx context.Context, event ports.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// Events returns a snapshot of everything published so far
func (p *ChannelPublisher) Events() []ports.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ports.Event, len(p.events))
	copy(out, p.events)
	return out
}

// Clock is a settable ports.Clock
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
