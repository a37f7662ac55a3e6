// Package expiry enforces document deadlines. A periodic sweep attempts the
// Pending -> Expired transition and emits reminder events for recipients
// whose signing links are about to lapse.
package expiry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/audit"
	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/lock"
	"github.com/signato/signato/internal/ports"
)

// SweeperConfig configures the expiry sweeper
type SweeperConfig struct {
	Interval       time.Duration
	ReminderWindow time.Duration
}

// Sweeper expires overdue documents and nudges slow recipients
type Sweeper struct {
	docs       ports.DocumentRepository
	recipients ports.RecipientRepository
	recorder   *audit.Recorder
	publisher  ports.EventPublisher
	locks      *lock.Keyed
	clock      ports.Clock
	cfg        SweeperConfig
	log        *logrus.Logger
}

// NewSweeper creates a sweeper; call Run to start it
func NewSweeper(
	docs ports.DocumentRepository,
	recipients ports.RecipientRepository,
	auditLog ports.AuditRepository,
	publisher ports.EventPublisher,
	locks *lock.Keyed,
	clock ports.Clock,
	cfg SweeperConfig,
	log *logrus.Logger,
) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = 24 * time.Hour
	}
	return &Sweeper{
		docs:       docs,
		recipients: recipients,
		recorder:   audit.NewRecorder(auditLog, clock),
		publisher:  publisher,
		locks:      locks,
		clock:      clock,
		cfg:        cfg,
		log:        log,
	}
}

// Run sweeps on a ticker until the context is cancelled
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep performs one pass. Exported so tests and cmd wiring can trigger it
// directly.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := s.clock.Now()

	ids, err := s.docs.ListExpiredPending(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("Expiry sweep failed to list documents")
	} else {
		for _, id := range ids {
			s.expire(ctx, id)
		}
	}

	due, err := s.recipients.ListReminderDue(ctx, now, s.cfg.ReminderWindow)
	if err != nil {
		s.log.WithError(err).Error("Expiry sweep failed to list reminders")
		return
	}
	for _, rec := range due {
		s.remind(ctx, rec, now)
	}
}

// expire competes with ordinary completion and cancellation for the
// document lock, and loses gracefully: a document that already reached a
// terminal state is left alone
func (s *Sweeper) expire(ctx context.Context, documentID string) {
	unlock := s.locks.Lock(documentID)
	defer unlock()

	doc, err := s.docs.FindByID(ctx, documentID)
	if err != nil {
		s.log.WithError(err).WithField("document_id", documentID).Error("Expiry sweep failed to load document")
		return
	}

	now := s.clock.Now()
	if !doc.DeadlinePassed(now) {
		return
	}
	if err := doc.Expire(now); err != nil {
		return
	}

	recs, err := s.recipients.ListByDocument(ctx, documentID)
	if err == nil {
		for _, rec := range recs {
			rec.RevokeToken(now)
			if uerr := s.recipients.Update(ctx, rec); uerr != nil {
				s.log.WithError(uerr).WithField("document_id", documentID).Error("Failed to revoke token on expiry")
			}
		}
	}

	if err := s.docs.Update(ctx, doc); err != nil {
		s.log.WithError(err).WithField("document_id", documentID).Error("Failed to persist expiry")
		return
	}
	if _, err := s.recorder.Record(ctx, documentID, domain.ActorSystem, domain.AuditActionExpired, nil); err != nil {
		s.log.WithError(err).WithField("document_id", documentID).Error("Failed to record expiry")
		return
	}

	_ = s.publisher.Publish(ctx, ports.Event{
		Type:       ports.EventDocumentExpired,
		DocumentID: documentID,
		OccurredAt: now,
	})
	s.log.WithField("document_id", documentID).Info("Document expired")
}

func (s *Sweeper) remind(ctx context.Context, rec *domain.Recipient, now time.Time) {
	unlock := s.locks.Lock(rec.DocumentID)
	defer unlock()

	current, err := s.recipients.FindByID(ctx, rec.ID)
	if err != nil || current.RemindedAt != nil {
		return
	}
	current.RemindedAt = &now
	if err := s.recipients.Update(ctx, current); err != nil {
		s.log.WithError(err).WithField("recipient_id", rec.ID).Error("Failed to mark reminder")
		return
	}

	_ = s.publisher.Publish(ctx, ports.Event{
		Type:       ports.EventRecipientReminderDue,
		DocumentID: rec.DocumentID,
		Data:       map[string]string{"recipient_id": rec.ID, "email": rec.Email},
		OccurredAt: now,
	})
}
