// Package audit appends entries to the per-document audit log. Sequence
// numbers are assigned here; callers must hold the document lock so the
// sequence stays gap-free and duplicate-free.
package audit

import (
	"context"
	"fmt"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// Recorder appends audit entries with correctly assigned sequence numbers
type Recorder struct {
	repo  ports.AuditRepository
	clock ports.Clock
}

// NewRecorder creates a recorder
func NewRecorder(repo ports.AuditRepository, clock ports.Clock) *Recorder {
	return &Recorder{repo: repo, clock: clock}
}

// Record appends one entry for the document and returns it
func (r *Recorder) Record(ctx context.Context, documentID, actor string, action domain.AuditAction, metadata map[string]string) (*domain.AuditEntry, error) {
	seq, err := r.repo.NextSeq(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to assign audit sequence: %w", err)
	}

	entry := &domain.AuditEntry{
		DocumentID: documentID,
		Seq:        seq,
		Actor:      actor,
		Action:     action,
		Timestamp:  r.clock.Now(),
		Metadata:   metadata,
	}
	if err := r.repo.Append(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to append audit entry: %w", err)
	}
	return entry, nil
}
