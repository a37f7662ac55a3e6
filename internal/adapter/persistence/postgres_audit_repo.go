package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// PostgresAuditRepository implements the append-only AuditRepository using
// PostgreSQL. The primary key on (document_id, seq) is the database-level
// backstop for the gap-free sequence invariant: a duplicate insert fails
// instead of being repaired.
type PostgresAuditRepository struct {
	db *sql.DB
}

// NewPostgresAuditRepository creates a new PostgreSQL audit repository
func NewPostgresAuditRepository(db *sql.DB) ports.AuditRepository {
	return &PostgresAuditRepository{db: db}
}

// Append stores a new audit entry
func (r *PostgresAuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	var metadataJSON []byte
	var err error
	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_entries (document_id, seq, actor, action, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.db.ExecContext(ctx, query,
		entry.DocumentID,
		entry.Seq,
		entry.Actor,
		string(entry.Action),
		entry.Timestamp,
		metadataJSON,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return domain.ErrInvariantViolation
		}
		return fmt.Errorf("failed to append audit entry: %w", err)
	}
	return nil
}

// NextSeq returns the next sequence number for a document
func (r *PostgresAuditRepository) NextSeq(ctx context.Context, documentID string) (int64, error) {
	var next int64
	query := `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries WHERE document_id = $1`
	if err := r.db.QueryRowContext(ctx, query, documentID).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to compute next audit sequence: %w", err)
	}
	return next, nil
}

// ListByDocument retrieves all entries of a document in sequence order
func (r *PostgresAuditRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.AuditEntry, error) {
	query := `
		SELECT document_id, seq, actor, action, ts, metadata
		FROM audit_entries
		WHERE document_id = $1
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.AuditEntry
	for rows.Next() {
		var entry domain.AuditEntry
		var metadataJSON []byte
		if err := rows.Scan(&entry.DocumentID, &entry.Seq, &entry.Actor, &entry.Action, &entry.Timestamp, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}
	return entries, nil
}
