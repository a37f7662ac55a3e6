package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// PostgresDocumentRepository implements DocumentRepository using PostgreSQL
type PostgresDocumentRepository struct {
	db *sql.DB
}

// NewPostgresDocumentRepository creates a new PostgreSQL document repository
func NewPostgresDocumentRepository(db *sql.DB) ports.DocumentRepository {
	return &PostgresDocumentRepository{db: db}
}

// Create saves a new document
func (r *PostgresDocumentRepository) Create(ctx context.Context, doc *domain.Document) error {
	query := `
		INSERT INTO documents (id, title, issuer_id, status, source_ref, final_ref, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		doc.IssuerID,
		string(doc.Status),
		doc.SourceRef,
		nullString(doc.FinalRef),
		doc.ExpiresAt,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// FindByID retrieves a document by its ID
func (r *PostgresDocumentRepository) FindByID(ctx context.Context, id string) (*domain.Document, error) {
	query := `
		SELECT id, title, issuer_id, status, source_ref, final_ref, expires_at, created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	var doc domain.Document
	var finalRef sql.NullString
	var expiresAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID,
		&doc.Title,
		&doc.IssuerID,
		&doc.Status,
		&doc.SourceRef,
		&finalRef,
		&expiresAt,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to find document: %w", err)
	}

	if finalRef.Valid {
		doc.FinalRef = finalRef.String
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		doc.ExpiresAt = &t
	}
	return &doc, nil
}

// Update updates an existing document
func (r *PostgresDocumentRepository) Update(ctx context.Context, doc *domain.Document) error {
	query := `
		UPDATE documents
		SET title = $2, status = $3, final_ref = $4, expires_at = $5, updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		string(doc.Status),
		nullString(doc.FinalRef),
		doc.ExpiresAt,
		doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// Delete removes a document; cascades take its recipients and fields with it
func (r *PostgresDocumentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// ListExpiredPending returns IDs of pending documents past their deadline
func (r *PostgresDocumentRepository) ListExpiredPending(ctx context.Context, now time.Time) ([]string, error) {
	query := `
		SELECT id FROM documents
		WHERE status = 'PENDING' AND expires_at IS NOT NULL AND expires_at < $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired documents: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

// ListAwaitingComposition returns IDs of pending documents whose recipients
// have all completed
func (r *PostgresDocumentRepository) ListAwaitingComposition(ctx context.Context) ([]string, error) {
	query := `
		SELECT d.id FROM documents d
		WHERE d.status = 'PENDING'
			AND EXISTS (SELECT 1 FROM recipients r WHERE r.document_id = d.id)
			AND NOT EXISTS (SELECT 1 FROM recipients r WHERE r.document_id = d.id AND r.status <> 'COMPLETED')
		ORDER BY d.id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents awaiting composition: %w", err)
	}
	defer rows.Close()

	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating documents: %w", err)
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
