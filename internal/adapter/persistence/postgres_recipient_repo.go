package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// PostgresRecipientRepository implements RecipientRepository using PostgreSQL
type PostgresRecipientRepository struct {
	db *sql.DB
}

// NewPostgresRecipientRepository creates a new PostgreSQL recipient repository
func NewPostgresRecipientRepository(db *sql.DB) ports.RecipientRepository {
	return &PostgresRecipientRepository{db: db}
}

const recipientColumns = `id, document_id, email, signing_order, status, token_digest, token_expires_at, token_revoked, reminded_at, created_at, updated_at`

// Create saves a new recipient
func (r *PostgresRecipientRepository) Create(ctx context.Context, rec *domain.Recipient) error {
	query := `
		INSERT INTO recipients (` + recipientColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.DocumentID,
		rec.Email,
		rec.SigningOrder,
		string(rec.Status),
		nullString(rec.TokenDigest),
		rec.TokenExpiresAt,
		rec.TokenRevoked,
		rec.RemindedAt,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}
	return nil
}

// FindByID retrieves a recipient by its ID
func (r *PostgresRecipientRepository) FindByID(ctx context.Context, id string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindByTokenDigest resolves a recipient from a token digest
func (r *PostgresRecipientRepository) FindByTokenDigest(ctx context.Context, digest string) (*domain.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE token_digest = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, digest))
}

// ListByDocument retrieves all recipients of a document in tier order
func (r *PostgresRecipientRepository) ListByDocument(ctx context.Context, documentID string) ([]*domain.Recipient, error) {
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE document_id = $1
		ORDER BY signing_order, id
	`

	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query recipients: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

// Update updates an existing recipient
func (r *PostgresRecipientRepository) Update(ctx context.Context, rec *domain.Recipient) error {
	query := `
		UPDATE recipients
		SET email = $2, signing_order = $3, status = $4, token_digest = $5,
			token_expires_at = $6, token_revoked = $7, reminded_at = $8, updated_at = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.Email,
		rec.SigningOrder,
		string(rec.Status),
		nullString(rec.TokenDigest),
		rec.TokenExpiresAt,
		rec.TokenRevoked,
		rec.RemindedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrRecipientNotFound
	}
	return nil
}

// ListReminderDue returns recipients of pending documents whose token expires
// within the window and who have not been reminded yet
func (r *PostgresRecipientRepository) ListReminderDue(ctx context.Context, now time.Time, window time.Duration) ([]*domain.Recipient, error) {
	query := `
		SELECT r.id, r.document_id, r.email, r.signing_order, r.status, r.token_digest,
			r.token_expires_at, r.token_revoked, r.reminded_at, r.created_at, r.updated_at
		FROM recipients r
		JOIN documents d ON d.id = r.document_id
		WHERE d.status = 'PENDING'
			AND r.status NOT IN ('COMPLETED', 'DECLINED')
			AND r.token_revoked = FALSE
			AND r.reminded_at IS NULL
			AND r.token_expires_at > $1
			AND r.token_expires_at < $2
		ORDER BY r.id
	`

	rows, err := r.db.QueryContext(ctx, query, now, now.Add(window))
	if err != nil {
		return nil, fmt.Errorf("failed to query reminder-due recipients: %w", err)
	}
	defer rows.Close()

	return r.scanAll(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PostgresRecipientRepository) scanOne(row rowScanner) (*domain.Recipient, error) {
	rec, err := scanRecipient(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("failed to find recipient: %w", err)
	}
	return rec, nil
}

func (r *PostgresRecipientRepository) scanAll(rows *sql.Rows) ([]*domain.Recipient, error) {
	var recs []*domain.Recipient
	for rows.Next() {
		rec, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating recipients: %w", err)
	}
	return recs, nil
}

func scanRecipient(row rowScanner) (*domain.Recipient, error) {
	var rec domain.Recipient
	var tokenDigest sql.NullString
	var tokenExpiresAt, remindedAt sql.NullTime

	err := row.Scan(
		&rec.ID,
		&rec.DocumentID,
		&rec.Email,
		&rec.SigningOrder,
		&rec.Status,
		&tokenDigest,
		&tokenExpiresAt,
		&rec.TokenRevoked,
		&remindedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if tokenDigest.Valid {
		rec.TokenDigest = tokenDigest.String
	}
	if tokenExpiresAt.Valid {
		t := tokenExpiresAt.Time
		rec.TokenExpiresAt = &t
	}
	if remindedAt.Valid {
		t := remindedAt.Time
		rec.RemindedAt = &t
	}
	return &rec, nil
}
