package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/signato/signato/internal/domain"
	"github.com/signato/signato/internal/ports"
)

// PostgresFieldRepository implements FieldRepository using PostgreSQL
type PostgresFieldRepository struct {
	db *sql.DB
}

// NewPostgresFieldRepository creates a new PostgreSQL field repository
func NewPostgresFieldRepository(db *sql.DB) ports.FieldRepository {
	return &PostgresFieldRepository{db: db}
}

// CreateDefinition saves a new field definition
func (r *PostgresFieldRepository) CreateDefinition(ctx context.Context, def *domain.FieldDefinition) error {
	query := `
		INSERT INTO field_definitions (id, document_id, type, page, x, y, width, height, required, recipient_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		def.ID,
		def.DocumentID,
		string(def.Type),
		def.Page,
		def.X,
		def.Y,
		def.Width,
		def.Height,
		def.Required,
		nullString(def.RecipientID),
	)
	if err != nil {
		return fmt.Errorf("failed to create field definition: %w", err)
	}
	return nil
}

// FindDefinition retrieves a field definition by its ID
func (r *PostgresFieldRepository) FindDefinition(ctx context.Context, id string) (*domain.FieldDefinition, error) {
	query := `
		SELECT id, document_id, type, page, x, y, width, height, required, recipient_id
		FROM field_definitions
		WHERE id = $1
	`

	def, err := scanFieldDefinition(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrFieldNotFound
		}
		return nil, fmt.Errorf("failed to find field definition: %w", err)
	}
	return def, nil
}

// ListDefinitions retrieves all field definitions of a document
func (r *PostgresFieldRepository) ListDefinitions(ctx context.Context, documentID string) ([]*domain.FieldDefinition, error) {
	query := `
		SELECT id, document_id, type, page, x, y, width, height, required, recipient_id
		FROM field_definitions
		WHERE document_id = $1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query field definitions: %w", err)
	}
	defer rows.Close()

	var defs []*domain.FieldDefinition
	for rows.Next() {
		def, err := scanFieldDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field definitions: %w", err)
	}
	return defs, nil
}

// UpdateDefinition updates an existing field definition
func (r *PostgresFieldRepository) UpdateDefinition(ctx context.Context, def *domain.FieldDefinition) error {
	query := `
		UPDATE field_definitions
		SET type = $2, page = $3, x = $4, y = $5, width = $6, height = $7, required = $8, recipient_id = $9
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		def.ID,
		string(def.Type),
		def.Page,
		def.X,
		def.Y,
		def.Width,
		def.Height,
		def.Required,
		nullString(def.RecipientID),
	)
	if err != nil {
		return fmt.Errorf("failed to update field definition: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return domain.ErrFieldNotFound
	}
	return nil
}

// UpsertAssignment stores or replaces the value for a field
func (r *PostgresFieldRepository) UpsertAssignment(ctx context.Context, a *domain.FieldAssignment) error {
	valueJSON, err := json.Marshal(a.Value)
	if err != nil {
		return fmt.Errorf("failed to marshal field value: %w", err)
	}

	query := `
		INSERT INTO field_assignments (field_id, recipient_id, value, filled_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (field_id) DO UPDATE
		SET recipient_id = EXCLUDED.recipient_id, value = EXCLUDED.value, filled_at = EXCLUDED.filled_at
	`

	if _, err := r.db.ExecContext(ctx, query, a.FieldID, a.RecipientID, valueJSON, a.FilledAt); err != nil {
		return fmt.Errorf("failed to upsert field assignment: %w", err)
	}
	return nil
}

// ListAssignments retrieves all assignments of a document
func (r *PostgresFieldRepository) ListAssignments(ctx context.Context, documentID string) ([]*domain.FieldAssignment, error) {
	query := `
		SELECT a.field_id, a.recipient_id, a.value, a.filled_at
		FROM field_assignments a
		JOIN field_definitions d ON d.id = a.field_id
		WHERE d.document_id = $1
		ORDER BY a.field_id
	`

	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query field assignments: %w", err)
	}
	defer rows.Close()

	var assigns []*domain.FieldAssignment
	for rows.Next() {
		var a domain.FieldAssignment
		var valueJSON []byte
		if err := rows.Scan(&a.FieldID, &a.RecipientID, &valueJSON, &a.FilledAt); err != nil {
			return nil, fmt.Errorf("failed to scan field assignment: %w", err)
		}
		if err := json.Unmarshal(valueJSON, &a.Value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field value: %w", err)
		}
		assigns = append(assigns, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating field assignments: %w", err)
	}
	return assigns, nil
}

func scanFieldDefinition(row rowScanner) (*domain.FieldDefinition, error) {
	var def domain.FieldDefinition
	var recipientID sql.NullString

	err := row.Scan(
		&def.ID,
		&def.DocumentID,
		&def.Type,
		&def.Page,
		&def.X,
		&def.Y,
		&def.Width,
		&def.Height,
		&def.Required,
		&recipientID,
	)
	if err != nil {
		return nil, err
	}

	if recipientID.Valid {
		def.RecipientID = recipientID.String
	}
	return &def, nil
}
