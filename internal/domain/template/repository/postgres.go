package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/FACorreiaa/data-snap/internal/domain/projection"
)

// PostgresTemplateRepository implements TemplateRepository using PostgreSQL
type PostgresTemplateRepository struct {
	db DBTX
}

// NewPostgresTemplateRepository creates a new PostgreSQL template repository
func NewPostgresTemplateRepository(db DBTX) *PostgresTemplateRepository {
	return &PostgresTemplateRepository{db: db}
}

// Create inserts a new template
func (r *PostgresTemplateRepository) Create(ctx context.Context, tmpl *Template) error {
	query := `
		INSERT INTO column_templates (id, name, columns)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}

	columns, err := json.Marshal(tmpl.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode columns: %w", err)
	}

	err = r.db.QueryRow(ctx, query, tmpl.ID, tmpl.Name, columns).Scan(&tmpl.CreatedAt, &tmpl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}
	return nil
}

// GetByID retrieves a template by ID
func (r *PostgresTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	query := `
		SELECT id, name, columns, created_at, updated_at
		FROM column_templates
		WHERE id = $1`

	return r.getOne(ctx, query, id)
}

// GetByName retrieves a template by its exact name
func (r *PostgresTemplateRepository) GetByName(ctx context.Context, name string) (*Template, error) {
	query := `
		SELECT id, name, columns, created_at, updated_at
		FROM column_templates
		WHERE name = $1
		ORDER BY created_at
		LIMIT 1`

	return r.getOne(ctx, query, name)
}

// List returns templates, newest first
func (r *PostgresTemplateRepository) List(ctx context.Context, limit, offset int) ([]*Template, error) {
	query := `
		SELECT id, name, columns, created_at, updated_at
		FROM column_templates
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []*Template
	for rows.Next() {
		tmpl, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate templates: %w", err)
	}
	return templates, nil
}

// Delete removes a template
func (r *PostgresTemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM column_templates WHERE id = $1`
	result, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrTemplateNotFound
	}
	return nil
}

func (r *PostgresTemplateRepository) getOne(ctx context.Context, query string, arg any) (*Template, error) {
	tmpl, err := scanTemplate(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTemplateNotFound
	}
	if err != nil {
		return nil, err
	}
	return tmpl, nil
}

func scanTemplate(row pgx.Row) (*Template, error) {
	var (
		tmpl    Template
		columns []byte
	)
	err := row.Scan(&tmpl.ID, &tmpl.Name, &columns, &tmpl.CreatedAt, &tmpl.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	tmpl.Columns = []projection.ColumnSpec{}
	if len(columns) > 0 {
		if err := json.Unmarshal(columns, &tmpl.Columns); err != nil {
			return nil, fmt.Errorf("failed to decode template columns: %w", err)
		}
	}
	return &tmpl, nil
}
