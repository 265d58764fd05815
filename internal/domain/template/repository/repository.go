// Package repository provides database operations for saved column templates.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/FACorreiaa/data-snap/internal/domain/projection"
)

var ErrTemplateNotFound = errors.New("template not found")

// Template is a named, reusable list of column definitions
type Template struct {
	ID        uuid.UUID               `json:"id"`
	Name      string                  `json:"name"`
	Columns   []projection.ColumnSpec `json:"columns"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// DBTX is satisfied by *pgxpool.Pool, pgx.Tx and pgxmock pools
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TemplateRepository defines the interface for template persistence operations
type TemplateRepository interface {
	Create(ctx context.Context, tmpl *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetByName(ctx context.Context, name string) (*Template, error)
	List(ctx context.Context, limit, offset int) ([]*Template, error)
	Delete(ctx context.Context, id uuid.UUID) error
}
