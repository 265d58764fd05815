package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/data-snap/internal/domain/projection"
)

var templateColumns = []string{"id", "name", "columns", "created_at", "updated_at"}

func TestTemplateRepository_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	now := time.Now()
	value := "INV"
	tmpl := &Template{
		Name: "Invoices",
		Columns: []projection.ColumnSpec{
			{Name: "Invoice", Rules: []projection.MatchMode{projection.StartsWith}, MatchValue: &value},
		},
	}

	mock.ExpectQuery(`INSERT INTO column_templates`).
		WithArgs(pgxmock.AnyArg(), "Invoices", []byte(`[{"name":"Invoice","rules":["startsWith"],"match_value":"INV"}]`)).
		WillReturnRows(pgxmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), tmpl))
	assert.NotEqual(t, uuid.Nil, tmpl.ID)
	assert.Equal(t, now, tmpl.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_GetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	id := uuid.New()
	now := time.Now()

	mock.ExpectQuery(`SELECT id, name, columns`).
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(templateColumns).AddRow(
			id, "Receipts", []byte(`[{"name":"Total","rules":["endsWith","contains"],"match_value":"EUR"}]`), now, now,
		))

	tmpl, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Receipts", tmpl.Name)
	require.Len(t, tmpl.Columns, 1)
	assert.Equal(t, []projection.MatchMode{projection.EndsWith, projection.Contains}, tmpl.Columns[0].Rules)
	assert.Equal(t, "EUR", tmpl.Columns[0].Value())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_GetByID_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	id := uuid.New()

	mock.ExpectQuery(`SELECT id, name, columns`).
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrTemplateNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_GetByName(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	now := time.Now()

	mock.ExpectQuery(`WHERE name = \$1`).
		WithArgs("Receipts").
		WillReturnRows(pgxmock.NewRows(templateColumns).AddRow(uuid.New(), "Receipts", []byte(`[]`), now, now))

	tmpl, err := repo.GetByName(context.Background(), "Receipts")
	require.NoError(t, err)
	assert.Empty(t, tmpl.Columns)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_List(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	now := time.Now()

	mock.ExpectQuery(`FROM column_templates`).
		WithArgs(50, 0).
		WillReturnRows(pgxmock.NewRows(templateColumns).
			AddRow(uuid.New(), "Invoices", []byte(`[]`), now, now).
			AddRow(uuid.New(), "Receipts", []byte(`[{"name":"Total","rules":[]}]`), now, now))

	templates, err := repo.List(context.Background(), 50, 0)
	require.NoError(t, err)
	require.Len(t, templates, 2)
	assert.Equal(t, "Invoices", templates[0].Name)
	assert.Nil(t, templates[1].Columns[0].MatchValue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateRepository_List_QueryError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	mock.ExpectQuery(`FROM column_templates`).
		WithArgs(10, 0).
		WillReturnError(errors.New("connection reset"))

	_, err = repo.List(context.Background(), 10, 0)
	assert.ErrorContains(t, err, "failed to list templates")
}

func TestTemplateRepository_Delete(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := NewPostgresTemplateRepository(mock)
	id := uuid.New()

	mock.ExpectExec(`DELETE FROM column_templates`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM column_templates`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, repo.Delete(context.Background(), id))
	assert.ErrorIs(t, repo.Delete(context.Background(), id), ErrTemplateNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
