package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/data-snap/internal/domain/projection"
)

var ErrSessionNotFound = errors.New("session not found")

// Session is one user's working state: a column layout plus the latest OCR run
type Session struct {
	ID        uuid.UUID
	Columns   *projection.Store
	CreatedAt time.Time

	mu        sync.RWMutex
	text      string
	imageID   uuid.UUID
	table     projection.Table
	updatedAt time.Time
}

// Snapshot is a consistent copy of a session
type Snapshot struct {
	ID        uuid.UUID               `json:"id"`
	Columns   []projection.ColumnSpec `json:"columns"`
	Text      string                  `json:"text"`
	ImageID   *uuid.UUID              `json:"image_id,omitempty"`
	Header    []string                `json:"header"`
	Rows      [][]string              `json:"rows"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// NewSession creates an empty session
func NewSession(now time.Time) *Session {
	return &Session{
		ID:        uuid.New(),
		Columns:   projection.NewStore(),
		CreatedAt: now,
		table:     projection.Table{Header: []string{}, Rows: [][]string{}},
		updatedAt: now,
	}
}

// Touch marks the session as used
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.updatedAt = now
	s.mu.Unlock()
}

// UpdatedAt returns the last time the session was used
func (s *Session) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

// Text returns the latest OCR text
func (s *Session) Text() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.text
}

// ImageID returns the stored image of the latest OCR run, uuid.Nil if none
func (s *Session) ImageID() uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imageID
}

// Table returns the latest projection
func (s *Session) Table() projection.Table {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table
}

// SetResult replaces text, image and table in one step and returns the
// previous image ID.
func (s *Session) SetResult(text string, imageID uuid.UUID, table projection.Table, now time.Time) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.imageID
	s.text = text
	s.imageID = imageID
	s.table = table
	s.updatedAt = now
	return prev
}

// SetTable replaces only the projection
func (s *Session) SetTable(table projection.Table, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table = table
	s.updatedAt = now
}

// Snapshot copies the session state
func (s *Session) Snapshot() Snapshot {
	columns := s.Columns.Columns()

	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:        s.ID,
		Columns:   columns,
		Text:      s.text,
		Header:    s.table.Header,
		Rows:      s.table.Rows,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.updatedAt,
	}
	if s.imageID != uuid.Nil {
		id := s.imageID
		snap.ImageID = &id
	}
	return snap
}

// SessionRepository stores live sessions
type SessionRepository interface {
	Create(ctx context.Context, session *Session) error
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	// IdleSince returns sessions not used since cutoff
	IdleSince(ctx context.Context, cutoff time.Time) ([]*Session, error)
	Count(ctx context.Context) (int, error)
}
