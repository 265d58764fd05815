// Package service runs the snap workflow: edit columns, recognize an image, project, export.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/FACorreiaa/data-snap/internal/domain/export"
	"github.com/FACorreiaa/data-snap/internal/domain/ocr"
	"github.com/FACorreiaa/data-snap/internal/domain/projection"
	"github.com/FACorreiaa/data-snap/internal/domain/snap/repository"
	templaterepo "github.com/FACorreiaa/data-snap/internal/domain/template/repository"
	"github.com/FACorreiaa/data-snap/pkg/metrics"
	"github.com/FACorreiaa/data-snap/pkg/storage"
)

var (
	// ErrNoText is returned by Export before any OCR run produced text
	ErrNoText = errors.New("no recognized text to export")
	// ErrTemplatesDisabled is returned when no template source is configured
	ErrTemplatesDisabled = errors.New("templates are not available")
	// ErrNoImage is returned when a session has no stored image to recognize again
	ErrNoImage = errors.New("no stored image")
)

const tracerName = "github.com/FACorreiaa/data-snap/internal/domain/snap"

// TemplateSource resolves saved column layouts
type TemplateSource interface {
	Get(ctx context.Context, id uuid.UUID) (*templaterepo.Template, error)
}

// SnapService owns sessions and drives OCR and projection for them
type SnapService struct {
	sessions   repository.SessionRepository
	recognizer ocr.Recognizer
	files      storage.Storage
	templates  TemplateSource
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger

	languages  []string
	ocrTimeout time.Duration
	now        func() time.Time
}

// NewSnapService creates a new snap service
func NewSnapService(
	sessions repository.SessionRepository,
	recognizer ocr.Recognizer,
	files storage.Storage,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SnapService {
	return &SnapService{
		sessions:   sessions,
		recognizer: recognizer,
		files:      files,
		metrics:    m,
		tracer:     otel.Tracer(tracerName),
		logger:     logger,
		languages:  []string{"eng"},
		ocrTimeout: 2 * time.Minute,
		now:        time.Now,
	}
}

// WithTemplates enables ApplyTemplate
func (s *SnapService) WithTemplates(templates TemplateSource) *SnapService {
	s.templates = templates
	return s
}

// WithLanguages sets the OCR language hints
func (s *SnapService) WithLanguages(languages []string) *SnapService {
	if len(languages) > 0 {
		s.languages = languages
	}
	return s
}

// WithOCRTimeout bounds a single recognition call
func (s *SnapService) WithOCRTimeout(timeout time.Duration) *SnapService {
	if timeout > 0 {
		s.ocrTimeout = timeout
	}
	return s
}

// CreateSession starts an empty session
func (s *SnapService) CreateSession(ctx context.Context) (repository.Snapshot, error) {
	session := repository.NewSession(s.now())
	if err := s.sessions.Create(ctx, session); err != nil {
		return repository.Snapshot{}, fmt.Errorf("failed to create session: %w", err)
	}
	s.updateActiveSessions(ctx)

	s.logger.Info("session created", slog.String("session_id", session.ID.String()))
	return session.Snapshot(), nil
}

// GetSession returns the current state of a session
func (s *SnapService) GetSession(ctx context.Context, id uuid.UUID) (repository.Snapshot, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return repository.Snapshot{}, err
	}
	return session.Snapshot(), nil
}

// DeleteSession drops a session and its stored images
func (s *SnapService) DeleteSession(ctx context.Context, id uuid.UUID) error {
	if err := s.sessions.Delete(ctx, id); err != nil {
		return err
	}
	s.updateActiveSessions(ctx)

	if err := s.files.DeleteOwner(ctx, id); err != nil {
		s.logger.Warn("failed to delete session files",
			slog.String("session_id", id.String()),
			slog.Any("error", err),
		)
	}
	s.logger.Info("session deleted", slog.String("session_id", id.String()))
	return nil
}

// AddColumn appends a column to the session layout
func (s *SnapService) AddColumn(ctx context.Context, id uuid.UUID, name string) ([]projection.ColumnSpec, error) {
	return s.editColumns(ctx, id, func(store *projection.Store) error {
		return store.AddColumn(name)
	})
}

// RemoveColumn deletes the column at index
func (s *SnapService) RemoveColumn(ctx context.Context, id uuid.UUID, index int) ([]projection.ColumnSpec, error) {
	return s.editColumns(ctx, id, func(store *projection.Store) error {
		return store.RemoveColumn(index)
	})
}

// AddRule enables a match mode on the column at index
func (s *SnapService) AddRule(ctx context.Context, id uuid.UUID, index int, rule string) ([]projection.ColumnSpec, error) {
	return s.editColumns(ctx, id, func(store *projection.Store) error {
		return store.AddRule(index, rule)
	})
}

// RemoveRule disables a match mode on the column at index
func (s *SnapService) RemoveRule(ctx context.Context, id uuid.UUID, index int, rule string) ([]projection.ColumnSpec, error) {
	return s.editColumns(ctx, id, func(store *projection.Store) error {
		return store.RemoveRule(index, rule)
	})
}

// SetMatchValue sets the comparison value of the column at index
func (s *SnapService) SetMatchValue(ctx context.Context, id uuid.UUID, index int, value string) ([]projection.ColumnSpec, error) {
	return s.editColumns(ctx, id, func(store *projection.Store) error {
		return store.SetMatchValue(index, value)
	})
}

// editColumns applies fn and always returns the resulting columns, which are
// unchanged when fn fails.
func (s *SnapService) editColumns(ctx context.Context, id uuid.UUID, fn func(*projection.Store) error) ([]projection.ColumnSpec, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}

	err = fn(session.Columns)
	session.Touch(s.now())
	return session.Columns.Columns(), err
}

// ApplyTemplate replaces the session columns with a saved layout
func (s *SnapService) ApplyTemplate(ctx context.Context, id, templateID uuid.UUID) ([]projection.ColumnSpec, error) {
	if s.templates == nil {
		return nil, ErrTemplatesDisabled
	}

	session, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.templates.Get(ctx, templateID)
	if err != nil {
		return nil, err
	}

	session.Columns.Replace(tmpl.Columns)
	session.Touch(s.now())

	s.logger.Info("template applied",
		slog.String("session_id", id.String()),
		slog.String("template_id", templateID.String()),
		slog.Int("columns", len(tmpl.Columns)),
	)
	return session.Columns.Columns(), nil
}

// RunOCR recognizes the uploaded image and projects its text against the
// current columns. Text and table are replaced only when recognition succeeds.
func (s *SnapService) RunOCR(ctx context.Context, id uuid.UUID, filename, contentType string, r io.Reader) (repository.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "snap.RunOCR", trace.WithAttributes(
		attribute.String("session.id", id.String()),
		attribute.String("ocr.engine", s.recognizer.Name()),
	))
	defer span.End()

	session, err := s.session(ctx, id)
	if err != nil {
		return repository.Snapshot{}, recordError(span, err)
	}
	session.Touch(s.now())

	img, err := ocr.ReadImage(r, contentType, s.languages)
	if err != nil {
		if ocr.IsFailure(err) {
			s.metrics.OCRFailures.WithLabelValues(s.recognizer.Name(), failureKind(err)).Inc()
		}
		return repository.Snapshot{}, recordError(span, err)
	}
	span.SetAttributes(attribute.Int("image.bytes", len(img.Data)))

	info, err := s.files.Upload(ctx, id, filename, img.ContentType, bytes.NewReader(img.Data))
	if err != nil {
		return repository.Snapshot{}, recordError(span, fmt.Errorf("failed to store image: %w", err))
	}

	snap, err := s.applyOCR(ctx, session, img, info.ID)
	if err != nil {
		if delErr := s.files.Delete(ctx, id, info.ID); delErr != nil && !errors.Is(delErr, storage.ErrFileNotFound) {
			s.logger.Warn("failed to delete image after OCR failure",
				slog.String("file_id", info.ID.String()),
				slog.Any("error", delErr),
			)
		}
		return repository.Snapshot{}, recordError(span, err)
	}
	return snap, nil
}

// RerunOCR recognizes the image stored by the last successful run again,
// e.g. after switching languages or engines.
func (s *SnapService) RerunOCR(ctx context.Context, id uuid.UUID) (repository.Snapshot, error) {
	ctx, span := s.tracer.Start(ctx, "snap.RerunOCR", trace.WithAttributes(
		attribute.String("session.id", id.String()),
		attribute.String("ocr.engine", s.recognizer.Name()),
	))
	defer span.End()

	session, err := s.session(ctx, id)
	if err != nil {
		return repository.Snapshot{}, recordError(span, err)
	}
	session.Touch(s.now())

	rc, info, err := s.OpenImage(ctx, id)
	if err != nil {
		return repository.Snapshot{}, recordError(span, err)
	}
	img, err := ocr.ReadImage(rc, info.ContentType, s.languages)
	rc.Close()
	if err != nil {
		return repository.Snapshot{}, recordError(span, fmt.Errorf("failed to read stored image: %w", err))
	}

	snap, err := s.applyOCR(ctx, session, img, info.ID)
	if err != nil {
		return repository.Snapshot{}, recordError(span, err)
	}
	return snap, nil
}

// OpenImage returns the image of the last successful OCR run. The caller
// closes the reader.
func (s *SnapService) OpenImage(ctx context.Context, id uuid.UUID) (io.ReadCloser, *storage.FileInfo, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	imageID := session.ImageID()
	if imageID == uuid.Nil {
		return nil, nil, ErrNoImage
	}

	rc, info, err := s.files.Open(ctx, id, imageID)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return nil, nil, fmt.Errorf("%w: %v", ErrNoImage, err)
		}
		return nil, nil, fmt.Errorf("failed to open stored image: %w", err)
	}
	return rc, info, nil
}

// applyOCR recognizes img and stores the result on the session. The session
// must still be registered once recognition returns; a session removed in the
// meantime gets its files dropped and ErrSessionNotFound is returned.
func (s *SnapService) applyOCR(ctx context.Context, session *repository.Session, img ocr.Image, imageID uuid.UUID) (repository.Snapshot, error) {
	id := session.ID

	text, err := s.recognize(ctx, img)
	if err != nil {
		s.logger.Warn("ocr failed",
			slog.String("session_id", id.String()),
			slog.String("engine", s.recognizer.Name()),
			slog.Any("error", err),
		)
		return repository.Snapshot{}, err
	}

	if _, err := s.sessions.Get(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			if delErr := s.files.DeleteOwner(ctx, id); delErr != nil {
				s.logger.Warn("failed to delete files of removed session",
					slog.String("session_id", id.String()),
					slog.Any("error", delErr),
				)
			}
			s.logger.Info("session removed during ocr", slog.String("session_id", id.String()))
		}
		return repository.Snapshot{}, err
	}

	table := s.project(ctx, text, session.Columns.Columns())

	prev := session.SetResult(text, imageID, table, s.now())
	if prev != uuid.Nil && prev != imageID {
		if err := s.files.Delete(ctx, id, prev); err != nil && !errors.Is(err, storage.ErrFileNotFound) {
			s.logger.Warn("failed to delete previous image",
				slog.String("file_id", prev.String()),
				slog.Any("error", err),
			)
		}
	}

	s.logger.Info("ocr completed",
		slog.String("session_id", id.String()),
		slog.Int("text_length", len(text)),
		slog.Int("rows", table.RowCount()),
	)
	return session.Snapshot(), nil
}

// Reproject runs the projection again on the last recognized text
func (s *SnapService) Reproject(ctx context.Context, id uuid.UUID) (repository.Snapshot, error) {
	session, err := s.session(ctx, id)
	if err != nil {
		return repository.Snapshot{}, err
	}

	table := s.project(ctx, session.Text(), session.Columns.Columns())
	session.SetTable(table, s.now())
	return session.Snapshot(), nil
}

// Export writes the current table in the given format
func (s *SnapService) Export(ctx context.Context, id uuid.UUID, format export.Format, w io.Writer) error {
	session, err := s.session(ctx, id)
	if err != nil {
		return err
	}
	if session.Text() == "" {
		return ErrNoText
	}

	table := session.Table()
	if err := export.Write(w, format, table); err != nil {
		return fmt.Errorf("failed to export table: %w", err)
	}

	s.logger.Info("table exported",
		slog.String("session_id", id.String()),
		slog.String("format", string(format)),
		slog.Int("rows", table.RowCount()),
	)
	return nil
}

// PurgeExpired removes sessions idle for longer than maxAge and returns how many were dropped
func (s *SnapService) PurgeExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	idle, err := s.sessions.IdleSince(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("failed to list idle sessions: %w", err)
	}

	purged := 0
	for _, session := range idle {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if err := s.DeleteSession(ctx, session.ID); err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				continue
			}
			return purged, err
		}
		purged++
	}
	return purged, nil
}

func (s *SnapService) session(ctx context.Context, id uuid.UUID) (*repository.Session, error) {
	return s.sessions.Get(ctx, id)
}

func (s *SnapService) recognize(ctx context.Context, img ocr.Image) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "ocr.Recognize")
	defer span.End()

	started := time.Now()
	text, err := s.recognizer.Recognize(ctx, img)
	if err != nil {
		s.metrics.ObserveOCR(s.recognizer.Name(), started, failureKind(err))
		return "", recordError(span, err)
	}
	s.metrics.ObserveOCR(s.recognizer.Name(), started, "")
	span.SetAttributes(attribute.Int("text.length", len(text)))
	return text, nil
}

func (s *SnapService) project(ctx context.Context, text string, columns []projection.ColumnSpec) projection.Table {
	_, span := s.tracer.Start(ctx, "projection.Project", trace.WithAttributes(
		attribute.Int("columns", len(columns)),
	))
	defer span.End()

	table := projection.ProjectTable(text, columns)
	s.metrics.ProjectionRows.Observe(float64(table.RowCount()))
	span.SetAttributes(attribute.Int("rows", table.RowCount()))
	return table
}

func (s *SnapService) updateActiveSessions(ctx context.Context) {
	n, err := s.sessions.Count(ctx)
	if err != nil {
		return
	}
	s.metrics.ActiveSessions.Set(float64(n))
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ocr.ErrUnsupportedImage):
		return "unsupported_image"
	case errors.Is(err, ocr.ErrEngineUnavailable):
		return "engine_unavailable"
	case errors.Is(err, ocr.ErrRecognition):
		return "recognition"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "other"
	}
}

func recordError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
