// Package handler exposes snap sessions over HTTP.
package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/FACorreiaa/data-snap/internal/domain/export"
	"github.com/FACorreiaa/data-snap/internal/domain/ocr"
	"github.com/FACorreiaa/data-snap/internal/domain/projection"
	"github.com/FACorreiaa/data-snap/internal/domain/snap/repository"
	"github.com/FACorreiaa/data-snap/internal/domain/snap/service"
	templaterepo "github.com/FACorreiaa/data-snap/internal/domain/template/repository"
	"github.com/FACorreiaa/data-snap/pkg/httputil"
	"github.com/FACorreiaa/data-snap/pkg/storage"
)

// multipartMemory is how much of an upload ParseMultipartForm keeps in memory
const multipartMemory = 8 << 20

// SnapHandler serves the session API
type SnapHandler struct {
	svc            *service.SnapService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewSnapHandler creates a new snap handler
func NewSnapHandler(svc *service.SnapService, logger *slog.Logger, maxUploadBytes int64) *SnapHandler {
	return &SnapHandler{
		svc:            svc,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

type columnRequest struct {
	Name string `json:"name"`
}

type ruleRequest struct {
	Rule string `json:"rule"`
}

type matchValueRequest struct {
	Value string `json:"value"`
}

type columnsResponse struct {
	Columns []projection.ColumnSpec `json:"columns"`
}

// Routes mounts the session endpoints on r
func (h *SnapHandler) Routes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.DeleteSession)

			r.Post("/columns", h.AddColumn)
			r.Delete("/columns/{index}", h.RemoveColumn)
			r.Post("/columns/{index}/rules", h.AddRule)
			r.Delete("/columns/{index}/rules/{rule}", h.RemoveRule)
			r.Put("/columns/{index}/match-value", h.SetMatchValue)

			r.Post("/ocr", h.RunOCR)
			r.Get("/image", h.Image)
			r.Post("/project", h.Reproject)
			r.Get("/export", h.Export)
			r.Post("/template/{templateID}", h.ApplyTemplate)
		})
	})
}

func (h *SnapHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.CreateSession(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, snap)
}

func (h *SnapHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	snap, err := h.svc.GetSession(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *SnapHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if err := h.svc.DeleteSession(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SnapHandler) AddColumn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req columnRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.writeColumns(w, r, func(ctx context.Context) ([]projection.ColumnSpec, error) {
		return h.svc.AddColumn(ctx, id, req.Name)
	})
}

func (h *SnapHandler) RemoveColumn(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	index := columnIndex(r)
	h.writeColumns(w, r, func(ctx context.Context) ([]projection.ColumnSpec, error) {
		return h.svc.RemoveColumn(ctx, id, index)
	})
}

func (h *SnapHandler) AddRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req ruleRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	index := columnIndex(r)
	h.writeColumns(w, r, func(ctx context.Context) ([]projection.ColumnSpec, error) {
		return h.svc.AddRule(ctx, id, index, req.Rule)
	})
}

func (h *SnapHandler) RemoveRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	index := columnIndex(r)
	rule := chi.URLParam(r, "rule")
	h.writeColumns(w, r, func(ctx context.Context) ([]projection.ColumnSpec, error) {
		return h.svc.RemoveRule(ctx, id, index, rule)
	})
}

func (h *SnapHandler) SetMatchValue(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req matchValueRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	index := columnIndex(r)
	h.writeColumns(w, r, func(ctx context.Context) ([]projection.ColumnSpec, error) {
		return h.svc.SetMatchValue(ctx, id, index, req.Value)
	})
}

// writeColumns runs a column edit. Rejected edits are no-ops for the client:
// they answer 200 with the unchanged columns.
func (h *SnapHandler) writeColumns(w http.ResponseWriter, r *http.Request, edit func(context.Context) ([]projection.ColumnSpec, error)) {
	cols, err := edit(r.Context())
	if err != nil {
		if !isStoreError(err) {
			h.writeError(w, r, err)
			return
		}
		h.logger.Debug("column edit ignored",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}
	httputil.WriteJSON(w, http.StatusOK, columnsResponse{Columns: cols})
}

// RunOCR recognizes the "image" part of a multipart upload. A request without
// an image part recognizes the session's stored image again.
func (h *SnapHandler) RunOCR(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	if !isMultipart(r) {
		h.rerunOCR(w, r, id)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		if httputil.IsTooLarge(err) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "image exceeds upload limit")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) {
		h.rerunOCR(w, r, id)
		return
	}
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid image field")
		return
	}
	defer file.Close()

	snap, err := h.svc.RunOCR(r.Context(), id, header.Filename, header.Header.Get("Content-Type"), file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *SnapHandler) rerunOCR(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
	snap, err := h.svc.RerunOCR(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

// Image serves the image of the last successful OCR run
func (h *SnapHandler) Image(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	rc, info, err := h.svc.OpenImage(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", info.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", info.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to write image", slog.Any("error", err))
	}
}

func (h *SnapHandler) Reproject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	snap, err := h.svc.Reproject(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}

func (h *SnapHandler) Export(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), id, format, &buf); err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", format.Filename()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("failed to write export", slog.Any("error", err))
	}
}

func (h *SnapHandler) ApplyTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	templateID, err := uuid.Parse(chi.URLParam(r, "templateID"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	cols, err := h.svc.ApplyTemplate(r.Context(), id, templateID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, columnsResponse{Columns: cols})
}

func (h *SnapHandler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

// columnIndex parses the index path parameter. Anything that is not an
// integer becomes -1, which the store rejects as out of range.
func columnIndex(r *http.Request) int {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		return -1
	}
	return index
}

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && strings.HasPrefix(mediaType, "multipart/")
}

func isStoreError(err error) bool {
	return errors.Is(err, projection.ErrInvalidIndex) ||
		errors.Is(err, projection.ErrEmptyColumnName) ||
		errors.Is(err, projection.ErrInvalidRule)
}

func (h *SnapHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httputil.WriteError(w, status, http.StatusText(status))
		return
	}
	httputil.WriteError(w, status, err.Error())
}

// StatusFor maps domain errors to HTTP status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrSessionNotFound),
		errors.Is(err, templaterepo.ErrTemplateNotFound):
		return http.StatusNotFound
	case httputil.IsTooLarge(err), errors.Is(err, storage.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case ocr.IsFailure(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, service.ErrNoText), errors.Is(err, service.ErrNoImage):
		return http.StatusConflict
	case errors.Is(err, export.ErrUnknownFormat):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrTemplatesDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
