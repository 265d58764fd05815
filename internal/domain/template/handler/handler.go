// Package handler exposes saved column templates over HTTP.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	snaprepo "github.com/FACorreiaa/data-snap/internal/domain/snap/repository"
	"github.com/FACorreiaa/data-snap/internal/domain/template/repository"
	"github.com/FACorreiaa/data-snap/internal/domain/template/service"
	"github.com/FACorreiaa/data-snap/pkg/httputil"
)

// maxImportBytes bounds template CSV uploads
const maxImportBytes = 1 << 20

// SessionReader resolves the session a template is saved from
type SessionReader interface {
	GetSession(ctx context.Context, id uuid.UUID) (snaprepo.Snapshot, error)
}

// TemplateHandler serves the template API
type TemplateHandler struct {
	svc      *service.TemplateService
	sessions SessionReader
	logger   *slog.Logger
}

// NewTemplateHandler creates a new template handler
func NewTemplateHandler(svc *service.TemplateService, sessions SessionReader, logger *slog.Logger) *TemplateHandler {
	return &TemplateHandler{svc: svc, sessions: sessions, logger: logger}
}

type saveRequest struct {
	Name      string    `json:"name"`
	SessionID uuid.UUID `json:"session_id"`
}

type listResponse struct {
	Templates []*repository.Template `json:"templates"`
}

// Routes mounts the template endpoints on r
func (h *TemplateHandler) Routes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.Search)
		r.Post("/", h.Save)
		r.Post("/import", h.Import)
		r.Get("/{id}", h.Get)
		r.Delete("/{id}", h.Delete)
	})
}

func (h *TemplateHandler) Search(w http.ResponseWriter, r *http.Request) {
	templates, err := h.svc.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if templates == nil {
		templates = []*repository.Template{}
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Templates: templates})
}

// Save stores the current columns of a session as a template
func (h *TemplateHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.sessions.GetSession(r.Context(), req.SessionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	tmpl, err := h.svc.Save(r.Context(), req.Name, snap.Columns)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tmpl)
}

// Import creates a template from a multipart CSV upload (fields: file, name)
func (h *TemplateHandler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	if err := r.ParseMultipartForm(maxImportBytes); err != nil {
		if httputil.IsTooLarge(err) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "file exceeds upload limit")
			return
		}
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("file")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	tmpl, err := h.svc.ImportCSV(r.Context(), r.FormValue("name"), file)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, tmpl)
}

func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	tmpl, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tmpl)
}

func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid template id")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TemplateHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repository.ErrTemplateNotFound), errors.Is(err, snaprepo.ErrSessionNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidTemplate):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("template request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		httputil.WriteError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}
