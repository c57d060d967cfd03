package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ayusman/mudra/internal/auth"
	"github.com/ayusman/mudra/internal/classifier"
	"github.com/ayusman/mudra/internal/detector"
	"github.com/ayusman/mudra/internal/store"
)

// TemplateLoader receives the full template set after every change.
type TemplateLoader interface {
	SetTemplates(templates []classifier.Template) error
}

// ReloadTemplates pushes every stored template into loader and returns how
// many were loaded.
func ReloadTemplates(ctx context.Context, s *store.Store, loader TemplateLoader) (int, error) {
	stored, err := s.Templates().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing templates: %w", err)
	}

	templates := make([]classifier.Template, 0, len(stored))
	for _, t := range stored {
		templates = append(templates, classifier.Template{ID: t.ID, Label: t.Label, Frames: t.Frames})
	}
	if err := loader.SetTemplates(templates); err != nil {
		return 0, fmt.Errorf("loading templates: %w", err)
	}
	return len(templates), nil
}

// TemplateHandler handles HTTP requests for reference sign templates.
type TemplateHandler struct {
	store  *store.Store
	labels classifier.Labels
	loader TemplateLoader
	tokens *auth.Tokens
	logger *slog.Logger
}

// NewTemplateHandler creates a new TemplateHandler. loader may be nil when
// the template classifier is not the active backend.
func NewTemplateHandler(s *store.Store, labels classifier.Labels, loader TemplateLoader, tokens *auth.Tokens, logger *slog.Logger) *TemplateHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TemplateHandler{store: s, labels: labels, loader: loader, tokens: tokens, logger: logger}
}

// RegisterRoutes mounts the template routes on r. Reads are public, writes
// require an admin token.
func (h *TemplateHandler) RegisterRoutes(r chi.Router) {
	r.Route("/templates", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(h.tokens), auth.RequireAdmin(currentRole(h.store)))
			r.Post("/", h.create)
			r.Delete("/{id}", h.delete)
		})
	})
}

type createTemplateRequest struct {
	Label  string      `json:"label"`
	Frames [][]float64 `json:"frames"`
}

type templateSummary struct {
	ID         string `json:"id"`
	Label      string `json:"label"`
	FrameCount int    `json:"frame_count"`
	CreatedAt  string `json:"created_at"`
}

func toSummary(t *store.Template) templateSummary {
	return templateSummary{
		ID:         t.ID,
		Label:      t.Label,
		FrameCount: len(t.Frames),
		CreatedAt:  t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// list handles GET /api/templates and returns summaries without frame data.
func (h *TemplateHandler) list(w http.ResponseWriter, r *http.Request) {
	templates, err := h.store.Templates().List(r.Context())
	if err != nil {
		h.logger.Error("failed to list templates", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list templates")
		return
	}

	response := make([]templateSummary, 0, len(templates))
	for _, t := range templates {
		response = append(response, toSummary(t))
	}
	writeJSON(w, http.StatusOK, response)
}

// get handles GET /api/templates/{id}.
func (h *TemplateHandler) get(w http.ResponseWriter, r *http.Request) {
	t, err := h.store.Templates().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get template")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// create handles POST /api/templates.
func (h *TemplateHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if h.labels.Index(req.Label) < 0 {
		writeError(w, http.StatusBadRequest, "Unknown label")
		return
	}
	if len(req.Frames) == 0 {
		writeError(w, http.StatusBadRequest, "Frames are required")
		return
	}
	for i, f := range req.Frames {
		if len(f) != detector.FeatureSize {
			writeError(w, http.StatusBadRequest,
				fmt.Sprintf("Frame %d has %d values, expected %d", i, len(f), detector.FeatureSize))
			return
		}
	}

	t := &store.Template{Label: req.Label, Frames: req.Frames}
	if err := h.store.Templates().Create(r.Context(), t); err != nil {
		h.logger.Error("failed to create template", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create template")
		return
	}

	h.reload(r.Context())
	writeJSON(w, http.StatusCreated, toSummary(t))
}

// delete handles DELETE /api/templates/{id}.
func (h *TemplateHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Templates().Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Template not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to delete template")
		return
	}

	h.reload(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

func (h *TemplateHandler) reload(ctx context.Context) {
	if h.loader == nil {
		return
	}
	n, err := ReloadTemplates(ctx, h.store, h.loader)
	if err != nil {
		h.logger.Error("failed to reload templates", "error", err)
		return
	}
	h.logger.Info("templates reloaded", "count", n)
}
