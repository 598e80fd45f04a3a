// Package priorityapi exposes the priority service over HTTP.
package priorityapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/surfacer/internal/authmw"
	"github.com/linnemanlabs/surfacer/internal/priority"
)

const maxBodySize = 1 << 20

// PriorityService defines the business operations priorityapi needs.
type PriorityService interface {
	Create(ctx context.Context, r priority.Raw) (*priority.CreateResult, error)
	Get(ctx context.Context, id string) (*priority.Item, error)
	Update(ctx context.Context, id string, p priority.ItemPatch) (*priority.Item, error)
	Revive(ctx context.Context, id string) (*priority.Item, error)
	Respond(ctx context.Context, id string) (*priority.Item, error)
	Dismiss(ctx context.Context, id string) (*priority.Item, error)
	Surface(ctx context.Context, userID string, topN int) (*priority.SurfaceView, error)
	Quadrant(ctx context.Context, userID string, q priority.Quadrant) ([]*priority.Item, error)
	RunCycle(ctx context.Context, userID string) (*priority.CycleReport, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    PriorityService
}

// New creates a new API handler.
func New(logger log.Logger, svc PriorityService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("priority service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/priorities", func(r chi.Router) {
		r.Get("/surface", a.handleSurface)
		r.Get("/quadrant/{quadrant}", a.handleQuadrant)
		r.Post("/cycle", a.handleRunCycle)

		r.Post("/item", a.handleCreateItem)
		r.Route("/item/{id}", func(r chi.Router) {
			r.Get("/", a.handleGetItem)
			r.Put("/", a.handleUpdateItem)
			r.Post("/revive", a.handleRevive)
			r.Post("/respond", a.handleRespond)
			r.Post("/dismiss", a.handleDismiss)
		})
	})
}

// userFor resolves the caller. An authenticated user always wins over the
// user query parameter.
func userFor(r *http.Request) string {
	if u, ok := authmw.UserFromContext(r.Context()); ok {
		return u
	}
	return r.URL.Query().Get("user")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP status codes.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var ne *priority.NormalizationError
	switch {
	case errors.As(err, &ne):
		writeError(w, http.StatusBadRequest, ne.Error())
	case errors.Is(err, priority.ErrImmutableField):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, priority.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, priority.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, priority.ErrCycleRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		a.logger.Error(r.Context(), err, msg)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
