package priorityapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

const (
	defaultTopN = 10
	maxTopN     = 100
)

type quadrantResponse struct {
	Quadrant priority.Quadrant `json:"quadrant"`
	Items    []*priority.Item  `json:"items"`
}

func (a *API) handleSurface(w http.ResponseWriter, r *http.Request) {
	user := userFor(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	topN := defaultTopN
	if v := r.URL.Query().Get("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxTopN {
			writeError(w, http.StatusBadRequest, "top_n must be between 1 and 100")
			return
		}
		topN = n
	}

	view, err := a.svc.Surface(r.Context(), user, topN)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to build surface view")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (a *API) handleQuadrant(w http.ResponseWriter, r *http.Request) {
	user := userFor(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}
	q, ok := priority.ParseQuadrant(chi.URLParam(r, "quadrant"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown quadrant")
		return
	}

	items, err := a.svc.Quadrant(r.Context(), user, q)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to list quadrant")
		return
	}
	if items == nil {
		items = []*priority.Item{}
	}
	writeJSON(w, http.StatusOK, quadrantResponse{Quadrant: q, Items: items})
}

func (a *API) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	user := userFor(r)
	if user == "" {
		writeError(w, http.StatusBadRequest, "user is required")
		return
	}

	rep, err := a.svc.RunCycle(r.Context(), user)
	if err != nil {
		a.writeServiceError(w, r, err, "cycle failed")
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("surfacer.cycle.id", rep.ID),
		attribute.Int("surfacer.surfaced", rep.Surfaced),
	)
	writeJSON(w, http.StatusOK, rep)
}
