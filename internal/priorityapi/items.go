package priorityapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/surfacer/internal/priority"
)

// engine-owned fields rejected by PUT
var immutableFields = []string{"status", "scores", "quadrant", "total", "dedup_group"}

type createResponse struct {
	Status string `json:"status"`
	ItemID string `json:"item_id"`
}

// handleCreateItem accepts either a raw envelope
// ({"source_type":..., "payload":{...}}) or a flat generic item.
func (a *API) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	raw, err := decodeCreate(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	user := userFor(r)
	if owner := strings.TrimSpace(raw.Owner()); owner == "" {
		if user == "" {
			writeError(w, http.StatusBadRequest, "user is required")
			return
		}
		raw = priority.WithOwner(raw, user)
	} else if user != "" && owner != user {
		writeError(w, http.StatusForbidden, "item belongs to another user")
		return
	}

	res, err := a.svc.Create(r.Context(), raw)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to create item")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("surfacer.item.id", res.ItemID),
		attribute.String("surfacer.create.status", res.Status),
	)

	status := http.StatusOK
	if res.Status == priority.CreateCreated {
		status = http.StatusCreated
	}
	writeJSON(w, status, createResponse{Status: res.Status, ItemID: res.ItemID})
}

func decodeCreate(body []byte) (priority.Raw, error) {
	var probe struct {
		SourceType string          `json:"source_type"`
		Payload    json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, err
	}
	if len(probe.Payload) > 0 {
		return priority.DecodeRaw(body)
	}
	if probe.SourceType != "" && probe.SourceType != string(priority.SourceGeneric) {
		return nil, fmt.Errorf("source_type %q requires a payload", probe.SourceType)
	}

	var g priority.GenericRaw
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// item loads id and hides items that belong to a different caller.
func (a *API) item(w http.ResponseWriter, r *http.Request) (*priority.Item, bool) {
	id := chi.URLParam(r, "id")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("surfacer.item.id", id))

	it, err := a.svc.Get(r.Context(), id)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to get item")
		return nil, false
	}
	if user := userFor(r); user != "" && it.UserID != user {
		writeError(w, http.StatusNotFound, "not found")
		return nil, false
	}
	return it, true
}

func (a *API) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, ok := a.item(w, r)
	if !ok {
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("surfacer.item.status", string(it.Status)))
	writeJSON(w, http.StatusOK, it)
}

func (a *API) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	it, ok := a.item(w, r)
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	for _, f := range immutableFields {
		if _, ok := fields[f]; ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s: %s", f, priority.ErrImmutableField))
			return
		}
	}

	patch, err := decodePatch(fields)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	updated, err := a.svc.Update(r.Context(), it.ID, patch)
	if err != nil {
		a.writeServiceError(w, r, err, "failed to update item")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func decodePatch(fields map[string]json.RawMessage) (priority.ItemPatch, error) {
	var p priority.ItemPatch
	str := func(name string) (*string, error) {
		raw, ok := fields[name]
		if !ok {
			return nil, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%s must be a string", name)
		}
		return &s, nil
	}

	var err error
	if p.Title, err = str("title"); err != nil {
		return p, err
	}
	if p.Description, err = str("description"); err != nil {
		return p, err
	}
	if p.Category, err = str("category"); err != nil {
		return p, err
	}
	if raw, ok := fields["deadline"]; ok {
		if string(raw) == "null" {
			p.ClearDeadline = true
		} else {
			var d time.Time
			if err := json.Unmarshal(raw, &d); err != nil {
				return p, fmt.Errorf("deadline must be an RFC 3339 timestamp or null")
			}
			p.Deadline = &d
		}
	}
	return p, nil
}

func (a *API) handleRevive(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.svc.Revive, "failed to revive item")
}

func (a *API) handleRespond(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.svc.Respond, "failed to record response")
}

func (a *API) handleDismiss(w http.ResponseWriter, r *http.Request) {
	a.transition(w, r, a.svc.Dismiss, "failed to dismiss item")
}

func (a *API) transition(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, id string) (*priority.Item, error), msg string) {
	it, ok := a.item(w, r)
	if !ok {
		return
	}
	out, err := fn(r.Context(), it.ID)
	if err != nil {
		a.writeServiceError(w, r, err, msg)
		return
	}
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("surfacer.item.status", string(out.Status)))
	writeJSON(w, http.StatusOK, out)
}
