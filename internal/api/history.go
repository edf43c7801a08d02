package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/synthex/internal/relay"
	"github.com/kalambet/synthex/internal/storage"
)

const maxHistoryLimit = 500

// interactionView is the JSON shape of a recorded interaction.
type interactionView struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	Kind       string    `json:"kind"`
	SessionID  string    `json:"session_id,omitempty"`
	Prompt     string    `json:"prompt"`
	Response   string    `json:"response"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	Model      string    `json:"model,omitempty"`
}

func viewInteraction(i storage.Interaction) interactionView {
	return interactionView{
		ID:         i.ID,
		CreatedAt:  i.CreatedAt.UTC(),
		Kind:       i.Kind,
		SessionID:  i.SessionID,
		Prompt:     i.Prompt,
		Response:   i.Response,
		Status:     i.Status,
		Error:      i.Error,
		DurationMS: i.DurationMS,
		Model:      i.Model,
	}
}

var errHistoryDisabled = errors.New("interaction history is disabled")

func handleListHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeResult(w, relay.Err(errHistoryDisabled))
			return
		}

		q := r.URL.Query()
		f := storage.ListFilter{Kind: q.Get("kind"), SessionID: q.Get("session_id")}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > maxHistoryLimit {
				writeResult(w, relay.Err(&relay.ValidationError{
					Field:  "limit",
					Reason: fmt.Sprintf("must be an integer between 1 and %d", maxHistoryLimit),
				}))
				return
			}
			f.Limit = n
		}

		items, err := deps.History.ListInteractions(f)
		if err != nil {
			writeResult(w, relay.Err(fmt.Errorf("listing interactions: %w", err)))
			return
		}
		views := make([]interactionView, len(items))
		for i, it := range items {
			views[i] = viewInteraction(it)
		}
		writeResult(w, relay.Ok(map[string]any{"interactions": views}))
	}
}

func handleGetHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeResult(w, relay.Err(errHistoryDisabled))
			return
		}
		id := chi.URLParam(r, "id")
		it, err := deps.History.GetInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "interaction %s not found", id)
			return
		}
		if err != nil {
			writeResult(w, relay.Err(fmt.Errorf("getting interaction: %w", err)))
			return
		}
		writeResult(w, relay.Ok(map[string]any{"interaction": viewInteraction(it)}))
	}
}

func handleDeleteHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.History == nil {
			writeResult(w, relay.Err(errHistoryDisabled))
			return
		}
		id := chi.URLParam(r, "id")
		err := deps.History.DeleteInteraction(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "interaction %s not found", id)
			return
		}
		if err != nil {
			writeResult(w, relay.Err(fmt.Errorf("deleting interaction: %w", err)))
			return
		}
		writeResult(w, relay.Ok(map[string]any{"id": id, "deleted": true}))
	}
}
