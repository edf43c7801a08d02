package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/kalambet/synthex/internal/relay"
)

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, relay.Ok(map[string]any{
			"status":  "online",
			"version": deps.Version,
		}))
	}
}

func handleModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Models == nil {
			writeResult(w, relay.Err(errors.New("model listing is not available")))
			return
		}
		models, err := deps.Models.ListModels(r.Context())
		if err != nil {
			writeResult(w, relay.Err(fmt.Errorf("listing models: %w", err)))
			return
		}
		ids := make([]string, len(models))
		for i, m := range models {
			ids[i] = m.ID
		}
		writeResult(w, relay.Ok(map[string]any{"models": ids}))
	}
}

func handleExplain(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relay.ExplainRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		writeResult(w, deps.Relay.Explain(r.Context(), req))
	}
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relay.GenerateRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		writeResult(w, deps.Relay.Generate(r.Context(), req))
	}
}

func handleLearn(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relay.LearnRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		if id := r.URL.Query().Get("session_id"); id != "" {
			req.SessionID = id
		}
		if req.SessionID == "" && !deps.RequireSessionID {
			req.SessionID = clientAddr(r)
		}
		writeResult(w, deps.Relay.Learn(r.Context(), req))
	}
}

func handleGetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, deps.Relay.Context(r.Context(), sessionKey(deps, r)))
	}
}

func handleResetContext(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, deps.Relay.ResetContext(r.Context(), sessionKey(deps, r)))
	}
}

func handleFollowUp(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relay.FollowUpRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		writeResult(w, deps.Relay.FollowUp(r.Context(), req))
	}
}

func handleCodeFlow(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relay.CodeFlowRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		writeResult(w, deps.Relay.CodeFlow(r.Context(), req))
	}
}

func handleAlgorithmVisualization(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req relay.AlgorithmVisualizationRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if err := req.Validate(); err != nil {
			writeResult(w, relay.Err(err))
			return
		}
		writeResult(w, deps.Relay.AlgorithmVisualization(r.Context(), req))
	}
}

// sessionKey reads session_id from the query, falling back to the caller's
// address when ids are optional.
func sessionKey(deps Deps, r *http.Request) string {
	id := r.URL.Query().Get("session_id")
	if id == "" && !deps.RequireSessionID {
		id = clientAddr(r)
	}
	return id
}

func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// decodeBody decodes a JSON request body into v. On failure it writes the
// error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
			return false
		}
		httpError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return false
	}
	return true
}

// writeResult writes res as an envelope. Validation failures answer 400;
// every other outcome answers 200.
func writeResult(w http.ResponseWriter, res relay.Result) {
	code := http.StatusOK
	var ve *relay.ValidationError
	if errors.As(res.Err(), &ve) {
		code = http.StatusBadRequest
	}
	writeEnvelope(w, code, res.Envelope())
}

func writeEnvelope(w http.ResponseWriter, code int, env relay.Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(env)
}

// httpError writes a failure envelope with the given status.
func httpError(w http.ResponseWriter, code int, format string, args ...any) {
	writeEnvelope(w, code, relay.Err(fmt.Errorf(format, args...)).Envelope())
}
