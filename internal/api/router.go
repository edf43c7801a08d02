package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/synthex/internal/provider"
	"github.com/kalambet/synthex/internal/relay"
	"github.com/kalambet/synthex/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Relay is the set of relay operations served over HTTP and MCP.
type Relay interface {
	Explain(ctx context.Context, req relay.ExplainRequest) relay.Result
	Generate(ctx context.Context, req relay.GenerateRequest) relay.Result
	Learn(ctx context.Context, req relay.LearnRequest) relay.Result
	FollowUp(ctx context.Context, req relay.FollowUpRequest) relay.Result
	CodeFlow(ctx context.Context, req relay.CodeFlowRequest) relay.Result
	AlgorithmVisualization(ctx context.Context, req relay.AlgorithmVisualizationRequest) relay.Result
	Context(ctx context.Context, sessionID string) relay.Result
	ResetContext(ctx context.Context, sessionID string) relay.Result
}

// ModelLister lists the provider's models.
type ModelLister interface {
	ListModels(ctx context.Context) ([]provider.Model, error)
}

// History reads and deletes recorded interactions.
type History interface {
	ListInteractions(f storage.ListFilter) ([]storage.Interaction, error)
	GetInteraction(id string) (storage.Interaction, error)
	DeleteInteraction(id string) error
}

// Deps holds the dependencies of the HTTP handler.
type Deps struct {
	Relay   Relay
	Models  ModelLister // optional; /api/models answers with a failure envelope when nil
	History History     // optional; /api/history answers with a failure envelope when nil
	Version string
	// Token, when non-empty, is required as a bearer token on /api routes.
	Token string
	// RequireSessionID rejects learn calls without session_id. When false the
	// caller's address is used as the session key.
	RequireSessionID bool
	MaxUploadBytes   int64
	Logger           *slog.Logger
}

// NewHandler builds the HTTP router.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = maxRequestBodySize
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	r := chi.NewRouter()
	r.Use(requestLogger(deps.Logger))
	r.Use(recoverer(deps.Logger))
	r.Use(cors)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "route %s %s not found", r.Method, r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusMethodNotAllowed, "method %s not allowed on %s", r.Method, r.URL.Path)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", handleStatus(deps))

		r.Group(func(r chi.Router) {
			if deps.Token != "" {
				r.Use(BearerAuth(deps.Token))
			}
			r.Get("/models", handleModels(deps))
			r.Post("/explain", handleExplain(deps))
			r.Post("/explain/upload", handleExplainUpload(deps))
			r.Post("/generate", handleGenerate(deps))
			r.Post("/learn", handleLearn(deps))
			r.Get("/learn/context", handleGetContext(deps))
			r.Delete("/learn/context", handleResetContext(deps))
			r.Post("/followup", handleFollowUp(deps))
			r.Post("/visualization/code-flow", handleCodeFlow(deps))
			r.Post("/visualization/algorithm-visualization", handleAlgorithmVisualization(deps))
			r.Get("/history", handleListHistory(deps))
			r.Get("/history/{id}", handleGetHistory(deps))
			r.Delete("/history/{id}", handleDeleteHistory(deps))
		})
	})

	return r
}
