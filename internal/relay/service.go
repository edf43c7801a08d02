// Package relay forwards explain, generate and learn requests to the
// completion provider and normalizes the replies into Results.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/synthex/internal/extract"
	"github.com/kalambet/synthex/internal/prompt"
	"github.com/kalambet/synthex/internal/provider"
	"github.com/kalambet/synthex/internal/render"
	"github.com/kalambet/synthex/internal/storage"
)

// Interaction kinds recorded in the history.
const (
	KindExplain   = "explain"
	KindGenerate  = "generate"
	KindLearn     = "learn"
	KindFollowUp  = "followup"
	KindCodeFlow  = "code_flow"
	KindAlgorithm = "algorithm"
)

// Token budgets per call kind.
const (
	explainMaxTokens   = 2048
	generateMaxTokens  = 1024
	learnMaxTokens     = 4096
	followUpMaxTokens  = 2048
	codeFlowMaxTokens  = 2048
	algorithmMaxTokens = 4096
)

// Completer sends a message list to the model and returns its reply.
type Completer interface {
	Complete(ctx context.Context, messages []provider.Message, maxTokens int) (string, error)
}

// ContextStore holds the per-session learning context.
type ContextStore interface {
	Get(ctx context.Context, key string) ([]provider.Message, error)
	Append(ctx context.Context, key string, user, assistant provider.Message) error
	Clear(ctx context.Context, key string) error
}

// Recorder persists one interaction. Recording failures never fail a call.
type Recorder interface {
	SaveInteraction(i storage.Interaction) error
}

// Service runs relay calls.
type Service struct {
	completer Completer
	contexts  ContextStore
	recorder  Recorder
	model     string
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithRecorder records every call to r.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithModelName sets the model name stored with recorded interactions.
func WithModelName(name string) Option {
	return func(s *Service) { s.model = name }
}

// WithLogger replaces the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a Service.
func New(completer Completer, contexts ContextStore, opts ...Option) *Service {
	s := &Service{
		completer: completer,
		contexts:  contexts,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Explain returns {explanation}.
func (s *Service) Explain(ctx context.Context, req ExplainRequest) Result {
	return s.run(KindExplain, func() (map[string]any, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		req = req.withDefaults()

		msgs := prompt.Explain(prompt.ExplainParams{
			Code:            req.Code,
			Language:        req.Language,
			Difficulty:      req.Difficulty,
			FocusAreas:      req.FocusAreas,
			LineByLine:      req.LineByLine,
			IncludeExamples: *req.IncludeExamples,
		})
		text, err := s.complete(ctx, KindExplain, "", msgs, explainMaxTokens)
		if err != nil {
			return nil, err
		}
		return map[string]any{"explanation": text}, nil
	})
}

// Generate returns {generated_code, time_complexity, space_complexity}.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) Result {
	return s.run(KindGenerate, func() (map[string]any, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		req = req.withDefaults()

		msgs := prompt.Generate(prompt.GenerateParams{
			Language:        req.Language,
			Description:     req.Task(),
			Difficulty:      req.Difficulty,
			Optimization:    req.Options.Optimization,
			IncludeComments: *req.Options.IncludeComments,
		})
		text, err := s.complete(ctx, KindGenerate, "", msgs, generateMaxTokens)
		if err != nil {
			return nil, err
		}

		timeC, spaceC := extract.Complexity(text)
		return map[string]any{
			"generated_code":   extract.Code(text, req.Language),
			"time_complexity":  timeC,
			"space_complexity": spaceC,
		}, nil
	})
}

// Learn returns {lesson, context, session_id} and, when requested,
// lesson_html. The exchange is appended to the session's context.
func (s *Service) Learn(ctx context.Context, req LearnRequest) Result {
	return s.run(KindLearn, func() (map[string]any, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		if err := required("session_id", req.SessionID); err != nil {
			return nil, err
		}
		req = req.withDefaults()

		history, err := s.contexts.Get(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session context: %w", err)
		}

		msgs := prompt.Learn(prompt.LearnParams{
			Topic:      req.Subject(),
			Subtopic:   req.Subtopic,
			Language:   req.Language,
			Difficulty: req.Difficulty,
			Format:     req.Format,
		}, history)
		lesson, err := s.complete(ctx, KindLearn, req.SessionID, msgs, learnMaxTokens)
		if err != nil {
			return nil, err
		}

		user := msgs[len(msgs)-1]
		assistant := provider.Message{Role: provider.RoleAssistant, Content: lesson}
		if err := s.contexts.Append(ctx, req.SessionID, user, assistant); err != nil {
			return nil, fmt.Errorf("updating session context: %w", err)
		}
		entries, err := s.contexts.Get(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session context: %w", err)
		}

		data := map[string]any{
			"lesson":     lesson,
			"context":    entries,
			"session_id": req.SessionID,
		}
		if req.RenderHTML {
			html, err := render.HTML(lesson)
			if err != nil {
				return nil, err
			}
			data["lesson_html"] = html
		}
		return data, nil
	})
}

// FollowUp returns {answer}.
func (s *Service) FollowUp(ctx context.Context, req FollowUpRequest) Result {
	return s.run(KindFollowUp, func() (map[string]any, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		msgs := prompt.FollowUp(prompt.FollowUpParams{Question: req.Question, Context: req.Context})
		text, err := s.complete(ctx, KindFollowUp, "", msgs, followUpMaxTokens)
		if err != nil {
			return nil, err
		}
		return map[string]any{"answer": text}, nil
	})
}

type flowGraph struct {
	Nodes *[]map[string]any `json:"nodes"`
	Edges *[]map[string]any `json:"edges"`
}

// CodeFlow returns {nodes, edges} decoded from the model's JSON reply. A
// reply lacking either key is a parse error.
func (s *Service) CodeFlow(ctx context.Context, req CodeFlowRequest) Result {
	return s.run(KindCodeFlow, func() (map[string]any, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		text, err := s.complete(ctx, KindCodeFlow, "", prompt.CodeFlow(req.Code), codeFlowMaxTokens)
		if err != nil {
			return nil, err
		}

		var g flowGraph
		if err := extract.DecodeJSON(text, &g); err != nil {
			return nil, err
		}
		if g.Nodes == nil || g.Edges == nil {
			return nil, &extract.ParseError{Raw: text, Err: errors.New(`reply lacks "nodes" or "edges"`)}
		}
		return map[string]any{"nodes": *g.Nodes, "edges": *g.Edges}, nil
	})
}

// AlgorithmStep is one frame of an algorithm run: the data state after the
// step, what happened, and the indices the step touched.
type AlgorithmStep struct {
	State       []any  `json:"state"`
	Description string `json:"description"`
	Highlights  []int  `json:"highlights"`
}

type algorithmTrace struct {
	Steps           []AlgorithmStep `json:"steps"`
	TimeComplexity  *string         `json:"time_complexity"`
	SpaceComplexity *string         `json:"space_complexity"`
}

// AlgorithmVisualization returns {initial_state, steps, complexity:{time,
// space}} traced by the model over the request's input data. A reply with no
// steps, a step without state, or no complexity fields is a parse error.
func (s *Service) AlgorithmVisualization(ctx context.Context, req AlgorithmVisualizationRequest) Result {
	return s.run(KindAlgorithm, func() (map[string]any, error) {
		if err := req.Validate(); err != nil {
			return nil, err
		}
		msgs := prompt.AlgorithmSteps(prompt.AlgorithmParams{Code: req.Code, InputData: req.InputData})
		text, err := s.complete(ctx, KindAlgorithm, "", msgs, algorithmMaxTokens)
		if err != nil {
			return nil, err
		}

		var tr algorithmTrace
		if err := extract.DecodeJSON(text, &tr); err != nil {
			return nil, err
		}
		if err := tr.check(); err != nil {
			return nil, &extract.ParseError{Raw: text, Err: err}
		}
		for i := range tr.Steps {
			if tr.Steps[i].Highlights == nil {
				tr.Steps[i].Highlights = []int{}
			}
		}
		return map[string]any{
			"initial_state": tr.Steps[0].State,
			"steps":         tr.Steps,
			"complexity": map[string]string{
				"time":  *tr.TimeComplexity,
				"space": *tr.SpaceComplexity,
			},
		}, nil
	})
}

func (t algorithmTrace) check() error {
	if len(t.Steps) == 0 {
		return errors.New(`reply lacks "steps"`)
	}
	for i, st := range t.Steps {
		if st.State == nil {
			return fmt.Errorf("step %d lacks \"state\"", i)
		}
	}
	if t.TimeComplexity == nil || t.SpaceComplexity == nil {
		return errors.New(`reply lacks "time_complexity" or "space_complexity"`)
	}
	return nil
}

// Context returns {session_id, context} for a session.
func (s *Service) Context(ctx context.Context, sessionID string) Result {
	return s.run("context", func() (map[string]any, error) {
		if err := required("session_id", sessionID); err != nil {
			return nil, err
		}
		entries, err := s.contexts.Get(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("loading session context: %w", err)
		}
		return map[string]any{"session_id": sessionID, "context": entries}, nil
	})
}

// ResetContext drops a session's context.
func (s *Service) ResetContext(ctx context.Context, sessionID string) Result {
	return s.run("reset_context", func() (map[string]any, error) {
		if err := required("session_id", sessionID); err != nil {
			return nil, err
		}
		if err := s.contexts.Clear(ctx, sessionID); err != nil {
			return nil, fmt.Errorf("clearing session context: %w", err)
		}
		return map[string]any{"session_id": sessionID, "cleared": true}, nil
	})
}

// run converts fn's outcome into a Result. A panic inside fn becomes a
// failure result.
func (s *Service) run(kind string, fn func() (map[string]any, error)) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("relay call panicked", "kind", kind, "panic", r)
			res = Err(fmt.Errorf("internal error: %v", r))
		}
	}()

	data, err := fn()
	if err != nil {
		var ve *ValidationError
		if !errors.As(err, &ve) {
			s.logger.Warn("relay call failed", "kind", kind, "error", err)
		}
		return Err(err)
	}
	return Ok(data)
}

// complete calls the model and records the outcome.
func (s *Service) complete(ctx context.Context, kind, sessionID string, msgs []provider.Message, maxTokens int) (string, error) {
	start := time.Now()
	text, err := s.completer.Complete(ctx, msgs, maxTokens)
	s.record(kind, sessionID, msgs, text, err, start)
	return text, err
}

func (s *Service) record(kind, sessionID string, msgs []provider.Message, response string, callErr error, start time.Time) {
	if s.recorder == nil {
		return
	}
	i := storage.Interaction{
		ID:         uuid.NewString(),
		CreatedAt:  start,
		Kind:       kind,
		SessionID:  sessionID,
		Prompt:     msgs[len(msgs)-1].Content,
		Response:   response,
		Status:     storage.StatusCompleted,
		DurationMS: time.Since(start).Milliseconds(),
		Model:      s.model,
	}
	if callErr != nil {
		i.Status = storage.StatusFailed
		i.Error = callErr.Error()
	}
	if err := s.recorder.SaveInteraction(i); err != nil {
		s.logger.Warn("recording interaction failed", "kind", kind, "error", err)
	}
}
