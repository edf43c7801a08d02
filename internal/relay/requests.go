package relay

import (
	"fmt"
	"strings"
)

// Defaults applied to optional request fields.
const (
	DefaultDifficulty   = "intermediate"
	DefaultFormat       = "tutorial"
	DefaultOptimization = "balanced"
)

var defaultFocusAreas = []string{"algorithm", "complexity"}

// ValidationError reports a request missing a required field or carrying an
// unusable value. It is raised before any prompt is built.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s %s", e.Field, e.Reason)
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}

// ExplainRequest asks for an explanation of a code snippet.
type ExplainRequest struct {
	Code            string   `json:"code"`
	Language        string   `json:"language"`
	Difficulty      string   `json:"difficulty,omitempty"`
	FocusAreas      []string `json:"focus_areas,omitempty"`
	LineByLine      bool     `json:"line_by_line,omitempty"`
	IncludeExamples *bool    `json:"include_examples,omitempty"`
	Provider        string   `json:"provider,omitempty"`
}

func (r ExplainRequest) Validate() error {
	if err := required("code", r.Code); err != nil {
		return err
	}
	return required("language", r.Language)
}

func (r ExplainRequest) withDefaults() ExplainRequest {
	if r.Difficulty == "" {
		r.Difficulty = DefaultDifficulty
	}
	if len(r.FocusAreas) == 0 {
		r.FocusAreas = defaultFocusAreas
	}
	if r.IncludeExamples == nil {
		r.IncludeExamples = boolPtr(true)
	}
	return r
}

// GenerateOptions tune generated code.
type GenerateOptions struct {
	Optimization    string `json:"optimization,omitempty"`
	IncludeComments *bool  `json:"include_comments,omitempty"`
}

// GenerateRequest asks for code in a language from a description. Prompt is
// accepted as an alias of Description.
type GenerateRequest struct {
	Language    string           `json:"language"`
	Description string           `json:"description,omitempty"`
	Prompt      string           `json:"prompt,omitempty"`
	Difficulty  string           `json:"difficulty,omitempty"`
	Options     *GenerateOptions `json:"options,omitempty"`
}

// Task returns the description, falling back to the prompt alias.
func (r GenerateRequest) Task() string {
	if strings.TrimSpace(r.Description) != "" {
		return r.Description
	}
	return r.Prompt
}

func (r GenerateRequest) Validate() error {
	if err := required("language", r.Language); err != nil {
		return err
	}
	if strings.TrimSpace(r.Task()) == "" {
		return &ValidationError{Field: "description", Reason: "or prompt is required"}
	}
	return nil
}

func (r GenerateRequest) withDefaults() GenerateRequest {
	opts := GenerateOptions{}
	if r.Options != nil {
		opts = *r.Options
	}
	if opts.Optimization == "" {
		opts.Optimization = DefaultOptimization
	}
	if opts.IncludeComments == nil {
		opts.IncludeComments = boolPtr(true)
	}
	r.Options = &opts
	return r
}

// LearnRequest asks for a lesson. MainTopic is accepted as an alias of Topic.
// SessionID selects the conversation context the lesson continues.
type LearnRequest struct {
	Topic      string `json:"topic,omitempty"`
	MainTopic  string `json:"main_topic,omitempty"`
	Subtopic   string `json:"subtopic,omitempty"`
	Language   string `json:"language"`
	Difficulty string `json:"difficulty,omitempty"`
	Format     string `json:"format,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	RenderHTML bool   `json:"render_html,omitempty"`
}

// Subject returns the topic, falling back to the main_topic alias.
func (r LearnRequest) Subject() string {
	if strings.TrimSpace(r.Topic) != "" {
		return r.Topic
	}
	return r.MainTopic
}

func (r LearnRequest) Validate() error {
	if strings.TrimSpace(r.Subject()) == "" {
		return &ValidationError{Field: "topic", Reason: "or main_topic is required"}
	}
	return required("language", r.Language)
}

func (r LearnRequest) withDefaults() LearnRequest {
	if r.Difficulty == "" {
		r.Difficulty = DefaultDifficulty
	}
	if r.Format == "" {
		r.Format = DefaultFormat
	}
	return r
}

// FollowUpRequest asks a question about an earlier reply, passed as Context.
type FollowUpRequest struct {
	Question string         `json:"question"`
	Context  map[string]any `json:"context,omitempty"`
	Provider string         `json:"provider,omitempty"`
}

func (r FollowUpRequest) Validate() error {
	return required("question", r.Question)
}

// CodeFlowRequest asks for a control-flow graph of code.
type CodeFlowRequest struct {
	Code string `json:"code"`
}

func (r CodeFlowRequest) Validate() error {
	return required("code", r.Code)
}

// AlgorithmVisualizationRequest asks for a step-by-step trace of an algorithm
// run over InputData.
type AlgorithmVisualizationRequest struct {
	Code      string `json:"code"`
	InputData []any  `json:"input_data"`
}

func (r AlgorithmVisualizationRequest) Validate() error {
	if err := required("code", r.Code); err != nil {
		return err
	}
	if r.InputData == nil {
		return &ValidationError{Field: "input_data", Reason: "is required"}
	}
	return nil
}

func boolPtr(b bool) *bool { return &b }
