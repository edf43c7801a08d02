// Package prompt turns relay requests into chat-completion message lists.
// Every builder emits exactly one leading system message followed by user
// content that embeds the request fields verbatim.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kalambet/synthex/internal/provider"
)

const (
	explainPersona   = "You are a coding expert who explains code clearly and concisely."
	generatePersona  = "You are an expert programmer who writes clean, efficient code and analyzes its complexity."
	learnPersona     = "You are an expert programming tutor."
	followUpPersona  = "You are a patient programming tutor answering follow-up questions about earlier explanations."
	codeFlowPersona  = "You are a static analysis assistant. You describe program control flow as a graph and reply with JSON only."
	algorithmPersona = "You are an algorithms tutor. You trace algorithm runs step by step and reply with JSON only."
)

// ExplainParams are the inputs of an explanation prompt.
type ExplainParams struct {
	Code            string
	Language        string
	Difficulty      string
	FocusAreas      []string
	LineByLine      bool
	IncludeExamples bool
}

// GenerateParams are the inputs of a code generation prompt.
type GenerateParams struct {
	Language        string
	Description     string
	Difficulty      string
	Optimization    string
	IncludeComments bool
}

// LearnParams are the inputs of a lesson prompt.
type LearnParams struct {
	Topic      string
	Subtopic   string
	Language   string
	Difficulty string
	Format     string
}

// FollowUpParams are the inputs of a follow-up question prompt. Context is
// the data of an earlier reply the question refers to.
type FollowUpParams struct {
	Question string
	Context  map[string]any
}

// Explain builds the messages asking the model to explain code.
func Explain(p ExplainParams) []provider.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Explain this %s code.\n\n", p.Language)
	writeCode(&sb, p.Language, p.Code)
	fmt.Fprintf(&sb, "\nDifficulty level: %s\n", p.Difficulty)
	if len(p.FocusAreas) > 0 {
		fmt.Fprintf(&sb, "Focus only on: %s\n", strings.Join(p.FocusAreas, ", "))
	}
	if p.LineByLine {
		sb.WriteString("Explain line by line.\n")
	} else {
		sb.WriteString("Give a high-level overview.\n")
	}
	if p.IncludeExamples {
		sb.WriteString("Include practical examples.\n")
	} else {
		sb.WriteString("Skip examples.\n")
	}
	sb.WriteString("Use clear markdown formatting.")

	return withSystem(explainPersona, sb.String())
}

// Generate builds the messages asking the model for code plus two labelled
// complexity lines.
func Generate(p GenerateParams) []provider.Message {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate %s code for:\n%s\n\n", p.Language, p.Description)
	if p.Difficulty != "" {
		fmt.Fprintf(&sb, "Target audience level: %s\n", p.Difficulty)
	}
	fmt.Fprintf(&sb, "Optimize for: %s\n", p.Optimization)
	if p.IncludeComments {
		sb.WriteString("Include explanatory comments in the code.\n")
	} else {
		sb.WriteString("Do not add comments to the code.\n")
	}
	sb.WriteString("\nReply with the code only, followed by exactly two lines. Format your answer as:\n")
	fmt.Fprintf(&sb, "%s%s\n<code>\n%s\n", "```", strings.ToLower(p.Language), "```")
	sb.WriteString("Time Complexity: <complexity>\n")
	sb.WriteString("Space Complexity: <complexity>")

	return withSystem(generatePersona, sb.String())
}

// Learn builds the lesson messages. history holds prior exchanges of the
// session in chronological order and is placed between the system message
// and the new user turn.
func Learn(p LearnParams, history []provider.Message) []provider.Message {
	topic := p.Topic
	if p.Subtopic != "" {
		topic = fmt.Sprintf("%s (%s)", p.Topic, p.Subtopic)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Teach me about %s in %s format at %s difficulty.", topic, p.Format, p.Difficulty)
	if p.Language != "" {
		fmt.Fprintf(&sb, "\nUse %s for all code examples.", p.Language)
	}
	sb.WriteString("\nInclude a clear explanation, code examples, practice exercises and key points to remember. Use markdown section headings.")

	messages := make([]provider.Message, 0, len(history)+2)
	messages = append(messages, provider.Message{Role: provider.RoleSystem, Content: learnPersona})
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: sb.String()})
	return messages
}

// FollowUp builds the messages for a question about an earlier reply.
func FollowUp(p FollowUpParams) []provider.Message {
	var sb strings.Builder
	if len(p.Context) > 0 {
		ctxJSON, err := json.MarshalIndent(p.Context, "", "  ")
		if err != nil {
			ctxJSON = []byte(fmt.Sprint(p.Context))
		}
		sb.WriteString("Earlier context:\n")
		writeCode(&sb, "json", string(ctxJSON))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "Question: %s", p.Question)

	return withSystem(followUpPersona, sb.String())
}

// CodeFlow builds the messages asking for a control-flow graph of code as a
// single JSON object with "nodes" and "edges".
func CodeFlow(code string) []provider.Message {
	var sb strings.Builder
	sb.WriteString("Analyze the control flow of this code.\n\n")
	writeCode(&sb, "", code)
	sb.WriteString("\nReply with one JSON object of the form:\n")
	sb.WriteString(`{"nodes": [{"id": "string", "label": "string", "type": "start|process|decision|end"}], "edges": [{"from": "string", "to": "string", "label": "string"}]}`)
	sb.WriteString("\nDo not include any other text.")

	return withSystem(codeFlowPersona, sb.String())
}

// AlgorithmParams are the inputs of an algorithm trace prompt.
type AlgorithmParams struct {
	Code      string
	InputData []any
}

// AlgorithmSteps builds the messages asking for a step-by-step trace of the
// code run over the input data, as one JSON object with "steps",
// "time_complexity" and "space_complexity".
func AlgorithmSteps(p AlgorithmParams) []provider.Message {
	input, err := json.Marshal(p.InputData)
	if err != nil {
		input = []byte(fmt.Sprint(p.InputData))
	}

	var sb strings.Builder
	sb.WriteString("Trace this algorithm step by step on the input data.\n\n")
	writeCode(&sb, "", p.Code)
	fmt.Fprintf(&sb, "\nInput data: %s\n", input)
	sb.WriteString("\nFor every step give the full data state after it, a short description, and the indices of the elements compared or modified.\n")
	sb.WriteString("Reply with one JSON object of the form:\n")
	sb.WriteString(`{"steps": [{"state": [1, 2, 3], "description": "string", "highlights": [0, 1]}], "time_complexity": "O(...)", "space_complexity": "O(...)"}`)
	sb.WriteString("\nDo not include any other text.")

	return withSystem(algorithmPersona, sb.String())
}

func withSystem(persona, user string) []provider.Message {
	return []provider.Message{
		{Role: provider.RoleSystem, Content: persona},
		{Role: provider.RoleUser, Content: user},
	}
}

func writeCode(sb *strings.Builder, language, code string) {
	sb.WriteString("```")
	sb.WriteString(strings.ToLower(language))
	sb.WriteString("\n")
	sb.WriteString(code)
	if !strings.HasSuffix(code, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("```\n")
}
