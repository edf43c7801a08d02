package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/synthex/internal/relay"
	"github.com/kalambet/synthex/internal/storage"
)

const (
	recentHistoryURI   = "synthex://history/recent"
	recentHistoryLimit = 10
	summaryRunes       = 200
	// mcpSessionID keys the learning context of an MCP client that does not
	// name a session. A stdio server has exactly one client.
	mcpSessionID = "mcp"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Relay   Relay
	History History // optional; the history resource fails when nil
	Version string
}

// NewMCPServer creates an MCP server with the synthex tools and resources
// registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.Version == "" {
		deps.Version = "dev"
	}
	s := server.NewMCPServer(
		"synthex",
		deps.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("synthex explains code, generates code with complexity notes, and teaches programming topics."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("explain_code",
			mcp.WithDescription("Explain a code snippet at a chosen difficulty."),
			mcp.WithString("code", mcp.Description("The code to explain"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Programming language of the code"), mcp.Required()),
			mcp.WithString("difficulty", mcp.Description("beginner, intermediate or advanced (default intermediate)")),
			mcp.WithArray("focus_areas", mcp.Description("Aspects to focus on, e.g. algorithm, complexity")),
			mcp.WithBoolean("line_by_line", mcp.Description("Explain line by line instead of a high-level overview")),
			mcp.WithBoolean("include_examples", mcp.Description("Include usage examples (default true)")),
		),
		mcpExplainCode(deps),
	)

	s.AddTool(
		mcp.NewTool("generate_code",
			mcp.WithDescription("Generate code from a description and report its time and space complexity."),
			mcp.WithString("description", mcp.Description("What the code should do"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Target programming language"), mcp.Required()),
			mcp.WithString("difficulty", mcp.Description("Audience difficulty level")),
			mcp.WithString("optimization", mcp.Description("What to optimize for (default balanced)")),
			mcp.WithBoolean("include_comments", mcp.Description("Include explanatory comments (default true)")),
		),
		mcpGenerateCode(deps),
	)

	s.AddTool(
		mcp.NewTool("learn_topic",
			mcp.WithDescription("Teach a programming topic, continuing the lessons already given in the session."),
			mcp.WithString("topic", mcp.Description("Main topic"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Programming language used in the lesson"), mcp.Required()),
			mcp.WithString("subtopic", mcp.Description("Optional subtopic")),
			mcp.WithString("difficulty", mcp.Description("Lesson difficulty (default intermediate)")),
			mcp.WithString("format", mcp.Description("Lesson format (default tutorial)")),
			mcp.WithString("session_id", mcp.Description("Session whose context the lesson continues")),
		),
		mcpLearnTopic(deps),
	)

	s.AddResource(
		mcp.NewResource(
			recentHistoryURI,
			"Recent Interactions",
			mcp.WithResourceDescription("Last 10 relay calls (prompts truncated)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpExplainCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		code, err := req.RequireString("code")
		if err != nil {
			return mcpError("code is required"), nil
		}
		lang, err := req.RequireString("language")
		if err != nil {
			return mcpError("language is required"), nil
		}
		includeExamples := req.GetBool("include_examples", true)

		res := deps.Relay.Explain(ctx, relay.ExplainRequest{
			Code:            code,
			Language:        lang,
			Difficulty:      req.GetString("difficulty", ""),
			FocusAreas:      req.GetStringSlice("focus_areas", nil),
			LineByLine:      req.GetBool("line_by_line", false),
			IncludeExamples: &includeExamples,
		})
		if !res.IsOk() {
			return mcpError(fmt.Sprintf("explain failed: %v", res.Err())), nil
		}
		return mcpText(stringField(res, "explanation")), nil
	}
}

func mcpGenerateCode(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		desc, err := req.RequireString("description")
		if err != nil {
			return mcpError("description is required"), nil
		}
		lang, err := req.RequireString("language")
		if err != nil {
			return mcpError("language is required"), nil
		}
		includeComments := req.GetBool("include_comments", true)

		res := deps.Relay.Generate(ctx, relay.GenerateRequest{
			Language:    lang,
			Description: desc,
			Difficulty:  req.GetString("difficulty", ""),
			Options: &relay.GenerateOptions{
				Optimization:    req.GetString("optimization", ""),
				IncludeComments: &includeComments,
			},
		})
		if !res.IsOk() {
			return mcpError(fmt.Sprintf("generate failed: %v", res.Err())), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "```%s\n%s\n```\n\n", lang, stringField(res, "generated_code"))
		fmt.Fprintf(&b, "Time Complexity: %s\n", stringField(res, "time_complexity"))
		fmt.Fprintf(&b, "Space Complexity: %s\n", stringField(res, "space_complexity"))
		return mcpText(b.String()), nil
	}
}

func mcpLearnTopic(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		topic, err := req.RequireString("topic")
		if err != nil {
			return mcpError("topic is required"), nil
		}
		lang, err := req.RequireString("language")
		if err != nil {
			return mcpError("language is required"), nil
		}

		res := deps.Relay.Learn(ctx, relay.LearnRequest{
			Topic:      topic,
			Subtopic:   req.GetString("subtopic", ""),
			Language:   lang,
			Difficulty: req.GetString("difficulty", ""),
			Format:     req.GetString("format", ""),
			SessionID:  req.GetString("session_id", mcpSessionID),
		})
		if !res.IsOk() {
			return mcpError(fmt.Sprintf("learn failed: %v", res.Err())), nil
		}
		return mcpText(stringField(res, "lesson")), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		if deps.History == nil {
			return nil, errors.New("interaction history is disabled")
		}
		interactions, err := deps.History.ListInteractions(storage.ListFilter{Limit: recentHistoryLimit})
		if err != nil {
			return nil, fmt.Errorf("failed to get recent interactions: %w", err)
		}

		type interactionSummary struct {
			ID        string `json:"id"`
			CreatedAt string `json:"created_at"`
			Kind      string `json:"kind"`
			Status    string `json:"status"`
			Prompt    string `json:"prompt"`
		}

		summaries := make([]interactionSummary, len(interactions))
		for i, ix := range interactions {
			p := ix.Prompt
			if utf8.RuneCountInString(p) > summaryRunes {
				runes := []rune(p)
				p = string(runes[:summaryRunes]) + "..."
			}
			summaries[i] = interactionSummary{
				ID:        ix.ID,
				CreatedAt: ix.CreatedAt.UTC().Format(time.RFC3339),
				Kind:      ix.Kind,
				Status:    ix.Status,
				Prompt:    p,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interactions: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func stringField(res relay.Result, key string) string {
	s, _ := res.Data()[key].(string)
	return s
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
