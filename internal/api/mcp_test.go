package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/synthex/internal/provider"
	"github.com/kalambet/synthex/internal/relay"
	"github.com/kalambet/synthex/internal/session"
	"github.com/kalambet/synthex/internal/storage"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, reply string) (MCPDeps, *stubCompleter, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	completer := &stubCompleter{reply: reply}
	svc := relay.New(completer, session.NewMemoryStore(session.DefaultMaxEntries), relay.WithRecorder(store))
	return MCPDeps{Relay: svc, History: store, Version: "test"}, completer, store
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, "")
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_ExplainCode(t *testing.T) {
	deps, completer, _ := newTestMCPDeps(t, "It loops.")
	handler := mcpExplainCode(deps)

	result, err := handler(context.Background(), makeCallToolRequest("explain_code", map[string]interface{}{
		"code":         "for i := range 3 {}",
		"language":     "go",
		"line_by_line": true,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	if got := toolText(t, result); got != "It loops." {
		t.Errorf("text = %q", got)
	}

	msgs := completer.lastCall()
	if !strings.Contains(msgs[len(msgs)-1].Content, "Explain line by line.") {
		t.Errorf("line_by_line not passed through: %q", msgs[len(msgs)-1].Content)
	}
}

func TestMCPTool_ExplainCodeMissingArgs(t *testing.T) {
	deps, completer, _ := newTestMCPDeps(t, "unused")
	handler := mcpExplainCode(deps)

	result, err := handler(context.Background(), makeCallToolRequest("explain_code", map[string]interface{}{
		"language": "go",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if completer.callCount() != 0 {
		t.Error("completer should not be called")
	}
}

func TestMCPTool_ExplainCodeUpstreamFailure(t *testing.T) {
	deps, completer, _ := newTestMCPDeps(t, "")
	completer.err = &provider.UpstreamError{Status: 503}

	result, err := mcpExplainCode(deps)(context.Background(), makeCallToolRequest("explain_code", map[string]interface{}{
		"code":     "x",
		"language": "go",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result")
	}
	if !strings.Contains(toolText(t, result), "status 503") {
		t.Errorf("text = %q", toolText(t, result))
	}
}

func TestMCPTool_GenerateCode(t *testing.T) {
	reply := "```go\nfunc Sum(xs []int) int { return 0 }\n```\nTime Complexity: O(n)\nSpace Complexity: O(1)"
	deps, _, _ := newTestMCPDeps(t, reply)

	result, err := mcpGenerateCode(deps)(context.Background(), makeCallToolRequest("generate_code", map[string]interface{}{
		"description": "sum a slice",
		"language":    "go",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	text := toolText(t, result)
	for _, want := range []string{"func Sum(xs []int) int", "Time Complexity: O(n)", "Space Complexity: O(1)"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
}

func TestMCPTool_LearnTopicKeepsContext(t *testing.T) {
	deps, completer, _ := newTestMCPDeps(t, "Lesson")
	handler := mcpLearnTopic(deps)
	args := map[string]interface{}{"topic": "closures", "language": "go"}

	for range 2 {
		result, err := handler(context.Background(), makeCallToolRequest("learn_topic", args))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.IsError {
			t.Fatalf("unexpected error: %s", toolText(t, result))
		}
	}

	// Second call: system, first exchange, new user turn.
	if n := len(completer.lastCall()); n != 4 {
		t.Errorf("second call sent %d messages, want 4", n)
	}
}

func TestMCPResource_RecentHistory(t *testing.T) {
	deps, _, store := newTestMCPDeps(t, "")

	long := strings.Repeat("é", summaryRunes+50)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range []string{"short prompt", long} {
		err := store.SaveInteraction(storage.Interaction{
			ID:        string(rune('a' + i)),
			Kind:      relay.KindExplain,
			Prompt:    p,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("SaveInteraction: %v", err)
		}
	}

	contents, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest(recentHistoryURI))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("got %d contents, want 1", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != recentHistoryURI || tc.MIMEType != "application/json" {
		t.Errorf("URI = %q, MIMEType = %q", tc.URI, tc.MIMEType)
	}

	var summaries []struct {
		ID     string `json:"id"`
		Kind   string `json:"kind"`
		Prompt string `json:"prompt"`
	}
	if err := json.Unmarshal([]byte(tc.Text), &summaries); err != nil {
		t.Fatalf("decoding summaries: %v", err)
	}
	if len(summaries) != 2 || summaries[0].ID != "b" {
		t.Fatalf("summaries = %+v, want newest first", summaries)
	}
	if got := []rune(summaries[0].Prompt); len(got) != summaryRunes+3 || !strings.HasSuffix(summaries[0].Prompt, "...") {
		t.Errorf("long prompt not truncated: %d runes", len(got))
	}
	if summaries[1].Prompt != "short prompt" {
		t.Errorf("short prompt = %q", summaries[1].Prompt)
	}
}

func TestMCPResource_HistoryDisabled(t *testing.T) {
	deps, _, _ := newTestMCPDeps(t, "")
	deps.History = nil

	_, err := mcpResourceRecent(deps)(context.Background(), makeReadResourceRequest(recentHistoryURI))
	if err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("error = %v, want history disabled", err)
	}
}
