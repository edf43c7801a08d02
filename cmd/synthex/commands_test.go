package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kalambet/synthex/internal/api"
	"github.com/kalambet/synthex/internal/config"
	"github.com/kalambet/synthex/internal/provider"
	"github.com/kalambet/synthex/internal/relay"
	"github.com/kalambet/synthex/internal/session"
	"github.com/kalambet/synthex/internal/storage"
)

type stubCompleter struct {
	mu    sync.Mutex
	reply string
	last  []provider.Message
}

func (s *stubCompleter) Complete(_ context.Context, messages []provider.Message, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = messages
	return s.reply, nil
}

type testServer struct {
	server    *httptest.Server
	completer *stubCompleter
	store     *storage.Store
}

// newTestServer serves the real API handler backed by a stub completer.
func newTestServer(t *testing.T, reply string) *testServer {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	completer := &stubCompleter{reply: reply}
	svc := relay.New(completer, session.NewMemoryStore(session.DefaultMaxEntries), relay.WithRecorder(store))
	srv := httptest.NewServer(api.NewHandler(api.Deps{
		Relay:            svc,
		History:          store,
		Version:          "test",
		RequireSessionID: true,
	}))
	t.Cleanup(srv.Close)
	return &testServer{server: srv, completer: completer, store: store}
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

// execute runs the root command with args against ts and returns stdout.
func execute(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()

	oldClient, oldOut, oldErr, oldColor := newAPIClient, stdout, stderr, noColor
	t.Cleanup(func() {
		newAPIClient, stdout, stderr, noColor = oldClient, oldOut, oldErr, oldColor
		rootCmd.SetArgs(nil)
	})
	if ts != nil {
		newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	}
	var out bytes.Buffer
	stdout, stderr, noColor = &out, io.Discard, true

	if cmd, _, err := rootCmd.Find(args); err == nil {
		resetFlags(cmd)
	}
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// resetFlags restores a command's flags to their defaults between runs.
func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			sv.Replace(nil)
		} else {
			f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
}

var ctx = context.Background()

func TestDecodeEnvelope_Success(t *testing.T) {
	ts := newTestServer(t, "")
	resp, err := ts.client().get(ctx, "/api/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var status struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := decodeEnvelope(resp, &status); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if status.Status != "online" || status.Version != "test" {
		t.Errorf("status = %+v", status)
	}
}

func TestDecodeEnvelope_Failure(t *testing.T) {
	ts := newTestServer(t, "")
	resp, err := ts.client().post(ctx, "/api/explain", map[string]string{"language": "go"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = decodeEnvelope(resp, nil)
	se, ok := err.(*serverError)
	if !ok {
		t.Fatalf("error = %v (%T), want *serverError", err, err)
	}
	if se.Status != http.StatusBadRequest || !strings.Contains(se.Message, "code") {
		t.Errorf("serverError = %+v", se)
	}
}

func TestDecodeEnvelope_NotJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	err = decodeEnvelope(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Errorf("error = %v, want status in message", err)
	}
}

func TestClient_SendsToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()

	c := &apiClient{baseURL: srv.URL, token: "tok", httpClient: srv.Client()}
	resp, err := c.get(ctx, "/api/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	resp.Body.Close()
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestClient_ServerDown(t *testing.T) {
	c := &apiClient{baseURL: "http://127.0.0.1:1", httpClient: &http.Client{Timeout: time.Second}}
	_, err := c.get(ctx, "/api/status")
	if err == nil || !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %v, want not reachable", err)
	}
}

func TestBuildExplainRequest(t *testing.T) {
	dir := t.TempDir()
	pyFile := filepath.Join(dir, "sort.py")
	if err := os.WriteFile(pyFile, []byte("print(sorted([3, 1]))"), 0o644); err != nil {
		t.Fatal(err)
	}
	txtFile := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(txtFile, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	req, err := buildExplainRequest([]string{pyFile}, "", "")
	if err != nil {
		t.Fatalf("file: %v", err)
	}
	if req.Language != "python" || !strings.Contains(req.Code, "sorted") {
		t.Errorf("file request = %+v", req)
	}

	req, err = buildExplainRequest([]string{txtFile}, "", "text")
	if err != nil || req.Language != "text" {
		t.Errorf("explicit language: %+v, %v", req, err)
	}

	req, err = buildExplainRequest(nil, "x := 1", "go")
	if err != nil || req.Code != "x := 1" || req.Language != "go" {
		t.Errorf("snippet: %+v, %v", req, err)
	}

	for name, tc := range map[string]struct {
		args       []string
		code, lang string
	}{
		"nothing":         {},
		"both":            {args: []string{pyFile}, code: "x"},
		"snippet no lang": {code: "x"},
		"unknown ext":     {args: []string{txtFile}},
		"missing file":    {args: []string{filepath.Join(dir, "nope.py")}},
	} {
		if _, err := buildExplainRequest(tc.args, tc.code, tc.lang); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExplainCommand(t *testing.T) {
	ts := newTestServer(t, "It squares numbers.")
	out, err := execute(t, ts, "explain", "--code", "x = [i*i for i in range(3)]", "--language", "python", "--line-by-line")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "It squares numbers.") {
		t.Errorf("output = %q", out)
	}
	user := ts.completer.last[len(ts.completer.last)-1].Content
	if !strings.Contains(user, "Explain line by line.") {
		t.Errorf("prompt = %q", user)
	}
}

func TestGenerateCommand(t *testing.T) {
	ts := newTestServer(t, "```go\nfunc Rev() {}\n```\nTime Complexity: O(n)\nSpace Complexity: O(1)")
	out, err := execute(t, ts, "generate", "--language", "go", "reverse", "a", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"func Rev() {}", "Time complexity: O(n)", "Space complexity: O(1)"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	user := ts.completer.last[len(ts.completer.last)-1].Content
	if !strings.Contains(user, "reverse a list") {
		t.Errorf("prompt = %q", user)
	}
}

func TestGenerateCommand_MissingLanguage(t *testing.T) {
	_, err := execute(t, nil, "generate", "something")
	if err == nil || !strings.Contains(err.Error(), "--language") {
		t.Errorf("error = %v, want --language required", err)
	}
}

func TestLearnCommand_AndReset(t *testing.T) {
	ts := newTestServer(t, "Recursion is...")
	out, err := execute(t, ts, "learn", "--language", "python", "--session", "me", "recursion")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Recursion is...") {
		t.Errorf("output = %q", out)
	}

	if _, err := execute(t, ts, "learn", "--session", "me", "--reset"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	resp, err := ts.client().get(ctx, "/api/learn/context?session_id=me")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got struct {
		Context []json.RawMessage `json:"context"`
	}
	if err := decodeEnvelope(resp, &got); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(got.Context) != 0 {
		t.Errorf("context has %d entries after reset", len(got.Context))
	}
}

func TestLearnCommand_MissingSession(t *testing.T) {
	_, err := execute(t, nil, "learn", "--language", "go", "closures")
	if err == nil || !strings.Contains(err.Error(), "--session") {
		t.Errorf("error = %v, want --session required", err)
	}
}

func TestHistoryCommands(t *testing.T) {
	ts := newTestServer(t, "")
	err := ts.store.SaveInteraction(storage.Interaction{
		ID:         "0123456789abcdef",
		Kind:       relay.KindExplain,
		Prompt:     "Explain this go code",
		Response:   "It does things.",
		DurationMS: 42,
	})
	if err != nil {
		t.Fatalf("SaveInteraction: %v", err)
	}

	out, err := execute(t, ts, "history", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "01234567") || !strings.Contains(out, "explain") {
		t.Errorf("list output = %q", out)
	}

	out, err = execute(t, ts, "history", "show", "0123456789abcdef")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "It does things.") || !strings.Contains(out, "42 ms") {
		t.Errorf("show output = %q", out)
	}

	if _, err := execute(t, ts, "history", "delete", "0123456789abcdef"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := execute(t, ts, "history", "show", "0123456789abcdef"); err == nil {
		t.Error("show after delete: expected error")
	}

	out, err = execute(t, ts, "history", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, "No interactions found.") {
		t.Errorf("empty list output = %q", out)
	}
}

func TestStatusCommand(t *testing.T) {
	ts := newTestServer(t, "")
	out, err := execute(t, ts, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "online") || !strings.Contains(out, "test") {
		t.Errorf("output = %q", out)
	}
}

func TestColorize(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	if got := colorize(colorRed, "x"); got != "x" {
		t.Errorf("colorize with noColor=true = %q", got)
	}
	noColor = false
	if got := colorize(colorRed, "x"); !strings.Contains(got, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("a  b\nc", 10); got != "a b c" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("ééééé", 3); got != "ééé..." {
		t.Errorf("truncate = %q", got)
	}
}

func TestServe_StartsAndStops(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.BaseURL = upstream.URL
	cfg.Storage.DataDir = t.TempDir()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- serve(serveCtx, a, ln) }()

	c := &apiClient{baseURL: "http://" + ln.Addr().String(), httpClient: &http.Client{Timeout: 5 * time.Second}}
	resp, err := c.post(ctx, "/api/explain", map[string]string{"code": "x", "language": "go"})
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	var out struct {
		Explanation string `json:"explanation"`
	}
	if err := decodeEnvelope(resp, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Explanation != "hi" {
		t.Errorf("explanation = %q", out.Explanation)
	}

	n, err := a.store.CountInteractions()
	if err != nil || n != 1 {
		t.Errorf("recorded interactions = %d, %v; want 1", n, err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestServe_DrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"drained"}}]}`))
	}))
	defer upstream.Close()

	cfg := config.Defaults()
	cfg.Provider.APIKey = "test-key"
	cfg.Provider.BaseURL = upstream.URL
	cfg.Storage.Enabled = false

	a, err := buildApp(ctx, cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- serve(serveCtx, a, ln) }()

	type reply struct {
		explanation string
		err         error
	}
	replies := make(chan reply, 1)
	go func() {
		c := &apiClient{baseURL: "http://" + ln.Addr().String(), httpClient: &http.Client{Timeout: 10 * time.Second}}
		resp, err := c.post(ctx, "/api/explain", map[string]string{"code": "x", "language": "go"})
		if err != nil {
			replies <- reply{err: err}
			return
		}
		var out struct {
			Explanation string `json:"explanation"`
		}
		err = decodeEnvelope(resp, &out)
		replies <- reply{explanation: out.Explanation, err: err}
	}()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the provider")
	}
	cancel()
	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case r := <-replies:
		if r.err != nil || r.explanation != "drained" {
			t.Errorf("in-flight request = %q, %v; want it to finish after shutdown began", r.explanation, r.err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("in-flight request never finished")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop after cancel")
	}
}

func TestBuildApp_MissingKey(t *testing.T) {
	cfg := config.Defaults()
	cfg.Storage.Enabled = false
	if _, err := buildApp(ctx, cfg); err == nil {
		t.Fatal("expected error without API key")
	}
}

func TestBuildApp_HistoryDisabled(t *testing.T) {
	cfg := config.Defaults()
	cfg.Provider.APIKey = "k"
	cfg.Storage.Enabled = false

	a, err := buildApp(ctx, cfg)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer a.Close()
	if a.history() != nil {
		t.Error("history() should be nil when storage is disabled")
	}
}
