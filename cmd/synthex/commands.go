package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/synthex/internal/api"
	"github.com/kalambet/synthex/internal/config"
	"github.com/kalambet/synthex/internal/relay"
)

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the server is up",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/status")
		if err != nil {
			printStatus("Server", "stopped")
			return nil
		}

		var status struct {
			Status  string `json:"status"`
			Version string `json:"version"`
		}
		if err := decodeEnvelope(resp, &status); err != nil {
			printStatus("Server", "error (%v)", err)
			return nil
		}
		printStatus("Server", "%s at %s", status.Status, client.baseURL)
		printStatus("Version", "%s", status.Version)

		resp, err = client.get(cmd.Context(), "/api/models")
		if err == nil {
			var models struct {
				Models []string `json:"models"`
			}
			if err := decodeEnvelope(resp, &models); err == nil {
				printStatus("Models", "%d available", len(models.Models))
			} else {
				printStatus("Models", "unavailable (%v)", err)
			}
		}
		return nil
	},
}

// --- explain ---

var explainCmd = &cobra.Command{
	Use:   "explain [file]",
	Short: "Explain a source file or snippet",
	Long: `Explain a source file or snippet.

Examples:
  synthex explain ./sort.py
  synthex explain --code "x = [i*i for i in range(10)]" --language python
  synthex explain ./main.cpp --difficulty beginner --line-by-line`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		code, _ := cmd.Flags().GetString("code")
		lang, _ := cmd.Flags().GetString("language")
		difficulty, _ := cmd.Flags().GetString("difficulty")
		lineByLine, _ := cmd.Flags().GetBool("line-by-line")
		focus, _ := cmd.Flags().GetStringSlice("focus")
		noExamples, _ := cmd.Flags().GetBool("no-examples")

		req, err := buildExplainRequest(args, code, lang)
		if err != nil {
			return err
		}
		req.Difficulty = difficulty
		req.LineByLine = lineByLine
		req.FocusAreas = focus
		if noExamples {
			f := false
			req.IncludeExamples = &f
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/explain", req)
		if err != nil {
			return err
		}

		var out struct {
			Explanation string `json:"explanation"`
		}
		if err := decodeEnvelope(resp, &out); err != nil {
			return err
		}
		fmt.Fprintln(stdout, out.Explanation)
		return nil
	},
}

// buildExplainRequest takes code from the file argument or --code. The
// language comes from --language, else from the file extension.
func buildExplainRequest(args []string, code, lang string) (relay.ExplainRequest, error) {
	switch {
	case len(args) == 1 && code != "":
		return relay.ExplainRequest{}, fmt.Errorf("pass either a file or --code, not both")
	case len(args) == 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return relay.ExplainRequest{}, fmt.Errorf("reading file: %w", err)
		}
		code = string(data)
		if lang == "" {
			detected, ok := api.LanguageForFile(args[0])
			if !ok {
				return relay.ExplainRequest{}, fmt.Errorf("cannot detect language of %s, pass --language", args[0])
			}
			lang = detected
		}
	case code == "":
		return relay.ExplainRequest{}, fmt.Errorf("a file argument or --code is required")
	}
	if lang == "" {
		return relay.ExplainRequest{}, fmt.Errorf("--language is required with --code")
	}
	return relay.ExplainRequest{Code: code, Language: lang}, nil
}

func init() {
	explainCmd.Flags().String("code", "", "code snippet to explain")
	explainCmd.Flags().String("language", "", "language of the code (detected from the file extension when omitted)")
	explainCmd.Flags().String("difficulty", "", "beginner, intermediate or advanced")
	explainCmd.Flags().Bool("line-by-line", false, "explain line by line")
	explainCmd.Flags().StringSlice("focus", nil, "comma-separated focus areas")
	explainCmd.Flags().Bool("no-examples", false, "skip usage examples")
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate <description>",
	Short: "Generate code from a description",
	Long: `Generate code from a description.

Examples:
  synthex generate --language go "reverse a linked list"
  synthex generate --language python --optimize speed "find primes below n"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("language")
		difficulty, _ := cmd.Flags().GetString("difficulty")
		optimize, _ := cmd.Flags().GetString("optimize")
		noComments, _ := cmd.Flags().GetBool("no-comments")

		if lang == "" {
			return fmt.Errorf("--language is required")
		}
		includeComments := !noComments
		req := relay.GenerateRequest{
			Language:    lang,
			Description: strings.Join(args, " "),
			Difficulty:  difficulty,
			Options: &relay.GenerateOptions{
				Optimization:    optimize,
				IncludeComments: &includeComments,
			},
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/generate", req)
		if err != nil {
			return err
		}

		var out struct {
			Code  string `json:"generated_code"`
			Time  string `json:"time_complexity"`
			Space string `json:"space_complexity"`
		}
		if err := decodeEnvelope(resp, &out); err != nil {
			return err
		}
		fmt.Fprintln(stdout, out.Code)
		fmt.Fprintln(stdout)
		printStatus("Time complexity", "%s", out.Time)
		printStatus("Space complexity", "%s", out.Space)
		return nil
	},
}

func init() {
	generateCmd.Flags().String("language", "", "target language")
	generateCmd.Flags().String("difficulty", "", "audience difficulty")
	generateCmd.Flags().String("optimize", "", "what to optimize for (default balanced)")
	generateCmd.Flags().Bool("no-comments", false, "omit explanatory comments")
}

// --- learn ---

var learnCmd = &cobra.Command{
	Use:   "learn <topic>",
	Short: "Get a lesson that continues the session's earlier lessons",
	Long: `Get a lesson that continues the session's earlier lessons.

Examples:
  synthex learn --language python --session me recursion
  synthex learn --language go --subtopic "select statement" --session me concurrency
  synthex learn --session me --reset`,
	Args: cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lang, _ := cmd.Flags().GetString("language")
		sessionID, _ := cmd.Flags().GetString("session")
		subtopic, _ := cmd.Flags().GetString("subtopic")
		difficulty, _ := cmd.Flags().GetString("difficulty")
		format, _ := cmd.Flags().GetString("format")
		reset, _ := cmd.Flags().GetBool("reset")

		if sessionID == "" {
			return fmt.Errorf("--session is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		q := "?session_id=" + url.QueryEscape(sessionID)
		if reset {
			resp, err := client.delete(cmd.Context(), "/api/learn/context"+q)
			if err != nil {
				return err
			}
			if err := decodeEnvelope(resp, nil); err != nil {
				return err
			}
			printSuccess("Cleared context of session %s", sessionID)
			return nil
		}

		if len(args) == 0 {
			return fmt.Errorf("a topic is required")
		}
		if lang == "" {
			return fmt.Errorf("--language is required")
		}
		req := relay.LearnRequest{
			Topic:      strings.Join(args, " "),
			Subtopic:   subtopic,
			Language:   lang,
			Difficulty: difficulty,
			Format:     format,
		}
		resp, err := client.post(cmd.Context(), "/api/learn"+q, req)
		if err != nil {
			return err
		}

		var out struct {
			Lesson  string            `json:"lesson"`
			Context []json.RawMessage `json:"context"`
		}
		if err := decodeEnvelope(resp, &out); err != nil {
			return err
		}
		fmt.Fprintln(stdout, out.Lesson)
		printStep("session %s holds %d context entries", sessionID, len(out.Context))
		return nil
	},
}

func init() {
	learnCmd.Flags().String("language", "", "language used in the lesson")
	learnCmd.Flags().String("session", "", "session id whose context the lesson continues")
	learnCmd.Flags().String("subtopic", "", "optional subtopic")
	learnCmd.Flags().String("difficulty", "", "lesson difficulty")
	learnCmd.Flags().String("format", "", "lesson format (default tutorial)")
	learnCmd.Flags().Bool("reset", false, "clear the session's context instead of asking for a lesson")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse recorded interactions",
}

type historyItem struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	Kind       string `json:"kind"`
	SessionID  string `json:"session_id"`
	Prompt     string `json:"prompt"`
	Response   string `json:"response"`
	Status     string `json:"status"`
	Error      string `json:"error"`
	DurationMS int64  `json:"duration_ms"`
	Model      string `json:"model"`
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent interactions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		kind, _ := cmd.Flags().GetString("kind")

		q := url.Values{}
		q.Set("limit", strconv.Itoa(limit))
		if kind != "" {
			q.Set("kind", kind)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/history?"+q.Encode())
		if err != nil {
			return err
		}

		var out struct {
			Interactions []historyItem `json:"interactions"`
		}
		if err := decodeEnvelope(resp, &out); err != nil {
			return err
		}
		if len(out.Interactions) == 0 {
			fmt.Fprintln(stdout, "No interactions found.")
			return nil
		}

		for _, ix := range out.Interactions {
			id := ix.ID
			if len(id) > 8 {
				id = id[:8]
			}
			status := ix.Status
			if status != "completed" {
				status = colorize(colorRed, status)
			}
			fmt.Fprintf(stdout, "%s  %s  %-9s %s  %s\n",
				colorize(colorCyan, id),
				ix.CreatedAt,
				ix.Kind,
				status,
				truncate(ix.Prompt, 60),
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var out struct {
			Interaction historyItem `json:"interaction"`
		}
		if err := decodeEnvelope(resp, &out); err != nil {
			return err
		}

		ix := out.Interaction
		printStatus("ID", "%s", ix.ID)
		printStatus("Created", "%s", ix.CreatedAt)
		printStatus("Kind", "%s", ix.Kind)
		if ix.SessionID != "" {
			printStatus("Session", "%s", ix.SessionID)
		}
		printStatus("Status", "%s (%d ms)", ix.Status, ix.DurationMS)
		if ix.Model != "" {
			printStatus("Model", "%s", ix.Model)
		}
		fmt.Fprintln(stdout)
		printHeading("Prompt", ix.Prompt)
		fmt.Fprintln(stdout)
		if ix.Error != "" {
			printHeading("Error", ix.Error)
		} else {
			printHeading("Response", ix.Response)
		}
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a single interaction",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/api/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeEnvelope(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted interaction %s", args[0])
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of interactions to list")
	historyListCmd.Flags().String("kind", "", "only list interactions of this kind (explain, generate, learn, followup, code_flow, algorithm)")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		fmt.Fprintf(stdout, "\n  config file: %s\n", config.ConfigFilePath())
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long:  "Set a configuration value. Valid keys:\n  " + strings.Join(config.ValidKeys(), "\n  "),
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
