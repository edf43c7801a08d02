package prompt

import (
	"strings"
	"testing"

	"github.com/kalambet/synthex/internal/provider"
)

func assertSingleSystem(t *testing.T, messages []provider.Message) {
	t.Helper()
	if len(messages) == 0 || messages[0].Role != provider.RoleSystem {
		t.Fatalf("first message is not a system message: %+v", messages)
	}
	for i, m := range messages[1:] {
		if m.Role == provider.RoleSystem {
			t.Errorf("messages[%d] is an extra system message", i+1)
		}
	}
}

func TestExplainEmbedsFields(t *testing.T) {
	messages := Explain(ExplainParams{
		Code:            "print('hi')",
		Language:        "python",
		Difficulty:      "beginner",
		FocusAreas:      []string{"algorithm", "complexity"},
		LineByLine:      true,
		IncludeExamples: false,
	})

	assertSingleSystem(t, messages)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	user := messages[1].Content
	for _, want := range []string{"```python\nprint('hi')\n```", "beginner", "algorithm, complexity", "line by line", "Skip examples"} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
}

func TestExplainHighLevelWithExamples(t *testing.T) {
	user := Explain(ExplainParams{Code: "x", Language: "go", IncludeExamples: true})[1].Content
	if !strings.Contains(user, "high-level") {
		t.Error("expected high-level instruction")
	}
	if !strings.Contains(user, "Include practical examples") {
		t.Error("expected examples instruction")
	}
}

func TestGenerateRequestsComplexityLines(t *testing.T) {
	messages := Generate(GenerateParams{
		Language:     "Python",
		Description:  "add two numbers",
		Optimization: "readability",
	})

	assertSingleSystem(t, messages)
	user := messages[1].Content
	for _, want := range []string{"Generate Python code", "add two numbers", "readability", "Time Complexity:", "Space Complexity:", "```python"} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q:\n%s", want, user)
		}
	}
}

func TestLearnWithoutHistory(t *testing.T) {
	messages := Learn(LearnParams{Topic: "recursion", Subtopic: "memoization", Language: "go", Difficulty: "advanced", Format: "tutorial"}, nil)

	assertSingleSystem(t, messages)
	if len(messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(messages))
	}
	user := messages[1].Content
	for _, want := range []string{"recursion (memoization)", "tutorial", "advanced", "go"} {
		if !strings.Contains(user, want) {
			t.Errorf("user message missing %q", want)
		}
	}
}

func TestLearnHistoryOrder(t *testing.T) {
	history := []provider.Message{
		{Role: provider.RoleUser, Content: "first question"},
		{Role: provider.RoleAssistant, Content: "first lesson"},
	}

	messages := Learn(LearnParams{Topic: "sorting", Format: "tutorial", Difficulty: "beginner"}, history)

	// system + 2 history + new user = 4
	if len(messages) != 4 {
		t.Fatalf("got %d messages, want 4", len(messages))
	}
	if messages[1].Content != "first question" || messages[2].Content != "first lesson" {
		t.Errorf("history not preserved in order: %+v", messages[1:3])
	}
	if messages[3].Role != provider.RoleUser || !strings.Contains(messages[3].Content, "sorting") {
		t.Errorf("last message = %+v, want new user turn", messages[3])
	}
}

func TestLearnDoesNotAliasHistory(t *testing.T) {
	history := make([]provider.Message, 2, 8)
	history[0] = provider.Message{Role: provider.RoleUser, Content: "q"}
	history[1] = provider.Message{Role: provider.RoleAssistant, Content: "a"}

	messages := Learn(LearnParams{Topic: "t"}, history)
	messages[1].Content = "changed"
	if history[0].Content != "q" {
		t.Error("Learn output aliases the history slice")
	}
}

func TestFollowUpIncludesContext(t *testing.T) {
	messages := FollowUp(FollowUpParams{
		Question: "why is it O(n)?",
		Context:  map[string]any{"explanation": "loops once"},
	})

	assertSingleSystem(t, messages)
	user := messages[1].Content
	if !strings.Contains(user, "why is it O(n)?") {
		t.Error("question missing")
	}
	if !strings.Contains(user, `"explanation": "loops once"`) {
		t.Errorf("context missing:\n%s", user)
	}
}

func TestFollowUpWithoutContext(t *testing.T) {
	user := FollowUp(FollowUpParams{Question: "what is a heap?"})[1].Content
	if strings.Contains(user, "Earlier context") {
		t.Error("unexpected context section")
	}
}

func TestCodeFlowAsksForGraphJSON(t *testing.T) {
	messages := CodeFlow("for i in range(3):\n    print(i)\n")

	assertSingleSystem(t, messages)
	user := messages[1].Content
	if !strings.Contains(user, `"nodes"`) || !strings.Contains(user, `"edges"`) {
		t.Error("graph shape missing from prompt")
	}
	if !strings.Contains(user, "for i in range(3):") {
		t.Error("code missing from prompt")
	}
}

func TestAlgorithmStepsEmbedsInput(t *testing.T) {
	messages := AlgorithmSteps(AlgorithmParams{
		Code:      "def bubble(xs): ...",
		InputData: []any{5, 3, 1},
	})

	assertSingleSystem(t, messages)
	user := messages[1].Content
	for _, want := range []string{"def bubble(xs): ...", "Input data: [5,3,1]", `"steps"`, `"time_complexity"`, `"space_complexity"`} {
		if !strings.Contains(user, want) {
			t.Errorf("prompt missing %q:\n%s", want, user)
		}
	}
}
