package budget

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"attune/internal/config"
	"attune/internal/types"
)

func testManager(cfg config.BudgetConfig) *Manager {
	return NewManager(cfg, zap.NewNop())
}

func defaultBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		Ceiling:           8192,
		OutputReservation: 1024,
		ProtectedTurns:    8,
		HistoryShare:      0.6,
	}
}

func makeHistory(n int, content string) []types.Message {
	msgs := make([]types.Message, n)
	for i := range msgs {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = types.Message{Role: role, Content: content}
	}
	return msgs
}

func TestPlanNeverExceedsCeiling(t *testing.T) {
	m := testManager(defaultBudgetConfig())

	cases := []struct {
		name     string
		system   string
		history  []types.Message
		evidence string
	}{
		{"empty everything", "", nil, ""},
		{"normal turn", "You are a companion.", makeHistory(10, "a short message"), "Earlier the user mentioned feeling stuck at work."},
		{"long evidence", "system", makeHistory(4, "hi"), strings.Repeat("Some relevant recalled passage.\n\n", 5000)},
		{"deep history", "system", makeHistory(400, strings.Repeat("w ", 200)), "evidence"},
		{"single million char message", "system", []types.Message{{Role: "user", Content: strings.Repeat("x", 1_000_000)}}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := m.Plan(tc.system, tc.history, tc.evidence)
			if plan.TotalTokens > defaultBudgetConfig().Ceiling {
				t.Fatalf("TotalTokens = %d exceeds ceiling %d", plan.TotalTokens, defaultBudgetConfig().Ceiling)
			}
			recount := EstimateTokens(plan.SystemPrompt) + EstimateMessages(plan.Messages) + EstimateTokens(plan.Context)
			if recount > defaultBudgetConfig().Ceiling {
				t.Fatalf("recounted tokens %d exceed ceiling", recount)
			}
		})
	}
}

func TestProtectedWindowAlwaysPresent(t *testing.T) {
	cfg := defaultBudgetConfig()
	m := testManager(cfg)

	history := makeHistory(40, strings.Repeat("word ", 100))
	plan := m.Plan("system", history, "")

	want := cfg.ProtectedTurns * 2
	if len(plan.Messages) < want {
		t.Fatalf("kept %d messages, protected window is %d", len(plan.Messages), want)
	}
	// The tail of the plan must be the tail of the input, in order.
	tail := plan.Messages[len(plan.Messages)-want:]
	expect := history[len(history)-want:]
	for i := range tail {
		if tail[i].Role != expect[i].Role {
			t.Fatalf("protected message %d role = %q, want %q", i, tail[i].Role, expect[i].Role)
		}
	}
}

func TestProtectedWindowClampedNotEvicted(t *testing.T) {
	cfg := defaultBudgetConfig()
	cfg.Ceiling = 512
	cfg.OutputReservation = 128
	m := testManager(cfg)

	// One enormous message inside the protected window.
	history := makeHistory(16, "short")
	history[15].Content = strings.Repeat("x", 1_000_000)

	plan := m.Plan("system", history, "")

	if plan.TotalTokens > cfg.Ceiling {
		t.Fatalf("TotalTokens = %d exceeds ceiling %d", plan.TotalTokens, cfg.Ceiling)
	}
	if !plan.ProtectedClamped {
		t.Fatal("expected ProtectedClamped to be set")
	}
	if len(plan.Messages) != 16 {
		t.Fatalf("kept %d messages, want all 16 protected", len(plan.Messages))
	}
	if plan.Messages[15].Content == history[15].Content {
		t.Fatal("oversized protected message was not clamped")
	}
}

func TestEvidenceTrimmedBeforeHistoryDropped(t *testing.T) {
	cfg := defaultBudgetConfig()
	cfg.Ceiling = 2048
	cfg.OutputReservation = 256
	cfg.ProtectedTurns = 2
	m := testManager(cfg)

	history := makeHistory(8, "a modest sized message about the day")
	evidence := strings.Repeat("A recalled detail.\n\n", 2000)

	plan := m.Plan("system", history, evidence)

	if !plan.EvidenceTruncated {
		t.Fatal("expected oversized evidence to be truncated")
	}
	// History fits comfortably once evidence is held to its share.
	if plan.ExcludedMessages != 0 {
		t.Fatalf("dropped %d messages while evidence should absorb the cut", plan.ExcludedMessages)
	}
}

func TestEvidenceCutAtSectionBoundary(t *testing.T) {
	cfg := defaultBudgetConfig()
	cfg.Ceiling = 200
	cfg.OutputReservation = 20
	cfg.ProtectedTurns = 1
	m := testManager(cfg)

	evidence := strings.Repeat("Section one has several sentences in it.\n\n", 50)
	plan := m.Plan("", makeHistory(2, "hi"), evidence)

	if !plan.EvidenceTruncated {
		t.Fatal("expected truncation")
	}
	if plan.Context != "" && !strings.HasSuffix(plan.Context, ".") {
		t.Fatalf("evidence ends mid-section: %q", plan.Context[len(plan.Context)-20:])
	}
}

func TestOldestMessagesDroppedFirst(t *testing.T) {
	cfg := defaultBudgetConfig()
	cfg.Ceiling = 1024
	cfg.OutputReservation = 128
	cfg.ProtectedTurns = 2
	m := testManager(cfg)

	history := make([]types.Message, 20)
	for i := range history {
		history[i] = types.Message{Role: "user", Content: strings.Repeat("m", 400)}
	}
	history[0].Content = "OLDEST-" + history[0].Content

	plan := m.Plan("system", history, "")

	if plan.ExcludedMessages == 0 {
		t.Fatal("expected some messages to be dropped")
	}
	for _, msg := range plan.Messages {
		if strings.HasPrefix(msg.Content, "OLDEST-") {
			t.Fatal("oldest message survived while newer ones were dropped")
		}
	}
	if !plan.HistoryTruncated {
		t.Fatal("expected HistoryTruncated")
	}
}

func TestUnusedEvidenceBudgetFlowsToHistory(t *testing.T) {
	cfg := defaultBudgetConfig()
	cfg.Ceiling = 2048
	cfg.OutputReservation = 256
	cfg.ProtectedTurns = 2
	m := testManager(cfg)

	history := makeHistory(30, strings.Repeat("w", 160))

	withEvidence := m.Plan("system", history, strings.Repeat("e", 100_000))
	noEvidence := m.Plan("system", history, "")

	if noEvidence.IncludedMessages <= withEvidence.IncludedMessages {
		t.Fatalf("freed evidence budget did not expand history: %d <= %d",
			noEvidence.IncludedMessages, withEvidence.IncludedMessages)
	}
}

func TestEmptyInputsProduceEmptyPlan(t *testing.T) {
	m := testManager(defaultBudgetConfig())
	plan := m.Plan("", nil, "")

	if plan.TotalTokens != 0 {
		t.Fatalf("TotalTokens = %d, want 0", plan.TotalTokens)
	}
	if len(plan.Messages) != 0 || plan.Context != "" {
		t.Fatal("expected structurally empty plan")
	}
}

func TestOversizedSystemPromptFlagsClamp(t *testing.T) {
	cfg := config.BudgetConfig{
		Ceiling:           100,
		OutputReservation: 90,
		ProtectedTurns:    2,
		HistoryShare:      0.6,
	}
	m := testManager(cfg)

	plan := m.Plan(strings.Repeat("system prompt text ", 50), makeHistory(4, "hello there"), "some evidence")

	if !plan.ProtectedClamped {
		t.Fatal("ProtectedClamped = false, want true when the system prompt and reservation alone exceed the ceiling")
	}
	if plan.Context != "" {
		t.Errorf("Context = %q, want empty with no remaining budget", plan.Context)
	}
	for i, msg := range plan.Messages {
		if msg.Content != "" {
			t.Errorf("message %d content = %q, want clamped to empty with no remaining budget", i, msg.Content)
		}
	}
}
