package budget

import (
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"attune/internal/config"
	"attune/internal/types"
)

// Plan is the final bounded payload. TotalTokens never exceeds the ceiling,
// by construction order rather than post-hoc validation, except in the
// pathological case flagged by ProtectedClamped (the never-evicted parts
// alone cost more than the ceiling).
type Plan struct {
	SystemPrompt string
	Messages     []types.Message
	Context      string // formatted evidence, possibly truncated

	IncludedMessages int
	ExcludedMessages int
	EvidenceChars    int
	TotalTokens      int

	EvidenceTruncated bool
	HistoryTruncated  bool

	// ProtectedClamped is set in the pathological case where the
	// never-evicted parts (system prompt, output reservation, protected
	// window) alone exceed the ceiling. The protected messages stay in the
	// list but their text is clamped toward the available budget.
	ProtectedClamped bool
}

// Manager builds plans under a fixed configuration.
type Manager struct {
	cfg    config.BudgetConfig
	logger *zap.Logger
}

// NewManager builds a budget manager.
func NewManager(cfg config.BudgetConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{cfg: cfg, logger: logger}
}

// Plan assembles the bounded payload by strict ordered eviction:
//
//  1. Reserve the system prompt and the output reservation.
//  2. Protect the most recent K turns; they are never evicted.
//  3. Split the remainder between older history and evidence.
//  4. Truncate evidence at a section boundary if it exceeds its share.
//  5. Drop oldest non-protected messages until within the ceiling.
//
// Evidence is always trimmed before any older message is dropped.
func (m *Manager) Plan(systemPrompt string, history []types.Message, evidence string) Plan {
	ceiling := m.cfg.Ceiling

	plan := Plan{SystemPrompt: systemPrompt}

	sysTokens := EstimateTokens(systemPrompt)
	budget := ceiling - sysTokens - m.cfg.OutputReservation
	if budget < 0 {
		// The system prompt and output reservation are never evicted, so
		// nothing else fits. Flag it like the protected-window overflow.
		budget = 0
		plan.ProtectedClamped = true
		m.logger.Warn("system prompt and output reservation exceed ceiling",
			zap.Int("ceiling", ceiling),
			zap.Int("system_tokens", sysTokens),
			zap.Int("output_reservation", m.cfg.OutputReservation))
	}

	// Step 2: protected window, counted in messages (two per turn).
	protectedCount := m.cfg.ProtectedTurns * 2
	if protectedCount > len(history) {
		protectedCount = len(history)
	}
	protected := history[len(history)-protectedCount:]
	older := history[:len(history)-protectedCount]

	protTokens := EstimateMessages(protected)
	if protTokens > budget {
		// Pathological ceiling: the protected window alone does not fit.
		// The window is never evicted, so clamp message text instead.
		protected = clampMessages(protected, budget)
		protTokens = EstimateMessages(protected)
		plan.ProtectedClamped = true
		plan.HistoryTruncated = true
		m.logger.Warn("protected window exceeds ceiling, clamping message text",
			zap.Int("ceiling", ceiling),
			zap.Int("protected_messages", protectedCount))
	}
	budget -= protTokens

	if budget < 0 {
		budget = 0
	}

	// Step 3: 60/40 split of what remains.
	historyBudget := int(float64(budget) * m.cfg.HistoryShare)
	evidenceBudget := budget - historyBudget

	// Step 4: evidence trimmed first, at a section boundary.
	finalEvidence, evTruncated := fitEvidence(evidence, evidenceBudget)
	evTokens := EstimateTokens(finalEvidence)
	plan.Context = finalEvidence
	plan.EvidenceChars = len(finalEvidence)
	plan.EvidenceTruncated = evTruncated

	// Unused evidence share flows back to older history.
	historyBudget += evidenceBudget - evTokens

	// Step 5: keep the newest older messages that fit, dropping from the
	// oldest end.
	kept := 0
	used := 0
	for i := len(older) - 1; i >= 0; i-- {
		cost := EstimateMessage(older[i])
		if used+cost > historyBudget {
			break
		}
		used += cost
		kept++
	}
	if kept < len(older) {
		plan.HistoryTruncated = true
	}

	msgs := make([]types.Message, 0, kept+len(protected))
	msgs = append(msgs, older[len(older)-kept:]...)
	msgs = append(msgs, protected...)
	plan.Messages = msgs

	plan.IncludedMessages = len(msgs)
	plan.ExcludedMessages = len(history) - len(msgs)
	plan.TotalTokens = sysTokens + protTokens + used + evTokens

	m.logger.Debug("budget plan built",
		zap.Int("total_tokens", plan.TotalTokens),
		zap.Int("ceiling", ceiling),
		zap.Int("included_messages", plan.IncludedMessages),
		zap.Int("excluded_messages", plan.ExcludedMessages),
		zap.Bool("evidence_truncated", plan.EvidenceTruncated),
		zap.Bool("history_truncated", plan.HistoryTruncated))

	return plan
}

// fitEvidence trims the evidence string to the given token budget, cutting
// at the latest section boundary rather than mid-sentence.
func fitEvidence(evidence string, tokenBudget int) (string, bool) {
	if evidence == "" {
		return "", false
	}
	if EstimateTokens(evidence) <= tokenBudget {
		return evidence, false
	}
	maxRunes := maxRunesForTokens(tokenBudget)
	if maxRunes <= 0 {
		return "", true
	}

	cut := truncateRunes(evidence, maxRunes)

	// Prefer a paragraph break, then a line break, then a sentence end.
	for _, sep := range []string{"\n\n", "\n", ". "} {
		if idx := strings.LastIndex(cut, sep); idx > 0 {
			return strings.TrimRight(cut[:idx+len(sep)], " \n"), true
		}
	}
	return cut, true
}

// clampMessages shrinks message text so the whole slice fits the budget,
// giving each message an equal token share. Messages are never removed.
func clampMessages(msgs []types.Message, budget int) []types.Message {
	if len(msgs) == 0 {
		return msgs
	}
	perMessage := budget/len(msgs) - messageOverhead
	if perMessage < 0 {
		perMessage = 0
	}
	maxRunes := maxRunesForTokens(perMessage)

	out := make([]types.Message, len(msgs))
	for i, msg := range msgs {
		out[i] = msg
		if utf8.RuneCountInString(msg.Content) > maxRunes {
			out[i].Content = truncateRunes(msg.Content, maxRunes)
		}
	}
	return out
}

// truncateRunes cuts s to at most n runes on a rune boundary.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
