package assembler

import (
	"fmt"
	"strings"

	"attune/internal/intent"
	"attune/internal/surfacing"
	"attune/internal/types"
)

// Bundle is the depth-tagged per-turn context. The concrete type encodes
// which fields can legally be present: a NoRecallBundle cannot carry
// evidence no matter what upstream code does.
type Bundle interface {
	Depth() types.Depth

	// Format renders the bundle as the prompt-injection string.
	Format() string
}

// NoRecallBundle is the structurally empty bundle for depth none. It carries
// only the stage and gate metadata; there is nothing to inject.
type NoRecallBundle struct {
	Stage  types.Stage
	Intent intent.Result
}

func (b NoRecallBundle) Depth() types.Depth { return types.DepthNone }

func (b NoRecallBundle) Format() string { return "" }

// MinimalBundle carries only directly stored data: the recent turn window,
// the emotional trend, and curated facts. No retrieval.
type MinimalBundle struct {
	Stage  types.Stage
	Intent intent.Result

	Turns    []types.ConversationTurn
	Trend    *EmotionalTrend
	Memories []types.UserMemory
	Facts    []types.SessionFact
}

func (b MinimalBundle) Depth() types.Depth { return types.DepthMinimal }

func (b MinimalBundle) Format() string {
	var sb strings.Builder
	writeStage(&sb, b.Stage, b.Trend)
	writeMemories(&sb, b.Memories, b.Facts)
	writeTurns(&sb, b.Turns)
	return strings.TrimRight(sb.String(), "\n")
}

// LightBundle adds prior-session themes, the rolling summary, and retrieval
// evidence on top of the minimal fields.
type LightBundle struct {
	MinimalBundle

	Themes    []string
	Summary   string
	Evidence  []types.RetrievedEvidence
	Surfacing surfacing.Decision
}

func (b LightBundle) Depth() types.Depth { return types.DepthLight }

func (b LightBundle) Format() string {
	var sb strings.Builder
	writeStage(&sb, b.Stage, b.Trend)
	writeMemories(&sb, b.Memories, b.Facts)
	writeThemes(&sb, b.Themes, b.Summary)
	writeEvidence(&sb, b.Evidence, b.Surfacing)
	writeTurns(&sb, b.Turns)
	return strings.TrimRight(sb.String(), "\n")
}

// FullBundle has the same shape as LightBundle at the deepest recall level.
type FullBundle struct {
	LightBundle
}

func (b FullBundle) Depth() types.Depth { return types.DepthFull }

// =============================================================================
// FORMATTING
// =============================================================================

func writeStage(sb *strings.Builder, stage types.Stage, trend *EmotionalTrend) {
	fmt.Fprintf(sb, "[Conversation stage: %s]\n", stage)
	if trend != nil {
		fmt.Fprintf(sb, "[Emotional trend: %s (%.1f to %.1f)", trend.Direction, trend.Initial, trend.Current)
		if trend.MajorShift {
			sb.WriteString(", major shift")
		}
		sb.WriteString("]\n")
	}
	sb.WriteString("\n")
}

func writeMemories(sb *strings.Builder, memories []types.UserMemory, facts []types.SessionFact) {
	if len(memories) > 0 {
		sb.WriteString("What you know about this person:\n")
		for _, m := range memories {
			fmt.Fprintf(sb, "- %s\n", m.Content)
		}
		sb.WriteString("\n")
	}
	if len(facts) > 0 {
		sb.WriteString("Notable from this session:\n")
		for _, f := range facts {
			fmt.Fprintf(sb, "- %s\n", f.Content)
		}
		sb.WriteString("\n")
	}
}

func writeThemes(sb *strings.Builder, themes []string, summary string) {
	if len(themes) > 0 {
		fmt.Fprintf(sb, "Themes from earlier sessions: %s\n\n", strings.Join(themes, ", "))
	}
	if summary != "" {
		fmt.Fprintf(sb, "Previous session summary: %s\n\n", summary)
	}
}

func writeEvidence(sb *strings.Builder, evidence []types.RetrievedEvidence, decision surfacing.Decision) {
	if len(evidence) == 0 {
		return
	}
	sb.WriteString("Recalled moments:\n")
	for _, e := range evidence {
		fmt.Fprintf(sb, "- (%s, %s) %s\n", e.Recency, originLabel(e.Origin), e.Excerpt)
	}
	if decision.ShouldSurface {
		fmt.Fprintf(sb, "You may voice a recalled pattern this turn, style: %s.", decision.Style)
		if decision.RequireConsent {
			sb.WriteString(" Ask before asserting the pattern as fact.")
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Let these inform your reply without mentioning them.\n")
	}
	sb.WriteString("\n")
}

func writeTurns(sb *strings.Builder, turns []types.ConversationTurn) {
	if len(turns) == 0 {
		return
	}
	sb.WriteString("Recent conversation:\n")
	for _, t := range turns {
		fmt.Fprintf(sb, "%s: %s\n", t.Speaker, t.Text)
	}
}

func originLabel(origin types.EvidenceOrigin) string {
	switch origin {
	case types.OriginSameSession:
		return "earlier in this conversation"
	case types.OriginCrossSession:
		return "a previous conversation"
	case types.OriginReflection:
		return "a private reflection"
	default:
		return string(origin)
	}
}
