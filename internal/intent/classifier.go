// Package intent decides, before anything else runs, how much history is
// safe and useful to recall for one turn. The classifier is pure and
// synchronous: stage, intensity, and message text in, a recall scope out.
// It has no failure mode; every input produces a valid result.
package intent

import (
	"fmt"
	"strings"

	"attune/internal/config"
	"attune/internal/types"
)

// Tag labels which decision rule produced the result.
type Tag string

const (
	// TagAvoidRecall means acute distress: retrieval must not reintroduce
	// painful material.
	TagAvoidRecall Tag = "avoid_recall"

	// TagEmotionalValidation means high intensity: memory may be used
	// carefully to de-escalate.
	TagEmotionalValidation Tag = "emotional_validation"

	// TagRecallCommitment means the user referenced a past agreement that
	// must be resolved accurately.
	TagRecallCommitment Tag = "recall_commitment"

	// TagStageEnforcement means the user tried to short-circuit the stage.
	TagStageEnforcement Tag = "stage_enforcement"

	// TagOfferContinuity means a brand-new conversation that may be bridged
	// lightly to earlier ones.
	TagOfferContinuity Tag = "offer_continuity"

	// TagStageDefault means no rule fired; the stage policy applies.
	TagStageDefault Tag = "stage_default"
)

// Result is this turn's recall scope. Recomputed fresh every turn, never
// persisted.
type Result struct {
	Tag               Tag
	Depth             types.Depth
	Threshold         float64
	MaxCrossSession   int
	AllowCrossSession bool
	SurfaceStyle      types.SurfaceStyle

	// CautionAdvised flags high-intensity turns where memory should only be
	// used to de-escalate.
	CautionAdvised bool

	// ExplicitReference is set when the user referenced past content, which
	// independently permits cross-session recall.
	ExplicitReference bool

	// Reason is a human-readable explanation for logs.
	Reason string
}

// Input carries the turn metadata the classifier decides on.
type Input struct {
	Stage           types.Stage
	Intensity       float64
	MessageText     string
	TurnCount       int
	SessionDuration float64 // minutes elapsed in this session
	IsFirstTurn     bool

	// OptedIn is the user's standing consent to cross-session recall. It
	// widens the default rules but never overrides the safety rules.
	OptedIn bool
}

// Classifier applies the decision rules against a stage policy table.
type Classifier struct {
	stages        config.StageTable
	dampenedTurns int
}

// New builds a classifier. dampenedTurns is how many early witnessing-stage
// turns stay at minimal depth regardless of the stage default.
func New(stages config.StageTable, dampenedTurns int) *Classifier {
	if dampenedTurns <= 0 {
		dampenedTurns = 3
	}
	return &Classifier{stages: stages, dampenedTurns: dampenedTurns}
}

// Classify applies the rules in strict priority order; first match wins.
func (c *Classifier) Classify(in Input) Result {
	policy := c.stages.Policy(in.Stage)
	text := strings.ToLower(in.MessageText)

	// Rule 1: acute distress. The text check deliberately overrides the
	// numeric intensity; a distressed message at intensity 6 still wins.
	if in.Intensity >= 9 || matchesAny(text, distressLexicon) {
		return Result{
			Tag:             TagAvoidRecall,
			Depth:           types.DepthNone,
			Threshold:       policy.SimilarityThreshold,
			MaxCrossSession: 0,
			SurfaceStyle:    types.SurfaceSilent,
			Reason:          "acute distress: retrieval disabled to avoid reintroducing painful material",
		}
	}

	// Rule 2: high intensity short of acute.
	if in.Intensity >= 8 {
		return Result{
			Tag:             TagEmotionalValidation,
			Depth:           types.DepthMinimal,
			Threshold:       policy.SimilarityThreshold,
			MaxCrossSession: 0,
			SurfaceStyle:    types.SurfaceSilent,
			CautionAdvised:  true,
			Reason:          fmt.Sprintf("intensity %.1f: minimal recall, memory only to de-escalate", in.Intensity),
		}
	}

	// Rule 3: explicit or implicit reference to a past commitment. The
	// reference must be resolved accurately, so recall goes to full and
	// cross-session opens regardless of stage policy.
	if matchesAny(text, commitmentLexicon) {
		maxCross := policy.MaxCrossSession
		if maxCross < 1 {
			maxCross = 1
		}
		return Result{
			Tag:               TagRecallCommitment,
			Depth:             types.DepthFull,
			Threshold:         policy.SimilarityThreshold,
			MaxCrossSession:   maxCross,
			AllowCrossSession: true,
			SurfaceStyle:      policy.SurfaceStyle,
			ExplicitReference: true,
			Reason:            "user referenced a past agreement",
		}
	}

	// Rule 4: attempts to skip or short-circuit the stage.
	if matchesAny(text, skipLexicon) {
		return Result{
			Tag:             TagStageEnforcement,
			Depth:           types.DepthNone,
			Threshold:       policy.SimilarityThreshold,
			MaxCrossSession: 0,
			SurfaceStyle:    types.SurfaceSilent,
			Reason:          "stage enforcement: no recall while redirecting",
		}
	}

	// Either the stage policy or the user's standing opt-in permits
	// cross-session recall from here on.
	allowCross := policy.AllowCrossSession || in.OptedIn
	maxCross := policy.MaxCrossSession
	if allowCross && maxCross < 1 {
		maxCross = 1
	}

	// Rule 5: first turn of a brand-new conversation.
	if in.IsFirstTurn && in.SessionDuration == 0 {
		return Result{
			Tag:               TagOfferContinuity,
			Depth:             types.DepthLight,
			Threshold:         policy.SimilarityThreshold,
			MaxCrossSession:   maxCross,
			AllowCrossSession: allowCross,
			SurfaceStyle:      policy.SurfaceStyle,
			Reason:            "new conversation: light recall to offer continuity",
		}
	}

	// Rule 6: stage default, with early-turn dampening for witnessing.
	depth := policy.DefaultDepth
	reason := fmt.Sprintf("stage %s default", in.Stage)
	if in.Stage == types.StageWitnessing && in.TurnCount <= c.dampenedTurns && depth == types.DepthLight {
		depth = types.DepthMinimal
		reason = fmt.Sprintf("stage %s default dampened for turn %d", in.Stage, in.TurnCount)
	}

	return Result{
		Tag:               TagStageDefault,
		Depth:             depth,
		Threshold:         policy.SimilarityThreshold,
		MaxCrossSession:   maxCross,
		AllowCrossSession: allowCross,
		SurfaceStyle:      policy.SurfaceStyle,
		Reason:            reason,
	}
}

func matchesAny(text string, lexicon []string) bool {
	for _, phrase := range lexicon {
		if strings.Contains(text, phrase) {
			return true
		}
	}
	return false
}
