// Package surfacing decides whether an observed pattern may be voiced back
// to the user this turn, and how directly. Evidence volume, stage maturity,
// explicit asks, and opt-in consent all gate the decision.
package surfacing

import (
	"fmt"

	"attune/internal/types"
)

// cooldownTurns suppresses surfacing for this many turns after the last one.
const cooldownTurns = 5

// crossSessionWeight counts each cross-session hit as this many evidence
// points. Recurrence across sessions is stronger proof than repetition
// within one.
const crossSessionWeight = 2

// Input is everything the policy needs for one decision.
type Input struct {
	Stage     types.Stage
	TurnCount int

	// UserAsked is set when the user explicitly asked what the assistant
	// remembers or has noticed.
	UserAsked bool

	// UserOptedIn is the standing consent to explicit pattern surfacing.
	UserOptedIn bool

	SameSessionCount  int
	CrossSessionCount int

	// LastSurfacedTurn is the turn number of the previous surfacing, or -1
	// if nothing has been surfaced yet.
	LastSurfacedTurn int
}

// Decision is the policy output.
type Decision struct {
	ShouldSurface bool
	Style         types.SurfaceStyle

	// RequireConsent means generation must ask before asserting the pattern
	// as fact, even though surfacing is allowed.
	RequireConsent bool

	WeightedEvidence int
	Reason           string
}

// Decide applies the surfacing rules in order. Pure; no failure mode.
func Decide(in Input) Decision {
	weighted := in.SameSessionCount + crossSessionWeight*in.CrossSessionCount

	d := Decision{Style: types.SurfaceSilent, WeightedEvidence: weighted}

	if in.LastSurfacedTurn >= 0 && in.TurnCount-in.LastSurfacedTurn < cooldownTurns {
		d.Reason = fmt.Sprintf("cooldown: surfaced %d turns ago", in.TurnCount-in.LastSurfacedTurn)
		return d
	}

	// An explicit ask is honored at any stage with at least one evidence
	// item, styled to stage maturity.
	if in.UserAsked && weighted >= 1 {
		d.ShouldSurface = true
		d.Style = styleForStage(in.Stage)
		d.Reason = "user asked directly"
		return d
	}

	if in.Stage <= types.StageWitnessing {
		d.Reason = "early stage stays silent unless asked"
		return d
	}

	if in.Stage == types.StageExploring {
		if weighted >= 2 {
			d.ShouldSurface = true
			d.Style = types.SurfaceTentative
			d.Reason = fmt.Sprintf("%d weighted evidence points at exploring stage", weighted)
		} else {
			d.Reason = "exploring stage needs two weighted evidence points"
		}
		return d
	}

	// Deepening and integration.
	if weighted >= 3 && in.UserOptedIn {
		d.ShouldSurface = true
		d.Style = types.SurfaceExplicit
		d.RequireConsent = true
		d.Reason = fmt.Sprintf("%d weighted evidence points with opt-in", weighted)
		return d
	}
	if !in.UserOptedIn {
		d.Reason = "late stage requires explicit opt-in"
	} else {
		d.Reason = "late stage needs three weighted evidence points"
	}
	return d
}

// styleForStage maps stage maturity to the softest appropriate voice.
func styleForStage(stage types.Stage) types.SurfaceStyle {
	switch {
	case stage <= types.StageWitnessing:
		return types.SurfaceGentle
	case stage == types.StageExploring:
		return types.SurfaceTentative
	default:
		return types.SurfaceExplicit
	}
}
