package surfacing

import (
	"testing"

	"attune/internal/types"
)

func TestOneHitWithoutAskStaysSilent(t *testing.T) {
	d := Decide(Input{
		Stage:            types.StageWitnessing,
		TurnCount:        10,
		SameSessionCount: 1,
		LastSurfacedTurn: -1,
	})
	if d.ShouldSurface {
		t.Fatalf("expected silence, got %+v", d)
	}
}

func TestExplicitAskHonoredAtAnyStage(t *testing.T) {
	for _, stage := range []types.Stage{types.StageOpening, types.StageWitnessing, types.StageExploring, types.StageDeepening, types.StageIntegration} {
		d := Decide(Input{
			Stage:            stage,
			TurnCount:        10,
			UserAsked:        true,
			SameSessionCount: 1,
			LastSurfacedTurn: -1,
		})
		if !d.ShouldSurface {
			t.Fatalf("stage %v: explicit ask with evidence should surface", stage)
		}
	}
}

func TestExplicitAskWithoutEvidenceStaysSilent(t *testing.T) {
	d := Decide(Input{
		Stage:            types.StageWitnessing,
		TurnCount:        10,
		UserAsked:        true,
		LastSurfacedTurn: -1,
	})
	if d.ShouldSurface {
		t.Fatalf("no evidence should mean no surfacing: %+v", d)
	}
}

func TestCooldownSuppresses(t *testing.T) {
	d := Decide(Input{
		Stage:            types.StageIntegration,
		TurnCount:        12,
		UserAsked:        true,
		UserOptedIn:      true,
		SameSessionCount: 5,
		LastSurfacedTurn: 9,
	})
	if d.ShouldSurface {
		t.Fatalf("within cooldown, should not surface: %+v", d)
	}

	d = Decide(Input{
		Stage:            types.StageIntegration,
		TurnCount:        14,
		UserAsked:        true,
		UserOptedIn:      true,
		SameSessionCount: 5,
		LastSurfacedTurn: 9,
	})
	if !d.ShouldSurface {
		t.Fatalf("cooldown elapsed, should surface: %+v", d)
	}
}

func TestExploringStageNeedsTwoPoints(t *testing.T) {
	base := Input{
		Stage:            types.StageExploring,
		TurnCount:        10,
		LastSurfacedTurn: -1,
	}

	in := base
	in.SameSessionCount = 1
	if d := Decide(in); d.ShouldSurface {
		t.Fatalf("one point should not surface at exploring: %+v", d)
	}

	in = base
	in.SameSessionCount = 2
	d := Decide(in)
	if !d.ShouldSurface || d.Style != types.SurfaceTentative {
		t.Fatalf("two points should surface tentatively: %+v", d)
	}
}

func TestCrossSessionHitsWeighDouble(t *testing.T) {
	d := Decide(Input{
		Stage:             types.StageExploring,
		TurnCount:         10,
		CrossSessionCount: 1,
		LastSurfacedTurn:  -1,
	})
	if !d.ShouldSurface {
		t.Fatalf("one cross-session hit weighs two points, should surface: %+v", d)
	}
	if d.WeightedEvidence != 2 {
		t.Fatalf("weighted evidence = %d, want 2", d.WeightedEvidence)
	}
}

func TestLateStageNeedsOptInAndThreePoints(t *testing.T) {
	base := Input{
		Stage:            types.StageDeepening,
		TurnCount:        20,
		LastSurfacedTurn: -1,
	}

	in := base
	in.SameSessionCount = 3
	if d := Decide(in); d.ShouldSurface {
		t.Fatalf("without opt-in should not surface explicitly: %+v", d)
	}

	in = base
	in.SameSessionCount = 3
	in.UserOptedIn = true
	d := Decide(in)
	if !d.ShouldSurface || d.Style != types.SurfaceExplicit {
		t.Fatalf("opt-in with three points should surface explicitly: %+v", d)
	}
	if !d.RequireConsent {
		t.Fatal("explicit surfacing must still require consent before asserting")
	}

	in.SameSessionCount = 2
	if d := Decide(in); d.ShouldSurface {
		t.Fatalf("two points is below the late-stage bar: %+v", d)
	}
}

func TestOpeningStageSilentWithoutAsk(t *testing.T) {
	d := Decide(Input{
		Stage:             types.StageOpening,
		TurnCount:         3,
		SameSessionCount:  4,
		CrossSessionCount: 2,
		LastSurfacedTurn:  -1,
	})
	if d.ShouldSurface {
		t.Fatalf("opening stage without ask must stay silent: %+v", d)
	}
}
