package intent

import (
	"testing"

	"attune/internal/config"
	"attune/internal/types"
)

func newTestClassifier() *Classifier {
	return New(config.DefaultStageTable(), 3)
}

func TestHighIntensityAlwaysAvoidsRecall(t *testing.T) {
	c := newTestClassifier()

	for stage := types.Stage(0); stage <= 4; stage++ {
		for _, text := range []string{"hello", "we agreed to talk", "skip this"} {
			res := c.Classify(Input{Stage: stage, Intensity: 9.2, MessageText: text, TurnCount: 10})
			if res.Depth != types.DepthNone {
				t.Errorf("stage %d text %q: depth = %s, want none", stage, text, res.Depth)
			}
			if res.AllowCrossSession {
				t.Errorf("stage %d text %q: cross-session allowed under acute distress", stage, text)
			}
			if res.Tag != TagAvoidRecall {
				t.Errorf("stage %d text %q: tag = %s, want avoid_recall", stage, text, res.Tag)
			}
		}
	}
}

func TestDistressTextOverridesNumericIntensity(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{
		Stage:       types.StageExploring,
		Intensity:   6,
		MessageText: "I can't do this anymore",
		TurnCount:   5,
	})

	if res.Tag != TagAvoidRecall {
		t.Fatalf("tag = %s, want avoid_recall", res.Tag)
	}
	if res.Depth != types.DepthNone {
		t.Errorf("depth = %s, want none", res.Depth)
	}
	if res.SurfaceStyle != types.SurfaceSilent {
		t.Errorf("surface = %s, want silent", res.SurfaceStyle)
	}
}

func TestEmotionalValidationBand(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{Stage: types.StageDeepening, Intensity: 8.4, MessageText: "everything is too much", TurnCount: 7})

	if res.Tag != TagEmotionalValidation {
		t.Fatalf("tag = %s, want emotional_validation", res.Tag)
	}
	if res.Depth != types.DepthMinimal {
		t.Errorf("depth = %s, want minimal", res.Depth)
	}
	if !res.CautionAdvised {
		t.Error("caution flag should be set")
	}
	if res.AllowCrossSession {
		t.Error("cross-session should be off at intensity 8+")
	}
}

func TestCommitmentReferenceOpensFullRecall(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{
		Stage:       types.StageWitnessing,
		Intensity:   4,
		MessageText: "I thought we agreed to split chores",
		TurnCount:   2,
	})

	if res.Tag != TagRecallCommitment {
		t.Fatalf("tag = %s, want recall_commitment", res.Tag)
	}
	if res.Depth != types.DepthFull {
		t.Errorf("depth = %s, want full", res.Depth)
	}
	if !res.AllowCrossSession {
		t.Error("commitment reference must open cross-session recall")
	}
	if !res.ExplicitReference {
		t.Error("explicit reference flag should be set")
	}
	if res.MaxCrossSession < 1 {
		t.Errorf("max cross-session = %d, want >= 1", res.MaxCrossSession)
	}
}

func TestSkipAttemptGetsStageEnforcement(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{Stage: types.StageExploring, Intensity: 3, MessageText: "can we skip to the end", TurnCount: 4})

	if res.Tag != TagStageEnforcement {
		t.Fatalf("tag = %s, want stage_enforcement", res.Tag)
	}
	if res.Depth != types.DepthNone {
		t.Errorf("depth = %s, want none", res.Depth)
	}
}

func TestFirstTurnOffersContinuity(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{
		Stage:           types.StageExploring,
		Intensity:       3,
		MessageText:     "hi again",
		TurnCount:       1,
		SessionDuration: 0,
		IsFirstTurn:     true,
	})

	if res.Tag != TagOfferContinuity {
		t.Fatalf("tag = %s, want offer_continuity", res.Tag)
	}
	if res.Depth != types.DepthLight {
		t.Errorf("depth = %s, want light", res.Depth)
	}
}

func TestEarlyWitnessingTurnsAreDampened(t *testing.T) {
	c := newTestClassifier()

	early := c.Classify(Input{Stage: types.StageWitnessing, Intensity: 3, MessageText: "it happened again at dinner", TurnCount: 2, SessionDuration: 4})
	if early.Depth != types.DepthMinimal {
		t.Errorf("turn 2 depth = %s, want minimal (dampened)", early.Depth)
	}

	later := c.Classify(Input{Stage: types.StageWitnessing, Intensity: 3, MessageText: "it happened again at dinner", TurnCount: 5, SessionDuration: 12})
	if later.Depth != types.DepthLight {
		t.Errorf("turn 5 depth = %s, want light (stage default)", later.Depth)
	}
}

func TestUnknownStageFallsBackToMostConservative(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{Stage: types.Stage(42), Intensity: 3, MessageText: "hello there", TurnCount: 6, SessionDuration: 10})

	if res.Depth != types.DepthNone {
		t.Errorf("depth = %s, want none (stage 0 fallback)", res.Depth)
	}
	if res.AllowCrossSession {
		t.Error("cross-session should be off for unknown stages")
	}
}

func TestOptInEnablesCrossSessionOnDefaultRule(t *testing.T) {
	c := newTestClassifier()

	base := Input{Stage: types.StageWitnessing, Intensity: 3, MessageText: "it happened again at dinner", TurnCount: 6, SessionDuration: 12}

	without := c.Classify(base)
	if without.AllowCrossSession {
		t.Fatal("witnessing stage should not allow cross-session by default")
	}

	base.OptedIn = true
	with := c.Classify(base)
	if !with.AllowCrossSession {
		t.Error("opt-in should enable cross-session recall")
	}
	if with.MaxCrossSession < 1 {
		t.Errorf("maxCrossSession = %d, want >= 1", with.MaxCrossSession)
	}
}

func TestOptInNeverOverridesSafety(t *testing.T) {
	c := newTestClassifier()

	res := c.Classify(Input{
		Stage:       types.StageDeepening,
		Intensity:   9.5,
		MessageText: "everything hurts",
		TurnCount:   10,
		OptedIn:     true,
	})

	if res.AllowCrossSession {
		t.Error("safety rule must force cross-session off despite opt-in")
	}
	if res.Depth != types.DepthNone {
		t.Errorf("depth = %s, want none", res.Depth)
	}
}
