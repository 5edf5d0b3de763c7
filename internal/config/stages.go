package config

import (
	"fmt"

	"attune/internal/types"
)

// StageTable maps each conversation stage to its recall policy. Loaded once;
// the classifier treats it as immutable.
type StageTable map[types.Stage]types.StagePolicy

// DefaultStageTable returns the stage policy progression. Thresholds tighten
// and caps shrink toward the early stages; stage 0 is the most conservative
// and doubles as the fallback for unrecognized stage numbers.
func DefaultStageTable() StageTable {
	return StageTable{
		types.StageOpening: {
			SimilarityThreshold: 0.85,
			MaxCrossSession:     0,
			AllowCrossSession:   false,
			SurfaceStyle:        types.SurfaceSilent,
			DefaultDepth:        types.DepthNone,
			BufferTurns:         2,
		},
		types.StageWitnessing: {
			SimilarityThreshold: 0.80,
			MaxCrossSession:     1,
			AllowCrossSession:   false,
			SurfaceStyle:        types.SurfaceGentle,
			DefaultDepth:        types.DepthLight,
			BufferTurns:         4,
		},
		types.StageExploring: {
			SimilarityThreshold: 0.72,
			MaxCrossSession:     2,
			AllowCrossSession:   true,
			SurfaceStyle:        types.SurfaceTentative,
			DefaultDepth:        types.DepthLight,
			BufferTurns:         6,
		},
		types.StageDeepening: {
			SimilarityThreshold: 0.68,
			MaxCrossSession:     3,
			AllowCrossSession:   true,
			SurfaceStyle:        types.SurfaceExplicit,
			DefaultDepth:        types.DepthFull,
			BufferTurns:         8,
		},
		types.StageIntegration: {
			SimilarityThreshold: 0.65,
			MaxCrossSession:     4,
			AllowCrossSession:   true,
			SurfaceStyle:        types.SurfaceExplicit,
			DefaultDepth:        types.DepthFull,
			BufferTurns:         8,
		},
	}
}

// Policy returns the policy for a stage, falling back to the most
// conservative stage for unrecognized numbers. The classifier depends on
// this never failing.
func (t StageTable) Policy(stage types.Stage) types.StagePolicy {
	if p, ok := t[stage]; ok {
		return p
	}
	return t[types.StageOpening]
}

// Validate checks the table covers all five stages with sane values.
func (t StageTable) Validate() error {
	for s := types.StageOpening; s <= types.StageIntegration; s++ {
		p, ok := t[s]
		if !ok {
			return fmt.Errorf("stage table missing stage %d (%s)", s, s)
		}
		if p.SimilarityThreshold <= 0 || p.SimilarityThreshold > 1 {
			return fmt.Errorf("stage %s: similarity threshold %.2f out of (0, 1]", s, p.SimilarityThreshold)
		}
		if p.MaxCrossSession < 0 {
			return fmt.Errorf("stage %s: negative cross-session cap", s)
		}
		if p.BufferTurns < 0 {
			return fmt.Errorf("stage %s: negative buffer size", s)
		}
	}
	return nil
}
