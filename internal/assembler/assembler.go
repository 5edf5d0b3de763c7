// Package assembler builds the per-turn context bundle: it fans out the
// independent store reads, runs retrieval last, and returns a depth-tagged
// bundle the prompt builder consumes once.
package assembler

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attune/internal/config"
	"attune/internal/intent"
	"attune/internal/retrieval"
	"attune/internal/types"
)

// Retriever is the gateway dependency, narrowed for testability.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) retrieval.Result
}

// Request is one per-turn assembly request.
type Request struct {
	UserID      string
	SessionID   string
	MessageText string
	Stage       types.Stage
	Intent      intent.Result
}

// Assembler owns the sub-fetch fan-out.
type Assembler struct {
	cfg       config.AssemblerConfig
	stages    config.StageTable
	turns     types.TurnStore
	readings  types.ReadingStore
	facts     types.FactStore
	summaries types.SummaryStore
	retriever Retriever
	logger    *zap.Logger
}

// New builds an assembler. Any store may be nil; its field is then simply
// absent from every bundle.
func New(cfg config.AssemblerConfig, stages config.StageTable, turns types.TurnStore, readings types.ReadingStore, facts types.FactStore, summaries types.SummaryStore, retriever Retriever, logger *zap.Logger) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{
		cfg:       cfg,
		stages:    stages,
		turns:     turns,
		readings:  readings,
		facts:     facts,
		summaries: summaries,
		retriever: retriever,
		logger:    logger,
	}
}

// Assemble produces the bundle for one turn. Sub-fetch failures omit their
// field; the bundle itself is always produced.
func (a *Assembler) Assemble(ctx context.Context, req Request) Bundle {
	if !req.Intent.Depth.AllowsRetrieval() {
		return NoRecallBundle{Stage: req.Stage, Intent: req.Intent}
	}

	policy := a.stages.Policy(req.Stage)

	minimal := MinimalBundle{Stage: req.Stage, Intent: req.Intent}
	var (
		summaryThemes  []string
		rollingSummary string
	)

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		if a.turns == nil {
			return nil
		}
		fctx, cancel := context.WithTimeout(gctx, a.cfg.FetchTimeout)
		defer cancel()
		turns, err := a.turns.RecentTurns(fctx, req.SessionID, policy.BufferTurns)
		if err != nil {
			a.logger.Warn("turn window fetch failed, omitting", zap.Error(err))
			return nil
		}
		minimal.Turns = turns
		return nil
	})

	eg.Go(func() error {
		if a.readings == nil {
			return nil
		}
		fctx, cancel := context.WithTimeout(gctx, a.cfg.FetchTimeout)
		defer cancel()
		readings, err := a.readings.Readings(fctx, req.SessionID)
		if err != nil {
			a.logger.Warn("emotional readings fetch failed, omitting trend", zap.Error(err))
			return nil
		}
		minimal.Trend = AnalyzeTrend(readings)
		return nil
	})

	eg.Go(func() error {
		if a.facts == nil {
			return nil
		}
		fctx, cancel := context.WithTimeout(gctx, a.cfg.FetchTimeout)
		defer cancel()
		memories, err := a.facts.UserMemories(fctx, req.UserID)
		if err != nil {
			a.logger.Warn("user memories fetch failed, omitting", zap.Error(err))
		} else {
			minimal.Memories = memories
		}
		facts, err := a.facts.SessionFacts(fctx, req.SessionID)
		if err != nil {
			a.logger.Warn("session facts fetch failed, omitting", zap.Error(err))
		} else {
			minimal.Facts = facts
		}
		return nil
	})

	if req.Intent.Depth.AllowsSummaries() {
		eg.Go(func() error {
			if a.summaries == nil {
				return nil
			}
			fctx, cancel := context.WithTimeout(gctx, a.cfg.FetchTimeout)
			defer cancel()
			prior, err := a.summaries.PriorSummaries(fctx, req.UserID, req.SessionID, a.cfg.SummaryLimit)
			if err != nil {
				a.logger.Warn("prior summaries fetch failed, omitting", zap.Error(err))
				return nil
			}
			for _, s := range prior {
				summaryThemes = append(summaryThemes, s.Themes...)
			}
			summaryThemes = dedupeStrings(summaryThemes)
			if len(prior) > 0 {
				rollingSummary = prior[0].Summary
			}
			return nil
		})
	}

	// Sub-fetch closures always return nil; failures degrade to omission.
	_ = eg.Wait()

	if req.Intent.Depth == types.DepthMinimal {
		return minimal
	}

	// Retrieval runs after the other fetches: it needs the user's latest
	// utterance, and its gateway already fans out internally.
	var evidence []types.RetrievedEvidence
	if a.retriever != nil {
		result := a.retriever.Retrieve(ctx, retrieval.Request{
			UserID:      req.UserID,
			SessionID:   req.SessionID,
			MessageText: req.MessageText,
			Intent:      req.Intent,
		})
		evidence = result.Evidence
	}

	light := LightBundle{
		MinimalBundle: minimal,
		Themes:        summaryThemes,
		Summary:       rollingSummary,
		Evidence:      evidence,
	}
	if req.Intent.Depth == types.DepthFull {
		return FullBundle{LightBundle: light}
	}
	return light
}

func dedupeStrings(in []string) []string {
	if len(in) == 0 {
		return in
	}
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
