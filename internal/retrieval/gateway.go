// Package retrieval is the semantic retrieval gateway: it detects memory
// references in the user's message, fans searches out across the evidence
// corpora, and merges the hits into one ranked, capped evidence list.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"attune/internal/breaker"
	"attune/internal/config"
	"attune/internal/intent"
	"attune/internal/types"
)

// dedupePrefixLen is how much of the excerpt participates in the dedupe key.
const dedupePrefixLen = 64

// ReflectionLinker exposes which private reflections link to curated user
// memories, so linked reflections can be boosted.
type ReflectionLinker interface {
	ReflectionLinks(ctx context.Context, userID string) (map[string][]string, error)
}

// Request is one per-turn retrieval request.
type Request struct {
	UserID      string
	SessionID   string
	MessageText string
	Intent      intent.Result
}

// Result is the gateway's always-well-formed output. A failed corpus simply
// contributes nothing.
type Result struct {
	Evidence []types.RetrievedEvidence

	// Queries are the search queries reference detection proposed.
	Queries []string

	// DetectionDegraded is set when the fast classifier was skipped or
	// failed and detection returned no queries.
	DetectionDegraded bool
}

// Gateway runs reference detection and parallel corpus search.
type Gateway struct {
	cfg        config.RetrievalConfig
	classifier types.FastClassifier
	searcher   types.VectorSearcher
	linker     ReflectionLinker
	breakers   *breaker.Registry
	logger     *zap.Logger
	now        func() time.Time
}

// NewGateway builds a retrieval gateway. The linker may be nil, which
// disables the reflection link boost.
func NewGateway(cfg config.RetrievalConfig, classifier types.FastClassifier, searcher types.VectorSearcher, linker ReflectionLinker, breakers *breaker.Registry, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		cfg:        cfg,
		classifier: classifier,
		searcher:   searcher,
		linker:     linker,
		breakers:   breakers,
		logger:     logger,
		now:        time.Now,
	}
}

// Retrieve runs one full retrieval pass. It never returns an error for
// dependency failures: degraded corpora return empty and the result is
// always well formed.
func (g *Gateway) Retrieve(ctx context.Context, req Request) Result {
	if !req.Intent.Depth.AllowsRetrieval() {
		return Result{}
	}

	queries, degraded := g.detectReferences(ctx, req.MessageText)
	if len(queries) == 0 {
		return Result{DetectionDegraded: degraded}
	}

	var (
		sameSession  []types.RetrievedEvidence
		crossSession []types.RetrievedEvidence
		reflections  []types.RetrievedEvidence
	)

	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		sameSession = g.searchCorpus(gctx, types.CorpusSameSession, types.OriginSameSession, queries, req, req.Intent.Threshold)
		return nil
	})
	if req.Intent.AllowCrossSession && req.Intent.MaxCrossSession > 0 {
		eg.Go(func() error {
			crossSession = g.searchCorpus(gctx, types.CorpusCrossSession, types.OriginCrossSession, queries, req, req.Intent.Threshold)
			return nil
		})
	}
	eg.Go(func() error {
		reflections = g.searchCorpus(gctx, types.CorpusReflection, types.OriginReflection, queries, req, g.cfg.ReflectionThreshold)
		return nil
	})

	// Corpus goroutines swallow their own failures.
	_ = eg.Wait()

	g.boostLinkedReflections(ctx, req.UserID, reflections)

	evidence := g.merge(sameSession, crossSession, reflections, req.Intent.MaxCrossSession)

	g.logger.Debug("retrieval complete",
		zap.Int("queries", len(queries)),
		zap.Int("same_session", len(sameSession)),
		zap.Int("cross_session", len(crossSession)),
		zap.Int("reflections", len(reflections)),
		zap.Int("evidence", len(evidence)))

	return Result{Evidence: evidence, Queries: queries, DetectionDegraded: degraded}
}

// searchCorpus runs every query against one corpus and collects the hits.
// Any failure logs a warning and yields an empty slice for this corpus only.
func (g *Gateway) searchCorpus(ctx context.Context, corpus types.SearchCorpus, origin types.EvidenceOrigin, queries []string, req Request, threshold float64) []types.RetrievedEvidence {
	var hits []types.RetrievedEvidence
	for _, query := range queries {
		sctx, cancel := context.WithTimeout(ctx, g.cfg.SearchTimeout)
		matches, err := g.searcher.Search(sctx, types.VectorQuery{
			Corpus:    corpus,
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Text:      query,
			TopK:      g.cfg.SameSessionCap + req.Intent.MaxCrossSession,
			Threshold: threshold,
		})
		cancel()
		if err != nil {
			g.logger.Warn("corpus search failed, returning empty for corpus",
				zap.String("corpus", string(corpus)),
				zap.Error(err))
			return nil
		}
		now := g.now()
		for _, m := range matches {
			ts := time.Unix(m.Timestamp, 0)
			hits = append(hits, types.RetrievedEvidence{
				SourceID:   m.SourceID,
				SessionID:  m.SessionID,
				Excerpt:    m.Content,
				Similarity: m.Similarity,
				Origin:     origin,
				Recency:    DescribeRecency(now, ts),
				Timestamp:  ts,
			})
		}
	}
	return hits
}

// boostLinkedReflections raises the similarity of reflections that link to
// curated user memories.
func (g *Gateway) boostLinkedReflections(ctx context.Context, userID string, reflections []types.RetrievedEvidence) {
	if g.linker == nil || len(reflections) == 0 || g.cfg.ReflectionLinkBoost <= 0 {
		return
	}
	links, err := g.linker.ReflectionLinks(ctx, userID)
	if err != nil {
		g.logger.Warn("reflection link lookup failed", zap.Error(err))
		return
	}
	for i := range reflections {
		if _, ok := links[reflections[i].SourceID]; ok {
			reflections[i].Similarity += g.cfg.ReflectionLinkBoost
			if reflections[i].Similarity > 1 {
				reflections[i].Similarity = 1
			}
		}
	}
}

// merge deduplicates, ranks, and caps the per-corpus hit lists.
func (g *Gateway) merge(sameSession, crossSession, reflections []types.RetrievedEvidence, maxCrossSession int) []types.RetrievedEvidence {
	all := make([]types.RetrievedEvidence, 0, len(sameSession)+len(crossSession)+len(reflections))
	all = append(all, sameSession...)
	all = append(all, crossSession...)
	all = append(all, reflections...)

	sort.Slice(all, func(i, j int) bool { return all[i].Similarity > all[j].Similarity })

	seen := make(map[string]bool, len(all))
	sameCount, crossCount := 0, 0
	var merged []types.RetrievedEvidence
	for _, e := range all {
		key := e.SourceID + "|" + excerptPrefix(e.Excerpt)
		if seen[key] {
			continue
		}
		switch e.Origin {
		case types.OriginSameSession:
			if sameCount >= g.cfg.SameSessionCap {
				continue
			}
			sameCount++
		case types.OriginCrossSession:
			if crossCount >= maxCrossSession {
				continue
			}
			crossCount++
		}
		seen[key] = true
		merged = append(merged, e)
	}
	return merged
}

// excerptPrefix returns the leading runes of an excerpt for dedupe keys.
func excerptPrefix(s string) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) > dedupePrefixLen {
		runes = runes[:dedupePrefixLen]
	}
	return string(runes)
}
