package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"attune/internal/breaker"
)

const classifierBreaker = "fast-classifier"

const detectPromptTemplate = `You extract memory references from a message in an ongoing guided conversation.
A memory reference points at something from the past: a person, an event, an agreement or commitment (including implicit phrasing like "you said you would"), a feeling, or a time.

Return strict JSON: {"queries": ["short search query", ...]}
Return {"queries": []} if the message contains no references to the past.
Propose at most %d queries. Keep each query under ten words.

Message:
%s`

type detectResponse struct {
	Queries []string `json:"queries"`
}

// detectReferences asks the fast classifier for search queries derived from
// the message. When the classifier is unavailable (breaker open, timeout,
// malformed output) detection degrades to empty: no queries, no error, no
// added latency.
func (g *Gateway) detectReferences(ctx context.Context, messageText string) ([]string, bool) {
	text := strings.TrimSpace(messageText)
	if text == "" {
		return nil, false
	}
	if g.classifier == nil || g.breakers == nil {
		return nil, true
	}

	prompt := fmt.Sprintf(detectPromptTemplate, g.cfg.MaxQueries, text)

	dctx, cancel := context.WithTimeout(ctx, g.cfg.DetectionTimeout)
	defer cancel()

	raw, err := breaker.Do(g.breakers, dctx, classifierBreaker, func(callCtx context.Context) (string, error) {
		return g.classifier.ClassifyJSON(callCtx, prompt)
	})
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			g.logger.Debug("reference detection skipped, breaker open")
		} else {
			g.logger.Warn("reference detection failed", zap.Error(err))
		}
		return nil, true
	}

	queries, err := parseQueries(raw)
	if err != nil {
		g.logger.Warn("reference detection returned malformed JSON", zap.Error(err))
		return nil, true
	}
	if len(queries) > g.cfg.MaxQueries {
		queries = queries[:g.cfg.MaxQueries]
	}
	return queries, false
}

// parseQueries extracts the query list from classifier output, tolerating
// surrounding prose and markdown fences.
func parseQueries(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}

	var resp detectResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("parse detection response: %w", err)
	}

	var queries []string
	for _, q := range resp.Queries {
		q = strings.TrimSpace(q)
		if q != "" {
			queries = append(queries, q)
		}
	}
	return queries, nil
}
