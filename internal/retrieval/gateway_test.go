package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"attune/internal/breaker"
	"attune/internal/config"
	"attune/internal/intent"
	"attune/internal/types"
)

type fakeClassifier struct {
	response string
	err      error
	calls    int
}

func (f *fakeClassifier) ClassifyJSON(_ context.Context, _ string) (string, error) {
	f.calls++
	return f.response, f.err
}

type fakeSearcher struct {
	matches map[types.SearchCorpus][]types.VectorMatch
	errs    map[types.SearchCorpus]error
}

func (f *fakeSearcher) Search(_ context.Context, q types.VectorQuery) ([]types.VectorMatch, error) {
	if err := f.errs[q.Corpus]; err != nil {
		return nil, err
	}
	var out []types.VectorMatch
	for _, m := range f.matches[q.Corpus] {
		if m.Similarity >= q.Threshold {
			out = append(out, m)
		}
	}
	return out, nil
}

type fakeLinker struct {
	links map[string][]string
}

func (f *fakeLinker) ReflectionLinks(_ context.Context, _ string) (map[string][]string, error) {
	return f.links, nil
}

func testGateway(t *testing.T, classifier types.FastClassifier, searcher types.VectorSearcher, linker ReflectionLinker) *Gateway {
	t.Helper()
	cfg := config.Default()
	reg := breaker.NewRegistry(cfg.Breaker, zap.NewNop())
	return NewGateway(cfg.Retrieval, classifier, searcher, linker, reg, zap.NewNop())
}

func fullIntent() intent.Result {
	return intent.Result{
		Depth:             types.DepthFull,
		Threshold:         0.68,
		MaxCrossSession:   3,
		AllowCrossSession: true,
	}
}

func TestRetrieveNoneDepthReturnsEmpty(t *testing.T) {
	classifier := &fakeClassifier{response: `{"queries": ["anything"]}`}
	g := testGateway(t, classifier, &fakeSearcher{}, nil)

	result := g.Retrieve(context.Background(), Request{
		MessageText: "I mentioned this before",
		Intent:      intent.Result{Depth: types.DepthNone},
	})

	assert.Empty(t, result.Evidence)
	assert.Zero(t, classifier.calls, "none depth must not call the classifier")
}

func TestClassifierFailureDegradesToEmptyDetection(t *testing.T) {
	classifier := &fakeClassifier{err: errors.New("service unavailable")}
	searcher := &fakeSearcher{matches: map[types.SearchCorpus][]types.VectorMatch{
		types.CorpusSameSession: {{SourceID: "a", Content: "hit", Similarity: 0.9}},
	}}
	g := testGateway(t, classifier, searcher, nil)

	result := g.Retrieve(context.Background(), Request{
		UserID:      "u1",
		SessionID:   "s1",
		MessageText: "remember what we said",
		Intent:      fullIntent(),
	})

	assert.True(t, result.DetectionDegraded)
	assert.Empty(t, result.Evidence)
}

func TestNoReferencesMeansNoSearch(t *testing.T) {
	classifier := &fakeClassifier{response: `{"queries": []}`}
	searcher := &fakeSearcher{matches: map[types.SearchCorpus][]types.VectorMatch{
		types.CorpusSameSession: {{SourceID: "a", Content: "hit", Similarity: 0.9}},
	}}
	g := testGateway(t, classifier, searcher, nil)

	result := g.Retrieve(context.Background(), Request{
		UserID:      "u1",
		SessionID:   "s1",
		MessageText: "hello there",
		Intent:      fullIntent(),
	})

	assert.False(t, result.DetectionDegraded)
	assert.Empty(t, result.Evidence)
}

func TestCrossSessionOnlyWhenAllowed(t *testing.T) {
	classifier := &fakeClassifier{response: `{"queries": ["the argument"]}`}
	searcher := &fakeSearcher{matches: map[types.SearchCorpus][]types.VectorMatch{
		types.CorpusCrossSession: {{SourceID: "x", SessionID: "old", Content: "prior session content", Similarity: 0.95}},
	}}
	g := testGateway(t, classifier, searcher, nil)

	req := Request{UserID: "u1", SessionID: "s1", MessageText: "we talked about the argument", Intent: fullIntent()}
	result := g.Retrieve(context.Background(), req)
	require.Len(t, result.Evidence, 1)
	assert.Equal(t, types.OriginCrossSession, result.Evidence[0].Origin)

	req.Intent.AllowCrossSession = false
	result = g.Retrieve(context.Background(), req)
	assert.Empty(t, result.Evidence, "cross-session disabled must suppress cross-session hits")
}

func TestMergeDedupesSortsAndCaps(t *testing.T) {
	classifier := &fakeClassifier{response: `{"queries": ["q1", "q2"]}`}
	searcher := &fakeSearcher{matches: map[types.SearchCorpus][]types.VectorMatch{
		types.CorpusSameSession: {
			{SourceID: "dup", Content: "same excerpt repeated", Similarity: 0.91},
			{SourceID: "s2", Content: "another same-session hit", Similarity: 0.75},
			{SourceID: "s3", Content: "third", Similarity: 0.74},
			{SourceID: "s4", Content: "fourth, over the cap", Similarity: 0.73},
		},
		types.CorpusCrossSession: {
			{SourceID: "c1", SessionID: "old", Content: "strongest hit", Similarity: 0.97},
		},
	}}
	g := testGateway(t, classifier, searcher, nil)

	result := g.Retrieve(context.Background(), Request{
		UserID: "u1", SessionID: "s1", MessageText: "msg", Intent: fullIntent(),
	})

	// Both queries hit the same rows: dedupe collapses them, the same-session
	// cap holds at 3, and the strongest hit sorts first.
	require.NotEmpty(t, result.Evidence)
	assert.Equal(t, "c1", result.Evidence[0].SourceID)

	sameCount := 0
	seen := map[string]int{}
	for _, e := range result.Evidence {
		seen[e.SourceID]++
		if e.Origin == types.OriginSameSession {
			sameCount++
		}
	}
	assert.Equal(t, 1, seen["dup"], "duplicate hits must collapse")
	assert.LessOrEqual(t, sameCount, 3)
}

func TestCrossSessionCapHonored(t *testing.T) {
	var cross []types.VectorMatch
	for i := 0; i < 6; i++ {
		cross = append(cross, types.VectorMatch{
			SourceID: fmt.Sprintf("c%d", i), SessionID: "old",
			Content: fmt.Sprintf("cross hit %d", i), Similarity: 0.9 - float64(i)*0.01,
		})
	}
	classifier := &fakeClassifier{response: `{"queries": ["q"]}`}
	searcher := &fakeSearcher{matches: map[types.SearchCorpus][]types.VectorMatch{
		types.CorpusCrossSession: cross,
	}}
	g := testGateway(t, classifier, searcher, nil)

	in := fullIntent()
	in.MaxCrossSession = 2
	result := g.Retrieve(context.Background(), Request{
		UserID: "u1", SessionID: "s1", MessageText: "msg", Intent: in,
	})

	crossCount := 0
	for _, e := range result.Evidence {
		if e.Origin == types.OriginCrossSession {
			crossCount++
		}
	}
	assert.Equal(t, 2, crossCount)
}

func TestCorpusFailureIsolated(t *testing.T) {
	classifier := &fakeClassifier{response: `{"queries": ["q"]}`}
	searcher := &fakeSearcher{
		matches: map[types.SearchCorpus][]types.VectorMatch{
			types.CorpusSameSession: {{SourceID: "ok", Content: "healthy corpus hit", Similarity: 0.9}},
		},
		errs: map[types.SearchCorpus]error{
			types.CorpusCrossSession: errors.New("index offline"),
		},
	}
	g := testGateway(t, classifier, searcher, nil)

	result := g.Retrieve(context.Background(), Request{
		UserID: "u1", SessionID: "s1", MessageText: "msg", Intent: fullIntent(),
	})

	require.Len(t, result.Evidence, 1)
	assert.Equal(t, "ok", result.Evidence[0].SourceID)
}

func TestReflectionLinkBoost(t *testing.T) {
	classifier := &fakeClassifier{response: `{"queries": ["q"]}`}
	searcher := &fakeSearcher{matches: map[types.SearchCorpus][]types.VectorMatch{
		types.CorpusReflection: {
			{SourceID: "linked", Content: "reflection with memory link", Similarity: 0.70},
			{SourceID: "plain", Content: "reflection without links", Similarity: 0.71},
		},
	}}
	linker := &fakeLinker{links: map[string][]string{"linked": {"mem-1"}}}
	g := testGateway(t, classifier, searcher, linker)

	result := g.Retrieve(context.Background(), Request{
		UserID: "u1", SessionID: "s1", MessageText: "msg", Intent: fullIntent(),
	})

	require.Len(t, result.Evidence, 2)
	assert.Equal(t, "linked", result.Evidence[0].SourceID,
		"the link boost should outrank the slightly more similar unlinked reflection")
	assert.InDelta(t, 0.78, result.Evidence[0].Similarity, 1e-9)
}

func TestDescribeRecency(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	cases := []struct {
		name    string
		elapsed time.Duration
		want    string
	}{
		{"minutes", 10 * time.Minute, "just now"},
		{"hours", 5 * time.Hour, "earlier today"},
		{"one day", 30 * time.Hour, "yesterday"},
		{"several days", 5 * 24 * time.Hour, "5 days ago"},
		{"a month", 40 * 24 * time.Hour, "about a month ago"},
		{"long ago", 100 * 24 * time.Hour, "a while back"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DescribeRecency(now, now.Add(-tc.elapsed)))
		})
	}
}

func TestParseQueriesToleratesFences(t *testing.T) {
	queries, err := parseQueries("```json\n{\"queries\": [\"the move\", \" \"]}\n```")
	require.NoError(t, err)
	assert.Equal(t, []string{"the move"}, queries)
}
