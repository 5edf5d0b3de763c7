package types

import (
	"context"
)

// TurnStore reads message history for one conversation, scoped to the
// requesting participant. Implementations must never return the other
// participant's private content.
type TurnStore interface {
	// RecentTurns returns up to limit turns for the session, newest last.
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]ConversationTurn, error)

	// AppendTurn records a new turn. Turns are append-only.
	AppendTurn(ctx context.Context, turn ConversationTurn) error
}

// ReadingStore reads ordered emotional-intensity samples per conversation.
type ReadingStore interface {
	Readings(ctx context.Context, sessionID string) ([]EmotionalReading, error)
}

// FactStore reads curated long-term and session-scoped facts.
type FactStore interface {
	UserMemories(ctx context.Context, userID string) ([]UserMemory, error)
	SessionFacts(ctx context.Context, sessionID string) ([]SessionFact, error)
}

// SummaryStore reads rolling summaries and themes from prior sessions.
type SummaryStore interface {
	// PriorSummaries returns summaries for the user's earlier sessions,
	// most recent first, excluding the given session.
	PriorSummaries(ctx context.Context, userID, excludeSessionID string, limit int) ([]SessionSummary, error)
}

// SearchCorpus selects which corpus a vector search runs against.
type SearchCorpus string

const (
	CorpusCrossSession SearchCorpus = "cross_session"
	CorpusSameSession  SearchCorpus = "same_session"
	CorpusReflection   SearchCorpus = "reflection"
)

// VectorQuery is one similarity search request.
type VectorQuery struct {
	Corpus    SearchCorpus
	UserID    string
	SessionID string // scoping id: required for same_session, exclusion for cross_session
	Text      string
	TopK      int
	Threshold float64
}

// VectorMatch is one ranked similarity hit.
type VectorMatch struct {
	SourceID   string
	SessionID  string
	Content    string
	Similarity float64
	Timestamp  int64 // unix seconds
}

// VectorSearcher is the similarity-search primitive consumed by the
// retrieval gateway. Implementations may be backed by sqlite-vec or a
// brute-force cosine scan.
type VectorSearcher interface {
	Search(ctx context.Context, q VectorQuery) ([]VectorMatch, error)
}

// FastClassifier is the fast text-classification call: prompt in,
// structured JSON out. Treated as an opaque, fallible, rate-limited service.
type FastClassifier interface {
	ClassifyJSON(ctx context.Context, prompt string) (string, error)
}

// Generator is the high-quality generation call. Invoked exactly once per
// turn, after the context bundle and budget plan are final.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}
