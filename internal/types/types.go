// Package types holds the shared domain types and collaborator interfaces
// for the attune context core. Keeping them here breaks import cycles between
// the classifier, retrieval, assembly, and orchestration packages.
package types

import (
	"time"
)

// =============================================================================
// STAGES
// =============================================================================

// Stage identifies how far a guided conversation has progressed. Policies
// loosen as the stage advances: early stages recall almost nothing, late
// stages may surface cross-session patterns with consent.
type Stage int

const (
	// StageOpening is the first contact stage. Recall is nearly disabled.
	StageOpening Stage = 0

	// StageWitnessing is the listening stage. Minimal same-session recall.
	StageWitnessing Stage = 1

	// StageExploring permits light recall of prior themes.
	StageExploring Stage = 2

	// StageDeepening permits cross-session recall when the user opted in.
	StageDeepening Stage = 3

	// StageIntegration is the most permissive stage.
	StageIntegration Stage = 4
)

// String returns the stage name used in logs and formatted context.
func (s Stage) String() string {
	switch s {
	case StageOpening:
		return "opening"
	case StageWitnessing:
		return "witnessing"
	case StageExploring:
		return "exploring"
	case StageDeepening:
		return "deepening"
	case StageIntegration:
		return "integration"
	default:
		return "unknown"
	}
}

// Valid reports whether the stage is one of the five configured stages.
func (s Stage) Valid() bool {
	return s >= StageOpening && s <= StageIntegration
}

// =============================================================================
// RECALL DEPTH
// =============================================================================

// Depth is how much historical context retrieval may pull in for one turn.
type Depth string

const (
	DepthNone    Depth = "none"
	DepthMinimal Depth = "minimal"
	DepthLight   Depth = "light"
	DepthFull    Depth = "full"
)

// AllowsRetrieval reports whether any retrieval at all is permitted.
func (d Depth) AllowsRetrieval() bool {
	return d != DepthNone
}

// AllowsSummaries reports whether prior-session themes and the rolling
// summary may be loaded. Only light and full recall qualify.
func (d Depth) AllowsSummaries() bool {
	return d == DepthLight || d == DepthFull
}

// =============================================================================
// SURFACE STYLE
// =============================================================================

// SurfaceStyle is how a recalled pattern may be voiced back to the user.
type SurfaceStyle string

const (
	// SurfaceSilent means observations inform the reply but are never voiced.
	SurfaceSilent SurfaceStyle = "silent"

	// SurfaceGentle allows a soft, single-item acknowledgement.
	SurfaceGentle SurfaceStyle = "gentle"

	// SurfaceTentative allows a hedged pattern observation ("it sounds like
	// this might be coming up again").
	SurfaceTentative SurfaceStyle = "tentative"

	// SurfaceExplicit allows naming the pattern directly, consent permitting.
	SurfaceExplicit SurfaceStyle = "explicit"
)

// =============================================================================
// CONVERSATION DATA
// =============================================================================

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ConversationTurn is one exchanged message. Turns are append-only and owned
// by their conversation.
type ConversationTurn struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`

	// Intensity is the emotional intensity reading for this turn, 0-10.
	Intensity float64 `json:"intensity"`
}

// EmotionalReading is one ordered intensity sample for a conversation.
type EmotionalReading struct {
	Timestamp time.Time `json:"timestamp"`
	Intensity float64   `json:"intensity"`
}

// Message is a role/content pair ready for the generation call.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMemory is a curated long-term fact about the user. These are loaded
// verbatim, never similarity-filtered.
type UserMemory struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionFact is a notable fact scoped to a single session.
type SessionFact struct {
	SessionID string    `json:"session_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionSummary is the rolling summary plus themes for a prior session.
type SessionSummary struct {
	SessionID string    `json:"session_id"`
	Summary   string    `json:"summary"`
	Themes    []string  `json:"themes"`
	UpdatedAt time.Time `json:"updated_at"`
}

// =============================================================================
// RETRIEVAL EVIDENCE
// =============================================================================

// EvidenceOrigin describes which corpus a retrieval hit came from.
type EvidenceOrigin string

const (
	OriginSameSession  EvidenceOrigin = "same_session"
	OriginCrossSession EvidenceOrigin = "cross_session"
	OriginReflection   EvidenceOrigin = "private_reflection"
)

// RetrievedEvidence is one retrieval hit. Transient: produced per turn,
// logged, never authoritative state.
type RetrievedEvidence struct {
	SourceID   string         `json:"source_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Excerpt    string         `json:"excerpt"`
	Similarity float64        `json:"similarity"`
	Origin     EvidenceOrigin `json:"origin"`

	// Recency is a human-meaningful descriptor ("earlier today") used for
	// natural phrasing instead of a raw timestamp.
	Recency   string    `json:"recency"`
	Timestamp time.Time `json:"timestamp"`
}

// StagePolicy is the static per-stage recall configuration.
type StagePolicy struct {
	SimilarityThreshold float64      `yaml:"similarity_threshold" json:"similarity_threshold"`
	MaxCrossSession     int          `yaml:"max_cross_session" json:"max_cross_session"`
	AllowCrossSession   bool         `yaml:"allow_cross_session" json:"allow_cross_session"`
	SurfaceStyle        SurfaceStyle `yaml:"surface_style" json:"surface_style"`
	DefaultDepth        Depth        `yaml:"default_depth" json:"default_depth"`

	// BufferTurns is the recent-turn window size for this stage.
	BufferTurns int `yaml:"buffer_turns" json:"buffer_turns"`
}
