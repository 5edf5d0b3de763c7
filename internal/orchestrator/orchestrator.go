// Package orchestrator coordinates one conversational turn end to end:
// classify, assemble, decide surfacing, budget, generate. Post-turn
// ingestion runs on a bounded background queue so it never adds latency to
// the reply.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"attune/internal/assembler"
	"attune/internal/budget"
	"attune/internal/intent"
	"attune/internal/surfacing"
	"attune/internal/types"
)

// Assembler is the bundle-building dependency, narrowed for testability.
type Assembler interface {
	Assemble(ctx context.Context, req assembler.Request) assembler.Bundle
}

// MemoryWriter is the write side of the store, used only by background
// ingestion. *store.LocalStore satisfies it.
type MemoryWriter interface {
	AppendTurn(ctx context.Context, turn types.ConversationTurn) error
	AppendReading(ctx context.Context, sessionID string, reading types.EmotionalReading) error
	UpsertVector(ctx context.Context, corpus types.SearchCorpus, sourceID, userID, sessionID, content string, ts time.Time) error
	StoreSessionFact(ctx context.Context, fact types.SessionFact) error
	UpsertSummary(ctx context.Context, userID string, summary types.SessionSummary) error
}

// Config tunes the orchestrator itself. Pipeline components carry their own
// config.
type Config struct {
	// SystemPrompt is the base persona prompt. The per-turn context string
	// is appended to it before generation.
	SystemPrompt string `yaml:"system_prompt"`

	// QueueSize bounds the background task queue. A full queue drops new
	// tasks rather than blocking the turn path.
	QueueSize int `yaml:"queue_size" env:"ATTUNE_QUEUE_SIZE"`

	// Workers is the fixed number of background workers.
	Workers int `yaml:"workers" env:"ATTUNE_WORKERS"`

	// TaskTimeout bounds each background task.
	TaskTimeout time.Duration `yaml:"task_timeout" env:"ATTUNE_TASK_TIMEOUT"`

	// SummarizeEvery triggers rolling summarization after this many user
	// turns in a session.
	SummarizeEvery int `yaml:"summarize_every" env:"ATTUNE_SUMMARIZE_EVERY"`
}

// DefaultConfig returns the orchestrator defaults.
func DefaultConfig() Config {
	return Config{
		SystemPrompt:   "You are a warm, attentive conversational companion.",
		QueueSize:      64,
		Workers:        2,
		TaskTimeout:    30 * time.Second,
		SummarizeEvery: 8,
	}
}

// TurnRequest is one inbound user message plus its session context.
type TurnRequest struct {
	UserID    string
	SessionID string
	Message   string

	// Intensity is the emotional-intensity reading for this message, 0-10.
	Intensity float64

	Stage       types.Stage
	UserOptedIn bool

	// History is the raw prior message list for this session, oldest first.
	// The current message is appended internally.
	History []types.Message
}

// TurnResult is everything one turn produced, for the caller and for logs.
type TurnResult struct {
	Reply     string
	Intent    intent.Result
	Bundle    assembler.Bundle
	Surfacing surfacing.Decision
	Plan      budget.Plan
}

type sessionState struct {
	turnCount        int
	startedAt        time.Time
	lastSurfacedTurn int
}

// Orchestrator runs the per-turn pipeline. Safe for concurrent use across
// sessions; turns within one session are expected to arrive sequentially.
type Orchestrator struct {
	cfg        Config
	classifier *intent.Classifier
	assembler  Assembler
	budget     *budget.Manager
	generator  types.Generator
	fast       types.FastClassifier
	writer     MemoryWriter
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState

	queue *taskQueue

	now func() time.Time
}

// New builds an orchestrator and starts its background workers. Call Close
// to stop them. writer and fast may be nil; ingestion is then skipped.
func New(cfg Config, classifier *intent.Classifier, asm Assembler, budgetMgr *budget.Manager, generator types.Generator, fast types.FastClassifier, writer MemoryWriter, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	o := &Orchestrator{
		cfg:        cfg,
		classifier: classifier,
		assembler:  asm,
		budget:     budgetMgr,
		generator:  generator,
		fast:       fast,
		writer:     writer,
		logger:     logger,
		sessions:   make(map[string]*sessionState),
		now:        time.Now,
	}
	o.queue = newTaskQueue(cfg.QueueSize, cfg.Workers, cfg.TaskTimeout, logger)
	return o
}

// Close stops the background workers after draining queued tasks.
func (o *Orchestrator) Close() {
	o.queue.close()
}

// ProcessTurn runs the full pipeline for one message. Every stage before
// generation degrades rather than fails; only the generation call itself can
// return an error.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if o.generator == nil {
		return TurnResult{}, fmt.Errorf("no generator configured")
	}

	st, isFirstTurn := o.advanceSession(req.SessionID)

	// A brand-new session has zero elapsed duration by definition; the
	// clock has already moved past startedAt by the time we read it.
	duration := o.now().Sub(st.startedAt).Minutes()
	if isFirstTurn {
		duration = 0
	}

	intentRes := o.classifier.Classify(intent.Input{
		Stage:           req.Stage,
		Intensity:       req.Intensity,
		MessageText:     req.Message,
		TurnCount:       st.turnCount,
		SessionDuration: duration,
		IsFirstTurn:     isFirstTurn,
		OptedIn:         req.UserOptedIn,
	})

	bundle := o.assembler.Assemble(ctx, assembler.Request{
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		MessageText: req.Message,
		Stage:       req.Stage,
		Intent:      intentRes,
	})

	same, cross := countEvidence(bundle)
	decision := surfacing.Decide(surfacing.Input{
		Stage:             req.Stage,
		TurnCount:         st.turnCount,
		UserAsked:         intentRes.ExplicitReference,
		UserOptedIn:       req.UserOptedIn,
		SameSessionCount:  same,
		CrossSessionCount: cross,
		LastSurfacedTurn:  st.lastSurfacedTurn,
	})
	bundle = attachSurfacing(bundle, decision)

	history := make([]types.Message, 0, len(req.History)+1)
	history = append(history, req.History...)
	history = append(history, types.Message{Role: "user", Content: req.Message})

	plan := o.budget.Plan(o.cfg.SystemPrompt, history, bundle.Format())

	systemPrompt := plan.SystemPrompt
	if plan.Context != "" {
		systemPrompt = systemPrompt + "\n\n" + plan.Context
	}

	reply, err := o.generator.Generate(ctx, systemPrompt, plan.Messages)
	if err != nil {
		return TurnResult{}, fmt.Errorf("generation failed: %w", err)
	}

	if decision.ShouldSurface {
		o.markSurfaced(req.SessionID, st.turnCount)
	}

	o.enqueueIngestion(req, reply, st.turnCount)

	return TurnResult{
		Reply:     reply,
		Intent:    intentRes,
		Bundle:    bundle,
		Surfacing: decision,
		Plan:      plan,
	}, nil
}

// advanceSession increments the session's turn counter and returns a copy of
// its state for this turn.
func (o *Orchestrator) advanceSession(sessionID string) (sessionState, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		st = &sessionState{startedAt: o.now(), lastSurfacedTurn: -1}
		o.sessions[sessionID] = st
	}
	st.turnCount++
	return *st, !ok
}

func (o *Orchestrator) markSurfaced(sessionID string, turn int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if st, ok := o.sessions[sessionID]; ok {
		st.lastSurfacedTurn = turn
	}
}

func countEvidence(b assembler.Bundle) (same, cross int) {
	var evidence []types.RetrievedEvidence
	switch bundle := b.(type) {
	case assembler.LightBundle:
		evidence = bundle.Evidence
	case assembler.FullBundle:
		evidence = bundle.Evidence
	}
	for _, ev := range evidence {
		switch ev.Origin {
		case types.OriginCrossSession:
			cross++
		default:
			same++
		}
	}
	return same, cross
}

func attachSurfacing(b assembler.Bundle, d surfacing.Decision) assembler.Bundle {
	switch bundle := b.(type) {
	case assembler.LightBundle:
		bundle.Surfacing = d
		return bundle
	case assembler.FullBundle:
		bundle.Surfacing = d
		return bundle
	}
	return b
}
