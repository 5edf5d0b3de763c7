// Package attune is an AI-guided conversation memory and context core. It
// decides, per turn, how much history is safe and useful to recall,
// retrieves and merges supporting evidence, and fits everything into a
// bounded token budget ahead of a single generation call.
package attune

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"attune/internal/assembler"
	"attune/internal/breaker"
	"attune/internal/budget"
	"attune/internal/config"
	"attune/internal/embedding"
	"attune/internal/intent"
	"attune/internal/llm"
	"attune/internal/logging"
	"attune/internal/orchestrator"
	"attune/internal/retrieval"
	"attune/internal/store"
	"attune/internal/types"
)

// Re-exported API types. The pipeline packages stay internal; these aliases
// are the supported surface.
type (
	Config      = config.Config
	TurnRequest = orchestrator.TurnRequest
	TurnResult  = orchestrator.TurnResult
	Bundle      = assembler.Bundle
	Plan        = budget.Plan
	Message     = types.Message
	Stage       = types.Stage
)

// Options configures a Core. Zero-value fields fall back to defaults.
type Options struct {
	// Config is the pipeline configuration. Nil uses config.Default().
	Config *Config

	// DBPath locates the SQLite database. ":memory:" is accepted.
	DBPath string

	// Embedding selects the embedding engine. Zero value uses the default
	// local Ollama engine.
	Embedding embedding.Config

	// LLM selects models and credentials for classification and generation.
	LLM llm.Config

	// Orchestrator tunes the turn pipeline and background queue.
	Orchestrator orchestrator.Config

	// Generator and FastClassifier override the default Gemini client,
	// for alternate backends.
	Generator      types.Generator
	FastClassifier types.FastClassifier

	Logger *zap.Logger
}

// Core is the wired pipeline. One Core serves many concurrent sessions.
type Core struct {
	store        *store.LocalStore
	classifier   *intent.Classifier
	assembler    *assembler.Assembler
	budget       *budget.Manager
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

// New wires a Core from options. Call Close when done.
func New(opts Options) (*Core, error) {
	cfg := config.Default()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Debug)
		if err != nil {
			return nil, fmt.Errorf("build logger: %w", err)
		}
	}

	embCfg := opts.Embedding
	if embCfg.Provider == "" {
		embCfg = embedding.DefaultConfig()
	}
	engine, err := embedding.NewEngine(embCfg)
	if err != nil {
		return nil, fmt.Errorf("build embedding engine: %w", err)
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = "attune.db"
	}
	local, err := store.NewLocalStore(dbPath, engine, logging.Component(logger, "store"))
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	llmCfg := opts.LLM.WithDefaults()
	client := llm.NewClient(llmCfg, logging.Component(logger, "llm"))

	generator := opts.Generator
	if generator == nil {
		generator = client
	}
	fast := opts.FastClassifier
	if fast == nil {
		fast = client
	}

	breakers := breaker.NewRegistry(cfg.Breaker, logging.Component(logger, "breaker"))
	gateway := retrieval.NewGateway(cfg.Retrieval, fast, local, local, breakers, logging.Component(logger, "retrieval"))
	asm := assembler.New(cfg.Assembler, cfg.Stages, local, local, local, local, gateway, logging.Component(logger, "assembler"))
	budgetMgr := budget.NewManager(cfg.Budget, logging.Component(logger, "budget"))
	classifier := intent.New(cfg.Stages, cfg.Assembler.DampenedTurns)

	ocfg := opts.Orchestrator
	if ocfg.SystemPrompt == "" {
		ocfg = orchestrator.DefaultConfig()
	}
	orch := orchestrator.New(ocfg, classifier, asm, budgetMgr, generator, fast, local, logging.Component(logger, "orchestrator"))

	return &Core{
		store:        local,
		classifier:   classifier,
		assembler:    asm,
		budget:       budgetMgr,
		orchestrator: orch,
		logger:       logger,
	}, nil
}

// ProcessTurn runs the full pipeline for one inbound message and returns the
// reply together with everything the turn produced.
func (c *Core) ProcessTurn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	return c.orchestrator.ProcessTurn(ctx, req)
}

// AssembleContext builds the context bundle for one turn without generating
// a reply. The bundle's Format method yields the prompt-injection string.
func (c *Core) AssembleContext(ctx context.Context, userID, sessionID, message string, stage Stage, intensity float64) Bundle {
	res := c.classifier.Classify(intent.Input{
		Stage:       stage,
		Intensity:   intensity,
		MessageText: message,
	})
	return c.assembler.Assemble(ctx, assembler.Request{
		UserID:      userID,
		SessionID:   sessionID,
		MessageText: message,
		Stage:       stage,
		Intent:      res,
	})
}

// PlanBudget fits a system prompt, history, and formatted evidence into the
// configured token ceiling.
func (c *Core) PlanBudget(systemPrompt string, history []Message, evidence string) Plan {
	return c.budget.Plan(systemPrompt, history, evidence)
}

// Store exposes the underlying local store for ingestion and inspection.
func (c *Core) Store() *store.LocalStore {
	return c.store
}

// Close drains background work and closes the store.
func (c *Core) Close() error {
	c.orchestrator.Close()
	return c.store.Close()
}
