// Package config holds the static configuration for the context core:
// the per-stage policy table, retrieval and budget tuning, and circuit
// breaker settings. Configuration is loaded once at startup from an
// optional YAML file with environment-variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Debug bool `yaml:"debug" env:"ATTUNE_DEBUG"`

	Stages    StageTable      `yaml:"stages"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Budget    BudgetConfig    `yaml:"budget"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Assembler AssemblerConfig `yaml:"assembler"`
}

// RetrievalConfig tunes the semantic retrieval gateway.
type RetrievalConfig struct {
	// SameSessionCap limits same-session evidence items per turn.
	SameSessionCap int `yaml:"same_session_cap" env:"ATTUNE_SAME_SESSION_CAP"`

	// MaxQueries caps how many search queries reference detection may propose.
	MaxQueries int `yaml:"max_queries" env:"ATTUNE_MAX_QUERIES"`

	// ReflectionThreshold is the similarity floor for private reflections.
	ReflectionThreshold float64 `yaml:"reflection_threshold" env:"ATTUNE_REFLECTION_THRESHOLD"`

	// ReflectionLinkBoost is added to the similarity of reflections linked
	// to the current conversation.
	ReflectionLinkBoost float64 `yaml:"reflection_link_boost" env:"ATTUNE_REFLECTION_LINK_BOOST"`

	// DetectionTimeout bounds the fast reference-detection call.
	DetectionTimeout time.Duration `yaml:"detection_timeout" env:"ATTUNE_DETECTION_TIMEOUT"`

	// SearchTimeout bounds each corpus search.
	SearchTimeout time.Duration `yaml:"search_timeout" env:"ATTUNE_SEARCH_TIMEOUT"`
}

// BudgetConfig tunes the token budget manager.
type BudgetConfig struct {
	// Ceiling is the hard token ceiling for the assembled payload.
	Ceiling int `yaml:"ceiling" env:"ATTUNE_TOKEN_CEILING"`

	// OutputReservation is reserved for the model's reply, never evicted.
	OutputReservation int `yaml:"output_reservation" env:"ATTUNE_OUTPUT_RESERVATION"`

	// ProtectedTurns is the recent-turn window that may never be evicted.
	// Counted in turns; each turn is two messages.
	ProtectedTurns int `yaml:"protected_turns" env:"ATTUNE_PROTECTED_TURNS"`

	// HistoryShare is the fraction of the remaining budget given to older
	// history; evidence receives the rest.
	HistoryShare float64 `yaml:"history_share" env:"ATTUNE_HISTORY_SHARE"`
}

// BreakerConfig tunes the per-dependency circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold int `yaml:"failure_threshold" env:"ATTUNE_BREAKER_FAILURES"`

	// Cooldown is how long an open breaker skips calls before probing.
	Cooldown time.Duration `yaml:"cooldown" env:"ATTUNE_BREAKER_COOLDOWN"`

	// CallTimeout bounds each guarded call attempt.
	CallTimeout time.Duration `yaml:"call_timeout" env:"ATTUNE_BREAKER_CALL_TIMEOUT"`
}

// AssemblerConfig tunes the context assembler.
type AssemblerConfig struct {
	// SummaryLimit caps how many prior-session summaries are loaded.
	SummaryLimit int `yaml:"summary_limit" env:"ATTUNE_SUMMARY_LIMIT"`

	// DampenedTurns keeps the first N turns of the witnessing stage at
	// minimal depth even when the stage default is lighter.
	DampenedTurns int `yaml:"dampened_turns" env:"ATTUNE_DAMPENED_TURNS"`

	// FetchTimeout bounds each independent sub-fetch.
	FetchTimeout time.Duration `yaml:"fetch_timeout" env:"ATTUNE_FETCH_TIMEOUT"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Stages: DefaultStageTable(),
		Retrieval: RetrievalConfig{
			SameSessionCap:      3,
			MaxQueries:          4,
			ReflectionThreshold: 0.62,
			ReflectionLinkBoost: 0.08,
			DetectionTimeout:    2 * time.Second,
			SearchTimeout:       3 * time.Second,
		},
		Budget: BudgetConfig{
			Ceiling:           8192,
			OutputReservation: 1024,
			ProtectedTurns:    8,
			HistoryShare:      0.6,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			Cooldown:         30 * time.Second,
			CallTimeout:      2 * time.Second,
		},
		Assembler: AssemblerConfig{
			SummaryLimit:  3,
			DampenedTurns: 3,
			FetchTimeout:  3 * time.Second,
		},
	}
}

// Load reads the YAML file at path (if non-empty), then applies environment
// overrides, then validates. A missing file is not an error: defaults apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("env overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot honor.
func (c Config) Validate() error {
	if c.Budget.Ceiling <= 0 {
		return fmt.Errorf("budget ceiling must be positive, got %d", c.Budget.Ceiling)
	}
	if c.Budget.OutputReservation < 0 || c.Budget.OutputReservation >= c.Budget.Ceiling {
		return fmt.Errorf("output reservation %d must be in [0, ceiling)", c.Budget.OutputReservation)
	}
	if c.Budget.HistoryShare <= 0 || c.Budget.HistoryShare >= 1 {
		return fmt.Errorf("history share must be in (0, 1), got %.2f", c.Budget.HistoryShare)
	}
	if c.Budget.ProtectedTurns <= 0 {
		return fmt.Errorf("protected turns must be positive, got %d", c.Budget.ProtectedTurns)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker failure threshold must be positive, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive, got %s", c.Breaker.Cooldown)
	}
	return c.Stages.Validate()
}
