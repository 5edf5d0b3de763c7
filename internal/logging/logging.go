// Package logging builds the zap loggers used across the context core.
// Components receive a named child logger; tests pass zap.NewNop().
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns the root production logger. With debug enabled the level
// drops to Debug and output switches to the development encoder.
func New(debug bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if debug {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	config.DisableStacktrace = true
	return config.Build()
}

// Component returns a child logger named for one core component, e.g.
// "intent", "retrieval", "assembler", "budget", "orchestrator".
func Component(root *zap.Logger, name string) *zap.Logger {
	if root == nil {
		return zap.NewNop()
	}
	return root.Named(name)
}
