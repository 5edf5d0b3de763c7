// Package breaker guards fallible external dependencies with per-dependency
// circuit breakers. The registry is an explicitly owned object injected into
// the orchestrator, never ambient global state, so tests get isolated
// breaker state for free.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"attune/internal/config"
)

// ErrOpen is returned when a call is skipped because the breaker is open.
// Callers resolve it to their safe fallback value.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker lifecycle state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the state name for logs and snapshots.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Snapshot is a point-in-time view of one breaker, for observability.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	Attempts            uint64
	Failures            uint64
	Skipped             uint64
	CooldownUntil       time.Time
}

// entry is the mutable state for one guarded dependency.
type entry struct {
	state         State
	failures      int
	cooldownEnd   time.Time
	probeInFlight bool

	attempts uint64
	failed   uint64
	skipped  uint64
}

// Registry owns the breaker state for all guarded dependencies, keyed by
// dependency name. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     config.BreakerConfig
	logger  *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewRegistry builds a registry from breaker config.
func NewRegistry(cfg config.BreakerConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Test hook.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Do runs call under the named breaker with the configured call timeout.
// While the breaker is open, Do returns ErrOpen immediately without a
// network attempt and records a skipped call.
func Do[T any](r *Registry, ctx context.Context, name string, call func(context.Context) (T, error)) (T, error) {
	var zero T

	if !r.admit(name) {
		return zero, ErrOpen
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.CallTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, r.cfg.CallTimeout)
		defer cancel()
	}

	result, err := call(callCtx)
	r.record(name, err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// admit decides whether a call may proceed, transitioning open breakers to
// half-open once their cooldown has elapsed.
func (r *Registry) admit(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(name)

	switch e.state {
	case StateClosed:
		e.attempts++
		return true
	case StateOpen:
		if r.now().Before(e.cooldownEnd) {
			e.skipped++
			return false
		}
		e.state = StateHalfOpen
		e.probeInFlight = true
		e.attempts++
		r.logger.Info("breaker half-open, probing", zap.String("dependency", name))
		return true
	case StateHalfOpen:
		// One probe at a time; everyone else gets the fallback.
		if e.probeInFlight {
			e.skipped++
			return false
		}
		e.probeInFlight = true
		e.attempts++
		return true
	}
	return false
}

// record updates breaker state after a call completes.
func (r *Registry) record(name string, callErr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(name)

	if callErr == nil {
		if e.state != StateClosed {
			r.logger.Info("breaker closed", zap.String("dependency", name))
		}
		e.state = StateClosed
		e.failures = 0
		e.probeInFlight = false
		return
	}

	e.failed++
	e.probeInFlight = false

	switch e.state {
	case StateHalfOpen:
		// Failed probe reopens for a full cooldown.
		e.state = StateOpen
		e.cooldownEnd = r.now().Add(r.cfg.Cooldown)
		r.logger.Warn("breaker reopened after failed probe",
			zap.String("dependency", name), zap.Error(callErr))
	default:
		e.failures++
		if e.failures >= r.cfg.FailureThreshold {
			e.state = StateOpen
			e.cooldownEnd = r.now().Add(r.cfg.Cooldown)
			r.logger.Warn("breaker opened",
				zap.String("dependency", name),
				zap.Int("consecutive_failures", e.failures),
				zap.Duration("cooldown", r.cfg.Cooldown),
				zap.Error(callErr))
		}
	}
}

// Snapshot returns the current view of one breaker.
func (r *Registry) Snapshot(name string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	e := r.entry(name)
	return Snapshot{
		Name:                name,
		State:               e.state,
		ConsecutiveFailures: e.failures,
		Attempts:            e.attempts,
		Failures:            e.failed,
		Skipped:             e.skipped,
		CooldownUntil:       e.cooldownEnd,
	}
}

// entry returns the breaker for name, creating it closed. Caller holds mu.
func (r *Registry) entry(name string) *entry {
	e, ok := r.entries[name]
	if !ok {
		e = &entry{state: StateClosed}
		r.entries[name] = e
	}
	return e
}
