package breaker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"gavel/internal/config"
	"gavel/internal/kv"
	"gavel/internal/logging"
	"gavel/internal/metrics"
	"gavel/internal/services"
)

// State is the circuit position.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const keyPrefix = "circuit/"

// Options configure trip and recovery behavior.
type Options struct {
	// FailureThreshold is the failure count within FailureWindow that trips
	// the circuit.
	FailureThreshold int
	// FailureWindow is the sliding window over which failures accumulate.
	FailureWindow time.Duration
	// Cooldown is how long the circuit stays open before allowing a probe.
	Cooldown time.Duration
}

// OptionsFromConfig converts the configured integer seconds into options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		FailureWindow:    time.Duration(cfg.Breaker.FailureWindow) * time.Second,
		Cooldown:         time.Duration(cfg.Breaker.Cooldown) * time.Second,
	}
}

// Snapshot is the externally visible breaker state.
type Snapshot struct {
	Name           string     `json:"name"`
	State          State      `json:"state"`
	RecentFailures int        `json:"recent_failures"`
	OpenedAt       *time.Time `json:"opened_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// persisted is the stored form; failures keep their timestamps so the
// sliding window survives restarts.
type persisted struct {
	State     State       `json:"state"`
	Failures  []time.Time `json:"failures,omitempty"`
	OpenedAt  *time.Time  `json:"opened_at,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Breaker is a named circuit breaker. All methods are safe for concurrent
// use; shared state is one kv key, mutated under the breaker's own lock.
type Breaker struct {
	name   string
	opts   Options
	store  *kv.Store
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	failures []time.Time
	openedAt time.Time
	probing  bool
}

// New builds a breaker and adopts any persisted state that is still fresh
// enough to matter. A nil store disables persistence.
func New(name string, opts Options, store *kv.Store, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = logging.NewNop()
	}
	b := &Breaker{
		name:   name,
		opts:   opts,
		store:  store,
		logger: logger.With(logging.String(logging.FieldComponent, "breaker"), logging.String("circuit", name)),
		state:  StateClosed,
	}
	b.restore()
	b.updateGauge()
	return b
}

// updateGauge mirrors the state into the circuit gauge. Callers hold b.mu or
// have exclusive access during construction.
func (b *Breaker) updateGauge() {
	level := 0
	switch b.state {
	case StateHalfOpen:
		level = 1
	case StateOpen:
		level = 2
	}
	metrics.SetCircuitState(b.name, level)
}

func (b *Breaker) restore() {
	if b.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	payload, found, err := b.store.Get(ctx, keyPrefix+b.name)
	if err != nil || !found {
		return
	}
	var stored persisted
	if err := json.Unmarshal(payload, &stored); err != nil {
		return
	}
	// State older than a full trip-and-recover cycle says nothing about the
	// dependency anymore.
	if time.Since(stored.UpdatedAt) > b.opts.FailureWindow+b.opts.Cooldown {
		return
	}
	b.state = stored.State
	b.failures = b.prune(stored.Failures, time.Now().UTC())
	if stored.OpenedAt != nil {
		b.openedAt = *stored.OpenedAt
	}
	if b.state == StateHalfOpen {
		// The probe owner did not survive the restart.
		b.state = StateOpen
	}
	b.logger.Info("restored circuit state", logging.String("state", string(b.state)))
}

func (b *Breaker) persist(ctx context.Context) {
	if b.store == nil {
		return
	}
	now := time.Now().UTC()
	stored := persisted{
		State:     b.state,
		Failures:  b.failures,
		UpdatedAt: now,
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		stored.OpenedAt = &openedAt
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return
	}
	if err := b.store.Set(ctx, keyPrefix+b.name, payload, 0); err != nil {
		b.logger.Warn("persist circuit state failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "circuit_persist_failed"),
		)
	}
}

// prune returns the failures still inside the sliding window. It always
// copies; Snapshot prunes the live slice while other writers hold references
// to it, and an in-place compaction would duplicate entries.
func (b *Breaker) prune(failures []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-b.opts.FailureWindow)
	kept := make([]time.Time, 0, len(failures))
	for _, failedAt := range failures {
		if failedAt.After(cutoff) {
			kept = append(kept, failedAt)
		}
	}
	return kept
}

// Allow reports whether a call may proceed. While open it returns an
// ErrCircuitOpen-tagged error until the cool-down elapses; then exactly one
// caller is admitted as the half-open probe.
func (b *Breaker) Allow(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(b.openedAt) < b.opts.Cooldown {
			return b.openErr()
		}
		b.state = StateHalfOpen
		b.probing = true
		b.logger.Info("circuit half-open, probing",
			logging.String(logging.FieldEventType, "circuit_half_open"),
		)
		b.updateGauge()
		b.persist(ctx)
		return nil
	case StateHalfOpen:
		if b.probing {
			return b.openErr()
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) openErr() error {
	return services.Wrap(services.ErrCircuitOpen, "", "circuit_allow", b.name+" circuit is open", nil)
}

// RecordSuccess notes a successful dependency call. A half-open probe
// success closes the circuit; while closed, it clears the failure window.
func (b *Breaker) RecordSuccess(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failures = nil
		b.openedAt = time.Time{}
		b.probing = false
		b.logger.Info("circuit closed after successful probe",
			logging.String(logging.FieldEventType, "circuit_closed"),
		)
		b.updateGauge()
		b.persist(ctx)
	case StateClosed:
		if len(b.failures) > 0 {
			b.failures = nil
			b.persist(ctx)
		}
	}
}

// RecordFailure notes a failed dependency call. Enough failures inside the
// window trip the circuit; a half-open probe failure reopens it and the
// cool-down restarts.
func (b *Breaker) RecordFailure(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now().UTC()
	switch b.state {
	case StateHalfOpen:
		b.reopen(ctx, now, "probe failed")
	case StateClosed:
		b.failures = append(b.prune(b.failures, now), now)
		if len(b.failures) >= b.opts.FailureThreshold {
			b.reopen(ctx, now, "failure threshold reached")
		} else {
			b.persist(ctx)
		}
	case StateOpen:
		// Stray report from a call that started before the trip.
	}
}

func (b *Breaker) reopen(ctx context.Context, now time.Time, why string) {
	b.state = StateOpen
	b.openedAt = now
	b.probing = false
	b.logger.Warn("circuit opened",
		logging.String(logging.FieldEventType, "circuit_opened"),
		logging.String("cause", why),
		logging.Int("recent_failures", len(b.failures)),
		logging.Duration("cooldown", b.opts.Cooldown),
	)
	b.updateGauge()
	b.persist(ctx)
}

// Do wraps a dependency call with the breaker. Cancellation of the caller's
// context is not held against the dependency.
func (b *Breaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(ctx); err != nil {
		return err
	}
	err := fn(ctx)
	if err == nil {
		b.RecordSuccess(ctx)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		b.Release()
		return err
	}
	b.RecordFailure(ctx)
	return err
}

// Release frees the half-open probe slot without judging the dependency.
// Callers using Allow directly must call it for calls abandoned before a
// verdict, or the probe slot stays taken.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen {
		b.probing = false
	}
}

// State returns the stored circuit position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string {
	return b.name
}

// Snapshot reports the current state for diagnostics.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := Snapshot{
		Name:           b.name,
		State:          b.state,
		RecentFailures: len(b.prune(b.failures, time.Now().UTC())),
		UpdatedAt:      time.Now().UTC(),
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}
