package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"gavel/internal/breaker"
	"gavel/internal/services"
	"gavel/internal/testsupport"
)

func testOptions() breaker.Options {
	return breaker.Options{
		FailureThreshold: 3,
		FailureWindow:    500 * time.Millisecond,
		Cooldown:         60 * time.Millisecond,
	}
}

func TestTripsAfterThresholdFailures(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	b := breaker.New("vod_api", testOptions(), store, nil)
	ctx := context.Background()

	depErr := errors.New("boom")
	calls := 0
	fn := func(context.Context) error {
		calls++
		return depErr
	}

	for i := 0; i < 3; i++ {
		if err := b.Do(ctx, fn); !errors.Is(err, depErr) {
			t.Fatalf("call %d: expected dependency error, got %v", i, err)
		}
	}
	if b.State() != breaker.StateOpen {
		t.Fatalf("expected open after threshold, got %s", b.State())
	}

	err := b.Do(ctx, fn)
	if !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("open circuit must not invoke dependency; calls=%d", calls)
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	b := breaker.New("vod_api", testOptions(), store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	if b.State() != breaker.StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(80 * time.Millisecond)

	if err := b.Allow(ctx); err != nil {
		t.Fatalf("expected probe admission after cooldown, got %v", err)
	}
	if b.State() != breaker.StateHalfOpen {
		t.Fatalf("expected half_open, got %s", b.State())
	}
	if err := b.Allow(ctx); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("second caller must be refused during probe, got %v", err)
	}
}

func TestProbeSuccessClosesCircuit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	b := breaker.New("vod_api", testOptions(), store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	time.Sleep(80 * time.Millisecond)

	if err := b.Do(ctx, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != breaker.StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}

	snap := b.Snapshot()
	if snap.RecentFailures != 0 {
		t.Fatalf("expected failure window cleared, got %d", snap.RecentFailures)
	}
}

func TestProbeFailureRestartsCooldown(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	b := breaker.New("vod_api", testOptions(), store, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.RecordFailure(ctx)
	}
	time.Sleep(80 * time.Millisecond)

	err := b.Do(ctx, func(context.Context) error { return errors.New("still down") })
	if err == nil || errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected probe to reach dependency, got %v", err)
	}
	if b.State() != breaker.StateOpen {
		t.Fatalf("expected reopen after failed probe, got %s", b.State())
	}
	if err := b.Allow(ctx); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("expected refusal during restarted cooldown, got %v", err)
	}
}

func TestFailuresOutsideWindowDoNotCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	opts := breaker.Options{
		FailureThreshold: 2,
		FailureWindow:    60 * time.Millisecond,
		Cooldown:         time.Minute,
	}
	b := breaker.New("vod_api", opts, store, nil)
	ctx := context.Background()

	b.RecordFailure(ctx)
	time.Sleep(100 * time.Millisecond)
	b.RecordFailure(ctx)

	if b.State() != breaker.StateClosed {
		t.Fatalf("expected closed with stale failure aged out, got %s", b.State())
	}
}

func TestSuccessWhileClosedResetsCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	b := breaker.New("vod_api", testOptions(), store, nil)
	ctx := context.Background()

	b.RecordFailure(ctx)
	b.RecordFailure(ctx)
	b.RecordSuccess(ctx)
	b.RecordFailure(ctx)
	b.RecordFailure(ctx)

	if b.State() != breaker.StateClosed {
		t.Fatalf("expected closed after reset, got %s", b.State())
	}
}

func TestStateSurvivesRestart(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	ctx := context.Background()

	first := breaker.New("vod_api", testOptions(), store, nil)
	for i := 0; i < 3; i++ {
		first.RecordFailure(ctx)
	}
	if first.State() != breaker.StateOpen {
		t.Fatalf("expected open, got %s", first.State())
	}

	second := breaker.New("vod_api", testOptions(), store, nil)
	if second.State() != breaker.StateOpen {
		t.Fatalf("expected restored open state, got %s", second.State())
	}
	if err := second.Allow(ctx); !errors.Is(err, services.ErrCircuitOpen) {
		t.Fatalf("restored breaker must refuse calls, got %v", err)
	}
}

func TestCancelledCallDoesNotCount(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	b := breaker.New("vod_api", testOptions(), store, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := b.Do(ctx, func(context.Context) error { return context.Canceled })
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	if b.State() != breaker.StateClosed {
		t.Fatalf("cancellations tripped the circuit: %s", b.State())
	}
}

func TestSnapshotDoesNotDisturbFailureWindow(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenKV(t, cfg)
	opts := breaker.Options{
		FailureThreshold: 3,
		FailureWindow:    time.Second,
		Cooldown:         60 * time.Millisecond,
	}
	b := breaker.New("vod_api", opts, store, nil)
	ctx := context.Background()

	b.RecordFailure(ctx)
	time.Sleep(400 * time.Millisecond)
	b.RecordFailure(ctx)

	// Let the first failure age out of the window while the second stays in.
	time.Sleep(700 * time.Millisecond)

	snap := b.Snapshot()
	if snap.RecentFailures != 1 {
		t.Fatalf("expected one failure inside the window, got %d", snap.RecentFailures)
	}

	// A snapshot must not alter the recorded failures; a third report on top
	// of one fresh failure stays below the threshold.
	b.RecordFailure(ctx)
	if b.State() != breaker.StateClosed {
		t.Fatalf("two failures in the window must not trip the circuit, got %s", b.State())
	}
}
