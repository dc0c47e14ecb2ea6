package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func succeeding(context.Context) error { return nil }

func TestBreakerTripsAfterThreshold(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 3, Timeout: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	if err := b.Call(ctx, succeeding); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("open breaker let a call through: %v", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	clock := time.Now()
	b.now = func() time.Time { return clock }

	_ = b.Call(ctx, failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock = clock.Add(2 * time.Minute)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after timeout", b.State())
	}
	if err := b.Call(ctx, succeeding); err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	ctx := context.Background()

	clock := time.Now()
	b.now = func() time.Time { return clock }

	_ = b.Call(ctx, failing)
	clock = clock.Add(2 * time.Minute)
	_ = b.Call(ctx, failing)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open after failed probe", b.State())
	}
}

func TestBreakerSuccessResetsFailures(t *testing.T) {
	b := NewBreaker(BreakerOpts{FailThreshold: 2, Timeout: time.Minute})
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, succeeding)
	_ = b.Call(ctx, failing)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed (failures not consecutive)", b.State())
	}
}
