package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"complyline/internal/domain"
)

func TestPollerRunsAndStops(t *testing.T) {
	var passes atomic.Int32
	p := NewPoller(10*time.Millisecond, func(ctx context.Context) ([]domain.Alert, error) {
		passes.Add(1)
		return nil, nil
	})
	p.Start(context.Background())
	deadline := time.After(2 * time.Second)
	for passes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("only %d passes before deadline", passes.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	p.Stop()
	after := passes.Load()
	time.Sleep(30 * time.Millisecond)
	if passes.Load() != after {
		t.Fatal("poller kept running after Stop")
	}
}

func TestPollerKeepsRunningAfterError(t *testing.T) {
	var passes atomic.Int32
	p := NewPoller(5*time.Millisecond, func(ctx context.Context) ([]domain.Alert, error) {
		if passes.Add(1) == 1 {
			return nil, errors.New("store unavailable")
		}
		return nil, nil
	})
	p.Start(context.Background())
	defer p.Stop()
	deadline := time.After(2 * time.Second)
	for passes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("poller did not recover, %d passes", passes.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPollerStartTwice(t *testing.T) {
	var passes atomic.Int32
	p := NewPoller(time.Hour, func(ctx context.Context) ([]domain.Alert, error) {
		passes.Add(1)
		return nil, nil
	})
	p.Start(context.Background())
	p.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	p.Stop()
	if got := passes.Load(); got != 1 {
		t.Fatalf("passes = %d, want 1", got)
	}
	// Stop on a stopped poller is a no-op.
	p.Stop()
}

func TestPollerDefaultInterval(t *testing.T) {
	p := NewPoller(0, nil)
	if p.Interval != defaultPollInterval {
		t.Fatalf("interval = %v", p.Interval)
	}
}
