package degraded

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/traffic"
)

func TestFibDelays(t *testing.T) {
	delays := fibDelays(time.Minute, 13*time.Minute)
	want := []time.Duration{1, 2, 3, 5, 8, 13}
	if len(delays) != len(want) {
		t.Fatalf("len(delays) = %d, want %d", len(delays), len(want))
	}
	for i, w := range want {
		if delays[i] != w*time.Minute {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], w*time.Minute)
		}
	}
}

func TestFibDelays_StopsAtMax(t *testing.T) {
	delays := fibDelays(time.Minute, 7*time.Minute)
	if last := delays[len(delays)-1]; last != 5*time.Minute {
		t.Errorf("last delay = %v, want 5m", last)
	}
	if got := fibDelays(0, time.Minute); got != nil {
		t.Errorf("fibDelays(0, 1m) = %v, want nil", got)
	}
	if got := fibDelays(time.Minute, time.Second); got != nil {
		t.Errorf("fibDelays(1m, 1s) = %v, want nil", got)
	}
}

func TestRun_Recovers(t *testing.T) {
	var attempts atomic.Int32
	var recovered, exhausted atomic.Bool
	r := NewRecoverer(func(ctx context.Context) error {
		if attempts.Add(1) >= 2 {
			return nil
		}
		return errors.New("log still unreadable")
	}, Config{
		Initial:     5 * time.Millisecond,
		Max:         50 * time.Millisecond,
		OnRecovered: func() { recovered.Store(true) },
		OnExhausted: func() { exhausted.Store(true) },
	}, zap.NewNop())

	if !r.Run(context.Background()) {
		t.Fatal("Run() = false, want true")
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if !recovered.Load() || exhausted.Load() {
		t.Errorf("recovered = %v exhausted = %v, want true false", recovered.Load(), exhausted.Load())
	}
}

func TestRun_Exhausted(t *testing.T) {
	var exhausted atomic.Bool
	r := NewRecoverer(func(ctx context.Context) error {
		return errors.New("weather api down")
	}, Config{
		Initial:     5 * time.Millisecond,
		Max:         20 * time.Millisecond,
		OnExhausted: func() { exhausted.Store(true) },
	}, nil)

	if r.Run(context.Background()) {
		t.Fatal("Run() = true, want false")
	}
	if !exhausted.Load() {
		t.Error("OnExhausted was not called")
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	var exhausted atomic.Bool
	r := NewRecoverer(func(ctx context.Context) error { return nil }, Config{
		Initial:     time.Hour,
		Max:         time.Hour,
		OnExhausted: func() { exhausted.Store(true) },
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if r.Run(ctx) {
		t.Error("Run() = true on a cancelled context")
	}
	if exhausted.Load() {
		t.Error("OnExhausted called after cancellation")
	}
}

func TestRun_DefaultResetsTraffic(t *testing.T) {
	traffic.Reset()
	t.Cleanup(traffic.Reset)
	traffic.RecordError()

	r := NewRecoverer(func(ctx context.Context) error { return nil }, Config{
		Initial: time.Millisecond,
		Max:     time.Millisecond,
	}, nil)
	r.Run(context.Background())

	if errs, _ := traffic.ErrorRate(time.Minute); errs != 0 {
		t.Errorf("errors after recovery = %d, want 0", errs)
	}
}

func TestNotify_SingleCycle(t *testing.T) {
	var probes atomic.Int32
	release := make(chan struct{})
	r := NewRecoverer(func(ctx context.Context) error {
		probes.Add(1)
		<-release
		return nil
	}, Config{Initial: time.Millisecond, Max: time.Millisecond, OnRecovered: func() {}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)

	r.Notify()
	deadline := time.Now().Add(time.Second)
	for probes.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	r.Notify()
	r.Notify()
	time.Sleep(20 * time.Millisecond)
	close(release)

	for r.Cycles() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := probes.Load(); got != 1 {
		t.Errorf("probes = %d, want 1 while a cycle is running", got)
	}
}

func TestNotify_EmptyScheduleIsNoop(t *testing.T) {
	r := NewRecoverer(func(ctx context.Context) error { return nil }, Config{}, nil)
	r.Notify()
	r.Notify()
	if r.Running() {
		t.Error("Running() = true with an empty schedule")
	}
}
