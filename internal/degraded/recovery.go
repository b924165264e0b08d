// Package degraded probes the service's dependencies after /health reports degraded
// and clears the outcome window once they answer again, so a recovered instance
// does not stay degraded for the rest of the window.
package degraded

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/traffic"
)

// ProbeFunc checks dependencies and returns nil when they are usable again.
type ProbeFunc func(ctx context.Context) error

// Config controls the probe schedule. Delays are Fibonacci multiples of Initial
// (1x, 2x, 3x, 5x, ...) up to Max.
type Config struct {
	Initial      time.Duration
	Max          time.Duration
	ProbeTimeout time.Duration // per attempt; default 10s
	Clock        clockwork.Clock
	// OnRecovered runs after a successful probe. Default: traffic.Reset.
	OnRecovered func()
	// OnExhausted runs when the last scheduled probe fails.
	OnExhausted func()
}

// Recoverer runs at most one probe cycle at a time.
type Recoverer struct {
	probe   ProbeFunc
	cfg     Config
	delays  []time.Duration
	logger  *zap.Logger
	notify  chan struct{}
	running atomic.Bool
	cycles  atomic.Int64
}

// NewRecoverer returns a Recoverer. A zero Initial or a Max below Initial
// yields an empty schedule and Notify becomes a no-op.
func NewRecoverer(probe ProbeFunc, cfg Config, logger *zap.Logger) *Recoverer {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.OnRecovered == nil {
		cfg.OnRecovered = traffic.Reset
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recoverer{
		probe:  probe,
		cfg:    cfg,
		delays: fibDelays(cfg.Initial, cfg.Max),
		logger: logger,
		notify: make(chan struct{}, 1),
	}
}

// Notify asks for a probe cycle. Non-blocking; ignored while a cycle is running.
func (r *Recoverer) Notify() {
	if len(r.delays) == 0 {
		return
	}
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// Start listens for Notify until ctx is done.
func (r *Recoverer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.notify:
				if r.running.Swap(true) {
					continue
				}
				go func() {
					defer r.running.Store(false)
					r.Run(ctx)
				}()
			}
		}
	}()
}

// Running reports whether a probe cycle is in progress.
func (r *Recoverer) Running() bool { return r.running.Load() }

// Cycles returns the number of completed probe cycles.
func (r *Recoverer) Cycles() int64 { return r.cycles.Load() }

// Run executes one probe cycle and reports whether the dependencies recovered.
// It returns false without calling OnExhausted when ctx ends first.
func (r *Recoverer) Run(ctx context.Context) bool {
	defer r.cycles.Add(1)
	for i, d := range r.delays {
		select {
		case <-ctx.Done():
			return false
		case <-r.cfg.Clock.After(d):
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
		err := r.probe(attemptCtx)
		cancel()
		if err == nil {
			r.logger.Info("dependencies recovered", zap.Int("attempt", i+1))
			r.cfg.OnRecovered()
			return true
		}
		r.logger.Warn("recovery probe failed", zap.Int("attempt", i+1), zap.Int("attempts", len(r.delays)), zap.Error(err))
	}
	if r.cfg.OnExhausted != nil && ctx.Err() == nil {
		r.cfg.OnExhausted()
	}
	return false
}

func fibDelays(initial, max time.Duration) []time.Duration {
	if initial <= 0 || max < initial {
		return nil
	}
	var out []time.Duration
	for a, b := int64(1), int64(2); ; a, b = b, a+b {
		d := time.Duration(a) * initial
		if d > max {
			return out
		}
		out = append(out, d)
	}
}
