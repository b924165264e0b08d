package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
)

// inFlightRequest is one upstream fetch that several callers may wait for.
type inFlightRequest struct {
	done   chan struct{}
	result models.Conditions
	err    error
}

// requestCoalescer collapses concurrent fetches for the same key into one upstream call.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a call for key is already in flight, in which case it
// waits for that call's result. shared reports whether the result came from another
// caller's fetch. fn runs detached from the caller's cancellation, bounded by the
// coalescer timeout, so one caller giving up does not fail the others.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(context.Context) (models.Conditions, error)) (result models.Conditions, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		go rc.run(ctx, key, req, fn)
	}

	select {
	case <-req.done:
		return req.result, exists, req.err
	case <-ctx.Done():
		return models.Conditions{}, exists, ctx.Err()
	}
}

func (rc *requestCoalescer) run(ctx context.Context, key string, req *inFlightRequest, fn func(context.Context) (models.Conditions, error)) {
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
	defer cancel()

	req.result, req.err = fn(fetchCtx)

	rc.mu.Lock()
	delete(rc.inFlight, key)
	rc.mu.Unlock()
	close(req.done)
}
