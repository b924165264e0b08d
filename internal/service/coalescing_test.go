package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
)

func TestRequestCoalescer_GetOrDo_ConcurrentRequests(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32
	release := make(chan struct{})

	fn := func(context.Context) (models.Conditions, error) {
		calls.Add(1)
		<-release
		return models.Conditions{City: "Nairobi", Measurement: models.Measurement{Temperature: 21}}, nil
	}

	const callers = 10
	var wg sync.WaitGroup
	var started sync.WaitGroup
	results := make([]models.Conditions, callers)
	errs := make([]error, callers)
	shared := make([]bool, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		started.Add(1)
		go func(idx int) {
			defer wg.Done()
			started.Done()
			results[idx], shared[idx], errs[idx] = coalescer.GetOrDo(context.Background(), "nairobi", fn)
		}(i)
	}
	started.Wait()
	// Give every caller time to register before the fetch completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	sharedCount := 0
	for i := range results {
		if errs[i] != nil {
			t.Errorf("caller %d error = %v, want nil", i, errs[i])
		}
		if results[i].City != "Nairobi" {
			t.Errorf("caller %d city = %q, want Nairobi", i, results[i].City)
		}
		if shared[i] {
			sharedCount++
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("fn call count = %d, want 1", got)
	}
	if sharedCount != callers-1 {
		t.Errorf("shared results = %d, want %d", sharedCount, callers-1)
	}
}

func TestRequestCoalescer_GetOrDo_ErrorPropagation(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	wantErr := errors.New("api failure")
	release := make(chan struct{})

	fn := func(context.Context) (models.Conditions, error) {
		<-release
		return models.Conditions{}, wantErr
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_, _, errs[idx] = coalescer.GetOrDo(context.Background(), "kisumu", fn)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if !errors.Is(err, wantErr) {
			t.Errorf("caller %d error = %v, want %v", i, err, wantErr)
		}
	}
}

func TestRequestCoalescer_GetOrDo_CallerCancelDoesNotAbortFetch(t *testing.T) {
	coalescer := newRequestCoalescer(time.Second)
	fetchErr := make(chan error, 1)

	fn := func(ctx context.Context) (models.Conditions, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			fetchErr <- nil
			return models.Conditions{City: "Eldoret"}, nil
		case <-ctx.Done():
			fetchErr <- ctx.Err()
			return models.Conditions{}, ctx.Err()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := coalescer.GetOrDo(ctx, "eldoret", fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("GetOrDo() error = %v, want context deadline exceeded", err)
	}
	if err := <-fetchErr; err != nil {
		t.Errorf("fetch saw %v, want it to run to completion", err)
	}
}

func TestRequestCoalescer_GetOrDo_TimeoutBoundsFetch(t *testing.T) {
	coalescer := newRequestCoalescer(30 * time.Millisecond)

	fn := func(ctx context.Context) (models.Conditions, error) {
		<-ctx.Done()
		return models.Conditions{}, ctx.Err()
	}

	_, _, err := coalescer.GetOrDo(context.Background(), "mombasa", fn)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("GetOrDo() error = %v, want context deadline exceeded", err)
	}
}

func TestRequestCoalescer_GetOrDo_DifferentKeys(t *testing.T) {
	coalescer := newRequestCoalescer(5 * time.Second)
	var calls atomic.Int32

	fn := func(context.Context) (models.Conditions, error) {
		calls.Add(1)
		return models.Conditions{}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, _, _ = coalescer.GetOrDo(context.Background(), key, fn)
		}("key" + string(rune('a'+i)))
	}
	wg.Wait()

	if got := calls.Load(); got != 5 {
		t.Errorf("fn call count = %d, want 5", got)
	}
}

func TestRequestCoalescer_KeyReleasedAfterCompletion(t *testing.T) {
	coalescer := newRequestCoalescer(time.Second)
	var calls atomic.Int32
	fn := func(context.Context) (models.Conditions, error) {
		calls.Add(1)
		return models.Conditions{}, nil
	}

	for i := 0; i < 3; i++ {
		if _, shared, err := coalescer.GetOrDo(context.Background(), "nakuru", fn); err != nil || shared {
			t.Fatalf("call %d: shared=%v err=%v", i, shared, err)
		}
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("fn call count = %d, want 3", got)
	}
}
