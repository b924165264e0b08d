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

type mockWeatherClient struct {
	conditions models.Conditions
	err        error
	calls      atomic.Int32
	delay      time.Duration
}

func (m *mockWeatherClient) GetConditions(ctx context.Context, city string) (models.Conditions, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return m.conditions, m.err
}

type mockCache struct {
	mu   sync.Mutex
	data map[string]models.Conditions
	err  error
}

func (m *mockCache) Get(ctx context.Context, key string) (models.Conditions, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return models.Conditions{}, false, m.err
	}
	val, ok := m.data[key]
	return val, ok, nil
}

func (m *mockCache) Set(ctx context.Context, key string, value models.Conditions, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	if m.data == nil {
		m.data = make(map[string]models.Conditions)
	}
	m.data[key] = value
	return nil
}

func nairobi() models.Conditions {
	return models.Conditions{
		City: "Nairobi",
		Measurement: models.Measurement{
			Temperature: 21.5,
			Wind:        12.6,
			Pressure:    1018,
			Humidity:    64,
			Cloud:       75,
		},
	}
}

// TestNormalizeCity verifies that normalizeCity trims whitespace and lowercases.
func TestNormalizeCity(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "trim and lower", in: " Nairobi ", want: "nairobi"},
		{name: "already normalized", in: "nairobi", want: "nairobi"},
		{name: "mixed case", in: "KiSuMu", want: "kisumu"},
		{name: "with spaces", in: "  Dar es Salaam  ", want: "dar es salaam"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := normalizeCity(tc.in); got != tc.want {
				t.Fatalf("normalizeCity(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

// TestConditionsService_CacheHit verifies that a cached entry is served without an upstream call.
func TestConditionsService_CacheHit(t *testing.T) {
	mc := &mockCache{data: map[string]models.Conditions{"nairobi": nairobi()}}
	client := &mockWeatherClient{err: errors.New("must not be called")}
	svc := NewConditionsService(client, mc, 5*time.Minute, 0, nil)

	got, err := svc.GetConditions(context.Background(), " Nairobi")
	if err != nil {
		t.Fatalf("GetConditions() error = %v, want nil", err)
	}
	if got.City != "Nairobi" || got.Temperature != 21.5 {
		t.Errorf("GetConditions() = %+v, want cached Nairobi conditions", got)
	}
	if n := client.calls.Load(); n != 0 {
		t.Errorf("upstream calls = %d, want 0", n)
	}
}

// TestConditionsService_CacheMiss verifies that a miss fetches upstream and populates the cache.
func TestConditionsService_CacheMiss(t *testing.T) {
	mc := &mockCache{}
	client := &mockWeatherClient{conditions: nairobi()}
	svc := NewConditionsService(client, mc, 5*time.Minute, 0, nil)

	got, err := svc.GetConditions(context.Background(), "Nairobi")
	if err != nil {
		t.Fatalf("GetConditions() error = %v, want nil", err)
	}
	if got.City != "Nairobi" {
		t.Errorf("GetConditions().City = %q, want Nairobi", got.City)
	}

	cached, ok, _ := mc.Get(context.Background(), "nairobi")
	if !ok {
		t.Fatal("cache was not populated after upstream fetch")
	}
	if cached.Humidity != 64 {
		t.Errorf("cached humidity = %v, want 64", cached.Humidity)
	}

	if _, err := svc.GetConditions(context.Background(), "NAIROBI"); err != nil {
		t.Fatalf("second GetConditions() error = %v", err)
	}
	if n := client.calls.Load(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

// TestConditionsService_UpstreamFailure verifies that upstream errors are wrapped and propagated.
func TestConditionsService_UpstreamFailure(t *testing.T) {
	upstreamErr := errors.New("upstream error")
	svc := NewConditionsService(&mockWeatherClient{err: upstreamErr}, &mockCache{}, 5*time.Minute, 0, nil)

	_, err := svc.GetConditions(context.Background(), "Kisumu")
	if !errors.Is(err, upstreamErr) {
		t.Fatalf("GetConditions() error = %v, want %v", err, upstreamErr)
	}
}

// TestConditionsService_CacheErrorFallsThrough verifies that cache failures are non-fatal.
func TestConditionsService_CacheErrorFallsThrough(t *testing.T) {
	mc := &mockCache{err: errors.New("cache down")}
	svc := NewConditionsService(&mockWeatherClient{conditions: nairobi()}, mc, 5*time.Minute, 0, nil)

	got, err := svc.GetConditions(context.Background(), "Nairobi")
	if err != nil {
		t.Fatalf("GetConditions() error = %v, want nil", err)
	}
	if got.City != "Nairobi" {
		t.Errorf("GetConditions().City = %q, want Nairobi", got.City)
	}
}

// TestConditionsService_Coalescing verifies concurrent misses for one city share a single upstream call.
func TestConditionsService_Coalescing(t *testing.T) {
	client := &mockWeatherClient{conditions: nairobi(), delay: 50 * time.Millisecond}
	svc := NewConditionsService(client, &mockCache{}, 5*time.Minute, time.Second, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.GetConditions(context.Background(), "Nairobi"); err != nil {
				t.Errorf("GetConditions() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n := client.calls.Load(); n > 2 {
		t.Errorf("upstream calls = %d, want coalesced (<= 2)", n)
	}
}
