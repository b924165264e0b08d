package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/rainfall-advisory-service/internal/circuitbreaker"
	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
)

// WeatherClient fetches current conditions for a city.
type WeatherClient interface {
	GetConditions(ctx context.Context, city string) (models.Conditions, error)
}

var (
	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrRateLimited      = errors.New("rate limited")
)

// kmhPerMS converts OpenWeather's metric wind speed (m/s) to the model's km/h.
const kmhPerMS = 3.6

type OpenWeatherClient struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	clock          clockwork.Clock
	breaker        *circuitbreaker.CircuitBreaker
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
}

func NewOpenWeatherClient(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherClient, error) {
	return NewOpenWeatherClientWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewOpenWeatherClientWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenWeatherClient{
		apiKey:         apiKey,
		apiURL:         apiURL,
		timeout:        timeout,
		clock:          clockwork.NewRealClock(),
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// WithCircuitBreaker routes every attempt through cb. Unknown cities and bad keys
// do not count as upstream failures.
func (c *OpenWeatherClient) WithCircuitBreaker(cb *circuitbreaker.CircuitBreaker) *OpenWeatherClient {
	c.breaker = cb
	return c
}

// WithClock replaces the clock used for backoff waits and FetchedAt.
func (c *OpenWeatherClient) WithClock(clock clockwork.Clock) *OpenWeatherClient {
	c.clock = clock
	return c
}

type openWeatherResponse struct {
	Main struct {
		Temp     float64 `json:"temp"`
		Pressure float64 `json:"pressure"`
		Humidity float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds *struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Name string `json:"name"`
}

// GetConditions returns the current measurement for city, retrying transient failures
// with exponential backoff and jitter.
func (c *OpenWeatherClient) GetConditions(ctx context.Context, city string) (models.Conditions, error) {
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.WeatherAPIRetriesTotal.Inc()
			delay := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.Conditions{}, ctx.Err()
			case <-c.clock.After(delay):
			}
		}

		result, err := c.attempt(ctx, city)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !c.isRetryable(err) {
			return models.Conditions{}, err
		}
	}

	return models.Conditions{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (c *OpenWeatherClient) attempt(ctx context.Context, city string) (models.Conditions, error) {
	if c.breaker == nil {
		return c.callAPI(ctx, city)
	}
	var result models.Conditions
	err := c.breaker.Call(ctx, func() error {
		var err error
		result, err = c.callAPI(ctx, city)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.Conditions{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}
	return result, err
}

func (c *OpenWeatherClient) callAPI(ctx context.Context, city string) (models.Conditions, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, city)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		return models.Conditions{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues("error").Inc()
		observability.WeatherAPIDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.Conditions{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.Conditions{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(status).Observe(duration)

	if err := c.handleErrorResponse(resp); err != nil {
		return models.Conditions{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.Conditions{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp openWeatherResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.Conditions{}, fmt.Errorf("parse response: %w", err)
	}

	return c.mapResponse(apiResp, city), nil
}

func (c *OpenWeatherClient) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

// IsUpstreamFault reports whether err reflects upstream health rather than the request.
// Used as the circuit breaker's failure filter.
func IsUpstreamFault(err error) bool {
	return !errors.Is(err, ErrLocationNotFound) && !errors.Is(err, ErrInvalidAPIKey) && !errors.Is(err, context.Canceled)
}

func (c *OpenWeatherClient) calculateBackoff(attempt int) time.Duration {
	delay := float64(c.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(c.retryMaxDelay) {
		delay = float64(c.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("q", city)
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *OpenWeatherClient) handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}

	return nil
}

// mapResponse converts the API payload. Missing cloud cover reads as 0.
func (c *OpenWeatherClient) mapResponse(apiResp openWeatherResponse, city string) models.Conditions {
	displayName := apiResp.Name
	if displayName == "" {
		displayName = city
	}

	cloud := 0.0
	if apiResp.Clouds != nil {
		cloud = apiResp.Clouds.All
	}

	return models.Conditions{
		City: displayName,
		Measurement: models.Measurement{
			Temperature: apiResp.Main.Temp,
			Wind:        apiResp.Wind.Speed * kmhPerMS,
			Pressure:    apiResp.Main.Pressure,
			Humidity:    apiResp.Main.Humidity,
			Cloud:       cloud,
		},
		FetchedAt: c.clock.Now(),
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// ValidateAPIKey issues one request for a known city and reports whether the key is accepted.
func (c *OpenWeatherClient) ValidateAPIKey(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := c.buildRequest(ctx, "Nairobi")
	if err != nil {
		return fmt.Errorf("build validation request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("validation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: API key is invalid or not activated", ErrInvalidAPIKey)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("validation failed: HTTP %d", resp.StatusCode)
	}

	return nil
}
