package client

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/kjstillabower/rainfall-advisory-service/internal/circuitbreaker"
)

// FailureReason is the predictionErrorsTotal reason label for a failed conditions fetch.
type FailureReason string

const (
	ReasonLocationNotFound FailureReason = "location_not_found"
	ReasonInvalidAPIKey    FailureReason = "weather_invalid_key"
	ReasonRateLimited      FailureReason = "weather_rate_limited"
	ReasonCircuitOpen      FailureReason = "weather_circuit_open"
	ReasonTimeout          FailureReason = "weather_timeout"
	ReasonNetwork          FailureReason = "weather_network"
	ReasonUpstream         FailureReason = "weather_upstream"
	ReasonParsing          FailureReason = "weather_parse"
	ReasonUnknown          FailureReason = "weather_unknown"
)

// Reason maps a GetConditions error to a bounded label. Sentinels are checked
// before message heuristics; a circuit-open error also wraps ErrUpstreamFailure.
func Reason(err error) FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocationNotFound):
		return ReasonLocationNotFound
	case errors.Is(err, ErrInvalidAPIKey):
		return ReasonInvalidAPIKey
	case errors.Is(err, ErrRateLimited):
		return ReasonRateLimited
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ReasonCircuitOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ReasonTimeout
	case errors.Is(err, ErrUpstreamFailure):
		return ReasonUpstream
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ReasonTimeout
		}
		return ReasonNetwork
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return ReasonTimeout
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "no such host"):
		return ReasonNetwork
	case strings.Contains(msg, "parse response"):
		return ReasonParsing
	}
	return ReasonUnknown
}
