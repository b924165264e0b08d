package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/cache"
	"github.com/kjstillabower/rainfall-advisory-service/internal/client"
	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
)

// ConditionsService serves current conditions cache-aside over the weather client.
type ConditionsService struct {
	client    client.WeatherClient
	cache     cache.Cache
	ttl       time.Duration
	coalescer *requestCoalescer // nil if disabled
	logger    *zap.Logger
}

// NewConditionsService creates a ConditionsService. ttl is the cache lifetime of a
// fetched measurement; a positive coalesceTimeout enables request coalescing.
func NewConditionsService(c client.WeatherClient, cc cache.Cache, ttl, coalesceTimeout time.Duration, logger *zap.Logger) *ConditionsService {
	var coalescer *requestCoalescer
	if coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &ConditionsService{
		client:    c,
		cache:     cc,
		ttl:       ttl,
		coalescer: coalescer,
		logger:    logger,
	}
}

// GetConditions returns the current conditions for city. Cache errors are logged
// and fall through to the upstream API.
func (s *ConditionsService) GetConditions(ctx context.Context, city string) (models.Conditions, error) {
	key := normalizeCity(city)
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		logger.Warn("cache get failed", zap.String("city", key), zap.Error(err))
	} else if ok {
		observability.CacheHitsTotal.WithLabelValues("conditions").Inc()
		logger.Debug("conditions served", zap.String("city", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	logger.Debug("cache miss, fetching upstream", zap.String("city", key))

	var data models.Conditions
	var upstreamErr error
	if s.coalescer != nil {
		var shared bool
		data, shared, upstreamErr = s.coalescer.GetOrDo(ctx, key, func(fetchCtx context.Context) (models.Conditions, error) {
			return s.client.GetConditions(fetchCtx, city)
		})
		if shared && upstreamErr == nil {
			observability.CacheHitsTotal.WithLabelValues("coalesced").Inc()
		}
	} else {
		data, upstreamErr = s.client.GetConditions(ctx, city)
	}
	if upstreamErr != nil {
		return models.Conditions{}, fmt.Errorf("fetch conditions for %s: %w", key, upstreamErr)
	}

	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		logger.Warn("cache set failed", zap.String("city", key), zap.Error(setErr))
	}
	logger.Debug("conditions served", zap.String("city", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return data, nil
}

// normalizeCity trims and lowercases city for cache keys.
func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}
