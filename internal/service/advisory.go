package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/advisory"
	"github.com/kjstillabower/rainfall-advisory-service/internal/alert"
	"github.com/kjstillabower/rainfall-advisory-service/internal/cache"
	"github.com/kjstillabower/rainfall-advisory-service/internal/client"
	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictor"
	"github.com/kjstillabower/rainfall-advisory-service/internal/report"
)

// ErrWeatherUnavailable means current conditions could not be obtained: auto
// prediction is not configured or the weather API failed.
var ErrWeatherUnavailable = errors.New("weather data unavailable")

const defaultAlertTimeout = 10 * time.Second

// Options configures an AdvisoryService. Predictor, Conditions and Notifier may be nil.
type Options struct {
	Predictor    predictor.Predictor
	Store        predictlog.Store
	Conditions   cache.ConditionsFetcher
	Notifier     alert.Notifier
	Clock        clockwork.Clock
	Logger       *zap.Logger
	AlertTimeout time.Duration
}

// Prediction is the outcome of one request: the raw model estimate, the advisory
// derived from it, and the record appended to the log.
type Prediction struct {
	RainfallMM float64                 `json:"prediction"`
	Advisory   advisory.Advisory       `json:"advice"`
	Record     models.PredictionRecord `json:"record"`
	Conditions *models.Conditions      `json:"conditions,omitempty"`
}

// AdvisoryService runs the prediction pipeline: model, classifier, log, alerts.
type AdvisoryService struct {
	predictor    predictor.Predictor
	store        predictlog.Store
	conditions   cache.ConditionsFetcher
	notifier     alert.Notifier
	clock        clockwork.Clock
	logger       *zap.Logger
	alertTimeout time.Duration
}

// NewAdvisoryService creates an AdvisoryService. Store is required.
func NewAdvisoryService(opts Options) *AdvisoryService {
	s := &AdvisoryService{
		predictor:    opts.Predictor,
		store:        opts.Store,
		conditions:   opts.Conditions,
		notifier:     opts.Notifier,
		clock:        opts.Clock,
		logger:       opts.Logger,
		alertTimeout: opts.AlertTimeout,
	}
	if s.notifier == nil {
		s.notifier = alert.Nop{}
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.alertTimeout <= 0 {
		s.alertTimeout = defaultAlertTimeout
	}
	return s
}

// ModelReady reports whether a model is loaded.
func (s *AdvisoryService) ModelReady() bool {
	return s.predictor != nil
}

// AutoEnabled reports whether predictions from live conditions are available.
func (s *AdvisoryService) AutoEnabled() bool {
	return s.conditions != nil
}

// CheckLog reports whether the prediction log can be read. An absent log is healthy.
func (s *AdvisoryService) CheckLog(ctx context.Context) error {
	_, err := s.store.Tail(ctx, 1)
	return err
}

// Predict estimates rainfall for m, classifies it, and appends the record.
// A nil model fails with ErrModelUnavailable before anything is logged.
// When the append fails the returned Prediction is still populated and the error
// wraps predictlog.ErrStorage.
func (s *AdvisoryService) Predict(ctx context.Context, m models.Measurement) (Prediction, error) {
	return s.predict(ctx, m, nil)
}

// PredictForCity fetches current conditions for city and predicts from them.
// Fetch failures wrap both ErrWeatherUnavailable and the client error.
func (s *AdvisoryService) PredictForCity(ctx context.Context, city string) (Prediction, error) {
	if s.conditions == nil {
		observability.PredictionErrorsTotal.WithLabelValues("weather_unavailable").Inc()
		return Prediction{}, ErrWeatherUnavailable
	}
	observability.RecordCityQuery(city)

	cond, err := s.conditions.GetConditions(ctx, city)
	if err != nil {
		observability.PredictionErrorsTotal.WithLabelValues(string(client.Reason(err))).Inc()
		return Prediction{}, fmt.Errorf("%w: conditions for %s: %w", ErrWeatherUnavailable, city, err)
	}
	return s.predict(ctx, cond.Measurement, &cond)
}

func (s *AdvisoryService) predict(ctx context.Context, m models.Measurement, cond *models.Conditions) (Prediction, error) {
	logger := observability.LoggerFromContext(ctx, s.logger)

	if s.predictor == nil {
		observability.PredictionErrorsTotal.WithLabelValues("model_unavailable").Inc()
		return Prediction{}, predictor.ErrModelUnavailable
	}

	start := time.Now()
	mm, err := s.predictor.Predict(ctx, m.Features())
	observability.ModelDuration.WithLabelValues(s.predictor.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.PredictionErrorsTotal.WithLabelValues(modelErrorReason(err)).Inc()
		return Prediction{}, fmt.Errorf("predict: %w", err)
	}
	if err := predictor.CheckPrediction(mm); err != nil {
		observability.PredictionErrorsTotal.WithLabelValues("invalid_prediction").Inc()
		return Prediction{}, err
	}

	adv := advisory.Classify(mm)
	now := s.clock.Now()
	p := Prediction{
		RainfallMM: mm,
		Advisory:   adv,
		Record:     models.NewPredictionRecord(now, m, mm),
		Conditions: cond,
	}
	observability.PredictionsTotal.WithLabelValues(adv.Band.String()).Inc()

	var city string
	if cond != nil {
		city = cond.City
	}
	logger.Info("prediction classified",
		zap.Float64("rainfall_mm", mm),
		zap.Stringer("band", adv.Band),
		zap.String("city", city),
	)

	appendErr := s.store.Append(ctx, p.Record)
	if appendErr != nil {
		observability.PredictionErrorsTotal.WithLabelValues("storage").Inc()
		logger.Error("prediction log append failed", zap.Error(appendErr))
	}

	if adv.Band == advisory.BandSevere {
		s.sendAlert(ctx, alert.FromAdvisory(adv, mm, city, now))
	}

	if appendErr != nil {
		return p, appendErr
	}
	return p, nil
}

// sendAlert delivers a severe rainfall alert. Failures are logged, never returned.
func (s *AdvisoryService) sendAlert(ctx context.Context, a alert.Alert) {
	logger := observability.LoggerFromContext(ctx, s.logger)
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.alertTimeout)
	defer cancel()

	if err := s.notifier.Notify(alertCtx, a); err != nil {
		observability.AlertsSentTotal.WithLabelValues("failed").Inc()
		logger.Warn("severe rainfall alert failed", zap.String("title", a.Title), zap.Error(err))
		return
	}
	observability.AlertsSentTotal.WithLabelValues("sent").Inc()
	logger.Info("severe rainfall alert sent", zap.String("title", a.Title), zap.String("city", a.City))
}

func modelErrorReason(err error) string {
	switch {
	case errors.Is(err, predictor.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, predictor.ErrInvalidPrediction):
		return "invalid_prediction"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "model_error"
	}
}

// History returns the last n records in append order.
func (s *AdvisoryService) History(ctx context.Context, n int) []models.PredictionRecord {
	return s.store.ReadRecent(ctx, n)
}

// Chart returns the rainfall series of the last n records.
func (s *AdvisoryService) Chart(ctx context.Context, n int) report.ChartSeries {
	return report.NewChartSeries(s.store.ReadRecent(ctx, n))
}

// Report summarizes the most recent prediction.
func (s *AdvisoryService) Report(ctx context.Context) report.Report {
	return report.NewReport(s.store.ReadRecent(ctx, 1), s.clock.Now())
}
