package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kjstillabower/rainfall-advisory-service/internal/advisory"
	"github.com/kjstillabower/rainfall-advisory-service/internal/alert"
	"github.com/kjstillabower/rainfall-advisory-service/internal/client"
	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictor"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
	err    error
}

func (n *recordingNotifier) Notify(ctx context.Context, a alert.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
	return n.err
}

func (n *recordingNotifier) sent() []alert.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]alert.Alert(nil), n.alerts...)
}

type fetcherFunc func(ctx context.Context, city string) (models.Conditions, error)

func (f fetcherFunc) GetConditions(ctx context.Context, city string) (models.Conditions, error) {
	return f(ctx, city)
}

func constantModel(mm float64) predictor.Predictor {
	return predictor.Func(func(context.Context, [5]float64) (float64, error) { return mm, nil })
}

var sampleMeasurement = models.Measurement{Temperature: 22, Wind: 10, Pressure: 1012, Humidity: 60, Cloud: 40}

type fixture struct {
	svc      *AdvisoryService
	store    *predictlog.MemoryStore
	notifier *recordingNotifier
	clock    *clockwork.FakeClock
}

func newFixture(p predictor.Predictor) *fixture {
	f := &fixture{
		store:    predictlog.NewMemoryStore(),
		notifier: &recordingNotifier{},
		clock:    clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 8, 0, 0, 0, time.Local)),
	}
	f.svc = NewAdvisoryService(Options{
		Predictor:  p,
		Store:      f.store,
		Notifier:   f.notifier,
		Clock:      f.clock,
		Conditions: fetcherFunc(func(ctx context.Context, city string) (models.Conditions, error) {
			return models.Conditions{City: "Nairobi", Measurement: sampleMeasurement}, nil
		}),
	})
	return f
}

func TestAdvisoryService_Predict(t *testing.T) {
	f := newFixture(constantModel(0.5))

	p, err := f.svc.Predict(context.Background(), sampleMeasurement)
	require.NoError(t, err)
	assert.Equal(t, 0.5, p.RainfallMM)
	assert.Equal(t, advisory.BandDrought, p.Advisory.Band)
	assert.Equal(t, "2024-01-01 08:00:00", p.Record.Date)
	assert.Nil(t, p.Conditions)

	got := f.store.ReadRecent(context.Background(), 10)
	require.Len(t, got, 1)
	assert.Equal(t, p.Record, got[0])
	assert.Equal(t, 0.5, *got[0].PredictedRainfall)
	assert.Equal(t, 22.0, *got[0].Temperature)
	assert.Empty(t, f.notifier.sent())
}

func TestAdvisoryService_PredictPassesFeaturesInOrder(t *testing.T) {
	var seen [5]float64
	f := newFixture(predictor.Func(func(_ context.Context, x [5]float64) (float64, error) {
		seen = x
		return 3, nil
	}))

	_, err := f.svc.Predict(context.Background(), sampleMeasurement)
	require.NoError(t, err)
	assert.Equal(t, [5]float64{22, 10, 1012, 60, 40}, seen)
}

func TestAdvisoryService_ModelUnavailable(t *testing.T) {
	f := newFixture(nil)
	assert.False(t, f.svc.ModelReady())

	_, err := f.svc.Predict(context.Background(), sampleMeasurement)
	assert.ErrorIs(t, err, predictor.ErrModelUnavailable)
	assert.Empty(t, f.store.ReadRecent(context.Background(), 10), "nothing logged without a model")
}

func TestAdvisoryService_ModelErrors(t *testing.T) {
	tests := []struct {
		name    string
		model   predictor.Predictor
		wantErr error
	}{
		{
			name: "backend failure",
			model: predictor.Func(func(context.Context, [5]float64) (float64, error) {
				return 0, predictor.ErrModelUnavailable
			}),
			wantErr: predictor.ErrModelUnavailable,
		},
		{name: "NaN", model: constantModel(math.NaN()), wantErr: predictor.ErrInvalidPrediction},
		{name: "infinite", model: constantModel(math.Inf(1)), wantErr: predictor.ErrInvalidPrediction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.model)
			_, err := f.svc.Predict(context.Background(), sampleMeasurement)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Empty(t, f.store.ReadRecent(context.Background(), 10))
		})
	}
}

func TestAdvisoryService_StorageFailureKeepsAdvisory(t *testing.T) {
	f := newFixture(constantModel(12))
	f.store.FailAppends(errors.New("disk full"))

	p, err := f.svc.Predict(context.Background(), sampleMeasurement)
	assert.ErrorIs(t, err, predictlog.ErrStorage)
	assert.Equal(t, advisory.BandOptimal, p.Advisory.Band)
	assert.Equal(t, 12.0, p.RainfallMM)
}

func TestAdvisoryService_SevereSendsAlert(t *testing.T) {
	f := newFixture(constantModel(65.4321))

	p, err := f.svc.PredictForCity(context.Background(), "Nairobi")
	require.NoError(t, err)
	assert.Equal(t, advisory.BandSevere, p.Advisory.Band)
	require.NotNil(t, p.Conditions)
	assert.Equal(t, "Nairobi", p.Conditions.City)

	sent := f.notifier.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, p.Advisory.Title, sent[0].Title)
	assert.Equal(t, "Nairobi", sent[0].City)
	assert.Contains(t, sent[0].Message, "ALERT: predicted rainfall 65.4321 mm in Nairobi")
}

func TestAdvisoryService_AlertBoundary(t *testing.T) {
	for _, tt := range []struct {
		mm    float64
		alert bool
	}{
		{49.999, false},
		{50, true},
	} {
		f := newFixture(constantModel(tt.mm))
		_, err := f.svc.Predict(context.Background(), sampleMeasurement)
		require.NoError(t, err)
		assert.Equal(t, tt.alert, len(f.notifier.sent()) == 1, "mm=%v", tt.mm)
	}
}

func TestAdvisoryService_AlertFailureIsNotFatal(t *testing.T) {
	f := newFixture(constantModel(80))
	f.notifier.err = alert.ErrDelivery

	p, err := f.svc.Predict(context.Background(), sampleMeasurement)
	require.NoError(t, err)
	assert.Equal(t, advisory.BandSevere, p.Advisory.Band)
	assert.Len(t, f.store.ReadRecent(context.Background(), 10), 1)
}

func TestAdvisoryService_PredictForCity(t *testing.T) {
	t.Run("no weather source", func(t *testing.T) {
		svc := NewAdvisoryService(Options{Predictor: constantModel(1), Store: predictlog.NewMemoryStore()})
		assert.False(t, svc.AutoEnabled())
		_, err := svc.PredictForCity(context.Background(), "Nairobi")
		assert.ErrorIs(t, err, ErrWeatherUnavailable)
	})

	t.Run("fetch failure", func(t *testing.T) {
		fetchErr := fmt.Errorf("fetch: %w", client.ErrLocationNotFound)
		notFound := observability.PredictionErrorsTotal.WithLabelValues(string(client.ReasonLocationNotFound))
		before := testutil.ToFloat64(notFound)
		store := predictlog.NewMemoryStore()
		svc := NewAdvisoryService(Options{
			Predictor: constantModel(1),
			Store:     store,
			Conditions: fetcherFunc(func(context.Context, string) (models.Conditions, error) {
				return models.Conditions{}, fetchErr
			}),
		})
		_, err := svc.PredictForCity(context.Background(), "Atlantis")
		assert.ErrorIs(t, err, fetchErr)
		assert.ErrorIs(t, err, ErrWeatherUnavailable)
		assert.ErrorIs(t, err, client.ErrLocationNotFound)
		assert.Empty(t, store.ReadRecent(context.Background(), 1))
		assert.Equal(t, before+1, testutil.ToFloat64(notFound))
	})
}

func TestAdvisoryService_ChartHistoryReport(t *testing.T) {
	f := newFixture(nil)
	ctx := context.Background()

	empty := f.svc.Report(ctx)
	assert.Nil(t, empty.Latest)
	assert.Empty(t, f.svc.Chart(ctx, 20).Dates)
	require.NoError(t, f.svc.CheckLog(ctx))

	for i, mm := range []float64{0.5, 7, 55} {
		rec := models.NewPredictionRecord(f.clock.Now().Add(time.Duration(i)*time.Hour), sampleMeasurement, mm)
		require.NoError(t, f.store.Append(ctx, rec))
	}

	chart := f.svc.Chart(ctx, 2)
	assert.Equal(t, []string{"2024-01-01 09:00:00", "2024-01-01 10:00:00"}, chart.Dates)
	require.Len(t, chart.Values, 2)
	assert.Equal(t, 55.0, *chart.Values[1])

	assert.Len(t, f.svc.History(ctx, 50), 3)

	r := f.svc.Report(ctx)
	require.NotNil(t, r.Latest)
	assert.Equal(t, "2024-01-01 10:00:00", r.Latest.Date)
	require.NotNil(t, r.Advisory)
	assert.Equal(t, advisory.BandSevere, r.Advisory.Band)
	assert.Equal(t, f.clock.Now(), r.GeneratedAt)
}

func TestAdvisoryService_CheckLogUnreadable(t *testing.T) {
	f := newFixture(nil)
	f.store.FailReads(errors.New("corrupt"))
	assert.ErrorIs(t, f.svc.CheckLog(context.Background()), predictlog.ErrUnreadable)
}
