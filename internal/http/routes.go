package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
)

// NewRouter wires the handler's routes and middleware. Prediction routes are rate
// limited and carry the request timeout; read routes are not.
func NewRouter(h *Handler, limiter *rate.Limiter, requestTimeout time.Duration, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	router.HandleFunc("/chart_data", h.GetChartData).Methods(http.MethodGet)
	router.HandleFunc("/chart", h.GetChart).Methods(http.MethodGet)
	router.HandleFunc("/report", h.GetReport).Methods(http.MethodGet)
	router.HandleFunc("/history.xlsx", h.GetHistoryXLSX).Methods(http.MethodGet)

	limit, timeout := RateLimitMiddleware(limiter), TimeoutMiddleware(requestTimeout)
	guarded := func(fn http.HandlerFunc) http.Handler { return limit(timeout(fn)) }
	router.Handle("/predict", guarded(h.PostPredict)).Methods(http.MethodPost)
	router.Handle("/predict/auto", guarded(h.PostPredictAuto)).Methods(http.MethodPost)

	return router
}
