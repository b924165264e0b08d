package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/rainfall-advisory-service/internal/advisory"
	"github.com/kjstillabower/rainfall-advisory-service/internal/circuitbreaker"
	"github.com/kjstillabower/rainfall-advisory-service/internal/client"
	"github.com/kjstillabower/rainfall-advisory-service/internal/lifecycle"
	"github.com/kjstillabower/rainfall-advisory-service/internal/models"
	"github.com/kjstillabower/rainfall-advisory-service/internal/observability"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictlog"
	"github.com/kjstillabower/rainfall-advisory-service/internal/predictor"
	"github.com/kjstillabower/rainfall-advisory-service/internal/report"
	"github.com/kjstillabower/rainfall-advisory-service/internal/service"
	"github.com/kjstillabower/rainfall-advisory-service/internal/traffic"
	"github.com/kjstillabower/rainfall-advisory-service/internal/validation"
)

// maxBodyBytes bounds POST bodies.
const maxBodyBytes = 64 << 10

// maxRecords caps the n query parameter on history routes.
const maxRecords = 1000

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int // 0 when rate limiter disabled
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// Breakers are reported in checks; an open breaker degrades health.
	Breakers []*circuitbreaker.CircuitBreaker
	// OnDegraded is called whenever /health reports degraded. Must not block.
	OnDegraded func(reason string)
}

// Limits holds request defaults and bounds.
type Limits struct {
	ChartPoints   int
	HistoryLimit  int
	CityMinLength int
	CityMaxLength int
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	advisory         *service.AdvisoryService
	healthConfig     *HealthConfig
	limits           Limits
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. healthConfig may be nil.
func NewHandler(advisorySvc *service.AdvisoryService, healthConfig *HealthConfig, limits Limits, logger *zap.Logger) *Handler {
	if limits.ChartPoints <= 0 {
		limits.ChartPoints = 20
	}
	if limits.HistoryLimit <= 0 {
		limits.HistoryLimit = 50
	}
	if limits.CityMinLength <= 0 {
		limits.CityMinLength = 1
	}
	if limits.CityMaxLength <= 0 {
		limits.CityMaxLength = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		advisory:     advisorySvc,
		healthConfig: healthConfig,
		limits:       limits,
		logger:       logger,
	}
}

type predictionResponse struct {
	Prediction float64                 `json:"prediction"`
	Band       advisory.Band           `json:"band"`
	Advice     advisory.Advisory       `json:"advice"`
	Record     models.PredictionRecord `json:"record"`
	Conditions *models.Conditions      `json:"conditions,omitempty"`
	Chart      *report.ChartSeries     `json:"chart,omitempty"`
	Error      *errorBody              `json:"error,omitempty"`
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"requestId"`
}

// PostPredict handles POST /predict with a form or JSON measurement.
func (h *Handler) PostPredict(w http.ResponseWriter, r *http.Request) {
	values, err := readValues(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	m, err := validation.ParseMeasurement(values)
	if err != nil {
		var inv *validation.InvalidInputError
		if errors.As(err, &inv) {
			writeErrorBody(w, r, http.StatusBadRequest, errorBody{Code: "INVALID_INPUT", Message: inv.Error(), Field: inv.Field})
			return
		}
		writeError(w, r, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}

	p, err := h.advisory.Predict(r.Context(), m)
	h.writePrediction(w, r, p, err)
}

// PostPredictAuto handles POST /predict/auto with {"city": "..."} (JSON or form).
func (h *Handler) PostPredictAuto(w http.ResponseWriter, r *http.Request) {
	values, err := readValues(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}
	city, err := validation.ValidateCity(values["city"], h.limits.CityMinLength, h.limits.CityMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	p, err := h.advisory.PredictForCity(r.Context(), city)
	h.writePrediction(w, r, p, err)
}

func (h *Handler) writePrediction(w http.ResponseWriter, r *http.Request, p service.Prediction, err error) {
	if err != nil && !errors.Is(err, predictlog.ErrStorage) {
		status, code, msg := classifyError(err)
		recordOutcome(status)
		observability.LoggerFromContext(r.Context(), h.logger).Debug("prediction failed", zap.String("code", code), zap.Error(err))
		writeError(w, r, status, code, msg)
		return
	}

	chart := h.advisory.Chart(r.Context(), h.limits.ChartPoints)
	resp := predictionResponse{
		Prediction: p.RainfallMM,
		Band:       p.Advisory.Band,
		Advice:     p.Advisory,
		Record:     p.Record,
		Conditions: p.Conditions,
		Chart:      &chart,
	}
	status := http.StatusOK
	if err != nil {
		status = http.StatusInternalServerError
		resp.Error = &errorBody{
			Code:      "STORAGE_ERROR",
			Message:   "Prediction could not be saved to history",
			RequestID: observability.CorrelationID(r.Context()),
		}
	}
	recordOutcome(status)
	writeJSON(w, status, resp)
}

// classifyError maps pipeline errors to HTTP status, error code and client message.
func classifyError(err error) (int, string, string) {
	switch {
	case errors.Is(err, predictor.ErrModelUnavailable):
		return http.StatusServiceUnavailable, "MODEL_UNAVAILABLE", "Rainfall model is not available"
	case errors.Is(err, predictor.ErrInvalidPrediction):
		return http.StatusUnprocessableEntity, "INVALID_PREDICTION", "Rainfall model returned an invalid value"
	case errors.Is(err, client.ErrLocationNotFound):
		return http.StatusNotFound, "LOCATION_NOT_FOUND", "City not found"
	case errors.Is(err, service.ErrWeatherUnavailable):
		return http.StatusServiceUnavailable, "WEATHER_UNAVAILABLE", "Unable to fetch weather data"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Prediction failed"
	}
}

func recordOutcome(status int) {
	if status >= 500 {
		traffic.RecordError()
		return
	}
	traffic.RecordSuccess()
}

// readValues collects request fields from a JSON object or a form body. JSON numbers
// and strings are both accepted.
func readValues(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		raw := map[string]json.RawMessage{}
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("request body must be a JSON object")
		}
		values := make(map[string]string, len(raw))
		for k, v := range raw {
			values[strings.ToLower(k)] = jsonScalar(v)
		}
		return values, nil
	}

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			return nil, fmt.Errorf("invalid form body")
		}
	} else if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("invalid form body")
	}
	values := make(map[string]string, len(r.Form))
	for k := range r.Form {
		values[strings.ToLower(k)] = r.Form.Get(k)
	}
	return values, nil
}

// jsonScalar renders a JSON number or string as text; anything else becomes
// its raw form and fails numeric parsing downstream.
func jsonScalar(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(v, &n); err == nil {
		return n.String()
	}
	trimmed := strings.TrimSpace(string(v))
	if trimmed == "null" {
		return ""
	}
	return trimmed
}

// GetChartData handles GET /chart_data?n=. Returns the last n records (default 50).
func (h *Handler) GetChartData(w http.ResponseWriter, r *http.Request) {
	n, ok := h.countParam(w, r, h.limits.HistoryLimit)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.advisory.History(r.Context(), n))
}

// GetChart handles GET /chart?n=. Returns the rainfall series (default 20 points).
func (h *Handler) GetChart(w http.ResponseWriter, r *http.Request) {
	n, ok := h.countParam(w, r, h.limits.ChartPoints)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.advisory.Chart(r.Context(), n))
}

// GetReport handles GET /report. Plain text by default, JSON with ?format=json.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep := h.advisory.Report(r.Context())
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, rep)
		return
	}
	var buf bytes.Buffer
	if err := report.WriteText(&buf, rep); err != nil {
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to render report")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="weather_advisory_report.txt"`)
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

// GetHistoryXLSX handles GET /history.xlsx?n=. Spreadsheet of the last n records.
func (h *Handler) GetHistoryXLSX(w http.ResponseWriter, r *http.Request) {
	n, ok := h.countParam(w, r, h.limits.HistoryLimit)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteXLSX(&buf, h.advisory.History(r.Context(), n)); err != nil {
		observability.LoggerFromContext(r.Context(), h.logger).Error("history export failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to export history")
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="prediction_history.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, &buf)
}

// countParam parses ?n= (1..maxRecords), falling back to def when absent.
func (h *Handler) countParam(w http.ResponseWriter, r *http.Request, def int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("n"))
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxRecords {
		writeError(w, r, http.StatusBadRequest, "INVALID_PARAMETER", fmt.Sprintf("n must be an integer between 1 and %d", maxRecords))
		return 0, false
	}
	return n, true
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	checks := h.runChecks(r.Context())
	result := h.computeHealthStatus(checks)

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	if result.status == "degraded" && h.healthConfig != nil && h.healthConfig.OnDegraded != nil {
		h.healthConfig.OnDegraded(result.reason)
	}

	now := time.Now()
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   observability.ServiceName,
		"version":   "dev",
		"checks":    checks,
		"uptime":    lifecycle.Uptime(now).Round(time.Second).String(),
		"timestamp": now.UTC().Format(time.RFC3339),
	}
	if result.reason != "" {
		resp["reason"] = result.reason
	}
	writeJSON(w, result.statusCode, resp)
}

const (
	checkHealthy     = "healthy"
	checkUnhealthy   = "unhealthy"
	checkUnavailable = "unavailable"
	checkDisabled    = "disabled"
)

func (h *Handler) runChecks(ctx context.Context) map[string]string {
	checks := make(map[string]string)

	checks["model"] = checkHealthy
	if !h.advisory.ModelReady() {
		checks["model"] = checkUnavailable
	}

	checks["predictionLog"] = checkHealthy
	if err := h.advisory.CheckLog(ctx); err != nil {
		checks["predictionLog"] = checkUnhealthy
	}

	checks["weatherApi"] = checkHealthy
	if !h.advisory.AutoEnabled() {
		checks["weatherApi"] = checkDisabled
	}

	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			checks["cache"] = checkHealthy
			if h.healthConfig.CachePing() != nil {
				checks["cache"] = checkUnhealthy
			}
		}
		for _, cb := range h.healthConfig.Breakers {
			checks["circuit:"+cb.Component()] = cb.State().String()
		}
	}
	return checks
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus(checks map[string]string) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}

	if hc := h.healthConfig; hc != nil && hc.RateLimitRPS > 0 && hc.OverloadWindow > 0 {
		threshold := float64(hc.RateLimitRPS) * hc.OverloadWindow.Seconds() * float64(hc.OverloadThresholdPct) / 100
		if float64(traffic.RequestCount(hc.OverloadWindow)) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}

	if checks["model"] != checkHealthy {
		return healthResult{"degraded", http.StatusServiceUnavailable, "model_unavailable"}
	}
	if checks["predictionLog"] != checkHealthy {
		return healthResult{"degraded", http.StatusServiceUnavailable, "prediction_log_unreadable"}
	}
	for name, v := range checks {
		if strings.HasPrefix(name, "circuit:") && v == circuitbreaker.StateOpen.String() {
			return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
		}
	}

	if hc := h.healthConfig; hc != nil && hc.DegradedWindow > 0 && hc.DegradedErrorPct > 0 {
		errs, total := traffic.ErrorRate(hc.DegradedWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(hc.DegradedErrorPct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorBody(w, r, status, errorBody{Code: code, Message: message})
}

func writeErrorBody(w http.ResponseWriter, r *http.Request, status int, body errorBody) {
	body.RequestID = observability.CorrelationID(r.Context())
	writeJSON(w, status, map[string]interface{}{"error": body})
}
