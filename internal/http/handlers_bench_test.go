package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func BenchmarkPostPredict(b *testing.B) {
	env := newTestEnv(b, envOptions{model: constantModel(12.5)})
	body := measurementForm()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodPost, "/predict", strings.NewReader(body))
		req.Header.Set("Content-Type", formType)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			b.Fatalf("status = %d", w.Code)
		}
	}
}

func BenchmarkGetChartData(b *testing.B) {
	env := newTestEnv(b, envOptions{})
	seed(b, env, make([]float64, 500)...)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chart_data", nil))
	}
}
