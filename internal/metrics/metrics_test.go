package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// Gauges are exported at zero; counters only after first observation.
	body := w.Body.String()
	for _, name := range []string{"haven_active_websocket_clients", "haven_stream_queue_depth"} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}

	RiskEvaluationsTotal.WithLabelValues("warn").Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "haven_risk_evaluations_total") {
		t.Error("Expected haven_risk_evaluations_total after incrementing")
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/thing/:id", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/thing/:id", "2xx"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/thing/42", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/v1/thing/:id", "2xx"))
	if after != before+1 {
		t.Errorf("request counter = %v, want %v", after, before+1)
	}
}

func TestMiddleware_ObservesDuration(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/v1/timed", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	read := func() uint64 {
		m := &dto.Metric{}
		obs, err := HTTPRequestDuration.GetMetricWithLabelValues("GET", "/v1/timed")
		if err != nil {
			t.Fatalf("GetMetricWithLabelValues failed: %v", err)
		}
		if err := obs.(prometheus.Metric).Write(m); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
		return m.GetHistogram().GetSampleCount()
	}

	before := read()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/timed", nil))
	if got := read(); got != before+1 {
		t.Errorf("sample count = %d, want %d", got, before+1)
	}
}

func TestRateLimitedCounter(t *testing.T) {
	RateLimitedTotal.Reset()
	RateLimitedTotal.WithLabelValues("anonymous").Inc()

	m := &dto.Metric{}
	counter, err := RateLimitedTotal.GetMetricWithLabelValues("anonymous")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	_ = counter.Write(m)
	if m.Counter.GetValue() != 1.0 {
		t.Errorf("expected counter value 1, got %f", m.Counter.GetValue())
	}
}
