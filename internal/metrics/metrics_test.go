package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConditionEvaluated("bundle_intersection", true)
	m.ConditionEvaluated("bundle_intersection", true)
	m.LineFulfilled("Complete")
	m.RefundTransitioned("Complete")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.conditions.WithLabelValues("bundle_intersection", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lines.WithLabelValues("Complete")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.refunds.WithLabelValues("Complete")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ConditionEvaluated("x", false)
	m.DiscountApplied("Site")
	m.UpstreamObserved("catalog", "ok", time.Millisecond)
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.DiscountApplied("Voucher")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "coursecart_discounts_applied_total"))
}
