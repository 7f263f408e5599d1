package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kev-ang/ruben/internal/benchmark"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveQuery("Mangle", "c1_t1_tc1", benchmark.QueryOutcome{Query: "q1", Count: 3, Elapsed: 5 * time.Millisecond})
	r.ObserveQuery("Mangle", "c1_t1_tc1", benchmark.QueryOutcome{Query: "q1", Repetition: 1, Count: 3, Elapsed: time.Millisecond})
	r.ObserveQuery("Mangle", "c1_t1_tc1", benchmark.QueryOutcome{Query: "q2", Classification: benchmark.ClassificationTimeout, Elapsed: time.Second})
	r.ObservePhase("Mangle", "c1_t1_tc1", benchmark.PhasePrepare, 20*time.Millisecond, nil)
	r.ObservePhase("Mangle", "c1_t1_tc1", benchmark.PhaseMaterialize, time.Second, errors.New("limit"))

	assert.Equal(t, float64(2), promtest.ToFloat64(r.queryOutcomes.WithLabelValues("Mangle", "ok")))
	assert.Equal(t, float64(1), promtest.ToFloat64(r.queryOutcomes.WithLabelValues("Mangle", "timeout")))
	assert.Equal(t, float64(1), promtest.ToFloat64(r.phaseFailures.WithLabelValues("Mangle", benchmark.PhaseMaterialize)))
	assert.Equal(t, 2, promtest.CollectAndCount(r.queryDuration))
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.ObserveQuery("Mangle", "c1_t1_tc1", benchmark.QueryOutcome{Query: "q1", Count: 1})

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `ruben_query_outcomes_total{classification="ok",engine="Mangle"} 1`)
}
