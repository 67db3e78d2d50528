package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"closeline/internal/metrics"
)

func TestObserveCall(t *testing.T) {
	m := metrics.New()
	m.ObserveCall("initialize", metrics.ResultApplied, time.Millisecond)
	m.ObserveCall("initialize", metrics.ResultRejected, time.Millisecond)
	m.ObserveCall("initialize", metrics.ResultRejected, time.Millisecond)
	m.SetApps(3)

	expected := `
# HELP closeline_calls_total Application calls by action and result
# TYPE closeline_calls_total counter
closeline_calls_total{action="initialize",result="applied"} 1
closeline_calls_total{action="initialize",result="rejected"} 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "closeline_calls_total"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "closeline_apps 3")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveCall("cancel_agreement", metrics.ResultApplied, time.Second)
	m.IncApps()
	m.ObserveEvent("INIT")
	m.StreamOpened()
	m.StreamClosed()
}
