package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveReply(t *testing.T) {
	m := NewMetrics("auriance", nil)

	m.ObserveReply(PathDemo)
	m.ObserveReply(PathDemo)
	m.ObserveReply(PathRejected)

	require.Equal(t, 2.0, testutil.ToFloat64(m.Replies.WithLabelValues(PathDemo)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Replies.WithLabelValues(PathRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.ValidationRejections))
}

func TestObserveSweep(t *testing.T) {
	m := NewMetrics("auriance", nil)
	m.ObserveSweep(3, 10)
	m.ObserveSweep(2, 8)

	require.Equal(t, 5.0, testutil.ToFloat64(m.Evictions))
	require.Equal(t, 8.0, testutil.ToFloat64(m.Conversations))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveReply(PathFallback)
		m.ObserveCompletion(time.Second)
		m.ObserveChat("http")
		m.ObserveSweep(1, 1)
	})
}

func TestHandlerExposesInstruments(t *testing.T) {
	m := NewMetrics("auriance", nil)
	m.ObserveChat("http")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `auriance_chat_requests_total{channel="http"} 1`)
}
