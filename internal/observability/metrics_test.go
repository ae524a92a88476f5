package observability

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsHandler(t *testing.T) {
	Sessions.WithLabelValues("succeeded").Inc()

	srv := httptest.NewServer(NewMetricsHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `wayfinder_loop_sessions_total{status="succeeded"}`)
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(Outcomes.WithLabelValues("failed", "timeout"))
	Outcomes.WithLabelValues("failed", "timeout").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Outcomes.WithLabelValues("failed", "timeout")))
}

func TestTracerProviderWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewTracerProvider("wayfinder-test", "dev", &buf)
	require.NoError(t, err)

	_, span := StartSpan(context.Background(), "observe")
	span.SetAttributes(AttrStep.Int(1))
	span.End()

	require.NoError(t, tp.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"observe"`)
}
