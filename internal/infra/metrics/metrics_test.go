package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observers(t *testing.T) {
	m := New()

	m.SinkAttached(1)
	m.SinkAttached(2)
	m.SinkDetached(1)
	m.SinkDropped()
	m.ChunkBroadcast(1600, 2)
	m.ChunkBroadcast(400, 2)
	m.FetchSucceeded()
	m.FetchSucceeded()
	m.FetchFailed()
	m.PlaybackEvent("track_started")
	m.SetQueueDepth(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.listeners))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.sinkDrops))
	assert.Equal(t, float64(2000), testutil.ToFloat64(m.bytes))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.fetches.WithLabelValues("success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.fetches.WithLabelValues("failure")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.playbackEvents.WithLabelValues("track_started")))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.SinkAttached(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "radio_listeners 4")
	assert.Contains(t, string(body), "go_goroutines")
}
