package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Record(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordReply("joy")
	m.RecordReply("joy")
	m.RecordLLM("gemini", 20*time.Millisecond, nil)
	m.RecordLLM("gemini", 20*time.Millisecond, errors.New("boom"))
	m.RecordDocument(".pdf", 4)
	m.RecordHTTPRequest("GET", "/health", 200, time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `emotibot_chat_replies_total{emotion="joy"} 2`)
	assert.Contains(t, body, `emotibot_llm_errors_total{provider="gemini"} 1`)
	assert.Contains(t, body, `emotibot_llm_request_duration_seconds_count{provider="gemini"} 2`)
	assert.Contains(t, body, `emotibot_memory_chunks_stored_total 4`)
	assert.Contains(t, body, `emotibot_documents_ingested_total{type=".pdf"} 1`)
	assert.Contains(t, body, `emotibot_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics_Handler(t *testing.T) {
	m := New(nil)
	m.RecordReply("fear")

	assert.Contains(t, scrape(t, m), `emotibot_chat_replies_total{emotion="fear"} 1`)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordReply("joy")
		m.RecordLLM("x", time.Second, nil)
		m.RecordDocument("", 1)
		m.InFlight(1)
		m.WebSocket(1)
	})
}
