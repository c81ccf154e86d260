package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voicechat/internal/domain"
	"voicechat/internal/infra/metrics"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape status: got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetrics_RecordsSessionActivity(t *testing.T) {
	m := metrics.NewMetrics()

	m.FrameSent(8192)
	m.FrameSent(8192)
	m.FrameDropped()
	m.ChunkScheduled(100 * time.Millisecond)
	m.Interrupted()
	m.ChunkDiscarded()
	m.TurnFinalized(2)
	m.MalformedPayload()

	body := scrape(t, m)
	for _, want := range []string{
		"voicechat_frames_sent_total 2",
		"voicechat_pcm_bytes_sent_total 16384",
		"voicechat_frames_dropped_total 1",
		"voicechat_chunks_scheduled_total 1",
		"voicechat_chunk_duration_seconds_count 1",
		"voicechat_interruptions_total 1",
		"voicechat_chunks_discarded_total 1",
		"voicechat_turns_finalized_total 1",
		"voicechat_messages_finalized_total 2",
		"voicechat_malformed_payloads_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_StatusIsOneHot(t *testing.T) {
	m := metrics.NewMetrics()
	m.StatusChanged(domain.StatusActive)

	body := scrape(t, m)
	for _, want := range []string{
		`voicechat_session_status{status="active"} 1`,
		`voicechat_session_status{status="idle"} 0`,
		`voicechat_session_status{status="connecting"} 0`,
		`voicechat_session_status{status="error"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("scrape missing %q", want)
		}
	}
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := metrics.NewMetrics()
	b := metrics.NewMetrics()
	a.Interrupted()

	if !strings.Contains(scrape(t, b), "voicechat_interruptions_total 0") {
		t.Error("metrics leaked across registries")
	}
}
