package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

func TestRecordRequest(t *testing.T) {
	m := New("test")
	m.RecordRequest("GET", "/health", "200", 25*time.Millisecond)
	m.RecordRequest("POST", "/upload", "500", 100*time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, `test_requests_total{method="GET",route="/health",status="200"} 1`) {
		t.Errorf("missing GET request sample:\n%s", body)
	}
	if !strings.Contains(body, `test_requests_total{method="POST",route="/upload",status="500"} 1`) {
		t.Errorf("missing POST request sample:\n%s", body)
	}
	if !strings.Contains(body, "test_request_duration_seconds_bucket") {
		t.Errorf("missing duration histogram:\n%s", body)
	}
}

func TestRecordSessionLifecycle(t *testing.T) {
	m := New("test")
	m.RecordSessionStart()
	m.RecordSessionStart()
	m.RecordSessionEnd("audio", "ok", 42*time.Second)

	body := scrape(t, m)
	if !strings.Contains(body, "test_chat_sessions_active 1") {
		t.Errorf("expected one active session:\n%s", body)
	}
	if !strings.Contains(body, `test_chat_sessions_total{mode="audio",status="ok"} 1`) {
		t.Errorf("missing session total:\n%s", body)
	}
	if !strings.Contains(body, `test_chat_session_duration_seconds_sum{mode="audio"} 42`) {
		t.Errorf("missing session duration:\n%s", body)
	}
}

func TestRecordFramesAndTurns(t *testing.T) {
	m := New("test")
	m.RecordFrame("in", "text")
	m.RecordFrame("out", "audio")
	m.RecordFrame("out", "audio")
	m.RecordAudioBytes("out", 2048)
	m.RecordAudioBytes("out", 0)
	m.RecordTurn("completed")
	m.RecordTurn("interrupted")

	body := scrape(t, m)
	if !strings.Contains(body, `test_frames_total{direction="out",kind="audio"} 2`) {
		t.Errorf("missing frame count:\n%s", body)
	}
	if !strings.Contains(body, `test_audio_bytes_total{direction="out"} 2048`) {
		t.Errorf("missing audio bytes:\n%s", body)
	}
	if !strings.Contains(body, `test_turns_total{outcome="interrupted"} 1`) {
		t.Errorf("missing turn outcome:\n%s", body)
	}
}

func TestRecordAssistantActivity(t *testing.T) {
	m := New("test")
	m.RecordToolCall("load_memory", true)
	m.RecordToolCall("send_message_to_agent", false)
	m.RecordMemoryFlush(true)
	m.RecordMemoryFlush(false)
	m.RecordUpload(true)

	body := scrape(t, m)
	if !strings.Contains(body, `test_tool_calls_total{status="ok",tool="load_memory"} 1`) {
		t.Errorf("missing tool call:\n%s", body)
	}
	if !strings.Contains(body, `test_tool_calls_total{status="error",tool="send_message_to_agent"} 1`) {
		t.Errorf("missing failed tool call:\n%s", body)
	}
	if !strings.Contains(body, `test_memory_flushes_total{status="saved"} 1`) {
		t.Errorf("missing saved flush:\n%s", body)
	}
	if !strings.Contains(body, `test_memory_flushes_total{status="skipped"} 1`) {
		t.Errorf("missing skipped flush:\n%s", body)
	}
	if !strings.Contains(body, `test_uploads_total{status="ok"} 1`) {
		t.Errorf("missing upload:\n%s", body)
	}
}

func TestDefaultNamespace(t *testing.T) {
	m := New("")
	m.RecordUpload(true)

	if body := scrape(t, m); !strings.Contains(body, "lumen_uploads_total") {
		t.Errorf("expected lumen namespace:\n%s", body)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	if rw.StatusCode != http.StatusOK {
		t.Errorf("default status = %d, want 200", rw.StatusCode)
	}
	rw.WriteHeader(http.StatusTeapot)
	if _, err := rw.Write([]byte("short and stout")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rw.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want 418", rw.StatusCode)
	}
	if rw.BytesWritten != 15 {
		t.Errorf("bytes = %d, want 15", rw.BytesWritten)
	}
	if rw.StatusString() != "418" {
		t.Errorf("status string = %q", rw.StatusString())
	}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected hijack to fail on a recorder")
	}
}
