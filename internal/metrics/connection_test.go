package metrics

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/lilychat/internal/connection"
)

// Compile-time check
var _ connection.Recorder = (*ConnectionMetrics)(nil)

func TestConnectionMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConnectionMetrics(reg)

	m.AttemptStarted()
	m.AttemptStarted()
	m.ReconnectScheduled(2 * time.Second)
	m.Confirmed()
	m.HandshakeTimedOut()
	m.ReconnectExhausted()

	if got := testutil.ToFloat64(m.attempts); got != 2 {
		t.Errorf("attempts = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.reconnects); got != 1 {
		t.Errorf("reconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.confirmations); got != 1 {
		t.Errorf("confirmations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.handshakeTimeouts); got != 1 {
		t.Errorf("handshake timeouts = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.exhausted); got != 1 {
		t.Errorf("exhausted = %v, want 1", got)
	}
}

func TestConnectionMetrics_Labels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConnectionMetrics(reg)

	m.FrameReceived(connection.FrameMessage)
	m.FrameReceived(connection.FrameMessage)
	m.FrameReceived("")

	m.MessageSent(nil)
	m.MessageSent(connection.ErrNotConnected)
	m.MessageSent(connection.ErrSendFailure)
	m.MessageSent(errors.New("other"))

	if got := testutil.ToFloat64(m.frames.WithLabelValues("message")); got != 2 {
		t.Errorf("message frames = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.frames.WithLabelValues("unknown")); got != 1 {
		t.Errorf("unknown frames = %v, want 1", got)
	}

	for _, result := range []string{SendOK, SendNotConnected, SendFailed, SendError} {
		if got := testutil.ToFloat64(m.sends.WithLabelValues(result)); got != 1 {
			t.Errorf("sends{result=%q} = %v, want 1", result, got)
		}
	}
}

func TestConnectionMetrics_State(t *testing.T) {
	m := NewConnectionMetrics(prometheus.NewRegistry())

	m.StateChanged(connection.StateOpen)
	if got := testutil.ToFloat64(m.state); got != float64(connection.StateOpen) {
		t.Errorf("state = %v, want %v", got, float64(connection.StateOpen))
	}
}

func TestNewHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewConnectionMetrics(reg)
	m.AttemptStarted()

	state := connection.StateConnecting
	server := httptest.NewServer(NewHandler("/metrics", reg, func() connection.State { return state }))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "lilychat_connection_attempts_total 1") {
		t.Errorf("metrics output missing attempts counter:\n%s", body)
	}

	resp, err = http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	var health struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "degraded" {
		t.Errorf("status = %q, want degraded", health.Status)
	}
	if health.Components["connection"] != "connecting" {
		t.Errorf("connection = %q, want connecting", health.Components["connection"])
	}
}
