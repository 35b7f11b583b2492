package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rickgao/lilychat/internal/connection"
)

const namespace = "lilychat"

// Send results.
const (
	SendOK           = "ok"
	SendNotConnected = "not_connected"
	SendFailed       = "failed"
	SendError        = "error"
)

// ConnectionMetrics records connection manager events. It implements
// connection.Recorder.
type ConnectionMetrics struct {
	attempts          prometheus.Counter
	reconnects        prometheus.Counter
	reconnectDelay    prometheus.Histogram
	confirmations     prometheus.Counter
	handshakeTimeouts prometheus.Counter
	exhausted         prometheus.Counter
	frames            *prometheus.CounterVec
	sends             *prometheus.CounterVec
	state             prometheus.Gauge
}

// NewConnectionMetrics creates the collectors and registers them on reg.
func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	f := promauto.With(reg)

	return &ConnectionMetrics{
		attempts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_total",
			Help:      "Number of websocket connection attempts started.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_scheduled_total",
			Help:      "Number of reconnects scheduled after abnormal closures.",
		}),
		reconnectDelay: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconnect_delay_seconds",
			Help:      "Backoff delay before each scheduled reconnect.",
			Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
		confirmations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_confirmations_total",
			Help:      "Number of connections confirmed by the server.",
		}),
		handshakeTimeouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_timeouts_total",
			Help:      "Number of attempts that were not confirmed in time.",
		}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_exhausted_total",
			Help:      "Number of times reconnection gave up.",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		sends: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Outbound sends by result.",
		}, []string{"result"}),
		state: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Current connection state (0 idle, 1 connecting, 2 open, 3 closing, 4 closed).",
		}),
	}
}

func (m *ConnectionMetrics) AttemptStarted() {
	m.attempts.Inc()
}

func (m *ConnectionMetrics) ReconnectScheduled(delay time.Duration) {
	m.reconnects.Inc()
	m.reconnectDelay.Observe(delay.Seconds())
}

func (m *ConnectionMetrics) Confirmed() {
	m.confirmations.Inc()
}

func (m *ConnectionMetrics) HandshakeTimedOut() {
	m.handshakeTimeouts.Inc()
}

func (m *ConnectionMetrics) ReconnectExhausted() {
	m.exhausted.Inc()
}

func (m *ConnectionMetrics) FrameReceived(frameType string) {
	if frameType == "" {
		frameType = "unknown"
	}
	m.frames.WithLabelValues(frameType).Inc()
}

func (m *ConnectionMetrics) MessageSent(err error) {
	m.sends.WithLabelValues(sendResult(err)).Inc()
}

func (m *ConnectionMetrics) StateChanged(state connection.State) {
	m.state.Set(float64(state))
}

func sendResult(err error) string {
	switch {
	case err == nil:
		return SendOK
	case errors.Is(err, connection.ErrNotConnected):
		return SendNotConnected
	case errors.Is(err, connection.ErrSendFailure):
		return SendFailed
	default:
		return SendError
	}
}
