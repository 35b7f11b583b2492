package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is a single duplex, message-framed channel to the server.
type Transport interface {
	// ReadFrame blocks until the next text frame arrives. When the channel
	// ends it returns a *TransportError carrying the close code.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one text frame.
	WriteFrame(data []byte) error

	// Close sends a close frame with the given code and releases the channel.
	Close(code int, reason string) error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// WSDialerConfig configures a WSDialer.
type WSDialerConfig struct {
	URL              string         // Websocket URL
	Jar              http.CookieJar // Session cookies from the HTTP collaborator
	Header           http.Header    // Extra upgrade headers (e.g., User-Agent)
	HandshakeTimeout time.Duration  // Upgrade handshake timeout
	WriteTimeout     time.Duration  // Write deadline for frames
	PingInterval     time.Duration  // Keepalive ping period, 0 disables
	PongWait         time.Duration  // Read deadline extension after any inbound traffic
}

// WSDialer dials gorilla websocket transports.
type WSDialer struct {
	cfg    WSDialerConfig
	logger *slog.Logger
}

// NewWSDialer creates a websocket dialer.
func NewWSDialer(cfg WSDialerConfig, logger *slog.Logger) *WSDialer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.PingInterval > 0 && cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = 2 * cfg.PingInterval
	}
	return &WSDialer{cfg: cfg, logger: logger}
}

// Dial opens a websocket connection. The session cookie travels with the
// upgrade request through the configured jar.
func (d *WSDialer) Dial(ctx context.Context) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
		Jar:              d.cfg.Jar,
	}

	header := http.Header{}
	for k, v := range d.cfg.Header {
		header[k] = v
	}

	conn, resp, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		te := &TransportError{Code: CloseAbnormal, Err: err}
		if resp != nil {
			te.Reason = resp.Status
		}
		return nil, te
	}

	t := &wsTransport{
		conn:   conn,
		cfg:    d.cfg,
		logger: d.logger,
		done:   make(chan struct{}),
	}

	if d.cfg.PongWait > 0 {
		conn.SetReadDeadline(time.Now().Add(d.cfg.PongWait))
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		t.extendReadDeadline()
		t.writeMu.Lock()
		defer t.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		t.extendReadDeadline()
		return nil
	})

	if d.cfg.PingInterval > 0 {
		go t.heartbeatLoop()
	}

	d.logger.Debug("websocket connected", "url", d.cfg.URL)
	return t, nil
}

// wsTransport implements Transport over a gorilla websocket connection.
type wsTransport struct {
	conn   *websocket.Conn
	cfg    WSDialerConfig
	logger *slog.Logger

	// Write serialization
	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func (t *wsTransport) extendReadDeadline() {
	if t.cfg.PongWait > 0 {
		t.conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	}
}

// ReadFrame reads the next data frame.
func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		msgType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, classifyReadError(err)
		}
		t.extendReadDeadline()
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// WriteFrame writes a text frame.
func (t *wsTransport) WriteFrame(data []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (t *wsTransport) Close(code int, reason string) error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)

		t.writeMu.Lock()
		t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()

		err = t.conn.Close()
	})
	return err
}

// heartbeatLoop sends keepalive pings until the transport is closed.
func (t *wsTransport) heartbeatLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
				return
			}
		}
	}
}

// classifyReadError maps a gorilla read error to a TransportError. Anything
// that is not a close frame from the peer is an abrupt drop.
func classifyReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return &TransportError{Code: ce.Code, Reason: ce.Text, Err: err}
	}
	return &TransportError{Code: CloseAbnormal, Err: err}
}

// closeCode extracts the close code from a read error.
func closeCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Code
	}
	return CloseAbnormal
}
