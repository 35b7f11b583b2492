package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/rickgao/lilychat/internal/api"
	"github.com/rickgao/lilychat/internal/connection"
)

var (
	ErrNoPeer       = errors.New("no conversation selected")
	ErrInvalidPeer  = errors.New("invalid peer id")
	ErrSelfPeer     = errors.New("cannot start a conversation with yourself")
	ErrReconnectNow = errors.New("connection lost, select the conversation again to reconnect")
)

// Session is the REST collaborator used by the controller.
type Session interface {
	Login(ctx context.Context, username, password string) (*api.LoginResponse, error)
	Logout(ctx context.Context) error
	SearchUsers(ctx context.Context, query string) ([]api.User, error)
	GetMessages(ctx context.Context, peerID int64) ([]api.Message, error)
}

// Conn is the live channel used by the controller.
type Conn interface {
	Connect(h connection.Handlers) *connection.Readiness
	Send(ctx context.Context, receiverID int64, text string) error
	Close() error
	Identity() (int64, bool)
	SetIdentity(id int64)
	ClearIdentity()
}

// Config configures a Controller.
type Config struct {
	EventBuffer int // Initial capacity of the event queue; it grows on demand
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{EventBuffer: 256}
}

// Controller owns one conversation at a time.
type Controller struct {
	session Session
	conn    Conn
	logger  *slog.Logger
	queue   *eventQueue
	events  chan Event
	done    chan struct{}

	mu        sync.Mutex
	peer      int64
	hasPeer   bool
	closeOnce sync.Once
}

// NewController creates a controller.
func NewController(cfg Config, session Session, conn Conn, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultConfig().EventBuffer
	}
	c := &Controller{
		session: session,
		conn:    conn,
		logger:  logger,
		queue:   newEventQueue(cfg.EventBuffer),
		events:  make(chan Event),
		done:    make(chan struct{}),
	}
	go c.forward()
	return c
}

// Events returns the channel of live messages and errors.
func (c *Controller) Events() <-chan Event {
	return c.events
}

// Login authenticates and records the returned user ID as the local identity.
func (c *Controller) Login(ctx context.Context, username, password string) (int64, error) {
	resp, err := c.session.Login(ctx, username, password)
	if err != nil {
		return 0, err
	}
	if resp.UserID != 0 {
		c.conn.SetIdentity(resp.UserID)
	}
	return resp.UserID, nil
}

// Logout ends the session. The server call is best effort; local state is
// always cleared and the channel closed.
func (c *Controller) Logout(ctx context.Context) error {
	if err := c.session.Logout(ctx); err != nil {
		c.logger.Warn("logout request failed", "error", err)
	}

	c.mu.Lock()
	c.peer = 0
	c.hasPeer = false
	c.mu.Unlock()

	c.conn.ClearIdentity()
	return c.conn.Close()
}

// SearchUsers looks users up by name.
func (c *Controller) SearchUsers(ctx context.Context, query string) ([]api.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []api.User{}, nil
	}
	return c.session.SearchUsers(ctx, query)
}

// Select makes peerID the current conversation, (re)connects the channel and
// returns the stored history, classified by direction.
func (c *Controller) Select(ctx context.Context, peerID int64) ([]Entry, error) {
	if peerID <= 0 {
		return nil, ErrInvalidPeer
	}
	if self, ok := c.conn.Identity(); ok && self == peerID {
		return nil, ErrSelfPeer
	}

	c.mu.Lock()
	c.peer = peerID
	c.hasPeer = true
	c.mu.Unlock()

	ready := c.conn.Connect(connection.Handlers{
		OnMessage: c.handleMessage,
		OnError:   c.handleError,
	})
	go c.watchReadiness(ready)

	history, err := c.session.GetMessages(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	self, _ := c.conn.Identity()
	entries := make([]Entry, 0, len(history))
	for _, m := range history {
		entries = append(entries, entryFromHistory(m, self))
	}

	c.logger.Debug("conversation selected", "peer_id", peerID, "history", len(entries))
	return entries, nil
}

// Peer returns the selected conversation partner.
func (c *Controller) Peer() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer, c.hasPeer
}

// Send sends text to the selected peer. Whitespace-only text is ignored.
func (c *Controller) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	peer, ok := c.Peer()
	if !ok {
		return ErrNoPeer
	}

	if err := c.conn.Send(ctx, peer, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Close closes the channel and stops event delivery. The controller cannot
// be reused afterwards.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.queue.close()
		close(c.done)
	})
	return c.conn.Close()
}

func (c *Controller) handleMessage(m connection.Message) {
	self, ok := c.conn.Identity()
	if !ok {
		return
	}
	peer, hasPeer := c.Peer()
	if !hasPeer || !inConversation(m.SenderID, m.ReceiverID, self, peer) {
		return
	}
	c.emit(Event{Kind: EventMessage, Entry: entryFromLive(m, self)})
}

func (c *Controller) handleError(err error) {
	// Both end the reconnect loop; nothing retries until the next Select.
	if errors.Is(err, connection.ErrReconnectExhausted) || errors.Is(err, connection.ErrHandshakeTimeout) {
		err = fmt.Errorf("%w: %w", ErrReconnectNow, err)
	}
	c.emit(Event{Kind: EventError, Err: err})
}

// watchReadiness reports a failed connect. A readiness rejected because a
// newer connect or Close superseded it is not an error worth showing.
func (c *Controller) watchReadiness(r *connection.Readiness) {
	<-r.Done()
	err := r.Err()
	if err == nil || errors.Is(err, connection.ErrConnectionClosed) {
		return
	}
	c.emit(Event{Kind: EventError, Err: fmt.Errorf("connect: %w", err)})
}

// emit queues ev without blocking the caller.
func (c *Controller) emit(ev Event) {
	if !c.queue.push(ev) {
		c.logger.Debug("controller closed, dropping event", "kind", ev.Kind)
	}
}

// forward moves queued events to the Events channel in order.
func (c *Controller) forward() {
	for {
		ev, ok := c.queue.pop()
		if !ok {
			return
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
