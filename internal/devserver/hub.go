package devserver

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// client is one websocket connection of a logged-in user.
type client struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
}

// enqueue queues a frame without blocking. Only safe before the client is
// registered; afterwards the hub owns send.
func (c *client) enqueue(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// writePump drains send to the socket until the hub closes it.
func (c *client) writePump(logger *slog.Logger) {
	defer c.conn.Close()

	for data := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Debug("write failed", "user_id", c.userID, "error", err)
			return
		}
	}
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}

type delivery struct {
	senderID   int64
	receiverID int64
	to         *client // set for a reply to a single connection
	data       []byte
}

type disconnect struct {
	userID int64 // 0 means everyone
	code   int   // 0 means drop without a close frame
	done   chan int
}

// hub routes frames between the connections of each user.
type hub struct {
	clients    map[int64]map[*client]struct{}
	register   chan *client
	unregister chan *client
	deliver    chan delivery
	disconnect chan disconnect
	count      chan chan int
	done       chan struct{}
	logger     *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{
		clients:    make(map[int64]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		deliver:    make(chan delivery),
		disconnect: make(chan disconnect),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.register:
			set, ok := h.clients[c.userID]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.userID] = set
			}
			set[c] = struct{}{}
			h.logger.Debug("client registered", "user_id", c.userID, "connections", len(set))

		case c := <-h.unregister:
			h.remove(c)

		case d := <-h.deliver:
			if d.to != nil {
				if _, ok := h.clients[d.to.userID][d.to]; ok {
					h.push(d.to, d.data)
				}
				continue
			}
			// Receiver first, then the sender's own connections as an echo
			h.fanout(d.receiverID, d.data)
			if d.senderID != d.receiverID {
				h.fanout(d.senderID, d.data)
			}

		case req := <-h.disconnect:
			n := 0
			for id, set := range h.clients {
				if req.userID != 0 && id != req.userID {
					continue
				}
				for c := range set {
					if req.code == 0 {
						c.conn.UnderlyingConn().Close()
					} else {
						c.conn.WriteControl(
							websocket.CloseMessage,
							websocket.FormatCloseMessage(req.code, ""),
							time.Now().Add(time.Second),
						)
						c.conn.Close()
					}
					n++
				}
			}
			req.done <- n

		case reply := <-h.count:
			n := 0
			for _, set := range h.clients {
				n += len(set)
			}
			reply <- n

		case <-h.done:
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = nil
			return
		}
	}
}

func (h *hub) remove(c *client) {
	set, ok := h.clients[c.userID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.userID)
	}
	h.logger.Debug("client unregistered", "user_id", c.userID)
}

func (h *hub) fanout(userID int64, data []byte) {
	for c := range h.clients[userID] {
		h.push(c, data)
	}
}

func (h *hub) push(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("client too slow, dropping connection", "user_id", c.userID)
		h.remove(c)
	}
}

// add registers c. It reports false if the hub has stopped.
func (h *hub) add(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) drop(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *hub) send(d delivery) {
	select {
	case h.deliver <- d:
	case <-h.done:
	}
}

func (h *hub) kick(userID int64, code int) int {
	req := disconnect{userID: userID, code: code, done: make(chan int, 1)}
	select {
	case h.disconnect <- req:
		return <-req.done
	case <-h.done:
		return 0
	}
}

func (h *hub) connections() int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
		return <-reply
	case <-h.done:
		return 0
	}
}
