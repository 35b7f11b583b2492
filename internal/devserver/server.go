package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// SessionCookie is the name of the session cookie set on login.
const SessionCookie = "session"

// Frame types sent to clients.
const (
	frameConnected = "connected"
	frameMessage   = "message"
	frameError     = "error"
)

type contextKey string

const userIDKey contextKey = "user_id"

// Server is an in-memory chat server speaking the client's wire contract.
type Server struct {
	store    *store
	hub      *hub
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader

	closeOnce sync.Once
}

// New creates a server and starts its hub. Call Close to stop it.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		store:  newStore(),
		hub:    newHub(logger),
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.router = s.routes()

	go s.hub.run()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api/1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", s.handleRegister)
			r.Post("/login", s.handleLogin)
			r.Post("/logout", s.handleLogout)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.requireSession)
			r.Get("/users/", s.handleSearchUsers)
			r.Get("/users/{query}", s.handleSearchUsers)
			r.Get("/messages/{peerID}", s.handleMessages)
			r.Get("/ws", s.handleWS)
		})
	})

	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the hub. Open connections receive a normal closure.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.hub.done)
	})
}

// Register creates an account directly, bypassing HTTP.
func (s *Server) Register(username, password string) (int64, error) {
	u, err := s.store.register(username, password)
	if err != nil {
		return 0, err
	}
	return u.ID, nil
}

// DropConnections abruptly closes the sockets of userID, or of everyone when
// userID is 0, without a close frame. It returns the number dropped.
func (s *Server) DropConnections(userID int64) int {
	return s.hub.kick(userID, 0)
}

// CloseConnections closes the sockets of userID (0 for everyone) with the
// given close code.
func (s *Server) CloseConnections(userID int64, code int) int {
	return s.hub.kick(userID, code)
}

// Connections returns the number of registered websocket connections.
func (s *Server) Connections() int {
	return s.hub.connections()
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	u, err := s.store.register(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("user registered", "user_id", u.ID, "username", u.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": u.ID,
		"message": "registration successful",
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}

	u, token, err := s.store.login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.logger.Info("user logged in", "user_id", u.ID, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"user_id": u.ID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		s.store.logout(token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
	writeJSON(w, http.StatusOK, map[string]any{"message": "logout successful"})
}

func (s *Server) handleSearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(chi.URLParam(r, "query"))
	if query == "" {
		writeJSON(w, http.StatusOK, []User{})
		return
	}

	exact, matches := s.store.search(query)
	switch {
	case exact != nil:
		writeJSON(w, http.StatusOK, exact)
	case len(matches) == 0:
		writeError(w, http.StatusNotFound, ErrUserNotFound.Error())
	default:
		writeJSON(w, http.StatusOK, matches)
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	self := userIDFrom(r.Context())
	peer, err := strconv.ParseInt(chi.URLParam(r, "peerID"), 10, 64)
	if err != nil || peer <= 0 {
		writeError(w, http.StatusBadRequest, "invalid peer id")
		return
	}

	msgs := s.store.conversation(self, peer)
	if len(msgs) == 0 {
		writeError(w, http.StatusNotFound, "no messages")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "user_id", userID, "error", err)
		return
	}

	c := &client{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
	}

	// Confirmation goes first, ahead of any routed traffic
	c.enqueue(map[string]any{
		"type":    frameConnected,
		"user_id": userID,
		"message": "WebSocket connection established",
	})

	if !s.hub.add(c) {
		conn.Close()
		return
	}
	go c.writePump(s.logger)

	s.readPump(c)
}

type outbound struct {
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text"`
}

// readPump handles frames from c until the connection ends.
func (s *Server) readPump(c *client) {
	defer s.hub.drop(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure {
				s.logger.Debug("read ended", "user_id", c.userID, "error", err)
			}
			return
		}

		var req outbound
		if err := json.Unmarshal(data, &req); err != nil {
			s.reply(c, "invalid message format")
			continue
		}

		text := strings.TrimSpace(req.Text)
		switch {
		case req.ReceiverID <= 0:
			s.reply(c, "receiver_id is required")
			continue
		case text == "":
			s.reply(c, "message text is empty")
			continue
		}
		if _, ok := s.store.user(req.ReceiverID); !ok {
			s.reply(c, "receiver not found")
			continue
		}

		m := s.store.appendMessage(c.userID, req.ReceiverID, text)
		frame, _ := json.Marshal(map[string]any{
			"type":        frameMessage,
			"id":          m.ID,
			"sender_id":   m.SenderID,
			"receiver_id": m.ReceiverID,
			"text":        m.Text,
			"created_at":  m.CreatedAt,
		})
		s.hub.send(delivery{senderID: m.SenderID, receiverID: m.ReceiverID, data: frame})
	}
}

func (s *Server) reply(c *client, msg string) {
	frame, _ := json.Marshal(map[string]any{"type": frameError, "error": msg})
	s.hub.send(delivery{to: c, data: frame})
}

// requireSession authenticates with the session cookie or a bearer token.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing session")
			return
		}
		userID, err := s.store.session(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
		)
	})
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
	}
	return ""
}

func userIDFrom(ctx context.Context) int64 {
	id, _ := ctx.Value(userIDKey).(int64)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
