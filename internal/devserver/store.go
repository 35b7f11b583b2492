package devserver

import (
	"crypto/subtle"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnknownSession     = errors.New("unknown session")
	ErrUserNotFound       = errors.New("user not found")
)

// User is a registered account.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	password string
}

// StoredMessage is one message in the log.
type StoredMessage struct {
	ID         int64  `json:"id"`
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Text       string `json:"text"`
	CreatedAt  int64  `json:"created_at"` // Unix seconds
}

// store keeps users, sessions and messages in memory.
type store struct {
	mu       sync.Mutex
	nextUser int64
	nextMsg  int64
	users    map[int64]*User
	byName   map[string]int64
	sessions map[string]int64
	messages []StoredMessage
	now      func() time.Time
}

func newStore() *store {
	return &store{
		users:    make(map[int64]*User),
		byName:   make(map[string]int64),
		sessions: make(map[string]int64),
		now:      time.Now,
	}
}

func (s *store) register(username, password string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strings.ToLower(username)
	if _, ok := s.byName[key]; ok {
		return nil, ErrUserExists
	}
	s.nextUser++
	u := &User{ID: s.nextUser, Username: username, password: password}
	s.users[u.ID] = u
	s.byName[key] = u.ID
	return u, nil
}

// login checks credentials and issues a session token.
func (s *store) login(username, password string) (*User, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byName[strings.ToLower(username)]
	if !ok {
		return nil, "", ErrInvalidCredentials
	}
	u := s.users[id]
	if subtle.ConstantTimeCompare([]byte(u.password), []byte(password)) != 1 {
		return nil, "", ErrInvalidCredentials
	}

	token := uuid.NewString()
	s.sessions[token] = u.ID
	return u, token, nil
}

func (s *store) logout(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

func (s *store) session(token string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.sessions[token]
	if !ok {
		return 0, ErrUnknownSession
	}
	return id, nil
}

func (s *store) user(id int64) (*User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	return u, ok
}

// search returns the exact match alone if there is one, otherwise every
// user whose name contains query, ordered by ID.
func (s *store) search(query string) (exact *User, matches []User) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(query)
	if id, ok := s.byName[q]; ok {
		u := *s.users[id]
		return &u, nil
	}
	for _, u := range s.users {
		if strings.Contains(strings.ToLower(u.Username), q) {
			matches = append(matches, *u)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return nil, matches
}

func (s *store) appendMessage(sender, receiver int64, text string) StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextMsg++
	m := StoredMessage{
		ID:         s.nextMsg,
		SenderID:   sender,
		ReceiverID: receiver,
		Text:       text,
		CreatedAt:  s.now().Unix(),
	}
	s.messages = append(s.messages, m)
	return m
}

// conversation returns the messages exchanged between a and b, oldest first.
func (s *store) conversation(a, b int64) []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []StoredMessage
	for _, m := range s.messages {
		if (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a) {
			out = append(out, m)
		}
	}
	return out
}
