package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// User is a chat account as returned by user search.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

// Message is one stored message from the history endpoint.
type Message struct {
	ID         int64     `json:"id,omitempty"`
	SenderID   int64     `json:"sender_id"`
	ReceiverID int64     `json:"receiver_id"`
	Text       string    `json:"text"`
	CreatedAt  Timestamp `json:"created_at"`
}

// Credentials is the login and registration request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	UserID int64 `json:"user_id"`
}

// RegisterResponse is returned by a successful registration.
type RegisterResponse struct {
	UserID  int64  `json:"user_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// Timestamp accepts unix seconds (integer or fractional), a numeric string,
// or an RFC 3339 string. The zero value means absent.
type Timestamp struct {
	time.Time
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			t.Time = fromUnix(f)
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	t.Time = fromUnix(f)
	return nil
}

// MarshalJSON writes unix seconds, or null when absent.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.Unix(), 10)), nil
}

func fromUnix(f float64) time.Time {
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}
