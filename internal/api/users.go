package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrEmptyQuery is returned by SearchUsers for an empty query.
var ErrEmptyQuery = errors.New("search query is empty")

// SearchUsers looks users up by name. The server answers with either a
// single user or a list; both come back as a slice.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]User, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	body, err := c.doWithRetry(ctx, http.MethodGet, "/users/"+url.PathEscape(query), nil)
	if err != nil {
		if IsNotFound(err) {
			return []User{}, nil
		}
		return nil, fmt.Errorf("search users: %w", err)
	}

	users, err := decodeUsers(body)
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	return users, nil
}

func decodeUsers(body []byte) ([]User, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return []User{}, nil
	}

	if body[0] == '[' {
		var users []User
		if err := json.Unmarshal(body, &users); err != nil {
			return nil, fmt.Errorf("unmarshal users: %w", err)
		}
		if users == nil {
			users = []User{}
		}
		return users, nil
	}

	var user User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	if user.ID == 0 && user.Username == "" {
		return []User{}, nil
	}
	return []User{user}, nil
}
