package api

import (
	"context"
	"fmt"
	"strconv"
)

// GetMessages returns the stored conversation with peerID, oldest first.
// A 404 means no history and yields an empty slice.
func (c *Client) GetMessages(ctx context.Context, peerID int64) ([]Message, error) {
	var messages []Message
	if err := c.get(ctx, "/messages/"+strconv.FormatInt(peerID, 10), &messages); err != nil {
		if IsNotFound(err) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("get messages: %w", err)
	}
	if messages == nil {
		messages = []Message{}
	}
	return messages, nil
}
