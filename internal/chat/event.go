package chat

import (
	"time"

	"github.com/rickgao/lilychat/internal/api"
	"github.com/rickgao/lilychat/internal/connection"
)

// Direction tells whether the local user sent or received a message.
type Direction int

const (
	Received Direction = iota
	Sent
)

func (d Direction) String() string {
	if d == Sent {
		return "sent"
	}
	return "received"
}

// Entry is one message of the selected conversation.
type Entry struct {
	ID         int64
	SenderID   int64
	ReceiverID int64
	Text       string
	CreatedAt  time.Time
	Direction  Direction
}

// EventKind identifies an Event.
type EventKind int

const (
	EventMessage EventKind = iota
	EventError
)

// Event is delivered to the presentation layer.
type Event struct {
	Kind  EventKind
	Entry Entry // EventMessage
	Err   error // EventError
}

func entryFromLive(m connection.Message, self int64) Entry {
	return Entry{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt,
		Direction:  direction(m.SenderID, self),
	}
}

func entryFromHistory(m api.Message, self int64) Entry {
	return Entry{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		CreatedAt:  m.CreatedAt.Time,
		Direction:  direction(m.SenderID, self),
	}
}

func direction(sender, self int64) Direction {
	if sender == self {
		return Sent
	}
	return Received
}

// inConversation reports whether a message belongs to the two-party
// conversation between self and peer.
func inConversation(sender, receiver, self, peer int64) bool {
	return (sender == self && receiver == peer) || (sender == peer && receiver == self)
}
