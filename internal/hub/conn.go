package hub

import (
	"encoding/json"
	"fmt"

	"transit-hub/internal/transit"
)

// Sender writes frames to one client. Implementations must be safe for
// concurrent use; the hub sends from many goroutines.
type Sender interface {
	Send(msg Message) error
}

// Conn is one authenticated real-time connection.
type Conn struct {
	ID     string
	UserID string
	Role   transit.Role

	sender Sender
}

func NewConn(id, userID string, role transit.Role, s Sender) *Conn {
	return &Conn{ID: id, UserID: userID, Role: role, sender: s}
}

// Emit sends a single event to this connection.
func (c *Conn) Emit(event string, data any) error {
	msg, err := newMessage(event, data)
	if err != nil {
		return err
	}
	return c.sender.Send(msg)
}

func newMessage(event string, data any) (Message, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Message{Event: event, Data: b}, nil
}
