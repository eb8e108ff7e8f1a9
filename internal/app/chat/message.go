package chat

import (
	"encoding/json"
	"time"

	"nook/internal/app/user"
)

// Message is the frame delivered to every other connected identity when someone sends text.
type Message struct {
	// From is the sender's identity id.
	From string `json:"from"`

	// FromName is the sender's display name at the time the connection was opened.
	FromName string `json:"from_name"`

	// Content is the raw text frame as received.
	Content string `json:"content"`

	// Timestamp is assigned by the server in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// NewMessage builds a Message from sender with a server-assigned timestamp.
func NewMessage(sender user.Identity, content string, now time.Time) Message {
	return Message{
		From:      sender.ID,
		FromName:  sender.DisplayName,
		Content:   content,
		Timestamp: now.UnixMilli(),
	}
}

// Encode marshals the message once so that every recipient receives identical bytes.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}
