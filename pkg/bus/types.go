package bus

import "time"

// InboundMessage is a chat message delivered by a channel adapter.
type InboundMessage struct {
	Channel    string
	SenderID   string
	SenderName string
	ChatID     string
	// GroupID is empty for private chats.
	GroupID    string
	Content    string
	Media      []string
	SessionKey string
	Metadata   map[string]string
	ReceivedAt time.Time
}

// IsGroup reports whether the message came from a group conversation.
func (m InboundMessage) IsGroup() bool {
	return m.GroupID != ""
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
}
