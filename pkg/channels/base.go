package channels

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
)

type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Send(ctx context.Context, msg bus.OutboundMessage) error
	IsRunning() bool
	IsAllowed(senderID string) bool
}

// Sender identifies who wrote an inbound message and where.
type Sender struct {
	ID       string
	Nickname string
	ChatID   string
	GroupID  string
}

type BaseChannel struct {
	bus       *bus.MessageBus
	running   atomic.Bool
	name      string
	allowList []string
}

func NewBaseChannel(name string, messageBus *bus.MessageBus, allowList []string) *BaseChannel {
	return &BaseChannel{
		bus:       messageBus,
		name:      name,
		allowList: allowList,
	}
}

func (c *BaseChannel) Name() string {
	return c.name
}

func (c *BaseChannel) IsRunning() bool {
	return c.running.Load()
}

func (c *BaseChannel) IsAllowed(senderID string) bool {
	if len(c.allowList) == 0 {
		return true
	}

	// Compound ids look like "123456|username".
	idPart := senderID
	userPart := ""
	if idx := strings.Index(senderID, "|"); idx > 0 {
		idPart = senderID[:idx]
		userPart = senderID[idx+1:]
	}

	for _, allowed := range c.allowList {
		candidate := strings.TrimSpace(strings.TrimPrefix(allowed, "@"))
		if candidate == "" {
			continue
		}
		if candidate == senderID || candidate == idPart || (userPart != "" && candidate == userPart) {
			return true
		}
	}

	return false
}

// SessionKey is the conversation scope used for persona editing state.
func SessionKey(channel, chatID string) string {
	return fmt.Sprintf("%s:%s", channel, chatID)
}

func (c *BaseChannel) HandleMessage(from Sender, content string, media []string, metadata map[string]string) {
	if !c.IsAllowed(from.ID) {
		return
	}

	c.bus.PublishInbound(bus.InboundMessage{
		Channel:    c.name,
		SenderID:   from.ID,
		SenderName: from.Nickname,
		ChatID:     from.ChatID,
		GroupID:    from.GroupID,
		Content:    content,
		Media:      media,
		SessionKey: SessionKey(c.name, from.ChatID),
		Metadata:   metadata,
	})
}

func (c *BaseChannel) setRunning(running bool) {
	c.running.Store(running)
}
