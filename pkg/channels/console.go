package channels

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
)

// ConsoleChannel is a local single-user channel for the interactive CLI.
type ConsoleChannel struct {
	*BaseChannel
	out    io.Writer
	prefix string
	mu     sync.Mutex
}

const consoleChatID = "local"

func NewConsoleChannel(messageBus *bus.MessageBus, out io.Writer, prefix string) *ConsoleChannel {
	return &ConsoleChannel{
		BaseChannel: NewBaseChannel("console", messageBus, nil),
		out:         out,
		prefix:      prefix,
	}
}

func (c *ConsoleChannel) Start(ctx context.Context) error {
	c.setRunning(true)
	return nil
}

func (c *ConsoleChannel) Stop(ctx context.Context) error {
	c.setRunning(false)
	return nil
}

func (c *ConsoleChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.out, "\n%s %s\n\n", c.prefix, msg.Content)
	return err
}

// Submit publishes a line typed by the local user. A non-empty group id
// simulates a group chat so group-scoped features can be tried locally.
func (c *ConsoleChannel) Submit(userID, nickname, groupID, line string) {
	c.HandleMessage(Sender{
		ID:       userID,
		Nickname: nickname,
		ChatID:   consoleChatID,
		GroupID:  groupID,
	}, line, nil, nil)
}
