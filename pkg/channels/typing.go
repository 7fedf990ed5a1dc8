package channels

import (
	"context"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

// typingTracker keeps a "typing" indicator alive per chat until the reply
// for that chat has been sent.
type typingTracker struct {
	send     func(chatID string, opts ...discordgo.RequestOption) error
	interval time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

func newTypingTracker(send func(chatID string, opts ...discordgo.RequestOption) error, interval time.Duration) *typingTracker {
	return &typingTracker{send: send, interval: interval, active: make(map[string]context.CancelFunc)}
}

func (t *typingTracker) start(chatID string) {
	t.mu.Lock()
	if _, ok := t.active[chatID]; ok {
		t.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.active[chatID] = cancel
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			if err := t.send(chatID); err != nil {
				logger.DebugCF("discord", "Typing indicator failed", map[string]interface{}{
					"chat_id": chatID,
					"error":   err.Error(),
				})
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

func (t *typingTracker) stop(chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cancel, ok := t.active[chatID]; ok {
		cancel()
		delete(t.active, chatID)
	}
}

func (t *typingTracker) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for chatID, cancel := range t.active {
		cancel()
		delete(t.active, chatID)
	}
}
