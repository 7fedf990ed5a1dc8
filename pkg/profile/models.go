package profile

import (
	"strings"
	"time"
)

// Mode selects which of a monitored user's messages are collected.
type Mode string

const (
	ModeGlobal Mode = "global"
	ModeGroup  Mode = "group"
)

// ParseMode accepts English and Chinese names and defaults to global.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "group", "群聊", "群":
		return ModeGroup
	default:
		return ModeGlobal
	}
}

type UserProfile struct {
	UserID            string    `json:"user_id"`
	Nickname          string    `json:"nickname"`
	ProfileText       string    `json:"profile_text"`
	Traits            []string  `json:"traits"`
	Interests         []string  `json:"interests"`
	SpeakingStyle     string    `json:"speaking_style"`
	EmotionalTendency string    `json:"emotional_tendency"`
	MessageCount      int       `json:"message_count"`
	LastUpdated       time.Time `json:"last_updated"`
	CreatedAt         time.Time `json:"created_at"`
}

func (p *UserProfile) clone() UserProfile {
	out := *p
	out.Traits = append([]string(nil), p.Traits...)
	out.Interests = append([]string(nil), p.Interests...)
	return out
}

// DisplayName is the nickname, or the user id when none is known.
func (p UserProfile) DisplayName() string {
	if p.Nickname != "" {
		return p.Nickname
	}
	return p.UserID
}

type Monitor struct {
	UserID    string    `json:"user_id"`
	Mode      Mode      `json:"mode"`
	GroupIDs  []string  `json:"group_ids"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Accepts reports whether a message from groupID should be collected.
func (m Monitor) Accepts(groupID string) bool {
	if !m.Enabled {
		return false
	}
	switch m.Mode {
	case ModeGlobal:
		return true
	case ModeGroup:
		for _, g := range m.GroupIDs {
			if g == groupID {
				return true
			}
		}
	}
	return false
}

type BufferedMessage struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	GroupID   string    `json:"group_id"`
	Nickname  string    `json:"nickname"`
	// SessionKey is where the message was seen; used to fetch context.
	SessionKey string `json:"session_key,omitempty"`
}

// Buffer collects a user's messages between profile updates. LastFlush
// starts at creation so a new buffer is not immediately due by age.
type Buffer struct {
	UserID    string            `json:"user_id"`
	Messages  []BufferedMessage `json:"messages"`
	LastFlush time.Time         `json:"last_flush"`
}

func newBuffer(userID string, now time.Time) *Buffer {
	return &Buffer{UserID: userID, LastFlush: now}
}

// FlushPolicy decides when a buffer is handed to the model.
type FlushPolicy struct {
	MinMessages int
	MaxAge      time.Duration
	// TimeFloor is the smallest batch an age-based flush may send.
	TimeFloor int
}

// ShouldFlush is true for a non-empty buffer that has reached MinMessages,
// or that holds at least TimeFloor messages and has waited MaxAge or longer.
func (p FlushPolicy) ShouldFlush(count int, sinceLastFlush time.Duration) bool {
	if count == 0 {
		return false
	}
	if count >= p.MinMessages {
		return true
	}
	return count >= p.TimeFloor && sinceLastFlush >= p.MaxAge
}

// due reports the trigger name ("count" or "age") when the buffer should flush.
func (b *Buffer) due(p FlushPolicy, now time.Time) (string, bool) {
	n := len(b.Messages)
	if !p.ShouldFlush(n, now.Sub(b.LastFlush)) {
		return "", false
	}
	if n >= p.MinMessages {
		return "count", true
	}
	return "age", true
}

// drain empties the buffer, resets LastFlush and returns what it held.
func (b *Buffer) drain(now time.Time) []BufferedMessage {
	out := b.Messages
	b.Messages = nil
	b.LastFlush = now
	return out
}

// requeue restores drained messages after a failed update. It only does so
// while the buffer is still empty, so a retried batch is never duplicated;
// it reports whether the messages were restored.
func (b *Buffer) requeue(msgs []BufferedMessage) bool {
	if len(b.Messages) > 0 || len(msgs) == 0 {
		return false
	}
	b.Messages = append([]BufferedMessage(nil), msgs...)
	return true
}
