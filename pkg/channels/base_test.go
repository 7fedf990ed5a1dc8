package channels

import (
	"context"
	"testing"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	tests := []struct {
		name      string
		allowList []string
		sender    string
		want      bool
	}{
		{"empty list allows all", nil, "42", true},
		{"exact id", []string{"42"}, "42", true},
		{"compound id part", []string{"42"}, "42|alice", true},
		{"compound user part", []string{"@alice"}, "42|alice", true},
		{"not listed", []string{"7"}, "42", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBaseChannel("test", bus.NewMessageBus(), tt.allowList)
			if got := c.IsAllowed(tt.sender); got != tt.want {
				t.Fatalf("IsAllowed(%q) = %v, want %v", tt.sender, got, tt.want)
			}
		})
	}
}

func TestBaseChannel_HandleMessagePublishesWithSessionKey(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("discord", mb, nil)

	c.HandleMessage(Sender{ID: "u1", Nickname: "Ann", ChatID: "chan-1", GroupID: "guild-9"}, "hello", nil, nil)

	msg, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatalf("expected published message")
	}
	if msg.SessionKey != "discord:chan-1" {
		t.Fatalf("unexpected session key %q", msg.SessionKey)
	}
	if msg.GroupID != "guild-9" || msg.SenderName != "Ann" {
		t.Fatalf("unexpected sender fields: %+v", msg)
	}
}

func TestBaseChannel_HandleMessageDropsDisallowed(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("discord", mb, []string{"someone-else"})

	c.HandleMessage(Sender{ID: "u1", ChatID: "c"}, "hello", nil, nil)
	if got := mb.Stats().InboundQueued; got != 0 {
		t.Fatalf("expected no queued messages, got %d", got)
	}
}

func TestChunkMessage_WordsRespectLimit(t *testing.T) {
	long := ""
	for i := 0; i < 400; i++ {
		long += "word "
	}
	chunks := chunkMessage(long, 500)
	if len(chunks) < 4 {
		t.Fatalf("expected at least 4 chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 500 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
	}
}
