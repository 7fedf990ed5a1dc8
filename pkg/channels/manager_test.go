package channels

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/bus"
)

type syncBuffer struct {
	buf bytes.Buffer
	ch  chan struct{}
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	n, err := s.buf.Write(p)
	select {
	case s.ch <- struct{}{}:
	default:
	}
	return n, err
}

func TestManager_DispatchesOutboundToConsole(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	out := &syncBuffer{ch: make(chan struct{}, 1)}
	m := NewManager(mb)
	console := NewConsoleChannel(mb, out, ">")
	m.RegisterChannel(console.Name(), console)

	ctx := context.Background()
	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !m.Running() {
		t.Fatalf("expected manager running")
	}

	mb.PublishOutbound(bus.OutboundMessage{Channel: "console", ChatID: "local", Content: "pong"})

	select {
	case <-out.ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for console output")
	}

	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out.buf.String(), "pong") {
		t.Fatalf("expected pong in output, got %q", out.buf.String())
	}
	if m.Running() {
		t.Fatalf("expected channels stopped")
	}
}

func TestConsoleChannel_SubmitPublishesInbound(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	console := NewConsoleChannel(mb, &bytes.Buffer{}, ">")

	console.Submit("local-user", "me", "g1", "/persona status")

	msg, ok := mb.ConsumeInbound(context.Background())
	if !ok {
		t.Fatalf("expected inbound message")
	}
	if msg.SessionKey != "console:local" || msg.GroupID != "g1" {
		t.Fatalf("unexpected message: %+v", msg)
	}
}
