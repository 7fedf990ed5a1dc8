package channels

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

func TestChunkMessage_Short(t *testing.T) {
	got := chunkMessage("  hello  ", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("unexpected chunks %q", got)
	}
	if chunkMessage("   ", 100) != nil {
		t.Fatal("blank content should produce no chunks")
	}
}

func TestChunkMessage_RespectsLimitInRunes(t *testing.T) {
	line := strings.Repeat("猫娘喜欢晒太阳", 10)
	content := strings.Repeat(line+"\n", 20)

	chunks := chunkMessage(content, 300)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk %d is not valid UTF-8", i)
		}
		if n := utf8.RuneCountInString(c); n > 300 {
			t.Fatalf("chunk %d has %d runes", i, n)
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d keeps edge newlines", i)
		}
	}
	if joined := strings.Join(chunks, "\n"); joined != strings.TrimSpace(content) {
		t.Fatal("chunks split somewhere other than a newline")
	}
}

func TestChunkMessage_ReopensFence(t *testing.T) {
	body := strings.Repeat(`"trait": "curious and playful",`+"\n", 20)
	content := "Converted persona:\n```json\n{\n" + body + "}\n```\nReply /p apply to save."

	chunks := chunkMessage(content, 200)
	if len(chunks) < 3 {
		t.Fatalf("expected the block to span chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if strings.Count(c, fence)%2 != 0 {
			t.Fatalf("chunk %d has an unbalanced fence:\n%s", i, c)
		}
		if i > 0 && i < len(chunks)-1 && !strings.HasPrefix(c, "```json\n") {
			t.Fatalf("chunk %d does not reopen the json block:\n%s", i, c)
		}
	}
	if !strings.HasSuffix(chunks[len(chunks)-1], "Reply /p apply to save.") {
		t.Fatalf("last chunk lost the trailer: %q", chunks[len(chunks)-1])
	}
}

func TestChunkMessage_NoBreakCharacters(t *testing.T) {
	content := strings.Repeat("x", 250)
	chunks := chunkMessage(content, 100)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 hard-split chunks, got %d", len(chunks))
	}
	if strings.Join(chunks, "") != content {
		t.Fatal("hard split lost characters")
	}
}

func TestOpenFence(t *testing.T) {
	if info, open := openFence("a\n```yaml\nname: x"); !open || info != "yaml" {
		t.Fatalf("expected open yaml block, got %q %v", info, open)
	}
	if _, open := openFence("```\ncode\n```\ntext"); open {
		t.Fatal("closed block reported open")
	}
}

func TestTypingTracker_StartStop(t *testing.T) {
	sent := make(chan string, 10)
	tr := newTypingTracker(func(chatID string, _ ...discordgo.RequestOption) error {
		sent <- chatID
		return nil
	}, time.Hour)

	tr.start("c1")
	tr.start("c1")
	select {
	case got := <-sent:
		if got != "c1" {
			t.Fatalf("unexpected chat %q", got)
		}
	case <-time.After(time.Second):
		t.Fatal("typing indicator not sent")
	}
	tr.stop("c1")
	tr.start("c2")
	tr.stopAll()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.active) != 0 {
		t.Fatalf("expected no active indicators, got %d", len(tr.active))
	}
}
