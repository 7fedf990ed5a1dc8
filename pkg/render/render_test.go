package render

import (
	"errors"
	"strings"
	"testing"
)

func TestTextRenderer_PersonaCard(t *testing.T) {
	r, err := NewTextRenderer(nil)
	if err != nil {
		t.Fatalf("NewTextRenderer: %v", err)
	}
	out, err := r.RenderCard(PersonaCard, Card{
		Icon:     "🎭",
		Title:    "qp_cat_abc123",
		Subtitle: "pending",
		Meta:     []Meta{{Key: "length", Value: "120"}},
		Content:  "You are a cat.",
		Footer:   "/persona apply to confirm",
	})
	if err != nil {
		t.Fatalf("RenderCard: %v", err)
	}
	for _, want := range []string{"qp_cat_abc123", "- length: 120", "You are a cat.", "/persona apply"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestTextRenderer_Override(t *testing.T) {
	r, err := NewTextRenderer(map[string]string{PersonaCard: "[{{.Title}}]"})
	if err != nil {
		t.Fatalf("NewTextRenderer: %v", err)
	}
	out, err := r.RenderCard(PersonaCard, Card{Title: "x"})
	if err != nil || out != "[x]" {
		t.Fatalf("got (%q, %v)", out, err)
	}
}

func TestNewTextRenderer_BadTemplate(t *testing.T) {
	if _, err := NewTextRenderer(map[string]string{"broken": "{{.Title"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestTextRenderer_RenderText(t *testing.T) {
	r, _ := NewTextRenderer(nil)
	out, err := r.RenderText("hello")
	if err != nil || out != "```\nhello\n```" {
		t.Fatalf("got (%q, %v)", out, err)
	}
	if _, err := r.RenderText("   "); err == nil {
		t.Fatalf("expected error for empty text")
	}
}

type failingRenderer struct{}

func (failingRenderer) RenderCard(string, interface{}) (string, error) {
	return "", errors.New("renderer down")
}
func (failingRenderer) RenderText(string) (string, error) { return "", errors.New("renderer down") }

func TestFallbacks(t *testing.T) {
	if got := CardOrText(failingRenderer{}, PersonaCard, Card{}, "plain"); got != "plain" {
		t.Fatalf("CardOrText fallback = %q", got)
	}
	if got := CardOrText(nil, PersonaCard, Card{}, "plain"); got != "plain" {
		t.Fatalf("CardOrText nil renderer = %q", got)
	}
	if got := TextOrPlain(failingRenderer{}, "raw"); got != "raw" {
		t.Fatalf("TextOrPlain fallback = %q", got)
	}
}
