// Package render turns reply cards into chat text. Chat transports here
// deliver text only, so cards are laid out with text/template.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
)

const (
	PersonaCard = "persona_card"
	ProfileCard = "profile_card"
)

type Meta struct {
	Key   string
	Value string
}

// Card is the data every built-in template understands.
type Card struct {
	Icon     string
	Title    string
	Subtitle string
	Meta     []Meta
	Content  string
	Footer   string
}

// Renderer renders named card templates and plain text blocks.
type Renderer interface {
	RenderCard(name string, data interface{}) (string, error)
	RenderText(text string) (string, error)
}

var builtinTemplates = map[string]string{
	PersonaCard: `{{.Icon}} **{{.Title}}**{{if .Subtitle}}
_{{.Subtitle}}_{{end}}
{{- if .Meta}}
{{range .Meta}}
- {{.Key}}: {{.Value}}{{end}}{{end}}

{{.Content}}{{if .Footer}}

{{.Footer}}{{end}}`,
	ProfileCard: `{{.Icon}} **{{.Title}}**{{if .Subtitle}} ({{.Subtitle}}){{end}}
{{- range .Meta}}
{{.Key}}: {{.Value}}{{end}}

{{.Content}}{{if .Footer}}
---
{{.Footer}}{{end}}`,
}

// TextRenderer is the built-in Renderer.
type TextRenderer struct {
	templates *template.Template
	maxWidth  int
}

// NewTextRenderer parses the built-in templates plus any overrides. An
// override with a built-in name replaces it.
func NewTextRenderer(overrides map[string]string) (*TextRenderer, error) {
	root := template.New("cards").Option("missingkey=zero")
	sources := make(map[string]string, len(builtinTemplates)+len(overrides))
	for name, src := range builtinTemplates {
		sources[name] = src
	}
	for name, src := range overrides {
		sources[name] = src
	}
	for name, src := range sources {
		if _, err := root.New(name).Parse(src); err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
	}
	return &TextRenderer{templates: root, maxWidth: 1900}, nil
}

func (r *TextRenderer) RenderCard(name string, data interface{}) (string, error) {
	tmpl := r.templates.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("unknown template %q", name)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

// RenderText wraps long plain text in a code block so transports keep its
// layout intact.
func (r *TextRenderer) RenderText(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("render text: empty input")
	}
	if len(text) > r.maxWidth {
		return "", fmt.Errorf("render text: %d bytes exceeds %d", len(text), r.maxWidth)
	}
	return "```\n" + strings.ReplaceAll(text, "```", "'''") + "\n```", nil
}

// CardOrText renders card, or returns fallback when rendering fails.
func CardOrText(r Renderer, name string, card Card, fallback string) string {
	if r == nil {
		return fallback
	}
	out, err := r.RenderCard(name, card)
	if err != nil || out == "" {
		if err != nil {
			logger.WarnCF("render", "Card rendering failed, using plain text", map[string]interface{}{
				"template": name,
				"error":    err.Error(),
			})
		}
		return fallback
	}
	return out
}

// TextOrPlain renders text as a block, falling back to the raw text.
func TextOrPlain(r Renderer, text string) string {
	if r == nil {
		return text
	}
	out, err := r.RenderText(text)
	if err != nil {
		return text
	}
	return out
}
