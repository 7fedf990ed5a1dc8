package persona

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/session"
)

// Prompt templates use {name} placeholders so operators can override them
// from config with plain strings.

const defaultGenTemplate = `You are a professional AI persona designer. Write a complete, vivid persona (system prompt) from the description below.

Description: {description}

Requirements:
1. Cover identity (name, age, role), core personality and behaviour patterns, speaking style (tone, catchphrases, vocabulary), relationship to the user, and how emotions are expressed. Invent anything the description leaves out.
2. Keep the persona consistent and believable.
3. Write in the second person ("You are ...").
4. Use {{char}} for the character's name and {{user}} for the user where natural.
{format_hint}
Output only the persona text, with no preface or commentary.`

const defaultRefineTemplate = `You are a professional AI persona designer. Improve the persona below according to the feedback.

Current persona:
{original_prompt}

Feedback: {feedback}

Keep everything the feedback does not ask to change. Preserve the existing structure and format.
Output only the revised persona text.`

const defaultShrinkTemplate = `You are a text compression expert. Compress the persona below while keeping its core traits.

Persona:
{original_prompt}

Intensity: {intensity}
- light: remove redundancy and filler, keep every trait and example.
- medium: merge overlapping traits, shorten examples, keep the speaking style.
- extreme: keep only identity, core personality and speaking style in the fewest words.

Output only the compressed persona text.`

const analyzeMissingTemplate = `Analyse the persona description below and decide which essential persona fields it does not specify.

Description: {description}

Essential fields: name, identity, personality, speaking_style, relationship, background, appearance.

Respond with a single JSON object and nothing else:
{"missing": [{"field": "name", "label": "Name", "hint": "what to call the character"}], "provided": [{"field": "personality", "label": "Personality"}]}
Return an empty "missing" array when the description is detailed enough.`

const supplementsTemplate = `You are a professional AI persona designer. Write a complete persona (system prompt) from the information below.

Original description: {description}

User supplements:
{supplements}

Fields to invent yourself: {auto_fields}

Write in the second person ("You are ..."), keep the persona consistent, and use {{char}} and {{user}} placeholders where natural.
Output only the persona text.`

const convertTemplate = `You are a format conversion expert. Convert the persona below into the target format without losing any trait, rule or example.

Persona:
{original_prompt}

Target format: {target_format}
{format_hint}
Output only the converted persona.`

const intentTemplate = `You route commands for a persona management assistant. Classify the user's request.

Request: {query}

Context:
- current persona: {current_persona_id}
- known personas: {persona_list}
- session state: {session_state}
- has pending persona: {has_pending}

Actions: generate, refine, shrink, list, view, activate, delete, rollback, status, apply, cancel, help.

Respond with a single JSON object and nothing else:
{"action": "generate", "description": "", "feedback": "", "intensity": "light", "persona_id": ""}
Fill description for generate, feedback for refine, intensity (light|medium|extreme) for shrink, persona_id for view/activate/delete when named.`

var formatHints = map[string]string{
	"natural":  "Format: flowing natural-language paragraphs.",
	"markdown": "Format: Markdown with headings (# Identity, # Personality, # Speaking Style, # Relationship, # Rules) and bullet lists.",
	"xml":      "Format: XML with a <persona> root and child elements such as <identity>, <personality>, <speaking_style>, <relationship>, <rules>.",
	"json":     "Format: a single valid JSON object with keys identity, personality, speaking_style, relationship, rules. No code fences.",
	"yaml":     "Format: valid YAML with keys identity, personality, speaking_style, relationship, rules. No code fences.",
}

var formatNames = map[string]string{
	"natural":  "natural language",
	"markdown": "Markdown",
	"xml":      "XML",
	"json":     "JSON",
	"yaml":     "YAML",
}

func formatHint(format string) string {
	return formatHints[format]
}

func formatName(format string) string {
	if name, ok := formatNames[format]; ok {
		return name
	}
	return format
}

func fill(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func pick(override, fallback string) string {
	if strings.TrimSpace(override) != "" {
		return override
	}
	return fallback
}

func (h *Handler) genPrompt(description, format string) string {
	hint := ""
	if format != "" && format != "natural" {
		hint = "5. " + formatHint(format) + "\n"
	}
	return fill(pick(h.cfg.GenTemplate, defaultGenTemplate), map[string]string{
		"description": description,
		"format_hint": hint,
	})
}

func (h *Handler) refinePrompt(original, feedback string) string {
	return fill(pick(h.cfg.RefineTemplate, defaultRefineTemplate), map[string]string{
		"original_prompt": original,
		"feedback":        feedback,
	})
}

func (h *Handler) shrinkPrompt(original string, intensity Intensity) string {
	return fill(pick(h.cfg.ShrinkTemplate, defaultShrinkTemplate), map[string]string{
		"original_prompt": original,
		"intensity":       string(intensity),
	})
}

func analyzePrompt(description string) string {
	return fill(analyzeMissingTemplate, map[string]string{"description": description})
}

func supplementsPrompt(description, supplements string, auto []session.FieldSpec) string {
	autoLabels := labels(auto)
	autoText := "none"
	if len(autoLabels) > 0 {
		autoText = strings.Join(autoLabels, ", ")
	}
	if strings.TrimSpace(supplements) == "" {
		supplements = "(none)"
	}
	return fill(supplementsTemplate, map[string]string{
		"description": description,
		"supplements": supplements,
		"auto_fields": autoText,
	})
}

func convertPrompt(original, format string) string {
	return fill(convertTemplate, map[string]string{
		"original_prompt": original,
		"target_format":   formatName(format),
		"format_hint":     formatHint(format),
	})
}

func intentPrompt(query string, ctxInfo intentContext) string {
	return fill(intentTemplate, map[string]string{
		"query":              query,
		"current_persona_id": ctxInfo.CurrentPersonaID,
		"persona_list":       ctxInfo.PersonaList,
		"session_state":      ctxInfo.State,
		"has_pending":        fmt.Sprintf("%t", ctxInfo.HasPending),
	})
}
