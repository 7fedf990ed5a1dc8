package persona

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/render"
	"github.com/dotsetgreg/dotpersona/pkg/session"
)

// editSource is the text an edit command works on: the pending edit when
// one awaits confirmation, otherwise the selected persona.
type editSource struct {
	personaID string
	prompt    string
	pending   bool
}

func (h *Handler) resolveEditSource(ctx context.Context, req Request) (editSource, bool) {
	d := h.sessions.Get(req.SessionKey)
	if d.State == session.StateWaitingConfirm && d.Pending != nil {
		return editSource{personaID: d.Pending.PersonaID, prompt: d.Pending.SystemPrompt, pending: true}, true
	}
	if d.CurrentPersonaID == "" {
		req.say("Select a persona first with /persona use <id>, or generate one with /persona gen.")
		return editSource{}, false
	}
	p, found, err := h.personas.GetPersona(ctx, d.CurrentPersonaID)
	if err != nil {
		req.say(fmt.Sprintf("❌ Could not load persona %s: %v", d.CurrentPersonaID, err))
		return editSource{}, false
	}
	if !found {
		req.say(fmt.Sprintf("❌ Persona not found: %s", d.CurrentPersonaID))
		return editSource{}, false
	}
	return editSource{personaID: p.ID, prompt: p.SystemPrompt}, true
}

// stage stores an edit result. A pending edit is replaced in place; a
// committed persona either gets a new pending edit or, with confirmation
// disabled, is updated directly with a backup.
func (h *Handler) stage(ctx context.Context, req Request, src editSource, p *session.PendingPersona, forceConfirm bool) (bool, error) {
	if src.pending {
		return false, h.sessions.Update(req.SessionKey, func(d *session.Data) error {
			return d.Replace(p)
		})
	}
	if h.cfg.ConfirmBeforeApply || forceConfirm {
		return false, h.awaitConfirm(req.SessionKey, p)
	}
	if err := h.commit(ctx, req, *p, true); err != nil {
		return false, err
	}
	return true, nil
}

func (h *Handler) Refine(ctx context.Context, req Request, feedback string) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		req.say("Please give feedback, e.g. /persona refine speak a little more cutely")
		return
	}
	src, ok := h.resolveEditSource(ctx, req)
	if !ok {
		return
	}
	if src.pending {
		req.say(fmt.Sprintf("🔄 Refining the pending persona...\n📌 Persona ID: %s\nFeedback: %s", src.personaID, feedback))
	} else {
		req.say(fmt.Sprintf("🔄 Refining persona %s...\nFeedback: %s", src.personaID, feedback))
	}

	result, err := h.llm.Call(ctx, req.SessionKey, "refine", h.refinePrompt(src.prompt, feedback))
	if err != nil {
		logger.ErrorCF("persona", "Refine failed", map[string]interface{}{
			"session_key": req.SessionKey,
			"persona_id":  src.personaID,
			"error":       err.Error(),
		})
		req.say("❌ Refinement failed, please try again later.")
		return
	}
	result = h.maybeCompress(ctx, req, strings.TrimSpace(result))

	pending := &session.PendingPersona{
		PersonaID:      src.personaID,
		SystemPrompt:   result,
		CreatedAt:      h.now(),
		Mode:           session.ModeRefine,
		OriginalPrompt: src.prompt,
	}
	applied, err := h.stage(ctx, req, src, pending, false)
	if err != nil {
		req.say(fmt.Sprintf("❌ Saving the refinement failed: %v", err))
		return
	}
	if applied {
		req.say(h.card("✅", "Persona refined", "Mode: refine", result, personaMeta(src.personaID, result), ""))
		return
	}
	title := "Persona refined"
	if src.pending {
		title = "Persona refined (pending edit updated)"
	}
	req.say(h.card("✨", title, "Mode: refine | awaiting confirmation", result, personaMeta(src.personaID, result),
		"Send more feedback to keep refining, or /persona apply to save"))
}

func (h *Handler) Shrink(ctx context.Context, req Request, intensityArg string) {
	src, ok := h.resolveEditSource(ctx, req)
	if !ok {
		return
	}
	intensity := ParseIntensity(intensityArg)
	originalLen := charLen(src.prompt)
	req.say(fmt.Sprintf("🔄 Compressing the persona...\nOriginal length: %d characters\nIntensity: %s", originalLen, intensity))

	result, err := h.llm.Call(ctx, req.SessionKey, "shrink", h.shrinkPrompt(src.prompt, intensity))
	if err != nil {
		req.say("❌ Compression failed, please try again later.")
		return
	}
	result = strings.TrimSpace(result)
	if err := CheckShrink(src.prompt, result); err != nil {
		req.say(fmt.Sprintf("⚠️ %v. The result was not used.", err))
		return
	}

	newLen := charLen(result)
	reduction := 0.0
	if originalLen > 0 {
		reduction = (1 - float64(newLen)/float64(originalLen)) * 100
	}
	meta := []render.Meta{
		{Key: "Persona ID", Value: src.personaID},
		{Key: "Length", Value: fmt.Sprintf("%d → %d characters", originalLen, newLen)},
		{Key: "Reduction", Value: fmt.Sprintf("%.1f%%", reduction)},
	}

	pending := &session.PendingPersona{
		PersonaID:      src.personaID,
		SystemPrompt:   result,
		CreatedAt:      h.now(),
		Mode:           session.ModeShrink,
		OriginalPrompt: src.prompt,
	}
	applied, err := h.stage(ctx, req, src, pending, false)
	if err != nil {
		req.say(fmt.Sprintf("❌ Saving the compressed persona failed: %v", err))
		return
	}
	if applied {
		req.say(h.card("✅", "Compressed and applied", fmt.Sprintf("Intensity: %s", intensity), result, meta, ""))
		return
	}
	req.say(h.card("📦", "Compression done", fmt.Sprintf("Intensity: %s | awaiting confirmation", intensity), result, meta,
		"Send /persona apply to save or /persona cancel to discard"))
}

func (h *Handler) Convert(ctx context.Context, req Request, format string) {
	format = strings.TrimSpace(format)
	if format == "" {
		req.say("Please name a target format: natural, markdown, xml, json, yaml\ne.g. /persona convert markdown")
		return
	}
	target, ok := config.NormalizeFormat(format)
	if !ok {
		req.say(fmt.Sprintf("Unknown format %q. Use one of: natural, markdown, xml, json, yaml", format))
		return
	}
	src, ok := h.resolveEditSource(ctx, req)
	if !ok {
		return
	}
	req.say(fmt.Sprintf("🔄 Converting the persona to %s...", formatName(target)))

	result, err := h.llm.Call(ctx, req.SessionKey, "convert", convertPrompt(src.prompt, target))
	if err != nil {
		req.say("❌ Format conversion failed.")
		return
	}
	result = stripFence(strings.TrimSpace(result))
	warning := validateFormat(target, result)

	pending := &session.PendingPersona{
		PersonaID:      src.personaID,
		SystemPrompt:   result,
		CreatedAt:      h.now(),
		Mode:           session.ModeConvert,
		OriginalPrompt: src.prompt,
	}
	if _, err := h.stage(ctx, req, src, pending, true); err != nil {
		req.say(fmt.Sprintf("❌ Storing the converted persona failed: %v", err))
		return
	}
	req.say(h.card("🔄", "Format converted", fmt.Sprintf("Target: %s | awaiting confirmation", formatName(target)),
		result, personaMeta(src.personaID, result), "Send /persona apply to save or /persona cancel to discard"))
	if warning != "" {
		req.say("⚠️ " + warning)
	}
}

// stripFence removes one surrounding Markdown code fence.
func stripFence(text string) string {
	if !strings.HasPrefix(text, "```") || !strings.HasSuffix(text, "```") || len(text) < 6 {
		return text
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(text, "```"), "```")
	if nl := strings.IndexByte(inner, '\n'); nl >= 0 {
		first := strings.TrimSpace(inner[:nl])
		if !strings.ContainsAny(first, " {}<>:") {
			inner = inner[nl+1:]
		}
	}
	return strings.TrimSpace(inner)
}

// validateFormat returns a warning when a json or yaml result does not
// parse as a structured document. Other formats are not checked.
func validateFormat(format, text string) string {
	switch format {
	case "json":
		if !json.Valid([]byte(text)) {
			return "The converted text is not valid JSON; review it before saving."
		}
	case "yaml":
		var doc interface{}
		if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
			return fmt.Sprintf("The converted text is not valid YAML (%v); review it before saving.", err)
		}
		if _, ok := doc.(map[string]interface{}); !ok {
			return "The converted text is not a YAML mapping; review it before saving."
		}
	}
	return ""
}
