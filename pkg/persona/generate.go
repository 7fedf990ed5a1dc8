package persona

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dotsetgreg/dotpersona/pkg/llm"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/session"
)

type fieldAnalysis struct {
	Missing  []session.FieldSpec `json:"missing"`
	Provided []session.FieldSpec `json:"provided"`
}

// Generate creates a persona from a description, asking for missing
// details first when guided generation is enabled.
func (h *Handler) Generate(ctx context.Context, req Request, description string) {
	description = strings.TrimSpace(description)
	if description == "" {
		req.say("Please describe the persona, e.g. /persona gen a gentle catgirl")
		return
	}
	if h.sessions.Get(req.SessionKey).State == session.StateWaitingConfirm {
		req.say("You have a persona waiting for confirmation. Use /persona apply or /persona cancel first.")
		return
	}
	if h.cfg.EnableGuidedGeneration {
		h.guidedGeneration(ctx, req, description)
		return
	}
	h.quickGeneration(ctx, req, description)
}

func (h *Handler) analyzeMissing(ctx context.Context, sessionKey, description string) (fieldAnalysis, error) {
	text, err := h.llm.Call(ctx, sessionKey, "analyze", analyzePrompt(description))
	if err != nil {
		return fieldAnalysis{}, err
	}
	var out fieldAnalysis
	if err := llm.DecodeJSONObject(text, &out); err != nil {
		return fieldAnalysis{}, err
	}
	kept := out.Missing[:0]
	for _, f := range out.Missing {
		if strings.TrimSpace(f.Field) != "" || strings.TrimSpace(f.Label) != "" {
			kept = append(kept, f)
		}
	}
	out.Missing = kept
	return out, nil
}

func (h *Handler) guidedGeneration(ctx context.Context, req Request, description string) {
	req.say(fmt.Sprintf("🎭 Analysing your description...\nDescription: %s", description))

	analysis, err := h.analyzeMissing(ctx, req.SessionKey, description)
	if err != nil {
		logger.WarnCF("persona", "Missing-field analysis failed, generating directly", map[string]interface{}{
			"session_key": req.SessionKey,
			"error":       err.Error(),
		})
	}
	if len(analysis.Missing) == 0 {
		req.say("✅ The description is complete, generating...")
		h.quickGeneration(ctx, req, description)
		return
	}

	guidedID := uuid.NewString()
	pending := &session.PendingPersona{
		CreatedAt: h.now(),
		Mode:      session.ModeGuided,
		Guided: &session.Guided{
			ID:          guidedID,
			Description: description,
			Missing:     analysis.Missing,
			Provided:    analysis.Provided,
		},
	}

	// Register before prompting so a fast reply cannot slip past.
	exp := h.waiter.Expect(req.SessionKey)
	if err := h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		return d.Await(session.StateWaitingMissingInput, pending)
	}); err != nil {
		h.waiter.Cancel(req.SessionKey)
		req.say("❌ Could not start guided generation, please try again.")
		return
	}
	req.say(missingFieldsPrompt(analysis.Missing, int(h.replyTimeout.Seconds())))

	h.wg.Add(1)
	go h.awaitGuidedReply(ctx, req, exp, guidedID)
}

func (h *Handler) awaitGuidedReply(ctx context.Context, req Request, exp *session.Expectation, guidedID string) {
	defer h.wg.Done()

	reply, waitErr := exp.Wait(ctx, h.replyTimeout)

	unlock := h.locks.Lock(req.SessionKey)
	defer unlock()

	d := h.sessions.Get(req.SessionKey)
	if d.State != session.StateWaitingMissingInput || d.Pending == nil || d.Pending.Guided == nil || d.Pending.Guided.ID != guidedID {
		// Cancelled or replaced by a newer edit.
		return
	}
	if waitErr != nil {
		_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
			d.Reset()
			return nil
		})
		logger.InfoCF("persona", "Guided generation ended without reply", map[string]interface{}{
			"session_key": req.SessionKey,
			"reason":      waitErr.Error(),
		})
		if errors.Is(waitErr, session.ErrReplyTimeout) {
			req.say("⏰ No reply in time, generation cancelled.")
		}
		return
	}
	h.continueGuided(ctx, req, *d.Pending.Guided, reply)
}

func (h *Handler) continueGuided(ctx context.Context, req Request, g session.Guided, reply string) {
	parsed := ParseGuidedReply(reply, g.Missing)
	switch {
	case parsed.Skip:
		req.say("⏭️ Skipped, the model will fill in every missing detail...")
	case len(parsed.Selected) == 0:
		req.say("📝 Got your details, generating the persona...")
	default:
		auto := "none"
		if len(parsed.Auto) > 0 {
			auto = strings.Join(labels(parsed.Auto), ", ")
		}
		req.say(fmt.Sprintf("✅ Collected, generating the full persona...\n📝 From you: %s\n🤖 Invented: %s",
			strings.Join(labels(parsed.Selected), ", "), auto))
	}

	result, err := h.llm.Call(ctx, req.SessionKey, "guided_generate", supplementsPrompt(g.Description, parsed.SupplementText(), parsed.Auto))
	if err != nil {
		_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
			d.Reset()
			return nil
		})
		logger.ErrorCF("persona", "Guided generation failed", map[string]interface{}{
			"session_key": req.SessionKey,
			"error":       err.Error(),
		})
		req.say("❌ Generation failed. Check the LLM configuration or try again later.")
		return
	}
	h.finishGeneration(ctx, req, session.ModeGuided, g.Description, result)
}

func (h *Handler) quickGeneration(ctx context.Context, req Request, description string) {
	req.say(fmt.Sprintf("🔄 Generating a persona...\nDescription: %s", description))

	result, err := h.llm.Call(ctx, req.SessionKey, "generate", h.genPrompt(description, h.cfg.DefaultPromptFormat))
	if err != nil {
		logger.ErrorCF("persona", "Persona generation failed", map[string]interface{}{
			"session_key": req.SessionKey,
			"error":       err.Error(),
		})
		req.say("❌ Generation failed. Check the LLM configuration or try again later.")
		return
	}
	h.finishGeneration(ctx, req, session.ModeGenerate, description, result)
}

// finishGeneration compresses an over-long result, then either parks it
// for confirmation or commits it straight away.
func (h *Handler) finishGeneration(ctx context.Context, req Request, mode session.Mode, description, result string) {
	result = h.maybeCompress(ctx, req, strings.TrimSpace(result))
	pending := &session.PendingPersona{
		PersonaID:    GenerateID(h.cfg.IDPrefix, description),
		SystemPrompt: result,
		CreatedAt:    h.now(),
		Mode:         mode,
	}
	label := "quick"
	if mode == session.ModeGuided {
		label = "guided"
	}

	if h.cfg.ConfirmBeforeApply {
		if err := h.awaitConfirm(req.SessionKey, pending); err != nil {
			req.say("❌ Could not store the generated persona, please try again.")
			return
		}
		req.say(h.card("🎭", "Persona generated", fmt.Sprintf("Mode: %s | awaiting confirmation", label),
			result, personaMeta(pending.PersonaID, result), "Send /persona apply to save or /persona cancel to discard"))
		return
	}

	if err := h.commit(ctx, req, *pending, false); err != nil {
		h.waiter.Cancel(req.SessionKey)
		_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
			d.Reset()
			return nil
		})
		req.say(fmt.Sprintf("❌ Saving the persona failed: %v", err))
		return
	}
	req.say(h.card("✅", "Persona created and selected", fmt.Sprintf("Mode: %s", label),
		result, personaMeta(pending.PersonaID, result), ""))
}

// maybeCompress runs a light shrink pass when result exceeds the configured
// length, keeping the original unless the compressed text passes
// CheckAutoCompress.
func (h *Handler) maybeCompress(ctx context.Context, req Request, result string) string {
	n := charLen(result)
	max := h.cfg.MaxPromptLength
	if n <= max || !h.cfg.AutoCompress {
		return result
	}
	req.say(fmt.Sprintf("⚠️ The prompt is too long (%d characters, limit %d), compressing...", n, max))

	compressed, err := h.llm.Call(ctx, req.SessionKey, "compress", h.shrinkPrompt(result, IntensityLight))
	if err != nil {
		req.say("⚠️ Automatic compression failed, keeping the original.")
		return result
	}
	compressed = strings.TrimSpace(compressed)
	if err := CheckAutoCompress(result, compressed, max); err != nil {
		logger.WarnCF("persona", "Auto-compression rejected", map[string]interface{}{
			"session_key": req.SessionKey,
			"reason":      err.Error(),
		})
		req.say(fmt.Sprintf("⚠️ %v, keeping the original.", err))
		return result
	}
	req.say(fmt.Sprintf("✅ Compressed: %d → %d characters", n, charLen(compressed)))
	return compressed
}

// awaitConfirm parks p as the pending edit, replacing any earlier one
// (including an unanswered guided prompt).
func (h *Handler) awaitConfirm(sessionKey string, p *session.PendingPersona) error {
	h.waiter.Cancel(sessionKey)
	return h.sessions.Update(sessionKey, func(d *session.Data) error {
		return d.Await(session.StateWaitingConfirm, p)
	})
}
