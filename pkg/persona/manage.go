package persona

import (
	"context"
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/host"
	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/render"
	"github.com/dotsetgreg/dotpersona/pkg/session"
)

// commit writes p through the persona manager. An existing persona is
// snapshotted first when backup is set. The session is only updated after
// the write succeeds, so on error the pending edit is still there to retry.
func (h *Handler) commit(ctx context.Context, req Request, p session.PendingPersona, backup bool) (err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		h.metrics.IncPersonaCommit(string(p.Mode), outcome)
	}()

	existing, found, err := h.personas.GetPersona(ctx, p.PersonaID)
	if err != nil {
		return fmt.Errorf("look up persona: %w", err)
	}
	prompt := ReplacePlaceholders(p.SystemPrompt, "")

	if found {
		if backup {
			if _, err := h.backups.Add(p.PersonaID, existing.SystemPrompt); err != nil {
				return fmt.Errorf("back up persona: %w", err)
			}
		}
		if err := h.personas.UpdatePersona(ctx, p.PersonaID, prompt); err != nil {
			return fmt.Errorf("update persona: %w", err)
		}
		logger.InfoCF("persona", "Updated persona", map[string]interface{}{
			"persona_id": p.PersonaID,
			"mode":       string(p.Mode),
			"backup":     backup,
		})
	} else {
		if err := h.personas.CreatePersona(ctx, p.PersonaID, prompt); err != nil {
			return fmt.Errorf("create persona: %w", err)
		}
		logger.InfoCF("persona", "Created persona", map[string]interface{}{
			"persona_id": p.PersonaID,
			"mode":       string(p.Mode),
		})
	}

	return h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		d.Commit(p.PersonaID)
		return nil
	})
}

func (h *Handler) Apply(ctx context.Context, req Request) {
	d := h.sessions.Get(req.SessionKey)
	if d.State != session.StateWaitingConfirm || d.Pending == nil {
		req.say("No persona is waiting for confirmation.")
		return
	}
	p := *d.Pending
	if err := h.commit(ctx, req, p, true); err != nil {
		logger.ErrorCF("persona", "Commit failed", map[string]interface{}{
			"session_key": req.SessionKey,
			"persona_id":  p.PersonaID,
			"error":       err.Error(),
		})
		req.say(fmt.Sprintf("❌ Saving failed: %v\nThe pending persona is kept; try /persona apply again.", err))
		return
	}
	req.say(fmt.Sprintf("✅ Persona saved!\n📌 Persona ID: %s\n💡 Use /persona activate to use it in this conversation", p.PersonaID))
}

func (h *Handler) Cancel(req Request) {
	d := h.sessions.Get(req.SessionKey)
	if d.State == session.StateIdle {
		req.say("Nothing to cancel.")
		return
	}
	h.waiter.Cancel(req.SessionKey)
	_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		d.Reset()
		return nil
	})
	req.say("✅ Cancelled")
}

func (h *Handler) Status(req Request) {
	d := h.sessions.Get(req.SessionKey)
	lines := []string{"📊 Status", fmt.Sprintf("Session state: %s", d.State)}
	if d.CurrentPersonaID != "" {
		lines = append(lines, fmt.Sprintf("Selected persona: %s", d.CurrentPersonaID))
	}
	if p := d.Pending; p != nil {
		lines = append(lines, "", "📌 Pending persona:")
		if p.PersonaID != "" {
			lines = append(lines, fmt.Sprintf("  ID: %s", p.PersonaID))
		}
		lines = append(lines,
			fmt.Sprintf("  Mode: %s", p.Mode),
			fmt.Sprintf("  Created: %s", p.CreatedAt.Format("15:04:05")),
		)
		if p.SystemPrompt != "" {
			lines = append(lines, fmt.Sprintf("  Preview: %s", shorten(p.SystemPrompt, 100)))
		}
		if p.Guided != nil && len(p.Guided.Missing) > 0 {
			lines = append(lines, fmt.Sprintf("  Waiting for details: %s", strings.Join(labels(p.Guided.Missing), ", ")))
		}
	}
	req.say(strings.Join(lines, "\n"))
}

func (h *Handler) List(ctx context.Context, req Request) {
	personas, err := h.personas.ListPersonas(ctx)
	if err != nil {
		req.say(fmt.Sprintf("❌ Listing personas failed: %v", err))
		return
	}
	if len(personas) == 0 {
		req.say("No personas yet.")
		return
	}
	lines := []string{"📋 Personas"}
	for _, p := range personas {
		marker := "  "
		if h.isPluginPersona(p.ID) {
			marker = "🔹"
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", marker, p.ID, shorten(p.SystemPrompt, 30)))
	}
	lines = append(lines, fmt.Sprintf("\n%d personas (🔹 created here)", len(personas)))
	req.say(strings.Join(lines, "\n"))
}

func (h *Handler) isPluginPersona(id string) bool {
	return h.cfg.IDPrefix != "" && strings.HasPrefix(id, h.cfg.IDPrefix)
}

// lookup fetches a persona and reports not-found and errors to the user.
func (h *Handler) lookup(ctx context.Context, req Request, id string) (host.Persona, bool) {
	p, found, err := h.personas.GetPersona(ctx, id)
	if err != nil {
		req.say(fmt.Sprintf("❌ Could not load persona %s: %v", id, err))
		return host.Persona{}, false
	}
	if !found {
		req.say(fmt.Sprintf("❌ Persona not found: %s", id))
		return host.Persona{}, false
	}
	return p, true
}

func (h *Handler) View(ctx context.Context, req Request, id string) {
	id = strings.TrimSpace(id)
	d := h.sessions.Get(req.SessionKey)
	if id == "" && d.Pending != nil && d.Pending.SystemPrompt != "" {
		p := d.Pending
		req.say(h.card("📝", fmt.Sprintf("Pending persona: %s", p.PersonaID), fmt.Sprintf("Mode: %s | awaiting confirmation", p.Mode),
			p.SystemPrompt, personaMeta(p.PersonaID, p.SystemPrompt), "Send /persona apply to save or /persona cancel to discard"))
		return
	}
	if id == "" {
		id = d.CurrentPersonaID
	}
	if id == "" {
		req.say("Please name a persona, e.g. /persona view qp_cat_abc123")
		return
	}
	p, ok := h.lookup(ctx, req, id)
	if !ok {
		return
	}
	meta := personaMeta(p.ID, p.SystemPrompt)
	if n := len(h.backups.List(p.ID)); n > 0 {
		meta = append(meta, render.Meta{Key: "Saved versions", Value: fmt.Sprintf("%d", n)})
	}
	req.say(h.card("🎭", fmt.Sprintf("Persona: %s", p.ID), "", p.SystemPrompt, meta, ""))
}

func (h *Handler) History(req Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = h.sessions.Get(req.SessionKey).CurrentPersonaID
	}
	if id == "" {
		req.say("Please name a persona, e.g. /persona history qp_cat_abc123")
		return
	}
	list := h.backups.List(id)
	if len(list) == 0 {
		req.say(fmt.Sprintf("❌ No saved versions of %s", id))
		return
	}
	sep := strings.Repeat("-", 30)
	lines := []string{fmt.Sprintf("📜 Saved versions of %s (%d)", id, len(list)), sep}
	for i, b := range list {
		lines = append(lines,
			fmt.Sprintf("%d. [%s] v%03d", i+1, b.BackedUpAt.Format("2006-01-02 15:04:05"), b.Version),
			"   "+shorten(b.SystemPrompt, 50),
		)
	}
	lines = append(lines, sep, "💡 /persona rollback restores the newest version")
	req.say(strings.Join(lines, "\n"))
}

// Rollback restores the newest backup. The live persona is updated first;
// the backup is removed only after that succeeds.
func (h *Handler) Rollback(ctx context.Context, req Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = h.sessions.Get(req.SessionKey).CurrentPersonaID
	}
	if id == "" {
		req.say("Please name a persona, e.g. /persona rollback qp_cat_abc123")
		return
	}
	latest, ok := h.backups.Latest(id)
	if !ok {
		h.metrics.IncRollback("no_backup")
		req.say(fmt.Sprintf("❌ No backup found for %s", id))
		return
	}

	if err := h.personas.UpdatePersona(ctx, id, latest.SystemPrompt); err != nil {
		h.metrics.IncRollback("error")
		logger.ErrorCF("persona", "Rollback failed", map[string]interface{}{
			"persona_id": id,
			"error":      err.Error(),
		})
		req.say(fmt.Sprintf("❌ Rollback failed: %v", err))
		return
	}
	if _, err := h.backups.PopLatest(id); err != nil {
		logger.WarnCF("persona", "Rollback applied but backup not removed", map[string]interface{}{
			"persona_id": id,
			"error":      err.Error(),
		})
	}
	h.metrics.IncRollback("ok")
	req.say(fmt.Sprintf("✅ Rolled back to the version from %s\n📝 Preview: %s",
		latest.BackedUpAt.Format("2006-01-02 15:04:05"), shorten(latest.SystemPrompt, 200)))
}

func (h *Handler) Use(ctx context.Context, req Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		req.say("Please name a persona, e.g. /persona use qp_cat_abc123")
		return
	}
	if _, ok := h.lookup(ctx, req, id); !ok {
		return
	}
	_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		d.CurrentPersonaID = id
		return nil
	})
	req.say(fmt.Sprintf("✅ Selected persona: %s\nrefine and shrink now work on this persona.\n\n💡 /persona activate uses it in this conversation", id))
}

// Activate binds a persona to the session's current conversation, starting
// one when the session has none.
func (h *Handler) Activate(ctx context.Context, req Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = h.sessions.Get(req.SessionKey).CurrentPersonaID
	}
	if id == "" {
		req.say("Please name a persona, e.g. /persona activate qp_cat_abc123")
		return
	}
	if _, ok := h.lookup(ctx, req, id); !ok {
		return
	}

	convID, found, err := h.conversations.CurrentConversationID(ctx, req.SessionKey)
	if err != nil {
		req.say(fmt.Sprintf("❌ Activation failed: %v", err))
		return
	}
	var msg string
	if found {
		if err := h.conversations.UpdateConversation(ctx, req.SessionKey, convID, id); err != nil {
			req.say(fmt.Sprintf("❌ Activation failed: %v", err))
			return
		}
		msg = fmt.Sprintf("Activated persona: %s", id)
	} else {
		newID, err := h.conversations.NewConversation(ctx, req.SessionKey, id, "Persona: "+id)
		if err != nil {
			req.say(fmt.Sprintf("❌ Activation failed: %v", err))
			return
		}
		msg = fmt.Sprintf("Started a new conversation with persona: %s\nConversation ID: %s", id, newID)
	}
	_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		d.CurrentPersonaID = id
		return nil
	})
	req.say(fmt.Sprintf("✅ %s\n📌 The next reply will use this persona", msg))
}

func (h *Handler) Delete(ctx context.Context, req Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		req.say("Please name a persona, e.g. /persona delete qp_cat_abc123")
		return
	}
	if _, ok := h.lookup(ctx, req, id); !ok {
		return
	}
	if !h.isPluginPersona(id) {
		logger.WarnCF("persona", "Refusing to delete foreign persona", map[string]interface{}{
			"persona_id": id,
			"error":      ErrNotPluginPersona.Error(),
		})
		req.say(fmt.Sprintf("⚠️ %s was not created here; delete it where it was created.", id))
		return
	}
	if err := h.personas.DeletePersona(ctx, id); err != nil {
		req.say(fmt.Sprintf("❌ Deleting failed: %v", err))
		return
	}
	if err := h.backups.DeletePersona(id); err != nil {
		logger.WarnCF("persona", "Persona deleted but backups remain", map[string]interface{}{
			"persona_id": id,
			"error":      err.Error(),
		})
	}
	_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		if d.CurrentPersonaID == id {
			d.CurrentPersonaID = ""
		}
		return nil
	})
	req.say(fmt.Sprintf("✅ Deleted persona: %s", id))
}

func (h *Handler) NewChat(ctx context.Context, req Request, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = h.sessions.Get(req.SessionKey).CurrentPersonaID
	}
	if id != "" {
		if _, ok := h.lookup(ctx, req, id); !ok {
			return
		}
	}
	title := ""
	if id != "" {
		title = "Persona: " + id
	}
	convID, err := h.conversations.NewConversation(ctx, req.SessionKey, id, title)
	if err != nil {
		req.say(fmt.Sprintf("❌ Starting a conversation failed: %v", err))
		return
	}
	if id == "" {
		req.say(fmt.Sprintf("✅ Started a new conversation\n📌 Conversation ID: %s\n💡 /persona activate <id> picks a persona", convID))
		return
	}
	_ = h.sessions.Update(req.SessionKey, func(d *session.Data) error {
		d.CurrentPersonaID = id
		return nil
	})
	req.say(fmt.Sprintf("✅ Started a new conversation with a persona\n📌 Conversation ID: %s\n🎭 Persona: %s", convID, id))
}

// Smart routes free text to a command via intent recognition.
func (h *Handler) Smart(ctx context.Context, req Request, query string) {
	query = strings.TrimSpace(query)
	if query == "" {
		h.Help(req)
		return
	}
	d := h.sessions.Get(req.SessionKey)

	personaList := "none"
	if personas, err := h.personas.ListPersonas(ctx); err != nil {
		personaList = "unavailable"
	} else if len(personas) > 0 {
		ids := make([]string, 0, 10)
		for i, p := range personas {
			if i == 10 {
				break
			}
			ids = append(ids, p.ID)
		}
		personaList = strings.Join(ids, ", ")
		if len(personas) > 10 {
			personaList += fmt.Sprintf(" (%d total)", len(personas))
		}
	}
	current := d.CurrentPersonaID
	if current == "" {
		current = "none"
	}

	in := h.intents.Recognize(ctx, req.SessionKey, query, intentContext{
		CurrentPersonaID: current,
		PersonaList:      personaList,
		State:            string(d.State),
		HasPending:       d.Pending != nil,
	})
	logger.InfoCF("persona", "Smart command routed", map[string]interface{}{
		"session_key": req.SessionKey,
		"action":      string(in.Action),
		"source":      in.Source,
	})

	switch in.Action {
	case ActionGenerate:
		h.Generate(ctx, req, firstNonEmpty(in.Description, query))
	case ActionRefine:
		h.Refine(ctx, req, firstNonEmpty(in.Feedback, query))
	case ActionShrink:
		h.Shrink(ctx, req, in.Intensity)
	case ActionList:
		h.List(ctx, req)
	case ActionView:
		h.View(ctx, req, in.PersonaID)
	case ActionActivate:
		if in.PersonaID == "" {
			req.say(fmt.Sprintf("Which persona? e.g. /persona activate qp_cat_abc123\nKnown personas: %s", personaList))
			return
		}
		h.Activate(ctx, req, in.PersonaID)
	case ActionDelete:
		if in.PersonaID == "" {
			req.say("Please name the persona to delete.")
			return
		}
		h.Delete(ctx, req, in.PersonaID)
	case ActionRollback:
		h.Rollback(ctx, req, in.PersonaID)
	case ActionStatus:
		h.Status(req)
	case ActionApply:
		h.Apply(ctx, req)
	case ActionCancel:
		h.Cancel(req)
	default:
		h.Help(req)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
