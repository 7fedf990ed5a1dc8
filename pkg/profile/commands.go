package profile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/logger"
	"github.com/dotsetgreg/dotpersona/pkg/render"
)

// Request identifies who issued a /profile command and where replies go.
type Request struct {
	SessionKey string
	SenderID   string
	SenderName string
	// GroupID is empty for direct messages.
	GroupID string
	Reply   func(text string)
}

func (r Request) say(text string) {
	if r.Reply != nil && strings.TrimSpace(text) != "" {
		r.Reply(text)
	}
}

// Commands implements the /profile command group on top of a Service.
type Commands struct {
	svc      *Service
	renderer render.Renderer
}

func NewCommands(svc *Service, renderer render.Renderer) *Commands {
	return &Commands{svc: svc, renderer: renderer}
}

func (c *Commands) Service() *Service { return c.svc }

const profileHelp = `👤 Profile commands (/profile)

📡 Monitoring
/profile monitor [global|group] [user_id] - collect a user's messages (defaults to you)
/profile unmonitor <user_id> - stop collecting
/profile monitors - list monitors

📊 Profiles
/profile view [user_id] - show a profile
/profile list - list profiles

🔧 Maintenance
/profile update <user_id> - update now from buffered messages
/profile delete <user_id> - delete profile, monitor and buffer
/profile buffer [user_id] - show the message buffer

💡 Once monitored, a user's messages are batched and the model updates the
profile automatically. Profiles are kept across restarts.`

// Handle runs one /profile command.
func (c *Commands) Handle(ctx context.Context, req Request, args string) {
	fields := strings.Fields(args)
	sub := ""
	if len(fields) > 0 {
		sub = strings.ToLower(fields[0])
		fields = fields[1:]
	}
	arg := func() string {
		if len(fields) > 0 {
			return fields[0]
		}
		return ""
	}

	switch sub {
	case "", "help", "帮助":
		req.say(profileHelp)
	case "monitor", "添加监控":
		c.Monitor(req, fields)
	case "unmonitor", "移除监控":
		c.Unmonitor(req, arg())
	case "monitors", "监控列表":
		c.ListMonitors(req)
	case "view", "查看":
		c.View(req, arg())
	case "list", "列表":
		c.List(req)
	case "update", "强制更新":
		c.Update(ctx, req, arg())
	case "delete", "删除":
		c.Delete(req, arg())
	case "buffer", "缓冲状态":
		c.Buffer(req, arg())
	default:
		req.say(fmt.Sprintf("Unknown profile command %q.\n\n%s", sub, profileHelp))
	}
}

// Monitor accepts its mode and user id in either order.
func (c *Commands) Monitor(req Request, args []string) {
	mode := ModeGlobal
	userID := ""
	for _, a := range args {
		switch strings.ToLower(a) {
		case "global", "全局":
			mode = ModeGlobal
		case "group", "群聊", "群":
			mode = ModeGroup
		default:
			if userID == "" {
				userID = a
			}
		}
	}
	if userID == "" {
		userID = req.SenderID
	}
	if userID == "" {
		req.say("Please give a user id, e.g. /profile monitor 123456789")
		return
	}

	var groups []string
	if mode == ModeGroup {
		if req.GroupID == "" {
			req.say("❌ Group mode only works inside a group.")
			return
		}
		groups = []string{req.GroupID}
	}
	if _, err := c.svc.AddMonitor(userID, mode, groups, req.SenderID); err != nil {
		req.say(fmt.Sprintf("❌ Adding the monitor failed: %v", err))
		return
	}
	modeText := "global"
	if mode == ModeGroup {
		modeText = fmt.Sprintf("group (%s)", strings.Join(groups, ", "))
	}
	req.say(fmt.Sprintf("✅ Monitoring started\n👤 User ID: %s\n📡 Mode: %s\n💡 Messages from this user will be collected into a profile", userID, modeText))
}

func (c *Commands) Unmonitor(req Request, userID string) {
	if userID == "" {
		req.say("Please give a user id, e.g. /profile unmonitor 123456789")
		return
	}
	if err := c.svc.RemoveMonitor(userID); err != nil {
		req.say(fmt.Sprintf("❌ No monitor found for %s", userID))
		return
	}
	req.say(fmt.Sprintf("✅ Stopped monitoring %s", userID))
}

func (c *Commands) ListMonitors(req Request) {
	monitors := c.svc.Monitors()
	if len(monitors) == 0 {
		req.say("No users are monitored.")
		return
	}
	sep := strings.Repeat("-", 30)
	lines := []string{"📡 Monitors", sep}
	for _, m := range monitors {
		modeText := "🌐 global"
		if m.Mode == ModeGroup {
			groups := m.GroupIDs
			if len(groups) > 2 {
				groups = groups[:2]
			}
			modeText = fmt.Sprintf("👥 group (%s)", strings.Join(groups, ", "))
		}
		status := "✅ on"
		if !m.Enabled {
			status = "⏸️ paused"
		}
		lines = append(lines, fmt.Sprintf("• %s | %s | %s", m.UserID, modeText, status))
	}
	lines = append(lines, sep, fmt.Sprintf("%d monitors", len(monitors)))
	req.say(strings.Join(lines, "\n"))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none yet"
	}
	return s
}

func (c *Commands) View(req Request, userID string) {
	if userID == "" {
		userID = req.SenderID
	}
	p, ok := c.svc.Profile(userID)
	if !ok {
		req.say(fmt.Sprintf("❌ No profile for %s", userID))
		return
	}
	updated := "never"
	if !p.LastUpdated.IsZero() {
		updated = p.LastUpdated.Format("2006-01-02 15:04")
	}
	traits := orNone(strings.Join(p.Traits, ", "))
	interests := orNone(strings.Join(p.Interests, ", "))

	sep := strings.Repeat("-", 30)
	fallback := strings.Join([]string{
		fmt.Sprintf("👤 Profile: %s", p.DisplayName()),
		sep,
		fmt.Sprintf("📝 Description: %s", orNone(p.ProfileText)),
		fmt.Sprintf("🏷️ Traits: %s", traits),
		fmt.Sprintf("💡 Interests: %s", interests),
		fmt.Sprintf("💬 Speaking style: %s", orNone(p.SpeakingStyle)),
		fmt.Sprintf("❤️ Emotional tendency: %s", orNone(p.EmotionalTendency)),
		sep,
		fmt.Sprintf("📊 Messages analysed: %d", p.MessageCount),
	}, "\n")

	req.say(render.CardOrText(c.renderer, render.ProfileCard, render.Card{
		Icon:     "👤",
		Title:    p.DisplayName(),
		Subtitle: "User ID: " + p.UserID,
		Content:  orNone(p.ProfileText),
		Meta: []render.Meta{
			{Key: "Traits", Value: traits},
			{Key: "Interests", Value: interests},
			{Key: "Speaking style", Value: orNone(p.SpeakingStyle)},
			{Key: "Emotional tendency", Value: orNone(p.EmotionalTendency)},
			{Key: "Messages analysed", Value: fmt.Sprintf("%d", p.MessageCount)},
		},
		Footer: "Updated: " + updated,
	}, fallback))
}

func (c *Commands) List(req Request) {
	profiles := c.svc.Profiles()
	if len(profiles) == 0 {
		req.say("No profiles yet.")
		return
	}
	sep := strings.Repeat("-", 30)
	lines := []string{"👥 Profiles", sep}
	for _, p := range profiles {
		preview := "no description yet"
		if p.ProfileText != "" {
			preview = preview30(p.ProfileText)
		}
		lines = append(lines, fmt.Sprintf("• %s: %s", p.DisplayName(), preview))
	}
	lines = append(lines, sep, fmt.Sprintf("%d profiles", len(profiles)))
	req.say(strings.Join(lines, "\n"))
}

func preview30(s string) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= 30 {
		return string(r)
	}
	return string(r[:30]) + "..."
}

func (c *Commands) Update(ctx context.Context, req Request, userID string) {
	if userID == "" {
		req.say("Please give a user id, e.g. /profile update 123456789")
		return
	}
	st, ok := c.svc.BufferStatus(userID)
	if !ok || st.Count == 0 {
		req.say(fmt.Sprintf("❌ The message buffer of %s is empty, nothing to update", userID))
		return
	}
	req.say(fmt.Sprintf("🔄 Updating the profile of %s...\n📝 Buffered messages: %d", userID, st.Count))

	if err := c.svc.ForceUpdate(ctx, userID); err != nil {
		if errors.Is(err, ErrEmptyBuffer) {
			req.say(fmt.Sprintf("❌ The message buffer of %s is empty, nothing to update", userID))
			return
		}
		logger.WarnCF("profile", "Manual profile update failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		req.say("❌ The update failed; the messages were kept for the next attempt.")
		return
	}
	req.say(fmt.Sprintf("✅ Profile updated! See it with /profile view %s", userID))
}

func (c *Commands) Delete(req Request, userID string) {
	if userID == "" {
		req.say("Please give a user id, e.g. /profile delete 123456789")
		return
	}
	if err := c.svc.DeleteProfile(userID); err != nil {
		req.say(fmt.Sprintf("❌ No profile for %s", userID))
		return
	}
	req.say(fmt.Sprintf("✅ Deleted the profile and monitor of %s", userID))
}

func (c *Commands) Buffer(req Request, userID string) {
	if userID == "" {
		userID = req.SenderID
	}
	st, ok := c.svc.BufferStatus(userID)
	if !ok {
		req.say(fmt.Sprintf("📦 %s has no message buffer", userID))
		return
	}
	lines := []string{
		fmt.Sprintf("📦 Message buffer of %s", userID),
		fmt.Sprintf("📝 Buffered messages: %d", st.Count),
		fmt.Sprintf("⏰ Last update: %s", st.LastFlush.Format("2006-01-02 15:04:05")),
	}
	switch {
	case st.DueNow:
		lines = append(lines, "⏭️ Next update: at the next check")
	case !st.AgeDueAt.IsZero():
		lines = append(lines, fmt.Sprintf("⏭️ Next update: after %d more messages or at %s",
			st.Remaining, st.AgeDueAt.Format(time.Kitchen)))
	default:
		lines = append(lines, fmt.Sprintf("⏭️ Next update: after %d more messages", st.Remaining))
	}
	req.say(strings.Join(lines, "\n"))
}
