package profile

import (
	"fmt"
	"strings"

	"github.com/dotsetgreg/dotpersona/pkg/host"
)

const profileOutputFormat = `Respond with a single JSON object and nothing else:
{"profile_text": "an overall description of the user, 100-300 words", "traits": ["trait"], "interests": ["interest"], "speaking_style": "how the user writes", "emotional_tendency": "the user's emotional tendencies"}`

const initTemplate = `You are a user profiling expert. Build an initial profile of a chat user from their messages.

User ID: {user_id}
Nickname: {nickname}

Messages from the user:
{messages}

Conversation around those messages (other participants and bot replies, for context only):
{context}

Describe only the user above. Keep the profile concise and focused.
` + profileOutputFormat

const updateTemplate = `You are a user profiling expert. Update a chat user's profile with their new messages.

Current profile:
{current_profile}

New messages from the user:
{messages}

Conversation around those messages (other participants and bot replies, for context only):
{context}

Merge what the new messages reveal into the current profile instead of starting over. Keep it concise and focused.
` + profileOutputFormat

func fillTemplate(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func formatMessages(msgs []BufferedMessage) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		where := "[direct]"
		if m.GroupID != "" {
			where = fmt.Sprintf("[group %s]", m.GroupID)
		}
		lines = append(lines, fmt.Sprintf("%s %s: %s", where, m.Timestamp.Format("15:04"), m.Content))
	}
	return strings.Join(lines, "\n")
}

// formatContext renders history records, tagging each with who spoke.
func formatContext(records []host.Record, userID string) string {
	if len(records) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(records))
	for _, r := range records {
		speaker := r.SenderName
		if speaker == "" {
			speaker = r.SenderID
		}
		var tag string
		switch {
		case r.Role == host.RoleAssistant:
			tag = "bot"
		case r.SenderID == userID:
			tag = "target user"
		default:
			tag = "other user"
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s: %s", tag, speaker, r.Timestamp.Format("15:04"), r.Content))
	}
	return strings.Join(lines, "\n")
}

func initPrompt(userID, nickname, messages, context string) string {
	if nickname == "" {
		nickname = "unknown"
	}
	return fillTemplate(initTemplate, map[string]string{
		"user_id":  userID,
		"nickname": nickname,
		"messages": messages,
		"context":  context,
	})
}

func updatePrompt(p UserProfile, messages, context string) string {
	current := fmt.Sprintf("Description: %s\nTraits: %s\nInterests: %s\nSpeaking style: %s\nEmotional tendency: %s",
		p.ProfileText,
		strings.Join(p.Traits, ", "),
		strings.Join(p.Interests, ", "),
		p.SpeakingStyle,
		p.EmotionalTendency,
	)
	return fillTemplate(updateTemplate, map[string]string{
		"current_profile": current,
		"messages":        messages,
		"context":         context,
	})
}
