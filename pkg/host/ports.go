// Package host defines the collaborators the persona and profile workflows
// depend on (persona records, conversation bindings, message history) and a
// SQLite implementation of all of them.
package host

import (
	"context"
	"time"
)

type Persona struct {
	ID           string
	SystemPrompt string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PersonaManager owns persona records. GetPersona reports a missing id with
// found=false and a nil error.
type PersonaManager interface {
	GetPersona(ctx context.Context, id string) (Persona, bool, error)
	CreatePersona(ctx context.Context, id, prompt string) error
	UpdatePersona(ctx context.Context, id, prompt string) error
	DeletePersona(ctx context.Context, id string) error
	ListPersonas(ctx context.Context) ([]Persona, error)
}

// ConversationManager binds personas to the conversation a session is in.
type ConversationManager interface {
	CurrentConversationID(ctx context.Context, session string) (string, bool, error)
	UpdateConversation(ctx context.Context, session, conversationID, personaID string) error
	NewConversation(ctx context.Context, session, personaID, title string) (string, error)
}

// Roles used in history records.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Record struct {
	Session    string
	SenderID   string
	SenderName string
	Role       string
	Content    string
	Timestamp  time.Time
}

// MessageHistory stores chat records per session. Recent pages backwards
// from the newest record (page 1 is the newest pageSize records) and
// returns each page oldest first.
type MessageHistory interface {
	Append(ctx context.Context, rec Record) error
	Recent(ctx context.Context, session string, page, pageSize int) ([]Record, error)
}
