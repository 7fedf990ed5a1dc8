package host

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "host.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_PersonaLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, found, err := s.GetPersona(ctx, "qp_cat_abc123"); err != nil || found {
		t.Fatalf("expected missing persona, got found=%v err=%v", found, err)
	}
	if err := s.CreatePersona(ctx, "qp_cat_abc123", "You are a cat."); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreatePersona(ctx, "qp_cat_abc123", "dup"); !errors.Is(err, ErrPersonaExists) {
		t.Fatalf("expected ErrPersonaExists, got %v", err)
	}
	if err := s.UpdatePersona(ctx, "qp_cat_abc123", "You are a grumpy cat."); err != nil {
		t.Fatalf("update: %v", err)
	}
	p, found, err := s.GetPersona(ctx, "qp_cat_abc123")
	if err != nil || !found {
		t.Fatalf("get: found=%v err=%v", found, err)
	}
	if p.SystemPrompt != "You are a grumpy cat." {
		t.Fatalf("unexpected prompt %q", p.SystemPrompt)
	}

	if err := s.UpdatePersona(ctx, "missing", "x"); !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound, got %v", err)
	}

	_ = s.CreatePersona(ctx, "default", "helpful")
	list, err := s.ListPersonas(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || list[0].ID != "default" {
		t.Fatalf("unexpected list %+v", list)
	}

	if err := s.DeletePersona(ctx, "qp_cat_abc123"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeletePersona(ctx, "qp_cat_abc123"); !errors.Is(err, ErrPersonaNotFound) {
		t.Fatalf("expected ErrPersonaNotFound on second delete, got %v", err)
	}
}

func TestSQLiteStore_Conversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	session := "discord:42"

	if _, found, err := s.CurrentConversationID(ctx, session); err != nil || found {
		t.Fatalf("expected no current conversation, got found=%v err=%v", found, err)
	}

	id, err := s.NewConversation(ctx, session, "qp_a", "Persona: qp_a")
	if err != nil {
		t.Fatalf("new conversation: %v", err)
	}
	cur, found, err := s.CurrentConversationID(ctx, session)
	if err != nil || !found || cur != id {
		t.Fatalf("current = (%q, %v, %v), want %q", cur, found, err, id)
	}

	if err := s.UpdateConversation(ctx, session, id, "qp_b"); err != nil {
		t.Fatalf("update conversation: %v", err)
	}
	personaID, err := s.ConversationPersona(ctx, id)
	if err != nil || personaID != "qp_b" {
		t.Fatalf("persona = (%q, %v)", personaID, err)
	}

	if err := s.UpdateConversation(ctx, "other:1", id, "qp_c"); err == nil {
		t.Fatalf("expected error updating a conversation from another session")
	}

	second, err := s.NewConversation(ctx, session, "", "")
	if err != nil {
		t.Fatalf("second conversation: %v", err)
	}
	if cur, _, _ := s.CurrentConversationID(ctx, session); cur != second {
		t.Fatalf("expected newest conversation to become current")
	}
}

func TestSQLiteStore_DeletePersonaUnbindsConversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_ = s.CreatePersona(ctx, "qp_a", "x")
	id, _ := s.NewConversation(ctx, "s", "qp_a", "Persona: qp_a")

	if err := s.DeletePersona(ctx, "qp_a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if personaID, _ := s.ConversationPersona(ctx, id); personaID != "" {
		t.Fatalf("expected conversation persona cleared, got %q", personaID)
	}
}

func TestSQLiteStore_RecentPagesNewestFirstOldestWithinPage(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := s.Append(ctx, Record{
			Session:   "g:1",
			SenderID:  "u1",
			Role:      RoleUser,
			Content:   fmt.Sprintf("m%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = s.Append(ctx, Record{Session: "g:2", Role: RoleUser, Content: "elsewhere"})

	page1, err := s.Recent(ctx, "g:1", 1, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(page1) != 2 || page1[0].Content != "m3" || page1[1].Content != "m4" {
		t.Fatalf("unexpected page 1: %+v", page1)
	}
	page3, _ := s.Recent(ctx, "g:1", 3, 2)
	if len(page3) != 1 || page3[0].Content != "m0" {
		t.Fatalf("unexpected page 3: %+v", page3)
	}

	if err := s.Append(ctx, Record{Session: "g:1", Content: "x"}); err == nil {
		t.Fatalf("expected error for empty role")
	}
}
