package persona

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dotsetgreg/dotpersona/pkg/backup"
	"github.com/dotsetgreg/dotpersona/pkg/config"
	"github.com/dotsetgreg/dotpersona/pkg/host"
)

type scriptedLLM struct {
	mu      sync.Mutex
	replies map[string]func(prompt string) (string, error)
	prompts map[string][]string
}

func newScriptedLLM() *scriptedLLM {
	return &scriptedLLM{
		replies: make(map[string]func(string) (string, error)),
		prompts: make(map[string][]string),
	}
}

func (s *scriptedLLM) on(purpose string, fn func(prompt string) (string, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[purpose] = fn
}

func (s *scriptedLLM) reply(purpose, text string) {
	s.on(purpose, func(string) (string, error) { return text, nil })
}

func (s *scriptedLLM) Call(_ context.Context, _ string, purpose, prompt string) (string, error) {
	s.mu.Lock()
	s.prompts[purpose] = append(s.prompts[purpose], prompt)
	fn := s.replies[purpose]
	s.mu.Unlock()
	if fn == nil {
		return "", fmt.Errorf("no scripted reply for %s", purpose)
	}
	return fn(prompt)
}

func (s *scriptedLLM) calls(purpose string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts[purpose]...)
}

type fakePersonas struct {
	mu        sync.Mutex
	personas  map[string]host.Persona
	createErr error
	updateErr error
}

func newFakePersonas() *fakePersonas {
	return &fakePersonas{personas: make(map[string]host.Persona)}
}

func (f *fakePersonas) put(id, prompt string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.personas[id] = host.Persona{ID: id, SystemPrompt: prompt}
}

func (f *fakePersonas) prompt(id string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	return p.SystemPrompt, ok
}

func (f *fakePersonas) GetPersona(_ context.Context, id string) (host.Persona, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.personas[id]
	return p, ok, nil
}

func (f *fakePersonas) CreatePersona(_ context.Context, id, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.personas[id]; ok {
		return errors.New("exists")
	}
	f.personas[id] = host.Persona{ID: id, SystemPrompt: prompt}
	return nil
}

func (f *fakePersonas) UpdatePersona(_ context.Context, id, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return f.updateErr
	}
	p, ok := f.personas[id]
	if !ok {
		return errors.New("not found")
	}
	p.SystemPrompt = prompt
	f.personas[id] = p
	return nil
}

func (f *fakePersonas) DeletePersona(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.personas, id)
	return nil
}

func (f *fakePersonas) ListPersonas(_ context.Context) ([]host.Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.Persona, 0, len(f.personas))
	for _, p := range f.personas {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeConversations struct {
	mu      sync.Mutex
	current map[string]string
	binding map[string]string
	next    int
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{current: make(map[string]string), binding: make(map[string]string)}
}

func (f *fakeConversations) CurrentConversationID(_ context.Context, session string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.current[session]
	return id, ok, nil
}

func (f *fakeConversations) UpdateConversation(_ context.Context, _ string, conversationID, personaID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binding[conversationID] = personaID
	return nil
}

func (f *fakeConversations) NewConversation(_ context.Context, session, personaID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := fmt.Sprintf("conv-%d", f.next)
	f.current[session] = id
	f.binding[id] = personaID
	return id, nil
}

type replies struct {
	mu    sync.Mutex
	lines []string
}

func (r *replies) add(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, text)
}

func (r *replies) all() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n---\n")
}

type harness struct {
	h        *Handler
	llm      *scriptedLLM
	personas *fakePersonas
	convs    *fakeConversations
	backups  *backup.Store
	out      *replies
	req      Request
}

func newHarness(t *testing.T, mutate func(cfg *config.PersonaConfig)) *harness {
	t.Helper()
	cfg := config.DefaultConfig().Persona
	cfg.EnableGuidedGeneration = false
	if mutate != nil {
		mutate(&cfg)
	}
	backups, err := backup.NewStore(t.TempDir(), cfg.BackupVersions)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	hs := &harness{
		llm:      newScriptedLLM(),
		personas: newFakePersonas(),
		convs:    newFakeConversations(),
		backups:  backups,
		out:      &replies{},
	}
	hs.h = NewHandler(cfg, Deps{
		Backups:       backups,
		Personas:      hs.personas,
		Conversations: hs.convs,
		LLM:           hs.llm,
		ReplyTimeout:  2 * time.Second,
	})
	hs.req = Request{SessionKey: "discord:42", SenderID: "u1", SenderName: "alice", Reply: hs.out.add}
	t.Cleanup(hs.h.Wait)
	return hs
}

func (hs *harness) run(args string) {
	hs.h.Handle(context.Background(), hs.req, args)
}
