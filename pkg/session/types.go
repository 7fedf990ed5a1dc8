// Package session holds per-conversation workflow state for persona editing:
// which persona is selected, the uncommitted edit, and the phase the
// conversation is in.
package session

import (
	"fmt"
	"time"
)

type State string

const (
	StateIdle                State = "idle"
	StateWaitingConfirm      State = "waiting_confirm"
	StateWaitingMissingInput State = "waiting_missing_input"
)

// Mode tags how a pending persona was produced.
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeGuided   Mode = "guided"
	ModeRefine   Mode = "refine"
	ModeShrink   Mode = "shrink"
	ModeConvert  Mode = "convert"
)

// FieldSpec describes one persona attribute found missing (or provided)
// during guided generation.
type FieldSpec struct {
	Field string `json:"field"`
	Label string `json:"label"`
	Hint  string `json:"hint,omitempty"`
}

// Guided carries the analysis context while a guided generation waits for
// the user to answer.
type Guided struct {
	ID          string
	Description string
	Missing     []FieldSpec
	Provided    []FieldSpec
}

type PendingPersona struct {
	PersonaID      string
	SystemPrompt   string
	CreatedAt      time.Time
	Mode           Mode
	OriginalPrompt string
	Guided         *Guided
}

func (p *PendingPersona) clone() *PendingPersona {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Guided != nil {
		g := *p.Guided
		g.Missing = append([]FieldSpec(nil), p.Guided.Missing...)
		g.Provided = append([]FieldSpec(nil), p.Guided.Provided...)
		cp.Guided = &g
	}
	return &cp
}

// Data is the state of one conversation. Pending is non-nil exactly when
// State is not StateIdle; the methods below are the only mutators that keep
// that pairing.
type Data struct {
	State            State
	Pending          *PendingPersona
	CurrentPersonaID string
}

// Await stores p as the pending edit and moves to a waiting state. Any
// earlier pending edit is overwritten.
func (d *Data) Await(state State, p *PendingPersona) error {
	if state == StateIdle || p == nil {
		return fmt.Errorf("await %s: %w", state, ErrInvalidTransition)
	}
	if state != StateWaitingConfirm && state != StateWaitingMissingInput {
		return fmt.Errorf("await unknown state %q: %w", state, ErrInvalidTransition)
	}
	d.State = state
	d.Pending = p
	return nil
}

// Replace swaps the pending edit in place while keeping the current
// waiting state.
func (d *Data) Replace(p *PendingPersona) error {
	if d.State == StateIdle || p == nil {
		return fmt.Errorf("replace pending in %s: %w", d.State, ErrInvalidTransition)
	}
	d.Pending = p
	return nil
}

// Reset discards any pending edit.
func (d *Data) Reset() {
	d.State = StateIdle
	d.Pending = nil
}

// Commit records personaID as current and discards the pending edit.
func (d *Data) Commit(personaID string) {
	d.CurrentPersonaID = personaID
	d.Reset()
}

// Consistent reports whether the pending/state pairing holds.
func (d Data) Consistent() bool {
	return (d.Pending != nil) == (d.State != StateIdle)
}

func (d Data) clone() Data {
	d.Pending = d.Pending.clone()
	if d.State == "" {
		d.State = StateIdle
	}
	return d
}
