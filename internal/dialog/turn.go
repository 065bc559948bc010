// Package dialog runs the multi-turn conversation: it owns the session
// history, injects the reasoning control turn, classifies whether the user is
// done and swaps in the farewell prompt for the last reply.
package dialog

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

type Role int

const (
	System Role = iota
	User
	Assistant
	Control
)

func (r Role) String() string {
	switch r {
	case System:
		return "system"
	case User:
		return "user"
	case Assistant:
		return "assistant"
	case Control:
		return "control"
	}
	return fmt.Sprintf("role(%d)", int(r))
}

func (r Role) MarshalText() ([]byte, error) {
	switch r {
	case System, User, Assistant, Control:
		return []byte(r.String()), nil
	}
	return nil, fmt.Errorf("dialog: unknown role %d", int(r))
}

type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type Decision int

const (
	Continue Decision = iota
	Complete
)

func (d Decision) String() string {
	if d == Complete {
		return "complete"
	}
	return "continue"
}

type Reply struct {
	Text     string
	Decision Decision
}

// Session is the ordered history of one conversation. Turns are only ever
// appended; callers receive copies.
type Session struct {
	ID                string
	UseCase           string
	ReasoningRequired bool

	turns []Turn
}

func newSession(useCase string, reasoning bool) *Session {
	return &Session{
		ID:                uuid.NewString(),
		UseCase:           useCase,
		ReasoningRequired: reasoning,
	}
}

func (s *Session) append(t Turn) {
	s.turns = append(s.turns, t)
}

func (s *Session) Turns() []Turn {
	return slices.Clone(s.turns)
}

func (s *Session) Len() int {
	return len(s.turns)
}

// LastAssistant returns the most recent assistant reply.
func (s *Session) LastAssistant() (string, bool) {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == Assistant {
			return s.turns[i].Content, true
		}
	}
	return "", false
}

// withSystem returns a copy of the history with the system turn replaced.
func (s *Session) withSystem(prompt string) []Turn {
	out := s.Turns()
	for i := range out {
		if out[i].Role == System {
			out[i] = Turn{Role: System, Content: prompt}
			break
		}
	}
	return out
}
