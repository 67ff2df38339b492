package prompt

import (
	"context"
	"errors"
	"sync"

	"github.com/Dicklesworthstone/opgate/internal/core"
)

// ErrScriptExhausted is returned when a Scripted UI runs out of answers.
var ErrScriptExhausted = errors.New("scripted answers exhausted")

// Scripted answers prompts from a fixed list and records every prompt it
// was shown.
type Scripted struct {
	mu      sync.Mutex
	answers []core.Answer
	prompts []core.Prompt
}

// NewScripted returns a UI that gives answers in order.
func NewScripted(answers ...core.Answer) *Scripted {
	return &Scripted{answers: answers}
}

// Choose is an answer selecting option.
func Choose(option string) core.Answer {
	return core.Answer{SelectedOption: option}
}

// Type is an answer typing value.
func Type(value string) core.Answer {
	return core.Answer{TypedValue: value}
}

// Ask records p and returns the next answer.
func (s *Scripted) Ask(ctx context.Context, p core.Prompt) (core.Answer, error) {
	if err := ctx.Err(); err != nil {
		return core.Answer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, p)
	if len(s.answers) == 0 {
		return core.Answer{}, ErrScriptExhausted
	}
	ans := s.answers[0]
	s.answers = s.answers[1:]
	return ans, nil
}

// Prompts returns the prompts shown so far.
func (s *Scripted) Prompts() []core.Prompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Prompt(nil), s.prompts...)
}
