package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Dicklesworthstone/opgate/internal/core"
	"github.com/Dicklesworthstone/opgate/internal/tui/styles"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"golang.org/x/term"
)

// Terminal asks confirmation questions with huh forms. Prompts are drawn
// on stderr so stdout stays clean for the wrapped command's output.
type Terminal struct {
	in         io.Reader
	out        io.Writer
	styles     *styles.Styles
	accessible bool
	ttyInput   bool
	// interactive overrides TTY detection when non-nil.
	interactive *bool
}

// TerminalOption configures a Terminal.
type TerminalOption func(*Terminal)

// WithInput sets where answers are read from.
func WithInput(r io.Reader) TerminalOption {
	return func(t *Terminal) { t.in = r }
}

// WithOutput sets where prompts are drawn.
func WithOutput(w io.Writer) TerminalOption {
	return func(t *Terminal) { t.out = w }
}

// WithStyles sets the styles used for rendering.
func WithStyles(s *styles.Styles) TerminalOption {
	return func(t *Terminal) { t.styles = s }
}

// WithAccessible switches huh to line-based prompts for screen readers.
func WithAccessible(on bool) TerminalOption {
	return func(t *Terminal) { t.accessible = on }
}

// WithTTYInput reads answers from the controlling terminal instead of
// stdin, for when stdin carries the payload.
func WithTTYInput() TerminalOption {
	return func(t *Terminal) { t.ttyInput = true }
}

// WithInteractive overrides TTY detection.
func WithInteractive(on bool) TerminalOption {
	return func(t *Terminal) { t.interactive = &on }
}

// NewTerminal returns a terminal UI on stdin/stderr.
func NewTerminal(opts ...TerminalOption) *Terminal {
	t := &Terminal{in: os.Stdin, out: os.Stderr}
	for _, opt := range opts {
		opt(t)
	}
	if t.styles == nil {
		t.styles = styles.New()
	}
	return t
}

// Interactive reports whether a human can answer.
func (t *Terminal) Interactive() bool {
	if t.interactive != nil {
		return *t.interactive
	}
	if t.ttyInput {
		return isTerminal(t.out)
	}
	return isTerminal(t.in) && isTerminal(t.out)
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Ask renders p and waits for the answer. It returns core.ErrNoInteractiveUI
// when there is no terminal to ask on. Aborting the form (ctrl+c) counts as
// declining the step.
func (t *Terminal) Ask(ctx context.Context, p core.Prompt) (core.Answer, error) {
	if !t.Interactive() {
		return core.Answer{}, core.ErrNoInteractiveUI
	}
	fmt.Fprintln(t.out, RenderPrompt(p, t.styles))

	var ans core.Answer
	form := huh.NewForm(huh.NewGroup(t.field(p, &ans))).
		WithTheme(HuhTheme(t.styles)).
		WithShowHelp(false).
		WithAccessible(t.accessible).
		WithInput(t.in).
		WithOutput(t.out)
	if t.ttyInput {
		form = form.WithProgramOptions(tea.WithInputTTY())
	}

	err := form.RunWithContext(ctx)
	switch {
	case err == nil:
		return ans, nil
	case errors.Is(err, huh.ErrUserAborted):
		return core.Answer{}, nil
	case errors.Is(err, huh.ErrTimeout):
		return core.Answer{}, core.ErrUITimeout
	case ctx.Err() != nil:
		return core.Answer{}, ctx.Err()
	default:
		return core.Answer{}, fmt.Errorf("confirmation form: %w", err)
	}
}

func (t *Terminal) field(p core.Prompt, ans *core.Answer) huh.Field {
	if p.Kind == core.StepType {
		// No validation: a mismatch must fail the step, not re-prompt.
		return huh.NewInput().
			Title(p.Text).
			Placeholder(p.RequiredTypedValue).
			Value(&ans.TypedValue)
	}
	return huh.NewSelect[string]().
		Title(p.Text).
		Options(huh.NewOptions(p.Options...)...).
		Value(&ans.SelectedOption)
}
