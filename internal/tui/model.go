// Package tui is the terminal front end: a one-line input for new thoughts
// above the live, newest-first list of everything in the palace.
package tui

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// Submitter stores a new thought.
type Submitter interface {
	Submit(ctx context.Context, content string) (*thought.Thought, error)
}

// Model is the bubbletea model for the thought capture screen.
type Model struct {
	ctx       context.Context
	submitter Submitter
	view      *liveview.View
	loc       *time.Location
	now       func() time.Time

	input   textinput.Model
	spinner spinner.Model

	thoughts []*thought.Thought
	loading  bool
	sending  bool
	err      error
	feedErr  error
	quitting bool
}

type viewOpenedMsg struct{ err error }

type changeMsg struct{ ev thought.ChangeEvent }

type feedClosedMsg struct{ err error }

type submittedMsg struct {
	thought *thought.Thought
	err     error
}

// Option configures a Model.
type Option func(*Model)

// WithLocation sets the zone used for timestamps.
func WithLocation(loc *time.Location) Option {
	return func(m *Model) {
		m.loc = loc
	}
}

// WithClock sets the clock used for the activity chart.
func WithClock(now func() time.Time) Option {
	return func(m *Model) {
		m.now = now
	}
}

// NewModel creates the capture screen. view must not be opened yet; Init
// opens it.
func NewModel(ctx context.Context, submitter Submitter, view *liveview.View, opts ...Option) Model {
	input := textinput.New()
	input.Placeholder = "What's on your mind?"
	input.Prompt = "> "
	input.CharLimit = 2000
	input.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = sparklineStyle

	m := Model{
		ctx:       ctx,
		submitter: submitter,
		view:      view,
		loc:       time.Local,
		now:       time.Now,
		input:     input,
		spinner:   sp,
		loading:   true,
	}
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// Init opens the live view and starts the cursor and spinner.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.spinner.Tick,
		openView(m.ctx, m.view),
	)
}

func openView(ctx context.Context, view *liveview.View) tea.Cmd {
	return func() tea.Msg {
		return viewOpenedMsg{err: view.Open(ctx)}
	}
}

func waitForChange(ctx context.Context, view *liveview.View) tea.Cmd {
	return func() tea.Msg {
		ev, err := view.Next(ctx)
		if err != nil {
			return feedClosedMsg{err: err}
		}
		return changeMsg{ev: ev}
	}
}

func submit(ctx context.Context, s Submitter, content string) tea.Cmd {
	return func() tea.Msg {
		t, err := s.Submit(ctx, content)
		return submittedMsg{thought: t, err: err}
	}
}

// Update handles keys, submission results and change feed events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.quitting = true
			_ = m.view.Close()
			return m, tea.Quit
		case tea.KeyEnter:
			return m.send()
		}
		if m.sending {
			return m, nil
		}

	case viewOpenedMsg:
		m.loading = false
		if msg.err != nil {
			m.feedErr = msg.err
			return m, nil
		}
		m.thoughts = m.view.Thoughts()
		return m, waitForChange(m.ctx, m.view)

	case changeMsg:
		m.thoughts = m.view.Thoughts()
		return m, waitForChange(m.ctx, m.view)

	case feedClosedMsg:
		if !errors.Is(msg.err, liveview.ErrClosed) && !errors.Is(msg.err, context.Canceled) {
			m.feedErr = msg.err
		}
		return m, nil

	case submittedMsg:
		m.sending = false
		m.input.Focus()
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.input.Reset()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// send submits the input unless it is blank or a submission is pending.
func (m Model) send() (tea.Model, tea.Cmd) {
	if m.sending {
		return m, nil
	}
	content := m.input.Value()
	if strings.TrimSpace(content) == "" {
		return m, nil
	}
	m.sending = true
	m.err = nil
	m.input.Blur()
	return m, submit(m.ctx, m.submitter, content)
}

// View renders the screen.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render("MINDPALACE"))
	b.WriteString("\n\n")

	if m.sending {
		b.WriteString(m.spinner.View() + " " + dimStyle.Render("Transmitting..."))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render("✗ Failed to save thought: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	switch {
	case m.loading:
		b.WriteString(m.spinner.View() + " " + dimStyle.Render("Loading thoughts..."))
		b.WriteString("\n")
	case m.feedErr != nil:
		b.WriteString(errorStyle.Render("⚠ Live updates unavailable: " + m.feedErr.Error()))
		b.WriteString("\n")
		fallthrough
	default:
		b.WriteString(renderActivity(m.thoughts, m.now()))
		b.WriteString("\n")
		var list strings.Builder
		_ = liveview.RenderIn(&list, m.thoughts, m.loc)
		b.WriteString(listStyle.Render(strings.TrimRight(list.String(), "\n")))
		b.WriteString("\n")
	}

	b.WriteString(footerStyle.Render(footerKeyStyle.Render("[enter]") + " send  " + footerKeyStyle.Render("[esc]") + " quit"))
	return b.String()
}

// Run shows the capture screen until the user quits or ctx is done. The
// live view is always closed on return.
func Run(ctx context.Context, submitter Submitter, view *liveview.View, opts ...Option) error {
	defer view.Close()

	p := tea.NewProgram(NewModel(ctx, submitter, view, opts...), tea.WithContext(ctx), tea.WithAltScreen())
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
