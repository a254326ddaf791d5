package tui

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/brokerdesk/portal/internal/otp"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	log "github.com/sirupsen/logrus"
)

const pollInterval = 200 * time.Millisecond

type pollMsg time.Time

type actionDoneMsg struct {
	action string
	err    error
}

// toastBox collects delivery failures reported by the flow.
type toastBox struct {
	mu   sync.Mutex
	msgs []string
}

func (b *toastBox) Notify(msg string) {
	b.mu.Lock()
	b.msgs = append(b.msgs, msg)
	b.mu.Unlock()
}

func (b *toastBox) take() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}

// App is the bubbletea model driving one otp.Flow.
type App struct {
	ctx    context.Context
	flow   *otp.Flow
	toasts *toastBox
	hook   *LogHook

	target textinput.Model
	code   textinput.Model

	session otp.Session
	toast   string
	status  string

	width    int
	quitting bool
}

// NewApp builds the model and its flow. opts are passed to otp.NewFlow; the
// notifier is always the app's toast area.
func NewApp(ctx context.Context, channel otp.Channel, backend otp.Backend, current string, hook *LogHook, opts ...otp.Option) App {
	if ctx == nil {
		ctx = context.Background()
	}
	toasts := &toastBox{}
	flow := otp.NewFlow(channel, backend, current, append(append([]otp.Option(nil), opts...), otp.WithNotifier(toasts))...)

	target := textinput.New()
	target.Prompt = fmt.Sprintf("  New %s: ", channel.Label())
	target.CharLimit = 254
	if channel == otp.Mobile {
		target.CharLimit = 10
	}
	target.Focus()

	code := textinput.New()
	code.Prompt = "  OTP: "
	code.CharLimit = otp.OTPLength
	code.EchoMode = textinput.EchoPassword
	code.EchoCharacter = '•'

	return App{
		ctx:     ctx,
		flow:    flow,
		toasts:  toasts,
		hook:    hook,
		target:  target,
		code:    code,
		session: flow.Snapshot(),
	}
}

// Flow returns the flow the app drives.
func (a App) Flow() *otp.Flow { return a.flow }

func (a App) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, poll())
}

func poll() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg { return pollMsg(t) })
}

func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		if a.width > 6 {
			a.target.Width = a.width - 6
		}
		return a, nil

	case pollMsg:
		a.sync()
		return a, poll()

	case actionDoneMsg:
		a.sync()
		if msg.err != nil && !errors.Is(msg.err, otp.ErrStale) {
			log.WithError(msg.err).Debugf("tui: %s finished with error", msg.action)
		}
		return a, nil

	case tea.KeyMsg:
		a.toast = ""
		switch msg.String() {
		case "ctrl+c", "esc":
			a.flow.Close()
			a.quitting = true
			return a, tea.Quit
		}
		switch a.session.Step {
		case otp.StepInput:
			return a.updateInput(msg)
		case otp.StepChallenge:
			return a.updateChallenge(msg)
		case otp.StepConfirmed:
			if msg.String() == "enter" || msg.String() == "q" {
				a.quitting = true
				return a, tea.Quit
			}
		}
	}
	return a, nil
}

func (a App) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "enter" {
		if a.session.Submitting {
			return a, nil
		}
		_ = a.flow.SetTarget(a.target.Value())
		a.sync()
		return a, a.run("send", a.flow.RequestOTP)
	}
	before := a.target.Value()
	var cmd tea.Cmd
	a.target, cmd = a.target.Update(msg)
	if a.target.Value() != before {
		_ = a.flow.SetTarget(a.target.Value())
		a.sync()
	}
	return a, cmd
}

func (a App) updateChallenge(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		if a.session.Submitting {
			return a, nil
		}
		code := a.code.Value()
		return a, a.run("verify", func(ctx context.Context) error { return a.flow.Verify(ctx, code) })
	case "ctrl+r":
		if a.session.Submitting {
			return a, nil
		}
		a.code.Reset()
		return a, a.run("resend", a.flow.Resend)
	case "ctrl+e":
		if err := a.flow.ChangeTarget(); err == nil {
			a.code.Reset()
			a.sync()
		}
		return a, nil
	}
	var cmd tea.Cmd
	a.code, cmd = a.code.Update(msg)
	return a, cmd
}

func (a App) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		return actionDoneMsg{action: action, err: fn(ctx)}
	}
}

// sync pulls the latest flow state, toasts and log lines into the model.
func (a *App) sync() {
	prev := a.session.Step
	a.session = a.flow.Snapshot()
	if prev != a.session.Step {
		switch a.session.Step {
		case otp.StepInput:
			a.code.Blur()
			a.target.Focus()
		case otp.StepChallenge:
			a.target.Blur()
			a.code.Focus()
		default:
			a.target.Blur()
			a.code.Blur()
		}
	}
	if msgs := a.toasts.take(); len(msgs) > 0 {
		a.toast = msgs[len(msgs)-1]
	}
	if a.hook != nil {
		if lines := a.hook.Drain(); len(lines) > 0 {
			a.status = lines[len(lines)-1]
		}
	}
}

func (a App) View() string {
	if a.quitting {
		return ""
	}
	channel := a.flow.Channel()

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Update " + channel.Label()))
	sb.WriteString("\n")
	sb.WriteString(a.renderSteps())
	sb.WriteString("\n\n")

	var body strings.Builder
	switch a.session.Step {
	case otp.StepInput:
		body.WriteString(a.target.View())
		body.WriteString("\n")
	case otp.StepChallenge:
		body.WriteString(labelStyle.Render("Code sent to "))
		body.WriteString(valueStyle.Render(strings.TrimSpace(a.session.TargetValue)))
		body.WriteString("\n\n")
		body.WriteString(a.code.View())
		body.WriteString("\n\n")
		body.WriteString(a.renderCountdown())
		body.WriteString("\n")
	case otp.StepConfirmed:
		body.WriteString(successStyle.Render(fmt.Sprintf("Your %s has been updated.", strings.ToLower(channel.Label()))))
		body.WriteString("\n")
	}
	if a.session.Submitting {
		body.WriteString("\n")
		body.WriteString(warningStyle.Render("Please wait..."))
	}
	if a.session.LastError != "" {
		body.WriteString("\n")
		body.WriteString(errorStyle.Render(a.session.LastError))
	}
	sb.WriteString(sectionStyle.Render(body.String()))
	sb.WriteString("\n")

	if a.toast != "" {
		sb.WriteString(toastStyle.Render(a.toast))
		sb.WriteString("\n")
	}
	sb.WriteString(helpStyle.Render(a.help()))
	sb.WriteString("\n")
	sb.WriteString(a.renderStatusBar())
	return sb.String()
}

func (a App) renderSteps() string {
	names := []string{"1 Enter", "2 Verify", "3 Done"}
	steps := make([]string, 0, len(names))
	for i, name := range names {
		if otp.Step(i) == a.session.Step {
			steps = append(steps, stepActiveStyle.Render(name))
		} else {
			steps = append(steps, stepInactiveStyle.Render(name))
		}
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, steps...)
}

func (a App) renderCountdown() string {
	if a.session.CountdownActive && a.session.CountdownSeconds > 0 {
		s := a.session.CountdownSeconds
		return helpStyle.Render(fmt.Sprintf("Resend available in %02d:%02d", s/60, s%60))
	}
	return helpStyle.Render("Didn't get the code? Press ctrl+r to resend.")
}

func (a App) help() string {
	switch a.session.Step {
	case otp.StepInput:
		return "enter: send OTP • esc: cancel"
	case otp.StepChallenge:
		return "enter: verify • ctrl+r: resend • ctrl+e: change " + strings.ToLower(a.flow.Channel().Label()) + " • esc: cancel"
	default:
		return "enter: close"
	}
}

func (a App) renderStatusBar() string {
	width := a.width
	if width < 1 {
		width = 1
	}
	contentWidth := max(width-2, 0)
	return statusBarStyle.Width(width).Render(fitStringWidth(a.status, contentWidth))
}

func fitStringWidth(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if lipgloss.Width(text) <= maxWidth {
		return text
	}

	out := ""
	for _, r := range text {
		next := out + string(r)
		if lipgloss.Width(next) > maxWidth {
			break
		}
		out = next
	}
	return out
}

// Options configures Run.
type Options struct {
	Channel otp.Channel
	Backend otp.Backend
	Current string
	Hook    *LogHook
	// Output is where bubbletea renders. Defaults to os.Stdout.
	Output      io.Writer
	FlowOptions []otp.Option
}

// Run drives a verification flow until the user confirms or cancels, and
// returns the final flow state.
func Run(ctx context.Context, opts Options) (otp.Session, error) {
	output := opts.Output
	if output == nil {
		output = os.Stdout
	}
	app := NewApp(ctx, opts.Channel, opts.Backend, opts.Current, opts.Hook, opts.FlowOptions...)
	defer app.flow.Close()

	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithOutput(output), tea.WithContext(ctx))
	_, err := p.Run()
	return app.flow.Snapshot(), err
}
