// Package tui provides the terminal watch face for the pacer follower.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/pacer/internal/follower"
	"github.com/fentz26/pacer/internal/models"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	clockStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(fgColor).
			Padding(0, 2)

	flashStyle = lipgloss.NewStyle().
			Bold(true).
			Background(primaryColor).
			Foreground(fgColor).
			Padding(0, 2)

	bannerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(warningColor)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	linkOnlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	linkOfflineStyle = lipgloss.NewStyle().
				Foreground(errorColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
)

// flashDuration is how long a haptic cue tints the clock.
const flashDuration = 600 * time.Millisecond

type keyMap struct {
	Toggle     key.Binding
	Next       key.Binding
	Previous   key.Binding
	Reset      key.Binding
	Standalone key.Binding
	Quit       key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Next, k.Previous, k.Reset, k.Standalone, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

var keys = keyMap{
	Toggle:     key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "start/pause")),
	Next:       key.NewBinding(key.WithKeys("n", "right"), key.WithHelp("n", "next")),
	Previous:   key.NewBinding(key.WithKeys("p", "left"), key.WithHelp("p", "previous")),
	Reset:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
	Standalone: key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "independent timer")),
	Quit:       key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

// App is the watch face model.
type App struct {
	face     Face
	remote   Remote
	feedback *Feedback

	views       <-chan follower.View
	unsubscribe func()

	view     follower.View
	width    int
	height   int
	message  string
	alert    string
	flash    follower.Haptic
	flashSeq int

	help     help.Model
	progress progress.Model
}

// New creates the watch face. remote and feedback may be nil.
func New(face Face, remote Remote, feedback *Feedback) *App {
	views, unsubscribe := face.Subscribe(16)
	return &App{
		face:        face,
		remote:      remote,
		feedback:    feedback,
		views:       views,
		unsubscribe: unsubscribe,
		view:        face.Latest(),
		width:       48,
		help:        help.New(),
		progress:    progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
	}
}

// Run starts the TUI application. It returns when the user quits or ctx is
// cancelled.
func (a *App) Run(ctx context.Context) error {
	defer a.unsubscribe()
	p := tea.NewProgram(a, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.waitForView(), a.waitForCue())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		a.alert = ""
		switch {
		case key.Matches(msg, keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, keys.Toggle):
			return a, a.control("toggle", a.face.Toggle)
		case key.Matches(msg, keys.Next):
			return a, a.control("next", a.face.SkipNext)
		case key.Matches(msg, keys.Previous):
			return a, a.control("previous", a.face.SkipPrevious)
		case key.Matches(msg, keys.Reset):
			return a, a.control("reset", a.face.Reset)
		case key.Matches(msg, keys.Standalone):
			return a, a.switchMode()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.progress.Width = max(10, msg.Width-8)
		a.help.Width = msg.Width

	case viewMsg:
		a.view = follower.View(msg)
		return a, a.waitForView()

	case cueMsg:
		cmds := []tea.Cmd{a.waitForCue()}
		if msg.Haptic != "" {
			a.flash = msg.Haptic
			a.flashSeq++
			seq := a.flashSeq
			cmds = append(cmds, tea.Tick(flashDuration, func(time.Time) tea.Msg { return flashDoneMsg(seq) }))
		}
		if msg.Title != "" {
			a.alert = msg.Title
			if msg.Body != "" {
				a.alert += ": " + msg.Body
			}
		}
		return a, tea.Batch(cmds...)

	case flashDoneMsg:
		if int(msg) == a.flashSeq {
			a.flash = ""
		}

	case commandResultMsg:
		a.message = msg.message

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}
	return a, nil
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder
	v := a.view

	linkStatus := linkOnlineStyle.Render("● LINKED")
	if v.Offline {
		linkStatus = linkOfflineStyle.Render("○ OFFLINE")
	}
	header := titleStyle.Render("PACER") + "  " + linkStatus + "  " + modeBadge(v.Mode)
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 10)) + "\n")

	if banner := a.banner(); banner != "" {
		b.WriteString(bannerStyle.Render(banner) + "\n")
	}
	if a.alert != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(cyanColor).Render("! "+a.alert) + "\n")
	}

	b.WriteString(panelStyle.Render(a.renderFace()) + "\n")

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message) + "\n")
	}

	b.WriteString(statusBarStyle.Width(max(a.width, 10)).Render(a.help.View(keys)))
	return b.String()
}

func (a *App) banner() string {
	v := a.view
	switch {
	case v.Mode == follower.ModeStandalone:
		return "INDEPENDENT TIMER"
	case v.Offline && v.Mode == follower.ModeMirrored:
		return "OFFLINE - showing last known state"
	case v.Offline:
		return "OFFLINE"
	}
	return ""
}

func (a *App) renderFace() string {
	v := a.view
	if v.Completed {
		return clockStyle.Foreground(successColor).Render("Workout complete")
	}
	if v.Mode == follower.ModeIdle {
		return mutedStyle.Render("No active workout\n\ns: run the last plan independently")
	}

	var b strings.Builder
	name := v.Current.Name
	if name == "" {
		name = "Interval"
	}
	b.WriteString(kindStyle(v.Current.Kind).Render(strings.ToUpper(name)) + "\n\n")

	clock := formatClock(v.State.TimeRemainingMillis)
	if !v.State.Running {
		clock += "  paused"
	}
	if a.flash != "" {
		b.WriteString(flashStyle.Render(clock) + "\n\n")
	} else {
		b.WriteString(clockStyle.Render(clock) + "\n\n")
	}

	b.WriteString(fmt.Sprintf("Round %d/%d   Interval %d/%d\n",
		v.State.CurrentRound, v.Plan.Rounds, v.State.CurrentIntervalIndex+1, len(v.Plan.Intervals)))
	b.WriteString(a.progress.ViewAs(elapsedFraction(v.Current, v.State)) + "\n")

	if next, round, ok := nextInterval(v.Plan, v.State); ok {
		label := fmt.Sprintf("Next: %s %s", next.Name, formatClock(next.DurationMillis()))
		if round != v.State.CurrentRound {
			label += fmt.Sprintf(" (round %d)", round)
		}
		b.WriteString(mutedStyle.Render(label))
	} else {
		b.WriteString(mutedStyle.Render("Last interval"))
	}
	return b.String()
}

// control routes a key to the standalone engine or forwards it to the
// source while mirrored.
func (a *App) control(action string, local func(context.Context) error) tea.Cmd {
	switch a.view.Mode {
	case follower.ModeStandalone:
		return func() tea.Msg {
			if err := local(context.Background()); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{""}
		}
	case follower.ModeMirrored:
		if a.remote == nil || a.view.Offline {
			return func() tea.Msg { return commandResultMsg{"Source unreachable. s: independent timer"} }
		}
		remote := a.remote
		return func() tea.Msg {
			if err := remote.Control(action); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{""}
		}
	default:
		return func() tea.Msg { return commandResultMsg{"No active workout"} }
	}
}

func (a *App) switchMode() tea.Cmd {
	if a.view.Mode == follower.ModeStandalone {
		return func() tea.Msg {
			if err := a.face.StopStandalone(); err != nil {
				return errMsg{err}
			}
			return commandResultMsg{"Independent timer stopped"}
		}
	}
	return func() tea.Msg {
		if err := a.face.EnterStandalone(context.Background()); err != nil {
			return errMsg{err}
		}
		return commandResultMsg{"Independent timer started"}
	}
}

func (a *App) waitForView() tea.Cmd {
	ch := a.views
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return nil
		}
		return viewMsg(v)
	}
}

func (a *App) waitForCue() tea.Cmd {
	if a.feedback == nil {
		return nil
	}
	ch := a.feedback.Cues()
	return func() tea.Msg {
		c, ok := <-ch
		if !ok {
			return nil
		}
		return cueMsg(c)
	}
}

func modeBadge(m follower.Mode) string {
	switch m {
	case follower.ModeMirrored:
		return lipgloss.NewStyle().Foreground(cyanColor).Render("[MIRRORED]")
	case follower.ModeStandalone:
		return lipgloss.NewStyle().Foreground(warningColor).Render("[INDEPENDENT]")
	default:
		return mutedStyle.Render("[IDLE]")
	}
}

func kindStyle(k models.IntervalKind) lipgloss.Style {
	style := lipgloss.NewStyle().Bold(true)
	switch k {
	case models.KindWorkout:
		return style.Foreground(errorColor)
	case models.KindRest:
		return style.Foreground(successColor)
	case models.KindWarmup, models.KindCooldown:
		return style.Foreground(cyanColor)
	default:
		return style.Foreground(fgColor)
	}
}

// formatClock renders remaining time rounded up to the whole second.
func formatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := (ms + 999) / 1000
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}

func elapsedFraction(iv models.Interval, state models.TimerState) float64 {
	total := iv.DurationMillis()
	if total <= 0 {
		return 1
	}
	f := 1 - float64(state.TimeRemainingMillis)/float64(total)
	return min(max(f, 0), 1)
}

func nextInterval(plan models.Plan, state models.TimerState) (models.Interval, int, bool) {
	if len(plan.Intervals) == 0 || state.Completed {
		return models.Interval{}, 0, false
	}
	idx := state.CurrentIntervalIndex + 1
	round := state.CurrentRound
	if idx >= len(plan.Intervals) {
		idx = 0
		round++
	}
	if round > plan.Rounds {
		return models.Interval{}, 0, false
	}
	return plan.Intervals[idx], round, true
}

type viewMsg follower.View

type cueMsg Cue

type flashDoneMsg int

type commandResultMsg struct {
	message string
}

type errMsg struct {
	err error
}
