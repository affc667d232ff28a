package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/audiolibrelab/audiobridge/internal/service"
	"github.com/audiolibrelab/audiobridge/internal/session"
)

// TUI message types
type statusMsg service.Status
type watchMsg service.Status
type noticeMsg struct{ Text string }
type tickMsg time.Time

const barWidth = 30

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Background(lipgloss.Color("62")).Padding(0, 1)
	tabStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Padding(0, 1)
	activeTab   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231")).Underline(true).Padding(0, 1)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("62")).Padding(1, 2).Width(48)
	recStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	timerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("231"))
	barFull     = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))
	barEmpty    = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
)

// Model is the bubbletea model for the phone and laptop screens.
type Model struct {
	svc    service.Service
	status service.Status
	notice string
	frame  int
	width  int

	// Set by watch. updates holds at most one pending change.
	updates <-chan struct{}
	done    <-chan struct{}
}

func New(svc service.Service) Model {
	return Model{svc: svc, status: svc.Status()}
}

// Run starts the program and blocks until the user quits.
func Run(svc service.Service) error {
	p, stop := newProgram(svc, tea.WithAltScreen())
	defer stop()

	_, err := p.Run()
	return err
}

// newProgram builds a program whose model follows svc. The returned stop
// function unsubscribes and releases the pending watch command.
func newProgram(svc service.Service, opts ...tea.ProgramOption) (*tea.Program, func()) {
	m, stop := watch(svc)
	return tea.NewProgram(m, opts...), stop
}

// watch subscribes to svc. Observers run inside service calls made from
// Update, so they only mark a change; waitForChange turns it into a message.
func watch(svc service.Service) (Model, func()) {
	updates := make(chan struct{}, 1)
	done := make(chan struct{})

	unsubscribe := svc.Subscribe(func(session.Snapshot) {
		select {
		case updates <- struct{}{}:
		default:
		}
	})

	m := New(svc)
	m.updates = updates
	m.done = done

	var once sync.Once
	return m, func() {
		once.Do(func() {
			unsubscribe()
			close(done)
		})
	}
}

func waitForChange(svc service.Service, updates, done <-chan struct{}) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-updates:
			return watchMsg(svc.Status())
		case <-done:
			return nil
		}
	}
}

func tick() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) Init() tea.Cmd {
	if m.updates == nil {
		return tick()
	}
	return tea.Batch(tick(), waitForChange(m.svc, m.updates, m.done))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tickMsg:
		m.frame++
		return m, tick()

	case statusMsg:
		m.status = service.Status(msg)

	case watchMsg:
		m.status = service.Status(msg)
		return m, waitForChange(m.svc, m.updates, m.done)

	case noticeMsg:
		m.notice = msg.Text
		m.status = m.svc.Status()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	svc := m.svc
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "r":
		m.notice = ""
		// Permission prompts can block, so acquire off the update loop.
		return m, func() tea.Msg {
			if err := svc.StartRecording(context.Background()); err != nil {
				return noticeMsg{Text: svc.GetLastError()}
			}
			return statusMsg(svc.Status())
		}

	case "s":
		svc.StopRecording()

	case "x":
		m.notice = ""
		svc.Reset()

	case "t":
		svc.StartTransfer()

	case " ":
		if m.svc.Status().Playback == session.PlaybackPlaying {
			svc.Pause()
		} else if err := svc.Play(); err != nil {
			m.notice = err.Error()
		}

	case "d":
		return m, func() tea.Msg {
			path, err := svc.SaveRecording("")
			if err != nil {
				return noticeMsg{Text: fmt.Sprintf("Download failed: %v", err)}
			}
			return noticeMsg{Text: "Saved " + path}
		}

	case "tab":
		next := session.ViewLaptop
		if m.status.View == session.ViewLaptop {
			next = session.ViewPhone
		}
		svc.SetView(string(next))
	}

	m.status = svc.Status()
	return m, nil
}

func (m Model) View() string {
	st := m.status
	var b strings.Builder

	b.WriteString(titleStyle.Render("Audio Bridge"))
	b.WriteString("  ")
	phone, laptop := tabStyle, tabStyle
	if st.View == session.ViewLaptop {
		laptop = activeTab
	} else {
		phone = activeTab
	}
	b.WriteString(phone.Render("Phone"))
	b.WriteString(laptop.Render("Laptop"))
	b.WriteString("\n\n")

	if st.View == session.ViewLaptop {
		b.WriteString(panelStyle.Render(m.laptopView()))
	} else {
		b.WriteString(panelStyle.Render(m.phoneView()))
	}
	b.WriteString("\n")

	notice := m.notice
	if notice == "" {
		notice = st.LastError
	}
	if notice != "" {
		b.WriteString(noticeStyle.Render("! "+notice) + "\n")
	}
	b.WriteString(dimStyle.Render(st.Backend) + "\n")
	b.WriteString(dimStyle.Render("r record  s stop  x reset  t transfer  space play/pause  d download  tab view  q quit"))
	return b.String()
}

func (m Model) phoneView() string {
	st := m.status
	var lines []string
	lines = append(lines, "Recording from Phone", "")

	switch {
	case st.Requesting:
		lines = append(lines, dimStyle.Render("Waiting for microphone permission..."))
	case st.Recording == session.RecordingActive:
		dot := "●"
		if m.frame%2 == 1 {
			dot = " "
		}
		lines = append(lines, recStyle.Render(dot+" Recording..."))
		lines = append(lines, timerStyle.Render(service.FormatTime(st.DurationSeconds)))
	case st.Recording == session.RecordingRecorded:
		lines = append(lines, okStyle.Render("Recording completed"))
		lines = append(lines, timerStyle.Render(service.FormatTime(st.DurationSeconds)))
		if st.Playback != session.PlaybackIdle {
			lines = append(lines, playbackLine(st))
		}
	default:
		lines = append(lines, "Press r to record")
	}

	if st.Transfer != session.TransferNotStarted {
		label := "Transferring to laptop..."
		if st.Transfer == session.TransferCompleted {
			label = "Transfer complete"
		}
		lines = append(lines, "", label, progressBar(st.TransferPercent))
	} else if st.Recording == session.RecordingRecorded {
		lines = append(lines, "", dimStyle.Render("Press t to transfer to your laptop"))
	}
	return strings.Join(lines, "\n")
}

func (m Model) laptopView() string {
	st := m.status
	lines := []string{"Desktop Receiver", ""}

	if st.Transfer != session.TransferCompleted || !st.HasClip() {
		lines = append(lines, dimStyle.Render("Waiting for audio..."))
		return strings.Join(lines, "\n")
	}

	lines = append(lines, "Recording from Phone  "+service.FormatTime(st.DurationSeconds))
	lines = append(lines, playbackLine(st))
	pct := 0
	if st.DurationSeconds > 0 {
		pct = 100 * st.PlaybackSeconds / st.DurationSeconds
	}
	lines = append(lines, progressBar(pct))
	lines = append(lines, "", dimStyle.Render("space play/pause  d download recording"))
	return strings.Join(lines, "\n")
}

func playbackLine(st service.Status) string {
	icon := "▶"
	switch st.Playback {
	case session.PlaybackPlaying:
		icon = "❚❚"
	case session.PlaybackPaused:
		icon = "▶ (paused)"
	}
	return fmt.Sprintf("%s %s / %s", icon, service.FormatTime(st.PlaybackSeconds), service.FormatTime(st.DurationSeconds))
}

func progressBar(pct int) string {
	pct = max(0, min(pct, 100))
	filled := pct * barWidth / 100
	return barFull.Render(strings.Repeat("█", filled)) +
		barEmpty.Render(strings.Repeat("░", barWidth-filled)) +
		fmt.Sprintf(" %3d%%", pct)
}
