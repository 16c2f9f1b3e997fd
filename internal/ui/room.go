package ui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
)

// Controller is the part of a rendezvous session the room screen drives.
type Controller interface {
	ToggleMic() error
	ToggleCam() error
	Retry() error
	Leave() error
	Snapshot() rendezvous.Snapshot
	Updates() <-chan rendezvous.Snapshot
}

type snapshotMsg rendezvous.Snapshot

type sessionEndedMsg struct{}

// RoomModel is the bubbletea status line for one participant session.
type RoomModel struct {
	ctl      Controller
	snap     rendezvous.Snapshot
	spinner  spinner.Model
	notice   string
	quitting bool
}

func NewRoomModel(ctl Controller) *RoomModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &RoomModel{
		ctl:     ctl,
		snap:    ctl.Snapshot(),
		spinner: s,
	}
}

// RunRoom shows the room screen until the session ends or the user leaves.
func RunRoom(ctl Controller) error {
	// Inline mode keeps earlier terminal output visible.
	_, err := tea.NewProgram(NewRoomModel(ctl)).Run()
	return err
}

func (m *RoomModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForUpdate())
}

func (m *RoomModel) waitForUpdate() tea.Cmd {
	updates := m.ctl.Updates()
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return sessionEndedMsg{}
		}
		return snapshotMsg(snap)
	}
}

func (m *RoomModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m, m.handleKey(msg.String())

	case snapshotMsg:
		m.snap = rendezvous.Snapshot(msg)
		return m, m.waitForUpdate()

	case sessionEndedMsg:
		m.quitting = true
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *RoomModel) handleKey(key string) tea.Cmd {
	m.notice = ""
	switch key {
	case "m":
		m.report(m.ctl.ToggleMic())
	case "c":
		m.report(m.ctl.ToggleCam())
	case "r":
		if err := m.ctl.Retry(); errors.Is(err, rendezvous.ErrNotFailed) {
			m.notice = "Nothing to retry."
		} else {
			m.report(err)
		}
	case "q", "ctrl+c":
		m.quitting = true
		ctl := m.ctl
		return tea.Sequence(func() tea.Msg {
			_ = ctl.Leave()
			return nil
		}, tea.Quit)
	}
	return nil
}

func (m *RoomModel) report(err error) {
	switch {
	case err == nil:
	case errors.Is(err, rendezvous.ErrNoMedia):
		m.notice = "No local media yet."
	default:
		m.notice = err.Error()
	}
}

func (m *RoomModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	s := m.snap

	header := fmt.Sprintf("%s %s  %s", IconRoom, s.RoomID, StatusStyle.Render(s.Status.String()))
	if s.Identity != "" {
		header += MutedStyle.Render(fmt.Sprintf("  you are %s (%s)", s.Identity, s.Role))
	}
	b.WriteString("\n" + TitleStyle.Render(header) + "\n")

	switch s.Status {
	case rendezvous.StatusError:
		b.WriteString(ErrorBoxStyle.Render(IconError+" "+statusLine(s)) + "\n")
	case rendezvous.StatusConnected:
		b.WriteString(fmt.Sprintf("%s %s\n", IconConnect, statusLine(s)))
	case rendezvous.StatusWaiting:
		b.WriteString(fmt.Sprintf("%s %s %s\n", IconWaiting, m.spinner.View(), statusLine(s)))
	default:
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), statusLine(s)))
	}

	if s.HasMedia {
		b.WriteString(fmt.Sprintf("\n  local  %s %s", micIcon(s.MicEnabled), camIcon(s.CamEnabled)))
		if s.Status == rendezvous.StatusConnected {
			b.WriteString(fmt.Sprintf("   %s remote %s %s", IconPeer, micIcon(s.RemoteMic), camIcon(s.RemoteCam)))
		}
		b.WriteString("\n")
	}

	if m.notice != "" {
		b.WriteString("\n" + WarningStyle.Render(IconWarning+" "+m.notice) + "\n")
	}

	b.WriteString("\n" + MutedStyle.Render("m mic · c cam · r retry · q leave"))
	return b.String()
}

func statusLine(s rendezvous.Snapshot) string {
	switch s.Status {
	case rendezvous.StatusIdle:
		return "Idle"
	case rendezvous.StatusAcquiringMedia:
		return "Starting camera and microphone..."
	case rendezvous.StatusClaiming:
		return "Entering room..."
	case rendezvous.StatusWaiting:
		if s.Role == rendezvous.RoleGuest && s.RetryCount > 0 {
			return fmt.Sprintf("Calling host... (retry %d)", s.RetryCount)
		}
		if s.Role == rendezvous.RoleGuest {
			return "Calling host..."
		}
		return "Waiting for someone to join..."
	case rendezvous.StatusConnected:
		if s.Peer != "" {
			return "Connected to " + s.Peer
		}
		return "Connected"
	case rendezvous.StatusError:
		if s.ErrorMessage != "" {
			return s.ErrorMessage + " Press r to retry."
		}
		return "Something went wrong. Press r to retry."
	default:
		return s.Status.String()
	}
}

func micIcon(on bool) string {
	if on {
		return IconMicOn
	}
	return IconMicOff
}

func camIcon(on bool) string {
	if on {
		return IconCamOn
	}
	return IconCamOff
}
