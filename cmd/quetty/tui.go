package main

import (
	"context"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/dawidpereira/quetty/internal/bus"
	"github.com/dawidpereira/quetty/internal/model"
)

// rootModel is the thin bubbletea consumer of internal/bus events: it
// gives the orchestrator's loading/popup/page contract (spec §4.7,
// §6.5) somewhere to land. It does not attempt full queue browsing
// widgets; those are out of scope here.
type rootModel struct {
	app *app

	width, height int

	loading      bool
	loadingLabel string

	popups []string

	messages []model.Message
	pageIdx  int
	terminal bool

	bulkProcessed, bulkTotal int
	bulkPhase                model.BulkPhase
	bulkActive               bool

	authPrompt string

	quitting bool
}

func newRootModel(a *app) *rootModel {
	return &rootModel{app: a}
}

type busEventMsg struct{ evt bus.Event }
type busClosedMsg struct{}

func listenBus(b *bus.Bus) tea.Cmd {
	return func() tea.Msg {
		evt, ok := <-b.Events()
		if !ok {
			return busClosedMsg{}
		}
		return busEventMsg{evt: evt}
	}
}

func (m *rootModel) Init() tea.Cmd {
	return listenBus(m.app.bus)
}

func (m *rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quitting = true
			return m, tea.Quit
		}
		return m, nil

	case busClosedMsg:
		m.quitting = true
		return m, tea.Quit

	case busEventMsg:
		m.applyEvent(msg.evt)
		return m, listenBus(m.app.bus)
	}
	return m, nil
}

func (m *rootModel) applyEvent(evt bus.Event) {
	switch p := evt.Payload.(type) {
	case bus.Loading:
		m.loading = true
		m.loadingLabel = p.Label
	case bus.LoadingProgress:
		m.loadingLabel = p.Label
	case bus.LoadingStopped:
		m.loading = false
		m.loadingLabel = ""
	case bus.Popup:
		m.popups = append(m.popups, fmt.Sprintf("[%s] %s", popupSeverityLabel(p.Severity), p.Message))
		if len(m.popups) > 5 {
			m.popups = m.popups[len(m.popups)-5:]
		}
	case bus.MessagesPageLoaded:
		m.messages = p.Items
		m.pageIdx = p.PageIndex
		m.terminal = p.Terminal
	case bus.MessagesInvalidated:
		m.messages = nil
	case bus.BulkProgress:
		m.bulkActive = true
		m.bulkProcessed = p.Processed
		m.bulkTotal = p.Total
		m.bulkPhase = p.Phase
	case bus.AuthDeviceCodePending:
		m.authPrompt = fmt.Sprintf("visit %s and enter code %s", p.VerificationURI, p.UserCode)
	case bus.AuthSucceeded:
		m.authPrompt = ""
	case bus.AuthFailed:
		m.authPrompt = fmt.Sprintf("authentication failed: %s", p.Reason)
	}
}

func (m *rootModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "quetty — profile %q\n\n", profileName)

	if m.authPrompt != "" {
		fmt.Fprintf(&b, "auth: %s\n\n", m.authPrompt)
	}

	if m.loading {
		fmt.Fprintf(&b, "loading: %s\n", m.loadingLabel)
	}

	if m.bulkActive {
		fmt.Fprintf(&b, "bulk (%s): %d/%d\n", m.bulkPhase, m.bulkProcessed, m.bulkTotal)
	}

	fmt.Fprintf(&b, "page %d, %d messages, terminal=%v\n", m.pageIdx, len(m.messages), m.terminal)
	for _, msg := range m.messages {
		id := msg.Identity()
		fmt.Fprintf(&b, "  %s (seq %d)\n", id.ID, id.Sequence)
	}

	for _, p := range m.popups {
		fmt.Fprintf(&b, "\n%s", p)
	}

	b.WriteString("\n\npress q to quit\n")
	return b.String()
}

func popupSeverityLabel(s bus.PopupSeverity) string {
	switch s {
	case bus.PopupError:
		return "error"
	case bus.PopupWarning:
		return "warning"
	case bus.PopupSuccess:
		return "success"
	case bus.PopupConfirm:
		return "confirm"
	default:
		return "unknown"
	}
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.bus.Close()

	p := tea.NewProgram(newRootModel(a), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}
