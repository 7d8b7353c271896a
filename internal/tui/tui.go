// Package tui renders the interactive terminal front-end: a message
// viewport, a peer roster panel and a command input line, driven by the
// node's event stream.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"meshchat/internal/node"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	accentColor  = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	peerPanelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)

	messagePanelStyle = lipgloss.NewStyle().
				BorderStyle(lipgloss.RoundedBorder()).
				BorderForeground(mutedColor).
				Padding(0, 1)

	inputStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(accentColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Padding(0, 1)

	noticeStyle = lipgloss.NewStyle().
			Foreground(accentColor).
			Italic(true)

	offerStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	timestampStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Faint(true)

	peerDotStyle = lipgloss.NewStyle().
			Foreground(accentColor)
)

const peerPanelWidth = 34

// chatLine is one rendered row of the message viewport.
type chatLine struct {
	text   string
	when   time.Time
	notice bool
}

// pendingOffer is an inbound file offer awaiting /accept or /decline.
type pendingOffer struct {
	peerID string
	name   string
	size   int64
}

// UI is the bubbletea model wrapping a running node.
type UI struct {
	node   *node.Node
	lines  []chatLine
	roster []node.RosterEntry
	offers []pendingOffer

	viewport viewport.Model
	input    textinput.Model
	ready    bool
	width    int
	height   int
	showHelp bool
}

// nodeEventMsg wraps one engine event for the bubbletea update loop.
type nodeEventMsg struct {
	ev node.Event
}

// nodeDoneMsg reports that the engine shut down underneath the UI.
type nodeDoneMsg struct{}

// New creates the UI for a started node.
func New(n *node.Node) *UI {
	ti := textinput.New()
	ti.Placeholder = "Type a message or /help for commands..."
	ti.Focus()
	ti.Prompt = "> "
	ti.CharLimit = 500

	vp := viewport.New(80, 20)

	return &UI{
		node:     n,
		viewport: vp,
		input:    ti,
	}
}

// Run blocks until the user quits or the node stops.
func Run(n *node.Node) error {
	program := tea.NewProgram(New(n), tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func (ui *UI) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, ui.waitForEvent())
}

// waitForEvent bridges the engine's event channel into the bubbletea loop,
// one event per command so the UI never buffers engine state itself.
func (ui *UI) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-ui.node.Events():
			return nodeEventMsg{ev: ev}
		case <-ui.node.Done():
			return nodeDoneMsg{}
		}
	}
}

func (ui *UI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
	)

	ui.input, tiCmd = ui.input.Update(msg)
	ui.viewport, vpCmd = ui.viewport.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return ui, tea.Quit

		case tea.KeyCtrlH:
			ui.showHelp = !ui.showHelp
			ui.refreshViewport()
			return ui, nil

		case tea.KeyEnter:
			line := strings.TrimSpace(ui.input.Value())
			ui.input.Reset()
			if line == "" {
				return ui, nil
			}
			if quit := ui.handleInput(line); quit {
				return ui, tea.Quit
			}
			return ui, nil
		}

	case tea.WindowSizeMsg:
		ui.width = msg.Width
		ui.height = msg.Height
		ui.ready = true

		headerHeight := 3
		inputHeight := 4
		statusHeight := 1
		ui.viewport.Width = ui.width - peerPanelWidth - 6
		ui.viewport.Height = ui.height - headerHeight - inputHeight - statusHeight - 2
		ui.input.Width = ui.width - 8
		ui.refreshViewport()

	case nodeEventMsg:
		ui.applyEvent(msg.ev)
		return ui, tea.Batch(tiCmd, vpCmd, ui.waitForEvent())

	case nodeDoneMsg:
		return ui, tea.Quit
	}

	return ui, tea.Batch(tiCmd, vpCmd)
}

// applyEvent folds one engine event into UI state.
func (ui *UI) applyEvent(ev node.Event) {
	switch ev := ev.(type) {
	case node.MessageEvent:
		ui.appendLine(chatLine{text: ev.Text, when: time.Now()})

	case node.RosterEvent:
		ui.roster = ev.Peers
		ui.pruneOffers()

	case node.FileRequestEvent:
		ui.offers = append(ui.offers, pendingOffer{peerID: ev.PeerID, name: ev.Name, size: ev.Size})
		ui.appendLine(chatLine{
			text:   fmt.Sprintf("file offer pending: %s (%d bytes); /accept or /decline", ev.Name, ev.Size),
			when:   time.Now(),
			notice: true,
		})

	case node.ClearHistoryEvent:
		ui.lines = nil
		ui.refreshViewport()

	case node.DebugEvent:
		ui.appendLine(chatLine{text: ev.Text, when: time.Now(), notice: true})
	}
}

// pruneOffers drops offers whose peer has left the roster.
func (ui *UI) pruneOffers() {
	if len(ui.offers) == 0 {
		return
	}
	kept := ui.offers[:0]
	for _, o := range ui.offers {
		if _, ok := ui.node.PeerNick(o.peerID); ok {
			kept = append(kept, o)
		}
	}
	ui.offers = kept
}

// handleInput interprets one line of user input; slash-prefixed lines are
// commands, everything else is chat. Returns true to quit.
func (ui *UI) handleInput(line string) bool {
	if !strings.HasPrefix(line, "/") {
		ui.node.SendText(line)
		return false
	}

	fields := strings.Fields(line)
	cmd := fields[0]
	args := fields[1:]

	switch cmd {
	case "/quit", "/exit":
		return true

	case "/help":
		ui.showHelp = !ui.showHelp
		ui.refreshViewport()

	case "/connect":
		if len(args) != 1 {
			ui.errorLine("usage: /connect <host:port>")
			return false
		}
		if err := ui.node.ConnectToPeer(args[0]); err != nil {
			ui.errorLine(err.Error())
		}

	case "/nick":
		if len(args) != 1 {
			ui.errorLine("usage: /nick <name>")
			return false
		}
		if err := ui.node.ChangeNickname(args[0]); err != nil {
			ui.errorLine(err.Error())
		}

	case "/sendfile":
		if len(args) != 1 {
			ui.errorLine("usage: /sendfile <path>")
			return false
		}
		if err := ui.node.SendFile(args[0]); err != nil {
			ui.errorLine(err.Error())
		}

	case "/accept":
		ui.answerOffer(true)

	case "/decline":
		ui.answerOffer(false)

	case "/clear":
		ui.node.ClearHistory()

	case "/peers":
		for _, p := range ui.roster {
			ui.appendLine(chatLine{
				text:   fmt.Sprintf("%s (%s)", p.Nick, p.Address),
				when:   time.Now(),
				notice: true,
			})
		}

	default:
		ui.errorLine("unknown command " + cmd + "; /help lists commands")
	}
	return false
}

// answerOffer resolves the oldest pending file offer.
func (ui *UI) answerOffer(accept bool) {
	if len(ui.offers) == 0 {
		ui.errorLine("no pending file offer")
		return
	}
	offer := ui.offers[0]
	ui.offers = ui.offers[1:]
	if err := ui.node.RespondFile(offer.peerID, accept); err != nil {
		ui.errorLine(err.Error())
	}
}

func (ui *UI) appendLine(line chatLine) {
	ui.lines = append(ui.lines, line)
	ui.refreshViewport()
	ui.viewport.GotoBottom()
}

func (ui *UI) errorLine(text string) {
	ui.appendLine(chatLine{text: errStyle.Render(text), when: time.Now(), notice: true})
}

func (ui *UI) refreshViewport() {
	if ui.showHelp {
		ui.viewport.SetContent(helpText)
		return
	}

	var content strings.Builder
	for _, line := range ui.lines {
		stamp := timestampStyle.Render(line.when.Format("15:04:05"))
		text := line.text
		if line.notice {
			text = noticeStyle.Render(text)
		}
		content.WriteString(stamp + " " + text + "\n")
	}
	ui.viewport.SetContent(content.String())
}

func (ui *UI) View() string {
	if !ui.ready {
		return "\n  Starting...\n"
	}

	header := headerStyle.Render("meshchat " + ui.node.Nickname() + " @ " + ui.node.Addr())

	messagePanel := messagePanelStyle.
		Width(ui.width - peerPanelWidth - 4).
		Height(ui.viewport.Height + 2).
		Render("Messages\n" + ui.viewport.View())

	main := lipgloss.JoinHorizontal(lipgloss.Top, messagePanel, ui.renderPeerPanel())

	inputArea := inputStyle.Width(ui.width - 4).Render(
		"Input (Ctrl+H for help)\n" + ui.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, header, main, ui.renderStatusBar(), inputArea)
}

func (ui *UI) renderPeerPanel() string {
	var content strings.Builder
	content.WriteString("Peers\n")
	content.WriteString(strings.Repeat("─", peerPanelWidth-6) + "\n")

	if len(ui.roster) == 0 {
		content.WriteString("  (none yet)\n  /connect <host:port>\n")
	} else {
		for _, p := range ui.roster {
			dot := peerDotStyle.Render("●")
			content.WriteString(fmt.Sprintf("  %s %s\n    %s\n", dot, p.Nick, p.Address))
		}
	}

	if n := len(ui.offers); n > 0 {
		content.WriteString("\n")
		content.WriteString(offerStyle.Render(fmt.Sprintf("%d file offer(s) pending", n)))
		content.WriteString("\n")
	}

	return peerPanelStyle.
		Width(peerPanelWidth - 4).
		Height(ui.viewport.Height + 2).
		Render(content.String())
}

func (ui *UI) renderStatusBar() string {
	left := "id " + shortID(ui.node.ID())
	right := fmt.Sprintf("peers: %d", len(ui.roster))

	spacing := ui.width - 6 - lipgloss.Width(left) - lipgloss.Width(right)
	if spacing < 1 {
		spacing = 1
	}
	return statusBarStyle.Width(ui.width - 4).Render(left + strings.Repeat(" ", spacing) + right)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

const helpText = `
meshchat commands

  /connect <host:port>   Connect to a peer
  /nick <name>           Change your nickname
  /sendfile <path>       Offer a file to every connected peer
  /accept                Accept the oldest pending file offer
  /decline               Decline the oldest pending file offer
  /peers                 Print the current roster
  /clear                 Clear chat history on every node
  /quit                  Exit

  Anything without a leading slash is sent as a chat message.
  Ctrl+H toggles this help screen. Ctrl+C quits.
`
