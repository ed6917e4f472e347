package app

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/jwulff/whisperweb/internal/daemon"
	"github.com/jwulff/whisperweb/internal/session"
	"github.com/jwulff/whisperweb/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
)

// PanelFocus tracks which panel has keyboard focus.
type PanelFocus int

const (
	FocusSessions PanelFocus = iota
	FocusTranscript
)

const idleStartTime = "--:--:--"

// Model is the root bubbletea model for the whisperweb TUI.
type Model struct {
	socketPath string

	// Connection state
	client    *daemon.Client // command connection
	evClient  *daemon.Client // event subscription connection
	connected bool
	connError string

	// Recording state
	recording       bool
	processing      bool
	activeSessionID string
	startTime       string
	duration        string
	dropped         int

	// Sessions panel
	sessions      []daemon.SessionInfo
	sessionCursor int

	// Transcript panel. viewSessionID is the session under the sessions
	// cursor, which need not be the recording target.
	viewSessionID  string
	entries        []session.Entry
	entryCursor    int
	marked         map[string]bool
	transcriptLive bool

	// Display settings
	fontSize          string
	showTimestamp     bool
	enableTranslation bool
	targetLanguage    string

	// UI state
	focusedPanel PanelFocus
	width        int
	height       int
	renaming     bool
	renameInput  string

	// Notifications
	errorMessage   string
	errorTransient bool
	notice         string

	statusText string

	// Reconnect
	reconnecting     bool
	reconnectAttempt int
}

// New creates a Model that will connect to the daemon at socketPath.
func New(socketPath string) Model {
	return Model{
		socketPath:     socketPath,
		statusText:     "Connecting to whisperweb...",
		duration:       session.ZeroDuration,
		startTime:      idleStartTime,
		marked:         make(map[string]bool),
		transcriptLive: true,
		fontSize:       "16",
		showTimestamp:  true,
		focusedPanel:   FocusTranscript,
	}
}

// Init returns the initial command: connect to the daemon.
func (m Model) Init() tea.Cmd {
	return connectCmd(m.socketPath)
}

// connectCmd attempts to connect to the daemon with two connections:
// one for commands, one for event subscription.
func connectCmd(sockPath string) tea.Cmd {
	return func() tea.Msg {
		client, err := daemon.Connect(sockPath)
		if err != nil {
			return DaemonConnectErrorMsg{Err: err}
		}
		evClient, err := daemon.Connect(sockPath)
		if err != nil {
			client.Close()
			return DaemonConnectErrorMsg{Err: err}
		}
		return DaemonConnectedMsg{Client: client, EvClient: evClient}
	}
}

// subscribeCmd sends a subscribe command on the event client and starts reading events.
func subscribeCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		if err := evClient.Subscribe(); err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return readEventCmd(evClient)()
	}
}

// readEventCmd reads the next event from the event client.
func readEventCmd(evClient *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		ev, err := evClient.ReadEvent()
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return DaemonEventMsg{Event: ev}
	}
}

func statusCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdStatus})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return StatusResponseMsg{Response: resp}
	}
}

func sessionsCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdSessions})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return SessionsResponseMsg{Response: resp}
	}
}

func entriesCmd(client *daemon.Client, sessionID string) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdEntries, SessionID: sessionID})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return EntriesResponseMsg{SessionID: sessionID, Response: resp}
	}
}

func settingsCmd(client *daemon.Client) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(daemon.Command{Cmd: daemon.CmdSettings})
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return SettingsResponseMsg{Response: resp}
	}
}

// commandCmd sends a user action and reports its response.
func commandCmd(client *daemon.Client, cmd daemon.Command) tea.Cmd {
	return func() tea.Msg {
		resp, err := client.SendCommand(cmd)
		if err != nil {
			return DaemonEventErrorMsg{Err: err}
		}
		return CommandResponseMsg{Cmd: cmd.Cmd, Response: resp}
	}
}

// clearTransientErrorCmd fires after a delay to clear transient errors.
func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

func clearNoticeCmd() tea.Cmd {
	return tea.Tick(3*time.Second, func(time.Time) tea.Msg {
		return ClearNoticeMsg{}
	})
}

// reconnectCmd schedules a reconnection attempt with exponential backoff.
func reconnectCmd(attempt int) tea.Cmd {
	delay := time.Duration(1<<min(attempt, 4)) * time.Second // 1s, 2s, 4s, 8s, 16s cap
	return tea.Tick(delay, func(time.Time) tea.Msg {
		return ReconnectTickMsg{}
	})
}

// Update processes messages and returns the updated model and any commands.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case DaemonConnectedMsg:
		m.client = msg.Client
		m.evClient = msg.EvClient
		m.connected = true
		m.connError = ""
		m.reconnecting = false
		m.reconnectAttempt = 0
		m.statusText = "Connected"
		return m, tea.Batch(
			subscribeCmd(m.evClient),
			statusCmd(m.client),
			sessionsCmd(m.client),
			settingsCmd(m.client),
		)

	case DaemonConnectErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.reconnecting = true
		m.statusText = "whisperweb not running. Reconnecting..."
		return m, reconnectCmd(m.reconnectAttempt)

	case StatusResponseMsg:
		m.applyStatus(msg.Response)
		return m, nil

	case SessionsResponseMsg:
		return m, m.applySessions(msg.Response)

	case EntriesResponseMsg:
		if msg.SessionID != m.viewSessionID || !msg.Response.OK {
			return m, nil
		}
		m.setEntries(msg.Response.Entries)
		return m, nil

	case SettingsResponseMsg:
		if st := msg.Response.Settings; st != nil {
			m.fontSize = string(st.View.FontSize)
			m.showTimestamp = st.View.ShowTimestamp
			m.enableTranslation = st.Whisper.EnableTranslation
			m.targetLanguage = st.Whisper.TargetLanguage
		}
		return m, nil

	case CommandResponseMsg:
		return m, m.handleCommandResponse(msg)

	case DaemonEventMsg:
		cmd := m.handleEvent(msg.Event)
		// Continue reading events on event client
		return m, tea.Batch(cmd, readEventCmd(m.evClient))

	case DaemonEventErrorMsg:
		m.connected = false
		m.connError = msg.Err.Error()
		m.statusText = "Disconnected. Reconnecting..."
		m.reconnecting = true
		if m.client != nil {
			m.client.Close()
			m.client = nil
		}
		if m.evClient != nil {
			m.evClient.Close()
			m.evClient = nil
		}
		return m, reconnectCmd(m.reconnectAttempt)

	case ReconnectTickMsg:
		m.reconnectAttempt++
		return m, connectCmd(m.socketPath)

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil

	case ClearNoticeMsg:
		m.notice = ""
		return m, nil
	}

	return m, nil
}

func (m *Model) applyStatus(r daemon.Response) {
	if !r.OK {
		return
	}
	if r.Recording != nil {
		m.setRecording(*r.Recording)
	}
	if r.Processing != nil {
		m.processing = *r.Processing
	}
	m.activeSessionID = r.SessionID
	if r.Duration != "" {
		m.duration = r.Duration
	}
	if r.StartTime != "" {
		m.startTime = r.StartTime
	}
	if r.Dropped != nil {
		m.dropped = int(*r.Dropped)
	}
}

func (m *Model) setRecording(recording bool) {
	m.recording = recording
	if recording {
		m.statusText = "Recording"
		return
	}
	m.statusText = "Idle"
	m.startTime = idleStartTime
	m.processing = false
}

// applySessions replaces the session list, keeping the cursor on the session
// being viewed. On first load the cursor starts on the active session.
func (m *Model) applySessions(r daemon.Response) tea.Cmd {
	if !r.OK {
		return nil
	}
	m.sessions = r.Sessions
	m.activeSessionID = r.SessionID

	cursor := m.sessionIndex(m.viewSessionID)
	if cursor < 0 {
		cursor = m.sessionIndex(m.activeSessionID)
	}
	if cursor < 0 {
		cursor = min(m.sessionCursor, len(m.sessions)-1)
	}
	m.sessionCursor = max(0, cursor)

	if len(m.sessions) == 0 {
		m.viewSessionID = ""
		m.setEntries(nil)
		return nil
	}
	return m.viewSession(m.sessions[m.sessionCursor].ID)
}

// viewSession shows id in the transcript panel and fetches its entries.
func (m *Model) viewSession(id string) tea.Cmd {
	if id != m.viewSessionID {
		m.viewSessionID = id
		m.entries = nil
		m.entryCursor = 0
		m.marked = make(map[string]bool)
		m.transcriptLive = true
	}
	if m.client == nil {
		return nil
	}
	return entriesCmd(m.client, id)
}

func (m *Model) setEntries(entries []session.Entry) {
	m.entries = entries
	keep := make(map[string]bool, len(m.marked))
	for _, e := range entries {
		if m.marked[e.ID] {
			keep[e.ID] = true
		}
	}
	m.marked = keep
	m.clampEntryCursor()
}

func (m *Model) clampEntryCursor() {
	if m.transcriptLive || m.entryCursor >= len(m.entries) {
		m.entryCursor = max(0, len(m.entries)-1)
	}
}

func (m Model) sessionIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, s := range m.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m Model) sessionName(id string) string {
	if i := m.sessionIndex(id); i >= 0 {
		return m.sessions[i].Name
	}
	return ""
}

func (m *Model) handleCommandResponse(msg CommandResponseMsg) tea.Cmd {
	r := msg.Response
	if !r.OK {
		return m.showError(r.Error)
	}

	switch msg.Cmd {
	case daemon.CmdStart, daemon.CmdStop:
		m.applyStatus(r)
		// Starting without an active session creates one.
		return sessionsCmd(m.client)
	case daemon.CmdNewSession:
		m.viewSessionID = ""
		m.activeSessionID = r.SessionID
		return sessionsCmd(m.client)
	case daemon.CmdDeleteEntries, daemon.CmdCopyEntries:
		m.marked = make(map[string]bool)
	case daemon.CmdExportAudio:
		m.notice = "Audio saved to " + r.Path
		return clearNoticeCmd()
	}
	return nil
}

func (m *Model) showError(message string) tea.Cmd {
	m.errorMessage = message
	m.errorTransient = true
	return clearTransientErrorCmd()
}

// handleEvent processes a daemon event and returns any resulting command.
func (m *Model) handleEvent(ev daemon.Event) tea.Cmd {
	switch ev.Event {
	case "entry":
		if ev.SessionID == m.viewSessionID {
			if slices.ContainsFunc(m.entries, func(e session.Entry) bool { return e.ID == ev.EntryID }) {
				return nil
			}
		}
		if i := m.sessionIndex(ev.SessionID); i >= 0 {
			m.sessions[i].Entries++
		}
		if ev.SessionID != m.viewSessionID {
			return nil
		}
		m.entries = append(m.entries, session.Entry{
			ID:            ev.EntryID,
			Timestamp:     ev.Timestamp,
			Transcription: ev.Text,
			Translation:   ev.Translation,
		})
		m.clampEntryCursor()

	case "status":
		if ev.Recording != nil {
			m.setRecording(*ev.Recording)
		}
		if ev.Processing != nil {
			m.processing = *ev.Processing
		}
		m.activeSessionID = ev.SessionID
		if ev.Duration != "" {
			m.duration = ev.Duration
		}
		if ev.StartTime != "" {
			m.startTime = ev.StartTime
		}

	case "sessions":
		if m.client == nil {
			return nil
		}
		return sessionsCmd(m.client)

	case "dropped":
		m.dropped++

	case "notice":
		m.notice = ev.Message
		return clearNoticeCmd()

	case "error":
		return m.showError(ev.Message)
	}

	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.renaming {
		return m.handleRenameKey(msg)
	}

	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		m.closeClients()
		return m, tea.Quit

	case KeySpace:
		if !m.connected {
			return m, nil
		}
		if m.recording {
			return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdStop})
		}
		return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdStart})

	case KeyTab:
		if m.focusedPanel == FocusSessions {
			m.focusedPanel = FocusTranscript
		} else {
			m.focusedPanel = FocusSessions
		}
		return m, nil

	case KeyJ, KeyDown:
		if m.focusedPanel == FocusSessions {
			return m, m.moveSessionCursor(1)
		}
		m.moveEntryCursor(1)
		return m, nil

	case KeyK, KeyUp:
		if m.focusedPanel == FocusSessions {
			return m, m.moveSessionCursor(-1)
		}
		m.moveEntryCursor(-1)
		return m, nil

	case KeyJumpToLatest:
		m.transcriptLive = true
		m.clampEntryCursor()
		return m, nil

	case KeyEnter:
		if !m.connected || m.focusedPanel != FocusSessions || len(m.sessions) == 0 {
			return m, nil
		}
		id := m.sessions[m.sessionCursor].ID
		return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdSelectSession, SessionID: id})

	case KeyNewSession:
		if !m.connected {
			return m, nil
		}
		return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdNewSession})

	case KeyDelSession:
		if !m.connected || m.focusedPanel != FocusSessions || len(m.sessions) == 0 {
			return m, nil
		}
		id := m.sessions[m.sessionCursor].ID
		return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdDeleteSession, SessionID: id})

	case KeyRename:
		if !m.connected || m.focusedPanel != FocusSessions || len(m.sessions) == 0 {
			return m, nil
		}
		m.renaming = true
		m.renameInput = m.sessions[m.sessionCursor].Name
		return m, nil

	case KeyMark:
		if m.focusedPanel != FocusTranscript || len(m.entries) == 0 {
			return m, nil
		}
		id := m.entries[m.entryCursor].ID
		if m.marked[id] {
			delete(m.marked, id)
		} else {
			m.marked[id] = true
		}
		return m, nil

	case KeyClearMarks:
		m.marked = make(map[string]bool)
		return m, nil

	case KeyDelEntries, KeyCopyEntries:
		ids := m.targetEntries()
		if !m.connected || len(ids) == 0 {
			return m, nil
		}
		cmd := daemon.CmdDeleteEntries
		if msg.String() == KeyCopyEntries {
			cmd = daemon.CmdCopyEntries
		}
		return m, commandCmd(m.client, daemon.Command{Cmd: cmd, SessionID: m.viewSessionID, EntryIDs: ids})

	case KeyExportAudio:
		if !m.connected {
			return m, nil
		}
		return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdExportAudio})
	}

	return m, nil
}

func (m Model) handleRenameKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		m.closeClients()
		return m, tea.Quit
	case tea.KeyEsc:
		m.renaming = false
		m.renameInput = ""
		return m, nil
	case tea.KeyEnter:
		m.renaming = false
		name := m.renameInput
		m.renameInput = ""
		if !m.connected || len(m.sessions) == 0 {
			return m, nil
		}
		id := m.sessions[m.sessionCursor].ID
		return m, commandCmd(m.client, daemon.Command{Cmd: daemon.CmdRenameSession, SessionID: id, Name: name})
	case tea.KeyBackspace:
		if r := []rune(m.renameInput); len(r) > 0 {
			m.renameInput = string(r[:len(r)-1])
		}
		return m, nil
	case tea.KeySpace:
		m.renameInput += " "
		return m, nil
	case tea.KeyRunes:
		m.renameInput += string(msg.Runes)
		return m, nil
	}
	return m, nil
}

func (m *Model) closeClients() {
	if m.client != nil {
		m.client.Close()
	}
	if m.evClient != nil {
		m.evClient.Close()
	}
}

func (m *Model) moveSessionCursor(delta int) tea.Cmd {
	if len(m.sessions) == 0 {
		return nil
	}
	next := min(max(m.sessionCursor+delta, 0), len(m.sessions)-1)
	if next == m.sessionCursor {
		return nil
	}
	m.sessionCursor = next
	return m.viewSession(m.sessions[next].ID)
}

func (m *Model) moveEntryCursor(delta int) {
	if len(m.entries) == 0 {
		return
	}
	m.entryCursor = min(max(m.entryCursor+delta, 0), len(m.entries)-1)
	m.transcriptLive = m.entryCursor == len(m.entries)-1 && delta > 0
}

// targetEntries returns the marked entries in session order, or the entry
// under the cursor when nothing is marked.
func (m Model) targetEntries() []string {
	var ids []string
	for _, e := range m.entries {
		if m.marked[e.ID] {
			ids = append(ids, e.ID)
		}
	}
	if len(ids) == 0 && m.entryCursor < len(m.entries) {
		ids = append(ids, m.entries[m.entryCursor].ID)
	}
	return ids
}

func (m Model) contentHeight() int {
	if m.height == 0 {
		return 20
	}
	// Reserve: header(1) + status(1) + dividers(2) + notice/error(1) + footer(1) + padding
	reserved := 7
	return max(5, m.height-reserved)
}

func (m Model) sessionPanelWidth() int {
	if m.width == 0 {
		return 30
	}
	return max(20, m.width*30/100)
}

func (m Model) transcriptPanelWidth() int {
	if m.width == 0 {
		return 60
	}
	return max(30, m.width-m.sessionPanelWidth()-3)
}

// View renders the full TUI.
func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStatusBar())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderMainContent())
	sections = append(sections, ui.DividerStyle.Render(strings.Repeat("─", m.width)))

	switch {
	case m.errorMessage != "":
		sections = append(sections, m.renderErrorBar())
	case m.notice != "":
		sections = append(sections, ui.NoticeStyle.Render(m.notice))
	}

	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := ui.TitleStyle.Render("WHISPERWEB")

	var sessionInfo string
	if name := m.sessionName(m.activeSessionID); name != "" {
		sessionInfo = ui.DimStyle.Render(" · " + name)
	}

	var translate string
	if m.enableTranslation && m.targetLanguage != "" {
		translate = ui.DimStyle.Render(" [→ " + m.targetLanguage + "]")
	}

	return title + sessionInfo + translate
}

func (m Model) renderStatusBar() string {
	if !m.connected {
		return ui.IdleDotStyle.Render("○ ") + ui.DimStyle.Render(m.statusText)
	}

	var dot string
	if m.recording {
		dot = ui.RecordingDotStyle.Render("● REC")
	} else {
		dot = ui.IdleDotStyle.Render("○ IDLE")
	}

	clock := ui.DimStyle.Render("  Start ") + m.startTime + ui.DimStyle.Render("  Duration ") + m.duration

	var processing string
	if m.processing {
		processing = "  " + ui.SpinnerStyle.Render("⟳ transcribing")
	}

	var dropped string
	if m.dropped > 0 {
		dropped = "  " + ui.DimStyle.Render(fmt.Sprintf("%d dropped", m.dropped))
	}

	return dot + clock + processing + dropped
}

func (m Model) renderMainContent() string {
	sessionW := m.sessionPanelWidth()
	transcriptW := m.transcriptPanelWidth()
	contentH := m.contentHeight()

	sessionLines := strings.Split(m.renderSessionPanel(sessionW, contentH), "\n")
	transcriptLines := strings.Split(m.renderTranscriptPanel(transcriptW, contentH), "\n")

	divider := ui.DividerStyle.Render("│")

	var rows []string
	for i := 0; i < contentH; i++ {
		sl := strings.Repeat(" ", sessionW)
		if i < len(sessionLines) {
			sl = sessionLines[i]
		}
		tr := ""
		if i < len(transcriptLines) {
			tr = transcriptLines[i]
		}
		rows = append(rows, sl+divider+tr)
	}

	return strings.Join(rows, "\n")
}

func (m Model) renderSessionPanel(width, height int) string {
	title := fmt.Sprintf("SESSIONS (%d)", len(m.sessions))
	var header string
	if m.focusedPanel == FocusSessions {
		header = ui.PanelTitleActiveStyle.Render(title)
	} else {
		header = ui.PanelTitleStyle.Render(title)
	}

	lines := []string{header}

	if len(m.sessions) == 0 {
		lines = append(lines, ui.DimStyle.Render("  No sessions yet"))
		lines = append(lines, ui.DimStyle.Render("  Press n to create one"))
	}

	// Keep the cursor row visible.
	first := max(0, m.sessionCursor-(height-2))
	for i := first; i < len(m.sessions); i++ {
		s := m.sessions[i]
		marker := "  "
		if s.ID == m.activeSessionID {
			marker = ui.ActiveSessionStyle.Render("● ")
		}

		name := s.Name
		if m.renaming && i == m.sessionCursor {
			name = ui.InputStyle.Render(m.renameInput + "▌")
		} else if i == m.sessionCursor && m.focusedPanel == FocusSessions {
			name = ui.SelectedStyle.Render(name)
		}

		count := ui.DimStyle.Render(fmt.Sprintf(" (%d)", s.Entries))
		cursor := "  "
		if i == m.sessionCursor {
			cursor = ui.SelectedStyle.Render("> ")
		}
		lines = append(lines, truncateToWidth(cursor+marker+name+count, width))
	}

	if len(lines) > height {
		lines = lines[:height]
	}
	for i, l := range lines {
		lines[i] = padRight(l, width)
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderTranscriptPanel(width, height int) string {
	var badge string
	if m.transcriptLive {
		badge = ui.LiveBadgeStyle.Render(" LIVE")
	} else {
		badge = ui.ScrollBadgeStyle.Render(" SCROLL")
	}

	title := "TRANSCRIPT"
	if name := m.sessionName(m.viewSessionID); name != "" {
		title += " · " + name
	}
	var header string
	if m.focusedPanel == FocusTranscript {
		header = ui.PanelTitleActiveStyle.Render(title) + badge
	} else {
		header = ui.PanelTitleStyle.Render(title) + badge
	}
	if n := len(m.marked); n > 0 {
		header += ui.DimStyle.Render(fmt.Sprintf("  %d selected", n))
	}

	lines := []string{header}
	contentHeight := height - 1

	switch {
	case !m.connected:
		if m.reconnecting {
			lines = append(lines, "")
			lines = append(lines, ui.ErrorTextStyle.Render("  whisperweb disconnected. Reconnecting..."))
			lines = append(lines, ui.DimStyle.Render("  Start with: whisperweb run"))
		} else {
			lines = append(lines, ui.DimStyle.Render("  Connecting to whisperweb..."))
		}

	case len(m.entries) == 0:
		lines = append(lines, "")
		lines = append(lines, ui.DimStyle.Render("  Press Space to start recording"))

	default:
		display, cursorLine := m.transcriptLines(width)

		start := 0
		if m.transcriptLive {
			start = max(0, len(display)-contentHeight)
		} else if cursorLine >= contentHeight {
			start = cursorLine - contentHeight + 1
		}
		end := min(start+contentHeight, len(display))
		lines = append(lines, display[start:end]...)
	}

	if len(lines) > height {
		lines = lines[:height]
	}

	return strings.Join(lines, "\n")
}

// transcriptLines renders every entry, wrapped to width, and returns the
// line index of the entry under the cursor.
func (m Model) transcriptLines(width int) ([]string, int) {
	// Prefix: "> * [HH:MM:SS] " when timestamps are shown.
	prefixWidth := 4
	if m.showTimestamp {
		prefixWidth += 11
	}
	textWidth := max(10, width-prefixWidth-1)
	indent := strings.Repeat(" ", prefixWidth)
	textStyle := ui.TextStyle(m.fontSize)

	var out []string
	cursorLine := 0
	for i, e := range m.entries {
		cursor := "  "
		if i == m.entryCursor && m.focusedPanel == FocusTranscript {
			cursor = ui.SelectedStyle.Render("> ")
			cursorLine = len(out)
		}
		mark := "  "
		if m.marked[e.ID] {
			mark = ui.MarkedStyle.Render("* ")
		}
		prefix := cursor + mark
		if m.showTimestamp {
			prefix += ui.TimestampStyle.Render("["+e.Timestamp+"]") + " "
		}

		wrapped := wrapText(e.Transcription, textWidth)
		out = append(out, prefix+textStyle.Render(wrapped[0]))
		for _, wl := range wrapped[1:] {
			out = append(out, indent+textStyle.Render(wl))
		}
		if e.Translation != "" {
			for _, wl := range wrapText("→ "+e.Translation, textWidth) {
				out = append(out, indent+ui.TranslationStyle.Render(wl))
			}
		}
	}
	return out, cursorLine
}

func (m Model) renderErrorBar() string {
	return ui.ErrorStyle.Render("Error: ") + ui.ErrorTextStyle.Render(m.errorMessage)
}

func footerKey(key, desc string) string {
	return ui.FooterKeyStyle.Render(key) + ui.FooterDescStyle.Render(" "+desc)
}

func (m Model) renderFooter() string {
	if m.renaming {
		return footerKey("Enter", "Save") + "  " + footerKey("Esc", "Cancel")
	}

	var parts []string
	if m.connected {
		if m.recording {
			parts = append(parts, footerKey("Space", "Stop"))
		} else {
			parts = append(parts, footerKey("Space", "Record"))
		}
		parts = append(parts, footerKey("n", "New"))
		if m.focusedPanel == FocusSessions {
			parts = append(parts, footerKey("Enter", "Select"))
			parts = append(parts, footerKey("r", "Rename"))
			parts = append(parts, footerKey("x", "Delete"))
		} else {
			parts = append(parts, footerKey("s", "Mark"))
			parts = append(parts, footerKey("c", "Copy"))
			parts = append(parts, footerKey("d", "Delete"))
		}
		parts = append(parts, footerKey("w", "Save WAV"))
	}
	parts = append(parts, footerKey("Tab", "Focus"))
	parts = append(parts, footerKey("j/k", "Nav"))
	parts = append(parts, footerKey("q", "Quit"))

	return strings.Join(parts, "  ")
}

// Helpers

func padRight(s string, width int) string {
	// Get visible length (ignoring ANSI codes)
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}

func truncateToWidth(s string, width int) string {
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, "…")
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			if current == "" {
				current = word
			} else if len([]rune(current))+1+len([]rune(word)) <= width {
				current += " " + word
			} else {
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
