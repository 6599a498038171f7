// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

//////////////////////////////////////////////////////////////
// Constants
//////////////////////////////////////////////////////////////

const (
	maxLogEntries   = 100
	eventLogHeight  = 8
	defaultLookback = 24 * time.Hour
)

// Focus states
const (
	focusLabelList = iota
	focusFromInput
	focusToInput
	focusCount
)

//////////////////////////////////////////////////////////////
// Types
//////////////////////////////////////////////////////////////

// labelItem is one requestable measurement kind
type labelItem string

var labelNames = map[string]string{
	shuck.LabelPH:           "pH",
	shuck.LabelTemperature:  "Temperature (C)",
	shuck.LabelSalinity:     "Salinity (PSU)",
	shuck.LabelConductivity: "Conductivity (mS/cm)",
}

// Implement list.Item interface
func (l labelItem) Title() string       { return string(l) }
func (l labelItem) Description() string { return labelNames[string(l)] }
func (l labelItem) FilterValue() string { return string(l) }

type logEntry struct {
	timestamp time.Time
	message   string
	isError   bool
}

// monitorModel is the Bubble Tea model for the monitor TUI
type monitorModel struct {
	send       func(shuck.Packet) error
	connInfo   string
	forwarding bool

	// Request form
	labels       list.Model
	fromInput    textinput.Model
	toInput      textinput.Model
	focusedField int

	// Logger state
	health     string
	healthErr  bool
	reading    *shuck.CurrentReading
	readingAt  time.Time
	pingSentAt time.Time
	lastRTT    time.Duration
	batches    int
	entries    int

	stats    shuck.Statistics
	eventLog []logEntry

	// UI state
	width          int
	height         int
	quitting       bool
	connectionLost bool
}

//////////////////////////////////////////////////////////////
// Messages
//////////////////////////////////////////////////////////////

type monitorTickMsg time.Time

type monitorBatchMsg struct {
	events []session.Event
	stats  shuck.Statistics
}

type connectionLostMsg struct{}

type reconnectedMsg struct {
	connInfo string
}

//////////////////////////////////////////////////////////////
// Model Initialization
//////////////////////////////////////////////////////////////

func initialMonitorModel(cm *connectionManager, connInfo string, forwarding bool) monitorModel {
	return newMonitorModel(cm.send, connInfo, forwarding)
}

func newMonitorModel(send func(shuck.Packet) error, connInfo string, forwarding bool) monitorModel {
	from := textinput.New()
	from.Placeholder = "24h ago"
	from.CharLimit = 25
	from.Width = 22

	to := textinput.New()
	to.Placeholder = "now"
	to.CharLimit = 25
	to.Width = 22

	items := make([]list.Item, len(shuck.Labels))
	for i, l := range shuck.Labels {
		items[i] = labelItem(l)
	}
	delegate := list.NewDefaultDelegate()
	delegate.ShowDescription = true
	delegate.SetHeight(2)
	labels := list.New(items, delegate, 28, 10)
	labels.Title = "Labels"
	labels.SetShowStatusBar(false)
	labels.SetShowHelp(false)
	labels.SetFilteringEnabled(false)

	return monitorModel{
		send:         send,
		connInfo:     connInfo,
		forwarding:   forwarding,
		labels:       labels,
		fromInput:    from,
		toInput:      to,
		focusedField: focusLabelList,
		health:       "unknown",
		stats:        *shuck.NewStatistics(),
		width:        80,
		height:       24,
	}
}

//////////////////////////////////////////////////////////////
// Bubble Tea Interface
//////////////////////////////////////////////////////////////

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyMsg(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.labels.SetSize(26, max(m.height/3, 8))

	case monitorTickMsg:
		return m, monitorTickCmd()

	case monitorBatchMsg:
		m.stats = msg.stats
		for _, ev := range msg.events {
			m.applyEvent(ev)
		}

	case connectionLostMsg:
		m.connectionLost = true
		m.addLogEntry("Connection lost - reconnecting...", true)

	case reconnectedMsg:
		m.connectionLost = false
		m.connInfo = msg.connInfo
		m.health = "unknown"
		m.healthErr = false
		m.addLogEntry("Reconnected", false)
	}

	return m, nil
}

func (m monitorModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		return m, tea.Quit

	case "tab":
		return m.cycleFocus(1)

	case "shift+tab":
		return m.cycleFocus(-1)

	case "enter":
		m.requestData(time.Now())
		return m, nil
	}

	var cmd tea.Cmd
	switch m.focusedField {
	case focusLabelList:
		switch msg.String() {
		case "q":
			m.quitting = true
			return m, tea.Quit
		case "p":
			m.sendPing()
			return m, nil
		case "h":
			m.sendPacket(shuck.NewHealth(), "Sent HEALTH")
			return m, nil
		}
		m.labels, cmd = m.labels.Update(msg)
	case focusFromInput:
		m.fromInput, cmd = m.fromInput.Update(msg)
	case focusToInput:
		m.toInput, cmd = m.toInput.Update(msg)
	}
	return m, cmd
}

func (m monitorModel) cycleFocus(delta int) (tea.Model, tea.Cmd) {
	m.focusedField = (m.focusedField + delta + focusCount) % focusCount

	m.fromInput.Blur()
	m.toInput.Blur()
	var cmd tea.Cmd
	switch m.focusedField {
	case focusFromInput:
		cmd = m.fromInput.Focus()
	case focusToInput:
		cmd = m.toInput.Focus()
	}
	return m, cmd
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	var s strings.Builder

	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12")).
		Background(lipgloss.Color("235")).
		Padding(0, 1)

	headerStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))

	errorStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("9")).
		Bold(true)

	warningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))

	boxStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)

	focusedBoxStyle := boxStyle.
		BorderForeground(lipgloss.Color("12"))

	// Header
	s.WriteString(titleStyle.Render("SHUCKCTL MONITOR"))
	s.WriteString(" ")
	connStatus := m.connInfo
	if m.connectionLost {
		connStatus = warningStyle.Render("RECONNECTING...")
	}
	s.WriteString(headerStyle.Render(fmt.Sprintf("| %s | q=quit Tab=switch Enter=download p=ping h=health", connStatus)))
	s.WriteString("\n\n")

	// Layout: left panel (labels) | right panel (request and status)
	leftWidth := 28
	rightWidth := max(m.width-leftWidth-6, 30)

	listStyle := boxStyle.Width(leftWidth)
	if m.focusedField == focusLabelList {
		listStyle = focusedBoxStyle.Width(leftWidth)
	}
	labelPanel := listStyle.Render(m.labels.View())

	statusContent := m.renderStatusPanel(labelStyle, valueStyle, errorStyle, headerStyle)
	statusPanel := boxStyle.Width(rightWidth).Render(statusContent)

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, labelPanel, " ", statusPanel))
	s.WriteString("\n\n")

	s.WriteString(m.renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle))
	s.WriteString("\n\n")

	s.WriteString(m.renderEventLog(labelStyle, headerStyle, errorStyle, warningStyle, boxStyle))

	return s.String()
}

//////////////////////////////////////////////////////////////
// View Helpers
//////////////////////////////////////////////////////////////

func (m monitorModel) renderStatusPanel(labelStyle, valueStyle, errorStyle, headerStyle lipgloss.Style) string {
	var s strings.Builder

	// Request range
	s.WriteString(labelStyle.Render("From: "))
	s.WriteString(m.renderInput(m.fromInput, m.focusedField == focusFromInput))
	s.WriteString("\n")
	s.WriteString(labelStyle.Render("To:   "))
	s.WriteString(m.renderInput(m.toInput, m.focusedField == focusToInput))
	s.WriteString("\n")
	s.WriteString(headerStyle.Render("YYYY-MM-DD, RFC 3339 or unix seconds"))
	s.WriteString("\n\n")

	// Health
	health := valueStyle.Render(m.health)
	if m.healthErr {
		health = errorStyle.Render(m.health)
	}
	fmt.Fprintf(&s, "%s %s", labelStyle.Render("Health:"), health)
	if m.lastRTT > 0 {
		fmt.Fprintf(&s, "  %s %s", labelStyle.Render("RTT:"), valueStyle.Render(m.lastRTT.Round(time.Millisecond).String()))
	}
	s.WriteString("\n")

	// Latest reading
	s.WriteString(labelStyle.Render("Reading: "))
	if m.reading == nil {
		s.WriteString(headerStyle.Render("none yet"))
	} else {
		r := m.reading
		s.WriteString(valueStyle.Render(fmt.Sprintf("pH %.2f  %.1fC  sal %.1f  con %.1f", r.PH, r.Temperature, r.Salinity, r.Conductivity)))
		s.WriteString(headerStyle.Render(fmt.Sprintf("  (sensor %d, %s ago)", r.SensorID, time.Since(m.readingAt).Round(time.Second))))
	}
	s.WriteString("\n")

	// Downloads
	forward := "off"
	if m.forwarding {
		forward = "on"
	}
	fmt.Fprintf(&s, "%s %s  %s %s",
		labelStyle.Render("Batches:"), valueStyle.Render(fmt.Sprintf("%d (%d entries)", m.batches, m.entries)),
		labelStyle.Render("Forwarding:"), valueStyle.Render(forward))

	return s.String()
}

func (m monitorModel) renderInput(ti textinput.Model, focused bool) string {
	if focused {
		return ti.View()
	}
	val := ti.Value()
	if val == "" {
		val = ti.Placeholder
	}
	return fmt.Sprintf("[%s]", val)
}

func (m monitorModel) renderStatisticsBar(labelStyle, valueStyle, errorStyle, boxStyle lipgloss.Style) string {
	var validPercent, errorPercent float64
	if m.stats.TotalPackets > 0 {
		validPercent = float64(m.stats.ValidPackets) * 100.0 / float64(m.stats.TotalPackets)
		errorPercent = float64(m.stats.Errors()) * 100.0 / float64(m.stats.TotalPackets)
	}

	errText := valueStyle.Render("0.0%")
	if errorPercent > 0 {
		errText = errorStyle.Render(fmt.Sprintf("%.1f%%", errorPercent))
	}

	content := fmt.Sprintf("%s %s  %s %s  %s %s  %s %s  %s %s",
		labelStyle.Render("Total:"), valueStyle.Render(fmt.Sprintf("%d", m.stats.TotalPackets)),
		labelStyle.Render("Valid:"), valueStyle.Render(fmt.Sprintf("%.1f%%", validPercent)),
		labelStyle.Render("Errors:"), errText,
		labelStyle.Render("Skipped:"), valueStyle.Render(fmt.Sprintf("%d B", m.stats.DiscardedBytes)),
		labelStyle.Render("Rate:"), valueStyle.Render(fmt.Sprintf("%.1f pkt/s", m.stats.PacketRate)),
	)

	return boxStyle.Width(max(m.width-4, 40)).Render(content)
}

func (m monitorModel) renderEventLog(labelStyle, headerStyle, errorStyle, warningStyle, boxStyle lipgloss.Style) string {
	var s strings.Builder
	s.WriteString(labelStyle.Render("EVENTS"))
	s.WriteString("\n")

	if len(m.eventLog) == 0 {
		s.WriteString(headerStyle.Render("  (no events yet)"))
	}
	for _, entry := range m.eventLog[max(len(m.eventLog)-eventLogHeight, 0):] {
		icon := "i"
		style := warningStyle
		if entry.isError {
			icon = "x"
			style = errorStyle
		}
		fmt.Fprintf(&s, "%s %s %s\n",
			headerStyle.Render(entry.timestamp.Format("15:04:05.000")),
			style.Render(icon),
			entry.message)
	}

	return boxStyle.Width(max(m.width-4, 40)).Render(s.String())
}

//////////////////////////////////////////////////////////////
// Event Processing
//////////////////////////////////////////////////////////////

func (m *monitorModel) applyEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventPing:
		if !m.pingSentAt.IsZero() {
			m.lastRTT = ev.Time.Sub(m.pingSentAt)
			m.pingSentAt = time.Time{}
			m.addLogEntry(fmt.Sprintf("PING reply in %s", m.lastRTT.Round(time.Millisecond)), false)
		} else {
			m.addLogEntry("PING", false)
		}

	case session.EventHealthy:
		m.health = "OK"
		m.healthErr = false
		m.addLogEntry("Logger healthy", false)

	case session.EventFault:
		m.health = ev.Packet.Type().String()
		m.healthErr = true
		m.addLogEntry(fmt.Sprintf("Fault: %v", ev.Err), true)

	case session.EventConfigAck:
		m.addLogEntry("CONFIG acknowledged", false)

	case session.EventReading:
		m.reading = ev.Reading
		m.readingAt = ev.Time

	case session.EventBatch:
		b := ev.Batch
		m.batches++
		m.entries += len(b.Entries)
		msg := fmt.Sprintf("BATCH %s: %d entries from sensor %d", b.Label, len(b.Entries), b.SensorID)
		if b.Truncated() {
			msg += fmt.Sprintf(" (announced %d)", b.Count)
		}
		m.addLogEntry(msg, b.Truncated())

	case session.EventMalformed:
		m.addLogEntry(fmt.Sprintf("%s: %v", shuck.FormatMessageType(byte(ev.Packet.Type())), ev.Err), true)

	default:
		m.addLogEntry(fmt.Sprintf("Unexpected %s", shuck.FormatMessageType(byte(ev.Packet.Type()))), true)
	}
}

//////////////////////////////////////////////////////////////
// Commands
//////////////////////////////////////////////////////////////

func (m *monitorModel) sendPing() {
	if m.sendPacket(shuck.NewPing(), "Sent PING") {
		m.pingSentAt = time.Now()
	}
}

// requestData asks for the selected label over the entered range
func (m *monitorModel) requestData(now time.Time) {
	item, ok := m.labels.SelectedItem().(labelItem)
	if !ok {
		m.addLogEntry("No label selected", true)
		return
	}

	from, err := parseTime(m.fromInput.Value(), now.Add(-defaultLookback))
	if err != nil {
		m.addLogEntry(fmt.Sprintf("From: %v", err), true)
		return
	}
	to, err := parseTime(m.toInput.Value(), now)
	if err != nil {
		m.addLogEntry(fmt.Sprintf("To: %v", err), true)
		return
	}

	p, err := shuck.NewDataRequest(from, to, string(item))
	if err != nil {
		m.addLogEntry(fmt.Sprintf("Invalid request: %v", err), true)
		return
	}
	m.sendPacket(p, fmt.Sprintf("Requested %s from %s to %s", item,
		from.Format(time.DateTime), to.Format(time.DateTime)))
}

// sendPacket queues p on the link and logs okMsg on success
func (m *monitorModel) sendPacket(p shuck.Packet, okMsg string) bool {
	if m.connectionLost {
		m.addLogEntry("Cannot send command: connection lost", true)
		return false
	}
	if err := m.send(p); err != nil {
		if errors.Is(err, errNotConnected) {
			m.addLogEntry("Cannot send command: connection lost", true)
		} else {
			m.addLogEntry(fmt.Sprintf("Failed to send %s: %v", p.Type(), err), true)
		}
		return false
	}
	m.addLogEntry(okMsg, false)
	return true
}

//////////////////////////////////////////////////////////////
// Helpers
//////////////////////////////////////////////////////////////

func (m *monitorModel) addLogEntry(message string, isError bool) {
	m.eventLog = append(m.eventLog, logEntry{
		timestamp: time.Now(),
		message:   message,
		isError:   isError,
	})

	if len(m.eventLog) > maxLogEntries {
		m.eventLog = m.eventLog[len(m.eventLog)-maxLogEntries:]
	}
}
