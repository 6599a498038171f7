// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

type sentPackets struct {
	packets []shuck.Packet
	err     error
}

func (s *sentPackets) send(p shuck.Packet) error {
	if s.err != nil {
		return s.err
	}
	s.packets = append(s.packets, p)
	return nil
}

func runeKey(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func update(t *testing.T, m monitorModel, msg tea.Msg) monitorModel {
	t.Helper()
	next, _ := m.Update(msg)
	out, ok := next.(monitorModel)
	require.True(t, ok)
	return out
}

func TestMonitor_PingAndHealthKeys(t *testing.T) {
	sent := &sentPackets{}
	m := newMonitorModel(sent.send, "test", false)

	m = update(t, m, runeKey('p'))
	m = update(t, m, runeKey('h'))

	require.Len(t, sent.packets, 2)
	assert.Equal(t, shuck.TypePing, sent.packets[0].Type())
	assert.Equal(t, shuck.TypeHealth, sent.packets[1].Type())
	assert.False(t, m.pingSentAt.IsZero())
}

func TestMonitor_ShortcutsTypeIntoFocusedInput(t *testing.T) {
	sent := &sentPackets{}
	m := newMonitorModel(sent.send, "test", false)

	m = update(t, m, tea.KeyMsg{Type: tea.KeyTab})
	assert.Equal(t, focusFromInput, m.focusedField)
	m = update(t, m, runeKey('p'))

	assert.Empty(t, sent.packets)
	assert.Equal(t, "p", m.fromInput.Value())

	m = update(t, m, tea.KeyMsg{Type: tea.KeyShiftTab})
	assert.Equal(t, focusLabelList, m.focusedField)
}

func TestMonitor_RequestData(t *testing.T) {
	sent := &sentPackets{}
	m := newMonitorModel(sent.send, "test", false)
	m.fromInput.SetValue("1700000000")
	m.toInput.SetValue("1700086400")

	m.requestData(time.Now())

	require.Len(t, sent.packets, 1)
	req, err := shuck.DecodeDataRequest(sent.packets[0].Data)
	require.NoError(t, err)
	assert.Equal(t, shuck.Labels[0], req.Label)
	assert.Equal(t, int64(1700000000), req.From.Unix())
	assert.Equal(t, int64(1700086400), req.To.Unix())
}

func TestMonitor_RequestDefaultsAndBadInput(t *testing.T) {
	sent := &sentPackets{}
	m := newMonitorModel(sent.send, "test", false)
	now := time.Unix(1700000000, 0)

	m.requestData(now)
	require.Len(t, sent.packets, 1)
	req, err := shuck.DecodeDataRequest(sent.packets[0].Data)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-defaultLookback).Unix(), req.From.Unix())
	assert.Equal(t, now.Unix(), req.To.Unix())

	m.fromInput.SetValue("yesterday")
	m.requestData(now)
	assert.Len(t, sent.packets, 1)
	assert.True(t, m.eventLog[len(m.eventLog)-1].isError)
}

func TestMonitor_SendFailures(t *testing.T) {
	sent := &sentPackets{err: errNotConnected}
	m := newMonitorModel(sent.send, "test", false)

	m.sendPing()
	assert.True(t, m.pingSentAt.IsZero())
	assert.Equal(t, "Cannot send command: connection lost", m.eventLog[0].message)

	sent.err = errors.New("stalled")
	m = update(t, m, connectionLostMsg{})
	assert.True(t, m.connectionLost)
	assert.False(t, m.sendPacket(shuck.NewHealth(), "sent"))

	m = update(t, m, reconnectedMsg{connInfo: "Serial: /dev/ttyUSB1 @ 115200 baud"})
	assert.False(t, m.connectionLost)
	assert.Equal(t, "Serial: /dev/ttyUSB1 @ 115200 baud", m.connInfo)
	assert.False(t, m.sendPacket(shuck.NewHealth(), "sent"))
	assert.Contains(t, m.eventLog[len(m.eventLog)-1].message, "stalled")
}

func TestMonitor_AppliesEvents(t *testing.T) {
	m := newMonitorModel((&sentPackets{}).send, "test", true)
	now := time.Now()
	m.pingSentAt = now.Add(-40 * time.Millisecond)

	reading := &shuck.CurrentReading{SensorID: 3, PH: 7.9}
	batch := &shuck.Batch{SensorID: 3, Count: 5, Entries: make([]shuck.DataEntry, 2), Label: shuck.LabelPH}
	stats := *shuck.NewStatistics()
	stats.TotalPackets = 5

	m = update(t, m, monitorBatchMsg{
		events: []session.Event{
			{Kind: session.EventPing, Time: now, Packet: shuck.NewPing()},
			{Kind: session.EventHealthy, Time: now, Packet: shuck.NewHealth()},
			{Kind: session.EventReading, Time: now, Reading: reading},
			{Kind: session.EventBatch, Time: now, Batch: batch},
			{Kind: session.EventFault, Time: now, Packet: shuck.NewPacket(shuck.TypeSDError, nil),
				Err: &session.FaultError{Type: shuck.TypeSDError}},
		},
		stats: stats,
	})

	assert.Equal(t, 40*time.Millisecond, m.lastRTT)
	assert.Equal(t, reading, m.reading)
	assert.Equal(t, 1, m.batches)
	assert.Equal(t, 2, m.entries)
	assert.True(t, m.healthErr)
	assert.Equal(t, shuck.TypeSDError.String(), m.health)
	assert.Equal(t, uint64(5), m.stats.TotalPackets)

	// Truncated batch is flagged
	assert.True(t, m.eventLog[2].isError)
	assert.Contains(t, m.eventLog[2].message, "announced 5")
}

func TestMonitor_LogIsBounded(t *testing.T) {
	m := newMonitorModel((&sentPackets{}).send, "test", false)
	for i := 0; i < maxLogEntries+20; i++ {
		m.addLogEntry("entry", false)
	}
	assert.Len(t, m.eventLog, maxLogEntries)
}

func TestMonitor_ViewRenders(t *testing.T) {
	m := newMonitorModel((&sentPackets{}).send, "WebSocket: ws://relay/shuck", true)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	view := m.View()
	assert.Contains(t, view, "SHUCKCTL MONITOR")
	assert.Contains(t, view, "ws://relay/shuck")
	assert.Contains(t, view, "no events yet")

	m = update(t, m, runeKey('q'))
	assert.Equal(t, "Shutting down...\n", m.View())
}
