// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/collector"
	"github.com/Thermoquad/shuckctl/pkg/logging"
	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Interactive TUI for a Shuck logger",
	Long: `Monitor and drive a Shuck logger from an interactive terminal UI.

Features:
  - Live readings and logger health
  - Ping and health checks
  - Data downloads by label and time range
  - Optional forwarding of downloaded batches to the collection server
  - Statistics tracking and event logging
  - Automatic reconnection on connection loss

Tab cycles between the label list and the from/to fields. Enter downloads the
selected label over the given range. With the label list focused, p sends a
PING and h a HEALTH request.

Supports both serial and WebSocket connections. Logs go to --log-file only,
so they do not tear the display.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	addCollectorFlags(monitorCmd)
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	ls    *linkSession
	mu    sync.RWMutex
	queue *collector.Queue
	p     *tea.Program
}

func (cm *connectionManager) current() *linkSession {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.ls
}

func (cm *connectionManager) set(ls *linkSession) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.ls = ls
}

var errNotConnected = errors.New("not connected")

// send queues p on the current session
func (cm *connectionManager) send(p shuck.Packet) error {
	ls := cm.current()
	if ls == nil {
		return errNotConnected
	}
	return ls.sess.Send(p)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Keep zap output off the terminal while the TUI owns it
	if cfg.Logging.File.Filename == "" {
		logger = logging.Discard()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	cm := &connectionManager{}
	if cfg.Collector.Enable {
		q, err := newQueue(ctx, cfg.Collector, nil)
		if err != nil {
			return err
		}
		cm.queue = q
	}

	ls, err := openSession(ctx, sessionConfig(cfg.Collector.Enable), cm.queue, nil)
	if err != nil {
		return err
	}
	cm.set(ls)

	m := initialMonitorModel(cm, ls.info, cfg.Collector.Enable)
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	cm.p = p

	go cm.readerLoop(ctx)

	_, runErr := p.Run()
	cancel()
	if ls := cm.current(); ls != nil {
		ls.Close()
	}
	if cm.queue != nil {
		drainQueue(cm.queue, cfg.Collector.Timeout, logger)
	}
	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// readerLoop drives the current session and reconnects when the link drops
func (cm *connectionManager) readerLoop(ctx context.Context) {
	for {
		ls := cm.current()
		if ls == nil {
			return
		}

		cm.runSession(ctx, ls)
		if ctx.Err() != nil {
			return
		}

		cm.p.Send(connectionLostMsg{})
		cm.set(nil)
		ls.Close()

		if !cm.reconnect(ctx) {
			return
		}
	}
}

// runSession pumps ls and relays its events to the TUI in batches until the
// link fails or ctx is done
func (cm *connectionManager) runSession(ctx context.Context, ls *linkSession) {
	pumpDone := make(chan error, 1)
	go func() {
		pumpDone <- ls.pump(ctx)
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var pending []session.Event
	flush := func() {
		if len(pending) == 0 {
			return
		}
		cm.p.Send(monitorBatchMsg{events: pending, stats: ls.sess.Stats()})
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-pumpDone:
			// Deliver what arrived before the link went away
		drainLoop:
			for {
				select {
				case ev := <-ls.sess.Events():
					pending = append(pending, ev)
				default:
					break drainLoop
				}
			}
			flush()
			logger.Warn("link lost", zap.Error(err))
			return
		case ev := <-ls.sess.Events():
			pending = append(pending, ev)
		case <-ticker.C:
			flush()
		}
	}
}

// reconnect attempts to reconnect with exponential backoff. It returns
// false if ctx ended first.
func (cm *connectionManager) reconnect(ctx context.Context) bool {
	backoff := minBackoff

	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		ls, err := openSession(ctx, sessionConfig(cfg.Collector.Enable), cm.queue, nil)
		if err == nil {
			cm.set(ls)
			cm.p.Send(reconnectedMsg{connInfo: ls.info})
			return true
		}
		logger.Debug("reconnect failed", zap.Error(err), zap.Duration("backoff", backoff))

		backoff = min(backoff*2, maxBackoff)
	}
}
