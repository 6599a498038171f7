// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/link"
	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	discoveryTimeout int
	discoveryProbe   bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find serial ports with a logger attached",
	Long: `List serial ports and probe each one for a Shuck logger.

Each port is opened at --baud and sent a PING; ports that echo it within
--timeout are reported as loggers, along with the logger's HEALTH answer.
Use --probe=false to only list the ports.

Exit codes:
  0 - At least one logger found (or ports listed without probing)
  1 - No logger answered
  2 - Ports could not be listed`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 2, "Timeout in seconds per port")
	discoveryCmd.Flags().BoolVar(&discoveryProbe, "probe", true, "Send PING to each port")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports, err := link.ListSerialPorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot list serial ports: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Shuckctl - Logger Discovery\n")
	fmt.Printf("Serial ports: %d\n\n", len(ports))

	if !discoveryProbe {
		for _, p := range ports {
			fmt.Printf("  %s\n", p)
		}
		return nil
	}

	found := 0
	for _, p := range ports {
		fmt.Printf("%s: ", p)
		health, err := probePort(cmd.Context(), p)
		if err != nil {
			fmt.Printf("no logger (%v)\n", err)
			logger.Debug("probe failed", zap.String("port", p), zap.Error(err))
			continue
		}
		found++
		fmt.Printf("LOGGER FOUND, %s\n", health)
	}

	fmt.Printf("\n--- Discovery summary ---\n")
	fmt.Printf("Loggers found: %d\n", found)
	if found == 0 {
		fmt.Printf("No loggers discovered. Check connection, baud rate and device power.\n")
		os.Exit(1)
	}
	return nil
}

// probePort pings one port and reports the logger's health
func probePort(ctx context.Context, port string) (string, error) {
	conn, err := link.OpenSerial(port, cfg.Link.Baud)
	if err != nil {
		return "", err
	}
	ls := attachSession(conn, port, sessionConfig(false), nil, nil)
	defer ls.Close()
	go ls.pump(ctx)

	timeout := time.Duration(discoveryTimeout) * time.Second
	if err := ls.sess.Send(shuck.NewPing()); err != nil {
		return "", err
	}
	if _, err := awaitEvent(ctx, ls.sess, timeout, func(ev session.Event) bool {
		return ev.Kind == session.EventPing
	}); err != nil {
		return "", err
	}

	if err := ls.sess.Send(shuck.NewHealth()); err != nil {
		return "health unknown", nil
	}
	ev, err := awaitEvent(ctx, ls.sess, timeout, func(ev session.Event) bool {
		return ev.Kind == session.EventHealthy || ev.Kind == session.EventFault
	})
	switch {
	case err != nil:
		return "health unknown", nil
	case ev.Kind == session.EventFault:
		return ev.Err.Error(), nil
	default:
		return "healthy", nil
	}
}
