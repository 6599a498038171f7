// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var healthTimeout int

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Ask the logger to check its peripherals",
	Long: `Send HEALTH and report the logger's answer.

The logger replies with HEALTH when the real-time clock, SD card and probe
all check out, or with RTC_ERROR, SD_ERROR or DEVICE_ERROR naming the
failing peripheral.

Exit codes:
  0 - Logger is healthy
  1 - Logger reported a fault or did not answer
  2 - Connection error`,
	RunE: runHealth,
}

func init() {
	rootCmd.AddCommand(healthCmd)
	healthCmd.Flags().IntVar(&healthTimeout, "timeout", 5, "Timeout in seconds to wait for the answer")
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := openSession(ctx, sessionConfig(false), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer ls.Close()
	go ls.pump(ctx)

	fmt.Printf("Shuckctl - Health Check\n")
	fmt.Printf("Connection: %s\n\n", ls.info)

	if err := ls.sess.Send(shuck.NewHealth()); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}

	ev, err := awaitEvent(ctx, ls.sess, time.Duration(healthTimeout)*time.Second, func(ev session.Event) bool {
		return ev.Kind == session.EventHealthy || ev.Kind == session.EventFault
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "No answer: %v\n", err)
		os.Exit(1)
	}

	if ev.Kind == session.EventFault {
		fmt.Printf("NOT HEALTHY: %v\n", ev.Err)
		os.Exit(1)
	}
	fmt.Printf("HEALTHY: real-time clock, SD card and probe OK\n")
	return nil
}
