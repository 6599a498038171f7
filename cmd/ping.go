// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	pingTimeout int
	pingCount   int
)

// errTimeout is returned by awaitEvent when no matching event arrives
var errTimeout = errors.New("timeout")

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Test the link by sending PING to the logger",
	Long: `Send PING packets to the logger and wait for the echoed PING.

This command tests bidirectional communication with the logger, either on a
serial line or through a WebSocket relay.

This is useful for verifying:
  - The connection is established
  - HTTP Basic authentication works (WebSocket)
  - The logger is processing packets
  - Bidirectional packet flow works

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := openSession(ctx, sessionConfig(false), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer ls.Close()
	go ls.pump(ctx)

	fmt.Printf("Shuckctl - Ping Test\n")
	fmt.Printf("Connection: %s\n", ls.info)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	successCount := 0
	failCount := 0
	var totalRTT time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		startTime := time.Now()
		if err := ls.sess.Send(shuck.NewPing()); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		_, err := awaitEvent(ctx, ls.sess, time.Duration(pingTimeout)*time.Second, func(ev session.Event) bool {
			return ev.Kind == session.EventPing
		})
		switch {
		case err == nil:
			rtt := time.Since(startTime)
			totalRTT += rtt
			fmt.Printf("PONG from logger, rtt=%v\n", rtt.Round(time.Millisecond))
			successCount++
		case errors.Is(err, errTimeout):
			fmt.Printf("TIMEOUT (no response in %ds)\n", pingTimeout)
			failCount++
		default:
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d responses received, %.0f%% packet loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("average rtt=%v\n", (totalRTT / time.Duration(successCount)).Round(time.Millisecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}

// awaitEvent waits for the first event accepted by match, skipping others
func awaitEvent(ctx context.Context, s *session.Session, timeout time.Duration, match func(session.Event) bool) (session.Event, error) {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.Events():
			if match(ev) {
				return ev, nil
			}
		case <-deadline:
			return session.Event{}, errTimeout
		case <-ctx.Done():
			return session.Event{}, ctx.Err()
		}
	}
}
