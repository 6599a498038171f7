// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuckctl/pkg/collector"
	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	requestFrom    string
	requestTo      string
	requestLabel   string
	requestTimeout int
	requestIdle    time.Duration
	requestForward bool
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Download stored measurements from the logger",
	Long: `Send a DATA request for one measurement label over a date range and print
the BATCH_DATA answers.

Labels: pH, tp (temperature), sa (salinity), co (conductivity).
Dates may be given as YYYY-MM-DD, RFC 3339 or unix seconds. The range is
reordered if --from is later than --to.

With --forward, every batch received is posted to the collection server
(see --endpoint, --format, --per-entry) and the command waits for the
deliveries before exiting.

Exit codes:
  0 - At least one batch received
  1 - No batch received before timeout, or a delivery failed
  2 - Connection error`,
	Example: `  shuckctl request --port /dev/ttyUSB0 --label tp --from 2024-05-01 --to 2024-05-31
  shuckctl request --url ws://relay.local/shuck --label pH --from 2024-05-01 --forward`,
	RunE: runRequest,
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVar(&requestFrom, "from", "", "Start of the range (default: 24 hours ago)")
	requestCmd.Flags().StringVar(&requestTo, "to", "", "End of the range (default: now)")
	requestCmd.Flags().StringVarP(&requestLabel, "label", "l", shuck.LabelPH, "Measurement label (pH, tp, sa, co)")
	requestCmd.Flags().IntVar(&requestTimeout, "timeout", 10, "Timeout in seconds for the first batch")
	requestCmd.Flags().DurationVar(&requestIdle, "idle", 2*time.Second, "Stop after this long without another batch")
	requestCmd.Flags().BoolVar(&requestForward, "forward", false, "Forward batches to the collection server")
	addCollectorFlags(requestCmd)
}

func runRequest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	now := time.Now()
	from, err := parseTime(requestFrom, now.Add(-24*time.Hour))
	if err != nil {
		return fmt.Errorf("--from: %w", err)
	}
	to, err := parseTime(requestTo, now)
	if err != nil {
		return fmt.Errorf("--to: %w", err)
	}
	packet, err := shuck.NewDataRequest(from, to, requestLabel)
	if err != nil {
		return err
	}
	if !slices.Contains(shuck.Labels, requestLabel) {
		logger.Sugar().Warnf("label %q is not one the logger is known to store", requestLabel)
	}

	var q *collector.Queue
	if requestForward {
		q, err = newQueue(ctx, cfg.Collector, nil)
		if err != nil {
			return err
		}
		defer q.Close()
	}

	ls, err := openSession(ctx, sessionConfig(requestForward), q, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer ls.Close()
	go ls.pump(ctx)

	req, _ := shuck.DecodeDataRequest(packet.Data)
	fmt.Printf("Shuckctl - Data Request\n")
	fmt.Printf("Connection: %s\n", ls.info)
	fmt.Printf("Label: %s, Range: %s .. %s\n\n", req.Label,
		req.From.Format(time.RFC3339), req.To.Format(time.RFC3339))

	if err := ls.sess.Send(packet); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}

	isBatch := func(ev session.Event) bool { return ev.Kind == session.EventBatch }

	batches, entries := 0, 0
	wait := time.Duration(requestTimeout) * time.Second
	for {
		ev, err := awaitEvent(ctx, ls.sess, wait, isBatch)
		if err != nil {
			if !errors.Is(err, errTimeout) {
				return err
			}
			break
		}
		batches++
		entries += len(ev.Batch.Entries)
		fmt.Printf("[%s] BATCH_DATA\n", ev.Time.Format("15:04:05.000"))
		fmt.Print(shuck.FormatBatch(*ev.Batch))
		if ev.Batch.Truncated() {
			fmt.Printf("  (truncated: %d of %d entries decoded)\n", len(ev.Batch.Entries), ev.Batch.Count)
		}
		wait = requestIdle
	}

	if batches == 0 {
		fmt.Fprintf(os.Stderr, "TIMEOUT: No batch received within %d seconds\n", requestTimeout)
		os.Exit(1)
	}
	fmt.Printf("\n%d batch(es), %d entries\n", batches, entries)

	if q != nil {
		waitCtx, cancel := context.WithTimeout(ctx, cfg.Collector.Timeout+5*time.Second)
		defer cancel()
		if err := q.Wait(waitCtx); err != nil {
			return fmt.Errorf("waiting for deliveries: %w", err)
		}
		fmt.Printf("Forwarded to %s: %d delivered, %d failed\n", cfg.Collector.Endpoint, q.Delivered(), q.Failed())
		if q.Failed() > 0 {
			os.Exit(1)
		}
	}
	return nil
}

// parseTime accepts YYYY-MM-DD, RFC 3339 or unix seconds. Empty input
// yields def.
func parseTime(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 32); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date, RFC 3339 time or unix seconds", s)
}
