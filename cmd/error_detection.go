// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	showAll       bool
	statsInterval int
)

var errorDetectionCmd = &cobra.Command{
	Use:   "error_detection",
	Short: "Detect and analyze malformed packets and errors",
	Long: `Track malformed packets, resync losses, and anomalous readings with statistics.

This command validates each packet and detects:
  - Bytes discarded while hunting for the sync pattern
  - Malformed packets (short readings, batch count mismatches, missing labels)
  - Anomalous readings (pH outside 0-14, water temperature outside -5..50C)
  - Logger faults (RTC, SD card, probe)
  - Statistics and trends (packet rate, error rate, success rate)

By default, only errors are displayed. Use --show-all to display valid packets too.`,
	RunE: runErrorDetection,
}

func init() {
	rootCmd.AddCommand(errorDetectionCmd)
	errorDetectionCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all packets (not just errors)")
	errorDetectionCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
}

func runErrorDetection(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ls, err := openSession(ctx, sessionConfig(false), nil, nil)
	if err != nil {
		return err
	}
	defer ls.Close()

	fmt.Printf("Shuckctl - Error Detection Mode\n")
	fmt.Printf("Connection: %s\n", ls.info)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All packets\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- ls.pump(ctx)
	}()

	synchronized := false
	for {
		select {
		case ev := <-ls.sess.Events():
			if !synchronized {
				synchronized = true
				if d := ls.sess.Stats().DiscardedBytes; d > 0 {
					fmt.Printf("[SYNC] Synchronized after skipping %d invalid bytes\n\n", d)
				} else {
					fmt.Printf("[SYNC] Synchronized\n\n")
				}
			}
			printEvent(ev)

		case <-statsTicker.C:
			fmt.Println()
			stats := ls.sess.Stats()
			fmt.Print(stats.String())
			fmt.Println()

		case <-ctx.Done():
			fmt.Println()
			stats := ls.sess.Stats()
			fmt.Print(stats.String())
			return nil

		case err := <-pumpErr:
			fmt.Println()
			stats := ls.sess.Stats()
			fmt.Print(stats.String())
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		}
	}
}

// printEvent prints an event, highlighting faults and validation errors
func printEvent(ev session.Event) {
	timestamp := ev.Time.Format("15:04:05.000")

	switch ev.Kind {
	case session.EventFault:
		fmt.Printf("[%s] \033[1;31mFAULT:\033[0m %v\n\n", timestamp, ev.Err)
		return
	case session.EventMalformed:
		fmt.Printf("[%s] \033[1;31mMALFORMED:\033[0m %s: %v\n", timestamp, ev.Packet.Type(), ev.Err)
		fmt.Printf("  %s\n", shuck.HexString(ev.Packet.Data))
		fmt.Printf("  >>> PACKET REJECTED <<<\n\n")
		return
	case session.EventPing:
		// Always print pings so round trips are visible
		fmt.Printf("[%s] \033[1;32mPING\033[0m\n\n", timestamp)
		return
	}

	if errs := shuck.ValidatePacket(ev.Packet); len(errs) > 0 {
		printValidationErrors(ev.Packet, errs)
		return
	}
	if showAll {
		fmt.Print(shuck.FormatPacket(ev.Packet))
	}
}

// printValidationErrors prints validation errors for a packet
func printValidationErrors(packet shuck.Packet, errors []shuck.ValidationError) {
	timestamp := packet.Timestamp().Format("15:04:05.000")

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X)\n", timestamp, shuck.FormatMessageType(packet.ID), packet.ID)

	for i, err := range errors {
		switch err.Type {
		case shuck.AnomalyLengthMismatch, shuck.AnomalyCountMismatch, shuck.AnomalyUnknownType:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
		default:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
		}
	}

	if packet.Type() == shuck.TypeBatchData {
		b := shuck.DecodeBatch(packet.Data)
		fmt.Printf("  Sensor: %d, Label: %s, Entries: %d/%d\n", b.SensorID, b.Label, len(b.Entries), b.Count)
	}
	fmt.Printf("  >>> PACKET FLAGGED <<<\n\n")
}
