// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/link"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw packet log in human-readable format",
	Long: `Continuously decode and display Shuck protocol packets as they arrive.

Each packet is shown with timestamp, message type, and decoded payload data.
Bytes skipped while hunting for the sync pattern are reported as they are
dropped.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
}

func runRawLog(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx, cfg.Link)
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Shuckctl - Raw Packet Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := newDecoder()
	var reported uint64
	err = link.Pump(ctx, conn, decoder, func() {
		if d := decoder.Discarded(); d > reported {
			fmt.Printf("[RESYNC] skipped %d bytes\n", d-reported)
			reported = d
		}
		for _, packet := range decoder.Drain() {
			fmt.Print(shuck.FormatPacket(packet))
		}
	})
	if err != nil {
		return err
	}
	logger.Info("connection closed", zap.String("connection", connInfo))
	return nil
}

// newDecoder builds a frame decoder honouring the link sync setting
func newDecoder() *shuck.Decoder {
	if cfg.Link.StrictSync {
		return shuck.NewDecoder(shuck.WithStrictResync())
	}
	return shuck.NewDecoder()
}
