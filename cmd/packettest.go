// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuckctl/pkg/link"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	packetTestTimeout int
	packetTestPing    bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid Shuck packet",
	Long: `Wait for a valid Shuck packet on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any
complete Shuck frame. Bytes outside a frame are skipped until the sync
pattern is found. With --ping a PING is sent first so an idle logger
answers.

Exit codes:
  0 - Packet received before timeout
  1 - Timeout reached without receiving a valid packet
  2 - Connection error

Useful for testing connectivity to a logger or its WebSocket relay.`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&packetTestTimeout, "timeout", 10, "Timeout in seconds to wait for a packet")
	packetTestCmd.Flags().BoolVar(&packetTestPing, "ping", false, "Send a PING before waiting")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	conn, connInfo, err := OpenConnection(ctx, cfg.Link)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Shuckctl - Packet Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", packetTestTimeout)
	fmt.Printf("Waiting for valid Shuck packet...\n\n")

	if packetTestPing {
		// A PING frame is 7 bytes and always fits in one write
		if _, err := conn.Write(shuck.MustEncodePacket(shuck.NewPing())); err != nil {
			fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
			os.Exit(2)
		}
	}

	decoder := newDecoder()
	packetChan := make(chan shuck.Packet, 1)
	errChan := make(chan error, 1)

	go func() {
		err := link.Pump(ctx, conn, decoder, func() {
			if packet, ok := decoder.TakePacket(); ok {
				if d := decoder.Discarded(); d > 0 {
					fmt.Printf("(skipped %d invalid bytes before sync)\n", d)
				}
				select {
				case packetChan <- packet:
				default:
				}
			}
		})
		if err == nil {
			err = link.ErrConnectionClosed
		}
		errChan <- err
	}()

	select {
	case packet := <-packetChan:
		fmt.Printf("SUCCESS: Received valid packet\n")
		fmt.Printf("  Type: %s (0x%02X)\n", shuck.FormatMessageType(packet.ID), packet.ID)
		fmt.Printf("  Length: %d bytes\n", packet.Length())
		if len(packet.Data) > 0 {
			fmt.Printf("  Data: %s\n", shuck.HexString(packet.Data))
		}
		os.Exit(0)

	case err := <-errChan:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		os.Exit(2)

	case <-time.After(time.Duration(packetTestTimeout) * time.Second):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No valid packet received within %d seconds\n", packetTestTimeout)
		os.Exit(1)
	}

	return nil
}
