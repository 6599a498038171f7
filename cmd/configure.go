// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	configureTimeout int
	configurePeriod  time.Duration
	calibration      shuck.Calibration
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Send a CONFIG packet to the logger",
	Long: `Send CONFIG packets that set the logger clock together with either the
sampling period or the probe calibration standards.

Every CONFIG carries the current time, so the logger clock is synchronized
whenever it is configured. The logger echoes CONFIG on success.

Exit codes:
  0 - Logger acknowledged the configuration
  1 - Logger reported a fault or did not answer
  2 - Connection error`,
}

var configurePeriodCmd = &cobra.Command{
	Use:   "period",
	Short: "Set the clock and sampling period",
	Example: `  shuckctl configure period --port /dev/ttyUSB0 --every 15m
  shuckctl configure period --url ws://relay.local/shuck --every 1h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		packet, err := shuck.NewPeriodConfig(time.Now(), configurePeriod)
		if err != nil {
			return err
		}
		return sendConfig(cmd, packet)
	},
}

var configureCalibrateCmd = &cobra.Command{
	Use:   "calibrate",
	Short: "Set the clock and probe calibration standards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendConfig(cmd, shuck.NewCalibrationConfig(time.Now(), calibration))
	},
}

func init() {
	rootCmd.AddCommand(configureCmd)
	configureCmd.AddCommand(configurePeriodCmd, configureCalibrateCmd)
	configureCmd.PersistentFlags().IntVar(&configureTimeout, "timeout", 5, "Timeout in seconds to wait for the acknowledgement")

	configurePeriodCmd.Flags().DurationVar(&configurePeriod, "every", 15*time.Minute, "Sampling period (whole seconds)")

	f := configureCalibrateCmd.Flags()
	f.Float32Var(&calibration.Temperature, "temp", 25, "Standard solution temperature (C)")
	f.Float32Var(&calibration.PHLow, "ph-low", 4.01, "Low pH standard")
	f.Float32Var(&calibration.PHHigh, "ph-high", 7.00, "High pH standard")
	f.Float32Var(&calibration.ConductivityLow, "co-low", 1413, "Low conductivity standard (uS/cm)")
	f.Float32Var(&calibration.ConductivityHigh, "co-high", 12880, "High conductivity standard (uS/cm)")
}

func sendConfig(cmd *cobra.Command, packet shuck.Packet) error {
	ctx := cmd.Context()
	ls, err := openSession(ctx, sessionConfig(false), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer ls.Close()
	go ls.pump(ctx)

	fmt.Printf("Shuckctl - Configure\n")
	fmt.Printf("Connection: %s\n", ls.info)
	if req, err := shuck.DecodeConfig(packet.Data); err == nil {
		fmt.Print(shuck.FormatConfig(req))
	}
	fmt.Println()

	if err := ls.sess.Send(packet); err != nil {
		fmt.Fprintf(os.Stderr, "Send error: %v\n", err)
		os.Exit(2)
	}
	logger.Debug("config sent", zap.String("frame", shuck.HexString(shuck.MustEncodePacket(packet))))

	ev, err := awaitEvent(ctx, ls.sess, time.Duration(configureTimeout)*time.Second, func(ev session.Event) bool {
		return ev.Kind == session.EventConfigAck || ev.Kind == session.EventFault
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "No acknowledgement: %v\n", err)
		os.Exit(1)
	}
	if ev.Kind == session.EventFault {
		fmt.Printf("REJECTED: %v\n", ev.Err)
		os.Exit(1)
	}
	fmt.Printf("OK: configuration acknowledged\n")
	return nil
}
