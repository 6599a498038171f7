// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
	"github.com/Thermoquad/shuckctl/pkg/simulator"
)

var (
	simAddr       string
	simSensor     uint8
	simDays       int
	simStep       time.Duration
	simNotifySize int
	simReadings   time.Duration
	simFault      string
	simUsername   string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated logger on a WebSocket listener",
	Long: `Serve a simulated Shuck logger for bench testing.

The simulator answers PING, HEALTH, CONFIG and DATA requests from a store of
synthetic measurements covering the last --days days. Outgoing frames are
split into --notify-size messages to imitate BLE notifications.

Point any other command at it with --url ws://localhost:8765/.

If --sim-username is set, the password is read from SHUCK_PASSWORD or
prompted for, and clients must authenticate with HTTP Basic auth.`,
	Example: `  shuckctl simulate --listen :8765 --readings 5s
  shuckctl simulate --fault sd   # HEALTH answers SD_ERROR`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	f := simulateCmd.Flags()
	f.StringVar(&simAddr, "listen", ":8765", "Listen address")
	f.Uint8Var(&simSensor, "sensor", 4, "Sensor id reported by the simulated logger")
	f.IntVar(&simDays, "days", 7, "Days of synthetic history to generate")
	f.DurationVar(&simStep, "step", 15*time.Minute, "Interval between synthetic samples")
	f.IntVar(&simNotifySize, "notify-size", simulator.DefaultNotifySize, "Largest message sent to the controller")
	f.DurationVar(&simReadings, "readings", 0, "Push CURRENT_READING this often (0 disables)")
	f.StringVar(&simFault, "fault", "", "Fault reported on HEALTH (rtc, sd, device)")
	f.StringVar(&simUsername, "sim-username", "", "Require HTTP Basic auth with this username")
}

func runSimulate(cmd *cobra.Command, args []string) error {
	devOpts := []simulator.Option{simulator.WithLogger(logger.Named("device"))}
	if simFault != "" {
		t, err := parseFault(simFault)
		if err != nil {
			return err
		}
		devOpts = append(devOpts, simulator.WithFault(t))
	}
	dev := simulator.NewDevice(simSensor, devOpts...)

	now := time.Now()
	dev.Generate(now.AddDate(0, 0, -simDays), now, simStep, rand.New(rand.NewSource(now.UnixNano())))

	srvOpts := []simulator.ServerOption{
		simulator.WithServerLogger(logger.Named("simulator")),
		simulator.WithNotifySize(simNotifySize),
		simulator.WithReadingInterval(simReadings),
	}
	if simUsername != "" {
		password, err := GetPassword()
		if err != nil {
			return err
		}
		srvOpts = append(srvOpts, simulator.WithBasicAuth(simUsername, password))
	}

	fmt.Printf("Shuckctl - Simulated Logger\n")
	fmt.Printf("Listening: %s\n", simAddr)
	fmt.Printf("Sensor: %d, History: %d days every %v\n", simSensor, simDays, simStep)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	logger.Info("simulator starting", zap.String("addr", simAddr), zap.Int("notify_size", simNotifySize))
	return simulator.NewServer(dev, srvOpts...).Run(cmd.Context(), simAddr)
}

func parseFault(name string) (shuck.PacketType, error) {
	switch name {
	case "rtc":
		return shuck.TypeRTCError, nil
	case "sd":
		return shuck.TypeSDError, nil
	case "device", "probe":
		return shuck.TypeDeviceError, nil
	default:
		return 0, fmt.Errorf("unknown fault %q (use rtc, sd or device)", name)
	}
}
