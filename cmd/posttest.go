// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/shuckctl/pkg/collector"
)

var postTestSensor uint8

var postTestCmd = &cobra.Command{
	Use:   "post_test",
	Short: "Post a test measurement to the collection server",
	Long: `Post the fixed connectivity measurement {"sensorID": N, "test": 69, "date": now}
to the collection server. No logger connection is needed.

Exit codes:
  0 - Server accepted the measurement
  1 - Server rejected it or could not be reached`,
	RunE: runPostTest,
}

func init() {
	rootCmd.AddCommand(postTestCmd)
	postTestCmd.Flags().Uint8Var(&postTestSensor, "sensor", 4, "Sensor id to report")
	addCollectorFlags(postTestCmd)
}

func runPostTest(cmd *cobra.Command, args []string) error {
	cc := cfg.Collector
	codec, err := collector.CodecFor(cc.Format)
	if err != nil {
		return err
	}
	d := collector.NewHTTPDeliverer(&http.Client{Timeout: cc.Timeout}, collector.WithCodec(codec))

	fmt.Printf("Shuckctl - Collector Post Test\n")
	fmt.Printf("Endpoint: %s %s (%s)\n\n", cc.Method, cc.Endpoint, codec.ContentType())

	req := collector.NewRequest(cc.Method, cc.Endpoint, collector.ConnectivityPayload(postTestSensor, time.Now()))
	start := time.Now()
	if err := d.Do(cmd.Context(), req); err != nil {
		fmt.Fprintf(os.Stderr, "FAILED: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("SUCCESS: accepted in %v (request %s)\n", time.Since(start).Round(time.Millisecond), req.ID)
	return nil
}
