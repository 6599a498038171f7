// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/collector"
	"github.com/Thermoquad/shuckctl/pkg/metrics"
	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var (
	bridgePoll    time.Duration
	bridgeLabels  []string
	bridgeMetrics bool
)

const (
	minBackoff = 1 * time.Second
	maxBackoff = 30 * time.Second
)

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Forward logger batches to the collection server",
	Long: `Run a long-lived bridge between a logger and the collection server.

Every BATCH_DATA received on the link is posted to the collector, one request
at a time in arrival order. With --poll the bridge periodically requests new
measurements for each label, starting from the time it was launched.

The link is reopened with exponential backoff (1s up to 30s) when it drops.
Prometheus metrics are served on --metrics-addr when enabled.`,
	Example: `  shuckctl bridge --port /dev/ttyUSB0 --poll 15m --metrics
  SHUCK_COLLECTOR_ENDPOINT=http://collector:1337/newMeasurement shuckctl bridge --url ws://relay/shuck`,
	RunE: runBridge,
}

func init() {
	rootCmd.AddCommand(bridgeCmd)
	bridgeCmd.Flags().DurationVar(&bridgePoll, "poll", 0, "Request new data this often (0 disables polling)")
	bridgeCmd.Flags().StringSliceVar(&bridgeLabels, "labels", shuck.Labels, "Labels requested when polling")
	bridgeCmd.Flags().BoolVar(&bridgeMetrics, "metrics", false, "Serve Prometheus metrics")
	bridgeCmd.Flags().String("metrics-addr", ":9464", "Metrics listen address")
	addCollectorFlags(bridgeCmd)
}

// bridge keeps one logger link forwarding into a shared queue
type bridge struct {
	queue   *collector.Queue
	metrics *metrics.Metrics
	logger  *zap.Logger
	since   time.Time
}

func runBridge(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if bridgeMetrics || cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		m := metrics.New(reg)
		srv := serveMetrics(cfg.Metrics.Addr, cfg.Metrics.Path, reg)
		defer srv.Close()
		return runBridgeWith(ctx, m)
	}
	return runBridgeWith(ctx, nil)
}

func runBridgeWith(ctx context.Context, m *metrics.Metrics) error {
	q, err := newQueue(ctx, cfg.Collector, m)
	if err != nil {
		return err
	}

	b := &bridge{
		queue:   q,
		metrics: m,
		logger:  logger.Named("bridge"),
		since:   time.Now(),
	}

	fmt.Printf("Shuckctl - Bridge\n")
	fmt.Printf("Collector: %s %s (%s)\n", cfg.Collector.Method, cfg.Collector.Endpoint, cfg.Collector.Format)
	if bridgePoll > 0 {
		fmt.Printf("Polling: %v for %v\n", bridgePoll, bridgeLabels)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	backoff := minBackoff
	for {
		connected, err := b.runLink(ctx)
		if ctx.Err() != nil {
			break
		}
		if connected {
			backoff = minBackoff
		}
		b.logger.Warn("link lost", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if ctx.Err() != nil {
			break
		}
		backoff = min(backoff*2, maxBackoff)
	}

	// Give deliveries already in flight a chance to finish
	drainQueue(q, cfg.Collector.Timeout, b.logger)
	b.logger.Info("bridge stopped", zap.Uint64("delivered", q.Delivered()), zap.Uint64("failed", q.Failed()))
	return nil
}

// runLink serves one connection until it fails. connected reports whether
// the link was opened at all.
func (b *bridge) runLink(ctx context.Context) (connected bool, err error) {
	ls, err := openSession(ctx, sessionConfig(cfg.Collector.Enable), b.queue, b.metrics)
	if err != nil {
		return false, err
	}
	defer ls.Close()
	b.logger.Info("link up", zap.String("connection", ls.info))

	pumpErr := make(chan error, 1)
	go func() {
		pumpErr <- ls.pump(ctx)
	}()

	var poll <-chan time.Time
	if bridgePoll > 0 {
		ticker := time.NewTicker(bridgePoll)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case ev := <-ls.sess.Events():
			b.logEvent(ev)

		case now := <-poll:
			b.requestSince(ls.sess, now)

		case err := <-pumpErr:
			if err == nil {
				err = errors.New("connection closed")
			}
			return true, err

		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// requestSince asks for every label recorded since the previous poll
func (b *bridge) requestSince(s *session.Session, now time.Time) {
	for _, label := range bridgeLabels {
		packet, err := shuck.NewDataRequest(b.since, now, label)
		if err != nil {
			b.logger.Warn("bad poll label", zap.String("label", label), zap.Error(err))
			continue
		}
		if err := s.Send(packet); err != nil {
			b.logger.Warn("poll request not sent", zap.String("label", label), zap.Error(err))
			return
		}
	}
	b.since = now
}

func (b *bridge) logEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventBatch:
		// Logged by the session when forwarded
	case session.EventFault, session.EventMalformed:
		b.logger.Warn("logger event", zap.Stringer("kind", ev.Kind), zap.Error(ev.Err))
	case session.EventReading:
		r := ev.Reading
		b.logger.Info("current reading",
			zap.Uint8("sensor", r.SensorID),
			zap.Float32("ph", r.PH),
			zap.Float32("temperature", r.Temperature),
			zap.Float32("salinity", r.Salinity),
			zap.Float32("conductivity", r.Conductivity))
	default:
		b.logger.Debug("logger event", zap.Stringer("kind", ev.Kind), zap.Stringer("type", ev.Packet.Type()))
	}
}

// serveMetrics starts the Prometheus endpoint in the background
func serveMetrics(addr, path string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, metrics.Handler(reg))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", zap.Error(err))
		}
	}()
	logger.Info("metrics listening", zap.String("addr", addr), zap.String("path", path))
	return srv
}
