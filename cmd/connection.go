// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/Thermoquad/shuckctl/pkg/collector"
	"github.com/Thermoquad/shuckctl/pkg/config"
	"github.com/Thermoquad/shuckctl/pkg/link"
	"github.com/Thermoquad/shuckctl/pkg/metrics"
	"github.com/Thermoquad/shuckctl/pkg/session"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// PasswordEnv holds the WebSocket basic auth password
const PasswordEnv = "SHUCK_PASSWORD"

// passwordCache keeps a prompted password for reconnects, which happen
// while the monitor TUI owns the terminal
var passwordCache struct {
	sync.Mutex
	value string
	ok    bool
}

// passwordPrompt reads the password from the terminal
var passwordPrompt = promptPassword

// GetPassword retrieves password from environment or prompts user. A
// prompted password is remembered for the life of the process.
func GetPassword() (string, error) {
	if pw := os.Getenv(PasswordEnv); pw != "" {
		return pw, nil
	}

	passwordCache.Lock()
	defer passwordCache.Unlock()
	if passwordCache.ok {
		return passwordCache.value, nil
	}
	pw, err := passwordPrompt()
	if err != nil {
		return "", err
	}
	passwordCache.value, passwordCache.ok = pw, true
	return pw, nil
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "Password: ")

	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Not a terminal, read a plain line instead
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr)
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr)
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on the
// link configuration
func OpenConnection(ctx context.Context, lc config.LinkConfig) (link.Connection, string, error) {
	if lc.URL != "" {
		password := ""
		if lc.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := link.OpenWebSocket(ctx, lc.URL, lc.Username, password, lc.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("WebSocket: %s", lc.URL), nil
	}

	if lc.Port != "" {
		conn, err := link.OpenSerial(lc.Port, lc.Baud)
		if err != nil {
			return nil, "", err
		}
		return conn, fmt.Sprintf("Serial: %s @ %d baud", lc.Port, lc.Baud), nil
	}

	ports, _ := link.ListSerialPorts()
	if len(ports) > 0 {
		return nil, "", fmt.Errorf("either --port or --url must be specified (serial ports: %s)", strings.Join(ports, ", "))
	}
	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// newQueue builds a collector queue delivering over HTTP as configured.
// Deliveries outlive ctx so a shutdown drain can finish them; the client
// timeout bounds each one.
func newQueue(ctx context.Context, cc config.CollectorConfig, m *metrics.Metrics) (*collector.Queue, error) {
	codec, err := collector.CodecFor(cc.Format)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: cc.Timeout}
	d := collector.NewHTTPDeliverer(client, collector.WithCodec(codec))
	return collector.NewQueue(d,
		collector.WithLogger(logger.Named("collector")),
		collector.WithMetrics(m),
		collector.WithContext(context.WithoutCancel(ctx))), nil
}

// drainQueue gives queued and in-flight deliveries up to timeout to finish,
// then closes q
func drainQueue(q *collector.Queue, timeout time.Duration, l *zap.Logger) {
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := q.Wait(drainCtx); err != nil {
		l.Warn("undelivered requests dropped", zap.Int("pending", q.Len()))
	}
	q.Close()
}

// linkSession is an open connection with a session driving it
type linkSession struct {
	conn   link.Connection
	info   string
	sess   *session.Session
	writer *link.StreamWriter
}

// openSession connects to the logger and wires a session onto the link.
// q may be nil when batches are not forwarded.
func openSession(ctx context.Context, sc session.Config, q *collector.Queue, m *metrics.Metrics) (*linkSession, error) {
	conn, info, err := OpenConnection(ctx, cfg.Link)
	if err != nil {
		return nil, err
	}
	return attachSession(conn, info, sc, q, m), nil
}

// attachSession wires a session onto an already open connection
func attachSession(conn link.Connection, info string, sc session.Config, q *collector.Queue, m *metrics.Metrics) *linkSession {
	opts := []session.Option{
		session.WithLogger(logger.Named("session")),
		session.WithMetrics(m),
		session.WithMaxWrite(cfg.Link.MaxWrite),
	}
	if cfg.Link.StrictSync {
		opts = append(opts, session.WithDecoderOptions(shuck.WithStrictResync()))
	}

	ls := &linkSession{conn: conn, info: info}
	// The writer reports completions to the session created below; no chunk
	// can be submitted before New returns.
	ls.writer = link.NewStreamWriter(conn, func(err error) {
		ls.sess.WriteComplete(err)
	})
	ls.sess = session.New(sc, ls.writer, q, opts...)

	logger.Info("link open", zap.String("connection", info), zap.Int("max_write", ls.sess.Fragmenter().MaxWrite()))
	return ls
}

// pump feeds the session until the link closes or ctx is done
func (ls *linkSession) pump(ctx context.Context) error {
	return link.Pump(ctx, ls.conn, ls.sess, nil)
}

// Close stops the session and releases the connection
func (ls *linkSession) Close() {
	ls.sess.Close()
	ls.conn.Close()
	ls.writer.Close()
}

// sessionConfig builds the dispatch settings from the loaded configuration
func sessionConfig(forward bool) session.Config {
	return session.Config{
		Forward:  forward,
		Endpoint: cfg.Collector.Endpoint,
		Method:   cfg.Collector.Method,
		PerEntry: cfg.Collector.PerEntry,
	}
}
