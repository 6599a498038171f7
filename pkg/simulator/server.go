// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"context"
	"crypto/subtle"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// DefaultNotifySize matches the payload of a BLE notification at the
// default ATT MTU
const DefaultNotifySize = shuck.MaxWriteSize

const sendBuffer = 64

// ServerOption configures a Server
type ServerOption func(*Server)

// WithNotifySize sets the largest binary message the server sends
func WithNotifySize(n int) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.notifySize = n
		}
	}
}

// WithReadingInterval pushes a CURRENT_READING to every client this often
func WithReadingInterval(d time.Duration) ServerOption {
	return func(s *Server) {
		s.readingEvery = d
	}
}

// WithBasicAuth requires HTTP Basic credentials on upgrade
func WithBasicAuth(username, password string) ServerOption {
	return func(s *Server) {
		s.username = username
		s.password = password
	}
}

// WithServerLogger sets the logger
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = l
	}
}

// Server exposes a Device on a WebSocket the way a serial-to-WebSocket
// relay would: binary messages carry raw link bytes in both directions.
type Server struct {
	dev          *Device
	logger       *zap.Logger
	notifySize   int
	readingEvery time.Duration
	username     string
	password     string
	upgrader     websocket.Upgrader
}

// NewServer creates a server for dev
func NewServer(dev *Device, opts ...ServerOption) *Server {
	s := &Server{
		dev:        dev,
		logger:     zap.NewNop(),
		notifySize: DefaultNotifySize,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run listens on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpServer.Shutdown(shutdownCtx)
		cancel()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ServeHTTP upgrades the request and serves one controller
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.username != "" && !s.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="shuck"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	s.logger.Info("controller connected", zap.String("remote", r.RemoteAddr))

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go c.writeLoop()
	if s.readingEvery > 0 {
		go s.readingLoop(c)
	}
	s.readLoop(c)
	c.close()
	s.logger.Info("controller disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Server) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	return ok &&
		subtle.ConstantTimeCompare([]byte(user), []byte(s.username)) == 1 &&
		subtle.ConstantTimeCompare([]byte(pass), []byte(s.password)) == 1
}

func (s *Server) readLoop(c *client) {
	dec := shuck.NewDecoder()
	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		dec.Feed(data)
		for {
			p, ok := dec.TakePacket()
			if !ok {
				break
			}
			s.logger.Debug("received", zap.Stringer("type", p.Type()), zap.Int("bytes", len(p.Data)))
			for _, resp := range s.dev.Handle(p) {
				if !s.sendPacket(c, resp) {
					return
				}
			}
		}
	}
}

func (s *Server) readingLoop(c *client) {
	ticker := time.NewTicker(s.readingEvery)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if !s.sendPacket(c, s.dev.Reading(rng)) {
				return
			}
		}
	}
}

// sendPacket queues p as notification-sized messages. Each frame stays
// contiguous on the wire.
func (s *Server) sendPacket(c *client, p shuck.Packet) bool {
	frame, err := shuck.EncodePacket(p)
	if err != nil {
		s.logger.Warn("cannot encode response", zap.Error(err))
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for off := 0; off < len(frame); off += s.notifySize {
		end := min(off+s.notifySize, len(frame))
		if !c.queue(frame[off:end]) {
			return false
		}
	}
	return true
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once

	// Serializes whole frames onto send
	mu sync.Mutex
}

func (c *client) queue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			if err := c.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
