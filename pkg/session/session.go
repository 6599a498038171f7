// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package session ties one logger link together: bytes from the link are
// decoded and dispatched, measurement batches are forwarded to the
// collector, and outgoing commands are fragmented onto the link.
package session

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/collector"
	"github.com/Thermoquad/shuckctl/pkg/link"
	"github.com/Thermoquad/shuckctl/pkg/metrics"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// DefaultEventBuffer is the Events channel capacity when none is configured
const DefaultEventBuffer = 64

// Config controls dispatch
type Config struct {
	// Forward sends decoded batches to the collector queue
	Forward bool
	// Endpoint and Method address the collection server
	Endpoint string
	Method   string
	// PerEntry sends one request per entry instead of one per batch
	PerEntry bool
	// EventBuffer is the Events channel capacity
	EventBuffer int
}

// EventKind classifies session events
type EventKind int

const (
	EventPing EventKind = iota
	EventHealthy
	EventFault
	EventConfigAck
	EventReading
	EventBatch
	EventMalformed
	EventUnknown
)

func (k EventKind) String() string {
	switch k {
	case EventPing:
		return "ping"
	case EventHealthy:
		return "healthy"
	case EventFault:
		return "fault"
	case EventConfigAck:
		return "config_ack"
	case EventReading:
		return "reading"
	case EventBatch:
		return "batch"
	case EventMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Event is one dispatched packet
type Event struct {
	Kind    EventKind
	Time    time.Time
	Packet  shuck.Packet
	Batch   *shuck.Batch
	Reading *shuck.CurrentReading
	Err     error
}

// FaultError is carried by EventFault
type FaultError struct {
	Type shuck.PacketType
}

func (e *FaultError) Error() string {
	switch e.Type {
	case shuck.TypeRTCError:
		return "logger reports real-time clock fault"
	case shuck.TypeSDError:
		return "logger reports SD card fault"
	case shuck.TypeDeviceError:
		return "logger reports pH probe fault"
	default:
		return fmt.Sprintf("logger reports fault %s", e.Type)
	}
}

// Option configures a Session
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		s.logger = l
	}
}

// WithMetrics records packet and link metrics in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithDecoderOptions passes options to the frame decoder
func WithDecoderOptions(opts ...shuck.DecoderOption) Option {
	return func(s *Session) {
		s.decoderOpts = append(s.decoderOpts, opts...)
	}
}

// WithMaxWrite sets the initial link write ceiling
func WithMaxWrite(n int) Option {
	return func(s *Session) {
		s.maxWrite = n
	}
}

// Session owns the decoder and fragmenter for one link.
//
// HandleBytes must only be called from the goroutine reading the link.
// Send, WriteComplete and Stats are safe from any goroutine.
type Session struct {
	cfg         Config
	logger      *zap.Logger
	metrics     *metrics.Metrics
	decoderOpts []shuck.DecoderOption
	maxWrite    int

	dec    *shuck.Decoder
	frag   *link.Fragmenter
	queue  *collector.Queue
	events chan Event

	statsMu sync.Mutex
	stats   *shuck.Statistics
	dropped atomic.Uint64
}

// New creates a session writing through w. q may be nil when batches are
// not forwarded.
func New(cfg Config, w link.ChunkWriter, q *collector.Queue, opts ...Option) *Session {
	s := &Session{
		cfg:      cfg,
		logger:   zap.NewNop(),
		maxWrite: shuck.MaxWriteSize,
		queue:    q,
		stats:    shuck.NewStatistics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.Method == "" {
		s.cfg.Method = http.MethodPost
	}
	if s.cfg.Endpoint == "" {
		s.cfg.Endpoint = collector.DefaultEndpoint
	}
	if s.cfg.EventBuffer <= 0 {
		s.cfg.EventBuffer = DefaultEventBuffer
	}

	s.dec = shuck.NewDecoder(s.decoderOpts...)
	s.frag = link.NewFragmenter(w,
		link.WithMaxWrite(s.maxWrite),
		link.WithLogger(s.logger),
		link.WithMetrics(s.metrics))
	s.events = make(chan Event, s.cfg.EventBuffer)
	return s
}

// Events delivers dispatched packets. Events are dropped when the channel
// is full.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Fragmenter exposes the outbound link for MTU changes and flushing
func (s *Session) Fragmenter() *link.Fragmenter {
	return s.frag
}

// Write implements io.Writer so link.Pump can feed the session
func (s *Session) Write(p []byte) (int, error) {
	s.HandleBytes(p)
	return len(p), nil
}

// HandleBytes decodes a chunk from the link and dispatches every packet it
// completes, in arrival order
func (s *Session) HandleBytes(p []byte) {
	before := s.dec.Discarded()
	s.dec.Feed(p)
	if discarded := s.dec.Discarded() - before; discarded > 0 {
		s.metrics.AddDiscarded(int(discarded))
		s.statsMu.Lock()
		s.stats.AddDiscarded(discarded)
		s.statsMu.Unlock()
		s.logger.Debug("resync", zap.Uint64("discarded", discarded))
	}

	for {
		pkt, ok := s.dec.TakePacket()
		if !ok {
			return
		}
		s.dispatch(pkt)
	}
}

func (s *Session) dispatch(p shuck.Packet) {
	t := p.Type()
	s.metrics.ObservePacket(t.String())

	anomalies := shuck.ValidatePacket(p)
	s.statsMu.Lock()
	s.stats.Update(p, anomalies)
	s.statsMu.Unlock()
	for _, a := range anomalies {
		s.logger.Warn("packet anomaly",
			zap.Stringer("type", t),
			zap.Stringer("anomaly", a.Type),
			zap.String("detail", a.Message))
		if a.Type == shuck.AnomalyLengthMismatch || a.Type == shuck.AnomalyCountMismatch {
			s.metrics.ObserveMalformed(t.String())
		}
	}

	ev := Event{Time: p.Timestamp(), Packet: p}
	switch t {
	case shuck.TypePing:
		ev.Kind = EventPing
	case shuck.TypeHealth:
		ev.Kind = EventHealthy
	case shuck.TypeConfig:
		ev.Kind = EventConfigAck
	case shuck.TypeRTCError, shuck.TypeSDError, shuck.TypeDeviceError:
		ev.Kind = EventFault
		ev.Err = &FaultError{Type: t}
		s.logger.Warn("logger fault", zap.Stringer("type", t))
	case shuck.TypeCurrentReading:
		r, err := shuck.DecodeCurrentReading(p.Data)
		if err != nil {
			ev.Kind = EventMalformed
			ev.Err = err
			s.logger.Warn("dropping malformed reading", zap.Error(err))
			break
		}
		ev.Kind = EventReading
		ev.Reading = &r
	case shuck.TypeBatchData:
		b := shuck.DecodeBatch(p.Data)
		ev.Kind = EventBatch
		ev.Batch = &b
		s.forward(b)
	default:
		ev.Kind = EventUnknown
		s.logger.Debug("ignoring unknown packet", zap.Uint8("id", p.ID), zap.Int("bytes", len(p.Data)))
	}

	s.publish(ev)
}

// forward queues a batch for the collection server
func (s *Session) forward(b shuck.Batch) {
	s.logger.Info("batch received",
		zap.Uint8("sensor", b.SensorID),
		zap.String("label", b.Label),
		zap.Int("entries", len(b.Entries)),
		zap.Uint8("announced", b.Count))

	if !s.cfg.Forward || s.queue == nil || len(b.Entries) == 0 {
		return
	}
	reqs, err := collector.BatchRequests(s.cfg.Method, s.cfg.Endpoint, b, s.cfg.PerEntry)
	if err != nil {
		s.logger.Warn("batch not forwarded", zap.Uint8("sensor", b.SensorID), zap.Error(err))
		return
	}
	for _, req := range reqs {
		if err := s.queue.Enqueue(req); err != nil {
			s.logger.Warn("batch not forwarded", zap.Error(err))
			return
		}
	}
}

func (s *Session) publish(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
		s.metrics.EventDropped()
	}
}

// Dropped returns how many events were discarded because Events was full
func (s *Session) Dropped() uint64 {
	return s.dropped.Load()
}

// Send encodes p and queues it on the link. A link stalled by a failed
// write is resumed, so the failed chunk goes out again ahead of p.
func (s *Session) Send(p shuck.Packet) error {
	frame, err := shuck.EncodePacket(p)
	if err != nil {
		return err
	}
	s.logger.Debug("sending", zap.Stringer("type", p.Type()), zap.Int("bytes", len(frame)))
	if err := s.frag.Send(frame); err != nil {
		return err
	}
	if s.frag.Stalled() {
		s.logger.Info("retrying failed link write")
		s.frag.Resume()
	}
	return nil
}

// WriteComplete reports the outcome of the outstanding link write
func (s *Session) WriteComplete(err error) {
	s.frag.WriteComplete(err)
}

// Stats returns a snapshot of the packet statistics
func (s *Session) Stats() shuck.Statistics {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	snap := *s.stats
	snap.ByType = make(map[shuck.PacketType]uint64, len(s.stats.ByType))
	for k, v := range s.stats.ByType {
		snap.ByType[k] = v
	}
	snap.CalculateRates()
	return snap
}

// Close stops outbound traffic. HandleBytes must not be called afterwards.
func (s *Session) Close() {
	s.frag.Close()
}
