// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package link moves encoded frames across the BLE UART bridge.
//
// The bridge accepts at most one outstanding write of a bounded size, so a
// Fragmenter splits frames into chunks and releases them one at a time as
// the previous write completes. Connections and the read pump live here
// too.
package link

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/metrics"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// ErrClosed is returned by a Fragmenter or StreamWriter after Close
var ErrClosed = errors.New("link closed")

// ChunkWriter submits one write to the link. It returns once the write is
// accepted, not when it completes; the outcome is reported later through
// Fragmenter.WriteComplete. An error means the write was never started.
type ChunkWriter interface {
	SubmitWrite(chunk []byte) error
}

// ChunkWriterFunc adapts a function to ChunkWriter
type ChunkWriterFunc func(chunk []byte) error

// SubmitWrite calls f(chunk)
func (f ChunkWriterFunc) SubmitWrite(chunk []byte) error {
	return f(chunk)
}

// MaxWriteForMTU returns the write ceiling for a negotiated ATT MTU
func MaxWriteForMTU(mtu int) int {
	if mtu > shuck.MaxATTMTU {
		mtu = shuck.MaxATTMTU
	}
	if n := mtu - shuck.ATTHeaderLength; n > shuck.MaxWriteSize {
		return n
	}
	return shuck.MaxWriteSize
}

// FragmenterOption configures a Fragmenter
type FragmenterOption func(*Fragmenter)

// WithMaxWrite sets the chunk size ceiling. Values below
// shuck.MaxWriteSize are raised to it.
func WithMaxWrite(n int) FragmenterOption {
	return func(f *Fragmenter) {
		f.maxWrite = clampWrite(n)
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) FragmenterOption {
	return func(f *Fragmenter) {
		f.logger = l
	}
}

// WithMetrics records chunk outcomes in m
func WithMetrics(m *metrics.Metrics) FragmenterOption {
	return func(f *Fragmenter) {
		f.metrics = m
	}
}

// Fragmenter serializes frames onto a link that accepts one bounded write
// at a time.
//
// Chunks leave in the order their frames were sent and the chunks of one
// frame are never interleaved with another's. A failed write stalls the
// queue with the failed chunk held at its head, so the peer never sees the
// tail of a frame without its middle. Resume retries that chunk. The
// in-flight write is never cancelled.
type Fragmenter struct {
	w        ChunkWriter
	logger   *zap.Logger
	metrics  *metrics.Metrics
	maxWrite int

	mu       sync.Mutex
	queue    [][]byte
	inFlight []byte
	busy     bool // a write is outstanding
	pumping  bool
	stalled  bool
	closed   bool
	changed  chan struct{}
}

// NewFragmenter creates a fragmenter writing through w
func NewFragmenter(w ChunkWriter, opts ...FragmenterOption) *Fragmenter {
	f := &Fragmenter{
		w:        w,
		logger:   zap.NewNop(),
		maxWrite: shuck.MaxWriteSize,
		changed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func clampWrite(n int) int {
	if n < shuck.MaxWriteSize {
		return shuck.MaxWriteSize
	}
	return n
}

// SetMaxWrite changes the chunk ceiling for frames sent from now on, for
// example after an MTU exchange. Chunks already queued keep their size.
func (f *Fragmenter) SetMaxWrite(n int) {
	f.mu.Lock()
	f.maxWrite = clampWrite(n)
	f.mu.Unlock()
}

// MaxWrite returns the current chunk ceiling
func (f *Fragmenter) MaxWrite() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxWrite
}

// Send splits frame into chunks and queues them behind any earlier frame.
// The first chunk is submitted immediately when the link is idle. A
// stalled queue stays stalled; the frame waits for Resume.
func (f *Fragmenter) Send(frame []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	for off := 0; off < len(frame); off += f.maxWrite {
		end := min(off+f.maxWrite, len(frame))
		chunk := make([]byte, end-off)
		copy(chunk, frame[off:end])
		f.queue = append(f.queue, chunk)
	}
	f.notifyLocked()
	f.mu.Unlock()

	f.pump()
	return nil
}

// WriteComplete reports the outcome of the outstanding write. On success
// the next chunk is submitted. On failure the chunk goes back to the head
// of the queue and the queue stalls. A completion with no write outstanding is ignored.
func (f *Fragmenter) WriteComplete(err error) {
	f.mu.Lock()
	if !f.completeLocked(err) {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	f.pump()
}

// completeLocked releases the write slot. It reports false when there was
// nothing outstanding.
func (f *Fragmenter) completeLocked(err error) bool {
	if !f.busy {
		f.logger.Warn("write completion with no write outstanding", zap.Error(err))
		return false
	}
	chunk := f.inFlight
	f.busy = false
	f.inFlight = nil
	f.metrics.ObserveWrite(len(chunk), err)

	if err != nil {
		// Later chunks of the same frame only make sense after this one
		f.queue = append([][]byte{chunk}, f.queue...)
		f.stalled = true
		f.logger.Warn("chunk write failed, queue stalled",
			zap.Int("bytes", len(chunk)),
			zap.Int("pending", len(f.queue)),
			zap.Error(err))
	} else {
		f.logger.Debug("chunk written", zap.Int("bytes", len(chunk)), zap.Int("pending", len(f.queue)))
	}
	f.notifyLocked()
	return true
}

// Resume restarts a queue stalled by a failed write, starting with the
// chunk that failed
func (f *Fragmenter) Resume() {
	f.mu.Lock()
	f.stalled = false
	f.mu.Unlock()

	f.pump()
}

// pump submits chunks while the link is idle. Only one goroutine pumps at a
// time; a completion arriving during SubmitWrite is picked up by the loop,
// so synchronous writers do not recurse.
func (f *Fragmenter) pump() {
	f.mu.Lock()
	if f.pumping {
		f.mu.Unlock()
		return
	}
	f.pumping = true

	for !f.busy && !f.stalled && !f.closed && len(f.queue) > 0 {
		chunk := f.queue[0]
		f.queue[0] = nil
		f.queue = f.queue[1:]
		f.busy = true
		f.inFlight = chunk
		f.mu.Unlock()

		err := f.w.SubmitWrite(chunk)

		f.mu.Lock()
		if err != nil && f.busy && sameChunk(f.inFlight, chunk) {
			f.completeLocked(err)
		}
	}

	f.pumping = false
	f.mu.Unlock()
}

func sameChunk(a, b []byte) bool {
	return len(a) == len(b) && (len(a) == 0 || &a[0] == &b[0])
}

// Pending returns the number of chunks queued behind the in-flight write
func (f *Fragmenter) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// InFlight reports whether a write is outstanding
func (f *Fragmenter) InFlight() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

// Stalled reports whether a failed write is holding the queue
func (f *Fragmenter) Stalled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stalled
}

// Wait blocks until no write is outstanding and nothing is queued, or ctx
// is done. A stalled queue is not idle.
func (f *Fragmenter) Wait(ctx context.Context) error {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return ErrClosed
		}
		if !f.busy && len(f.queue) == 0 {
			f.mu.Unlock()
			return nil
		}
		ch := f.changed
		f.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drops queued chunks and rejects further sends. An outstanding
// write still completes on the link.
func (f *Fragmenter) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.queue = nil
	f.notifyLocked()
}

func (f *Fragmenter) notifyLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
