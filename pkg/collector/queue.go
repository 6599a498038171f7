// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package collector forwards decoded measurements to the collection server.
//
// Requests are delivered strictly one at a time in submission order. A
// failed delivery is logged and dropped; there are no retries.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/metrics"
)

// ErrQueueClosed is returned by Enqueue after Close
var ErrQueueClosed = errors.New("collector queue closed")

// Request is one outbound delivery
type Request struct {
	ID       uuid.UUID
	Method   string
	Endpoint string
	Payload  any
	Enqueued time.Time
}

// NewRequest creates a request with a fresh id
func NewRequest(method, endpoint string, payload any) Request {
	return Request{
		ID:       uuid.New(),
		Method:   method,
		Endpoint: endpoint,
		Payload:  payload,
	}
}

// Deliverer performs a request and reports the outcome through done
// exactly once. Deliver must not block on the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, req Request, done func(error))
}

// DelivererFunc adapts a function to Deliverer
type DelivererFunc func(ctx context.Context, req Request, done func(error))

// Deliver calls f
func (f DelivererFunc) Deliver(ctx context.Context, req Request, done func(error)) {
	f(ctx, req, done)
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = l
	}
}

// WithMetrics records delivery outcomes and backlog in m
func WithMetrics(m *metrics.Metrics) QueueOption {
	return func(q *Queue) {
		q.metrics = m
	}
}

// WithContext sets the context passed to every delivery
func WithContext(ctx context.Context) QueueOption {
	return func(q *Queue) {
		q.ctx = ctx
	}
}

// WithResultHook calls fn after every delivery, outside the queue lock
func WithResultHook(fn func(Request, error)) QueueOption {
	return func(q *Queue) {
		q.onResult = fn
	}
}

// Queue holds outbound requests and keeps at most one in flight.
type Queue struct {
	d        Deliverer
	logger   *zap.Logger
	metrics  *metrics.Metrics
	ctx      context.Context
	onResult func(Request, error)

	mu          sync.Mutex
	pending     []Request
	current     Request
	busy        bool
	token       uint64
	dispatching bool
	closed      bool
	delivered   uint64
	failed      uint64
	changed     chan struct{}
}

// NewQueue creates a queue delivering through d
func NewQueue(d Deliverer, opts ...QueueOption) *Queue {
	q := &Queue{
		d:       d,
		logger:  zap.NewNop(),
		ctx:     context.Background(),
		changed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends req. It is started immediately when nothing is in flight.
func (q *Queue) Enqueue(req Request) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Enqueued = time.Now()
	q.pending = append(q.pending, req)
	q.metrics.SetQueueDepth(q.depthLocked())
	q.logger.Debug("request queued",
		zap.Stringer("id", req.ID),
		zap.String("endpoint", req.Endpoint),
		zap.Int("depth", q.depthLocked()))
	q.mu.Unlock()

	q.dispatch()
	return nil
}

// dispatch starts the head request while the slot is free. A deliverer
// that completes inline is picked up by the loop rather than recursing.
func (q *Queue) dispatch() {
	q.mu.Lock()
	if q.dispatching {
		q.mu.Unlock()
		return
	}
	q.dispatching = true

	for !q.busy && !q.closed && len(q.pending) > 0 {
		req := q.pending[0]
		q.pending[0] = Request{}
		q.pending = q.pending[1:]
		q.busy = true
		q.current = req
		q.token++
		done := q.completion(q.token, time.Now())
		q.mu.Unlock()

		q.d.Deliver(q.ctx, req, done)

		q.mu.Lock()
	}

	q.dispatching = false
	q.mu.Unlock()
}

// completion returns the one-shot callback for the request holding token
func (q *Queue) completion(token uint64, started time.Time) func(error) {
	var once sync.Once
	return func(err error) {
		once.Do(func() {
			q.finish(token, started, err)
		})
	}
}

func (q *Queue) finish(token uint64, started time.Time, err error) {
	q.mu.Lock()
	if !q.busy || token != q.token {
		q.mu.Unlock()
		return
	}
	req := q.current
	q.busy = false
	q.current = Request{}
	if err != nil {
		q.failed++
	} else {
		q.delivered++
	}
	elapsed := time.Since(started)
	q.metrics.ObserveDelivery(elapsed.Seconds(), err)
	q.metrics.SetQueueDepth(q.depthLocked())
	q.notifyLocked()
	q.mu.Unlock()

	if err != nil {
		q.logger.Warn("delivery failed",
			zap.Stringer("id", req.ID),
			zap.String("endpoint", req.Endpoint),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		q.logger.Debug("delivered",
			zap.Stringer("id", req.ID),
			zap.Duration("elapsed", elapsed))
	}
	if q.onResult != nil {
		q.onResult(req, err)
	}

	q.dispatch()
}

func (q *Queue) depthLocked() int {
	n := len(q.pending)
	if q.busy {
		n++
	}
	return n
}

// Len returns the number of requests waiting behind the one in flight
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// InFlight returns the request being delivered, if any
func (q *Queue) InFlight() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current, q.busy
}

// Delivered returns the number of successful deliveries
func (q *Queue) Delivered() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.delivered
}

// Failed returns the number of failed deliveries
func (q *Queue) Failed() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed
}

// Wait blocks until the queue is empty and nothing is in flight, or ctx is done
func (q *Queue) Wait(ctx context.Context) error {
	for {
		q.mu.Lock()
		if !q.busy && len(q.pending) == 0 {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close rejects new requests and drops those not yet started. The request
// in flight is left to finish.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	if dropped := len(q.pending); dropped > 0 {
		q.logger.Warn("dropping undelivered requests", zap.Int("count", dropped))
	}
	q.pending = nil
	q.metrics.SetQueueDepth(q.depthLocked())
	q.notifyLocked()
}

func (q *Queue) notifyLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}
