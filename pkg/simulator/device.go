// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package simulator imitates a Shuck logger for bench tests: it answers
// controller commands from an in-memory measurement store and serves the
// result over a WebSocket in notification-sized messages.
package simulator

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// maxBatchEntries is the most entries one BATCH_DATA can announce
const maxBatchEntries = math.MaxUint8

// Option configures a Device
type Option func(*Device)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(d *Device) {
		d.logger = l
	}
}

// WithFault makes HEALTH answer with the given fault type
func WithFault(t shuck.PacketType) Option {
	return func(d *Device) {
		d.fault = t
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		d.now = now
	}
}

// Device is a simulated logger. It is safe for concurrent use.
type Device struct {
	sensorID byte
	logger   *zap.Logger
	now      func() time.Time

	mu          sync.Mutex
	fault       shuck.PacketType
	store       map[string][]shuck.DataEntry
	period      time.Duration
	clockOffset time.Duration
	calibration shuck.Calibration
	handled     map[shuck.PacketType]uint64
}

// NewDevice creates a healthy device with an empty store
func NewDevice(sensorID byte, opts ...Option) *Device {
	d := &Device{
		sensorID: sensorID,
		logger:   zap.NewNop(),
		now:      time.Now,
		store:    make(map[string][]shuck.DataEntry),
		period:   15 * time.Minute,
		handled:  make(map[shuck.PacketType]uint64),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Record stores entries under label, keeping the store in time order
func (d *Device) Record(label string, entries ...shuck.DataEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := append(d.store[label], entries...)
	sort.SliceStable(s, func(i, j int) bool { return s[i].UnixTime < s[j].UnixTime })
	d.store[label] = s
}

// Generate fills every known label with plausible readings every step
// between from and to
func (d *Device) Generate(from, to time.Time, step time.Duration, rng *rand.Rand) {
	if step <= 0 {
		return
	}
	for t := from; !t.After(to); t = t.Add(step) {
		ts := int32(t.Unix())
		r := syntheticReading(rng)
		d.Record(shuck.LabelPH, shuck.DataEntry{UnixTime: ts, Value: r.PH})
		d.Record(shuck.LabelTemperature, shuck.DataEntry{UnixTime: ts, Value: r.Temperature})
		d.Record(shuck.LabelSalinity, shuck.DataEntry{UnixTime: ts, Value: r.Salinity})
		d.Record(shuck.LabelConductivity, shuck.DataEntry{UnixTime: ts, Value: r.Conductivity})
	}
}

func syntheticReading(rng *rand.Rand) shuck.CurrentReading {
	return shuck.CurrentReading{
		PH:           7.8 + float32(rng.NormFloat64()*0.1),
		Temperature:  12 + float32(rng.NormFloat64()*1.5),
		Salinity:     33 + float32(rng.NormFloat64()*0.5),
		Conductivity: 50 + float32(rng.NormFloat64()*2),
	}
}

// Reading builds a CURRENT_READING packet with fresh synthetic values
func (d *Device) Reading(rng *rand.Rand) shuck.Packet {
	r := syntheticReading(rng)
	r.SensorID = d.sensorID
	return shuck.NewPacket(shuck.TypeCurrentReading, shuck.EncodeCurrentReading(r))
}

// Period returns the configured sampling period
func (d *Device) Period() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.period
}

// Calibration returns the last calibration standards received
func (d *Device) Calibration() shuck.Calibration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calibration
}

// Clock returns the device's notion of the current time
func (d *Device) Clock() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Add(d.clockOffset)
}

// Handled returns how many packets of type t were answered
func (d *Device) Handled(t shuck.PacketType) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handled[t]
}

// Handle answers one controller packet. Packets the logger would ignore
// produce no response.
func (d *Device) Handle(p shuck.Packet) []shuck.Packet {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []shuck.Packet
	switch p.Type() {
	case shuck.TypePing:
		out = []shuck.Packet{shuck.NewPing()}

	case shuck.TypeHealth:
		if d.fault.IsFault() {
			out = []shuck.Packet{shuck.NewPacket(d.fault, nil)}
		} else {
			out = []shuck.Packet{shuck.NewHealth()}
		}

	case shuck.TypeConfig:
		req, err := shuck.DecodeConfig(p.Data)
		if err != nil {
			d.logger.Warn("ignoring malformed CONFIG", zap.Error(err))
			return nil
		}
		d.applyConfigLocked(req)
		out = []shuck.Packet{shuck.NewPacket(shuck.TypeConfig, append([]byte(nil), p.Data...))}

	case shuck.TypeBatchData:
		req, err := shuck.DecodeDataRequest(p.Data)
		if err != nil {
			d.logger.Warn("ignoring malformed DATA request", zap.Error(err))
			return nil
		}
		out = d.batchesLocked(req)

	default:
		d.logger.Debug("ignoring packet", zap.Stringer("type", p.Type()))
		return nil
	}

	d.handled[p.Type()]++
	return out
}

func (d *Device) applyConfigLocked(req shuck.ConfigRequest) {
	if req.Flags&shuck.ConfigTime != 0 {
		d.clockOffset = time.Unix(int64(req.Epoch), 0).Sub(d.now())
	}
	if req.Flags&shuck.ConfigPeriod != 0 && req.Period > 0 {
		d.period = time.Duration(req.Period) * time.Second
	}
	if req.Flags&shuck.ConfigStdTemp != 0 {
		d.calibration = req.Calibration
	}
	d.logger.Info("configured",
		zap.Duration("period", d.period),
		zap.Duration("clock_offset", d.clockOffset))
}

// batchesLocked selects the stored entries in range and splits them into
// BATCH_DATA packets of at most 255 entries. An empty range still yields one
// empty batch so the controller sees an answer.
func (d *Device) batchesLocked(req shuck.DataRequest) []shuck.Packet {
	from, to := int32(req.From.Unix()), int32(req.To.Unix())
	var selected []shuck.DataEntry
	for _, e := range d.store[req.Label] {
		if e.UnixTime >= from && e.UnixTime <= to {
			selected = append(selected, e)
		}
	}

	var out []shuck.Packet
	for {
		n := min(len(selected), maxBatchEntries)
		b := shuck.Batch{
			SensorID: d.sensorID,
			Count:    byte(n),
			Entries:  selected[:n],
			Label:    req.Label,
		}
		out = append(out, shuck.NewPacket(shuck.TypeBatchData, shuck.EncodeBatch(b)))
		selected = selected[n:]
		if len(selected) == 0 {
			return out
		}
	}
}
