// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package simulator

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

var simNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestDevice(opts ...Option) *Device {
	return NewDevice(4, append([]Option{WithClock(func() time.Time { return simNow })}, opts...)...)
}

func TestDevice_PingAndHealth(t *testing.T) {
	d := newTestDevice()

	resp := d.Handle(shuck.NewPing())
	require.Len(t, resp, 1)
	assert.Equal(t, shuck.TypePing, resp[0].Type())

	resp = d.Handle(shuck.NewHealth())
	require.Len(t, resp, 1)
	assert.Equal(t, shuck.TypeHealth, resp[0].Type())

	assert.Equal(t, uint64(1), d.Handled(shuck.TypePing))
}

func TestDevice_HealthFault(t *testing.T) {
	d := newTestDevice(WithFault(shuck.TypeSDError))

	resp := d.Handle(shuck.NewHealth())
	require.Len(t, resp, 1)
	assert.Equal(t, shuck.TypeSDError, resp[0].Type())
	assert.Empty(t, resp[0].Data)
}

func TestDevice_PeriodConfig(t *testing.T) {
	d := newTestDevice()

	req, err := shuck.NewPeriodConfig(simNow.Add(time.Hour), 5*time.Minute)
	require.NoError(t, err)
	resp := d.Handle(req)

	require.Len(t, resp, 1)
	assert.True(t, resp[0].Equal(shuck.NewPacket(shuck.TypeConfig, req.Data)), "CONFIG is echoed")
	assert.Equal(t, 5*time.Minute, d.Period())
	assert.Equal(t, simNow.Add(time.Hour), d.Clock())
}

func TestDevice_CalibrationConfig(t *testing.T) {
	d := newTestDevice()
	cal := shuck.Calibration{Temperature: 25, PHLow: 4.01, PHHigh: 7, ConductivityLow: 1413, ConductivityHigh: 12880}

	d.Handle(shuck.NewCalibrationConfig(simNow, cal))

	assert.Equal(t, cal, d.Calibration())
	assert.Equal(t, 15*time.Minute, d.Period(), "calibration leaves the period alone")
}

func TestDevice_MalformedIgnored(t *testing.T) {
	d := newTestDevice()

	assert.Nil(t, d.Handle(shuck.NewPacket(shuck.TypeConfig, []byte{0x03})))
	assert.Nil(t, d.Handle(shuck.NewPacket(shuck.TypeBatchData, []byte{1, 2})))
	assert.Nil(t, d.Handle(shuck.NewPacket(shuck.TypeCurrentReading, nil)))
	assert.Equal(t, uint64(0), d.Handled(shuck.TypeConfig))
}

func TestDevice_DataRequestSelectsRange(t *testing.T) {
	d := newTestDevice()
	d.Record(shuck.LabelPH,
		shuck.DataEntry{UnixTime: 300, Value: 7.3},
		shuck.DataEntry{UnixTime: 100, Value: 7.1},
		shuck.DataEntry{UnixTime: 200, Value: 7.2},
		shuck.DataEntry{UnixTime: 400, Value: 7.4})
	d.Record(shuck.LabelTemperature, shuck.DataEntry{UnixTime: 200, Value: 12})

	// Reversed range is normalized by the request builder
	req, err := shuck.NewDataRequest(time.Unix(300, 0), time.Unix(150, 0), shuck.LabelPH)
	require.NoError(t, err)
	resp := d.Handle(req)

	require.Len(t, resp, 1)
	b := shuck.DecodeBatch(resp[0].Data)
	assert.Equal(t, byte(4), b.SensorID)
	assert.Equal(t, shuck.LabelPH, b.Label)
	assert.Equal(t, []shuck.DataEntry{{UnixTime: 200, Value: 7.2}, {UnixTime: 300, Value: 7.3}}, b.Entries)
	assert.False(t, b.Truncated())
}

func TestDevice_DataRequestEmpty(t *testing.T) {
	d := newTestDevice()

	req, err := shuck.NewDataRequest(time.Unix(0, 0), time.Unix(10, 0), shuck.LabelSalinity)
	require.NoError(t, err)
	resp := d.Handle(req)

	require.Len(t, resp, 1)
	b := shuck.DecodeBatch(resp[0].Data)
	assert.Empty(t, b.Entries)
	assert.Equal(t, shuck.LabelSalinity, b.Label)
}

func TestDevice_DataRequestSplitsBatches(t *testing.T) {
	d := newTestDevice()
	rng := rand.New(rand.NewSource(1))
	start := time.Unix(1_700_000_000, 0)
	d.Generate(start, start.Add(599*time.Minute), time.Minute, rng)

	req, err := shuck.NewDataRequest(start, start.Add(24*time.Hour), shuck.LabelConductivity)
	require.NoError(t, err)
	resp := d.Handle(req)

	require.Len(t, resp, 3)
	var total int
	var last int32
	for _, p := range resp {
		b := shuck.DecodeBatch(p.Data)
		assert.False(t, b.Truncated())
		assert.LessOrEqual(t, len(b.Entries), 255)
		for _, e := range b.Entries {
			assert.Greater(t, e.UnixTime, last)
			last = e.UnixTime
		}
		total += len(b.Entries)
	}
	assert.Equal(t, 600, total)
}

func TestDevice_Reading(t *testing.T) {
	d := newTestDevice()

	p := d.Reading(rand.New(rand.NewSource(7)))
	r, err := shuck.DecodeCurrentReading(p.Data)
	require.NoError(t, err)
	assert.Equal(t, byte(4), r.SensorID)
	assert.Empty(t, shuck.ValidatePacket(p))
}
