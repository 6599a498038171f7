// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/shuckctl/pkg/collector"
	"github.com/Thermoquad/shuckctl/pkg/link"
	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// captureWriter records submitted chunks without completing them
type captureWriter struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (c *captureWriter) SubmitWrite(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = append(c.chunks, append([]byte(nil), chunk...))
	return nil
}

// inlineCollector completes every delivery immediately and keeps the requests
type inlineCollector struct {
	reqs []collector.Request
}

func (i *inlineCollector) Deliver(_ context.Context, req collector.Request, done func(error)) {
	i.reqs = append(i.reqs, req)
	done(nil)
}

func batchFrame(t *testing.T, b shuck.Batch) []byte {
	t.Helper()
	f, err := shuck.EncodeFrame(byte(shuck.TypeBatchData), shuck.EncodeBatch(b))
	require.NoError(t, err)
	return f
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev := <-s.Events():
		return ev
	default:
		t.Fatal("no event published")
		return Event{}
	}
}

func TestSession_BatchForwarded(t *testing.T) {
	col := &inlineCollector{}
	q := collector.NewQueue(col)
	s := New(Config{Forward: true, Endpoint: "http://collector/in"}, &captureWriter{}, q)

	b := shuck.Batch{SensorID: 4, Entries: []shuck.DataEntry{{UnixTime: 1000, Value: 3.5}}, Label: "pH"}
	frame := batchFrame(t, b)

	// Arrives in BLE-sized notifications
	for off := 0; off < len(frame); off += 5 {
		s.HandleBytes(frame[off:min(off+5, len(frame))])
	}

	ev := nextEvent(t, s)
	assert.Equal(t, EventBatch, ev.Kind)
	require.NotNil(t, ev.Batch)
	assert.Equal(t, "pH", ev.Batch.Label)
	assert.Equal(t, byte(4), ev.Batch.SensorID)

	require.Len(t, col.reqs, 1)
	assert.Equal(t, "POST", col.reqs[0].Method)
	assert.Equal(t, "http://collector/in", col.reqs[0].Endpoint)
	want, err := collector.BatchPayload(b)
	require.NoError(t, err)
	assert.Equal(t, want, col.reqs[0].Payload)
}

func TestSession_PerEntryForwarding(t *testing.T) {
	col := &inlineCollector{}
	s := New(Config{Forward: true, PerEntry: true}, &captureWriter{}, collector.NewQueue(col))

	s.HandleBytes(batchFrame(t, shuck.Batch{
		SensorID: 1,
		Entries:  []shuck.DataEntry{{UnixTime: 1, Value: 7.1}, {UnixTime: 2, Value: 7.2}, {UnixTime: 3, Value: 7.3}},
		Label:    "pH",
	}))

	require.Len(t, col.reqs, 3)
	assert.Equal(t, collector.DefaultEndpoint, col.reqs[0].Endpoint)
}

func TestSession_ForwardDisabledOrEmpty(t *testing.T) {
	col := &inlineCollector{}
	q := collector.NewQueue(col)

	off := New(Config{Forward: false}, &captureWriter{}, q)
	off.HandleBytes(batchFrame(t, shuck.Batch{Entries: []shuck.DataEntry{{UnixTime: 1, Value: 1}}, Label: "tp"}))

	on := New(Config{Forward: true}, &captureWriter{}, q)
	on.HandleBytes(batchFrame(t, shuck.Batch{Label: "tp"}))

	noQueue := New(Config{Forward: true}, &captureWriter{}, nil)
	noQueue.HandleBytes(batchFrame(t, shuck.Batch{Entries: []shuck.DataEntry{{UnixTime: 1, Value: 1}}, Label: "tp"}))

	assert.Empty(t, col.reqs)
	assert.Equal(t, EventBatch, nextEvent(t, noQueue).Kind)
}

func TestSession_ReservedLabelNotForwarded(t *testing.T) {
	col := &inlineCollector{}
	s := New(Config{Forward: true}, &captureWriter{}, collector.NewQueue(col))

	s.HandleBytes(batchFrame(t, shuck.Batch{Entries: []shuck.DataEntry{{UnixTime: 1, Value: 1}}, Label: "date"}))

	assert.Empty(t, col.reqs)
	ev := nextEvent(t, s)
	assert.Equal(t, EventBatch, ev.Kind)
	assert.Equal(t, "date", ev.Batch.Label)
}

func TestSession_StatusEvents(t *testing.T) {
	tests := []struct {
		id    shuck.PacketType
		want  EventKind
		fault bool
	}{
		{shuck.TypePing, EventPing, false},
		{shuck.TypeHealth, EventHealthy, false},
		{shuck.TypeConfig, EventConfigAck, false},
		{shuck.TypeRTCError, EventFault, true},
		{shuck.TypeSDError, EventFault, true},
		{shuck.TypeDeviceError, EventFault, true},
		{shuck.PacketType(0x03), EventUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.id.String(), func(t *testing.T) {
			s := New(Config{}, &captureWriter{}, nil)
			s.HandleBytes(shuck.MustEncodePacket(shuck.NewPacket(tt.id, nil)))

			ev := nextEvent(t, s)
			assert.Equal(t, tt.want, ev.Kind)
			if tt.fault {
				var fe *FaultError
				require.True(t, errors.As(ev.Err, &fe))
				assert.Equal(t, tt.id, fe.Type)
			} else {
				assert.NoError(t, ev.Err)
			}
		})
	}
}

func TestSession_CurrentReading(t *testing.T) {
	s := New(Config{}, &captureWriter{}, nil)

	want := shuck.CurrentReading{SensorID: 2, PH: 7.9, Temperature: 11, Salinity: 34, Conductivity: 50}
	s.HandleBytes(shuck.MustEncodePacket(shuck.NewPacket(shuck.TypeCurrentReading, shuck.EncodeCurrentReading(want))))
	ev := nextEvent(t, s)
	assert.Equal(t, EventReading, ev.Kind)
	require.NotNil(t, ev.Reading)
	assert.Equal(t, want, *ev.Reading)

	s.HandleBytes(shuck.MustEncodePacket(shuck.NewPacket(shuck.TypeCurrentReading, []byte{1, 2, 3})))
	ev = nextEvent(t, s)
	assert.Equal(t, EventMalformed, ev.Kind)
	assert.ErrorIs(t, ev.Err, shuck.ErrShortPayload)
}

func TestSession_EventsDropWhenFull(t *testing.T) {
	s := New(Config{EventBuffer: 1}, &captureWriter{}, nil)
	ping := shuck.MustEncodePacket(shuck.NewPing())

	s.HandleBytes(bytes.Repeat(ping, 3))

	assert.Equal(t, uint64(2), s.Dropped())
	assert.Len(t, s.Events(), 1)
}

func TestSession_Stats(t *testing.T) {
	s := New(Config{}, &captureWriter{}, nil)

	var stream []byte
	stream = append(stream, 0xEE, 0xFF)
	stream = append(stream, shuck.MustEncodePacket(shuck.NewPing())...)
	stream = append(stream, shuck.MustEncodePacket(shuck.NewPacket(shuck.TypeBatchData, []byte{0x01, 0x02}))...)
	s.HandleBytes(stream)

	st := s.Stats()
	assert.Equal(t, uint64(2), st.TotalPackets)
	assert.Equal(t, uint64(1), st.ValidPackets)
	assert.Equal(t, uint64(2), st.DiscardedBytes)
	assert.Equal(t, uint64(1), st.CountMismatches)
	assert.Equal(t, uint64(1), st.ByType[shuck.TypePing])

	// Snapshot is independent of later traffic
	s.HandleBytes(shuck.MustEncodePacket(shuck.NewPing()))
	assert.Equal(t, uint64(1), st.ByType[shuck.TypePing])
}

func TestSession_SendFragments(t *testing.T) {
	w := &captureWriter{}
	s := New(Config{}, w, nil)

	req, err := shuck.NewDataRequest(time.Unix(0, 0), time.Unix(86400, 0), "conductivity-long-label-xx")
	require.NoError(t, err)
	require.NoError(t, s.Send(req))

	frame := shuck.MustEncodePacket(req)
	require.Greater(t, len(frame), shuck.MaxWriteSize)

	for s.Fragmenter().InFlight() {
		s.WriteComplete(nil)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.chunks {
		assert.LessOrEqual(t, len(c), shuck.MaxWriteSize)
	}
	assert.Equal(t, frame, bytes.Join(w.chunks, nil))
}

func TestSession_SendRetriesFailedWrite(t *testing.T) {
	w := &captureWriter{}
	s := New(Config{}, w, nil)

	req, err := shuck.NewDataRequest(time.Unix(0, 0), time.Unix(86400, 0), "conductivity-long-label-xx")
	require.NoError(t, err)
	require.NoError(t, s.Send(req))
	s.WriteComplete(nil)
	s.WriteComplete(errors.New("gatt write failed"))
	require.True(t, s.Fragmenter().Stalled())

	require.NoError(t, s.Send(shuck.NewPing()))
	assert.False(t, s.Fragmenter().Stalled())
	for s.Fragmenter().InFlight() {
		s.WriteComplete(nil)
	}

	w.mu.Lock()
	var delivered [][]byte
	for i, c := range w.chunks {
		if i != 1 {
			delivered = append(delivered, c)
		}
	}
	w.mu.Unlock()

	d := shuck.NewDecoder()
	d.Feed(bytes.Join(delivered, nil))
	packets := d.Drain()
	require.Len(t, packets, 2)
	assert.Equal(t, req.ID, packets[0].ID)
	assert.Equal(t, req.Data, packets[0].Data)
	assert.Equal(t, shuck.TypePing, packets[1].Type())
}

func TestSession_PumpEndToEnd(t *testing.T) {
	s := New(Config{}, &captureWriter{}, nil, WithMaxWrite(link.MaxWriteForMTU(247)))
	assert.Equal(t, 244, s.Fragmenter().MaxWrite())

	stream := append(shuck.MustEncodePacket(shuck.NewHealth()), shuck.MustEncodePacket(shuck.NewPing())...)
	require.NoError(t, link.Pump(context.Background(), bytes.NewReader(stream), s, nil))

	assert.Equal(t, EventHealthy, nextEvent(t, s).Kind)
	assert.Equal(t, EventPing, nextEvent(t, s).Kind)
}
