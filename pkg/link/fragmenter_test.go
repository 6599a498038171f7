// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// recordingWriter accepts every submission and never completes on its own
type recordingWriter struct {
	mu     sync.Mutex
	chunks [][]byte
	err    error
}

func (r *recordingWriter) SubmitWrite(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.chunks = append(r.chunks, append([]byte(nil), chunk...))
	return nil
}

func (r *recordingWriter) submitted() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.chunks...)
}

func testFrame(t *testing.T, payloadLen int) []byte {
	t.Helper()
	payload := make([]byte, payloadLen)
	for i := range payload {
		payload[i] = byte(i)
	}
	f, err := shuck.EncodeFrame(byte(shuck.TypeBatchData), payload)
	require.NoError(t, err)
	return f
}

func TestFragmenter_OneWriteAtATime(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)
	frame := testFrame(t, 40)
	require.Len(t, frame, 47)

	require.NoError(t, f.Send(frame))
	require.Len(t, w.submitted(), 1)
	assert.Len(t, w.submitted()[0], 20)
	assert.True(t, f.InFlight())
	assert.Equal(t, 2, f.Pending())

	f.WriteComplete(nil)
	require.Len(t, w.submitted(), 2)
	assert.Len(t, w.submitted()[1], 20)
	assert.Equal(t, 1, f.Pending())

	f.WriteComplete(nil)
	require.Len(t, w.submitted(), 3)
	assert.Len(t, w.submitted()[2], 7)
	assert.Equal(t, 0, f.Pending())
	assert.True(t, f.InFlight())

	f.WriteComplete(nil)
	assert.False(t, f.InFlight())
	require.NoError(t, f.Wait(context.Background()))

	// The receiving side reassembles the frame from the chunks
	d := shuck.NewDecoder()
	for _, c := range w.submitted() {
		assert.LessOrEqual(t, len(c), shuck.MaxWriteSize)
		d.Feed(c)
	}
	p, ok := d.TakePacket()
	require.True(t, ok)
	assert.Equal(t, byte(shuck.TypeBatchData), p.ID)
	assert.Len(t, p.Data, 40)
}

func TestFragmenter_FramesNotInterleaved(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)
	a := testFrame(t, 40)
	b := shuck.MustEncodePacket(shuck.NewPing())

	require.NoError(t, f.Send(a))
	require.NoError(t, f.Send(b))
	for f.InFlight() {
		f.WriteComplete(nil)
	}

	assert.Equal(t, append(append([]byte{}, a...), b...), bytes.Join(w.submitted(), nil))
}

func TestFragmenter_FailureStallsUntilResume(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)
	frame := testFrame(t, 40)

	require.NoError(t, f.Send(frame))
	f.WriteComplete(errors.New("gatt write failed"))

	assert.False(t, f.InFlight())
	assert.True(t, f.Stalled())
	assert.Equal(t, 3, f.Pending())
	assert.Len(t, w.submitted(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.Wait(ctx), context.DeadlineExceeded)

	f.Resume()
	require.Len(t, w.submitted(), 2)
	assert.Equal(t, frame[0:20], w.submitted()[1])
	assert.False(t, f.Stalled())
}

func TestFragmenter_FailedMidFrameChunkKeepsStreamDecodable(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)
	frame := testFrame(t, 40)
	ping := shuck.MustEncodePacket(shuck.NewPing())

	require.NoError(t, f.Send(frame))
	f.WriteComplete(nil)
	f.WriteComplete(errors.New("timeout"))
	require.True(t, f.Stalled())

	// Nothing leaves while stalled, not even a new frame
	require.NoError(t, f.Send(ping))
	require.Len(t, w.submitted(), 2)

	f.Resume()
	for f.InFlight() {
		f.WriteComplete(nil)
	}

	submitted := w.submitted()
	require.Len(t, submitted, 5)
	assert.Equal(t, submitted[1], submitted[2], "failed chunk is retried")

	// Chunk 1 never reached the peer
	d := shuck.NewDecoder()
	for i, c := range submitted {
		if i != 1 {
			d.Feed(c)
		}
	}
	packets := d.Drain()
	require.Len(t, packets, 2)
	assert.Equal(t, byte(shuck.TypeBatchData), packets[0].ID)
	assert.Len(t, packets[0].Data, 40)
	assert.Equal(t, shuck.TypePing, packets[1].Type())
}

func TestFragmenter_SubmitErrorHoldsChunk(t *testing.T) {
	w := &recordingWriter{err: errors.New("not connected")}
	f := NewFragmenter(w)
	frame := testFrame(t, 40)

	require.NoError(t, f.Send(frame))
	assert.False(t, f.InFlight())
	assert.True(t, f.Stalled())
	assert.Equal(t, 3, f.Pending())

	w.mu.Lock()
	w.err = nil
	w.mu.Unlock()

	f.Resume()
	assert.True(t, f.InFlight())
	assert.Equal(t, 2, f.Pending())
	for f.InFlight() {
		f.WriteComplete(nil)
	}
	assert.Equal(t, frame, bytes.Join(w.submitted(), nil))
}

func TestFragmenter_SpuriousCompletionIgnored(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)

	f.WriteComplete(nil)
	f.WriteComplete(errors.New("late"))
	assert.False(t, f.Stalled())

	require.NoError(t, f.Send(shuck.MustEncodePacket(shuck.NewHealth())))
	assert.Len(t, w.submitted(), 1)
}

func TestFragmenter_InlineCompletion(t *testing.T) {
	var out bytes.Buffer
	var f *Fragmenter
	f = NewFragmenter(ChunkWriterFunc(func(chunk []byte) error {
		out.Write(chunk)
		f.WriteComplete(nil)
		return nil
	}))

	frame := testFrame(t, 4000)
	require.NoError(t, f.Send(frame))
	assert.Equal(t, frame, out.Bytes())
	assert.False(t, f.InFlight())
	assert.Equal(t, 0, f.Pending())
}

func TestFragmenter_SetMaxWrite(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w, WithMaxWrite(8))
	assert.Equal(t, shuck.MaxWriteSize, f.MaxWrite())

	f.SetMaxWrite(MaxWriteForMTU(185))
	assert.Equal(t, 182, f.MaxWrite())

	frame := testFrame(t, 40)
	require.NoError(t, f.Send(frame))
	require.Len(t, w.submitted(), 1)
	assert.Equal(t, frame, w.submitted()[0])
}

func TestMaxWriteForMTU(t *testing.T) {
	tests := []struct {
		mtu  int
		want int
	}{
		{0, 20},
		{shuck.MinATTMTU, 20},
		{100, 97},
		{shuck.MaxATTMTU, 514},
		{1024, 514},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaxWriteForMTU(tt.mtu), "mtu %d", tt.mtu)
	}
}

func TestFragmenter_WaitUnblocksOnCompletion(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)
	require.NoError(t, f.Send(testFrame(t, 10)))

	done := make(chan error, 1)
	go func() {
		done <- f.Wait(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("Wait returned while a write was outstanding")
	case <-time.After(10 * time.Millisecond):
	}

	f.WriteComplete(nil)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after completion")
	}
}

func TestFragmenter_Close(t *testing.T) {
	w := &recordingWriter{}
	f := NewFragmenter(w)
	require.NoError(t, f.Send(testFrame(t, 40)))

	f.Close()
	assert.Equal(t, 0, f.Pending())
	assert.ErrorIs(t, f.Send([]byte{1}), ErrClosed)
	assert.ErrorIs(t, f.Wait(context.Background()), ErrClosed)

	// The outstanding write may still complete
	f.WriteComplete(nil)
	assert.Len(t, w.submitted(), 1)
}
