// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// syncBuffer is a bytes.Buffer safe for one writer and one reader
type syncBuffer struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++
	return s.buf.Write(p)
}

func (s *syncBuffer) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// failingWriter fails the first write only
type failingWriter struct {
	syncBuffer
	failed bool
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if !f.failed {
		f.failed = true
		return 0, errors.New("link busy")
	}
	return f.syncBuffer.Write(p)
}

func newStreamFragmenter(w io.Writer) (*Fragmenter, *StreamWriter) {
	var f *Fragmenter
	sw := NewStreamWriter(w, func(err error) { f.WriteComplete(err) })
	f = NewFragmenter(sw)
	return f, sw
}

func TestStreamWriter_ConcurrentSenders(t *testing.T) {
	out := &syncBuffer{}
	f, sw := newStreamFragmenter(out)
	defer sw.Close()

	const senders = 8
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := shuck.NewPacket(shuck.TypeBatchData, bytes.Repeat([]byte{byte(i)}, 30+i))
			assert.NoError(t, f.Send(shuck.MustEncodePacket(p)))
		}(i)
	}
	wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))

	d := shuck.NewDecoder()
	d.Feed(out.Bytes())
	packets := d.Drain()
	require.Len(t, packets, senders)

	seen := make(map[byte]bool)
	for _, p := range packets {
		require.NotEmpty(t, p.Data)
		assert.Len(t, p.Data, 30+int(p.Data[0]))
		seen[p.Data[0]] = true
	}
	assert.Len(t, seen, senders)
}

func TestStreamWriter_FailureReported(t *testing.T) {
	out := &failingWriter{}
	f, sw := newStreamFragmenter(out)
	defer sw.Close()

	frame := testFrame(t, 40)
	require.NoError(t, f.Send(frame))

	require.Eventually(t, f.Stalled, time.Second, time.Millisecond)
	f.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Wait(ctx))
	assert.Equal(t, frame, out.Bytes())
}

func TestStreamWriter_Close(t *testing.T) {
	sw := NewStreamWriter(&syncBuffer{}, nil)
	require.NoError(t, sw.Close())
	require.NoError(t, sw.Close())
	assert.ErrorIs(t, sw.SubmitWrite([]byte{1}), ErrClosed)
}

// ============================================================
// Pump Tests
// ============================================================

func TestPump_FeedsDecoder(t *testing.T) {
	var stream []byte
	stream = append(stream, shuck.MustEncodePacket(shuck.NewPing())...)
	stream = append(stream, testFrame(t, 40)...)

	d := shuck.NewDecoder()
	chunks := 0
	err := Pump(context.Background(), iotest.OneByteReader(bytes.NewReader(stream)), d, func() { chunks++ })
	require.NoError(t, err)

	assert.Equal(t, len(stream), chunks)
	assert.Equal(t, 2, d.Pending())
}

func TestPump_GivesUpOnPersistentErrors(t *testing.T) {
	err := Pump(context.Background(), iotest.ErrReader(errors.New("framing error")), &syncBuffer{}, nil)
	assert.ErrorContains(t, err, "framing error")
}

func TestPump_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Pump(ctx, bytes.NewReader([]byte{1, 2, 3}), &syncBuffer{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
