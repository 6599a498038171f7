// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package link

import (
	"io"
	"sync"
)

// StreamWriter turns a blocking io.Writer into a ChunkWriter. A single
// worker goroutine performs each write and then reports the result through
// the completion callback, so completions arrive in submission order and
// never on the submitter's goroutine.
type StreamWriter struct {
	w          io.Writer
	onComplete func(error)

	chunks    chan []byte
	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
}

// NewStreamWriter starts a worker writing to w. onComplete is called once
// per accepted chunk.
func NewStreamWriter(w io.Writer, onComplete func(error)) *StreamWriter {
	s := &StreamWriter{
		w:          w,
		onComplete: onComplete,
		chunks:     make(chan []byte, 1),
		done:       make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go s.run()
	return s
}

// SubmitWrite hands chunk to the worker
func (s *StreamWriter) SubmitWrite(chunk []byte) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.chunks <- chunk:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

func (s *StreamWriter) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.chunks:
			err := writeFull(s.w, chunk)
			if s.onComplete != nil {
				s.onComplete(err)
			}
		}
	}
}

func writeFull(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return err
}

// Close stops the worker after any write in progress. It does not close
// the underlying writer.
func (s *StreamWriter) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})
	<-s.exited
	return nil
}
