// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrPayloadTooLarge is returned when a payload does not fit the 16-bit
// LENGTH field.
var ErrPayloadTooLarge = errors.New("payload too large")

// EncodeFrame creates a complete wire-formatted frame.
// LENGTH is always 1 + len(payload) and matches the bytes written.
func EncodeFrame(id byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxDataSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxDataSize)
	}

	frame := make([]byte, 0, HeaderSize+len(payload))
	frame = append(frame, SyncPattern[:]...)
	frame = binary.LittleEndian.AppendUint16(frame, uint16(IDSize+len(payload)))
	frame = append(frame, id)
	frame = append(frame, payload...)
	return frame, nil
}

// EncodePacket encodes a Packet to wire format.
func EncodePacket(p Packet) ([]byte, error) {
	return EncodeFrame(p.ID, p.Data)
}

// MustEncodePacket encodes a Packet to wire format.
// Panics on encoding error (use EncodePacket for error handling).
func MustEncodePacket(p Packet) []byte {
	data, err := EncodePacket(p)
	if err != nil {
		panic(fmt.Sprintf("shuck: encode error: %v", err))
	}
	return data
}

// payloadWriter appends little-endian fields to a payload buffer.
type payloadWriter struct {
	buf []byte
}

func newPayloadWriter(capacity int) *payloadWriter {
	return &payloadWriter{buf: make([]byte, 0, capacity)}
}

func (w *payloadWriter) byte(b byte) *payloadWriter {
	w.buf = append(w.buf, b)
	return w
}

func (w *payloadWriter) int32(v int32) *payloadWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(v))
	return w
}

func (w *payloadWriter) float32(v float32) *payloadWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(v))
	return w
}

// cstring appends s followed by a NUL terminator
func (w *payloadWriter) cstring(s string) *payloadWriter {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	return w
}

func (w *payloadWriter) bytes() []byte {
	return w.buf
}
