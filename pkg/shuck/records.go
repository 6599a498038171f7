// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrShortPayload is wrapped by MalformedPacketError when a payload ends
// before a required field.
var ErrShortPayload = errors.New("payload too short")

// MalformedPacketError reports a packet whose payload cannot be decoded.
type MalformedPacketError struct {
	Type     PacketType
	Length   int
	Expected int
}

// Error implements the error interface
func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed %s packet: %d payload bytes, need %d", e.Type, e.Length, e.Expected)
}

// Unwrap lets errors.Is match ErrShortPayload
func (e *MalformedPacketError) Unwrap() error {
	return ErrShortPayload
}

// DataEntry is one stored sample.
type DataEntry struct {
	UnixTime int32
	Value    float32
}

// Time returns the sample time in UTC
func (e DataEntry) Time() time.Time {
	return time.Unix(int64(e.UnixTime), 0).UTC()
}

// Batch is the decoded payload of a BATCH_DATA packet.
type Batch struct {
	SensorID byte
	Count    byte // entry count announced by the logger
	Entries  []DataEntry
	Label    string
}

// Truncated reports whether fewer entries were decoded than announced
func (b Batch) Truncated() bool {
	return len(b.Entries) < int(b.Count)
}

// CurrentReading is the decoded payload of a CURRENT_READING packet.
type CurrentReading struct {
	SensorID     byte
	Count        byte
	PH           float32
	Temperature  float32
	Salinity     float32
	Conductivity float32
}

// DecodeBatch decodes a BATCH_DATA payload:
//
//	ID(1) | COUNT(1) | COUNT x (TIME int32, VALUE float32) | LABEL | NUL
//
// Decoding never fails. Missing header fields default to zero, entries
// that do not fit in the buffer are dropped, and a label missing from an
// exhausted buffer becomes SentinelLabel.
func DecodeBatch(data []byte) Batch {
	r := newPayloadReader(data)
	var b Batch
	if r.remaining() > 0 {
		b.SensorID = r.byte()
	}
	if r.remaining() > 0 {
		b.Count = r.byte()
	}
	for i := 0; i < int(b.Count) && r.remaining() >= entrySize; i++ {
		b.Entries = append(b.Entries, DataEntry{
			UnixTime: r.int32(),
			Value:    r.float32(),
		})
	}
	// A partial entry cannot be told apart from a label; only consume the
	// tail as a label once all announced entries were read.
	if len(b.Entries) < int(b.Count) {
		b.Label = SentinelLabel
		return b
	}
	if r.remaining() == 0 {
		b.Label = SentinelLabel
		return b
	}
	// A lone terminator is an empty label, not a missing one
	b.Label = strings.TrimSuffix(string(r.rest()), "\x00")
	return b
}

// EncodeBatch builds a BATCH_DATA payload. Count is taken from Entries.
func EncodeBatch(b Batch) []byte {
	w := newPayloadWriter(batchHeaderSize + entrySize*len(b.Entries) + len(b.Label) + 1).
		byte(b.SensorID).
		byte(byte(len(b.Entries)))
	for _, e := range b.Entries {
		w.int32(e.UnixTime).float32(e.Value)
	}
	return w.cstring(b.Label).bytes()
}

// DecodeCurrentReading decodes a CURRENT_READING payload:
//
//	ID(1) | COUNT(1) | PH float32 | TEMP float32 | SALINITY float32 | CONDUCTIVITY float32
//
// Unlike BATCH_DATA, every field is required.
func DecodeCurrentReading(data []byte) (CurrentReading, error) {
	if len(data) < currentReadingSize {
		return CurrentReading{}, &MalformedPacketError{
			Type:     TypeCurrentReading,
			Length:   len(data),
			Expected: currentReadingSize,
		}
	}
	r := newPayloadReader(data)
	return CurrentReading{
		SensorID:     r.byte(),
		Count:        r.byte(),
		PH:           r.float32(),
		Temperature:  r.float32(),
		Salinity:     r.float32(),
		Conductivity: r.float32(),
	}, nil
}

// EncodeCurrentReading builds a CURRENT_READING payload.
func EncodeCurrentReading(c CurrentReading) []byte {
	return newPayloadWriter(currentReadingSize).
		byte(c.SensorID).
		byte(c.Count).
		float32(c.PH).
		float32(c.Temperature).
		float32(c.Salinity).
		float32(c.Conductivity).
		bytes()
}

// payloadReader reads little-endian fields. Callers check remaining()
// before reading; reads past the end panic like any slice access.
type payloadReader struct {
	buf []byte
	off int
}

func newPayloadReader(buf []byte) *payloadReader {
	return &payloadReader{buf: buf}
}

func (r *payloadReader) remaining() int {
	return len(r.buf) - r.off
}

func (r *payloadReader) byte() byte {
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *payloadReader) int32() int32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return int32(v)
}

func (r *payloadReader) float32() float32 {
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return math.Float32frombits(v)
}

func (r *payloadReader) rest() []byte {
	b := r.buf[r.off:]
	r.off = len(r.buf)
	return b
}

// cstring reads up to the next NUL (or the end of the buffer)
func (r *payloadReader) cstring() string {
	rest := r.rest()
	for i, b := range rest {
		if b == 0 {
			return string(rest[:i])
		}
	}
	return string(rest)
}
