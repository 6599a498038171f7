// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import "time"

// ResyncMode selects how a sync mismatch is handled.
type ResyncMode int

const (
	// ResyncRetry retests the mismatching byte against the first pattern
	// byte, so a frame immediately following a partial sync is not lost.
	ResyncRetry ResyncMode = iota
	// ResyncStrict resets the match cursor and consumes the mismatching
	// byte, as the logger's original Android client did.
	ResyncStrict
)

// State is the decoder state between two bytes.
//
// Exactly one phase is active. Remaining counts the bytes still needed to
// finish the phase and is never negative. Data is only allocated in
// PhaseData and is sized to LENGTH-1.
type State struct {
	Phase     Phase
	Remaining int
	Length    uint16
	ID        byte
	Data      []byte
}

// Effects is what a single transition produced.
type Effects struct {
	// Packet is set when the byte completed a frame.
	Packet *Packet
	// Discarded counts bytes given up while hunting for sync.
	Discarded int
}

// InitialState returns the state of a decoder that has seen no bytes.
func InitialState() State {
	return State{Phase: PhaseSync, Remaining: SyncSize}
}

// Step advances the state machine by one byte. It is a pure transition
// except that the Data buffer of s is filled in place; callers must treat
// the input state as consumed.
func Step(s State, b byte, mode ResyncMode) (State, Effects) {
	switch s.Phase {
	case PhaseSync:
		cursor := SyncSize - s.Remaining
		if b == SyncPattern[cursor] {
			s.Remaining--
			if s.Remaining == 0 {
				return State{Phase: PhaseLength, Remaining: LengthSize}, Effects{}
			}
			return s, Effects{}
		}
		// Mismatch: the partial match and this byte are dropped, unless
		// the byte can open a fresh candidate.
		if mode == ResyncRetry && b == SyncPattern[0] {
			return State{Phase: PhaseSync, Remaining: SyncSize - 1}, Effects{Discarded: cursor}
		}
		return InitialState(), Effects{Discarded: cursor + 1}

	case PhaseLength:
		shift := 8 * (LengthSize - s.Remaining)
		s.Length |= uint16(b) << shift
		s.Remaining--
		if s.Remaining == 0 {
			return State{Phase: PhaseID, Remaining: IDSize, Length: s.Length}, Effects{}
		}
		return s, Effects{}

	case PhaseID:
		dataLen := int(s.Length) - IDSize
		if dataLen <= 0 {
			return InitialState(), Effects{Packet: &Packet{ID: b}}
		}
		return State{
			Phase:     PhaseData,
			Remaining: dataLen,
			Length:    s.Length,
			ID:        b,
			Data:      make([]byte, dataLen),
		}, Effects{}

	case PhaseData:
		s.Data[len(s.Data)-s.Remaining] = b
		s.Remaining--
		if s.Remaining == 0 {
			return InitialState(), Effects{Packet: &Packet{ID: s.ID, Data: s.Data}}
		}
		return s, Effects{}
	}

	// Unreachable for states built by this package; recover by hunting
	// for sync again.
	return InitialState(), Effects{Discarded: 1}
}

// DecoderOption configures a Decoder
type DecoderOption func(*Decoder)

// WithStrictResync makes the decoder consume a byte that breaks a partial
// sync match instead of retesting it.
func WithStrictResync() DecoderOption {
	return func(d *Decoder) {
		d.mode = ResyncStrict
	}
}

// Decoder extracts packets from an arbitrarily chunked byte stream.
//
// Completed packets are queued in arrival order until taken. The decoder
// never blocks and applies no backpressure. It is not safe for concurrent
// use; confine it to the goroutine reading the link.
type Decoder struct {
	state   State
	mode    ResyncMode
	packets []Packet

	discarded uint64
	decoded   uint64
}

// NewDecoder creates a new protocol decoder
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		state: InitialState(),
		mode:  ResyncRetry,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Reset drops any partial frame and queued packets
func (d *Decoder) Reset() {
	d.state = InitialState()
	d.packets = nil
}

// State returns the current decoder state
func (d *Decoder) State() State {
	return d.state
}

// Phase returns the current decoder phase
func (d *Decoder) Phase() Phase {
	return d.state.Phase
}

// Discarded returns the number of bytes dropped while hunting for sync
func (d *Decoder) Discarded() uint64 {
	return d.discarded
}

// Decoded returns the number of packets completed so far
func (d *Decoder) Decoded() uint64 {
	return d.decoded
}

// DecodeByte processes a single byte through the decoder state machine.
// A completed packet is returned directly rather than queued.
func (d *Decoder) DecodeByte(b byte) *Packet {
	next, fx := Step(d.state, b, d.mode)
	d.state = next
	d.discarded += uint64(fx.Discarded)
	if fx.Packet == nil {
		return nil
	}
	d.decoded++
	fx.Packet.timestamp = time.Now()
	return fx.Packet
}

// Feed consumes a chunk of the stream and queues every packet it
// completes. Any chunking of the same stream yields the same packets.
func (d *Decoder) Feed(p []byte) {
	for _, b := range p {
		if pkt := d.DecodeByte(b); pkt != nil {
			d.packets = append(d.packets, *pkt)
		}
	}
}

// Write implements io.Writer so a link can be copied into the decoder.
// It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.Feed(p)
	return len(p), nil
}

// HasPackets reports whether completed packets are waiting
func (d *Decoder) HasPackets() bool {
	return len(d.packets) > 0
}

// Pending returns the number of completed packets waiting
func (d *Decoder) Pending() int {
	return len(d.packets)
}

// TakePacket removes and returns the oldest completed packet
func (d *Decoder) TakePacket() (Packet, bool) {
	if len(d.packets) == 0 {
		return Packet{}, false
	}
	p := d.packets[0]
	d.packets[0] = Packet{}
	d.packets = d.packets[1:]
	if len(d.packets) == 0 {
		d.packets = nil
	}
	return p, true
}

// Drain removes and returns all completed packets in arrival order
func (d *Decoder) Drain() []Packet {
	out := d.packets
	d.packets = nil
	return out
}
