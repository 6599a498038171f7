// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"bytes"
	"time"
)

// Packet is one decoded frame: a type code and its opaque payload.
// The decoder hands ownership of Data to the caller.
type Packet struct {
	ID   byte
	Data []byte

	timestamp time.Time
}

// NewPacket creates a packet with the given type code and payload
func NewPacket(id PacketType, data []byte) Packet {
	return Packet{ID: byte(id), Data: data, timestamp: time.Now()}
}

// Type returns the packet's type code
func (p Packet) Type() PacketType {
	return PacketType(p.ID)
}

// Length returns the value of the LENGTH field for this packet
func (p Packet) Length() int {
	return IDSize + len(p.Data)
}

// Timestamp returns when the packet was decoded or built
func (p Packet) Timestamp() time.Time {
	return p.timestamp
}

// Equal reports structural equality: same id and identical payload bytes.
// A nil and an empty payload are equal.
func (p Packet) Equal(other Packet) bool {
	return p.ID == other.ID && bytes.Equal(p.Data, other.Data)
}

// Key returns a comparable representation suitable for map keys
func (p Packet) Key() string {
	return string(append([]byte{p.ID}, p.Data...))
}
