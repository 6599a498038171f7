// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package shuck implements the Shuck sensor link protocol.
//
// Shuck is a small framed binary protocol spoken between a handheld
// controller and a remote water-quality logger over a BLE UART bridge.
// Frames are symmetric in both directions:
//
//	SYNC(4) | LENGTH(2, little-endian) | ID(1) | DATA(LENGTH-1)
//
// LENGTH counts the ID byte plus the payload, so an empty packet has
// LENGTH = 1. There is no checksum; the decoder recovers from corruption
// by hunting for the next sync pattern.
//
// This package provides the streaming decoder, the command encoder,
// payload record decoding, validation and formatting.
package shuck

// SyncPattern marks the start of every frame.
var SyncPattern = [4]byte{0x01, 0x02, 0x03, 0x04}

// Frame layout
const (
	SyncSize    = len(SyncPattern)
	LengthSize  = 2
	IDSize      = 1
	HeaderSize  = SyncSize + LengthSize + IDSize // 7
	MaxLength   = 0xFFFF
	MaxDataSize = MaxLength - IDSize
)

// MaxWriteSize is the largest single write the BLE characteristic accepts
// with the default ATT MTU (23 - 3 bytes of ATT header).
const MaxWriteSize = 20

// ATT MTU bounds
const (
	MinATTMTU       = 23
	MaxATTMTU       = 517
	ATTHeaderLength = 3
)

// PacketType is the one-byte type code carried in the ID field.
type PacketType byte

// Packet type codes
const (
	TypePing           PacketType = 0x00
	TypeHealth         PacketType = 0x01
	TypeConfig         PacketType = 0x02
	TypeRTCError       PacketType = 0x04
	TypeSDError        PacketType = 0x05
	TypeDeviceError    PacketType = 0x06
	TypeCurrentReading PacketType = 0x07
	TypeBatchData      PacketType = 0x08
)

// String returns the wire name of the packet type
func (t PacketType) String() string {
	return FormatMessageType(byte(t))
}

// Known reports whether t is a type code defined by the protocol
func (t PacketType) Known() bool {
	switch t {
	case TypePing, TypeHealth, TypeConfig, TypeRTCError, TypeSDError,
		TypeDeviceError, TypeCurrentReading, TypeBatchData:
		return true
	}
	return false
}

// IsFault reports whether t is one of the device health fault types
func (t PacketType) IsFault() bool {
	return t == TypeRTCError || t == TypeSDError || t == TypeDeviceError
}

// ConfigFlags selects which fields of a CONFIG packet the logger applies.
type ConfigFlags uint8

// Config flag bits
const (
	ConfigTime ConfigFlags = 1 << iota
	ConfigPeriod
	ConfigStdTemp
	ConfigStdPHLow
	ConfigStdPHHigh
	ConfigStdLowCon
	ConfigStdHighCon
	ConfigReserved
)

// Flag sets used by the field firmware
const (
	// 0b0000_0011
	PeriodConfigFlags = ConfigTime | ConfigPeriod
	// 0b0001_1101
	CalibrationConfigFlags = ConfigTime | ConfigStdTemp | ConfigStdPHLow | ConfigStdPHHigh
)

// ConfigFieldCount is the number of 32-bit fields following FLAGS in a
// CONFIG payload. Every CONFIG frame carries all of them.
const ConfigFieldCount = 8

// ConfigPayloadSize is FLAGS + eight 32-bit fields.
const ConfigPayloadSize = 1 + ConfigFieldCount*4

// Batch record layout
const (
	batchHeaderSize = 2 // sensor id + entry count
	entrySize       = 8 // int32 time + float32 value

	currentReadingSize = 2 + 4*4
)

// SentinelLabel is reported when a BATCH_DATA payload carries no label.
const SentinelLabel = "inv"

// Measurement labels understood by the logger firmware
const (
	LabelPH           = "pH"
	LabelTemperature  = "tp"
	LabelSalinity     = "sa"
	LabelConductivity = "co"
)

// Labels lists the requestable measurement kinds in display order.
var Labels = []string{LabelPH, LabelTemperature, LabelSalinity, LabelConductivity}

// Decoder phases
type Phase int

const (
	PhaseSync Phase = iota
	PhaseLength
	PhaseID
	PhaseData
)

func (p Phase) String() string {
	switch p {
	case PhaseSync:
		return "SYNC"
	case PhaseLength:
		return "LENGTH"
	case PhaseID:
		return "ID"
	case PhaseData:
		return "DATA"
	default:
		return "INVALID"
	}
}
