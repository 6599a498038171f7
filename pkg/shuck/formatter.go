// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"fmt"
	"strings"
	"time"
)

// FormatPacket formats a packet into a human-readable string
func FormatPacket(p Packet) string {
	timestamp := p.timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	result := fmt.Sprintf("[%s] %s (0x%02X) len=%d\n",
		timestamp.Format("15:04:05.000"), FormatMessageType(p.ID), p.ID, p.Length())
	return result + FormatPayload(p.Type(), p.Data)
}

// FormatMessageType returns the human-readable name for a type code
func FormatMessageType(id byte) string {
	switch PacketType(id) {
	case TypePing:
		return "PING"
	case TypeHealth:
		return "HEALTH"
	case TypeConfig:
		return "CONFIG"
	case TypeRTCError:
		return "RTC_ERROR"
	case TypeSDError:
		return "SD_ERROR"
	case TypeDeviceError:
		return "DEVICE_ERROR"
	case TypeCurrentReading:
		return "CURRENT_READING"
	case TypeBatchData:
		return "BATCH_DATA"
	default:
		return "UNKNOWN"
	}
}

// FormatPayload formats a payload based on its packet type
func FormatPayload(t PacketType, data []byte) string {
	switch t {
	case TypePing:
		return "  Ping OK\n"

	case TypeHealth:
		if len(data) == 0 {
			return "  Device is healthy\n"
		}

	case TypeRTCError:
		return "  Device NOT healthy: real-time clock fault\n"

	case TypeSDError:
		return "  Device NOT healthy: SD card fault\n"

	case TypeDeviceError:
		return "  Device NOT healthy: pH probe fault\n"

	case TypeConfig:
		if len(data) == 0 {
			return "  Configuration complete\n"
		}
		if cfg, err := DecodeConfig(data); err == nil {
			return FormatConfig(cfg)
		}

	case TypeCurrentReading:
		c, err := DecodeCurrentReading(data)
		if err != nil {
			return fmt.Sprintf("  %v\n", err)
		}
		return fmt.Sprintf("  Sensor: %d, pH: %.3f, tp: %.2fC, sa: %.2f, co: %.2f\n",
			c.SensorID, c.PH, c.Temperature, c.Salinity, c.Conductivity)

	case TypeBatchData:
		b := DecodeBatch(data)
		return FormatBatch(b)
	}

	if len(data) == 0 {
		return "  (no payload)\n"
	}
	return FormatHex(data)
}

// FormatBatch formats a decoded BATCH_DATA payload
func FormatBatch(b Batch) string {
	var s strings.Builder
	fmt.Fprintf(&s, "  Sensor: %d, Label: %s, Entries: %d/%d\n", b.SensorID, b.Label, len(b.Entries), b.Count)
	for i, e := range b.Entries {
		fmt.Fprintf(&s, "    %3d  %s  %g\n", i, e.Time().Format("2006-01-02 15:04:05"), e.Value)
	}
	return s.String()
}

// FormatConfig formats a decoded CONFIG payload
func FormatConfig(c ConfigRequest) string {
	var s strings.Builder
	fmt.Fprintf(&s, "  Flags: 0b%08b, Clock: %s\n", uint8(c.Flags),
		time.Unix(int64(c.Epoch), 0).UTC().Format(time.RFC3339))
	if c.Flags&ConfigPeriod != 0 {
		fmt.Fprintf(&s, "  Period: %s\n", time.Duration(c.Period)*time.Second)
	}
	if c.Flags&ConfigStdTemp != 0 {
		cal := c.Calibration
		fmt.Fprintf(&s, "  Standards: temp=%.2f pH=%.2f..%.2f con=%.2f..%.2f\n",
			cal.Temperature, cal.PHLow, cal.PHHigh, cal.ConductivityLow, cal.ConductivityHigh)
	}
	return s.String()
}

// FormatHex renders bytes as a hex dump, 16 per line
func FormatHex(data []byte) string {
	var s strings.Builder
	s.WriteString("  Payload: ")
	for i, b := range data {
		if i > 0 && i%16 == 0 {
			s.WriteString("\n           ")
		}
		fmt.Fprintf(&s, "%02X ", b)
	}
	s.WriteString("\n")
	return s.String()
}

// HexString renders bytes as "0x01 02 ..." for logs
func HexString(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return "0x" + strings.Join(parts, " ")
}
