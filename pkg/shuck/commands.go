// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Command builder functions create Packets ready for encoding.
// Layouts follow the logger firmware's Packets.h structures.

var (
	// ErrEmptyLabel is returned for a data request without a label
	ErrEmptyLabel = errors.New("label must not be empty")
	// ErrInvalidLabel is returned for a label containing a NUL byte
	ErrInvalidLabel = errors.New("label must not contain NUL")
	// ErrInvalidPeriod is returned for a sampling period that does not fit
	ErrInvalidPeriod = errors.New("invalid sampling period")
)

// Calibration holds the standard values used when calibrating the probes.
type Calibration struct {
	Temperature      float32 // reference temperature, C
	PHLow            float32
	PHHigh           float32
	ConductivityLow  float32
	ConductivityHigh float32
}

// NewPing creates a PING packet (0x00). The logger echoes it back.
func NewPing() Packet {
	return NewPacket(TypePing, nil)
}

// NewHealth creates a HEALTH packet (0x01).
// The logger answers with HEALTH when all peripherals check out, or with
// RTC_ERROR, SD_ERROR or DEVICE_ERROR.
func NewHealth() Packet {
	return NewPacket(TypeHealth, nil)
}

// NewPeriodConfig creates a CONFIG packet (0x02) that sets the logger clock
// to now and its sampling period. Period is truncated to whole seconds.
func NewPeriodConfig(now time.Time, period time.Duration) (Packet, error) {
	secs := period / time.Second
	if secs <= 0 || secs > 1<<31-1 {
		return Packet{}, fmt.Errorf("%w: %v", ErrInvalidPeriod, period)
	}

	w := newPayloadWriter(ConfigPayloadSize).
		byte(byte(PeriodConfigFlags)).
		int32(int32(now.Unix())).
		int32(int32(secs))
	for i := 0; i < ConfigFieldCount-2; i++ {
		w.int32(0) // reserved
	}
	return NewPacket(TypeConfig, w.bytes()), nil
}

// NewCalibrationConfig creates a CONFIG packet (0x02) that sets the logger
// clock and the probe calibration standards. The period field is left at
// zero and is ignored by the logger since its flag bit is clear.
func NewCalibrationConfig(now time.Time, cal Calibration) Packet {
	w := newPayloadWriter(ConfigPayloadSize).
		byte(byte(CalibrationConfigFlags)).
		int32(int32(now.Unix())).
		int32(0).
		float32(cal.Temperature).
		float32(cal.PHLow).
		float32(cal.PHHigh).
		float32(cal.ConductivityLow).
		float32(cal.ConductivityHigh).
		int32(0) // reserved
	return NewPacket(TypeConfig, w.bytes())
}

// NewDataRequest creates a DATA request (0x08) for the stored samples of
// one measurement kind between two instants. The bounds are swapped if
// given in reverse order.
func NewDataRequest(from, to time.Time, label string) (Packet, error) {
	if label == "" {
		return Packet{}, ErrEmptyLabel
	}
	if strings.IndexByte(label, 0) >= 0 {
		return Packet{}, ErrInvalidLabel
	}
	if to.Before(from) {
		from, to = to, from
	}

	w := newPayloadWriter(8 + len(label) + 1).
		int32(int32(from.Unix())).
		int32(int32(to.Unix())).
		cstring(label)
	return NewPacket(TypeBatchData, w.bytes()), nil
}

// ConfigRequest is a decoded CONFIG payload.
type ConfigRequest struct {
	Flags       ConfigFlags
	Epoch       int32
	Period      int32
	Calibration Calibration
}

// DecodeConfig parses a CONFIG payload as built by NewPeriodConfig or
// NewCalibrationConfig.
func DecodeConfig(data []byte) (ConfigRequest, error) {
	if len(data) < ConfigPayloadSize {
		return ConfigRequest{}, &MalformedPacketError{
			Type: TypeConfig, Length: len(data), Expected: ConfigPayloadSize,
		}
	}
	r := newPayloadReader(data)
	cfg := ConfigRequest{Flags: ConfigFlags(r.byte())}
	cfg.Epoch = r.int32()
	cfg.Period = r.int32()
	if cfg.Flags&(ConfigStdTemp|ConfigStdPHLow|ConfigStdPHHigh|ConfigStdLowCon|ConfigStdHighCon) != 0 {
		cfg.Calibration = Calibration{
			Temperature:      r.float32(),
			PHLow:            r.float32(),
			PHHigh:           r.float32(),
			ConductivityLow:  r.float32(),
			ConductivityHigh: r.float32(),
		}
	}
	return cfg, nil
}

// DataRequest is a decoded DATA request payload.
type DataRequest struct {
	From  time.Time
	To    time.Time
	Label string
}

// DecodeDataRequest parses the payload of a DATA request.
func DecodeDataRequest(data []byte) (DataRequest, error) {
	if len(data) < 9 {
		return DataRequest{}, &MalformedPacketError{
			Type: TypeBatchData, Length: len(data), Expected: 9,
		}
	}
	r := newPayloadReader(data)
	from := r.int32()
	to := r.int32()
	return DataRequest{
		From:  time.Unix(int64(from), 0).UTC(),
		To:    time.Unix(int64(to), 0).UTC(),
		Label: r.cstring(),
	}, nil
}
