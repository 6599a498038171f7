// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"errors"
	"math"
	"testing"
)

// ============================================================
// BATCH_DATA Tests
// ============================================================

func TestDecodeBatch_Example(t *testing.T) {
	data := []byte{
		0x04, 0x01,
		0xE8, 0x03, 0x00, 0x00,
		0x00, 0x00, 0x60, 0x40,
		'p', 'H', 0x00,
	}
	b := DecodeBatch(data)

	if b.SensorID != 4 || b.Count != 1 {
		t.Errorf("header = %d/%d, want 4/1", b.SensorID, b.Count)
	}
	if len(b.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(b.Entries))
	}
	if b.Entries[0].UnixTime != 1000 || b.Entries[0].Value != 3.5 {
		t.Errorf("entry = %+v, want {1000 3.5}", b.Entries[0])
	}
	if b.Label != "pH" {
		t.Errorf("label = %q, want \"pH\"", b.Label)
	}
	if b.Truncated() {
		t.Error("batch should not be truncated")
	}
}

func TestDecodeBatch_Graceful(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantID      byte
		wantCount   byte
		wantEntries int
		wantLabel   string
	}{
		{"empty", nil, 0, 0, 0, SentinelLabel},
		{"id only", []byte{0x07}, 7, 0, 0, SentinelLabel},
		{"no entries no label", []byte{0x07, 0x00}, 7, 0, 0, SentinelLabel},
		{"label without NUL", []byte{0x02, 0x00, 't', 'p'}, 2, 0, 0, "tp"},
		{"label with NUL", []byte{0x02, 0x00, 't', 'p', 0x00}, 2, 0, 0, "tp"},
		{"terminator only", []byte{0x02, 0x00, 0x00}, 2, 0, 0, ""},
		{
			"partial entry dropped",
			[]byte{0x01, 0x02, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x3F, 0xAA, 0xBB},
			1, 2, 1, SentinelLabel,
		},
		{
			"announced more than present",
			[]byte{0x09, 0x05, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x3F},
			9, 5, 1, SentinelLabel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := DecodeBatch(tt.data)
			if b.SensorID != tt.wantID {
				t.Errorf("sensor = %d, want %d", b.SensorID, tt.wantID)
			}
			if b.Count != tt.wantCount {
				t.Errorf("count = %d, want %d", b.Count, tt.wantCount)
			}
			if len(b.Entries) != tt.wantEntries {
				t.Errorf("entries = %d, want %d", len(b.Entries), tt.wantEntries)
			}
			if b.Label != tt.wantLabel {
				t.Errorf("label = %q, want %q", b.Label, tt.wantLabel)
			}
		})
	}
}

func TestEncodeBatch_RoundTrip(t *testing.T) {
	want := Batch{
		SensorID: 3,
		Entries: []DataEntry{
			{UnixTime: 1714564800, Value: 7.25},
			{UnixTime: 1714565700, Value: 7.5},
			{UnixTime: 1714566600, Value: -0.5},
		},
		Label: "co",
	}
	got := DecodeBatch(EncodeBatch(want))

	if got.SensorID != want.SensorID || got.Label != want.Label {
		t.Errorf("header mismatch: %+v", got)
	}
	if int(got.Count) != len(want.Entries) {
		t.Errorf("count = %d, want %d", got.Count, len(want.Entries))
	}
	for i := range want.Entries {
		if got.Entries[i] != want.Entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got.Entries[i], want.Entries[i])
		}
	}
}

func TestDataEntry_Time(t *testing.T) {
	e := DataEntry{UnixTime: 86400}
	if got := e.Time().Format("2006-01-02"); got != "1970-01-02" {
		t.Errorf("Time() = %s, want 1970-01-02", got)
	}
}

// ============================================================
// CURRENT_READING Tests
// ============================================================

func TestDecodeCurrentReading(t *testing.T) {
	want := CurrentReading{SensorID: 2, Count: 4, PH: 8.05, Temperature: 14.5, Salinity: 35.1, Conductivity: 53.2}
	got, err := DecodeCurrentReading(EncodeCurrentReading(want))
	if err != nil {
		t.Fatalf("DecodeCurrentReading failed: %v", err)
	}
	if got != want {
		t.Errorf("got %+v, want %+v", got, want)
	}
}

func TestDecodeCurrentReading_Short(t *testing.T) {
	full := EncodeCurrentReading(CurrentReading{SensorID: 1})
	for _, n := range []int{0, 1, 2, 10, len(full) - 1} {
		_, err := DecodeCurrentReading(full[:n])
		if !errors.Is(err, ErrShortPayload) {
			t.Errorf("len %d: err = %v, want ErrShortPayload", n, err)
			continue
		}
		var malformed *MalformedPacketError
		if !errors.As(err, &malformed) {
			t.Fatalf("len %d: error is not *MalformedPacketError", n)
		}
		if malformed.Length != n || malformed.Expected != currentReadingSize || malformed.Type != TypeCurrentReading {
			t.Errorf("len %d: %+v", n, malformed)
		}
	}
}

// ============================================================
// Validator Tests
// ============================================================

func TestValidatePacket(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
		want   []AnomalyType
	}{
		{"ping", NewPing(), nil},
		{"unknown type", NewPacket(PacketType(0x42), nil), []AnomalyType{AnomalyUnknownType}},
		{
			"good batch",
			NewPacket(TypeBatchData, EncodeBatch(Batch{SensorID: 1, Entries: []DataEntry{{1, 7}}, Label: "pH"})),
			nil,
		},
		{"empty batch", NewPacket(TypeBatchData, nil), []AnomalyType{AnomalyLengthMismatch, AnomalyMissingLabel}},
		{
			"truncated batch",
			NewPacket(TypeBatchData, []byte{0x01, 0x03, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x80, 0x3F}),
			[]AnomalyType{AnomalyCountMismatch, AnomalyMissingLabel},
		},
		{
			"nan value",
			NewPacket(TypeBatchData, EncodeBatch(Batch{Entries: []DataEntry{{1, float32(math.NaN())}}, Label: "tp"})),
			[]AnomalyType{AnomalyInvalidValue},
		},
		{"short reading", NewPacket(TypeCurrentReading, []byte{0x01}), []AnomalyType{AnomalyLengthMismatch}},
		{
			"bad pH",
			NewPacket(TypeCurrentReading, EncodeCurrentReading(CurrentReading{PH: 15, Temperature: 10})),
			[]AnomalyType{AnomalyInvalidPH},
		},
		{
			"bad temp and salinity",
			NewPacket(TypeCurrentReading, EncodeCurrentReading(CurrentReading{PH: 7, Temperature: 80, Salinity: -1})),
			[]AnomalyType{AnomalyInvalidTemp, AnomalyInvalidValue},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := ValidatePacket(tt.packet)
			if len(errs) != len(tt.want) {
				t.Fatalf("got %d errors (%v), want %d", len(errs), errs, len(tt.want))
			}
			for i, w := range tt.want {
				if errs[i].Type != w {
					t.Errorf("error %d = %s, want %s", i, errs[i].Type, w)
				}
			}
		})
	}
}

func TestStatistics_Update(t *testing.T) {
	s := NewStatistics()

	ping := NewPing()
	s.Update(ping, ValidatePacket(ping))

	bad := NewPacket(TypeBatchData, []byte{0x01, 0x03})
	s.Update(bad, ValidatePacket(bad))
	s.AddDiscarded(5)

	if s.TotalPackets != 2 || s.ValidPackets != 1 {
		t.Errorf("total/valid = %d/%d, want 2/1", s.TotalPackets, s.ValidPackets)
	}
	if s.CountMismatches != 1 || s.MissingLabels != 1 {
		t.Errorf("mismatch/missing = %d/%d, want 1/1", s.CountMismatches, s.MissingLabels)
	}
	if s.DiscardedBytes != 5 {
		t.Errorf("discarded = %d, want 5", s.DiscardedBytes)
	}
	if s.ByType[TypePing] != 1 || s.ByType[TypeBatchData] != 1 {
		t.Errorf("by type = %v", s.ByType)
	}
	if s.String() == "" {
		t.Error("String() should not be empty")
	}

	s.Reset()
	if s.TotalPackets != 0 || len(s.ByType) != 0 {
		t.Error("Reset should clear counters")
	}
}

// ============================================================
// Formatter Tests
// ============================================================

func TestFormatMessageType(t *testing.T) {
	tests := []struct {
		id   PacketType
		want string
	}{
		{TypePing, "PING"},
		{TypeHealth, "HEALTH"},
		{TypeConfig, "CONFIG"},
		{TypeRTCError, "RTC_ERROR"},
		{TypeSDError, "SD_ERROR"},
		{TypeDeviceError, "DEVICE_ERROR"},
		{TypeCurrentReading, "CURRENT_READING"},
		{TypeBatchData, "BATCH_DATA"},
		{PacketType(0x03), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.id.String(); got != tt.want {
			t.Errorf("0x%02X = %s, want %s", byte(tt.id), got, tt.want)
		}
	}
}

func TestHexString(t *testing.T) {
	if got := HexString([]byte{0x01, 0xAB}); got != "0x01 AB" {
		t.Errorf("HexString = %q", got)
	}
}
