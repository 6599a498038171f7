// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"errors"
	"fmt"
	"math"
)

// AnomalyType represents different types of packet anomalies
type AnomalyType int

const (
	AnomalyUnknownType AnomalyType = iota
	AnomalyLengthMismatch
	AnomalyCountMismatch
	AnomalyMissingLabel
	AnomalyInvalidPH
	AnomalyInvalidTemp
	AnomalyInvalidValue
)

func (a AnomalyType) String() string {
	switch a {
	case AnomalyUnknownType:
		return "unknown_type"
	case AnomalyLengthMismatch:
		return "length_mismatch"
	case AnomalyCountMismatch:
		return "count_mismatch"
	case AnomalyMissingLabel:
		return "missing_label"
	case AnomalyInvalidPH:
		return "invalid_ph"
	case AnomalyInvalidTemp:
		return "invalid_temp"
	default:
		return "invalid_value"
	}
}

// Plausible ranges for logger readings
const (
	minPH        = 0.0
	maxPH        = 14.0
	minWaterTemp = -5.0
	maxWaterTemp = 50.0
)

// ValidationError represents a packet validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidatePacket validates packet structure and detects anomalies.
// Returns a slice of validation errors (empty if packet is valid)
func ValidatePacket(p Packet) []ValidationError {
	t := p.Type()
	if !t.Known() {
		return []ValidationError{{
			Type:    AnomalyUnknownType,
			Message: fmt.Sprintf("Unknown packet type 0x%02X", p.ID),
			Details: map[string]interface{}{"id": p.ID},
		}}
	}

	switch t {
	case TypeBatchData:
		return validateBatch(p)
	case TypeCurrentReading:
		return validateCurrentReading(p)
	}
	return nil
}

// validateBatch validates a BATCH_DATA packet
func validateBatch(p Packet) []ValidationError {
	errs := []ValidationError{}
	b := DecodeBatch(p.Data)

	if len(p.Data) < batchHeaderSize {
		errs = append(errs, ValidationError{
			Type:    AnomalyLengthMismatch,
			Message: fmt.Sprintf("BATCH_DATA payload too short (%d bytes, need at least %d)", len(p.Data), batchHeaderSize),
			Details: map[string]interface{}{"length": len(p.Data), "minimum": batchHeaderSize},
		})
	}

	if b.Truncated() {
		errs = append(errs, ValidationError{
			Type:    AnomalyCountMismatch,
			Message: fmt.Sprintf("BATCH_DATA announced %d entries, decoded %d", b.Count, len(b.Entries)),
			Details: map[string]interface{}{"count": b.Count, "decoded": len(b.Entries)},
		})
	}

	if b.Label == SentinelLabel || b.Label == "" {
		errs = append(errs, ValidationError{
			Type:    AnomalyMissingLabel,
			Message: "BATCH_DATA carries no label",
			Details: map[string]interface{}{"label": b.Label},
		})
	}

	for i, e := range b.Entries {
		if math.IsNaN(float64(e.Value)) || math.IsInf(float64(e.Value), 0) {
			errs = append(errs, ValidationError{
				Type:    AnomalyInvalidValue,
				Message: fmt.Sprintf("Entry %d value is not finite", i),
				Details: map[string]interface{}{"index": i, "value": e.Value},
			})
		}
	}

	return errs
}

// validateCurrentReading validates a CURRENT_READING packet
func validateCurrentReading(p Packet) []ValidationError {
	c, err := DecodeCurrentReading(p.Data)
	if err != nil {
		var malformed *MalformedPacketError
		details := map[string]interface{}{"length": len(p.Data)}
		if errors.As(err, &malformed) {
			details["expected"] = malformed.Expected
		}
		return []ValidationError{{
			Type:    AnomalyLengthMismatch,
			Message: err.Error(),
			Details: details,
		}}
	}

	errs := []ValidationError{}
	if c.PH < minPH || c.PH > maxPH || math.IsNaN(float64(c.PH)) {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidPH,
			Message: fmt.Sprintf("pH out of range (%.3f, valid: %.0f to %.0f)", c.PH, minPH, maxPH),
			Details: map[string]interface{}{"value": c.PH, "min": minPH, "max": maxPH},
		})
	}
	if c.Temperature < minWaterTemp || c.Temperature > maxWaterTemp || math.IsNaN(float64(c.Temperature)) {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidTemp,
			Message: fmt.Sprintf("Temperature out of range (%.1fC, valid: %.0f to %.0fC)", c.Temperature, minWaterTemp, maxWaterTemp),
			Details: map[string]interface{}{"value": c.Temperature, "min": minWaterTemp, "max": maxWaterTemp},
		})
	}
	if c.Salinity < 0 || c.Conductivity < 0 {
		errs = append(errs, ValidationError{
			Type:    AnomalyInvalidValue,
			Message: fmt.Sprintf("Negative salinity or conductivity (sa=%.2f, co=%.2f)", c.Salinity, c.Conductivity),
			Details: map[string]interface{}{"salinity": c.Salinity, "conductivity": c.Conductivity},
		})
	}
	return errs
}
