// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package collector

import (
	"errors"
	"fmt"
	"time"

	"github.com/Thermoquad/shuckctl/pkg/shuck"
)

// ErrReservedLabel is returned for a batch whose label would overwrite one
// of the fixed measurement keys
var ErrReservedLabel = errors.New("label collides with a measurement key")

func checkLabel(label string) error {
	switch label {
	case "sensorID", "date":
		return fmt.Errorf("%w: %q", ErrReservedLabel, label)
	}
	return nil
}

// EntryPayloads renders each batch entry as the collection server's
// measurement object: {"sensorID": id, "date": unix, <label>: value}
func EntryPayloads(b shuck.Batch) ([]map[string]any, error) {
	if err := checkLabel(b.Label); err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(b.Entries))
	for _, e := range b.Entries {
		out = append(out, map[string]any{
			"sensorID": int(b.SensorID),
			"date":     int64(e.UnixTime),
			b.Label:    e.Value,
		})
	}
	return out, nil
}

// BatchPayload wraps every entry of b in a single {"batch": [...]} object
func BatchPayload(b shuck.Batch) (map[string]any, error) {
	entries, err := EntryPayloads(b)
	if err != nil {
		return nil, err
	}
	return map[string]any{"batch": entries}, nil
}

// ConnectivityPayload is the fixed measurement posted to check that the
// collection server is reachable
func ConnectivityPayload(sensorID byte, now time.Time) map[string]any {
	return map[string]any{
		"sensorID": int(sensorID),
		"test":     69,
		"date":     now.Unix(),
	}
}

// BatchRequests builds the requests for one batch: a single batch request,
// or one request per entry when perEntry is set
func BatchRequests(method, endpoint string, b shuck.Batch, perEntry bool) ([]Request, error) {
	if !perEntry {
		payload, err := BatchPayload(b)
		if err != nil {
			return nil, err
		}
		return []Request{NewRequest(method, endpoint, payload)}, nil
	}
	entries, err := EntryPayloads(b)
	if err != nil {
		return nil, err
	}
	reqs := make([]Request, 0, len(entries))
	for _, e := range entries {
		reqs = append(reqs, NewRequest(method, endpoint, e))
	}
	return reqs, nil
}
