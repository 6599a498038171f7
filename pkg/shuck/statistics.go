// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package shuck

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Statistics tracks packet statistics and error rates
type Statistics struct {
	StartTime      time.Time
	LastUpdateTime time.Time

	// Counters
	TotalPackets     uint64
	ValidPackets     uint64
	DiscardedBytes   uint64
	MalformedPackets uint64
	CountMismatches  uint64
	MissingLabels    uint64
	AnomalousValues  uint64
	UnknownTypes     uint64
	ByType           map[PacketType]uint64

	// Rates (calculated)
	PacketRate float64 // packets/sec
	ErrorRate  float64 // errors/sec
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	now := time.Now()
	return &Statistics{
		StartTime:      now,
		LastUpdateTime: now,
		ByType:         make(map[PacketType]uint64),
	}
}

// Update updates statistics based on a packet and its validation errors
func (s *Statistics) Update(packet Packet, validationErrors []ValidationError) {
	s.TotalPackets++
	s.ByType[packet.Type()]++

	if len(validationErrors) == 0 {
		s.ValidPackets++
	}
	for _, err := range validationErrors {
		switch err.Type {
		case AnomalyUnknownType:
			s.UnknownTypes++
		case AnomalyLengthMismatch:
			s.MalformedPackets++
		case AnomalyCountMismatch:
			s.CountMismatches++
			s.MalformedPackets++
		case AnomalyMissingLabel:
			s.MissingLabels++
		default:
			s.AnomalousValues++
		}
	}

	s.LastUpdateTime = time.Now()
}

// AddDiscarded records bytes dropped while hunting for sync
func (s *Statistics) AddDiscarded(n uint64) {
	s.DiscardedBytes += n
}

// Errors returns the number of packets counted as errors
func (s *Statistics) Errors() uint64 {
	return s.MalformedPackets + s.AnomalousValues + s.UnknownTypes
}

// CalculateRates calculates packet and error rates
func (s *Statistics) CalculateRates() {
	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed > 0 {
		s.PacketRate = float64(s.TotalPackets) / elapsed
		s.ErrorRate = float64(s.Errors()) / elapsed
	}
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	s.CalculateRates()

	var validPercent float64
	if s.TotalPackets > 0 {
		validPercent = float64(s.ValidPackets) * 100.0 / float64(s.TotalPackets)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "=== Statistics (%.0f seconds) ===\n", time.Since(s.StartTime).Seconds())
	fmt.Fprintf(&b, "Total Packets:   %8d\n", s.TotalPackets)
	fmt.Fprintf(&b, "Valid Packets:   %8d (%.1f%%)\n", s.ValidPackets, validPercent)
	if s.DiscardedBytes > 0 {
		fmt.Fprintf(&b, "Discarded Bytes: %8d\n", s.DiscardedBytes)
	}
	if s.MalformedPackets > 0 {
		fmt.Fprintf(&b, "Malformed Pkts:  %8d\n", s.MalformedPackets)
		if s.CountMismatches > 0 {
			fmt.Fprintf(&b, "  Count Mismatch:   %5d\n", s.CountMismatches)
		}
	}
	if s.MissingLabels > 0 {
		fmt.Fprintf(&b, "Missing Labels:  %8d\n", s.MissingLabels)
	}
	if s.AnomalousValues > 0 {
		fmt.Fprintf(&b, "Anomalous Values:%8d\n", s.AnomalousValues)
	}
	if s.UnknownTypes > 0 {
		fmt.Fprintf(&b, "Unknown Types:   %8d\n", s.UnknownTypes)
	}

	types := make([]PacketType, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	for _, t := range types {
		fmt.Fprintf(&b, "  %-16s %6d\n", t.String()+":", s.ByType[t])
	}

	fmt.Fprintf(&b, "Packet Rate:     %8.1f pkts/sec\n", s.PacketRate)
	fmt.Fprintf(&b, "Error Rate:      %8.1f errors/sec\n", s.ErrorRate)
	b.WriteString("================================\n")
	return b.String()
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	*s = *NewStatistics()
}
