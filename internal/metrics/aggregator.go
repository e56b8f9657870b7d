// Package metrics keeps a short window of resource samples per server and
// derives current snapshots and trend summaries from it.
package metrics

import (
	"fmt"

	"github.com/nidhogg/server-doctor/internal/ringbuf"
	"go.uber.org/zap"
)

// RawSample is a pushed measurement as the forwarder reports it.
type RawSample struct {
	TS        int64   `json:"ts"`
	CPUUsage  float64 `json:"cpuUsage"`   // ratio, 0.0–1.0
	MemUsed   float64 `json:"memoryUsed"` // bytes
	MemMax    float64 `json:"memoryMax"`  // bytes
}

// Sample is a retained measurement in human units.
type Sample struct {
	TS         int64
	CPUPercent float64
	MemUsedMB  float64
	MemMaxMB   float64
}

// MemPercent returns memory utilization in percent. A zero or negative
// denominator yields 0 rather than a division error.
func (s Sample) MemPercent() float64 {
	if s.MemMaxMB <= 0 {
		return 0
	}
	return s.MemUsedMB / s.MemMaxMB * 100
}

// Snapshot is the most recent sample for a server.
type Snapshot struct {
	CPUPercent float64 `json:"cpuPercent"`
	MemUsedMB  float64 `json:"memUsedMb"`
	MemMaxMB   float64 `json:"memMaxMb"`
	Found      bool    `json:"found"`
}

// TrendThresholds control breach counting in trend reports. Alerting uses a
// different memory threshold than trend reporting, so both stay configurable.
type TrendThresholds struct {
	CPUHigh float64
	MemHigh float64
}

// DefaultTrendThresholds match the thresholds the trend report has always
// used: CPU 80%, memory 90%.
var DefaultTrendThresholds = TrendThresholds{CPUHigh: 80, MemHigh: 90}

const (
	// DefaultCapacity approximates a ten-minute window at the forwarder's
	// sampling interval.
	DefaultCapacity = 50

	// TrendNoData is returned when a server has no retained samples.
	TrendNoData = "no metric data"

	bytesPerMB = 1024 * 1024
)

// Aggregator owns the per-server metric ring buffers.
type Aggregator struct {
	buf        *ringbuf.Store[Sample]
	thresholds TrendThresholds
	logger     *zap.Logger
}

// NewAggregator creates an aggregator with the given per-server capacity.
func NewAggregator(capacity int, thresholds TrendThresholds, logger *zap.Logger) *Aggregator {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if thresholds.CPUHigh <= 0 {
		thresholds.CPUHigh = DefaultTrendThresholds.CPUHigh
	}
	if thresholds.MemHigh <= 0 {
		thresholds.MemHigh = DefaultTrendThresholds.MemHigh
	}
	return &Aggregator{
		buf:        ringbuf.NewStore[Sample](capacity),
		thresholds: thresholds,
		logger:     logger,
	}
}

// Ingest converts a raw sample to human units and appends it. The converted
// sample is returned so the caller can threshold-check for alerting.
func (a *Aggregator) Ingest(server string, raw RawSample) Sample {
	s := Sample{
		TS:         raw.TS,
		CPUPercent: raw.CPUUsage * 100,
		MemUsedMB:  raw.MemUsed / bytesPerMB,
		MemMaxMB:   raw.MemMax / bytesPerMB,
	}
	a.buf.Append(server, s)
	a.logger.Debug("metric ingested",
		zap.String("server", server),
		zap.Float64("cpu", s.CPUPercent))
	return s
}

// Current returns the latest sample for server, or Found=false when none.
func (a *Aggregator) Current(server string) Snapshot {
	recent := a.buf.Snapshot(server, 1)
	if len(recent) == 0 {
		return Snapshot{}
	}
	s := recent[0]
	return Snapshot{
		CPUPercent: s.CPUPercent,
		MemUsedMB:  s.MemUsedMB,
		MemMaxMB:   s.MemMaxMB,
		Found:      true,
	}
}

// Trend summarizes the full retained window: average CPU and memory percent,
// threshold breach counts, and the maximum CPU observed when breached. The
// stable summary contains the word "stable"; the pressure summary does not,
// so callers can branch on it.
func (a *Aggregator) Trend(server string) string {
	window := a.buf.Snapshot(server, a.buf.Capacity())
	if len(window) == 0 {
		return TrendNoData
	}

	var sumCPU, sumMem, maxCPU float64
	highCPU, highMem := 0, 0
	for _, s := range window {
		sumCPU += s.CPUPercent
		sumMem += s.MemPercent()
		if s.CPUPercent > a.thresholds.CPUHigh {
			highCPU++
		}
		if s.MemPercent() > a.thresholds.MemHigh {
			highMem++
		}
		if s.CPUPercent > maxCPU {
			maxCPU = s.CPUPercent
		}
	}
	n := float64(len(window))
	stats := fmt.Sprintf("(avg CPU: %.1f%% / avg RAM: %.1f%%)", sumCPU/n, sumMem/n)

	if highCPU > 0 || highMem > 0 {
		return fmt.Sprintf(
			"resource instability in the recent window: %s\n- CPU above %.0f%%: %d times (peak %.1f%%)\n- memory above %.0f%%: %d times",
			stats, a.thresholds.CPUHigh, highCPU, maxCPU, a.thresholds.MemHigh, highMem)
	}
	return "system resources have been stable over the recent window " + stats
}
