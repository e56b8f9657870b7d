package metrics

import (
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"
)

func newAgg() *Aggregator {
	return NewAggregator(50, DefaultTrendThresholds, zap.NewNop())
}

func TestIngestConvertsUnits(t *testing.T) {
	a := newAgg()
	s := a.Ingest("srv", RawSample{
		TS:       1,
		CPUUsage: 0.42,
		MemUsed:  512 * 1024 * 1024,
		MemMax:   1024 * 1024 * 1024,
	})

	if math.Abs(s.CPUPercent-42) > 1e-9 {
		t.Errorf("cpu: got %f, want 42", s.CPUPercent)
	}
	if math.Abs(s.MemUsedMB-512) > 1e-9 {
		t.Errorf("mem used: got %f, want 512", s.MemUsedMB)
	}
	if math.Abs(s.MemPercent()-50) > 1e-9 {
		t.Errorf("mem percent: got %f, want 50", s.MemPercent())
	}
}

func TestMemPercentZeroDenominator(t *testing.T) {
	s := Sample{MemUsedMB: 100, MemMaxMB: 0}
	if got := s.MemPercent(); got != 0 {
		t.Errorf("got %f, want 0", got)
	}
	s = Sample{MemUsedMB: 100, MemMaxMB: -1}
	if got := s.MemPercent(); got != 0 {
		t.Errorf("negative denominator: got %f, want 0", got)
	}
}

func TestCurrentSnapshot(t *testing.T) {
	a := newAgg()
	if snap := a.Current("none"); snap.Found {
		t.Error("unknown server should report Found=false")
	}

	a.Ingest("srv", RawSample{TS: 1, CPUUsage: 0.1, MemUsed: 100, MemMax: 200})
	a.Ingest("srv", RawSample{TS: 2, CPUUsage: 0.9, MemUsed: 100, MemMax: 200})

	snap := a.Current("srv")
	if !snap.Found {
		t.Fatal("expected Found=true")
	}
	if math.Abs(snap.CPUPercent-90) > 1e-9 {
		t.Errorf("latest cpu: got %f, want 90", snap.CPUPercent)
	}
}

func TestTrendNoData(t *testing.T) {
	a := newAgg()
	if got := a.Trend("none"); got != TrendNoData {
		t.Errorf("got %q, want %q", got, TrendNoData)
	}
}

func TestTrendStable(t *testing.T) {
	a := newAgg()
	for i := 0; i < 5; i++ {
		a.Ingest("srv", RawSample{CPUUsage: 0.2, MemUsed: 100, MemMax: 1000})
	}

	trend := a.Trend("srv")
	if !strings.Contains(trend, "stable") {
		t.Errorf("stable trend missing sentinel: %q", trend)
	}
	if !strings.Contains(trend, "avg CPU: 20.0%") {
		t.Errorf("stable trend missing averages: %q", trend)
	}
}

func TestTrendInstability(t *testing.T) {
	a := newAgg()
	a.Ingest("srv", RawSample{CPUUsage: 0.5, MemUsed: 100, MemMax: 1000})
	a.Ingest("srv", RawSample{CPUUsage: 0.95, MemUsed: 100, MemMax: 1000})
	a.Ingest("srv", RawSample{CPUUsage: 0.85, MemUsed: 950, MemMax: 1000})

	trend := a.Trend("srv")
	if strings.Contains(trend, "stable") {
		t.Errorf("unstable trend must not contain the stable sentinel: %q", trend)
	}
	if !strings.Contains(trend, "CPU above 80%: 2 times") {
		t.Errorf("cpu breach count wrong: %q", trend)
	}
	if !strings.Contains(trend, "peak 95.0%") {
		t.Errorf("peak cpu wrong: %q", trend)
	}
	if !strings.Contains(trend, "memory above 90%: 1 times") {
		t.Errorf("mem breach count wrong: %q", trend)
	}
}

func TestTrendAveragesPerSampleMemoryPercent(t *testing.T) {
	a := newAgg()
	// 50% and 10% utilization must average to 30%, not used/max of sums.
	a.Ingest("srv", RawSample{CPUUsage: 0, MemUsed: 500, MemMax: 1000})
	a.Ingest("srv", RawSample{CPUUsage: 0, MemUsed: 100, MemMax: 1000})

	trend := a.Trend("srv")
	if !strings.Contains(trend, "avg RAM: 30.0%") {
		t.Errorf("got %q, want avg RAM 30.0%%", trend)
	}
}

func TestCustomThresholds(t *testing.T) {
	a := NewAggregator(50, TrendThresholds{CPUHigh: 50, MemHigh: 50}, zap.NewNop())
	a.Ingest("srv", RawSample{CPUUsage: 0.6, MemUsed: 600, MemMax: 1000})

	trend := a.Trend("srv")
	if !strings.Contains(trend, "CPU above 50%: 1 times") {
		t.Errorf("custom threshold not applied: %q", trend)
	}
}
