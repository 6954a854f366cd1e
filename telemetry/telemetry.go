// Package telemetry turns instantaneous inverter samples into the
// 15-minute averages the controller loop actually consumes. An
// Adapter's GetEnergyFlow is a point-in-time read, but an IntervalRecord
// needs the interval-level PV/load/grid/battery figures for the whole
// quarter, so a Collector accumulates short-interval polls and
// integrates them when the tick fires.
package telemetry

import (
	"sync"
	"time"

	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/inverter"
)

// Sample is one instantaneous poll of the inverter's power flows.
type Sample struct {
	Flow inverter.EnergyFlow
	SOC  float64
	At   time.Time
}

// Averaged is the integrated quarter-hour figure the controller records
// as an IntervalRecord's solar_kw/load_kw/grid_import_kw/grid_export_kw.
type Averaged struct {
	PVPowerKW      float64
	LoadPowerKW    float64
	GridPowerKW    float64 // positive = import, negative = export
	BatteryPowerKW float64 // positive = charging, negative = discharging
	SOC            float64 // last sample's SOC in the window
	SampleCount    int
	Timestamp      time.Time
}

// Collector is a thread-safe rolling buffer of Samples.
type Collector struct {
	mu      sync.Mutex
	samples []Sample
}

// Add records one poll result.
func (c *Collector) Add(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

// IsEmpty reports whether any sample has been collected.
func (c *Collector) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.samples) == 0
}

// Integrate averages every sample with At <= cutoff into one Averaged
// value. Samples are preserved; call ClearBefore after a successful
// consume.
func (c *Collector) Integrate(cutoff time.Time) Averaged {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result Averaged
	result.Timestamp = cutoff

	for _, s := range c.samples {
		if s.At.After(cutoff) {
			continue
		}
		result.SampleCount++
		result.PVPowerKW += s.Flow.PVPowerKW
		result.LoadPowerKW += s.Flow.LoadPowerKW
		result.GridPowerKW += s.Flow.GridPowerKW
		result.BatteryPowerKW += s.Flow.BatteryPowerKW
		result.SOC = s.SOC
	}
	if result.SampleCount > 0 {
		n := float64(result.SampleCount)
		result.PVPowerKW /= n
		result.LoadPowerKW /= n
		result.GridPowerKW /= n
		result.BatteryPowerKW /= n
	}
	return result
}

// ClearBefore discards every sample with At <= cutoff.
func (c *Collector) ClearBefore(cutoff time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := make([]Sample, 0, len(c.samples))
	for _, s := range c.samples {
		if s.At.After(cutoff) {
			kept = append(kept, s)
		}
	}
	c.samples = kept
}

// AveragingAdapter wraps an inverter.Adapter, polling it on its own
// schedule and serving GetEnergyFlow from the rolling quarter-hour
// average instead of a single instantaneous sample. SetMode and
// GetBatterySOC pass straight through: only the flow figures the ledger
// records need to be smoothed, never the live SOC or the command path.
type AveragingAdapter struct {
	underlying inverter.Adapter
	collector  *Collector
	systemID   string

	now func() time.Time
}

// NewAveragingAdapter wraps underlying, polling systemID's flows into an
// internal Collector.
func NewAveragingAdapter(underlying inverter.Adapter, systemID string) *AveragingAdapter {
	return &AveragingAdapter{
		underlying: underlying,
		collector:  &Collector{},
		systemID:   systemID,
		now:        time.Now,
	}
}

// Poll reads one sample from the underlying adapter and adds it to the
// rolling window. Callers run this on a short ticker (e.g. every 10-30s)
// independently of the 15-minute tick.
func (a *AveragingAdapter) Poll() error {
	flow, err := a.underlying.GetEnergyFlow(a.systemID)
	if err != nil {
		return err
	}
	soc, err := a.underlying.GetBatterySOC(a.systemID)
	if err != nil {
		return err
	}
	a.collector.Add(Sample{Flow: flow, SOC: soc, At: a.now()})
	return nil
}

// GetEnergyFlow returns the average of every sample collected since the
// last call, then clears the window so the next quarter starts fresh.
func (a *AveragingAdapter) GetEnergyFlow(systemID string) (inverter.EnergyFlow, error) {
	now := a.now()
	avg := a.collector.Integrate(now)
	a.collector.ClearBefore(now)
	if avg.SampleCount == 0 {
		return a.underlying.GetEnergyFlow(systemID)
	}
	return inverter.EnergyFlow{
		PVPowerKW:      avg.PVPowerKW,
		LoadPowerKW:    avg.LoadPowerKW,
		GridPowerKW:    avg.GridPowerKW,
		BatteryPowerKW: avg.BatteryPowerKW,
	}, nil
}

// GetBatterySOC passes straight through: SOC is a point-in-time state,
// not a flow to average.
func (a *AveragingAdapter) GetBatterySOC(systemID string) (float64, error) {
	return a.underlying.GetBatterySOC(systemID)
}

// SetMode passes straight through to the underlying adapter.
func (a *AveragingAdapter) SetMode(systemID string, action decision.Action, powerKW float64) error {
	return a.underlying.SetMode(systemID, action, powerKW)
}
