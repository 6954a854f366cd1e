package telemetry

import (
	"testing"
	"time"

	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/inverter"
)

type fakeAdapter struct {
	flow       inverter.EnergyFlow
	soc        float64
	setCalls   int
	lastAction decision.Action
}

func (f *fakeAdapter) GetEnergyFlow(systemID string) (inverter.EnergyFlow, error) { return f.flow, nil }
func (f *fakeAdapter) GetBatterySOC(systemID string) (float64, error)             { return f.soc, nil }
func (f *fakeAdapter) SetMode(systemID string, action decision.Action, powerKW float64) error {
	f.setCalls++
	f.lastAction = action
	return nil
}

func TestCollectorIntegrateAverages(t *testing.T) {
	c := &Collector{}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.Add(Sample{Flow: inverter.EnergyFlow{PVPowerKW: 2, LoadPowerKW: 1, GridPowerKW: -1}, SOC: 50, At: base})
	c.Add(Sample{Flow: inverter.EnergyFlow{PVPowerKW: 4, LoadPowerKW: 1, GridPowerKW: -3}, SOC: 52, At: base.Add(time.Minute)})

	avg := c.Integrate(base.Add(5 * time.Minute))
	if avg.SampleCount != 2 {
		t.Fatalf("SampleCount = %d, want 2", avg.SampleCount)
	}
	if avg.PVPowerKW != 3 {
		t.Fatalf("PVPowerKW = %v, want 3", avg.PVPowerKW)
	}
	if avg.SOC != 52 {
		t.Fatalf("SOC = %v, want last sample's 52", avg.SOC)
	}
}

func TestCollectorIntegrateIgnoresFutureSamples(t *testing.T) {
	c := &Collector{}
	cutoff := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.Add(Sample{Flow: inverter.EnergyFlow{PVPowerKW: 10}, At: cutoff.Add(time.Minute)})

	avg := c.Integrate(cutoff)
	if avg.SampleCount != 0 {
		t.Fatalf("SampleCount = %d, want 0 (future sample excluded)", avg.SampleCount)
	}
}

func TestCollectorClearBeforeKeepsLaterSamples(t *testing.T) {
	c := &Collector{}
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.Add(Sample{At: base})
	c.Add(Sample{At: base.Add(time.Minute)})

	c.ClearBefore(base)
	if c.IsEmpty() {
		t.Fatalf("expected one sample to survive ClearBefore")
	}
	avg := c.Integrate(base.Add(time.Hour))
	if avg.SampleCount != 1 {
		t.Fatalf("SampleCount after ClearBefore = %d, want 1", avg.SampleCount)
	}
}

func TestAveragingAdapterFallsBackWhenNoSamples(t *testing.T) {
	fake := &fakeAdapter{flow: inverter.EnergyFlow{PVPowerKW: 7}, soc: 40}
	a := NewAveragingAdapter(fake, "sys-1")

	flow, err := a.GetEnergyFlow("sys-1")
	if err != nil {
		t.Fatalf("GetEnergyFlow: %v", err)
	}
	if flow.PVPowerKW != 7 {
		t.Fatalf("PVPowerKW = %v, want fallback to underlying read of 7", flow.PVPowerKW)
	}
}

func TestAveragingAdapterAveragesPolledSamples(t *testing.T) {
	fake := &fakeAdapter{soc: 60}
	a := NewAveragingAdapter(fake, "sys-1")
	tick := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return tick }

	fake.flow = inverter.EnergyFlow{PVPowerKW: 2}
	if err := a.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	fake.flow = inverter.EnergyFlow{PVPowerKW: 6}
	a.now = func() time.Time { return tick.Add(time.Minute) }
	if err := a.Poll(); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	a.now = func() time.Time { return tick.Add(2 * time.Minute) }
	flow, err := a.GetEnergyFlow("sys-1")
	if err != nil {
		t.Fatalf("GetEnergyFlow: %v", err)
	}
	if flow.PVPowerKW != 4 {
		t.Fatalf("PVPowerKW = %v, want averaged 4", flow.PVPowerKW)
	}

	soc, err := a.GetBatterySOC("sys-1")
	if err != nil {
		t.Fatalf("GetBatterySOC: %v", err)
	}
	if soc != 60 {
		t.Fatalf("GetBatterySOC = %v, want pass-through 60", soc)
	}

	if err := a.SetMode("sys-1", decision.Charge, 3); err != nil {
		t.Fatalf("SetMode: %v", err)
	}
	if fake.setCalls != 1 || fake.lastAction != decision.Charge {
		t.Fatalf("SetMode did not pass through: calls=%d action=%v", fake.setCalls, fake.lastAction)
	}
}
