package optimizer

import (
	"math"
	"testing"

	"github.com/oskarsson/solkvot/decision"
)

func testConfig() SystemConfig {
	return SystemConfig{
		BatteryCapacity:     10,
		BatteryMaxCharge:    3,
		BatteryMaxDischarge: 3,
		BatteryMinSOC:       0.20,
		BatteryMaxSOC:       0.95,
		BatteryEfficiency:   0.93,
		MaxGridImport:       10,
		MaxGridExport:       10,
	}
}

func TestOptimizeEmptyForecastReturnsNil(t *testing.T) {
	mpc := NewMPCController(testConfig(), 24, 0.5)
	if got := mpc.Optimize(nil); got != nil {
		t.Fatalf("Optimize(nil) = %v, want nil", got)
	}
}

func TestOptimizeReturnsOneDecisionPerHour(t *testing.T) {
	mpc := NewMPCController(testConfig(), 4, 0.5)
	forecast := []TimeSlot{
		{Hour: 0, ImportPrice: 0.10, ExportPrice: 0.05},
		{Hour: 1, ImportPrice: 0.10, ExportPrice: 0.05},
		{Hour: 2, ImportPrice: 1.50, ExportPrice: 1.40},
		{Hour: 3, ImportPrice: 1.50, ExportPrice: 1.40},
	}
	decisions := mpc.Optimize(forecast)
	if len(decisions) != len(forecast) {
		t.Fatalf("len(decisions) = %d, want %d", len(decisions), len(forecast))
	}
	for i, d := range decisions {
		if d.Hour != forecast[i].Hour {
			t.Errorf("decisions[%d].Hour = %d, want %d", i, d.Hour, forecast[i].Hour)
		}
	}
}

// A flat, cheap-then-expensive price curve with no solar or load should
// drive the optimizer to charge during the cheap hours and discharge
// during the expensive ones — arbitrage is the only source of profit.
func TestOptimizeArbitragesCheapToExpensive(t *testing.T) {
	mpc := NewMPCController(testConfig(), 4, 0.20)
	forecast := []TimeSlot{
		{Hour: 0, ImportPrice: 0.10, ExportPrice: 0.05},
		{Hour: 1, ImportPrice: 0.10, ExportPrice: 0.05},
		{Hour: 2, ImportPrice: 2.00, ExportPrice: 1.90},
		{Hour: 3, ImportPrice: 2.00, ExportPrice: 1.90},
	}
	decisions := mpc.Optimize(forecast)

	sawCharge, sawDischarge := false, false
	for _, d := range decisions {
		switch d.Action {
		case decision.Charge:
			sawCharge = true
		case decision.Discharge:
			sawDischarge = true
		}
	}
	if !sawCharge {
		t.Error("expected at least one charge hour during the cheap window")
	}
	if !sawDischarge {
		t.Error("expected at least one discharge hour during the expensive window")
	}

	total := 0.0
	for _, d := range decisions {
		total += d.Profit
	}
	if total <= 0 {
		t.Errorf("total profit = %.4f, want > 0 for a clear arbitrage opportunity", total)
	}
}

// With flat, unprofitable prices (import == export, no spread to
// capture) and the battery starting at its SOC floor, so there is no
// stored energy to sell, the optimizer should never choose to cycle the
// battery: any charge-then-discharge round trip only adds efficiency
// loss and degradation cost for zero arbitrage gain.
func TestOptimizeIdlesWithNoArbitrageOpportunity(t *testing.T) {
	cfg := testConfig()
	cfg.BatteryDegradationCost = 0.01
	mpc := NewMPCController(cfg, 3, cfg.BatteryMinSOC)
	forecast := []TimeSlot{
		{Hour: 0, ImportPrice: 0.50, ExportPrice: 0.50},
		{Hour: 1, ImportPrice: 0.50, ExportPrice: 0.50},
		{Hour: 2, ImportPrice: 0.50, ExportPrice: 0.50},
	}
	for _, d := range mpc.Optimize(forecast) {
		if d.Action != decision.Idle {
			t.Errorf("hour %d: action = %v, want Idle when there is no price spread to exploit", d.Hour, d.Action)
		}
	}
}

// Starting near the SOC floor, the search must never choose a
// discharge that would push SOC below BatteryMinSOC, even when the
// price signal rewards discharging heavily.
func TestOptimizeRespectsMinSOC(t *testing.T) {
	cfg := testConfig()
	mpc := NewMPCController(cfg, 2, cfg.BatteryMinSOC+0.01)
	forecast := []TimeSlot{
		{Hour: 0, ImportPrice: 0.10, ExportPrice: 3.00},
		{Hour: 1, ImportPrice: 0.10, ExportPrice: 3.00},
	}
	for _, d := range mpc.Optimize(forecast) {
		if d.BatterySOC < cfg.BatteryMinSOC-1e-9 {
			t.Errorf("hour %d: SOC %.4f below BatteryMinSOC %.4f", d.Hour, d.BatterySOC, cfg.BatteryMinSOC)
		}
	}
}

// Symmetric check at the ceiling: starting near BatteryMaxSOC with
// cheap charging prices everywhere must never push SOC above the cap.
func TestOptimizeRespectsMaxSOC(t *testing.T) {
	cfg := testConfig()
	mpc := NewMPCController(cfg, 2, cfg.BatteryMaxSOC-0.01)
	forecast := []TimeSlot{
		{Hour: 0, ImportPrice: 0.01, ExportPrice: 0.01},
		{Hour: 1, ImportPrice: 0.01, ExportPrice: 0.01},
	}
	for _, d := range mpc.Optimize(forecast) {
		if d.BatterySOC > cfg.BatteryMaxSOC+1e-9 {
			t.Errorf("hour %d: SOC %.4f above BatteryMaxSOC %.4f", d.Hour, d.BatterySOC, cfg.BatteryMaxSOC)
		}
	}
}

func TestFeasibleMovesNeverExceedConfiguredPower(t *testing.T) {
	cfg := testConfig()
	mpc := NewMPCController(cfg, 1, 0.5)
	for _, move := range mpc.feasibleMoves(0.5) {
		if move.kw > cfg.BatteryMaxCharge || -move.kw > cfg.BatteryMaxDischarge {
			t.Errorf("move %+v exceeds configured charge/discharge limits", move)
		}
	}
}

func TestNextSOCAppliesEfficiencyOnlyToCharge(t *testing.T) {
	cfg := testConfig()
	mpc := NewMPCController(cfg, 1, 0.5)

	charged := mpc.nextSOC(0.5, batteryMove{kw: 1, action: decision.Charge})
	wantCharged := 0.5 + 1*cfg.BatteryEfficiency/cfg.BatteryCapacity
	if math.Abs(charged-wantCharged) > 1e-9 {
		t.Errorf("nextSOC(charge) = %.6f, want %.6f", charged, wantCharged)
	}

	discharged := mpc.nextSOC(0.5, batteryMove{kw: -1, action: decision.Discharge})
	wantDischarged := 0.5 - 1/cfg.BatteryCapacity
	if math.Abs(discharged-wantDischarged) > 1e-9 {
		t.Errorf("nextSOC(discharge) = %.6f, want %.6f", discharged, wantDischarged)
	}
}

func TestApplyMoveRoutesSurplusToExportAndDeficitToImport(t *testing.T) {
	mpc := NewMPCController(testConfig(), 1, 0.5)

	surplus := mpc.applyMove(batteryMove{kw: 0, action: decision.Idle}, TimeSlot{SolarForecast: 5, LoadForecast: 2})
	if surplus.GridExport <= 0 || surplus.GridImport != 0 {
		t.Errorf("surplus slot: GridExport=%.3f GridImport=%.3f, want export>0 import=0", surplus.GridExport, surplus.GridImport)
	}

	deficit := mpc.applyMove(batteryMove{kw: 0, action: decision.Idle}, TimeSlot{SolarForecast: 1, LoadForecast: 4})
	if deficit.GridImport <= 0 || deficit.GridExport != 0 {
		t.Errorf("deficit slot: GridImport=%.3f GridExport=%.3f, want import>0 export=0", deficit.GridImport, deficit.GridExport)
	}
}

func TestExecuteControlAdvancesCurrentSOC(t *testing.T) {
	mpc := NewMPCController(testConfig(), 2, 0.5)
	forecast := []TimeSlot{
		{Hour: 0, ImportPrice: 0.10, ExportPrice: 0.05},
		{Hour: 1, ImportPrice: 2.00, ExportPrice: 1.90},
	}
	dec := mpc.ExecuteControl(forecast)
	if dec == nil {
		t.Fatal("ExecuteControl returned nil for a non-empty forecast")
	}
	if mpc.CurrentSOC != dec.BatterySOC {
		t.Errorf("CurrentSOC = %.4f after ExecuteControl, want %.4f (the returned decision's SOC)", mpc.CurrentSOC, dec.BatterySOC)
	}
}

func TestExecuteControlEmptyForecastReturnsNil(t *testing.T) {
	mpc := NewMPCController(testConfig(), 2, 0.5)
	if dec := mpc.ExecuteControl(nil); dec != nil {
		t.Fatalf("ExecuteControl(nil) = %+v, want nil", dec)
	}
}
