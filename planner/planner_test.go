package planner

import (
	"testing"
	"time"

	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/pricing"
)

func hourlyPrices(t *testing.T, values []float64) []pricing.PricePoint {
	t.Helper()
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	points := make([]pricing.PricePoint, len(values))
	for i, v := range values {
		s := start.Add(time.Duration(i) * time.Hour)
		points[i] = pricing.PricePoint{Start: s, End: s.Add(time.Hour), Value: v}
	}
	return points
}

func defaultParams() Params {
	return Params{
		Limits: decision.Limits{
			MinSOC:                 20,
			MaxSOC:                 95,
			SafeChargePowerKW:      3.0,
			SafeDischargePowerKW:   3.0,
			GridChargeThreshold:    0.30,
			GridDischargeThreshold: 0.60,
		},
		CapacityKWh: 20,
	}
}

func TestGenerateDaySchedule_DailyPlanner(t *testing.T) {
	values := []float64{0.30, 0.28, 0.25, 0.23, 0.22, 0.25, 0.35, 0.45, 0.55, 0.60, 0.65, 0.70, 0.65, 0.60, 0.55, 0.50, 0.55, 0.75, 0.85, 0.90, 0.80, 0.65, 0.45, 0.35}
	prices := hourlyPrices(t, values)

	plan, err := GenerateDaySchedule(prices, 50, Forecast{}, defaultParams())
	if err != nil {
		t.Fatalf("GenerateDaySchedule() error = %v", err)
	}
	if plan.Summary.TotalIntervals != 96 {
		t.Errorf("TotalIntervals = %d, want 96", plan.Summary.TotalIntervals)
	}
	if plan.Summary.ChargeIntervals <= 0 {
		t.Error("expected some charge intervals")
	}
	if plan.Summary.DischargeIntervals <= 0 {
		t.Error("expected some discharge intervals")
	}
	sum := plan.Summary.ChargeIntervals + plan.Summary.DischargeIntervals + plan.Summary.IdleIntervals
	if sum != 96 {
		t.Errorf("charge+discharge+idle = %d, want 96", sum)
	}
}

func TestGenerateDaySchedule_ConstantPriceSymmetric(t *testing.T) {
	values := make([]float64, 24)
	for i := range values {
		values[i] = 0.40
	}
	prices := hourlyPrices(t, values)

	plan, err := GenerateDaySchedule(prices, 50, Forecast{}, defaultParams())
	if err != nil {
		t.Fatalf("GenerateDaySchedule() error = %v", err)
	}
	// A constant-price day collapses all tiers to "middle", so no
	// price-driven rule can fire and every slot should be IDLE.
	if plan.Summary.IdleIntervals != 96 {
		t.Errorf("IdleIntervals = %d, want 96 for a constant-price day", plan.Summary.IdleIntervals)
	}
}

func TestGenerateDaySchedule_EmptyCurve(t *testing.T) {
	_, err := GenerateDaySchedule(nil, 50, Forecast{}, defaultParams())
	if err == nil {
		t.Error("expected error for empty curve")
	}
}
