// Package planner builds the 96-slot daily schedule preview: for each
// quarter-hour slot in order, it calls decision.Decide with a running
// simulated state of charge, the way a forward simulation walks a day
// without touching the inverter.
package planner

import (
	"math"
	"time"

	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/pricing"
)

const slotsPerDay = 96
const slotDuration = 15 * time.Minute

// Forecast carries the optional per-slot solar and load forecasts. A nil
// slice means "assume zero" for that signal.
type Forecast struct {
	SolarKW []float64
	LoadKW  []float64
}

// Summary aggregates the schedule into the fields the operator surface
// and the CLI preview report.
type Summary struct {
	TotalIntervals     int
	ChargeIntervals    int
	DischargeIntervals int
	IdleIntervals      int
	ChargeHours        float64
	DischargeHours     float64
	EstimatedSavings   float64
	EstimatedEarnings  float64
	NetBenefit         float64
	EfficiencyUtilized float64
}

// Plan is the output of GenerateDaySchedule.
type Plan struct {
	Schedule [slotsPerDay]decision.Decision
	Summary  Summary
}

// Params bundles the inputs GenerateDaySchedule needs beyond the price
// curve, mirroring decision.Limits plus the battery's physical
// characteristics used to integrate SOC forward.
type Params struct {
	Limits        decision.Limits
	CapacityKWh   float64
	EfficiencyOne float64 // one-way efficiency; default sqrt(round-trip)
}

// GenerateDaySchedule produces a 96-slot schedule from a day's price
// curve (upsampled to quarter-hour granularity if coarser), a starting
// SOC, and optional solar/load forecasts.
func GenerateDaySchedule(prices []pricing.PricePoint, startingSOC float64, forecast Forecast, params Params) (*Plan, error) {
	quarters := pricing.Upsample(prices, slotDuration)
	tiering, err := pricing.Build(prices, pricing.Options{})
	if err != nil {
		return nil, err
	}
	if params.EfficiencyOne <= 0 {
		params.EfficiencyOne = math.Sqrt(0.93)
	}

	plan := &Plan{}
	soc := startingSOC

	n := len(quarters)
	if n > slotsPerDay {
		n = slotsPerDay
	}

	for i := 0; i < n; i++ {
		slot := quarters[i]
		solar := forecastAt(forecast.SolarKW, i)
		load := forecastAt(forecast.LoadKW, i)

		in := decision.Input{
			CurrentPrice: slot.Value,
			Tier:         tiering.Classify(slot.Value),
			Tiering:      tiering,
			SOC:          soc,
			SolarKW:      solar,
			LoadKW:       load,
			Now:          slot.Start,
		}
		d := decision.Decide(in, params.Limits)
		plan.Schedule[i] = d

		soc = integrateSOC(soc, d, params)

		switch d.Action {
		case decision.Charge:
			plan.Summary.ChargeIntervals++
			plan.Summary.ChargeHours += 0.25
			plan.Summary.EstimatedSavings += d.PowerKW * 0.25 * slot.Value
		case decision.Discharge, decision.SelfConsume, decision.SelfConsumeGrid:
			plan.Summary.DischargeIntervals++
			plan.Summary.DischargeHours += 0.25
			plan.Summary.EstimatedEarnings += d.PowerKW * 0.25 * slot.Value
		default:
			plan.Summary.IdleIntervals++
		}
	}
	// Remaining slots (short horizon, e.g. DST spring-forward with 92
	// quarters) stay IDLE and count toward total_intervals regardless.
	plan.Summary.TotalIntervals = slotsPerDay
	plan.Summary.IdleIntervals += slotsPerDay - n

	plan.Summary.NetBenefit = plan.Summary.EstimatedEarnings - plan.Summary.EstimatedSavings
	if plan.Summary.ChargeHours+plan.Summary.DischargeHours > 0 {
		plan.Summary.EfficiencyUtilized = params.EfficiencyOne
	}

	return plan, nil
}

func forecastAt(series []float64, i int) float64 {
	if i < len(series) {
		return series[i]
	}
	return 0
}

// integrateSOC updates the running simulated SOC: +η·power·0.25h/capacity
// on charge, −power·0.25h/capacity on any discharge action.
func integrateSOC(soc float64, d decision.Decision, params Params) float64 {
	if params.CapacityKWh <= 0 {
		return soc
	}
	energyKWh := d.PowerKW * 0.25
	switch d.Action {
	case decision.Charge:
		return soc + 100*params.EfficiencyOne*energyKWh/params.CapacityKWh
	case decision.Discharge, decision.SelfConsume, decision.SelfConsumeGrid:
		return soc - 100*energyKWh/params.CapacityKWh
	default:
		return soc
	}
}
