package weather

import (
	"strings"
	"time"
)

// HourlySignal is the flattened subset of a forecast time step that the
// rest of the system actually consumes: how much sky is covered, and
// what MET's own symbol says about it. It exists so callers outside
// this package never walk the Instant/Next1Hours/Next6Hours optional-
// pointer chain themselves.
type HourlySignal struct {
	CloudCoveragePercent float64
	Symbol               WeatherSymbol
	HasSymbol            bool
}

// SignalAt returns the HourlySignal for the time step closest to t. ok
// is false if the forecast has no timeseries at all.
func (f *ForecastResponse) SignalAt(t time.Time) (signal HourlySignal, ok bool) {
	step := f.closestStep(t)
	if step == nil {
		return HourlySignal{}, false
	}

	if step.Data != nil && step.Data.Instant != nil && step.Data.Instant.Details != nil {
		if cc := step.Data.Instant.Details.CloudAreaFraction; cc != nil {
			signal.CloudCoveragePercent = *cc
		}
	}
	if sym, found := step.symbolCode(); found {
		signal.Symbol, signal.HasSymbol = sym, true
	}
	return signal, true
}

func (f *ForecastResponse) closestStep(target time.Time) *ForecastTimeStep {
	if f == nil || f.Properties == nil || len(f.Properties.Timeseries) == 0 {
		return nil
	}

	var closest *ForecastTimeStep
	minDiff := time.Duration(1<<63 - 1)
	for i := range f.Properties.Timeseries {
		step := &f.Properties.Timeseries[i]
		diff := step.Time.Sub(target)
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff, closest = diff, step
		}
	}
	return closest
}

// symbolCode returns the step's weather symbol, preferring the
// nearest-term window and falling back to the wider ones MET uses when
// the near-term window wasn't populated for this step.
func (ts *ForecastTimeStep) symbolCode() (WeatherSymbol, bool) {
	if ts == nil || ts.Data == nil {
		return "", false
	}
	for _, window := range []*ForecastPeriodData{ts.Data.Next1Hours, ts.Data.Next6Hours, ts.Data.Next12Hours} {
		if window != nil && window.Summary != nil {
			return window.Summary.SymbolCode, true
		}
	}
	return "", false
}

// HasSnow reports whether the symbol indicates snow or sleet, the
// conditions under which PV panels are assumed to be covered and
// producing zero power regardless of sun angle.
func (ws WeatherSymbol) HasSnow() bool {
	s := string(ws)
	return strings.Contains(s, "snow") || strings.Contains(s, "sleet")
}

func ptr[T any](v T) *T {
	return &v
}
