package weather

import (
	"testing"
	"time"
)

func TestSignalAt_NilForecast(t *testing.T) {
	var forecast *ForecastResponse
	if _, ok := forecast.SignalAt(time.Now()); ok {
		t.Error("expected ok=false for a nil forecast")
	}
}

func TestSignalAt_EmptyTimeseries(t *testing.T) {
	forecast := &ForecastResponse{Properties: &Forecast{}}
	if _, ok := forecast.SignalAt(time.Now()); ok {
		t.Error("expected ok=false for an empty timeseries")
	}
}

func TestSignalAt_PicksClosestStep(t *testing.T) {
	now := time.Now()
	forecast := &ForecastResponse{
		Properties: &Forecast{
			Timeseries: []ForecastTimeStep{
				{Time: now.Add(-2 * time.Hour), Data: &ForecastTimeStepData{
					Instant: &ForecastInstantData{Details: &ForecastTimeInstant{CloudAreaFraction: ptr(90.0)}},
				}},
				{Time: now.Add(10 * time.Minute), Data: &ForecastTimeStepData{
					Instant: &ForecastInstantData{Details: &ForecastTimeInstant{CloudAreaFraction: ptr(15.0)}},
				}},
			},
		},
	}

	signal, ok := forecast.SignalAt(now)
	if !ok {
		t.Fatal("SignalAt returned ok=false")
	}
	if signal.CloudCoveragePercent != 15.0 {
		t.Errorf("CloudCoveragePercent = %v, want the closest step's 15.0", signal.CloudCoveragePercent)
	}
}

func TestSignalAt_SymbolFallsBackThroughWindows(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name string
		data *ForecastTimeStepData
		want WeatherSymbol
	}{
		{
			name: "next 1 hour present",
			data: &ForecastTimeStepData{Next1Hours: &ForecastPeriodData{Summary: &ForecastSummary{SymbolCode: ClearSkyDay}}},
			want: ClearSkyDay,
		},
		{
			name: "falls back to next 6 hours",
			data: &ForecastTimeStepData{Next6Hours: &ForecastPeriodData{Summary: &ForecastSummary{SymbolCode: Rain}}},
			want: Rain,
		},
		{
			name: "falls back to next 12 hours",
			data: &ForecastTimeStepData{Next12Hours: &ForecastPeriodData{Summary: &ForecastSummary{SymbolCode: PartlyCloudyNight}}},
			want: PartlyCloudyNight,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			forecast := &ForecastResponse{Properties: &Forecast{Timeseries: []ForecastTimeStep{{Time: now, Data: tt.data}}}}
			signal, ok := forecast.SignalAt(now)
			if !ok {
				t.Fatal("SignalAt returned ok=false")
			}
			if !signal.HasSymbol || signal.Symbol != tt.want {
				t.Errorf("Symbol = %v (HasSymbol=%v), want %v", signal.Symbol, signal.HasSymbol, tt.want)
			}
		})
	}
}

func TestSignalAt_NoSymbolAvailable(t *testing.T) {
	now := time.Now()
	forecast := &ForecastResponse{
		Properties: &Forecast{Timeseries: []ForecastTimeStep{{Time: now, Data: &ForecastTimeStepData{}}}},
	}
	signal, ok := forecast.SignalAt(now)
	if !ok {
		t.Fatal("SignalAt returned ok=false")
	}
	if signal.HasSymbol {
		t.Errorf("HasSymbol = true, want false when no window carries a summary")
	}
}

func TestWeatherSymbol_HasSnow(t *testing.T) {
	tests := []struct {
		symbol   WeatherSymbol
		expected bool
	}{
		{Snow, true},
		{HeavySnow, true},
		{Sleet, true},
		{HeavySleetShowersDay, true},
		{ClearSkyDay, false},
		{Rain, false},
		{Cloudy, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.symbol), func(t *testing.T) {
			if got := tt.symbol.HasSnow(); got != tt.expected {
				t.Errorf("HasSnow() = %v, want %v for %s", got, tt.expected, tt.symbol)
			}
		})
	}
}
