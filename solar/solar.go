// Package solar estimates instantaneous PV power output by combining
// suncalc's sun geometry with a MET Norway-style cloud-coverage
// forecast. The day planner's optional solar forecast (fed by the
// plan-preview CLI command) is built from exactly this estimate.
package solar

import (
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/oskarsson/solkvot/weather"
)

// Estimate is one instant's solar output estimate plus the weather
// signals that drove it.
type Estimate struct {
	PowerKW       float64
	CloudCoverage float64 // percent, 0 if unknown
	WeatherSymbol string
}

// EstimatePower estimates PV output at t given the plant's peak power,
// a weather forecast, and the plant's current measured PV power (used
// to detect snow-covered panels the forecast alone cannot see). now is
// the caller's clock reading, injected rather than read ambiently.
func EstimatePower(forecast *weather.ForecastResponse, t time.Time, peakKW, lat, lon, currentPVPowerKW float64, now time.Time) Estimate {
	signal, ok := forecast.SignalAt(t)
	if !ok {
		return Estimate{}
	}
	var symbol string
	if signal.HasSymbol {
		symbol = string(signal.Symbol)
	}

	sunTimes := suncalc.GetTimes(t, lat, lon)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if t.Before(sunrise) || t.After(sunset) {
		return Estimate{CloudCoverage: signal.CloudCoveragePercent, WeatherSymbol: symbol}
	}

	pos := suncalc.GetPosition(t, lat, lon)
	angleFactor := math.Sin(pos.Altitude)
	if angleFactor < 0 {
		return Estimate{CloudCoverage: signal.CloudCoveragePercent, WeatherSymbol: symbol}
	}

	if signal.HasSymbol && signal.Symbol.HasSnow() {
		return Estimate{CloudCoverage: signal.CloudCoveragePercent, WeatherSymbol: symbol}
	}

	// Panels already covered by snow the forecast doesn't know about:
	// forecast expects meaningful output imminently but current
	// measured power is essentially zero.
	expected := peakKW * angleFactor * 0.5
	if currentPVPowerKW < 0.1 && expected > 1.0 && t.After(now) && t.Sub(now) < time.Hour {
		return Estimate{CloudCoverage: signal.CloudCoveragePercent, WeatherSymbol: symbol}
	}

	cloudFactor := 1.0 - (signal.CloudCoveragePercent/100.0)*0.90

	return Estimate{
		PowerKW:       peakKW * angleFactor * cloudFactor,
		CloudCoverage: signal.CloudCoveragePercent,
		WeatherSymbol: symbol,
	}
}
