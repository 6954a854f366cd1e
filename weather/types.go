package weather

import "time"

// WeatherSymbol is one of MET Norway's symbol_code values.
type WeatherSymbol string

const (
	ClearSkyDay                              WeatherSymbol = "clearsky_day"
	ClearSkyNight                            WeatherSymbol = "clearsky_night"
	ClearSkyPolarTwilight                    WeatherSymbol = "clearsky_polartwilight"
	FairDay                                  WeatherSymbol = "fair_day"
	FairNight                                WeatherSymbol = "fair_night"
	FairPolarTwilight                        WeatherSymbol = "fair_polartwilight"
	LightSnowShowersAndThunderDay            WeatherSymbol = "lightssnowshowersandthunder_day"
	LightSnowShowersAndThunderNight          WeatherSymbol = "lightssnowshowersandthunder_night"
	LightSnowShowersAndThunderPolarTwilight  WeatherSymbol = "lightssnowshowersandthunder_polartwilight"
	LightSnowShowersDay                      WeatherSymbol = "lightsnowshowers_day"
	LightSnowShowersNight                    WeatherSymbol = "lightsnowshowers_night"
	LightSnowShowersPolarTwilight            WeatherSymbol = "lightsnowshowers_polartwilight"
	HeavyRainAndThunder                      WeatherSymbol = "heavyrainandthunder"
	HeavySnowAndThunder                      WeatherSymbol = "heavysnowandthunder"
	RainAndThunder                           WeatherSymbol = "rainandthunder"
	HeavySleetShowersAndThunderDay           WeatherSymbol = "heavysleetshowersandthunder_day"
	HeavySleetShowersAndThunderNight         WeatherSymbol = "heavysleetshowersandthunder_night"
	HeavySleetShowersAndThunderPolarTwilight WeatherSymbol = "heavysleetshowersandthunder_polartwilight"
	HeavySnow                                WeatherSymbol = "heavysnow"
	HeavyRainShowersDay                      WeatherSymbol = "heavyrainshowers_day"
	HeavyRainShowersNight                    WeatherSymbol = "heavyrainshowers_night"
	HeavyRainShowersPolarTwilight            WeatherSymbol = "heavyrainshowers_polartwilight"
	LightSleet                               WeatherSymbol = "lightsleet"
	HeavyRain                                WeatherSymbol = "heavyrain"
	LightRainShowersDay                      WeatherSymbol = "lightrainshowers_day"
	LightRainShowersNight                    WeatherSymbol = "lightrainshowers_night"
	LightRainShowersPolarTwilight            WeatherSymbol = "lightrainshowers_polartwilight"
	HeavySleetShowersDay                     WeatherSymbol = "heavysleetshowers_day"
	HeavySleetShowersNight                   WeatherSymbol = "heavysleetshowers_night"
	HeavySleetShowersPolarTwilight           WeatherSymbol = "heavysleetshowers_polartwilight"
	LightSleetShowersDay                     WeatherSymbol = "lightsleetshowers_day"
	LightSleetShowersNight                   WeatherSymbol = "lightsleetshowers_night"
	LightSleetShowersPolarTwilight           WeatherSymbol = "lightsleetshowers_polartwilight"
	Snow                                     WeatherSymbol = "snow"
	HeavyRainShowersAndThunderDay            WeatherSymbol = "heavyrainshowersandthunder_day"
	HeavyRainShowersAndThunderNight          WeatherSymbol = "heavyrainshowersandthunder_night"
	HeavyRainShowersAndThunderPolarTwilight  WeatherSymbol = "heavyrainshowersandthunder_polartwilight"
	SnowShowersDay                           WeatherSymbol = "snowshowers_day"
	SnowShowersNight                         WeatherSymbol = "snowshowers_night"
	SnowShowersPolarTwilight                 WeatherSymbol = "snowshowers_polartwilight"
	Fog                                      WeatherSymbol = "fog"
	SnowShowersAndThunderDay                 WeatherSymbol = "snowshowersandthunder_day"
	SnowShowersAndThunderNight               WeatherSymbol = "snowshowersandthunder_night"
	SnowShowersAndThunderPolarTwilight       WeatherSymbol = "snowshowersandthunder_polartwilight"
	LightSnowAndThunder                      WeatherSymbol = "lightsnowandthunder"
	HeavySleetAndThunder                     WeatherSymbol = "heavysleetandthunder"
	LightRain                                WeatherSymbol = "lightrain"
	RainShowersAndThunderDay                 WeatherSymbol = "rainshowersandthunder_day"
	RainShowersAndThunderNight               WeatherSymbol = "rainshowersandthunder_night"
	RainShowersAndThunderPolarTwilight       WeatherSymbol = "rainshowersandthunder_polartwilight"
	Rain                                     WeatherSymbol = "rain"
	LightSnow                                WeatherSymbol = "lightsnow"
	LightRainShowersAndThunderDay            WeatherSymbol = "lightrainshowersandthunder_day"
	LightRainShowersAndThunderNight          WeatherSymbol = "lightrainshowersandthunder_night"
	LightRainShowersAndThunderPolarTwilight  WeatherSymbol = "lightrainshowersandthunder_polartwilight"
	HeavySleet                               WeatherSymbol = "heavysleet"
	SleetAndThunder                          WeatherSymbol = "sleetandthunder"
	LightRainAndThunder                      WeatherSymbol = "lightrainandthunder"
	Sleet                                    WeatherSymbol = "sleet"
	LightSleetShowersAndThunderDay           WeatherSymbol = "lightssleetshowersandthunder_day"
	LightSleetShowersAndThunderNight         WeatherSymbol = "lightssleetshowersandthunder_night"
	LightSleetShowersAndThunderPolarTwilight WeatherSymbol = "lightssleetshowersandthunder_polartwilight"
	LightSleetAndThunder                     WeatherSymbol = "lightsleetandthunder"
	PartlyCloudyDay                          WeatherSymbol = "partlycloudy_day"
	PartlyCloudyNight                        WeatherSymbol = "partlycloudy_night"
	PartlyCloudyPolarTwilight                WeatherSymbol = "partlycloudy_polartwilight"
	SleetShowersAndThunderDay                WeatherSymbol = "sleetshowersandthunder_day"
	SleetShowersAndThunderNight              WeatherSymbol = "sleetshowersandthunder_night"
	SleetShowersAndThunderPolarTwilight      WeatherSymbol = "sleetshowersandthunder_polartwilight"
	RainShowersDay                           WeatherSymbol = "rainshowers_day"
	RainShowersNight                         WeatherSymbol = "rainshowers_night"
	RainShowersPolarTwilight                 WeatherSymbol = "rainshowers_polartwilight"
	SnowAndThunder                           WeatherSymbol = "snowandthunder"
	SleetShowersDay                          WeatherSymbol = "sleetshowers_day"
	SleetShowersNight                        WeatherSymbol = "sleetshowers_night"
	SleetShowersPolarTwilight                WeatherSymbol = "sleetshowers_polartwilight"
	Cloudy                                   WeatherSymbol = "cloudy"
	HeavySnowShowersAndThunderDay            WeatherSymbol = "heavysnowshowersandthunder_day"
	HeavySnowShowersAndThunderNight          WeatherSymbol = "heavysnowshowersandthunder_night"
	HeavySnowShowersAndThunderPolarTwilight  WeatherSymbol = "heavysnowshowersandthunder_polartwilight"
	HeavySnowShowersDay                      WeatherSymbol = "heavysnowshowers_day"
	HeavySnowShowersNight                    WeatherSymbol = "heavysnowshowers_night"
	HeavySnowShowersPolarTwilight            WeatherSymbol = "heavysnowshowers_polartwilight"
)

// PointGeometry is a GeoJSON point: [lon, lat, altitude].
type PointGeometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ForecastUnits documents the unit each forecast field is reported in.
type ForecastUnits struct {
	AirTemperature      *string `json:"air_temperature,omitempty"`
	CloudAreaFraction   *string `json:"cloud_area_fraction,omitempty"`
	PrecipitationAmount *string `json:"precipitation_amount,omitempty"`
	WindSpeed           *string `json:"wind_speed,omitempty"`
}

// ForecastMeta is the forecast's generation metadata.
type ForecastMeta struct {
	UpdatedAt time.Time     `json:"updated_at"`
	Units     ForecastUnits `json:"units"`
}

// ForecastTimeInstant holds parameters valid at one exact instant.
type ForecastTimeInstant struct {
	AirTemperature    *float64 `json:"air_temperature,omitempty"`
	CloudAreaFraction *float64 `json:"cloud_area_fraction,omitempty"`
	RelativeHumidity  *float64 `json:"relative_humidity,omitempty"`
	WindFromDirection *float64 `json:"wind_from_direction,omitempty"`
	WindSpeed         *float64 `json:"wind_speed,omitempty"`
}

// ForecastTimePeriod holds parameters valid over a following window.
type ForecastTimePeriod struct {
	PrecipitationAmount *float64 `json:"precipitation_amount,omitempty"`
}

// ForecastSummary is the human-facing symbol for a forecast window.
type ForecastSummary struct {
	SymbolCode WeatherSymbol `json:"symbol_code"`
}

// ForecastPeriodData pairs a summary symbol with the period's details.
type ForecastPeriodData struct {
	Summary *ForecastSummary    `json:"summary,omitempty"`
	Details *ForecastTimePeriod `json:"details,omitempty"`
}

// ForecastInstantData wraps the instant reading for one time step.
type ForecastInstantData struct {
	Details *ForecastTimeInstant `json:"details,omitempty"`
}

// ForecastTimeStepData is everything known about one time step: the
// instant reading plus however many of the rolling windows MET chose
// to populate (next_1_hours is near-term only; next_6/12_hours extend
// further out with coarser detail).
type ForecastTimeStepData struct {
	Instant     *ForecastInstantData `json:"instant,omitempty"`
	Next1Hours  *ForecastPeriodData  `json:"next_1_hours,omitempty"`
	Next6Hours  *ForecastPeriodData  `json:"next_6_hours,omitempty"`
	Next12Hours *ForecastPeriodData  `json:"next_12_hours,omitempty"`
}

// ForecastTimeStep is one point on the forecast's timeline.
type ForecastTimeStep struct {
	Time time.Time             `json:"time"`
	Data *ForecastTimeStepData `json:"data,omitempty"`
}

// Forecast is the timeline plus the metadata describing it.
type Forecast struct {
	Meta       ForecastMeta       `json:"meta"`
	Timeseries []ForecastTimeStep `json:"timeseries"`
}

// ForecastResponse is the root GeoJSON-feature response the
// Locationforecast API returns for every format (compact, complete,
// classic).
type ForecastResponse struct {
	Type       string         `json:"type"`
	Geometry   *PointGeometry `json:"geometry,omitempty"`
	Properties *Forecast      `json:"properties,omitempty"`
}

// Location is the coordinate a forecast is requested for.
type Location struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  *int    `json:"altitude,omitempty"`
}

// QueryParams is a forecast request's only input: where.
type QueryParams struct {
	Location Location `json:"location"`
}
