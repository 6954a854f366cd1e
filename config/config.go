// Package config loads and validates the controller's JSON configuration
// file: a plain struct with json tags, a DefaultConfig constructor,
// custom duration marshaling (durations serialize as Go duration
// strings, not nanosecond ints), and a Validate method that refuses
// nonsensical battery limits instead of starting with them.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oskarsson/solkvot/ctlerr"
)

// Config is every tunable the controller and its adapters need, plus
// the connection strings the ambient stack needs.
type Config struct {
	SystemID string `json:"system_id"`

	// Battery limits
	MinSOC               float64 `json:"min_soc"`                // default 20
	MaxSOC                float64 `json:"max_soc"`                // default 95
	SafeChargePowerKW     float64 `json:"safe_charge_power_kw"`   // default 3.0
	SafeDischargePowerKW  float64 `json:"safe_discharge_power_kw"` // default 3.0
	EmergencyReserve      float64 `json:"emergency_reserve"`      // default 15
	CapacityKWh           float64 `json:"capacity_kwh"`
	BatteryEfficiency     float64 `json:"battery_efficiency"` // round-trip, default 0.93

	// Price thresholds / tiering
	CheapestFraction       float64  `json:"cheapest_fraction"`        // default 1/3
	ExpensiveFraction      float64  `json:"expensive_fraction"`       // default 1/3
	AbsoluteCheapCeiling   *float64 `json:"absolute_cheap_ceiling"`   // optional
	AbsoluteExpensiveFloor *float64 `json:"absolute_expensive_floor"` // optional

	// Strategy flags
	PrioritizeSolar        bool    `json:"prioritize_solar"`
	ExportExcessSolar      bool    `json:"export_excess_solar"`
	PrioritizeSelfConsume  bool    `json:"prioritize_self_consume"`
	GridChargeThreshold    float64 `json:"grid_charge_threshold"`
	GridDischargeThreshold float64 `json:"grid_discharge_threshold"`

	// Scheduling
	OptimizationInterval time.Duration `json:"optimization_interval"` // default 15min
	MaxRetries           int           `json:"max_retries"`           // default 3
	RetryDelay           time.Duration `json:"retry_delay"`           // default 5s
	CallDeadline         time.Duration `json:"call_deadline"`         // default 30s
	StaleAfter           time.Duration `json:"stale_after"`           // default 10min

	// Timezone / price area
	Timezone  string `json:"timezone"`   // default Europe/Stockholm
	PriceArea string `json:"price_area"` // default SE3

	// Connections
	PostgresConnString string  `json:"postgres_conn_string"`
	DayAheadToken       string  `json:"day_ahead_token"`
	DayAheadURLFormat   string  `json:"day_ahead_url_format"`
	ImportFeePerKWh     float64 `json:"import_fee_per_kwh"`
	ExportFeePerKWh     float64 `json:"export_fee_per_kwh"`
	InverterAddress     string  `json:"inverter_address"`
	WeatherUserAgent    string  `json:"weather_user_agent"`
	Latitude            float64 `json:"latitude"`
	Longitude           float64 `json:"longitude"`
	PeakSolarKW         float64 `json:"peak_solar_kw"`

	// Ops surface
	StatusServerPort int `json:"status_server_port"` // 0 = disabled
}

// DefaultConfig returns a Config with sane battery, pricing, and
// scheduling defaults for a single-system installation.
func DefaultConfig() *Config {
	return &Config{
		MinSOC:                 20,
		MaxSOC:                 95,
		SafeChargePowerKW:      3.0,
		SafeDischargePowerKW:   3.0,
		EmergencyReserve:       15,
		CapacityKWh:            10,
		BatteryEfficiency:      0.93,
		CheapestFraction:       1.0 / 3.0,
		ExpensiveFraction:      1.0 / 3.0,
		GridChargeThreshold:    0.15,
		GridDischargeThreshold: 2.0,
		OptimizationInterval:   15 * time.Minute,
		MaxRetries:             3,
		RetryDelay:             5 * time.Second,
		CallDeadline:           30 * time.Second,
		StaleAfter:             10 * time.Minute,
		Timezone:               "Europe/Stockholm",
		PriceArea:              "SE3",
		DayAheadURLFormat:      "https://web-api.tp.entsoe.eu/api?documentType=A44&out_Domain=10Y1001A1001A46&in_Domain=10Y1001A1001A46&periodStart=%s&periodEnd=%s&securityToken=%s",
		Latitude:               59.3293, // Stockholm
		Longitude:              18.0686,
		PeakSolarKW:            10,
		WeatherUserAgent:       "solkvot/1.0 (ops@example.com)",
		StatusServerPort:       0,
	}
}

// Load reads and validates a Config from filename.
func Load(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()
	return LoadFromReader(file)
}

// LoadFromReader reads and validates a Config from r, applying
// DefaultConfig's values to any field the JSON document omits.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inverted thresholds and missing required fields,
// raising ctlerr.ConfigurationError: refuse to start rather than run
// with nonsensical battery limits.
func (c *Config) Validate() error {
	if c.SystemID == "" {
		return &ctlerr.ConfigurationError{Reason: "system_id must not be empty"}
	}
	if c.MinSOC < 0 || c.MinSOC > 100 {
		return &ctlerr.ConfigurationError{Reason: "min_soc must be in [0,100]"}
	}
	if c.MaxSOC < 0 || c.MaxSOC > 100 {
		return &ctlerr.ConfigurationError{Reason: "max_soc must be in [0,100]"}
	}
	if c.MinSOC >= c.MaxSOC {
		return &ctlerr.ConfigurationError{Reason: fmt.Sprintf("min_soc (%v) must be less than max_soc (%v)", c.MinSOC, c.MaxSOC)}
	}
	if c.SafeChargePowerKW <= 0 {
		return &ctlerr.ConfigurationError{Reason: "safe_charge_power_kw must be positive"}
	}
	if c.SafeDischargePowerKW <= 0 {
		return &ctlerr.ConfigurationError{Reason: "safe_discharge_power_kw must be positive"}
	}
	if c.CapacityKWh <= 0 {
		return &ctlerr.ConfigurationError{Reason: "capacity_kwh must be positive"}
	}
	if c.BatteryEfficiency <= 0 || c.BatteryEfficiency > 1 {
		return &ctlerr.ConfigurationError{Reason: "battery_efficiency must be in (0,1]"}
	}
	if c.GridChargeThreshold >= c.GridDischargeThreshold {
		return &ctlerr.ConfigurationError{Reason: "grid_charge_threshold must be less than grid_discharge_threshold"}
	}
	if c.OptimizationInterval <= 0 {
		return &ctlerr.ConfigurationError{Reason: "optimization_interval must be positive"}
	}
	if c.Timezone == "" {
		return &ctlerr.ConfigurationError{Reason: "timezone must not be empty"}
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return &ctlerr.ConfigurationError{Reason: fmt.Sprintf("invalid timezone %q: %v", c.Timezone, err)}
	}
	if c.PriceArea == "" {
		return &ctlerr.ConfigurationError{Reason: "price_area must not be empty"}
	}
	if c.PostgresConnString == "" {
		return &ctlerr.ConfigurationError{Reason: "postgres_conn_string must not be empty"}
	}
	if c.InverterAddress == "" {
		return &ctlerr.ConfigurationError{Reason: "inverter_address must not be empty"}
	}
	return nil
}

// MarshalJSON serializes Duration fields as Go duration strings instead
// of nanosecond ints.
func (c *Config) MarshalJSON() ([]byte, error) {
	type alias Config
	return json.Marshal(&struct {
		*alias
		OptimizationInterval string `json:"optimization_interval"`
		RetryDelay           string `json:"retry_delay"`
		CallDeadline         string `json:"call_deadline"`
		StaleAfter           string `json:"stale_after"`
	}{
		alias:                (*alias)(c),
		OptimizationInterval: c.OptimizationInterval.String(),
		RetryDelay:           c.RetryDelay.String(),
		CallDeadline:         c.CallDeadline.String(),
		StaleAfter:           c.StaleAfter.String(),
	})
}

// UnmarshalJSON parses Duration fields from Go duration strings.
func (c *Config) UnmarshalJSON(data []byte) error {
	type alias Config
	aux := &struct {
		*alias
		OptimizationInterval string `json:"optimization_interval"`
		RetryDelay           string `json:"retry_delay"`
		CallDeadline         string `json:"call_deadline"`
		StaleAfter           string `json:"stale_after"`
	}{alias: (*alias)(c)}

	if err := json.Unmarshal(data, aux); err != nil {
		return err
	}

	var err error
	if aux.OptimizationInterval != "" {
		if c.OptimizationInterval, err = time.ParseDuration(aux.OptimizationInterval); err != nil {
			return fmt.Errorf("invalid optimization_interval: %w", err)
		}
	}
	if aux.RetryDelay != "" {
		if c.RetryDelay, err = time.ParseDuration(aux.RetryDelay); err != nil {
			return fmt.Errorf("invalid retry_delay: %w", err)
		}
	}
	if aux.CallDeadline != "" {
		if c.CallDeadline, err = time.ParseDuration(aux.CallDeadline); err != nil {
			return fmt.Errorf("invalid call_deadline: %w", err)
		}
	}
	if aux.StaleAfter != "" {
		if c.StaleAfter, err = time.ParseDuration(aux.StaleAfter); err != nil {
			return fmt.Errorf("invalid stale_after: %w", err)
		}
	}
	return nil
}

// String renders the config as indented JSON.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}
