// Package ledger is the append-only history of per-quarter interval
// records. Writes are strict write-once inserts: a duplicate
// (system_id, interval_start) is an InvariantViolation, not a silent
// overwrite — once written, an interval record never changes.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lib/pq"

	"github.com/oskarsson/solkvot/ctlerr"
	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/pricing"
)

// IntervalRecord is one 15-minute interval's decision and cost
// accounting for one system.
type IntervalRecord struct {
	SystemID       string
	IntervalStart  time.Time
	IntervalEnd    time.Time
	Date           string
	Hour           int
	SOCStart       float64
	Action         decision.Action
	PowerKW        float64
	Price          float64
	PriceTier      pricing.Tier
	DailyAvgPrice  float64
	DecisionSource string // "policy", "safety", "manual", "controller"
	DecisionFactors map[string]any

	IntervalCost         float64
	CumulativeChargeCost float64
	CostOfCurrentCharge  float64
	AvgChargePrice       float64
	EnergyInBatteryKWh   float64

	SolarKW      float64
	LoadKW       float64
	GridImportKW float64
	GridExportKW float64

	SessionID string
}

// Battery carries the physical parameters ComputeCostFields needs.
type Battery struct {
	CapacityKWh   float64
	EfficiencyOne float64 // one-way efficiency, default sqrt(0.93)
}

// ComputeCostFields fills in the cost-accounting fields of rec given the
// previous record for the same system (nil if rec is the first):
//
//	interval_cost = sign(action) * power_kw * 0.25h * price
//	cumulative_charge_cost carries forward, accumulates on CHARGE,
//	  shrinks proportionally on DISCHARGE, and resets to 0 once the
//	  battery drops below 5% of capacity.
//	avg_charge_price = cumulative_charge_cost / energy_in_battery_kwh.
func ComputeCostFields(prev *IntervalRecord, rec *IntervalRecord, battery Battery) {
	if battery.EfficiencyOne <= 0 {
		battery.EfficiencyOne = math.Sqrt(0.93)
	}

	energyKWh := rec.PowerKW * 0.25

	switch rec.Action {
	case decision.Charge:
		rec.IntervalCost = -energyKWh * rec.Price
	case decision.Discharge, decision.SelfConsume, decision.SelfConsumeGrid:
		rec.IntervalCost = energyKWh * rec.Price
	default:
		rec.IntervalCost = 0
	}

	var prevCumulative, prevEnergy float64
	if prev != nil {
		prevCumulative = prev.CumulativeChargeCost
		prevEnergy = prev.EnergyInBatteryKWh
	} else {
		prevEnergy = battery.CapacityKWh * rec.SOCStart / 100
	}

	switch rec.Action {
	case decision.Charge:
		rec.EnergyInBatteryKWh = prevEnergy + battery.EfficiencyOne*energyKWh
		rec.CumulativeChargeCost = prevCumulative + rec.IntervalCost*-1 // accumulate as a positive cost basis
	case decision.Discharge, decision.SelfConsume, decision.SelfConsumeGrid:
		rec.EnergyInBatteryKWh = prevEnergy - energyKWh
		if prevEnergy > 0 {
			rec.CumulativeChargeCost = prevCumulative * (1 - energyKWh/prevEnergy)
		} else {
			rec.CumulativeChargeCost = 0
		}
	default:
		rec.EnergyInBatteryKWh = prevEnergy
		rec.CumulativeChargeCost = prevCumulative
	}

	if battery.CapacityKWh > 0 && rec.EnergyInBatteryKWh < 0.05*battery.CapacityKWh {
		rec.CumulativeChargeCost = 0
	}

	rec.CostOfCurrentCharge = rec.CumulativeChargeCost
	if rec.EnergyInBatteryKWh > 0 {
		rec.AvgChargePrice = rec.CumulativeChargeCost / rec.EnergyInBatteryKWh
	} else {
		rec.AvgChargePrice = 0
	}
}

// Store is the single-writer Postgres-backed ledger. Readers (the
// dashboard) use the same *sql.DB concurrently with snapshot reads; only
// the controller calls Append.
type Store struct {
	db *sql.DB
}

// NewStore wraps an already-open *sql.DB. The caller owns its lifecycle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append inserts exactly one IntervalRecord. A duplicate (system_id,
// interval_start) surfaces as ctlerr.InvariantViolation instead of
// overwriting the existing row.
func (s *Store) Append(ctx context.Context, rec IntervalRecord) error {
	if rec.IntervalEnd.Sub(rec.IntervalStart) != 15*time.Minute {
		return &ctlerr.InvariantViolation{Reason: "interval_end must be interval_start + 15min"}
	}
	if m := rec.IntervalStart.Minute(); m != 0 && m != 15 && m != 30 && m != 45 {
		return &ctlerr.InvariantViolation{Reason: "interval_start must align to the quarter"}
	}
	if rec.SOCStart < 0 || rec.SOCStart > 100 {
		return &ctlerr.InvariantViolation{Reason: "soc_start out of [0,100]"}
	}
	if !rec.Action.Valid() {
		return &ctlerr.InvariantViolation{Reason: fmt.Sprintf("unknown action value %d", rec.Action)}
	}

	factorsJSON, err := encodeFactors(rec.DecisionFactors)
	if err != nil {
		return fmt.Errorf("encode decision_factors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO interval_records (
			system_id, interval_start, interval_end, date, hour,
			soc_start, action, power_kw, price, price_tier, daily_avg_price,
			decision_source, decision_factors,
			interval_cost, cumulative_charge_cost, cost_of_current_charge,
			avg_charge_price, energy_in_battery_kwh,
			solar_kw, load_kw, grid_import_kw, grid_export_kw, session_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
	`,
		rec.SystemID, rec.IntervalStart, rec.IntervalEnd, rec.Date, rec.Hour,
		round(rec.SOCStart, 2), rec.Action.String(), round(rec.PowerKW, 3), round(rec.Price, 5), rec.PriceTier.String(), round(rec.DailyAvgPrice, 5),
		rec.DecisionSource, factorsJSON,
		round(rec.IntervalCost, 4), round(rec.CumulativeChargeCost, 4), round(rec.CostOfCurrentCharge, 4),
		round(rec.AvgChargePrice, 4), round(rec.EnergyInBatteryKWh, 3),
		round(rec.SolarKW, 3), round(rec.LoadKW, 3), round(rec.GridImportKW, 3), round(rec.GridExportKW, 3), rec.SessionID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return &ctlerr.InvariantViolation{Reason: fmt.Sprintf("duplicate_tick: record already exists for (%s, %s)", rec.SystemID, rec.IntervalStart)}
		}
		return fmt.Errorf("insert interval record: %w", err)
	}
	return nil
}

// Exists reports whether a record already exists for (systemID,
// intervalStart), used by the controller's idempotency guard before it
// even builds a record.
func (s *Store) Exists(ctx context.Context, systemID string, intervalStart time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM interval_records WHERE system_id = $1 AND interval_start = $2
	`, systemID, intervalStart).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check existing interval record: %w", err)
	}
	return n > 0, nil
}

// Latest returns the most recently written record for systemID, nil if
// none exists yet. Used as the "prev" argument to ComputeCostFields.
// Cost fields of rows already written are never recomputed, including
// when an earlier interval is appended late.
func (s *Store) Latest(ctx context.Context, systemID string) (*IntervalRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT system_id, interval_start, interval_end, date, hour, soc_start, action,
			power_kw, price, price_tier, daily_avg_price, decision_source,
			interval_cost, cumulative_charge_cost, cost_of_current_charge,
			avg_charge_price, energy_in_battery_kwh,
			solar_kw, load_kw, grid_import_kw, grid_export_kw, session_id
		FROM interval_records WHERE system_id = $1
		ORDER BY interval_start DESC LIMIT 1
	`, systemID)

	var rec IntervalRecord
	var actionStr, tierStr string
	err := row.Scan(
		&rec.SystemID, &rec.IntervalStart, &rec.IntervalEnd, &rec.Date, &rec.Hour, &rec.SOCStart, &actionStr,
		&rec.PowerKW, &rec.Price, &tierStr, &rec.DailyAvgPrice, &rec.DecisionSource,
		&rec.IntervalCost, &rec.CumulativeChargeCost, &rec.CostOfCurrentCharge,
		&rec.AvgChargePrice, &rec.EnergyInBatteryKWh,
		&rec.SolarKW, &rec.LoadKW, &rec.GridImportKW, &rec.GridExportKW, &rec.SessionID,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest interval record: %w", err)
	}
	action, perr := decision.ParseAction(actionStr)
	if perr != nil {
		return nil, fmt.Errorf("stored record has invalid action: %w", perr)
	}
	rec.Action = action
	rec.PriceTier = parseTier(tierStr)
	return &rec, nil
}

func parseTier(s string) pricing.Tier {
	switch s {
	case "cheapest":
		return pricing.Cheapest
	case "expensive":
		return pricing.Expensive
	default:
		return pricing.Middle
	}
}

func round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

func encodeFactors(factors map[string]any) (string, error) {
	if len(factors) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(factors)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
