// Package optimizer is the secondary diagnostic planner: a dynamic-
// programming search over a discretized SOC grid, run by the
// optimize-preview CLI command to show an operator the theoretical
// best schedule next to the rule-based one package planner produces.
// It never drives the inverter and never writes to the ledger.
package optimizer

import (
	"math"

	"github.com/oskarsson/solkvot/decision"
)

// SystemConfig is the battery/grid envelope the search respects.
type SystemConfig struct {
	BatteryCapacity        float64 // kWh
	BatteryMaxCharge       float64 // kW
	BatteryMaxDischarge    float64 // kW
	BatteryMinSOC          float64 // fraction 0-1
	BatteryMaxSOC          float64 // fraction 0-1
	BatteryEfficiency      float64 // round-trip efficiency 0-1
	BatteryDegradationCost float64 // currency per kWh cycled
	MaxGridImport          float64 // kW
	MaxGridExport          float64 // kW
}

// TimeSlot is one hour's forecast: prices plus, optionally, solar/load
// forecasts and the weather signal they were derived from.
type TimeSlot struct {
	Hour          int
	Timestamp     int64 // unix seconds
	ImportPrice   float64
	ExportPrice   float64
	SolarForecast float64
	LoadForecast  float64
	CloudCoverage float64
	WeatherSymbol string
}

// ControlDecision is the search's output for one hour: the battery move
// expressed both as the shared decision.Action enum and as signed
// kW figures, plus the grid flow and SOC that move implies.
type ControlDecision struct {
	Hour      int
	Timestamp int64

	Action           decision.Action
	BatteryCharge    float64 // kW, >0 only when Action == decision.Charge
	BatteryDischarge float64 // kW, >0 only when Action is a discharge variant
	GridImport       float64
	GridExport       float64
	BatterySOC       float64 // fraction 0-1, SOC after this hour
	Profit           float64

	ImportPrice   float64
	ExportPrice   float64
	SolarForecast float64
	LoadForecast  float64
	CloudCoverage float64
	WeatherSymbol string
}

// MPCController runs the DP search against one SystemConfig starting
// from a given SOC.
type MPCController struct {
	Config     SystemConfig
	Horizon    int
	CurrentSOC float64
}

// NewMPCController returns a controller ready to Optimize a forecast of
// up to horizon hours, starting from initialSOC (fraction 0-1).
func NewMPCController(config SystemConfig, horizon int, initialSOC float64) *MPCController {
	return &MPCController{Config: config, Horizon: horizon, CurrentSOC: initialSOC}
}

// socGridSteps is the SOC discretization the DP table uses. 200 steps
// over a typical 75-percentage-point usable band is roughly 0.4pp
// resolution — fine enough that the reconstructed schedule doesn't
// visibly stair-step.
const socGridSteps = 200

// dpCell is one (hour, soc-bucket) entry in the forward DP table: the
// best cumulative profit reaching this bucket, the decision that got it
// there, and the predecessor bucket for backtracking.
type dpCell struct {
	profit    float64
	decision  ControlDecision
	fromIndex int
}

// Optimize runs the forward DP pass over forecast and backtracks the
// highest-profit path, returning one ControlDecision per hour.
func (mpc *MPCController) Optimize(forecast []TimeSlot) []ControlDecision {
	if len(forecast) == 0 {
		return nil
	}

	socStep := (mpc.Config.BatteryMaxSOC - mpc.Config.BatteryMinSOC) / float64(socGridSteps)
	table := newDPTable(len(forecast), socGridSteps)
	table[0][mpc.socIndex(mpc.CurrentSOC, socStep)].profit = 0

	for hour, slot := range forecast {
		for socIdx := 0; socIdx <= socGridSteps; socIdx++ {
			cur := table[hour][socIdx]
			if math.IsInf(cur.profit, -1) {
				continue
			}
			soc := mpc.socFromIndex(socIdx, socStep)

			for _, move := range mpc.feasibleMoves(soc) {
				dec := mpc.applyMove(move, slot)
				if !mpc.withinLimits(dec) {
					continue
				}
				newSOC := mpc.nextSOC(soc, move)
				newIdx := mpc.socIndex(newSOC, socStep)
				if newIdx < 0 || newIdx > socGridSteps {
					continue
				}

				profit := mpc.profitOf(dec, slot)
				if total := cur.profit + profit; total > table[hour+1][newIdx].profit {
					dec.BatterySOC = newSOC
					dec.Profit = profit
					dec.Hour, dec.Timestamp = slot.Hour, slot.Timestamp
					dec.ImportPrice, dec.ExportPrice = slot.ImportPrice, slot.ExportPrice
					dec.SolarForecast, dec.LoadForecast = slot.SolarForecast, slot.LoadForecast
					dec.CloudCoverage, dec.WeatherSymbol = slot.CloudCoverage, slot.WeatherSymbol
					table[hour+1][newIdx] = dpCell{profit: total, decision: dec, fromIndex: socIdx}
				}
			}
		}
	}

	return backtrack(table, forecast)
}

func newDPTable(hours, socSteps int) [][]dpCell {
	table := make([][]dpCell, hours+1)
	for h := range table {
		table[h] = make([]dpCell, socSteps+1)
		for i := range table[h] {
			table[h][i].profit = math.Inf(-1)
		}
	}
	return table
}

// backtrack walks the DP table from the best-profit final bucket back
// to hour 0, reconstructing the chosen decision for every hour.
func backtrack(table [][]dpCell, forecast []TimeSlot) []ControlDecision {
	last := len(table) - 1
	bestIdx, bestProfit := 0, math.Inf(-1)
	for idx, cell := range table[last] {
		if cell.profit > bestProfit {
			bestProfit, bestIdx = cell.profit, idx
		}
	}

	path := make([]ControlDecision, len(forecast))
	idx := bestIdx
	for hour := len(forecast) - 1; hour >= 0; hour-- {
		cell := table[hour+1][idx]
		path[hour] = cell.decision
		idx = cell.fromIndex
	}
	return path
}

// batteryMove is one candidate battery setpoint: a signed kW request,
// positive for charging, negative for discharging.
type batteryMove struct {
	kw     float64
	action decision.Action
}

// feasibleMoves enumerates idle plus five charge and five discharge
// steps up to the configured max power, dropping any step that would
// push soc outside [BatteryMinSOC, BatteryMaxSOC] under the coarse
// headroom check (no efficiency loss — that's applied by nextSOC at
// the point the move is actually taken, not during enumeration).
func (mpc *MPCController) feasibleMoves(soc float64) []batteryMove {
	moves := []batteryMove{{kw: 0, action: decision.Idle}}

	const steps = 5
	for i := 1; i <= steps; i++ {
		charge := float64(i) * mpc.Config.BatteryMaxCharge / steps
		if soc+charge/mpc.Config.BatteryCapacity <= mpc.Config.BatteryMaxSOC {
			moves = append(moves, batteryMove{kw: charge, action: decision.Charge})
		}
	}
	for i := 1; i <= steps; i++ {
		discharge := float64(i) * mpc.Config.BatteryMaxDischarge / steps
		if soc-discharge/mpc.Config.BatteryCapacity >= mpc.Config.BatteryMinSOC {
			moves = append(moves, batteryMove{kw: -discharge, action: decision.Discharge})
		}
	}
	return moves
}

// nextSOC integrates one hour of the move into soc: charging loses
// BatteryEfficiency's share to heat before it reaches storage;
// discharging draws directly (the round-trip loss was already taken at
// charge time).
func (mpc *MPCController) nextSOC(soc float64, move batteryMove) float64 {
	var delta float64
	if move.kw >= 0 {
		delta = move.kw * mpc.Config.BatteryEfficiency / mpc.Config.BatteryCapacity
	} else {
		delta = move.kw / mpc.Config.BatteryCapacity
	}
	next := soc + delta
	return math.Max(mpc.Config.BatteryMinSOC, math.Min(mpc.Config.BatteryMaxSOC, next))
}

// applyMove balances one battery move against the hour's solar and load
// forecast, routing any surplus to export and any deficit to import.
func (mpc *MPCController) applyMove(move batteryMove, slot TimeSlot) ControlDecision {
	dec := ControlDecision{Action: move.action}
	if move.kw >= 0 {
		dec.BatteryCharge = move.kw
	} else {
		dec.BatteryDischarge = -move.kw
	}

	supply := slot.SolarForecast + dec.BatteryDischarge*mpc.Config.BatteryEfficiency
	demand := slot.LoadForecast + dec.BatteryCharge/mpc.Config.BatteryEfficiency
	switch balance := supply - demand; {
	case balance > 0:
		dec.GridExport = math.Min(balance, mpc.Config.MaxGridExport)
	default:
		dec.GridImport = math.Min(-balance, mpc.Config.MaxGridImport)
	}
	return dec
}

func (mpc *MPCController) withinLimits(dec ControlDecision) bool {
	return dec.BatteryCharge <= mpc.Config.BatteryMaxCharge &&
		dec.BatteryDischarge <= mpc.Config.BatteryMaxDischarge &&
		dec.GridImport <= mpc.Config.MaxGridImport &&
		dec.GridExport <= mpc.Config.MaxGridExport
}

// profitOf is export revenue minus import cost minus a throughput-
// proportional degradation charge.
func (mpc *MPCController) profitOf(dec ControlDecision, slot TimeSlot) float64 {
	revenue := dec.GridExport * slot.ExportPrice
	cost := dec.GridImport * slot.ImportPrice
	degradation := (dec.BatteryCharge + dec.BatteryDischarge) * mpc.Config.BatteryDegradationCost
	return revenue - cost - degradation
}

func (mpc *MPCController) socIndex(soc, socStep float64) int {
	return int(math.Round((soc - mpc.Config.BatteryMinSOC) / socStep))
}

func (mpc *MPCController) socFromIndex(index int, socStep float64) float64 {
	return mpc.Config.BatteryMinSOC + float64(index)*socStep
}

// ExecuteControl runs Optimize and returns only the first hour's
// decision, advancing CurrentSOC to match: "what would the optimizer
// do right now".
func (mpc *MPCController) ExecuteControl(forecast []TimeSlot) *ControlDecision {
	decisions := mpc.Optimize(forecast)
	if len(decisions) == 0 {
		return nil
	}
	first := decisions[0]
	mpc.CurrentSOC = first.BatterySOC
	return &first
}
