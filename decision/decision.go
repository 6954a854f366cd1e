// Package decision implements the pure decide() function: given the
// current price, the day's tiering, battery state, and live power
// telemetry, it returns the single Action the controller should take
// this quarter. Nothing in this package performs I/O or touches a clock
// other than the one passed in, so its output depends only on its
// arguments.
package decision

import (
	"fmt"
	"math"
	"time"

	"github.com/oskarsson/solkvot/pricing"
)

// Action is one of the five control modes the inverter adapter accepts.
type Action int

const (
	Idle Action = iota
	Charge
	Discharge
	SelfConsume
	SelfConsumeGrid
)

// String renders the fixed textual mapping readers must accept; any
// other string fails to parse as an Action.
func (a Action) String() string {
	switch a {
	case Charge:
		return "charge"
	case Discharge:
		return "discharge"
	case SelfConsume:
		return "selfConsumption"
	case SelfConsumeGrid:
		return "selfConsumption - grid"
	default:
		return "idle"
	}
}

// Valid reports whether a is one of the five known actions. The ledger
// enforces this at write time; an out-of-range value must never reach a
// stored record.
func (a Action) Valid() bool {
	switch a {
	case Idle, Charge, Discharge, SelfConsume, SelfConsumeGrid:
		return true
	}
	return false
}

// ParseAction maps the fixed textual forms back to an Action. Unknown
// values are rejected, matching the write-time action enum invariant.
func ParseAction(s string) (Action, error) {
	switch s {
	case "charge":
		return Charge, nil
	case "discharge":
		return Discharge, nil
	case "idle":
		return Idle, nil
	case "selfConsumption":
		return SelfConsume, nil
	case "selfConsumption - grid":
		return SelfConsumeGrid, nil
	default:
		return Idle, fmt.Errorf("unknown action %q", s)
	}
}

// Confidence grades how strongly a rule fired.
type Confidence int

const (
	Low Confidence = iota
	Medium
	High
)

func (c Confidence) String() string {
	switch c {
	case High:
		return "high"
	case Low:
		return "low"
	default:
		return "medium"
	}
}

// Priority names which concern drove the decision, when applicable.
const (
	PrioritySolar         = "solar"
	PriorityLoadBalancing = "load_balancing"
	PriorityGrid          = "grid"
)

// Decision is the output of Decide: one action, one power setpoint, and
// the rationale behind it.
type Decision struct {
	Action     Action
	PowerKW    float64
	Confidence Confidence
	Reason     string
	Priority   string // empty if none applies
}

// Limits carries the configuration fields Decide needs. It is a plain
// value, not the full application config, so this package stays free of
// a dependency on package config.
type Limits struct {
	MinSOC                 float64 // default 20
	MaxSOC                 float64 // default 95
	SafeChargePowerKW      float64 // default 3.0
	SafeDischargePowerKW   float64 // default 3.0
	GridChargeThreshold    float64
	GridDischargeThreshold float64
	PrioritizeSelfConsume  bool
	StaleAfter             time.Duration // default 10 min
}

// Input bundles the live signals Decide reasons over.
type Input struct {
	CurrentPrice    float64
	Tier            pricing.Tier
	Tiering         *pricing.Tiering // forward curve for the current day, for rank lookups
	SOC             float64
	SolarKW         float64
	LoadKW          float64
	TelemetryAge    time.Duration
	TelemetryMissing bool
	Now             time.Time
}

// round3 implements the "three-decimal rounding" rule for price
// comparisons.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// Decide is the pure function from (current price, forward curve, SOC,
// solar, load, clock) to a single Decision. Safety gates are evaluated
// first; if none reject, the ordered rule cascade runs and the first
// matching rule wins.
func Decide(in Input, limits Limits) Decision {
	if limits.StaleAfter <= 0 {
		limits.StaleAfter = 10 * time.Minute
	}

	// Safety gates: all reject to IDLE, power 0.
	if in.TelemetryMissing || in.TelemetryAge > limits.StaleAfter {
		return Decision{Action: Idle, PowerKW: 0, Confidence: Low, Reason: "stale telemetry"}
	}
	if in.SOC < limits.MinSOC {
		return Decision{Action: Idle, PowerKW: 0, Confidence: High, Reason: "soc below min_soc, never discharge"}
	}
	if in.SOC > limits.MaxSOC {
		return Decision{Action: Idle, PowerKW: 0, Confidence: High, Reason: "soc above max_soc, never charge"}
	}

	price := round3(in.CurrentPrice)
	excess := round3(in.SolarKW - in.LoadKW)

	// Rule 1: excess-solar charge.
	if excess >= 0.5 && in.SOC < limits.MaxSOC {
		power := math.Min(excess, limits.SafeChargePowerKW)
		if d, ok := clamp(Decision{Action: Charge, PowerKW: power, Confidence: High, Reason: "excess solar", Priority: PrioritySolar}, in, limits); ok {
			return d
		}
	}

	// Rule 2: cheap-window charge.
	if in.Tier == pricing.Cheapest && price <= round3(limits.GridChargeThreshold) && in.SOC < limits.MaxSOC-5 {
		confidence := Medium
		if in.Tiering != nil {
			if rank, ok := in.Tiering.CheapestSlotRank(in.Now); ok {
				needed := slotsToReachMax(in.SOC, limits.MaxSOC)
				if rank <= needed {
					confidence = High
				}
			}
		}
		if d, ok := clamp(Decision{Action: Charge, PowerKW: limits.SafeChargePowerKW, Confidence: confidence, Reason: "cheap window charge", Priority: PriorityGrid}, in, limits); ok {
			return d
		}
	}

	// Rule 3: expensive-window discharge.
	if in.Tier == pricing.Expensive && price >= round3(limits.GridDischargeThreshold) && in.SOC > limits.MinSOC+5 {
		power := limits.SafeDischargePowerKW
		confidence := Medium
		if limits.PrioritizeSelfConsume {
			power = math.Min(power, in.LoadKW)
		}
		if in.Tiering != nil {
			if rank, ok := in.Tiering.CheapestSlotRank(in.Now); ok {
				// symmetric: "among the N most expensive slots" is the
				// same rank computed from the top of the sorted curve.
				total := len(in.Tiering.Points())
				needed := slotsToReachMin(in.SOC, limits.MinSOC)
				if total-rank+1 <= needed {
					confidence = High
				}
			}
		}
		if d, ok := clamp(Decision{Action: Discharge, PowerKW: power, Confidence: confidence, Reason: "expensive window discharge", Priority: PriorityGrid}, in, limits); ok {
			return d
		}
	}

	// Rule 4: load-following.
	if in.LoadKW > in.SolarKW+1.0 && in.SOC > limits.MinSOC {
		power := math.Min(in.LoadKW-in.SolarKW, limits.SafeDischargePowerKW)
		if d, ok := clamp(Decision{Action: Discharge, PowerKW: power, Confidence: Medium, Reason: "load following", Priority: PriorityLoadBalancing}, in, limits); ok {
			return d
		}
	}

	return Decision{Action: Idle, PowerKW: 0, Confidence: Medium, Reason: "no trigger"}
}

// clamp rejects a candidate decision that would violate a safety gate
// once its power is bounded, so Decide can fall through to the next rule
// instead of issuing an unsafe command.
func clamp(d Decision, in Input, limits Limits) (Decision, bool) {
	if d.Action == Charge && in.SOC >= limits.MaxSOC {
		return Decision{}, false
	}
	if d.Action == Discharge && in.SOC <= limits.MinSOC {
		return Decision{}, false
	}
	return d, true
}

// slotsToReachMax estimates how many quarter-hour charge slots are
// needed to bring soc up to maxSOC, assuming each slot contributes
// roughly five percentage points at safe charge power. This is a coarse
// estimate used only to grade confidence, never to size the command.
func slotsToReachMax(soc, maxSOC float64) int {
	remaining := maxSOC - soc
	if remaining <= 0 {
		return 0
	}
	n := int(math.Ceil(remaining / 5.0))
	if n < 1 {
		n = 1
	}
	return n
}

func slotsToReachMin(soc, minSOC float64) int {
	remaining := soc - minSOC
	if remaining <= 0 {
		return 0
	}
	n := int(math.Ceil(remaining / 5.0))
	if n < 1 {
		n = 1
	}
	return n
}
