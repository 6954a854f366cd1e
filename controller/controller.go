// Package controller implements the timed single-writer control loop:
// every quarter hour it gathers price and telemetry inputs, calls the
// decision maker, issues the resulting command to the inverter, and
// persists one IntervalRecord.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/oskarsson/solkvot/ctlerr"
	"github.com/oskarsson/solkvot/dayahead"
	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/inverter"
	"github.com/oskarsson/solkvot/ledger"
	"github.com/oskarsson/solkvot/pricing"
	"github.com/oskarsson/solkvot/session"
	"github.com/oskarsson/solkvot/utils"
)

// Outcome classifies how a tick concluded.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeMisaligned   Outcome = "misaligned"
	OutcomeDuplicate    Outcome = "duplicate_tick"
	OutcomeNoPriceData  Outcome = "no_price_data"
	OutcomeFatalAdapter Outcome = "fatal_adapter_error"
)

// TickOptions carries the manual-mode flags send-instruction exposes.
type TickOptions struct {
	Force    bool
	DryRun   bool
	Override *decision.Action // nil unless --override was given
	Now      time.Time        // zero means use the controller's clock
}

// TickResult is what one Tick call produced.
type TickResult struct {
	Outcome Outcome
	Record  *ledger.IntervalRecord
	Message string
}

// Ledger is the subset of *ledger.Store the controller depends on,
// narrowed to an interface so tests can substitute a small in-memory
// double instead of a real Postgres connection.
type Ledger interface {
	Exists(ctx context.Context, systemID string, intervalStart time.Time) (bool, error)
	Latest(ctx context.Context, systemID string) (*ledger.IntervalRecord, error)
	Append(ctx context.Context, rec ledger.IntervalRecord) error
}

// Deps bundles the controller's collaborators. Every field is an
// injectable dependency so tests can substitute fakes.
type Deps struct {
	SystemID     string
	Now          func() time.Time // defaults to time.Now
	Prices       dayahead.Provider
	Inverter     inverter.Adapter
	Ledger       Ledger
	Sessions     *session.Tracker
	Logger       *log.Logger
	Limits       decision.Limits
	Battery      ledger.Battery
	TierOptions  pricing.Options
	MaxRetries   int           // default 3
	RetryDelay   time.Duration // default 5s, linear backoff
	CallDeadline time.Duration // default 30s
}

// Controller runs the single-writer tick loop for one system.
type Controller struct {
	deps Deps

	mu sync.Mutex // serializes ticks and inverter commands for this system

	cacheMu       sync.Mutex
	cachedDate    string
	cachedTiering *pricing.Tiering
}

// New returns a Controller with defaults applied to any zero-valued
// fields of deps.
func New(deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.MaxRetries <= 0 {
		deps.MaxRetries = 3
	}
	if deps.RetryDelay <= 0 {
		deps.RetryDelay = 5 * time.Second
	}
	if deps.CallDeadline <= 0 {
		deps.CallDeadline = 30 * time.Second
	}
	return &Controller{deps: deps}
}

// Tick runs exactly one control cycle. It never returns a non-nil error
// for expected preconditions (misaligned, duplicate, no price data) —
// those are reported via TickResult.Outcome so the CLI can map them to
// exit codes. A non-nil error means something unexpected happened
// (context cancellation, a ledger write that failed for a reason other
// than InvariantViolation).
func (c *Controller) Tick(ctx context.Context, opts TickOptions) (*TickResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := opts.Now
	if now.IsZero() {
		now = c.deps.Now()
	}

	if !opts.Force && !utils.IsQuarterAligned(now) {
		return &TickResult{Outcome: OutcomeMisaligned, Message: "clock minute is not aligned to the quarter"}, nil
	}
	intervalStart := utils.FloorToQuarter(now)
	intervalEnd := intervalStart.Add(15 * time.Minute)

	exists, err := call(ctx, c.deps.CallDeadline, func(cctx context.Context) (bool, error) {
		return c.deps.Ledger.Exists(cctx, c.deps.SystemID, intervalStart)
	})
	if err != nil {
		return nil, fmt.Errorf("check idempotency: %w", err)
	}
	if exists {
		return &TickResult{Outcome: OutcomeDuplicate, Message: "record already exists for this quarter"}, nil
	}

	tiering, err := c.tieringFor(ctx, intervalStart)
	if err != nil {
		var im *ctlerr.InputMissing
		if errors.As(err, &im) {
			return &TickResult{Outcome: OutcomeNoPriceData, Message: "No price data available"}, nil
		}
		return nil, fmt.Errorf("fetch day-ahead prices: %w", err)
	}

	point, found := tiering.At(intervalStart)
	if !found {
		return &TickResult{Outcome: OutcomeNoPriceData, Message: "No price data available"}, nil
	}
	currentPrice := point.Value
	tier := tiering.Classify(currentPrice)

	flow, soc, telemetryMissing, telemetryAge := c.readTelemetry(ctx)
	stale := telemetryMissing || telemetryAge > c.deps.Limits.StaleAfter

	var d decision.Decision
	decisionSource := "policy"
	switch {
	case opts.Override != nil:
		d = decision.Decision{Action: *opts.Override, PowerKW: overridePower(*opts.Override, c.deps.Limits), Confidence: decision.High, Reason: "manual override"}
		decisionSource = "manual"
	default:
		in := decision.Input{
			CurrentPrice:     currentPrice,
			Tier:             tier,
			Tiering:          tiering,
			SOC:              soc,
			SolarKW:          flow.PVPowerKW,
			LoadKW:           flow.LoadPowerKW,
			TelemetryAge:     telemetryAge,
			TelemetryMissing: telemetryMissing,
			Now:              now,
		}
		d = decision.Decide(in, c.deps.Limits)
		if stale {
			decisionSource = "safety"
			if telemetryMissing {
				d.Reason = "missing_input"
			}
		}
	}

	factors := map[string]any{
		"reason":     d.Reason,
		"confidence": d.Confidence.String(),
	}
	if d.Priority != "" {
		factors["priority"] = d.Priority
	}
	if opts.DryRun {
		factors["is_dry_run"] = true
	}

	// A safety tick executes no command at all; it only records the IDLE
	// interval so the quarter is accounted for.
	var fatalErr error
	executionSuccess := true
	if !opts.DryRun && decisionSource != "safety" {
		if err := c.executeWithRetry(ctx, d.Action, d.PowerKW); err != nil {
			executionSuccess = false
			factors["error"] = err.Error()
			var fatal *ctlerr.FatalAdapterError
			if errors.As(err, &fatal) {
				// Not retryable: record an IDLE safety interval instead of
				// the decided action, which was never executed.
				fatalErr = err
				d = decision.Decision{Action: decision.Idle, PowerKW: 0, Confidence: decision.Low, Reason: "fatal adapter error"}
				decisionSource = "safety"
				factors["reason"] = d.Reason
				factors["confidence"] = d.Confidence.String()
				delete(factors, "priority")
			} else if decisionSource == "policy" {
				decisionSource = "controller"
			}
			c.deps.Logger.Printf("controller: execution failed for %s: %v", c.deps.SystemID, err)
		}
	}
	factors["execution_success"] = executionSuccess

	prev, err := call(ctx, c.deps.CallDeadline, func(cctx context.Context) (*ledger.IntervalRecord, error) {
		return c.deps.Ledger.Latest(cctx, c.deps.SystemID)
	})
	if err != nil {
		return nil, fmt.Errorf("load previous interval record: %w", err)
	}

	rec := &ledger.IntervalRecord{
		SystemID:        c.deps.SystemID,
		IntervalStart:   intervalStart,
		IntervalEnd:     intervalEnd,
		Date:            intervalStart.Format("2006-01-02"),
		Hour:            intervalStart.Hour(),
		SOCStart:        soc,
		Action:          d.Action,
		PowerKW:         d.PowerKW,
		Price:           currentPrice,
		PriceTier:       tier,
		DailyAvgPrice:   tiering.Average(),
		DecisionSource:  decisionSource,
		DecisionFactors: factors,
		SolarKW:         flow.PVPowerKW,
		LoadKW:          flow.LoadPowerKW,
		GridImportKW:    positivePart(flow.GridPowerKW),
		GridExportKW:    positivePart(-flow.GridPowerKW),
	}
	ledger.ComputeCostFields(prev, rec, c.deps.Battery)

	gap := prev != nil && intervalStart.Sub(prev.IntervalEnd) >= 30*time.Minute

	// The record carries the id of the session it will belong to: the
	// active session if this tick extends it, otherwise the session that
	// opens at this interval. A gap or a day rollover always starts a
	// fresh session, matching the tracker's own transitions.
	rec.SessionID = c.deps.SystemID + "@" + intervalStart.Format(time.RFC3339)
	if c.deps.Sessions != nil && !gap {
		cur, ok := c.deps.Sessions.Active(c.deps.SystemID)
		if ok && cur.Action == d.Action && cur.StartedAt.Format("2006-01-02") == rec.Date {
			rec.SessionID = cur.ID
		}
	}

	_, err = call(ctx, c.deps.CallDeadline, func(cctx context.Context) (struct{}, error) {
		return struct{}{}, c.deps.Ledger.Append(cctx, *rec)
	})
	if err != nil {
		var iv *ctlerr.InvariantViolation
		if errors.As(err, &iv) {
			return &TickResult{Outcome: OutcomeDuplicate, Message: iv.Error()}, nil
		}
		return nil, fmt.Errorf("append interval record: %w", err)
	}

	if c.deps.Sessions != nil {
		c.deps.Sessions.Observe(session.Tick{
			SystemID:      c.deps.SystemID,
			IntervalStart: intervalStart,
			IntervalEnd:   intervalEnd,
			Action:        d.Action,
			PowerKW:       d.PowerKW,
			Price:         currentPrice,
			SOC:           soc,
		}, gap)
	}

	if fatalErr != nil {
		return &TickResult{Outcome: OutcomeFatalAdapter, Record: rec, Message: fatalErr.Error()}, nil
	}
	return &TickResult{Outcome: OutcomeOK, Record: rec}, nil
}

// readTelemetry reads live power flow and SOC, treating any adapter
// error as missing telemetry rather than a fatal failure — step 3's
// "missing/stale input" path routes through the Decision Maker's own
// safety gate instead of aborting the tick. The adapter reports no
// sample time, so the returned age is always zero and only a failed
// read marks telemetry as unusable.
func (c *Controller) readTelemetry(ctx context.Context) (inverter.EnergyFlow, float64, bool, time.Duration) {
	flow, err := call(ctx, c.deps.CallDeadline, func(cctx context.Context) (inverter.EnergyFlow, error) {
		return c.deps.Inverter.GetEnergyFlow(c.deps.SystemID)
	})
	if err != nil {
		c.deps.Logger.Printf("controller: telemetry read failed for %s: %v", c.deps.SystemID, err)
		return inverter.EnergyFlow{}, 0, true, 0
	}
	soc, err := call(ctx, c.deps.CallDeadline, func(cctx context.Context) (float64, error) {
		return c.deps.Inverter.GetBatterySOC(c.deps.SystemID)
	})
	if err != nil {
		c.deps.Logger.Printf("controller: SOC read failed for %s: %v", c.deps.SystemID, err)
		return flow, 0, true, 0
	}
	return flow, soc, false, 0
}

// executeWithRetry issues the inverter command, retrying transient
// failures up to MaxRetries times with linear backoff, bounded to a
// single tick.
func (c *Controller) executeWithRetry(ctx context.Context, action decision.Action, powerKW float64) error {
	var lastErr error
	for attempt := 0; attempt <= c.deps.MaxRetries; attempt++ {
		_, err := call(ctx, c.deps.CallDeadline, func(cctx context.Context) (struct{}, error) {
			return struct{}{}, c.deps.Inverter.SetMode(c.deps.SystemID, action, powerKW)
		})
		if err == nil {
			return nil
		}
		lastErr = err
		var fatal *ctlerr.FatalAdapterError
		if errors.As(err, &fatal) {
			return err
		}
		if attempt < c.deps.MaxRetries {
			c.deps.Logger.Printf("controller: setMode attempt %d/%d failed: %v (retrying in %v)", attempt+1, c.deps.MaxRetries, err, c.deps.RetryDelay)
			select {
			case <-time.After(c.deps.RetryDelay * time.Duration(attempt+1)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// tieringFor returns the cached Tiering for intervalStart's calendar
// date, fetching and building it once per day — "write-once per day;
// readers never block" per the price-cache policy.
func (c *Controller) tieringFor(ctx context.Context, intervalStart time.Time) (*pricing.Tiering, error) {
	date := intervalStart.Format("2006-01-02")

	c.cacheMu.Lock()
	if c.cachedDate == date && c.cachedTiering != nil {
		t := c.cachedTiering
		c.cacheMu.Unlock()
		return t, nil
	}
	c.cacheMu.Unlock()

	points, err := call(ctx, c.deps.CallDeadline, func(cctx context.Context) ([]pricing.PricePoint, error) {
		return c.deps.Prices.FetchDay(cctx, intervalStart)
	})
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, &ctlerr.InputMissing{Field: "day-ahead price curve"}
	}

	dayPoints := filterDay(points, intervalStart)
	if len(dayPoints) == 0 {
		dayPoints = points
	}
	tiering, err := pricing.Build(dayPoints, c.deps.TierOptions)
	if err != nil {
		return nil, &ctlerr.InputMissing{Field: fmt.Sprintf("day-ahead price curve: %v", err)}
	}

	c.cacheMu.Lock()
	c.cachedDate = date
	c.cachedTiering = tiering
	c.cacheMu.Unlock()
	return tiering, nil
}

func filterDay(points []pricing.PricePoint, day time.Time) []pricing.PricePoint {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.Add(24 * time.Hour)
	var out []pricing.PricePoint
	for _, p := range points {
		if !p.Start.Before(start) && p.Start.Before(end) {
			out = append(out, p)
		}
	}
	return out
}

// call runs fn under a context bounded by the controller's per-call
// deadline, so no single external call can stall the whole tick.
func call[T any](ctx context.Context, deadline time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()
	return fn(cctx)
}

func positivePart(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func overridePower(action decision.Action, limits decision.Limits) float64 {
	switch action {
	case decision.Charge:
		return limits.SafeChargePowerKW
	case decision.Discharge, decision.SelfConsume, decision.SelfConsumeGrid:
		return limits.SafeDischargePowerKW
	default:
		return 0
	}
}
