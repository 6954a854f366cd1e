// Package main provides the battery controller's CLI entry point:
// send-instruction runs one tick, run is the long-lived daemon, and
// optimize-preview is the diagnostic DP-optimizer comparison.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/oskarsson/solkvot/config"
	"github.com/oskarsson/solkvot/controller"
	"github.com/oskarsson/solkvot/dayahead"
	"github.com/oskarsson/solkvot/decision"
	"github.com/oskarsson/solkvot/inverter"
	"github.com/oskarsson/solkvot/ledger"
	"github.com/oskarsson/solkvot/optimizer"
	"github.com/oskarsson/solkvot/planner"
	"github.com/oskarsson/solkvot/pricing"
	"github.com/oskarsson/solkvot/session"
	"github.com/oskarsson/solkvot/solar"
	"github.com/oskarsson/solkvot/statusserver"
	"github.com/oskarsson/solkvot/telemetry"
	"github.com/oskarsson/solkvot/weather"
)

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "-help", "--help", "help":
		showHelp()
	case "run":
		runDaemon(os.Args[2:])
	case "send-instruction":
		os.Exit(runSendInstruction(os.Args[2:]))
	case "optimize-preview":
		runOptimizePreview(os.Args[2:])
	case "plan-preview":
		runPlanPreview(os.Args[2:])
	case "inspect":
		runInspect(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		showHelp()
		os.Exit(1)
	}
}

// wired bundles every collaborator built from a loaded Config, shared by
// the run and send-instruction subcommands.
type wired struct {
	cfg      *config.Config
	logger   *log.Logger
	db       *sql.DB
	store    *ledger.Store
	prices   dayahead.Provider
	inverter *telemetry.AveragingAdapter
	sessions *session.Tracker
	ctrl     *controller.Controller
	status   *statusserver.Server
}

func wireUp(cfg *config.Config, logPrefix string) (*wired, error) {
	logger := log.New(os.Stdout, logPrefix, log.LstdFlags)

	db, err := sql.Open("postgres", cfg.PostgresConnString)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	store := ledger.NewStore(db)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	prices := &dayahead.EntsoeProvider{
		SecurityToken:   cfg.DayAheadToken,
		URLFormat:       cfg.DayAheadURLFormat,
		Location:        loc,
		ImportFeePerKWh: cfg.ImportFeePerKWh,
		ExportFeePerKWh: cfg.ExportFeePerKWh,
		Logger:          logger,
	}

	baseInverter := inverter.NewSigenAdapter(cfg.InverterAddress)
	avgInverter := telemetry.NewAveragingAdapter(baseInverter, cfg.SystemID)

	sessions := session.NewTracker()

	limits := decision.Limits{
		MinSOC:                 cfg.MinSOC,
		MaxSOC:                 cfg.MaxSOC,
		SafeChargePowerKW:      cfg.SafeChargePowerKW,
		SafeDischargePowerKW:   cfg.SafeDischargePowerKW,
		GridChargeThreshold:    cfg.GridChargeThreshold,
		GridDischargeThreshold: cfg.GridDischargeThreshold,
		PrioritizeSelfConsume:  cfg.PrioritizeSelfConsume,
		StaleAfter:             cfg.StaleAfter,
	}
	battery := ledger.Battery{
		CapacityKWh:   cfg.CapacityKWh,
		EfficiencyOne: math.Sqrt(cfg.BatteryEfficiency),
	}

	ctrl := controller.New(controller.Deps{
		SystemID:     cfg.SystemID,
		Prices:       prices,
		Inverter:     avgInverter,
		Ledger:       store,
		Sessions:     sessions,
		Logger:       logger,
		Limits:       limits,
		Battery:      battery,
		TierOptions:  pricing.Options{CheapestFraction: cfg.CheapestFraction, ExpensiveFraction: cfg.ExpensiveFraction, AbsoluteCheapCeiling: cfg.AbsoluteCheapCeiling, AbsoluteExpensiveFloor: cfg.AbsoluteExpensiveFloor},
		MaxRetries:   cfg.MaxRetries,
		RetryDelay:   cfg.RetryDelay,
		CallDeadline: cfg.CallDeadline,
	})

	statusSrv := statusserver.New(cfg.StatusServerPort, cfg.SystemID, store, logger)

	return &wired{
		cfg: cfg, logger: logger, db: db, store: store,
		prices: prices, inverter: avgInverter, sessions: sessions,
		ctrl: ctrl, status: statusSrv,
	}, nil
}

func loadConfigOrExit(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// runSendInstruction runs exactly one tick and maps the outcome to a
// shell exit code so cron jobs and systemd units can branch on it.
func runSendInstruction(args []string) int {
	fs := flag.NewFlagSet("send-instruction", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	dryRun := fs.Bool("dry-run", false, "Skip step 5 (inverter command execution)")
	force := fs.Bool("force", false, "Bypass the quarter-alignment check")
	override := fs.String("override", "", "Bypass the decision maker with a fixed action (charge, discharge, idle, self-consume, self-consume-grid)")
	fs.Parse(args)

	cfg := loadConfigOrExit(*configFile)
	w, err := wireUp(cfg, "[BATTERYCTL] ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer w.db.Close()

	opts := controller.TickOptions{Force: *force, DryRun: *dryRun}
	if *override != "" {
		action, err := parseOverrideAction(*override)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		opts.Override = &action
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*cfg.CallDeadline)
	defer cancel()

	result, err := w.ctrl.Tick(ctx, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch result.Outcome {
	case controller.OutcomeOK:
		rec := result.Record
		fmt.Printf("Decision: %s %.2f kW (tier=%s price=%.5f cost=%.4f)\n",
			rec.Action, rec.PowerKW, rec.PriceTier, rec.Price, rec.IntervalCost)
		return 0
	case controller.OutcomeMisaligned:
		fmt.Fprintln(os.Stderr, "misaligned: clock minute is not aligned to the quarter (use --force to override)")
		return 1
	case controller.OutcomeDuplicate:
		fmt.Println("duplicate_tick: a record already exists for this quarter")
		return 0
	case controller.OutcomeNoPriceData:
		fmt.Fprintln(os.Stderr, "No price data available")
		return 1
	case controller.OutcomeFatalAdapter:
		fmt.Fprintf(os.Stderr, "fatal adapter error: %s\n", result.Message)
		return 1
	default:
		fmt.Fprintf(os.Stderr, "unexpected outcome: %s\n", result.Outcome)
		return 1
	}
}

func parseOverrideAction(s string) (decision.Action, error) {
	switch s {
	case "charge":
		return decision.Charge, nil
	case "discharge":
		return decision.Discharge, nil
	case "idle":
		return decision.Idle, nil
	case "self-consume":
		return decision.SelfConsume, nil
	case "self-consume-grid":
		return decision.SelfConsumeGrid, nil
	default:
		return decision.Idle, fmt.Errorf("unknown override action %q", s)
	}
}

// runDaemon runs the long-lived controller: a tick every
// optimization_interval, aligned to the quarter, plus a background
// telemetry poller and the status server.
func runDaemon(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	fs.Parse(args)

	cfg := loadConfigOrExit(*configFile)
	w, err := wireUp(cfg, "[BATTERYCTL] ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer w.db.Close()

	w.logger.Printf("Starting battery controller for system %s", cfg.SystemID)
	w.logger.Printf("  min_soc=%.1f max_soc=%.1f safe_charge=%.1fkW safe_discharge=%.1fkW", cfg.MinSOC, cfg.MaxSOC, cfg.SafeChargePowerKW, cfg.SafeDischargePowerKW)
	w.logger.Printf("  optimization_interval=%s timezone=%s price_area=%s", cfg.OptimizationInterval, cfg.Timezone, cfg.PriceArea)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if w.status != nil {
		if err := w.status.Start(); err != nil {
			w.logger.Printf("status server failed to start: %v", err)
		}
	}

	pollDone := make(chan struct{})
	go runTelemetryPoller(ctx, w, pollDone)

	tickDone := make(chan struct{})
	go runTickLoop(ctx, w, tickDone)

	w.logger.Printf("Controller started. Press Ctrl+C to stop...")
	<-sigChan
	w.logger.Printf("Shutdown signal received, stopping controller...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*cfg.CallDeadline)
	defer shutdownCancel()
	if w.status != nil {
		w.status.Stop(shutdownCtx)
	}

	<-tickDone
	<-pollDone
	w.logger.Printf("Controller stopped")
}

// runTelemetryPoller feeds the AveragingAdapter a fresh sample every 15
// seconds, independent of the 15-minute tick, so each tick's GetEnergyFlow
// call returns a real quarter-hour average instead of one instant sample.
func runTelemetryPoller(ctx context.Context, w *wired, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := w.inverter.Poll(); err != nil {
				w.logger.Printf("telemetry poll failed: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func runTickLoop(ctx context.Context, w *wired, done chan<- struct{}) {
	defer close(done)
	interval := w.cfg.OptimizationInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}

	timer := time.NewTimer(waitForNextQuarter(time.Now(), interval))
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			runOneTick(ctx, w)
			timer.Reset(waitForNextQuarter(time.Now(), interval))
		case <-ctx.Done():
			return
		}
	}
}

func waitForNextQuarter(now time.Time, interval time.Duration) time.Duration {
	next := now.Truncate(interval).Add(interval)
	return next.Sub(now)
}

func runOneTick(ctx context.Context, w *wired) {
	tickCtx, cancel := context.WithTimeout(ctx, 2*w.cfg.CallDeadline)
	defer cancel()

	result, err := w.ctrl.Tick(tickCtx, controller.TickOptions{})
	if err != nil {
		w.logger.Printf("tick failed: %v", err)
		return
	}
	switch result.Outcome {
	case controller.OutcomeOK:
		w.logger.Printf("tick ok: %s %.2f kW (tier=%s price=%.5f)", result.Record.Action, result.Record.PowerKW, result.Record.PriceTier, result.Record.Price)
		if w.status != nil {
			w.status.Publish(result.Record)
		}
	default:
		w.logger.Printf("tick %s: %s", result.Outcome, result.Message)
	}
}

// runOptimizePreview runs the secondary DP optimizer over today's price
// curve as a diagnostic comparison against the rule-based plan; it never
// executes an inverter command.
func runOptimizePreview(args []string) {
	fs := flag.NewFlagSet("optimize-preview", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	startingSOC := fs.Float64("starting-soc", 50, "Starting battery SOC percentage")
	fs.Parse(args)

	cfg := loadConfigOrExit(*configFile)
	logger := log.New(os.Stdout, "[OPTIMIZE] ", log.LstdFlags)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	provider := &dayahead.EntsoeProvider{
		SecurityToken:   cfg.DayAheadToken,
		URLFormat:       cfg.DayAheadURLFormat,
		Location:        loc,
		ImportFeePerKWh: cfg.ImportFeePerKWh,
		ExportFeePerKWh: cfg.ExportFeePerKWh,
		Logger:          logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallDeadline)
	defer cancel()
	points, err := provider.FetchDay(ctx, time.Now().In(loc))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching prices: %v\n", err)
		os.Exit(1)
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stderr, "No price data available")
		os.Exit(1)
	}

	slots := hourlySlotsFromQuarters(points)

	sysCfg := optimizer.SystemConfig{
		BatteryCapacity:     cfg.CapacityKWh,
		BatteryMaxCharge:    cfg.SafeChargePowerKW,
		BatteryMaxDischarge: cfg.SafeDischargePowerKW,
		BatteryMinSOC:       cfg.MinSOC / 100,
		BatteryMaxSOC:       cfg.MaxSOC / 100,
		BatteryEfficiency:   cfg.BatteryEfficiency,
		MaxGridImport:       10,
		MaxGridExport:       10,
	}
	mpc := optimizer.NewMPCController(sysCfg, len(slots), *startingSOC/100)
	decisions := mpc.Optimize(slots)

	printOptimizePreview(decisions)
}

// hourlySlotsFromQuarters averages the quarter-hour curve into hourly
// TimeSlots, the granularity optimizer.MPCController reasons over.
func hourlySlotsFromQuarters(points []pricing.PricePoint) []optimizer.TimeSlot {
	byHour := map[int64][]pricing.PricePoint{}
	var order []int64
	for _, p := range points {
		h := p.Start.Truncate(time.Hour).Unix()
		if _, ok := byHour[h]; !ok {
			order = append(order, h)
		}
		byHour[h] = append(byHour[h], p)
	}

	slots := make([]optimizer.TimeSlot, 0, len(order))
	for i, h := range order {
		group := byHour[h]
		var sum float64
		for _, p := range group {
			sum += p.Value
		}
		avg := sum / float64(len(group))
		slots = append(slots, optimizer.TimeSlot{
			Hour:        i,
			Timestamp:   h,
			ImportPrice: avg,
			ExportPrice: avg,
		})
	}
	return slots
}

func printOptimizePreview(decisions []optimizer.ControlDecision) {
	fmt.Println("\n========================================")
	fmt.Println("OPTIMIZE-PREVIEW (diagnostic, not executed)")
	fmt.Println("========================================")
	fmt.Printf("Total decisions: %d\n\n", len(decisions))

	fmt.Println("Hour  Timestamp            SOC(%)  Charge(kW)  Discharge(kW)  Import(kW)  Export(kW)  Profit")
	totalProfit := 0.0
	for _, d := range decisions {
		ts := time.Unix(d.Timestamp, 0).Format("2006-01-02 15:04")
		fmt.Printf("%4d  %19s  %6.1f  %10.2f  %13.2f  %10.2f  %10.2f  %6.4f\n",
			d.Hour, ts, d.BatterySOC*100, d.BatteryCharge, d.BatteryDischarge, d.GridImport, d.GridExport, d.Profit)
		totalProfit += d.Profit
	}
	fmt.Println("\n========================================")
	fmt.Printf("Total expected profit: %.4f\n", totalProfit)
	fmt.Println("========================================")
}

// runPlanPreview builds and prints an on-demand 96-slot day schedule
// without touching the ledger or the inverter. The optional solar
// forecast comes from a live weather fetch run through package solar's
// sun-position + cloud-coverage estimate, the same way the scheduler
// repo's MPC forecast step did.
func runPlanPreview(args []string) {
	fs := flag.NewFlagSet("plan-preview", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	startingSOC := fs.Float64("starting-soc", 50, "Starting battery SOC percentage")
	fs.Parse(args)

	cfg := loadConfigOrExit(*configFile)
	logger := log.New(os.Stdout, "[PLAN] ", log.LstdFlags)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	provider := &dayahead.EntsoeProvider{
		SecurityToken:   cfg.DayAheadToken,
		URLFormat:       cfg.DayAheadURLFormat,
		Location:        loc,
		ImportFeePerKWh: cfg.ImportFeePerKWh,
		ExportFeePerKWh: cfg.ExportFeePerKWh,
		Logger:          logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.CallDeadline)
	defer cancel()
	now := time.Now().In(loc)
	points, err := provider.FetchDay(ctx, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error fetching prices: %v\n", err)
		os.Exit(1)
	}
	if len(points) == 0 {
		fmt.Fprintln(os.Stderr, "No price data available")
		os.Exit(1)
	}

	forecast := planner.Forecast{SolarKW: solarForecastSlots(ctx, cfg, logger, now)}

	params := planner.Params{
		Limits: decision.Limits{
			MinSOC:                 cfg.MinSOC,
			MaxSOC:                 cfg.MaxSOC,
			SafeChargePowerKW:      cfg.SafeChargePowerKW,
			SafeDischargePowerKW:   cfg.SafeDischargePowerKW,
			GridChargeThreshold:    cfg.GridChargeThreshold,
			GridDischargeThreshold: cfg.GridDischargeThreshold,
			PrioritizeSelfConsume:  cfg.PrioritizeSelfConsume,
			StaleAfter:             cfg.StaleAfter,
		},
		CapacityKWh:   cfg.CapacityKWh,
		EfficiencyOne: math.Sqrt(cfg.BatteryEfficiency),
	}

	plan, err := planner.GenerateDaySchedule(points, *startingSOC, forecast, params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building schedule: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("\n========================================")
	fmt.Println("PLAN-PREVIEW (today's 96-slot schedule)")
	fmt.Println("========================================")
	s := plan.Summary
	fmt.Printf("total=%d charge=%d discharge=%d idle=%d\n", s.TotalIntervals, s.ChargeIntervals, s.DischargeIntervals, s.IdleIntervals)
	fmt.Printf("charge_hours=%.2f discharge_hours=%.2f\n", s.ChargeHours, s.DischargeHours)
	fmt.Printf("estimated_savings=%.4f estimated_earnings=%.4f net_benefit=%.4f\n", s.EstimatedSavings, s.EstimatedEarnings, s.NetBenefit)
}

// solarForecastSlots fetches a MET-style weather forecast once and
// converts it to a 96-slot PV power estimate via package solar. Any
// fetch failure degrades to "assume zero solar" rather than aborting the
// preview — this command is diagnostic, never part of the decision path.
func solarForecastSlots(ctx context.Context, cfg *config.Config, logger *log.Logger, day time.Time) []float64 {
	if cfg.WeatherUserAgent == "" || cfg.PeakSolarKW <= 0 {
		return nil
	}
	client := weather.NewClient(cfg.WeatherUserAgent)
	forecast, err := client.GetCompact(ctx, weather.QueryParams{Location: weather.Location{Latitude: cfg.Latitude, Longitude: cfg.Longitude}})
	if err != nil {
		logger.Printf("plan-preview: weather fetch failed, assuming zero solar: %v", err)
		return nil
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	slots := make([]float64, 96)
	for i := range slots {
		t := start.Add(time.Duration(i) * 15 * time.Minute)
		est := solar.EstimatePower(forecast, t, cfg.PeakSolarKW, cfg.Latitude, cfg.Longitude, 0, day)
		slots[i] = est.PowerKW
	}
	return slots
}

// runInspect dials the plant directly and prints one human-readable
// snapshot, bypassing the controller and the ledger entirely — an
// operator's "is the Modbus link even up" check.
func runInspect(args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configFile := fs.String("config", "config.json", "Configuration file path")
	fs.Parse(args)

	cfg := loadConfigOrExit(*configFile)

	client, err := inverter.DialTCP(cfg.InverterAddress, inverter.PlantAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	snap, err := client.ReadSnapshot()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading plant snapshot: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(snap.Summary())
}

func showHelp() {
	fmt.Println("batteryctl - home battery optimization controller")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Every 15 minutes, decides whether to charge, discharge, idle, or")
	fmt.Println("  self-consume a home battery against a day-ahead electricity price")
	fmt.Println("  curve, live PV/load/grid telemetry, and the current state of charge,")
	fmt.Println("  then records the decision and its cost accounting in the ledger.")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  batteryctl <command> [flags]")
	fmt.Println()
	fmt.Println("COMMANDS:")
	fmt.Println("  run                  Long-running daemon: one tick per optimization_interval")
	fmt.Println("  send-instruction     Run exactly one tick now")
	fmt.Println("    --config=FILE        Configuration file path (default config.json)")
	fmt.Println("    --dry-run            Skip inverter command execution")
	fmt.Println("    --force              Bypass the quarter-alignment check")
	fmt.Println("    --override=ACTION    Bypass the decision maker (charge, discharge, idle, self-consume, self-consume-grid)")
	fmt.Println("  optimize-preview     Diagnostic DP-optimizer comparison; never executes a command")
	fmt.Println("    --starting-soc=PCT   Starting SOC percentage (default 50)")
	fmt.Println("  plan-preview         Today's 96-slot rule-based schedule, with a weather-derived solar forecast")
	fmt.Println("    --starting-soc=PCT   Starting SOC percentage (default 50)")
	fmt.Println("  inspect              Dial the plant directly and print one human-readable snapshot")
	fmt.Println("  -help                Show this help")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  batteryctl run --config=config.json")
	fmt.Println("  batteryctl send-instruction --config=config.json --dry-run")
	fmt.Println("  batteryctl send-instruction --force --override=charge")
	fmt.Println("  batteryctl optimize-preview --starting-soc=40")
	fmt.Println("  batteryctl plan-preview --starting-soc=40")
}
