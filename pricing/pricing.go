// Package pricing partitions a day's day-ahead price curve into
// cheap/middle/expensive tiers via tertile thresholds computed from the
// whole day's curve, with optional absolute overrides.
package pricing

import (
	"fmt"
	"sort"
	"time"
)

// PricePoint is one quarter-hour (or coarser) slot of the day-ahead curve.
type PricePoint struct {
	Start time.Time
	End   time.Time
	Value float64 // currency per kWh
}

// Tier classifies a PricePoint relative to a day's curve.
type Tier int

const (
	Middle Tier = iota
	Cheapest
	Expensive
)

func (t Tier) String() string {
	switch t {
	case Cheapest:
		return "cheapest"
	case Expensive:
		return "expensive"
	default:
		return "middle"
	}
}

// Options overrides the default tertile split. Zero value means "use the
// default 1/3 cheapest, 1/3 expensive split with no absolute overrides".
type Options struct {
	CheapestFraction       float64 // default 1/3
	ExpensiveFraction      float64 // default 1/3
	AbsoluteCheapCeiling   *float64
	AbsoluteExpensiveFloor *float64
}

func (o Options) withDefaults() Options {
	if o.CheapestFraction <= 0 {
		o.CheapestFraction = 1.0 / 3.0
	}
	if o.ExpensiveFraction <= 0 {
		o.ExpensiveFraction = 1.0 / 3.0
	}
	return o
}

// Tiering holds the thresholds derived from one day's curve.
type Tiering struct {
	CheapMax     float64
	ExpensiveMin float64
	points       []PricePoint
	uniform      bool // constant curve: every slot classifies as Middle
}

// ErrNoData is returned when the input curve is empty.
type ErrNoData struct{}

func (ErrNoData) Error() string { return "no_data: empty price curve" }

// ErrBadCurve is returned when the input curve is not contiguous and
// non-overlapping.
type ErrBadCurve struct {
	Reason string
}

func (e ErrBadCurve) Error() string { return fmt.Sprintf("bad_curve: %s", e.Reason) }

// Build sorts prices ascending, picks the 33rd and 67th percentile values
// by linear interpolation, and returns a Tiering. The input must be one
// calendar day's worth of contiguous, non-overlapping PricePoints in
// chronological order.
func Build(points []PricePoint, opts Options) (*Tiering, error) {
	if len(points) == 0 {
		return nil, ErrNoData{}
	}
	for i := 1; i < len(points); i++ {
		if !points[i].Start.Equal(points[i-1].End) {
			return nil, ErrBadCurve{Reason: fmt.Sprintf("gap or overlap between slot %d and %d", i-1, i)}
		}
	}

	opts = opts.withDefaults()

	sorted := make([]float64, len(points))
	for i, p := range points {
		sorted[i] = p.Value
	}
	sort.Float64s(sorted)

	cheapMax := percentile(sorted, opts.CheapestFraction)
	expensiveMin := percentile(sorted, 1-opts.ExpensiveFraction)

	if opts.AbsoluteCheapCeiling != nil {
		cheapMax = *opts.AbsoluteCheapCeiling
	}
	if opts.AbsoluteExpensiveFloor != nil {
		expensiveMin = *opts.AbsoluteExpensiveFloor
	}

	// A constant curve has no cheap or expensive window to exploit; every
	// slot is Middle unless an absolute threshold says otherwise.
	uniform := sorted[0] == sorted[len(sorted)-1] &&
		opts.AbsoluteCheapCeiling == nil && opts.AbsoluteExpensiveFloor == nil

	return &Tiering{CheapMax: cheapMax, ExpensiveMin: expensiveMin, points: points, uniform: uniform}, nil
}

// percentile does linear interpolation on a sorted slice, fraction in [0,1].
func percentile(sorted []float64, fraction float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := fraction * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Classify returns the tier a price value falls in. Both boundaries are
// inclusive: a value equal to CheapMax is Cheapest, and a value equal to
// ExpensiveMin is Expensive.
func (t *Tiering) Classify(value float64) Tier {
	if t.uniform {
		return Middle
	}
	switch {
	case value <= t.CheapMax:
		return Cheapest
	case value >= t.ExpensiveMin:
		return Expensive
	default:
		return Middle
	}
}

// At returns the PricePoint covering instant ts, if any.
func (t *Tiering) At(ts time.Time) (PricePoint, bool) {
	for _, p := range t.points {
		if !ts.Before(p.Start) && ts.Before(p.End) {
			return p, true
		}
	}
	return PricePoint{}, false
}

// Average returns the mean price across the day's curve.
func (t *Tiering) Average() float64 {
	if len(t.points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range t.points {
		sum += p.Value
	}
	return sum / float64(len(t.points))
}

// Points returns the underlying curve in chronological order.
func (t *Tiering) Points() []PricePoint {
	return append([]PricePoint(nil), t.points...)
}

// CheapestSlotRank returns the 1-based rank of ts among the day's slots
// sorted ascending by price (rank 1 = cheapest slot). Used by the
// Decision Maker's confidence rule for cheap-window charging.
func (t *Tiering) CheapestSlotRank(ts time.Time) (rank int, ok bool) {
	target, found := t.At(ts)
	if !found {
		return 0, false
	}
	sorted := append([]PricePoint(nil), t.points...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })
	for i, p := range sorted {
		if p.Start.Equal(target.Start) {
			return i + 1, true
		}
	}
	return 0, false
}

// Upsample repeats coarser price points down to quarter-hour
// granularity, so an hourly curve yields four identical slots per hour.
func Upsample(points []PricePoint, slot time.Duration) []PricePoint {
	if slot <= 0 {
		slot = 15 * time.Minute
	}
	var out []PricePoint
	for _, p := range points {
		for t := p.Start; t.Before(p.End); t = t.Add(slot) {
			end := t.Add(slot)
			if end.After(p.End) {
				end = p.End
			}
			out = append(out, PricePoint{Start: t, End: end, Value: p.Value})
		}
	}
	return out
}
