// Package session groups consecutive same-action controller ticks into
// Sessions: a maximal run of intervals where the decided action did not
// change. The Tracker holds at most one active session per system and
// drives the active -> {completed, aborted} transitions the controller
// triggers after each tick's IntervalRecord is durable.
package session

import (
	"sync"
	"time"

	"github.com/oskarsson/solkvot/decision"
)

// Status is the session's lifecycle state.
type Status int

const (
	Active Status = iota
	Completed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "active"
	}
}

// Session is a maximal run of consecutive intervals in the same action
// for one system.
type Session struct {
	ID             string // systemID@startedAt, the key interval records carry
	SystemID       string
	Action         decision.Action
	Status         Status
	StartedAt      time.Time
	EndedAt        time.Time // zero if still active
	StartSOC       float64
	EndSOC         float64 // only meaningful once closed
	PowerKW        float64
	AvgPrice       float64
	DecisionContext map[string]any

	energyWeightedSum float64 // sum(power_kw * 0.25h * price)
	energyWeight      float64 // sum(power_kw * 0.25h)
	intervalEnd       time.Time
}

// Tick is the minimal per-interval input the tracker needs; it mirrors
// the fields of an IntervalRecord relevant to session bookkeeping.
type Tick struct {
	SystemID     string
	IntervalStart time.Time
	IntervalEnd  time.Time
	Action       decision.Action
	PowerKW      float64
	Price        float64
	SOC          float64 // soc_start of this interval
}

// Tracker holds at most one active Session per system.
type Tracker struct {
	mu      sync.Mutex
	active  map[string]*Session
	history []*Session
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{active: make(map[string]*Session)}
}

// Observe applies one controller tick's outcome:
//   - no active session: open one.
//   - active session with the same action: extend it.
//   - active session with a different action: complete the old one,
//     open a new one for the new action.
//
// gap reports whether the controller detected two or more consecutive
// missing quarters since the active session's last tick; when true the
// active session is marked aborted before the new tick is applied.
func (tr *Tracker) Observe(tick Tick, gap bool) (opened, closed *Session) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	cur := tr.active[tick.SystemID]

	if cur != nil && gap {
		cur.Status = Aborted
		cur.EndedAt = cur.intervalEnd
		tr.history = append(tr.history, cur)
		closed = cur
		cur = nil
		delete(tr.active, tick.SystemID)
	}

	// Daily rollover: a session never spans local midnight. The session
	// that carried into the last quarter of yesterday completes there,
	// and the first tick of the new day opens a fresh one.
	if cur != nil && !sameDay(cur.StartedAt, tick.IntervalStart) {
		cur.Status = Completed
		cur.EndedAt = cur.intervalEnd
		cur.EndSOC = tick.SOC
		tr.history = append(tr.history, cur)
		closed = cur
		cur = nil
		delete(tr.active, tick.SystemID)
	}

	if cur == nil {
		opened = tr.open(tick)
		return opened, closed
	}

	if cur.Action == tick.Action {
		tr.extend(cur, tick)
		return nil, closed
	}

	cur.Status = Completed
	cur.EndedAt = cur.intervalEnd // end of the session's own last interval
	cur.EndSOC = tick.SOC
	tr.history = append(tr.history, cur)
	closed = cur
	delete(tr.active, tick.SystemID)

	opened = tr.open(tick)
	return opened, closed
}

func (tr *Tracker) open(tick Tick) *Session {
	s := &Session{
		ID:              tick.SystemID + "@" + tick.IntervalStart.Format(time.RFC3339),
		SystemID:        tick.SystemID,
		Action:          tick.Action,
		Status:          Active,
		StartedAt:       tick.IntervalStart,
		StartSOC:        tick.SOC,
		PowerKW:         tick.PowerKW,
		DecisionContext: map[string]any{},
		intervalEnd:     tick.IntervalEnd,
	}
	tr.extend(s, tick)
	tr.active[tick.SystemID] = s
	return s
}

func (tr *Tracker) extend(s *Session, tick Tick) {
	energy := tick.PowerKW * 0.25
	s.energyWeightedSum += energy * tick.Price
	s.energyWeight += energy
	if s.energyWeight != 0 {
		s.AvgPrice = s.energyWeightedSum / s.energyWeight
	}
	s.PowerKW = tick.PowerKW
	s.intervalEnd = tick.IntervalEnd
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// Active returns the currently active session for systemID, if any.
func (tr *Tracker) Active(systemID string) (*Session, bool) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	s, ok := tr.active[systemID]
	return s, ok
}

// History returns all sessions that have transitioned out of Active.
func (tr *Tracker) History() []*Session {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]*Session(nil), tr.history...)
}
