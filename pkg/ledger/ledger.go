// Package ledger tracks spend against rolling-window budgets and raises
// alerts as usage crosses configured thresholds.
package ledger

import (
	"errors"
	"sync"
	"time"
)

// ErrBudgetExceeded is returned by Record when, with the new entry
// included, a window's spend meets or exceeds its configured budget. The
// entry is still recorded.
var ErrBudgetExceeded = errors.New("ledger: budget exceeded")

// Window identifies a rolling accounting period.
type Window int

const (
	WindowDaily Window = iota
	WindowWeekly
	WindowMonthly
)

func (w Window) duration() time.Duration {
	switch w {
	case WindowDaily:
		return 24 * time.Hour
	case WindowWeekly:
		return 7 * 24 * time.Hour
	case WindowMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// BudgetSpec caps spend per window. A zero limit means unlimited.
type BudgetSpec struct {
	Daily   float64
	Weekly  float64
	Monthly float64
}

func (b BudgetSpec) limitFor(w Window) float64 {
	switch w {
	case WindowDaily:
		return b.Daily
	case WindowWeekly:
		return b.Weekly
	case WindowMonthly:
		return b.Monthly
	default:
		return 0
	}
}

// CostEntry is one append-only accounting record.
type CostEntry struct {
	Timestamp  time.Time
	Provider   string
	Model      string
	Cost       float64
	PromptTok  int
	OutputTok  int
}

// AlertFunc is invoked once per threshold crossing per window, per epoch.
// threshold is the fraction (e.g. 0.8 for 80%) that was crossed.
type AlertFunc func(window Window, threshold float64, spend, limit float64)

// Clock returns the current time. Overridable in tests.
type Clock func() time.Time

// Ledger is a ring-buffer backed cost log with rolling-window budget
// enforcement and threshold alerting.
type Ledger struct {
	mu         sync.Mutex
	entries    []CostEntry
	cap        int
	head       int
	size       int
	budget     BudgetSpec
	thresholds []float64
	alert      AlertFunc
	now        Clock

	// crossed tracks, per (window, threshold), whether the alert already
	// fired for the current epoch; reset when spend drops back below the
	// threshold (a new crossing can fire again).
	crossed map[windowThreshold]bool
}

type windowThreshold struct {
	window    Window
	threshold float64
}

// Option configures a Ledger at construction.
type Option func(*Ledger)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now Clock) Option {
	return func(l *Ledger) { l.now = now }
}

// WithAlertThresholds sets the fractional thresholds (0 < t <= 1) that
// trigger AlertFunc when crossed.
func WithAlertThresholds(thresholds ...float64) Option {
	return func(l *Ledger) { l.thresholds = thresholds }
}

// WithAlertFunc sets the callback invoked on threshold crossings.
func WithAlertFunc(fn AlertFunc) Option {
	return func(l *Ledger) { l.alert = fn }
}

// New creates a Ledger enforcing the given budget, retaining up to
// capacity entries in its ring buffer.
func New(budget BudgetSpec, capacity int, opts ...Option) *Ledger {
	if capacity <= 0 {
		capacity = 10000
	}
	l := &Ledger{
		entries: make([]CostEntry, capacity),
		cap:     capacity,
		budget:  budget,
		now:     time.Now,
		crossed: make(map[windowThreshold]bool),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record appends a cost entry unconditionally, then evaluates every
// budgeted window against the new total. If any window's spend now meets
// or exceeds its limit, Record returns ErrBudgetExceeded — but the entry
// stays in the ledger; a caller over budget should stop issuing calls,
// not have its past spend erased. Crossing an alert threshold invokes the
// configured AlertFunc synchronously, whether or not the same entry also
// exceeds the budget.
func (l *Ledger) Record(entry CostEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now()
	}

	l.push(entry)

	var exceeded bool
	for _, w := range []Window{WindowDaily, WindowWeekly, WindowMonthly} {
		limit := l.budget.limitFor(w)
		if limit <= 0 {
			continue
		}
		spend := l.totalSinceLocked(entry.Timestamp.Add(-w.duration()))
		if spend >= limit {
			exceeded = true
		}
		l.evaluateAlerts(w, spend, limit)
	}

	if exceeded {
		return ErrBudgetExceeded
	}
	return nil
}

func (l *Ledger) push(entry CostEntry) {
	idx := (l.head + l.size) % l.cap
	if l.size < l.cap {
		l.entries[idx] = entry
		l.size++
		return
	}
	l.entries[l.head] = entry
	l.head = (l.head + 1) % l.cap
}

func (l *Ledger) evaluateAlerts(w Window, spend, limit float64) {
	ratio := spend / limit
	for _, t := range l.thresholds {
		key := windowThreshold{w, t}
		if ratio >= t {
			if !l.crossed[key] {
				l.crossed[key] = true
				if l.alert != nil {
					l.alert(w, t, spend, limit)
				}
			}
		} else {
			l.crossed[key] = false
		}
	}
}

// WouldExceed reports whether recording an entry of the given cost right
// now would make any budgeted window's spend meet or exceed its limit (the
// same test Record applies), without recording anything. Used for
// pre-call admission checks.
func (l *Ledger) WouldExceed(cost float64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for _, w := range []Window{WindowDaily, WindowWeekly, WindowMonthly} {
		limit := l.budget.limitFor(w)
		if limit <= 0 {
			continue
		}
		current := l.totalSinceLocked(now.Add(-w.duration()))
		if current+cost >= limit {
			return true
		}
	}
	return false
}

// TotalSince sums cost for all entries with Timestamp >= since.
func (l *Ledger) TotalSince(since time.Time) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalSinceLocked(since)
}

func (l *Ledger) totalSinceLocked(since time.Time) float64 {
	var total float64
	for i := 0; i < l.size; i++ {
		e := l.entries[(l.head+i)%l.cap]
		if !e.Timestamp.Before(since) {
			total += e.Cost
		}
	}
	return total
}

// Total returns the sum of cost across all retained entries.
func (l *Ledger) Total() float64 {
	return l.TotalSince(time.Time{})
}

// BreakdownByModel sums cost per (provider, model) for entries since the
// given time.
func (l *Ledger) BreakdownByModel(since time.Time) map[string]float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]float64)
	for i := 0; i < l.size; i++ {
		e := l.entries[(l.head+i)%l.cap]
		if e.Timestamp.Before(since) {
			continue
		}
		out[e.Provider+"/"+e.Model] += e.Cost
	}
	return out
}
