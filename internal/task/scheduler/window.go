package scheduler

import (
	"sync"
	"time"

	"taglistbot/internal/budget"
)

// Window is the shared hourly accounting state. Every read and write of the
// consumed counters happens under mu, and rollover is applied under the same
// lock before any admission check.
type Window struct {
	table *budget.Table
	now   func() time.Time

	// onRollover is called under mu with the closed window. It must not block.
	onRollover func(closed time.Time, totals map[string]int)

	mu       sync.Mutex
	start    time.Time
	consumed map[string]int
}

func NewWindow(table *budget.Table, now func() time.Time) *Window {
	if now == nil {
		now = time.Now
	}
	return &Window{
		table:    table,
		now:      now,
		start:    now().Truncate(time.Hour),
		consumed: map[string]int{},
	}
}

// Admit reports whether a cycle projecting the given requests fits the
// module's remaining quota, along with the current consumption and quota.
func (w *Window) Admit(module string, projected int) (ok bool, consumed, quota int) {
	if projected < 0 {
		projected = 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolloverLocked()
	quota = w.table.QuotaFor(module)
	consumed = w.consumed[module]
	return consumed+projected <= quota, consumed, quota
}

// Charge adds the requests a cycle actually issued and returns the new total.
// Requests are charged to the window current at charge time.
func (w *Window) Charge(module string, requests int) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolloverLocked()
	if requests > 0 {
		w.consumed[module] += requests
	}
	return w.consumed[module]
}

// Rollover resets every counter when the clock has entered a new hour.
// Admission and charging roll over lazily as well, so the hourly job only
// makes the reset visible on time.
func (w *Window) Rollover() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rolloverLocked()
}

func (w *Window) rolloverLocked() bool {
	cur := w.now().Truncate(time.Hour)
	if !cur.After(w.start) {
		return false
	}
	closed, totals := w.start, w.consumed
	w.start = cur
	w.consumed = map[string]int{}
	if w.onRollover != nil {
		w.onRollover(closed, totals)
	}
	return true
}

func (w *Window) Consumed(module string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolloverLocked()
	return w.consumed[module]
}

// Start returns the beginning of the current window.
func (w *Window) Start() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolloverLocked()
	return w.start
}

// Totals copies the current window.
func (w *Window) Totals() (start time.Time, consumed map[string]int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rolloverLocked()
	out := make(map[string]int, len(w.consumed))
	for k, v := range w.consumed {
		out[k] = v
	}
	return w.start, out
}
