package scheduler

import (
	"context"
	"time"
)

// Module is one budgeted recurring job.
type Module interface {
	Name() string
	// ProjectedRequests estimates what the next Run will spend. May be 0.
	ProjectedRequests(ctx context.Context) int
	// Run executes one cycle and reports the requests it issued, including on error.
	Run(ctx context.Context) (requests int, err error)
}

type State int32

const (
	StateIdle State = iota
	StateChecking
	StateRunning
	StateSkipped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateChecking:
		return "CHECKING"
	case StateRunning:
		return "RUNNING"
	case StateSkipped:
		return "SKIPPED"
	default:
		return "UNKNOWN"
	}
}

type Outcome string

const (
	OutcomeFinished Outcome = "finished"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
	// OutcomeBusy means a cycle of the same module was already in flight.
	OutcomeBusy Outcome = "busy"
)

// CycleResult describes one cycle attempt. It is the Data of cycle events.
type CycleResult struct {
	ID        string
	Module    string
	Outcome   Outcome
	Projected int
	Requests  int
	Consumed  int // after charging
	Quota     int
	Err       error
	Started   time.Time
	Took      time.Duration
}

type Config struct {
	Timezone string // IANA name; empty means local
}

// ModuleInfo is the operator view of one registered module.
type ModuleInfo struct {
	Name     string
	Schedule string
	State    State
	Quota    int
	Consumed int
	Ran      uint64
	Skipped  uint64
	Failed   uint64
	Last     *CycleResult
	Next     time.Time
	Prev     time.Time
}

type Snapshot struct {
	Timezone    string
	WindowStart time.Time
	HourlyCap   int
	Modules     []ModuleInfo
}
