package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taglistbot/internal/eventbus"
	logx "taglistbot/pkg/logx"
)

// Runner owns the cycle lifecycle of one module.
type Runner struct {
	module   Module
	schedule string
	window   *Window
	bus      eventbus.Bus
	log      logx.Logger

	state   atomic.Int32
	busy    atomic.Bool
	ran     atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64

	mu   sync.Mutex
	last *CycleResult
}

func newRunner(m Module, schedule string, w *Window, bus eventbus.Bus, log logx.Logger) *Runner {
	return &Runner{
		module:   m,
		schedule: schedule,
		window:   w,
		bus:      bus,
		log:      log.With(logx.String("module", m.Name())),
	}
}

func (r *Runner) Name() string { return r.module.Name() }

func (r *Runner) State() State { return State(r.state.Load()) }

// Cycle performs one admission check and, if admitted, one Run.
// A cycle never overlaps another cycle of the same runner.
func (r *Runner) Cycle(ctx context.Context) CycleResult {
	res := CycleResult{ID: uuid.NewString(), Module: r.module.Name(), Started: time.Now()}
	if !r.busy.CompareAndSwap(false, true) {
		res.Outcome = OutcomeBusy
		r.log.Debug("cycle already in flight", logx.String("cycle", res.ID))
		return res
	}
	defer r.busy.Store(false)
	defer r.state.Store(int32(StateIdle))

	r.state.Store(int32(StateChecking))
	projected, err := r.project(ctx)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		r.failed.Add(1)
		return r.finish(res)
	}
	res.Projected = projected

	ok, consumed, quota := r.window.Admit(res.Module, projected)
	res.Consumed, res.Quota = consumed, quota
	if !ok {
		r.state.Store(int32(StateSkipped))
		res.Outcome = OutcomeSkipped
		r.skipped.Add(1)
		return r.finish(res)
	}

	r.state.Store(int32(StateRunning))
	requests, err := r.run(ctx)
	res.Requests = requests
	res.Consumed = r.window.Charge(res.Module, requests)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err
		r.failed.Add(1)
	} else {
		res.Outcome = OutcomeFinished
		r.ran.Add(1)
	}
	return r.finish(res)
}

func (r *Runner) project(ctx context.Context) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("projection panicked: %v", p)
			r.log.Error("module panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	return r.module.ProjectedRequests(ctx), nil
}

func (r *Runner) run(ctx context.Context) (n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
			r.log.Error("module panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
		}
	}()
	return r.module.Run(ctx)
}

func (r *Runner) finish(res CycleResult) CycleResult {
	res.Took = time.Since(res.Started)
	fields := []logx.Field{
		logx.String("cycle", res.ID),
		logx.Int("projected", res.Projected),
		logx.Int("requests", res.Requests),
		logx.Int("consumed", res.Consumed),
		logx.Int("quota", res.Quota),
		logx.Duration("took", res.Took),
	}
	var typ string
	switch res.Outcome {
	case OutcomeSkipped:
		typ = eventbus.CycleSkipped
		r.log.Debug("cycle skipped, budget exhausted", fields...)
	case OutcomeFailed:
		typ = eventbus.CycleFailed
		r.log.Warn("cycle failed", append(fields, logx.Err(res.Err))...)
	default:
		typ = eventbus.CycleFinished
		r.log.Debug("cycle finished", fields...)
	}

	cp := res
	r.mu.Lock()
	r.last = &cp
	r.mu.Unlock()
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: typ, Data: res})
	}
	return res
}

func (r *Runner) info() ModuleInfo {
	r.mu.Lock()
	var last *CycleResult
	if r.last != nil {
		cp := *r.last
		last = &cp
	}
	r.mu.Unlock()
	return ModuleInfo{
		Name:     r.module.Name(),
		Schedule: r.schedule,
		State:    r.State(),
		Ran:      r.ran.Load(),
		Skipped:  r.skipped.Load(),
		Failed:   r.failed.Load(),
		Last:     last,
	}
}
