package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taglistbot/internal/budget"
	"taglistbot/internal/eventbus"
	logx "taglistbot/pkg/logx"
)

const rolloverSpec = "0 * * * *"

var (
	ErrUnknownModule   = errors.New("scheduler: unknown module")
	ErrDuplicateModule = errors.New("scheduler: module already registered")
	ErrNoQuota         = errors.New("scheduler: module has no budget allocation")
)

// RolloverEvent is the Data of window.rollover events.
type RolloverEvent struct {
	Closed   time.Time
	Consumed map[string]int
}

type Option func(*Service)

// WithClock replaces time.Now for window accounting.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service registers one Runner per module and fires them from cron. Each
// module has its own entry; a tick arriving while the previous cycle of the
// same module is still running is dropped.
type Service struct {
	mu sync.Mutex

	cfg    Config
	log    logx.Logger
	bus    eventbus.Bus
	table  *budget.Table
	now    func() time.Time
	window *Window

	parser  cron.Parser
	c       *cron.Cron
	loc     *time.Location
	ctx     context.Context
	cancel  context.CancelFunc
	runners []*Runner
	entries map[string]cron.EntryID
}

func New(table *budget.Table, cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:   cfg,
		log:   log.With(logx.String("comp", "scheduler")),
		bus:   bus,
		table: table,
		// SecondOptional accepts both 5 and 6 field specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: map[string]cron.EntryID{},
	}
	for _, o := range opts {
		o(s)
	}
	s.window = NewWindow(table, s.now)
	s.window.onRollover = s.publishRollover
	return s
}

func (s *Service) Window() *Window { return s.window }

// Register adds a module on schedule (see ParseSchedule). Modules may be
// registered before or after Start.
func (s *Service) Register(m Module, schedule string) error {
	name := strings.TrimSpace(m.Name())
	if name == "" {
		return errors.New("scheduler: module name required")
	}
	if !s.table.Has(name) {
		return fmt.Errorf("%w: %s", ErrNoQuota, name)
	}
	spec, err := s.cronSpec(schedule)
	if err != nil {
		return fmt.Errorf("scheduler: module %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runners {
		if r.Name() == name {
			return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
		}
	}
	r := newRunner(m, spec, s.window, s.bus, s.log)
	s.runners = append(s.runners, r)
	if s.c != nil {
		return s.addLocked(r)
	}
	return nil
}

func (s *Service) cronSpec(schedule string) (string, error) {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return "", err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	}
	if _, err := s.parser.Parse(spec); err != nil {
		return "", fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return spec, nil
}

func (s *Service) addLocked(r *Runner) error {
	ctx := s.ctx
	l := cronLogger{log: s.log.With(logx.String("module", r.Name()))}
	job := cron.NewChain(cron.SkipIfStillRunning(l)).Then(cron.FuncJob(func() {
		r.Cycle(ctx)
	}))
	id, err := s.c.AddJob(r.schedule, job)
	if err != nil {
		return err
	}
	s.entries[r.Name()] = id
	s.log.Debug("module scheduled", logx.String("module", r.Name()), logx.String("spec", r.schedule))
	return nil
}

// Start begins firing cycles and the hourly rollover job.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.loc = s.loadLocationLocked()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cronLogger{log: s.log})),
	)
	for _, r := range s.runners {
		if err := s.addLocked(r); err != nil {
			s.c = nil
			s.cancel()
			return fmt.Errorf("scheduler: module %s: %w", r.Name(), err)
		}
	}
	if _, err := s.c.AddFunc(rolloverSpec, func() { s.window.Rollover() }); err != nil {
		s.c = nil
		s.cancel()
		return err
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("tz", s.loc.String()),
		logx.Int("modules", len(s.runners)),
		logx.Int("hourly_cap", s.table.HourlyCap()),
		logx.Int("allocated", s.table.Allocated()),
	)
	return nil
}

// Stop stops firing and waits for in-flight cycles or ctx, whichever is first.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c = nil
	s.entries = map[string]cron.EntryID{}
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop deadline reached with cycles in flight")
	}
	cancel()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// RunNow runs one cycle of the named module outside its timer.
func (s *Service) RunNow(ctx context.Context, name string) (CycleResult, error) {
	r := s.runner(name)
	if r == nil {
		return CycleResult{}, fmt.Errorf("%w: %s", ErrUnknownModule, name)
	}
	return r.Cycle(ctx), nil
}

func (s *Service) runner(name string) *Runner {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.runners {
		if strings.EqualFold(r.Name(), name) {
			return r
		}
	}
	return nil
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	runners := append([]*Runner(nil), s.runners...)
	c := s.c
	entries := make(map[string]cron.EntryID, len(s.entries))
	for k, v := range s.entries {
		entries[k] = v
	}
	tz := s.cfg.Timezone
	if s.loc != nil {
		tz = s.loc.String()
	}
	s.mu.Unlock()

	start, consumed := s.window.Totals()
	snap := Snapshot{Timezone: tz, WindowStart: start, HourlyCap: s.table.HourlyCap()}
	for _, r := range runners {
		it := r.info()
		it.Quota = s.table.QuotaFor(it.Name)
		it.Consumed = consumed[it.Name]
		if id, ok := entries[it.Name]; ok && c != nil {
			e := c.Entry(id)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Modules = append(snap.Modules, it)
	}
	return snap
}

func (s *Service) publishRollover(closed time.Time, totals map[string]int) {
	fields := []logx.Field{logx.Time("closed", closed)}
	for m, n := range totals {
		fields = append(fields, logx.Int(m, n))
	}
	s.log.Info("budget window rolled over", fields...)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.WindowRollover, Data: RolloverEvent{Closed: closed, Consumed: totals}})
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone, using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger routes robfig/cron's logging through logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
