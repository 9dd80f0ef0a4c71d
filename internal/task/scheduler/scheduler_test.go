package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taglistbot/internal/budget"
	"taglistbot/internal/eventbus"
	logx "taglistbot/pkg/logx"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeModule struct {
	name      string
	projected int
	actual    int
	err       error
	panics    bool
	runs      int
}

func (m *fakeModule) Name() string { return m.name }
func (m *fakeModule) ProjectedRequests(context.Context) int { return m.projected }
func (m *fakeModule) Run(context.Context) (int, error) {
	m.runs++
	if m.panics {
		panic("module exploded")
	}
	return m.actual, m.err
}

func testTable(t *testing.T) *budget.Table {
	t.Helper()
	tb, err := budget.New(300*24,
		budget.Allocation{Module: "comments", HourlyQuota: 250},
		budget.Allocation{Module: "deletion", HourlyQuota: 50},
	)
	require.NoError(t, err)
	return tb
}

func newTestService(t *testing.T, clk *clock) (*Service, eventbus.Bus) {
	bus := eventbus.New()
	return New(testTable(t), Config{}, logx.Nop(), bus, WithClock(clk.now)), bus
}

func TestAdmissionNeverExceedsQuota(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, _ := newTestService(t, clk)
	m := &fakeModule{name: "deletion", projected: 7, actual: 7}
	require.NoError(t, s.Register(m, "1m"))

	var ran, skipped int
	for i := 0; i < 20; i++ {
		res, err := s.RunNow(context.Background(), "deletion")
		require.NoError(t, err)
		switch res.Outcome {
		case OutcomeFinished:
			ran++
		case OutcomeSkipped:
			skipped++
		}
		assert.LessOrEqual(t, s.Window().Consumed("deletion"), 50)
	}
	assert.Equal(t, 7, ran, "7*7=49 fits, the 8th would reach 56")
	assert.Equal(t, 13, skipped)
	assert.Equal(t, 7, m.runs, "skipped cycles never call Run")
}

func TestActualRequestsAreCharged(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, _ := newTestService(t, clk)
	m := &fakeModule{name: "comments", projected: 1, actual: 240}
	require.NoError(t, s.Register(m, "1m"))

	res, _ := s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeFinished, res.Outcome)
	assert.Equal(t, 240, res.Consumed)

	m.projected = 11
	res, _ = s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeSkipped, res.Outcome)

	m.projected = 10
	res, _ = s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeFinished, res.Outcome)
}

func TestZeroProjectionRunsAtFullQuota(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, _ := newTestService(t, clk)
	m := &fakeModule{name: "deletion", projected: 0, actual: 50}
	require.NoError(t, s.Register(m, "1m"))

	res, _ := s.RunNow(context.Background(), "deletion")
	require.Equal(t, OutcomeFinished, res.Outcome)
	res, _ = s.RunNow(context.Background(), "deletion")
	assert.Equal(t, OutcomeFinished, res.Outcome, "0 + 50 <= 50")
}

func TestModulesHaveIndependentQuotas(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, _ := newTestService(t, clk)
	c := &fakeModule{name: "comments", projected: 1, actual: 250}
	d := &fakeModule{name: "deletion", projected: 5, actual: 5}
	require.NoError(t, s.Register(c, "1m"))
	require.NoError(t, s.Register(d, "1m"))

	_, _ = s.RunNow(context.Background(), "comments")
	res, _ := s.RunNow(context.Background(), "deletion")
	assert.Equal(t, OutcomeFinished, res.Outcome)
}

func TestFailureIsChargedAndCounted(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, bus := newTestService(t, clk)
	failed, unsub := bus.Subscribe(4, eventbus.CycleFailed)
	defer unsub()

	m := &fakeModule{name: "comments", projected: 3, actual: 2, err: errors.New("site down")}
	require.NoError(t, s.Register(m, "1m"))

	res, _ := s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.EqualError(t, res.Err, "site down")
	assert.Equal(t, 2, s.Window().Consumed("comments"))

	m.panics = true
	res, _ = s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeFailed, res.Outcome)
	require.Error(t, res.Err)

	m.panics, m.err = false, nil
	res, _ = s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeFinished, res.Outcome, "scheduler keeps working after failures")

	snap := s.Snapshot()
	require.Len(t, snap.Modules, 1)
	assert.Equal(t, uint64(2), snap.Modules[0].Failed)
	assert.Equal(t, uint64(1), snap.Modules[0].Ran)
	assert.Equal(t, StateIdle, snap.Modules[0].State)
	assert.Len(t, failed, 2)
}

func TestRolloverResetsCounters(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 59, 0, 0, time.UTC)}
	s, bus := newTestService(t, clk)
	rolled, unsub := bus.Subscribe(4, eventbus.WindowRollover)
	defer unsub()

	m := &fakeModule{name: "deletion", projected: 50, actual: 50}
	require.NoError(t, s.Register(m, "1m"))

	res, _ := s.RunNow(context.Background(), "deletion")
	require.Equal(t, OutcomeFinished, res.Outcome)
	res, _ = s.RunNow(context.Background(), "deletion")
	require.Equal(t, OutcomeSkipped, res.Outcome)

	clk.advance(2 * time.Minute)
	// admission rolls over lazily, before the hourly job fires
	res, _ = s.RunNow(context.Background(), "deletion")
	assert.Equal(t, OutcomeFinished, res.Outcome)
	assert.Equal(t, time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC), s.Window().Start())
	assert.False(t, s.Window().Rollover(), "already rolled")

	require.Len(t, rolled, 1)
	ev := (<-rolled).Data.(RolloverEvent)
	assert.Equal(t, 50, ev.Consumed["deletion"])
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ev.Closed)
}

func TestCyclesDoNotOverlap(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	s, _ := newTestService(t, clk)
	block := make(chan struct{})
	entered := make(chan struct{})
	m := &blockingModule{name: "comments", entered: entered, release: block}
	require.NoError(t, s.Register(m, "1m"))

	done := make(chan CycleResult)
	go func() {
		res, _ := s.RunNow(context.Background(), "comments")
		done <- res
	}()
	<-entered
	res, _ := s.RunNow(context.Background(), "comments")
	assert.Equal(t, OutcomeBusy, res.Outcome)
	assert.Equal(t, StateRunning, s.Snapshot().Modules[0].State)

	close(block)
	assert.Equal(t, OutcomeFinished, (<-done).Outcome)
}

type blockingModule struct {
	name    string
	entered chan struct{}
	release chan struct{}
}

func (m *blockingModule) Name() string { return m.name }
func (m *blockingModule) ProjectedRequests(context.Context) int { return 1 }
func (m *blockingModule) Run(context.Context) (int, error) {
	close(m.entered)
	<-m.release
	return 1, nil
}

func TestRegisterValidation(t *testing.T) {
	s, _ := newTestService(t, &clock{t: time.Now()})
	assert.ErrorIs(t, s.Register(&fakeModule{name: "unknown"}, "1m"), ErrNoQuota)
	assert.Error(t, s.Register(&fakeModule{name: "comments"}, "not a schedule"))
	assert.Error(t, s.Register(&fakeModule{name: "comments"}, "61 * * * *"))
	require.NoError(t, s.Register(&fakeModule{name: "comments"}, "@every 30s"))
	assert.ErrorIs(t, s.Register(&fakeModule{name: "comments"}, "1m"), ErrDuplicateModule)

	_, err := s.RunNow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownModule)
}

func TestStartStop(t *testing.T) {
	s, _ := newTestService(t, &clock{t: time.Now()})
	require.NoError(t, s.Register(&fakeModule{name: "comments"}, "00:05"))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Register(&fakeModule{name: "deletion"}, "cron:*/10 * * * *"))

	snap := s.Snapshot()
	require.Len(t, snap.Modules, 2)
	for _, m := range snap.Modules {
		assert.False(t, m.Next.IsZero(), m.Name)
	}
	assert.Equal(t, 300, snap.HourlyCap)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
}

func TestParseSchedule(t *testing.T) {
	cases := []struct {
		in   string
		kind SpecKind
		cron string
		dur  time.Duration
	}{
		{"*/5 * * * *", SpecCron, "*/5 * * * *", 0},
		{"@hourly", SpecCron, "@hourly", 0},
		{"cron:@every 1m", SpecCron, "@every 1m", 0},
		{"90s", SpecInterval, "", 90 * time.Second},
		{"00:05", SpecInterval, "", 5 * time.Minute},
		{"every: 2m", SpecInterval, "", 2 * time.Minute},
		{"interval:01:30", SpecInterval, "", 90 * time.Minute},
	}
	for _, tc := range cases {
		ps, err := ParseSchedule(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.kind, ps.Kind, tc.in)
		assert.Equal(t, tc.cron, ps.Cron, tc.in)
		assert.Equal(t, tc.dur, ps.Every, tc.in)
	}
	for _, bad := range []string{"", "soon", "-5m", "0s", "00:00", "cron:", "00:75"} {
		_, err := ParseSchedule(bad)
		assert.Error(t, err, bad)
	}
}
