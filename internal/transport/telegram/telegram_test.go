package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taglistbot/internal/task/scheduler"
	kit "taglistbot/internal/transport"
	logx "taglistbot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeSender struct {
	mu  sync.Mutex
	out []sent
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, sent{to: to, text: text})
	return nil
}

type fakeSched struct {
	snap scheduler.Snapshot
	ran  []string
}

func (f *fakeSched) Snapshot() scheduler.Snapshot { return f.snap }

func (f *fakeSched) RunNow(_ context.Context, name string) (scheduler.CycleResult, error) {
	if name != "comments" {
		return scheduler.CycleResult{}, scheduler.ErrUnknownModule
	}
	f.ran = append(f.ran, name)
	return scheduler.CycleResult{Module: name, Outcome: scheduler.OutcomeFinished, Projected: 2, Requests: 2, Consumed: 9, Quota: 250}, nil
}

type fakeQueue struct {
	kind string
	n    int
	err  error
}

func (q fakeQueue) Kind() string {  return q.kind }
func (q fakeQueue) Len(context.Context) (int, error) { return q.n, q.err }

func newTestConsole() (*Console, *fakeSender, *fakeSched) {
	snd := &fakeSender{}
	sch := &fakeSched{snap: scheduler.Snapshot{
		Timezone:    "UTC",
		WindowStart: time.Date(2024, 1, 1, 13, 0, 0, 0, time.UTC),
		HourlyCap:   520,
		Modules: []scheduler.ModuleInfo{
			{Name: "deletion", Quota: 50, Consumed: 3, Ran: 1},
			{Name: "comments", Quota: 250, Consumed: 7, Ran: 2, Skipped: 1},
		},
	}}
	qs := []QueuePort{fakeQueue{kind: "comment", n: 4}, fakeQueue{kind: "deletion", n: 1}}
	return NewConsole(snd, sch, qs, []int64{42}, logx.Nop()), snd, sch
}

func TestParseCommand(t *testing.T) {
	req, ok := parseCommand(kit.Message{Text: "/Run@taglist_bot comments extra"})
	require.True(t, ok)
	assert.Equal(t, "run", req.Command)
	assert.Equal(t, []string{"comments", "extra"}, req.Args)

	for _, s := range []string{"", "hello", "/", "/ ", "/@bot"} {
		_, ok := parseCommand(kit.Message{Text: s})
		assert.False(t, ok, s)
	}
}

func TestConsoleIgnoresNonOwners(t *testing.T) {
	c, snd, sch := newTestConsole()
	c.Handle(context.Background(), kit.Message{ChatID: 1, FromID: 7, Text: "/run comments"})
	assert.Empty(t, snd.out)
	assert.Empty(t, sch.ran)

	c.SetOwners([]int64{7})
	c.Handle(context.Background(), kit.Message{ChatID: 1, FromID: 7, Text: "/run comments"})
	require.Len(t, snd.out, 1)
	assert.Equal(t, []string{"comments"}, sch.ran)
}

func TestConsoleCommands(t *testing.T) {
	c, snd, _ := newTestConsole()
	ctx := context.Background()
	for _, text := range []string{"/budget", "/queue", "/run", "/run nope", "/help", "/unknown", "plain"} {
		c.Handle(ctx, kit.Message{ChatID: 5, ThreadID: 3, FromID: 42, Text: text})
	}
	require.Len(t, snd.out, 5)
	assert.Equal(t, kit.ChatTarget{ChatID: 5, ThreadID: 3}, snd.out[0].to)

	budget := snd.out[0].text
	assert.Contains(t, budget, "hourly cap 520")
	assert.Less(t, strings.Index(budget, "comments 7/250"), strings.Index(budget, "deletion 3/50"))

	assert.Equal(t, "comment: 4 pending\ndeletion: 1 pending", snd.out[1].text)
	assert.Equal(t, "usage: /run <module>", snd.out[2].text)
	assert.True(t, strings.HasPrefix(snd.out[3].text, "error: "))
	assert.Contains(t, snd.out[4].text, "/budget")
}

func TestConsoleQueueError(t *testing.T) {
	snd := &fakeSender{}
	c := NewConsole(snd, &fakeSched{}, []QueuePort{fakeQueue{kind: "comment", err: errors.New("disk")}}, []int64{1}, logx.Nop())
	c.Handle(context.Background(), kit.Message{FromID: 1, Text: "/queue"})
	require.Len(t, snd.out, 1)
	assert.Equal(t, "error: queue comment: disk", snd.out[0].text)
}

func TestConsoleRecoversPanics(t *testing.T) {
	snd := &fakeSender{}
	c := NewConsole(snd, nil, nil, []int64{1}, logx.Nop())
	c.Handle(context.Background(), kit.Message{FromID: 1, Text: "/budget"})
	require.Len(t, snd.out, 1)
	assert.True(t, strings.HasPrefix(snd.out[0].text, "error: panic:"))
}

func TestFormatCycle(t *testing.T) {
	s := FormatCycle(scheduler.CycleResult{Module: "deletion", Outcome: scheduler.OutcomeFailed, Requests: 1, Consumed: 1, Quota: 50, Err: errors.New("boom")})
	assert.Equal(t, "deletion failed: projected=0 requests=1 used=1/50\nerror: boom", s)
}

func TestSplitText(t *testing.T) {
	assert.Equal(t, []string{"short"}, SplitText("short", 10))

	parts := SplitText("aaaa\nbbbb\ncccc", 10)
	assert.Equal(t, []string{"aaaa\nbbbb", "cccc"}, parts)

	long := strings.Repeat("x", 25)
	parts = SplitText(long, 10)
	require.Len(t, parts, 3)
	assert.Equal(t, long, strings.Join(parts, ""))
}
