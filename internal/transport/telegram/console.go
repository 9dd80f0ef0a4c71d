package telegram

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"taglistbot/internal/task/scheduler"
	kit "taglistbot/internal/transport"
	logx "taglistbot/pkg/logx"
)

// SchedulerPort is the part of the scheduler the operator console reads.
type SchedulerPort interface {
	Snapshot() scheduler.Snapshot
	RunNow(ctx context.Context, name string) (scheduler.CycleResult, error)
}

// QueuePort reports the pending actions of one persisted queue.
type QueuePort interface {
	Kind() string
	Len(ctx context.Context) (int, error)
}

var ErrNotOwner = errors.New("not an owner")

type Request struct {
	Msg     kit.Message
	Command string
	Args    []string
}

type HandlerFunc func(ctx context.Context, req *Request) (string, error)

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// Console answers owner-only operator commands received over Telegram.
type Console struct {
	log    logx.Logger
	sender kit.Sender
	sched  SchedulerPort
	queues []QueuePort

	mu     sync.RWMutex
	owners []int64

	handlers map[string]HandlerFunc
	timeout  time.Duration
}

func NewConsole(sender kit.Sender, sched SchedulerPort, queues []QueuePort, owners []int64, log logx.Logger) *Console {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Console{
		log:     log.With(logx.String("comp", "telegram.console")),
		sender:  sender,
		sched:   sched,
		queues:  queues,
		owners:  append([]int64(nil), owners...),
		timeout: 30 * time.Second,
	}
	mw := []Middleware{c.requireOwner, mwRecover(c.log), mwRequestLog(c.log), mwTimeout(c.timeout)}
	c.handlers = map[string]HandlerFunc{
		"help":   Chain(c.help, mw...),
		"budget": Chain(c.budget, mw...),
		"queue":  Chain(c.queue, mw...),
		"run":    Chain(c.run, mw...),
	}
	return c
}

// SetOwners swaps the owner list; safe during hot reload.
func (c *Console) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	c.mu.Lock()
	c.owners = cp
	c.mu.Unlock()
}

func (c *Console) isOwner(id int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.owners, id)
}

// Serve handles messages until ctx is done or in is closed.
func (c *Console) Serve(ctx context.Context, in <-chan kit.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-in:
			if !ok {
				return
			}
			c.Handle(ctx, m)
		}
	}
}

// Handle runs one message. Non-commands and unknown commands are ignored.
func (c *Console) Handle(ctx context.Context, m kit.Message) {
	req, ok := parseCommand(m)
	if !ok {
		return
	}
	h, ok := c.handlers[req.Command]
	if !ok {
		return
	}
	text, err := h(ctx, req)
	if errors.Is(err, ErrNotOwner) {
		return
	}
	if err != nil {
		text = "error: " + err.Error()
	}
	if text == "" {
		return
	}
	to := kit.ChatTarget{ChatID: m.ChatID, ThreadID: m.ThreadID}
	if err := c.sender.SendText(ctx, to, text, &kit.SendOptions{DisablePreview: true}); err != nil {
		c.log.Warn("reply failed", logx.Int64("chat_id", m.ChatID), logx.Err(err))
	}
}

// parseCommand accepts "/name", "/name@bot" and trailing args.
func parseCommand(m kit.Message) (*Request, bool) {
	text := strings.TrimSpace(m.Text)
	if !strings.HasPrefix(text, "/") {
		return nil, false
	}
	f := strings.Fields(text[1:])
	if len(f) == 0 {
		return nil, false
	}
	name, _, _ := strings.Cut(f[0], "@")
	name = strings.ToLower(name)
	if name == "" {
		return nil, false
	}
	return &Request{Msg: m, Command: name, Args: f[1:]}, true
}

func (c *Console) requireOwner(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) (string, error) {
		if !c.isOwner(req.Msg.FromID) {
			c.log.Debug("ignored command from non-owner", logx.Int64("from_id", req.Msg.FromID), logx.String("cmd", req.Command))
			return "", ErrNotOwner
		}
		return next(ctx, req)
	}
}

func mwTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func mwRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (out string, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("panic recovered", logx.String("cmd", req.Command), logx.Any("panic", r))
					out, err = "", fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func mwRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (string, error) {
			start := time.Now()
			out, err := next(ctx, req)
			fields := []logx.Field{
				logx.String("cmd", req.Command),
				logx.Int64("from_id", req.Msg.FromID),
				logx.Duration("dur", time.Since(start)),
			}
			if err != nil {
				log.Warn("command failed", append(fields, logx.Err(err))...)
			} else {
				log.Debug("command ok", fields...)
			}
			return out, err
		}
	}
}

func (c *Console) help(context.Context, *Request) (string, error) {
	return strings.Join([]string{
		"/budget - request budget for the current hour",
		"/queue - pending actions per queue",
		"/run <module> - run one cycle now",
	}, "\n"), nil
}

func (c *Console) budget(context.Context, *Request) (string, error) {
	return FormatBudget(c.sched.Snapshot(), time.Now()), nil
}

func (c *Console) queue(ctx context.Context, _ *Request) (string, error) {
	counts := make(map[string]int, len(c.queues))
	for _, q := range c.queues {
		n, err := q.Len(ctx)
		if err != nil {
			return "", fmt.Errorf("queue %s: %w", q.Kind(), err)
		}
		counts[q.Kind()] = n
	}
	return FormatQueues(counts), nil
}

func (c *Console) run(ctx context.Context, req *Request) (string, error) {
	if len(req.Args) != 1 {
		return "usage: /run <module>", nil
	}
	res, err := c.sched.RunNow(ctx, req.Args[0])
	if err != nil {
		return "", err
	}
	return FormatCycle(res), nil
}

// FormatBudget renders a scheduler snapshot, one line per module.
func FormatBudget(s scheduler.Snapshot, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "window %s (%s), hourly cap %d\n", s.WindowStart.Format("15:04"), s.Timezone, s.HourlyCap)
	if len(s.Modules) == 0 {
		b.WriteString("no modules registered")
		return b.String()
	}
	mods := append([]scheduler.ModuleInfo(nil), s.Modules...)
	sort.Slice(mods, func(i, j int) bool { return mods[i].Name < mods[j].Name })
	for _, m := range mods {
		fmt.Fprintf(&b, "\n%s %d/%d %s ran=%d skipped=%d failed=%d",
			m.Name, m.Consumed, m.Quota, m.State, m.Ran, m.Skipped, m.Failed)
		if !m.Next.IsZero() {
			fmt.Fprintf(&b, " next=%s", m.Next.Sub(now).Round(time.Second))
		}
	}
	return b.String()
}

func FormatQueues(counts map[string]int) string {
	if len(counts) == 0 {
		return "no queues"
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	lines := make([]string, 0, len(kinds))
	for _, k := range kinds {
		lines = append(lines, fmt.Sprintf("%s: %d pending", k, counts[k]))
	}
	return strings.Join(lines, "\n")
}

func FormatCycle(r scheduler.CycleResult) string {
	s := fmt.Sprintf("%s %s: projected=%d requests=%d used=%d/%d", r.Module, r.Outcome, r.Projected, r.Requests, r.Consumed, r.Quota)
	if r.Err != nil {
		s += "\nerror: " + r.Err.Error()
	}
	return s
}
