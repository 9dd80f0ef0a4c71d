// Package comments is the budgeted module that reads bot mentions and posts
// queued replies.
package comments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"taglistbot/internal/budget"
	"taglistbot/internal/command"
	"taglistbot/internal/queue"
	"taglistbot/internal/registry"
	"taglistbot/internal/site"
	"taglistbot/internal/storage"
	logx "taglistbot/pkg/logx"
)

const (
	cursorCollection = "cursors"
	cursorKey        = "replies"

	// DefaultMaxCommands bounds the inbox commands one cycle runs.
	DefaultMaxCommands = 2
)

// Trackers resolves comment authors to trackers.
type Trackers interface {
	TrackerByAccount(ctx context.Context, accountID int64) (registry.Tracker, bool, error)
}

type Config struct {
	// Batch is the most payloads one cycle posts.
	Batch int
	// MaxLen is the comment length limit used when splitting replies.
	MaxLen int
	// AccountID is the bot's own account; its comments are never dispatched.
	AccountID int64
	// MaxCommands is both the most tracker commands one cycle dispatches and
	// the site requests they may spend together. Later inbox replies wait.
	MaxCommands int
}

// Module polls the bot's reply inbox once per cycle, dispatches commands
// written by trackers, and then posts queued comments.
type Module struct {
	site     site.Client
	queue    *queue.Queue
	store    storage.Store
	trackers Trackers
	dispatch *command.Dispatcher
	cfg      Config
	log      logx.Logger
}

func New(client site.Client, q *queue.Queue, store storage.Store, trackers Trackers, d *command.Dispatcher, cfg Config, log logx.Logger) *Module {
	if cfg.Batch <= 0 {
		cfg.Batch = 1
	}
	if cfg.MaxLen <= 0 {
		cfg.MaxLen = MaxCommentLen
	}
	if cfg.MaxCommands <= 0 {
		cfg.MaxCommands = DefaultMaxCommands
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Module{
		site:     client,
		queue:    q,
		store:    store,
		trackers: trackers,
		dispatch: d,
		cfg:      cfg,
		log:      log.With(logx.String("comp", "comments")),
	}
}

func (m *Module) Name() string { return budget.ModuleComments }

// ProjectedRequests is an upper bound for Run: the inbox fetch, the command
// allowance and the queued payloads this cycle may post.
func (m *Module) ProjectedRequests(ctx context.Context) int {
	return 1 + m.cfg.MaxCommands + m.postLimit(ctx)
}

// postLimit is fixed before the inbox is read, so replies queued by this
// cycle's commands are posted by a later one.
func (m *Module) postLimit(ctx context.Context) int {
	pending, err := m.pendingPayloads(ctx)
	if err != nil {
		m.log.Warn("counting pending payloads failed", logx.Err(err))
		pending = m.cfg.Batch
	}
	return min(pending, m.cfg.Batch)
}

func (m *Module) pendingPayloads(ctx context.Context) (int, error) {
	actions, err := m.queue.Drain(ctx, queue.All)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range actions {
		n += len(a.Payloads)
	}
	return n, nil
}

// Run reports every request it issued, including those of failed steps.
// A rate-limited inbox skips posting.
func (m *Module) Run(ctx context.Context) (int, error) {
	meter := site.NewMeter(m.site)
	limit := m.postLimit(ctx)
	pollErr := m.poll(ctx, meter)
	if errors.Is(pollErr, site.ErrRateLimited) {
		return meter.Count(), pollErr
	}
	postErr := m.post(ctx, meter, limit)
	return meter.Count(), errors.Join(pollErr, postErr)
}

// poll handles inbox replies above the cursor in id order. It stops early,
// leaving the cursor on the last handled reply, once MaxCommands commands
// ran, their allowance is spent or the site rate limits.
func (m *Module) poll(ctx context.Context, client site.Client) error {
	inbox, err := client.Replies(ctx)
	if err != nil {
		return fmt.Errorf("fetch replies: %w", err)
	}
	cursor, err := m.cursor(ctx)
	if err != nil {
		return err
	}
	sort.Slice(inbox, func(i, j int) bool { return inbox[i].ID < inbox[j].ID })

	allowance := site.NewCapped(client, m.cfg.MaxCommands)
	handled, commands := 0, 0
	defer func() {
		if handled > 0 {
			m.log.Debug("inbox processed", logx.Int("new", handled), logx.Int("commands", commands), logx.Int64("cursor", cursor))
		}
	}()
	for _, c := range inbox {
		if c.ID <= cursor {
			continue
		}
		inv, ok := m.invocation(ctx, allowance, c)
		if ok {
			if commands >= m.cfg.MaxCommands || allowance.Left() == 0 {
				m.log.Debug("command allowance reached, deferring inbox", logx.Int64("next", c.ID))
				return nil
			}
			commands++
			if err := m.dispatch.Dispatch(ctx, c.Text, inv); err != nil {
				switch {
				case errors.Is(err, site.ErrRateLimited):
					return fmt.Errorf("comment %d: %w", c.ID, err)
				case errors.Is(err, site.ErrAllowanceSpent):
					m.log.Debug("command allowance spent, retrying next cycle", logx.Int64("comment", c.ID))
					return nil
				}
				m.logDispatchErr(c, inv.Tracker, err)
			}
		}
		cursor = c.ID
		if err := m.saveCursor(ctx, cursor); err != nil {
			return err
		}
		handled++
	}
	return nil
}

// invocation resolves c to a tracker command. Own comments, comments that
// do not address the bot and authors who are not trackers yield false.
func (m *Module) invocation(ctx context.Context, client site.Client, c site.Comment) (*command.Invocation, bool) {
	if m.cfg.AccountID != 0 && c.AuthorID == m.cfg.AccountID {
		return nil, false
	}
	if _, _, err := m.dispatch.Parse(c.Text); errors.Is(err, command.ErrNoCommand) {
		return nil, false
	}
	tr, ok, err := m.trackers.TrackerByAccount(ctx, c.AuthorID)
	if err != nil {
		m.log.Warn("tracker lookup failed", logx.Int64("author", c.AuthorID), logx.Err(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &command.Invocation{
		Origin:  command.OriginComment,
		Tracker: tr,
		PostID:  c.PostID,
		Trigger: c,
		Site:    client,
		Reply:   m.replyTo(c),
	}, true
}

func (m *Module) logDispatchErr(c site.Comment, tr registry.Tracker, err error) {
	switch {
	case errors.Is(err, command.ErrNoCommand):
	case errors.Is(err, command.ErrUnknownCommand):
		m.log.Debug("unknown command", logx.Int64("comment", c.ID), logx.Err(err))
	default:
		m.log.Warn("command failed", logx.Int64("comment", c.ID), logx.String("tracker", tr.Name), logx.Err(err))
	}
}

// replyTo queues lines as a reply to c; they are posted by later cycles.
func (m *Module) replyTo(c site.Comment) func(ctx context.Context, lines ...string) error {
	return func(ctx context.Context, lines ...string) error {
		payloads := Chunk(m.cfg.MaxLen, lines...)
		if len(payloads) == 0 {
			return nil
		}
		a, err := queue.NewAction(c.PostID, c.ID, payloads...)
		if err != nil {
			return err
		}
		_, err = m.queue.Enqueue(ctx, a)
		return err
	}
}

// post sends up to limit queued payloads. A failed payload leaves its action
// queued with the unsent remainder.
func (m *Module) post(ctx context.Context, client site.Client, limit int) error {
	actions, err := m.queue.Drain(ctx, queue.All)
	if err != nil {
		return err
	}
	left := limit
	for _, a := range actions {
		if left <= 0 {
			break
		}
		if len(a.Payloads) == 0 {
			if err := m.queue.Complete(ctx, a); err != nil {
				return err
			}
			continue
		}
		sent, perr := m.send(ctx, client, a, left)
		left -= sent
		if perr != nil {
			left--
		}
		switch {
		case sent == len(a.Payloads):
			err = m.queue.Complete(ctx, a)
		case sent > 0:
			_, err = m.queue.Replace(ctx, a, a.Payloads[sent:])
		}
		if err != nil {
			return err
		}
		if perr != nil {
			m.log.Warn("posting comment failed",
				logx.Int64("action", a.ID),
				logx.String("post", a.TargetPostID),
				logx.Int64("parent", a.ParentID),
				logx.Int("sent", sent),
				logx.Err(perr),
			)
			if errors.Is(perr, site.ErrRateLimited) {
				return perr
			}
		}
	}
	return nil
}

func (m *Module) send(ctx context.Context, client site.Client, a queue.PendingAction, limit int) (int, error) {
	to := site.Target{PostID: a.TargetPostID, ParentID: a.ParentID}
	sent := 0
	for _, p := range a.Payloads {
		if sent >= limit {
			break
		}
		if _, err := client.Post(ctx, to, p); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

func (m *Module) cursor(ctx context.Context) (int64, error) {
	raw, ok, err := m.store.GetDocument(ctx, cursorCollection, cursorKey)
	if err != nil || !ok {
		return 0, err
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, fmt.Errorf("reply cursor: %w", err)
	}
	return id, nil
}

func (m *Module) saveCursor(ctx context.Context, id int64) error {
	return m.store.PutDocument(ctx, cursorCollection, cursorKey, []byte(strconv.FormatInt(id, 10)))
}
