package queue

import (
	"context"
	"fmt"

	"taglistbot/internal/storage"
	logx "taglistbot/pkg/logx"
)

// Record kinds. Each Queue owns exactly one kind.
const (
	KindComment  = "comment"
	KindDeletion = "deletion"
)

// Filter selects actions during Drain.
type Filter func(PendingAction) bool

// All accepts every action.
func All(PendingAction) bool { return true }

// Replies accepts actions attached to a parent comment.
func Replies(a PendingAction) bool { return a.HasParent() }

// TopLevel accepts actions posted directly on a post.
func TopLevel(a PendingAction) bool { return !a.HasParent() }

// Queue is a persisted set of pending actions of one kind.
// It is safe for concurrent use as long as the Store is.
type Queue struct {
	store storage.Store
	kind  string
	log   logx.Logger
}

func New(store storage.Store, kind string, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Queue{store: store, kind: kind, log: log.With(logx.String("comp", "queue"), logx.String("kind", kind))}
}

func (q *Queue) Kind() string { return q.kind }

// Enqueue validates and persists a. Enqueuing an action equal to one that is
// still pending returns the pending id.
func (q *Queue) Enqueue(ctx context.Context, a PendingAction) (int64, error) {
	if err := a.Validate(); err != nil {
		return Unsaved, err
	}
	for _, p := range a.Payloads {
		if p == "" {
			return Unsaved, ErrEmptyPayload
		}
	}
	id, err := q.store.InsertAction(ctx, q.record(a))
	if err != nil {
		return Unsaved, fmt.Errorf("enqueue %s: %w", q.kind, err)
	}
	q.log.Debug("action enqueued", logx.Int64("id", id), logx.String("target", a.TargetPostID), logx.Int64("parent", a.ParentID), logx.Int("payloads", len(a.Payloads)))
	return id, nil
}

// Complete removes a, by id when it has one and by structure otherwise.
// Completing an action that is already gone is a no-op.
func (q *Queue) Complete(ctx context.Context, a PendingAction) error {
	r := q.record(a)
	if a.Persisted() {
		r.ID = a.ID
	}
	removed, err := q.store.DeleteAction(ctx, r)
	if err != nil {
		return fmt.Errorf("complete %s %d: %w", q.kind, a.ID, err)
	}
	if !removed {
		q.log.Debug("complete: action already gone", logx.Int64("id", a.ID))
	}
	return nil
}

// Replace swaps a partly executed action for one carrying the remaining payloads.
// The remainder is stored first so a crash in between cannot lose it.
func (q *Queue) Replace(ctx context.Context, done PendingAction, remaining []string) (int64, error) {
	id, err := q.Enqueue(ctx, done.WithPayloads(remaining...))
	if err != nil {
		return Unsaved, err
	}
	if err := q.Complete(ctx, done); err != nil {
		return id, err
	}
	return id, nil
}

// Drain returns every pending action accepted by filter. Nothing is removed.
func (q *Queue) Drain(ctx context.Context, filter Filter) ([]PendingAction, error) {
	if filter == nil {
		filter = All
	}
	recs, err := q.store.ListActions(ctx, q.kind)
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", q.kind, err)
	}
	out := make([]PendingAction, 0, len(recs))
	for _, r := range recs {
		a := Parse(r.Body, r.ID, r.TargetID, r.ParentID)
		if filter(a) {
			out = append(out, a)
		}
	}
	return out, nil
}

// Len counts pending actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	recs, err := q.store.ListActions(ctx, q.kind)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (q *Queue) record(a PendingAction) storage.ActionRecord {
	return storage.ActionRecord{
		Kind:     q.kind,
		TargetID: a.TargetPostID,
		ParentID: a.ParentID,
		Body:     Serialize(a.Payloads),
	}
}
