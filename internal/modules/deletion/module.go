// Package deletion removes bot comments that trackers asked to take down.
package deletion

import (
	"context"
	"errors"
	"net/http"

	"taglistbot/internal/budget"
	"taglistbot/internal/queue"
	"taglistbot/internal/site"
	logx "taglistbot/pkg/logx"
)

// Module deletes up to Batch queued comments per cycle. Each queued action
// names the comment to delete in ParentID.
type Module struct {
	site  site.Client
	queue *queue.Queue
	batch int
	log   logx.Logger
}

func New(client site.Client, q *queue.Queue, batch int, log logx.Logger) *Module {
	if batch <= 0 {
		batch = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Module{site: client, queue: q, batch: batch, log: log.With(logx.String("comp", "deletion"))}
}

func (m *Module) Name() string { return budget.ModuleDeletion }

func (m *Module) ProjectedRequests(ctx context.Context) int {
	n, err := m.queue.Len(ctx)
	if err != nil {
		m.log.Warn("counting queued deletions failed", logx.Err(err))
		return m.batch
	}
	return min(n, m.batch)
}

func (m *Module) Run(ctx context.Context) (int, error) {
	meter := site.NewMeter(m.site)
	actions, err := m.queue.Drain(ctx, queue.Replies)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, a := range actions {
		if meter.Count() >= m.batch {
			break
		}
		err := meter.Delete(ctx, a.ParentID)
		if err != nil && !gone(err) {
			m.log.Warn("deleting comment failed", logx.Int64("comment", a.ParentID), logx.Err(err))
			if errors.Is(err, site.ErrRateLimited) {
				return meter.Count(), err
			}
			continue
		}
		if err := m.queue.Complete(ctx, a); err != nil {
			return meter.Count(), err
		}
		deleted++
	}
	if deleted > 0 {
		m.log.Info("comments deleted", logx.Int("count", deleted))
	}
	return meter.Count(), nil
}

// gone reports a delete of a comment that no longer exists.
func gone(err error) bool {
	var apiErr *site.APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}
