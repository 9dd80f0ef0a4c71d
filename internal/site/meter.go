package site

import (
	"context"
	"errors"
	"sync/atomic"
)

// Meter counts every request issued through it, successful or not.
// Modules wrap the shared client in a fresh Meter per cycle and report Count.
type Meter struct {
	c Client
	n atomic.Int64
}

func NewMeter(c Client) *Meter { return &Meter{c: c} }

func (m *Meter) Count() int { return int(m.n.Load()) }

func (m *Meter) Comments(ctx context.Context, postID string) ([]Comment, error) {
	m.n.Add(1)
	return m.c.Comments(ctx, postID)
}

func (m *Meter) Replies(ctx context.Context) ([]Comment, error) {
	m.n.Add(1)
	return m.c.Replies(ctx)
}

func (m *Meter) Post(ctx context.Context, to Target, text string) (int64, error) {
	m.n.Add(1)
	return m.c.Post(ctx, to, text)
}

func (m *Meter) Delete(ctx context.Context, commentID int64) error {
	m.n.Add(1)
	return m.c.Delete(ctx, commentID)
}

// ErrAllowanceSpent is returned by a Capped client instead of issuing a request.
var ErrAllowanceSpent = errors.New("site: cycle allowance spent")

// Retryable reports whether a request failed for budget reasons and the
// work that needed it should be tried again in a later cycle.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAllowanceSpent)
}

// Capped passes at most n requests through to c. Later calls fail with
// ErrAllowanceSpent and reach nothing.
type Capped struct {
	c    Client
	left atomic.Int64
}

func NewCapped(c Client, n int) *Capped {
	cp := &Capped{c: c}
	cp.left.Store(int64(max(n, 0)))
	return cp
}

// Left is the number of requests still allowed.
func (c *Capped) Left() int { return int(c.left.Load()) }

func (c *Capped) take() bool {
	for {
		n := c.left.Load()
		if n <= 0 {
			return false
		}
		if c.left.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

func (c *Capped) Comments(ctx context.Context, postID string) ([]Comment, error) {
	if !c.take() {
		return nil, ErrAllowanceSpent
	}
	return c.c.Comments(ctx, postID)
}

func (c *Capped) Replies(ctx context.Context) ([]Comment, error) {
	if !c.take() {
		return nil, ErrAllowanceSpent
	}
	return c.c.Replies(ctx)
}

func (c *Capped) Post(ctx context.Context, to Target, text string) (int64, error) {
	if !c.take() {
		return 0, ErrAllowanceSpent
	}
	return c.c.Post(ctx, to, text)
}

func (c *Capped) Delete(ctx context.Context, commentID int64) error {
	if !c.take() {
		return ErrAllowanceSpent
	}
	return c.c.Delete(ctx, commentID)
}
