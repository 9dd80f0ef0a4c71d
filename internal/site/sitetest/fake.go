// Package sitetest provides an in-memory site.Client for tests.
package sitetest

import (
	"context"
	"errors"
	"sync"

	"taglistbot/internal/site"
)

// Posted records one successful Post call.
type Posted struct {
	To   site.Target
	Text string
	ID   int64
}

// Fake is a scriptable site.Client. The zero value is ready to use.
type Fake struct {
	mu sync.Mutex

	ByPost  map[string][]site.Comment
	Inbox   []site.Comment
	Posts   []Posted
	Deleted []int64
	Calls   int
	nextID  int64

	// FailPost makes Post fail for texts in the set.
	FailPost map[string]error
	// FailDelete makes Delete fail for ids in the set.
	FailDelete map[int64]error
	// CommentsErr makes Comments fail.
	CommentsErr error
	RepliesErr  error
}

var ErrNotFound = errors.New("sitetest: not found")

func (f *Fake) Comments(ctx context.Context, postID string) ([]site.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.CommentsErr != nil {
		return nil, f.CommentsErr
	}
	cs, ok := f.ByPost[postID]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]site.Comment(nil), cs...), nil
}

func (f *Fake) Replies(ctx context.Context) ([]site.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if f.RepliesErr != nil {
		return nil, f.RepliesErr
	}
	return append([]site.Comment(nil), f.Inbox...), nil
}

func (f *Fake) Post(ctx context.Context, to site.Target, text string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if err := f.FailPost[text]; err != nil {
		return 0, err
	}
	f.nextID++
	id := 1000 + f.nextID
	f.Posts = append(f.Posts, Posted{To: to, Text: text, ID: id})
	return id, nil
}

func (f *Fake) Delete(ctx context.Context, commentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	if err := f.FailDelete[commentID]; err != nil {
		return err
	}
	f.Deleted = append(f.Deleted, commentID)
	return nil
}

// Texts returns the posted texts in order.
func (f *Fake) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Posts))
	for i, p := range f.Posts {
		out[i] = p.Text
	}
	return out
}
