// Package site is the client for the image site's comment API.
package site

import (
	"context"
	"errors"
	"fmt"
)

// NoParent is the ParentID of a top-level comment.
const NoParent int64 = -1

var ErrRateLimited = errors.New("site: rate limited")

// Comment is one node of a post's comment tree, flattened.
type Comment struct {
	ID         int64
	PostID     string
	AuthorID   int64
	AuthorName string
	Text       string
	ParentID   int64
}

func (c Comment) TopLevel() bool { return c.ParentID < 0 }

// Target is where a new comment goes: a reply when ParentID >= 0,
// otherwise top-level on PostID.
type Target struct {
	PostID   string
	ParentID int64
}

// Client is the subset of the site API the bot uses. Every method is one request.
type Client interface {
	// Comments returns all comments of a post in display order.
	Comments(ctx context.Context, postID string) ([]Comment, error)
	// Replies returns comments that mention or reply to the bot account.
	Replies(ctx context.Context) ([]Comment, error)
	// Post creates a comment and returns its id.
	Post(ctx context.Context, to Target, text string) (int64, error)
	Delete(ctx context.Context, commentID int64) error
}

// APIError is a non-success response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("site: status %d", e.Status)
	}
	return fmt.Sprintf("site: status %d: %s", e.Status, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.Status == 429 {
		return ErrRateLimited
	}
	return nil
}
