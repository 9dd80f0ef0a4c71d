package deletion

import (
	"context"
	"errors"
	"fmt"

	"taglistbot/internal/command"
	"taglistbot/internal/queue"
	"taglistbot/internal/site"
)

const (
	MsgNotAReply  = "Reply to the comment you want me to delete."
	MsgNotBotPost = "I can only delete my own comments."
	MsgNoComments = "Something went wrong and I can't find the post comments :<"
)

// Command is "@bot delete", written as a reply under a bot comment.
// The parent is queued for deletion; nothing is replied on success.
type Command struct {
	queue     *queue.Queue
	accountID int64
}

// NewCommand checks parents against accountID. With accountID 0 any parent
// is accepted and no request is spent on the check.
func NewCommand(q *queue.Queue, accountID int64) *Command {
	return &Command{queue: q, accountID: accountID}
}

func (c *Command) Name() string { return "delete" }

func (c *Command) Execute(ctx context.Context, inv *command.Invocation) error {
	if inv.Origin != command.OriginComment || inv.Trigger.TopLevel() {
		return inv.Respond(ctx, MsgNotAReply)
	}
	parent := inv.Trigger.ParentID
	if c.accountID != 0 {
		ok, err := c.ownedByBot(ctx, inv, parent)
		if site.Retryable(err) {
			return fmt.Errorf("delete: %w", err)
		}
		if err != nil {
			if rerr := inv.Respond(ctx, MsgNoComments); rerr != nil {
				return rerr
			}
			return err
		}
		if !ok {
			return inv.Respond(ctx, MsgNotBotPost)
		}
	}
	a, err := queue.NewAction(inv.PostID, parent)
	if err != nil {
		return err
	}
	if _, err := c.queue.Enqueue(ctx, a); err != nil {
		return fmt.Errorf("queue deletion of %d: %w", parent, err)
	}
	return nil
}

func (c *Command) ownedByBot(ctx context.Context, inv *command.Invocation, id int64) (bool, error) {
	if inv.Site == nil {
		return false, errors.New("delete: no site client")
	}
	comments, err := inv.Site.Comments(ctx, inv.PostID)
	if err != nil {
		return false, err
	}
	for _, cm := range comments {
		if cm.ID == id {
			return cm.AuthorID == c.accountID, nil
		}
	}
	return false, nil
}
