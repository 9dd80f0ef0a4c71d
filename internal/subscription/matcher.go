// Package subscription turns "+sub" replies into taglist subscriptions.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"taglistbot/internal/registry"
	"taglistbot/internal/site"
)

var (
	ErrNoAttributableTaglists = errors.New("subscription: no taglists attributable to tracker on this post")
	ErrNoRequests             = errors.New("subscription: no sibling comments requested a subscription")
	ErrNonePassed             = errors.New("subscription: no subscription went through")
)

// Input is one matching run.
type Input struct {
	Trigger  site.Comment
	Tracker  registry.Tracker
	Comments []site.Comment
	// Pattern must match a comment's whole text. Nil accepts every comment.
	Pattern  *regexp.Regexp
	Taglists []registry.Taglist
	Note     string
}

// CompilePattern compiles a user pattern with whole-string semantics.
func CompilePattern(p string) (*regexp.Regexp, error) {
	return regexp.Compile(`^(?:` + p + `)$`)
}

// Siblings returns the comments sharing the trigger's parent, trigger excluded.
func Siblings(trigger site.Comment, comments []site.Comment) []site.Comment {
	var out []site.Comment
	for _, c := range comments {
		if c.ID == trigger.ID {
			continue
		}
		if sameTier(c, trigger) {
			out = append(out, c)
		}
	}
	return out
}

func sameTier(a, b site.Comment) bool {
	if a.TopLevel() || b.TopLevel() {
		return a.TopLevel() && b.TopLevel()
	}
	return a.ParentID == b.ParentID
}

// Ratings expands a taglist into the ratings a subscription covers.
func Ratings(t registry.Taglist) []registry.Rating {
	if t.HasRatings {
		return []registry.Rating{registry.RatingSafe, registry.RatingQuestionable, registry.RatingExplicit}
	}
	return []registry.Rating{registry.RatingAll}
}

// Match derives one user record per requesting author, in comment order.
func Match(in Input) ([]registry.User, error) {
	if len(in.Taglists) == 0 {
		return nil, ErrNoAttributableTaglists
	}

	var (
		users []registry.User
		index = map[string]int{}
	)
	for _, c := range Siblings(in.Trigger, in.Comments) {
		if isTracker(c, in.Tracker) {
			continue
		}
		if in.Pattern != nil && !in.Pattern.MatchString(c.Text) {
			continue
		}
		key := authorKey(c)
		if _, seen := index[key]; seen {
			continue
		}
		u := registry.User{AccountID: c.AuthorID, Name: c.AuthorName}
		for _, t := range in.Taglists {
			u.Subscriptions = append(u.Subscriptions, registry.Subscription{
				Taglist: t.Abbreviation,
				Ratings: Ratings(t),
				Note:    in.Note,
			})
		}
		index[key] = len(users)
		users = append(users, u)
	}
	if len(users) == 0 {
		return nil, ErrNoRequests
	}
	return users, nil
}

func isTracker(c site.Comment, tr registry.Tracker) bool {
	if tr.AccountID != 0 {
		return c.AuthorID == tr.AccountID
	}
	return c.AuthorName == tr.Name
}

func authorKey(c site.Comment) string {
	if c.AuthorID != 0 {
		return strconv.FormatInt(c.AuthorID, 10)
	}
	return "name:" + c.AuthorName
}

// UserStore persists user records.
type UserStore interface {
	StoreUser(ctx context.Context, u registry.User) error
}

// Result is the outcome for one author.
type Result struct {
	User registry.User
	Err  error
}

func (r Result) OK() bool { return r.Err == nil }

// Subscribe stores every user independently. A failure is recorded in that
// user's Result and the rest of the batch continues.
func Subscribe(ctx context.Context, store UserStore, users []registry.User) []Result {
	out := make([]Result, 0, len(users))
	for _, u := range users {
		err := safeStore(ctx, store, u)
		out = append(out, Result{User: u, Err: err})
	}
	return out
}

func safeStore(ctx context.Context, store UserStore, u registry.User) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic storing %q: %v", u.Name, r)
		}
	}()
	return store.StoreUser(ctx, u)
}

// Succeeded counts successful results.
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.OK() {
			n++
		}
	}
	return n
}
