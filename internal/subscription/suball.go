package subscription

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"taglistbot/internal/command"
	"taglistbot/internal/registry"
	"taglistbot/internal/site"
	logx "taglistbot/pkg/logx"
)

// Usage errors, reported to the caller before any matching.
var (
	ErrWrongOrigin = errors.New("suball: only available from site comments")
	ErrNoPost      = errors.New("suball: no target post")
	ErrTooManyArgs = errors.New("suball: too many arguments")
	ErrNotQuoted   = errors.New("suball: pattern is not quoted")
	ErrBadPattern  = errors.New("suball: pattern does not compile")
	ErrNoComments  = errors.New("suball: post comments unavailable")
)

const (
	MsgWrongOrigin   = "This command can only be used through Imgur comments."
	MsgNoPost        = "Something went wrong and I can't find the imgur-id of the post :<"
	MsgTooManyArgs   = `There were too many arguments! Did you forget to put the syntax between "" quotation marks?`
	MsgNotQuoted     = `There were no "" quotation marks around the argument. Please check your syntax.`
	MsgNoComments    = "Something went wrong and I can't find the post comments :<"
	MsgNoRequests    = "Could not find any comments that indicate a subscription request. Is your pattern correct?"
	MsgNonePassed    = "Something went wrong, none of the subscriptions have properly gone through :<"
	msgBadPattern    = "The pattern could not be compiled: %s"
	msgNoTaglists    = "There were no taglists detected that were previously tagged by %s"
	msgSubscribeFail = `Something went wrong while trying to subscribe "%s"`
	msgSuccess       = "Successfully subscribed %d users to %s (%s)"
)

// Attributor resolves which taglists a tracker tagged on a post.
type Attributor interface {
	Attributable(ctx context.Context, comments []site.Comment, tr registry.Tracker) ([]registry.Taglist, error)
}

// Registry is what SubAll needs from the user/taglist registry.
type Registry interface {
	Attributor
	UserStore
}

// Outcome summarises one successful-or-partial run.
type Outcome struct {
	Taglists []registry.Taglist
	Results  []Result
}

func (o Outcome) Subscribed() int { return Succeeded(o.Results) }

// SubAll subscribes every sibling commenter of the trigger to the taglists
// the invoking tracker tagged on the post.
//
//	@bot suball            everyone in the reply tier
//	@bot suball "\+sub"    only comments that are exactly "+sub"
type SubAll struct {
	reg Registry
	log logx.Logger
}

func NewSubAll(reg Registry, log logx.Logger) *SubAll {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SubAll{reg: reg, log: log.With(logx.String("comp", "suball"))}
}

func (c *SubAll) Name() string { return "suball" }

// Execute runs the command and replies with the outcome. Usage and
// attribution errors become replies; only infrastructure errors are returned.
// A rate-limited or over-allowance fetch is returned without a reply.
func (c *SubAll) Execute(ctx context.Context, inv *command.Invocation) error {
	out, err := c.Run(ctx, inv)
	if site.Retryable(err) {
		// unanswered; the caller retries the whole command later
		return err
	}
	lines := Messages(out, err, inv.Tracker)
	if rerr := inv.Respond(ctx, lines...); rerr != nil {
		return fmt.Errorf("suball reply: %w", rerr)
	}
	if err != nil && !isReported(err) {
		return err
	}
	return nil
}

// Run is Execute without the reply.
func (c *SubAll) Run(ctx context.Context, inv *command.Invocation) (Outcome, error) {
	if inv.Origin != command.OriginComment {
		return Outcome{}, ErrWrongOrigin
	}
	postID := strings.TrimSpace(inv.PostID)
	if postID == "" {
		return Outcome{}, ErrNoPost
	}
	pattern, err := patternArg(inv.Args)
	if err != nil {
		return Outcome{}, err
	}
	if inv.Site == nil {
		return Outcome{}, ErrNoComments
	}

	comments, err := inv.Site.Comments(ctx, postID)
	if err != nil {
		c.log.Warn("fetching post comments failed", logx.String("post", postID), logx.Err(err))
		return Outcome{}, fmt.Errorf("%w: %w", ErrNoComments, err)
	}
	taglists, err := c.reg.Attributable(ctx, comments, inv.Tracker)
	if err != nil {
		return Outcome{}, fmt.Errorf("suball: attribution: %w", err)
	}

	users, err := Match(Input{
		Trigger:  inv.Trigger,
		Tracker:  inv.Tracker,
		Comments: comments,
		Pattern:  pattern,
		Taglists: taglists,
		Note:     "suball by " + inv.Tracker.Name,
	})
	if err != nil {
		return Outcome{Taglists: taglists}, err
	}

	out := Outcome{Taglists: taglists, Results: Subscribe(ctx, c.reg, users)}
	for _, r := range out.Results {
		if !r.OK() {
			c.log.Warn("subscribing user failed", logx.String("user", r.User.Name), logx.Err(r.Err))
		}
	}
	c.log.Info("suball finished",
		logx.String("post", postID),
		logx.Int("matched", len(users)),
		logx.Int("subscribed", out.Subscribed()),
	)
	if out.Subscribed() == 0 {
		return out, ErrNonePassed
	}
	return out, nil
}

// patternArg validates the optional quoted pattern. No argument means no filter.
func patternArg(args []string) (*regexp.Regexp, error) {
	switch len(args) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, ErrTooManyArgs
	}
	raw := args[0]
	if len(raw) < 2 || !strings.HasPrefix(raw, `"`) || !strings.HasSuffix(raw, `"`) {
		return nil, ErrNotQuoted
	}
	re, err := CompilePattern(raw[1 : len(raw)-1])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPattern, err)
	}
	return re, nil
}

func isReported(err error) bool {
	for _, e := range []error{ErrWrongOrigin, ErrNoPost, ErrTooManyArgs, ErrNotQuoted, ErrBadPattern,
		ErrNoComments, ErrNoAttributableTaglists, ErrNoRequests, ErrNonePassed} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}

// Messages renders the reply lines for a run: one line per failed author,
// then the summary or the error category.
func Messages(out Outcome, err error, tr registry.Tracker) []string {
	var lines []string
	for _, r := range out.Results {
		if !r.OK() {
			lines = append(lines, fmt.Sprintf(msgSubscribeFail, r.User.Name))
		}
	}
	switch {
	case err == nil:
		abbrevs := make([]string, len(out.Taglists))
		for i, t := range out.Taglists {
			abbrevs[i] = t.Abbreviation
		}
		noun := "taglist"
		if len(abbrevs) > 1 {
			noun = "taglists"
		}
		return append(lines, fmt.Sprintf(msgSuccess, out.Subscribed(), noun, strings.Join(abbrevs, ", ")))
	case errors.Is(err, ErrWrongOrigin):
		return append(lines, MsgWrongOrigin)
	case errors.Is(err, ErrNoPost):
		return append(lines, MsgNoPost)
	case errors.Is(err, ErrTooManyArgs):
		return append(lines, MsgTooManyArgs)
	case errors.Is(err, ErrNotQuoted):
		return append(lines, MsgNotQuoted)
	case errors.Is(err, ErrBadPattern):
		reason := strings.TrimPrefix(err.Error(), ErrBadPattern.Error()+": ")
		return append(lines, fmt.Sprintf(msgBadPattern, reason))
	case errors.Is(err, ErrNoComments):
		return append(lines, MsgNoComments)
	case errors.Is(err, ErrNoAttributableTaglists):
		return append(lines, fmt.Sprintf(msgNoTaglists, tr.Name))
	case errors.Is(err, ErrNoRequests):
		return append(lines, MsgNoRequests)
	case errors.Is(err, ErrNonePassed):
		return append(lines, MsgNonePassed)
	default:
		return append(lines, MsgNonePassed)
	}
}
