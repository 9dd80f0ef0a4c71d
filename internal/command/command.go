// Package command routes bot mentions to command handlers.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"taglistbot/internal/registry"
	"taglistbot/internal/site"
	logx "taglistbot/pkg/logx"
)

type Origin int

const (
	// OriginComment is a mention in a site comment.
	OriginComment Origin = iota
	// OriginOperator is an operator chat message.
	OriginOperator
)

func (o Origin) String() string {
	switch o {
	case OriginComment:
		return "comment"
	case OriginOperator:
		return "operator"
	default:
		return fmt.Sprintf("origin(%d)", int(o))
	}
}

var (
	ErrNoCommand      = errors.New("command: no command after mention")
	ErrUnknownCommand = errors.New("command: unknown command")
)

// Invocation is everything a handler may use. Site is the client for the
// current cycle; requests made through it count against the caller's budget.
type Invocation struct {
	Origin  Origin
	Tracker registry.Tracker
	PostID  string
	Trigger site.Comment
	Args    []string
	Site    site.Client
	Reply   func(ctx context.Context, lines ...string) error
}

// Respond calls Reply when one is set.
func (inv *Invocation) Respond(ctx context.Context, lines ...string) error {
	if inv.Reply == nil || len(lines) == 0 {
		return nil
	}
	return inv.Reply(ctx, lines...)
}

type Command interface {
	Name() string
	Execute(ctx context.Context, inv *Invocation) error
}

// Dispatcher finds "@<mention> <command> args..." in comment text.
type Dispatcher struct {
	mention string
	log     logx.Logger

	mu   sync.RWMutex
	cmds map[string]Command
}

func NewDispatcher(mention string, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Dispatcher{
		mention: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(mention), "@")),
		log:     log.With(logx.String("comp", "command")),
		cmds:    map[string]Command{},
	}
}

func (d *Dispatcher) Register(cmds ...Command) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range cmds {
		d.cmds[strings.ToLower(c.Name())] = c
	}
}

// Names lists registered commands, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, 0, len(d.cmds))
	for n := range d.cmds {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Parse extracts the command name and arguments following the bot mention.
// Without a configured mention the whole text is the command line.
func (d *Dispatcher) Parse(text string) (string, []string, error) {
	toks := Tokenize(text)
	if d.mention != "" {
		at := -1
		for i, t := range toks {
			if strings.EqualFold(strings.TrimRight(t, ",:"), "@"+d.mention) {
				at = i
				break
			}
		}
		if at < 0 {
			return "", nil, ErrNoCommand
		}
		toks = toks[at+1:]
	}
	if len(toks) == 0 {
		return "", nil, ErrNoCommand
	}
	return strings.ToLower(toks[0]), toks[1:], nil
}

// Dispatch parses text and executes the matching command with inv.
func (d *Dispatcher) Dispatch(ctx context.Context, text string, inv *Invocation) error {
	name, args, err := d.Parse(text)
	if err != nil {
		return err
	}
	d.mu.RLock()
	cmd, ok := d.cmds[name]
	d.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	inv.Args = args
	d.log.Info("executing command",
		logx.String("cmd", name),
		logx.String("origin", inv.Origin.String()),
		logx.String("tracker", inv.Tracker.Name),
		logx.String("post", inv.PostID),
		logx.Int("args", len(args)),
	)
	return cmd.Execute(ctx, inv)
}
