package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "taglistbot/pkg/logx"
)

func TestTokenizeKeepsQuotes(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`suball`, []string{"suball"}},
		{`  suball   "\+sub"  `, []string{"suball", `"\+sub"`}},
		{`suball "plus sub please"`, []string{"suball", `"plus sub please"`}},
		{`suball +sub extra`, []string{"suball", "+sub", "extra"}},
		{`suball ""`, []string{"suball", `""`}},
		{`suball “smart quotes”`, []string{"suball", `"smart quotes"`}},
		{`suball "unterminated pattern`, []string{"suball", `"unterminated pattern`}},
		{"", nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Tokenize(tc.in), "Tokenize(%q)", tc.in)
	}
}

type recordCmd struct {
	name string
	got  *Invocation
}

func (c *recordCmd) Name() string { return c.name }
func (c *recordCmd) Execute(_ context.Context, inv *Invocation) error {
	c.got = inv
	return nil
}

func TestDispatchByMention(t *testing.T) {
	d := NewDispatcher("@TaglistBot", logx.Nop())
	cmd := &recordCmd{name: "SubAll"}
	d.Register(cmd)
	assert.Equal(t, []string{"suball"}, d.Names())

	inv := &Invocation{Origin: OriginComment}
	require.NoError(t, d.Dispatch(context.Background(), `thanks all! @taglistbot: SUBALL "\+sub"`, inv))
	require.NotNil(t, cmd.got)
	assert.Equal(t, []string{`"\+sub"`}, cmd.got.Args)
}

func TestDispatchErrors(t *testing.T) {
	d := NewDispatcher("bot", logx.Nop())
	d.Register(&recordCmd{name: "suball"})

	err := d.Dispatch(context.Background(), "no mention here", &Invocation{})
	assert.True(t, errors.Is(err, ErrNoCommand))

	err = d.Dispatch(context.Background(), "@bot", &Invocation{})
	assert.True(t, errors.Is(err, ErrNoCommand))

	err = d.Dispatch(context.Background(), "@bot dance", &Invocation{})
	assert.True(t, errors.Is(err, ErrUnknownCommand))
}

func TestRespondWithoutReply(t *testing.T) {
	inv := &Invocation{}
	assert.NoError(t, inv.Respond(context.Background(), "ignored"))
}
