package queue

import (
	"context"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeEscapesSeparators(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{}, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b"}, "a ; b"},
		{[]string{"a;b"}, "a;;b"},
		{[]string{"x ; y", "z"}, "x ;; y ; z"},
		{[]string{"end;", ";start"}, "end;; ; ;;start"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Serialize(tc.in), "Serialize(%q)", tc.in)
	}
}

func TestParseEmpty(t *testing.T) {
	a := Parse("", 3, "post", NoParent)
	assert.Empty(t, a.Payloads)
	assert.NotNil(t, a.Payloads)
	assert.Equal(t, int64(3), a.ID)
	assert.Equal(t, "post", a.TargetPostID)
}

func TestRoundTripTrickyFragments(t *testing.T) {
	cases := [][]string{
		{"a ;", "b"},
		{"a ", "b"},
		{"a;", " b"},
		{"a ", ";b"},
		{";", ";;", ";;;"},
		{" ; ", " ; "},
		{"", "x"},
		{"x", ""},
		{"Successfully subscribed 2 users to taglists (A, B)"},
	}
	for _, payloads := range cases {
		got := Parse(Serialize(payloads), 1, "p", 5)
		assert.Equal(t, payloads, got.Payloads, "round trip of %q via %q", payloads, Serialize(payloads))
	}
}

func TestLoneEmptyFragmentIsNotRoundTripped(t *testing.T) {
	raw := Serialize([]string{""})
	assert.Equal(t, "", raw)
	assert.Empty(t, Parse(raw, 1, "p", 5).Payloads)

	q, _ := newTestQueue(t, KindComment)
	a, err := NewAction("p", 5, "")
	require.NoError(t, err)
	_, err = q.Enqueue(context.Background(), a)
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = q.Replace(context.Background(), a.WithPayloads("x"), []string{""})
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("ab ;;  ;")
	for i := 0; i < 2000; i++ {
		n := 1 + rng.Intn(4)
		payloads := make([]string, n)
		for j := range payloads {
			var b strings.Builder
			for k := 1 + rng.Intn(8); k > 0; k-- {
				b.WriteRune(alphabet[rng.Intn(len(alphabet))])
			}
			payloads[j] = b.String()
		}
		raw := Serialize(payloads)
		require.Equal(t, payloads, Parse(raw, 1, "p", -1).Payloads, "raw=%q", raw)
	}
}
