package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByType(t *testing.T) {
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	skips, unsubSkips := b.Subscribe(4, CycleSkipped)
	defer unsubSkips()

	b.Publish(Event{Type: CycleFinished, Data: "a"})
	b.Publish(Event{Type: CycleSkipped, Data: "b"})

	require.Len(t, all, 2)
	require.Len(t, skips, 1)
	e := <-skips
	assert.Equal(t, "b", e.Data)
	assert.False(t, e.Time.IsZero())
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	for i := 0; i < 5; i++ {
		b.Publish(Event{Type: WindowRollover})
	}
	assert.Equal(t, uint64(4), b.Dropped())
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	assert.False(t, ok)
	b.Publish(Event{Type: CycleFailed})
}
