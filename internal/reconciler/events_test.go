package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcasterDelivers(t *testing.T) {
	b := NewBroadcaster()
	a, unsubA := b.Subscribe()
	c, unsubC := b.Subscribe()
	defer unsubC()
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(Event{Type: EventStatus, State: "idle"})

	evA := <-a
	evC := <-c
	assert.Equal(t, EventStatus, evA.Type)
	assert.False(t, evA.Time.IsZero())
	assert.Equal(t, evA, evC)

	unsubA()
	unsubA()
	_, open := <-a
	assert.False(t, open)
	assert.Equal(t, 1, b.Subscribers())
}

func TestBroadcasterDropsForSlowSubscriber(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(Event{Type: EventRunStep})
	}
	require.Len(t, ch, subscriberBuffer)
}
