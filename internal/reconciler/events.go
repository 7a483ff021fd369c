package reconciler

import (
	"sync"
	"time"

	"appmanager/internal/types"
)

// EventType names what happened
type EventType string

const (
	EventStatus      EventType = "status"
	EventRunStarted  EventType = "run.started"
	EventRunStep     EventType = "run.step"
	EventRunFinished EventType = "run.finished"
)

// Event is published for every state transition and run step.
type Event struct {
	Type  EventType                `json:"type"`
	Time  time.Time                `json:"time"`
	State types.ReconcilerState    `json:"state,omitempty"`
	RunID string                   `json:"runId,omitempty"`
	Step  *types.StepResult        `json:"step,omitempty"`
	Run   *types.ReconciliationRun `json:"run,omitempty"`
}

const subscriberBuffer = 64

// Broadcaster fans events out to subscribers. Publishing never blocks;
// a subscriber whose buffer is full misses events.
type Broadcaster struct {
	mu          sync.Mutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subscribers: make(map[chan Event]struct{})}
}

// Subscribe returns a channel of events and a function that
// unsubscribes and closes it.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber that has room for it
func (b *Broadcaster) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
