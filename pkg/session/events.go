package session

import (
	"log"
	"sync"
	"time"
)

// EventType identifies the kind of event a session publishes.
type EventType int

const (
	EventStateChange EventType = iota
	EventBlockAdded
	EventBlockUpdated
	EventBlocksCleared
	EventPartial
	EventSummaryUpdated
	EventInsightAdded
	EventTaskSuggested
	EventCostUpdated
	EventStatus
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventStateChange:
		return "state-change"
	case EventBlockAdded:
		return "block-added"
	case EventBlockUpdated:
		return "block-updated"
	case EventBlocksCleared:
		return "blocks-cleared"
	case EventPartial:
		return "partial"
	case EventSummaryUpdated:
		return "summary-updated"
	case EventInsightAdded:
		return "insight-added"
	case EventTaskSuggested:
		return "task-suggested"
	case EventCostUpdated:
		return "cost-updated"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one message published to session subscribers. Payload holds
// the typed value for the event kind: *TranscriptBlock for block events,
// PartialUpdate for partials, *Summary, *Insight, *TaskSuggestion,
// CostSnapshot, or string for state/status/error.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   any
}

// PartialUpdate is the payload of EventPartial. An empty Text clears the
// previous partial for the source.
type PartialUpdate struct {
	Source string
	Text   string
}

// Bus fans events out to subscriber channels. Publishes never block: a
// subscriber that falls behind loses events rather than stalling the
// session.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]chan Event)}
}

// Subscribe registers ch for one event type. The same channel may be
// registered for several types.
func (b *Bus) Subscribe(t EventType, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[t] = append(b.subs[t], ch)
}

// SubscribeAll registers ch for every event type.
func (b *Bus) SubscribeAll(ch chan Event) {
	for t := EventStateChange; t <= EventError; t++ {
		b.Subscribe(t, ch)
	}
}

// Unsubscribe removes ch from one event type.
func (b *Bus) Unsubscribe(t EventType, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[t]
	for i, sub := range subs {
		if sub == ch {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every subscriber of its type.
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[evt.Type]
	b.mu.RUnlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			log.Printf("[Bus] Subscriber full, dropping %s event", evt.Type)
		}
	}
}
