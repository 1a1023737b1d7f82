package service

import (
	"sync"

	"github.com/bnema/waveshift/internal/domain"
)

// TaskEvent announces that a stored task changed. It carries no snapshot;
// subscribers re-read the store, which stays the only source of truth.
type TaskEvent struct {
	TaskID string
	Status domain.TaskStatus
}

// EventBus fans task change notices out to status streams in this process so
// they can poll early instead of waiting for the next tick.
type EventBus struct {
	subscribers map[string][]chan TaskEvent
	mu          sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan TaskEvent),
	}
}

func (eb *EventBus) Subscribe(taskID string) chan TaskEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan TaskEvent, 4)
	eb.subscribers[taskID] = append(eb.subscribers[taskID], ch)
	return ch
}

func (eb *EventBus) Unsubscribe(taskID string, ch chan TaskEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	subs := eb.subscribers[taskID]
	for i, sub := range subs {
		if sub == ch {
			eb.subscribers[taskID] = append(subs[:i], subs[i+1:]...)
			close(ch)
			break
		}
	}

	if len(eb.subscribers[taskID]) == 0 {
		delete(eb.subscribers, taskID)
	}
}

func (eb *EventBus) Publish(ev TaskEvent) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	for _, ch := range eb.subscribers[ev.TaskID] {
		select {
		case ch <- ev:
		default:
			// A pending notice already wakes the subscriber.
		}
	}
}

func (eb *EventBus) subscriberCount(taskID string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[taskID])
}
