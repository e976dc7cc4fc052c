package stream

import (
	"context"
	"sync"

	"tasksetu-api/domain"
)

// Hub fans activity records out to live subscribers of a task. Slow
// subscribers lose records rather than block the broadcaster.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[chan domain.ActivityRecord]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer < 1 {
		buffer = 1
	}
	return &Hub{buffer: buffer, subs: make(map[string]map[chan domain.ActivityRecord]struct{})}
}

// Subscribe registers interest in taskID. The returned cancel func must be
// called to release the subscription; it closes the channel.
func (h *Hub) Subscribe(taskID string) (<-chan domain.ActivityRecord, func()) {
	ch := make(chan domain.ActivityRecord, h.buffer)
	h.mu.Lock()
	byTask, ok := h.subs[taskID]
	if !ok {
		byTask = make(map[chan domain.ActivityRecord]struct{})
		h.subs[taskID] = byTask
	}
	byTask[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[taskID], ch)
			if len(h.subs[taskID]) == 0 {
				delete(h.subs, taskID)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers rec to every subscriber of its task and reports how many
// received it.
func (h *Hub) Broadcast(rec domain.ActivityRecord) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for ch := range h.subs[rec.TaskID] {
		select {
		case ch <- rec:
			delivered++
		default:
		}
	}
	return delivered
}

// Append lets the hub act as an activity sink when no Redis channel sits
// between the API and its subscribers.
func (h *Hub) Append(ctx context.Context, rec domain.ActivityRecord) error {
	h.Broadcast(rec)
	return nil
}

// Subscribers reports the live subscriber count for taskID.
func (h *Hub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
