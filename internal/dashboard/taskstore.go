package dashboard

import (
	"sync"
	"time"
)

// Item is one urgent or queued task card on the dashboard.
type Item struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Contact     string    `json:"contact,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	Location    string    `json:"location,omitempty"`
	Time        string    `json:"time,omitempty"`
	TaskType    string    `json:"task_type"`
	Priority    string    `json:"priority"`
	Actions     []string  `json:"actions"`
	CreatedAt   time.Time `json:"created_at"`
}

// Update notifies subscribers that a list changed.
type Update struct {
	List string `json:"list"` // "urgent" or "queue"
	Item Item   `json:"item"`
}

// TaskStore holds the dashboard's urgent and queue lists in memory and fans
// out change notifications to subscribers. Slow subscribers miss updates
// rather than blocking writers.
type TaskStore struct {
	mu     sync.Mutex
	urgent []Item
	queue  []Item
	subs   map[chan Update]struct{}
}

func NewTaskStore() *TaskStore {
	return &TaskStore{subs: make(map[chan Update]struct{})}
}

// AddUrgent appends to the urgent list and notifies subscribers.
func (s *TaskStore) AddUrgent(item Item) {
	s.add("urgent", item)
}

// AddQueue appends to the queue list and notifies subscribers.
func (s *TaskStore) AddQueue(item Item) {
	s.add("queue", item)
}

func (s *TaskStore) add(list string, item Item) {
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	s.mu.Lock()
	if list == "urgent" {
		s.urgent = append(s.urgent, item)
	} else {
		s.queue = append(s.queue, item)
	}
	for ch := range s.subs {
		select {
		case ch <- Update{List: list, Item: item}:
		default:
		}
	}
	s.mu.Unlock()
}

// Snapshot returns copies of both lists.
func (s *TaskStore) Snapshot() (urgent, queue []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	urgent = append([]Item(nil), s.urgent...)
	queue = append([]Item(nil), s.queue...)
	return urgent, queue
}

// Subscribe registers a live-update channel. The returned cancel func must be
// called to release it.
func (s *TaskStore) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	cancel := func() {
		s.mu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.mu.Unlock()
	}
	return ch, cancel
}
