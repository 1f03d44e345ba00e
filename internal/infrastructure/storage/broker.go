package storage

import "sync"

// UpdateKind tags a post-commit notification.
type UpdateKind string

const (
	UpdateEntity       UpdateKind = "entity"
	UpdateEventMessage UpdateKind = "event_message"
	UpdateModel        UpdateKind = "model"
)

// Update is published after the batch containing the mutation commits.
type Update struct {
	Kind     UpdateKind
	ID       string
	ModelTag string
}

// Broker fans committed updates out to subscribers. Slow subscribers drop
// updates instead of blocking the executor.
type Broker struct {
	mu   sync.Mutex
	subs map[int]chan Update
	next int
}

func NewBroker() *Broker {
	return &Broker{subs: map[int]chan Update{}}
}

// Subscribe registers a buffered subscription. The returned cancel func
// closes the channel.
func (b *Broker) Subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan Update, 256)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Publish delivers the update to every subscriber without blocking.
func (b *Broker) Publish(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
