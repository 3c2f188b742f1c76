package chat

import "sync"

const subscriberBuffer = 64

// Bus fans published messages out to every subscribed session except the
// origin. Publish never blocks: a subscriber whose buffer is full misses
// the message instead of stalling everyone else. A subscriber that keeps
// up sees messages in publish order. Nothing is persisted; messages
// published before a subscription exists are never seen by it.
type Bus struct {
	mu     sync.RWMutex
	subs   map[SessionID]chan ChatMessage
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[SessionID]chan ChatMessage)}
}

// Subscribe registers a receiver for the given session. The returned
// channel is closed by Unsubscribe or Close; on a closed bus it comes back
// already closed.
func (b *Bus) Subscribe(id SessionID) <-chan ChatMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		ch := make(chan ChatMessage)
		close(ch)
		return ch
	}
	ch := make(chan ChatMessage, subscriberBuffer)
	b.subs[id] = ch
	return ch
}

// Unsubscribe tears down the session's subscription. Idempotent.
func (b *Bus) Unsubscribe(id SessionID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers msg to every subscriber except its origin. A send that
// would block is dropped for that subscriber only.
func (b *Bus) Publish(msg ChatMessage) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		if id == msg.Origin {
			continue
		}
		select {
		case ch <- msg:
		default:
			DroppedDeliveries.Inc()
		}
	}
}

// Close drops every subscription. Later publishes go nowhere.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
