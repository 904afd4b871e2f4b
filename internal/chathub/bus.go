package chathub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

var (
	ErrBusClosed = errors.New("chathub: bus closed")
	ErrBusFailed = errors.New("chathub: bus subscription lost")
)

// Event is one message on the Bus. Payload is the JSON object written to the
// client as is; Subject names the user an event is about.
type Event struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event.
func NewEvent(eventType, subject string, payload interface{}) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Subject: subject, Payload: raw}, nil
}

// Handler receives events for one subscription. It runs on the publisher's
// goroutine and must not block or call back into the Bus synchronously.
type Handler func(Event)

// Subscription is a live membership of one group.
type Subscription interface {
	Group() Group
	// Err is signalled once if the subscription is lost by the backend.
	Err() <-chan error
	Close() error
}

// Bus is the publish/subscribe substrate between sessions.
type Bus interface {
	Subscribe(ctx context.Context, group Group, h Handler) (Subscription, error)
	Publish(ctx context.Context, group Group, ev Event) error
	Close() error
}

type topic struct {
	// held for the whole delivery so events on one group keep publish order
	mu   sync.Mutex
	subs map[uint64]*memorySubscription
	// ids in subscription order
	order []uint64
}

// MemoryBus is the in-process Bus. Distributed buses embed it for local dispatch.
type MemoryBus struct {
	// serializes membership changes and the hooks; Publish never takes it
	hookMu sync.Mutex

	mu     sync.RWMutex
	topics map[Group]*topic
	nextID uint64
	closed bool

	// called under hookMu, not mu, when a group gains its first or loses its
	// last subscriber. They may block on the network.
	onFirst func(Group) error
	onLast  func(Group)
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{topics: make(map[Group]*topic)}
}

type memorySubscription struct {
	bus     *MemoryBus
	group   Group
	id      uint64
	handler Handler
	errCh   chan error
	once    sync.Once
}

func (s *memorySubscription) Group() Group      { return s.group }
func (s *memorySubscription) Err() <-chan error { return s.errCh }

func (s *memorySubscription) Close() error {
	s.once.Do(func() { s.bus.remove(s) })
	return nil
}

func (s *memorySubscription) fail(err error) {
	select {
	case s.errCh <- err:
	default:
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, group Group, h Handler) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.hookMu.Lock()
	defer b.hookMu.Unlock()

	b.mu.RLock()
	closed := b.closed
	_, exists := b.topics[group]
	b.mu.RUnlock()
	if closed {
		return nil, ErrBusClosed
	}
	if !exists && b.onFirst != nil {
		if err := b.onFirst(group); err != nil {
			return nil, err
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	t, ok := b.topics[group]
	if !ok {
		t = &topic{subs: make(map[uint64]*memorySubscription)}
		b.topics[group] = t
	}

	b.nextID++
	sub := &memorySubscription{
		bus:     b,
		group:   group,
		id:      b.nextID,
		handler: h,
		errCh:   make(chan error, 1),
	}

	t.mu.Lock()
	t.subs[sub.id] = sub
	t.order = append(t.order, sub.id)
	t.mu.Unlock()

	return sub, nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.hookMu.Lock()
	defer b.hookMu.Unlock()

	b.mu.Lock()
	t, ok := b.topics[sub.group]
	if !ok {
		b.mu.Unlock()
		return
	}

	t.mu.Lock()
	delete(t.subs, sub.id)
	for i, id := range t.order {
		if id == sub.id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	empty := len(t.subs) == 0
	t.mu.Unlock()

	if empty {
		delete(b.topics, sub.group)
	}
	closed := b.closed
	b.mu.Unlock()

	if empty && b.onLast != nil && !closed {
		b.onLast(sub.group)
	}
}

// Publish delivers ev to every current subscriber of group before returning.
func (b *MemoryBus) Publish(ctx context.Context, group Group, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrBusClosed
	}
	t, ok := b.topics[group]
	b.mu.RUnlock()
	if !ok {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range t.order {
		if sub, ok := t.subs[id]; ok {
			sub.handler(ev)
		}
	}
	return nil
}

// Subscribers returns the number of subscriptions on group.
func (b *MemoryBus) Subscribers(group Group) int {
	b.mu.RLock()
	t, ok := b.topics[group]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Groups returns the number of groups with at least one subscriber.
func (b *MemoryBus) Groups() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// failAll signals every live subscription that the backend is gone.
func (b *MemoryBus) failAll(err error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, t := range b.topics {
		t.mu.Lock()
		for _, sub := range t.subs {
			sub.fail(err)
		}
		t.mu.Unlock()
	}
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
