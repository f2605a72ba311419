package bus

import (
	"sync"
	"sync/atomic"
)

// MemoryBus implements MessageBus using in-memory channels.
// Useful for testing and single-process sessions.
type MemoryBus struct {
	config Config

	mu     sync.RWMutex
	subs   map[string][]*memorySub // filter key -> subscribers
	closed atomic.Bool
}

type memorySub struct {
	topic  string
	kind   string
	ch     chan *Message
	closed atomic.Bool
	bus    *MemoryBus
}

// NewMemoryBus creates a new in-memory message bus.
func NewMemoryBus(cfg Config) *MemoryBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &MemoryBus{
		config: cfg,
		subs:   make(map[string][]*memorySub),
	}
}

// Publish sends a message to all current subscribers of (topic, kind).
func (b *MemoryBus) Publish(topic, kind string, data []byte) error {
	if err := ValidateFilter(topic, kind); err != nil {
		return err
	}
	if b.closed.Load() {
		return ErrClosed
	}

	msg := &Message{
		Topic: topic,
		Kind:  kind,
		Data:  data,
	}

	b.mu.RLock()
	subs := b.subs[filterKey(topic, kind)]
	b.mu.RUnlock()

	for _, sub := range subs {
		if !sub.closed.Load() {
			select {
			case sub.ch <- msg:
			default:
				// Buffer full, drop message
			}
		}
	}

	return nil
}

// Subscribe creates a subscription to a (topic, kind) pair.
func (b *MemoryBus) Subscribe(topic, kind string) (Subscription, error) {
	if err := ValidateFilter(topic, kind); err != nil {
		return nil, err
	}
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		topic: topic,
		kind:  kind,
		ch:    make(chan *Message, b.config.BufferSize),
		bus:   b,
	}

	key := filterKey(topic, kind)
	b.mu.Lock()
	b.subs[key] = append(b.subs[key], sub)
	b.mu.Unlock()

	return sub, nil
}

// Close shuts down the bus.
func (b *MemoryBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.subs {
		for _, sub := range subs {
			sub.closed.Store(true)
			close(sub.ch)
		}
	}
	b.subs = nil

	return nil
}

// Messages returns the message channel.
func (s *memorySub) Messages() <-chan *Message {
	return s.ch
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Swap(true) {
		return nil
	}

	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()

	if s.bus.subs != nil {
		s.bus.removeSub(filterKey(s.topic, s.kind), s)
	}

	close(s.ch)
	return nil
}

// removeSub removes a subscription from the filter key's list.
func (b *MemoryBus) removeSub(key string, target *memorySub) {
	subs := b.subs[key]
	for i, sub := range subs {
		if sub == target {
			b.subs[key] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}
