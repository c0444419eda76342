// Package memory implements an in-process publisher that records article
// events for tests and runs without a broker.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// Message captures one recorded publish call.
type Message struct {
	Topic   string
	Payload any
}

// Publisher collects published events in order.
type Publisher struct {
	mu       sync.RWMutex
	recorded []Message
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish implements news.Publisher by appending the event to the record.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, Message{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", len(p.recorded)), nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Message, len(p.recorded))
	copy(out, p.recorded)
	return out
}

// Len reports the number of recorded publishes.
func (p *Publisher) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.recorded)
}
