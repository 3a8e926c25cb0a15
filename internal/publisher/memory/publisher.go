// Package memory records published messages in process memory. The dev
// profile and tests run against it instead of a real broker.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage is one recorded Publish call.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher appends every publish to an in-memory log.
type Publisher struct {
	mu  sync.Mutex
	seq int
	log []PublishedMessage
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the payload as-is, without serializing it, and returns a
// synthetic message id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.log = append(p.log, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", p.seq), nil
}

// Messages returns a copy of the recorded publishes in publish order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PublishedMessage(nil), p.log...)
}

// Last returns the most recent publish.
func (p *Publisher) Last() (PublishedMessage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.log) == 0 {
		return PublishedMessage{}, false
	}
	return p.log[len(p.log)-1], true
}
