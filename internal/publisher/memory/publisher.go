// Package memory contains an in-process publisher for completion events,
// used by tests and by single-node deployments without Pub/Sub.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

const defaultRetain = 1000

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID      string
	Topic   string
	Payload any
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger logs every published event at Info.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithRetain bounds how many recent messages Messages returns. Older ones
// are dropped; IDs keep counting.
func WithRetain(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.retain = n
		}
	}
}

// Publisher keeps the most recent payloads for inspection.
type Publisher struct {
	logger *zap.Logger
	retain int

	mu       sync.RWMutex
	seq      int
	messages []PublishedMessage
}

// New returns a memory Publisher.
func New(opts ...Option) *Publisher {
	p := &Publisher{logger: zap.NewNop(), retain: defaultRetain}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish records the message and returns a sequential ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	p.mu.Lock()
	p.seq++
	id := fmt.Sprintf("memory-%d", p.seq)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, Payload: payload})
	if over := len(p.messages) - p.retain; over > 0 {
		p.messages = append([]PublishedMessage(nil), p.messages[over:]...)
	}
	p.mu.Unlock()

	p.logger.Info("event published", zap.String("topic", topic), zap.String("message_id", id), zap.Any("payload", payload))
	return id, nil
}

// Messages returns the retained publishes, oldest first.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}
