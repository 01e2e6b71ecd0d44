package broker

import (
	"context"
	"sync"

	"github.com/pulp/tasking"
)

var _ Broker = (*Memory)(nil)

// Memory is an in-process Broker. Queues are unbounded.
type Memory struct {
	mu     sync.Mutex
	queues map[string][]*Message
	wake   map[string]chan struct{}
	closed bool
	done   chan struct{}
}

// NewMemory returns an empty in-process broker.
func NewMemory() *Memory {
	return &Memory{
		queues: make(map[string][]*Message),
		wake:   make(map[string]chan struct{}),
		done:   make(chan struct{}),
	}
}

// Publish appends msg to queue and wakes its consumers.
func (b *Memory) Publish(_ context.Context, queue string, msg *Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return tasking.ErrBrokerClosed
	}
	cp := *msg
	b.queues[queue] = append(b.queues[queue], &cp)
	if ch, ok := b.wake[queue]; ok {
		close(ch)
		delete(b.wake, queue)
	}
	return nil
}

// Consume removes and returns the oldest message on queue, blocking until
// one is published.
func (b *Memory) Consume(ctx context.Context, queue string) (*Message, error) {
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, tasking.ErrBrokerClosed
		}
		if q := b.queues[queue]; len(q) > 0 {
			msg := q[0]
			q[0] = nil
			b.queues[queue] = q[1:]
			b.mu.Unlock()
			return msg, nil
		}
		ch, ok := b.wake[queue]
		if !ok {
			ch = make(chan struct{})
			b.wake[queue] = ch
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.done:
			return nil, tasking.ErrBrokerClosed
		case <-ch:
		}
	}
}

// Len returns the number of messages waiting on queue.
func (b *Memory) Len(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Peek returns a copy of the messages waiting on queue, oldest first.
func (b *Memory) Peek(queue string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Message, len(b.queues[queue]))
	for i, m := range b.queues[queue] {
		cp := *m
		out[i] = &cp
	}
	return out
}

// Close unblocks all consumers. Further calls return ErrBrokerClosed.
func (b *Memory) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.done)
	}
	return nil
}
