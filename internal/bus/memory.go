package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Bus with the same at-most-once semantics as the
// Redis implementation: a full subscriber buffer drops the message rather
// than blocking the publisher. Used by tests and single-binary deployments.
type Memory struct {
	mu   sync.RWMutex
	subs map[string][]*memorySub
}

type memorySub struct {
	mu     sync.Mutex
	ch     chan Message
	closed bool
}

func (s *memorySub) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- msg:
	default:
		// subscriber buffer full: drop, matching pub/sub semantics
	}
}

func (s *memorySub) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subs: make(map[string][]*memorySub)}
}

// Publish marshals v and delivers it to every current subscriber of channel.
func (m *Memory) Publish(_ context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", channel, err)
	}

	m.mu.RLock()
	subs := append([]*memorySub(nil), m.subs[channel]...)
	m.mu.RUnlock()

	for _, s := range subs {
		s.deliver(Message{Channel: channel, Payload: data})
	}
	return nil
}

// Subscribe registers a consumer for the given channels. The returned channel
// closes when ctx is cancelled.
func (m *Memory) Subscribe(ctx context.Context, channels ...string) (<-chan Message, error) {
	sub := &memorySub{ch: make(chan Message, subscribeBufferSize)}

	m.mu.Lock()
	for _, c := range channels {
		m.subs[c] = append(m.subs[c], sub)
	}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		for _, c := range channels {
			list := m.subs[c]
			for i, s := range list {
				if s == sub {
					m.subs[c] = append(list[:i], list[i+1:]...)
					break
				}
			}
		}
		m.mu.Unlock()
		sub.close()
	}()

	return sub.ch, nil
}

// Close is a no-op for the in-process bus.
func (m *Memory) Close() error { return nil }
