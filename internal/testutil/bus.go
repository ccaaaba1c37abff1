package testutil

import (
	"context"
	"sync"

	"github.com/HerbHall/netcorrelate/pkg/plugin"
)

var _ plugin.EventBus = (*MockBus)(nil)

// MockBus records published events instead of delivering them. Subscribers
// are never called.
type MockBus struct {
	mu     sync.Mutex
	events []plugin.Event
}

func NewMockBus() *MockBus {
	return &MockBus{}
}

func (b *MockBus) Publish(_ context.Context, event plugin.Event) error {
	b.record(event)
	return nil
}

func (b *MockBus) PublishAsync(_ context.Context, event plugin.Event) {
	b.record(event)
}

func (b *MockBus) Subscribe(_ string, _ plugin.EventHandler) func() {
	return func() {}
}

func (b *MockBus) SubscribeAll(_ plugin.EventHandler) func() {
	return func() {}
}

func (b *MockBus) record(event plugin.Event) {
	b.mu.Lock()
	b.events = append(b.events, event)
	b.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (b *MockBus) Events() []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]plugin.Event, len(b.events))
	copy(out, b.events)
	return out
}

// Topic returns the recorded events published on topic, in order.
func (b *MockBus) Topic(topic string) []plugin.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []plugin.Event
	for _, ev := range b.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

func (b *MockBus) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
