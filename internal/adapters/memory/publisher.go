package memory

import (
	"context"
	"sync"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// Publisher records published events in order. Used as the default publisher
// in tests and single-process deployments.
type Publisher struct {
	mu     sync.Mutex
	events []domain.Event
	topics map[string][]domain.Event
	fail   error
}

func NewPublisher() *Publisher {
	return &Publisher{topics: make(map[string][]domain.Event)}
}

func (p *Publisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, event)
	return nil
}

func (p *Publisher) PublishToTopic(_ context.Context, topic string, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.fail != nil {
		return p.fail
	}
	p.events = append(p.events, event)
	p.topics[topic] = append(p.topics[topic], event)
	return nil
}

func (p *Publisher) Events() []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.events...)
}

func (p *Publisher) EventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Metadata().EventType)
	}
	return out
}

func (p *Publisher) TopicEvents(topic string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Event(nil), p.topics[topic]...)
}

func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = err
}

func (p *Publisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
	p.topics = make(map[string][]domain.Event)
	p.fail = nil
}
