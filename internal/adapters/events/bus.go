package events

import (
	"context"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// Bus is an in-process publisher with type- and topic-based subscriptions.
// Delivery is at-least-once from the caller's perspective; subscribers
// deduplicate on the event id.
type Bus struct {
	logger *slog.Logger

	mu            sync.RWMutex
	subscriptions map[string]map[string]func(domain.Event)
	topics        map[string]map[string]func(domain.Event)
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	return &Bus{
		logger:        logger.With("component", "event-bus"),
		subscriptions: make(map[string]map[string]func(domain.Event)),
		topics:        make(map[string]map[string]func(domain.Event)),
	}
}

// Subscribe registers a handler for one event type; an empty type receives
// everything. The returned function removes the subscription.
func (b *Bus) Subscribe(eventType string, handler func(domain.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	if b.subscriptions[eventType] == nil {
		b.subscriptions[eventType] = make(map[string]func(domain.Event))
	}
	b.subscriptions[eventType][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscriptions[eventType], id)
	}
}

// SubscribeTopic registers a handler for a named topic.
func (b *Bus) SubscribeTopic(topic string, handler func(domain.Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string]func(domain.Event))
	}
	b.topics[topic][id] = handler

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.topics[topic], id)
	}
}

func (b *Bus) Publish(_ context.Context, event domain.Event) error {
	meta := event.Metadata()

	b.mu.RLock()
	handlers := collect(b.subscriptions[meta.EventType], b.subscriptions[""])
	b.mu.RUnlock()

	b.logDelivery(event, len(handlers))
	for _, h := range handlers {
		h(event)
	}
	return nil
}

func (b *Bus) PublishToTopic(ctx context.Context, topic string, event domain.Event) error {
	b.mu.RLock()
	handlers := collect(b.topics[topic])
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
	return b.Publish(ctx, event)
}

func (b *Bus) logDelivery(event domain.Event, handlers int) {
	if !b.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		payload = []byte("{}")
	}

	meta := event.Metadata()
	b.logger.Debug("event published",
		"event_id", meta.EventID,
		"event_type", meta.EventType,
		"aggregate_id", meta.AggregateID,
		"handlers", handlers,
		"payload", string(payload),
	)
}

func collect(sets ...map[string]func(domain.Event)) []func(domain.Event) {
	var out []func(domain.Event)
	for _, set := range sets {
		for _, h := range set {
			out = append(out, h)
		}
	}
	return out
}
