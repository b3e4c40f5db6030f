package ports

import (
	"context"

	"github.com/paklog/wes-orchestration-engine/internal/domain"
)

// EventPublisher delivers domain events with at-least-once semantics.
// Consumers deduplicate on the event id.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	PublishToTopic(ctx context.Context, topic string, event domain.Event) error
}
