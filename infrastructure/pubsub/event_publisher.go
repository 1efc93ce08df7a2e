package pubsub

import (
	"context"
	"encoding/json"

	"intelliconn/domain/dto"
	"intelliconn/infrastructure/logger"

	"cloud.google.com/go/pubsub"
)

// NewPubSub creates a Pub/Sub client for projectID.
func NewPubSub(ctx context.Context, projectID string) (*pubsub.Client, error) {
	return pubsub.NewClient(ctx, projectID)
}

// EventPublisher forwards dashboard events to a Pub/Sub topic so
// collaborators outside this process (notifications, reporting) see them.
type EventPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	types  map[string]bool
}

// NewEventPublisher publishes only the listed event types; none means all.
func NewEventPublisher(client *pubsub.Client, topicID string, types ...string) *EventPublisher {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &EventPublisher{client: client, topic: client.Topic(topicID), types: allowed}
}

// EnsureTopic creates the topic if it does not exist.
func (p *EventPublisher) EnsureTopic(ctx context.Context) error {
	exists, err := p.topic.Exists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	logger.GetLogger().WithField("topic", p.topic.ID()).Info("Topic doesn't exist - creating it")
	topic, err := p.client.CreateTopic(ctx, p.topic.ID())
	if err != nil {
		return err
	}
	p.topic = topic
	return nil
}

func (p *EventPublisher) Publish(ctx context.Context, ev dto.Event) error {
	if len(p.types) > 0 && !p.types[ev.Type] {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	msg := &pubsub.Message{
		Data:       payload,
		Attributes: map[string]string{"type": ev.Type, "owner_id": ev.OwnerID},
	}
	serverID, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		logger.GetLogger().WithField("error", err).WithField("type", ev.Type).Error("Error while publishing event")
		return err
	}
	logger.GetLogger().WithField("server_id", serverID).WithField("type", ev.Type).Debug("Event published")
	return nil
}

// Stop flushes pending messages.
func (p *EventPublisher) Stop() {
	p.topic.Stop()
}
