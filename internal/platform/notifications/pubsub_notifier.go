package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/bloomora/api/internal/services"
)

// PubSubOrderNotifier publishes order notifications to a Pub/Sub topic
// consumed by the mail worker. Delivery is at-least-once; consumers key on
// the order id plus kind for deduplication.
type PubSubOrderNotifier struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubOrderNotifier constructs a Pub/Sub backed order notifier.
func NewPubSubOrderNotifier(topic *pubsub.Topic) (*PubSubOrderNotifier, error) {
	if topic == nil {
		return nil, errors.New("pubsub order notifier: topic is required")
	}
	return &PubSubOrderNotifier{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

type orderNotificationMessage struct {
	Kind           string         `json:"kind"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	BuyerID        string         `json:"buyerId"`
	BuyerEmail     string         `json:"buyerEmail,omitempty"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SendOrderNotification enqueues one notification message on the configured topic.
func (p *PubSubOrderNotifier) SendOrderNotification(ctx context.Context, notification services.OrderNotification) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order notifier: not initialised")
	}

	data, err := p.marshal(orderNotificationMessage{
		Kind:           notification.Kind,
		OrderID:        notification.OrderID,
		OrderNumber:    notification.OrderNumber,
		BuyerID:        notification.BuyerID,
		BuyerEmail:     notification.BuyerEmail,
		PreviousStatus: string(notification.PreviousStatus),
		CurrentStatus:  string(notification.CurrentStatus),
		ActorID:        notification.ActorID,
		OccurredAt:     notification.OccurredAt.UTC(),
		Metadata:       notification.Metadata,
	})
	if err != nil {
		return fmt.Errorf("marshal order notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "kind", notification.Kind)
	setAttr(attrs, "orderId", notification.OrderID)
	setAttr(attrs, "orderNumber", notification.OrderNumber)
	setAttr(attrs, "status", string(notification.CurrentStatus))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish order notification: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
