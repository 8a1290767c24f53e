package notifications

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/bloomora/api/internal/domain"
	"github.com/bloomora/api/internal/services"
)

func TestPubSubOrderNotifierPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "order-notifications")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	notifier, err := NewPubSubOrderNotifier(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderNotifier: %v", err)
	}

	occurredAt := time.Date(2025, 8, 7, 14, 32, 0, 0, time.UTC)
	notification := services.OrderNotification{
		Kind:           "order.status.changed",
		OrderID:        "ord_test",
		OrderNumber:    "BO-250807-1432-059-9F3A21BC",
		BuyerID:        "buyer-1",
		BuyerEmail:     "buyer@example.com",
		PreviousStatus: domain.OrderStatusPending,
		CurrentStatus:  domain.OrderStatusConfirmed,
		ActorID:        "admin-1",
		OccurredAt:     occurredAt,
	}

	if err := notifier.SendOrderNotification(ctx, notification); err != nil {
		t.Fatalf("SendOrderNotification: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload orderNotificationMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != notification.OrderID || payload.CurrentStatus != "CONFIRMED" {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderNumber"]; attr != notification.OrderNumber {
		t.Fatalf("expected order number attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["kind"]; attr != "order.status.changed" {
		t.Fatalf("expected kind attribute, got %q", attr)
	}
}
