package jobs

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

	"github.com/fleetworks/api/internal/services"
)

func TestPubSubReportEventPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "report-events")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubReportEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubReportEventPublisher: %v", err)
	}

	occurredAt := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	msg := services.ReportEventMessage{
		EventID:     "01HZXW5T3Y0000000000000000",
		Type:        services.ReportEventCreated,
		ReportID:    "IT-4097-20250310",
		WorkOrderID: "4097",
		Author:      "tech@fleet.example",
		OccurredAt:  occurredAt,
	}

	if _, err := publisher.PublishReportEvent(ctx, msg); err != nil {
		t.Fatalf("PublishReportEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.ReportEventMessage
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ReportID != msg.ReportID || payload.Type != msg.Type {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["eventType"]; attr != services.ReportEventCreated {
		t.Fatalf("expected eventType attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["workOrderId"]; attr != "4097" {
		t.Fatalf("expected workOrderId attribute, got %q", attr)
	}
}

func TestNewPubSubReportEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubReportEventPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
