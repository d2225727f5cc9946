package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/fleetworks/api/internal/services"
)

// PubSubReportEventPublisher publishes report lifecycle events to a Pub/Sub topic.
type PubSubReportEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubReportEventPublisher constructs a Pub/Sub backed report event publisher.
func NewPubSubReportEventPublisher(topic *pubsub.Topic) (*PubSubReportEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub report event publisher: topic is required")
	}
	return &PubSubReportEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishReportEvent enqueues a report lifecycle event on the configured topic.
func (p *PubSubReportEventPublisher) PublishReportEvent(ctx context.Context, message services.ReportEventMessage) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub report event publisher: not initialised")
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal report event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "eventId", message.EventID)
	setAttr(attrs, "eventType", message.Type)
	setAttr(attrs, "reportId", message.ReportID)
	setAttr(attrs, "workOrderId", message.WorkOrderID)
	setAttr(attrs, "author", message.Author)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish report event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
