package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/verifield/api/internal/services"
)

// PubSubSubmissionPublisher publishes submission events to a Pub/Sub topic.
type PubSubSubmissionPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubSubmissionPublisher constructs a Pub/Sub backed submission event publisher.
func NewPubSubSubmissionPublisher(topic *pubsub.Topic) (*PubSubSubmissionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub submission publisher: topic is required")
	}
	return &PubSubSubmissionPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishSubmission enqueues a submission event message on the configured topic.
func (p *PubSubSubmissionPublisher) PublishSubmission(ctx context.Context, event services.SubmissionEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub submission publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal submission event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "employeeId", strconv.FormatInt(event.EmployeeID, 10))
	if event.FallbackUsed {
		attrs["fallbackUsed"] = "true"
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish submission event: %w", err)
	}
	return id, nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
