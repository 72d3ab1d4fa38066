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

	"github.com/verifield/api/internal/services"
)

func TestPubSubSubmissionPublisherPublishesMessage(t *testing.T) {
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

	topic, err := client.CreateTopic(ctx, "submissions")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubSubmissionPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubSubmissionPublisher: %v", err)
	}

	submittedAt := time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC)
	event := services.SubmissionEvent{
		EmployeeID:   1042,
		Email:        "jane.smith@globex.com",
		SubmittedAt:  submittedAt,
		FallbackUsed: true,
		Corrected:    1,
	}

	if _, err := publisher.PublishSubmission(ctx, event); err != nil {
		t.Fatalf("PublishSubmission: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.SubmissionEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EmployeeID != event.EmployeeID || payload.Email != event.Email {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if payload.Corrected != 1 {
		t.Fatalf("unexpected corrected count %d", payload.Corrected)
	}
	if attr := messages[0].Attributes["employeeId"]; attr != "1042" {
		t.Fatalf("expected employeeId attribute, got %q", attr)
	}
	if attr := messages[0].Attributes["fallbackUsed"]; attr != "true" {
		t.Fatalf("expected fallbackUsed attribute, got %q", attr)
	}
}

func TestNewPubSubSubmissionPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubSubmissionPublisher(nil); err == nil {
		t.Fatal("expected error for nil topic")
	}
}
