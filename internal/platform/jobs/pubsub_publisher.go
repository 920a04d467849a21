package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/till/internal/platform/textutil"
	"github.com/hanko-field/till/internal/services"
)

// shiftEventMessage is the JSON wire format of a shift lifecycle event.
type shiftEventMessage struct {
	Type           string    `json:"type"`
	ShiftID        string    `json:"shiftId"`
	RegisterID     string    `json:"registerId"`
	Status         string    `json:"status"`
	OpeningCash    int64     `json:"openingCash"`
	ExpectedCash   int64     `json:"expectedCash"`
	CountedCash    *int64    `json:"countedCash,omitempty"`
	CashDifference *int64    `json:"cashDifference,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// PubSubShiftEventPublisher publishes shift lifecycle events to a Pub/Sub topic.
type PubSubShiftEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.ShiftEventPublisher = (*PubSubShiftEventPublisher)(nil)

// NewPubSubShiftEventPublisher constructs a Pub/Sub backed shift event publisher.
func NewPubSubShiftEventPublisher(topic *pubsub.Topic) (*PubSubShiftEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub shift event publisher: topic is required")
	}
	return &PubSubShiftEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishShiftEvent sends the event and waits for the server-assigned message id. Messages are
// ordered per register so consumers observe open before close.
func (p *PubSubShiftEventPublisher) PublishShiftEvent(ctx context.Context, event services.ShiftEvent) (string, error) {
	if p == nil || p.topic == nil {
		return "", errors.New("pubsub shift event publisher: not initialised")
	}

	data, err := p.marshal(shiftEventMessage{
		Type:           event.Type,
		ShiftID:        event.ShiftID,
		RegisterID:     event.RegisterID,
		Status:         string(event.Status),
		OpeningCash:    event.OpeningCash,
		ExpectedCash:   event.ExpectedCash,
		CountedCash:    event.CountedCash,
		CashDifference: event.CashDifference,
		OccurredAt:     event.OccurredAt.UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal shift event: %w", err)
	}

	msg := &pubsub.Message{
		Data: data,
		Attributes: textutil.CompactAttributes(map[string]string{
			"eventType":  event.Type,
			"shiftId":    event.ShiftID,
			"registerId": event.RegisterID,
			"status":     string(event.Status),
		}),
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = event.RegisterID
	}

	id, err := p.topic.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return "", fmt.Errorf("publish shift event: %w", err)
	}
	return id, nil
}
