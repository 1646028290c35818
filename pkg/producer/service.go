package producer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stockflow/platform/pkg/inventory"
)

// Service is the producer-side entry point: it completes the message
// (correlation id, timestamp, priority defaults), validates it, embeds the
// integrity hash, routes it and hands it to the tracker for the audited send.
type Service struct {
	router  *Router
	tracker *Tracker
}

func NewService(router *Router, tracker *Tracker) *Service {
	return &Service{router: router, tracker: tracker}
}

func (s *Service) Publish(ctx context.Context, msg inventory.StockMessage) (*PublicationRecord, error) {
	if msg.CorrelationID == "" {
		msg.CorrelationID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Priority == "" {
		msg.Priority = inventory.PriorityNormal
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}

	msg.Hash = inventory.Hash(&msg)

	topic := s.router.TargetTopic(&msg)
	key := s.router.PartitionKey(&msg)

	return s.tracker.Publish(ctx, &msg, topic, key)
}
