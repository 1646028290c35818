package producer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	commonkafka "github.com/stockflow/platform/pkg/common/kafka"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
	"github.com/stockflow/platform/pkg/observability/metrics"
	"gorm.io/datatypes"
)

type RecordStore interface {
	Create(ctx context.Context, rec *PublicationRecord) error
	Update(ctx context.Context, rec *PublicationRecord) error
}

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte, headers ...kafkago.Header) (*commonkafka.Ack, error)
}

// Tracker records the full lifecycle of every publish attempt and fires the
// low-stock alert sub-flow after a successful send.
type Tracker struct {
	store     RecordStore
	publisher Publisher

	alertsTopic       string
	lowStockThreshold int
	producerID        string
	alertAttempts     int
	alertDelay        time.Duration
}

func NewTracker(store RecordStore, publisher Publisher, alertsTopic, producerID string, lowStockThreshold, alertAttempts int, alertDelay time.Duration) *Tracker {
	return &Tracker{
		store:             store,
		publisher:         publisher,
		alertsTopic:       alertsTopic,
		lowStockThreshold: lowStockThreshold,
		producerID:        producerID,
		alertAttempts:     alertAttempts,
		alertDelay:        alertDelay,
	}
}

// Publish sends the message and audits the attempt: a SENT record goes in
// before the write, then transitions to ACKNOWLEDGED or FAILED once the
// broker responds. The record's hash is the 16-char trace prefix; the full
// digest travels inside the message for consumer-side integrity checks.
func (t *Tracker) Publish(ctx context.Context, msg *inventory.StockMessage, topic, key string) (*PublicationRecord, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshalling stock message: %w", err)
	}

	shortHash := inventory.ShortHash(msg)
	rec := &PublicationRecord{
		PublicationID:    uuid.New().String(),
		MessageHash:      shortHash,
		TopicName:        topic,
		CorrelationID:    msg.CorrelationID,
		ProductID:        msg.ProductID,
		Operation:        string(msg.Operation),
		MessageSizeBytes: len(payload),
		SentAt:           time.Now().UTC(),
		Status:           StatusSent,
		ProducerID:       t.producerID,
		Payload:          datatypes.JSON(payload),
	}
	if err := t.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persisting publication record: %w", err)
	}

	entry := logger.WithMessage(msg.CorrelationID, shortHash).WithFields(map[string]interface{}{
		"publication_id": rec.PublicationID,
		"topic":          topic,
		"partition_key":  key,
		"operation":      msg.Operation,
	})
	entry.Info("Publishing stock message")

	ack, pubErr := t.publisher.Publish(ctx, topic, key, payload)

	now := time.Now().UTC()
	rec.AcknowledgedAt = &now
	rec.ProcessingTimeMs = now.Sub(rec.SentAt).Milliseconds()

	if pubErr != nil {
		rec.Status = StatusFailed
		rec.ErrorMessage = pubErr.Error()
		if err := t.store.Update(ctx, rec); err != nil {
			logger.Log.WithError(err).Error("Failed to finalize publication record")
		}
		entry.WithError(pubErr).Error("Broker rejected stock message")
		metrics.IncPublishFailed()
		return rec, pubErr
	}

	rec.Status = StatusAcknowledged
	rec.Partition = &ack.Partition
	rec.Offset = &ack.Offset
	rec.BrokerResponse = fmt.Sprintf("partition=%d offset=%d", ack.Partition, ack.Offset)
	if err := t.store.Update(ctx, rec); err != nil {
		logger.Log.WithError(err).Error("Failed to finalize publication record")
	}

	entry.WithFields(map[string]interface{}{
		"partition":          ack.Partition,
		"offset":             ack.Offset,
		"processing_time_ms": rec.ProcessingTimeMs,
	}).Info("Stock message acknowledged by broker")
	metrics.IncPublished()

	if t.lowStockEligible(msg) {
		go t.publishLowStockAlert(context.Background(), msg, key)
	}

	return rec, nil
}

// lowStockEligible: transfers move stock between branches without changing
// the total, so they never raise an alert.
func (t *Tracker) lowStockEligible(msg *inventory.StockMessage) bool {
	return msg.Operation != inventory.OperationTransfer && msg.Quantity < t.lowStockThreshold
}

type lowStockAlert struct {
	CorrelationID      string    `json:"correlationId"`
	ProductID          string    `json:"productId"`
	DistributionCenter string    `json:"distributionCenter"`
	Branch             string    `json:"branch"`
	Quantity           int       `json:"quantity"`
	Threshold          int       `json:"threshold"`
	TriggeredBy        string    `json:"triggeredBy"`
	Timestamp          time.Time `json:"timestamp"`
}

// publishLowStockAlert runs the secondary alert publish with its own audit
// record. Failures here are logged and absorbed; the primary publication has
// already succeeded and must not be affected.
func (t *Tracker) publishLowStockAlert(ctx context.Context, msg *inventory.StockMessage, key string) {
	alert := lowStockAlert{
		CorrelationID:      msg.CorrelationID,
		ProductID:          msg.ProductID,
		DistributionCenter: msg.DistributionCenter,
		Branch:             msg.Branch,
		Quantity:           msg.Quantity,
		Threshold:          t.lowStockThreshold,
		TriggeredBy:        string(msg.Operation),
		Timestamp:          time.Now().UTC(),
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to marshal low-stock alert")
		return
	}

	rec := &PublicationRecord{
		PublicationID:    uuid.New().String(),
		MessageHash:      inventory.ShortHash(msg),
		TopicName:        t.alertsTopic,
		CorrelationID:    msg.CorrelationID,
		ProductID:        msg.ProductID,
		Operation:        "LOW_STOCK_ALERT",
		MessageSizeBytes: len(payload),
		SentAt:           time.Now().UTC(),
		Status:           StatusSent,
		ProducerID:       t.producerID,
		Payload:          datatypes.JSON(payload),
	}
	if err := t.store.Create(ctx, rec); err != nil {
		logger.Log.WithError(err).Error("Failed to persist alert publication record")
		return
	}

	entry := logger.WithMessage(msg.CorrelationID, rec.MessageHash).WithFields(map[string]interface{}{
		"publication_id": rec.PublicationID,
		"topic":          t.alertsTopic,
		"quantity":       msg.Quantity,
		"threshold":      t.lowStockThreshold,
	})

	var ack *commonkafka.Ack
	var pubErr error
	for attempt := 0; attempt <= t.alertAttempts; attempt++ {
		ack, pubErr = t.publisher.Publish(ctx, t.alertsTopic, key, payload)
		if pubErr == nil {
			break
		}

		rec.Status = StatusRetrying
		rec.RetryCount = attempt + 1
		rec.ErrorMessage = pubErr.Error()
		if err := t.store.Update(ctx, rec); err != nil {
			logger.Log.WithError(err).Error("Failed to update alert publication record")
		}
		entry.WithError(pubErr).WithField("attempt", attempt+1).Warn("Low-stock alert publish failed, retrying")

		select {
		case <-time.After(t.alertDelay):
		case <-ctx.Done():
			pubErr = ctx.Err()
			attempt = t.alertAttempts
		}
	}

	now := time.Now().UTC()
	rec.AcknowledgedAt = &now
	rec.ProcessingTimeMs = now.Sub(rec.SentAt).Milliseconds()

	if pubErr != nil {
		rec.Status = StatusFailed
		rec.ErrorMessage = pubErr.Error()
		entry.WithError(pubErr).Error("Low-stock alert publish gave up")
		metrics.IncAlertFailed()
	} else {
		rec.Status = StatusAcknowledged
		rec.Partition = &ack.Partition
		rec.Offset = &ack.Offset
		rec.BrokerResponse = fmt.Sprintf("partition=%d offset=%d", ack.Partition, ack.Offset)
		entry.Info("Low-stock alert published")
		metrics.IncAlertPublished()
	}

	if err := t.store.Update(ctx, rec); err != nil {
		logger.Log.WithError(err).Error("Failed to finalize alert publication record")
	}
}
