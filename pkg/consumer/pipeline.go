package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	commonkafka "github.com/stockflow/platform/pkg/common/kafka"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
	"github.com/stockflow/platform/pkg/observability/metrics"
	"gorm.io/datatypes"
)

type logEntry = *logrus.Entry

// Pipeline is the listener entry point. Each delivery runs, in order: parse,
// integrity check, duplicate check, expiry check, then async business
// processing with the acknowledgment deferred to the async unit's completion.
// Only parse failures are acked on the spot (a malformed payload never parses
// on retry); integrity failures go back through the retry topics.
type Pipeline struct {
	store       Store
	processor   *Processor
	exec        *Executor
	maxAttempts int
}

func NewPipeline(store Store, processor *Processor, exec *Executor, maxAttempts int) *Pipeline {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &Pipeline{store: store, processor: processor, exec: exec, maxAttempts: maxAttempts}
}

// Handle implements commonkafka.Handler for every subscribed topic.
func (p *Pipeline) Handle(ctx context.Context, d commonkafka.Delivery) error {
	metrics.IncConsumed()
	transportID := fmt.Sprintf("%s-%d-%d", d.Topic, d.Partition, d.Offset)
	entry := logger.WithField("transport_id", transportID)

	var msg inventory.StockMessage
	if err := json.Unmarshal(d.Value, &msg); err != nil {
		return p.handlePoison(ctx, d, entry.WithError(err), err)
	}

	log := &ConsumptionLog{
		CorrelationID: msg.CorrelationID,
		Topic:         d.Topic,
		Partition:     d.Partition,
		Offset:        d.Offset,
		ProductID:     msg.ProductID,
		Quantity:      msg.Quantity,
		Price:         msg.Price,
		Operation:     string(msg.Operation),
		MessageHash:   msg.Hash,
		ConsumedAt:    time.Now().UTC(),
		RetryCount:    d.Attempt,
		Priority:      msg.Priority,
		Status:        StatusReceived,
	}
	if err := p.store.Save(ctx, log); err != nil {
		// No audit row yet: leave unacked so the group redelivers.
		entry.WithError(err).Error("Failed to persist consumption log")
		return fmt.Errorf("persisting consumption log: %w", err)
	}

	entry = entry.WithFields(map[string]interface{}{
		"correlation_id": msg.CorrelationID,
		"message_hash":   msg.Hash,
		"attempt":        d.Attempt,
	})

	// Integrity: recompute from the received payload's own fields, timestamp
	// included. Comparing against a hash recomputed with wall-clock time
	// would fail every message.
	computed := inventory.Hash(&msg)
	if msg.Hash == "" || computed != msg.Hash {
		return p.handleIntegrityFailure(ctx, d, log, entry, computed)
	}

	seen, err := p.store.IsMessageAlreadyProcessed(ctx, msg.CorrelationID, msg.Hash)
	if err != nil {
		entry.WithError(err).Error("Duplicate lookup failed")
		p.markFailed(ctx, log, "duplicate lookup failed: "+err.Error(), "")
		return fmt.Errorf("duplicate lookup: %w", err)
	}
	if seen {
		p.discard(ctx, d, log, entry, "duplicate")
		metrics.IncDiscardedDuplicate()
		return nil
	}

	if msg.Expired(time.Now().UTC()) {
		p.discard(ctx, d, log, entry, "expired")
		metrics.IncDiscardedExpired()
		return nil
	}

	// Hand off to the executor and return the listener to fetching. The ack
	// fires when the async unit completes, success or failure, so the offset
	// never advances past unfinished work.
	message := msg
	p.exec.Submit(func() {
		p.runAsync(d, log, &message, entry)
	})
	return nil
}

func (p *Pipeline) runAsync(d commonkafka.Delivery, log *ConsumptionLog, msg *inventory.StockMessage, entry logEntry) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorMessage = fmt.Sprintf("panic during processing: %v", r)
			log.SetStackTrace(string(debug.Stack()))
			if !log.Status.Terminal() {
				_ = log.Transition(StatusFailed)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := p.store.Save(ctx, log); err != nil {
				entry.WithError(err).Error("Failed to persist panic state")
			}
			entry.WithField("panic", fmt.Sprintf("%v", r)).Error("Business processing panicked")
		}

		if err := d.Ack(); err != nil {
			entry.WithError(err).Error("Failed to acknowledge message")
		}
	}()

	ctx := context.Background()
	if err := p.processor.Process(ctx, log, msg); err != nil {
		entry.WithError(err).Error("Business processing failed")
		return
	}
	entry.Debug("Business processing completed")
}

// handlePoison writes a FAILED log capturing the raw payload and acks
// immediately: a payload that does not parse will never parse.
func (p *Pipeline) handlePoison(ctx context.Context, d commonkafka.Delivery, entry logEntry, cause error) error {
	metrics.IncPoison()
	log := &ConsumptionLog{
		Topic:        d.Topic,
		Partition:    d.Partition,
		Offset:       d.Offset,
		ConsumedAt:   time.Now().UTC(),
		RetryCount:   d.Attempt,
		Status:       StatusFailed,
		ErrorMessage: "unparseable payload: " + cause.Error(),
		RawPayload:   datatypes.JSON(d.Value),
	}
	if err := p.store.Save(ctx, log); err != nil {
		entry.WithError(err).Error("Failed to persist poison message log")
	}
	entry.Warn("Poison message acknowledged without retry")
	if err := d.Ack(); err != nil {
		entry.WithError(err).Error("Failed to acknowledge poison message")
	}
	return nil
}

// handleIntegrityFailure records the mismatch and returns a retryable error
// so the transport forwards the delivery to the retry topic; on the last
// attempt the log is closed as RETRY_EXHAUSTED since the next stop is the
// dead-letter topic.
func (p *Pipeline) handleIntegrityFailure(ctx context.Context, d commonkafka.Delivery, log *ConsumptionLog, entry logEntry, computed string) error {
	metrics.IncIntegrityRetry()
	log.ErrorMessage = fmt.Sprintf("hash mismatch: computed %s, embedded %s", computed, log.MessageHash)

	lastAttempt := d.Attempt >= p.maxAttempts-1
	if lastAttempt {
		_ = log.Transition(StatusRetryExhausted)
	}
	if err := p.store.Save(ctx, log); err != nil {
		entry.WithError(err).Error("Failed to persist integrity failure")
	}

	entry.WithField("computed_hash", computed).Warn("Message failed integrity check")
	return commonkafka.Retryable(fmt.Errorf("message integrity check failed for %s", log.CorrelationID))
}

func (p *Pipeline) discard(ctx context.Context, d commonkafka.Delivery, log *ConsumptionLog, entry logEntry, reason string) {
	_ = log.Transition(StatusDiscarded)
	log.ErrorMessage = reason
	if err := p.store.Save(ctx, log); err != nil {
		entry.WithError(err).Error("Failed to persist discard state")
	}
	entry.WithField("reason", reason).Info("Message discarded")
	if err := d.Ack(); err != nil {
		entry.WithError(err).Error("Failed to acknowledge discarded message")
	}
}

func (p *Pipeline) markFailed(ctx context.Context, log *ConsumptionLog, reason, stack string) {
	if !log.Status.Terminal() {
		_ = log.Transition(StatusFailed)
	}
	log.ErrorMessage = reason
	if stack != "" {
		log.SetStackTrace(stack)
	}
	if err := p.store.Save(ctx, log); err != nil {
		logger.Log.WithError(err).Error("Failed to persist failure state")
	}
}
