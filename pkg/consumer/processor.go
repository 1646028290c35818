package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
	"github.com/stockflow/platform/pkg/observability/metrics"
	"github.com/stockflow/platform/pkg/stockapi"
)

// StockAPI is the slice of the external client the processor needs.
type StockAPI interface {
	ValidateProduct(ctx context.Context, productID string) (bool, error)
	ProcessStockUpdate(ctx context.Context, message *inventory.StockMessage) (*stockapi.APIResult, error)
	SendNotification(ctx context.Context, notification stockapi.Notification) error
}

// Store is the persistence contract the pipeline and processor share.
type Store interface {
	Save(ctx context.Context, log *ConsumptionLog) error
	IsMessageAlreadyProcessed(ctx context.Context, correlationID, hash string) (bool, error)
	MarkProcessed(ctx context.Context, correlationID, hash string) (bool, error)
	FindByCorrelationID(ctx context.Context, correlationID string) (*ConsumptionLog, error)
}

var errNoAPIResponse = errors.New("no response from external API")

// Processor runs the business step of a delivery: product validation, the
// stock-processing call, terminal-status mapping and the best-effort outcome
// notification. It runs inside the async executor; errors it returns are
// logged by the completion handler and never reach the listener, so a
// business failure cannot trigger topic-level redelivery.
type Processor struct {
	store Store
	api   StockAPI

	notifyTimeout time.Duration
}

func NewProcessor(store Store, api StockAPI) *Processor {
	return &Processor{store: store, api: api, notifyTimeout: 5 * time.Second}
}

func (p *Processor) Process(ctx context.Context, log *ConsumptionLog, msg *inventory.StockMessage) error {
	started := time.Now().UTC()
	log.ProcessingStartedAt = &started
	if err := log.Transition(StatusProcessing); err != nil {
		return err
	}
	if err := p.store.Save(ctx, log); err != nil {
		return fmt.Errorf("persisting processing state: %w", err)
	}

	entry := logger.WithMessage(msg.CorrelationID, msg.Hash).WithFields(map[string]interface{}{
		"product_id": msg.ProductID,
		"operation":  msg.Operation,
	})

	valid, err := p.api.ValidateProduct(ctx, msg.ProductID)
	if err != nil {
		p.fail(ctx, log, started, 0, "product validation error: "+err.Error())
		p.notify(msg, false, 0, "product validation error")
		return fmt.Errorf("validating product %s: %w", msg.ProductID, err)
	}
	if !valid {
		p.fail(ctx, log, started, 0, fmt.Sprintf("product %s failed validation", msg.ProductID))
		p.notify(msg, false, 0, "product validation failed")
		return fmt.Errorf("product %s failed validation", msg.ProductID)
	}

	result, err := p.api.ProcessStockUpdate(ctx, msg)
	if err != nil {
		p.fail(ctx, log, started, 0, "stock processing call failed: "+err.Error())
		p.notify(msg, false, 0, "stock processing call failed")
		return fmt.Errorf("processing stock update: %w", err)
	}
	if result == nil {
		p.fail(ctx, log, started, 0, errNoAPIResponse.Error())
		p.notify(msg, false, 0, errNoAPIResponse.Error())
		return errNoAPIResponse
	}

	completed := time.Now().UTC()
	log.ProcessingCompletedAt = &completed
	log.TotalProcessingTimeMs = completed.Sub(started).Milliseconds()
	log.APIResponseCode = result.HTTPStatus
	log.APIResponseMessage = result.Message
	if log.APIResponseMessage == "" {
		log.APIResponseMessage = result.Status
	}

	if result.Success {
		inserted, markErr := p.store.MarkProcessed(ctx, msg.CorrelationID, msg.Hash)
		if markErr != nil {
			entry.WithError(markErr).Error("Failed to record dedup entry")
		}
		if markErr == nil && !inserted {
			// Lost a concurrent race: another delivery already owns SUCCESS.
			_ = log.Transition(StatusDiscarded)
			log.ErrorMessage = "duplicate"
			if err := p.store.Save(ctx, log); err != nil {
				entry.WithError(err).Error("Failed to persist discard state")
			}
			metrics.IncDiscardedDuplicate()
			entry.Info("Concurrent duplicate detected after processing, discarded")
			return nil
		}

		if err := log.Transition(StatusSuccess); err != nil {
			return err
		}
		if err := p.store.Save(ctx, log); err != nil {
			entry.WithError(err).Error("Failed to persist success state")
		}
		metrics.IncSuccess()
		entry.WithFields(map[string]interface{}{
			"http_status":        result.HTTPStatus,
			"processing_time_ms": log.TotalProcessingTimeMs,
		}).Info("Stock update processed")
		p.notify(msg, true, result.HTTPStatus, log.APIResponseMessage)
		return nil
	}

	log.ErrorMessage = result.Message
	if err := log.Transition(StatusFailed); err != nil {
		return err
	}
	if err := p.store.Save(ctx, log); err != nil {
		entry.WithError(err).Error("Failed to persist failure state")
	}
	metrics.IncFailed()
	entry.WithField("http_status", result.HTTPStatus).Warn("Stock update rejected by external API")
	p.notify(msg, false, result.HTTPStatus, result.Message)
	return fmt.Errorf("external API rejected stock update: %s", result.Message)
}

func (p *Processor) fail(ctx context.Context, log *ConsumptionLog, started time.Time, httpStatus int, reason string) {
	completed := time.Now().UTC()
	log.ProcessingCompletedAt = &completed
	log.TotalProcessingTimeMs = completed.Sub(started).Milliseconds()
	log.APIResponseCode = httpStatus
	log.ErrorMessage = reason
	_ = log.Transition(StatusFailed)
	if err := p.store.Save(ctx, log); err != nil {
		logger.Log.WithError(err).Error("Failed to persist failure state")
	}
	metrics.IncFailed()
}

// notify reports the outcome downstream on a detached goroutine. It is
// advisory: failures are logged and swallowed.
func (p *Processor) notify(msg *inventory.StockMessage, success bool, httpStatus int, message string) {
	notification := stockapi.Notification{
		CorrelationID: msg.CorrelationID,
		ProductID:     msg.ProductID,
		Status:        notificationStatus(success),
		Success:       success,
		HTTPStatus:    httpStatus,
		Message:       message,
		ProcessedAt:   time.Now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.notifyTimeout)
		defer cancel()
		if err := p.api.SendNotification(ctx, notification); err != nil {
			logger.WithMessage(msg.CorrelationID, msg.Hash).WithError(err).
				Warn("Outcome notification failed")
		}
	}()
}

func notificationStatus(success bool) string {
	if success {
		return "PROCESSED"
	}
	return "FAILED"
}
