package consumer

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusReceived       Status = "RECEIVED"
	StatusProcessing     Status = "PROCESSING"
	StatusSuccess        Status = "SUCCESS"
	StatusFailed         Status = "FAILED"
	StatusRetryExhausted Status = "RETRY_EXHAUSTED"
	StatusDiscarded      Status = "DISCARDED"
)

// maxStackTrace bounds the persisted stack trace column.
const maxStackTrace = 4000

func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusRetryExhausted, StatusDiscarded:
		return true
	}
	return false
}

// ConsumptionLog records the full lifecycle of one inbound delivery attempt.
// One row per delivery: redeliveries of the same logical message create new
// rows linked by correlation id and hash. Rows are single-writer; only the
// pipeline that created a row mutates it.
type ConsumptionLog struct {
	ID                    uint64           `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	CorrelationID         string           `json:"correlation_id" gorm:"column:correlation_id;index:idx_consumption_corr_hash"`
	Topic                 string           `json:"topic" gorm:"column:topic"`
	Partition             int              `json:"partition" gorm:"column:partition"`
	Offset                int64            `json:"offset" gorm:"column:kafka_offset"`
	ProductID             string           `json:"product_id" gorm:"column:product_id"`
	Quantity              int              `json:"quantity" gorm:"column:quantity"`
	Price                 decimal.Decimal  `json:"price" gorm:"column:price;type:numeric(14,4)"`
	Operation             string           `json:"operation" gorm:"column:operation"`
	MessageHash           string           `json:"message_hash" gorm:"column:message_hash;index:idx_consumption_corr_hash"`
	ConsumedAt            time.Time        `json:"consumed_at" gorm:"column:consumed_at"`
	ProcessingStartedAt   *time.Time       `json:"processing_started_at,omitempty" gorm:"column:processing_started_at"`
	ProcessingCompletedAt *time.Time       `json:"processing_completed_at,omitempty" gorm:"column:processing_completed_at"`
	TotalProcessingTimeMs int64            `json:"total_processing_time_ms" gorm:"column:total_processing_time_ms"`
	APIResponseCode       int              `json:"api_response_code,omitempty" gorm:"column:api_response_code"`
	APIResponseMessage    string           `json:"api_response_message,omitempty" gorm:"column:api_response_message"`
	ErrorMessage          string           `json:"error_message,omitempty" gorm:"column:error_message"`
	ErrorStackTrace       string           `json:"error_stack_trace,omitempty" gorm:"column:error_stack_trace;size:4000"`
	RetryCount            int              `json:"retry_count" gorm:"column:retry_count"`
	Priority              string           `json:"priority,omitempty" gorm:"column:priority"`
	Status                Status           `json:"status" gorm:"column:status"`
	RawPayload            datatypes.JSON   `json:"raw_payload,omitempty" gorm:"column:raw_payload"`
}

func (ConsumptionLog) TableName() string {
	return "consumption_logs"
}

// Transition moves the log to the next state, refusing to leave a terminal
// state.
func (l *ConsumptionLog) Transition(next Status) error {
	if l.Status.Terminal() {
		return fmt.Errorf("consumption log %d is terminal (%s), cannot transition to %s", l.ID, l.Status, next)
	}
	l.Status = next
	return nil
}

// SetStackTrace stores a stack trace truncated to the column limit.
func (l *ConsumptionLog) SetStackTrace(stack string) {
	if len(stack) > maxStackTrace {
		stack = stack[:maxStackTrace]
	}
	l.ErrorStackTrace = stack
}

// ProcessedMessage is the dedup index: one row per successfully processed
// (correlationId, hash) pair. The composite primary key doubles as the
// unique constraint backing the insert-and-catch-conflict dedup pattern.
type ProcessedMessage struct {
	CorrelationID string    `gorm:"primaryKey;column:correlation_id;size:64"`
	MessageHash   string    `gorm:"primaryKey;column:message_hash;size:64"`
	ProcessedAt   time.Time `gorm:"column:processed_at"`
}

func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
