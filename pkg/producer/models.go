package producer

import (
	"time"

	"gorm.io/datatypes"
)

type PublicationStatus string

const (
	StatusSent         PublicationStatus = "SENT"
	StatusAcknowledged PublicationStatus = "ACKNOWLEDGED"
	StatusFailed       PublicationStatus = "FAILED"
	StatusRetrying     PublicationStatus = "RETRYING"
)

// PublicationRecord is the audit row written for every broker send attempt.
// It is created in SENT status before the write and finalized to
// ACKNOWLEDGED or FAILED when the broker responds; RETRYING appears only in
// the low-stock alert sub-flow. Terminal records are never mutated again.
type PublicationRecord struct {
	PublicationID    string            `json:"publication_id" gorm:"primaryKey;column:publication_id"`
	MessageHash      string            `json:"message_hash" gorm:"column:message_hash;index"`
	TopicName        string            `json:"topic_name" gorm:"column:topic_name"`
	Partition        *int              `json:"partition,omitempty" gorm:"column:partition"`
	Offset           *int64            `json:"offset,omitempty" gorm:"column:kafka_offset"`
	CorrelationID    string            `json:"correlation_id" gorm:"column:correlation_id;index"`
	ProductID        string            `json:"product_id" gorm:"column:product_id"`
	Operation        string            `json:"operation" gorm:"column:operation"`
	MessageSizeBytes int               `json:"message_size_bytes" gorm:"column:message_size_bytes"`
	SentAt           time.Time         `json:"sent_at" gorm:"column:sent_at"`
	AcknowledgedAt   *time.Time        `json:"acknowledged_at,omitempty" gorm:"column:acknowledged_at"`
	ProcessingTimeMs int64             `json:"processing_time_ms" gorm:"column:processing_time_ms"`
	Status           PublicationStatus `json:"status" gorm:"column:status"`
	ErrorMessage     string            `json:"error_message,omitempty" gorm:"column:error_message"`
	BrokerResponse   string            `json:"broker_response,omitempty" gorm:"column:broker_response"`
	ProducerID       string            `json:"producer_id" gorm:"column:producer_id"`
	RetryCount       int               `json:"retry_count" gorm:"column:retry_count"`
	Payload          datatypes.JSON    `json:"payload,omitempty" gorm:"column:payload"`
	CreatedAt        time.Time         `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time         `json:"updated_at" gorm:"column:updated_at"`
}

func (PublicationRecord) TableName() string {
	return "publication_records"
}

func (r *PublicationRecord) Terminal() bool {
	return r.Status == StatusAcknowledged || r.Status == StatusFailed
}
