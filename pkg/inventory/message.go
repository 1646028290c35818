package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Operation is the kind of stock mutation a message carries.
type Operation string

const (
	OperationAdd        Operation = "ADD"
	OperationRemove     Operation = "REMOVE"
	OperationSet        Operation = "SET"
	OperationTransfer   Operation = "TRANSFER"
	OperationReserve    Operation = "RESERVE"
	OperationRelease    Operation = "RELEASE"
	OperationBulkUpdate Operation = "BULK_UPDATE"
)

const (
	PriorityLow    = "LOW"
	PriorityNormal = "NORMAL"
	PriorityHigh   = "HIGH"
)

// StockMessage is the wire shape shared by producer and consumer. The hash
// field is computed over the business fields only (see hasher.go); transport
// metadata never appears here.
type StockMessage struct {
	CorrelationID      string          `json:"correlationId" validate:"required"`
	ProductID          string          `json:"productId" validate:"required"`
	DistributionCenter string          `json:"distributionCenter" validate:"required"`
	Branch             string          `json:"branch" validate:"required"`
	SourceBranch       string          `json:"sourceBranch,omitempty"`
	Quantity           int             `json:"quantity" validate:"gte=0"`
	Price              decimal.Decimal `json:"price"`
	Operation          Operation       `json:"operation" validate:"required,oneof=ADD REMOVE SET TRANSFER RESERVE RELEASE BULK_UPDATE"`
	ReasonCode         string          `json:"reasonCode,omitempty"`
	ReferenceDocument  string          `json:"referenceDocument,omitempty"`
	Priority           string          `json:"priority,omitempty" validate:"omitempty,oneof=LOW NORMAL HIGH"`
	Deadline           *time.Time      `json:"deadline,omitempty"`
	Timestamp          time.Time       `json:"timestamp" validate:"required"`
	Hash               string          `json:"hash,omitempty"`
}

var (
	errQuantityRequired = errors.New("quantity must be positive")
	errSourceBranch     = errors.New("invalid source branch")
)

type ValidationError struct {
	reason error
}

func (e ValidationError) Error() string {
	return e.reason.Error()
}

func (e ValidationError) Unwrap() error {
	return e.reason
}

func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

var validate = validator.New()

// Validate checks structural rules plus the cross-field invariants:
// REMOVE moves stock out, so its quantity must be strictly positive, and
// TRANSFER needs a source branch distinct from the destination.
func (m *StockMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return ValidationError{reason: err}
	}

	switch m.Operation {
	case OperationRemove:
		if m.Quantity <= 0 {
			return ValidationError{reason: fmt.Errorf("REMOVE requires quantity > 0, got %d: %w", m.Quantity, errQuantityRequired)}
		}
	case OperationTransfer:
		if m.SourceBranch == "" {
			return ValidationError{reason: fmt.Errorf("TRANSFER requires sourceBranch: %w", errSourceBranch)}
		}
		if m.SourceBranch == m.Branch {
			return ValidationError{reason: fmt.Errorf("TRANSFER source and destination branch must differ ('%s'): %w", m.Branch, errSourceBranch)}
		}
	}

	return nil
}

// Expired reports whether the message carries a deadline that has passed.
func (m *StockMessage) Expired(now time.Time) bool {
	return m.Deadline != nil && m.Deadline.Before(now)
}
