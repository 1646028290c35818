package stockapi

import "time"

// APIResult is the unified outcome of any call to the external stock service.
// Transport failures, HTTP errors and successes all collapse into this one
// shape; the consumer pipeline maps Success onto the consumption log's
// terminal status.
type APIResult struct {
	Status     string                 `json:"status"`
	Message    string                 `json:"message"`
	Success    bool                   `json:"success"`
	HTTPStatus int                    `json:"httpStatus"`
	Data       map[string]interface{} `json:"data,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
}

// StockLevel is the answer to a current-stock lookup. Available=false is
// returned both for an explicit out-of-stock answer and for a degraded call
// that exhausted its retries; callers treat the two identically.
type StockLevel struct {
	ProductID string `json:"productId"`
	Location  string `json:"location"`
	Quantity  int    `json:"quantity"`
	Available bool   `json:"available"`
}

// Notification reports a processing outcome back to the stock service. It is
// advisory: delivery failures are logged and swallowed by callers.
type Notification struct {
	CorrelationID string    `json:"correlationId"`
	ProductID     string    `json:"productId"`
	Status        string    `json:"status"`
	Success       bool      `json:"success"`
	HTTPStatus    int       `json:"httpStatus,omitempty"`
	Message       string    `json:"message,omitempty"`
	ProcessedAt   time.Time `json:"processedAt"`
}
