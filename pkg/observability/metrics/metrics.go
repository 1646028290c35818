package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	messagesPublished  atomic.Int64
	publishFailures    atomic.Int64
	alertsPublished    atomic.Int64
	alertsFailed       atomic.Int64
	messagesConsumed   atomic.Int64
	processingSuccess  atomic.Int64
	processingFailed   atomic.Int64
	discardedDuplicate atomic.Int64
	discardedExpired   atomic.Int64
	poisonMessages     atomic.Int64
	integrityRetries   atomic.Int64
	deadLettered       atomic.Int64
)

func IncPublished()          { messagesPublished.Add(1) }
func IncPublishFailed()      { publishFailures.Add(1) }
func IncAlertPublished()     { alertsPublished.Add(1) }
func IncAlertFailed()        { alertsFailed.Add(1) }
func IncConsumed()           { messagesConsumed.Add(1) }
func IncSuccess()            { processingSuccess.Add(1) }
func IncFailed()             { processingFailed.Add(1) }
func IncDiscardedDuplicate() { discardedDuplicate.Add(1) }
func IncDiscardedExpired()   { discardedExpired.Add(1) }
func IncPoison()             { poisonMessages.Add(1) }
func IncIntegrityRetry()     { integrityRetries.Add(1) }
func IncDeadLettered()       { deadLettered.Add(1) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	counter(w, "stockflow_producer_messages_published_total", "Messages acknowledged by the broker.", messagesPublished.Load())
	counter(w, "stockflow_producer_publish_failures_total", "Messages the broker rejected.", publishFailures.Load())
	counter(w, "stockflow_producer_alerts_published_total", "Low-stock alerts published.", alertsPublished.Load())
	counter(w, "stockflow_producer_alerts_failed_total", "Low-stock alert publishes that gave up.", alertsFailed.Load())
	counter(w, "stockflow_consumer_messages_consumed_total", "Messages fetched from the input topics.", messagesConsumed.Load())
	counter(w, "stockflow_consumer_processing_success_total", "Messages processed to SUCCESS.", processingSuccess.Load())
	counter(w, "stockflow_consumer_processing_failed_total", "Messages processed to FAILED.", processingFailed.Load())
	counter(w, "stockflow_consumer_discarded_duplicate_total", "Messages discarded as duplicates.", discardedDuplicate.Load())
	counter(w, "stockflow_consumer_discarded_expired_total", "Messages discarded past their deadline.", discardedExpired.Load())
	counter(w, "stockflow_consumer_poison_messages_total", "Unparseable payloads acknowledged without retry.", poisonMessages.Load())
	counter(w, "stockflow_consumer_integrity_retries_total", "Hash-mismatch deliveries routed to retry topics.", integrityRetries.Load())
	counter(w, "stockflow_consumer_dead_lettered_total", "Messages routed to the dead-letter topic.", deadLettered.Load())
}

func counter(w http.ResponseWriter, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}
