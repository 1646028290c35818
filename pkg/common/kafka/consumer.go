package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stockflow/platform/pkg/common/logger"
)

const (
	headerAttempt     = "x-retry-attempt"
	headerNotBefore   = "x-not-before"
	headerOriginTopic = "x-origin-topic"
)

// RetryTopic and DeadLetterTopic name the redelivery topics derived from a
// base topic. Retried messages all flow through a single retry topic per base
// topic; the attempt count travels in a header and the backoff delay is
// enforced at consumption time.
func RetryTopic(base string) string      { return base + "-retry" }
func DeadLetterTopic(base string) string { return base + "-dlt" }

// Delivery is one fetched message plus its deferred acknowledgment. Ack
// commits the offset and may be called from any goroutine; the pipeline calls
// it only after processing has durably completed.
type Delivery struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Attempt   int
	Ack       func() error
}

// Handler processes a delivery. Returning nil means the handler owns the
// acknowledgment (it acked already or will ack asynchronously). A
// RetryableError routes the message to the retry topic, or the dead-letter
// topic once attempts are exhausted. Any other error leaves the message
// uncommitted for redelivery.
type Handler func(ctx context.Context, d Delivery) error

type ConsumerConfig struct {
	Brokers      []string
	GroupID      string
	Topic        string
	BaseTopic    string // origin topic used for retry/DLT naming; defaults to Topic
	MaxAttempts  int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

type Consumer struct {
	reader    *kafka.Reader
	forwarder *Producer
	cfg       ConsumerConfig

	// OnDeadLetter is invoked after a message is routed to the DLT.
	OnDeadLetter func(d Delivery)
}

func NewConsumer(cfg ConsumerConfig, forwarder *Producer) *Consumer {
	if cfg.BaseTopic == "" {
		cfg.BaseTopic = cfg.Topic
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})

	return &Consumer{reader: reader, forwarder: forwarder, cfg: cfg}
}

func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		message, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Log.WithError(err).WithField("topic", c.cfg.Topic).Error("Failed to fetch message")
			continue
		}

		if err := c.waitNotBefore(ctx, message); err != nil {
			return err
		}

		delivery := c.newDelivery(message)
		handlerErr := handler(ctx, delivery)
		if handlerErr == nil {
			continue
		}

		if IsRetryable(handlerErr) {
			c.redeliver(ctx, message, delivery, handlerErr)
			continue
		}

		// Not retryable and not acked: leave uncommitted so the group
		// redelivers after restart or rebalance.
		logger.Log.WithError(handlerErr).WithFields(map[string]interface{}{
			"topic":     delivery.Topic,
			"partition": delivery.Partition,
			"offset":    delivery.Offset,
		}).Error("Handler failed before acknowledgment; message left for redelivery")
	}
}

func (c *Consumer) newDelivery(message kafka.Message) Delivery {
	return Delivery{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       message.Key,
		Value:     message.Value,
		Attempt:   headerInt(message, headerAttempt),
		Ack: func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return c.reader.CommitMessages(ctx, message)
		},
	}
}

// waitNotBefore holds back retry-topic deliveries until their backoff
// deadline. Blocking the retry reader is intentional; the retry topic has no
// ordering or latency requirements.
func (c *Consumer) waitNotBefore(ctx context.Context, message kafka.Message) error {
	raw := headerValue(message, headerNotBefore)
	if raw == "" {
		return nil
	}
	notBefore, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	wait := time.Until(notBefore)
	if wait <= 0 {
		return nil
	}

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// redeliver forwards a retryably-failed message to the retry topic with an
// incremented attempt header, or to the dead-letter topic once attempts are
// exhausted, then commits the original offset.
func (c *Consumer) redeliver(ctx context.Context, message kafka.Message, delivery Delivery, cause error) {
	nextAttempt := delivery.Attempt + 1
	target := RetryTopic(c.cfg.BaseTopic)
	deadLettered := false
	if nextAttempt >= c.cfg.MaxAttempts {
		target = DeadLetterTopic(c.cfg.BaseTopic)
		deadLettered = true
	}

	headers := []kafka.Header{
		{Key: headerAttempt, Value: []byte(strconv.Itoa(nextAttempt))},
		{Key: headerOriginTopic, Value: []byte(c.cfg.BaseTopic)},
	}
	if !deadLettered {
		notBefore := time.Now().UTC().Add(c.backoff(nextAttempt))
		headers = append(headers, kafka.Header{
			Key:   headerNotBefore,
			Value: []byte(notBefore.Format(time.RFC3339Nano)),
		})
	}

	entry := logger.Log.WithError(cause).WithFields(map[string]interface{}{
		"topic":        delivery.Topic,
		"partition":    delivery.Partition,
		"offset":       delivery.Offset,
		"attempt":      nextAttempt,
		"target_topic": target,
	})

	if _, err := c.forwarder.Publish(ctx, target, string(message.Key), message.Value, headers...); err != nil {
		// Forwarding failed: keep the original uncommitted so nothing is lost.
		entry.WithError(err).Error("Failed to forward message for redelivery")
		return
	}

	if deadLettered {
		entry.Warn("Message exhausted retry attempts, routed to dead-letter topic")
		if c.OnDeadLetter != nil {
			c.OnDeadLetter(delivery)
		}
	} else {
		entry.Info("Message routed to retry topic")
	}

	if err := delivery.Ack(); err != nil {
		logger.Log.WithError(err).Error("Failed to commit message after redelivery routing")
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	delay := c.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if c.cfg.MaxBackoff > 0 && delay >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	if c.cfg.MaxBackoff > 0 && delay > c.cfg.MaxBackoff {
		delay = c.cfg.MaxBackoff
	}
	return delay
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func headerValue(message kafka.Message, key string) string {
	for _, h := range message.Headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func headerInt(message kafka.Message, key string) int {
	raw := headerValue(message, key)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}
