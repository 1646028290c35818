package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stockflow/platform/pkg/common/logger"
)

// Ack carries the broker's placement of a published message.
type Ack struct {
	Topic     string
	Partition int
	Offset    int64
}

type ackResult struct {
	partition int
	offset    int64
	err       error
}

// Producer wraps a kafka.Writer configured for synchronous, fully-acked
// publishes. Topic is chosen per message so a single producer serves the
// updates, transfers and alerts topics.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
		BatchSize:    1,
		BatchTimeout: 10 * time.Millisecond,
	}
	writer.Completion = completion

	return &Producer{writer: writer}
}

// completion relays the broker-assigned partition/offset back to the
// goroutine blocked in Publish via the message's WriterData channel.
func completion(messages []kafka.Message, err error) {
	for _, m := range messages {
		ch, ok := m.WriterData.(chan ackResult)
		if !ok {
			continue
		}
		ch <- ackResult{partition: m.Partition, offset: m.Offset, err: err}
	}
}

// Publish sends one message keyed for partition routing and waits for the
// broker acknowledgment. On success the returned Ack holds the partition and
// offset assigned by the broker.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafka.Header) (*Ack, error) {
	done := make(chan ackResult, 1)
	message := kafka.Message{
		Topic:      topic,
		Key:        []byte(key),
		Value:      value,
		Headers:    headers,
		WriterData: done,
	}

	if err := p.writer.WriteMessages(ctx, message); err != nil {
		return nil, fmt.Errorf("writing to topic %s: %w", topic, err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("broker rejected message on topic %s: %w", topic, res.err)
		}
		return &Ack{Topic: topic, Partition: res.partition, Offset: res.offset}, nil
	case <-ctx.Done():
		logger.Log.WithField("topic", topic).Warn("context cancelled before broker completion")
		return nil, ctx.Err()
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
