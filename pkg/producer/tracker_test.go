package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	commonkafka "github.com/stockflow/platform/pkg/common/kafka"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
)

func init() {
	logger.Init()
}

type memStore struct {
	mu      sync.Mutex
	records map[string]PublicationRecord
	order   []string
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]PublicationRecord)}
}

func (s *memStore) Create(ctx context.Context, rec *PublicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.PublicationID] = *rec
	s.order = append(s.order, rec.PublicationID)
	return nil
}

func (s *memStore) Update(ctx context.Context, rec *PublicationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.PublicationID] = *rec
	return nil
}

func (s *memStore) snapshot() []PublicationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PublicationRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.records[id])
	}
	return out
}

type pubCall struct {
	topic string
	key   string
	value []byte
}

type fakePublisher struct {
	mu        sync.Mutex
	calls     []pubCall
	failTopic string
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte, headers ...kafkago.Header) (*commonkafka.Ack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, pubCall{topic: topic, key: key, value: value})
	if topic == f.failTopic {
		return nil, errors.New("broker unavailable")
	}
	return &commonkafka.Ack{Topic: topic, Partition: 2, Offset: int64(len(f.calls))}, nil
}

func (f *fakePublisher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestTracker(store RecordStore, publisher Publisher) *Tracker {
	return NewTracker(store, publisher, "stock-alerts", "producer-test", 10, 1, time.Millisecond)
}

func trackerMessage(quantity int) *inventory.StockMessage {
	msg := &inventory.StockMessage{
		CorrelationID:      "corr-1",
		ProductID:          "PROD-001",
		DistributionCenter: "DC-SP01",
		Branch:             "BRANCH-001",
		Quantity:           quantity,
		Price:              decimal.NewFromInt(10),
		Operation:          inventory.OperationAdd,
		Priority:           inventory.PriorityNormal,
		Timestamp:          time.Now().UTC(),
	}
	msg.Hash = inventory.Hash(msg)
	return msg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPublishAcknowledged(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{}
	tracker := newTestTracker(store, publisher)

	msg := trackerMessage(100)
	rec, err := tracker.Publish(context.Background(), msg, "stock-updates", "DC-SP01-PROD-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.Status != StatusAcknowledged {
		t.Fatalf("expected ACKNOWLEDGED, got %s", rec.Status)
	}
	if rec.Partition == nil || rec.Offset == nil {
		t.Fatal("broker placement must be recorded on acknowledgment")
	}
	if len(rec.MessageHash) != 16 {
		t.Fatalf("producer record must carry the 16-char trace prefix, got %d chars", len(rec.MessageHash))
	}
	if rec.AcknowledgedAt == nil || rec.ProcessingTimeMs < 0 {
		t.Fatal("timing fields must be populated")
	}

	// The wire payload carries the full digest for consumer-side checks.
	var sent inventory.StockMessage
	if err := json.Unmarshal(publisher.calls[0].value, &sent); err != nil {
		t.Fatalf("sent payload must be valid JSON: %v", err)
	}
	if len(sent.Hash) != 64 {
		t.Fatalf("wire hash must be the full digest, got %d chars", len(sent.Hash))
	}
}

func TestPublishBrokerFailure(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{failTopic: "stock-updates"}
	tracker := newTestTracker(store, publisher)

	rec, err := tracker.Publish(context.Background(), trackerMessage(100), "stock-updates", "k")
	if err == nil {
		t.Fatal("expected publish error")
	}
	if rec.Status != StatusFailed {
		t.Fatalf("expected FAILED, got %s", rec.Status)
	}
	if rec.ErrorMessage == "" {
		t.Fatal("failure reason must be recorded")
	}
}

func TestLowStockTriggersAlert(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{}
	tracker := newTestTracker(store, publisher)

	if _, err := tracker.Publish(context.Background(), trackerMessage(5), "stock-updates", "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitFor(t, func() bool {
		for _, rec := range store.snapshot() {
			if rec.Operation == "LOW_STOCK_ALERT" && rec.Status == StatusAcknowledged {
				return true
			}
		}
		return false
	})

	waitFor(t, func() bool { return publisher.callCount() == 2 })
	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if publisher.calls[1].topic != "stock-alerts" {
		t.Fatalf("alert must go to the alerts topic, got %s", publisher.calls[1].topic)
	}
}

func TestAlertFailureDoesNotAffectPrimary(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{failTopic: "stock-alerts"}
	tracker := newTestTracker(store, publisher)

	rec, err := tracker.Publish(context.Background(), trackerMessage(3), "stock-updates", "k")
	if err != nil {
		t.Fatalf("primary publish must not fail: %v", err)
	}
	if rec.Status != StatusAcknowledged {
		t.Fatalf("expected ACKNOWLEDGED primary, got %s", rec.Status)
	}

	waitFor(t, func() bool {
		for _, r := range store.snapshot() {
			if r.Operation == "LOW_STOCK_ALERT" && r.Status == StatusFailed {
				return r.RetryCount > 0
			}
		}
		return false
	})
}

func TestNoAlertAtOrAboveThreshold(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{}
	tracker := newTestTracker(store, publisher)

	if _, err := tracker.Publish(context.Background(), trackerMessage(10), "stock-updates", "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if publisher.callCount() != 1 {
		t.Fatalf("expected no alert publish, got %d calls", publisher.callCount())
	}
}
