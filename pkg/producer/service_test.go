package producer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stockflow/platform/pkg/inventory"
)

func newTestService(store RecordStore, publisher Publisher) *Service {
	router := newTestRouter()
	tracker := NewTracker(store, publisher, "stock-alerts", "producer-test", 10, 1, 0)
	return NewService(router, tracker)
}

func TestServiceRejectsBeforeSend(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{}
	svc := newTestService(store, publisher)

	tests := []struct {
		name string
		msg  inventory.StockMessage
	}{
		{"remove with zero quantity", inventory.StockMessage{
			ProductID: "PROD-001", DistributionCenter: "DC-SP01", Branch: "BRANCH-001",
			Quantity: 0, Operation: inventory.OperationRemove,
		}},
		{"transfer to same branch", inventory.StockMessage{
			ProductID: "PROD-001", DistributionCenter: "DC-SP01", Branch: "BRANCH-001",
			SourceBranch: "BRANCH-001", Quantity: 5, Operation: inventory.OperationTransfer,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Publish(context.Background(), tt.msg)
			if err == nil {
				t.Fatal("expected validation rejection")
			}
			if !inventory.IsValidationError(err) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
		})
	}

	if publisher.callCount() != 0 {
		t.Fatalf("rejected messages must never reach the broker, saw %d sends", publisher.callCount())
	}
	if len(store.snapshot()) != 0 {
		t.Fatal("rejected messages must not create publication records")
	}
}

func TestServiceAssignsDefaultsAndHash(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{}
	svc := newTestService(store, publisher)

	rec, err := svc.Publish(context.Background(), inventory.StockMessage{
		ProductID:          "PROD-001",
		DistributionCenter: "DC-SP01",
		Branch:             "BRANCH-001",
		Quantity:           100,
		Price:              decimal.NewFromInt(7),
		Operation:          inventory.OperationAdd,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if rec.CorrelationID == "" {
		t.Fatal("correlation id must be assigned when absent")
	}
	if rec.Status != StatusAcknowledged {
		t.Fatalf("expected ACKNOWLEDGED, got %s", rec.Status)
	}
	if rec.TopicName != "stock-updates" {
		t.Fatalf("ADD must route to the updates topic, got %s", rec.TopicName)
	}

	publisher.mu.Lock()
	key := publisher.calls[0].key
	publisher.mu.Unlock()
	if key != "DC-SP01-PROD-001" {
		t.Fatalf("unexpected partition key %s", key)
	}
}

func TestServiceRoutesTransfers(t *testing.T) {
	store := newMemStore()
	publisher := &fakePublisher{}
	svc := newTestService(store, publisher)

	rec, err := svc.Publish(context.Background(), inventory.StockMessage{
		ProductID:          "PROD-001",
		DistributionCenter: "DC-SP01",
		Branch:             "BRANCH-001",
		SourceBranch:       "BRANCH-002",
		Quantity:           20,
		Operation:          inventory.OperationTransfer,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.TopicName != "stock-transfers" {
		t.Fatalf("TRANSFER must route to the transfers topic, got %s", rec.TopicName)
	}
}
