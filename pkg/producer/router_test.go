package producer

import (
	"testing"

	"github.com/stockflow/platform/pkg/inventory"
)

func newTestRouter() *Router {
	return NewRouter("stock-updates", "stock-updates-high-priority", "stock-transfers")
}

func TestTargetTopicPolicy(t *testing.T) {
	router := newTestRouter()

	tests := []struct {
		operation inventory.Operation
		priority  string
		want      string
	}{
		{inventory.OperationAdd, inventory.PriorityNormal, "stock-updates"},
		{inventory.OperationRemove, inventory.PriorityNormal, "stock-updates"},
		{inventory.OperationSet, inventory.PriorityNormal, "stock-updates"},
		{inventory.OperationBulkUpdate, inventory.PriorityNormal, "stock-updates"},
		// Reservations share the default updates topic.
		{inventory.OperationReserve, inventory.PriorityNormal, "stock-updates"},
		{inventory.OperationRelease, inventory.PriorityNormal, "stock-updates"},
		{inventory.OperationTransfer, inventory.PriorityNormal, "stock-transfers"},
		{inventory.OperationAdd, inventory.PriorityHigh, "stock-updates-high-priority"},
		// Transfers win over priority routing.
		{inventory.OperationTransfer, inventory.PriorityHigh, "stock-transfers"},
	}

	for _, tt := range tests {
		msg := &inventory.StockMessage{Operation: tt.operation, Priority: tt.priority}
		if got := router.TargetTopic(msg); got != tt.want {
			t.Errorf("%s/%s: got topic %s, want %s", tt.operation, tt.priority, got, tt.want)
		}
	}
}

func TestPartitionKeyIsPureAndStable(t *testing.T) {
	router := newTestRouter()

	a := &inventory.StockMessage{DistributionCenter: "DC-SP01", ProductID: "PROD-001", Quantity: 1}
	b := &inventory.StockMessage{DistributionCenter: "DC-SP01", ProductID: "PROD-001", Quantity: 999}

	if router.PartitionKey(a) != router.PartitionKey(b) {
		t.Fatal("partition key must depend only on distribution center and product")
	}
	if router.PartitionKey(a) != "DC-SP01-PROD-001" {
		t.Fatalf("unexpected partition key: %s", router.PartitionKey(a))
	}

	c := &inventory.StockMessage{DistributionCenter: "DC-RJ01", ProductID: "PROD-001"}
	if router.PartitionKey(a) == router.PartitionKey(c) {
		t.Fatal("different distribution centers must produce different keys")
	}
}
