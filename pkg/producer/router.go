package producer

import (
	"github.com/stockflow/platform/pkg/inventory"
)

// Router decides which topic an outbound message goes to and which partition
// key orders it. TRANSFER operations get their own topic; high-priority
// traffic goes to the dedicated high-priority updates topic; everything else,
// RESERVE and RELEASE included, shares the default updates topic.
type Router struct {
	updatesTopic      string
	highPriorityTopic string
	transfersTopic    string
}

func NewRouter(updatesTopic, highPriorityTopic, transfersTopic string) *Router {
	return &Router{
		updatesTopic:      updatesTopic,
		highPriorityTopic: highPriorityTopic,
		transfersTopic:    transfersTopic,
	}
}

func (r *Router) TargetTopic(m *inventory.StockMessage) string {
	if m.Operation == inventory.OperationTransfer {
		return r.transfersTopic
	}
	if m.Priority == inventory.PriorityHigh {
		return r.highPriorityTopic
	}
	return r.updatesTopic
}

// PartitionKey is a pure function of distribution center and product, so all
// updates to one product at one location land on the same partition and stay
// strictly ordered relative to each other.
func (r *Router) PartitionKey(m *inventory.StockMessage) string {
	return m.DistributionCenter + "-" + m.ProductID
}
