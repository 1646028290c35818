package inventory

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// shortHashLen is the prefix length used for producer-side log correlation.
// Trace lines do not gate on hash equality, so the prefix does not need to be
// collision proof.
const shortHashLen = 16

// Hash computes the SHA-256 hex digest over the canonical serialization of
// the message's business fields. The hash field itself and all transport
// metadata (topic, partition, offset, producer id) are excluded. Field order
// and formatting are fixed: any change here breaks integrity verification for
// in-flight messages.
//
// The timestamp is covered at nanosecond granularity, so a replay of the same
// business payload at a different time yields a different hash. Consumers must
// recompute from the received payload's own timestamp, never from the clock.
func Hash(m *StockMessage) string {
	canonical := strings.Join([]string{
		m.CorrelationID,
		m.ProductID,
		m.DistributionCenter,
		m.Branch,
		m.SourceBranch,
		strconv.Itoa(m.Quantity),
		m.Price.String(),
		string(m.Operation),
		m.ReasonCode,
		m.ReferenceDocument,
		m.Priority,
		formatTime(m.Deadline),
		m.Timestamp.UTC().Format(time.RFC3339Nano),
	}, "|")

	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the 16-character prefix of Hash, used on the producer
// side for compact log correlation.
func ShortHash(m *StockMessage) string {
	return Hash(m)[:shortHashLen]
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
