package stockapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
)

func init() {
	logger.Init()
}

func testClient(baseURL string, attempts int) *Client {
	return New(Config{
		BaseURL:       baseURL,
		Timeout:       2 * time.Second,
		RetryAttempts: attempts,
		RetryDelay:    time.Millisecond,
	})
}

func testMessage() *inventory.StockMessage {
	msg := &inventory.StockMessage{
		CorrelationID:      "corr-1",
		ProductID:          "PROD-001",
		DistributionCenter: "DC-SP01",
		Branch:             "BRANCH-001",
		Quantity:           100,
		Price:              decimal.NewFromInt(5),
		Operation:          inventory.OperationAdd,
		Timestamp:          time.Now().UTC(),
	}
	msg.Hash = inventory.Hash(msg)
	return msg
}

func TestValidateProductRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]bool{"valid": true})
	}))
	defer server.Close()

	valid, err := testClient(server.URL, 3).ValidateProduct(context.Background(), "PROD-001")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !valid {
		t.Fatal("expected valid after retries")
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestValidateProductDegradesOnExhaustion(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	valid, err := testClient(server.URL, 2).ValidateProduct(context.Background(), "PROD-001")
	if err != nil {
		t.Fatalf("degraded calls must not error: %v", err)
	}
	if valid {
		t.Fatal("exhausted validation must degrade to invalid")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls.Load())
	}
}

func TestValidateProductDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	valid, err := testClient(server.URL, 3).ValidateProduct(context.Background(), "PROD-404")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if valid {
		t.Fatal("a 404 product must be invalid")
	}
	if calls.Load() != 1 {
		t.Fatalf("4xx must not be retried, got %d attempts", calls.Load())
	}
}

func TestProcessStockUpdateSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/stock/process" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var msg inventory.StockMessage
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			t.Errorf("body must be a stock message: %v", err)
		}
		json.NewEncoder(w).Encode(APIResult{Status: "OK", Message: "applied", Success: true})
	}))
	defer server.Close()

	result, err := testClient(server.URL, 1).ProcessStockUpdate(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.HTTPStatus != http.StatusOK || result.Message != "applied" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestProcessStockUpdateSurfacesStructuredFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	result, err := testClient(server.URL, 2).ProcessStockUpdate(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("process failures must come back as results, not errors: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result")
	}
	if result.HTTPStatus != http.StatusBadGateway {
		t.Fatalf("expected recorded status 502, got %d", result.HTTPStatus)
	}
	if result.Message == "" {
		t.Fatal("failure result must carry a message")
	}
}

func TestProcessStockUpdateUnreachableBroker(t *testing.T) {
	client := testClient("http://127.0.0.1:1", 2)
	result, err := client.ProcessStockUpdate(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("transport failure must come back as a result: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure result for unreachable service")
	}
}

func TestGetCurrentStockDegradesToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	level, err := testClient(server.URL, 2).GetCurrentStock(context.Background(), "PROD-001", "DC-SP01")
	if err != nil {
		t.Fatalf("degraded lookup must not error: %v", err)
	}
	if level.Available {
		t.Fatal("exhausted lookup must degrade to unavailable")
	}
}

func TestGetCurrentStockParsesLevel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("productId"); got != "PROD-001" {
			t.Errorf("unexpected productId %q", got)
		}
		json.NewEncoder(w).Encode(StockLevel{ProductID: "PROD-001", Location: "DC-SP01", Quantity: 7, Available: true})
	}))
	defer server.Close()

	level, err := testClient(server.URL, 1).GetCurrentStock(context.Background(), "PROD-001", "DC-SP01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !level.Available || level.Quantity != 7 {
		t.Fatalf("unexpected level: %+v", level)
	}
}

func TestSendNotificationSingleAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := testClient(server.URL, 3).SendNotification(context.Background(), Notification{
		CorrelationID: "corr-1",
		ProductID:     "PROD-001",
		Success:       true,
		ProcessedAt:   time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("expected delivery error")
	}
	if calls.Load() != 1 {
		t.Fatalf("notifications are single attempt, got %d", calls.Load())
	}
}
