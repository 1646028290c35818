package stockapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stockflow/platform/pkg/common/httpclient"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/inventory"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Config struct {
	BaseURL       string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration

	// Optional OAuth2 client-credentials auth for the stock service.
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// Client talks to the external stock-processing service. Read and process
// calls retry transient failures (5xx, 408, 429, connect/timeout errors) on a
// fixed delay; validation and stock lookups degrade to a negative answer on
// exhaustion while the process call surfaces a structured failure result.
type Client struct {
	http     *http.Client
	baseURL  string
	attempts int
	delay    time.Duration
}

func New(cfg Config) *Client {
	client := httpclient.New(cfg.Timeout)

	if cfg.ClientID != "" && cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = cc.Client(ctx)
		client.Timeout = cfg.Timeout
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	return &Client{
		http:     client,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		attempts: attempts,
		delay:    cfg.RetryDelay,
	}
}

// ValidateProduct asks the stock service whether the product exists and may
// receive updates. On exhausted retries or a non-retriable error the answer
// degrades to invalid.
func (c *Client) ValidateProduct(ctx context.Context, productID string) (bool, error) {
	var valid bool
	err := httpclient.Retry(ctx, c.attempts, c.delay, func() error {
		body, status, err := c.do(ctx, http.MethodGet, "/products/validate/"+url.PathEscape(productID), nil)
		if err != nil {
			return err
		}

		var out struct {
			Valid bool `json:"valid"`
		}
		if jsonErr := json.Unmarshal(body, &out); jsonErr != nil {
			// A bare 200 with no parseable body still counts as valid.
			valid = status == http.StatusOK
			return nil
		}
		valid = out.Valid
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		logger.Log.WithError(err).WithField("product_id", productID).
			Warn("Product validation degraded to invalid")
		return false, nil
	}
	return valid, nil
}

// GetCurrentStock looks up the stock level for a product at a location,
// degrading to unavailable when the service cannot answer.
func (c *Client) GetCurrentStock(ctx context.Context, productID, location string) (*StockLevel, error) {
	query := url.Values{}
	query.Set("productId", productID)
	query.Set("location", location)

	var level StockLevel
	err := httpclient.Retry(ctx, c.attempts, c.delay, func() error {
		body, _, err := c.do(ctx, http.MethodGet, "/stock/current?"+query.Encode(), nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(body, &level)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Log.WithError(err).WithFields(map[string]interface{}{
			"product_id": productID,
			"location":   location,
		}).Warn("Stock lookup degraded to unavailable")
		return &StockLevel{ProductID: productID, Location: location, Available: false}, nil
	}
	return &level, nil
}

// ProcessStockUpdate submits the stock mutation. Unlike the read calls it
// never degrades silently: the outcome, success or failure, comes back as a
// structured APIResult that drives the consumption log's terminal status.
func (c *Client) ProcessStockUpdate(ctx context.Context, message *inventory.StockMessage) (*APIResult, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshalling stock message: %w", err)
	}

	var (
		respBody   []byte
		respStatus int
	)
	callErr := httpclient.Retry(ctx, c.attempts, c.delay, func() error {
		body, status, err := c.do(ctx, http.MethodPost, "/stock/process", payload)
		respBody, respStatus = body, status
		return err
	})

	if callErr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		result := &APIResult{
			Status:     "ERROR",
			Message:    callErr.Error(),
			Success:    false,
			HTTPStatus: respStatus,
			Timestamp:  time.Now().UTC(),
		}
		return result, nil
	}

	result := &APIResult{
		Status:     "OK",
		Success:    true,
		HTTPStatus: respStatus,
		Timestamp:  time.Now().UTC(),
	}
	if len(respBody) > 0 {
		var parsed APIResult
		if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.Status != "" {
			parsed.HTTPStatus = respStatus
			if parsed.Timestamp.IsZero() {
				parsed.Timestamp = result.Timestamp
			}
			return &parsed, nil
		}
	}
	return result, nil
}

// SendNotification posts the processing outcome. One attempt only; the caller
// treats delivery as best effort.
func (c *Client) SendNotification(ctx context.Context, notification Notification) error {
	payload, err := json.Marshal(notification)
	if err != nil {
		return fmt.Errorf("marshalling notification: %w", err)
	}
	_, _, err = c.do(ctx, http.MethodPost, "/notifications/stock-processed", payload)
	return err
}

// do performs a single HTTP exchange, translating non-2xx responses into
// StatusError so the retry classifier can inspect the code.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp.StatusCode, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, resp.StatusCode, fmt.Errorf("stock api %s %s: %w", method, path, &httpclient.StatusError{Code: resp.StatusCode})
	}
	return body, resp.StatusCode, nil
}
