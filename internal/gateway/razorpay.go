// Package gateway wraps the payment processor's REST API: order creation,
// refund creation, and webhook signature verification.
package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Client is an explicitly constructed adapter instance; inject it into the
// orchestrator rather than sharing module-level state.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	logger     *zap.Logger
}

type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// NewClient creates a new payment gateway client
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.NamedLogger("gateway"),
	}
}

// KeyID returns the public key callers need to open the gateway checkout.
func (c *Client) KeyID() string {
	return c.keyID
}

// Order is the gateway's order entity
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Refund is the gateway's refund entity
type Refund struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
}

// CreateOrder opens a payment order for the given amount in minor units.
func (c *Client) CreateOrder(ctx context.Context, amountPaise int64, currency, receipt string, notes map[string]string) (*Order, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("create_order").Observe(time.Since(start).Seconds())
	}()

	payload := map[string]interface{}{
		"amount":   amountPaise,
		"currency": currency,
		"receipt":  receipt,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var order Order
	if err := c.post(ctx, "/orders", payload, &order); err != nil {
		return nil, fmt.Errorf("gateway create order: %w", err)
	}

	c.logger.Info("Payment order created",
		zap.String("order_id", order.ID),
		zap.Int64("amount_paise", order.Amount))
	return &order, nil
}

// CreateRefund refunds part or all of a captured payment.
func (c *Client) CreateRefund(ctx context.Context, transactionID string, amountPaise int64, notes map[string]string) (*Refund, error) {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues("create_refund").Observe(time.Since(start).Seconds())
	}()

	payload := map[string]interface{}{
		"amount": amountPaise,
	}
	if len(notes) > 0 {
		payload["notes"] = notes
	}

	var refund Refund
	path := fmt.Sprintf("/payments/%s/refund", transactionID)
	if err := c.post(ctx, path, payload, &refund); err != nil {
		return nil, fmt.Errorf("gateway create refund: %w", err)
	}

	c.logger.Info("Refund created",
		zap.String("refund_id", refund.ID),
		zap.String("transaction_id", transactionID),
		zap.Int64("amount_paise", amountPaise))
	return &refund, nil
}

// VerifyWebhookSignature checks the HMAC-SHA256 signature over the exact raw
// request body. The body must not be re-serialized before verification; the
// gateway signs the bytes it sent.
func VerifyWebhookSignature(rawBody []byte, signature, secret string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.keyID, c.keySecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
