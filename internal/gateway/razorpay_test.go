package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signBody(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifyWebhookSignature(t *testing.T) {
	body := []byte(`{"event":"payment.captured","payload":{}}`)
	secret := "whsec_test"

	assert.True(t, VerifyWebhookSignature(body, signBody(body, secret), secret))
	assert.False(t, VerifyWebhookSignature(body, signBody(body, "other-secret"), secret))
	assert.False(t, VerifyWebhookSignature(body, "not-a-signature", secret))

	// signature is over the exact bytes, not the parsed document
	reordered := []byte(`{"payload":{},"event":"payment.captured"}`)
	assert.False(t, VerifyWebhookSignature(reordered, signBody(body, secret), secret))
}

func TestCreateOrder(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotBody map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(Order{
			ID: "order_abc", Amount: 10000, Currency: "INR", Receipt: "bkg-1", Status: "created",
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "key", KeySecret: "secret", Timeout: time.Second})

	order, err := client.CreateOrder(context.Background(), 10000, "INR", "bkg-1", map[string]string{"booking": "1"})
	require.NoError(t, err)

	assert.Equal(t, "order_abc", order.ID)
	assert.Equal(t, "/orders", gotPath)
	assert.Equal(t, "key", gotUser)
	assert.Equal(t, "secret", gotPass)
	assert.Equal(t, float64(10000), gotBody["amount"])
	assert.Equal(t, "INR", gotBody["currency"])
	assert.NotNil(t, gotBody["notes"])
}

func TestCreateRefund(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(Refund{
			ID: "rfnd_1", PaymentID: "pay_9", Amount: 5000, Status: "processed",
		})
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "key", KeySecret: "secret"})

	refund, err := client.CreateRefund(context.Background(), "pay_9", 5000, nil)
	require.NoError(t, err)

	assert.Equal(t, "rfnd_1", refund.ID)
	assert.Equal(t, "/payments/pay_9/refund", gotPath)
}

func TestPostSurfacesGatewayErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"description":"amount too low"}}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, KeyID: "key", KeySecret: "secret"})

	_, err := client.CreateOrder(context.Background(), 1, "INR", "bkg-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}
