package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testWebhookSecret = "whsec_test_secret"

func newTestGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()

	ts := httptest.NewServer(h)
	t.Cleanup(ts.Close)

	g := New(Config{SecretKey: "sk_test_123", Timeout: time.Second, APIURL: ts.URL}, zap.NewNop())
	require.True(t, g.IsConfigured())

	return g
}

func writeStripeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatalf("encode: %v", err)
	}
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	unix := ts.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", unix, payload)))
	return fmt.Sprintf("t=%d,v1=%s", unix, hex.EncodeToString(mac.Sum(nil)))
}

func TestNew_Unconfigured(t *testing.T) {
	tests := []struct {
		name string
		key  string
	}{
		{name: "empty key", key: ""},
		{name: "publishable key", key: "pk_test_123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(Config{SecretKey: tt.key}, zap.NewNop())
			assert.False(t, g.IsConfigured())

			_, err := g.CreateAuthorization(context.Background(), AuthorizationRequest{Amount: 1, Currency: "usd"})
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = g.RetrieveAuthorization(context.Background(), "pi_123")
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = g.VerifyWebhook([]byte(`{}`), "t=1,v1=abc", testWebhookSecret)
			assert.ErrorIs(t, err, ErrUnavailable)

			_, err = g.RegisterDomain(context.Background(), "shop.example.com")
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}
}

func TestCreateAuthorization_OK(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "14900", r.PostForm.Get("amount"))
		assert.Equal(t, "usd", r.PostForm.Get("currency"))
		assert.Equal(t, "7", r.PostForm.Get("metadata[orderId]"))
		assert.Equal(t, "echobeats-pro", r.PostForm.Get("metadata[productId]"))
		assert.Equal(t, "EchoBeats Pro", r.PostForm.Get("metadata[productName]"))
		assert.Equal(t, "buyer@example.com", r.PostForm.Get("receipt_email"))

		writeStripeJSON(t, w, http.StatusOK, map[string]any{
			"id":            "pi_123",
			"object":        "payment_intent",
			"client_secret": "secret_abc",
			"status":        "requires_payment_method",
		})
	})

	auth, err := g.CreateAuthorization(context.Background(), AuthorizationRequest{
		Amount:       149,
		Currency:     "usd",
		OrderID:      7,
		ProductID:    "echobeats-pro",
		ProductName:  "EchoBeats Pro",
		ReceiptEmail: "buyer@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, "pi_123", auth.Reference)
	assert.Equal(t, "secret_abc", auth.ClientSecret)
}

func TestCreateAuthorization_RoundsAmount(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "1999", r.PostForm.Get("amount"))

		writeStripeJSON(t, w, http.StatusOK, map[string]any{"id": "pi_1", "object": "payment_intent", "client_secret": "s"})
	})

	_, err := g.CreateAuthorization(context.Background(), AuthorizationRequest{Amount: 19.99, Currency: "usd"})
	require.NoError(t, err)
}

func TestCreateAuthorization_Rejected(t *testing.T) {
	calls := 0
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeStripeJSON(t, w, http.StatusPaymentRequired, map[string]any{
			"error": map[string]any{
				"type":    "card_error",
				"code":    "amount_too_small",
				"message": "Amount must be at least $0.50 usd",
			},
		})
	})

	_, err := g.CreateAuthorization(context.Background(), AuthorizationRequest{Amount: 0.1, Currency: "usd"})
	require.Error(t, err)

	var ge *Error
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, "amount_too_small", ge.Code)
	assert.Equal(t, http.StatusPaymentRequired, ge.HTTPStatus)
	assert.Equal(t, 1, calls)
}

func TestCreateAuthorization_Timeout(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := g.CreateAuthorization(ctx, AuthorizationRequest{Amount: 149, Currency: "usd"})

	var ge *Error
	require.True(t, errors.As(err, &ge))
}

func TestRetrieveAuthorization(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/payment_intents/pi_123", r.URL.Path)

		writeStripeJSON(t, w, http.StatusOK, map[string]any{
			"id":     "pi_123",
			"object": "payment_intent",
			"status": "succeeded",
		})
	})

	auth, err := g.RetrieveAuthorization(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.Equal(t, AuthorizationSucceeded, auth.Status)
}

func TestRegisterDomain_NormalizesBeforeSubmit(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/apple_pay/domains", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "shop.example.com", r.PostForm.Get("domain_name"))

		writeStripeJSON(t, w, http.StatusOK, map[string]any{
			"id":          "apwc_1",
			"object":      "apple_pay_domain",
			"domain_name": "shop.example.com",
		})
	})

	domain, err := g.RegisterDomain(context.Background(), "https://shop.example.com:443/path")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", domain)
}

func TestRegisterDomain_AlreadyRegistered(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(t, w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "Apple Pay domain shop.example.com already exists.",
			},
		})
	})

	domain, err := g.RegisterDomain(context.Background(), "shop.example.com")
	require.NoError(t, err)
	assert.Equal(t, "shop.example.com", domain)
}

func TestRegisterDomain_Failure(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		writeStripeJSON(t, w, http.StatusBadRequest, map[string]any{
			"error": map[string]any{
				"type":    "invalid_request_error",
				"message": "The domain is not reachable.",
			},
		})
	})

	_, err := g.RegisterDomain(context.Background(), "shop.example.com")

	var ge *Error
	require.True(t, errors.As(err, &ge))
}

func TestRegisterDomain_Empty(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	})

	_, err := g.RegisterDomain(context.Background(), "https:///")
	assert.ErrorIs(t, err, ErrInvalidDomain)
}

func TestVerifyWebhook(t *testing.T) {
	g := New(Config{SecretKey: "sk_test_123"}, zap.NewNop())
	payload := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","object":"payment_intent","status":"succeeded"}}}`)

	t.Run("valid signature", func(t *testing.T) {
		ev, err := g.VerifyWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()), testWebhookSecret)
		require.NoError(t, err)
		assert.Equal(t, "evt_1", ev.ID)
		assert.Equal(t, EventPaymentSucceeded, ev.Type)
		assert.Equal(t, "pi_123", ev.Reference)
	})

	t.Run("tampered body", func(t *testing.T) {
		header := signPayload(payload, testWebhookSecret, time.Now())
		tampered := []byte(`{"id":"evt_1","object":"event","type":"payment_intent.succeeded","data":{"object":{"id":"pi_999","object":"payment_intent","status":"succeeded"}}}`)

		_, err := g.VerifyWebhook(tampered, header, testWebhookSecret)
		assert.ErrorIs(t, err, ErrSignature)
	})

	t.Run("reserialized body", func(t *testing.T) {
		header := signPayload(payload, testWebhookSecret, time.Now())

		var parsed map[string]any
		require.NoError(t, json.Unmarshal(payload, &parsed))
		reserialized, err := json.MarshalIndent(parsed, "", "  ")
		require.NoError(t, err)

		_, err = g.VerifyWebhook(reserialized, header, testWebhookSecret)
		assert.ErrorIs(t, err, ErrSignature)
	})

	t.Run("wrong secret", func(t *testing.T) {
		_, err := g.VerifyWebhook(payload, signPayload(payload, "whsec_other", time.Now()), testWebhookSecret)
		assert.ErrorIs(t, err, ErrSignature)
	})

	t.Run("expired timestamp", func(t *testing.T) {
		_, err := g.VerifyWebhook(payload, signPayload(payload, testWebhookSecret, time.Now().Add(-time.Hour)), testWebhookSecret)
		assert.ErrorIs(t, err, ErrSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := g.VerifyWebhook(payload, "", testWebhookSecret)
		assert.ErrorIs(t, err, ErrSignature)
	})

	t.Run("missing secret", func(t *testing.T) {
		_, err := g.VerifyWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()), "")
		assert.ErrorIs(t, err, ErrSignature)
	})
}

func TestVerifyWebhook_NonPaymentEvent(t *testing.T) {
	g := New(Config{SecretKey: "sk_test_123"}, zap.NewNop())
	payload := []byte(`{"id":"evt_2","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	ev, err := g.VerifyWebhook(payload, signPayload(payload, testWebhookSecret, time.Now()), testWebhookSecret)
	require.NoError(t, err)
	assert.Equal(t, EventType("customer.created"), ev.Type)
	assert.Empty(t, ev.Reference)
}
