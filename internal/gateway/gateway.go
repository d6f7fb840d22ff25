// Package gateway изолирует обращения к платёжному провайдеру Stripe:
// создание и получение PaymentIntent, проверку подписи webhook и регистрацию
// доменов для оплаты через кошельки.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/mmeshcher/echobeats-checkout/internal/model"
)

// SignatureHeader содержит имя заголовка с подписью webhook.
const SignatureHeader = "Stripe-Signature"

// EventType описывает тип события webhook.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_intent.succeeded"
	EventPaymentFailed    EventType = "payment_intent.payment_failed"
	EventPaymentCanceled  EventType = "payment_intent.canceled"
)

// AuthorizationStatus описывает состояние авторизации у провайдера.
type AuthorizationStatus string

const (
	AuthorizationSucceeded AuthorizationStatus = "succeeded"
	AuthorizationCanceled  AuthorizationStatus = "canceled"
)

// Config содержит параметры подключения к провайдеру.
type Config struct {
	SecretKey string
	Timeout   time.Duration
	// APIURL переопределяет адрес API, например для stripe-mock.
	APIURL string
}

// AuthorizationRequest описывает запрос на создание авторизации платежа.
type AuthorizationRequest struct {
	Amount       float64
	Currency     string
	OrderID      int64
	ProductID    string
	ProductName  string
	ReceiptEmail string
}

// Authorization описывает авторизацию платежа у провайдера.
type Authorization struct {
	Reference    string
	ClientSecret string
	Status       AuthorizationStatus
}

// Event описывает проверенное событие webhook.
type Event struct {
	ID        string
	Type      EventType
	Reference string
}

// Gateway реализует обращения к Stripe.
type Gateway struct {
	api        *client.API
	logger     *zap.Logger
	configured bool
}

// New создаёт адаптер провайдера. Без секретного ключа адаптер создаётся
// в ненастроенном состоянии, и все операции возвращают ErrUnavailable.
func New(cfg Config, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}

	g := &Gateway{logger: logger}

	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" {
		logger.Warn("stripe secret key is empty, payment processing is disabled")
		return g
	}
	if !isSecretKey(key) {
		logger.Warn("stripe secret key has unexpected format, payment processing is disabled")
		return g
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	newConfig := func() *stripe.BackendConfig {
		bc := &stripe.BackendConfig{
			HTTPClient:        &http.Client{Timeout: timeout},
			LeveledLogger:     logger.Sugar(),
			MaxNetworkRetries: stripe.Int64(0),
		}
		if cfg.APIURL != "" {
			bc.URL = stripe.String(cfg.APIURL)
		}
		return bc
	}

	g.api = client.New(key, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, newConfig()),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, newConfig()),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, newConfig()),
	})
	g.configured = true

	logger.Info("stripe payment processing configured")

	return g
}

func isSecretKey(key string) bool {
	return strings.HasPrefix(key, "sk_") || strings.HasPrefix(key, "rk_")
}

// IsConfigured сообщает, доступен ли провайдер.
func (g *Gateway) IsConfigured() bool {
	return g != nil && g.configured
}

// CreateAuthorization создаёт PaymentIntent на сумму заказа. Сумма переводится
// в минимальные единицы валюты, запрос выполняется один раз без повторов.
func (g *Gateway) CreateAuthorization(ctx context.Context, req AuthorizationRequest) (*Authorization, error) {
	if !g.IsConfigured() {
		return nil, ErrUnavailable
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(model.MinorUnits(req.Amount, req.Currency)),
		Currency: stripe.String(req.Currency),
	}
	params.Context = ctx
	params.AddMetadata("orderId", strconv.FormatInt(req.OrderID, 10))
	params.AddMetadata("productId", req.ProductID)
	params.AddMetadata("productName", req.ProductName)
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, wrapError("create payment intent", err)
	}

	return &Authorization{
		Reference:    pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       AuthorizationStatus(pi.Status),
	}, nil
}

// RetrieveAuthorization запрашивает текущее состояние PaymentIntent.
func (g *Gateway) RetrieveAuthorization(ctx context.Context, reference string) (*Authorization, error) {
	if !g.IsConfigured() {
		return nil, ErrUnavailable
	}

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Get(reference, params)
	if err != nil {
		return nil, wrapError("retrieve payment intent", err)
	}

	return &Authorization{
		Reference: pi.ID,
		Status:    AuthorizationStatus(pi.Status),
	}, nil
}

// VerifyWebhook проверяет подпись над исходным телом запроса и разбирает событие.
func (g *Gateway) VerifyWebhook(payload []byte, signature, secret string) (*Event, error) {
	if !g.IsConfigured() {
		return nil, ErrUnavailable
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrSignature, SignatureHeader)
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: webhook endpoint secret is not configured", ErrSignature)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSignature, err)
	}

	event := &Event{
		ID:   ev.ID,
		Type: EventType(ev.Type),
	}

	if ev.Data != nil && len(ev.Data.Raw) > 0 && strings.HasPrefix(string(ev.Type), "payment_intent.") {
		var obj struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(ev.Data.Raw, &obj); err != nil {
			return nil, &Error{Op: "parse webhook", Err: err}
		}
		event.Reference = obj.ID
	}

	return event, nil
}

// RegisterDomain регистрирует домен для оплаты через Apple Pay и другие кошельки.
// Ответ провайдера о том, что домен уже зарегистрирован, считается успехом.
func (g *Gateway) RegisterDomain(ctx context.Context, domain string) (string, error) {
	if !g.IsConfigured() {
		return "", ErrUnavailable
	}

	name := NormalizeDomain(domain)
	if name == "" {
		return "", ErrInvalidDomain
	}

	params := &stripe.ApplePayDomainParams{
		DomainName: stripe.String(name),
	}
	params.Context = ctx

	d, err := g.api.ApplePayDomains.New(params)
	if err != nil {
		if isAlreadyRegistered(err) {
			g.logger.Info("domain already registered", zap.String("domain", name))
			return name, nil
		}
		return "", wrapError("register domain", err)
	}

	return d.DomainName, nil
}

func isAlreadyRegistered(err error) bool {
	var se *stripe.Error
	if errors.As(err, &se) {
		return strings.Contains(strings.ToLower(se.Msg), "already")
	}
	return strings.Contains(err.Error(), "already exists")
}

func wrapError(op string, err error) error {
	ge := &Error{Op: op, Err: err}

	var se *stripe.Error
	if errors.As(err, &se) {
		ge.Code = string(se.Code)
		ge.HTTPStatus = se.HTTPStatusCode
	}

	return ge
}
