// Package handler содержит HTTP-обработчики API сервиса оформления заказов EchoBeats.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/echobeats-checkout/internal/domainverify"
	"github.com/mmeshcher/echobeats-checkout/internal/gateway"
	"github.com/mmeshcher/echobeats-checkout/internal/middleware"
	"github.com/mmeshcher/echobeats-checkout/internal/model"
	"github.com/mmeshcher/echobeats-checkout/internal/repository"
	"github.com/mmeshcher/echobeats-checkout/internal/validation"
)

const (
	msgPaymentsUnavailable = "Payment processing is currently unavailable. Missing Stripe configuration."
	msgInvalidBody         = "Invalid request body"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Subscribe(ctx context.Context, email string) (*model.Subscriber, error)
	CreatePaymentIntent(ctx context.Context, req model.CheckoutRequest) (*model.Checkout, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	RegisterDomain(ctx context.Context, domain string) (string, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	PaymentsEnabled() bool
}

// Options содержит необязательные зависимости обработчика.
type Options struct {
	PublishableKey string
	StaticDir      string
	RateLimiter    *middleware.RateLimiter
	DomainVerifier *domainverify.Verifier
	// TrustProxy разрешает брать адрес клиента из X-Forwarded-For и X-Real-IP.
	TrustProxy     bool
}

// Handler реализует HTTP-обработчики API сервиса.
type Handler struct {
	service   Service
	logger    *zap.Logger
	orderAuth *middleware.OrderAuth
	opts      Options
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.OrderAuth, opts Options) *Handler {
	return &Handler{
		service:   s,
		logger:    logger,
		orderAuth: auth,
		opts:      opts,
	}
}

type subscribeRequest struct {
	Email string `json:"email"`
}

// Subscribe добавляет email в список рассылки. Повторная подписка не считается ошибкой.
func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	if _, err := h.service.Subscribe(r.Context(), req.Email); err != nil {
		var ve *validation.Error
		if errors.As(err, &ve) {
			writeValidationError(w, ve)
			return
		}
		h.logger.Error("subscribe error", zap.Error(err))
		writeMessage(w, http.StatusInternalServerError, "Failed to subscribe to newsletter")
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{
		Success: true,
		Message: "Successfully subscribed to newsletter",
	})
}

type paymentIntentResponse struct {
	ClientSecret string `json:"clientSecret"`
	OrderID      int64  `json:"orderId"`
}

// CreatePaymentIntent создаёт заказ и авторизацию платежа, возвращая client secret.
func (h *Handler) CreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	if !h.service.PaymentsEnabled() {
		writeMessage(w, http.StatusServiceUnavailable, msgPaymentsUnavailable)
		return
	}

	var req model.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	checkout, err := h.service.CreatePaymentIntent(r.Context(), req)
	if err != nil {
		var ve *validation.Error
		switch {
		case errors.As(err, &ve):
			writeValidationError(w, ve)
		case errors.Is(err, gateway.ErrUnavailable):
			writeMessage(w, http.StatusServiceUnavailable, msgPaymentsUnavailable)
		default:
			h.logger.Error("create payment intent error", zap.Error(err), zap.String("productID", req.ProductID))
			writeMessage(w, http.StatusInternalServerError, "Failed to create payment intent")
		}
		return
	}

	if err := h.orderAuth.SetOrderCookie(w, checkout.OrderID); err != nil {
		h.logger.Error("set order cookie error", zap.Error(err), zap.Int64("orderID", checkout.OrderID))
	}

	writeJSON(w, http.StatusOK, paymentIntentResponse{
		ClientSecret: checkout.ClientSecret,
		OrderID:      checkout.OrderID,
	})
}

type verifyDomainRequest struct {
	Domain string `json:"domain"`
}

type verifyDomainResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Domain  string `json:"domain"`
}

// VerifyDomain регистрирует домен для оплаты через Apple Pay.
func (h *Handler) VerifyDomain(w http.ResponseWriter, r *http.Request) {
	if !h.service.PaymentsEnabled() {
		writeMessage(w, http.StatusServiceUnavailable, msgPaymentsUnavailable)
		return
	}

	var req verifyDomainRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeDecodeError(w, err)
		return
	}

	domain, err := h.service.RegisterDomain(r.Context(), req.Domain)
	if err != nil {
		var ve *validation.Error
		switch {
		case errors.As(err, &ve):
			writeValidationError(w, ve)
		case errors.Is(err, gateway.ErrInvalidDomain):
			writeValidationError(w, validation.NewError("domain", "Domain is invalid"))
		case errors.Is(err, gateway.ErrUnavailable):
			writeMessage(w, http.StatusServiceUnavailable, msgPaymentsUnavailable)
		default:
			h.logger.Error("verify domain error", zap.Error(err), zap.String("domain", req.Domain))
			writeMessage(w, http.StatusInternalServerError, "Failed to verify domain")
		}
		return
	}

	writeJSON(w, http.StatusOK, verifyDomainResponse{
		Success: true,
		Message: "Domain verified successfully",
		Domain:  domain,
	})
}

type webhookResponse struct {
	Received bool `json:"received"`
}

// Webhook принимает события платёжного провайдера. Тело запроса должно быть
// сохранено middleware.RawBody без изменений, иначе подпись не сойдётся.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, ok := middleware.RawBodyFromContext(r.Context())
	if !ok {
		h.logger.Error("webhook body was not captured")
		writeMessage(w, http.StatusInternalServerError, "Failed to process webhook")
		return
	}

	signature := r.Header.Get(gateway.SignatureHeader)

	err := h.service.HandleWebhook(r.Context(), payload, signature)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrUnavailable):
			writeMessage(w, http.StatusServiceUnavailable, "Payment processing is unavailable")
		case errors.Is(err, gateway.ErrSignature) && signature == "":
			writeMessage(w, http.StatusBadRequest, "Missing signature or endpoint secret")
		case errors.Is(err, gateway.ErrSignature):
			h.logger.Warn("webhook signature verification failed", zap.Error(err))
			writeMessage(w, http.StatusBadRequest, "Webhook Error: "+err.Error())
		default:
			h.logger.Error("webhook processing error", zap.Error(err))
			writeMessage(w, http.StatusInternalServerError, "Failed to process webhook")
		}
		return
	}

	writeJSON(w, http.StatusOK, webhookResponse{Received: true})
}

type orderResponse struct {
	ID            int64   `json:"id"`
	ProductID     string  `json:"productId"`
	ProductName   string  `json:"productName"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	CustomerEmail *string `json:"customerEmail,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

// GetOrder возвращает состояние заказа, к которому у клиента есть доступ.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	allowedID, ok := middleware.OrderIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeMessage(w, http.StatusBadRequest, "Invalid order id")
		return
	}

	if id != allowedID {
		writeMessage(w, http.StatusForbidden, http.StatusText(http.StatusForbidden))
		return
	}

	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			writeMessage(w, http.StatusNotFound, "Order not found")
			return
		}
		h.logger.Error("get order error", zap.Error(err), zap.Int64("orderID", id))
		writeMessage(w, http.StatusInternalServerError, "Failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, orderResponse{
		ID:            order.ID,
		ProductID:     order.ProductID,
		ProductName:   order.ProductName,
		Amount:        order.Amount,
		Currency:      order.Currency,
		CustomerEmail: order.CustomerEmail,
		Status:        string(order.Status),
		CreatedAt:     order.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     order.UpdatedAt.Format(time.RFC3339),
	})
}

type stripeConfigResponse struct {
	PublishableKey string `json:"publishableKey"`
	Enabled        bool   `json:"enabled"`
}

// StripeConfig отдаёт клиенту публичный ключ провайдера.
func (h *Handler) StripeConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, stripeConfigResponse{
		PublishableKey: h.opts.PublishableKey,
		Enabled:        h.service.PaymentsEnabled() && h.opts.PublishableKey != "",
	})
}

type healthResponse struct {
	Status   string `json:"status"`
	Payments bool   `json:"payments"`
}

// Health сообщает, что сервис запущен и настроен ли приём платежей.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Payments: h.service.PaymentsEnabled(),
	})
}

func (h *Handler) writeDecodeError(w http.ResponseWriter, err error) {
	var ve *validation.Error
	if errors.As(err, &ve) {
		writeValidationError(w, ve)
		return
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeMessage(w, http.StatusRequestEntityTooLarge, http.StatusText(http.StatusRequestEntityTooLarge))
		return
	}

	h.logger.Debug("decode request body error", zap.Error(err))
	writeMessage(w, http.StatusBadRequest, msgInvalidBody)
}

func (h *Handler) limit(next http.Handler) http.Handler {
	return h.opts.RateLimiter.Middleware(next)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	defer r.Body.Close()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dst); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return validation.NewError(typeErr.Field, "Expected "+jsonKind(typeErr.Type.Kind().String())+", received "+typeErr.Value)
		}
		return err
	}
	return nil
}
