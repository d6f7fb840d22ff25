// Package service реализует жизненный цикл заказа: оформление, получение
// авторизации платежа у провайдера и обработку подтверждений через webhook.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/echobeats-checkout/internal/events"
	"github.com/mmeshcher/echobeats-checkout/internal/gateway"
	"github.com/mmeshcher/echobeats-checkout/internal/model"
	"github.com/mmeshcher/echobeats-checkout/internal/repository"
	"github.com/mmeshcher/echobeats-checkout/internal/validation"
)

const defaultGatewayTimeout = 10 * time.Second

// Repository описывает контракт хранилища заказов и подписчиков.
type Repository interface {
	Close() error
	CreateOrder(ctx context.Context, o model.NewOrder) (*model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status model.OrderStatus, reference string) (*model.Order, error)
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetOrderByGatewayReference(ctx context.Context, reference string) (*model.Order, error)
	CreateSubscriber(ctx context.Context, email string) (*model.Subscriber, error)
	GetSubscriberByEmail(ctx context.Context, email string) (*model.Subscriber, error)
	ListSubscribers(ctx context.Context) ([]model.Subscriber, error)
}

// Gateway описывает контракт адаптера платёжного провайдера.
type Gateway interface {
	IsConfigured() bool
	CreateAuthorization(ctx context.Context, req gateway.AuthorizationRequest) (*gateway.Authorization, error)
	RetrieveAuthorization(ctx context.Context, reference string) (*gateway.Authorization, error)
	VerifyWebhook(payload []byte, signature, secret string) (*gateway.Event, error)
	RegisterDomain(ctx context.Context, domain string) (string, error)
}

// Options содержит необязательные параметры сервиса.
type Options struct {
	WebhookSecret  string
	GatewayTimeout time.Duration
	Publisher      events.Publisher
	Logger         *zap.Logger
}

// Service управляет жизненным циклом заказа.
type Service struct {
	repo           Repository
	gateway        Gateway
	publisher      events.Publisher
	logger         *zap.Logger
	webhookSecret  string
	gatewayTimeout time.Duration
}

// NewService создаёт сервис с указанным хранилищем и адаптером провайдера.
func NewService(repo Repository, gw Gateway, opts Options) *Service {
	s := &Service{
		repo:           repo,
		gateway:        gw,
		publisher:      opts.Publisher,
		logger:         opts.Logger,
		webhookSecret:  opts.WebhookSecret,
		gatewayTimeout: opts.GatewayTimeout,
	}

	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.gatewayTimeout <= 0 {
		s.gatewayTimeout = defaultGatewayTimeout
	}

	return s
}

// Close закрывает хранилище и издателя событий.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.repo != nil {
		errs = append(errs, s.repo.Close())
	}
	return errors.Join(errs...)
}

// PaymentsEnabled сообщает, настроен ли платёжный провайдер.
func (s *Service) PaymentsEnabled() bool {
	return s.gateway != nil && s.gateway.IsConfigured()
}

// Subscribe подписывает адрес на рассылку. Повторная подписка возвращает существующую запись.
func (s *Service) Subscribe(ctx context.Context, email string) (*model.Subscriber, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validation.Subscriber(email); err != nil {
		return nil, err
	}

	sub, err := s.repo.CreateSubscriber(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("create subscriber: %w", err)
	}
	return sub, nil
}

// CreatePaymentIntent оформляет заказ: проверяет запрос, создаёт заказ в статусе pending,
// получает авторизацию у провайдера и сохраняет её идентификатор в заказе.
// При ошибке провайдера заказ остаётся в статусе pending без ссылки на авторизацию.
func (s *Service) CreatePaymentIntent(ctx context.Context, req model.CheckoutRequest) (*model.Checkout, error) {
	if !s.PaymentsEnabled() {
		return nil, gateway.ErrUnavailable
	}

	req = normalizeCheckout(req)
	if err := validation.Checkout(req); err != nil {
		return nil, err
	}

	order, err := s.repo.CreateOrder(ctx, model.NewOrder{
		ProductID:     req.ProductID,
		ProductName:   req.ProductName,
		Amount:        req.Amount,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
	})
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.publish(ctx, events.OrderCreated, order)

	authReq := gateway.AuthorizationRequest{
		Amount:      order.Amount,
		Currency:    order.Currency,
		OrderID:     order.ID,
		ProductID:   order.ProductID,
		ProductName: order.ProductName,
	}
	if order.CustomerEmail != nil {
		authReq.ReceiptEmail = *order.CustomerEmail
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	auth, err := s.gateway.CreateAuthorization(gctx, authReq)
	if err != nil {
		s.logger.Error("create authorization failed", zap.Error(err), zap.Int64("orderID", order.ID))
		return nil, err
	}

	order, err = s.repo.UpdateOrderStatus(ctx, order.ID, model.OrderStatusPending, auth.Reference)
	if err != nil {
		return nil, fmt.Errorf("save gateway reference: %w", err)
	}
	s.publish(ctx, events.OrderAuthorized, order)

	return &model.Checkout{
		OrderID:      order.ID,
		ClientSecret: auth.ClientSecret,
	}, nil
}

func normalizeCheckout(req model.CheckoutRequest) model.CheckoutRequest {
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.ProductName = strings.TrimSpace(req.ProductName)
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))
	if req.Currency == "" {
		req.Currency = model.DefaultCurrency
	}
	if req.CustomerEmail != nil {
		email := strings.TrimSpace(*req.CustomerEmail)
		if email == "" {
			req.CustomerEmail = nil
		} else {
			req.CustomerEmail = &email
		}
	}
	return req
}

// HandleWebhook проверяет подпись события провайдера и применяет его к заказу.
// Событие для неизвестной авторизации подтверждается без изменений.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if !s.PaymentsEnabled() {
		return gateway.ErrUnavailable
	}

	event, err := s.gateway.VerifyWebhook(payload, signature, s.webhookSecret)
	if err != nil {
		return err
	}

	switch event.Type {
	case gateway.EventPaymentSucceeded:
		return s.applyGatewayStatus(ctx, event.Reference, model.OrderStatusCompleted)
	case gateway.EventPaymentCanceled:
		return s.applyGatewayStatus(ctx, event.Reference, model.OrderStatusCancelled)
	case gateway.EventPaymentFailed:
		// Клиент может повторить оплату с тем же PaymentIntent, заказ остаётся pending.
		s.logger.Info("payment attempt failed",
			zap.String("eventID", event.ID), zap.String("reference", event.Reference))
	default:
		s.logger.Debug("ignoring webhook event", zap.String("eventID", event.ID), zap.String("type", string(event.Type)))
	}

	return nil
}

func (s *Service) applyGatewayStatus(ctx context.Context, reference string, status model.OrderStatus) error {
	order, err := s.repo.GetOrderByGatewayReference(ctx, reference)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			s.logger.Warn("no order for gateway reference",
				zap.String("reference", reference), zap.String("status", string(status)))
			return nil
		}
		return fmt.Errorf("find order by reference: %w", err)
	}

	_, err = s.transition(ctx, order, status)
	return err
}

// transition переводит заказ в статус status. Повторный переход ничего не меняет,
// переход из другого конечного статуса игнорируется.
func (s *Service) transition(ctx context.Context, order *model.Order, status model.OrderStatus) (*model.Order, error) {
	if order.Status == status {
		return order, nil
	}
	if !order.Status.CanTransitionTo(status) {
		s.logger.Warn("ignoring order status transition",
			zap.Int64("orderID", order.ID),
			zap.String("from", string(order.Status)),
			zap.String("to", string(status)))
		return order, nil
	}

	updated, err := s.repo.UpdateOrderStatus(ctx, order.ID, status, order.GatewayReference)
	if err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			s.logger.Warn("order status changed concurrently", zap.Int64("orderID", order.ID), zap.Error(err))
			return s.repo.GetOrder(ctx, order.ID)
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	s.logger.Info("order status updated",
		zap.Int64("orderID", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("reference", updated.GatewayReference))

	switch status {
	case model.OrderStatusCompleted:
		s.publish(ctx, events.OrderCompleted, updated)
	case model.OrderStatusCancelled:
		s.publish(ctx, events.OrderCancelled, updated)
	}

	return updated, nil
}

// GetOrder возвращает заказ. Для заказа, ожидающего оплаты, состояние
// авторизации дополнительно сверяется с провайдером.
func (s *Service) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	order, err := s.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	if order.Status != model.OrderStatusPending || order.GatewayReference == "" || !s.PaymentsEnabled() {
		return order, nil
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	auth, err := s.gateway.RetrieveAuthorization(gctx, order.GatewayReference)
	if err != nil {
		s.logger.Warn("authorization status check failed", zap.Error(err), zap.Int64("orderID", id))
		return order, nil
	}

	var status model.OrderStatus
	switch auth.Status {
	case gateway.AuthorizationSucceeded:
		status = model.OrderStatusCompleted
	case gateway.AuthorizationCanceled:
		status = model.OrderStatusCancelled
	default:
		return order, nil
	}

	updated, err := s.transition(ctx, order, status)
	if err != nil {
		s.logger.Error("apply authorization status failed", zap.Error(err), zap.Int64("orderID", id))
		return order, nil
	}
	return updated, nil
}

// RegisterDomain регистрирует домен у провайдера для оплаты через кошельки.
func (s *Service) RegisterDomain(ctx context.Context, domain string) (string, error) {
	if !s.PaymentsEnabled() {
		return "", gateway.ErrUnavailable
	}

	if strings.TrimSpace(domain) == "" {
		return "", validation.NewError("domain", "Domain is required")
	}
	name := gateway.NormalizeDomain(domain)
	if name == "" {
		return "", validation.NewError("domain", "Domain is invalid")
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	registered, err := s.gateway.RegisterDomain(gctx, name)
	if err != nil {
		return "", err
	}
	return registered, nil
}

func (s *Service) publish(ctx context.Context, eventType string, order *model.Order) {
	if err := s.publisher.Publish(ctx, events.NewOrderEvent(eventType, order)); err != nil {
		s.logger.Warn("publish order event failed",
			zap.Error(err), zap.String("type", eventType), zap.Int64("orderID", order.ID))
	}
}
