// Package model содержит доменные сущности сервиса оформления заказов EchoBeats.
package model

import "time"

// DefaultCurrency используется, если валюта заказа не указана.
const DefaultCurrency = "usd"

// OrderStatus описывает статус заказа.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal сообщает, является ли статус конечным.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// Valid сообщает, известен ли статус.
func (s OrderStatus) Valid() bool {
	return s == OrderStatusPending || s.IsTerminal()
}

// CanTransitionTo сообщает, допустим ли переход в статус next.
// Статусы меняются только вперёд: pending -> конечный. Повтор текущего статуса допустим.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	return s == OrderStatusPending && next.IsTerminal()
}

// Order описывает заказ одной сессии оформления.
type Order struct {
	ID               int64
	ProductID        string
	ProductName      string
	Amount           float64
	Currency         string
	CustomerEmail    *string
	Status           OrderStatus
	GatewayReference string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewOrder содержит данные для создания заказа.
type NewOrder struct {
	ProductID     string
	ProductName   string
	Amount        float64
	Currency      string
	CustomerEmail *string
}

// CheckoutRequest описывает запрос клиента на оформление заказа.
type CheckoutRequest struct {
	ProductID     string  `json:"productId"`
	ProductName   string  `json:"productName"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency,omitempty"`
	CustomerEmail *string `json:"customerEmail,omitempty"`
}

// Checkout содержит результат успешного оформления: идентификатор заказа
// и секрет, с которым клиент завершает оплату у платёжного провайдера.
type Checkout struct {
	OrderID      int64
	ClientSecret string
}

// Subscriber описывает подписчика рассылки.
type Subscriber struct {
	ID        int64
	Email     string
	CreatedAt time.Time
}
