// Package events публикует события жизненного цикла заказа в Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mmeshcher/echobeats-checkout/internal/model"
)

// Типы событий заказа.
const (
	OrderCreated    = "order.created"
	OrderAuthorized = "order.authorized"
	OrderCompleted  = "order.completed"
	OrderCancelled  = "order.cancelled"
)

// OrderEvent описывает событие заказа.
type OrderEvent struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	OrderID          int64     `json:"orderId"`
	ProductID        string    `json:"productId"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	GatewayReference string    `json:"gatewayReference,omitempty"`
	OccurredAt       time.Time `json:"occurredAt"`
}

// NewOrderEvent создаёт событие заказа с новым идентификатором.
func NewOrderEvent(eventType string, o *model.Order) OrderEvent {
	return OrderEvent{
		ID:               uuid.NewString(),
		Type:             eventType,
		OrderID:          o.ID,
		ProductID:        o.ProductID,
		Amount:           o.Amount,
		Currency:         o.Currency,
		Status:           string(o.Status),
		GatewayReference: o.GatewayReference,
		OccurredAt:       time.Now().UTC(),
	}
}

// Publisher публикует события заказа.
type Publisher interface {
	Publish(ctx context.Context, event OrderEvent) error
	Close() error
}

// NopPublisher отбрасывает события. Используется, если брокер не настроен.
type NopPublisher struct{}

// Publish ничего не делает.
func (NopPublisher) Publish(context.Context, OrderEvent) error { return nil }

// Close ничего не делает.
func (NopPublisher) Close() error { return nil }

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher публикует события в топик Kafka. Ключом сообщения служит
// идентификатор заказа, поэтому события одного заказа попадают в одну партицию.
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher создаёт издателя для указанных брокеров и топика.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			BatchTimeout:           10 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// Publish сериализует событие в JSON и отправляет его в топик.
func (p *KafkaPublisher) Publish(ctx context.Context, event OrderEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(event.OrderID, 10)),
		Value: data,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "event-id", Value: []byte(event.ID)},
		},
	})
	if err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	return nil
}

// Close закрывает соединения с брокерами.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
