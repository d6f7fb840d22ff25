package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/echobeats-checkout/internal/model"
)

// MemoryRepository хранит заказы и подписчиков в памяти процесса.
// Все изменения выполняются под одной блокировкой, читатели получают копии.
type MemoryRepository struct {
	mu sync.RWMutex

	orders      map[int64]model.Order
	byReference map[string]int64
	lastOrderID int64

	subscribers      map[int64]model.Subscriber
	byEmail          map[string]int64
	lastSubscriberID int64

	now func() time.Time
}

// NewMemoryRepository создаёт пустое хранилище в памяти.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orders:      make(map[int64]model.Order),
		byReference: make(map[string]int64),
		subscribers: make(map[int64]model.Subscriber),
		byEmail:     make(map[string]int64),
		now:         time.Now,
	}
}

// Close ничего не делает и нужен для совместимости с хранилищем PostgreSQL.
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateOrder создаёт заказ в статусе pending без ссылки на авторизацию.
func (r *MemoryRepository) CreateOrder(_ context.Context, o model.NewOrder) (*model.Order, error) {
	currency := o.Currency
	if currency == "" {
		currency = model.DefaultCurrency
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.lastOrderID++
	now := r.now().UTC()
	order := model.Order{
		ID:            r.lastOrderID,
		ProductID:     o.ProductID,
		ProductName:   o.ProductName,
		Amount:        o.Amount,
		Currency:      currency,
		CustomerEmail: copyString(o.CustomerEmail),
		Status:        model.OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.orders[order.ID] = order

	return cloneOrder(order), nil
}

// UpdateOrderStatus атомарно заменяет статус и ссылку на авторизацию заказа.
// Повторное применение того же перехода не меняет заказ.
func (r *MemoryRepository) UpdateOrderStatus(_ context.Context, id int64, status model.OrderStatus, reference string) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}

	if order.Status == status && order.GatewayReference == reference {
		return cloneOrder(order), nil
	}

	if !order.Status.CanTransitionTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	if owner, ok := r.byReference[reference]; ok && reference != "" && owner != id {
		return nil, fmt.Errorf("%w: %s", ErrReferenceInUse, reference)
	}

	if order.GatewayReference != reference {
		if order.GatewayReference != "" {
			delete(r.byReference, order.GatewayReference)
		}
		if reference != "" {
			r.byReference[reference] = id
		}
	}

	order.Status = status
	order.GatewayReference = reference
	order.UpdatedAt = r.now().UTC()
	r.orders[id] = order

	return cloneOrder(order), nil
}

// GetOrder возвращает заказ по идентификатору.
func (r *MemoryRepository) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

// GetOrderByGatewayReference возвращает заказ по идентификатору авторизации у провайдера.
func (r *MemoryRepository) GetOrderByGatewayReference(_ context.Context, reference string) (*model.Order, error) {
	if reference == "" {
		return nil, ErrOrderNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byReference[reference]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return cloneOrder(r.orders[id]), nil
}

// CreateSubscriber добавляет подписчика. Для уже известного адреса возвращает существующую запись.
func (r *MemoryRepository) CreateSubscriber(_ context.Context, email string) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byEmail[email]; ok {
		s := r.subscribers[id]
		return &s, nil
	}

	r.lastSubscriberID++
	s := model.Subscriber{
		ID:        r.lastSubscriberID,
		Email:     email,
		CreatedAt: r.now().UTC(),
	}
	r.subscribers[s.ID] = s
	r.byEmail[email] = s.ID

	return &s, nil
}

// GetSubscriberByEmail возвращает подписчика по адресу.
func (r *MemoryRepository) GetSubscriberByEmail(_ context.Context, email string) (*model.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[email]
	if !ok {
		return nil, ErrSubscriberNotFound
	}
	s := r.subscribers[id]
	return &s, nil
}

// ListSubscribers возвращает всех подписчиков в порядке регистрации.
func (r *MemoryRepository) ListSubscribers(_ context.Context) ([]model.Subscriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.Subscriber, 0, len(r.subscribers))
	for _, s := range r.subscribers {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })

	return res, nil
}

func cloneOrder(o model.Order) *model.Order {
	o.CustomerEmail = copyString(o.CustomerEmail)
	return &o
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
