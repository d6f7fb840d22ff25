// Package repository содержит реализации хранилища заказов и подписчиков:
// в памяти для разработки и тестов и в PostgreSQL для production.
package repository

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrSubscriberNotFound возвращается, если подписчик не найден.
	ErrSubscriberNotFound = errors.New("subscriber not found")
	// ErrInvalidTransition возвращается при попытке перевести заказ из конечного статуса.
	ErrInvalidTransition = errors.New("invalid order status transition")
	// ErrReferenceInUse возвращается, если ссылка на авторизацию уже принадлежит другому заказу.
	ErrReferenceInUse = errors.New("gateway reference belongs to another order")
)
