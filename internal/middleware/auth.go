// Package middleware содержит HTTP middleware для сервиса оформления заказов EchoBeats.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const orderIDKey contextKey = "orderID"

const (
	orderCookieName = "order_token"
	orderCookiePath = "/api/orders"
	orderTokenTTL   = 7 * 24 * time.Hour
)

// ErrInvalidOrderToken возвращается, если токен доступа к заказу не прошёл проверку.
var ErrInvalidOrderToken = errors.New("invalid order token")

type orderClaims struct {
	jwt.RegisteredClaims
}

// OrderAuth выдаёт и проверяет токен доступа к заказу, который покупатель
// получает вместе с client secret при оформлении.
type OrderAuth struct {
	secretKey []byte
	ttl       time.Duration
	now       func() time.Time
}

// NewOrderAuth создаёт OrderAuth с указанным ключом подписи.
// Пустой ключ заменяется случайным: токены тогда живут до перезапуска процесса.
func NewOrderAuth(secret string) *OrderAuth {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &OrderAuth{
		secretKey: key,
		ttl:       orderTokenTTL,
		now:       time.Now,
	}
}

// IssueToken подписывает токен для указанного заказа.
func (a *OrderAuth) IssueToken(orderID int64) (string, time.Time, error) {
	now := a.now()
	expiresAt := now.Add(a.ttl)

	claims := orderClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(orderID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secretKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign order token: %w", err)
	}

	return signed, expiresAt, nil
}

// ParseToken проверяет подпись и срок действия токена и возвращает идентификатор заказа.
func (a *OrderAuth) ParseToken(tokenString string) (int64, error) {
	claims := &orderClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidOrderToken
		}
		return a.secretKey, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return 0, ErrInvalidOrderToken
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrInvalidOrderToken
	}

	return id, nil
}

// SetOrderCookie устанавливает cookie доступа к заказу.
func (a *OrderAuth) SetOrderCookie(w http.ResponseWriter, orderID int64) error {
	value, expiresAt, err := a.IssueToken(orderID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     orderCookieName,
		Value:    value,
		Path:     orderCookiePath,
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return nil
}

// Middleware проверяет cookie доступа и добавляет идентификатор заказа в контекст запроса.
func (a *OrderAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(orderCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		orderID, err := a.ParseToken(cookie.Value)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), orderIDKey, orderID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OrderIDFromContext извлекает идентификатор заказа из контекста запроса.
func OrderIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(orderIDKey).(int64)
	return id, ok
}
