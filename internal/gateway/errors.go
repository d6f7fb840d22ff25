package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable возвращается всеми операциями, если платёжный провайдер не настроен.
	ErrUnavailable = errors.New("payment gateway is not configured")
	// ErrSignature возвращается, если подпись webhook отсутствует или не совпадает.
	ErrSignature = errors.New("webhook signature verification failed")
	// ErrInvalidDomain возвращается, если из строки не удалось выделить имя домена.
	ErrInvalidDomain = errors.New("invalid domain name")
)

// Error описывает неудачный вызов платёжного провайдера.
type Error struct {
	Op         string
	Code       string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
