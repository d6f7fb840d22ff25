// Package domainverify однократно регистрирует домен сервиса у платёжного
// провайдера, чтобы на странице оформления работали кошельки (Apple Pay).
package domainverify

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/echobeats-checkout/internal/gateway"
)

const defaultTimeout = 10 * time.Second

// Registrar регистрирует домен у платёжного провайдера.
type Registrar interface {
	RegisterDomain(ctx context.Context, domain string) (string, error)
}

// Verifier выполняет регистрацию не более одного раза за время жизни процесса.
// Ошибки пишутся в журнал и дальше не передаются.
type Verifier struct {
	registrar  Registrar
	logger     *zap.Logger
	timeout    time.Duration
	trustProxy bool

	started atomic.Bool
	done    chan struct{}
}

// New создаёт Verifier. Заголовки X-Forwarded-* учитываются, только если
// trustProxy включён: сервис стоит за прокси, который их перезаписывает.
func New(r Registrar, logger *zap.Logger, timeout time.Duration, trustProxy bool) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Verifier{
		registrar:  r,
		logger:     logger,
		timeout:    timeout,
		trustProxy: trustProxy,
		done:       make(chan struct{}),
	}
}

// Verify регистрирует домен из origin, если origin безопасен и попытка ещё не
// предпринималась. Возвращает true, если попытка была сделана этим вызовом.
func (v *Verifier) Verify(ctx context.Context, origin string) bool {
	if !IsSecureOrigin(origin) {
		v.logger.Debug("skip domain verification for insecure origin", zap.String("origin", origin))
		return false
	}
	if !v.started.CompareAndSwap(false, true) {
		return false
	}
	defer close(v.done)

	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	domain, err := v.registrar.RegisterDomain(ctx, origin)
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) {
			v.logger.Info("domain verification skipped, payments are not configured")
			return true
		}
		v.logger.Warn("domain verification failed", zap.String("origin", origin), zap.Error(err))
		return true
	}

	v.logger.Info("domain verified for wallet payments", zap.String("domain", domain))
	return true
}

// Done закрывается после завершения единственной попытки регистрации.
func (v *Verifier) Done() <-chan struct{} {
	return v.done
}

// Middleware запускает регистрацию в фоне при первом запросе с безопасного origin.
// Обработка самого запроса не ждёт её завершения.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.started.Load() {
			if origin, ok := v.secureRequestOrigin(r); ok {
				go v.Verify(context.WithoutCancel(r.Context()), origin)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// secureRequestOrigin возвращает origin запроса, если он пришёл по https или
// адресован localhost с loopback-адреса.
func (v *Verifier) secureRequestOrigin(r *http.Request) (string, bool) {
	origin := RequestOrigin(r, v.trustProxy)
	if !IsSecureOrigin(origin) {
		return "", false
	}
	if strings.HasPrefix(origin, "https://") || isLoopbackPeer(r) {
		return origin, true
	}
	return "", false
}

// RequestOrigin восстанавливает origin запроса. X-Forwarded-Proto и
// X-Forwarded-Host читаются только при trustProxy.
func RequestOrigin(r *http.Request, trustProxy bool) string {
	scheme := "http"
	if r.TLS != nil || (trustProxy && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")) {
		scheme = "https"
	}

	host := r.Host
	if trustProxy {
		if fh := r.Header.Get("X-Forwarded-Host"); fh != "" {
			host = fh
		}
	}

	return scheme + "://" + host
}

func isLoopbackPeer(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// IsSecureOrigin сообщает, считается ли origin безопасным контекстом:
// https или локальный адрес.
func IsSecureOrigin(origin string) bool {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" {
		return false
	}

	if strings.EqualFold(u.Scheme, "https") {
		return true
	}

	switch strings.ToLower(u.Hostname()) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}
