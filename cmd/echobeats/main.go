// Package main запускает HTTP-сервер оформления заказов EchoBeats.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/echobeats-checkout/internal/config"
	"github.com/mmeshcher/echobeats-checkout/internal/domainverify"
	"github.com/mmeshcher/echobeats-checkout/internal/events"
	"github.com/mmeshcher/echobeats-checkout/internal/gateway"
	"github.com/mmeshcher/echobeats-checkout/internal/handler"
	"github.com/mmeshcher/echobeats-checkout/internal/middleware"
	"github.com/mmeshcher/echobeats-checkout/internal/repository"
	"github.com/mmeshcher/echobeats-checkout/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := newRepository(cfg)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	gw := gateway.New(gateway.Config{
		SecretKey: cfg.StripeSecretKey,
		Timeout:   cfg.GatewayTimeout,
	}, logger)
	if !gw.IsConfigured() {
		sugar.Warn("STRIPE_SECRET_KEY is not set, payment processing is disabled")
	} else if cfg.StripeWebhookSecret == "" {
		sugar.Warn("STRIPE_WEBHOOK_SECRET is not set, webhooks will be rejected")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		sugar.Infow("publishing order events", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	svc := service.NewService(repo, gw, service.Options{
		WebhookSecret:  cfg.StripeWebhookSecret,
		GatewayTimeout: cfg.GatewayTimeout,
		Publisher:      publisher,
		Logger:         logger,
	})
	defer svc.Close()

	verifier := domainverify.New(svc, logger, cfg.GatewayTimeout, cfg.TrustProxy)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	orderAuth := middleware.NewOrderAuth(cfg.SessionSecret)

	h := handler.NewHandler(svc, logger, orderAuth, handler.Options{
		PublishableKey: cfg.StripePublishableKey,
		StaticDir:      cfg.StaticDir,
		RateLimiter:    limiter,
		DomainVerifier: verifier,
		TrustProxy:     cfg.TrustProxy,
	})

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Регистрация домена при старте, если публичный адрес известен заранее
	if cfg.PublicURL != "" && gw.IsConfigured() {
		g.Go(func() error {
			verifier.Verify(ctx, cfg.PublicURL)
			return nil
		})
	}

	g.Go(func() error {
		return limiter.Cleanup(ctx)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting echobeats checkout server", "addr", cfg.RunAddress, "payments", gw.IsConfigured())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}

func newRepository(cfg *config.Config) (service.Repository, error) {
	if cfg.DatabaseURI == "" {
		return repository.NewMemoryRepository(), nil
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		return nil, err
	}
	return repo, nil
}
