package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/glimte/mmate-bgmq/contracts"
	"github.com/glimte/mmate-bgmq/health"
	"github.com/glimte/mmate-bgmq/interceptors"
	"github.com/glimte/mmate-bgmq/internal/config"
	"github.com/glimte/mmate-bgmq/messaging"
	"github.com/glimte/mmate-bgmq/transports/rabbitmq"
)

const (
	handlerTimeout = 5 * time.Second
	healthTimeout  = 2 * time.Second
	maxBacklog     = 10000
)

type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	checks   *health.Registry
	broker   *messaging.Broker
	replies  *rabbitmq.ReplyClient
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger, failureRate float64) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}

	collector := interceptors.NewPrometheusCollector(a.registry)
	if err := collector.Register(); err != nil {
		return nil, fmt.Errorf("failed to register handler metrics: %w", err)
	}

	validator, err := demoValidator()
	if err != nil {
		return nil, err
	}

	options := []messaging.BrokerOption{
		messaging.WithLogger(logger),
		messaging.WithRetryCount(cfg.RetryCount),
		messaging.WithOutMaxSize(cfg.OutMaxSize),
		messaging.WithInterceptors(
			interceptors.NewTracingInterceptor(otel.GetTracerProvider()),
			interceptors.NewLoggingInterceptor(logger),
			interceptors.NewMetricsInterceptor(collector),
			interceptors.NewValidationInterceptor(validator),
			interceptors.NewTimeoutInterceptor(handlerTimeout),
		),
		messaging.WithOutHandlers(func(queue string, env *contracts.Envelope) {
			logger.Debug("out notification", "queue", queue, "messageId", env.ID)
		}),
	}
	if cfg.QueuePrefix != "" {
		options = append(options, messaging.WithQueuePrefix(cfg.QueuePrefix))
	}
	if cfg.DisablePriority {
		options = append(options, messaging.WithDisablePriorityQueues())
	}

	if cfg.AMQPURL != "" {
		replies, err := rabbitmq.Dial(ctx, cfg.AMQPURL,
			rabbitmq.WithLogger(logger),
			rabbitmq.WithQueuePrefix(cfg.AMQPPrefix))
		if err != nil {
			return nil, err
		}
		a.replies = replies
		options = append(options, messaging.WithReplyClientFactory(rabbitmq.NewReplyClientFactory(replies)))
	}

	a.broker = messaging.NewBroker(options...)
	if err := registerDemoHandlers(a.broker, cfg.ThreadCount, failureRate, logger); err != nil {
		a.close()
		return nil, err
	}

	if err := a.registry.Register(messaging.NewStatsCollector(a.broker)); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to register broker metrics: %w", err)
	}

	a.checks = health.NewRegistry(
		health.NewBrokerChecker(a.broker),
		health.NewQueueBacklogChecker(a.broker, maxBacklog, false),
		health.NewGoroutineChecker(1000, 5000),
	)
	return a, nil
}

func (a *app) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.Handle("/health", health.NewHandler(a.checks, healthTimeout))
	mux.Handle("/ready", health.ReadinessHandler(a.checks, healthTimeout))
	mux.Handle("/live", health.LivenessHandler())
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"status":   a.broker.GetStatus(),
			"workers":  a.broker.WorkerCount(),
			"handlers": a.broker.Handlers(),
		}); err != nil {
			a.logger.Warn("failed to write stats", "error", err)
		}
	})
	return mux
}

// serveMetrics blocks until ctx is done or the listener fails
func (a *app) serveMetrics(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// produce publishes an order every interval until ctx is done
func (a *app) produce(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := publishOrder(a.broker, n, !a.cfg.DisablePriority); err != nil {
				return err
			}
		}
	}
}

// runBatch publishes count orders and waits until each is placed or dead-lettered
func (a *app) runBatch(ctx context.Context, count int) error {
	if err := a.broker.Start(); err != nil {
		return err
	}

	for n := 1; n <= count; n++ {
		if err := publishOrder(a.broker, n, !a.cfg.DisablePriority); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for settledOrders(a.broker) < int64(count) {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d of %d orders settled: %w", settledOrders(a.broker), count, ctx.Err())
		case <-ticker.C:
		}
	}
	return a.broker.Stop()
}

func (a *app) close() error {
	err := a.broker.Dispose()
	if a.replies != nil {
		if cerr := a.replies.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
