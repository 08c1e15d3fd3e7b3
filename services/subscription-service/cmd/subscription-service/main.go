package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventfanout/libs/bus"
	"github.com/md-rashed-zaman/eventfanout/libs/cdc"
	"github.com/md-rashed-zaman/eventfanout/libs/config"
	"github.com/md-rashed-zaman/eventfanout/libs/db"
	"github.com/md-rashed-zaman/eventfanout/libs/deadletter"
	"github.com/md-rashed-zaman/eventfanout/libs/docstore"
	"github.com/md-rashed-zaman/eventfanout/libs/fifo"
	"github.com/md-rashed-zaman/eventfanout/libs/httpx"
	"github.com/md-rashed-zaman/eventfanout/libs/kafkax"
	otelx "github.com/md-rashed-zaman/eventfanout/libs/otel"
	"github.com/md-rashed-zaman/eventfanout/libs/runtime"
	"github.com/md-rashed-zaman/eventfanout/services/subscription-service/internal/handlers"
	"github.com/md-rashed-zaman/eventfanout/services/subscription-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const busName = "subscriptions"

func main() {
	service := config.String("SERVICE_NAME", "subscription-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	store := docstore.NewPGStore(pool, logger)
	if err := store.Setup(ctx); err != nil {
		logger.Error("store setup failed", "err", err)
		panic(err)
	}
	collection := store.Collection("subscriptions")
	repo := storage.NewSubscriptionRepository(collection)

	var rdb *redis.Client
	var dedup fifo.DedupIndex
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       config.Int("REDIS_DB", 0),
		})
		defer func() { _ = rdb.Close() }()
		dedup = fifo.NewRedisDedupIndex(rdb, config.Duration("DEDUP_WINDOW", 5*time.Minute), busName)
		logger.Info("dedup window backed by redis", "redis_addr", addr)
	} else {
		dedup = fifo.NewMemoryDedupIndex(config.Duration("DEDUP_WINDOW", 5*time.Minute))
	}

	queue := fifo.NewQueue(fifo.Config{
		Name:        "subscription-events",
		MaxAttempts: config.Int("QUEUE_MAX_ATTEMPTS", 3),
		Dedup:       dedup,
		Logger:      logger,
	})

	handler := handlers.NewSubscriptionHandler(repo, logger)

	rulesCfg, err := bus.LoadConfig(config.String("RULES_CONFIG", "deploy/rules.yaml"))
	if err != nil {
		logger.Error("rules config invalid", "err", err)
		panic(err)
	}

	brokers := config.String("KAFKA_BROKERS", "")
	dlqRegistry := deadletter.NewRegistry(config.Int("DLQ_CAPACITY", 1000))
	localBus, err := bus.Build(rulesCfg, busName, bus.BuildOptions{
		Handlers: map[string]bus.Deliverer{
			"cancel-subscription": bus.HandlerFunc(handler.CancelOnPaymentCancelled),
		},
		Remote: func(name string) (bus.Publisher, error) {
			if brokers == "" {
				return nil, fmt.Errorf("KAFKA_BROKERS required for relay to bus %q", name)
			}
			return kafkax.NewBusWriter(brokers, name), nil
		},
		Archive:      archiveWriter(brokers, logger),
		RelayTimeout: config.Duration("RELAY_TIMEOUT", 5*time.Second),
		DeadLetters:  dlqRegistry,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("bus build failed", "err", err)
		panic(err)
	}

	relay := cdc.NewRelay(collection, queue, cdc.RelayConfig{GroupID: busName}, logger)
	go relay.Run(ctx)

	consumer := cdc.NewConsumer(queue, localBus, cdc.ConsumerConfig{
		Source:    "app.subscriptions",
		BatchSize: config.Int("QUEUE_BATCH_SIZE", 5),
	}, logger)
	go consumer.Run(ctx)

	if brokers != "" {
		ingress := kafkax.NewBusReader(brokers, busName, service, logger)
		go ingress.Run(ctx, localBus.Publish)
	} else {
		logger.Warn("no kafka brokers configured; envelopes from other domains will not arrive")
	}

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/subscriptions", handler.Create)
	mux.HandleFunc("/api/v1/subscriptions/", handler.Cancel)
	mux.HandleFunc("/dlq", deadletter.Handler(dlqRegistry))

	rl := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 60), time.Minute)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		rl.Middleware(),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "subscriptions")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	if err := localBus.Close(shutdownCtx); err != nil {
		logger.Error("bus drain timed out", "err", err)
	}
	logger.Info("service stopped")
}

// Without kafka the archive degrades to the structured event log so
// the topology still loads in local runs.
func archiveWriter(brokers string, logger *slog.Logger) bus.Deliverer {
	if brokers == "" {
		return bus.NewEventLog(logger)
	}
	return kafkax.NewArchiveWriter(brokers, "event-archive")
}
