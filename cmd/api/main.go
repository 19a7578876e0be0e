package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"example.com/tracking/internal/api"
	"example.com/tracking/internal/auth"
	"example.com/tracking/internal/config"
	"example.com/tracking/internal/consumer"
	"example.com/tracking/internal/domain"
	"example.com/tracking/internal/outbox"
	"example.com/tracking/internal/persistence/memory"
	persistence "example.com/tracking/internal/persistence/postgres"
	"example.com/tracking/internal/realtime"
	"example.com/tracking/internal/registry"
	"example.com/tracking/internal/tracking"
	httptransport "example.com/tracking/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       domain.DeliveryRepository
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StoreDriver {
	case "memory":
		var seed []domain.Delivery
		if cfg.MemorySeedFile != "" {
			seed, err = memory.LoadSeed(cfg.MemorySeedFile)
			if err != nil {
				log.Fatalf("failed to load memory seed: %v", err)
			}
		}
		log.Printf("using in-memory delivery store deliveries=%d", len(seed))
		repo = memory.NewRepository(seed...)
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		defer pool.Close()
		repo = persistence.NewRepository(pool)

		if cfg.KafkaEnabled {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()

			schemas := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, producer, schemas, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
				outbox.WithClaimTimeout(cfg.OutboxClaimTimeout))
			go dispatcher.Start(ctx)
		}
	}

	connections := registry.New(cfg.RegistryShards)
	hub := realtime.NewHub(cfg.RegistryShards)
	service := domain.NewService(repo, tracking.NewStore(cfg.TrackingShards), connections, hub,
		domain.WithStoreTimeout(cfg.StoreTimeout))
	notifier := domain.NewNotifier(connections, nil)

	var workers sync.WaitGroup
	if cfg.KafkaEnabled {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.ConsumerGroupID,
			Topic:   cfg.NotificationTopic,
		})
		defer reader.Close()

		processor := consumer.NewProcessor(reader, consumer.NewNotificationHandler(notifier, nil))
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("notification consumer stopped: %v", err)
			}
		}()
	}

	verifier := auth.NewVerifier(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	gateway := realtime.NewGateway(verifier, service, hub, realtime.Config{
		PingInterval:   cfg.WSPingInterval,
		WriteTimeout:   cfg.WSWriteTimeout,
		SendBuffer:     cfg.WSSendBuffer,
		ReadLimit:      cfg.WSReadLimit,
		OriginPatterns: cfg.WSAllowedOrigins,
	})

	handler := api.NewHandler(service, notifier)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/ws", gateway)

	// The gateway authenticates its own handshake so it can answer with an error event.
	authMiddleware := auth.NewMiddleware(verifier, func(r *http.Request) bool {
		switch r.URL.Path {
		case "/healthz", "/metrics", "/ws":
			return true
		}
		return false
	})

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:           cfg.HTTPAddress,
		ReadHeaderTimeout: cfg.HTTPReadHeaderTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
	}, httptransport.LogRequests(log.Default(), authMiddleware.Wrap(mux)))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("tracking-relay listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	gateway.Shutdown()

	workers.Wait()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}
