package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pos-ledger/config"
	"pos-ledger/internal/api"
	"pos-ledger/internal/broker"
	"pos-ledger/internal/redisclient"
	"pos-ledger/internal/service"
	"pos-ledger/internal/store"
	"pos-ledger/internal/store/memory"
	"pos-ledger/internal/store/postgres"
	"pos-ledger/internal/util"
	"pos-ledger/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting POS ledger")

	tp, err := util.InitTracer(util.ServiceName, cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Warn("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to open ledger store", zap.Error(err))
	}
	defer db.Close()
	logger.Info("Ledger store ready", zap.String("backend", cfg.Database.Backend))

	readiness := map[string]api.Pinger{"store": db}

	var rollups service.RollupSink
	var rollupReader api.RollupReader
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, rollups and dashboard fan-out disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		logger.Info("Redis connected")
		rollups = redisClient
		rollupReader = redisClient
		readiness["redis"] = redisClient
	}

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger)
	defer producer.Close()
	logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicLedger))

	eventPublisher := broker.NewEventPublisher(producer)
	effects := service.NewSideEffects(rollups, eventPublisher, cfg.Business, cfg.Resilience)

	inventory := service.NewInventoryLedger(db)
	loyalty := service.NewLoyaltyLedger(db, cfg.Loyalty)
	sales := service.NewSaleLedger(db, inventory, loyalty, service.NewPaymentService(), effects, cfg.Business.DefaultCurrency)
	returns := service.NewReturnEngine(db, inventory, effects)
	swaps := service.NewSwapEngine(db, inventory, effects)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	var dashboardWorker *worker.DashboardWorker
	if redisClient != nil {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicLedger, cfg.Kafka.ConsumerGroup)
		dashboardWorker = worker.NewDashboardWorker(consumer, redisClient)
		go func() {
			if err := dashboardWorker.Start(workerCtx); err != nil && err != context.Canceled {
				logger.Error("Dashboard worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Sales:     sales,
		Returns:   returns,
		Swaps:     swaps,
		Inventory: inventory,
		Loyalty:   loyalty,
		Rollups:   rollupReader,
		Readiness: readiness,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	if dashboardWorker != nil {
		if err := dashboardWorker.Stop(); err != nil {
			logger.Warn("Failed to stop dashboard worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

// openStore picks the ledger backend. The memory backend is seeded with a demo store.
func openStore(cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return memory.NewSeeded(), nil
	case "postgres", "":
		db, err := postgres.NewStore(cfg.URL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := db.Migrate(ctx); err != nil {
				db.Close()
				return nil, fmt.Errorf("failed to migrate: %w", err)
			}
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
