package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"floor-sync/config"
	"floor-sync/internal/api"
	"floor-sync/internal/broker"
	"floor-sync/internal/gateway"
	"floor-sync/internal/memstore"
	"floor-sync/internal/models"
	"floor-sync/internal/redisclient"
	"floor-sync/internal/service"
	"floor-sync/internal/store"
	"floor-sync/internal/util"
	"floor-sync/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// floorStore is what the services need from persistence
type floorStore interface {
	service.TableStore
	service.OrderStore
	service.CallStore
	Ping(ctx context.Context) error
}

func main() {
	cfg := config.Load()

	if err := util.InitLogger("floor-server", cfg.Server.Env); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting floor sync server")

	tp, err := util.InitTracer("floor-sync", cfg.Observ.JaegerEndpoint)
	if err != nil {
		logger.Fatal("Failed to initialize tracer", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("Error shutting down tracer", zap.Error(err))
		}
	}()

	db, closeDB := openStore(cfg, logger)
	defer closeDB()

	hub := gateway.NewHub()

	var (
		fanout broker.Fanout
		cache  service.IdempotencyCache
	)
	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("Redis unavailable, events reach local sessions only", zap.Error(err))
	} else {
		defer redisClient.Close()
		fanout = redisClient
		cache = redisClient
		logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	var feed broker.FeedWriter
	var producer *broker.Producer
	if cfg.Kafka.Enabled {
		producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicFloor)
		defer producer.Close()
		feed = producer
		logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicFloor))
	}

	publisher := broker.NewEventPublisher(fanout, hub, feed)

	tableService := service.NewTableService(db, publisher)
	orderService := service.NewOrderService(db, cache, publisher, service.Rates{
		TaxPercent:           cfg.Business.TaxRatePercent,
		ServiceChargePercent: cfg.Business.ServiceChargePercent,
	})
	callService := service.NewWaiterCallService(db, publisher)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	if redisClient != nil {
		relay := broker.NewRelay(redisClient, hub)
		go func() {
			if err := relay.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Floor relay stopped", zap.Error(err))
			}
		}()
	}

	var analytics *worker.AnalyticsWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicFloor, cfg.Kafka.ConsumerGroup)
		analytics = worker.NewAnalyticsWorker(consumer)
		go func() {
			if err := analytics.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Analytics worker error", zap.Error(err))
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(tableService, orderService, callService, gateway.NewGateway(hub))
	handler.AddReadinessCheck("store", db)
	if redisClient != nil {
		handler.AddReadinessCheck("redis", redisClient)
	}
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
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	bgCancel()
	if analytics != nil {
		if err := analytics.Stop(); err != nil {
			logger.Warn("Failed to stop analytics worker", zap.Error(err))
		}
	}

	logger.Info("Server exited")
}

func openStore(cfg *config.Config, logger *zap.Logger) (floorStore, func()) {
	if cfg.Database.URL == config.MemoryDatabase {
		logger.Warn("Using in-memory store, data is lost on exit")
		st := memstore.New()
		seedDemoFloor(st)
		return st, func() {}
	}

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.Migrate(ctx); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}
	return db, func() { db.Close() }
}

// seedDemoFloor gives the in-memory store a small floor for restaurant 1
func seedDemoFloor(st *memstore.Store) {
	for n := 1; n <= 8; n++ {
		st.AddTable(models.Table{
			RestaurantID: 1,
			Number:       n,
			Capacity:     2 + 2*(n%3),
			Location:     "main",
			Status:       models.TableStatusFree,
		})
	}
	for _, item := range []models.MenuItem{
		{Name: "Margherita", Price: 1100},
		{Name: "Caesar salad", Price: 850},
		{Name: "Espresso", Price: 250},
		{Name: "Tiramisu", Price: 650},
	} {
		item.RestaurantID = 1
		item.Available = true
		st.AddMenuItem(item)
	}
}
