package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/stockflow/platform/pkg/common/config"
	"github.com/stockflow/platform/pkg/common/database"
	commonkafka "github.com/stockflow/platform/pkg/common/kafka"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/observability/metrics"
	"github.com/stockflow/platform/pkg/producer"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := producer.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate publication tables")
	}

	kafkaProducer := commonkafka.NewProducer(cfg.KafkaBrokers)
	defer kafkaProducer.Close()

	router := producer.NewRouter(cfg.TopicStockUpdates, cfg.TopicHighPriority, cfg.TopicTransfers)
	tracker := producer.NewTracker(
		repo,
		kafkaProducer,
		cfg.TopicAlerts,
		cfg.ProducerID,
		cfg.LowStockThreshold,
		cfg.AlertRetryAttempts,
		cfg.AlertRetryDelay,
	)
	svc := producer.NewService(router, tracker)
	handler := producer.NewHTTPHandler(svc, repo, cfg.MaxRequestBody)

	httpRouter := mux.NewRouter()
	httpRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	httpRouter.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}).Methods(http.MethodGet)

	httpRouter.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := httpRouter.PathPrefix("/api/v1").Subrouter()
	handler.Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      httpRouter,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host": cfg.ServerHost,
			"port": cfg.ServerPort,
		}).Info("Producer Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Producer Service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres connection")
	}

	logger.Log.Info("Producer Service stopped")
}
