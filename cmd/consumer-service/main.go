package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/stockflow/platform/pkg/common/config"
	"github.com/stockflow/platform/pkg/common/database"
	commonkafka "github.com/stockflow/platform/pkg/common/kafka"
	"github.com/stockflow/platform/pkg/common/logger"
	"github.com/stockflow/platform/pkg/consumer"
	"github.com/stockflow/platform/pkg/observability/metrics"
	"github.com/stockflow/platform/pkg/stockapi"
)

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres()
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}

	repo := consumer.NewRepository(db, database.GetRedis(), cfg.DedupTTL)
	if err := repo.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate consumption tables")
	}

	apiClient := stockapi.New(stockapi.Config{
		BaseURL:       cfg.StockAPIBaseURL,
		Timeout:       cfg.StockAPITimeout,
		RetryAttempts: cfg.StockAPIRetryAttempts,
		RetryDelay:    cfg.StockAPIRetryDelay,
		ClientID:      cfg.StockAPIClientID,
		ClientSecret:  cfg.StockAPIClientSecret,
		TokenURL:      cfg.StockAPITokenURL,
	})

	executor := consumer.NewExecutor(cfg.ProcessingWorkers)
	processor := consumer.NewProcessor(repo, apiClient)
	pipeline := consumer.NewPipeline(repo, processor, executor, cfg.ConsumerMaxAttempts)

	forwarder := commonkafka.NewProducer(cfg.KafkaBrokers)
	defer forwarder.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseTopics := []string{cfg.TopicStockUpdates, cfg.TopicHighPriority, cfg.TopicTransfers}
	var consumers []*commonkafka.Consumer
	var wg sync.WaitGroup

	startConsumer := func(topic, baseTopic string) {
		c := commonkafka.NewConsumer(commonkafka.ConsumerConfig{
			Brokers:      cfg.KafkaBrokers,
			GroupID:      cfg.KafkaGroupID,
			Topic:        topic,
			BaseTopic:    baseTopic,
			MaxAttempts:  cfg.ConsumerMaxAttempts,
			RetryBackoff: cfg.ConsumerRetryBackoff,
			MaxBackoff:   cfg.ConsumerMaxBackoff,
		}, forwarder)
		c.OnDeadLetter = func(commonkafka.Delivery) { metrics.IncDeadLettered() }
		consumers = append(consumers, c)

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Log.WithField("topic", topic).Info("Consumer started")
			if err := c.Consume(ctx, pipeline.Handle); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).WithField("topic", topic).Error("Consumer stopped unexpectedly")
			}
		}()
	}

	for _, topic := range baseTopics {
		startConsumer(topic, topic)
		startConsumer(commonkafka.RetryTopic(topic), topic)
	}

	auditHandler := consumer.NewHTTPHandler(repo)

	httpRouter := mux.NewRouter()
	httpRouter.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	httpRouter.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w)
	}).Methods(http.MethodGet)

	api := httpRouter.PathPrefix("/api/v1").Subrouter()
	auditHandler.Register(api)

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
		}).Info("Consumer Service started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down Consumer Service...")
	cancel()

	for _, c := range consumers {
		if err := c.Close(); err != nil {
			logger.Log.WithError(err).Error("failed to close consumer")
		}
	}
	wg.Wait()
	executor.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}
	if err := database.ClosePostgres(); err != nil {
		logger.Log.WithError(err).Error("failed to close postgres connection")
	}
	if err := database.CloseRedis(); err != nil {
		logger.Log.WithError(err).Error("failed to close redis connection")
	}

	logger.Log.Info("Consumer Service stopped")
}
