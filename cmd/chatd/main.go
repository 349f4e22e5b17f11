package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aescanero/chatd/internal/application/chat"
	"github.com/aescanero/chatd/internal/application/health"
	"github.com/aescanero/chatd/internal/config"
	"github.com/aescanero/chatd/pkg/adapters/events/memory"
	"github.com/aescanero/chatd/pkg/adapters/events/redis"
	"github.com/aescanero/chatd/pkg/adapters/llm"
	"github.com/aescanero/chatd/pkg/adapters/metrics/prometheus"
	"github.com/aescanero/chatd/pkg/api/grpc"
	"github.com/aescanero/chatd/pkg/api/http"
	"github.com/aescanero/chatd/pkg/api/websocket"
	"github.com/aescanero/chatd/pkg/ports"

	promclient "github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Version is set by build flags
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting chatd",
		zap.String("version", Version),
		zap.String("build_time", BuildTime))

	metricsCollector := prometheus.NewCollector(promclient.DefaultRegisterer)

	// Load the model backend once; it stays immutable until shutdown.
	backend, err := llm.NewBackend(&llm.Config{
		Provider:      cfg.Backend.Provider,
		BaseURL:       cfg.Backend.URL,
		APIKey:        cfg.Backend.APIKey,
		Timeout:       cfg.Backend.RequestTimeout,
		AddSpecial:    cfg.Backend.AddSpecial,
		EOSTokenID:    cfg.Backend.EOSTokenID,
		ThinkingKwarg: cfg.Backend.ThinkingKwarg,
		SpecialTokens: cfg.Backend.SpecialTokens,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to create model backend", zap.Error(err))
	}

	loadCtx, cancelLoad := context.WithTimeout(context.Background(), cfg.Timeouts.BackendLoadTimeout)
	err = backend.Load(loadCtx)
	cancelLoad()
	if err != nil {
		logger.Fatal("failed to load model backend", zap.Error(err))
	}

	// Initialize event bus
	var (
		eventBus    ports.EventBus
		redisClient *goredis.Client
	)
	switch cfg.Events.Backend {
	case "redis":
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})

		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("failed to connect to Redis", zap.Error(err))
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))

		eventBus = redis.NewStreamsEventBus(redisClient, cfg.Events.StreamMaxLen, logger)
	default:
		eventBus = memory.NewInMemoryEventBus()
	}

	// Initialize application components
	chatService := chat.NewService(
		backend,
		backend,
		eventBus,
		metricsCollector,
		chat.NewValidator(),
		logger,
	)

	healthMonitor := health.NewMonitor(
		backend,
		metricsCollector,
		cfg.Backend.HealthCheckInterval,
		cfg.Backend.HealthCheckTimeout,
		logger,
	)

	// Initialize API servers
	httpServer := http.NewServer(&http.Config{
		Port:               cfg.HTTPPort,
		Chat:               chatService,
		Health:             healthMonitor,
		Gatherer:           promclient.DefaultGatherer,
		Logger:             logger,
		DefaultMaxTokens:   cfg.Chat.DefaultMaxTokens,
		DefaultTemperature: cfg.Chat.DefaultTemperature,
	})

	wsHandler := websocket.NewHandler(eventBus, logger)
	httpServer.SetupWebSocket(wsHandler)

	var grpcServer *grpc.Server
	if cfg.GRPCEnabled() {
		grpcServer, err = grpc.NewServer(&grpc.Config{
			Port:   cfg.GRPCPort,
			Logger: logger,
		})
		if err != nil {
			logger.Fatal("failed to create gRPC server", zap.Error(err))
		}
		healthMonitor.AddListener(grpcServer.SetServing)
	}

	// First probe runs synchronously so /health is accurate from the start.
	checkCtx, cancelCheck := context.WithTimeout(context.Background(), cfg.Backend.HealthCheckTimeout)
	healthMonitor.Check(checkCtx)
	cancelCheck()
	healthMonitor.Start()

	// Start servers
	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	if grpcServer != nil {
		go func() {
			if err := grpcServer.Start(); err != nil {
				logger.Fatal("gRPC server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("chatd started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.String("backend", cfg.Backend.URL),
		zap.String("events", cfg.Events.Backend))

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	if grpcServer != nil {
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}
	}

	healthMonitor.Stop()

	if err := eventBus.Close(); err != nil {
		logger.Error("event bus close error", zap.Error(err))
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("Redis close error", zap.Error(err))
		}
	}

	if err := backend.Close(); err != nil {
		logger.Error("model backend close error", zap.Error(err))
	}

	logger.Info("chatd shut down complete")
}

// initLogger initializes the logger based on log level
func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := config.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	return logger
}
