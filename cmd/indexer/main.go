package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"world-indexer.backend/internal/config"
	"world-indexer.backend/internal/domain/entities"
	"world-indexer.backend/internal/domain/repositories"
	"world-indexer.backend/internal/infrastructure/blockchain"
	datasource "world-indexer.backend/internal/infrastructure/datasources/sqlite"
	"world-indexer.backend/internal/infrastructure/jobs"
	"world-indexer.backend/internal/infrastructure/storage"
	"world-indexer.backend/internal/interfaces/http/handlers"
	"world-indexer.backend/internal/interfaces/http/middleware"
	"world-indexer.backend/internal/interfaces/p2p"
	"world-indexer.backend/internal/usecases"
	"world-indexer.backend/pkg/logger"
	"world-indexer.backend/pkg/utils"
)

var (
	loadDotenv = godotenv.Load
	loadCfg    = config.Load
	initLog    = logger.Init
	openDB     = func(path string) (*gorm.DB, error) { return datasource.NewConnection(path) }
	newClient  = func(rpcURL string) (repositories.ChainProvider, error) {
		return blockchain.NewStarknetClient(rpcURL)
	}
	newRelay = func(ctx context.Context, cfg p2p.Config, handler p2p.MessageHandler) (*p2p.Relay, error) {
		return p2p.NewRelay(ctx, cfg, handler)
	}
	runServer = func(r *gin.Engine, port string) error { return r.Run(":" + port) }
)

func main() {
	if err := runMainProcess(); err != nil {
		log.Fatal(err)
	}
}

func runMainProcess() error {
	// Load .env file
	if err := loadDotenv(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Load configuration
	cfg := loadCfg()

	// Initialize Logger
	initLog(cfg.Server.Env)
	defer logger.Sync()
	logger.Info(context.Background(), "Logger initialized", zap.String("env", cfg.Server.Env))

	// Set Gin mode
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open the indexer store
	db, err := openDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Storage pipeline: single-writer executor behind the materializer,
	// query engine for reads.
	broker := storage.NewBroker()
	cache := storage.NewModelCache(db)
	executor := storage.NewExecutor(db, broker)
	materializer := storage.NewMaterializer(executor, cache)
	queryEngine := storage.NewQueryEngine(db, cache)

	// Chain provider
	provider, err := newClient(cfg.Indexing.RPCURL)
	if err != nil {
		return fmt.Errorf("failed to connect to chain provider: %w", err)
	}

	if cfg.Indexing.WorldAddress == "" {
		return fmt.Errorf("WORLD_ADDRESS is required")
	}
	worldAddress, err := utils.HexToFelt(cfg.Indexing.WorldAddress)
	if err != nil {
		return fmt.Errorf("invalid WORLD_ADDRESS: %w", err)
	}
	world := entities.NewWorld(worldAddress)

	// Indexing engine
	processor := usecases.NewEventProcessor(world, materializer, provider,
		cfg.Indexing.Namespaces, cfg.Indexing.HistoricalEvents)
	engine := usecases.NewEngine(provider, materializer, queryEngine, processor, world, worldAddress,
		usecases.EngineConfig{
			FromBlock:         cfg.Indexing.FromBlock,
			PollingInterval:   cfg.Indexing.PollingInterval,
			BlocksChunkSize:   cfg.Indexing.BlocksChunkSize,
			EventsChunkSize:   cfg.Indexing.EventsChunkSize,
			IndexPending:      cfg.Indexing.IndexPending,
			IndexRawEvents:    cfg.Indexing.IndexRawEvents,
			IndexTransactions: cfg.Indexing.IndexTransactions,
			DevProvider:       cfg.Indexing.DevProvider,
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go executor.Run(ctx)

	if err := cache.EnsureModels(ctx); err != nil {
		return fmt.Errorf("failed to load registered models: %w", err)
	}

	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize indexing engine: %w", err)
	}
	go engine.Run(ctx)

	// Off-chain message relay
	messageUsecase := usecases.NewMessageUsecase(materializer, queryEngine, provider)
	var publisher handlers.MessagePublisher
	if cfg.Relay.Enabled {
		relay, err := newRelay(ctx, p2p.Config{Port: cfg.Relay.Port}, messageUsecase)
		if err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
		defer relay.Close()
		go relay.Run(ctx)
		publisher = relay
	}

	// Background jobs
	metricsJob := jobs.NewMetricsRefreshJob(queryEngine)
	go metricsJob.Start(ctx)

	// Initialize handlers
	worldHandler := handlers.NewWorldHandler(world, engine, queryEngine)
	queryHandler := handlers.NewQueryHandler(queryEngine)
	messageHandler := handlers.NewMessageHandler(messageUsecase, publisher)
	subscriptionHandler := handlers.NewSubscriptionHandler(broker)

	// Initialize router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggerMiddleware())

	applyCORSMiddleware(r)
	registerHealthRoute(r, worldHandler)
	registerMetricsRoute(r)
	registerAPIV1Routes(r, routeDeps{
		worldHandler:        worldHandler,
		queryHandler:        queryHandler,
		messageHandler:      messageHandler,
		subscriptionHandler: subscriptionHandler,
	})

	// Graceful shutdown
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		logger.Info(context.Background(), "shutting down")
		metricsJob.Stop()
		cancel()
	}()

	logger.Info(context.Background(), "world indexer starting",
		zap.String("port", cfg.Server.Port),
		zap.String("world", world.Address),
		zap.String("rpc", cfg.Indexing.RPCURL))

	if err := runServer(r, cfg.Server.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}
