package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/api"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/bot"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/catalog"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/config"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/engine"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/messaging"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/monitoring"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/oracle/coingecko"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/internal/repository"
	"github.com/SilverbackOssi/Telegram-Crypto-Exchange-Simulation/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("Exchange bot terminated")
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger.Init(cfg.Logging)
	logrus.Info("Starting Telegram crypto exchange")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// MongoDB
	mongoCtx, cancel := context.WithTimeout(ctx, cfg.Database.ConnectTimeout)
	defer cancel()

	mongoOpts := options.Client().
		ApplyURI(cfg.Database.URI).
		SetMaxPoolSize(uint64(cfg.Database.MaxPoolSize)).
		SetMinPoolSize(uint64(cfg.Database.MinPoolSize)).
		SetServerSelectionTimeout(cfg.Database.SelectionTimeout)

	mongoClient, err := mongo.Connect(mongoCtx, mongoOpts)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logrus.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}()
	if err := mongoClient.Ping(mongoCtx, nil); err != nil {
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	db := mongoClient.Database(cfg.Database.Database)
	logrus.Info("Connected to MongoDB")

	// Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.RedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	logrus.Info("Connected to Redis")

	// Repositories
	userRepo := repository.NewUserRepository(db)
	walletRepo := repository.NewWalletRepository(db)
	txnRepo := repository.NewTransactionRepository(db)
	lockRepo := repository.NewLockRepository(redisClient)

	coingeckoClient := coingecko.NewClient(&coingecko.Config{
		APIKey:    cfg.CoinGecko.APIKey,
		BaseURL:   cfg.CoinGecko.BaseURL,
		Timeout:   cfg.CoinGecko.Timeout,
		RateLimit: cfg.CoinGecko.RateLimit,
	})

	loader := catalog.NewLoader(coingeckoClient, db)
	if err := createIndexes(ctx, userRepo, walletRepo, txnRepo, loader); err != nil {
		return err
	}

	if cfg.Catalog.LoadOnStartup {
		loadCtx, cancelLoad := context.WithTimeout(ctx, 5*time.Minute)
		if err := loader.Load(loadCtx); err != nil {
			logrus.WithError(err).Warn("Startup catalog load failed, continuing with existing registry")
		}
		cancelLoad()
	}

	refresher := catalog.NewRefresher(loader, cfg.Catalog.RefreshSpec)
	if err := refresher.Start(); err != nil {
		return fmt.Errorf("failed to start catalog refresher: %w", err)
	}
	defer refresher.Stop()

	currencyCatalog := catalog.NewCatalog(db)
	metrics := monitoring.NewPrometheusMetrics()
	priceOracle := oracle.NewCachedOracle(coingeckoClient, redisClient, oracle.Config{
		PriceTTL: cfg.Cache.PriceTTL,
		StaleTTL: cfg.Cache.StaleTTL,
	}, metrics)

	store := repository.NewWalletStore(mongoClient, userRepo, walletRepo, txnRepo, lockRepo, cfg.Redis.LockTTL)

	// Event publishing is optional; the engine tolerates a nil publisher.
	var publisher engine.EventPublisher
	if cfg.RabbitMQ.Enabled {
		p, err := messaging.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, cfg.RabbitMQ.RetryAttempts, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		defer p.Close()
		publisher = p
	}

	ledger := engine.NewLedgerEngine(store, priceOracle, currencyCatalog, publisher, metrics)

	// HTTP read API
	handler := api.NewWalletHandler(store, ledger)
	router := api.NewRouter(cfg, handler, metrics)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logrus.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	// Telegram bot
	exchangeBot, err := bot.New(cfg.Telegram, ledger, store, currencyCatalog, metrics)
	if err != nil {
		return err
	}

	botErrors := make(chan error, 1)
	go func() {
		if err := exchangeBot.Run(ctx); err != nil && err != context.Canceled {
			botErrors <- err
		}
	}()

	select {
	case err := <-serverErrors:
		return fmt.Errorf("HTTP server failed: %w", err)
	case err := <-botErrors:
		return fmt.Errorf("telegram bot failed: %w", err)
	case <-ctx.Done():
		logrus.Info("Shutdown signal received")
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}

	logrus.Info("Exchange stopped")
	return nil
}

func createIndexes(ctx context.Context, userRepo repository.UserRepository, walletRepo repository.WalletRepository, txnRepo repository.TransactionRepository, loader *catalog.Loader) error {
	indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := userRepo.CreateIndexes(indexCtx); err != nil {
		return err
	}
	if err := walletRepo.CreateIndexes(indexCtx); err != nil {
		return err
	}
	if err := txnRepo.CreateIndexes(indexCtx); err != nil {
		return err
	}
	return loader.CreateIndexes(indexCtx)
}
