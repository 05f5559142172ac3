package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"spot-trading-bot/config"
	"spot-trading-bot/internal/advisor"
	"spot-trading-bot/internal/api"
	"spot-trading-bot/internal/binance"
	"spot-trading-bot/internal/bot"
	"spot-trading-bot/internal/database"
	"spot-trading-bot/internal/history"
	"spot-trading-bot/internal/logging"
	"spot-trading-bot/internal/order"
	"spot-trading-bot/internal/position"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := logging.New("info", true)
		fallback.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := logging.New(cfg.LoggingConfig.Level, cfg.LoggingConfig.Console)
	logger.Info().
		Str("symbol", cfg.TradingConfig.Symbol).
		Str("interval", cfg.TradingConfig.Interval).
		Msg("starting spot trading bot")

	client := binance.NewClient(cfg.BinanceConfig.APIKey, cfg.BinanceConfig.SecretKey, cfg.BinanceConfig.BaseURL)
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := client.Ping(pingCtx); err != nil {
		pingCancel()
		logger.Fatal().Err(err).Msg("exchange unreachable")
	}
	pingCancel()

	// Optional Postgres: gradient history and the trade audit log. Without
	// it the bot runs on in-memory history only.
	var repo *database.Repository
	var store history.Store = history.NewMemoryStore(cfg.TradingConfig.GradientCap)
	if cfg.DatabaseConfig.Enabled {
		db, err := database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     cfg.DatabaseConfig.User,
			Password: cfg.DatabaseConfig.Password,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := db.RunMigrations(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("database migrations failed")
		}
		repo = database.NewRepository(db)
		store = history.NewDBStore(repo, cfg.TradingConfig.GradientCap)
		logger.Info().Msg("database connected, gradient history persisted")
	}

	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Addr,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer redisClient.Close()
	}
	cache := position.NewCache(redisClient, logger)

	tracker := position.NewTracker(client, cache,
		cfg.TradingConfig.Symbol, cfg.TradingConfig.BaseAsset, cfg.TradingConfig.QuoteAsset,
		cfg.TradingConfig.DustThreshold, logger)
	executor := order.NewExecutor(client, cfg.TradingConfig.Symbol, logger)

	var adv advisor.Advisor = advisor.Nop{}
	if cfg.AdvisorConfig.Enabled {
		advCfg := advisor.DefaultClientConfig()
		advCfg.APIKey = cfg.AdvisorConfig.APIKey
		advCfg.Model = cfg.AdvisorConfig.Model
		advCfg.BaseURL = cfg.AdvisorConfig.BaseURL
		adv = advisor.NewClient(advCfg, logger)
		logger.Info().Str("model", advCfg.Model).Msg("advisory service enabled")
	}

	board := &api.StatusBoard{}
	var server *api.Server
	if cfg.ServerConfig.Enabled {
		server = api.NewServer(api.ServerConfig{
			Port:           cfg.ServerConfig.Port,
			ProductionMode: cfg.ServerConfig.ProductionMode,
		}, repo, board, logger)
		go func() {
			if err := server.Start(); err != nil {
				logger.Error().Err(err).Msg("status API failed")
			}
		}()
	}

	tradingBot := bot.New(client, tracker, executor, store, adv, repo, board, cfg.TradingConfig, logger)
	tradingBot.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	tradingBot.Stop()
	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("status API shutdown failed")
		}
	}
	logger.Info().Msg("shutdown complete")
}
