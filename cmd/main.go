package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bonus_service/internal/bonus"
	"bonus_service/internal/cache"
	"bonus_service/internal/config"
	"bonus_service/internal/database"
	"bonus_service/internal/events"
	"bonus_service/internal/httpapi"
	"bonus_service/internal/logging"
	"bonus_service/internal/metrics"
	"bonus_service/internal/wallet"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln(err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DBDriver, cfg.DBConnStr)
	if err != nil {
		log.Fatalln(err)
	}
	if cfg.DBAutoMigrate {
		if err := database.Migrate(db); err != nil {
			log.Fatalln(err)
		}
	}

	walletRepo := wallet.NewWalletRepositoryImpl(db)
	walletService := wallet.NewService(walletRepo)

	opts := bonus.Options{
		Metrics: metrics.Bonus(),
		Logger:  logger,
	}
	if cfg.RedisURL != "" {
		client, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalln(err)
		}
		defer client.Close()
		opts.Cache = cache.NewContributionCache(client, cfg.ContributionCacheTTL)
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaBonusTopic, nil)
		if err != nil {
			log.Fatalln(err)
		}
		defer publisher.Close()
		opts.Publisher = publisher
	}

	engine := bonus.NewEngine(db, bonus.NewBonusRepository(db), wallet.NewBonusWallet(walletRepo, cfg.Currency), opts)

	gin.SetMode(gin.ReleaseMode)
	handler := httpapi.NewHandler(walletService, engine, cfg.Currency, logger)
	server := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.NewRouter(handler, cfg.MetricsPath, promhttp.Handler()),
	}

	go func() {
		logger.Info("server started", "addr", cfg.HTTPAddr, "db_driver", cfg.DBDriver,
			"redis", cfg.RedisURL != "", "kafka", len(cfg.KafkaBrokers) > 0)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
