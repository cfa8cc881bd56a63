package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quicksell/internal/api/handlers"
	"quicksell/internal/clock"
	"quicksell/internal/config"
	"quicksell/internal/infrastructure/leader"
	"quicksell/internal/infrastructure/mysql"
	"quicksell/internal/infrastructure/redis"
	"quicksell/internal/services"
	"quicksell/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log := logger.New()
	log.Info("Starting Quicksell auction service")

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize Redis
	rdb := redisClient.NewClient(&redisClient.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to Redis", "address", cfg.Redis.Address)

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		log.Error("Failed to connect to MySQL", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		log.Error("Failed to ping MySQL", "error", err)
		os.Exit(1)
	}
	log.Info("Connected to MySQL")

	clk := clock.NewSystem()

	// Repositories and caches
	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	walletRepo := mysql.NewMySQLWalletRepository(db)
	stateCache := redis.NewRedisStateCache(rdb)
	ledgerCache := redis.NewRedisLedgerCache(rdb)
	eventPublisher := redis.NewRedisEventPublisher(rdb)

	// Increment rules shared through redis
	incrementRules := services.NewIncrementRules(rdb)
	if err := incrementRules.LoadTiers(ctx); err != nil {
		log.Error("Failed to load increment tiers", "error", err)
		os.Exit(1)
	}

	ledgerStore := mysql.NewMySQLLedgerStore(db, incrementRules)
	ledger := services.NewLedger(ledgerStore, ledgerCache, stateCache, eventPublisher, clk, log)

	auctionManager := services.NewAuctionManager(
		auctionRepo, ledger, stateCache, eventPublisher,
		clk, cfg.Bidding.ExtensionWindow, log)

	bidService := services.NewBidService(
		auctionRepo, ledger, walletRepo, incrementRules,
		auctionManager, clk, cfg.Bidding.ConflictRetries, log)

	// Leader election gates the closing sweep
	leaderElection := leader.NewRedisLeaderElection(rdb, cfg.Leader.TTL)

	closer := services.NewCronClosingScheduler(
		auctionRepo, ledger, stateCache, leaderElection,
		cfg.Instance.ID, cfg.Closer.Interval, clk, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			echo.GET, echo.HEAD, echo.PUT, echo.PATCH,
			echo.POST, echo.DELETE, echo.OPTIONS,
		},
	}))

	auctionHandler := handlers.NewAuctionHandler(auctionManager, bidService, ledger, log)

	api := e.Group("/api/v1")
	api.POST("/auctions", auctionHandler.CreateAuction)
	api.GET("/auctions/:id", auctionHandler.GetAuction)
	api.DELETE("/auctions/:id", auctionHandler.CancelAuction)
	api.POST("/auctions/:id/bids", auctionHandler.PlaceBid)
	api.GET("/auctions/:id/bids", auctionHandler.GetBidHistory)

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Start the closing sweep
	go func() {
		if err := closer.Start(context.Background()); err != nil {
			log.Error("Failed to start closing scheduler", "error", err)
		}
	}()

	// Keep trying to become leader
	go func() {
		for {
			became, err := leaderElection.BecomeLeader(context.Background(), cfg.Instance.ID)
			if err != nil {
				log.Error("Failed to attempt leadership", "error", err)
				time.Sleep(5 * time.Second)
				continue
			}
			if became {
				log.Info("Became closing sweep leader", "instance_id", cfg.Instance.ID)
			}
			time.Sleep(10 * time.Second)
		}
	}()

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Info("Starting auction service server", "address", serverAddr)

	go func() {
		if err := e.Start(serverAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down auction service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := closer.Stop(); err != nil {
		log.Error("Failed to stop closing scheduler", "error", err)
	}
	if err := leaderElection.ReleaseLeadership(ctx, cfg.Instance.ID); err != nil {
		log.Error("Failed to release leadership", "error", err)
	}
	if err := e.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Auction service stopped")
}
