package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quicksell/internal/api/handlers"
	apimiddleware "quicksell/internal/api/middleware"
	"quicksell/internal/clock"
	"quicksell/internal/config"
	"quicksell/internal/infrastructure/mysql"
	"quicksell/internal/infrastructure/redis"
	"quicksell/internal/infrastructure/websocket"
	"quicksell/internal/services"
	"quicksell/pkg/logger"

	redisClient "github.com/go-redis/redis/v8"
	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
)

func main() {
	log := logger.New()
	log.Info("Starting Quicksell realtime service")

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

	clk := clock.NewSystem()

	// Repositories and caches
	auctionRepo := mysql.NewMySQLAuctionRepository(db)
	walletRepo := mysql.NewMySQLWalletRepository(db)
	stateCache := redis.NewRedisStateCache(rdb)
	ledgerCache := redis.NewRedisLedgerCache(rdb)
	eventPublisher := redis.NewRedisEventPublisher(rdb)
	eventSubscriber := redis.NewRedisEventSubscriber(rdb, log)

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

	// Websocket fanout
	connManager := websocket.NewConnectionManager(log)
	notifier := websocket.NewWebSocketNotifier(connManager)

	eventListener := services.NewEventListener(notifier, notifier, connManager, log)
	wsHandlers := handlers.NewWebSocketHandlers(bidService, auctionRepo, stateCache, connManager, clk, log)

	// Setup routes
	router := mux.NewRouter()
	router.Use(apimiddleware.CORS)

	router.HandleFunc("/ws/auctions/{auctionID}", wsHandlers.HandleConnection)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	listenerCtx, stopListener := context.WithCancel(context.Background())
	defer stopListener()

	go func() {
		if err := eventListener.Start(listenerCtx, eventSubscriber); err != nil && listenerCtx.Err() == nil {
			log.Error("Event listener stopped", "error", err)
		}
	}()

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Info("Starting realtime service", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down realtime service...")

	ctx, cancel = context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	stopListener()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	log.Info("Realtime service stopped")
}
