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

	"propledger/internal/config"
	"propledger/internal/db"
	"propledger/internal/gateway"
	"propledger/internal/handlers"
	"propledger/internal/lock"
	"propledger/internal/logging"
	"propledger/internal/services"
	"propledger/internal/store"
	"propledger/internal/websocket"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect database", zap.Error(err))
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	locker, err := lock.NewRedisLocker(redisClient, cfg.ReconcileLockTTL, logger.Named("lock"))
	if err != nil {
		logger.Fatal("failed to build locker", zap.Error(err))
	}

	wallets := store.NewWalletStore(database)
	journal := store.NewLedgerStore(database)
	transactions := store.NewTransactionStore(database)
	escrows := store.NewEscrowStore(database)
	commissions := store.NewCommissionStore(database)
	withdrawals := store.NewWithdrawalStore(database)
	admin := store.NewAdminStore(database)
	audit := store.NewAuditStore(database)
	txRunner := db.NewTxRunner(database, logger.Named("db"))
	hub := websocket.NewHub(cfg.AllowedOrigins)
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecret, cfg.GatewayTimeout)

	ledger := services.NewLedger(txRunner, wallets, journal, logger.Named("ledger"))
	txlog := services.NewTransactionLog(txRunner, transactions, ledger, audit, hub, cfg.Currency, logger.Named("transactions"))
	commissionEngine := services.NewCommissionEngine(txRunner, commissions, withdrawals, txlog, audit, logger.Named("commissions"))
	escrowEngine := services.NewEscrowEngine(txRunner, escrows, txlog, commissionEngine, audit, logger.Named("escrow"))
	payments := services.NewPayments(txlog, gw, cfg.Currency, logger.Named("payments"))
	webhooks := services.NewWebhookProcessor(txlog, cfg.WebhookSecret, cfg.Currency, logger.Named("webhooks"))
	reconciler := services.NewReconciler(txlog, ledger, gw, locker, cfg.Currency, cfg.ReconcileAfter, logger.Named("reconcile"))

	handler := handlers.New(cfg, logger.Named("http"), ledger, txlog, payments, webhooks, escrowEngine, commissionEngine, reconciler, admin, audit, hub)
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("propledger API listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	<-shutdown

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}
