// Command reconcile runs one reconciliation pass and exits. It is meant to be
// scheduled; concurrent runs are excluded by a Redis lock.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"propledger/internal/config"
	"propledger/internal/db"
	"propledger/internal/gateway"
	"propledger/internal/lock"
	"propledger/internal/logging"
	"propledger/internal/services"
	"propledger/internal/store"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 1 on failure, 2 when wallets drifted
// from the journal.
func run() int {
	cfg := config.Load()
	logger, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Printf("failed to build logger: %v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect database", zap.Error(err))
		return 1
	}
	defer database.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	locker, err := lock.NewRedisLocker(redisClient, cfg.ReconcileLockTTL, logger.Named("lock"))
	if err != nil {
		logger.Error("failed to build locker", zap.Error(err))
		return 1
	}

	txRunner := db.NewTxRunner(database, logger.Named("db"))
	ledger := services.NewLedger(txRunner, store.NewWalletStore(database), store.NewLedgerStore(database), logger.Named("ledger"))
	txlog := services.NewTransactionLog(txRunner, store.NewTransactionStore(database), ledger, store.NewAuditStore(database), nil, cfg.Currency, logger.Named("transactions"))
	gw := gateway.NewClient(cfg.GatewayBaseURL, cfg.GatewaySecret, cfg.GatewayTimeout)
	reconciler := services.NewReconciler(txlog, ledger, gw, locker, cfg.Currency, cfg.ReconcileAfter, logger.Named("reconcile"))

	report, err := reconciler.Run(ctx)
	if err != nil {
		logger.Error("reconcile failed", zap.Error(err))
		return 1
	}
	if len(report.Mismatches) > 0 {
		return 2
	}
	return 0
}
