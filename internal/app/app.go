// Package app wires configuration into stores, the checkout engine and
// the network servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pos-checkout/internal/adapter/handler"
	"github.com/rl1809/pos-checkout/internal/adapter/messaging"
	"github.com/rl1809/pos-checkout/internal/adapter/storage"
	"github.com/rl1809/pos-checkout/internal/config"
	"github.com/rl1809/pos-checkout/internal/core/service"
	"github.com/rl1809/pos-checkout/internal/metrics"
	"github.com/rl1809/pos-checkout/internal/port"
)

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Inventory port.InventoryLedger
	Accounts  port.CustomerAccount
	Audit     port.AuditLog
	Invoices  port.InvoiceSequence
	Checkout  *service.CheckoutService
	Registry  *prometheus.Registry
	Metrics   *metrics.CheckoutMetrics

	pingers []handler.Pinger
	closers []func() error
}

type redisPinger struct{ client *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Build opens every backend named by cfg. Close releases them.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	policy, err := cfg.Credit.Policy()
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Logger: logger}

	var guard port.RequestGuard
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		ledger := storage.NewMemoryLedger(cfg.Engine.LockTimeout)
		audit := storage.NewMemoryAuditLog()
		a.Inventory = ledger
		a.Accounts = storage.NewMemoryAccounts(policy, cfg.Engine.LockTimeout)
		a.Audit = audit
		a.Invoices = audit
		guard = storage.NewMemoryRequestGuard()
	case config.StorageSQLite, config.StorageMySQL:
		store, err := storage.OpenSQL(ctx, cfg.Storage.Driver, cfg.Storage.DSN,
			storage.WithCreditPolicy(policy),
			storage.WithMaxConflictRetries(cfg.Engine.MaxConflictRetries),
		)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to database", "driver", cfg.Storage.Driver)
		a.closers = append(a.closers, store.Close)
		a.pingers = append(a.pingers, store)
		a.Inventory = store
		a.Accounts = store
		a.Audit = store
		a.Invoices = store
		guard = storage.NewMemoryRequestGuard()
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Inventory.Backend == config.InventoryRedis {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Inventory.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.Close()
			return nil, fmt.Errorf("failed to connect redis: %w", err)
		}
		logger.Info("connected to redis", "addr", cfg.Inventory.RedisAddr)
		a.closers = append(a.closers, rdb.Close)
		a.pingers = append(a.pingers, redisPinger{client: rdb})
		a.Inventory = storage.NewRedisAdapter(rdb)
		guard = storage.NewRedisRequestGuard(rdb)
	}

	if cfg.Kafka.Enabled() {
		kafkaLog := messaging.NewKafkaAuditLog(a.Audit, messaging.NewWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), logger)
		a.closers = append(a.closers, kafkaLog.Close)
		a.Audit = kafkaLog
		logger.Info("publishing audit events", "topic", cfg.Kafka.Topic)
	}

	a.Registry = prometheus.NewRegistry()
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.Metrics = metrics.NewCheckoutMetrics(a.Registry)

	opts := []service.Option{
		service.WithLogger(logger),
		service.WithRecorder(a.Metrics),
	}
	if cfg.Engine.Idempotency {
		opts = append(opts, service.WithRequestGuard(guard))
	}
	a.Checkout = service.NewCheckoutService(a.Inventory, a.Accounts, a.Audit, a.Invoices, service.Config{
		OperationTimeout: cfg.Engine.OperationTimeout,
		RollbackTimeout:  cfg.Engine.RollbackTimeout,
		CreditPolicy:     policy,
	}, opts...)
	return a, nil
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
