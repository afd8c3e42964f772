package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/apperrors"
	"github.com/nkiryanov/payledger/internal/db"
	"github.com/nkiryanov/payledger/internal/logger"
	"github.com/nkiryanov/payledger/internal/models"
	"github.com/nkiryanov/payledger/internal/repository"
	"github.com/nkiryanov/payledger/internal/repository/postgres"
	"github.com/nkiryanov/payledger/internal/service/ownercashback"
)

// App runs the ledger background worker: it migrates the schema, seeds the
// wallet currency and applies queued promo owner rewards until stopped.
// The payment engine itself is a library surface, callers embed it.
type App struct {
	dispatcher *ownercashback.Dispatcher
	pool       *pgxpool.Pool
	logger     logger.Logger
}

func NewApp(ctx context.Context, c *Config) (*App, error) {
	// Initialize logger
	log, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	policy, err := c.CashbackPolicy()
	if err != nil {
		return nil, fmt.Errorf("invalid cashback policy config. Err: %w", err)
	}

	// Connect to the database and run migrations
	pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("error while connecting to db. Err: %w", err)
	}

	storage := postgres.NewStorage(pool)

	if err := ensureWalletCurrency(ctx, storage, c.WalletCurrency); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error while seeding wallet currency %q. Err: %w", c.WalletCurrency, err)
	}

	return &App{
		dispatcher: ownercashback.New(storage, policy, c.WalletCurrency, log),
		pool:       pool,
		logger:     log,
	}, nil
}

// Run processes the owner cashback queue until context is cancelled, then
// waits for in-flight rewards to finish
func (a *App) Run(ctx context.Context) error {
	defer a.pool.Close()

	a.logger.Info("Starting owner cashback dispatcher")
	idleStopped := a.dispatcher.Process(ctx)

	<-ctx.Done()
	<-idleStopped
	a.logger.Info("Dispatcher stopped")

	return nil
}

// The wallet currency is the base every balance is held in. Create it on
// first start so rate ingestion and payments have a row to reference.
func ensureWalletCurrency(ctx context.Context, storage repository.Storage, code string) error {
	_, err := storage.Currency().GetByCode(ctx, code)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperrors.ErrCurrencyNotFound):
		_, err = storage.Currency().Create(ctx, models.Currency{
			Code: code,
			Rate: decimal.NewFromInt(1),
		})
		return err
	default:
		return err
	}
}
