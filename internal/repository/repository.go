package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/payledger/internal/models"
)

// Storage aggregates all repositories and the transactional boundary.
// InTx runs fn against a tx-scoped Storage: either every write commits or
// none does.
type Storage interface {
	Currency() CurrencyRepo
	Balance() BalanceRepo
	Transaction() TransactionRepo
	OwnerCashback() OwnerCashbackRepo

	InTx(ctx context.Context, fn func(Storage) error) error
}

// Currency repository interface
type CurrencyRepo interface {
	// Create currency. Code must be unique
	Create(ctx context.Context, currency models.Currency) (models.Currency, error)

	// Get currency by code or id
	// If not found must return apperrors.ErrCurrencyNotFound
	GetByCode(ctx context.Context, code string) (models.Currency, error)
	GetByID(ctx context.Context, id uuid.UUID) (models.Currency, error)

	List(ctx context.Context) ([]models.Currency, error)

	// Rate updates come from the external rate ingestion job only
	UpdateRate(ctx context.Context, code string, rate decimal.Decimal) (models.Currency, error)
}

// Balance repository interface
//
// The balance row is the only contended resource in the ledger. Callers must
// either mutate it with AddAmount (database-side increment) or read it with
// forUpdate=true inside a transaction before computing a new amount.
type BalanceRepo interface {
	// Get balance for the (user, currency) pair, creating a zero row on
	// first access
	GetOrCreate(ctx context.Context, userID uuid.UUID, currencyID uuid.UUID) (models.Balance, error)

	// Get existing balance. forUpdate takes a row lock until tx end.
	// If not found must return apperrors.ErrBalanceNotFound
	Get(ctx context.Context, userID uuid.UUID, currencyID uuid.UUID, forUpdate bool) (models.Balance, error)

	// Atomically add delta (may be negative) to the balance amount
	AddAmount(ctx context.Context, balanceID uuid.UUID, delta decimal.Decimal) (models.Balance, error)
}

type ListChildrenOpts struct {
	// Include soft deleted children
	IncludeDeleted bool

	// Return only not yet completed children
	OnlyPending bool
}

type ListCashbacksOpts struct {
	OnlyPending    bool
	IncludeDeleted bool
}

// Transaction repository interface
type TransactionRepo interface {
	// Create transaction. Zero ID, CreatedAt and InvoiceNumber are assigned
	Create(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// Get transaction by id
	// If not found must return apperrors.ErrTransactionNotFound
	Get(ctx context.Context, id uuid.UUID) (models.Transaction, error)

	// Same as Get but takes a row lock until tx end
	GetForUpdate(ctx context.Context, id uuid.UUID) (models.Transaction, error)

	// Persist all mutable fields of the transaction.
	// Identity fields (id, invoice_number, created_at) are never updated.
	Update(ctx context.Context, t models.Transaction) (models.Transaction, error)

	// List direct children (parent_id = parentID)
	ListChildren(ctx context.Context, parentID uuid.UUID, opts ListChildrenOpts) ([]models.Transaction, error)

	// List cashback transactions attached to the given transaction
	ListCashbacks(ctx context.Context, cashbackToID uuid.UUID, opts ListCashbacksOpts) ([]models.Transaction, error)

	// List completed, not deleted transactions referencing the payable
	// object with the given identifier
	ListCompletedByTarget(ctx context.Context, targetIdentifier string) ([]models.Transaction, error)

	// Soft delete: set is_deleted and record the reason in metadata.
	// Completed transactions must never be deleted
	SoftDelete(ctx context.Context, id uuid.UUID, reason string) (models.Transaction, error)
}

// Queue of promo-owner rewards, applied asynchronously after payment commit.
// Redelivery safe: Enqueue ignores duplicates per transaction, MarkApplied
// succeeds at most once per row.
type OwnerCashbackRepo interface {
	Enqueue(ctx context.Context, oc models.OwnerCashback) error

	ListPending(ctx context.Context, limit int) ([]models.OwnerCashback, error)

	// Mark the row applied. Returns apperrors.ErrOwnerCashbackApplied if the
	// row was already applied (or does not exist)
	MarkApplied(ctx context.Context, id uuid.UUID) error

	// Number of already applied rewards for the (owner, friend) pair
	CountApplied(ctx context.Context, ownerID uuid.UUID, friendID uuid.UUID) (int, error)
}
