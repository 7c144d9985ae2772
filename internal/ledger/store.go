package ledger

import (
	"context"

	"github.com/ruralpay/tourwallet/internal/models"
)

// Store is the transactional persistence behind the Ledger. Apply must be
// atomic: either the account update, the transaction record and the entry
// are all written, or none are.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*models.Account, error)
	FindTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
	Apply(ctx context.Context, m Mutation) error
	SumHeld(ctx context.Context, accountID string) (int64, error)
}

// Mutation is one ledger write.
type Mutation struct {
	// Account, when set, replaces the account row provided its stored
	// version still equals ExpectedVersion. Otherwise the store returns
	// ErrConcurrentModification.
	Account         *models.Account
	ExpectedVersion int64

	// Transaction is inserted, or updated if a record with the same id,
	// account, kind and amount exists in one of AllowedFrom. Any other
	// existing record fails the whole mutation.
	Transaction *models.Transaction
	AllowedFrom []models.TransactionStatus

	Entry *models.LedgerEntry
}

var pendingStatuses = []models.TransactionStatus{
	models.StatusCreated,
	models.StatusSigned,
	models.StatusQueued,
	models.StatusSubmitted,
}
