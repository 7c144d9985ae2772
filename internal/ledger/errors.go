package ledger

import (
	"errors"
	"fmt"

	"github.com/ruralpay/tourwallet/internal/models"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountInactive        = errors.New("account is inactive")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrConcurrentModification = errors.New("optimistic lock failed - account was modified by another transaction")
	ErrInvalidAmount          = errors.New("amount must be positive")
	ErrCurrencyMismatch       = errors.New("currency does not match account currency")
	ErrNotHeld                = errors.New("transaction is not held")
	ErrSignatureInvalid       = errors.New("transaction failed signature verification")

	// errAlreadyFinal is returned by a Store when a transaction id already
	// exists in a state the mutation is not allowed to move it from, or
	// belongs to a different transaction.
	errAlreadyFinal = errors.New("transaction already recorded in a final state")
)

// DuplicateTransactionError reports that a transaction id was already
// applied. Prior carries the recorded outcome so callers can answer retries
// with the original result.
type DuplicateTransactionError struct {
	Prior *models.Transaction
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("transaction %s already %s", e.Prior.ID, e.Prior.Status)
}

// TransactionConflictError reports that a transaction id is already taken
// by a transaction with a different account, kind or amount. It is never a
// retry of that transaction.
type TransactionConflictError struct {
	TransactionID string
	Prior         *models.Transaction
}

func (e *TransactionConflictError) Error() string {
	return fmt.Sprintf("transaction id %s is already used by a different transaction", e.TransactionID)
}

type InsufficientFundsError struct {
	AccountID string
	Balance   int64
	Amount    int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in account %s: balance %d, requested %d", e.AccountID, e.Balance, e.Amount)
}
