package queue

import (
	"context"
	"errors"
	"sort"

	"github.com/ruralpay/tourwallet/internal/models"
)

var ErrMissingAccount = errors.New("queued transaction has no account id")

// Queue buffers offline-originated spends per account until reconciliation.
// Enqueue never touches the ledger.
type Queue interface {
	Enqueue(ctx context.Context, tx *models.Transaction) error
	// Drain removes every buffered transaction for the account and returns
	// them in application order (see Sort).
	Drain(ctx context.Context, accountID string) ([]*models.Transaction, error)
	PendingAccounts(ctx context.Context) ([]string, error)
	Len(ctx context.Context, accountID string) (int, error)
}

// Sort orders transactions by client sequence, then received time, then id
func Sort(txs []*models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if a.ClientSequence != b.ClientSequence {
			return a.ClientSequence < b.ClientSequence
		}
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		return a.ID < b.ID
	})
}
