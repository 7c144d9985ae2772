package events

import (
	"context"
	"time"

	"github.com/ruralpay/tourwallet/internal/models"
)

// Routing keys on the wallet events exchange
const (
	TopUpSettled     = "wallet.topup.settled"
	TopUpPending     = "wallet.topup.pending"
	TopUpRejected    = "wallet.topup.rejected"
	SpendSettled     = "wallet.spend.settled"
	SpendHeld        = "wallet.spend.held"
	SpendRejected    = "wallet.spend.rejected"
	HoldResolved     = "wallet.hold.resolved"
	ReviewRequested  = "wallet.review.requested"
	IntegrityFailure = "wallet.security.integrity_failure"
)

// Event is the payload published for every transaction outcome
type Event struct {
	Type          string    `json:"type"`
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason,omitempty"`
	BalanceAfter  int64     `json:"balance_after"`
	Offline       bool      `json:"offline"`
	OccurredAt    time.Time `json:"occurred_at"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// Publisher delivers domain events. Telemetry batching is the consumer's job.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// FromTransaction builds the event for tx's current status
func FromTransaction(tx *models.Transaction) Event {
	return Event{
		Type:          RoutingKey(tx),
		AccountID:     tx.AccountID,
		TransactionID: tx.ID,
		Kind:          string(tx.Kind),
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Status:        string(tx.Status),
		Reason:        tx.Reason,
		BalanceAfter:  tx.BalanceAfter,
		Offline:       tx.Offline,
		OccurredAt:    tx.OccurredAt,
		EmittedAt:     time.Now().UTC(),
	}
}

// RoutingKey maps a transaction's kind and status onto a routing key
func RoutingKey(tx *models.Transaction) string {
	if tx.Kind == models.KindTopUp {
		switch tx.Status {
		case models.StatusSettled:
			return TopUpSettled
		case models.StatusRejected, models.StatusHeld:
			return TopUpRejected
		default:
			return TopUpPending
		}
	}
	switch tx.Status {
	case models.StatusSettled:
		return SpendSettled
	case models.StatusHeld:
		return SpendHeld
	default:
		return SpendRejected
	}
}
