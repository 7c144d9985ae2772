package models

import (
	"time"
)

// TransactionKind distinguishes value entering a wallet from value leaving it
type TransactionKind string

const (
	KindTopUp TransactionKind = "top_up"
	KindSpend TransactionKind = "spend"
)

// TransactionStatus is the lifecycle state of a Transaction
type TransactionStatus string

const (
	StatusCreated   TransactionStatus = "created"
	StatusSigned    TransactionStatus = "signed"
	StatusQueued    TransactionStatus = "queued"
	StatusSubmitted TransactionStatus = "submitted"
	StatusSettled   TransactionStatus = "settled"
	StatusHeld      TransactionStatus = "held"
	StatusRejected  TransactionStatus = "rejected"
)

// Terminal reports whether the automated core may no longer move the status.
// Held is terminal for the core: only an operator override leaves it.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case StatusSettled, StatusHeld, StatusRejected:
		return true
	}
	return false
}

// Reason codes attached to held or rejected transactions
const (
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonAmountOverCeiling  = "amount_over_ceiling"
	ReasonDailyLimitExceeded = "daily_limit_exceeded"
	ReasonVelocityExceeded   = "velocity_exceeded"
	ReasonOfflineLimit       = "offline_limit_exceeded"
	ReasonWouldOverdraw      = "would_overdraw"
	ReasonSignatureMismatch  = "signature_mismatch"
	ReasonProviderDeclined   = "provider_declined"
	ReasonOperatorRejected   = "operator_rejected"
	ReasonAccountInactive    = "account_inactive"
	ReasonCurrencyMismatch   = "currency_mismatch"
	ReasonDuplicateInBatch   = "duplicate_in_batch"
	ReasonTransactionIDTaken = "transaction_id_conflict"
)

// Transaction is a single top-up or spend event. ID is the client-generated
// idempotency key and is unique for all time.
type Transaction struct {
	ID             string            `json:"transaction_id" db:"transaction_id"`
	AccountID      string            `json:"account_id" db:"account_id"`
	Kind           TransactionKind   `json:"kind" db:"kind"`
	Amount         int64             `json:"amount" db:"amount"` // minor units
	Currency       string            `json:"currency" db:"currency"`
	Provider       string            `json:"provider,omitempty" db:"provider"`
	ProviderRef    string            `json:"provider_ref,omitempty" db:"provider_ref"`
	MerchantID     string            `json:"merchant_id,omitempty" db:"merchant_id"`
	MerchantName   string            `json:"merchant_name,omitempty" db:"merchant_name"`
	Category       string            `json:"category,omitempty" db:"category"`
	DeviceID       string            `json:"device_id,omitempty" db:"device_id"`
	ClientSequence uint64            `json:"client_sequence,omitempty" db:"client_sequence"`
	Offline        bool              `json:"offline,omitempty" db:"offline"`
	OccurredAt     time.Time         `json:"occurred_at" db:"occurred_at"`
	ReceivedAt     time.Time         `json:"received_at" db:"received_at"`
	Signature      string            `json:"signature,omitempty" db:"signature"`
	Status         TransactionStatus `json:"status" db:"status"`
	Reason         string            `json:"reason,omitempty" db:"reason"`
	BalanceAfter   int64             `json:"balance_after" db:"balance_after"`
	SettledAt      *time.Time        `json:"settled_at,omitempty" db:"settled_at"`
}

// Clone returns a copy safe to mutate independently of the original
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.SettledAt != nil {
		at := *t.SettledAt
		c.SettledAt = &at
	}
	return &c
}
