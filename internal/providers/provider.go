package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ruralpay/tourwallet/internal/models"
)

// ProviderKey identifies a payment rail. The set is closed.
type ProviderKey string

const (
	Card         ProviderKey = "card"
	MobileMoney  ProviderKey = "mobile_money"
	BankTransfer ProviderKey = "bank_transfer"
	QRVoucher    ProviderKey = "qr_voucher"
)

var knownKeys = []ProviderKey{Card, MobileMoney, BankTransfer, QRVoucher}

// ParseProviderKey maps client input onto a known rail
func ParseProviderKey(s string) (ProviderKey, error) {
	k := ProviderKey(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range knownKeys {
		if k == known {
			return k, nil
		}
	}
	return "", &UnknownProviderError{Key: s}
}

// Outcome is how a rail answered a top-up
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomePending
	OutcomeRetryable
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomePending:
		return "pending"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Retryable reports whether the caller may repeat the call with the same
// transaction id
func (o Outcome) Retryable() bool {
	return o == OutcomeRetryable
}

// Result is the rail's answer. Adapters never return a bare error.
type Result struct {
	Provider    ProviderKey
	Outcome     Outcome
	ProviderRef string
	// Instructions is what the tourist needs to finish a pending top-up,
	// for example a QR code image.
	Instructions string
	RetryAfter   time.Duration
	Err          error
}

// AsError converts a failed result into a typed error, nil for OK and Pending
func (r Result) AsError() error {
	switch r.Outcome {
	case OutcomeRetryable:
		return &ProviderUnavailableError{Provider: r.Provider, RetryAfter: r.RetryAfter, Err: r.Err}
	case OutcomeFatal:
		return &ProviderRejectedError{Provider: r.Provider, Err: r.Err}
	}
	return nil
}

// SignedTopUp is what the core hands an adapter. Transaction is already signed.
type SignedTopUp struct {
	Transaction *models.Transaction
}

// IdempotencyKey is sent to the rail so it can deduplicate retries
func (s SignedTopUp) IdempotencyKey() string {
	return s.Transaction.ID
}

// Adapter calls one external rail. Adapters never touch the ledger.
type Adapter interface {
	Key() ProviderKey
	InitiateTopUp(ctx context.Context, req SignedTopUp) Result
}

// WebhookVerifier is implemented by rails that confirm asynchronously
type WebhookVerifier interface {
	WebhookSecret() string
}

type UnknownProviderError struct {
	Key string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Key)
}

type ProviderUnavailableError struct {
	Provider   ProviderKey
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderUnavailableError) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Err)
}

func (e *ProviderUnavailableError) Unwrap() error { return e.Err }

type ProviderRejectedError struct {
	Provider ProviderKey
	Err      error
}

func (e *ProviderRejectedError) Error() string {
	return fmt.Sprintf("provider %s declined: %v", e.Provider, e.Err)
}

func (e *ProviderRejectedError) Unwrap() error { return e.Err }
