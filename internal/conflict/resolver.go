package conflict

import (
	"fmt"
	"strings"

	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/ruralpay/tourwallet/internal/queue"
)

// OfflineLimitMode selects how offline_limit applies to a batch
type OfflineLimitMode string

const (
	// PerTransaction caps each offline spend individually. The wristband
	// enforces the running cap locally.
	PerTransaction OfflineLimitMode = "per_transaction"
	// Cumulative caps the sum of applied offline spends in one batch.
	Cumulative OfflineLimitMode = "cumulative"
)

func ParseOfflineLimitMode(s string) (OfflineLimitMode, error) {
	switch OfflineLimitMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", PerTransaction:
		return PerTransaction, nil
	case Cumulative:
		return Cumulative, nil
	}
	return "", fmt.Errorf("unknown offline limit mode %q", s)
}

type Policy struct {
	OfflineLimitMode OfflineLimitMode
	// CountTowardDaily makes offline spends consume daily_limit as well
	CountTowardDaily bool
}

// Snapshot is the account state a batch is projected from. A zero limit
// means the account has no such cap.
type Snapshot struct {
	Balance      int64
	SpentToday   int64
	DailyLimit   int64
	OfflineLimit int64
	// OfflineApplied is offline spend already settled earlier in the same
	// pass. It counts against a cumulative offline limit.
	OfflineApplied int64
}

// Verifier checks a queued transaction's signature
type Verifier func(tx *models.Transaction) error

func SnapshotOf(a *models.Account) Snapshot {
	return Snapshot{
		Balance:      a.Balance,
		SpentToday:   a.SpentToday,
		DailyLimit:   a.DailyLimit,
		OfflineLimit: a.OfflineLimit,
	}
}

// Resolver orders an offline batch and tags every transaction apply,
// violation or reject. It has no side effects and the same input always
// gives the same output.
type Resolver struct {
	policy Policy
}

func NewResolver(policy Policy) *Resolver {
	if policy.OfflineLimitMode == "" {
		policy.OfflineLimitMode = PerTransaction
	}
	return &Resolver{policy: policy}
}

func (r *Resolver) Policy() Policy {
	return r.policy
}

// Screen sorts txs into application order and splits off what can never be
// applied. An exact replay of an id is collapsed into the first copy. A
// second copy with different content is rejected as duplicate_in_batch, and
// anything verify refuses is rejected as signature_mismatch. Rejected items
// never reach the balance projection. verify may be nil.
func Screen(txs []*models.Transaction, verify Verifier) (accepted []*models.Transaction, rejected []models.ResolvedItem) {
	ordered := make([]*models.Transaction, len(txs))
	copy(ordered, txs)
	queue.Sort(ordered)

	first := make(map[string]*models.Transaction, len(ordered))
	for _, tx := range ordered {
		if prev, ok := first[tx.ID]; ok {
			if !sameContent(prev, tx) {
				rejected = append(rejected, models.ResolvedItem{Transaction: tx, Tag: models.TagReject, Reason: models.ReasonDuplicateInBatch})
			}
			continue
		}
		first[tx.ID] = tx

		if verify != nil && verify(tx) != nil {
			rejected = append(rejected, models.ResolvedItem{Transaction: tx, Tag: models.TagReject, Reason: models.ReasonSignatureMismatch})
			continue
		}
		accepted = append(accepted, tx)
	}
	return accepted, rejected
}

func sameContent(a, b *models.Transaction) bool {
	return a.AccountID == b.AccountID &&
		a.Kind == b.Kind &&
		a.Amount == b.Amount &&
		a.Currency == b.Currency &&
		a.MerchantID == b.MerchantID &&
		a.DeviceID == b.DeviceID &&
		a.ClientSequence == b.ClientSequence &&
		a.OccurredAt.Equal(b.OccurredAt) &&
		a.Signature == b.Signature
}

// Resolve screens the batch and projects the accepted transactions against
// snap in application order. Items lists the rejected ones first.
func (r *Resolver) Resolve(batch models.ConflictBatch, snap Snapshot, verify Verifier) models.ConflictBatch {
	accepted, rejected := Screen(batch.Transactions, verify)

	out := models.ConflictBatch{
		AccountID:    batch.AccountID,
		Transactions: accepted,
		Items:        make([]models.ResolvedItem, 0, len(accepted)+len(rejected)),
	}
	for _, item := range rejected {
		out.Items = append(out.Items, item)
		out.Rejected = append(out.Rejected, item.Transaction)
	}

	balance := snap.Balance
	spentToday := snap.SpentToday
	offline := snap.OfflineApplied

	for _, tx := range accepted {
		reason := r.violation(tx.Amount, balance, spentToday, offline, snap)
		if reason != "" {
			out.Items = append(out.Items, models.ResolvedItem{Transaction: tx, Tag: models.TagViolation, Reason: reason})
			out.Violations = append(out.Violations, tx)
			continue
		}

		balance -= tx.Amount
		spentToday += tx.Amount
		offline += tx.Amount
		out.Items = append(out.Items, models.ResolvedItem{Transaction: tx, Tag: models.TagApply})
	}

	out.Resolved = true
	return out
}

func (r *Resolver) violation(amount, balance, spentToday, offline int64, snap Snapshot) string {
	if balance-amount < 0 {
		return models.ReasonWouldOverdraw
	}
	if snap.OfflineLimit > 0 {
		switch r.policy.OfflineLimitMode {
		case Cumulative:
			if offline+amount > snap.OfflineLimit {
				return models.ReasonOfflineLimit
			}
		default:
			if amount > snap.OfflineLimit {
				return models.ReasonOfflineLimit
			}
		}
	}
	if r.policy.CountTowardDaily && snap.DailyLimit > 0 && spentToday+amount > snap.DailyLimit {
		return models.ReasonDailyLimitExceeded
	}
	return ""
}
