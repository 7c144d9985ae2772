package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ruralpay/tourwallet/internal/conflict"
	"github.com/ruralpay/tourwallet/internal/events"
	"github.com/ruralpay/tourwallet/internal/fraud"
	"github.com/ruralpay/tourwallet/internal/hsm"
	"github.com/ruralpay/tourwallet/internal/ledger"
	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/ruralpay/tourwallet/internal/queue"
	"go.uber.org/zap"
)

const defaultWorkers = 8

// Result is the settlement outcome of one queued transaction
type Result struct {
	TransactionID string                   `json:"transaction_id"`
	Status        models.TransactionStatus `json:"status"`
	Reason        string                   `json:"reason,omitempty"`
	BalanceAfter  int64                    `json:"balance_after"`
	// Duplicate is set when the id had already been settled, held or
	// rejected by an earlier pass
	Duplicate bool `json:"duplicate,omitempty"`
}

type Report struct {
	AccountID       string   `json:"account_id"`
	Results         []Result `json:"results"`
	Balance         int64    `json:"balance"`
	OfflineExposure int64    `json:"offline_exposure"`
}

func (r *Report) add(tx *models.Transaction, duplicate bool) {
	r.Results = append(r.Results, Result{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Reason:        tx.Reason,
		BalanceAfter:  tx.BalanceAfter,
		Duplicate:     duplicate,
	})
}

// Count returns how many results ended in status
func (r *Report) Count(status models.TransactionStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == status {
			n++
		}
	}
	return n
}

// Reconciler applies queued offline spends to the ledger
type Reconciler struct {
	ledger    *ledger.Ledger
	queue     queue.Queue
	resolver  *conflict.Resolver
	gate      *fraud.Gate
	signer    hsm.TransactionSigner
	publisher events.Publisher
	review    events.ReviewSink
	audit     *hsm.AuditLogger
	workers   int
	logger    *zap.Logger
}

type Option func(*Reconciler)

// WithWorkers bounds how many accounts ReconcileAll settles at once
func WithWorkers(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithReviewSink(sink events.ReviewSink) Option {
	return func(r *Reconciler) { r.review = sink }
}

func WithAuditLogger(audit *hsm.AuditLogger) Option {
	return func(r *Reconciler) { r.audit = audit }
}

func NewReconciler(l *ledger.Ledger, q queue.Queue, resolver *conflict.Resolver, gate *fraud.Gate, signer hsm.TransactionSigner, publisher events.Publisher, opts ...Option) *Reconciler {
	r := &Reconciler{
		ledger:    l,
		queue:     q,
		resolver:  resolver,
		gate:      gate,
		signer:    signer,
		publisher: publisher,
		workers:   defaultWorkers,
		logger:    zap.L().Named("settlement"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.review == nil {
		r.review = events.NewReviewSink(publisher)
	}
	if r.audit == nil {
		r.audit = hsm.NewAuditLogger(r.logger)
	}
	return r
}

// Reconcile drains the account's offline queue and settles it in one pass.
// Forged items and conflicting copies of an id are rejected before the
// batch is projected, so they never shape the outcome of the others.
// Transactions the pass could not reach because of a store error are put
// back on the queue.
func (r *Reconciler) Reconcile(ctx context.Context, accountID string) (*Report, error) {
	drained, err := r.queue.Drain(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("drain offline queue: %w", err)
	}
	report := &Report{AccountID: accountID}
	p := &pass{
		reconciler: r,
		report:     report,
		processed:  make(map[string]bool, len(drained)),
		window:     fraud.NewSlidingWindow(r.gate.Config().VelocityWindow),
	}

	err = r.ledger.Session(ctx, accountID, func(s *ledger.Session) error {
		p.session = s
		if len(drained) == 0 {
			return nil
		}

		accepted, rejected := conflict.Screen(drained, r.verify)
		for _, item := range rejected {
			if err := p.reject(ctx, item); err != nil {
				return err
			}
		}

		fresh := make([]*models.Transaction, 0, len(accepted))
		for _, tx := range accepted {
			prior, err := s.Lookup(ctx, tx.ID)
			switch {
			case errors.Is(err, ledger.ErrTransactionNotFound):
				fresh = append(fresh, tx)
			case err != nil:
				return err
			case !ledger.SameTransaction(prior, tx):
				if err := p.idTaken(ctx, tx); err != nil {
					return err
				}
			case prior.Status.Terminal():
				report.add(prior, true)
				p.processed[tx.ID] = true
			default:
				fresh = append(fresh, tx)
			}
		}

		for len(fresh) > 0 {
			var err error
			fresh, err = p.settleProjected(ctx, accountID, fresh)
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		r.requeue(ctx, drained, p.processed)
	}
	r.emit(ctx, p.outcomes, p.reviews, p.tampered)
	if err != nil {
		return report, err
	}

	account, err := r.ledger.Account(ctx, accountID)
	if err != nil {
		return report, err
	}
	report.Balance = account.Balance
	report.OfflineExposure, err = r.ledger.HeldExposure(ctx, accountID)
	if err != nil {
		return report, err
	}

	r.logger.Info("reconciled account",
		zap.String("account_id", accountID),
		zap.Int("transactions", len(report.Results)),
		zap.Int("settled", report.Count(models.StatusSettled)),
		zap.Int("held", report.Count(models.StatusHeld)),
		zap.Int("rejected", report.Count(models.StatusRejected)),
		zap.Int64("offline_exposure", report.OfflineExposure))
	return report, nil
}

// pass is the state of one Reconcile call under the account lock
type pass struct {
	reconciler *Reconciler
	session    *ledger.Session
	report     *Report
	window     *fraud.SlidingWindow
	processed  map[string]bool
	offline    int64

	outcomes []*models.Transaction
	reviews  []*models.Transaction
	tampered []*models.Transaction
}

// settleProjected resolves txs against the current account state and walks
// the result. When an item the projection counted as applied does not
// settle, the projection is stale and the unwalked remainder is returned to
// be resolved again.
func (p *pass) settleProjected(ctx context.Context, accountID string, txs []*models.Transaction) ([]*models.Transaction, error) {
	s := p.session
	account, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}
	snap := conflict.SnapshotOf(account)
	snap.OfflineApplied = p.offline
	batch := p.reconciler.resolver.Resolve(models.ConflictBatch{AccountID: accountID, Transactions: txs}, snap, nil)

	for i, item := range batch.Items {
		tx := item.Transaction
		stale := false

		switch item.Tag {
		case models.TagViolation:
			err = s.Hold(ctx, tx, item.Reason)
			if err == nil {
				p.reviews = append(p.reviews, tx)
			}

		default:
			err = p.reconciler.settle(ctx, s, tx, p.window)
			switch {
			case err == nil && tx.Status == models.StatusSettled:
				p.offline += tx.Amount
			case err == nil && tx.Status == models.StatusHeld:
				p.reviews = append(p.reviews, tx)
				stale = true
			default:
				stale = true
			}
		}

		if err := p.record(ctx, tx, err); err != nil {
			return nil, err
		}
		if stale {
			rest := make([]*models.Transaction, 0, len(batch.Items)-i-1)
			for _, next := range batch.Items[i+1:] {
				rest = append(rest, next.Transaction)
			}
			return rest, nil
		}
	}
	return nil, nil
}

// reject handles an item screening refused
func (p *pass) reject(ctx context.Context, item models.ResolvedItem) error {
	tx := item.Transaction
	if item.Reason == models.ReasonDuplicateInBatch {
		// the id belongs to the first copy, whose outcome is the ledger's
		account, err := p.session.Account(ctx)
		if err != nil {
			return err
		}
		p.report.add(refused(tx, item.Reason, account.Balance), false)
		p.reconciler.audit.LogRejection(tx.ID, tx.AccountID, tx.Amount, item.Reason)
		return nil
	}

	err := p.session.Reject(ctx, tx, item.Reason)
	if err == nil && item.Reason == models.ReasonSignatureMismatch {
		p.tampered = append(p.tampered, tx)
	}
	return p.record(ctx, tx, err)
}

// idTaken answers for a transaction whose id the ledger already holds for a
// different transaction. Nothing is written.
func (p *pass) idTaken(ctx context.Context, tx *models.Transaction) error {
	account, err := p.session.Account(ctx)
	if err != nil {
		return err
	}
	p.report.add(refused(tx, models.ReasonTransactionIDTaken, account.Balance), false)
	p.processed[tx.ID] = true
	p.reconciler.audit.LogSecurity(tx.ID, tx.AccountID, "offline transaction reuses an id held by another transaction")
	return nil
}

// record books the outcome of one ledger write into the report
func (p *pass) record(ctx context.Context, tx *models.Transaction, err error) error {
	var (
		dup   *ledger.DuplicateTransactionError
		taken *ledger.TransactionConflictError
	)
	switch {
	case errors.As(err, &dup):
		p.report.add(dup.Prior, true)
		p.processed[tx.ID] = true
		return nil
	case errors.As(err, &taken):
		return p.idTaken(ctx, tx)
	case err != nil:
		return fmt.Errorf("settle %s: %w", tx.ID, err)
	}
	p.processed[tx.ID] = true
	p.report.add(tx, false)
	p.outcomes = append(p.outcomes, tx)
	return nil
}

func refused(tx *models.Transaction, reason string, balance int64) *models.Transaction {
	out := tx.Clone()
	out.Status = models.StatusRejected
	out.Reason = reason
	out.BalanceAfter = balance
	return out
}

func (r *Reconciler) verify(tx *models.Transaction) error {
	err := r.signer.Verify(tx)
	var integrity *hsm.IntegrityError
	if err != nil && !errors.As(err, &integrity) {
		// an unreadable signature is treated the same as a forged one
		r.logger.Warn("signature verification error", zap.String("transaction_id", tx.ID), zap.Error(err))
	}
	return err
}

// settle re-runs the fraud gate and debits. The daily limit was already
// applied by the resolver according to policy, so the gate only sees the
// ceiling and the batch's own velocity.
func (r *Reconciler) settle(ctx context.Context, s *ledger.Session, tx *models.Transaction, window *fraud.SlidingWindow) error {
	decision := r.gate.Evaluate(tx, fraud.AccountContext{
		RecentCount: window.CountBefore(tx.OccurredAt),
	})
	if !decision.Allowed() {
		return s.Hold(ctx, tx, decision.Reason)
	}

	_, err := s.Debit(ctx, tx)
	var insufficient *ledger.InsufficientFundsError
	if errors.As(err, &insufficient) {
		return s.Hold(ctx, tx, models.ReasonInsufficientFunds)
	}
	if errors.Is(err, ledger.ErrAccountInactive) {
		return s.Hold(ctx, tx, models.ReasonAccountInactive)
	}
	if errors.Is(err, ledger.ErrCurrencyMismatch) {
		return s.Reject(ctx, tx, models.ReasonCurrencyMismatch)
	}
	if err != nil {
		return err
	}
	window.Add(tx.OccurredAt)
	return nil
}

func (r *Reconciler) requeue(ctx context.Context, drained []*models.Transaction, processed map[string]bool) {
	for _, tx := range drained {
		if processed[tx.ID] {
			continue
		}
		if err := r.queue.Enqueue(ctx, tx); err != nil {
			r.audit.LogError(tx.ID, tx.AccountID, fmt.Errorf("requeue after failed pass: %w", err))
		}
	}
}

func (r *Reconciler) emit(ctx context.Context, outcomes, reviews, tampered []*models.Transaction) {
	for _, tx := range outcomes {
		if err := r.publisher.Publish(ctx, events.FromTransaction(tx)); err != nil {
			r.logger.Warn("publish settlement event", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
	for _, tx := range reviews {
		if err := r.review.Submit(ctx, tx); err != nil {
			r.logger.Warn("submit for review", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
	for _, tx := range tampered {
		event := events.FromTransaction(tx)
		event.Type = events.IntegrityFailure
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("publish integrity event", zap.String("transaction_id", tx.ID), zap.Error(err))
		}
	}
}

// ReconcileAll settles every account with queued transactions, at most
// workers accounts at a time. Per-account failures are joined.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]*Report, error) {
	accounts, err := r.queue.PendingAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending accounts: %w", err)
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		reports []*Report
		errs    []error
		sem     = make(chan struct{}, r.workers)
	)
	for _, accountID := range accounts {
		select {
		case <-ctx.Done():
			wg.Wait()
			return reports, errors.Join(append(errs, ctx.Err())...)
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(accountID string) {
			defer wg.Done()
			defer func() { <-sem }()

			report, err := r.Reconcile(ctx, accountID)
			mu.Lock()
			defer mu.Unlock()
			if report != nil {
				reports = append(reports, report)
			}
			if err != nil {
				r.logger.Error("reconcile account", zap.String("account_id", accountID), zap.Error(err))
				errs = append(errs, fmt.Errorf("account %s: %w", accountID, err))
			}
		}(accountID)
	}
	wg.Wait()
	return reports, errors.Join(errs...)
}
