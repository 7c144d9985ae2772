package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruralpay/tourwallet/internal/hsm"
	"github.com/ruralpay/tourwallet/internal/models"
	"go.uber.org/zap"
)

const maxApplyAttempts = 3

// Ledger is the authoritative balance store. All mutations for one account
// run under that account's lock. Different accounts never share a lock.
type Ledger struct {
	store    Store
	locks    *AccountLocks
	audit    *hsm.AuditLogger
	verifier Verifier
	logger   *zap.Logger
	loc      *time.Location
	now      func() time.Time
}

// Verifier checks a transaction's signature against its contents
type Verifier interface {
	Verify(tx *models.Transaction) error
}

type Option func(*Ledger)

// WithDayBoundary sets the zone whose local midnight resets spent_today
func WithDayBoundary(loc *time.Location) Option {
	return func(l *Ledger) {
		if loc != nil {
			l.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithAuditLogger(audit *hsm.AuditLogger) Option {
	return func(l *Ledger) { l.audit = audit }
}

// WithVerifier makes ResolveHold refuse to settle a held transaction whose
// signature no longer matches
func WithVerifier(v Verifier) Option {
	return func(l *Ledger) { l.verifier = v }
}

func WithLocks(locks *AccountLocks) Option {
	return func(l *Ledger) { l.locks = locks }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		locks:  NewAccountLocks(defaultLockShards),
		logger: zap.L().Named("ledger"),
		loc:    time.UTC,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.audit == nil {
		l.audit = hsm.NewAuditLogger(l.logger)
	}
	return l
}

// Session runs fn while holding the account's lock. Operations on the
// Session must only target that account.
func (l *Ledger) Session(ctx context.Context, accountID string, fn func(s *Session) error) error {
	unlock, err := l.locks.Lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()

	return fn(&Session{ledger: l, accountID: accountID})
}

// Credit adds amount to the account and records transactionID as settled
func (l *Ledger) Credit(ctx context.Context, accountID string, amount int64, transactionID string) (int64, error) {
	var balance int64
	err := l.Session(ctx, accountID, func(s *Session) error {
		var err error
		balance, err = s.Credit(ctx, &models.Transaction{
			ID:        transactionID,
			AccountID: accountID,
			Kind:      models.KindTopUp,
			Amount:    amount,
		})
		return err
	})
	return balance, err
}

// Debit removes amount from the account and records transactionID as settled
func (l *Ledger) Debit(ctx context.Context, accountID string, amount int64, transactionID string) (int64, error) {
	var balance int64
	err := l.Session(ctx, accountID, func(s *Session) error {
		var err error
		balance, err = s.Debit(ctx, &models.Transaction{
			ID:        transactionID,
			AccountID: accountID,
			Kind:      models.KindSpend,
			Amount:    amount,
		})
		return err
	})
	return balance, err
}

// Hold records tx as held without touching the balance
func (l *Ledger) Hold(ctx context.Context, accountID string, tx *models.Transaction, reason string) error {
	return l.Session(ctx, accountID, func(s *Session) error {
		return s.Hold(ctx, tx, reason)
	})
}

func (l *Ledger) Reject(ctx context.Context, accountID string, tx *models.Transaction, reason string) error {
	return l.Session(ctx, accountID, func(s *Session) error {
		return s.Reject(ctx, tx, reason)
	})
}

// Account returns the account with the spent_today rollover applied
func (l *Ledger) Account(ctx context.Context, accountID string) (*models.Account, error) {
	a, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	l.rollover(a)
	return a, nil
}

func (l *Ledger) Transaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return l.store.FindTransaction(ctx, transactionID)
}

// HeldExposure is the total amount currently held for the account
func (l *Ledger) HeldExposure(ctx context.Context, accountID string) (int64, error) {
	return l.store.SumHeld(ctx, accountID)
}

// ResolveHold is the operator override that moves a held transaction to
// settled (settle=true) or rejected.
func (l *Ledger) ResolveHold(ctx context.Context, accountID, transactionID string, settle bool) (*models.Transaction, error) {
	var resolved *models.Transaction
	err := l.Session(ctx, accountID, func(s *Session) error {
		var err error
		resolved, err = s.resolveHold(ctx, transactionID, settle)
		return err
	})
	return resolved, err
}

func (l *Ledger) today() string {
	return l.now().In(l.loc).Format("2006-01-02")
}

func (l *Ledger) rollover(a *models.Account) {
	if day := l.today(); a.SpentDay != day {
		a.SpentToday = 0
		a.SpentDay = day
	}
}

// Session is a set of ledger operations for one account under its lock
type Session struct {
	ledger    *Ledger
	accountID string
}

func (s *Session) AccountID() string { return s.accountID }

func (s *Session) Account(ctx context.Context) (*models.Account, error) {
	return s.ledger.Account(ctx, s.accountID)
}

// Lookup returns the recorded transaction for id, or ErrTransactionNotFound
func (s *Session) Lookup(ctx context.Context, transactionID string) (*models.Transaction, error) {
	return s.ledger.store.FindTransaction(ctx, transactionID)
}

func (s *Session) Credit(ctx context.Context, tx *models.Transaction) (int64, error) {
	return s.move(ctx, tx, models.EntryCredit)
}

func (s *Session) Debit(ctx context.Context, tx *models.Transaction) (int64, error) {
	return s.move(ctx, tx, models.EntryDebit)
}

func (s *Session) Hold(ctx context.Context, tx *models.Transaction, reason string) error {
	if err := s.record(ctx, tx, models.StatusHeld, reason); err != nil {
		return err
	}
	s.ledger.audit.LogHold(tx.ID, tx.AccountID, tx.Amount, reason)
	return nil
}

func (s *Session) Reject(ctx context.Context, tx *models.Transaction, reason string) error {
	if err := s.record(ctx, tx, models.StatusRejected, reason); err != nil {
		return err
	}
	s.ledger.audit.LogRejection(tx.ID, tx.AccountID, tx.Amount, reason)
	return nil
}

// Submit records a transaction in a non-final state, submitted or queued
func (s *Session) Submit(ctx context.Context, tx *models.Transaction) error {
	status := tx.Status
	switch status {
	case models.StatusSubmitted, models.StatusQueued:
	case "", models.StatusCreated, models.StatusSigned:
		status = models.StatusSubmitted
	default:
		return fmt.Errorf("cannot submit transaction %s in status %s", tx.ID, status)
	}
	return s.record(ctx, tx, status, "")
}

func (s *Session) checkTarget(tx *models.Transaction) error {
	if tx.AccountID == "" {
		tx.AccountID = s.accountID
	}
	if tx.AccountID != s.accountID {
		return fmt.Errorf("transaction %s targets account %s, session holds %s", tx.ID, tx.AccountID, s.accountID)
	}
	if tx.ID == "" {
		return errors.New("transaction id is required")
	}
	if tx.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// SameTransaction reports whether b can be a retry of a: an id only ever
// names one account, kind and amount.
func SameTransaction(a, b *models.Transaction) bool {
	return a.AccountID == b.AccountID && a.Kind == b.Kind && a.Amount == b.Amount
}

// duplicate returns a DuplicateTransactionError when tx.ID already reached a
// final state, and a TransactionConflictError when the id belongs to a
// different transaction in any state.
func (s *Session) duplicate(ctx context.Context, tx *models.Transaction) error {
	prior, err := s.ledger.store.FindTransaction(ctx, tx.ID)
	if errors.Is(err, ErrTransactionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !SameTransaction(prior, tx) {
		return &TransactionConflictError{TransactionID: tx.ID, Prior: prior}
	}
	if prior.Status.Terminal() {
		return &DuplicateTransactionError{Prior: prior}
	}
	return nil
}

func (s *Session) move(ctx context.Context, tx *models.Transaction, entryType string) (int64, error) {
	if err := s.checkTarget(tx); err != nil {
		return 0, err
	}

	for attempt := 1; ; attempt++ {
		balance, err := s.tryMove(ctx, tx, entryType)
		if errors.Is(err, ErrConcurrentModification) && attempt < maxApplyAttempts {
			s.ledger.logger.Warn("retrying ledger write",
				zap.String("account_id", s.accountID),
				zap.String("transaction_id", tx.ID),
				zap.Int("attempt", attempt))
			continue
		}
		return balance, err
	}
}

func (s *Session) tryMove(ctx context.Context, tx *models.Transaction, entryType string) (int64, error) {
	if err := s.duplicate(ctx, tx); err != nil {
		return 0, err
	}

	account, err := s.Account(ctx)
	if err != nil {
		return 0, err
	}
	if !account.Active {
		return 0, ErrAccountInactive
	}
	if tx.Currency == "" {
		tx.Currency = account.Currency
	} else if tx.Currency != account.Currency {
		return 0, ErrCurrencyMismatch
	}

	version := account.LedgerVersion
	signed := tx.Amount
	if entryType == models.EntryDebit {
		if account.Balance < tx.Amount {
			return 0, &InsufficientFundsError{AccountID: account.ID, Balance: account.Balance, Amount: tx.Amount}
		}
		signed = -tx.Amount
		account.SpentToday += tx.Amount
	}
	account.Balance += signed

	now := s.ledger.now()
	settled := tx.Clone()
	settled.Status = models.StatusSettled
	settled.Reason = ""
	settled.BalanceAfter = account.Balance
	settled.SettledAt = &now
	if settled.ReceivedAt.IsZero() {
		settled.ReceivedAt = now
	}
	if settled.OccurredAt.IsZero() {
		settled.OccurredAt = now
	}

	err = s.ledger.store.Apply(ctx, Mutation{
		Account:         account,
		ExpectedVersion: version,
		Transaction:     settled,
		AllowedFrom:     pendingStatuses,
		Entry: &models.LedgerEntry{
			TransactionID: tx.ID,
			AccountID:     account.ID,
			Amount:        signed,
			EntryType:     entryType,
			BalanceAfter:  account.Balance,
			CreatedAt:     now,
		},
	})
	if errors.Is(err, errAlreadyFinal) {
		return 0, s.priorAsDuplicate(ctx, tx)
	}
	if err != nil {
		return 0, err
	}

	*tx = *settled
	s.ledger.audit.LogSettlement(tx.ID, tx.AccountID, tx.Amount, tx.BalanceAfter, string(tx.Kind))
	return account.Balance, nil
}

func (s *Session) record(ctx context.Context, tx *models.Transaction, status models.TransactionStatus, reason string) error {
	if err := s.checkTarget(tx); err != nil {
		return err
	}
	if err := s.duplicate(ctx, tx); err != nil {
		return err
	}

	account, err := s.Account(ctx)
	if err != nil {
		return err
	}

	now := s.ledger.now()
	rec := tx.Clone()
	rec.Status = status
	rec.Reason = reason
	rec.BalanceAfter = account.Balance
	if rec.Currency == "" {
		rec.Currency = account.Currency
	}
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = now
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = now
	}

	err = s.ledger.store.Apply(ctx, Mutation{Transaction: rec, AllowedFrom: pendingStatuses})
	if errors.Is(err, errAlreadyFinal) {
		return s.priorAsDuplicate(ctx, tx)
	}
	if err != nil {
		return err
	}
	*tx = *rec
	return nil
}

// priorAsDuplicate explains a write the store refused because the id was
// taken between the duplicate check and Apply
func (s *Session) priorAsDuplicate(ctx context.Context, tx *models.Transaction) error {
	prior, err := s.ledger.store.FindTransaction(ctx, tx.ID)
	if err != nil {
		return fmt.Errorf("transaction %s already recorded: %w", tx.ID, err)
	}
	if !SameTransaction(prior, tx) {
		return &TransactionConflictError{TransactionID: tx.ID, Prior: prior}
	}
	return &DuplicateTransactionError{Prior: prior}
}

func (s *Session) resolveHold(ctx context.Context, transactionID string, settle bool) (*models.Transaction, error) {
	held, err := s.ledger.store.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if held.AccountID != s.accountID {
		return nil, ErrTransactionNotFound
	}
	if held.Status != models.StatusHeld {
		return nil, ErrNotHeld
	}
	if settle && s.ledger.verifier != nil {
		if err := s.ledger.verifier.Verify(held); err != nil {
			s.ledger.audit.LogSecurity(held.ID, held.AccountID, "refused to settle held transaction: "+err.Error())
			return nil, ErrSignatureInvalid
		}
	}

	for attempt := 1; ; attempt++ {
		resolved, err := s.tryResolveHold(ctx, held, settle)
		if errors.Is(err, ErrConcurrentModification) && attempt < maxApplyAttempts {
			continue
		}
		return resolved, err
	}
}

func (s *Session) tryResolveHold(ctx context.Context, held *models.Transaction, settle bool) (*models.Transaction, error) {
	account, err := s.Account(ctx)
	if err != nil {
		return nil, err
	}

	now := s.ledger.now()
	out := held.Clone()
	mut := Mutation{Transaction: out, AllowedFrom: []models.TransactionStatus{models.StatusHeld}}

	if !settle {
		out.Status = models.StatusRejected
		out.Reason = models.ReasonOperatorRejected
		out.BalanceAfter = account.Balance
	} else {
		version := account.LedgerVersion
		signed := held.Amount
		entryType := models.EntryCredit
		if held.Kind == models.KindSpend {
			if account.Balance < held.Amount {
				return nil, &InsufficientFundsError{AccountID: account.ID, Balance: account.Balance, Amount: held.Amount}
			}
			signed = -held.Amount
			entryType = models.EntryDebit
			account.SpentToday += held.Amount
		}
		account.Balance += signed

		out.Status = models.StatusSettled
		out.Reason = ""
		out.BalanceAfter = account.Balance
		out.SettledAt = &now
		mut.Account = account
		mut.ExpectedVersion = version
		mut.Entry = &models.LedgerEntry{
			TransactionID: held.ID,
			AccountID:     account.ID,
			Amount:        signed,
			EntryType:     entryType,
			BalanceAfter:  account.Balance,
			CreatedAt:     now,
		}
	}

	if err := s.ledger.store.Apply(ctx, mut); err != nil {
		if errors.Is(err, errAlreadyFinal) {
			return nil, ErrNotHeld
		}
		return nil, err
	}

	s.ledger.audit.LogOperation(out.ID, out.AccountID, "HOLD_RESOLVED", string(out.Status))
	return out, nil
}
