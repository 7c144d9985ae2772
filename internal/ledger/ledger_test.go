package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ruralpay/tourwallet/internal/hsm"
	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLedger(t *testing.T, balance int64) (*Ledger, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	store.PutAccount(models.Account{
		ID:           "acc-1",
		Balance:      balance,
		Currency:     "USD",
		DailyLimit:   5000,
		OfflineLimit: 500,
		SpentDay:     "2026-07-01",
		Active:       true,
	})
	return New(store, WithClock(clock.Now)), store, clock
}

func TestLedger_Credit(t *testing.T) {
	ctx := context.Background()

	t.Run("credits balance and bumps version", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 0)

		balance, err := l.Credit(ctx, "acc-1", 1000, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), balance)

		account, err := l.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), account.LedgerVersion)

		tx, err := l.Transaction(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, tx.Status)
		assert.Equal(t, int64(1000), tx.BalanceAfter)

		entries := store.Entries("acc-1")
		require.Len(t, entries, 1)
		assert.Equal(t, models.EntryCredit, entries[0].EntryType)
		assert.Equal(t, int64(1000), entries[0].Amount)
	})

	t.Run("same transaction id applies once", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 0)

		first, err := l.Credit(ctx, "acc-1", 1000, "tx-1")
		require.NoError(t, err)

		_, err = l.Credit(ctx, "acc-1", 1000, "tx-1")
		var dup *DuplicateTransactionError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, first, dup.Prior.BalanceAfter)

		account, err := l.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), account.Balance)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 0)
		_, err := l.Credit(ctx, "acc-1", 0, "tx-1")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("unknown account", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 0)
		_, err := l.Credit(ctx, "missing", 10, "tx-1")
		assert.ErrorIs(t, err, ErrAccountNotFound)
	})

	t.Run("inactive account", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 0)
		store.PutAccount(models.Account{ID: "acc-2", Currency: "USD"})
		_, err := l.Credit(ctx, "acc-2", 10, "tx-1")
		assert.ErrorIs(t, err, ErrAccountInactive)
	})
}

func TestLedger_Debit(t *testing.T) {
	ctx := context.Background()

	t.Run("debits and tracks spent today", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 1000)

		balance, err := l.Debit(ctx, "acc-1", 300, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, int64(700), balance)

		account, err := l.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(300), account.SpentToday)

		entries := store.Entries("acc-1")
		require.Len(t, entries, 1)
		assert.Equal(t, int64(-300), entries[0].Amount)
		assert.Equal(t, models.EntryDebit, entries[0].EntryType)
	})

	t.Run("insufficient funds leaves no trace", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 100)

		_, err := l.Debit(ctx, "acc-1", 300, "tx-1")
		var insufficient *InsufficientFundsError
		require.True(t, errors.As(err, &insufficient))
		assert.Equal(t, int64(100), insufficient.Balance)

		_, err = l.Transaction(ctx, "tx-1")
		assert.ErrorIs(t, err, ErrTransactionNotFound)
		assert.Empty(t, store.Entries("acc-1"))
	})

	t.Run("duplicate debit returns prior balance", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)

		_, err := l.Debit(ctx, "acc-1", 300, "tx-1")
		require.NoError(t, err)
		_, err = l.Debit(ctx, "acc-1", 300, "tx-1")

		var dup *DuplicateTransactionError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, int64(700), dup.Prior.BalanceAfter)

		account, _ := l.Account(ctx, "acc-1")
		assert.Equal(t, int64(700), account.Balance)
	})

	t.Run("spent today resets at day boundary", func(t *testing.T) {
		l, _, clock := newTestLedger(t, 1000)

		_, err := l.Debit(ctx, "acc-1", 300, "tx-1")
		require.NoError(t, err)

		clock.Advance(14 * time.Hour)
		account, err := l.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.SpentToday)
		assert.Equal(t, "2026-07-02", account.SpentDay)

		_, err = l.Debit(ctx, "acc-1", 100, "tx-2")
		require.NoError(t, err)
		account, _ = l.Account(ctx, "acc-1")
		assert.Equal(t, int64(100), account.SpentToday)
	})

	t.Run("day boundary follows configured zone", func(t *testing.T) {
		zone := time.FixedZone("UTC+10", 10*3600)
		clock := &fakeClock{t: time.Date(2026, 7, 1, 13, 0, 0, 0, time.UTC)}
		store := NewMemoryStore()
		store.PutAccount(models.Account{ID: "acc-1", Balance: 1000, Currency: "USD", SpentToday: 200, SpentDay: "2026-07-01", Active: true})
		l := New(store, WithClock(clock.Now), WithDayBoundary(zone))

		// 13:00 UTC is 23:00 local, still the same local day
		account, err := l.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(200), account.SpentToday)

		clock.Advance(time.Hour)
		account, err = l.Account(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), account.SpentToday)
	})
}

func TestLedger_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	settled := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Debit(ctx, "acc-1", 30, fmt.Sprintf("tx-%d", i)); err == nil {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	account, err := l.Account(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, 33, settled)
	assert.Equal(t, int64(10), account.Balance)
	assert.GreaterOrEqual(t, account.Balance, int64(0))
	assert.Equal(t, int64(33), account.LedgerVersion)
}

func TestLedger_ConcurrentCreditsAndDebits(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Credit(ctx, "acc-1", 100, fmt.Sprintf("c-%d", i))
		}(i)
		go func(i int) {
			defer wg.Done()
			_, _ = l.Credit(ctx, "acc-1", 100, fmt.Sprintf("c-%d", i))
		}(i)
	}
	wg.Wait()

	account, err := l.Account(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2000), account.Balance)
	assert.Equal(t, int64(20), account.LedgerVersion)
}

func TestLedger_HoldAndReject(t *testing.T) {
	ctx := context.Background()

	t.Run("hold keeps balance", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 100)
		tx := &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}

		require.NoError(t, l.Hold(ctx, "acc-1", tx, models.ReasonWouldOverdraw))
		assert.Equal(t, models.StatusHeld, tx.Status)
		assert.Equal(t, "acc-1", tx.AccountID)

		account, _ := l.Account(ctx, "acc-1")
		assert.Equal(t, int64(100), account.Balance)
		assert.Equal(t, int64(0), account.LedgerVersion)

		exposure, err := l.HeldExposure(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(300), exposure)
	})

	t.Run("held transaction cannot be debited later", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)
		require.NoError(t, l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, models.ReasonVelocityExceeded))

		_, err := l.Debit(ctx, "acc-1", 300, "tx-1")
		var dup *DuplicateTransactionError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, models.StatusHeld, dup.Prior.Status)
	})

	t.Run("reject is final", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)
		require.NoError(t, l.Reject(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, models.ReasonSignatureMismatch))

		err := l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, "x")
		var dup *DuplicateTransactionError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, models.StatusRejected, dup.Prior.Status)
	})

	t.Run("session rejects foreign account", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)
		err := l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", AccountID: "acc-9", Amount: 1}, "x")
		assert.Error(t, err)
	})
}

func TestLedger_SubmitThenCredit(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 0)

	err := l.Session(ctx, "acc-1", func(s *Session) error {
		return s.Submit(ctx, &models.Transaction{ID: "tx-1", Kind: models.KindTopUp, Amount: 500, Provider: "mobile_money"})
	})
	require.NoError(t, err)

	tx, err := l.Transaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, tx.Status)

	err = l.Session(ctx, "acc-1", func(s *Session) error {
		_, err := s.Credit(ctx, tx)
		return err
	})
	require.NoError(t, err)

	tx, _ = l.Transaction(ctx, "tx-1")
	assert.Equal(t, models.StatusSettled, tx.Status)
	assert.Equal(t, "mobile_money", tx.Provider)
	assert.Equal(t, int64(500), tx.BalanceAfter)
}

func TestLedger_ResolveHold(t *testing.T) {
	ctx := context.Background()

	t.Run("settle debits", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)
		require.NoError(t, l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, models.ReasonAmountOverCeiling))

		tx, err := l.ResolveHold(ctx, "acc-1", "tx-1", true)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, tx.Status)
		assert.Equal(t, int64(700), tx.BalanceAfter)

		account, _ := l.Account(ctx, "acc-1")
		assert.Equal(t, int64(700), account.Balance)
		assert.Equal(t, int64(300), account.SpentToday)
	})

	t.Run("reject leaves balance", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)
		require.NoError(t, l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, models.ReasonAmountOverCeiling))

		tx, err := l.ResolveHold(ctx, "acc-1", "tx-1", false)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, tx.Status)
		assert.Equal(t, models.ReasonOperatorRejected, tx.Reason)

		account, _ := l.Account(ctx, "acc-1")
		assert.Equal(t, int64(1000), account.Balance)
	})

	t.Run("settle without funds fails", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 100)
		require.NoError(t, l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, models.ReasonWouldOverdraw))

		_, err := l.ResolveHold(ctx, "acc-1", "tx-1", true)
		var insufficient *InsufficientFundsError
		assert.True(t, errors.As(err, &insufficient))
	})

	t.Run("only held transactions", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)
		_, err := l.Debit(ctx, "acc-1", 100, "tx-1")
		require.NoError(t, err)

		_, err = l.ResolveHold(ctx, "acc-1", "tx-1", true)
		assert.ErrorIs(t, err, ErrNotHeld)

		_, err = l.ResolveHold(ctx, "acc-1", "missing", true)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})

	t.Run("other account's transaction is not visible", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 1000)
		store.PutAccount(models.Account{ID: "acc-2", Currency: "USD", Active: true})
		require.NoError(t, l.Hold(ctx, "acc-1", &models.Transaction{ID: "tx-1", Kind: models.KindSpend, Amount: 300}, "x"))

		_, err := l.ResolveHold(ctx, "acc-2", "tx-1", true)
		assert.ErrorIs(t, err, ErrTransactionNotFound)
	})
}

// flakyStore fails the first n account writes with ErrConcurrentModification
type flakyStore struct {
	*MemoryStore
	failures int
	calls    int
}

func (f *flakyStore) Apply(ctx context.Context, m Mutation) error {
	f.calls++
	if m.Account != nil && f.failures > 0 {
		f.failures--
		return ErrConcurrentModification
	}
	return f.MemoryStore.Apply(ctx, m)
}

func TestLedger_RetriesConcurrentModification(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers within attempts", func(t *testing.T) {
		mem := NewMemoryStore()
		mem.PutAccount(models.Account{ID: "acc-1", Balance: 100, Currency: "USD", Active: true})
		store := &flakyStore{MemoryStore: mem, failures: 2}

		balance, err := New(store).Credit(ctx, "acc-1", 50, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, int64(150), balance)
		assert.Equal(t, 3, store.calls)
	})

	t.Run("gives up after three", func(t *testing.T) {
		mem := NewMemoryStore()
		mem.PutAccount(models.Account{ID: "acc-1", Balance: 100, Currency: "USD", Active: true})
		store := &flakyStore{MemoryStore: mem, failures: 5}

		_, err := New(store).Credit(ctx, "acc-1", 50, "tx-1")
		assert.ErrorIs(t, err, ErrConcurrentModification)
		assert.Equal(t, 3, store.calls)
	})
}

func TestLedger_CurrencyMismatch(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newTestLedger(t, 0)

	err := l.Session(ctx, "acc-1", func(s *Session) error {
		_, err := s.Credit(ctx, &models.Transaction{ID: "tx-1", Kind: models.KindTopUp, Amount: 10, Currency: "EUR"})
		return err
	})
	assert.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestAccountLocks(t *testing.T) {
	ctx := context.Background()
	locks := NewAccountLocks(4)

	unlock, err := locks.Lock(ctx, "a")
	require.NoError(t, err)

	// a different account is not blocked
	done := make(chan struct{})
	go func() {
		u, err := locks.Lock(ctx, "b")
		if err == nil {
			u()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}

	// same account waits
	acquired := make(chan struct{})
	go func() {
		u, err := locks.Lock(ctx, "a")
		if err == nil {
			close(acquired)
			u()
		}
	}()
	select {
	case <-acquired:
		t.Fatal("second lock on a acquired while held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired a")
	}

	assert.Eventually(t, func() bool { return locks.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = locks.Lock(cancelled, "a")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAccountLocks_WaiterGivesUpOnContext(t *testing.T) {
	ctx := context.Background()
	locks := NewAccountLocks(4)

	unlock, err := locks.Lock(ctx, "a")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	errs := make(chan error, 1)
	go func() {
		u, err := locks.Lock(waitCtx, "a")
		if err == nil {
			u()
		}
		errs <- err
	}()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(time.Second):
		t.Fatal("waiter ignored its deadline while a was held")
	}

	// the abandoned wait does not keep or corrupt the entry
	unlock()
	assert.Eventually(t, func() bool { return locks.Len() == 0 }, time.Second, 5*time.Millisecond)

	u, err := locks.Lock(ctx, "a")
	require.NoError(t, err)
	u()
}

func TestLedger_TransactionIDBelongsToOneTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("settled top-up id reused for a spend on another account", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 0)
		store.PutAccount(models.Account{ID: "acc-2", Balance: 500, Currency: "USD", Active: true})

		_, err := l.Credit(ctx, "acc-1", 1000, "R1")
		require.NoError(t, err)

		_, err = l.Debit(ctx, "acc-2", 50, "R1")
		var conflict *TransactionConflictError
		require.True(t, errors.As(err, &conflict))
		assert.Equal(t, "R1", conflict.TransactionID)

		var dup *DuplicateTransactionError
		assert.False(t, errors.As(err, &dup))

		account, _ := l.Account(ctx, "acc-2")
		assert.Equal(t, int64(500), account.Balance)
	})

	t.Run("pending top-up is not overwritten", func(t *testing.T) {
		l, store, _ := newTestLedger(t, 0)
		store.PutAccount(models.Account{ID: "acc-2", Balance: 500, Currency: "USD", Active: true})

		err := l.Session(ctx, "acc-1", func(s *Session) error {
			return s.Submit(ctx, &models.Transaction{ID: "R9", Kind: models.KindTopUp, Amount: 800, Provider: "mobile_money"})
		})
		require.NoError(t, err)

		err = l.Reject(ctx, "acc-2", &models.Transaction{ID: "R9", Kind: models.KindSpend, Amount: 50}, models.ReasonInsufficientFunds)
		var conflict *TransactionConflictError
		require.True(t, errors.As(err, &conflict))

		tx, err := l.Transaction(ctx, "R9")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", tx.AccountID)
		assert.Equal(t, models.KindTopUp, tx.Kind)
		assert.Equal(t, models.StatusSubmitted, tx.Status)

		balance, err := l.Credit(ctx, "acc-1", 800, "R9")
		require.NoError(t, err)
		assert.Equal(t, int64(800), balance)
	})

	t.Run("same id with a different amount", func(t *testing.T) {
		l, _, _ := newTestLedger(t, 1000)

		_, err := l.Debit(ctx, "acc-1", 300, "tx-1")
		require.NoError(t, err)

		_, err = l.Debit(ctx, "acc-1", 30, "tx-1")
		var conflict *TransactionConflictError
		assert.True(t, errors.As(err, &conflict))
	})

	t.Run("store refuses a mismatched replacement", func(t *testing.T) {
		store := NewMemoryStore()
		now := time.Now()
		pending := &models.Transaction{ID: "R9", AccountID: "acc-1", Kind: models.KindTopUp, Amount: 800, Status: models.StatusSubmitted, ReceivedAt: now}
		require.NoError(t, store.Apply(ctx, Mutation{Transaction: pending, AllowedFrom: pendingStatuses}))

		other := &models.Transaction{ID: "R9", AccountID: "acc-2", Kind: models.KindSpend, Amount: 50, Status: models.StatusRejected, ReceivedAt: now}
		err := store.Apply(ctx, Mutation{Transaction: other, AllowedFrom: pendingStatuses})
		assert.ErrorIs(t, err, errAlreadyFinal)

		stored, err := store.FindTransaction(ctx, "R9")
		require.NoError(t, err)
		assert.Equal(t, "acc-1", stored.AccountID)
	})
}

func TestLedger_ResolveHoldVerifiesSignature(t *testing.T) {
	ctx := context.Background()
	signer, err := hsm.InitSigner(hsm.Config{MasterKey: "test-master-key", Salt: []byte("test-salt")})
	require.NoError(t, err)

	store := NewMemoryStore()
	store.PutAccount(models.Account{ID: "acc-1", Balance: 10000, Currency: "USD", Active: true})
	l := New(store, WithVerifier(signer))

	occurred := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	forged := &models.Transaction{ID: "tx-1", AccountID: "acc-1", Kind: models.KindSpend, Amount: 50, Currency: "USD", OccurredAt: occurred}
	require.NoError(t, signer.Sign(forged))
	forged.Amount = 5000
	require.NoError(t, l.Hold(ctx, "acc-1", forged, models.ReasonAmountOverCeiling))

	_, err = l.ResolveHold(ctx, "acc-1", "tx-1", true)
	assert.ErrorIs(t, err, ErrSignatureInvalid)

	account, _ := l.Account(ctx, "acc-1")
	assert.Equal(t, int64(10000), account.Balance)
	stored, _ := l.Transaction(ctx, "tx-1")
	assert.Equal(t, models.StatusHeld, stored.Status)

	t.Run("operator can still reject it", func(t *testing.T) {
		tx, err := l.ResolveHold(ctx, "acc-1", "tx-1", false)
		require.NoError(t, err)
		assert.Equal(t, models.StatusRejected, tx.Status)
	})

	t.Run("intact hold settles", func(t *testing.T) {
		tx := &models.Transaction{ID: "tx-2", AccountID: "acc-1", Kind: models.KindSpend, Amount: 300, Currency: "USD", OccurredAt: occurred}
		require.NoError(t, signer.Sign(tx))
		require.NoError(t, l.Hold(ctx, "acc-1", tx, models.ReasonVelocityExceeded))

		settled, err := l.ResolveHold(ctx, "acc-1", "tx-2", true)
		require.NoError(t, err)
		assert.Equal(t, int64(9700), settled.BalanceAfter)
	})
}
