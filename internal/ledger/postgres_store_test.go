package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/ruralpay/tourwallet/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumns = []string{"id", "balance", "currency", "daily_limit", "offline_limit", "spent_today", "spent_day", "version", "active", "updated_at"}

func TestPostgresStore_GetAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	ctx := context.Background()

	t.Run("found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, balance, currency, daily_limit, offline_limit, spent_today, spent_day, version, active, updated_at FROM accounts WHERE id = \\$1").
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows(accountColumns).
				AddRow("acc-1", 1000, "USD", 5000, 500, 200, "2026-07-01", 4, true, time.Now()))

		account, err := store.GetAccount(ctx, "acc-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1000), account.Balance)
		assert.Equal(t, int64(4), account.LedgerVersion)
		assert.True(t, account.Active)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, balance").
			WithArgs("nope").
			WillReturnRows(sqlmock.NewRows(accountColumns))

		_, err := store.GetAccount(ctx, "nope")
		assert.ErrorIs(t, err, ErrAccountNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_FindTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresStore(db)
	columns := []string{"transaction_id", "account_id", "kind", "amount", "currency", "provider", "provider_ref",
		"merchant_id", "merchant_name", "category", "device_id", "client_sequence", "offline",
		"occurred_at", "received_at", "signature", "status", "reason", "balance_after", "settled_at"}
	now := time.Now()

	mock.ExpectQuery("SELECT transaction_id, account_id, kind, amount").
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows(columns).AddRow(
			"tx-1", "acc-1", "spend", 300, "USD", "", "",
			"m-1", "Cafe", "food", "term-1", 7, true,
			now, now, "k1:abcd", "held", "velocity_exceeded", 1000, nil))

	tx, err := store.FindTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, models.KindSpend, tx.Kind)
	assert.Equal(t, models.StatusHeld, tx.Status)
	assert.Equal(t, uint64(7), tx.ClientSequence)
	assert.Nil(t, tx.SettledAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Apply(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	settled := func() *models.Transaction {
		return &models.Transaction{
			ID: "tx-1", AccountID: "acc-1", Kind: models.KindSpend, Amount: 300, Currency: "USD",
			OccurredAt: now, ReceivedAt: now, Status: models.StatusSettled, BalanceAfter: 700, SettledAt: &now,
		}
	}
	mutation := func() Mutation {
		return Mutation{
			Account:         &models.Account{ID: "acc-1", Balance: 700, SpentToday: 300, SpentDay: "2026-07-01"},
			ExpectedVersion: 3,
			Transaction:     settled(),
			AllowedFrom:     pendingStatuses,
			Entry: &models.LedgerEntry{
				TransactionID: "tx-1", AccountID: "acc-1", Amount: -300, EntryType: models.EntryDebit, BalanceAfter: 700, CreatedAt: now,
			},
		}
	}

	t.Run("writes account, transaction and entry", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT version FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, spent_today = \\$2, spent_day = \\$3, version = version \\+ 1, updated_at = \\$4 WHERE id = \\$5 AND version = \\$6").
			WithArgs(700, 300, "2026-07-01", sqlmock.AnyArg(), "acc-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("tx-1", "acc-1", -300, "DEBIT", 700, sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()

		require.NoError(t, store.Apply(ctx, mutation()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT version FROM accounts").
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(4))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.Apply(ctx, mutation()), ErrConcurrentModification)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic update misses", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT version FROM accounts").
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(3))
		mock.ExpectExec("UPDATE accounts").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		assert.ErrorIs(t, store.Apply(ctx, mutation()), ErrConcurrentModification)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("transaction already final", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions .* ON CONFLICT \\(transaction_id\\) DO UPDATE").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err = store.Apply(ctx, Mutation{Transaction: settled(), AllowedFrom: pendingStatuses})
		assert.True(t, errors.Is(err, errAlreadyFinal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to already final", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		defer db.Close()
		store := NewPostgresStore(db)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO transactions").
			WillReturnError(&pq.Error{Code: uniqueViolation})
		mock.ExpectRollback()

		err = store.Apply(ctx, Mutation{Transaction: settled(), AllowedFrom: pendingStatuses})
		assert.True(t, errors.Is(err, errAlreadyFinal))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_SumHeld(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT COALESCE\\(SUM\\(amount\\), 0\\) FROM transactions WHERE account_id = \\$1 AND status = \\$2").
		WithArgs("acc-1", "held").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(600))

	sum, err := NewPostgresStore(db).SumHeld(context.Background(), "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(600), sum)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerOverPostgres_DuplicateFromConcurrentWriter(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	clock := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	l := New(NewPostgresStore(db), WithClock(func() time.Time { return clock }))
	txColumns := []string{"transaction_id", "account_id", "kind", "amount", "currency", "provider", "provider_ref",
		"merchant_id", "merchant_name", "category", "device_id", "client_sequence", "offline",
		"occurred_at", "received_at", "signature", "status", "reason", "balance_after", "settled_at"}

	// not yet recorded
	mock.ExpectQuery("SELECT transaction_id").WithArgs("tx-1").WillReturnRows(sqlmock.NewRows(txColumns))
	mock.ExpectQuery("SELECT id, balance").WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow("acc-1", 0, "USD", 5000, 500, 0, "2026-07-01", 0, true, clock))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM accounts").WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))
	mock.ExpectExec("UPDATE accounts").WillReturnResult(sqlmock.NewResult(0, 1))
	// another node settled the same id first
	mock.ExpectExec("INSERT INTO transactions").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT transaction_id").WithArgs("tx-1").WillReturnRows(sqlmock.NewRows(txColumns).AddRow(
		"tx-1", "acc-1", "top_up", 1000, "USD", "card", "ch_1", "", "", "", "", 0, false,
		clock, clock, "k1:ab", "settled", "", 1000, clock))

	_, err = l.Credit(context.Background(), "acc-1", 1000, "tx-1")
	var dup *DuplicateTransactionError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, int64(1000), dup.Prior.BalanceAfter)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerOverPostgres_IDTakenByAnotherAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	clock := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	l := New(NewPostgresStore(db), WithClock(func() time.Time { return clock }))
	txColumns := []string{"transaction_id", "account_id", "kind", "amount", "currency", "provider", "provider_ref",
		"merchant_id", "merchant_name", "category", "device_id", "client_sequence", "offline",
		"occurred_at", "received_at", "signature", "status", "reason", "balance_after", "settled_at"}

	// a pending top-up on acc-1 was written by another node after our check
	mock.ExpectQuery("SELECT transaction_id").WithArgs("R9").WillReturnRows(sqlmock.NewRows(txColumns))
	mock.ExpectQuery("SELECT id, balance").WithArgs("acc-2").
		WillReturnRows(sqlmock.NewRows(accountColumns).AddRow("acc-2", 500, "USD", 5000, 500, 0, "2026-07-01", 0, true, clock))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO transactions .* ON CONFLICT \\(transaction_id\\) DO UPDATE .* WHERE transactions.status = ANY\\(\\$21\\) AND transactions.account_id = EXCLUDED.account_id AND transactions.kind = EXCLUDED.kind AND transactions.amount = EXCLUDED.amount").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()
	mock.ExpectQuery("SELECT transaction_id").WithArgs("R9").WillReturnRows(sqlmock.NewRows(txColumns).AddRow(
		"R9", "acc-1", "top_up", 800, "USD", "mobile_money", "", "", "", "", "", 0, false,
		clock, clock, "k1:ab", "submitted", "", 0, nil))

	err = l.Reject(context.Background(), "acc-2", &models.Transaction{ID: "R9", Kind: models.KindSpend, Amount: 50}, models.ReasonInsufficientFunds)
	var taken *TransactionConflictError
	require.True(t, errors.As(err, &taken))
	assert.Equal(t, "acc-1", taken.Prior.AccountID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
