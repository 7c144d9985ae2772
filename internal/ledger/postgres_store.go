package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/ruralpay/tourwallet/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore persists accounts, transactions and ledger entries in
// Postgres. Every Apply runs in one database transaction.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	var a models.Account
	err := s.db.QueryRowContext(ctx, `
		SELECT id, balance, currency, daily_limit, offline_limit, spent_today, spent_day, version, active, updated_at
		FROM accounts
		WHERE id = $1`, accountID).Scan(
		&a.ID, &a.Balance, &a.Currency, &a.DailyLimit, &a.OfflineLimit,
		&a.SpentToday, &a.SpentDay, &a.LedgerVersion, &a.Active, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	return &a, nil
}

func (s *PostgresStore) FindTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var (
		t         models.Transaction
		seq       int64
		settledAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT transaction_id, account_id, kind, amount, currency, provider, provider_ref,
			merchant_id, merchant_name, category, device_id, client_sequence, offline,
			occurred_at, received_at, signature, status, reason, balance_after, settled_at
		FROM transactions
		WHERE transaction_id = $1`, transactionID).Scan(
		&t.ID, &t.AccountID, &t.Kind, &t.Amount, &t.Currency, &t.Provider, &t.ProviderRef,
		&t.MerchantID, &t.MerchantName, &t.Category, &t.DeviceID, &seq, &t.Offline,
		&t.OccurredAt, &t.ReceivedAt, &t.Signature, &t.Status, &t.Reason, &t.BalanceAfter, &settledAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", transactionID, err)
	}
	t.ClientSequence = uint64(seq)
	if settledAt.Valid {
		at := settledAt.Time
		t.SettledAt = &at
	}
	return &t, nil
}

func (s *PostgresStore) Apply(ctx context.Context, m Mutation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if m.Account != nil {
		if err := s.lockAccount(ctx, tx, m.Account.ID, m.ExpectedVersion); err != nil {
			return err
		}
		if err := s.updateAccount(ctx, tx, m.Account, m.ExpectedVersion); err != nil {
			return err
		}
	}

	if m.Transaction != nil {
		if err := s.upsertTransaction(ctx, tx, m.Transaction, m.AllowedFrom); err != nil {
			return err
		}
	}

	if m.Entry != nil {
		if err := s.createLedgerEntry(ctx, tx, m.Entry); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *PostgresStore) SumHeld(ctx context.Context, accountID string) (int64, error) {
	var sum int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_id = $1 AND status = $2`, accountID, models.StatusHeld).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum held for %s: %w", accountID, err)
	}
	return sum, nil
}

func (s *PostgresStore) lockAccount(ctx context.Context, tx *sql.Tx, accountID string, expectedVersion int64) error {
	var version int64
	err := tx.QueryRowContext(ctx, `
		SELECT version
		FROM accounts
		WHERE id = $1
		FOR UPDATE`, accountID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if version != expectedVersion {
		return ErrConcurrentModification
	}
	return nil
}

func (s *PostgresStore) updateAccount(ctx context.Context, tx *sql.Tx, a *models.Account, expectedVersion int64) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, spent_today = $2, spent_day = $3, version = version + 1, updated_at = $4
		WHERE id = $5 AND version = $6`,
		a.Balance, a.SpentToday, a.SpentDay, s.now(), a.ID, expectedVersion)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return ErrConcurrentModification
	}
	return nil
}

func (s *PostgresStore) upsertTransaction(ctx context.Context, tx *sql.Tx, t *models.Transaction, allowedFrom []models.TransactionStatus) error {
	allowed := make([]string, len(allowedFrom))
	for i, st := range allowedFrom {
		allowed[i] = string(st)
	}

	var settledAt sql.NullTime
	if t.SettledAt != nil {
		settledAt = sql.NullTime{Time: *t.SettledAt, Valid: true}
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (transaction_id, account_id, kind, amount, currency, provider, provider_ref,
			merchant_id, merchant_name, category, device_id, client_sequence, offline,
			occurred_at, received_at, signature, status, reason, balance_after, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		ON CONFLICT (transaction_id) DO UPDATE
		SET status = EXCLUDED.status, reason = EXCLUDED.reason, provider_ref = EXCLUDED.provider_ref,
			balance_after = EXCLUDED.balance_after, settled_at = EXCLUDED.settled_at
		WHERE transactions.status = ANY($21)
			AND transactions.account_id = EXCLUDED.account_id
			AND transactions.kind = EXCLUDED.kind
			AND transactions.amount = EXCLUDED.amount`,
		t.ID, t.AccountID, t.Kind, t.Amount, t.Currency, t.Provider, t.ProviderRef,
		t.MerchantID, t.MerchantName, t.Category, t.DeviceID, int64(t.ClientSequence), t.Offline,
		t.OccurredAt, t.ReceivedAt, t.Signature, t.Status, t.Reason, t.BalanceAfter, settledAt,
		pq.Array(allowed),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return errAlreadyFinal
		}
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return errAlreadyFinal
	}
	return nil
}

func (s *PostgresStore) createLedgerEntry(ctx context.Context, tx *sql.Tx, e *models.LedgerEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (transaction_id, account_id, amount, entry_type, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.TransactionID, e.AccountID, e.Amount, e.EntryType, e.BalanceAfter, e.CreatedAt)
	return err
}
