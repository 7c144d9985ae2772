package ledger

import (
	"context"
	"slices"
	"sync"

	"github.com/ruralpay/tourwallet/internal/models"
)

// MemoryStore keeps the ledger in process. It backs tests and single-node
// development runs.
type MemoryStore struct {
	mu           sync.RWMutex
	accounts     map[string]*models.Account
	transactions map[string]*models.Transaction
	entries      []models.LedgerEntry
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]*models.Account),
		transactions: make(map[string]*models.Transaction),
	}
}

// PutAccount creates or replaces an account. Account provisioning happens
// outside the ledger, this is the hook it uses.
func (m *MemoryStore) PutAccount(account models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.ID] = &account
}

func (m *MemoryStore) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[accountID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	c := *a
	return &c, nil
}

func (m *MemoryStore) FindTransaction(ctx context.Context, transactionID string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return tx.Clone(), nil
}

func (m *MemoryStore) Apply(ctx context.Context, mut Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if mut.Account != nil {
		current, ok := m.accounts[mut.Account.ID]
		if !ok {
			return ErrAccountNotFound
		}
		if current.LedgerVersion != mut.ExpectedVersion {
			return ErrConcurrentModification
		}
	}

	if mut.Transaction != nil {
		existing, ok := m.transactions[mut.Transaction.ID]
		if ok && (!slices.Contains(mut.AllowedFrom, existing.Status) || !SameTransaction(existing, mut.Transaction)) {
			return errAlreadyFinal
		}
	}

	if mut.Account != nil {
		a := *mut.Account
		a.LedgerVersion = mut.ExpectedVersion + 1
		m.accounts[a.ID] = &a
	}
	if mut.Transaction != nil {
		m.transactions[mut.Transaction.ID] = mut.Transaction.Clone()
	}
	if mut.Entry != nil {
		e := *mut.Entry
		e.ID = len(m.entries) + 1
		m.entries = append(m.entries, e)
	}
	return nil
}

func (m *MemoryStore) SumHeld(ctx context.Context, accountID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum int64
	for _, tx := range m.transactions {
		if tx.AccountID == accountID && tx.Status == models.StatusHeld {
			sum += tx.Amount
		}
	}
	return sum, nil
}

// Entries returns the ledger entries written for an account, oldest first
func (m *MemoryStore) Entries(accountID string) []models.LedgerEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range m.entries {
		if e.AccountID == accountID {
			out = append(out, e)
		}
	}
	return out
}
