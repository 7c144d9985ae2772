package queue

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"

	"github.com/ruralpay/tourwallet/internal/models"
)

const defaultShards = 32

// MemoryQueue spreads accounts over independently locked shards so
// enqueues for different accounts do not contend.
type MemoryQueue struct {
	shards []*shard
}

type shard struct {
	mu      sync.Mutex
	buffers map[string][]*models.Transaction
}

var _ Queue = (*MemoryQueue)(nil)

func NewMemoryQueue(shards int) *MemoryQueue {
	if shards <= 0 {
		shards = defaultShards
	}
	q := &MemoryQueue{shards: make([]*shard, shards)}
	for i := range q.shards {
		q.shards[i] = &shard{buffers: make(map[string][]*models.Transaction)}
	}
	return q
}

func (q *MemoryQueue) shardFor(accountID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

func (q *MemoryQueue) Enqueue(ctx context.Context, tx *models.Transaction) error {
	if tx.AccountID == "" {
		return ErrMissingAccount
	}
	s := q.shardFor(tx.AccountID)
	s.mu.Lock()
	s.buffers[tx.AccountID] = append(s.buffers[tx.AccountID], tx.Clone())
	s.mu.Unlock()
	return nil
}

func (q *MemoryQueue) Drain(ctx context.Context, accountID string) ([]*models.Transaction, error) {
	s := q.shardFor(accountID)
	s.mu.Lock()
	txs := s.buffers[accountID]
	delete(s.buffers, accountID)
	s.mu.Unlock()

	Sort(txs)
	return txs, nil
}

func (q *MemoryQueue) PendingAccounts(ctx context.Context) ([]string, error) {
	var accounts []string
	for _, s := range q.shards {
		s.mu.Lock()
		for id := range s.buffers {
			accounts = append(accounts, id)
		}
		s.mu.Unlock()
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (q *MemoryQueue) Len(ctx context.Context, accountID string) (int, error) {
	s := q.shardFor(accountID)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffers[accountID]), nil
}
