package ledger

import (
	"context"
	"hash/fnv"
	"sync"
)

const defaultLockShards = 64

// AccountLocks hands out one lock per account. Accounts are spread over
// independently locked shards and entries are dropped when nobody holds or
// waits on them.
type AccountLocks struct {
	shards []*lockShard
}

type lockShard struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

// lockEntry is a one-slot semaphore so waiters can give up on ctx
type lockEntry struct {
	sem  chan struct{}
	refs int
}

func NewAccountLocks(shards int) *AccountLocks {
	if shards <= 0 {
		shards = defaultLockShards
	}
	l := &AccountLocks{shards: make([]*lockShard, shards)}
	for i := range l.shards {
		l.shards[i] = &lockShard{entries: make(map[string]*lockEntry)}
	}
	return l
}

func (l *AccountLocks) shard(accountID string) *lockShard {
	h := fnv.New32a()
	h.Write([]byte(accountID))
	return l.shards[h.Sum32()%uint32(len(l.shards))]
}

// Lock blocks until the account is free or ctx is done, and returns the
// matching unlock func
func (l *AccountLocks) Lock(ctx context.Context, accountID string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s := l.shard(accountID)
	s.mu.Lock()
	e, ok := s.entries[accountID]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		s.entries[accountID] = e
	}
	e.refs++
	s.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		s.release(accountID, e)
		return nil, ctx.Err()
	}

	return func() {
		<-e.sem
		s.release(accountID, e)
	}, nil
}

func (s *lockShard) release(accountID string, e *lockEntry) {
	s.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(s.entries, accountID)
	}
	s.mu.Unlock()
}

// Len returns the number of accounts currently locked or waited on
func (l *AccountLocks) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}
