package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/tourwallet/internal/models"
	"go.uber.org/zap"
)

const (
	keyPrefix        = "offline:queue:"
	accountsKey      = "offline:queue:accounts"
	deadLetterPrefix = "offline:deadletter:"
)

// RedisQueue is the durable queue. Each account is a list, and a set tracks
// which accounts have something buffered.
type RedisQueue struct {
	redis  *redis.Client
	logger *zap.Logger
}

var _ Queue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{redis: client, logger: zap.L().Named("queue")}
}

func accountKey(accountID string) string {
	return keyPrefix + accountID
}

// DeadLetterKey is the list that keeps queued payloads Drain could not decode
func DeadLetterKey(accountID string) string {
	return deadLetterPrefix + accountID
}

func (q *RedisQueue) Enqueue(ctx context.Context, tx *models.Transaction) error {
	if tx.AccountID == "" {
		return ErrMissingAccount
	}
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("encode queued transaction: %w", err)
	}

	pipe := q.redis.TxPipeline()
	pipe.RPush(ctx, accountKey(tx.AccountID), payload)
	pipe.SAdd(ctx, accountsKey, tx.AccountID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue %s: %w", tx.ID, err)
	}
	return nil
}

func (q *RedisQueue) Drain(ctx context.Context, accountID string) ([]*models.Transaction, error) {
	pipe := q.redis.TxPipeline()
	items := pipe.LRange(ctx, accountKey(accountID), 0, -1)
	pipe.Del(ctx, accountKey(accountID))
	pipe.SRem(ctx, accountsKey, accountID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("drain %s: %w", accountID, err)
	}

	raw := items.Val()
	txs := make([]*models.Transaction, 0, len(raw))
	var undecodable []any
	for _, item := range raw {
		var tx models.Transaction
		if err := json.Unmarshal([]byte(item), &tx); err != nil {
			q.logger.Warn("moving undecodable queued transaction to dead letter",
				zap.String("account_id", accountID), zap.Error(err))
			undecodable = append(undecodable, item)
			continue
		}
		txs = append(txs, &tx)
	}
	q.deadLetter(ctx, accountID, undecodable)

	Sort(txs)
	return txs, nil
}

// deadLetter parks payloads that cannot be settled so an operator can
// inspect them. The queue list is already gone, so a failed push is logged
// with the payloads themselves.
func (q *RedisQueue) deadLetter(ctx context.Context, accountID string, payloads []any) {
	if len(payloads) == 0 {
		return
	}
	if err := q.redis.RPush(ctx, DeadLetterKey(accountID), payloads...).Err(); err != nil {
		q.logger.Error("dead letter push failed, payloads lost from redis",
			zap.String("account_id", accountID),
			zap.Any("payloads", payloads),
			zap.Error(err))
	}
}

func (q *RedisQueue) PendingAccounts(ctx context.Context) ([]string, error) {
	accounts, err := q.redis.SMembers(ctx, accountsKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(accounts)
	return accounts, nil
}

func (q *RedisQueue) Len(ctx context.Context, accountID string) (int, error) {
	n, err := q.redis.LLen(ctx, accountKey(accountID)).Result()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
