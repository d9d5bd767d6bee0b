package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	apperrors "github.com/arkvault/arkvault-backend/internal/pkg/errors"
	"github.com/arkvault/arkvault-backend/internal/pkg/logger"
)

type redisStore struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisStore(log *logger.Logger, addr string, ttl time.Duration) (Store, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStore{
		log: log.With("service", "PendingTxStore"),
		rdb: rdb,
		ttl: ttl,
	}, nil
}

func (s *redisStore) Stage(ctx context.Context, tx *Transaction) (string, error) {
	if tx == nil {
		return "", fmt.Errorf("nil pending transaction")
	}
	if tx.PendingID == "" {
		tx.PendingID = keyPrefix(tx.InitiatorWallet) + uuid.NewString()
		tx.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(tx)
	if err != nil {
		return "", fmt.Errorf("marshal pending transaction: %w", err)
	}
	if err := s.rdb.Set(ctx, tx.PendingID, raw, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("stage pending transaction: %w", err)
	}
	s.log.Info("Staged pending transaction", "pending_id", tx.PendingID, "asset_id", tx.AssetID, "ttl", s.ttl)
	return tx.PendingID, nil
}

func (s *redisStore) Get(ctx context.Context, pendingID string) (*Transaction, error) {
	raw, err := s.rdb.Get(ctx, pendingID).Bytes()
	if err == goredis.Nil {
		return nil, fmt.Errorf("pending transaction %s: %w", pendingID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get pending transaction: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("decode pending transaction: %w", err)
	}
	return &tx, nil
}

func (s *redisStore) Consume(ctx context.Context, pendingID string) (*Transaction, error) {
	raw, err := s.rdb.GetDel(ctx, pendingID).Bytes()
	if err == goredis.Nil {
		return nil, fmt.Errorf("pending transaction %s: %w", pendingID, apperrors.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("consume pending transaction: %w", err)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("decode pending transaction: %w", err)
	}
	return &tx, nil
}

func (s *redisStore) ListByInitiator(ctx context.Context, wallet string) ([]*Transaction, error) {
	var out []*Transaction
	iter := s.rdb.Scan(ctx, 0, keyPrefix(wallet)+"*", 100).Iterator()
	for iter.Next(ctx) {
		tx, err := s.Get(ctx, iter.Val())
		if err != nil {
			// Entry may have expired between scan and get.
			continue
		}
		out = append(out, tx)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan pending transactions: %w", err)
	}
	return out, nil
}
