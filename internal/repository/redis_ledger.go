package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"creditgate/internal/ledger"
	"creditgate/internal/model"
)

// RedisLedger keeps purchase records, accounts and ledger events in Redis.
// Grants use WATCH/MULTI/EXEC: a write to either watched key between the read and
// the EXEC aborts the transaction, which is surfaced as ledger.ErrConflict.
type RedisLedger struct {
	client *redis.Client
	prefix string
}

var _ ledger.Store = (*RedisLedger)(nil)

func NewRedisLedger(rdb *redis.Client, prefix string) *RedisLedger {
	if prefix == "" {
		prefix = "creditgate"
	}
	return &RedisLedger{client: rdb, prefix: prefix}
}

func (r *RedisLedger) purchaseKey(token string) string {
	return fmt.Sprintf("%s:purchase:%s", r.prefix, token)
}

func (r *RedisLedger) accountKey(accountID string) string {
	return fmt.Sprintf("%s:account:%s", r.prefix, accountID)
}

func (r *RedisLedger) eventsKey(accountID string) string {
	return fmt.Sprintf("%s:ledger:%s", r.prefix, accountID)
}

func (r *RedisLedger) GrantTx(ctx context.Context, purchaseToken, accountID string, decide func(ledger.Snapshot) (*ledger.Mutation, error)) error {
	recordKey := r.purchaseKey(purchaseToken)
	accountKey := r.accountKey(accountID)
	eventsKey := r.eventsKey(accountID)

	txf := func(tx *redis.Tx) error {
		var snap ledger.Snapshot

		var rec model.PurchaseRecord
		found, err := getJSON(ctx, tx, recordKey, &rec)
		if err != nil {
			return err
		}
		if found {
			snap.Record = &rec
		}

		var acc model.Account
		found, err = getJSON(ctx, tx, accountKey, &acc)
		if err != nil {
			return err
		}
		if found {
			snap.Account = &acc
		}

		m, err := decide(snap)
		if err != nil || m == nil {
			return err
		}

		recordJSON, err := json.Marshal(m.Record)
		if err != nil {
			return fmt.Errorf("marshal purchase record: %w", err)
		}
		accountJSON, err := json.Marshal(m.Account)
		if err != nil {
			return fmt.Errorf("marshal account: %w", err)
		}
		eventJSON, err := json.Marshal(m.Event)
		if err != nil {
			return fmt.Errorf("marshal ledger event: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, accountKey, accountJSON, 0)
			pipe.Set(ctx, recordKey, recordJSON, 0)
			pipe.LPush(ctx, eventsKey, eventJSON)
			return nil
		})
		return err
	}

	err := r.client.Watch(ctx, txf, recordKey, accountKey)
	if errors.Is(err, redis.TxFailedErr) {
		return ledger.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("redis grant transaction: %w", err)
	}
	return nil
}

func (r *RedisLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	var acc model.Account
	if _, err := getJSON(ctx, r.client, r.accountKey(accountID), &acc); err != nil {
		return 0, err
	}
	return acc.CreditBalance, nil
}

func (r *RedisLedger) Events(ctx context.Context, accountID string, limit int) ([]model.LedgerEvent, error) {
	raw, err := r.client.LRange(ctx, r.eventsKey(accountID), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("read ledger events: %w", err)
	}

	events := make([]model.LedgerEvent, 0, len(raw))
	for _, item := range raw {
		var e model.LedgerEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode ledger event: %w", err)
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *RedisLedger) DeleteAccount(ctx context.Context, accountID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.accountKey(accountID), r.eventsKey(accountID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete account data: %w", err)
	}
	return nil
}

func getJSON(ctx context.Context, c redis.Cmdable, key string, dst any) (bool, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}
