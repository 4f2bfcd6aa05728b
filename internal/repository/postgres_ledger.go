package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"creditgate/internal/ledger"
	"creditgate/internal/model"
)

// PostgresLedger runs every grant in a SERIALIZABLE transaction; serialization
// failures and unique violations are reported as ledger.ErrConflict.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ ledger.Store = (*PostgresLedger)(nil)

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

const selectPurchaseRecordSQL = `
SELECT purchase_token, owner, product_id, package_name, status, granted_credits,
	clawed_back_credits, last_event_id, order_id, purchase_time_millis, quantity,
	purchase_state, provider_purchase_state, provider_metadata, updated_at
FROM purchase_records
WHERE purchase_token = $1
FOR UPDATE`

const upsertPurchaseRecordSQL = `
INSERT INTO purchase_records (
	purchase_token, owner, product_id, package_name, status, granted_credits,
	clawed_back_credits, last_event_id, order_id, purchase_time_millis, quantity,
	purchase_state, provider_purchase_state, provider_metadata, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14::jsonb, $15)
ON CONFLICT (purchase_token) DO UPDATE SET
	status = EXCLUDED.status,
	granted_credits = EXCLUDED.granted_credits,
	last_event_id = EXCLUDED.last_event_id,
	order_id = EXCLUDED.order_id,
	purchase_time_millis = EXCLUDED.purchase_time_millis,
	quantity = EXCLUDED.quantity,
	purchase_state = EXCLUDED.purchase_state,
	provider_purchase_state = EXCLUDED.provider_purchase_state,
	provider_metadata = EXCLUDED.provider_metadata,
	updated_at = EXCLUDED.updated_at
WHERE purchase_records.owner = EXCLUDED.owner`

func (p *PostgresLedger) GrantTx(ctx context.Context, purchaseToken, accountID string, decide func(ledger.Snapshot) (*ledger.Mutation, error)) error {
	err := WithTx(ctx, p.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(ctx context.Context, tx pgx.Tx) error {
		var snap ledger.Snapshot

		rec, err := scanPurchaseRecord(tx.QueryRow(ctx, selectPurchaseRecordSQL, purchaseToken))
		switch {
		case err == nil:
			snap.Record = &rec
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("select purchase record: %w", err)
		}

		var acc model.Account
		err = tx.QueryRow(ctx, `
SELECT account_id, credit_balance, updated_at
FROM accounts
WHERE account_id = $1
FOR UPDATE`, accountID).Scan(&acc.AccountID, &acc.CreditBalance, &acc.UpdatedAt)
		switch {
		case err == nil:
			snap.Account = &acc
		case !errors.Is(err, pgx.ErrNoRows):
			return fmt.Errorf("select account: %w", err)
		}

		m, err := decide(snap)
		if err != nil || m == nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
INSERT INTO accounts (account_id, credit_balance, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (account_id) DO UPDATE SET
	credit_balance = EXCLUDED.credit_balance,
	updated_at = EXCLUDED.updated_at`,
			m.Account.AccountID, m.Account.CreditBalance, m.Account.UpdatedAt,
		); err != nil {
			return fmt.Errorf("upsert account: %w", err)
		}

		metadata, err := marshalMetadata(m.Record.ProviderMetadata)
		if err != nil {
			return err
		}
		r := m.Record
		tag, err := tx.Exec(ctx, upsertPurchaseRecordSQL,
			r.PurchaseToken, r.Owner, r.ProductID, r.PackageName, r.Status, r.GrantedCredits,
			r.ClawedBackCredits, r.LastEventID, r.OrderID, r.PurchaseTimeMillis, r.Quantity,
			r.PurchaseState, r.ProviderPurchaseState, metadata, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert purchase record: %w", err)
		}
		if tag.RowsAffected() != 1 {
			// owner changed under us
			return ledger.ErrConflict
		}

		e := m.Event
		if _, err := tx.Exec(ctx, `
INSERT INTO ledger_events (event_id, account_id, purchase_token, delta_credits, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
			e.EventID, e.AccountID, e.PurchaseToken, e.DeltaCredits, e.Reason, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert ledger event: %w", err)
		}
		return nil
	})
	if isConflict(err) {
		return ledger.ErrConflict
	}
	return err
}

func (p *PostgresLedger) Balance(ctx context.Context, accountID string) (int64, error) {
	var balance int64
	err := p.pool.QueryRow(ctx, `SELECT credit_balance FROM accounts WHERE account_id = $1`, accountID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

func (p *PostgresLedger) Events(ctx context.Context, accountID string, limit int) ([]model.LedgerEvent, error) {
	rows, err := p.pool.Query(ctx, `
SELECT account_id, event_id, purchase_token, delta_credits, reason, created_at
FROM ledger_events
WHERE account_id = $1
ORDER BY created_at DESC, event_id DESC
LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("query ledger events: %w", err)
	}
	defer rows.Close()

	events := make([]model.LedgerEvent, 0, limit)
	for rows.Next() {
		var e model.LedgerEvent
		if err := rows.Scan(&e.AccountID, &e.EventID, &e.PurchaseToken, &e.DeltaCredits, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger events: %w", err)
	}
	return events, nil
}

func (p *PostgresLedger) DeleteAccount(ctx context.Context, accountID string) error {
	return WithTx(ctx, p.pool, pgx.TxOptions{}, func(ctx context.Context, tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM ledger_events WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("delete ledger events: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM accounts WHERE account_id = $1`, accountID); err != nil {
			return fmt.Errorf("delete account: %w", err)
		}
		return nil
	})
}

func scanPurchaseRecord(row pgx.Row) (model.PurchaseRecord, error) {
	var (
		rec         model.PurchaseRecord
		rawMetadata []byte
	)
	if err := row.Scan(
		&rec.PurchaseToken,
		&rec.Owner,
		&rec.ProductID,
		&rec.PackageName,
		&rec.Status,
		&rec.GrantedCredits,
		&rec.ClawedBackCredits,
		&rec.LastEventID,
		&rec.OrderID,
		&rec.PurchaseTimeMillis,
		&rec.Quantity,
		&rec.PurchaseState,
		&rec.ProviderPurchaseState,
		&rawMetadata,
		&rec.UpdatedAt,
	); err != nil {
		return model.PurchaseRecord{}, err
	}
	if len(rawMetadata) > 0 && string(rawMetadata) != "null" {
		var md model.ProviderMetadata
		if err := json.Unmarshal(rawMetadata, &md); err != nil {
			return model.PurchaseRecord{}, fmt.Errorf("decode provider metadata: %w", err)
		}
		rec.ProviderMetadata = &md
	}
	return rec, nil
}

func marshalMetadata(md *model.ProviderMetadata) (*string, error) {
	if md == nil {
		return nil, nil
	}
	raw, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal provider metadata: %w", err)
	}
	s := string(raw)
	return &s, nil
}
