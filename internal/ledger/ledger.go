package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"creditgate/internal/model"
	"creditgate/internal/receipt"
)

var (
	// ErrConflict is returned by a Store when a concurrent writer invalidated the snapshot.
	ErrConflict = errors.New("ledger: transaction conflict")
	// ErrRetryExhausted means every attempt hit a conflict; the caller may retry later.
	ErrRetryExhausted = errors.New("ledger: conflict retry budget exhausted")
	ErrInvalidGrant   = errors.New("ledger: invalid grant request")
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 10 * time.Millisecond
)

// Store is a transactional store holding purchase records, accounts and ledger events.
type Store interface {
	// GrantTx reads the purchase record and account in one transaction, passes them to
	// decide and commits the returned mutation atomically. A nil mutation commits nothing.
	// It returns ErrConflict if the snapshot changed before commit.
	GrantTx(ctx context.Context, purchaseToken, accountID string, decide func(Snapshot) (*Mutation, error)) error
	Balance(ctx context.Context, accountID string) (int64, error)
	Events(ctx context.Context, accountID string, limit int) ([]model.LedgerEvent, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

type Ledger struct {
	store      Store
	log        *zap.Logger
	maxRetries uint64
	baseDelay  time.Duration
	now        func() time.Time
	newID      func() string
}

type Option func(*Ledger)

func WithLogger(log *zap.Logger) Option {
	return func(l *Ledger) {
		if log != nil {
			l.log = log
		}
	}
}

// WithMaxRetries sets how many times a conflicting grant is re-run.
func WithMaxRetries(n int) Option {
	return func(l *Ledger) {
		if n >= 0 {
			l.maxRetries = uint64(n)
		}
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.baseDelay = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) {
		if newID != nil {
			l.newID = newID
		}
	}
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:      store,
		log:        zap.NewNop(),
		maxRetries: DefaultMaxRetries,
		baseDelay:  DefaultBaseDelay,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Grant credits accountID for a verified purchase exactly once per purchase token.
func (l *Ledger) Grant(ctx context.Context, req model.GrantRequest) (model.GrantResult, error) {
	req.AccountID = strings.TrimSpace(req.AccountID)
	req.PurchaseToken = strings.TrimSpace(req.PurchaseToken)
	if req.AccountID == "" || req.PurchaseToken == "" {
		return model.GrantResult{}, fmt.Errorf("%w: account id and purchase token are required", ErrInvalidGrant)
	}
	if req.EntitledCredits <= 0 {
		return model.GrantResult{}, fmt.Errorf("%w: entitled credits must be positive", ErrInvalidGrant)
	}

	var (
		result   model.GrantResult
		attempts int
	)
	backoff := retry.WithMaxRetries(l.maxRetries, retry.WithJitterPercent(20, retry.NewExponential(l.baseDelay)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		eventID := l.newID()
		err := l.store.GrantTx(ctx, req.PurchaseToken, req.AccountID, func(snap Snapshot) (*Mutation, error) {
			var m *Mutation
			result, m = Decide(req, snap, eventID, l.now().UTC())
			return m, nil
		})
		if errors.Is(err, ErrConflict) {
			l.log.Debug("grant transaction conflict, retrying",
				zap.String("account_id", req.AccountID),
				zap.String("purchase_token", receipt.MaskToken(req.PurchaseToken)),
				zap.Int("attempt", attempts),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			l.log.Warn("grant retry budget exhausted",
				zap.String("account_id", req.AccountID),
				zap.String("purchase_token", receipt.MaskToken(req.PurchaseToken)),
				zap.Int("attempts", attempts),
			)
			return model.GrantResult{}, fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempts, err)
		}
		return model.GrantResult{}, err
	}

	if result.Status == model.GrantRejected {
		l.log.Warn("purchase token claimed by another account",
			zap.String("account_id", req.AccountID),
			zap.String("purchase_token", receipt.MaskToken(req.PurchaseToken)),
		)
	}
	return result, nil
}

func (l *Ledger) Balance(ctx context.Context, accountID string) (int64, error) {
	return l.store.Balance(ctx, strings.TrimSpace(accountID))
}

// Events lists an account's ledger events, newest first.
func (l *Ledger) Events(ctx context.Context, accountID string, limit int) ([]model.LedgerEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return l.store.Events(ctx, strings.TrimSpace(accountID), limit)
}

// DeleteAccount removes an account and its ledger. Purchase records stay bound to
// their owner so a token can never be claimed again.
func (l *Ledger) DeleteAccount(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return fmt.Errorf("%w: account id is required", ErrInvalidGrant)
	}
	return l.store.DeleteAccount(ctx, accountID)
}
