package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"

	"creditgate/internal/identity"
	"creditgate/internal/ledger"
	"creditgate/internal/model"
	"creditgate/internal/receipt"
	"creditgate/internal/repository"
)

// PurchaseService is what every transport (HTTP, gRPC, NATS) depends on.
type PurchaseService interface {
	Verify(ctx context.Context, credential string, payload map[string]any) (model.VerifyResponse, error)
	Balance(ctx context.Context, credential string) (model.BalanceResponse, error)
	Ledger(ctx context.Context, credential string, limit int) ([]model.LedgerEvent, error)
	ApplyGrantedEvent(ctx context.Context, event model.GrantedEvent) error
	DeleteAccount(ctx context.Context, accountID string) error
}

type Verifier interface {
	Verify(ctx context.Context, packageName, productID, purchaseToken string) (model.Outcome, error)
}

type CreditLedger interface {
	Grant(ctx context.Context, req model.GrantRequest) (model.GrantResult, error)
	Balance(ctx context.Context, accountID string) (int64, error)
	Events(ctx context.Context, accountID string, limit int) ([]model.LedgerEvent, error)
	DeleteAccount(ctx context.Context, accountID string) error
}

type BalanceCache interface {
	Balance(ctx context.Context, accountID string, load func(context.Context, string) (int64, error)) (int64, error)
	Raise(ctx context.Context, accountID string, balance int64) (int64, error)
	Evict(ctx context.Context, accountID string) error
}

const MaxLedgerPage = 200

// Dependencies wires the orchestrator. Bus and Cache are optional.
type Dependencies struct {
	Normalizer    *receipt.Normalizer
	Authenticator identity.Authenticator
	Verifier      Verifier
	Ledger        CreditLedger
	Bus           repository.MessageBus
	Cache         BalanceCache
	Logger        *zap.Logger
}

type Orchestrator struct {
	normalizer *receipt.Normalizer
	auth       identity.Authenticator
	verifier   Verifier
	ledger     CreditLedger
	bus        repository.MessageBus
	cache      BalanceCache
	log        *zap.Logger
}

var _ PurchaseService = (*Orchestrator)(nil)

func NewOrchestrator(deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Normalizer == nil:
		return nil, errors.New("service: normalizer is required")
	case deps.Authenticator == nil:
		return nil, errors.New("service: authenticator is required")
	case deps.Verifier == nil:
		return nil, errors.New("service: verifier is required")
	case deps.Ledger == nil:
		return nil, errors.New("service: ledger is required")
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		normalizer: deps.Normalizer,
		auth:       deps.Authenticator,
		verifier:   deps.Verifier,
		ledger:     deps.Ledger,
		bus:        deps.Bus,
		cache:      deps.Cache,
		log:        log,
	}, nil
}

// Verify normalizes the receipt, authenticates the caller, asks the provider and,
// for a valid purchase only, grants the credits. Business outcomes come back as a
// response with a nil error; the error path is reserved for auth and system failures.
func (o *Orchestrator) Verify(ctx context.Context, credential string, payload map[string]any) (model.VerifyResponse, error) {
	req, err := o.normalizer.Normalize(payload)
	if err != nil {
		o.log.Info("receipt rejected before verification", zap.Error(err))
		return model.VerifyResponse{
			Status:        model.StatusInvalid,
			PurchaseToken: req.PurchaseToken,
			Message:       err.Error(),
		}, nil
	}

	accountID, err := o.authenticate(ctx, credential)
	if err != nil {
		return model.VerifyResponse{}, err
	}
	req.AccountID = accountID

	fields := []zap.Field{
		zap.String("account_id", accountID),
		zap.String("product_id", req.ProductID),
		zap.String("purchase_token", receipt.MaskToken(req.PurchaseToken)),
	}

	outcome, err := o.verifier.Verify(ctx, req.PackageName, req.ProductID, req.PurchaseToken)
	if err != nil {
		o.log.Error("purchase verification failed", append(fields, zap.Error(err))...)
		return model.VerifyResponse{}, o.internalError(err, "purchase verification failed")
	}
	if outcome.Kind != model.OutcomeValid {
		o.log.Info("purchase not granted", append(fields, zap.String("outcome", string(outcome.Kind)), zap.String("reason", outcome.Reason))...)
		return model.VerifyResponse{
			Status:        outcome.Kind.Status(),
			PurchaseToken: req.PurchaseToken,
			Message:       outcome.Reason,
		}, nil
	}

	grant, err := buildGrantRequest(req, outcome.Metadata)
	if err != nil {
		o.log.Warn("verified purchase cannot be granted", append(fields, zap.Error(err))...)
		return model.VerifyResponse{
			Status:        model.StatusInvalid,
			PurchaseToken: req.PurchaseToken,
			Message:       err.Error(),
		}, nil
	}
	result, err := o.ledger.Grant(ctx, grant)
	if err != nil {
		o.log.Error("credit grant failed", append(fields, zap.Error(err))...)
		if errors.Is(err, ledger.ErrRetryExhausted) {
			return model.VerifyResponse{}, serviceWrapError(err, goerrors.CategoryOperation,
				"credit grant is busy, retry later", http.StatusServiceUnavailable, TextCodeGrantConflict, nil)
		}
		return model.VerifyResponse{}, o.internalError(err, "credit grant failed")
	}

	if result.Status == model.GrantGranted {
		o.log.Info("credits granted", append(fields,
			zap.Int64("granted_credits", result.GrantedCredits),
			zap.Int64("new_balance", result.NewBalance),
			zap.String("event_id", result.EventID),
		)...)
		o.afterGrant(ctx, grant, result)
	}

	return model.VerifyResponse{
		Status:               model.Status(result.Status),
		GrantedCredits:       result.GrantedCredits,
		CurrentCreditBalance: result.NewBalance,
		EventID:              result.EventID,
		PurchaseToken:        req.PurchaseToken,
		Message:              result.Message,
	}, nil
}

var errQuantityOutOfRange = errors.New("verified quantity is out of range")

// buildGrantRequest sizes the grant from verified provider data only. The client's
// quantity is advisory; the provider omits quantity for single-unit purchases.
func buildGrantRequest(req model.VerificationRequest, md *model.ProviderMetadata) (model.GrantRequest, error) {
	grant := model.GrantRequest{
		AccountID:          req.AccountID,
		PurchaseToken:      req.PurchaseToken,
		ProductID:          req.ProductID,
		PackageName:        req.PackageName,
		OrderID:            req.OrderID,
		PurchaseTimeMillis: req.PurchaseTimeMillis,
		Quantity:           1,
		PurchaseState:      req.PurchaseState,
		Metadata:           md,
	}
	quantity := int64(1)
	if md != nil {
		if md.OrderID != "" {
			grant.OrderID = md.OrderID
		}
		if md.PurchaseTimeMillis > 0 {
			grant.PurchaseTimeMillis = md.PurchaseTimeMillis
		}
		if md.Quantity > 0 {
			quantity = md.Quantity
		}
		grant.ProviderPurchaseState = md.PurchaseState
	}
	if req.UnitCredits <= 0 || quantity > math.MaxInt32 || quantity > math.MaxInt64/req.UnitCredits {
		return model.GrantRequest{}, fmt.Errorf("%w: %d x %d credits", errQuantityOutOfRange, quantity, req.UnitCredits)
	}
	grant.Quantity = int(quantity)
	grant.EntitledCredits = req.UnitCredits * quantity
	return grant, nil
}

func (o *Orchestrator) afterGrant(ctx context.Context, grant model.GrantRequest, result model.GrantResult) {
	if o.cache != nil {
		if _, err := o.cache.Raise(ctx, grant.AccountID, result.NewBalance); err != nil {
			o.log.Warn("failed to refresh cached balance", zap.String("account_id", grant.AccountID), zap.Error(err))
		}
	}
	if o.bus == nil {
		return
	}

	event := model.GrantedEvent{
		AccountID:    grant.AccountID,
		EventID:      result.EventID,
		ProductID:    grant.ProductID,
		DeltaCredits: result.GrantedCredits,
		NewBalance:   result.NewBalance,
		CreatedAt:    result.CreatedAt,
	}
	data, err := json.Marshal(event)
	if err != nil {
		o.log.Error("failed to encode granted event", zap.Error(err))
		return
	}
	if err := o.bus.Publish(repository.TopicPurchaseGranted, data); err != nil {
		o.log.Warn("failed to publish granted event", zap.String("event_id", result.EventID), zap.Error(err))
	}
}

func (o *Orchestrator) Balance(ctx context.Context, credential string) (model.BalanceResponse, error) {
	accountID, err := o.authenticate(ctx, credential)
	if err != nil {
		return model.BalanceResponse{}, err
	}

	var balance int64
	if o.cache != nil {
		balance, err = o.cache.Balance(ctx, accountID, o.ledger.Balance)
	} else {
		balance, err = o.ledger.Balance(ctx, accountID)
	}
	if err != nil {
		o.log.Error("balance lookup failed", zap.String("account_id", accountID), zap.Error(err))
		return model.BalanceResponse{}, o.internalError(err, "balance lookup failed")
	}
	return model.BalanceResponse{AccountID: accountID, CurrentCreditBalance: balance}, nil
}

func (o *Orchestrator) Ledger(ctx context.Context, credential string, limit int) ([]model.LedgerEvent, error) {
	accountID, err := o.authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	if limit > MaxLedgerPage {
		limit = MaxLedgerPage
	}

	events, err := o.ledger.Events(ctx, accountID, limit)
	if err != nil {
		o.log.Error("ledger listing failed", zap.String("account_id", accountID), zap.Error(err))
		return nil, o.internalError(err, "ledger listing failed")
	}
	return events, nil
}

// ApplyGrantedEvent projects a committed grant onto the balance cache. The event only
// triggers the refresh; the cached value is the store's balance, so replays, reordering
// and events that outlive a deleted account never cache a stale figure.
func (o *Orchestrator) ApplyGrantedEvent(ctx context.Context, event model.GrantedEvent) error {
	if strings.TrimSpace(event.AccountID) == "" {
		return serviceError("granted event without account id", goerrors.CategoryBadInput,
			http.StatusBadRequest, TextCodeBadInput, map[string]any{"event_id": event.EventID})
	}
	if o.cache == nil {
		return nil
	}
	balance, err := o.ledger.Balance(ctx, event.AccountID)
	if err != nil {
		return o.internalError(err, "balance projection failed")
	}
	if _, err := o.cache.Raise(ctx, event.AccountID, balance); err != nil {
		return o.internalError(err, "balance projection failed")
	}
	return nil
}

func (o *Orchestrator) DeleteAccount(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return serviceError("account id is required", goerrors.CategoryBadInput, http.StatusBadRequest, TextCodeBadInput, nil)
	}
	if err := o.ledger.DeleteAccount(ctx, accountID); err != nil {
		o.log.Error("account deletion failed", zap.String("account_id", accountID), zap.Error(err))
		return o.internalError(err, "account deletion failed")
	}
	if o.cache != nil {
		if err := o.cache.Evict(ctx, accountID); err != nil {
			o.log.Warn("failed to evict cached balance", zap.String("account_id", accountID), zap.Error(err))
		}
	}
	o.log.Info("account data deleted", zap.String("account_id", accountID))
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context, credential string) (string, error) {
	accountID, err := o.auth.Authenticate(ctx, credential)
	if err != nil {
		if !errors.Is(err, identity.ErrUnauthorized) {
			o.log.Warn("authentication backend failed", zap.Error(err))
		}
		return "", serviceWrapError(err, goerrors.CategoryAuth, "authentication required",
			http.StatusUnauthorized, TextCodeUnauthorized, nil)
	}
	return accountID, nil
}

// internalError keeps an existing envelope's category and metadata but always
// reports a 500 to the caller.
func (o *Orchestrator) internalError(err error, message string) error {
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return serviceWrapError(err, rich.Category, fmt.Sprintf("%s: %s", message, rich.Message),
			http.StatusInternalServerError, TextCodeInternal, rich.Metadata)
	}
	return serviceWrapError(err, goerrors.CategoryInternal, message, http.StatusInternalServerError, TextCodeInternal, nil)
}
