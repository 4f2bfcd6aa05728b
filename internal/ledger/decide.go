package ledger

import (
	"time"

	"creditgate/internal/model"
)

// Snapshot is the state read inside a grant transaction.
// Nil fields mean the document does not exist yet.
type Snapshot struct {
	Record  *model.PurchaseRecord
	Account *model.Account
}

// Mutation is everything a first successful claim writes, atomically.
type Mutation struct {
	Account model.Account
	Record  model.PurchaseRecord
	Event   model.LedgerEvent
}

const (
	msgGranted        = "credits granted"
	msgAlreadyGranted = "purchase was already granted"
	msgForeignOwner   = "purchase token belongs to another account"
)

// Decide applies the grant protocol to a snapshot. It returns a nil Mutation
// whenever the invocation must not write.
func Decide(req model.GrantRequest, snap Snapshot, eventID string, now time.Time) (model.GrantResult, *Mutation) {
	var balance int64
	if snap.Account != nil {
		balance = snap.Account.CreditBalance
	}

	if rec := snap.Record; rec != nil {
		if rec.Owner != "" && rec.Owner != req.AccountID {
			return model.GrantResult{
				Status:     model.GrantRejected,
				NewBalance: balance,
				Message:    msgForeignOwner,
			}, nil
		}
		if rec.Granted() {
			return model.GrantResult{
				Status:     model.GrantAlreadyGranted,
				NewBalance: balance,
				EventID:    rec.LastEventID,
				Message:    msgAlreadyGranted,
			}, nil
		}
	}

	newBalance := balance + req.EntitledCredits
	m := &Mutation{
		Account: model.Account{
			AccountID:     req.AccountID,
			CreditBalance: newBalance,
			UpdatedAt:     now,
		},
		Record: model.PurchaseRecord{
			PurchaseToken:         req.PurchaseToken,
			Owner:                 req.AccountID,
			ProductID:             req.ProductID,
			PackageName:           req.PackageName,
			Status:                model.PurchaseStatusGranted,
			GrantedCredits:        req.EntitledCredits,
			LastEventID:           eventID,
			OrderID:               req.OrderID,
			PurchaseTimeMillis:    req.PurchaseTimeMillis,
			Quantity:              req.Quantity,
			PurchaseState:         req.PurchaseState,
			ProviderPurchaseState: req.ProviderPurchaseState,
			ProviderMetadata:      req.Metadata,
			UpdatedAt:             now,
		},
		Event: model.LedgerEvent{
			AccountID:     req.AccountID,
			EventID:       eventID,
			PurchaseToken: req.PurchaseToken,
			DeltaCredits:  req.EntitledCredits,
			Reason:        model.ReasonPurchaseGrant,
			CreatedAt:     now,
		},
	}
	if snap.Record != nil {
		m.Record.ClawedBackCredits = snap.Record.ClawedBackCredits
	}

	return model.GrantResult{
		Status:         model.GrantGranted,
		GrantedCredits: req.EntitledCredits,
		NewBalance:     newBalance,
		EventID:        eventID,
		Message:        msgGranted,
		CreatedAt:      now,
	}, m
}
