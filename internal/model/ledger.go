package model

import "time"

// ReasonPurchaseGrant is the ledger reason written when a verified purchase is paid out.
const ReasonPurchaseGrant = "purchase_grant"

// PurchaseStatusGranted is the only persisted purchase status; absence means pending grant.
const PurchaseStatusGranted = "GRANTED"

type GrantStatus string

const (
	GrantGranted        GrantStatus = "GRANTED"
	GrantAlreadyGranted GrantStatus = "ALREADY_GRANTED"
	GrantRejected       GrantStatus = "REJECTED"
)

type GrantRequest struct {
	AccountID             string
	PurchaseToken         string
	ProductID             string
	PackageName           string
	OrderID               string
	PurchaseTimeMillis    int64
	Quantity              int
	PurchaseState         int
	ProviderPurchaseState int64
	EntitledCredits       int64
	Metadata              *ProviderMetadata
}

type GrantResult struct {
	Status         GrantStatus
	GrantedCredits int64
	NewBalance     int64
	EventID        string
	Message        string
	// CreatedAt is the committed ledger event's timestamp; zero unless GRANTED.
	CreatedAt time.Time
}

type PurchaseRecord struct {
	PurchaseToken         string            `json:"purchase_token"`
	Owner                 string            `json:"owner"`
	ProductID             string            `json:"product_id"`
	PackageName           string            `json:"package_name"`
	Status                string            `json:"status"`
	GrantedCredits        int64             `json:"granted_credits"`
	ClawedBackCredits     int64             `json:"clawed_back_credits"`
	LastEventID           string            `json:"last_event_id"`
	OrderID               string            `json:"order_id"`
	PurchaseTimeMillis    int64             `json:"purchase_time_millis"`
	Quantity              int               `json:"quantity"`
	PurchaseState         int               `json:"purchase_state"`
	ProviderPurchaseState int64             `json:"provider_purchase_state"`
	ProviderMetadata      *ProviderMetadata `json:"provider_metadata,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

// Granted reports whether the record already carries a completed payout.
func (r *PurchaseRecord) Granted() bool {
	return r != nil && r.Status == PurchaseStatusGranted
}

type Account struct {
	AccountID     string    `json:"account_id"`
	CreditBalance int64     `json:"credit_balance"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type LedgerEvent struct {
	AccountID     string    `json:"account_id"`
	EventID       string    `json:"event_id"`
	PurchaseToken string    `json:"purchase_token"`
	DeltaCredits  int64     `json:"delta_credits"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}

// GrantedEvent is published on the bus after a grant commits.
type GrantedEvent struct {
	AccountID    string    `json:"account_id"`
	EventID      string    `json:"event_id"`
	ProductID    string    `json:"product_id"`
	DeltaCredits int64     `json:"delta_credits"`
	NewBalance   int64     `json:"new_balance"`
	CreatedAt    time.Time `json:"created_at"`
}
