package model

// Status is the caller-facing result code of a verification request.
type Status string

const (
	StatusGranted        Status = "GRANTED"
	StatusAlreadyGranted Status = "ALREADY_GRANTED"
	StatusPending        Status = "PENDING"
	StatusRejected       Status = "REJECTED"
	StatusInvalid        Status = "INVALID"
	StatusServerError    Status = "SERVER_ERROR"
)

// UnknownPurchaseState marks a client-reported purchase state that was absent or unparsable.
const UnknownPurchaseState = -1

// VerificationRequest is a normalized receipt ready to be checked with the provider.
type VerificationRequest struct {
	AccountID          string
	PackageName        string
	ProductID          string
	PurchaseToken      string
	OrderID            string
	PurchaseTimeMillis int64
	PurchaseState      int
	Quantity           int
	// Credits granted per purchased unit, resolved from the catalog.
	UnitCredits int64
}

// OutcomeKind classifies a provider verification.
type OutcomeKind string

const (
	OutcomeValid       OutcomeKind = "VALID"
	OutcomePending     OutcomeKind = "PENDING"
	OutcomeRejected    OutcomeKind = "REJECTED"
	OutcomeInvalid     OutcomeKind = "INVALID"
	OutcomeServerError OutcomeKind = "SERVER_ERROR"
)

// Status maps a non-valid outcome to the same-named caller status.
func (k OutcomeKind) Status() Status {
	switch k {
	case OutcomePending:
		return StatusPending
	case OutcomeInvalid:
		return StatusInvalid
	case OutcomeServerError:
		return StatusServerError
	default:
		return StatusRejected
	}
}

// ProviderMetadata is the verified copy of the purchase attributes kept for audit.
type ProviderMetadata struct {
	OrderID              string `json:"order_id,omitempty"`
	PurchaseTimeMillis   int64  `json:"purchase_time_millis"`
	Quantity             int64  `json:"quantity"`
	PurchaseState        int64  `json:"purchase_state"`
	ConsumptionState     int64  `json:"consumption_state"`
	AcknowledgementState int64  `json:"acknowledgement_state"`
	RegionCode           string `json:"region_code,omitempty"`
}

// Outcome is the result of one provider verification call.
type Outcome struct {
	Kind     OutcomeKind
	Reason   string
	Metadata *ProviderMetadata
}

// VerifyResponse is the body returned to the caller for every business outcome.
type VerifyResponse struct {
	Status               Status `json:"status"`
	GrantedCredits       int64  `json:"grantedCredits"`
	CurrentCreditBalance int64  `json:"currentCreditBalance"`
	EventID              string `json:"eventId"`
	PurchaseToken        string `json:"purchaseToken"`
	Message              string `json:"message"`
}

type BalanceResponse struct {
	AccountID            string `json:"accountId"`
	CurrentCreditBalance int64  `json:"currentCreditBalance"`
}
