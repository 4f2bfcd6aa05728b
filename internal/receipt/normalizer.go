package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"creditgate/internal/model"
)

var (
	ErrInvalidReceipt  = errors.New("invalid receipt")
	ErrUnknownProduct  = errors.New("product is not in the credit catalog")
	ErrPackageMismatch = errors.New("package name does not match this app")
)

// Normalizer turns an untrusted verification payload into a model.VerificationRequest.
type Normalizer struct {
	catalog     Catalog
	packageName string
}

// NewNormalizer builds a normalizer. An empty packageName accepts any package.
func NewNormalizer(catalog Catalog, packageName string) *Normalizer {
	if len(catalog) == 0 {
		catalog = DefaultCatalog()
	}
	return &Normalizer{
		catalog:     catalog,
		packageName: strings.TrimSpace(packageName),
	}
}

// Normalize validates the identifying fields and coerces the advisory ones.
// The returned request has no AccountID; that is bound after authentication.
// On failure the partially normalized request is still returned.
func (n *Normalizer) Normalize(payload map[string]any) (model.VerificationRequest, error) {
	req := model.VerificationRequest{
		PackageName:        stringField(payload, "packageName"),
		ProductID:          stringField(payload, "productId"),
		PurchaseToken:      stringField(payload, "purchaseToken"),
		OrderID:            stringField(payload, "orderId"),
		PurchaseTimeMillis: max(int64Field(payload, "purchaseTimeMillis", 0), 0),
		Quantity:           int(max(int64Field(payload, "quantity", 1), 1)),
		PurchaseState:      int(int64Field(payload, "purchaseState", model.UnknownPurchaseState)),
	}

	switch {
	case req.PackageName == "":
		return req, fmt.Errorf("%w: packageName is required", ErrInvalidReceipt)
	case req.ProductID == "":
		return req, fmt.Errorf("%w: productId is required", ErrInvalidReceipt)
	case req.PurchaseToken == "":
		return req, fmt.Errorf("%w: purchaseToken is required", ErrInvalidReceipt)
	}

	if n.packageName != "" && req.PackageName != n.packageName {
		return req, fmt.Errorf("%w: %q", ErrPackageMismatch, req.PackageName)
	}

	credits, ok := n.catalog.Credits(req.ProductID)
	if !ok {
		return req, fmt.Errorf("%w: %q", ErrUnknownProduct, req.ProductID)
	}
	req.UnitCredits = credits

	return req, nil
}

// MaskToken keeps the first and last four characters of a purchase token.
func MaskToken(token string) string {
	token = strings.TrimSpace(token)
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func stringField(payload map[string]any, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func int64Field(payload map[string]any, key string, fallback int64) int64 {
	switch v := payload[key].(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return floatToInt64(f, fallback)
		}
	case float64:
		return floatToInt64(v, fallback)
	case int:
		return int64(v)
	case int32:
		return int64(v)
	case int64:
		return v
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func floatToInt64(f float64, fallback int64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return fallback
	}
	return int64(f)
}
