package receipt

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"creditgate/internal/model"
)

func decodePayload(t *testing.T, raw string) map[string]any {
	t.Helper()
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	return out
}

func TestNormalize_TrimsAndDefaults(t *testing.T) {
	n := NewNormalizer(DefaultCatalog(), "")

	req, err := n.Normalize(decodePayload(t, `{
		"packageName": "  com.app.x ",
		"productId": "credit_10\t",
		"purchaseToken": " tok1 "
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if req.PackageName != "com.app.x" || req.ProductID != "credit_10" || req.PurchaseToken != "tok1" {
		t.Fatalf("fields not trimmed: %+v", req)
	}
	if req.PurchaseTimeMillis != 0 {
		t.Errorf("purchaseTimeMillis: got %d want 0", req.PurchaseTimeMillis)
	}
	if req.Quantity != 1 {
		t.Errorf("quantity: got %d want 1", req.Quantity)
	}
	if req.PurchaseState != model.UnknownPurchaseState {
		t.Errorf("purchaseState: got %d want %d", req.PurchaseState, model.UnknownPurchaseState)
	}
	if req.UnitCredits != 10 {
		t.Errorf("unit credits: got %d want 10", req.UnitCredits)
	}
}

func TestNormalize_FloorsNumericFields(t *testing.T) {
	n := NewNormalizer(DefaultCatalog(), "")

	req, err := n.Normalize(decodePayload(t, `{
		"packageName": "com.app.x",
		"productId": "credit_20",
		"purchaseToken": "tok2",
		"purchaseTimeMillis": -50,
		"quantity": 0,
		"purchaseState": "1"
	}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.PurchaseTimeMillis != 0 {
		t.Errorf("purchaseTimeMillis: got %d want 0", req.PurchaseTimeMillis)
	}
	if req.Quantity != 1 {
		t.Errorf("quantity: got %d want 1", req.Quantity)
	}
	if req.PurchaseState != 1 {
		t.Errorf("purchaseState: got %d want 1", req.PurchaseState)
	}
}

func TestNormalize_UnparsableStateUsesSentinel(t *testing.T) {
	n := NewNormalizer(DefaultCatalog(), "")

	req, err := n.Normalize(map[string]any{
		"packageName":        "com.app.x",
		"productId":          "credit_50",
		"purchaseToken":      "tok3",
		"purchaseState":      "purchased",
		"purchaseTimeMillis": float64(1700000000000),
		"quantity":           3,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.PurchaseState != model.UnknownPurchaseState {
		t.Errorf("purchaseState: got %d want sentinel", req.PurchaseState)
	}
	if req.PurchaseTimeMillis != 1700000000000 {
		t.Errorf("purchaseTimeMillis: got %d", req.PurchaseTimeMillis)
	}
	if req.Quantity != 3 {
		t.Errorf("quantity: got %d want 3", req.Quantity)
	}
}

func TestNormalize_RejectsMissingIdentifiers(t *testing.T) {
	n := NewNormalizer(DefaultCatalog(), "")

	cases := map[string]map[string]any{
		"missing package": {"productId": "credit_10", "purchaseToken": "tok"},
		"blank product":   {"packageName": "com.app.x", "productId": "   ", "purchaseToken": "tok"},
		"missing token":   {"packageName": "com.app.x", "productId": "credit_10"},
		"null token":      {"packageName": "com.app.x", "productId": "credit_10", "purchaseToken": nil},
	}

	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := n.Normalize(payload)
			if !errors.Is(err, ErrInvalidReceipt) {
				t.Fatalf("expected ErrInvalidReceipt, got %v", err)
			}
		})
	}
}

func TestNormalize_UnknownProduct(t *testing.T) {
	n := NewNormalizer(DefaultCatalog(), "")

	_, err := n.Normalize(map[string]any{
		"packageName":   "com.app.x",
		"productId":     "credit_999",
		"purchaseToken": "tok",
	})
	if !errors.Is(err, ErrUnknownProduct) {
		t.Fatalf("expected ErrUnknownProduct, got %v", err)
	}
}

func TestNormalize_PackageMismatch(t *testing.T) {
	n := NewNormalizer(DefaultCatalog(), "com.app.x")

	_, err := n.Normalize(map[string]any{
		"packageName":   "com.other.app",
		"productId":     "credit_10",
		"purchaseToken": "tok",
	})
	if !errors.Is(err, ErrPackageMismatch) {
		t.Fatalf("expected ErrPackageMismatch, got %v", err)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdefghijkl"); got != "abcd...ijkl" {
		t.Errorf("got %q", got)
	}
	if got := MaskToken("short"); got != "*****" {
		t.Errorf("got %q", got)
	}
}

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog("credit_10=10, credit_100 = 120")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if credits, ok := c.Credits("credit_100"); !ok || credits != 120 {
		t.Fatalf("credit_100: got %d %v", credits, ok)
	}
	if c.String() != "credit_10=10,credit_100=120" {
		t.Errorf("string: got %q", c.String())
	}

	for _, raw := range []string{"", "credit_10", "credit_10=abc", "credit_10=0", "=5"} {
		if _, err := ParseCatalog(raw); err == nil {
			t.Errorf("expected error for %q", raw)
		}
	}
}
