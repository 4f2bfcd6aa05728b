package verifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"go.uber.org/zap"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"

	"creditgate/internal/model"
	"creditgate/internal/receipt"
)

// Google Play purchase states for one-time products.
const (
	PurchaseStatePurchased int64 = 0
	PurchaseStateCanceled  int64 = 1
	PurchaseStatePending   int64 = 2
)

const TextCodeProviderFailure = "PROVIDER_FAILURE"

// PurchaseFetcher looks up a one-time product purchase at the provider.
type PurchaseFetcher interface {
	GetProductPurchase(ctx context.Context, packageName, productID, purchaseToken string) (*androidpublisher.ProductPurchase, error)
}

// Client verifies purchase tokens and classifies the provider answer.
type Client struct {
	fetcher PurchaseFetcher
	log     *zap.Logger
}

func NewClient(fetcher PurchaseFetcher, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{fetcher: fetcher, log: log}
}

// Verify makes exactly one provider call. Errors that do not map to an outcome are
// returned wrapped in a go-errors envelope and must not be treated as a bad purchase.
func (c *Client) Verify(ctx context.Context, packageName, productID, purchaseToken string) (model.Outcome, error) {
	fields := []zap.Field{
		zap.String("package_name", packageName),
		zap.String("product_id", productID),
		zap.String("purchase_token", receipt.MaskToken(purchaseToken)),
	}

	purchase, err := c.fetcher.GetProductPurchase(ctx, packageName, productID, purchaseToken)
	if err != nil {
		return c.classifyError(err, fields)
	}
	if purchase == nil {
		c.log.Warn("provider returned an empty purchase", fields...)
		return model.Outcome{Kind: model.OutcomeInvalid, Reason: "provider returned no purchase"}, nil
	}

	outcome := ClassifyPurchase(purchase)
	if outcome.Kind != model.OutcomeValid {
		c.log.Info("purchase not payable",
			append(fields,
				zap.String("outcome", string(outcome.Kind)),
				zap.Int64("provider_purchase_state", purchase.PurchaseState),
			)...,
		)
	}
	return outcome, nil
}

// ClassifyPurchase maps the provider purchase state to an outcome.
func ClassifyPurchase(p *androidpublisher.ProductPurchase) model.Outcome {
	switch p.PurchaseState {
	case PurchaseStatePurchased:
		return model.Outcome{
			Kind: model.OutcomeValid,
			Metadata: &model.ProviderMetadata{
				OrderID:              p.OrderId,
				PurchaseTimeMillis:   p.PurchaseTimeMillis,
				Quantity:             p.Quantity,
				PurchaseState:        p.PurchaseState,
				ConsumptionState:     p.ConsumptionState,
				AcknowledgementState: p.AcknowledgementState,
				RegionCode:           p.RegionCode,
			},
		}
	case PurchaseStateCanceled:
		return model.Outcome{Kind: model.OutcomeRejected, Reason: "purchase was canceled"}
	case PurchaseStatePending:
		return model.Outcome{Kind: model.OutcomePending, Reason: "purchase is awaiting payment"}
	default:
		return model.Outcome{
			Kind:   model.OutcomeRejected,
			Reason: fmt.Sprintf("unexpected purchase state %d", p.PurchaseState),
		}
	}
}

func (c *Client) classifyError(err error, fields []zap.Field) (model.Outcome, error) {
	status, ok := ProviderStatus(err)
	fields = append(fields, zap.Int("provider_status", status), zap.Error(err))

	switch {
	case ok && (status == http.StatusBadRequest || status == http.StatusNotFound):
		c.log.Info("provider does not recognise purchase", fields...)
		return model.Outcome{
			Kind:   model.OutcomeInvalid,
			Reason: "purchase token or product id not recognised by the store",
		}, nil
	case ok && (status == http.StatusUnauthorized || status == http.StatusForbidden):
		c.log.Error("provider rejected our credentials",
			append(fields, zap.String("error_severity", goerrors.SeverityCritical.String()))...,
		)
		return model.Outcome{
			Kind:   model.OutcomeServerError,
			Reason: "purchase verification is misconfigured on the server",
		}, nil
	}

	c.log.Error("provider call failed", fields...)
	return model.Outcome{}, goerrors.Wrap(err, goerrors.CategoryExternal, "verifier: provider call failed").
		WithCode(http.StatusBadGateway).
		WithTextCode(TextCodeProviderFailure).
		WithMetadata(map[string]any{"provider_status": status})
}

type statusCoder interface {
	StatusCode() int
}

// ProviderStatus extracts the HTTP status carried by a provider error.
func ProviderStatus(err error) (int, bool) {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code > 0 {
		return apiErr.Code, true
	}
	var coder statusCoder
	if errors.As(err, &coder) && coder.StatusCode() > 0 {
		return coder.StatusCode(), true
	}
	return 0, false
}
