package verifier

import (
	"context"
	"fmt"
	"net/http"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"
)

// PlayFetcher reads one-time product purchases from the Google Play Developer API.
type PlayFetcher struct {
	svc *androidpublisher.Service
}

// NewPlayFetcher authenticates with a service-account credential bundle, falling
// back to application default credentials when credentialsJSON is empty.
// endpoint overrides the API base URL and is meant for tests and emulators.
func NewPlayFetcher(ctx context.Context, credentialsJSON []byte, endpoint string) (*PlayFetcher, error) {
	opts := []option.ClientOption{
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	}
	if len(credentialsJSON) > 0 {
		opts = append(opts, option.WithCredentialsJSON(credentialsJSON))
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return newPlayFetcher(ctx, opts...)
}

// NewPlayFetcherWithClient uses an already-authorised HTTP client.
func NewPlayFetcherWithClient(ctx context.Context, client *http.Client, endpoint string) (*PlayFetcher, error) {
	opts := []option.ClientOption{option.WithHTTPClient(client)}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return newPlayFetcher(ctx, opts...)
}

func newPlayFetcher(ctx context.Context, opts ...option.ClientOption) (*PlayFetcher, error) {
	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create android publisher service: %w", err)
	}
	return &PlayFetcher{svc: svc}, nil
}

func (f *PlayFetcher) GetProductPurchase(ctx context.Context, packageName, productID, purchaseToken string) (*androidpublisher.ProductPurchase, error) {
	return f.svc.Purchases.Products.Get(packageName, productID, purchaseToken).Context(ctx).Do()
}
