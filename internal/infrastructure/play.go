package infrastructure

import (
	"context"
	"fmt"
	"os"

	"creditgate/internal/verifier"
)

// newPlayFetcher builds the Google Play client from a service account file, or from
// application default credentials when no file is configured.
func newPlayFetcher(ctx context.Context, credentialsFile, endpoint string) (*verifier.PlayFetcher, error) {
	var credentials []byte
	if credentialsFile != "" {
		raw, err := os.ReadFile(credentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read play credentials: %w", err)
		}
		credentials = raw
	}
	return verifier.NewPlayFetcher(ctx, credentials, endpoint)
}
