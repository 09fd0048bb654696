package di

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront/orders-api/internal/platform/secrets"
)

const defaultSecretFallbackFile = ".secrets.local"

// NewSecretFetcher builds the Secret Manager resolver used by config.Load. The project comes from
// API_SECRET_DEFAULT_PROJECT_ID, then API_FIREBASE_PROJECT_ID; local runs read the fallback file.
func NewSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = defaultSecretFallbackFile
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if file := lookup("API_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
