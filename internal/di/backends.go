package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/platform/config"
	"github.com/storefront/orders-api/internal/platform/events"
	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/platform/observability"
	"github.com/storefront/orders-api/internal/platform/storage"
	"github.com/storefront/orders-api/internal/repositories"
	firestoreRepo "github.com/storefront/orders-api/internal/repositories/firestore"
	"github.com/storefront/orders-api/internal/repositories/sqlstore"
	"github.com/storefront/orders-api/internal/services"
)

const (
	walletReturnPath   = "/checkout/wallet/return"
	walletCancelPath   = "/checkout/wallet/cancel"
	cryptoCallbackPath = "/webhooks/payments/crypto"
)

// OpenRepositories connects the order store selected by Database.Driver. Extra checks (Redis,
// brokers) join the store's own ping in the readiness report.
func OpenRepositories(ctx context.Context, cfg config.Config, deps ...repositories.Dependency) (repositories.Registry, error) {
	switch cfg.Database.Driver {
	case "firestore":
		var opts []pfirestore.ProviderOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			opts = append(opts, pfirestore.WithClientOptions(option.WithCredentialsFile(file)))
		}
		provider := pfirestore.NewProvider(cfg.Firestore, opts...)
		if _, err := provider.Client(ctx); err != nil {
			return nil, fmt.Errorf("firestore: %w", err)
		}
		reg, err := firestoreRepo.NewRegistry(provider, deps...)
		if err != nil {
			_ = provider.Close(ctx)
			return nil, err
		}
		return reg, nil
	case sqlstore.DriverPostgres, sqlstore.DriverSQLite:
		db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL)
		if err != nil {
			return nil, err
		}
		reg, err := sqlstore.NewRegistry(db, deps...)
		if err != nil {
			if sqlDB, dbErr := db.DB(); dbErr == nil {
				_ = sqlDB.Close()
			}
			return nil, err
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// RedisDependency reports Redis reachability in the readiness check.
func RedisDependency(client redis.UniversalClient) repositories.Dependency {
	return repositories.Dependency{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

// BuildPayments registers one adapter per provider with credentials. Unconfigured providers are
// logged and left out so their method reports unavailable.
func BuildPayments(ctx context.Context, cfg config.Config, logger *zap.Logger) (*payments.Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	psp := cfg.PSP
	var adapters []payments.Adapter

	if psp.StripeAPIKey != "" {
		card, err := payments.NewCardAdapter(payments.CardConfig{
			APIKey:        psp.StripeAPIKey,
			WebhookSecret: psp.StripeWebhookSecret,
			Logger:        observability.EventLogger(logger.Named("stripe")),
		})
		if err != nil {
			return nil, fmt.Errorf("card adapter: %w", err)
		}
		adapters = append(adapters, card)
	} else {
		logger.Warn("card payments disabled: stripe api key not configured")
	}

	if psp.PayPalClientID != "" && psp.PayPalSecret != "" {
		rate := psp.WalletRate
		if rate == "" && psp.WalletCurrency == cfg.Store.Currency {
			rate = "1"
		}
		wallet, err := payments.NewWalletAdapter(ctx, payments.WalletConfig{
			ClientID:     psp.PayPalClientID,
			ClientSecret: psp.PayPalSecret,
			BaseURL:      psp.PayPalBaseURL,
			Currency:     psp.WalletCurrency,
			Rate:         rate,
			ReturnURL:    cfg.Server.PublicBaseURL + walletReturnPath,
			CancelURL:    cfg.Server.PublicBaseURL + walletCancelPath,
			Logger:       observability.EventLogger(logger.Named("paypal")),
		})
		if err != nil {
			return nil, fmt.Errorf("wallet adapter: %w", err)
		}
		adapters = append(adapters, wallet)
	} else {
		logger.Warn("wallet payments disabled: paypal credentials not configured")
	}

	if psp.CryptoAPIKey != "" {
		callback := ""
		if cfg.Server.PublicBaseURL != "" {
			callback = cfg.Server.PublicBaseURL + cryptoCallbackPath
		}
		crypto, err := payments.NewCryptoAdapter(payments.CryptoConfig{
			APIKey:        psp.CryptoAPIKey,
			BaseURL:       psp.CryptoBaseURL,
			IPNSecret:     psp.CryptoIPNSecret,
			PayCurrency:   psp.CryptoPayCurrency,
			CallbackURL:   callback,
			PaymentWindow: cfg.Reconcile.PaymentWindow,
			Logger:        observability.EventLogger(logger.Named("nowpayments")),
		})
		if err != nil {
			return nil, fmt.Errorf("crypto adapter: %w", err)
		}
		adapters = append(adapters, crypto)
	} else {
		logger.Warn("crypto payments disabled: nowpayments api key not configured")
	}

	return payments.NewRegistry(adapters...)
}

// BuildNotifier selects the order confirmation channel. The returned closer flushes and releases
// broker connections.
func BuildNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.Notifier, func(context.Context) error, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	noop := func(context.Context) error { return nil }

	switch cfg.Notify.Driver {
	case "", "log":
		return events.NewLogNotifier(logger.Named("notify")), noop, nil
	case "pubsub":
		projectID := cfg.Firebase.ProjectID
		if projectID == "" {
			projectID = cfg.Firestore.ProjectID
		}
		var opts []option.ClientOption
		if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
			opts = append(opts, option.WithCredentialsFile(file))
		}
		client, err := pubsub.NewClient(ctx, projectID, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Notify.PubSubTopic)
		notifier, err := events.NewPubSubNotifier(topic, time.Now)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return notifier, func(context.Context) error {
			topic.Stop()
			return client.Close()
		}, nil
	case "kafka":
		writer, err := events.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic, logger)
		if err != nil {
			return nil, nil, err
		}
		notifier, err := events.NewKafkaNotifier(writer, time.Now)
		if err != nil {
			_ = writer.Close()
			return nil, nil, err
		}
		return notifier, func(context.Context) error { return notifier.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notify driver %q", cfg.Notify.Driver)
	}
}

// BuildImageSigner returns nil when no images bucket is configured; the console then omits
// product images.
func BuildImageSigner(cfg config.Config) (*storage.ImageSigner, error) {
	if strings.TrimSpace(cfg.Storage.ImagesBucket) == "" {
		return nil, nil
	}
	file := strings.TrimSpace(cfg.Storage.SignerCredentialsFile)
	if file == "" {
		file = strings.TrimSpace(cfg.Firebase.CredentialsFile)
	}
	if file == "" {
		return nil, fmt.Errorf("storage: signer credentials are required for bucket %q", cfg.Storage.ImagesBucket)
	}
	signer, err := storage.NewServiceAccountSignerFromFile(file)
	if err != nil {
		return nil, err
	}
	return storage.NewImageSigner(signer, cfg.Storage.ImagesBucket, storage.WithImageURLTTL(cfg.Storage.ImageURLTTL))
}
