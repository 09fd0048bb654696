package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/storefront/orders-api/internal/cart"
	"github.com/storefront/orders-api/internal/di"
	"github.com/storefront/orders-api/internal/handlers"
	"github.com/storefront/orders-api/internal/platform/auth"
	"github.com/storefront/orders-api/internal/platform/config"
	"github.com/storefront/orders-api/internal/platform/idempotency"
	"github.com/storefront/orders-api/internal/platform/observability"
	"github.com/storefront/orders-api/internal/repositories"
	"github.com/storefront/orders-api/internal/services"
)

const idempotencyCleanupInterval = 10 * time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(logLevelFromEnv(envValues))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := di.NewSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("Admin.SessionSecret", "Cart.CookieHashKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	secureCookies := cfg.Server.Environment != "local"

	var (
		redisClient *redis.Client
		deps        []repositories.Dependency
	)
	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			logger.Fatal("invalid redis url", zap.Error(err))
		}
		redisClient = redis.NewClient(opts)
		deps = append(deps, di.RedisDependency(redisClient))
	} else {
		logger.Warn("redis not configured; carts, sessions and idempotency keys are kept in memory")
	}

	reg, err := di.OpenRepositories(ctx, cfg, deps...)
	if err != nil {
		logger.Fatal("failed to open order store", zap.String("driver", cfg.Database.Driver), zap.Error(err))
	}

	paymentRegistry, err := di.BuildPayments(ctx, cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}
	if len(paymentRegistry.Available()) == 0 {
		logger.Warn("no payment provider configured; checkout will reject orders")
	}

	notifier, closeNotifier, err := di.BuildNotifier(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise order notifier", zap.String("driver", cfg.Notify.Driver), zap.Error(err))
	}

	sessions, err := auth.NewSessionIssuer(cfg.Admin.SessionSecret)
	if err != nil {
		logger.Fatal("failed to initialise admin session issuer", zap.Error(err))
	}

	infra := di.Infrastructure{
		Payments: paymentRegistry,
		Sessions: sessions,
		Notifier: notifier,
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	}
	if redisClient != nil {
		revocations, err := auth.NewRedisRevocationStore(redisClient, time.Now)
		if err != nil {
			logger.Fatal("failed to initialise session revocation store", zap.Error(err))
		}
		infra.Revocations = revocations
	} else {
		infra.Revocations = auth.NewMemoryRevocationStore(time.Now)
	}
	if cfg.Firebase.ProjectID != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Warn("firebase admin login disabled", zap.Error(err))
		} else {
			infra.Firebase = verifier
		}
	}
	images, err := di.BuildImageSigner(cfg)
	if err != nil {
		logger.Warn("product image signing disabled", zap.Error(err))
	} else if images != nil {
		infra.Images = images
	}

	container, err := di.NewContainer(ctx, cfg, reg, infra)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	container.OnClose(closeNotifier)
	if redisClient != nil {
		container.OnClose(func(context.Context) error { return redisClient.Close() })
	}
	svc := container.Services

	var (
		cartBackend      cart.Backend
		idempotencyStore idempotency.Store
		memoryKeys       *idempotency.MemoryStore
	)
	if redisClient != nil {
		backend, err := cart.NewRedisBackend(redisClient, cfg.Cart.TTL)
		if err != nil {
			logger.Fatal("failed to initialise cart backend", zap.Error(err))
		}
		cartBackend = backend
		store, err := idempotency.NewRedisStore(redisClient)
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		idempotencyStore = store
	} else {
		cartBackend = cart.NewMemoryBackend()
		memoryKeys = idempotency.NewMemoryStore()
		idempotencyStore = memoryKeys
	}

	cartCookies, err := handlers.NewCartCookies(handlers.CartCookieConfig{
		HashKey:  []byte(cfg.Cart.CookieHashKey),
		BlockKey: []byte(cfg.Cart.CookieBlockKey),
		TTL:      cfg.Cart.TTL,
		Secure:   secureCookies,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart cookies", zap.Error(err))
	}

	orderIdempotency := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLease(cfg.Idempotency.Lease),
		idempotency.WithScope(cartCookies.Requester()),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bgWG sync.WaitGroup
	if memoryKeys != nil {
		startTicker(bgCtx, &bgWG, idempotencyCleanupInterval, func(context.Context) {
			if removed := memoryKeys.Sweep(time.Now().UTC()); removed > 0 {
				logger.Named("idempotency").Info("expired idempotency keys swept", zap.Int("count", removed))
			}
		})
	}
	if _, err := paymentRegistry.Crypto(); err == nil {
		sweepLogger := logger.Named("reconcile")
		startTicker(bgCtx, &bgWG, cfg.Reconcile.SweepInterval, func(runCtx context.Context) {
			summary, err := svc.Reconciliation.SweepPending(observability.WithLogger(runCtx, sweepLogger), cfg.Reconcile.SweepLimit)
			if err != nil {
				sweepLogger.Error("crypto sweep failed", zap.Error(err))
				return
			}
			if summary.Scanned > 0 {
				sweepLogger.Info("crypto sweep finished",
					zap.Int("scanned", summary.Scanned),
					zap.Int("transitioned", summary.Transitioned),
					zap.Int("failed", summary.Failed),
				)
			}
		})
	}

	guard := auth.NewAdminGuard(svc.AdminAuth, auth.WithUnavailableError(services.ErrAdminAuthUnavailable))

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)
	cartHandlers := handlers.NewCartHandlers(cartBackend, cartCookies)
	checkoutHandlers := handlers.NewCheckoutHandlers(svc.Checkout,
		handlers.WithCheckoutReconciliation(svc.Reconciliation),
		handlers.WithCheckoutPromotions(svc.Promotions),
		handlers.WithCheckoutCart(cartBackend, cartCookies),
		handlers.WithOrderIdempotency(orderIdempotency),
	)
	adminHandlers := handlers.NewAdminHandlers(svc.AdminAuth, svc.AdminOrders, guard,
		handlers.WithAdminSecureCookie(secureCookies),
	)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Checkout, svc.Reconciliation,
		handlers.WithWebhookRateLimit(cfg.RateLimits.WebhookBurst, time.Minute),
	)
	internalHandlers := handlers.NewInternalHandlers(svc.Reconciliation, cfg.Reconcile.SweepLimit)

	projectID := traceProjectID(cfg)
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(projectID),
			observability.RecoveryMiddleware(logger),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	}
	if oidcMiddleware := buildOIDCMiddleware(logger.Named("auth"), cfg); oidcMiddleware != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(oidcMiddleware))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("orders api listening",
			zap.String("environment", buildInfo.Environment),
			zap.String("database", cfg.Database.Driver),
			zap.Any("payment_methods", paymentRegistry.Available()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	bgCancel()
	bgWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("container close error", zap.Error(err))
	}
}

// startTicker runs fn every interval until ctx is cancelled. Each run gets at most one interval.
func startTicker(ctx context.Context, wg *sync.WaitGroup, interval time.Duration, fn func(context.Context)) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				runCtx, cancel := context.WithTimeout(ctx, interval)
				fn(runCtx)
				cancel()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func logLevelFromEnv(env map[string]string) string {
	for _, key := range []string{"LOG_LEVEL", "API_LOG_LEVEL"} {
		if level := strings.TrimSpace(env[key]); level != "" {
			return level
		}
	}
	return "info"
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Server.Environment,
		StartedAt:   started,
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	if strings.TrimSpace(cfg.Security.OIDC.JWKSURL) == "" {
		return nil
	}

	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("OIDC audience not configured; internal routes will reject requests")
	}
	opts := []auth.SchedulerAuthOption{
		auth.WithSchedulerLogger(logger),
		auth.WithSchedulerServiceAccounts(oidc.ServiceAccounts),
	}
	if len(oidc.Issuers) > 0 {
		opts = append(opts, auth.WithSchedulerIssuers(oidc.Issuers))
	}
	return auth.NewSchedulerAuth(auth.NewSigningKeys(oidc.JWKSURL, nil), oidc.Audience, opts...).Middleware()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
