package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/storefront/orders-api/internal/payments"
	"github.com/storefront/orders-api/internal/platform/config"
	"github.com/storefront/orders-api/internal/platform/observability"
	"github.com/storefront/orders-api/internal/repositories"
	"github.com/storefront/orders-api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Checkout       services.CheckoutService
	Reconciliation services.ReconciliationService
	Promotions     services.PromotionService
	AdminAuth      services.AdminAuthService
	AdminOrders    services.AdminOrderService
	System         services.SystemService
}

// Infrastructure carries the already-connected collaborators the services sit on. Only Payments,
// Sessions and Revocations are required; the rest degrade to no-op or disabled behaviour.
type Infrastructure struct {
	Payments    *payments.Registry
	Sessions    services.SessionCodec
	Revocations services.RevocationStore
	Firebase    services.FirebaseAdminVerifier
	Notifier    services.Notifier
	Images      services.ImageSigner
	Build       services.BuildInfo
	Logger      *zap.Logger
	Clock       func() time.Time
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Payments     *payments.Registry
	Services     Services

	closers []func(context.Context) error
}

// NewContainer constructs the runtime dependencies. Production wiring provides real
// implementations, while tests can supply in-memory registries.
func NewContainer(ctx context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (*Container, error) {
	if reg == nil {
		return nil, errors.New("repositories registry is required")
	}
	if infra.Payments == nil {
		return nil, errors.New("payment registry is required")
	}
	if infra.Logger == nil {
		infra.Logger = zap.NewNop()
	}
	if infra.Clock == nil {
		infra.Clock = time.Now
	}

	svc, err := buildServices(ctx, cfg, reg, infra)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: reg,
		Payments:     infra.Payments,
		Services:     svc,
	}, nil
}

// OnClose registers a release hook run by Close in reverse registration order.
func (c *Container) OnClose(fn func(context.Context) error) {
	if c == nil || fn == nil {
		return
	}
	c.closers = append(c.closers, fn)
}

// Close releases resources such as notifier connections and repository clients.
func (c *Container) Close(ctx context.Context) error {
	if c == nil {
		return nil
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Repositories != nil {
		if err := c.Repositories.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildServices(_ context.Context, cfg config.Config, reg repositories.Registry, infra Infrastructure) (Services, error) {
	var svc Services
	clock := infra.Clock
	newID := func() string { return ulid.Make().String() }

	promotions, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: reg.Promotions(),
		Clock:      clock,
	})
	if err != nil {
		return Services{}, fmt.Errorf("build promotion service: %w", err)
	}
	svc.Promotions = promotions

	factory, err := services.NewOrderFactory(services.OrderFactoryDeps{
		Orders:      reg.Orders(),
		Catalog:     reg.Catalog(),
		Payments:    infra.Payments,
		Currency:    cfg.Store.Currency,
		Clock:       clock,
		IDGenerator: newID,
		Logger:      observability.EventLogger(infra.Logger.Named("orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order factory: %w", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:     reg.Orders(),
		Factory:    factory,
		Promotions: promotions,
		Payments:   infra.Payments,
		Notifier:   infra.Notifier,
		Currency:   cfg.Store.Currency,
		Clock:      clock,
		Logger:     observability.EventLogger(infra.Logger.Named("checkout")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkout

	reconciliation, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Orders:       reg.Orders(),
		Payments:     infra.Payments,
		Promotions:   promotions,
		Notifier:     infra.Notifier,
		PollInterval: cfg.Reconcile.PollInterval,
		Clock:        clock,
		Logger:       observability.EventLogger(infra.Logger.Named("reconcile")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconciliation

	adminAuth, err := services.NewAdminAuthService(services.AdminAuthServiceDeps{
		Admins:      reg.AdminUsers(),
		Sessions:    infra.Sessions,
		Revocations: infra.Revocations,
		Firebase:    infra.Firebase,
		SessionTTL:  cfg.Admin.SessionTTL,
		Clock:       clock,
		IDGenerator: newID,
		Logger:      observability.EventLogger(infra.Logger.Named("admin-auth")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin auth service: %w", err)
	}
	svc.AdminAuth = adminAuth

	adminOrders, err := services.NewAdminOrderService(services.AdminOrderServiceDeps{
		Orders:            reg.Orders(),
		Promotions:        promotions,
		Images:            infra.Images,
		Location:          cfg.Store.Location,
		StrictTransitions: cfg.Admin.StrictTransitions,
		Clock:             clock,
		Logger:            observability.EventLogger(infra.Logger.Named("admin-orders")),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build admin order service: %w", err)
	}
	svc.AdminOrders = adminOrders

	if healthRepo := reg.Health(); healthRepo != nil {
		system, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            infra.Build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = system
	}

	return svc, nil
}
