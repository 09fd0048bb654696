// Command adminctl creates or updates back-office operator accounts in the configured order store.
//
//	ADMINCTL_PASSWORD=... adminctl -email ops@example.com
//	adminctl -email ops@example.com -disable
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/storefront/orders-api/internal/di"
	"github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/config"
	"github.com/storefront/orders-api/internal/platform/observability"
	"github.com/storefront/orders-api/internal/repositories"
	"github.com/storefront/orders-api/internal/services"
)

func main() {
	email := flag.String("email", "", "operator email address")
	roles := flag.String("roles", "admin", "comma separated roles")
	disable := flag.Bool("disable", false, "deactivate the account instead of setting a password")
	flag.Parse()

	logger, err := observability.NewLogger("info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, logger, *email, *roles, *disable); err != nil {
		logger.Fatal("adminctl failed", zap.Error(err))
	}
}

func run(ctx context.Context, logger *zap.Logger, email, roles string, disable bool) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("-email is required")
	}

	env, err := config.EnvironmentValues()
	if err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	fetcher, err := di.NewSecretFetcher(ctx, logger, env)
	if err != nil {
		return err
	}
	defer func() { _ = fetcher.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	reg, err := di.OpenRepositories(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = reg.Close(context.Background()) }()

	admins := reg.AdminUsers()
	user, err := admins.FindByEmail(ctx, email)
	switch {
	case err == nil:
	case isNotFound(err):
		if disable {
			return fmt.Errorf("no operator with email %s", email)
		}
		user = domain.AdminUser{
			ID:        ulid.Make().String(),
			Email:     email,
			CreatedAt: time.Now().UTC(),
		}
	default:
		return fmt.Errorf("lookup operator: %w", err)
	}

	if disable {
		user.Active = false
	} else {
		hash, err := services.HashAdminPassword(os.Getenv("ADMINCTL_PASSWORD"))
		if err != nil {
			return err
		}
		user.PasswordHash = hash
		user.Active = true
		user.Roles = splitRoles(roles)
	}

	if err := admins.Upsert(ctx, user); err != nil {
		return fmt.Errorf("save operator: %w", err)
	}
	logger.Info("operator saved",
		zap.String("admin_id", user.ID),
		zap.String("email", user.Email),
		zap.Strings("roles", user.Roles),
		zap.Bool("active", user.Active),
	)
	return nil
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func splitRoles(raw string) []string {
	var out []string
	for _, role := range strings.Split(raw, ",") {
		if role = strings.TrimSpace(role); role != "" {
			out = append(out, role)
		}
	}
	return out
}
