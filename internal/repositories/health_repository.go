package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

const defaultCheckTimeout = 1500 * time.Millisecond

// Dependency is a named readiness check against one backing service (database, redis, broker).
type Dependency struct {
	Name    string
	Timeout time.Duration
	Check   func(context.Context) error
}

// HealthOption customises the dependency health repository.
type HealthOption func(*dependencyHealthRepository)

// WithCheckTimeout sets the timeout for checks that do not declare one.
func WithCheckTimeout(timeout time.Duration) HealthOption {
	return func(repo *dependencyHealthRepository) {
		if timeout > 0 {
			repo.timeout = timeout
		}
	}
}

// WithHealthClock injects the clock used for latency and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(repo *dependencyHealthRepository) {
		if clock != nil {
			repo.now = clock
		}
	}
}

type dependencyHealthRepository struct {
	deps    []Dependency
	timeout time.Duration
	now     func() time.Time
}

var _ HealthRepository = (*dependencyHealthRepository)(nil)

// NewDependencyHealthRepository validates the checks and returns a HealthRepository running them in parallel.
func NewDependencyHealthRepository(deps []Dependency, opts ...HealthOption) (HealthRepository, error) {
	if len(deps) == 0 {
		return nil, errors.New("health repository: at least one check is required")
	}
	seen := make(map[string]struct{}, len(deps))
	for _, dep := range deps {
		name := strings.TrimSpace(dep.Name)
		if name == "" {
			return nil, errors.New("health repository: check name is required")
		}
		if dep.Check == nil {
			return nil, fmt.Errorf("health repository: dependency %s has no check", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("health repository: duplicate check %s", name)
		}
		seen[name] = struct{}{}
	}

	repo := &dependencyHealthRepository{
		deps:    append([]Dependency(nil), deps...),
		timeout: defaultCheckTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}
	return repo, nil
}

func (r *dependencyHealthRepository) Collect(ctx context.Context) (domain.HealthReport, error) {
	if ctx == nil {
		return domain.HealthReport{}, errors.New("health repository: context is required")
	}

	results := make(map[string]domain.HealthCheck, len(r.deps))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, dep := range r.deps {
		wg.Add(1)
		go func(dep Dependency) {
			defer wg.Done()
			check := r.run(ctx, dep)
			mu.Lock()
			results[dep.Name] = check
			mu.Unlock()
		}(dep)
	}
	wg.Wait()

	status := domain.HealthStatusOK
	for _, check := range results {
		switch check.Status {
		case domain.HealthStatusError:
			status = domain.HealthStatusError
		case domain.HealthStatusDegraded:
			if status == domain.HealthStatusOK {
				status = domain.HealthStatusDegraded
			}
		}
	}

	return domain.HealthReport{
		Status:      status,
		Checks:      results,
		GeneratedAt: r.now(),
	}, nil
}

func (r *dependencyHealthRepository) run(ctx context.Context, dep Dependency) domain.HealthCheck {
	timeout := dep.Timeout
	if timeout <= 0 {
		timeout = r.timeout
	}
	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := r.now()
	err := dep.Check(checkCtx)
	end := r.now()

	check := domain.HealthCheck{
		Status:    domain.HealthStatusOK,
		Detail:    "ok",
		Latency:   end.Sub(start),
		CheckedAt: end,
	}
	switch {
	case err == nil && checkCtx.Err() == nil:
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(checkCtx.Err(), context.DeadlineExceeded):
		check.Status = domain.HealthStatusError
		check.Detail = "timeout"
	case errors.Is(err, context.Canceled) || checkCtx.Err() != nil:
		check.Status = domain.HealthStatusError
		check.Detail = "cancelled"
	default:
		check.Status = domain.HealthStatusDegraded
		check.Detail = err.Error()
	}
	return check
}
