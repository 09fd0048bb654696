package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/storefront/orders-api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrEmptyCart is returned when an order is requested for a cart without lines.
	ErrEmptyCart = errors.New("order: cart is empty")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict indicates a concurrent writer changed the order first.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderRepositoryUnavailable indicates the order store cannot be reached.
	ErrOrderRepositoryUnavailable = errors.New("order: repository unavailable")
	// ErrInvalidTransition indicates the state machine rejected the requested transition.
	ErrInvalidTransition = errors.New("order: invalid transition")
	// ErrPaymentNotPending is returned when a payment step needs a pending payment.
	ErrPaymentNotPending = errors.New("order: payment is not pending")
	// ErrPaymentMethodMismatch is returned when a provider step does not match the order's method.
	ErrPaymentMethodMismatch = errors.New("order: payment method mismatch")
	// ErrCatalogUnavailable indicates catalog lookups failed for reasons other than a missing entry.
	ErrCatalogUnavailable = errors.New("order: catalog unavailable")
)

// ValidationError lists invalid input fields with a short reason each.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Fields) == 0 {
		return ErrOrderInvalidInput.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s (%s)", ErrOrderInvalidInput, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error { return ErrOrderInvalidInput }

func (e *ValidationError) add(field, reason string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = reason
	}
}

func (e *ValidationError) orNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrOrderRepositoryUnavailable, err)
		}
	}
	return err
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
