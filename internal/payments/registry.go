package payments

import (
	"errors"
	"fmt"

	domain "github.com/storefront/orders-api/internal/domain"
)

// Registry selects the adapter for an order's payment method. It may hold zero to three
// adapters; methods without a configured adapter report ErrProviderUnavailable.
type Registry struct {
	adapters map[domain.PaymentMethod]Adapter
}

// NewRegistry registers the supplied adapters. Nil adapters are skipped so callers can pass the
// result of optional constructors directly.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{adapters: make(map[domain.PaymentMethod]Adapter, len(adapters))}
	for _, adapter := range adapters {
		if isNilAdapter(adapter) {
			continue
		}
		method := adapter.Method()
		if !method.Valid() {
			return nil, fmt.Errorf("payments: adapter reports unknown method %q", method)
		}
		if _, exists := r.adapters[method]; exists {
			return nil, fmt.Errorf("payments: duplicate adapter for method %q", method)
		}
		r.adapters[method] = adapter
	}
	return r, nil
}

// Available lists the configured methods in display order.
func (r *Registry) Available() []domain.PaymentMethod {
	if r == nil {
		return nil
	}
	out := make([]domain.PaymentMethod, 0, len(r.adapters))
	for _, method := range domain.PaymentMethods {
		if _, ok := r.adapters[method]; ok {
			out = append(out, method)
		}
	}
	return out
}

// Unavailable lists the methods without a configured adapter.
func (r *Registry) Unavailable() []domain.PaymentMethod {
	out := make([]domain.PaymentMethod, 0, len(domain.PaymentMethods))
	for _, method := range domain.PaymentMethods {
		if r == nil || r.adapters[method] == nil {
			out = append(out, method)
		}
	}
	return out
}

// Adapter returns the adapter for the method.
func (r *Registry) Adapter(method domain.PaymentMethod) (Adapter, error) {
	if r == nil || len(r.adapters) == 0 {
		return nil, ErrNoPaymentMethodAvailable
	}
	adapter, ok := r.adapters[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderUnavailable, method)
	}
	return adapter, nil
}

// Card returns the card adapter with its webhook capability.
func (r *Registry) Card() (CardGateway, error) {
	adapter, err := r.Adapter(domain.PaymentMethodCard)
	if err != nil {
		return nil, err
	}
	gateway, ok := adapter.(CardGateway)
	if !ok {
		return nil, fmt.Errorf("%w: card adapter does not accept webhooks", ErrProviderUnavailable)
	}
	return gateway, nil
}

// Wallet returns the wallet adapter with its capture capability.
func (r *Registry) Wallet() (WalletGateway, error) {
	adapter, err := r.Adapter(domain.PaymentMethodWallet)
	if err != nil {
		return nil, err
	}
	gateway, ok := adapter.(WalletGateway)
	if !ok {
		return nil, fmt.Errorf("%w: wallet adapter cannot capture", ErrProviderUnavailable)
	}
	return gateway, nil
}

// Crypto returns the crypto adapter with its estimate and notification capabilities.
func (r *Registry) Crypto() (CryptoGateway, error) {
	adapter, err := r.Adapter(domain.PaymentMethodCrypto)
	if err != nil {
		return nil, err
	}
	gateway, ok := adapter.(CryptoGateway)
	if !ok {
		return nil, fmt.Errorf("%w: crypto adapter cannot estimate", ErrProviderUnavailable)
	}
	return gateway, nil
}

func isNilAdapter(adapter Adapter) bool {
	if adapter == nil {
		return true
	}
	switch a := adapter.(type) {
	case *CardAdapter:
		return a == nil
	case *WalletAdapter:
		return a == nil
	case *CryptoAdapter:
		return a == nil
	}
	return false
}

// IsUnavailable reports whether err means a payment method cannot be used.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrNoPaymentMethodAvailable)
}
