//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
	pconfig "github.com/storefront/orders-api/internal/platform/config"
	pfirestore "github.com/storefront/orders-api/internal/platform/firestore"
	"github.com/storefront/orders-api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestOrderRepositoryIntegration(t *testing.T) {
	provider := emulatorProvider(t, "orders-test")
	repo, err := NewOrderRepository(provider)
	if err != nil {
		t.Fatalf("new order repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	created := time.Now().UTC().Truncate(time.Microsecond)
	order := domain.Order{
		ID:               "ord_it_1",
		ProductID:        "p1",
		ProductTitle:     "Genser",
		SellerID:         "s1",
		Items:            []domain.OrderItem{{ProductID: "p1", Title: "Genser", UnitPrice: 49900, Quantity: 1, LineTotal: 49900}},
		CustomerEmail:    "kari@example.com",
		ShippingAddress:  "Storgata 1, Oslo",
		Currency:         "NOK",
		Subtotal:         49900,
		TotalAmount:      49900,
		CommissionRate:   0.2,
		CommissionAmount: 9980,
		PaymentMethod:    domain.PaymentMethodCrypto,
		PaymentStatus:    domain.PaymentStatusPending,
		Status:           domain.OrderStatusPending,
		CreatedAt:        created,
		UpdatedAt:        created,
	}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := repo.Insert(ctx, order); err == nil {
		t.Fatalf("expected duplicate insert to fail")
	}

	if pending, err := repo.ListPendingCrypto(ctx, 10); err != nil || len(pending) != 0 {
		t.Fatalf("uninitiated orders should not be listed, got %+v err=%v", pending, err)
	}

	crypto := &domain.CryptoPayment{
		PaymentID:   "42",
		PayCurrency: "BTC",
		PayAmount:   "0.0123",
		PayAddress:  "bc1qxyz",
		ExpiresAt:   created.Add(2 * time.Hour),
	}
	if _, err := repo.AttachPayment(ctx, order.ID, domain.PaymentRef{Provider: "nowpayments", Reference: "42", InitiatedAt: created}, crypto, created); err != nil {
		t.Fatalf("attach payment: %v", err)
	}

	pending, err := repo.ListPendingCrypto(ctx, 10)
	if err != nil {
		t.Fatalf("list pending crypto: %v", err)
	}
	if len(pending) != 1 || pending[0].Crypto == nil || pending[0].Crypto.PayAmount != "0.0123" {
		t.Fatalf("unexpected pending crypto orders %+v", pending)
	}

	// concurrent pollers: exactly one transition wins
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TransitionPayment(ctx, repositories.PaymentTransition{
				OrderID:        order.ID,
				From:           domain.PaymentStatusPending,
				To:             domain.PaymentStatusCompleted,
				ConfirmOrder:   true,
				ProviderStatus: "finished",
				At:             time.Now().UTC(),
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if winners != 1 {
		t.Fatalf("expected exactly one winning transition, got %d", winners)
	}

	stored, err := repo.FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if stored.PaymentStatus != domain.PaymentStatusCompleted || stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected statuses %s/%s", stored.PaymentStatus, stored.Status)
	}
	if stored.CommissionAmount != 9980 || stored.Crypto.ProviderStatus != "finished" {
		t.Fatalf("unexpected stored order %+v", stored)
	}

	flipped, err := repo.MarkPromoRedeemed(ctx, order.ID, time.Now())
	if err != nil || !flipped {
		t.Fatalf("expected first redeem to flip, got %v %v", flipped, err)
	}
	flipped, err = repo.MarkPromoRedeemed(ctx, order.ID, time.Now())
	if err != nil || flipped {
		t.Fatalf("expected second redeem to be a no-op, got %v %v", flipped, err)
	}

	stale := created
	shipped := domain.OrderStatusShipped
	_, err = repo.UpdateFields(ctx, order.ID, repositories.OrderPatch{Status: &shipped, At: time.Now().UTC(), ExpectedUpdatedAt: &stale})
	if repoErr, ok := err.(repositories.RepositoryError); !ok || !repoErr.IsConflict() {
		t.Fatalf("expected conflict for stale patch, got %v", err)
	}
}

func emulatorProvider(t *testing.T, project string) *pfirestore.Provider {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	containerID := strings.TrimSpace(string(out))
	t.Cleanup(func() {
		stopCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		_ = exec.CommandContext(stopCtx, "docker", "stop", containerID).Run()
	})

	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	deadline := time.Now().Add(30 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("firestore emulator at %s did not become ready", endpoint)
		}
		time.Sleep(200 * time.Millisecond)
	}

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: project, EmulatorHost: endpoint})
	t.Cleanup(func() { _ = provider.Close(context.Background()) })
	return provider
}
