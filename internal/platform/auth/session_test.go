package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	domain "github.com/storefront/orders-api/internal/domain"
)

func testSession(issued time.Time) domain.AdminSession {
	return domain.AdminSession{
		ID:        "sess_01",
		AdminID:   "adm_1",
		Email:     "ops@example.com",
		Roles:     []string{"admin"},
		IssuedAt:  issued,
		ExpiresAt: issued.Add(12 * time.Hour),
	}
}

func TestSessionIssuerRoundTrip(t *testing.T) {
	issuer, err := NewSessionIssuer(strings.Repeat("k", 32))
	if err != nil {
		t.Fatalf("NewSessionIssuer: %v", err)
	}
	issued := time.Date(2025, 3, 5, 12, 0, 0, 0, time.UTC)

	token, err := issuer.Issue(testSession(issued))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	got, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got.ID != "sess_01" || got.AdminID != "adm_1" || got.Email != "ops@example.com" {
		t.Fatalf("unexpected session %#v", got)
	}
	if !got.IssuedAt.Equal(issued) || !got.ExpiresAt.Equal(issued.Add(12*time.Hour)) {
		t.Fatalf("unexpected timestamps %v %v", got.IssuedAt, got.ExpiresAt)
	}
	if len(got.Roles) != 1 || got.Roles[0] != "admin" {
		t.Fatalf("unexpected roles %v", got.Roles)
	}
}

func TestSessionIssuerParsesExpiredTokens(t *testing.T) {
	issuer, _ := NewSessionIssuer(strings.Repeat("k", 32))
	token, err := issuer.Issue(testSession(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := issuer.Parse(token); err != nil {
		t.Fatalf("expected expiry to be left to the caller, got %v", err)
	}
}

func TestSessionIssuerRejectsForeignTokens(t *testing.T) {
	issuer, _ := NewSessionIssuer(strings.Repeat("k", 32))
	other, _ := NewSessionIssuer(strings.Repeat("x", 32))
	renamed, _ := NewSessionIssuer(strings.Repeat("k", 32), WithSessionIssuerName("someone-else"))
	session := testSession(time.Now().UTC().Truncate(time.Second))

	forged, _ := other.Issue(session)
	foreignIssuer, _ := renamed.Issue(session)
	noneToken, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"jti": "x", "sub": "adm_1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)

	for name, token := range map[string]string{
		"wrong secret": forged,
		"wrong issuer": foreignIssuer,
		"alg none":     noneToken,
		"garbage":      "not-a-token",
		"empty":        "",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := issuer.Parse(token); !errors.Is(err, ErrSessionTokenInvalid) {
				t.Fatalf("expected ErrSessionTokenInvalid, got %v", err)
			}
		})
	}
}

func TestNewSessionIssuerRequiresLongSecret(t *testing.T) {
	if _, err := NewSessionIssuer("short"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
