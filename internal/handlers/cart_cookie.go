package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"

	"github.com/storefront/orders-api/internal/cart"
)

const defaultCartCookieName = "cart_id"

var errCartCookieKey = errors.New("cart cookie: hash key is required")

// CartCookieConfig configures the signed cookie that carries a shopper's cart id.
type CartCookieConfig struct {
	Name     string
	HashKey  []byte
	BlockKey []byte
	TTL      time.Duration
	Secure   bool
	Now      func() time.Time
	NewID    func() string
}

// CartCookies signs, and optionally encrypts, the cart id cookie.
type CartCookies struct {
	name   string
	codec  *securecookie.SecureCookie
	ttl    time.Duration
	secure bool
	now    func() time.Time
	newID  func() string
}

type cartCookieData struct {
	CartID    string    `json:"cid"`
	CreatedAt time.Time `json:"iat"`
}

// NewCartCookies validates the keys and builds the cookie codec.
func NewCartCookies(cfg CartCookieConfig) (*CartCookies, error) {
	if len(cfg.HashKey) == 0 {
		return nil, errCartCookieKey
	}
	if n := len(cfg.BlockKey); n != 0 && n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("cart cookie: block key must be 16, 24 or 32 bytes, got %d", n)
	}
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = defaultCartCookieName
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = cart.DefaultTTL
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	newID := cfg.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	var block []byte
	if len(cfg.BlockKey) > 0 {
		block = cfg.BlockKey
	}
	codec := securecookie.New(cfg.HashKey, block)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl.Seconds()))

	return &CartCookies{
		name:   name,
		codec:  codec,
		ttl:    ttl,
		secure: cfg.Secure,
		now:    now,
		newID:  newID,
	}, nil
}

// CartID returns the cart id carried by a valid cookie. Tampered or expired cookies read as absent.
func (c *CartCookies) CartID(r *http.Request) (string, bool) {
	if c == nil || r == nil {
		return "", false
	}
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return "", false
	}
	var data cartCookieData
	if err := c.codec.Decode(c.name, cookie.Value, &data); err != nil {
		return "", false
	}
	id := strings.TrimSpace(data.CartID)
	return id, id != ""
}

// Ensure returns the request's cart id, issuing a fresh id and cookie when none is present.
func (c *CartCookies) Ensure(w http.ResponseWriter, r *http.Request) (string, error) {
	if id, ok := c.CartID(r); ok {
		return id, nil
	}
	id := c.newID()
	encoded, err := c.codec.Encode(c.name, cartCookieData{CartID: id, CreatedAt: c.now().UTC()})
	if err != nil {
		return "", fmt.Errorf("cart cookie: encode: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    encoded,
		Path:     "/",
		Secure:   c.secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  c.now().Add(c.ttl).UTC(),
		MaxAge:   int(c.ttl.Seconds()),
	})
	return id, nil
}

// Requester scopes idempotency keys to the shopper's cart.
func (c *CartCookies) Requester() func(*http.Request) string {
	return func(r *http.Request) string {
		id, _ := c.CartID(r)
		return id
	}
}
