package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/storefront/orders-api/internal/cart"
	domain "github.com/storefront/orders-api/internal/domain"
	"github.com/storefront/orders-api/internal/platform/httpx"
)

const maxCartBodySize = 8 * 1024

// CartHandlers exposes the shopper cart under /cart.
type CartHandlers struct {
	backend cart.Backend
	cookies *CartCookies
}

// NewCartHandlers constructs cart handlers over the given persistence backend.
func NewCartHandlers(backend cart.Backend, cookies *CartCookies) *CartHandlers {
	return &CartHandlers{backend: backend, cookies: cookies}
}

// Routes registers the /cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Patch("/items/{productID}", h.updateItem)
	r.Delete("/items/{productID}", h.removeItem)
}

type addCartItemRequest struct {
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	SellerID   string `json:"seller_id"`
	SellerName string `json:"seller_name"`
	UnitPrice  int64  `json:"unit_price"`
	ImageRef   string `json:"image_ref"`
	Size       string `json:"size"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID         string            `json:"id,omitempty"`
	Items      []cartItemPayload `json:"items"`
	TotalItems int               `json:"total_items"`
	TotalPrice int64             `json:"total_price"`
}

type cartItemPayload struct {
	ProductID  string `json:"product_id"`
	Title      string `json:"title"`
	SellerID   string `json:"seller_id"`
	SellerName string `json:"seller_name,omitempty"`
	UnitPrice  int64  `json:"unit_price"`
	ImageRef   string `json:"image_ref,omitempty"`
	Size       string `json:"size,omitempty"`
	Quantity   int    `json:"quantity"`
	LineTotal  int64  `json:"line_total"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	cartID, ok := h.cookies.CartID(r)
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: cartPayload{Items: []cartItemPayload{}}})
		return
	}
	store, err := cart.Open(ctx, h.backend, cartID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(store)})
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req addCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	store, ok := h.openForWrite(w, r)
	if !ok {
		return
	}
	err := store.AddItem(ctx, domain.CartItem{
		ProductID:  strings.TrimSpace(req.ProductID),
		Title:      strings.TrimSpace(req.Title),
		SellerID:   strings.TrimSpace(req.SellerID),
		SellerName: strings.TrimSpace(req.SellerName),
		UnitPrice:  req.UnitPrice,
		ImageRef:   strings.TrimSpace(req.ImageRef),
		Size:       strings.TrimSpace(req.Size),
	})
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(store)})
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	var req updateCartItemRequest
	if !decodeJSONBody(w, r, maxCartBodySize, &req) {
		return
	}
	if req.Quantity == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "quantity is required"))
		return
	}
	store, ok := h.openForWrite(w, r)
	if !ok {
		return
	}
	if err := store.UpdateQuantity(ctx, chi.URLParam(r, "productID"), *req.Quantity); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(store)})
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	store, ok := h.openForWrite(w, r)
	if !ok {
		return
	}
	if err := store.RemoveItem(ctx, chi.URLParam(r, "productID")); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, cartResponse{Cart: buildCartPayload(store)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(ctx, w) {
		return
	}
	cartID, ok := h.cookies.CartID(r)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	store, err := cart.Open(ctx, h.backend, cartID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	if err := store.Clear(ctx); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandlers) ready(ctx context.Context, w http.ResponseWriter) bool {
	if h == nil || h.backend == nil || h.cookies == nil {
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeCartUnavailable, "cart service unavailable"))
		return false
	}
	return true
}

func (h *CartHandlers) openForWrite(w http.ResponseWriter, r *http.Request) (*cart.Store, bool) {
	ctx := r.Context()
	cartID, err := h.cookies.Ensure(w, r)
	if err != nil {
		httpx.Write(ctx, w, httpx.New(http.StatusInternalServerError, httpx.CodeCartCookie, "unable to issue cart cookie"))
		return nil, false
	}
	store, err := cart.Open(ctx, h.backend, cartID)
	if err != nil {
		writeCartError(ctx, w, err)
		return nil, false
	}
	return store, true
}

func buildCartPayload(store *cart.Store) cartPayload {
	items := store.Items()
	payload := cartPayload{
		ID:         store.ID(),
		Items:      make([]cartItemPayload, 0, len(items)),
		TotalItems: store.TotalItems(),
		TotalPrice: store.TotalPrice(),
	}
	for _, item := range items {
		payload.Items = append(payload.Items, cartItemPayload{
			ProductID:  item.ProductID,
			Title:      item.Title,
			SellerID:   item.SellerID,
			SellerName: item.SellerName,
			UnitPrice:  item.UnitPrice,
			ImageRef:   item.ImageRef,
			Size:       item.Size,
			Quantity:   item.Quantity,
			LineTotal:  item.LineTotal(),
		})
	}
	return payload
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cart.ErrInvalidItem):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "product_id is required and unit_price must not be negative"))
	case errors.Is(err, cart.ErrItemNotFound):
		httpx.Write(ctx, w, httpx.New(http.StatusNotFound, httpx.CodeCartItemNotFound, "product is not in the cart"))
	case errors.Is(err, cart.ErrInvalidCartID):
		httpx.Write(ctx, w, httpx.New(http.StatusBadRequest, httpx.CodeInvalidRequest, "cart id is required"))
	default:
		httpx.Write(ctx, w, httpx.New(http.StatusServiceUnavailable, httpx.CodeCartUnavailable, "cart storage unavailable"))
	}
}
