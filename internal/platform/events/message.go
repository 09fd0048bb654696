// Package events publishes order confirmations to the configured message transport.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domain "github.com/storefront/orders-api/internal/domain"
)

// EventOrderConfirmed is the event type carried on every confirmation message.
const EventOrderConfirmed = "order.confirmed"

// OrderConfirmation is the payload consumers use to send the customer e-mail.
type OrderConfirmation struct {
	Event          string                  `json:"event"`
	OrderID        string                  `json:"orderId"`
	CustomerName   string                  `json:"customerName"`
	CustomerEmail  string                  `json:"customerEmail"`
	Currency       string                  `json:"currency"`
	Subtotal       int64                   `json:"subtotal"`
	DiscountAmount int64                   `json:"discountAmount,omitempty"`
	PromoCode      string                  `json:"promoCode,omitempty"`
	TotalAmount    int64                   `json:"totalAmount"`
	PaymentMethod  string                  `json:"paymentMethod"`
	SellerName     string                  `json:"sellerName,omitempty"`
	Items          []OrderConfirmationItem `json:"items"`
	ConfirmedAt    time.Time               `json:"confirmedAt"`
}

// OrderConfirmationItem is one purchased line.
type OrderConfirmationItem struct {
	Title     string `json:"title"`
	Size      string `json:"size,omitempty"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
}

// NewOrderConfirmation builds the message payload for a paid order.
func NewOrderConfirmation(order domain.Order, now time.Time) OrderConfirmation {
	items := make([]OrderConfirmationItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderConfirmationItem{
			Title:     item.Title,
			Size:      item.Size,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			LineTotal: item.LineTotal,
		})
	}
	return OrderConfirmation{
		Event:          EventOrderConfirmed,
		OrderID:        order.ID,
		CustomerName:   order.CustomerName,
		CustomerEmail:  order.CustomerEmail,
		Currency:       order.Currency,
		Subtotal:       order.Subtotal,
		DiscountAmount: order.DiscountAmount,
		PromoCode:      order.PromoCode,
		TotalAmount:    order.TotalAmount,
		PaymentMethod:  string(order.PaymentMethod),
		SellerName:     order.SellerName,
		Items:          items,
		ConfirmedAt:    now.UTC(),
	}
}

func encode(msg OrderConfirmation) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("events: marshal order confirmation: %w", err)
	}
	return data, nil
}

// maxAttributeValue is Pub/Sub's per-value limit in bytes.
const maxAttributeValue = 1024

// attributes are the routing metadata shared by every transport. Empty values are left out
// so a subscription filter such as `attributes:sellerId` tests for presence.
func attributes(order domain.Order) map[string]string {
	attrs := make(map[string]string, 4)
	for key, value := range map[string]string{
		"event":         EventOrderConfirmed,
		"orderId":       order.ID,
		"paymentMethod": string(order.PaymentMethod),
		"sellerId":      order.SellerID,
	} {
		if value = strings.TrimSpace(value); value == "" {
			continue
		}
		if len(value) > maxAttributeValue {
			value = value[:maxAttributeValue]
		}
		attrs[key] = value
	}
	return attrs
}
