package models

import "time"

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypePaymentFailed  = "PAYMENT_FAILED"
	EventTypeSessionCreated = "PAYMENT_SESSION_CREATED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	TotalAmount   string          `json:"total_amount"`
	Currency      string          `json:"currency"`
	PaymentMethod string          `json:"payment_method"`
	Items         []OrderItemData `json:"items"`
}

// SessionCreatedEvent published when a gateway payment session is attached
type SessionCreatedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id"`
}

// OrderPaidEvent published when a capture settles
type OrderPaidEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id"`
	CaptureID string `json:"capture_id"`
	Amount    string `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentFailedEvent published when a capture is declined or the gateway
// is unreachable; the order stays PENDING and remains retryable.
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   string `json:"order_id"`
	SessionID string `json:"session_id"`
	Reason    string `json:"reason"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductRef string `json:"product_ref"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
}
