package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment methods
const (
	PaymentMethodCOD    = "COD"
	PaymentMethodCard   = "CARD"
	PaymentMethodWallet = "WALLET"
)

// Payment statuses. Transitions are PENDING -> PAID or PENDING -> FAILED;
// PAID is terminal.
const (
	PaymentStatusPending = "PENDING"
	PaymentStatusPaid    = "PAID"
	PaymentStatusFailed  = "FAILED"
)

// Product represents a product in the catalog
type Product struct {
	ID          string          `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	Description string          `db:"description" json:"description"`
	Price       decimal.Decimal `db:"price" json:"price"`
	ImageURL    string          `db:"image_url" json:"image_url"`
	Stock       int             `db:"stock" json:"stock"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Order is the financial record for a checkout. Money-relevant columns are
// written only by the checkout service, never from client-supplied fields.
// GatewaySessionID and GatewayCaptureID are each set at most once.
type Order struct {
	ID               string          `db:"id" json:"id"`
	UserID           string          `db:"user_id" json:"user_id"`
	TotalAmount      decimal.Decimal `db:"total_amount" json:"total_amount"`
	ShippingCost     decimal.Decimal `db:"shipping_cost" json:"shipping_cost"`
	Currency         string          `db:"currency" json:"currency"`
	PaymentMethod    string          `db:"payment_method" json:"payment_method"`
	PaymentStatus    string          `db:"payment_status" json:"payment_status"`
	GatewaySessionID *string         `db:"gateway_session_id" json:"gateway_session_id,omitempty"`
	GatewayCaptureID *string         `db:"gateway_capture_id" json:"gateway_capture_id,omitempty"`
	IsPaid           bool            `db:"is_paid" json:"is_paid"`
	PaidAt           *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	ShipStreet       string          `db:"ship_street" json:"ship_street"`
	ShipCity         string          `db:"ship_city" json:"ship_city"`
	ShipState        string          `db:"ship_state" json:"ship_state"`
	ShipPostalCode   string          `db:"ship_postal_code" json:"ship_postal_code"`
	ShipCountry      string          `db:"ship_country" json:"ship_country"`
	DeliveryDate     string          `db:"delivery_date" json:"delivery_date,omitempty"`
	DeliveryTime     string          `db:"delivery_time" json:"delivery_time,omitempty"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line snapshotted from the cart at order-creation time, not
// a live reference to catalog state.
type OrderItem struct {
	ID         int64           `db:"id" json:"id"`
	OrderID    string          `db:"order_id" json:"order_id"`
	ProductRef string          `db:"product_ref" json:"product_ref"`
	Name       string          `db:"name" json:"name"`
	Quantity   int             `db:"quantity" json:"quantity"`
	UnitPrice  decimal.Decimal `db:"unit_price" json:"unit_price"`
}

// Purchase is a scheduled product purchase booked against a daily delivery
// slot in a serviceable district. Identity fields come from the auth token,
// product fields from the catalog row; neither is trusted from the client.
type Purchase struct {
	ID               string    `db:"id" json:"id"`
	UserID           string    `db:"user_id" json:"user_id"`
	ProductID        string    `db:"product_id" json:"product_id"`
	ProductName      string    `db:"product_name" json:"product_name"`
	Quantity         int       `db:"quantity" json:"quantity"`
	Message          string    `db:"message" json:"message,omitempty"`
	PurchaseDate     time.Time `db:"purchase_date" json:"purchase_date"`
	DeliveryTime     string    `db:"delivery_time" json:"delivery_time"`
	DeliveryDistrict string    `db:"delivery_district" json:"delivery_district"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// OrderEvent is one row of the append-only audit trail written by the
// order-events worker.
type OrderEvent struct {
	ID         int64     `db:"id"`
	EventID    string    `db:"event_id"`
	EventType  string    `db:"event_type"`
	OrderID    string    `db:"order_id"`
	Payload    []byte    `db:"payload"`
	RecordedAt time.Time `db:"recorded_at"`
}

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
