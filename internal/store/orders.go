package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"
)

// CreateOrder persists an order together with its item snapshot in one
// transaction; either everything is written or nothing is.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			id, user_id, total_amount, shipping_cost, currency,
			payment_method, payment_status, is_paid,
			ship_street, ship_city, ship_state, ship_postal_code, ship_country,
			delivery_date, delivery_time
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	if err := tx.GetContext(ctx, order, query,
		order.ID, order.UserID, order.TotalAmount, order.ShippingCost, order.Currency,
		order.PaymentMethod, order.PaymentStatus, order.IsPaid,
		order.ShipStreet, order.ShipCity, order.ShipState, order.ShipPostalCode, order.ShipCountry,
		order.DeliveryDate, order.DeliveryTime); err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i := range items {
		items[i].OrderID = order.ID
		if err := tx.GetContext(ctx, &items[i].ID, `
			INSERT INTO order_items (order_id, product_ref, name, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id`,
			items[i].OrderID, items[i].ProductRef, items[i].Name, items[i].Quantity, items[i].UnitPrice); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	return tx.Commit()
}

// GetOrderByID retrieves an order by ID; nil without error when absent
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderBySessionID retrieves the order a gateway session belongs to;
// nil without error when no order carries that session id.
func (s *Store) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE gateway_session_id = $1", sessionID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// GetAllOrders retrieves every order, newest first (admin listing)
func (s *Store) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, "SELECT * FROM orders ORDER BY created_at DESC")
	return orders, err
}

// GetOrderItems retrieves the item snapshot for an order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// AttachGatewaySession stores the gateway session id on an order. The update
// only applies while gateway_session_id is NULL, so a session can never be
// replaced once set. Returns whether the session was attached.
func (s *Store) AttachGatewaySession(ctx context.Context, orderID, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET gateway_session_id = $1, updated_at = NOW()
		WHERE id = $2 AND gateway_session_id IS NULL`,
		sessionID, orderID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkOrderPaid performs the PENDING -> PAID transition as a compare-and-swap:
// the row is only written while payment_status is still PENDING, so concurrent
// captures for the same order result in exactly one effective transition.
// Returns whether this call won the transition.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID, captureID string, paidAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, is_paid = TRUE, paid_at = $2, gateway_capture_id = $3, updated_at = NOW()
		WHERE id = $4 AND payment_status = $5`,
		models.PaymentStatusPaid, paidAt, captureID, orderID, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// MarkOrderFailed performs the PENDING -> FAILED transition with the same
// conditional guard; a PAID order is never downgraded.
func (s *Store) MarkOrderFailed(ctx context.Context, orderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET payment_status = $1, updated_at = NOW()
		WHERE id = $2 AND payment_status = $3`,
		models.PaymentStatusFailed, orderID, models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
