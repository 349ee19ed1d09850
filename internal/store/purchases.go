package store

import (
	"context"

	"storefront/internal/models"
)

// CreatePurchase inserts a scheduled purchase booking
func (s *Store) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	query := `
		INSERT INTO purchases (
			id, user_id, product_id, product_name, quantity, message,
			purchase_date, delivery_time, delivery_district
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	return s.db.GetContext(ctx, p, query,
		p.ID, p.UserID, p.ProductID, p.ProductName, p.Quantity, p.Message,
		p.PurchaseDate, p.DeliveryTime, p.DeliveryDistrict)
}

// GetPurchasesByUserID retrieves a user's bookings, newest first
func (s *Store) GetPurchasesByUserID(ctx context.Context, userID string) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.SelectContext(ctx, &purchases,
		"SELECT * FROM purchases WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return purchases, err
}

// GetAllPurchases retrieves every booking, newest first (admin listing)
func (s *Store) GetAllPurchases(ctx context.Context) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := s.db.SelectContext(ctx, &purchases, "SELECT * FROM purchases ORDER BY created_at DESC")
	return purchases, err
}
