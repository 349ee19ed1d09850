package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// CreateProduct inserts a catalog product
func (s *Store) CreateProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (id, name, description, price, image_url, stock)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, p, query,
		p.ID, p.Name, p.Description, p.Price, p.ImageURL, p.Stock)
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves the full catalog
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY created_at DESC")
	return products, err
}

// UpdateProduct updates catalog fields of an existing product
func (s *Store) UpdateProduct(ctx context.Context, p *models.Product) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $1, description = $2, price = $3, image_url = $4, stock = $5, updated_at = NOW()
		WHERE id = $6`,
		p.Name, p.Description, p.Price, p.ImageURL, p.Stock, p.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product not found: %s", p.ID)
	}
	return nil
}

// DeleteProduct removes a product from the catalog
func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("product not found: %s", id)
	}
	return nil
}

// RecordOrderEvent appends one row to the order audit trail
func (s *Store) RecordOrderEvent(ctx context.Context, eventID, eventType, orderID string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO order_events (event_id, event_type, order_id, payload) VALUES ($1, $2, $3, $4)",
		eventID, eventType, orderID, payload)
	return err
}

// GetOrderEvents retrieves the audit trail for an order
func (s *Store) GetOrderEvents(ctx context.Context, orderID string) ([]models.OrderEvent, error) {
	var events []models.OrderEvent
	err := s.db.SelectContext(ctx, &events,
		"SELECT * FROM order_events WHERE order_id = $1 ORDER BY recorded_at", orderID)
	return events, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
