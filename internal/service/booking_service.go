package service

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// deliverySlots are the delivery windows the fulfilment team runs each day.
var deliverySlots = map[string]bool{
	"10:00": true,
	"11:00": true,
	"12:00": true,
}

// deliveryDistricts is the serviceable delivery area.
var deliveryDistricts = map[string]bool{
	"Colombo": true, "Gampaha": true, "Kalutara": true, "Kandy": true,
	"Matale": true, "Nuwara Eliya": true, "Galle": true, "Matara": true,
	"Hambantota": true, "Jaffna": true, "Kilinochchi": true, "Mannar": true,
	"Vavuniya": true, "Mullaitivu": true, "Batticaloa": true, "Ampara": true,
	"Trincomalee": true, "Kurunegala": true, "Puttalam": true,
	"Anuradhapura": true, "Polonnaruwa": true, "Badulla": true,
	"Monaragala": true, "Ratnapura": true, "Kegalle": true,
}

const (
	maxPurchaseQuantity   = 999
	maxPurchaseMessageLen = 1000
	purchaseDateLayout    = "2006-01-02"
)

// PurchaseStore is the persistence the booking workflow depends on.
type PurchaseStore interface {
	CreatePurchase(ctx context.Context, purchase *models.Purchase) error
	GetPurchasesByUserID(ctx context.Context, userID string) ([]models.Purchase, error)
	GetAllPurchases(ctx context.Context) ([]models.Purchase, error)
	GetProductByID(ctx context.Context, id string) (*models.Product, error)
}

// BookingService handles scheduled purchases: a catalog product booked for a
// future delivery slot in a serviceable district. Bookings settle out-of-band
// and never touch the payment gateway.
type BookingService struct {
	store  PurchaseStore
	logger *zap.Logger
}

// NewBookingService creates a new booking service
func NewBookingService(store PurchaseStore) *BookingService {
	return &BookingService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// BookPurchaseRequest is the booking submission. Product name and caller
// identity are resolved server-side, never taken from the payload.
type BookPurchaseRequest struct {
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	Message          string `json:"message"`
	PurchaseDate     string `json:"purchase_date"` // YYYY-MM-DD
	DeliveryTime     string `json:"delivery_time"`
	DeliveryDistrict string `json:"delivery_district"`
}

// BookPurchase validates the slot, district and date rules, resolves the
// product against the catalog and persists the booking under the caller's
// identity.
func (bs *BookingService) BookPurchase(ctx context.Context, caller Identity, req *BookPurchaseRequest) (*models.Purchase, error) {
	ctx, span := util.StartSpan(ctx, "BookingService.BookPurchase")
	defer span.End()

	date, err := validateBooking(req)
	if err != nil {
		return nil, err
	}

	product, err := bs.store.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product: %w", err)
	}
	if product == nil {
		return nil, validationf("unknown product %q", req.ProductID)
	}

	purchase := &models.Purchase{
		ID:               uuid.New().String(),
		UserID:           caller.UserID,
		ProductID:        product.ID,
		ProductName:      product.Name,
		Quantity:         req.Quantity,
		Message:          req.Message,
		PurchaseDate:     date,
		DeliveryTime:     req.DeliveryTime,
		DeliveryDistrict: req.DeliveryDistrict,
	}

	if err := bs.store.CreatePurchase(ctx, purchase); err != nil {
		return nil, fmt.Errorf("failed to create purchase: %w", err)
	}

	util.PurchasesBookedTotal.Inc()
	bs.logger.Info("Purchase booked",
		zap.String("purchase_id", purchase.ID),
		zap.String("product_id", product.ID),
		zap.String("delivery_slot", purchase.DeliveryTime),
		zap.String("district", purchase.DeliveryDistrict))

	return purchase, nil
}

// ListUserPurchases returns the caller's bookings, newest first
func (bs *BookingService) ListUserPurchases(ctx context.Context, caller Identity) ([]models.Purchase, error) {
	return bs.store.GetPurchasesByUserID(ctx, caller.UserID)
}

// ListAllPurchases returns every booking (admin)
func (bs *BookingService) ListAllPurchases(ctx context.Context) ([]models.Purchase, error) {
	return bs.store.GetAllPurchases(ctx)
}

// validateBooking checks the payload and the scheduling rules: the date is
// today or later and never a Sunday (no deliveries run on Sundays).
func validateBooking(req *BookPurchaseRequest) (time.Time, error) {
	if req.ProductID == "" {
		return time.Time{}, validationf("product_id is required")
	}
	if req.Quantity < 1 || req.Quantity > maxPurchaseQuantity {
		return time.Time{}, validationf("quantity must be between 1 and %d", maxPurchaseQuantity)
	}
	if len(req.Message) > maxPurchaseMessageLen {
		return time.Time{}, validationf("message must be at most %d characters", maxPurchaseMessageLen)
	}
	if !deliverySlots[req.DeliveryTime] {
		return time.Time{}, validationf("delivery_time %q is not an offered slot", req.DeliveryTime)
	}
	if !deliveryDistricts[req.DeliveryDistrict] {
		return time.Time{}, validationf("delivery_district %q is not serviceable", req.DeliveryDistrict)
	}

	date, err := time.ParseInLocation(purchaseDateLayout, req.PurchaseDate, time.Local)
	if err != nil {
		return time.Time{}, validationf("purchase_date must be a YYYY-MM-DD date")
	}

	now := time.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	if date.Before(today) {
		return time.Time{}, validationf("purchase_date must be today or later")
	}
	if date.Weekday() == time.Sunday {
		return time.Time{}, validationf("no deliveries on Sundays")
	}

	return date, nil
}
