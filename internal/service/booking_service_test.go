package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePurchaseStore is an in-memory PurchaseStore backed by a fixed catalog.
type fakePurchaseStore struct {
	mu        sync.Mutex
	products  map[string]models.Product
	purchases []models.Purchase
}

func newFakePurchaseStore() *fakePurchaseStore {
	return &fakePurchaseStore{
		products: map[string]models.Product{
			"p-1": {ID: "p-1", Name: "Fern", Price: decimal.RequireFromString("25.00"), Stock: 10},
		},
	}
}

func (f *fakePurchaseStore) CreatePurchase(ctx context.Context, p *models.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.CreatedAt = time.Now()
	f.purchases = append(f.purchases, *p)
	return nil
}

func (f *fakePurchaseStore) GetPurchasesByUserID(ctx context.Context, userID string) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Purchase
	for _, p := range f.purchases {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePurchaseStore) GetAllPurchases(ctx context.Context) ([]models.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Purchase(nil), f.purchases...), nil
}

func (f *fakePurchaseStore) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// nextDeliveryDate returns the first upcoming date a booking is accepted for.
func nextDeliveryDate() time.Time {
	d := time.Now().AddDate(0, 0, 1)
	if d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, 1)
	}
	return d
}

func bookingRequest() *BookPurchaseRequest {
	return &BookPurchaseRequest{
		ProductID:        "p-1",
		Quantity:         2,
		Message:          "leave at the door",
		PurchaseDate:     nextDeliveryDate().Format("2006-01-02"),
		DeliveryTime:     "10:00",
		DeliveryDistrict: "Colombo",
	}
}

func TestBookPurchase(t *testing.T) {
	st := newFakePurchaseStore()
	svc := NewBookingService(st)

	purchase, err := svc.BookPurchase(context.Background(), buyer, bookingRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, purchase.ID)
	assert.Equal(t, buyer.UserID, purchase.UserID)
	// Product name comes from the catalog row, never from the payload.
	assert.Equal(t, "Fern", purchase.ProductName)
	assert.Equal(t, "10:00", purchase.DeliveryTime)
	assert.Equal(t, "Colombo", purchase.DeliveryDistrict)

	stored, err := st.GetPurchasesByUserID(context.Background(), buyer.UserID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, purchase.ID, stored[0].ID)
}

func TestBookPurchaseRejectsPastDate(t *testing.T) {
	svc := NewBookingService(newFakePurchaseStore())

	req := bookingRequest()
	req.PurchaseDate = time.Now().AddDate(0, 0, -1).Format("2006-01-02")

	_, err := svc.BookPurchase(context.Background(), buyer, req)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "today or later")
}

func TestBookPurchaseRejectsSunday(t *testing.T) {
	svc := NewBookingService(newFakePurchaseStore())

	sunday := time.Now().AddDate(0, 0, 1)
	for sunday.Weekday() != time.Sunday {
		sunday = sunday.AddDate(0, 0, 1)
	}
	req := bookingRequest()
	req.PurchaseDate = sunday.Format("2006-01-02")

	_, err := svc.BookPurchase(context.Background(), buyer, req)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Reason, "Sunday")
}

func TestBookPurchaseRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*BookPurchaseRequest)
	}{
		{"missing product", func(r *BookPurchaseRequest) { r.ProductID = "" }},
		{"zero quantity", func(r *BookPurchaseRequest) { r.Quantity = 0 }},
		{"oversized quantity", func(r *BookPurchaseRequest) { r.Quantity = 1000 }},
		{"unknown slot", func(r *BookPurchaseRequest) { r.DeliveryTime = "13:00" }},
		{"unserviceable district", func(r *BookPurchaseRequest) { r.DeliveryDistrict = "Atlantis" }},
		{"unparseable date", func(r *BookPurchaseRequest) { r.PurchaseDate = "next tuesday" }},
		{"oversized message", func(r *BookPurchaseRequest) { r.Message = strings.Repeat("x", 1001) }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := newFakePurchaseStore()
			svc := NewBookingService(st)

			req := bookingRequest()
			tc.mutate(req)

			_, err := svc.BookPurchase(context.Background(), buyer, req)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Empty(t, st.purchases, "nothing may be persisted on validation failure")
		})
	}
}

func TestBookPurchaseUnknownProduct(t *testing.T) {
	svc := NewBookingService(newFakePurchaseStore())

	req := bookingRequest()
	req.ProductID = "p-nope"

	_, err := svc.BookPurchase(context.Background(), buyer, req)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestListUserPurchasesScopedToCaller(t *testing.T) {
	st := newFakePurchaseStore()
	svc := NewBookingService(st)

	_, err := svc.BookPurchase(context.Background(), buyer, bookingRequest())
	require.NoError(t, err)
	_, err = svc.BookPurchase(context.Background(), Identity{UserID: "user-2"}, bookingRequest())
	require.NoError(t, err)

	mine, err := svc.ListUserPurchases(context.Background(), buyer)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, buyer.UserID, mine[0].UserID)

	all, err := svc.ListAllPurchases(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
