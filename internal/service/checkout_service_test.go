package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory OrderStore with the same conditional-update
// semantics as the Postgres store.
type fakeStore struct {
	mu           sync.Mutex
	orders       map[string]*models.Order
	items        map[string][]models.OrderItem
	paidWins     int
	createCalled int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[string]*models.Order),
		items:  make(map[string][]models.OrderItem),
	}
}

func cloneOrder(o *models.Order) *models.Order {
	cp := *o
	if o.GatewaySessionID != nil {
		v := *o.GatewaySessionID
		cp.GatewaySessionID = &v
	}
	if o.GatewayCaptureID != nil {
		v := *o.GatewayCaptureID
		cp.GatewayCaptureID = &v
	}
	if o.PaidAt != nil {
		v := *o.PaidAt
		cp.PaidAt = &v
	}
	return &cp
}

func (f *fakeStore) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalled++
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	f.orders[order.ID] = cloneOrder(order)
	stored := make([]models.OrderItem, len(items))
	copy(stored, items)
	for i := range stored {
		stored[i].OrderID = order.ID
		stored[i].ID = int64(i + 1)
	}
	f.items[order.ID] = stored
	return nil
}

func (f *fakeStore) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return nil, nil
	}
	return cloneOrder(o), nil
}

func (f *fakeStore) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.orders {
		if o.GatewaySessionID != nil && *o.GatewaySessionID == sessionID {
			return cloneOrder(o), nil
		}
	}
	return nil, nil
}

func (f *fakeStore) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *cloneOrder(o))
		}
	}
	return out, nil
}

func (f *fakeStore) GetAllOrders(ctx context.Context) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Order
	for _, o := range f.orders {
		out = append(out, *cloneOrder(o))
	}
	return out, nil
}

func (f *fakeStore) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderItem(nil), f.items[orderID]...), nil
}

func (f *fakeStore) AttachGatewaySession(ctx context.Context, orderID, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.GatewaySessionID != nil {
		return false, nil
	}
	o.GatewaySessionID = &sessionID
	return true, nil
}

func (f *fakeStore) MarkOrderPaid(ctx context.Context, orderID, captureID string, paidAt time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusPaid
	o.IsPaid = true
	o.PaidAt = &paidAt
	o.GatewayCaptureID = &captureID
	f.paidWins++
	return true, nil
}

func (f *fakeStore) MarkOrderFailed(ctx context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok || o.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	o.PaymentStatus = models.PaymentStatusFailed
	return true, nil
}

// fakeGateway scripts processor behavior and counts remote calls.
type fakeGateway struct {
	mu           sync.Mutex
	createErr    error
	captureErr   error
	captureDelay time.Duration
	createCalls  int
	captureCalls int
}

func (f *fakeGateway) CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error) {
	f.mu.Lock()
	f.createCalls++
	n := f.createCalls
	err := f.createErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &gateway.Session{
		SessionID:   fmt.Sprintf("sess-%d", n),
		ApprovalURL: "https://gateway.test/approve",
	}, nil
}

func (f *fakeGateway) CaptureSession(ctx context.Context, sessionID string) (*gateway.Capture, error) {
	f.mu.Lock()
	f.captureCalls++
	n := f.captureCalls
	err := f.captureErr
	delay := f.captureDelay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}
	return &gateway.Capture{CaptureID: fmt.Sprintf("cap-%d", n)}, nil
}

// fakeLocker is an in-memory Locker with SetNX semantics.
type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]string
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]string)}
}

func (f *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.locks[key]; held {
		return "", false, nil
	}
	token := fmt.Sprintf("tok-%d", len(f.locks)+1)
	f.locks[key] = token
	return token, true, nil
}

func (f *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.locks[key] == token {
		delete(f.locks, key)
	}
	return nil
}

// fakePublisher records emitted event types.
type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) record(t string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, t)
}

func (f *fakePublisher) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	f.record(e.EventType)
	return nil
}

func (f *fakePublisher) PublishSessionCreated(ctx context.Context, e *models.SessionCreatedEvent) error {
	f.record(e.EventType)
	return nil
}

func (f *fakePublisher) PublishOrderPaid(ctx context.Context, e *models.OrderPaidEvent) error {
	f.record(e.EventType)
	return nil
}

func (f *fakePublisher) PublishPaymentFailed(ctx context.Context, e *models.PaymentFailedEvent) error {
	f.record(e.EventType)
	return nil
}

type testEnv struct {
	svc       *CheckoutService
	store     *fakeStore
	gateway   *fakeGateway
	locker    *fakeLocker
	publisher *fakePublisher
}

func newTestEnv(shipping string) *testEnv {
	st := newFakeStore()
	gw := &fakeGateway{}
	lk := newFakeLocker()
	pub := &fakePublisher{}
	svc := NewCheckoutService(st, gw, lk, pub, CheckoutConfig{
		Currency:         "USD",
		ShippingFlatRate: decimal.RequireFromString(shipping),
		CaptureLockTTL:   time.Second,
	})
	return &testEnv{svc: svc, store: st, gateway: gw, locker: lk, publisher: pub}
}

var buyer = Identity{UserID: "user-1", Role: "customer"}

func cardOrderRequest(qty int, price string) *CreateOrderRequest {
	return &CreateOrderRequest{
		Items: []CartItem{
			{ProductRef: "p-1", Name: "Fern", Quantity: qty, UnitPrice: price},
		},
		PaymentMethod: models.PaymentMethodCard,
		ShippingAddress: ShippingAddress{
			Street: "1 Main St", City: "Springfield", Country: "US",
		},
	}
}

func TestCreateOrderComputesTotalServerSide(t *testing.T) {
	env := newTestEnv("4.50")

	req := &CreateOrderRequest{
		Items: []CartItem{
			{ProductRef: "p-1", Name: "Fern", Quantity: 2, UnitPrice: "10.00"},
			{ProductRef: "p-2", Name: "Pot", Quantity: 1, UnitPrice: "2.50"},
		},
		PaymentMethod: models.PaymentMethodCOD,
	}

	resp, err := env.svc.CreateOrder(context.Background(), buyer, req)
	require.NoError(t, err)
	assert.Equal(t, "27.00", resp.TotalAmount)

	stored, err := env.store.GetOrderByID(context.Background(), resp.OrderID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("27.00")))
	assert.True(t, stored.ShippingCost.Equal(decimal.RequireFromString("4.50")))
}

func TestCreateOrderEmptyCart(t *testing.T) {
	env := newTestEnv("0")

	_, err := env.svc.CreateOrder(context.Background(), buyer, &CreateOrderRequest{
		PaymentMethod: models.PaymentMethodCard,
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Zero(t, env.store.createCalled, "nothing may be persisted on validation failure")
	assert.Zero(t, env.gateway.createCalls)
}

func TestCreateOrderRejectsInvalidItems(t *testing.T) {
	cases := []struct {
		name string
		item CartItem
	}{
		{"zero quantity", CartItem{ProductRef: "p", Name: "x", Quantity: 0, UnitPrice: "1.00"}},
		{"negative quantity", CartItem{ProductRef: "p", Name: "x", Quantity: -2, UnitPrice: "1.00"}},
		{"negative price", CartItem{ProductRef: "p", Name: "x", Quantity: 1, UnitPrice: "-0.01"}},
		{"unparseable price", CartItem{ProductRef: "p", Name: "x", Quantity: 1, UnitPrice: "ten"}},
		{"missing product ref", CartItem{Name: "x", Quantity: 1, UnitPrice: "1.00"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv("0")
			_, err := env.svc.CreateOrder(context.Background(), buyer, &CreateOrderRequest{
				Items:         []CartItem{tc.item},
				PaymentMethod: models.PaymentMethodCOD,
			})
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Zero(t, env.store.createCalled)
		})
	}
}

func TestCreateOrderUnknownPaymentMethod(t *testing.T) {
	env := newTestEnv("0")

	_, err := env.svc.CreateOrder(context.Background(), buyer, &CreateOrderRequest{
		Items:         []CartItem{{ProductRef: "p", Name: "x", Quantity: 1, UnitPrice: "1.00"}},
		PaymentMethod: "BARTER",
	})

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestCreateOrderCashOnDelivery(t *testing.T) {
	env := newTestEnv("0")

	resp, err := env.svc.CreateOrder(context.Background(), buyer, &CreateOrderRequest{
		Items:         []CartItem{{ProductRef: "p-1", Name: "Fern", Quantity: 2, UnitPrice: "10.00"}},
		PaymentMethod: models.PaymentMethodCOD,
	})
	require.NoError(t, err)

	assert.Equal(t, models.PaymentStatusPending, resp.PaymentStatus)
	assert.Empty(t, resp.GatewaySessionID)
	assert.Zero(t, env.gateway.createCalls, "cash on delivery must not touch the gateway")

	stored, _ := env.store.GetOrderByID(context.Background(), resp.OrderID)
	assert.False(t, stored.IsPaid)
	assert.Nil(t, stored.GatewaySessionID)
	assert.True(t, stored.TotalAmount.Equal(decimal.RequireFromString("20.00")))
}

func TestCreateOrderCardAttachesSession(t *testing.T) {
	env := newTestEnv("0")

	resp, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	assert.Equal(t, "sess-1", resp.GatewaySessionID)
	assert.Equal(t, "https://gateway.test/approve", resp.ApprovalURL)

	stored, _ := env.store.GetOrderByID(context.Background(), resp.OrderID)
	require.NotNil(t, stored.GatewaySessionID)
	assert.Equal(t, "sess-1", *stored.GatewaySessionID)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
}

func TestCreateOrderGatewayDownKeepsOrderRetryable(t *testing.T) {
	env := newTestEnv("0")
	env.gateway.createErr = &gateway.Error{Code: gateway.CodeUnavailable, Message: "connection refused"}

	_, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))

	var gwErr *GatewayUnavailableError
	require.ErrorAs(t, err, &gwErr)
	require.NotEmpty(t, gwErr.OrderID)

	// The order persists in PENDING with no session id, ready for a retry;
	// no fabricated session ever appears.
	stored, _ := env.store.GetOrderByID(context.Background(), gwErr.OrderID)
	require.NotNil(t, stored)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
	assert.Nil(t, stored.GatewaySessionID)

	// Gateway recovers: session creation can be retried for the same order.
	env.gateway.createErr = nil
	sess, err := env.svc.CreateSession(context.Background(), buyer, gwErr.OrderID)
	require.NoError(t, err)
	assert.NotEmpty(t, sess.GatewaySessionID)
	assert.False(t, sess.AlreadyCreated)
}

func TestCreateSessionReturnsExistingSession(t *testing.T) {
	env := newTestEnv("0")

	resp, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	sess, err := env.svc.CreateSession(context.Background(), buyer, resp.OrderID)
	require.NoError(t, err)
	assert.True(t, sess.AlreadyCreated)
	assert.Equal(t, resp.GatewaySessionID, sess.GatewaySessionID)
	assert.Equal(t, 1, env.gateway.createCalls, "an attached session is never replaced")
}

func TestCreateSessionHidesForeignOrders(t *testing.T) {
	env := newTestEnv("0")

	resp, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	_, err = env.svc.CreateSession(context.Background(), Identity{UserID: "someone-else"}, resp.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestCaptureSuccess(t *testing.T) {
	env := newTestEnv("0")

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	resp, err := env.svc.Capture(context.Background(), created.GatewaySessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, resp.Status)
	assert.Equal(t, "cap-1", resp.CaptureID)
	assert.False(t, resp.AlreadyPaid)

	stored, _ := env.store.GetOrderByID(context.Background(), created.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
	assert.True(t, stored.IsPaid)
	require.NotNil(t, stored.PaidAt)
	require.NotNil(t, stored.GatewayCaptureID)
	assert.Equal(t, "cap-1", *stored.GatewayCaptureID)
}

func TestCaptureDeclinedMarksOrderFailed(t *testing.T) {
	env := newTestEnv("0")

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	env.gateway.captureErr = &gateway.Error{Code: "DECLINED", Message: "insufficient funds"}

	_, err = env.svc.Capture(context.Background(), created.GatewaySessionID)

	var capErr *CaptureFailedError
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "DECLINED", capErr.Code)
	assert.False(t, capErr.Retryable)

	// A terminal decline moves the order to FAILED; no capture id, not paid.
	stored, _ := env.store.GetOrderByID(context.Background(), created.OrderID)
	assert.Equal(t, models.PaymentStatusFailed, stored.PaymentStatus)
	assert.False(t, stored.IsPaid)
	assert.Nil(t, stored.GatewayCaptureID)
	assert.Nil(t, stored.PaidAt)

	// Retrying a failed order is refused without touching the gateway again.
	env.gateway.captureErr = nil
	_, err = env.svc.Capture(context.Background(), created.GatewaySessionID)
	require.ErrorAs(t, err, &capErr)
	assert.Equal(t, "ORDER_FAILED", capErr.Code)
	assert.Equal(t, 1, env.gateway.captureCalls)
}

func TestCaptureGatewayTimeoutIsRetryable(t *testing.T) {
	env := newTestEnv("0")

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	env.gateway.captureErr = &gateway.Error{Code: gateway.CodeUnavailable, Message: "deadline exceeded"}

	_, err = env.svc.Capture(context.Background(), created.GatewaySessionID)

	var capErr *CaptureFailedError
	require.ErrorAs(t, err, &capErr)
	assert.True(t, capErr.Retryable)

	stored, _ := env.store.GetOrderByID(context.Background(), created.OrderID)
	assert.Equal(t, models.PaymentStatusPending, stored.PaymentStatus)
}

func TestCaptureUnknownSession(t *testing.T) {
	env := newTestEnv("0")

	_, err := env.svc.Capture(context.Background(), "sess-nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
	assert.Zero(t, env.gateway.captureCalls)
}

func TestCaptureIdempotent(t *testing.T) {
	env := newTestEnv("0")

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	first, err := env.svc.Capture(context.Background(), created.GatewaySessionID)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusPaid, first.Status)

	second, err := env.svc.Capture(context.Background(), created.GatewaySessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, second.Status)
	assert.True(t, second.AlreadyPaid)
	assert.Equal(t, first.CaptureID, second.CaptureID)

	assert.Equal(t, 1, env.gateway.captureCalls, "a settled session must not be captured again")
	assert.Equal(t, 1, env.store.paidWins)
}

func TestCaptureConcurrent(t *testing.T) {
	env := newTestEnv("0")
	env.gateway.captureDelay = 20 * time.Millisecond

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	type result struct {
		resp *CaptureResponse
		err  error
	}
	results := make(chan result, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := env.svc.Capture(context.Background(), created.GatewaySessionID)
			results <- result{resp, err}
		}()
	}
	wg.Wait()
	close(results)

	var settled, contended int
	for r := range results {
		if r.err != nil {
			var capErr *CaptureFailedError
			require.ErrorAs(t, r.err, &capErr)
			assert.True(t, capErr.Retryable)
			contended++
			continue
		}
		require.Equal(t, models.PaymentStatusPaid, r.resp.Status)
		settled++
	}

	assert.GreaterOrEqual(t, settled, 1, "at least one capture must settle")
	assert.Equal(t, 2, settled+contended)
	assert.Equal(t, 1, env.store.paidWins, "exactly one PAID transition")
	assert.Equal(t, 1, env.gateway.captureCalls, "only one request may reach the gateway")

	stored, _ := env.store.GetOrderByID(context.Background(), created.OrderID)
	assert.Equal(t, models.PaymentStatusPaid, stored.PaymentStatus)
}

func TestCaptureSurvivesLockerOutage(t *testing.T) {
	env := newTestEnv("0")

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	// A broken locker degrades to the conditional-update guard alone.
	env.svc.locker = brokenLocker{}

	resp, err := env.svc.Capture(context.Background(), created.GatewaySessionID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentStatusPaid, resp.Status)
	assert.Equal(t, 1, env.store.paidWins)
}

type brokenLocker struct{}

func (brokenLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	return "", false, errors.New("redis unreachable")
}

func (brokenLocker) ReleaseLock(ctx context.Context, key, token string) error {
	return errors.New("redis unreachable")
}

func TestEventsPublishedOnLifecycle(t *testing.T) {
	env := newTestEnv("0")

	created, err := env.svc.CreateOrder(context.Background(), buyer, cardOrderRequest(1, "25.00"))
	require.NoError(t, err)

	_, err = env.svc.Capture(context.Background(), created.GatewaySessionID)
	require.NoError(t, err)

	assert.Equal(t, []string{
		models.EventTypeOrderCreated,
		models.EventTypeSessionCreated,
		models.EventTypeOrderPaid,
	}, env.publisher.events)
}
