package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront/internal/gateway"
	"storefront/internal/models"
	"storefront/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Identity is the authenticated caller as supplied by the auth middleware.
// The checkout service never parses tokens itself.
type Identity struct {
	UserID string
	Role   string
}

const RoleAdmin = "admin"

// OrderStore is the persistence the checkout workflow depends on.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	GetAllOrders(ctx context.Context) ([]models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	AttachGatewaySession(ctx context.Context, orderID, sessionID string) (bool, error)
	MarkOrderPaid(ctx context.Context, orderID, captureID string, paidAt time.Time) (bool, error)
	MarkOrderFailed(ctx context.Context, orderID string) (bool, error)
}

// PaymentGateway is the remote payment processor boundary.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req gateway.SessionRequest) (*gateway.Session, error)
	CaptureSession(ctx context.Context, sessionID string) (*gateway.Capture, error)
}

// Locker provides per-order mutual exclusion for the capture path.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (token string, acquired bool, err error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher emits domain events after state transitions.
type EventPublisher interface {
	PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error
	PublishSessionCreated(ctx context.Context, event *models.SessionCreatedEvent) error
	PublishOrderPaid(ctx context.Context, event *models.OrderPaidEvent) error
	PublishPaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error
}

// CheckoutConfig carries the business knobs of the checkout workflow.
type CheckoutConfig struct {
	Currency         string
	ShippingFlatRate decimal.Decimal
	CaptureLockTTL   time.Duration
}

// CheckoutService coordinates the order store and the payment gateway across
// the two checkout steps: session creation at checkout time and capture at
// payment-confirmation time.
type CheckoutService struct {
	store   OrderStore
	gateway PaymentGateway
	locker  Locker
	events  EventPublisher
	cfg     CheckoutConfig
	logger  *zap.Logger
}

// NewCheckoutService creates a new checkout service
func NewCheckoutService(
	store OrderStore,
	gw PaymentGateway,
	locker Locker,
	events EventPublisher,
	cfg CheckoutConfig,
) *CheckoutService {
	if cfg.CaptureLockTTL <= 0 {
		cfg.CaptureLockTTL = 30 * time.Second
	}
	return &CheckoutService{
		store:   store,
		gateway: gw,
		locker:  locker,
		events:  events,
		cfg:     cfg,
		logger:  util.GetLogger(),
	}
}

// CartItem is one line of the client's cart snapshot.
type CartItem struct {
	ProductRef string `json:"product_ref"`
	Name       string `json:"name"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
}

// ShippingAddress is the destination snapshot stored on the order.
type ShippingAddress struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

// ShippingInfo carries the delivery slot chosen at checkout.
type ShippingInfo struct {
	DeliveryDate string `json:"delivery_date"`
	DeliveryTime string `json:"delivery_time"`
}

// CreateOrderRequest is the checkout submission. Any client-supplied total
// is deliberately absent; the total is always recomputed server-side.
type CreateOrderRequest struct {
	Items           []CartItem      `json:"items"`
	PaymentMethod   string          `json:"payment_method"`
	ShippingAddress ShippingAddress `json:"shipping_address"`
	ShippingInfo    ShippingInfo    `json:"shipping_info"`
}

// CreateOrderResponse reports the persisted order and, for gateway-backed
// methods, the session the client must complete payment against.
type CreateOrderResponse struct {
	OrderID          string `json:"order_id"`
	PaymentStatus    string `json:"payment_status"`
	TotalAmount      string `json:"total_amount"`
	Currency         string `json:"currency"`
	GatewaySessionID string `json:"gateway_session_id,omitempty"`
	ApprovalURL      string `json:"approval_url,omitempty"`
}

// CreateSessionResponse reports the gateway session for an existing order.
type CreateSessionResponse struct {
	OrderID          string `json:"order_id"`
	GatewaySessionID string `json:"gateway_session_id"`
	ApprovalURL      string `json:"approval_url,omitempty"`
	AlreadyCreated   bool   `json:"already_created,omitempty"`
}

// CaptureResponse reports the terminal state of a capture request.
type CaptureResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	CaptureID   string `json:"capture_id,omitempty"`
	AlreadyPaid bool   `json:"already_paid,omitempty"`
}

// CreateOrder validates the cart, persists a PENDING order with a
// server-computed total and, for gateway-backed payment methods, opens a
// payment session. When the gateway is unreachable the order stays persisted
// without a session id and the caller gets a GatewayUnavailableError; no
// session id is ever fabricated locally.
func (s *CheckoutService) CreateOrder(ctx context.Context, caller Identity, req *CreateOrderRequest) (*CreateOrderResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateOrder")
	defer span.End()

	items, err := s.validateItems(req.Items)
	if err != nil {
		return nil, err
	}
	if err := validateMethod(req.PaymentMethod); err != nil {
		return nil, err
	}

	total := s.computeTotal(items)

	order := &models.Order{
		ID:             uuid.New().String(),
		UserID:         caller.UserID,
		TotalAmount:    total,
		ShippingCost:   s.cfg.ShippingFlatRate,
		Currency:       s.cfg.Currency,
		PaymentMethod:  req.PaymentMethod,
		PaymentStatus:  models.PaymentStatusPending,
		ShipStreet:     req.ShippingAddress.Street,
		ShipCity:       req.ShippingAddress.City,
		ShipState:      req.ShippingAddress.State,
		ShipPostalCode: req.ShippingAddress.PostalCode,
		ShipCountry:    req.ShippingAddress.Country,
		DeliveryDate:   req.ShippingInfo.DeliveryDate,
		DeliveryTime:   req.ShippingInfo.DeliveryTime,
	}

	if err := s.store.CreateOrder(ctx, order, items); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("payment_method", order.PaymentMethod),
		zap.String("total_amount", total.StringFixed(2)))

	s.publishOrderCreated(ctx, order, items)

	resp := &CreateOrderResponse{
		OrderID:       order.ID,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   total.StringFixed(2),
		Currency:      order.Currency,
	}

	// Cash on delivery settles out-of-band; no gateway interaction.
	if req.PaymentMethod == models.PaymentMethodCOD {
		return resp, nil
	}

	session, err := s.openSession(ctx, order)
	if err != nil {
		return nil, err
	}

	resp.GatewaySessionID = session.SessionID
	resp.ApprovalURL = session.ApprovalURL
	return resp, nil
}

// CreateSession opens a gateway session for an existing order that was left
// sessionless by an earlier gateway outage. For an order that already has a
// session the stored id is returned unchanged; a session is never replaced.
func (s *CheckoutService) CreateSession(ctx context.Context, caller Identity, orderID string) (*CreateSessionResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.CreateSession")
	defer span.End()

	if orderID == "" {
		return nil, validationf("order_id is required")
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	if order == nil || !canAccess(caller, order) {
		return nil, ErrOrderNotFound
	}
	if order.PaymentMethod == models.PaymentMethodCOD {
		return nil, validationf("order %s is cash on delivery and needs no payment session", orderID)
	}
	if order.PaymentStatus != models.PaymentStatusPending {
		return nil, validationf("order %s is %s and cannot open a payment session", orderID, order.PaymentStatus)
	}
	if order.GatewaySessionID != nil {
		return &CreateSessionResponse{
			OrderID:          order.ID,
			GatewaySessionID: *order.GatewaySessionID,
			AlreadyCreated:   true,
		}, nil
	}

	session, err := s.openSession(ctx, order)
	if err != nil {
		return nil, err
	}

	return &CreateSessionResponse{
		OrderID:          order.ID,
		GatewaySessionID: session.SessionID,
		ApprovalURL:      session.ApprovalURL,
	}, nil
}

// openSession calls the gateway and attaches the resulting session id to the
// order. If a concurrent call attached a session first, the stored session
// wins and the freshly created one is abandoned on the processor side.
func (s *CheckoutService) openSession(ctx context.Context, order *models.Order) (*gateway.Session, error) {
	session, err := s.gateway.CreateSession(ctx, gateway.SessionRequest{
		Amount:      order.TotalAmount,
		Currency:    order.Currency,
		Description: fmt.Sprintf("Order %s", order.ID),
		OrderRef:    order.ID,
	})
	if err != nil {
		util.SessionsFailedTotal.Inc()
		s.logger.Warn("Gateway session creation failed",
			zap.String("order_id", order.ID),
			zap.Error(err))
		return nil, &GatewayUnavailableError{OrderID: order.ID, Err: err}
	}

	attached, err := s.store.AttachGatewaySession(ctx, order.ID, session.SessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to attach gateway session: %w", err)
	}
	if !attached {
		current, err := s.store.GetOrderByID(ctx, order.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload order after session race: %w", err)
		}
		if current == nil || current.GatewaySessionID == nil {
			return nil, fmt.Errorf("order %s refused session attach but carries no session", order.ID)
		}
		s.logger.Warn("Concurrent session creation, keeping stored session",
			zap.String("order_id", order.ID),
			zap.String("abandoned_session", session.SessionID))
		return &gateway.Session{SessionID: *current.GatewaySessionID}, nil
	}

	util.SessionsCreatedTotal.Inc()
	s.publishSessionCreated(ctx, order.ID, session.SessionID)
	return session, nil
}

// Capture confirms payment for a gateway session. It is idempotent: a
// capture for an already-PAID order succeeds immediately without contacting
// the gateway again, and concurrent captures for the same session produce
// exactly one PAID transition.
func (s *CheckoutService) Capture(ctx context.Context, sessionID string) (*CaptureResponse, error) {
	ctx, span := util.StartSpan(ctx, "CheckoutService.Capture")
	defer span.End()

	if sessionID == "" {
		return nil, validationf("gateway session id is required")
	}

	order, err := s.store.GetOrderBySessionID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	if order.PaymentStatus == models.PaymentStatusPaid {
		util.CapturesTotal.WithLabelValues("already_paid").Inc()
		return alreadyPaidResponse(order), nil
	}
	if order.PaymentStatus == models.PaymentStatusFailed {
		util.CapturesTotal.WithLabelValues("failed_order").Inc()
		return nil, &CaptureFailedError{
			OrderID: order.ID,
			Code:    "ORDER_FAILED",
			Reason:  "order payment is marked failed",
		}
	}

	// Best-effort lock so duplicate captures (browser return + async
	// notification) do not both reach the gateway. The conditional
	// MarkOrderPaid write below is the correctness guard either way.
	token, locked, err := s.locker.AcquireLock(ctx, "capture:"+order.ID, s.cfg.CaptureLockTTL)
	if err != nil {
		s.logger.Warn("Capture lock unavailable, relying on conditional update",
			zap.String("order_id", order.ID),
			zap.Error(err))
	} else if !locked {
		return s.captureContended(ctx, order)
	} else {
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), "capture:"+order.ID, token); err != nil {
				s.logger.Warn("Failed to release capture lock",
					zap.String("order_id", order.ID),
					zap.Error(err))
			}
		}()
	}

	// Re-check under the lock: the duplicate may already have settled.
	current, err := s.store.GetOrderByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	if current == nil {
		return nil, ErrOrderNotFound
	}
	if current.PaymentStatus == models.PaymentStatusPaid {
		util.CapturesTotal.WithLabelValues("already_paid").Inc()
		return alreadyPaidResponse(current), nil
	}

	capture, err := s.gateway.CaptureSession(ctx, sessionID)
	if err != nil {
		return nil, s.captureFailure(ctx, current, sessionID, err)
	}

	paidAt := time.Now().UTC()
	won, err := s.store.MarkOrderPaid(ctx, current.ID, capture.CaptureID, paidAt)
	if err != nil {
		return nil, fmt.Errorf("failed to mark order paid: %w", err)
	}
	if !won {
		// A concurrent capture committed first; its transition is the
		// authoritative one and this call reports the same terminal state.
		util.CapturesTotal.WithLabelValues("already_paid").Inc()
		s.logger.Info("Capture lost the commit race, order already paid",
			zap.String("order_id", current.ID))
		return &CaptureResponse{
			OrderID:     current.ID,
			Status:      models.PaymentStatusPaid,
			AlreadyPaid: true,
		}, nil
	}

	util.CapturesTotal.WithLabelValues("success").Inc()
	s.logger.Info("Payment captured",
		zap.String("order_id", current.ID),
		zap.String("capture_id", capture.CaptureID))

	s.publishOrderPaid(ctx, current, sessionID, capture.CaptureID)

	return &CaptureResponse{
		OrderID:   current.ID,
		Status:    models.PaymentStatusPaid,
		CaptureID: capture.CaptureID,
	}, nil
}

// captureContended handles a capture that found the per-order lock held by
// another request. If that request already settled the order this reports
// the idempotent success; otherwise the caller is told to retry.
func (s *CheckoutService) captureContended(ctx context.Context, order *models.Order) (*CaptureResponse, error) {
	current, err := s.store.GetOrderByID(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload order: %w", err)
	}
	if current != nil && current.PaymentStatus == models.PaymentStatusPaid {
		util.CapturesTotal.WithLabelValues("already_paid").Inc()
		return alreadyPaidResponse(current), nil
	}

	util.CapturesTotal.WithLabelValues("contended").Inc()
	return nil, &CaptureFailedError{
		OrderID:   order.ID,
		Code:      "CAPTURE_IN_PROGRESS",
		Reason:    "another capture for this session is in progress",
		Retryable: true,
	}
}

// captureFailure translates a gateway capture error. A transport-level
// failure leaves the order PENDING and retryable; a processor decline is
// terminal and moves the order to FAILED. No capture id is ever written.
func (s *CheckoutService) captureFailure(ctx context.Context, order *models.Order, sessionID string, err error) error {
	var gwErr *gateway.Error
	code, reason, retryable := "GATEWAY_ERROR", err.Error(), true
	if errors.As(err, &gwErr) {
		code, reason = gwErr.Code, gwErr.Message
		retryable = gwErr.Unavailable()
	}

	if retryable {
		util.CapturesTotal.WithLabelValues("unavailable").Inc()
	} else {
		util.CapturesTotal.WithLabelValues("declined").Inc()
		// The conditional guard inside MarkOrderFailed means a capture that
		// settled concurrently is never downgraded.
		if _, ferr := s.store.MarkOrderFailed(ctx, order.ID); ferr != nil {
			s.logger.Error("Failed to mark order failed after decline",
				zap.String("order_id", order.ID),
				zap.Error(ferr))
		}
	}

	s.logger.Warn("Gateway capture failed",
		zap.String("order_id", order.ID),
		zap.String("code", code),
		zap.Bool("retryable", retryable))

	s.publishPaymentFailed(ctx, order.ID, sessionID, reason)

	return &CaptureFailedError{
		OrderID:   order.ID,
		Code:      code,
		Reason:    reason,
		Retryable: retryable,
	}
}

// GetOrder returns an order with its item snapshot; callers only see their
// own orders unless they are admins.
func (s *CheckoutService) GetOrder(ctx context.Context, caller Identity, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := s.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil || !canAccess(caller, order) {
		return nil, nil, ErrOrderNotFound
	}

	items, err := s.store.GetOrderItems(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, items, nil
}

// ListUserOrders returns the caller's orders, newest first
func (s *CheckoutService) ListUserOrders(ctx context.Context, caller Identity) ([]models.Order, error) {
	return s.store.GetOrdersByUserID(ctx, caller.UserID)
}

// ListAllOrders returns every order (admin)
func (s *CheckoutService) ListAllOrders(ctx context.Context) ([]models.Order, error) {
	return s.store.GetAllOrders(ctx)
}

// validateItems checks the cart snapshot before anything is persisted.
func (s *CheckoutService) validateItems(items []CartItem) ([]models.OrderItem, error) {
	if len(items) == 0 {
		return nil, validationf("cart is empty")
	}

	out := make([]models.OrderItem, 0, len(items))
	for i, item := range items {
		if item.ProductRef == "" {
			return nil, validationf("item %d is missing product_ref", i)
		}
		if item.Name == "" {
			return nil, validationf("item %d is missing name", i)
		}
		if item.Quantity <= 0 {
			return nil, validationf("item %d has non-positive quantity %d", i, item.Quantity)
		}
		price, err := decimal.NewFromString(item.UnitPrice)
		if err != nil {
			return nil, validationf("item %d has unparseable unit_price %q", i, item.UnitPrice)
		}
		if price.IsNegative() {
			return nil, validationf("item %d has negative unit_price %s", i, item.UnitPrice)
		}

		out = append(out, models.OrderItem{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  price,
		})
	}
	return out, nil
}

// computeTotal derives the order total from the item snapshot plus the flat
// shipping rate. Client-supplied totals are never consulted.
func (s *CheckoutService) computeTotal(items []models.OrderItem) decimal.Decimal {
	total := s.cfg.ShippingFlatRate
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func validateMethod(method string) error {
	switch method {
	case models.PaymentMethodCOD, models.PaymentMethodCard, models.PaymentMethodWallet:
		return nil
	case "":
		return validationf("payment_method is required")
	default:
		return validationf("unsupported payment_method %q", method)
	}
}

func canAccess(caller Identity, order *models.Order) bool {
	return caller.Role == RoleAdmin || caller.UserID == order.UserID
}

func alreadyPaidResponse(order *models.Order) *CaptureResponse {
	resp := &CaptureResponse{
		OrderID:     order.ID,
		Status:      models.PaymentStatusPaid,
		AlreadyPaid: true,
	}
	if order.GatewayCaptureID != nil {
		resp.CaptureID = *order.GatewayCaptureID
	}
	return resp
}

func (s *CheckoutService) publishOrderCreated(ctx context.Context, order *models.Order, items []models.OrderItem) {
	if s.events == nil {
		return
	}
	eventItems := make([]models.OrderItemData, 0, len(items))
	for _, item := range items {
		eventItems = append(eventItems, models.OrderItemData{
			ProductRef: item.ProductRef,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.StringFixed(2),
		})
	}
	event := &models.OrderCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeOrderCreated),
		OrderID:       order.ID,
		UserID:        order.UserID,
		TotalAmount:   order.TotalAmount.StringFixed(2),
		Currency:      order.Currency,
		PaymentMethod: order.PaymentMethod,
		Items:         eventItems,
	}
	if err := s.events.PublishOrderCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
	}
}

func (s *CheckoutService) publishSessionCreated(ctx context.Context, orderID, sessionID string) {
	if s.events == nil {
		return
	}
	event := &models.SessionCreatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeSessionCreated),
		OrderID:   orderID,
		SessionID: sessionID,
	}
	if err := s.events.PublishSessionCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SessionCreated event", zap.Error(err))
	}
}

func (s *CheckoutService) publishOrderPaid(ctx context.Context, order *models.Order, sessionID, captureID string) {
	if s.events == nil {
		return
	}
	event := &models.OrderPaidEvent{
		BaseEvent: newBaseEvent(models.EventTypeOrderPaid),
		OrderID:   order.ID,
		SessionID: sessionID,
		CaptureID: captureID,
		Amount:    order.TotalAmount.StringFixed(2),
		Currency:  order.Currency,
	}
	if err := s.events.PublishOrderPaid(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPaid event", zap.Error(err))
	}
}

func (s *CheckoutService) publishPaymentFailed(ctx context.Context, orderID, sessionID, reason string) {
	if s.events == nil {
		return
	}
	event := &models.PaymentFailedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentFailed),
		OrderID:   orderID,
		SessionID: sessionID,
		Reason:    reason,
	}
	if err := s.events.PublishPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish PaymentFailed event", zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}
