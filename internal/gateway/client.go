package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"storefront/config"
	"storefront/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Error code the client assigns when the processor could not be reached or
// did not answer in time. Any other code comes from the processor itself.
const CodeUnavailable = "UNAVAILABLE"

// Error is a failure reported by (or on the way to) the payment processor.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.Code, e.Message)
}

// Unavailable reports whether the failure was transport-level (network,
// timeout, processor 5xx) rather than a processor decision.
func (e *Error) Unavailable() bool {
	return e.Code == CodeUnavailable
}

// Session is a processor-side record representing an intended payment,
// created before the payer authorizes it.
type Session struct {
	SessionID   string
	ApprovalURL string
}

// Capture is the result of finalizing a session into a settled charge.
type Capture struct {
	CaptureID string
}

// SessionRequest carries everything the processor needs to open a session.
type SessionRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	OrderRef    string
}

// Client is a thin JSON-over-HTTP wrapper around the payment processor.
// The processor is idempotency-unaware; callers own retry discipline.
type Client struct {
	cfg        config.GatewayConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a gateway client from an explicit configuration struct.
func NewClient(cfg config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

type createSessionPayload struct {
	Store       string `json:"store"`
	AuthKey     string `json:"authkey"`
	Test        bool   `json:"test"`
	OrderRef    string `json:"order_ref"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Return      struct {
		Authorised string `json:"authorised"`
		Declined   string `json:"declined"`
		Cancelled  string `json:"cancelled"`
	} `json:"return"`
}

type sessionResponse struct {
	Ref         string     `json:"ref"`
	ApprovalURL string     `json:"approval_url"`
	Error       *errorBody `json:"error,omitempty"`
}

type captureResponse struct {
	CaptureID string     `json:"capture_id"`
	Status    string     `json:"status"`
	Error     *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// CreateSession opens a payment session scoped to the given amount.
func (c *Client) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	payload := createSessionPayload{
		Store:       c.cfg.StoreID,
		AuthKey:     c.cfg.AuthKey,
		Test:        c.cfg.Mode != "live",
		OrderRef:    req.OrderRef,
		Amount:      req.Amount.StringFixed(2),
		Currency:    req.Currency,
		Description: req.Description,
	}
	payload.Return.Authorised = c.cfg.ReturnURL
	payload.Return.Declined = c.cfg.CancelURL
	payload.Return.Cancelled = c.cfg.CancelURL

	var resp sessionResponse
	if err := c.post(ctx, "/v1/sessions", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &Error{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.Ref == "" || resp.ApprovalURL == "" {
		return nil, &Error{Code: CodeUnavailable, Message: "processor returned an incomplete session"}
	}

	return &Session{SessionID: resp.Ref, ApprovalURL: resp.ApprovalURL}, nil
}

// CaptureSession finalizes a previously created session into a settled
// charge. A processor decline keeps its code; transport failures map to
// CodeUnavailable.
func (c *Client) CaptureSession(ctx context.Context, sessionID string) (*Capture, error) {
	payload := struct {
		Store   string `json:"store"`
		AuthKey string `json:"authkey"`
	}{Store: c.cfg.StoreID, AuthKey: c.cfg.AuthKey}

	var resp captureResponse
	if err := c.post(ctx, "/v1/sessions/"+sessionID+"/capture", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, &Error{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if resp.CaptureID == "" {
		return nil, &Error{Code: CodeUnavailable, Message: "processor returned no capture id"}
	}

	return &Capture{CaptureID: resp.CaptureID}, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	start := time.Now()
	defer func() {
		util.GatewayRequestLatency.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal gateway payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("Gateway unreachable", zap.String("path", path), zap.Error(err))
		return &Error{Code: CodeUnavailable, Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("failed to read processor response: %v", err)}
	}

	if resp.StatusCode >= 500 {
		c.logger.Warn("Gateway server error",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("processor returned status %d", resp.StatusCode)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Code: CodeUnavailable, Message: fmt.Sprintf("unparseable processor response (status %d)", resp.StatusCode)}
	}

	return nil
}
