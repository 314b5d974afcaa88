package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/dans3367/pigeonpost/internal/config"
	"github.com/dans3367/pigeonpost/internal/logger"
)

// ReconcileRequest asks the owning application to settle a DeliveryIntent
// after the provider send finished.
type ReconcileRequest struct {
	EmailTrackingID   string `json:"emailTrackingId"`
	ProviderMessageID string `json:"providerMessageId,omitempty"`
	Provider          string `json:"provider,omitempty"`
	Status            string `json:"status"`
}

// ActivityRequest appends one entry to a recipient's email timeline.
// WebhookID is the idempotency key.
type ActivityRequest struct {
	TenantID     string          `json:"tenantId"`
	ContactID    string          `json:"contactId"`
	ActivityType string          `json:"activityType"`
	ActivityData json.RawMessage `json:"activityData,omitempty"`
	OccurredAt   time.Time       `json:"occurredAt"`
	WebhookID    string          `json:"webhookId"`
}

// Client is the signed request path from background workers back into the
// owning application. Callers are activities, not logged-in users, so the
// channel authenticates with HMAC headers instead of sessions.
type Client struct {
	baseURL     string
	serviceName string
	secret      []byte
	http        *http.Client
	log         *logger.Logger
	// now is swappable in tests
	now func() time.Time
}

// NewClient creates a new callback Client
func NewClient(cfg config.CallbackConfig, log *logger.Logger) *Client {
	return &Client{
		baseURL:     cfg.BaseURL,
		serviceName: cfg.ServiceName,
		secret:      []byte(cfg.Secret),
		http:        &http.Client{Timeout: 10 * time.Second},
		log:         log.WithComponent("callback_client"),
		now:         time.Now,
	}
}

// ReconcileIntent reports a send outcome for reconciliation
func (c *Client) ReconcileIntent(ctx context.Context, req ReconcileRequest) error {
	return c.post(ctx, "/internal/v1/emails/reconcile", req)
}

// AppendActivity appends a timeline entry
func (c *Client) AppendActivity(ctx context.Context, req ActivityRequest) error {
	return c.post(ctx, "/internal/v1/activities", req)
}

// post sends a signed JSON request. Any non-2xx response is an error the
// calling activity retries under its policy.
func (c *Client) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode callback body: %w", err)
	}

	ts := c.now().UnixMilli()
	signature, err := Sign(c.secret, ts, payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderService, c.serviceName)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(HeaderSignature, signature)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("callback %s returned %d: %s", path, resp.StatusCode, snippet)
	}
	return nil
}
