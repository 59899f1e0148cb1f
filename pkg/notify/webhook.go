package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

const (
	HeaderEvent     = "X-Gatehouse-Event"
	HeaderEventID   = "X-Gatehouse-Event-ID"
	HeaderSignature = "X-Gatehouse-Signature"
	HeaderDelivery  = "X-Gatehouse-Delivery"
)

// RetryConfig configures webhook retry behavior
type RetryConfig struct {
	MaxAttempts       int           `json:"max_attempts"`
	InitialDelay      time.Duration `json:"initial_delay"`
	MaxDelay          time.Duration `json:"max_delay"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration. Delays are
// short because a notification must finish within the dispatcher timeout.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      200 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	d := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.BackoffMultiplier <= 1.0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	return c
}

// delay returns the wait before retry number attempt (1-based)
func (c RetryConfig) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return c.InitialDelay
	}
	d := float64(c.InitialDelay) * math.Pow(c.BackoffMultiplier, float64(attempt-1))
	if d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WebhookConfig configures a WebhookNotifier
type WebhookConfig struct {
	URL    string
	Secret string
	Retry  RetryConfig
	Client *http.Client
}

// AccountSummary is the account view carried in webhook payloads
type AccountSummary struct {
	ID          int64           `json:"id"`
	Email       string          `json:"email"`
	Tenant      string          `json:"tenant,omitempty"`
	Provider    string          `json:"provider"`
	DisplayName string          `json:"display_name,omitempty"`
	Roles       []identity.Role `json:"roles"`
}

// Payload is the JSON body posted to the webhook endpoint
type Payload struct {
	ID        string         `json:"id"`
	Event     Event          `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Account   AccountSummary `json:"account"`
}

// WebhookNotifier posts notification events to an HTTP endpoint
type WebhookNotifier struct {
	url    string
	secret string
	retry  RetryConfig
	client *http.Client
}

// NewWebhookNotifier creates a webhook notifier
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &WebhookNotifier{
		url:    cfg.URL,
		secret: cfg.Secret,
		retry:  cfg.Retry.withDefaults(),
		client: client,
	}, nil
}

// NotifyAdminsOfPendingSignup implements Notifier
func (n *WebhookNotifier) NotifyAdminsOfPendingSignup(ctx context.Context, account *identity.Account) error {
	return n.deliver(ctx, EventAdminPendingSignup, account)
}

// NotifyUserInvited implements Notifier
func (n *WebhookNotifier) NotifyUserInvited(ctx context.Context, account *identity.Account) error {
	return n.deliver(ctx, EventUserInvited, account)
}

func (n *WebhookNotifier) deliver(ctx context.Context, event Event, account *identity.Account) error {
	payload := Payload{
		ID:        uuid.New().String(),
		Event:     event,
		Timestamp: time.Now().UTC(),
		Account: AccountSummary{
			ID:          account.ID,
			Email:       account.Email,
			Tenant:      account.Tenant,
			Provider:    account.ProviderID,
			DisplayName: account.DisplayName,
			Roles:       account.Roles,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= n.retry.MaxAttempts; attempt++ {
		lastErr = n.post(ctx, payload, body)
		if lastErr == nil {
			return nil
		}
		if attempt == n.retry.MaxAttempts {
			break
		}

		timer := time.NewTimer(n.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("webhook delivery aborted after %d attempts: %w", attempt, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", n.retry.MaxAttempts, lastErr)
}

func (n *WebhookNotifier) post(ctx context.Context, payload Payload, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, string(payload.Event))
	req.Header.Set(HeaderEventID, payload.ID)
	req.Header.Set(HeaderDelivery, time.Now().UTC().Format(time.RFC3339))
	if n.secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature header value for payload
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a signature produced by Sign
func VerifySignature(payload []byte, signature, secret string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
