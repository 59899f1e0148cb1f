package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

func testAccount() *identity.Account {
	return &identity.Account{
		ID:         42,
		Email:      "ada@example.com",
		Tenant:     "acme",
		ProviderID: "acme",
		Roles:      []identity.Role{identity.RoleUser, identity.RolePending},
	}
}

func fastRetry() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func TestWebhookNotifier_DeliversSignedEvent(t *testing.T) {
	var (
		gotBody    []byte
		gotHeaders http.Header
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier, err := NewWebhookNotifier(WebhookConfig{URL: server.URL, Secret: "s3cret", Retry: fastRetry()})
	if err != nil {
		t.Fatalf("NewWebhookNotifier: %v", err)
	}

	if err := notifier.NotifyAdminsOfPendingSignup(context.Background(), testAccount()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := gotHeaders.Get(HeaderEvent); got != string(EventAdminPendingSignup) {
		t.Errorf("event header = %q", got)
	}
	if gotHeaders.Get(HeaderEventID) == "" {
		t.Error("expected event id header")
	}
	if !VerifySignature(gotBody, gotHeaders.Get(HeaderSignature), "s3cret") {
		t.Error("signature does not verify")
	}

	var payload Payload
	if err := json.Unmarshal(gotBody, &payload); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if payload.Account.Email != "ada@example.com" || payload.Account.Tenant != "acme" {
		t.Errorf("unexpected account in payload: %+v", payload.Account)
	}
	if payload.ID != gotHeaders.Get(HeaderEventID) {
		t.Errorf("payload id %q does not match header %q", payload.ID, gotHeaders.Get(HeaderEventID))
	}
}

func TestWebhookNotifier_NoSecretNoSignature(t *testing.T) {
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get(HeaderSignature)
	}))
	defer server.Close()

	notifier, _ := NewWebhookNotifier(WebhookConfig{URL: server.URL, Retry: fastRetry()})
	if err := notifier.NotifyUserInvited(context.Background(), testAccount()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if signature != "" {
		t.Errorf("expected no signature, got %q", signature)
	}
}

func TestWebhookNotifier_RetriesThenSucceeds(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier, _ := NewWebhookNotifier(WebhookConfig{URL: server.URL, Retry: fastRetry()})
	if err := notifier.NotifyUserInvited(context.Background(), testAccount()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifier_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier, _ := NewWebhookNotifier(WebhookConfig{URL: server.URL, Retry: fastRetry()})
	err := notifier.NotifyUserInvited(context.Background(), testAccount())
	if err == nil {
		t.Fatal("expected error")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestWebhookNotifier_StopsOnContextCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	notifier, _ := NewWebhookNotifier(WebhookConfig{
		URL:   server.URL,
		Retry: RetryConfig{MaxAttempts: 10, InitialDelay: time.Second, MaxDelay: time.Second, BackoffMultiplier: 2},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := notifier.NotifyUserInvited(ctx, testAccount()); err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Error("delivery did not stop when the context expired")
	}
}

func TestNewWebhookNotifier_RequiresURL(t *testing.T) {
	if _, err := NewWebhookNotifier(WebhookConfig{}); err == nil {
		t.Error("expected error for empty URL")
	}
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := cfg.delay(tt.attempt); got != tt.want {
			t.Errorf("delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryConfig_WithDefaults(t *testing.T) {
	got := RetryConfig{}.withDefaults()
	if got != DefaultRetryConfig() {
		t.Errorf("withDefaults() = %+v, want %+v", got, DefaultRetryConfig())
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"account.invited"}`)
	sig := Sign(body, "key")

	if !VerifySignature(body, sig, "key") {
		t.Error("expected signature to verify")
	}
	if VerifySignature(body, sig, "other") {
		t.Error("signature verified with wrong secret")
	}
	if VerifySignature([]byte(`{}`), sig, "key") {
		t.Error("signature verified for different payload")
	}
}
