package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Event identifies a notification kind
type Event string

const (
	EventAdminPendingSignup Event = "account.pending_approval"
	EventUserInvited        Event = "account.invited"
)

// Notifier sends the notifications that follow account creation
type Notifier interface {
	// NotifyAdminsOfPendingSignup alerts administrators that account awaits approval
	NotifyAdminsOfPendingSignup(ctx context.Context, account *identity.Account) error

	// NotifyUserInvited welcomes an invited user after their first sign-in
	NotifyUserInvited(ctx context.Context, account *identity.Account) error
}

// DefaultTimeout bounds a single dispatched notification
const DefaultTimeout = 10 * time.Second

// Dispatcher fires notifications asynchronously. Failures are logged and
// counted, never returned to the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   *observability.Logger
	metrics  *observability.Metrics
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher around notifier. metrics may be nil.
func NewDispatcher(notifier Notifier, timeout time.Duration, logger *observability.Logger, metrics *observability.Metrics) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Dispatcher{
		notifier: notifier,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Dispatch sends event for account in the background. The request context's
// values (request id, trace) are kept but its cancellation is not, so the
// notification outlives the HTTP request that triggered it.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event, account *identity.Account) {
	if d == nil || d.notifier == nil || account == nil {
		return
	}

	snapshot := *account
	snapshot.Roles = append([]identity.Role(nil), account.Roles...)

	bg := context.WithoutCancel(ctx)
	logger := d.logger
	if requestID := observability.GetRequestID(ctx); requestID != "" {
		logger = logger.WithField("request_id", requestID)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.WithFields(map[string]interface{}{
					"event": string(event),
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("Notifier panicked")
				d.metrics.RecordNotification(string(event), fmt.Errorf("panic: %v", r))
			}
		}()

		sendCtx, cancel := context.WithTimeout(bg, d.timeout)
		defer cancel()

		err := d.send(sendCtx, event, &snapshot)
		d.metrics.RecordNotification(string(event), err)

		entry := logger.WithFields(map[string]interface{}{
			"event":      string(event),
			"account_id": snapshot.ID,
			"tenant":     snapshot.Tenant,
		})
		if err != nil {
			entry.WithError(err).Error("Failed to deliver notification")
			return
		}
		entry.Debug("Notification delivered")
	}()
}

func (d *Dispatcher) send(ctx context.Context, event Event, account *identity.Account) error {
	switch event {
	case EventAdminPendingSignup:
		return d.notifier.NotifyAdminsOfPendingSignup(ctx, account)
	case EventUserInvited:
		return d.notifier.NotifyUserInvited(ctx, account)
	default:
		return fmt.Errorf("unknown notification event %q", event)
	}
}

// Wait blocks until every dispatched notification has finished
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Shutdown waits for in-flight notifications or until ctx is done
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still in flight: %w", ctx.Err())
	}
}

// LogNotifier writes notifications to the structured log. Used when no
// webhook endpoint is configured.
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyAdminsOfPendingSignup implements Notifier
func (n *LogNotifier) NotifyAdminsOfPendingSignup(ctx context.Context, account *identity.Account) error {
	n.entry(account).WithField("event", string(EventAdminPendingSignup)).Info("Signup awaiting administrator approval")
	return nil
}

// NotifyUserInvited implements Notifier
func (n *LogNotifier) NotifyUserInvited(ctx context.Context, account *identity.Account) error {
	n.entry(account).WithField("event", string(EventUserInvited)).Info("Invited user signed in for the first time")
	return nil
}

func (n *LogNotifier) entry(account *identity.Account) *observability.Logger {
	return n.logger.WithFields(map[string]interface{}{
		"account_id": account.ID,
		"email":      account.Email,
		"tenant":     account.Tenant,
		"provider":   account.ProviderID,
	})
}
