package notify

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

type recordingNotifier struct {
	mu      sync.Mutex
	pending []int64
	invited []int64
	err     error
	block   chan struct{}
	sawCtx  []error
}

func (r *recordingNotifier) NotifyAdminsOfPendingSignup(ctx context.Context, account *identity.Account) error {
	return r.record(ctx, &r.pending, account)
}

func (r *recordingNotifier) NotifyUserInvited(ctx context.Context, account *identity.Account) error {
	return r.record(ctx, &r.invited, account)
}

func (r *recordingNotifier) record(ctx context.Context, into *[]int64, account *identity.Account) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	*into = append(*into, account.ID)
	r.sawCtx = append(r.sawCtx, ctx.Err())
	return r.err
}

func TestDispatcher_RoutesEvents(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Second, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), nil)

	d.Dispatch(context.Background(), EventAdminPendingSignup, &identity.Account{ID: 1})
	d.Dispatch(context.Background(), EventUserInvited, &identity.Account{ID: 2})
	d.Wait()

	assert.Equal(t, []int64{1}, rec.pending)
	assert.Equal(t, []int64{2}, rec.invited)
}

func TestDispatcher_SurvivesRequestCancellation(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Second, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Dispatch(ctx, EventUserInvited, &identity.Account{ID: 7})
	cancel()
	d.Wait()

	require.Len(t, rec.sawCtx, 1)
	assert.NoError(t, rec.sawCtx[0], "notification context must not inherit request cancellation")
}

func TestDispatcher_TimeoutBoundsNotifier(t *testing.T) {
	rec := &recordingNotifier{block: make(chan struct{})}
	d := NewDispatcher(rec, 20*time.Millisecond, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), nil)

	d.Dispatch(context.Background(), EventAdminPendingSignup, &identity.Account{ID: 3})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))

	require.Len(t, rec.sawCtx, 1)
	assert.ErrorIs(t, rec.sawCtx[0], context.DeadlineExceeded)
}

func TestDispatcher_FailuresAreLoggedAndCounted(t *testing.T) {
	var logs bytes.Buffer
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	rec := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(rec, time.Second, observability.NewLogger(observability.InfoLevel, &logs), metrics)

	d.Dispatch(context.Background(), EventUserInvited, &identity.Account{ID: 9, Tenant: "acme"})
	d.Wait()

	assert.Contains(t, logs.String(), "Failed to deliver notification")
	assert.Contains(t, logs.String(), "smtp down")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues(string(EventUserInvited), "error")))
}

func TestDispatcher_SnapshotIsolatesCaller(t *testing.T) {
	rec := &recordingNotifier{block: make(chan struct{})}
	d := NewDispatcher(rec, time.Second, observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{}), nil)

	account := &identity.Account{ID: 5}
	d.Dispatch(context.Background(), EventUserInvited, account)
	account.ID = 99
	close(rec.block)
	d.Wait()

	assert.Equal(t, []int64{5}, rec.invited)
}

func TestDispatcher_NilSafe(t *testing.T) {
	var d *Dispatcher
	d.Dispatch(context.Background(), EventUserInvited, &identity.Account{})
	d.Wait()

	d = NewDispatcher(nil, 0, nil, nil)
	d.Dispatch(context.Background(), EventUserInvited, &identity.Account{})
	d.Wait()
}

func TestLogNotifier(t *testing.T) {
	var logs bytes.Buffer
	n := NewLogNotifier(observability.NewLogger(observability.InfoLevel, &logs))

	require.NoError(t, n.NotifyAdminsOfPendingSignup(context.Background(), testAccount()))
	require.NoError(t, n.NotifyUserInvited(context.Background(), testAccount()))

	out := logs.String()
	assert.Contains(t, out, string(EventAdminPendingSignup))
	assert.Contains(t, out, string(EventUserInvited))
	assert.Contains(t, out, "ada@example.com")
}
