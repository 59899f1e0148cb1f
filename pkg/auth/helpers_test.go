package auth

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/identity"
	"github.com/platinummonkey/gatehouse/pkg/notify"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/registration"
)

var errStoreDown = errors.New("connection refused")

func quietLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func testOptions(policy registration.Policy) Options {
	return Options{
		Policy:               policy,
		NotificationsEnabled: true,
		Logger:               quietLogger(),
	}
}

// failingStore fails every call with err
type failingStore struct {
	err error
}

func (f failingStore) FindByEmail(context.Context, string, identity.TenantScope) (*identity.Account, error) {
	return nil, f.err
}

func (f failingStore) FindByExternalID(context.Context, string, string) (*identity.Account, error) {
	return nil, f.err
}

func (f failingStore) Create(context.Context, identity.Assertion, string, string, ...identity.Role) (*identity.Account, bool, error) {
	return nil, false, f.err
}

func (f failingStore) VerifyCredential(context.Context, *identity.Account, string) (bool, error) {
	return false, f.err
}

// panickingStore panics on lookup
type panickingStore struct {
	identity.Store
}

func (panickingStore) FindByExternalID(context.Context, string, string) (*identity.Account, error) {
	panic("driver bug")
}

// failingLedger fails every check
type failingLedger struct{}

func (failingLedger) Check(context.Context, string, string, string) (identity.Invitation, error) {
	return identity.Invitation{}, errStoreDown
}

type dispatched struct {
	event   notify.Event
	account *identity.Account
}

// recordingDispatcher keeps every dispatched notification
type recordingDispatcher struct {
	mu     sync.Mutex
	events []dispatched
}

func (d *recordingDispatcher) Dispatch(_ context.Context, event notify.Event, account *identity.Account) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, dispatched{event: event, account: account})
}

func (d *recordingDispatcher) Events() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.events...)
}

// staticResolver resolves hosts from a fixed table
type staticResolver map[string]string

func (r staticResolver) Resolve(host string) (string, bool) {
	tenant, ok := r[host]
	return tenant, ok
}
