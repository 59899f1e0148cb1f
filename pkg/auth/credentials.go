package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

const flowCredentials = "credentials"

// CredentialAuthenticator implements local email/password login
type CredentialAuthenticator struct {
	store identity.Store
	opts  Options
}

// NewCredentialAuthenticator creates a credential authenticator over store
func NewCredentialAuthenticator(store identity.Store, opts Options) *CredentialAuthenticator {
	return &CredentialAuthenticator{store: store, opts: opts.withDefaults()}
}

// Authenticate decides a local login attempt. tenantResolved is false when
// the request host yielded no tenant. The method never mutates accounts.
func (a *CredentialAuthenticator) Authenticate(ctx context.Context, email, password, tenant string, tenantResolved bool) Outcome {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "CredentialAuthenticator.Authenticate",
		trace.WithAttributes(attribute.String("tenant", tenant)),
	)
	defer span.End()

	outcome := a.authenticate(ctx, email, password, tenant, tenantResolved)
	span.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
	if outcome.Kind == KindError {
		span.RecordError(outcome.Cause)
		span.SetStatus(codes.Error, outcome.Reason)
	}

	a.opts.record(ctx, flowCredentials, outcome, start)
	return outcome
}

func (a *CredentialAuthenticator) authenticate(ctx context.Context, email, password, tenant string, tenantResolved bool) Outcome {
	if email == "" {
		return Denied(ReasonInvalidUser)
	}

	// Super administrators sign in from any tenant
	candidate, err := a.superAdmin(ctx, email)
	if err != nil {
		return Failed(ReasonInternalError, err)
	}

	if candidate == nil {
		if a.opts.MultiTenant && !tenantResolved {
			return Denied(ReasonInvalidTenant)
		}
		if !a.opts.MultiTenant {
			tenant = ""
		}

		account, err := a.find(ctx, email, identity.InTenant(tenant))
		if errors.Is(err, identity.ErrNotFound) {
			return Denied(ReasonInvalidUser)
		}
		if err != nil {
			return Failed(ReasonInternalError, fmt.Errorf("failed to look up account: %w", err))
		}
		candidate = account
	}

	if !candidate.IsLocal() {
		return Denied(ReasonInvalidLoginMethod)
	}
	if !candidate.IsActivated() {
		return RedirectToActivation(candidate.Email)
	}

	ok, err := a.verify(ctx, candidate, password)
	if err != nil {
		return Failed(ReasonInternalError, fmt.Errorf("failed to verify credential: %w", err))
	}
	if !ok {
		return Denied(ReasonInvalidCredentials)
	}

	return Login(candidate)
}

// superAdmin returns the cross-tenant super-admin account for email, or nil
func (a *CredentialAuthenticator) superAdmin(ctx context.Context, email string) (*identity.Account, error) {
	account, err := a.find(ctx, email, identity.AnyTenant)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up super admin: %w", err)
	}
	if !account.IsSuperAdmin() {
		return nil, nil
	}
	return account, nil
}

func (a *CredentialAuthenticator) find(ctx context.Context, email string, scope identity.TenantScope) (*identity.Account, error) {
	ctx, cancel := a.opts.bounded(ctx)
	defer cancel()

	start := time.Now()
	account, err := a.store.FindByEmail(ctx, email, scope)
	a.opts.Metrics.RecordStoreOperation("find_by_email", time.Since(start), ignoreNotFound(err))
	return account, err
}

func (a *CredentialAuthenticator) verify(ctx context.Context, account *identity.Account, password string) (bool, error) {
	ctx, cancel := a.opts.bounded(ctx)
	defer cancel()

	start := time.Now()
	ok, err := a.store.VerifyCredential(ctx, account, password)
	a.opts.Metrics.RecordStoreOperation("verify_credential", time.Since(start), err)
	return ok, err
}

func ignoreNotFound(err error) error {
	if errors.Is(err, identity.ErrNotFound) {
		return nil
	}
	return err
}
