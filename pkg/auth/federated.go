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
	"github.com/platinummonkey/gatehouse/pkg/notify"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/registration"
)

const flowFederated = "federated"

// TenantResolver maps a request host to a tenant
type TenantResolver interface {
	Resolve(host string) (tenant string, ok bool)
}

// Dispatcher fires post-creation notifications without blocking the caller
type Dispatcher interface {
	Dispatch(ctx context.Context, event notify.Event, account *identity.Account)
}

// FederatedLoginOrchestrator turns a provider assertion into an Outcome
type FederatedLoginOrchestrator struct {
	store    identity.Store
	ledger   identity.InviteLedger
	resolver TenantResolver
	notifier Dispatcher
	opts     Options
}

// NewFederatedLoginOrchestrator wires the orchestrator's collaborators
func NewFederatedLoginOrchestrator(store identity.Store, ledger identity.InviteLedger, resolver TenantResolver, notifier Dispatcher, opts Options) *FederatedLoginOrchestrator {
	return &FederatedLoginOrchestrator{
		store:    store,
		ledger:   ledger,
		resolver: resolver,
		notifier: notifier,
		opts:     opts.withDefaults(),
	}
}

// HandleCallback decides a federated sign-in. Collaborator failures become
// Error(omniauth_error) with the cause attached; the only mutation is the
// atomic account creation.
func (o *FederatedLoginOrchestrator) HandleCallback(ctx context.Context, assertion identity.Assertion, requestHost, inviteToken string) (outcome Outcome) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "FederatedLoginOrchestrator.HandleCallback",
		trace.WithAttributes(
			attribute.String("provider", assertion.ProviderID),
			attribute.String("policy", string(o.opts.Policy)),
		),
	)
	defer span.End()

	defer func() {
		if err := observability.MustRecover(recover()); err != nil {
			outcome = Failed(ReasonProviderError, err)
		}
		span.SetAttributes(attribute.String("outcome", string(outcome.Kind)))
		if outcome.Kind == KindError {
			span.RecordError(outcome.Cause)
			span.SetStatus(codes.Error, outcome.Reason)
		}
		o.opts.record(ctx, flowFederated, outcome, start)
	}()

	return o.handle(ctx, assertion, requestHost, inviteToken)
}

// HandleProviderError converts an adapter failure into the provider error outcome
func (o *FederatedLoginOrchestrator) HandleProviderError(ctx context.Context, provider string, err error) Outcome {
	start := time.Now()
	if err == nil {
		err = errors.New("provider reported failure")
	}
	o.opts.Metrics.RecordProviderError(provider)

	outcome := Failed(ReasonProviderError, fmt.Errorf("provider %s: %w", provider, err))
	o.opts.record(ctx, flowFederated, outcome, start)
	return outcome
}

func (o *FederatedLoginOrchestrator) handle(ctx context.Context, assertion identity.Assertion, requestHost, inviteToken string) Outcome {
	// Multi-tenant deployments scope provider ids by tenant so each tenant
	// keeps its own accounts under the same base provider.
	scope, tenant := assertion.ProviderID, ""
	if o.opts.MultiTenant {
		resolved, ok := o.resolver.Resolve(requestHost)
		if !ok {
			return Denied(ReasonInvalidTenant)
		}
		scope, tenant = resolved, resolved
	}

	if assertion.ExternalUID == "" {
		return Failed(ReasonProviderError, fmt.Errorf("assertion from %s has no external uid", assertion.ProviderID))
	}

	userExists, err := o.exists(ctx, scope, assertion.ExternalUID)
	if err != nil {
		return Failed(ReasonProviderError, err)
	}

	inviteAccepted := false
	if !userExists && o.opts.Policy.RequiresInvite() {
		// Invitations are matched on token and tenant only; the email is
		// deliberately left empty.
		inviteAccepted, err = o.invited(ctx, inviteToken, tenant)
		if err != nil {
			return Failed(ReasonProviderError, err)
		}
	}

	decision := registration.Decide(o.opts.Policy, userExists, inviteAccepted)
	if decision == registration.Deny {
		if o.opts.Policy.RequiresInvite() {
			return Denied(ReasonNoInvite)
		}
		return Denied(ReasonPolicyDenied)
	}

	roles := []identity.Role{identity.RoleUser}
	if decision == registration.ProceedAsPendingApproval {
		roles = append(roles, identity.RolePending)
	}

	account, created, err := o.create(ctx, assertion, scope, tenant, roles)
	if err != nil {
		return Failed(ReasonProviderError, err)
	}
	if created {
		o.opts.Metrics.RecordProvisioned(assertion.ProviderID, string(o.opts.Policy))
	}

	// Returning accounts stay gated until an administrator removes the role
	if userExists && account.HasRole(identity.RolePending) {
		return PendingApproval(account)
	}

	if !userExists {
		switch decision {
		case registration.ProceedAsPendingApproval:
			o.notify(ctx, created, notify.EventAdminPendingSignup, account)
			return PendingApproval(account)
		case registration.ProceedAsOpenSignup:
			if o.opts.Policy.RequiresInvite() {
				o.notify(ctx, created, notify.EventUserInvited, account)
			}
		}
	}

	return Login(account)
}

// notify dispatches event once per created account when notifications are on
func (o *FederatedLoginOrchestrator) notify(ctx context.Context, created bool, event notify.Event, account *identity.Account) {
	if !o.opts.NotificationsEnabled || !created || o.notifier == nil {
		return
	}
	o.notifier.Dispatch(ctx, event, account)
}

func (o *FederatedLoginOrchestrator) exists(ctx context.Context, providerID, externalUID string) (bool, error) {
	ctx, cancel := o.opts.bounded(ctx)
	defer cancel()

	start := time.Now()
	_, err := o.store.FindByExternalID(ctx, providerID, externalUID)
	o.opts.Metrics.RecordStoreOperation("find_by_external_id", time.Since(start), ignoreNotFound(err))

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, identity.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("failed to look up external identity: %w", err)
	}
}

func (o *FederatedLoginOrchestrator) invited(ctx context.Context, token, tenant string) (bool, error) {
	if o.ledger == nil {
		return false, nil
	}

	ctx, cancel := o.opts.bounded(ctx)
	defer cancel()

	invitation, err := o.ledger.Check(ctx, "", token, tenant)
	if err != nil {
		return false, fmt.Errorf("failed to check invitation: %w", err)
	}
	return invitation.Present, nil
}

func (o *FederatedLoginOrchestrator) create(ctx context.Context, assertion identity.Assertion, scope, tenant string, roles []identity.Role) (*identity.Account, bool, error) {
	ctx, cancel := o.opts.bounded(ctx)
	defer cancel()

	start := time.Now()
	account, created, err := o.store.Create(ctx, assertion, scope, tenant, roles...)
	o.opts.Metrics.RecordStoreOperation("create", time.Since(start), err)
	if err != nil {
		return nil, false, fmt.Errorf("failed to materialize account: %w", err)
	}
	return account, created, nil
}
