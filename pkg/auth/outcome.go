package auth

import (
	"fmt"

	"github.com/platinummonkey/gatehouse/pkg/identity"
)

// Kind tags the variant of an Outcome
type Kind string

const (
	KindLogin                Kind = "login"
	KindPendingApproval      Kind = "pending_approval"
	KindDenied               Kind = "denied"
	KindRedirectToActivation Kind = "redirect_to_activation"
	KindError                Kind = "error"
)

// Reason codes are stable identifiers the caller localizes for the end user
const (
	ReasonInvalidUser        = "invalid_user"
	ReasonInvalidLoginMethod = "invalid_login_method"
	ReasonAccountActivation  = "account_activation"
	ReasonInvalidCredentials = "invalid_credentials"
	ReasonNoInvite           = "registration.invite.no_invite"
	ReasonProviderError      = "omniauth_error"
	ReasonPolicyDenied       = "registration.denied"
	ReasonInvalidTenant      = "invalid_tenant"
	ReasonInternalError      = "internal_error"

	// ReasonApprovalSignup is the notice shown after an approval-gated signup
	ReasonApprovalSignup = "registration.approval.signup"
)

var knownReasons = map[string]bool{
	ReasonInvalidUser:        true,
	ReasonInvalidLoginMethod: true,
	ReasonAccountActivation:  true,
	ReasonInvalidCredentials: true,
	ReasonNoInvite:           true,
	ReasonProviderError:      true,
	ReasonPolicyDenied:       true,
	ReasonInvalidTenant:      true,
	ReasonInternalError:      true,
	ReasonApprovalSignup:     true,
}

// KnownReason reports whether code is a reason code the caller can render
func KnownReason(code string) bool {
	return knownReasons[code]
}

// Outcome is the terminal result of one authentication attempt.
// Cause is for server-side logging only and must never be rendered.
type Outcome struct {
	Kind    Kind
	Reason  string
	Account *identity.Account
	Email   string
	Cause   error
}

// Login grants a session for account
func Login(account *identity.Account) Outcome {
	return Outcome{Kind: KindLogin, Account: account}
}

// PendingApproval reports a first signup that awaits administrator approval
func PendingApproval(account *identity.Account) Outcome {
	return Outcome{Kind: KindPendingApproval, Reason: ReasonApprovalSignup, Account: account}
}

// Denied refuses the attempt with a user-facing reason
func Denied(reason string) Outcome {
	return Outcome{Kind: KindDenied, Reason: reason}
}

// RedirectToActivation sends a local account that has not confirmed its email
// to the activation flow
func RedirectToActivation(email string) Outcome {
	return Outcome{Kind: KindRedirectToActivation, Reason: ReasonAccountActivation, Email: email}
}

// Failed converts an internal failure into an outcome carrying cause
func Failed(reason string, cause error) Outcome {
	return Outcome{Kind: KindError, Reason: reason, Cause: cause}
}

// IsLogin reports whether a session should be established
func (o Outcome) IsLogin() bool {
	return o.Kind == KindLogin && o.Account != nil
}

func (o Outcome) String() string {
	switch {
	case o.Account != nil:
		return fmt.Sprintf("%s(account=%d)", o.Kind, o.Account.ID)
	case o.Reason != "":
		return fmt.Sprintf("%s(%s)", o.Kind, o.Reason)
	default:
		return string(o.Kind)
	}
}
