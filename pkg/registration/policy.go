package registration

import (
	"fmt"
	"strings"
)

// Policy is the process-wide registration policy
type Policy string

const (
	PolicyOpen     Policy = "open"     // Anyone may sign up
	PolicyInvite   Policy = "invite"   // New accounts need an outstanding invitation
	PolicyApproval Policy = "approval" // New accounts wait for administrator approval
)

// ParsePolicy parses a configured policy name
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open", "":
		return PolicyOpen, nil
	case "invite", "invite-required", "invite_registration":
		return PolicyInvite, nil
	case "approval", "approval-required", "approval_registration":
		return PolicyApproval, nil
	default:
		return "", fmt.Errorf("unknown registration policy %q (must be open, invite, or approval)", s)
	}
}

// Decision is the outcome of evaluating the policy for one sign-in
type Decision int

const (
	Deny Decision = iota
	ProceedAsReturning
	ProceedAsOpenSignup
	ProceedAsPendingApproval
)

func (d Decision) String() string {
	switch d {
	case ProceedAsReturning:
		return "returning"
	case ProceedAsOpenSignup:
		return "open_signup"
	case ProceedAsPendingApproval:
		return "pending_approval"
	default:
		return "deny"
	}
}

// Decide evaluates the registration table. inviteAccepted only matters for
// PolicyInvite on a first-time sign-in.
func Decide(policy Policy, userExists, inviteAccepted bool) Decision {
	if userExists {
		return ProceedAsReturning
	}

	switch policy {
	case PolicyOpen:
		return ProceedAsOpenSignup
	case PolicyInvite:
		if inviteAccepted {
			return ProceedAsOpenSignup
		}
		return Deny
	case PolicyApproval:
		return ProceedAsPendingApproval
	default:
		return Deny
	}
}

// RequiresInvite reports whether a first-time sign-in must present an invitation
func (p Policy) RequiresInvite() bool {
	return p == PolicyInvite
}
