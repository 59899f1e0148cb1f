// Package registration encodes the self-service registration policies as a
// pure decision table, kept apart from the I/O of the login paths.
//
// Decide maps the policy, whether the account already exists and whether a
// valid invitation was presented to a Decision:
//
//	policy    account          decision
//	any       existing         ProceedAsReturning
//	open      new              ProceedAsOpenSignup
//	invite    new, invited     ProceedAsOpenSignup
//	invite    new, uninvited   Deny
//	approval  new              ProceedAsPendingApproval
//
// Unknown policies deny. A returning account that still holds the pending
// role is kept out by the login path, not by this table.
package registration
