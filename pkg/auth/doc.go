// Package auth decides authentication attempts.
//
// Two entry points share one Outcome type:
//
//   - CredentialAuthenticator handles local email/password sign-in. Super
//     administrators are found across tenants; everyone else is looked up in
//     the tenant resolved from the request host.
//   - FederatedLoginOrchestrator takes the assertion an sso adapter produced,
//     applies the registration policy and materializes the account on first
//     sign-in.
//
// Service binds both to provider adapters and sessions and maps each Outcome
// to a redirect with an optional flash reason code:
//
//	result := svc.Login(ctx, email, password, r.Host, previousToken)
//	if result.Outcome.IsLogin() {
//		session.SetCookie(w, cookieCfg, result.Token)
//	}
//	http.Redirect(w, r, result.Redirect.Location, http.StatusFound)
//
// Collaborator failures never escape as errors. They become an Outcome of
// kind error whose Cause is logged and never shown to the user.
//
// AuditLogger records every decided attempt with the client address and
// request id.
package auth
