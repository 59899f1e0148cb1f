// Package api binds the gatehouse authentication service to HTTP.
//
// Routes, all under the configured relative URL root:
//
//	POST     /users/login              local email/password sign-in
//	GET      /users/logout             terminate the session
//	GET      /auth/{provider}          begin provider authentication
//	GET|POST /auth/{provider}/callback complete provider authentication
//	GET|POST /auth/failure             provider reported failure
//	GET      /auth/providers           enabled providers
//	GET      /auth/session             signed-in account and pending flash
//	GET      /auth/saml/metadata       SAML service provider metadata
//
// Every attempt ends in a 302 redirect. The reason code of a denied or failed
// attempt travels in the gatehouse_flash cookie; the Outcome's Cause is only
// logged.
//
// Sign-in throttling keys on the connection's remote address. Set
// Config.TrustedProxies when the server sits behind a load balancer so the
// forwarded client address is used instead.
package api
