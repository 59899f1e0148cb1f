// Package middleware provides HTTP middleware for session loading and
// sign-in throttling.
//
// SessionMiddleware resolves the session cookie and stores the session on
// the request context:
//
//	sessions := middleware.NewSessionMiddleware(manager, cookie, logger)
//	router.Use(sessions.Handler)
//	s := middleware.CurrentSession(r.Context())
//
// Throttle limits sign-in attempts per client address, with an in-process
// token bucket or a Redis counter shared by every instance:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.LoginRateLimitConfig(10, 5), "")
//	login = middleware.Throttle(limiter, logger, nil)(login)
package middleware
