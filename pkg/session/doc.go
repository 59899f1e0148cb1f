// Package session manages server-side login sessions.
//
// A session token is 32 random bytes, base64url encoded with a "ghs_" prefix.
// Only the token's SHA-256 is used as the store key, so a leaked store does
// not leak usable cookies.
//
// Establish always invalidates the caller's previous session before issuing a
// new token. Two stores are provided: RedisStore for multi-instance
// deployments and MemoryStore, a bounded LRU purged on a cron schedule.
package session
