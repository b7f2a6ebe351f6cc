// Package dedupe provides a time-bounded cache from client idempotency tokens
// to the value recorded when the token was first accepted.
package dedupe
