// Package token digests refresh tokens for server-side storage.
//
// A principal's refresh slot never holds a raw token. It holds a 64-char hex
// digest: HMAC-SHA256(token, key) when a key is configured, plain SHA-256
// otherwise (dev only). Production startup requires the keyed mode.
package token
