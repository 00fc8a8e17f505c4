// Package identity holds the principal record and its persistence.
//
// A principal carries a unique handle, a unique email, a password digest and
// a single refresh slot. The Store exposes read, unconditional overwrite and
// compare-and-swap on that slot; it holds no session policy of its own.
//
// Three Store implementations ship: in-memory (dev/tests), PostgreSQL (pgx)
// and Redis (Lua scripts for atomic slot updates).
package identity
