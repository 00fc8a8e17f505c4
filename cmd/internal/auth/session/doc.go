// Package session coordinates login, refresh rotation, logout and access
// authentication.
//
// Each principal has one refresh slot. Login overwrites it; refresh replaces
// it through a compare-and-swap on the store, so of two concurrent refreshes
// presenting the same token at most one succeeds and the other observes
// TokenReuse. A refresh token that no longer matches the slot is never
// accepted again and the slot is left as is.
//
// Transport concerns (cookies, JSON, status codes) live in the api package;
// this package only returns *Error values carrying a kind.
package session
