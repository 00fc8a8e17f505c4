// Package codec issues and verifies the two bearer token kinds.
//
// Access and refresh tokens are signed with distinct secrets and carry
// distinct lifetimes. A token is an opaque string at the HTTP boundary; inside
// it carries {sub, jti, typ, iat, exp}. Two backends are available:
//
//   - jwt (default): HS256 JWT.
//   - paseto: PASETO v4.local (authenticated encryption).
//
// Verification is pure. The caller supplies "now" so that expiry is testable
// and consistent within a request.
package codec
