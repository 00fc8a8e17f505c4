// Package password hashes and verifies principal passwords.
//
// Digests are self-contained PHC-style strings, so a stored digest always
// carries the algorithm and cost it was produced with:
//   - Argon2id (default): $argon2id$v=19$m=<mem>,t=<iter>,p=<par>$<salt>$<hash>
//   - bcrypt: $2a$ / $2b$ / $2y$ digests from golang.org/x/crypto/bcrypt
//
// Verification treats the digest as untrusted input. Malformed or unsupported
// digests, and Argon2 digests whose cost exceeds the configured cost by a
// large margin, fail with ErrInvalidHash.
//
// Hasher runs all hashing through a bounded pool so that concurrent logins
// cannot monopolize every CPU of the process.
package password
