package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// Notes:
//   - The pgx pool is owned by the caller; this store must NOT close it.
//   - Schema identifiers are quoted to avoid SQL injection via identifiers.
//   - SwapRefreshDigest is a single conditional UPDATE; row-level locking
//     makes concurrent swaps on one principal serialize, and at most one wins.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "voir").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "voir",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const pgPrincipalColumns = `id, handle, handle_norm, email, email_norm, password_hash,
       COALESCE(refresh_digest, ''), created_at, updated_at`

func (s *PostgresStore) table() string { return pgIdent(s.schema, "principals") }

func (s *PostgresStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	p, err := in.normalized(op)
	if err != nil {
		return Principal{}, err
	}
	id, err := NewULID(p.CreatedAt)
	if err != nil {
		return Principal{}, err
	}
	p.ID = id

	_, err = s.pool.Exec(ctx,
		`INSERT INTO `+s.table()+` (
		     id, handle, handle_norm, email, email_norm, password_hash, created_at, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		p.ID, p.Handle, p.HandleNorm, p.Email, p.EmailNorm, p.PasswordHash, p.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Principal{}, ConflictError{Op: op, Field: field}
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.GetByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, invalid(op, "missing id")
	}
	return s.getOne(ctx, op, `SELECT `+pgPrincipalColumns+` FROM `+s.table()+` WHERE id = $1`, id)
}

func (s *PostgresStore) GetByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	const op = "identity.GetByIdentifier"

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Principal{}, invalid(op, "missing identifier")
	}
	if IsEmailIdentifier(identifier) {
		return s.getOne(ctx, op,
			`SELECT `+pgPrincipalColumns+` FROM `+s.table()+` WHERE email_norm = $1`,
			NormalizeEmail(identifier))
	}
	return s.getOne(ctx, op,
		`SELECT `+pgPrincipalColumns+` FROM `+s.table()+` WHERE handle_norm = $1`,
		NormalizeHandle(identifier))
}

func (s *PostgresStore) getOne(ctx context.Context, op, query string, arg string) (Principal, error) {
	var p Principal
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&p.ID,
		&p.Handle,
		&p.HandleNorm,
		&p.Email,
		&p.EmailNorm,
		&p.PasswordHash,
		&p.RefreshDigest,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, notFound(op)
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

func (s *PostgresStore) SetRefreshDigest(ctx context.Context, id, digest string, now time.Time) error {
	const op = "identity.SetRefreshDigest"

	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET refresh_digest = NULLIF($2, ''), updated_at = $3
		  WHERE id = $1`,
		id, digest, orNow(now),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return notFound(op)
	}
	return nil
}

func (s *PostgresStore) SwapRefreshDigest(ctx context.Context, id, expected, next string, now time.Time) error {
	const op = "identity.SwapRefreshDigest"

	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}
	if expected == "" {
		return invalid(op, "expected digest is required")
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.table()+`
		    SET refresh_digest = NULLIF($3, ''), updated_at = $4
		  WHERE id = $1 AND refresh_digest = $2`,
		id, expected, next, orNow(now),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the principal is gone or the slot moved on.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !exists {
		return notFound(op)
	}
	return stale()
}

// ---- helpers ----

// pgIdent safely quotes a schema-qualified identifier: "schema"."name".
func pgIdent(schema, name string) string {
	return pgx.Identifier{schema, name}.Sanitize()
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	// Prefer stable constraint names, fall back to substring matching.
	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch c {
	case "uq_principals_handle_norm":
		return "handle", true
	case "uq_principals_email_norm":
		return "email", true
	default:
		switch {
		case strings.Contains(c, "handle"):
			return "handle", true
		case strings.Contains(c, "email"):
			return "email", true
		default:
			return "unique", true
		}
	}
}
