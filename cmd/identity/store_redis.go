package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store over Redis.
//
// Layout (prefix "voir" by default):
//
//	<prefix>:principal:<id>            hash with the principal fields
//	<prefix>:principal:handle:<norm>   string -> id
//	<prefix>:principal:email:<norm>    string -> id
//
// Every write runs as a Lua script, so uniqueness checks and the slot
// compare-and-swap are atomic on the server.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

// RedisOption configures the store.
type RedisOption func(*RedisStore)

// WithKeyPrefix overrides the key namespace.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if p := strings.TrimSpace(prefix); p != "" {
			s.prefix = p
		}
	}
}

// NewRedisStore constructs a RedisStore. The client is owned by the caller.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if rdb == nil {
		return nil, fmt.Errorf("identity: nil redis client")
	}
	s := &RedisStore{rdb: rdb, prefix: "voir"}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// KEYS: principal, handle index, email index.
// ARGV: id, handle, handle_norm, email, email_norm, password_hash, created_at.
// Returns 0 ok, 1 handle taken, 2 email taken.
var redisCreateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then return 1 end
if redis.call('EXISTS', KEYS[3]) == 1 then return 2 end
redis.call('HSET', KEYS[1],
  'id', ARGV[1], 'handle', ARGV[2], 'handle_norm', ARGV[3],
  'email', ARGV[4], 'email_norm', ARGV[5], 'password_hash', ARGV[6],
  'refresh_digest', '', 'created_at', ARGV[7], 'updated_at', ARGV[7])
redis.call('SET', KEYS[2], ARGV[1])
redis.call('SET', KEYS[3], ARGV[1])
return 0
`)

// KEYS: principal. ARGV: digest, updated_at.
// Returns 1 written, 0 missing principal.
var redisSetDigestScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
redis.call('HSET', KEYS[1], 'refresh_digest', ARGV[1], 'updated_at', ARGV[2])
return 1
`)

// KEYS: principal. ARGV: expected, next, updated_at.
// Returns 1 swapped, 0 mismatch, -1 missing principal.
var redisSwapDigestScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
local cur = redis.call('HGET', KEYS[1], 'refresh_digest')
if (not cur) or cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'refresh_digest', ARGV[2], 'updated_at', ARGV[3])
return 1
`)

func (s *RedisStore) principalKey(id string) string {
	return s.prefix + ":principal:" + id
}

func (s *RedisStore) handleKey(norm string) string {
	return s.prefix + ":principal:handle:" + norm
}

func (s *RedisStore) emailKey(norm string) string {
	return s.prefix + ":principal:email:" + norm
}

func (s *RedisStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
	const op = "identity.CreatePrincipal"

	p, err := in.normalized(op)
	if err != nil {
		return Principal{}, err
	}
	id, err := NewULID(p.CreatedAt)
	if err != nil {
		return Principal{}, err
	}
	p.ID = id

	res, err := redisCreateScript.Run(ctx, s.rdb,
		[]string{s.principalKey(p.ID), s.handleKey(p.HandleNorm), s.emailKey(p.EmailNorm)},
		p.ID, p.Handle, p.HandleNorm, p.Email, p.EmailNorm, p.PasswordHash,
		p.CreatedAt.Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	switch res {
	case 0:
		return p, nil
	case 1:
		return Principal{}, ConflictError{Op: op, Field: "handle"}
	default:
		return Principal{}, ConflictError{Op: op, Field: "email"}
	}
}

func (s *RedisStore) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.GetByID"

	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, invalid(op, "missing id")
	}
	return s.load(ctx, op, id)
}

func (s *RedisStore) GetByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	const op = "identity.GetByIdentifier"

	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Principal{}, invalid(op, "missing identifier")
	}

	key := s.handleKey(NormalizeHandle(identifier))
	if IsEmailIdentifier(identifier) {
		key = s.emailKey(NormalizeEmail(identifier))
	}

	id, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Principal{}, notFound(op)
		}
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	return s.load(ctx, op, id)
}

func (s *RedisStore) load(ctx context.Context, op, id string) (Principal, error) {
	m, err := s.rdb.HGetAll(ctx, s.principalKey(id)).Result()
	if err != nil {
		return Principal{}, fmt.Errorf("%s: %w", op, err)
	}
	if len(m) == 0 {
		return Principal{}, notFound(op)
	}

	created, err := time.Parse(time.RFC3339Nano, m["created_at"])
	if err != nil {
		return Principal{}, fmt.Errorf("%s: created_at: %w", op, err)
	}
	updated, err := time.Parse(time.RFC3339Nano, m["updated_at"])
	if err != nil {
		return Principal{}, fmt.Errorf("%s: updated_at: %w", op, err)
	}

	return Principal{
		ID:            m["id"],
		Handle:        m["handle"],
		HandleNorm:    m["handle_norm"],
		Email:         m["email"],
		EmailNorm:     m["email_norm"],
		PasswordHash:  m["password_hash"],
		RefreshDigest: m["refresh_digest"],
		CreatedAt:     created,
		UpdatedAt:     updated,
	}, nil
}

func (s *RedisStore) SetRefreshDigest(ctx context.Context, id, digest string, now time.Time) error {
	const op = "identity.SetRefreshDigest"

	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}

	res, err := redisSetDigestScript.Run(ctx, s.rdb,
		[]string{s.principalKey(id)},
		digest, orNow(now).Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res == 0 {
		return notFound(op)
	}
	return nil
}

func (s *RedisStore) SwapRefreshDigest(ctx context.Context, id, expected, next string, now time.Time) error {
	const op = "identity.SwapRefreshDigest"

	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}
	if expected == "" {
		return invalid(op, "expected digest is required")
	}

	res, err := redisSwapDigestScript.Run(ctx, s.rdb,
		[]string{s.principalKey(id)},
		expected, next, orNow(now).Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch res {
	case 1:
		return nil
	case -1:
		return notFound(op)
	default:
		return stale()
	}
}
