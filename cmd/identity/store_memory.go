package identity

import (
	"context"
	"crypto/subtle"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
// A single mutex serializes all writes, which makes the slot swap atomic.
type MemoryStore struct {
	mu       sync.RWMutex
	byID     map[string]*Principal
	byHandle map[string]string
	byEmail  map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:     make(map[string]*Principal),
		byHandle: make(map[string]string),
		byEmail:  make(map[string]string),
	}
}

func (s *MemoryStore) CreatePrincipal(ctx context.Context, in CreatePrincipalInput) (Principal, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHandle[p.HandleNorm]; ok {
		return Principal{}, ConflictError{Op: op, Field: "handle"}
	}
	if _, ok := s.byEmail[p.EmailNorm]; ok {
		return Principal{}, ConflictError{Op: op, Field: "email"}
	}

	stored := p
	s.byID[p.ID] = &stored
	s.byHandle[p.HandleNorm] = p.ID
	s.byEmail[p.EmailNorm] = p.ID
	return p, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (Principal, error) {
	const op = "identity.GetByID"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Principal{}, invalid(op, "missing id")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.byID[id]
	if !ok {
		return Principal{}, notFound(op)
	}
	return *p, nil
}

func (s *MemoryStore) GetByIdentifier(ctx context.Context, identifier string) (Principal, error) {
	const op = "identity.GetByIdentifier"

	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return Principal{}, invalid(op, "missing identifier")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		id string
		ok bool
	)
	if IsEmailIdentifier(identifier) {
		id, ok = s.byEmail[NormalizeEmail(identifier)]
	} else {
		id, ok = s.byHandle[NormalizeHandle(identifier)]
	}
	if !ok {
		return Principal{}, notFound(op)
	}
	return *s.byID[id], nil
}

func (s *MemoryStore) SetRefreshDigest(ctx context.Context, id, digest string, now time.Time) error {
	const op = "identity.SetRefreshDigest"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	p.RefreshDigest = digest
	p.UpdatedAt = orNow(now)
	return nil
}

func (s *MemoryStore) SwapRefreshDigest(ctx context.Context, id, expected, next string, now time.Time) error {
	const op = "identity.SwapRefreshDigest"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return invalid(op, "missing id")
	}
	if expected == "" {
		return invalid(op, "expected digest is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[id]
	if !ok {
		return notFound(op)
	}
	if subtle.ConstantTimeCompare([]byte(p.RefreshDigest), []byte(expected)) != 1 {
		return stale()
	}
	p.RefreshDigest = next
	p.UpdatedAt = orNow(now)
	return nil
}
