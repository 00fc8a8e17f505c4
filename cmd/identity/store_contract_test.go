package identity

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// runStoreContract exercises the Store contract against any implementation.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Helper()

	t.Run("CreateAndLookup", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, err := s.CreatePrincipal(ctx, CreatePrincipalInput{
			Handle:       "  Alice ",
			Email:        "Alice@Example.com",
			PasswordHash: "$argon2id$stub",
			Now:          time.Unix(1_700_000_000, 0),
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if len(p.ID) != 26 {
			t.Fatalf("expected ULID id, got %q", p.ID)
		}
		if p.Handle != "Alice" || p.HandleNorm != "alice" || p.EmailNorm != "alice@example.com" {
			t.Fatalf("unexpected normalization: %+v", p)
		}
		if p.RefreshDigest != "" {
			t.Fatalf("new principal must have an empty slot")
		}

		byID, err := s.GetByID(ctx, p.ID)
		if err != nil {
			t.Fatalf("get by id: %v", err)
		}
		if byID.Handle != "Alice" || byID.PasswordHash != "$argon2id$stub" || !byID.CreatedAt.Equal(p.CreatedAt) {
			t.Fatalf("get by id mismatch: %+v", byID)
		}

		for _, ident := range []string{"alice", "ALICE", " Alice ", "alice@example.com", "ALICE@EXAMPLE.COM"} {
			got, err := s.GetByIdentifier(ctx, ident)
			if err != nil {
				t.Fatalf("get by identifier %q: %v", ident, err)
			}
			if got.ID != p.ID {
				t.Fatalf("identifier %q resolved to %q", ident, got.ID)
			}
		}
	})

	t.Run("Conflicts", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if _, err := s.CreatePrincipal(ctx, CreatePrincipalInput{Handle: "Navid", Email: "navid@example.com", PasswordHash: "h"}); err != nil {
			t.Fatalf("create: %v", err)
		}

		_, err := s.CreatePrincipal(ctx, CreatePrincipalInput{Handle: "nAvId", Email: "other@example.com", PasswordHash: "h"})
		if !IsConflict(err) || ConflictField(err) != "handle" {
			t.Fatalf("expected handle conflict, got %v", err)
		}

		_, err = s.CreatePrincipal(ctx, CreatePrincipalInput{Handle: "other", Email: "NAVID@example.COM", PasswordHash: "h"})
		if !IsConflict(err) || ConflictField(err) != "email" {
			t.Fatalf("expected email conflict, got %v", err)
		}
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("conflict must unwrap to ErrConflict")
		}

		// A failed create must not leave index entries behind.
		if _, err := s.GetByIdentifier(ctx, "other"); !IsNotFound(err) {
			t.Fatalf("expected not found for rejected handle, got %v", err)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		cases := []CreatePrincipalInput{
			{Handle: "", Email: "a@b.c", PasswordHash: "h"},
			{Handle: "a@b", Email: "a@b.c", PasswordHash: "h"},
			{Handle: "two words", Email: "a@b.c", PasswordHash: "h"},
			{Handle: "ok", Email: "", PasswordHash: "h"},
			{Handle: "ok", Email: "no-at-sign", PasswordHash: "h"},
			{Handle: "ok", Email: "a@b.c", PasswordHash: " "},
		}
		for _, in := range cases {
			if _, err := s.CreatePrincipal(ctx, in); !IsInvalidInput(err) {
				t.Fatalf("create %+v: expected invalid input, got %v", in, err)
			}
		}

		if _, err := s.GetByID(ctx, " "); !IsInvalidInput(err) {
			t.Fatalf("expected invalid input for empty id, got %v", err)
		}
		if _, err := s.GetByIdentifier(ctx, ""); !IsInvalidInput(err) {
			t.Fatalf("expected invalid input for empty identifier, got %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		missing := "01HZZZZZZZZZZZZZZZZZZZZZZZ"

		if _, err := s.GetByID(ctx, missing); !IsNotFound(err) {
			t.Fatalf("GetByID: expected not found, got %v", err)
		}
		if _, err := s.GetByIdentifier(ctx, "ghost"); !IsNotFound(err) {
			t.Fatalf("GetByIdentifier: expected not found, got %v", err)
		}
		if err := s.SetRefreshDigest(ctx, missing, "d", time.Now()); !IsNotFound(err) {
			t.Fatalf("SetRefreshDigest: expected not found, got %v", err)
		}
		if err := s.SwapRefreshDigest(ctx, missing, "a", "b", time.Now()); !IsNotFound(err) {
			t.Fatalf("SwapRefreshDigest: expected not found, got %v", err)
		}
	})

	t.Run("RefreshSlot", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, err := s.CreatePrincipal(ctx, CreatePrincipalInput{Handle: "slot", Email: "slot@example.com", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}

		if err := s.SetRefreshDigest(ctx, p.ID, "d1", time.Now()); err != nil {
			t.Fatalf("set: %v", err)
		}
		mustSlot(t, s, p.ID, "d1")

		// Unconditional overwrite.
		if err := s.SetRefreshDigest(ctx, p.ID, "d2", time.Now()); err != nil {
			t.Fatalf("set: %v", err)
		}
		mustSlot(t, s, p.ID, "d2")

		// Mismatch leaves the slot untouched.
		if err := s.SwapRefreshDigest(ctx, p.ID, "d1", "d3", time.Now()); !IsStale(err) {
			t.Fatalf("expected stale, got %v", err)
		}
		mustSlot(t, s, p.ID, "d2")

		if err := s.SwapRefreshDigest(ctx, p.ID, "d2", "d3", time.Now()); err != nil {
			t.Fatalf("swap: %v", err)
		}
		mustSlot(t, s, p.ID, "d3")

		if err := s.SwapRefreshDigest(ctx, p.ID, "", "d4", time.Now()); !IsInvalidInput(err) {
			t.Fatalf("expected invalid input for empty expected, got %v", err)
		}

		// Clear, then nothing can swap.
		if err := s.SetRefreshDigest(ctx, p.ID, "", time.Now()); err != nil {
			t.Fatalf("clear: %v", err)
		}
		mustSlot(t, s, p.ID, "")
		if err := s.SwapRefreshDigest(ctx, p.ID, "d3", "d5", time.Now()); !IsStale(err) {
			t.Fatalf("expected stale after clear, got %v", err)
		}
		mustSlot(t, s, p.ID, "")
	})

	t.Run("ConcurrentSwapHasOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		p, err := s.CreatePrincipal(ctx, CreatePrincipalInput{Handle: "race", Email: "race@example.com", PasswordHash: "h"})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if err := s.SetRefreshDigest(ctx, p.ID, "seed", time.Now()); err != nil {
			t.Fatalf("set: %v", err)
		}

		const n = 16
		var (
			wg      sync.WaitGroup
			wins    atomic.Int32
			stales  atomic.Int32
			start   = make(chan struct{})
			unknown = make(chan error, n)
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				err := s.SwapRefreshDigest(ctx, p.ID, "seed", "next-"+string(rune('a'+i)), time.Now())
				switch {
				case err == nil:
					wins.Add(1)
				case IsStale(err):
					stales.Add(1)
				default:
					unknown <- err
				}
			}(i)
		}
		close(start)
		wg.Wait()
		close(unknown)

		for err := range unknown {
			t.Fatalf("unexpected swap error: %v", err)
		}
		if wins.Load() != 1 || stales.Load() != n-1 {
			t.Fatalf("expected exactly one winner, got wins=%d stales=%d", wins.Load(), stales.Load())
		}
	})
}

func mustSlot(t *testing.T, s Store, id, want string) {
	t.Helper()

	p, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.RefreshDigest != want {
		t.Fatalf("slot: got %q want %q", p.RefreshDigest, want)
	}
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_HonorsCanceledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.GetByID(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPrincipal_ProfileOmitsSecrets(t *testing.T) {
	p := Principal{
		ID:            "01HZ",
		Handle:        "alice",
		Email:         "alice@example.com",
		PasswordHash:  "secret-hash",
		RefreshDigest: "secret-digest",
		CreatedAt:     time.Unix(1_700_000_000, 0),
	}
	pr := p.Profile()
	if pr.ID != p.ID || pr.Handle != p.Handle || pr.Email != p.Email || !pr.CreatedAt.Equal(p.CreatedAt) {
		t.Fatalf("profile mismatch: %+v", pr)
	}
}
