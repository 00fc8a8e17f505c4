package realtime

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"voir/cmd/internal/auth/session"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHub_AttachDetach(t *testing.T) {
	h := newTestHub()
	a1 := NewClient("c1", "alice", 4)
	a2 := NewClient("c2", "alice", 4)
	b := NewClient("c3", "bob", 4)

	h.Attach(a1)
	h.Attach(a2)
	h.Attach(b)
	h.Attach(a1)
	h.Attach(NewClient("", "alice", 4))
	if h.Count() != 3 {
		t.Fatalf("count=%d want 3", h.Count())
	}

	h.Detach(a1)
	h.Detach(a1)
	if h.Count() != 2 {
		t.Fatalf("count=%d want 2", h.Count())
	}
	select {
	case <-a1.Done():
	default:
		t.Fatalf("detached client was not closed")
	}
}

func TestHub_PublishFansOutPerPrincipal(t *testing.T) {
	h := newTestHub()
	a1 := NewClient("c1", "alice", 4)
	a2 := NewClient("c2", "alice", 4)
	b := NewClient("c3", "bob", 4)
	h.Attach(a1)
	h.Attach(a2)
	h.Attach(b)

	h.Publish(session.Event{Type: session.EventRotated, PrincipalID: "alice", At: time.Now()})

	for _, c := range []*Client{a1, a2} {
		select {
		case m := <-c.send:
			if m.env.Type != TypeSessionEvent || m.closeAfter {
				t.Fatalf("unexpected outbound %+v", m)
			}
		default:
			t.Fatalf("%s did not receive the event", c.ID)
		}
	}
	select {
	case m := <-b.send:
		t.Fatalf("bob received alice's event: %+v", m)
	default:
	}
}

func TestHub_TerminalMarksCloseAfter(t *testing.T) {
	h := newTestHub()
	c := NewClient("c1", "alice", 4)
	h.Attach(c)

	h.Publish(session.Event{Type: session.EventReuseDetected, PrincipalID: "alice", At: time.Now()})

	m := <-c.send
	if !m.closeAfter {
		t.Fatalf("terminal event must close the feed after delivery")
	}
}

func TestHub_FullQueue(t *testing.T) {
	h := newTestHub()
	c := NewClient("c1", "alice", 1)
	h.Attach(c)

	h.Publish(session.Event{Type: session.EventRotated, PrincipalID: "alice", At: time.Now()})
	// Queue is full: a second rotation is dropped, the client stays open.
	h.Publish(session.Event{Type: session.EventRotated, PrincipalID: "alice", At: time.Now()})
	select {
	case <-c.Done():
		t.Fatalf("non-terminal overflow must not close the client")
	default:
	}

	// A terminal event that cannot be queued closes the client.
	h.Publish(session.Event{Type: session.EventRevoked, PrincipalID: "alice", At: time.Now()})
	select {
	case <-c.Done():
	default:
		t.Fatalf("terminal overflow must close the client")
	}
}

func TestHub_NilSafe(t *testing.T) {
	var h *Hub
	h.Attach(NewClient("c", "p", 1))
	h.Detach(nil)
	h.Publish(session.Event{Type: session.EventRevoked, PrincipalID: "p"})
	if h.Count() != 0 {
		t.Fatalf("nil hub count")
	}
}

func TestFrameLimiter_Window(t *testing.T) {
	fl := NewFrameLimiter(2, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	if !fl.Allow("p1", t0) || !fl.Allow("p1", t0.Add(100*time.Millisecond)) {
		t.Fatalf("first two frames must pass")
	}
	if fl.Allow("p1", t0.Add(200*time.Millisecond)) {
		t.Fatalf("third frame within window must be rejected")
	}
	if !fl.Allow("p1", t0.Add(1100*time.Millisecond)) {
		t.Fatalf("frame after the window must pass")
	}
}

func TestFrameLimiter_BudgetIsPerPrincipal(t *testing.T) {
	fl := NewFrameLimiter(2, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	// Two sockets of the same principal draw from one budget.
	if !fl.Allow("alice", t0) || !fl.Allow("alice", t0.Add(time.Millisecond)) {
		t.Fatalf("alice's first two frames must pass")
	}
	if fl.Allow("alice", t0.Add(2*time.Millisecond)) {
		t.Fatalf("alice must not gain budget from a second socket")
	}

	if !fl.Allow("bob", t0.Add(3*time.Millisecond)) {
		t.Fatalf("bob must not be charged for alice's frames")
	}
}

func TestFrameLimiter_ForgetsIdlePrincipals(t *testing.T) {
	fl := NewFrameLimiter(1, time.Second)
	t0 := time.Unix(1_700_000_000, 0)

	for _, id := range []string{"a", "b", "c"} {
		if !fl.Allow(id, t0) {
			t.Fatalf("%s: first frame must pass", id)
		}
	}
	if got := fl.tracked(); got != 3 {
		t.Fatalf("tracked=%d want 3", got)
	}

	if !fl.Allow("d", t0.Add(2*time.Second)) {
		t.Fatalf("d: first frame must pass")
	}
	if got := fl.tracked(); got != 1 {
		t.Fatalf("idle principals not swept: tracked=%d want 1", got)
	}
}

func TestNewFrameLimiter_Defaults(t *testing.T) {
	fl := NewFrameLimiter(0, 0)
	if fl.limit != rateLimitEvents || fl.window != rateLimitWindow {
		t.Fatalf("defaults not applied: limit=%d window=%s", fl.limit, fl.window)
	}
}
