package hub

import (
	"sync"
	"testing"
)

type nopConn struct{ id int }

func (c *nopConn) WriteJSON(v interface{}) error { return nil }
func (c *nopConn) Close() error                  { return nil }

func TestRegistryMultiDevice(t *testing.T) {
	r := NewRegistry()
	c1 := &nopConn{id: 1}
	c2 := &nopConn{id: 2}

	r.Register(c1, "alice")
	r.Register(c2, "alice")

	conns := r.ConnectionsFor("alice")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections for alice, got %d", len(conns))
	}
	if r.ActiveUsers() != 1 {
		t.Fatalf("expected 1 active user, got %d", r.ActiveUsers())
	}

	r.Unregister(c1)
	if got := len(r.ConnectionsFor("alice")); got != 1 {
		t.Fatalf("expected 1 connection after unregister, got %d", got)
	}

	r.Unregister(c2)
	if r.ActiveUsers() != 0 {
		t.Fatalf("expected user entry removed once its set empties, got %d active", r.ActiveUsers())
	}
}

func TestRegistryUnknownConnIgnored(t *testing.T) {
	r := NewRegistry()
	r.Unregister(&nopConn{id: 9})

	if got := len(r.ConnectionsFor("nobody")); got != 0 {
		t.Fatalf("expected no connections, got %d", got)
	}
}

func TestRegistryReverseLookup(t *testing.T) {
	r := NewRegistry()
	c := &nopConn{id: 1}
	r.Register(c, "alice")

	userID, ok := r.UserFor(c)
	if !ok || userID != "alice" {
		t.Fatalf("expected reverse lookup to yield alice, got %q ok=%v", userID, ok)
	}

	r.Unregister(c)
	if _, ok := r.UserFor(c); ok {
		t.Fatal("expected reverse entry removed with the connection")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry()
	c1 := &nopConn{id: 1}
	r.Register(c1, "alice")

	snapshot := r.ConnectionsFor("alice")
	r.Unregister(c1)

	// The earlier snapshot must be unaffected by the removal.
	if len(snapshot) != 1 {
		t.Fatalf("snapshot mutated by unregister, len=%d", len(snapshot))
	}
}

func TestRegistryConcurrentLifecycles(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := &nopConn{id: i}
			user := "user"
			if i%2 == 0 {
				user = "other"
			}
			r.Register(c, user)
			r.ConnectionsFor(user)
			r.Unregister(c)
		}(i)
	}
	wg.Wait()

	if r.ActiveUsers() != 0 {
		t.Fatalf("expected empty registry after all lifecycles, got %d users", r.ActiveUsers())
	}
}
