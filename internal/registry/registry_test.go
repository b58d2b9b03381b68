package registry

import (
	"fmt"
	"sync"
	"testing"
)

func TestRegisterLookupUnregister(t *testing.T) {
	r := New()

	r.Register("ch-1", "call-1", RoleAgent)

	e, ok := r.Lookup("ch-1")
	if !ok {
		t.Fatal("Lookup(ch-1) missed after Register")
	}
	if e.CallID != "call-1" || e.Role != RoleAgent {
		t.Errorf("entry = %+v, want {call-1 agent}", e)
	}

	r.Unregister("ch-1")
	if _, ok := r.Lookup("ch-1"); ok {
		t.Error("Lookup(ch-1) hit after Unregister")
	}
}

func TestLookupMissIsNotFatal(t *testing.T) {
	r := New()
	if _, ok := r.Lookup("never-seen"); ok {
		t.Error("Lookup on empty registry returned an entry")
	}
	// Unregistering an unknown channel must be a no-op.
	r.Unregister("never-seen")
}

func TestCrossCallIsolation(t *testing.T) {
	r := New()
	r.Register("ch-a", "call-a", RoleAI)
	r.Register("ch-b", "call-b", RoleAI)

	// Removing one call's channel must not disturb the other's.
	r.Unregister("ch-a")

	e, ok := r.Lookup("ch-b")
	if !ok {
		t.Fatal("ch-b entry lost when ch-a was removed")
	}
	if e.CallID != "call-b" {
		t.Errorf("ch-b maps to %q, want call-b", e.CallID)
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("ch-%d", i)
			r.Register(id, fmt.Sprintf("call-%d", i), RoleCustomer)
			if _, ok := r.Lookup(id); !ok {
				t.Errorf("Lookup(%s) missed own registration", id)
			}
			r.Unregister(id)
		}(i)
	}
	wg.Wait()

	if n := r.Len(); n != 0 {
		t.Errorf("Len() = %d after all unregistered, want 0", n)
	}
}

func TestSnapshot(t *testing.T) {
	r := New()
	r.Register("ch-1", "call-1", RoleAgent)
	r.Register("ch-2", "call-1", RoleCustomer)

	snap := r.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}

	// Mutating the snapshot must not affect the registry.
	delete(snap, "ch-1")
	if _, ok := r.Lookup("ch-1"); !ok {
		t.Error("registry entry lost after snapshot mutation")
	}
}
