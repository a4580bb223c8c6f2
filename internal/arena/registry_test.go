package arena

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestRegistry() *Registry {
	return NewRegistry(func(roomCode, difficulty, topic string) *Match {
		return NewMatch(roomCode, difficulty, topic, Deps{
			Source:        &fakeSource{prob: testProblem()},
			Harness:       &fakeHarness{verdict: passVerdict()},
			Clock:         clockwork.NewFakeClock(),
			RoundDuration: 20 * time.Minute,
			Post:          func(fn func()) {},
			Resolve:       func(fn func()) { fn() },
		})
	})
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := newTestRegistry()

	m1 := r.GetOrCreate("ABCD", "easy", "arrays")
	m2 := r.GetOrCreate("ABCD", "hard", "graphs")
	if m1 != m2 {
		t.Fatal("expected one match per room code")
	}
	// First joiner's category wins.
	if m1.Difficulty() != "easy" || m1.Topic() != "arrays" {
		t.Errorf("expected first category to stick, got %s/%s", m1.Difficulty(), m1.Topic())
	}

	if _, ok := r.Get("ABCD"); !ok {
		t.Error("expected room to be retrievable")
	}
	if _, ok := r.Get("WXYZ"); ok {
		t.Error("expected unknown room to be absent")
	}
}

func TestRegistryRemoveIfEmpty(t *testing.T) {
	r := newTestRegistry()
	m := r.GetOrCreate("ABCD", "easy", "arrays")

	p, err := m.AddPlayer("ada", newFakeSink("s1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.RemoveIfEmpty("ABCD") {
		t.Error("occupied room must not be removed")
	}

	m.RemovePlayer(p.ID)
	if !r.RemoveIfEmpty("ABCD") {
		t.Error("expected empty room to be removed")
	}
	if r.Len() != 0 {
		t.Errorf("expected no rooms, got %d", r.Len())
	}
	if r.RemoveIfEmpty("ABCD") {
		t.Error("removing a missing room reports false")
	}
}

func TestRegistryEach(t *testing.T) {
	r := newTestRegistry()
	r.GetOrCreate("AAAA", "easy", "arrays")
	r.GetOrCreate("BBBB", "medium", "strings")

	seen := map[string]bool{}
	r.Each(func(m *Match) { seen[m.Code()] = true })
	if len(seen) != 2 || !seen["AAAA"] || !seen["BBBB"] {
		t.Errorf("expected both rooms visited, got %v", seen)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 rooms, got %d", r.Len())
	}
}
