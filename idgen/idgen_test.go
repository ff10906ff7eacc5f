package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7()()
	if len(id) != 36 {
		t.Fatalf("UUIDv7: expected length 36, got %d", len(id))
	}
	if parts := strings.Split(id, "-"); len(parts) != 5 {
		t.Fatalf("UUIDv7: expected 5 parts, got %d in %q", len(parts), id)
	}
}

func TestUUIDv7_Sortable(t *testing.T) {
	gen := UUIDv7()
	prev := gen()
	for i := 0; i < 50; i++ {
		next := gen()
		if next <= prev {
			t.Fatalf("UUIDv7 not increasing: %q then %q", prev, next)
		}
		prev = next
	}
}

func TestPrefixed(t *testing.T) {
	id := Screenshot()
	if !strings.HasPrefix(id, "shot_") {
		t.Fatalf("Screenshot id %q lacks prefix", id)
	}
	if _, err := Parse(id); err != nil {
		t.Fatalf("Parse(%q): %v", id, err)
	}
	if _, err := Parse("diff_not-a-uuid"); err == nil {
		t.Fatal("Parse accepted an invalid id")
	}
}

func TestSequence_Concurrent(t *testing.T) {
	gen := Sequence("t")
	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := gen()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(seen) != 20 {
		t.Fatalf("Sequence produced %d unique ids, want 20", len(seen))
	}
	if !seen["t-1"] || !seen["t-20"] {
		t.Fatal("Sequence did not cover t-1..t-20")
	}
}
