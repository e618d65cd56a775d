package dedup

import (
	"fmt"
	"testing"
)

func TestSeenIdempotent(t *testing.T) {
	t.Parallel()
	s := NewSet(10)

	if s.Seen("a") {
		t.Error("first Seen(a) should be false")
	}
	if !s.Seen("a") {
		t.Error("second Seen(a) should be true")
	}
	if s.Seen("b") {
		t.Error("first Seen(b) should be false")
	}
}

func TestEvictionOrder(t *testing.T) {
	t.Parallel()
	s := NewSet(3)

	for _, id := range []string{"a", "b", "c"} {
		s.Seen(id)
	}
	s.Seen("d") // evicts a

	if s.Contains("a") {
		t.Error("a should have been evicted")
	}
	for _, id := range []string{"b", "c", "d"} {
		if !s.Contains(id) {
			t.Errorf("%s should still be present", id)
		}
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestBoundedGrowth(t *testing.T) {
	t.Parallel()
	s := NewSet(100)

	for i := 0; i < 1000; i++ {
		s.Seen(fmt.Sprintf("id-%d", i))
	}
	if s.Len() != 100 {
		t.Errorf("Len() = %d, want 100", s.Len())
	}
	// Newest survive, oldest are gone.
	if !s.Contains("id-999") {
		t.Error("newest id should be present")
	}
	if s.Contains("id-0") {
		t.Error("oldest id should have been evicted")
	}
}

func TestDefaultCapacity(t *testing.T) {
	t.Parallel()
	s := NewSet(0)
	if s.cap != DefaultCapacity {
		t.Errorf("cap = %d, want %d", s.cap, DefaultCapacity)
	}
}
