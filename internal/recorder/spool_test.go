package recorder

import (
	"testing"
)

func TestSpool_PutDrain(t *testing.T) {
	s := NewSpool[int](4)

	for i := 1; i <= 3; i++ {
		if !s.Put(i) {
			t.Fatalf("Put(%d) = false, want true", i)
		}
	}

	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}

	got := s.Drain(2)
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("Drain(2) = %v, want [1 2]", got)
	}

	got = s.Drain(0)
	if len(got) != 1 || got[0] != 3 {
		t.Errorf("Drain(0) = %v, want [3]", got)
	}

	if got := s.Drain(10); got != nil {
		t.Errorf("Drain() on empty spool = %v, want nil", got)
	}
}

func TestSpool_Grow(t *testing.T) {
	s := NewSpool[int](2)

	// Force a wrap before growing: fill, drain one, refill
	s.Put(1)
	s.Put(2)
	s.Drain(1)
	s.Put(3)
	s.Put(4) // triggers grow while wrapped

	if s.Cap() != 4 {
		t.Errorf("Cap() = %d, want 4", s.Cap())
	}

	got := s.Drain(0)
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Drain() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Drain()[%d] = %d, want %d", i, got[i], want[i])
		}
	}

	stats := s.Stats()
	if stats.Grows != 1 {
		t.Errorf("Grows = %d, want 1", stats.Grows)
	}
}

func TestSpool_Close(t *testing.T) {
	s := NewSpool[string](4)
	s.Put("a")
	s.Close()

	if s.Put("b") {
		t.Error("Put() after Close() = true, want false")
	}

	got := s.Drain(0)
	if len(got) != 1 || got[0] != "a" {
		t.Errorf("Drain() after Close() = %v, want [a]", got)
	}
}

func TestSpool_Stats(t *testing.T) {
	s := NewSpool[int](8)
	for i := 0; i < 5; i++ {
		s.Put(i)
	}
	s.Drain(3)

	stats := s.Stats()
	if stats.Enqueued != 5 {
		t.Errorf("Enqueued = %d, want 5", stats.Enqueued)
	}
	if stats.Dequeued != 3 {
		t.Errorf("Dequeued = %d, want 3", stats.Dequeued)
	}
	if stats.Pending != 2 {
		t.Errorf("Pending = %d, want 2", stats.Pending)
	}
}
