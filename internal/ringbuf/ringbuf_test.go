package ringbuf

import (
	"sync"
	"testing"
)

func TestAppendAndSnapshot(t *testing.T) {
	s := NewStore[int](5)
	for i := 1; i <= 3; i++ {
		s.Append("a", i)
	}

	got := s.Snapshot("a", 10)
	want := []int{1, 2, 3}
	if len(got) != len(want) {
		t.Fatalf("got %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestEvictionKeepsTail(t *testing.T) {
	s := NewStore[int](3)
	for i := 1; i <= 7; i++ {
		s.Append("a", i)
	}

	if s.Len("a") != 3 {
		t.Fatalf("len: got %d, want 3", s.Len("a"))
	}
	got := s.Snapshot("a", 3)
	want := []int{5, 6, 7}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestSnapshotLimit(t *testing.T) {
	s := NewStore[int](10)
	for i := 1; i <= 6; i++ {
		s.Append("a", i)
	}

	// Limit smaller than size returns the most recent entries, oldest first.
	got := s.Snapshot("a", 2)
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("got %v, want [5 6]", got)
	}
}

func TestSnapshotUnknownKey(t *testing.T) {
	s := NewStore[int](5)
	if got := s.Snapshot("missing", 3); len(got) != 0 {
		t.Errorf("got %v, want empty", got)
	}
	if got := s.Len("missing"); got != 0 {
		t.Errorf("len: got %d, want 0", got)
	}
}

func TestAppendAllOrder(t *testing.T) {
	s := NewStore[string](4)
	s.AppendAll("a", []string{"w", "x", "y", "z", "q"})

	got := s.Snapshot("a", 4)
	want := []string{"x", "y", "z", "q"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestConcurrentAppendPerKey(t *testing.T) {
	const writers = 8
	const perWriter = 200
	s := NewStore[int](writers * perWriter)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			key := string(rune('a' + w%4))
			for i := 0; i < perWriter; i++ {
				s.Append(key, i)
				s.Snapshot(key, 10)
			}
		}(w)
	}
	wg.Wait()

	total := 0
	for _, k := range []string{"a", "b", "c", "d"} {
		total += s.Len(k)
	}
	if total != writers*perWriter {
		t.Errorf("total items: got %d, want %d", total, writers*perWriter)
	}
}
