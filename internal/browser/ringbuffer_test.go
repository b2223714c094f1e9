package browser

import "testing"

func TestRingBufferEviction(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	got := rb.Snapshot()
	want := []int{3, 4, 5}
	if len(got) != len(want) {
		t.Fatalf("expected %d items, got %d", len(want), len(got))
	}
	for i, v := range want {
		if got[i] != v {
			t.Errorf("index %d: expected %d, got %d", i, v, got[i])
		}
	}
}

func TestRingBufferUnderCapacity(t *testing.T) {
	rb := NewRingBuffer[string](5)
	rb.Push("a")
	rb.Push("b")
	got := rb.Snapshot()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("unexpected snapshot: %v", got)
	}
	if rb.Len() != 2 {
		t.Errorf("expected len 2, got %d", rb.Len())
	}
}

func TestRingBufferTail(t *testing.T) {
	rb := NewRingBuffer[int](10)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}
	tail := rb.Tail(2)
	if len(tail) != 2 || tail[0] != 4 || tail[1] != 5 {
		t.Errorf("expected [4 5], got %v", tail)
	}
	if len(rb.Tail(100)) != 5 {
		t.Errorf("expected Tail beyond size to return all items")
	}
}

func TestRingBufferZeroCapacity(t *testing.T) {
	rb := NewRingBuffer[int](0)
	rb.Push(1)
	rb.Push(2)
	got := rb.Snapshot()
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("expected capacity to clamp to 1, got %v", got)
	}
}
