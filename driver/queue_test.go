package driver

import "testing"

func TestQueueFIFOOrder(t *testing.T) {
	q := NewQueue()
	for i := uint64(0); i < 5; i++ {
		q.Push(OpObject{Token: i})
	}
	for i := uint64(0); i < 5; i++ {
		o, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop() ok = false at i=%d", i)
		}
		if o.Token != i {
			t.Fatalf("Pop() token = %d, want %d", o.Token, i)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("expected empty queue after draining")
	}
}

func TestQueueGrows(t *testing.T) {
	q := NewQueue()
	const n = 100
	for i := uint64(0); i < n; i++ {
		q.Push(OpObject{Token: i})
	}
	if q.Len() != n {
		t.Fatalf("Len() = %d, want %d", q.Len(), n)
	}
	for i := uint64(0); i < n; i++ {
		o, _ := q.Pop()
		if o.Token != i {
			t.Fatalf("Pop() token = %d, want %d", o.Token, i)
		}
	}
}

func TestQueuePushAll(t *testing.T) {
	q := NewQueue()
	q.PushAll(OpObject{Token: 1}, OpObject{Token: 2}, OpObject{Token: 3})
	if q.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", q.Len())
	}
}

func TestQueueRemoveMiddlePreservesOrder(t *testing.T) {
	q := NewQueue()
	q.PushAll(OpObject{Token: 1}, OpObject{Token: 2}, OpObject{Token: 3})

	removed, ok := q.Remove(2)
	if !ok || removed.Token != 2 {
		t.Fatalf("Remove(2) = (%v, %v), want (token=2, true)", removed, ok)
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	first, _ := q.Pop()
	second, _ := q.Pop()
	if first.Token != 1 || second.Token != 3 {
		t.Fatalf("remaining order = [%d, %d], want [1, 3]", first.Token, second.Token)
	}
}

func TestQueueRemoveUnknownTokenReturnsFalse(t *testing.T) {
	q := NewQueue()
	q.Push(OpObject{Token: 1})
	if _, ok := q.Remove(99); ok {
		t.Fatal("Remove(99) = true, want false for a token not in the queue")
	}
	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (unaffected)", q.Len())
	}
}
