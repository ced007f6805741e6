package cache

import "testing"

func TestVirtualLFU_InsertsUnderCapacity(t *testing.T) {
	v := NewVirtualLFU(2)
	if _, evicted := v.InsertReturningReplaced("a"); evicted {
		t.Fatal("inserting under capacity should not evict")
	}
	if _, evicted := v.InsertReturningReplaced("b"); evicted {
		t.Fatal("inserting under capacity should not evict")
	}
	if v.Len() != 2 {
		t.Fatalf("want len 2, got %d", v.Len())
	}
}

func TestVirtualLFU_EvictsLowestCount(t *testing.T) {
	v := NewVirtualLFU(2)
	v.InsertReturningReplaced("a")
	v.InsertReturningReplaced("b")
	v.InsertReturningReplaced("a") // bump a's count to 2

	evicted, didEvict := v.InsertReturningReplaced("c")
	if !didEvict {
		t.Fatal("expected eviction at capacity")
	}
	if evicted != "b" {
		t.Fatalf("expected b (lowest count) evicted, got %s", evicted)
	}
	if !v.InCache("a") || !v.InCache("c") {
		t.Fatal("expected a and c resident after eviction")
	}
	if v.InCache("b") {
		t.Fatal("expected b no longer resident")
	}
}

func TestVirtualLFU_ReinsertExistingKeyDoesNotEvict(t *testing.T) {
	v := NewVirtualLFU(1)
	v.InsertReturningReplaced("a")
	if _, evicted := v.InsertReturningReplaced("a"); evicted {
		t.Fatal("reinserting a present key must not evict")
	}
}
