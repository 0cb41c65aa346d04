package storage

import "testing"

func TestLRUReplacerEvictsLeastRecentlyUsed(t *testing.T) {
	r := NewLRUReplacer()
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.RecordAccess(3)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)
	r.SetEvictable(3, true)

	fid, ok := r.Evict()
	if !ok || fid != 1 {
		t.Fatalf("Evict() = (%d, %v), want (1, true)", fid, ok)
	}
}

func TestLRUReplacerSkipsNonEvictable(t *testing.T) {
	r := NewLRUReplacer()
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.SetEvictable(1, false)
	r.SetEvictable(2, true)

	fid, ok := r.Evict()
	if !ok || fid != 2 {
		t.Fatalf("Evict() = (%d, %v), want (2, true)", fid, ok)
	}
}

func TestLRUReplacerRecordAccessMovesToMostRecent(t *testing.T) {
	r := NewLRUReplacer()
	r.RecordAccess(1)
	r.RecordAccess(2)
	r.SetEvictable(1, true)
	r.SetEvictable(2, true)

	// Touching 1 again should make 2 the next victim.
	r.RecordAccess(1)

	fid, ok := r.Evict()
	if !ok || fid != 2 {
		t.Fatalf("Evict() after re-access = (%d, %v), want (2, true)", fid, ok)
	}
}

func TestLRUReplacerEvictFailsWhenNothingEvictable(t *testing.T) {
	r := NewLRUReplacer()
	r.RecordAccess(1)
	r.SetEvictable(1, false)

	if _, ok := r.Evict(); ok {
		t.Fatal("Evict() with no evictable frames: want ok=false")
	}
}

func TestLRUReplacerRemoveDropsTracking(t *testing.T) {
	r := NewLRUReplacer()
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	r.Remove(1)

	if _, ok := r.Evict(); ok {
		t.Fatal("Evict() after Remove(): want ok=false")
	}
}

func TestLRUReplacerCanEvict(t *testing.T) {
	r := NewLRUReplacer()
	if r.CanEvict() {
		t.Error("CanEvict() on empty replacer = true, want false")
	}
	r.RecordAccess(1)
	r.SetEvictable(1, true)
	if !r.CanEvict() {
		t.Error("CanEvict() with one evictable frame = false, want true")
	}
}
