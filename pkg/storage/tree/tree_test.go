package tree

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"keelstore/pkg/memory"
	"keelstore/pkg/storage/key"
	"keelstore/pkg/storage/volume"
)

func testSetup(t *testing.T) (*volume.Volume, *memory.Pool) {
	t.Helper()
	v, err := volume.Create(filepath.Join(t.TempDir(), "tree.v01"), "tree", 1024)
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v, memory.NewPool()
}

func sortedPairs(n int) []Pair {
	pairs := make([]Pair, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("key%06d", i)
		pairs[i] = Pair{Key: key.EncodeString(name), Value: []byte(fmt.Sprintf("value-%d", i))}
	}
	return pairs
}

func TestBulkLoad_SingleLeaf(t *testing.T) {
	v, pool := testSetup(t)
	tr, err := BulkLoad(pool, v, "small", 1, sortedPairs(5), 100)
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if tr.Depth != 1 {
		t.Errorf("expected depth 1, got %d", tr.Depth)
	}
	for i := 0; i < 5; i++ {
		got, found, err := tr.Fetch(pool, key.EncodeString(fmt.Sprintf("key%06d", i)))
		if err != nil || !found {
			t.Fatalf("fetch %d: found=%v err=%v", i, found, err)
		}
		if !bytes.Equal(got, []byte(fmt.Sprintf("value-%d", i))) {
			t.Errorf("fetch %d: wrong value %q", i, got)
		}
	}
}

func TestBulkLoad_MultiLevel(t *testing.T) {
	v, pool := testSetup(t)
	const n = 400
	tr, err := BulkLoad(pool, v, "big", 2, sortedPairs(n), 100)
	if err != nil {
		t.Fatalf("bulk load: %v", err)
	}
	if tr.Depth < 2 {
		t.Fatalf("expected a multi-level tree for %d pairs in 1024-byte pages, depth=%d", n, tr.Depth)
	}
	for _, i := range []int{0, 1, n / 2, n - 2, n - 1} {
		got, found, err := tr.Fetch(pool, key.EncodeString(fmt.Sprintf("key%06d", i)))
		if err != nil || !found {
			t.Fatalf("fetch %d: found=%v err=%v", i, found, err)
		}
		if !bytes.Equal(got, []byte(fmt.Sprintf("value-%d", i))) {
			t.Errorf("fetch %d: wrong value %q", i, got)
		}
	}
	if _, found, _ := tr.Fetch(pool, key.EncodeString("missing")); found {
		t.Error("fetch of absent key reported found")
	}
}

func TestStore_SplitPropagation(t *testing.T) {
	v, pool := testSetup(t)
	tr, err := BulkLoad(pool, v, "grow", 3, sortedPairs(2), 100)
	if err != nil {
		t.Fatal(err)
	}

	// Ascending inserts past the loaded keys force leaf and then root splits.
	const n = 300
	for i := 2; i < n; i++ {
		name := fmt.Sprintf("key%06d", i)
		if err := tr.Store(pool, key.EncodeString(name), []byte(fmt.Sprintf("value-%d", i)), 200); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
	if tr.Depth < 2 {
		t.Errorf("expected the root to split, depth=%d", tr.Depth)
	}
	for _, i := range []int{0, 7, 150, n - 1} {
		got, found, err := tr.Fetch(pool, key.EncodeString(fmt.Sprintf("key%06d", i)))
		if err != nil || !found {
			t.Fatalf("fetch %d after growth: found=%v err=%v", i, found, err)
		}
		if !bytes.Equal(got, []byte(fmt.Sprintf("value-%d", i))) {
			t.Errorf("fetch %d: wrong value %q", i, got)
		}
	}
}

func TestStore_ReplacesValue(t *testing.T) {
	v, pool := testSetup(t)
	tr, err := BulkLoad(pool, v, "replace", 4, sortedPairs(3), 100)
	if err != nil {
		t.Fatal(err)
	}
	k := key.EncodeString("key000001")
	if err := tr.Store(pool, k, []byte("updated"), 150); err != nil {
		t.Fatal(err)
	}
	got, found, err := tr.Fetch(pool, k)
	if err != nil || !found {
		t.Fatalf("fetch: found=%v err=%v", found, err)
	}
	if string(got) != "updated" {
		t.Errorf("expected updated value, got %q", got)
	}
}

func TestDelete(t *testing.T) {
	v, pool := testSetup(t)
	tr, err := BulkLoad(pool, v, "del", 5, sortedPairs(10), 100)
	if err != nil {
		t.Fatal(err)
	}
	k := key.EncodeString("key000004")
	removed, err := tr.Delete(pool, k, 150)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}
	if _, found, _ := tr.Fetch(pool, k); found {
		t.Error("deleted key still visible")
	}
	if removed, _ := tr.Delete(pool, k, 160); removed {
		t.Error("second delete reported removal")
	}
}
