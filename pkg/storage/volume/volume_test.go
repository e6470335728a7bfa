package volume

import (
	"path/filepath"
	"testing"

	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/page"
)

func createVolume(t *testing.T) *Volume {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.v01")
	v, err := Create(path, "test", 1024)
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestCreateOpen(t *testing.T) {
	v := createVolume(t)
	if v.PageSize() != 1024 {
		t.Errorf("expected page size 1024, got %d", v.PageSize())
	}
	if v.NextAvailable() != 1 {
		t.Errorf("expected next available 1, got %d", v.NextAvailable())
	}
	id := v.ID()
	path := v.Path()
	if err := v.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(path, "test", false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if reopened.ID() != id {
		t.Error("volume id not preserved across reopen")
	}
	if reopened.PageSize() != 1024 {
		t.Error("page size not preserved across reopen")
	}
}

func TestCreate_RejectsBadPageSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.v01")
	if _, err := Create(path, "bad", 3000); err == nil {
		t.Error("expected invalid page size to be rejected")
	}
}

func TestAllocate_HighWater(t *testing.T) {
	v := createVolume(t)
	a, err := v.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	b, err := v.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	if a != 1 || b != 2 {
		t.Errorf("expected addresses 1,2, got %d,%d", a, b)
	}
	if v.NextAvailable() != 3 {
		t.Errorf("expected next available 3, got %d", v.NextAvailable())
	}
}

func TestDeallocate_Reallocate(t *testing.T) {
	v := createVolume(t)

	// Allocate three pages and write them as a sibling-linked chain.
	var addrs []primitives.PageAddress
	for i := 0; i < 3; i++ {
		a, err := v.AllocatePage()
		if err != nil {
			t.Fatal(err)
		}
		addrs = append(addrs, a)
	}
	for i, a := range addrs {
		p := page.New(make([]byte, v.PageSize()), a, page.TypeData)
		if i+1 < len(addrs) {
			p.SetRightSibling(addrs[i+1])
		}
		if err := v.WritePage(a, p.Bytes()); err != nil {
			t.Fatal(err)
		}
	}

	if err := v.DeallocateRun(addrs[0], addrs[2]); err != nil {
		t.Fatalf("deallocate: %v", err)
	}
	if v.GarbageRoot() == 0 {
		t.Fatal("expected a garbage chain after deallocation")
	}

	// Reallocation drains the run front to back before touching the
	// high-water mark.
	got, err := v.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	if got != addrs[0] {
		t.Errorf("expected reallocated page %d, got %d", addrs[0], got)
	}
	got, err = v.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	if got != addrs[1] {
		t.Errorf("expected reallocated page %d, got %d", addrs[1], got)
	}
}

func TestWritePage_SizeMismatch(t *testing.T) {
	v := createVolume(t)
	if err := v.WritePage(1, make([]byte, 512)); err == nil {
		t.Error("expected size mismatch to be rejected")
	}
}
