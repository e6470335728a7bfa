package memory

import (
	"path/filepath"
	"testing"
	"time"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/key"
	"keelstore/pkg/storage/page"
	"keelstore/pkg/storage/volume"
)

func testVolume(t *testing.T) *volume.Volume {
	t.Helper()
	v, err := volume.Create(filepath.Join(t.TempDir(), "pool.v01"), "pool", 1024)
	if err != nil {
		t.Fatalf("create volume: %v", err)
	}
	t.Cleanup(func() { v.Close() })
	return v
}

func TestPool_NewPageWriteBack(t *testing.T) {
	v := testVolume(t)
	pool := NewPool()

	addr, err := v.AllocatePage()
	if err != nil {
		t.Fatal(err)
	}
	buf, err := pool.NewPage(v, addr, page.TypeData)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := buf.Page().Insert(key.EncodeString("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	buf.MarkDirty(42)
	if err := pool.Release(buf); err != nil {
		t.Fatal(err)
	}

	// Force a re-read from the volume file.
	pool.Evict(v, addr)
	reread, err := pool.Get(v, addr, false, true)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Release(reread)

	found, slot := reread.Page().Find(key.EncodeString("k"))
	if !found || slot != 0 {
		t.Errorf("record lost across write-back: found=%v slot=%d", found, slot)
	}
	if reread.Page().Timestamp() != 42 {
		t.Errorf("timestamp lost: got %d", reread.Page().Timestamp())
	}
}

func TestPool_SharedClaimsCoexist(t *testing.T) {
	v := testVolume(t)
	pool := NewPool()

	addr, _ := v.AllocatePage()
	buf, err := pool.NewPage(v, addr, page.TypeData)
	if err != nil {
		t.Fatal(err)
	}
	pool.Release(buf)

	a, err := pool.Get(v, addr, false, true)
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Get(v, addr, false, true)
	if err != nil {
		t.Fatalf("second shared claim must succeed: %v", err)
	}
	pool.Release(a)
	pool.Release(b)
}

func TestPool_ExclusiveExcludes(t *testing.T) {
	v := testVolume(t)
	pool := NewPool()
	pool.SetClaimTimeout(50 * time.Millisecond)

	addr, _ := v.AllocatePage()
	buf, err := pool.NewPage(v, addr, page.TypeData)
	if err != nil {
		t.Fatal(err)
	}

	_, err = pool.Get(v, addr, false, false)
	if err == nil {
		t.Fatal("shared claim must fail while exclusive is held")
	}
	if !errs.Is(err, errs.KindInUse) {
		t.Errorf("expected InUse, got %v", err)
	}
	pool.Release(buf)

	shared, err := pool.Get(v, addr, false, true)
	if err != nil {
		t.Fatalf("claim after release: %v", err)
	}
	pool.Release(shared)
}

func TestBuffer_Upgrade(t *testing.T) {
	v := testVolume(t)
	pool := NewPool()
	pool.SetClaimTimeout(100 * time.Millisecond)

	addr, _ := v.AllocatePage()
	buf, _ := pool.NewPage(v, addr, page.TypeData)
	pool.Release(buf)

	shared, err := pool.Get(v, addr, false, true)
	if err != nil {
		t.Fatal(err)
	}
	if err := shared.Upgrade(); err != nil {
		t.Fatalf("upgrade with a single reader: %v", err)
	}
	if !shared.IsExclusive() {
		t.Error("buffer must report exclusive after upgrade")
	}
	pool.Release(shared)
}

func TestBuffer_GenerationAdvances(t *testing.T) {
	v := testVolume(t)
	pool := NewPool()

	addr, _ := v.AllocatePage()
	buf, _ := pool.NewPage(v, addr, page.TypeData)
	pool.Release(buf)

	w, _ := pool.Get(v, addr, true, true)
	gen := w.Generation()
	pool.Release(w)

	r, _ := pool.Get(v, addr, false, true)
	defer pool.Release(r)
	if r.Generation() <= gen {
		t.Errorf("generation must advance across exclusive release: %d -> %d", gen, r.Generation())
	}
}

type recordingObserver struct {
	addresses []primitives.PageAddress
}

func (o *recordingObserver) ObservePageWrite(v *volume.Volume, address primitives.PageAddress, image []byte, ts primitives.Timestamp) error {
	o.addresses = append(o.addresses, address)
	return nil
}

func TestPool_ObserverSeesWriteBeforeVolume(t *testing.T) {
	v := testVolume(t)
	pool := NewPool()
	observer := &recordingObserver{}
	pool.SetWriteObserver(observer)

	addr, _ := v.AllocatePage()
	buf, _ := pool.NewPage(v, addr, page.TypeData)
	buf.MarkDirty(7)
	if err := pool.Release(buf); err != nil {
		t.Fatal(err)
	}

	if len(observer.addresses) != 1 || observer.addresses[0] != addr {
		t.Errorf("observer did not see the page write: %v", observer.addresses)
	}
}
