package engine

import (
	"fmt"
	"path/filepath"
	"testing"

	"keelstore/pkg/config"
	"keelstore/pkg/journal"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/key"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		VolumePath:       filepath.Join(dir, "e.v01"),
		JournalPath:      filepath.Join(dir, "e_journal"),
		PageSize:         1024,
		BufferCount:      64,
		JournalBlockSize: journal.DefaultBlockSize,
	}
	e, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("open engine: %v", err)
	}
	e.settle = func() {} // no settlement wait in tests
	t.Cleanup(func() { e.Close() })
	return e
}

func TestCreateTreeAndStore(t *testing.T) {
	e := testEngine(t)

	if _, err := e.CreateTree("accounts"); err != nil {
		t.Fatalf("create tree: %v", err)
	}
	if _, err := e.CreateTree("accounts"); err == nil {
		t.Error("duplicate tree creation accepted")
	}

	for i := 0; i < 50; i++ {
		k := key.EncodeString(fmt.Sprintf("acct%04d", i))
		if err := e.Store("accounts", k, []byte(fmt.Sprintf("balance-%d", i))); err != nil {
			t.Fatalf("store %d: %v", i, err)
		}
	}
	got, found, err := e.Fetch("accounts", key.EncodeString("acct0007"))
	if err != nil || !found {
		t.Fatalf("fetch: found=%v err=%v", found, err)
	}
	if string(got) != "balance-7" {
		t.Errorf("wrong value %q", got)
	}
}

func TestStore_JournalOrder(t *testing.T) {
	e := testEngine(t)
	if _, err := e.CreateTree("t"); err != nil {
		t.Fatal(err)
	}
	if err := e.Store("t", key.EncodeString("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := journal.NewScanner(journal.ScanOptions{
		Path: e.cfg.JournalPath, Types: "TS,SR,TC",
	})
	if err != nil {
		t.Fatal(err)
	}
	var order []journal.Type
	visitor := typeCollector{types: &order}
	if err := s.Scan(visitor); err != nil {
		t.Fatal(err)
	}
	want := []journal.Type{journal.TypeTS, journal.TypeSR, journal.TypeTC}
	if len(order) != len(want) {
		t.Fatalf("expected %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, order)
		}
	}
}

type typeCollector struct {
	types *[]journal.Type
}

func (c typeCollector) VisitRecord(address primitives.JournalAddress, ts primitives.Timestamp,
	recordType journal.Type, decoded any) error {
	*c.types = append(*c.types, recordType)
	return nil
}

func (c typeCollector) VisitEOF(address primitives.JournalAddress) error { return nil }

func TestDirectorySurvivesReopen(t *testing.T) {
	e := testEngine(t)
	if _, err := e.CreateTree("persisted"); err != nil {
		t.Fatal(err)
	}
	if err := e.Store("persisted", key.EncodeString("k"), []byte("v")); err != nil {
		t.Fatal(err)
	}
	cfg := e.cfg
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh journal base is needed; the writer refuses to overwrite.
	cfg.JournalPath = cfg.JournalPath + "_2"
	reopened, err := Open(cfg, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	reopened.settle = func() {}

	tr, ok := reopened.Tree("persisted")
	if !ok {
		t.Fatal("tree lost across reopen")
	}
	got, found, err := tr.Fetch(reopened.Pool(), key.EncodeString("k"))
	if err != nil || !found || string(got) != "v" {
		t.Errorf("value lost across reopen: %q found=%v err=%v", got, found, err)
	}
}

func TestSuspendUpdates(t *testing.T) {
	e := testEngine(t)
	if _, err := e.CreateTree("s"); err != nil {
		t.Fatal(err)
	}

	e.SetUpdateSuspended(true)
	if !e.IsUpdateSuspended() {
		t.Fatal("suspension not recorded")
	}
	err := e.Store("s", key.EncodeString("k"), []byte("v"))
	if err == nil {
		t.Fatal("store succeeded while updates suspended")
	}

	e.SetUpdateSuspended(false)
	if err := e.Store("s", key.EncodeString("k"), []byte("v")); err != nil {
		t.Fatalf("store after resume: %v", err)
	}
}

func TestTimestampsAdvance(t *testing.T) {
	e := testEngine(t)
	a := e.NextTimestamp()
	b := e.NextTimestamp()
	if b <= a {
		t.Errorf("timestamps must advance: %d then %d", a, b)
	}
}
