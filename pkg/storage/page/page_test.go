package page

import (
	"bytes"
	"fmt"
	"testing"

	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/key"
)

func newDataPage(t *testing.T, size int) *Page {
	t.Helper()
	return New(make([]byte, size), 12, TypeData)
}

// seedPage inserts keys "a".."f" with values "0".."5".
func seedPage(t *testing.T, p *Page) {
	t.Helper()
	for i, name := range []string{"a", "b", "c", "d", "e", "f"} {
		status, _, err := p.Insert(key.EncodeString(name), []byte(fmt.Sprintf("%d", i)))
		if err != nil {
			t.Fatalf("insert %q failed: %v", name, err)
		}
		if status != InsertOK {
			t.Fatalf("insert %q returned %v", name, status)
		}
	}
}

func TestFind_SeededPage(t *testing.T) {
	p := newDataPage(t, 4096)
	seedPage(t, p)

	found, slot := p.Find(key.EncodeString("c"))
	if !found || slot != 2 {
		t.Fatalf("find(c): expected found at slot 2, got found=%v slot=%d", found, slot)
	}
	if ebc := p.EBCAt(2); ebc != 1 {
		t.Errorf("expected EBC=1 at slot 2, got %d", ebc)
	}
	if db := p.DBAt(2); db != 'c' {
		t.Errorf("expected DB='c' at slot 2, got %q", db)
	}
	if fault := p.Verify(nil); fault != nil {
		t.Errorf("verify reported fault: %v", fault)
	}
}

func TestFind_Misses(t *testing.T) {
	p := newDataPage(t, 4096)
	seedPage(t, p)

	found, slot := p.Find(key.EncodeString("ba"))
	if found {
		t.Error("find(ba) must not report found")
	}
	if slot != 2 {
		t.Errorf("expected insertion point 2 for \"ba\", got %d", slot)
	}

	found, slot = p.Find(key.EncodeString("zz"))
	if found || slot != 6 {
		t.Errorf("expected insertion point 6 for \"zz\", got found=%v slot=%d", found, slot)
	}
}

func TestInsert_KeepsSortedOrder(t *testing.T) {
	p := newDataPage(t, 4096)
	for _, name := range []string{"delta", "alpha", "charlie", "bravo", "echo"} {
		if status, _, err := p.Insert(key.EncodeString(name), []byte(name)); err != nil || status != InsertOK {
			t.Fatalf("insert %q: status=%v err=%v", name, status, err)
		}
	}

	want := []string{"alpha", "bravo", "charlie", "delta", "echo"}
	cursor := p.NewCursor()
	for i := 0; cursor.Next(); i++ {
		s, err := key.DecodeString(cursor.Key())
		if err != nil {
			t.Fatalf("decode key at slot %d: %v", i, err)
		}
		if s != want[i] {
			t.Errorf("slot %d: expected %q, got %q", i, want[i], s)
		}
		if !bytes.Equal(cursor.Payload(), []byte(want[i])) {
			t.Errorf("slot %d: payload mismatch", i)
		}
	}
	if fault := p.Verify(nil); fault != nil {
		t.Errorf("verify reported fault: %v", fault)
	}
}

func TestInsert_SuccessorElisionFixup(t *testing.T) {
	p := newDataPage(t, 4096)
	for _, name := range []string{"abc", "abf"} {
		if _, _, err := p.Insert(key.EncodeString(name), []byte("x")); err != nil {
			t.Fatalf("insert %q: %v", name, err)
		}
	}
	// "abd" lands between and changes "abf"'s predecessor.
	if _, _, err := p.Insert(key.EncodeString("abd"), []byte("y")); err != nil {
		t.Fatalf("insert abd: %v", err)
	}
	if fault := p.Verify(nil); fault != nil {
		t.Fatalf("verify after fixup: %v", fault)
	}
	k, err := p.KeyAt(2)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := key.DecodeString(k); s != "abf" {
		t.Errorf("expected abf at slot 2, got %q", s)
	}
}

func TestRemove_SuccessorFixup(t *testing.T) {
	p := newDataPage(t, 4096)
	for _, name := range []string{"a", "ab", "abc"} {
		if _, _, err := p.Insert(key.EncodeString(name), []byte("v")); err != nil {
			t.Fatalf("insert %q: %v", name, err)
		}
	}
	if err := p.Remove(1); err != nil {
		t.Fatalf("remove slot 1: %v", err)
	}
	if p.KeyblockCount() != 2 {
		t.Fatalf("expected 2 records, got %d", p.KeyblockCount())
	}
	if fault := p.Verify(nil); fault != nil {
		t.Fatalf("verify after remove: %v", fault)
	}
	k, _ := p.KeyAt(1)
	if s, _ := key.DecodeString(k); s != "abc" {
		t.Errorf("expected abc at slot 1, got %q", s)
	}
}

func TestInsert_CompactionRecoversHoles(t *testing.T) {
	p := newDataPage(t, 1024)
	big := bytes.Repeat([]byte("x"), 300)
	for _, name := range []string{"a", "b", "c"} {
		if status, _, err := p.Insert(key.EncodeString(name), big); err != nil || status != InsertOK {
			t.Fatalf("insert %q: status=%v err=%v", name, status, err)
		}
	}
	// Shrinking b's payload leaves a tail hole only compaction can reuse.
	if status, err := p.UpdatePayloadAt(1, []byte("tiny")); err != nil || status != InsertOK {
		t.Fatalf("shrink b: status=%v err=%v", status, err)
	}
	status, _, err := p.Insert(key.EncodeString("d"), bytes.Repeat([]byte("y"), 250))
	if err != nil {
		t.Fatalf("insert d: %v", err)
	}
	if status != InsertOK {
		t.Fatalf("expected compaction to make room, got %v", status)
	}
	if fault := p.Verify(nil); fault != nil {
		t.Errorf("verify after compaction: %v", fault)
	}
}

func TestInsert_NeedsSplitThenSplit(t *testing.T) {
	p := newDataPage(t, 4096)
	seedPage(t, p)

	bigValue := bytes.Repeat([]byte("v"), 4000)
	pending := key.EncodeString("ccc")

	status, _, err := p.Insert(pending, bigValue)
	if err != nil {
		t.Fatalf("insert ccc: %v", err)
	}
	if status != NeedsSplit {
		t.Fatalf("expected NeedsSplit, got %v", status)
	}

	right := New(make([]byte, 4096), 13, TypeData)
	promoted, err := p.SplitInsert(right, pending, bigValue)
	if err != nil {
		t.Fatalf("split failed: %v", err)
	}
	if s, _ := key.DecodeString(promoted); s != "ccc" {
		t.Errorf("expected promoted key ccc, got %q", s)
	}

	wantLeft := []string{"a", "b", "c"}
	wantRight := []string{"ccc", "d", "e", "f"}
	checkKeys := func(p *Page, want []string) {
		t.Helper()
		if p.KeyblockCount() != len(want) {
			t.Fatalf("page %d: expected %d keys, got %d", p.PageAddress(), len(want), p.KeyblockCount())
		}
		cursor := p.NewCursor()
		for i := 0; cursor.Next(); i++ {
			s, _ := key.DecodeString(cursor.Key())
			if s != want[i] {
				t.Errorf("page %d slot %d: expected %q, got %q", p.PageAddress(), i, want[i], s)
			}
		}
	}
	checkKeys(p, wantLeft)
	checkKeys(right, wantRight)

	if right.EBCAt(0) != 0 {
		t.Errorf("first key of the right half must have no elision, got %d", right.EBCAt(0))
	}
	if p.RightSibling() != right.PageAddress() {
		t.Error("left sibling pointer not rewired")
	}
	for _, page := range []*Page{p, right} {
		if fault := page.Verify(nil); fault != nil {
			t.Errorf("verify page %d after split: %v", page.PageAddress(), fault)
		}
	}
}

// Any page image must decode back to the key/value sequence that built it.
func TestRoundTrip_KeyValueSequence(t *testing.T) {
	p := newDataPage(t, 8192)
	names := []string{"car", "card", "care", "cart", "cat", "dog", "dot", "x"}
	for i, name := range names {
		payload := bytes.Repeat([]byte{byte('A' + i)}, i*7+1)
		if status, _, err := p.Insert(key.EncodeString(name), payload); err != nil || status != InsertOK {
			t.Fatalf("insert %q: status=%v err=%v", name, status, err)
		}
	}

	reread := Wrap(p.Bytes())
	cursor := reread.NewCursor()
	for i := 0; cursor.Next(); i++ {
		s, err := key.DecodeString(cursor.Key())
		if err != nil {
			t.Fatalf("decode slot %d: %v", i, err)
		}
		if s != names[i] {
			t.Errorf("slot %d: expected %q, got %q", i, names[i], s)
		}
		want := bytes.Repeat([]byte{byte('A' + i)}, i*7+1)
		if !bytes.Equal(cursor.Payload(), want) {
			t.Errorf("slot %d: payload mismatch", i)
		}
	}
	if fault := reread.Verify(nil); fault != nil {
		t.Errorf("verify rewrapped page: %v", fault)
	}
}

func TestLongRecordDescriptor_RoundTrip(t *testing.T) {
	lr := LongRecord{Size: 100000, Page: 777}
	copy(lr.Prefix[:], "prefix9by")

	payload := EncodeLongRecord(lr)
	if len(payload) != LongRecSize {
		t.Fatalf("expected %d-byte descriptor, got %d", LongRecSize, len(payload))
	}
	if !IsLongRecord(payload) {
		t.Fatal("descriptor not recognized")
	}
	decoded, err := DecodeLongRecord(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != lr {
		t.Errorf("round trip mismatch: %+v != %+v", decoded, lr)
	}
}

func TestNextLongRecord(t *testing.T) {
	p := newDataPage(t, 4096)
	if _, _, err := p.Insert(key.EncodeString("inline"), []byte("short")); err != nil {
		t.Fatal(err)
	}
	lr := LongRecord{Size: 5000, Page: 99}
	if _, _, err := p.Insert(key.EncodeString("long"), EncodeLongRecord(lr)); err != nil {
		t.Fatal(err)
	}

	slot, got, ok := p.NextLongRecord(0)
	if !ok {
		t.Fatal("expected a long record descriptor")
	}
	if got.Page != 99 || got.Size != 5000 {
		t.Errorf("unexpected descriptor %+v", got)
	}
	if _, _, ok := p.NextLongRecord(slot + 1); ok {
		t.Error("expected no further descriptors")
	}
}

func TestGarbagePage_PushPop(t *testing.T) {
	p := New(make([]byte, 1024), 5, TypeGarbage)

	for i := 0; i < 3; i++ {
		ok, err := p.PushGarbageRun(primitives.PageAddress(10+i), primitives.PageAddress(20+i))
		if err != nil || !ok {
			t.Fatalf("push %d: ok=%v err=%v", i, ok, err)
		}
	}
	count, err := p.GarbageEntryCount()
	if err != nil || count != 3 {
		t.Fatalf("expected 3 entries, got %d (%v)", count, err)
	}

	left, right, ok, err := p.PopGarbageRun()
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if left != 12 || right != 22 {
		t.Errorf("expected most recent run {12,22}, got {%d,%d}", left, right)
	}
}

func TestGarbageView_TypeMismatch(t *testing.T) {
	p := newDataPage(t, 1024)
	if _, err := p.GarbageEntryCount(); err == nil {
		t.Error("garbage view of a data page must fail")
	}
}

func TestHeadPage(t *testing.T) {
	p := New(make([]byte, 4096), 0, TypeHead)
	if err := p.FormatHead(4096, 0x1234, 1700000000000); err != nil {
		t.Fatal(err)
	}
	p.SetDirectoryRoot(2)
	p.SetGarbageRoot(0)
	p.SetNextAvailable(10)

	if p.HeadVersion() != HeadFormatVersion {
		t.Errorf("version: got %d", p.HeadVersion())
	}
	if p.HeadPageSize() != 4096 || p.VolumeID() != 0x1234 {
		t.Error("head fields not preserved")
	}
	if p.DirectoryRoot() != 2 || p.NextAvailable() != 10 {
		t.Error("root fields not preserved")
	}
}

func TestTypeName(t *testing.T) {
	cases := map[int]string{
		TypeData:       "DATA",
		TypeIndexMin:   "INDEX1",
		TypeGarbage:    "GARBAGE",
		TypeLongRecord: "LONG_REC",
		TypeUnused:     "UNUSED",
	}
	for pageType, want := range cases {
		if got := TypeName(7, pageType); got != want {
			t.Errorf("TypeName(%d): expected %s, got %s", pageType, want, got)
		}
	}
}
