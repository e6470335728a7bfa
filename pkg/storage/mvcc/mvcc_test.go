package mvcc

import (
	"bytes"
	"testing"

	"keelstore/pkg/primitives"
)

type collectingVisitor struct {
	versions []primitives.Version
	payloads [][]byte
}

func (c *collectingVisitor) Init() error {
	c.versions = nil
	c.payloads = nil
	return nil
}

func (c *collectingVisitor) SawVersion(version primitives.Version, offset, length int) error {
	c.versions = append(c.versions, version)
	return nil
}

func buildChain(t *testing.T, versions []primitives.Version, payloads [][]byte) []byte {
	t.Helper()
	var b []byte
	var err error
	for i, v := range versions {
		b, err = AppendVersion(b, v, payloads[i])
		if err != nil {
			t.Fatalf("AppendVersion(%d) failed: %v", v, err)
		}
	}
	return b
}

func TestVisitAllVersions_Primordial(t *testing.T) {
	v := &collectingVisitor{}
	if err := VisitAllVersions(v, []byte("hello")); err != nil {
		t.Fatalf("visit failed: %v", err)
	}
	if len(v.versions) != 1 || v.versions[0] != PrimordialVersion {
		t.Errorf("expected single primordial visit, got %v", v.versions)
	}
}

func TestAppendVersion_BuildsChain(t *testing.T) {
	b := buildChain(t,
		[]primitives.Version{5, 10},
		[][]byte{[]byte("A"), []byte("B")})

	if !IsMultiVersion(b) {
		t.Fatal("expected a tagged multi-version region")
	}

	v := &collectingVisitor{}
	if err := VisitAllVersions(v, b); err != nil {
		t.Fatalf("visit failed: %v", err)
	}
	want := []primitives.Version{5, 10}
	if len(v.versions) != len(want) {
		t.Fatalf("expected %d versions, got %d", len(want), len(v.versions))
	}
	for i := range want {
		if v.versions[i] != want[i] {
			t.Errorf("version %d: expected %d, got %d", i, want[i], v.versions[i])
		}
	}
}

func TestAppendVersion_RejectsNonMonotonic(t *testing.T) {
	b := buildChain(t, []primitives.Version{10}, [][]byte{[]byte("B")})
	if _, err := AppendVersion(b, 5, []byte("A")); err == nil {
		t.Error("expected error appending version 5 after 10")
	}
	if _, err := AppendVersion(b, 10, []byte("B2")); err == nil {
		t.Error("expected error appending duplicate version")
	}
}

func TestVisibleValue(t *testing.T) {
	b := buildChain(t,
		[]primitives.Version{5, 10, 15},
		[][]byte{[]byte("A"), []byte("B"), AntiValue})

	cases := []struct {
		snapshot primitives.Version
		want     string
		visible  bool
	}{
		{4, "", false},
		{5, "A", true},
		{9, "A", true},
		{10, "B", true},
		{14, "B", true},
		{15, "", false}, // anti-value: deleted at 15
		{100, "", false},
	}
	for _, tc := range cases {
		got, visible, err := VisibleValue(b, tc.snapshot)
		if err != nil {
			t.Fatalf("snapshot %d: %v", tc.snapshot, err)
		}
		if visible != tc.visible {
			t.Errorf("snapshot %d: expected visible=%v, got %v", tc.snapshot, tc.visible, visible)
			continue
		}
		if visible && string(got) != tc.want {
			t.Errorf("snapshot %d: expected %q, got %q", tc.snapshot, tc.want, got)
		}
	}
}

func TestLatestVersion(t *testing.T) {
	if v, _ := LatestVersion([]byte("plain")); v != PrimordialVersion {
		t.Errorf("primordial region: expected version 0, got %d", v)
	}
	b := buildChain(t, []primitives.Version{3, 7}, [][]byte{[]byte("x"), []byte("y")})
	if v, _ := LatestVersion(b); v != 7 {
		t.Errorf("expected latest 7, got %d", v)
	}
}

// Prune with committed(10)=COMMITTED, committed(15)=ABORTED and
// minRequired=8 must collapse {5:"A", 10:"B", 15:anti} to primordial "B".
func TestPrune_CollapsesToPrimordial(t *testing.T) {
	b := buildChain(t,
		[]primitives.Version{5, 10, 15},
		[][]byte{[]byte("A"), []byte("B"), AntiValue})

	oracle := OracleFunc(func(v primitives.Version) primitives.CommitStatus {
		switch v {
		case 15:
			return primitives.StatusAborted
		default:
			return primitives.StatusCommitted
		}
	})

	result, err := Prune(b, oracle, 8)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if result.RemoveKey {
		t.Fatal("key must survive pruning")
	}
	if !result.Changed {
		t.Error("expected Changed to be set")
	}
	if IsMultiVersion(result.Value) {
		t.Error("expected a primordial result")
	}
	if string(result.Value) != "B" {
		t.Errorf("expected primordial \"B\", got %q", result.Value)
	}
}

func TestPrune_AntiValueRemovesKey(t *testing.T) {
	b := buildChain(t,
		[]primitives.Version{5, 10},
		[][]byte{[]byte("A"), AntiValue})

	oracle := OracleFunc(func(primitives.Version) primitives.CommitStatus {
		return primitives.StatusCommitted
	})

	result, err := Prune(b, oracle, 20)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if !result.RemoveKey {
		t.Error("expected RemoveKey for a collapsed anti-value")
	}
}

func TestPrune_LeavesUnknownIntact(t *testing.T) {
	b := buildChain(t,
		[]primitives.Version{5, 10},
		[][]byte{[]byte("A"), []byte("B")})

	oracle := OracleFunc(func(v primitives.Version) primitives.CommitStatus {
		if v == 10 {
			return primitives.StatusUnknown
		}
		return primitives.StatusCommitted
	})

	result, err := Prune(b, oracle, 20)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if result.RemoveKey {
		t.Fatal("key must survive")
	}
	if !IsMultiVersion(result.Value) {
		t.Fatal("chain must remain multi-version while a writer is in flight")
	}
	v := &collectingVisitor{}
	if err := VisitAllVersions(v, result.Value); err != nil {
		t.Fatalf("visit failed: %v", err)
	}
	if len(v.versions) != 2 {
		t.Errorf("expected both entries retained, got versions %v", v.versions)
	}
}

func TestPrune_AllAbortedRemovesKey(t *testing.T) {
	b := buildChain(t, []primitives.Version{5}, [][]byte{[]byte("A")})
	oracle := OracleFunc(func(primitives.Version) primitives.CommitStatus {
		return primitives.StatusAborted
	})
	result, err := Prune(b, oracle, 1)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if !result.RemoveKey {
		t.Error("expected RemoveKey when every version aborted")
	}
}

// Pruning is a monotone refinement: visible values at any snapshot at or
// above the low-water mark are unchanged.
func TestPrune_PreservesSnapshots(t *testing.T) {
	b := buildChain(t,
		[]primitives.Version{2, 6, 11, 13},
		[][]byte{[]byte("v2"), []byte("v6"), []byte("v11"), []byte("v13")})

	oracle := OracleFunc(func(v primitives.Version) primitives.CommitStatus {
		if v == 13 {
			return primitives.StatusUnknown
		}
		return primitives.StatusCommitted
	})

	const minRequired = 12
	before := map[primitives.Version][]byte{}
	for snap := primitives.Version(minRequired); snap <= 16; snap++ {
		v, visible, err := VisibleValue(b, snap)
		if err != nil {
			t.Fatalf("visible before: %v", err)
		}
		if visible {
			before[snap] = append([]byte(nil), v...)
		}
	}

	result, err := Prune(b, oracle, minRequired)
	if err != nil {
		t.Fatalf("prune failed: %v", err)
	}
	if result.RemoveKey {
		t.Fatal("key must survive")
	}

	for snap := primitives.Version(minRequired); snap <= 16; snap++ {
		v, visible, err := VisibleValue(result.Value, snap)
		if err != nil {
			t.Fatalf("visible after: %v", err)
		}
		want, wantVisible := before[snap]
		if visible != wantVisible {
			t.Errorf("snapshot %d: visibility changed by prune", snap)
			continue
		}
		if visible && !bytes.Equal(v, want) {
			t.Errorf("snapshot %d: value changed by prune: %q != %q", snap, v, want)
		}
	}
}
