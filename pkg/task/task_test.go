package task

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keelstore/pkg/config"
	"keelstore/pkg/engine"
	"keelstore/pkg/journal"
	"keelstore/pkg/storage/key"
	"keelstore/pkg/verify"
)

func TestTemplate_Parse(t *testing.T) {
	template := Template{
		Args: []ArgSpec{
			{Name: "trees", Kind: KindString, Default: "*"},
			{Name: "limit", Kind: KindInt, Default: "10", Min: 1, Max: 100},
		},
		Flags: "rv",
	}

	parsed, err := template.Parse([]string{"trees=main:acc*", "limit=50", "rv"})
	require.NoError(t, err)
	assert.Equal(t, "main:acc*", parsed.String("trees"))
	assert.Equal(t, 50, parsed.Int("limit"))
	assert.True(t, parsed.IsFlag('r'))
	assert.True(t, parsed.IsFlag('v'))
	assert.False(t, parsed.IsDefault("trees"))

	parsed, err = template.Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, "*", parsed.String("trees"))
	assert.True(t, parsed.IsDefault("trees"))
	assert.False(t, parsed.IsFlag('r'))
}

func TestTemplate_ParseErrors(t *testing.T) {
	template := Template{
		Args:  []ArgSpec{{Name: "limit", Kind: KindInt, Default: "10", Min: 1, Max: 100}},
		Flags: "v",
	}
	cases := [][]string{
		{"unknown=1"},
		{"limit=abc"},
		{"limit=0"},
		{"limit=101"},
		{"x"},
	}
	for _, tokens := range cases {
		if _, err := template.Parse(tokens); err == nil {
			t.Errorf("tokens %v accepted", tokens)
		}
	}
}

func TestSelector_Glob(t *testing.T) {
	s, err := ParseSelector("main:acc*,aux", false)
	require.NoError(t, err)

	assert.False(t, s.IsSelectAll())
	assert.True(t, s.SelectsTree("main", "accounts"))
	assert.False(t, s.SelectsTree("main", "orders"))
	assert.True(t, s.SelectsWholeVolume("aux"))
	assert.False(t, s.SelectsWholeVolume("main"))
	assert.True(t, s.SelectsTree("aux", "anything"))
	assert.False(t, s.SelectsVolume("other"))
}

func TestSelector_Regex(t *testing.T) {
	s, err := ParseSelector("main:acc.*[0-9]", true)
	require.NoError(t, err)
	assert.True(t, s.SelectsTree("main", "accounts9"))
	assert.False(t, s.SelectsTree("main", "accounts"))

	_, err = ParseSelector("main:[", true)
	assert.Error(t, err)
}

func TestSelector_Star(t *testing.T) {
	s, err := ParseSelector("*", false)
	require.NoError(t, err)
	assert.True(t, s.IsSelectAll())
	assert.True(t, s.SelectsTree("any", "thing"))
}

func taskEngine(t *testing.T) *engine.Engine {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Config{
		VolumePath:       filepath.Join(dir, "task.v01"),
		JournalPath:      filepath.Join(dir, "task_journal"),
		PageSize:         1024,
		BufferCount:      64,
		JournalBlockSize: journal.DefaultBlockSize,
	}
	e, err := engine.Open(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func TestIntegrityCheckTask_CleanEngine(t *testing.T) {
	e := taskEngine(t)
	_, err := e.CreateTree("t1")
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		require.NoError(t, e.Store("t1", key.EncodeString(fmt.Sprintf("k%04d", i)), []byte("v")))
	}

	var out bytes.Buffer
	// u: skip the settlement wait in tests.
	task, err := NewIntegrityCheckTask(e, nil, []string{"trees=*", "u", "c"}, &out)
	require.NoError(t, err)
	require.NoError(t, task.Run())

	require.NotNil(t, task.Check())
	assert.False(t, task.Check().HasFaults(), "faults: %v", task.Check().Faults())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, "Volume,Tree,Faults,"+verify.CSVHeaders, lines[0])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "\"*\",\"*\",0,"),
		"unexpected total line %q", lines[len(lines)-1])
}

func TestIntegrityCheckTask_PruneAndClearRequiresAllTrees(t *testing.T) {
	e := taskEngine(t)
	var out bytes.Buffer
	task, err := NewIntegrityCheckTask(e, nil, []string{"trees=main:x", "P", "u"}, &out)
	require.NoError(t, err)
	err = task.Run()
	require.Error(t, err)
	assert.Contains(t, out.String(), "requires all trees")
}

func TestJournalScanTask_Dump(t *testing.T) {
	e := taskEngine(t)
	_, err := e.CreateTree("t1")
	require.NoError(t, err)
	require.NoError(t, e.Store("t1", key.EncodeString("k"), []byte("v")))
	require.NoError(t, e.Close())

	base := filepath.Join(filepath.Dir(e.Volume().Path()), "task_journal")
	var out bytes.Buffer
	task, err := NewJournalScanTask([]string{"path=" + base, "types=TS,SR,TC"}, &out)
	require.NoError(t, err)
	require.NoError(t, task.Run())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], " TS ")
	assert.Contains(t, lines[1], " SR ")
	assert.Contains(t, lines[2], " TC ")
}

func TestJournalScanTask_RequiresPath(t *testing.T) {
	var out bytes.Buffer
	_, err := NewJournalScanTask(nil, &out)
	require.Error(t, err)
}
