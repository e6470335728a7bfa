package task

import (
	"io"

	"keelstore/pkg/journal"
	"keelstore/pkg/primitives"
)

// jscanTemplate declares the journal scanner's arguments.
var jscanTemplate = Template{
	Args: []ArgSpec{
		{Name: "path", Kind: KindString, Help: "Journal file name"},
		{Name: "start", Kind: KindLong, Default: "0", Min: 0, Max: 10_000_000_000_000, Help: "Start journal address"},
		{Name: "end", Kind: KindLong, Default: "1000000000000000000", Min: 0, Max: 1_000_000_000_000_000_000, Help: "End journal address"},
		{Name: "types", Kind: KindString, Default: "*", Help: "Selected record types, for example, \"PA,PM,CP\""},
		{Name: "pages", Kind: KindString, Default: "*", Help: "Selected pages, for example, \"0,1,200-299,33333-\""},
		{Name: "timestamps", Kind: KindString, Default: "*", Help: "Selected timestamps, for example, \"132466-132499\""},
		{Name: "maxkey", Kind: KindInt, Default: "42", Min: 4, Max: 10_000, Help: "Maximum displayed key length"},
		{Name: "maxvalue", Kind: KindInt, Default: "42", Min: 4, Max: 100_000, Help: "Maximum displayed value length"},
	},
	Flags: "v",
}

// JournalScanTask dumps a journal range, one line per selected record.
type JournalScanTask struct {
	Base
	scanner *journal.Scanner
	dump    *journal.DumpVisitor
}

// NewJournalScanTask parses jscan arguments.
func NewJournalScanTask(tokens []string, out io.Writer) (*JournalScanTask, error) {
	parsed, err := jscanTemplate.Parse(tokens)
	if err != nil {
		return nil, err
	}

	t := &JournalScanTask{Base: newBase("jscan", out, parsed.IsFlag('v'))}
	t.scanner, err = journal.NewScanner(journal.ScanOptions{
		Path:       parsed.String("path"),
		Start:      primitives.JournalAddress(parsed.Long("start")),
		End:        primitives.JournalAddress(parsed.Long("end")),
		Types:      parsed.String("types"),
		Pages:      parsed.String("pages"),
		Timestamps: parsed.String("timestamps"),
		ShouldStop: t.Stopped,
	})
	if err != nil {
		return nil, err
	}

	pages, err := journal.ParseRange(parsed.String("pages"))
	if err != nil {
		return nil, err
	}
	timestamps, err := journal.ParseRange(parsed.String("timestamps"))
	if err != nil {
		return nil, err
	}
	t.dump = journal.NewDumpVisitor(out)
	t.dump.MaxKey = parsed.Int("maxkey")
	t.dump.MaxValue = parsed.Int("maxvalue")
	t.dump.Verbose = parsed.IsFlag('v')
	t.dump.Pages = pages
	t.dump.Timestamps = timestamps
	return t, nil
}

// Run scans and dumps.
func (t *JournalScanTask) Run() error {
	return t.scanner.Scan(t.dump)
}
