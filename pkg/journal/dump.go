package journal

import (
	"fmt"
	"io"
	"time"

	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/page"
)

const dumpTimeLayout = "2006/01/02 15:04:05.000"

// DumpVisitor renders one line per record in the journal tool's dump shape:
// address, timestamp, type, size, then type-specific fields. Verbose mode
// expands PM and TM entries.
type DumpVisitor struct {
	Out        io.Writer
	MaxKey     int
	MaxValue   int
	Verbose    bool
	Pages      *RangePredicate
	Timestamps *RangePredicate
}

// NewDumpVisitor applies the historical display defaults.
func NewDumpVisitor(out io.Writer) *DumpVisitor {
	star, _ := ParseRange("*")
	return &DumpVisitor{Out: out, MaxKey: 42, MaxValue: 42, Pages: star, Timestamps: star}
}

func (d *DumpVisitor) line(address primitives.JournalAddress, ts primitives.Timestamp,
	recordType Type, size int, format string, args ...any) error {
	prefix := fmt.Sprintf("%18d%16d %2s (%8d) ", address, ts, recordType, size)
	_, err := fmt.Fprintf(d.Out, prefix+format+"\n", args...)
	return err
}

func (d *DumpVisitor) pad(s string, length int) string {
	const ellipsis = "..."
	if len(s) < length {
		return s + fmt.Sprintf("%*s", length-len(s), "")
	}
	return s[:length-len(ellipsis)] + ellipsis
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format(dumpTimeLayout)
}

// VisitRecord implements Visitor.
func (d *DumpVisitor) VisitRecord(address primitives.JournalAddress, ts primitives.Timestamp,
	recordType Type, decoded any) error {
	switch r := decoded.(type) {
	case JH:
		size := Overhead + jhBodyLen
		return d.line(address, ts, recordType, size,
			"version %3d blockSize %14d baseAddress %18d journalCreated %s fileCreated %s",
			r.Version, r.BlockSize, r.BaseAddress, formatMillis(r.JournalCreated), formatMillis(r.FileCreated))
	case JE:
		return d.line(address, ts, recordType, Overhead+jeBodyLen,
			"baseAddress %18d currentAddress %18d journalCreated %s",
			r.BaseAddress, r.CurrentAddress, formatMillis(r.JournalCreated))
	case IV:
		return d.line(address, ts, recordType, Overhead+12+len(r.Name),
			"handle %05d id %22d name %s", r.Handle, r.VolumeID, r.Name)
	case IT:
		return d.line(address, ts, recordType, Overhead+8+len(r.TreeName),
			"handle %05d volume %05d treeName %s", r.Handle, r.VolumeHandle, r.TreeName)
	case PA:
		pageType := page.TypeUnused
		rightSibling := primitives.PageAddress(0)
		if len(r.Image) >= page.HeaderSize {
			img := page.Wrap(r.Image)
			pageType = img.Type()
			if r.PageAddress != 0 {
				rightSibling = img.RightSibling()
			}
		}
		return d.line(address, ts, recordType, Overhead+paFixedLen+len(r.Image),
			"page %5d:%12d type %10s right %12d",
			r.VolumeHandle, r.PageAddress, page.TypeName(r.PageAddress, pageType), rightSibling)
	case PM:
		if err := d.line(address, ts, recordType, Overhead+len(r.Entries)*PMEntrySize,
			"entries %10d", len(r.Entries)); err != nil {
			return err
		}
		if d.Verbose {
			return d.dumpPageMap(r)
		}
		return nil
	case TM:
		if err := d.line(address, ts, recordType, Overhead+len(r.Entries)*TMEntrySize,
			"entries %10d", len(r.Entries)); err != nil {
			return err
		}
		if d.Verbose {
			return d.dumpTransactionMap(r)
		}
		return nil
	case CP:
		return d.line(address, ts, recordType, Overhead+cpBodyLen,
			"baseAddress %18d at %s", r.BaseAddress, formatMillis(r.SystemTimeMillis))
	case TS:
		return d.line(address, ts, recordType, Overhead+8, "startTimestamp %16d", r.StartTimestamp)
	case TC:
		return d.line(address, ts, recordType, Overhead, "")
	case SR:
		value := displayable(r.Value)
		if page.IsLongRecord(r.Value) {
			if lr, err := page.DecodeLongRecord(r.Value); err == nil {
				value = fmt.Sprintf("LONG_REC size %8d page %12d", lr.Size, lr.Page)
			}
		}
		return d.line(address, ts, recordType, Overhead+srFixedLen+len(r.Key)+len(r.Value),
			"tree %05d keySize %5d valueSize %5d  %s : %s",
			r.TreeHandle, len(r.Key), len(r.Value),
			d.pad(displayable(r.Key), d.MaxKey), d.pad(value, d.MaxValue))
	case DR:
		return d.line(address, ts, recordType, Overhead+drFixedLen+len(r.Key1)+len(r.Key2),
			"tree %05d key1Size %5d key2Size %5d  %s->%s",
			r.TreeHandle, len(r.Key1), len(r.Key2),
			d.pad(displayable(r.Key1), d.MaxKey), d.pad(displayable(r.Key2), d.MaxKey))
	case DT:
		return d.line(address, ts, recordType, Overhead+4, "tree %05d", r.TreeHandle)
	}
	return nil
}

// VisitEOF implements Visitor; an abnormal end of file renders as "~~".
func (d *DumpVisitor) VisitEOF(address primitives.JournalAddress) error {
	_, err := fmt.Fprintf(d.Out, "%18d%16d %2s (%8d) \n", address, 0, "~~", 0)
	return err
}

func (d *DumpVisitor) dumpPageMap(r PM) error {
	lastPage := primitives.PageAddress(-1)
	open := false
	for _, e := range r.Entries {
		if !d.Pages.IsSelected(int64(e.PageAddress)) || !d.Timestamps.IsSelected(int64(e.Timestamp)) {
			continue
		}
		if e.PageAddress != lastPage {
			if open {
				if _, err := fmt.Fprintln(d.Out); err != nil {
					return err
				}
			}
			lastPage = e.PageAddress
			if _, err := fmt.Fprintf(d.Out, "-- %5d:%12d: ", e.VolumeHandle, e.PageAddress); err != nil {
				return err
			}
			open = true
		}
		if _, err := fmt.Fprintf(d.Out, " @%d(%d)", e.JournalAddress, e.Timestamp); err != nil {
			return err
		}
	}
	if open {
		if _, err := fmt.Fprintln(d.Out); err != nil {
			return err
		}
	}
	return nil
}

func (d *DumpVisitor) dumpTransactionMap(r TM) error {
	for _, e := range r.Entries {
		state := "uncommitted"
		if e.Committed {
			state = "committed"
		}
		if _, err := fmt.Fprintf(d.Out, "-- commit %12d start %12d @%18d %s\n",
			e.CommitTimestamp, e.StartTimestamp, e.JournalAddress, state); err != nil {
			return err
		}
	}
	return nil
}

// displayable renders bytes for the dump, keeping printable runs readable.
func displayable(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c >= 0x20 && c < 0x7F {
			out = append(out, c)
		} else {
			out = append(out, fmt.Sprintf("\\x%02x", c)...)
		}
	}
	return string(out)
}
