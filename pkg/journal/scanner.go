package journal

import (
	"errors"
	"io"
	"os"
	"strings"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

// Visitor receives each selected record during a scan. Decoded is one of
// the record structs (JH, JE, IV, IT, PA, PM, TM, CP, TS, TC, SR, DR, DT).
type Visitor interface {
	VisitRecord(address primitives.JournalAddress, ts primitives.Timestamp, recordType Type, decoded any) error
	// VisitEOF marks an abnormal end of file inside a block, as left by a
	// producer crash.
	VisitEOF(address primitives.JournalAddress) error
}

// ScanOptions configure a journal scan. Types, Pages and Timestamps follow
// the RangePredicate and mnemonic-list grammars; "*" selects everything.
type ScanOptions struct {
	Path       string
	Start      primitives.JournalAddress
	End        primitives.JournalAddress
	Types      string
	Pages      string
	Timestamps string
	BlockSize  int64
	ShouldStop func() bool
}

// Scanner reads a journal file range sequentially, applying type, page and
// timestamp filters and dispatching records to a Visitor.
type Scanner struct {
	base       string
	blockSize  int64
	sawJH      bool
	start, end primitives.JournalAddress
	types      map[Type]bool
	pages      *RangePredicate
	timestamps *RangePredicate
	shouldStop func() bool
	files      map[int64]*os.File
}

var (
	errEndOfJournal = errors.New("end of journal")
	errShortRead    = errors.New("short read")
)

// NewScanner validates options and prepares a scan. When Path names a
// specific generation file, the scan range defaults to that block.
func NewScanner(opts ScanOptions) (*Scanner, error) {
	if opts.Path == "" {
		return nil, errs.New(errs.KindInvalidArgument,
			"the path option must name a journal base, for example /xxx/yyy/jjj for files like jjj.000000001234")
	}
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	s := &Scanner{
		base:       opts.Path,
		blockSize:  blockSize,
		start:      opts.Start,
		end:        opts.End,
		shouldStop: opts.ShouldStop,
		files:      make(map[int64]*os.File),
	}
	if s.end == 0 {
		s.end = primitives.JournalAddress(int64(1) << 62)
	}
	if generation := FileToGeneration(opts.Path); generation >= 0 {
		s.base = BaseFromFile(opts.Path)
		if opts.Start == 0 {
			s.start = primitives.JournalAddress(generation * blockSize)
		}
		if opts.End == 0 {
			s.end = primitives.JournalAddress((generation + 1) * blockSize)
		}
	}

	if opts.Types != "" && opts.Types != "*" {
		s.types = make(map[Type]bool)
		for _, name := range splitList(opts.Types) {
			t, err := ParseType(name)
			if err != nil {
				return nil, err
			}
			s.types[t] = true
		}
	}
	var err error
	if s.pages, err = ParseRange(orStar(opts.Pages)); err != nil {
		return nil, err
	}
	if s.timestamps, err = ParseRange(orStar(opts.Timestamps)); err != nil {
		return nil, err
	}
	return s, nil
}

func orStar(s string) string {
	if s == "" {
		return "*"
	}
	return s
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Scan walks the configured range. The scan ends cleanly at the end
// address, at a missing journal file, or when ShouldStop reports true;
// structural damage surfaces as a CorruptJournal error.
func (s *Scanner) Scan(visitor Visitor) error {
	defer s.closeFiles()
	current := s.start
	for current < s.end {
		if s.shouldStop != nil && s.shouldStop() {
			return nil
		}
		next, recordType, err := s.scanOneRecord(current, visitor)
		switch {
		case errors.Is(err, errEndOfJournal):
			return nil
		case errors.Is(err, errShortRead):
			if err := visitor.VisitEOF(current); err != nil {
				return err
			}
			current = AddressUp(current, s.blockSize)
			continue
		case err != nil:
			return err
		}
		current = next
		if recordType == TypeJE {
			current = AddressUp(current, s.blockSize)
		}
	}
	return nil
}

// scanOneRecord reads, validates, filters and dispatches the record at
// address, returning the address of the next record.
func (s *Scanner) scanOneRecord(address primitives.JournalAddress, visitor Visitor) (primitives.JournalAddress, Type, error) {
	header, err := s.read(address, Overhead)
	if err != nil {
		return 0, 0, err
	}
	length := GetLength(header)
	recordType := GetType(header)
	ts := GetTimestamp(header)

	if length < Overhead || int64(length) >= s.blockSize {
		return 0, 0, errs.Newf(errs.KindCorruptJournal,
			"bad record length %d at journal address %d{%d}", length, address, ts)
	}
	if !IsValidType(recordType) {
		return 0, 0, errs.Newf(errs.KindCorruptJournal,
			"invalid record type %d at journal address %d", recordType, address)
	}

	full, err := s.read(address, length)
	if err != nil {
		return 0, 0, err
	}

	if s.selected(recordType, ts) {
		decoded, err := s.decode(recordType, full)
		if err != nil {
			return 0, 0, err
		}
		skip := false
		if pa, ok := decoded.(PA); ok && !s.pages.IsSelected(int64(pa.PageAddress)) {
			skip = true
		}
		if !skip {
			if err := visitor.VisitRecord(address, ts, recordType, decoded); err != nil {
				return 0, 0, err
			}
		}
	}
	return address + primitives.JournalAddress(length), recordType, nil
}

// selected applies the type filter and, for the per-operation record types,
// the timestamp filter.
func (s *Scanner) selected(recordType Type, ts primitives.Timestamp) bool {
	if s.types != nil && !s.types[recordType] {
		return false
	}
	switch recordType {
	case TypeSR, TypeDR, TypeDT, TypePA, TypeTS, TypeTC, TypeCP:
		return s.timestamps.IsSelected(int64(ts))
	}
	return true
}

func (s *Scanner) decode(recordType Type, full []byte) (any, error) {
	switch recordType {
	case TypeJH:
		jh, err := DecodeJH(full)
		if err != nil {
			return nil, err
		}
		// Each file header re-declares the block size; a disagreement
		// between files makes address arithmetic meaningless.
		if s.sawJH && jh.BlockSize != s.blockSize {
			return nil, errs.Newf(errs.KindCorruptJournal,
				"JH declares block size %d but the journal started with %d", jh.BlockSize, s.blockSize)
		}
		if !s.sawJH {
			s.blockSize = jh.BlockSize
			s.sawJH = true
		}
		return jh, nil
	case TypeJE:
		return DecodeJE(full)
	case TypeIV:
		return DecodeIV(full)
	case TypeIT:
		return DecodeIT(full)
	case TypePA:
		return DecodePA(full)
	case TypePM:
		return DecodePM(full)
	case TypeTM:
		return DecodeTM(full)
	case TypeCP:
		return DecodeCP(full)
	case TypeTS:
		return DecodeTS(full)
	case TypeTC:
		return DecodeTC(full)
	case TypeSR:
		return DecodeSR(full)
	case TypeDR:
		return DecodeDR(full)
	case TypeDT:
		return DecodeDT(full)
	}
	return nil, errs.Newf(errs.KindCorruptJournal, "invalid record type %d", recordType)
}

// read returns size bytes at address, classifying a missing file as end of
// journal and a truncated record as a short read.
func (s *Scanner) read(address primitives.JournalAddress, size int) ([]byte, error) {
	generation := Generation(address, s.blockSize)
	file, ok := s.files[generation]
	if !ok {
		var err error
		file, err = os.Open(GenerationToFile(s.base, generation))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, errEndOfJournal
			}
			return nil, errs.Wrap(err, errs.KindIO, "read", "JournalScanner")
		}
		s.files[generation] = file
	}

	buf := make([]byte, size)
	n, err := file.ReadAt(buf, FileOffset(address, s.blockSize))
	if n == size {
		// ReadAt may pair a full read at the end of file with io.EOF.
		return buf, nil
	}
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errShortRead
		}
		return nil, errs.Wrap(err, errs.KindIO, "read", "JournalScanner")
	}
	return buf, nil
}

func (s *Scanner) closeFiles() {
	for _, file := range s.files {
		file.Close()
	}
	s.files = make(map[int64]*os.File)
}
