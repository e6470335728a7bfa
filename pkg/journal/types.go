package journal

import (
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

// JH is the journal header, the first record in each file.
type JH struct {
	Version        uint32
	BlockSize      int64
	BaseAddress    primitives.JournalAddress
	JournalCreated int64
	FileCreated    int64
}

// JournalVersion identifies the record layout written by this engine.
const JournalVersion = 1

const jhBodyLen = 36

// Encode renders the record with its overhead.
func (r JH) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, jhBodyLen)
	binary.BigEndian.PutUint32(body, r.Version)
	binary.BigEndian.PutUint64(body[4:], uint64(r.BlockSize))
	binary.BigEndian.PutUint64(body[12:], uint64(r.BaseAddress))
	binary.BigEndian.PutUint64(body[20:], uint64(r.JournalCreated))
	binary.BigEndian.PutUint64(body[28:], uint64(r.FileCreated))
	return encodeRecord(TypeJH, ts, body)
}

// DecodeJH parses a complete JH record.
func DecodeJH(b []byte) (JH, error) {
	body, err := checkRecord(b, TypeJH)
	if err != nil {
		return JH{}, err
	}
	if len(body) != jhBodyLen {
		return JH{}, errs.Newf(errs.KindCorruptJournal, "JH body is %d bytes", len(body))
	}
	return JH{
		Version:        binary.BigEndian.Uint32(body),
		BlockSize:      int64(binary.BigEndian.Uint64(body[4:])),
		BaseAddress:    primitives.JournalAddress(binary.BigEndian.Uint64(body[12:])),
		JournalCreated: int64(binary.BigEndian.Uint64(body[20:])),
		FileCreated:    int64(binary.BigEndian.Uint64(body[28:])),
	}, nil
}

// JE marks the logical end of a block.
type JE struct {
	BaseAddress    primitives.JournalAddress
	CurrentAddress primitives.JournalAddress
	JournalCreated int64
}

const jeBodyLen = 24

func (r JE) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, jeBodyLen)
	binary.BigEndian.PutUint64(body, uint64(r.BaseAddress))
	binary.BigEndian.PutUint64(body[8:], uint64(r.CurrentAddress))
	binary.BigEndian.PutUint64(body[16:], uint64(r.JournalCreated))
	return encodeRecord(TypeJE, ts, body)
}

// DecodeJE parses a complete JE record.
func DecodeJE(b []byte) (JE, error) {
	body, err := checkRecord(b, TypeJE)
	if err != nil {
		return JE{}, err
	}
	if len(body) != jeBodyLen {
		return JE{}, errs.Newf(errs.KindCorruptJournal, "JE body is %d bytes", len(body))
	}
	return JE{
		BaseAddress:    primitives.JournalAddress(binary.BigEndian.Uint64(body)),
		CurrentAddress: primitives.JournalAddress(binary.BigEndian.Uint64(body[8:])),
		JournalCreated: int64(binary.BigEndian.Uint64(body[16:])),
	}, nil
}

// IV assigns a compact handle to a volume for the life of the journal.
type IV struct {
	Handle   primitives.VolumeHandle
	VolumeID int64
	Name     string
}

func (r IV) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, 12+len(r.Name))
	binary.BigEndian.PutUint32(body, uint32(r.Handle))
	binary.BigEndian.PutUint64(body[4:], uint64(r.VolumeID))
	copy(body[12:], r.Name)
	return encodeRecord(TypeIV, ts, body)
}

// DecodeIV parses a complete IV record.
func DecodeIV(b []byte) (IV, error) {
	body, err := checkRecord(b, TypeIV)
	if err != nil {
		return IV{}, err
	}
	if len(body) < 12 {
		return IV{}, errs.Newf(errs.KindCorruptJournal, "IV body is %d bytes", len(body))
	}
	return IV{
		Handle:   primitives.VolumeHandle(binary.BigEndian.Uint32(body)),
		VolumeID: int64(binary.BigEndian.Uint64(body[4:])),
		Name:     string(body[12:]),
	}, nil
}

// IT assigns a compact handle to a tree for the life of the journal.
type IT struct {
	Handle       primitives.TreeHandle
	VolumeHandle primitives.VolumeHandle
	TreeName     string
}

func (r IT) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, 8+len(r.TreeName))
	binary.BigEndian.PutUint32(body, uint32(r.Handle))
	binary.BigEndian.PutUint32(body[4:], uint32(r.VolumeHandle))
	copy(body[8:], r.TreeName)
	return encodeRecord(TypeIT, ts, body)
}

// DecodeIT parses a complete IT record.
func DecodeIT(b []byte) (IT, error) {
	body, err := checkRecord(b, TypeIT)
	if err != nil {
		return IT{}, err
	}
	if len(body) < 8 {
		return IT{}, errs.Newf(errs.KindCorruptJournal, "IT body is %d bytes", len(body))
	}
	return IT{
		Handle:       primitives.TreeHandle(binary.BigEndian.Uint32(body)),
		VolumeHandle: primitives.VolumeHandle(binary.BigEndian.Uint32(body[4:])),
		TreeName:     string(body[8:]),
	}, nil
}

// PA carries a full page image.
type PA struct {
	VolumeHandle primitives.VolumeHandle
	PageAddress  primitives.PageAddress
	Image        []byte
}

const paFixedLen = 12

func (r PA) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, paFixedLen+len(r.Image))
	binary.BigEndian.PutUint32(body, uint32(r.VolumeHandle))
	binary.BigEndian.PutUint64(body[4:], uint64(r.PageAddress))
	copy(body[paFixedLen:], r.Image)
	return encodeRecord(TypePA, ts, body)
}

// DecodePA parses a complete PA record.
func DecodePA(b []byte) (PA, error) {
	body, err := checkRecord(b, TypePA)
	if err != nil {
		return PA{}, err
	}
	if len(body) < paFixedLen {
		return PA{}, errs.Newf(errs.KindCorruptJournal, "PA body is %d bytes", len(body))
	}
	return PA{
		VolumeHandle: primitives.VolumeHandle(binary.BigEndian.Uint32(body)),
		PageAddress:  primitives.PageAddress(binary.BigEndian.Uint64(body[4:])),
		Image:        body[paFixedLen:],
	}, nil
}

// PMEntry maps one page version to its journal address.
type PMEntry struct {
	VolumeHandle   primitives.VolumeHandle
	PageAddress    primitives.PageAddress
	Timestamp      primitives.Timestamp
	JournalAddress primitives.JournalAddress
}

// PMEntrySize is the fixed width of one page map entry.
const PMEntrySize = 28

// PM is the page map: the recovery index from pages to PA records.
type PM struct {
	Entries []PMEntry
}

func (r PM) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, len(r.Entries)*PMEntrySize)
	for i, e := range r.Entries {
		off := i * PMEntrySize
		binary.BigEndian.PutUint32(body[off:], uint32(e.VolumeHandle))
		binary.BigEndian.PutUint64(body[off+4:], uint64(e.PageAddress))
		binary.BigEndian.PutUint64(body[off+12:], uint64(e.Timestamp))
		binary.BigEndian.PutUint64(body[off+20:], uint64(e.JournalAddress))
	}
	return encodeRecord(TypePM, ts, body)
}

// DecodePM parses a complete PM record, requiring an exact entry multiple.
func DecodePM(b []byte) (PM, error) {
	body, err := checkRecord(b, TypePM)
	if err != nil {
		return PM{}, err
	}
	if len(body)%PMEntrySize != 0 {
		return PM{}, errs.Newf(errs.KindCorruptJournal,
			"PM body of %d bytes is not a multiple of the %d-byte entry size", len(body), PMEntrySize)
	}
	entries := make([]PMEntry, len(body)/PMEntrySize)
	for i := range entries {
		off := i * PMEntrySize
		entries[i] = PMEntry{
			VolumeHandle:   primitives.VolumeHandle(binary.BigEndian.Uint32(body[off:])),
			PageAddress:    primitives.PageAddress(binary.BigEndian.Uint64(body[off+4:])),
			Timestamp:      primitives.Timestamp(binary.BigEndian.Uint64(body[off+12:])),
			JournalAddress: primitives.JournalAddress(binary.BigEndian.Uint64(body[off+20:])),
		}
	}
	return PM{Entries: entries}, nil
}

// TMEntry records one transaction's disposition.
type TMEntry struct {
	StartTimestamp  primitives.Timestamp
	CommitTimestamp primitives.Timestamp
	JournalAddress  primitives.JournalAddress
	Committed       bool
}

// TMEntrySize is the fixed width of one transaction map entry.
const TMEntrySize = 25

// TM is the transaction map.
type TM struct {
	Entries []TMEntry
}

func (r TM) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, len(r.Entries)*TMEntrySize)
	for i, e := range r.Entries {
		off := i * TMEntrySize
		binary.BigEndian.PutUint64(body[off:], uint64(e.StartTimestamp))
		binary.BigEndian.PutUint64(body[off+8:], uint64(e.CommitTimestamp))
		binary.BigEndian.PutUint64(body[off+16:], uint64(e.JournalAddress))
		if e.Committed {
			body[off+24] = 1
		}
	}
	return encodeRecord(TypeTM, ts, body)
}

// DecodeTM parses a complete TM record, requiring an exact entry multiple.
func DecodeTM(b []byte) (TM, error) {
	body, err := checkRecord(b, TypeTM)
	if err != nil {
		return TM{}, err
	}
	if len(body)%TMEntrySize != 0 {
		return TM{}, errs.Newf(errs.KindCorruptJournal,
			"TM body of %d bytes is not a multiple of the %d-byte entry size", len(body), TMEntrySize)
	}
	entries := make([]TMEntry, len(body)/TMEntrySize)
	for i := range entries {
		off := i * TMEntrySize
		entries[i] = TMEntry{
			StartTimestamp:  primitives.Timestamp(binary.BigEndian.Uint64(body[off:])),
			CommitTimestamp: primitives.Timestamp(binary.BigEndian.Uint64(body[off+8:])),
			JournalAddress:  primitives.JournalAddress(binary.BigEndian.Uint64(body[off+16:])),
			Committed:       body[off+24] != 0,
		}
	}
	return TM{Entries: entries}, nil
}

// CP is a checkpoint: committed pages below BaseAddress are durable in
// their volume files.
type CP struct {
	BaseAddress      primitives.JournalAddress
	SystemTimeMillis int64
}

const cpBodyLen = 16

func (r CP) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, cpBodyLen)
	binary.BigEndian.PutUint64(body, uint64(r.BaseAddress))
	binary.BigEndian.PutUint64(body[8:], uint64(r.SystemTimeMillis))
	return encodeRecord(TypeCP, ts, body)
}

// DecodeCP parses a complete CP record.
func DecodeCP(b []byte) (CP, error) {
	body, err := checkRecord(b, TypeCP)
	if err != nil {
		return CP{}, err
	}
	if len(body) != cpBodyLen {
		return CP{}, errs.Newf(errs.KindCorruptJournal, "CP body is %d bytes", len(body))
	}
	return CP{
		BaseAddress:      primitives.JournalAddress(binary.BigEndian.Uint64(body)),
		SystemTimeMillis: int64(binary.BigEndian.Uint64(body[8:])),
	}, nil
}

// TS opens a transaction.
type TS struct {
	StartTimestamp primitives.Timestamp
}

func (r TS) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, uint64(r.StartTimestamp))
	return encodeRecord(TypeTS, ts, body)
}

// DecodeTS parses a complete TS record.
func DecodeTS(b []byte) (TS, error) {
	body, err := checkRecord(b, TypeTS)
	if err != nil {
		return TS{}, err
	}
	if len(body) != 8 {
		return TS{}, errs.Newf(errs.KindCorruptJournal, "TS body is %d bytes", len(body))
	}
	return TS{StartTimestamp: primitives.Timestamp(binary.BigEndian.Uint64(body))}, nil
}

// TC commits a transaction; the overhead timestamp carries the commit time.
type TC struct{}

func (r TC) Encode(ts primitives.Timestamp) []byte {
	return encodeRecord(TypeTC, ts, nil)
}

// DecodeTC parses a complete TC record.
func DecodeTC(b []byte) (TC, error) {
	if _, err := checkRecord(b, TypeTC); err != nil {
		return TC{}, err
	}
	return TC{}, nil
}

// SR stores a key/value pair in a tree.
type SR struct {
	TreeHandle primitives.TreeHandle
	Key        []byte
	Value      []byte
}

const srFixedLen = 6

func (r SR) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, srFixedLen+len(r.Key)+len(r.Value))
	binary.BigEndian.PutUint32(body, uint32(r.TreeHandle))
	binary.BigEndian.PutUint16(body[4:], uint16(len(r.Key)))
	copy(body[srFixedLen:], r.Key)
	copy(body[srFixedLen+len(r.Key):], r.Value)
	return encodeRecord(TypeSR, ts, body)
}

// DecodeSR parses a complete SR record.
func DecodeSR(b []byte) (SR, error) {
	body, err := checkRecord(b, TypeSR)
	if err != nil {
		return SR{}, err
	}
	if len(body) < srFixedLen {
		return SR{}, errs.Newf(errs.KindCorruptJournal, "SR body is %d bytes", len(body))
	}
	keySize := int(binary.BigEndian.Uint16(body[4:]))
	if srFixedLen+keySize > len(body) {
		return SR{}, errs.Newf(errs.KindCorruptJournal, "SR key size %d overruns body", keySize)
	}
	return SR{
		TreeHandle: primitives.TreeHandle(binary.BigEndian.Uint32(body)),
		Key:        body[srFixedLen : srFixedLen+keySize],
		Value:      body[srFixedLen+keySize:],
	}, nil
}

// DR deletes the key range [Key1, Key2].
type DR struct {
	TreeHandle primitives.TreeHandle
	Key1       []byte
	Key2       []byte
}

const drFixedLen = 6

func (r DR) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, drFixedLen+len(r.Key1)+len(r.Key2))
	binary.BigEndian.PutUint32(body, uint32(r.TreeHandle))
	binary.BigEndian.PutUint16(body[4:], uint16(len(r.Key1)))
	copy(body[drFixedLen:], r.Key1)
	copy(body[drFixedLen+len(r.Key1):], r.Key2)
	return encodeRecord(TypeDR, ts, body)
}

// DecodeDR parses a complete DR record.
func DecodeDR(b []byte) (DR, error) {
	body, err := checkRecord(b, TypeDR)
	if err != nil {
		return DR{}, err
	}
	if len(body) < drFixedLen {
		return DR{}, errs.Newf(errs.KindCorruptJournal, "DR body is %d bytes", len(body))
	}
	key1Size := int(binary.BigEndian.Uint16(body[4:]))
	if drFixedLen+key1Size > len(body) {
		return DR{}, errs.Newf(errs.KindCorruptJournal, "DR key1 size %d overruns body", key1Size)
	}
	return DR{
		TreeHandle: primitives.TreeHandle(binary.BigEndian.Uint32(body)),
		Key1:       body[drFixedLen : drFixedLen+key1Size],
		Key2:       body[drFixedLen+key1Size:],
	}, nil
}

// DT drops a tree.
type DT struct {
	TreeHandle primitives.TreeHandle
}

func (r DT) Encode(ts primitives.Timestamp) []byte {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, uint32(r.TreeHandle))
	return encodeRecord(TypeDT, ts, body)
}

// DecodeDT parses a complete DT record.
func DecodeDT(b []byte) (DT, error) {
	body, err := checkRecord(b, TypeDT)
	if err != nil {
		return DT{}, err
	}
	if len(body) != 4 {
		return DT{}, errs.Newf(errs.KindCorruptJournal, "DT body is %d bytes", len(body))
	}
	return DT{TreeHandle: primitives.TreeHandle(binary.BigEndian.Uint32(body))}, nil
}
