// Package journal implements the append-only journal: the typed record
// codec, the block/generation file layout, the writer, and the scanner.
//
// Every record carries a fixed 16-byte overhead:
//
//	[0:2]   type, two ASCII letters
//	[2:6]   length, covering overhead plus body
//	[6:14]  timestamp
//	[14:16] checksum, CRC-16/CCITT-FALSE over the body
package journal

import (
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

// Overhead is the fixed per-record header length.
const Overhead = 16

// DefaultBlockSize is the journal block length; files roll at block
// boundaries.
const DefaultBlockSize int64 = 1_000_000_000

// Type is a two-letter record mnemonic packed big-endian.
type Type uint16

const (
	TypeJH Type = 'J'<<8 | 'H' // journal header, first record in each file
	TypeJE Type = 'J'<<8 | 'E' // journal end, logical end of a block
	TypeIV Type = 'I'<<8 | 'V' // identify volume
	TypeIT Type = 'I'<<8 | 'T' // identify tree
	TypePA Type = 'P'<<8 | 'A' // page image
	TypePM Type = 'P'<<8 | 'M' // page map
	TypeTM Type = 'T'<<8 | 'M' // transaction map
	TypeCP Type = 'C'<<8 | 'P' // checkpoint
	TypeTS Type = 'T'<<8 | 'S' // transaction start
	TypeTC Type = 'T'<<8 | 'C' // transaction commit
	TypeSR Type = 'S'<<8 | 'R' // store record
	TypeDR Type = 'D'<<8 | 'R' // delete range
	TypeDT Type = 'D'<<8 | 'T' // drop tree
)

// IsValidType reports whether t is a known record mnemonic.
func IsValidType(t Type) bool {
	switch t {
	case TypeJH, TypeJE, TypeIV, TypeIT, TypePA, TypePM, TypeTM,
		TypeCP, TypeTS, TypeTC, TypeSR, TypeDR, TypeDT:
		return true
	}
	return false
}

func (t Type) String() string {
	return string([]byte{byte(t >> 8), byte(t)})
}

// ParseType converts a two-letter mnemonic.
func ParseType(s string) (Type, error) {
	if len(s) != 2 {
		return 0, errs.Newf(errs.KindInvalidArgument, "record type %q is not two letters", s)
	}
	t := Type(s[0])<<8 | Type(s[1])
	if !IsValidType(t) {
		return 0, errs.Newf(errs.KindInvalidArgument, "unknown record type %q", s)
	}
	return t, nil
}

// Overhead field accessors. b must hold at least Overhead bytes.

// GetType reads the record type.
func GetType(b []byte) Type {
	return Type(binary.BigEndian.Uint16(b))
}

// GetLength reads the record length, overhead included.
func GetLength(b []byte) int {
	return int(binary.BigEndian.Uint32(b[2:]))
}

// GetTimestamp reads the record timestamp.
func GetTimestamp(b []byte) primitives.Timestamp {
	return primitives.Timestamp(binary.BigEndian.Uint64(b[6:]))
}

// GetChecksum reads the stored body checksum.
func GetChecksum(b []byte) uint16 {
	return binary.BigEndian.Uint16(b[14:])
}

// Checksum computes the CRC-16/CCITT-FALSE of body.
func Checksum(body []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, c := range body {
		crc ^= uint16(c) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// encodeRecord assembles overhead plus body into a complete record.
func encodeRecord(t Type, ts primitives.Timestamp, body []byte) []byte {
	out := make([]byte, Overhead+len(body))
	binary.BigEndian.PutUint16(out, uint16(t))
	binary.BigEndian.PutUint32(out[2:], uint32(len(out)))
	binary.BigEndian.PutUint64(out[6:], uint64(ts))
	binary.BigEndian.PutUint16(out[14:], Checksum(body))
	copy(out[Overhead:], body)
	return out
}

// checkRecord validates the overhead of a complete record against an
// expected type, including the body checksum.
func checkRecord(b []byte, expect Type) ([]byte, error) {
	if len(b) < Overhead {
		return nil, errs.Newf(errs.KindCorruptJournal, "record shorter than overhead: %d bytes", len(b))
	}
	if GetType(b) != expect {
		return nil, errs.Newf(errs.KindCorruptJournal, "expected %s record, found %s", expect, GetType(b))
	}
	if GetLength(b) != len(b) {
		return nil, errs.Newf(errs.KindCorruptJournal, "declared length %d does not match %d bytes", GetLength(b), len(b))
	}
	body := b[Overhead:]
	if Checksum(body) != GetChecksum(b) {
		return nil, errs.Newf(errs.KindCorruptJournal, "checksum mismatch on %s record", expect)
	}
	return body, nil
}
