package page

import (
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

// A long record descriptor replaces a value too large for its page. The full
// value is the descriptor's prefix bytes followed by the bodies of a chain
// of LONG_RECORD pages linked by right sibling pointers.
//
// Descriptor layout (25 bytes):
//
//	[0]     LongRecType
//	[1:4]   reserved
//	[4:8]   total value size, uint32
//	[8:16]  first chain page, uint64
//	[16:25] prefix bytes
const (
	LongRecType       = 0xFD
	LongRecSize       = 25
	LongRecPrefixSize = 9
)

// LongRecord is a decoded long record descriptor.
type LongRecord struct {
	Size   int
	Page   primitives.PageAddress
	Prefix [LongRecPrefixSize]byte
}

// IsLongRecord reports whether payload is a long record descriptor.
func IsLongRecord(payload []byte) bool {
	return len(payload) == LongRecSize && payload[0] == LongRecType
}

// EncodeLongRecord renders a descriptor as a page payload.
func EncodeLongRecord(lr LongRecord) []byte {
	out := make([]byte, LongRecSize)
	out[0] = LongRecType
	binary.BigEndian.PutUint32(out[4:], uint32(lr.Size))
	binary.BigEndian.PutUint64(out[8:], uint64(lr.Page))
	copy(out[16:], lr.Prefix[:])
	return out
}

// DecodeLongRecord parses a descriptor payload.
func DecodeLongRecord(payload []byte) (LongRecord, error) {
	if !IsLongRecord(payload) {
		return LongRecord{}, errs.Newf(errs.KindCorruptVolume,
			"payload of %d bytes is not a long record descriptor", len(payload))
	}
	lr := LongRecord{
		Size: int(binary.BigEndian.Uint32(payload[4:])),
		Page: primitives.PageAddress(binary.BigEndian.Uint64(payload[8:])),
	}
	copy(lr.Prefix[:], payload[16:])
	return lr, nil
}

// NextLongRecord scans data page slots at or after slot for the next long
// record descriptor. It returns the slot holding the descriptor; ok is false
// when no further descriptor exists.
func (p *Page) NextLongRecord(slot int) (int, LongRecord, bool) {
	count := p.KeyblockCount()
	for ; slot < count; slot++ {
		payload := p.tailPayload(p.keyblockAt(slot).tbl())
		if IsLongRecord(payload) {
			lr, err := DecodeLongRecord(payload)
			if err == nil {
				return slot, lr, true
			}
		}
	}
	return count, LongRecord{}, false
}
