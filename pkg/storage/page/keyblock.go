package page

import (
	"encoding/binary"
)

// A keyblock packs three bitfields into 32 bits:
//
//	EBC  bits 22..31  elided byte count against the previous key
//	DB   bits 14..21  discriminator: the key byte at position EBC
//	TBL  bits  0..13  offset of the tail block within the page
//
// The 14-bit TBL covers the largest supported page size; the 10-bit EBC
// bounds key length at 1023 bytes.
type keyblock uint32

const (
	tblBits = 14
	dbBits  = 8

	tblMask = 1<<tblBits - 1
	dbMask  = (1<<dbBits - 1) << tblBits
	ebcMask = ^uint32(tblMask | dbMask)

	// MaxElidedBytes is the largest EBC value a keyblock can record.
	MaxElidedBytes = 1<<10 - 1
)

func makeKeyblock(ebc int, db byte, tbl int) keyblock {
	return keyblock(uint32(ebc)<<(tblBits+dbBits) | uint32(db)<<tblBits | uint32(tbl))
}

func (kb keyblock) ebc() int { return int(uint32(kb) >> (tblBits + dbBits)) }
func (kb keyblock) db() byte { return byte(uint32(kb) >> tblBits) }
func (kb keyblock) tbl() int { return int(uint32(kb) & tblMask) }

// KeyblockCount returns the number of keys on the page.
func (p *Page) KeyblockCount() int {
	return (p.KeyBlockEnd() - KeyBlockStart) / KeyblockLength
}

func (p *Page) keyblockAt(slot int) keyblock {
	off := KeyBlockStart + slot*KeyblockLength
	return keyblock(binary.BigEndian.Uint32(p.buf[off:]))
}

func (p *Page) setKeyblockAt(slot int, kb keyblock) {
	off := KeyBlockStart + slot*KeyblockLength
	binary.BigEndian.PutUint32(p.buf[off:], uint32(kb))
}

// EBCAt returns the elided byte count recorded for slot.
func (p *Page) EBCAt(slot int) int { return p.keyblockAt(slot).ebc() }

// DBAt returns the discriminator byte recorded for slot.
func (p *Page) DBAt(slot int) byte { return p.keyblockAt(slot).db() }

// Tail block layout: used uint16 (exact bytes including this header),
// klength uint16 (count of key bytes stored), key bytes, payload bytes.

func (p *Page) tailUsed(tbl int) int {
	return int(binary.BigEndian.Uint16(p.buf[tbl:]))
}

func (p *Page) tailKLength(tbl int) int {
	return int(binary.BigEndian.Uint16(p.buf[tbl+2:]))
}

func (p *Page) tailKeyBytes(tbl int) []byte {
	k := p.tailKLength(tbl)
	return p.buf[tbl+TailBlockOverhead : tbl+TailBlockOverhead+k]
}

func (p *Page) tailPayload(tbl int) []byte {
	used := p.tailUsed(tbl)
	k := p.tailKLength(tbl)
	return p.buf[tbl+TailBlockOverhead+k : tbl+used]
}

// writeTail places a tail block at tbl. The caller has already reserved the
// space.
func (p *Page) writeTail(tbl int, keyTail, payload []byte) {
	used := TailBlockOverhead + len(keyTail) + len(payload)
	binary.BigEndian.PutUint16(p.buf[tbl:], uint16(used))
	binary.BigEndian.PutUint16(p.buf[tbl+2:], uint16(len(keyTail)))
	copy(p.buf[tbl+TailBlockOverhead:], keyTail)
	copy(p.buf[tbl+TailBlockOverhead+len(keyTail):], payload)
}

// allocTail reserves an aligned tail block below the current low-water mark.
// Returns -1 when the contiguous gap between the keyblock region and the
// tail region cannot hold it.
func (p *Page) allocTail(size int, extraKeyblocks int) int {
	need := align(size)
	newAlloc := p.Alloc() - need
	if newAlloc < p.KeyBlockEnd()+extraKeyblocks*KeyblockLength {
		return -1
	}
	p.SetAlloc(newAlloc)
	return newAlloc
}
