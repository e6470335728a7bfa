// Package page implements the on-disk page layout: a fixed header, a sorted
// array of fixed-width keyblocks growing up from the header, and
// variable-length tail blocks growing down from the end of the page.
//
// Layout of every page:
//
//	[0]  type          uint8
//	[1]  reserved
//	[2]  alloc         uint16  low-water mark of the tail region
//	[4]  keyblockEnd   uint16  high-water mark of the keyblock region
//	[6]  reserved      2 bytes
//	[8]  pageAddress   uint64
//	[16] rightSibling  uint64
//	[24] timestamp     uint64
//
// Keys are stored front-compressed: each keyblock records the number of
// bytes elided against the previous key (EBC), the first byte after the
// elision (DB), and the offset of the tail block holding the remaining key
// bytes and the payload (TBL).
package page

import (
	"encoding/binary"
	"fmt"

	"keelstore/pkg/primitives"
)

// Page types. A tree page at level L has type TypeData+L.
const (
	TypeUnused     = 0
	TypeData       = 1
	TypeIndexMin   = 2
	TypeIndexMax   = 21
	TypeGarbage    = 30
	TypeLongRecord = 31
	TypeHead       = 32
)

// MaxTreeDepth bounds the number of levels in any tree.
const MaxTreeDepth = 20

const (
	// HeaderSize is the fixed per-page header length.
	HeaderSize = 32

	// KeyBlockStart is the offset of the first keyblock.
	KeyBlockStart = HeaderSize

	// KeyblockLength is the fixed width of one keyblock.
	KeyblockLength = 4

	// TailBlockOverhead is the fixed header of one tail block:
	// used uint16, klength uint16.
	TailBlockOverhead = 4

	// TailAlignment: tail blocks are allocated on 4-byte boundaries.
	TailAlignment = 4

	// GarbageBlockSize is the width of one {left,right} garbage run entry.
	GarbageBlockSize = 16

	// ChildPointerSize is the payload width of index-page entries.
	ChildPointerSize = 8
)

const (
	typeOffset         = 0
	allocOffset        = 2
	keyblockEndOffset  = 4
	pageAddressOffset  = 8
	rightSiblingOffset = 16
	timestampOffset    = 24
)

// Page wraps one fixed-size byte image. The zero value is unusable; obtain
// pages through Wrap or New.
type Page struct {
	buf []byte
}

// New formats buf as an empty page of the given type.
func New(buf []byte, address primitives.PageAddress, pageType int) *Page {
	for i := range buf {
		buf[i] = 0
	}
	p := &Page{buf: buf}
	p.SetType(pageType)
	p.SetPageAddress(address)
	p.SetAlloc(len(buf))
	p.setKeyBlockEnd(KeyBlockStart)
	return p
}

// Wrap adopts an existing page image without reformatting it.
func Wrap(buf []byte) *Page {
	return &Page{buf: buf}
}

// Bytes exposes the raw page image.
func (p *Page) Bytes() []byte { return p.buf }

// Size returns the page size in bytes.
func (p *Page) Size() int { return len(p.buf) }

// Type returns the page type byte.
func (p *Page) Type() int { return int(p.buf[typeOffset]) }

// SetType assigns the page type byte.
func (p *Page) SetType(pageType int) { p.buf[typeOffset] = byte(pageType) }

// Alloc returns the tail region low-water mark. The largest supported page
// size is 16384, so the mark always fits in sixteen bits.
func (p *Page) Alloc() int {
	return int(binary.BigEndian.Uint16(p.buf[allocOffset:]))
}

// SetAlloc assigns the tail region low-water mark.
func (p *Page) SetAlloc(alloc int) {
	binary.BigEndian.PutUint16(p.buf[allocOffset:], uint16(alloc))
}

// KeyBlockEnd returns the keyblock region high-water mark.
func (p *Page) KeyBlockEnd() int {
	e := int(binary.BigEndian.Uint16(p.buf[keyblockEndOffset:]))
	if e < KeyBlockStart {
		return KeyBlockStart
	}
	return e
}

func (p *Page) setKeyBlockEnd(end int) {
	binary.BigEndian.PutUint16(p.buf[keyblockEndOffset:], uint16(end))
}

// PageAddress returns the page's own address.
func (p *Page) PageAddress() primitives.PageAddress {
	return primitives.PageAddress(binary.BigEndian.Uint64(p.buf[pageAddressOffset:]))
}

// SetPageAddress assigns the page's own address.
func (p *Page) SetPageAddress(address primitives.PageAddress) {
	binary.BigEndian.PutUint64(p.buf[pageAddressOffset:], uint64(address))
}

// RightSibling returns the right sibling address; zero terminates a level.
func (p *Page) RightSibling() primitives.PageAddress {
	return primitives.PageAddress(binary.BigEndian.Uint64(p.buf[rightSiblingOffset:]))
}

// SetRightSibling assigns the right sibling address.
func (p *Page) SetRightSibling(address primitives.PageAddress) {
	binary.BigEndian.PutUint64(p.buf[rightSiblingOffset:], uint64(address))
}

// Timestamp returns the last-modified timestamp.
func (p *Page) Timestamp() primitives.Timestamp {
	return primitives.Timestamp(binary.BigEndian.Uint64(p.buf[timestampOffset:]))
}

// SetTimestamp assigns the last-modified timestamp.
func (p *Page) SetTimestamp(ts primitives.Timestamp) {
	binary.BigEndian.PutUint64(p.buf[timestampOffset:], uint64(ts))
}

// IsData reports whether this is a leaf page.
func (p *Page) IsData() bool { return p.Type() == TypeData }

// IsIndex reports whether this is an index page at any level.
func (p *Page) IsIndex() bool {
	t := p.Type()
	return t >= TypeIndexMin && t <= TypeIndexMax
}

// IsGarbage reports whether this is a garbage page.
func (p *Page) IsGarbage() bool { return p.Type() == TypeGarbage }

// IsLongRecord reports whether this is a long record page.
func (p *Page) IsLongRecord() bool { return p.Type() == TypeLongRecord }

// IsHead reports whether this is a volume head page.
func (p *Page) IsHead() bool { return p.Type() == TypeHead }

// TypeName renders a page type for messages and dumps.
func TypeName(address primitives.PageAddress, pageType int) string {
	switch {
	case pageType == TypeHead || address == 0:
		return "HEAD"
	case pageType == TypeUnused:
		return "UNUSED"
	case pageType == TypeData:
		return "DATA"
	case pageType >= TypeIndexMin && pageType <= TypeIndexMax:
		return fmt.Sprintf("INDEX%d", pageType-TypeData)
	case pageType == TypeGarbage:
		return "GARBAGE"
	case pageType == TypeLongRecord:
		return "LONG_REC"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", pageType)
	}
}

// TypeName renders this page's type.
func (p *Page) TypeName() string {
	return TypeName(p.PageAddress(), p.Type())
}

func align(n int) int {
	return (n + TailAlignment - 1) &^ (TailAlignment - 1)
}
