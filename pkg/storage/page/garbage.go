package page

import (
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

// A garbage page's body is a dense array of {left,right} run entries growing
// down from the end of the page to the alloc mark. Each entry names an
// inclusive chain of free pages to be threaded back into allocation.

// ensureGarbage guards the garbage-page view; the view family fails loudly
// on a type mismatch rather than misreading another body.
func (p *Page) ensureGarbage() error {
	if !p.IsGarbage() {
		return errs.Newf(errs.KindCorruptVolume, "page %d is %s, not a garbage page",
			p.PageAddress(), p.TypeName())
	}
	return nil
}

// GarbageEntryCount returns the number of run entries on the page.
func (p *Page) GarbageEntryCount() (int, error) {
	if err := p.ensureGarbage(); err != nil {
		return 0, err
	}
	body := len(p.buf) - p.Alloc()
	if body%GarbageBlockSize != 0 {
		return 0, errs.Newf(errs.KindCorruptVolume,
			"garbage page %d is malformed: alloc=%d is not at a multiple of %d bytes",
			p.PageAddress(), p.Alloc(), GarbageBlockSize)
	}
	return body / GarbageBlockSize, nil
}

// GarbageRunAt reads run entry i.
func (p *Page) GarbageRunAt(i int) (left, right primitives.PageAddress, err error) {
	count, err := p.GarbageEntryCount()
	if err != nil {
		return 0, 0, err
	}
	if i < 0 || i >= count {
		return 0, 0, errs.Newf(errs.KindInvalidArgument, "garbage entry %d out of range", i)
	}
	off := p.Alloc() + i*GarbageBlockSize
	left = primitives.PageAddress(binary.BigEndian.Uint64(p.buf[off:]))
	right = primitives.PageAddress(binary.BigEndian.Uint64(p.buf[off+8:]))
	return left, right, nil
}

// PushGarbageRun prepends a run entry. It reports false when the page is
// full.
func (p *Page) PushGarbageRun(left, right primitives.PageAddress) (bool, error) {
	if err := p.ensureGarbage(); err != nil {
		return false, err
	}
	alloc := p.Alloc() - GarbageBlockSize
	if alloc < HeaderSize {
		return false, nil
	}
	binary.BigEndian.PutUint64(p.buf[alloc:], uint64(left))
	binary.BigEndian.PutUint64(p.buf[alloc+8:], uint64(right))
	p.SetAlloc(alloc)
	return true, nil
}

// PopGarbageRun removes and returns the most recently pushed run entry. ok
// is false when the page holds no entries.
func (p *Page) PopGarbageRun() (left, right primitives.PageAddress, ok bool, err error) {
	count, err := p.GarbageEntryCount()
	if err != nil {
		return 0, 0, false, err
	}
	if count == 0 {
		return 0, 0, false, nil
	}
	alloc := p.Alloc()
	left = primitives.PageAddress(binary.BigEndian.Uint64(p.buf[alloc:]))
	right = primitives.PageAddress(binary.BigEndian.Uint64(p.buf[alloc+8:]))
	p.SetAlloc(alloc + GarbageBlockSize)
	return left, right, true, nil
}
