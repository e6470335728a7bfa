package page

import (
	"bytes"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/mvcc"
)

// VerifyVisitor observes each data record during page verification. The
// verifier layers its MVCC accounting on top of this callback.
type VerifyVisitor interface {
	VisitDataRecord(k []byte, slot int, payload []byte) error
}

// Verify walks the page's keyblocks and tail blocks and checks the
// page-local invariants: sorted strictly increasing keys, consistent
// elision, tail blocks aligned and inside [alloc, size) without overlap,
// well-formed long record descriptors, monotonic MVCC chains, and valid
// child pointers on index pages. The first violation is returned; nil means
// the page is clean. visitor may be nil.
func (p *Page) Verify(visitor VerifyVisitor) *errs.EngineError {
	if !p.IsData() && !p.IsIndex() {
		return errs.Newf(errs.KindCorruptVolume, "page %d type %s cannot be verified as a tree page",
			p.PageAddress(), p.TypeName())
	}
	alloc := p.Alloc()
	end := p.KeyBlockEnd()
	size := len(p.buf)
	if end < KeyBlockStart || end > alloc || (end-KeyBlockStart)%KeyblockLength != 0 {
		return errs.Newf(errs.KindCorruptVolume, "page %d has invalid keyblock end %d", p.PageAddress(), end)
	}
	if alloc > size {
		return errs.Newf(errs.KindCorruptVolume, "page %d has invalid alloc %d", p.PageAddress(), alloc)
	}

	count := p.KeyblockCount()
	used := make([]bool, (size-alloc+TailAlignment-1)/TailAlignment)
	var prev []byte

	for slot := 0; slot < count; slot++ {
		kb := p.keyblockAt(slot)
		ebc, tbl := kb.ebc(), kb.tbl()

		if slot == 0 && ebc != 0 {
			return errs.Newf(errs.KindCorruptVolume, "first keyblock has nonzero elision %d", ebc)
		}
		if ebc > len(prev) {
			return errs.Newf(errs.KindCorruptVolume, "slot %d elides %d bytes but predecessor has %d",
				slot, ebc, len(prev))
		}
		if tbl < alloc || tbl%TailAlignment != 0 || tbl+TailBlockOverhead > size {
			return errs.Newf(errs.KindCorruptVolume, "slot %d tail offset %d outside [%d,%d)",
				slot, tbl, alloc, size)
		}
		tailUsed := p.tailUsed(tbl)
		klength := p.tailKLength(tbl)
		if tailUsed < TailBlockOverhead+klength || tbl+tailUsed > size {
			return errs.Newf(errs.KindCorruptVolume, "slot %d tail block has invalid extent %d", slot, tailUsed)
		}
		for b := tbl; b < tbl+align(tailUsed); b += TailAlignment {
			cell := (b - alloc) / TailAlignment
			if used[cell] {
				return errs.Newf(errs.KindCorruptVolume, "slot %d tail block overlaps another at offset %d", slot, b)
			}
			used[cell] = true
		}

		k := p.rebuildKey(prev, kb)
		if slot > 0 && bytes.Compare(k, prev) <= 0 {
			return errs.Newf(errs.KindCorruptVolume, "key at slot %d is not greater than its predecessor", slot)
		}
		payload := p.tailPayload(tbl)

		if p.IsIndex() {
			if len(payload) != ChildPointerSize {
				return errs.Newf(errs.KindCorruptVolume, "index slot %d payload is %d bytes", slot, len(payload))
			}
			child, err := p.ChildPointerAt(slot)
			if err != nil {
				return errs.Wrap(err, errs.KindCorruptVolume, "Verify", "Page")
			}
			if child <= 0 || child > primitives.MaxValidPageAddress {
				return errs.Newf(errs.KindCorruptVolume, "invalid index pointer value %d at slot %d", child, slot)
			}
		} else {
			if fault := verifyDataPayload(slot, payload); fault != nil {
				return fault
			}
			if visitor != nil {
				if err := visitor.VisitDataRecord(k, slot, payload); err != nil {
					return errs.Wrap(err, errs.KindCorruptVolume, "Verify", "Page")
				}
			}
		}
		prev = k
	}
	return nil
}

func verifyDataPayload(slot int, payload []byte) *errs.EngineError {
	if IsLongRecord(payload) {
		lr, err := DecodeLongRecord(payload)
		if err != nil {
			return errs.Wrap(err, errs.KindCorruptVolume, "Verify", "Page")
		}
		if lr.Size < LongRecPrefixSize {
			return errs.Newf(errs.KindCorruptVolume, "invalid long record size %d at slot %d", lr.Size, slot)
		}
		if lr.Page <= 0 || lr.Page > primitives.MaxValidPageAddress {
			return errs.Newf(errs.KindCorruptVolume, "invalid long record pointer %d at slot %d", lr.Page, slot)
		}
		return nil
	}
	if mvcc.IsMultiVersion(payload) {
		last := mvcc.PrimordialVersion
		seen := false
		check := mvccOrderVisitor{last: &last, seen: &seen}
		if err := mvcc.VisitAllVersions(check, payload); err != nil {
			return errs.Wrap(err, errs.KindCorruptVolume, "Verify", "Page")
		}
	}
	return nil
}

type mvccOrderVisitor struct {
	last *primitives.Version
	seen *bool
}

func (v mvccOrderVisitor) Init() error { return nil }

func (v mvccOrderVisitor) SawVersion(version primitives.Version, offset, length int) error {
	if *v.seen && version <= *v.last {
		return errs.Newf(errs.KindCorruptVolume, "version chain not monotonic: %d after %d", version, *v.last)
	}
	*v.last = version
	*v.seen = true
	return nil
}
