package page

import (
	"bytes"
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/key"
)

// InsertStatus is the outcome of an insertion attempt.
type InsertStatus int

const (
	// InsertOK: the record was placed.
	InsertOK InsertStatus = iota
	// NeedsSplit: the page cannot hold the record even after compaction.
	NeedsSplit
)

// Find locates k on the page. When found is true, slot holds the record;
// otherwise slot is the insertion point. The scan rejects most slots on the
// (EBC, DB) pair alone, touching the tail block only on a discriminator tie.
func (p *Page) Find(k []byte) (found bool, slot int) {
	count := p.KeyblockCount()
	// lcp is the shared prefix length between k and the key at the previous
	// slot; prev is that key, reconstructed incrementally.
	lcp := 0
	var prev []byte

	for slot = 0; slot < count; slot++ {
		kb := p.keyblockAt(slot)
		ebc := kb.ebc()
		switch {
		case slot > 0 && ebc > lcp:
			// This key agrees with its predecessor beyond the point where k
			// diverged, so it is still below k.
			continue
		case slot > 0 && ebc < lcp:
			// This key diverges from its predecessor before k does, so it
			// is above k.
			return false, slot
		}
		// ebc == lcp (or first slot): the discriminator decides.
		if lcp >= len(k) {
			// k is a strict prefix of the remaining keys.
			return false, slot
		}
		db := kb.db()
		if db < k[lcp] {
			prev = p.rebuildKey(prev, kb)
			continue
		}
		if db > k[lcp] {
			return false, slot
		}
		// Discriminator tie: compare the stored tail.
		full := p.rebuildKey(prev, kb)
		cmp := bytes.Compare(full, k)
		if cmp == 0 {
			return true, slot
		}
		if cmp > 0 {
			return false, slot
		}
		prev = full
		lcp = key.CommonPrefix(full, k)
	}
	return false, count
}

// rebuildKey reconstructs the full key for kb given the previous slot's full
// key.
func (p *Page) rebuildKey(prev []byte, kb keyblock) []byte {
	ebc := kb.ebc()
	tail := p.tailKeyBytes(kb.tbl())
	full := make([]byte, 0, ebc+1+len(tail))
	full = append(full, prev[:ebc]...)
	full = append(full, kb.db())
	return append(full, tail...)
}

// KeyAt reconstructs the full key stored at slot.
func (p *Page) KeyAt(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.KeyblockCount() {
		return nil, errs.Newf(errs.KindInvalidArgument, "slot %d out of range", slot)
	}
	var k []byte
	for i := 0; i <= slot; i++ {
		k = p.rebuildKey(k, p.keyblockAt(i))
	}
	return k, nil
}

// PayloadAt returns the payload bytes stored at slot. The slice aliases the
// page image.
func (p *Page) PayloadAt(slot int) ([]byte, error) {
	if slot < 0 || slot >= p.KeyblockCount() {
		return nil, errs.Newf(errs.KindInvalidArgument, "slot %d out of range", slot)
	}
	return p.tailPayload(p.keyblockAt(slot).tbl()), nil
}

// ChildPointerAt reads the 8-byte child pointer payload of an index page
// slot.
func (p *Page) ChildPointerAt(slot int) (primitives.PageAddress, error) {
	if !p.IsIndex() {
		return 0, errs.Newf(errs.KindCorruptVolume, "page %d is %s, not an index page",
			p.PageAddress(), p.TypeName())
	}
	payload, err := p.PayloadAt(slot)
	if err != nil {
		return 0, err
	}
	if len(payload) != ChildPointerSize {
		return 0, errs.Newf(errs.KindCorruptVolume,
			"index payload at slot %d is %d bytes, expected %d", slot, len(payload), ChildPointerSize)
	}
	return primitives.PageAddress(binary.BigEndian.Uint64(payload)), nil
}

// EncodeChildPointer renders a page address as an index payload.
func EncodeChildPointer(address primitives.PageAddress) []byte {
	payload := make([]byte, ChildPointerSize)
	binary.BigEndian.PutUint64(payload, uint64(address))
	return payload
}

// Insert places k with payload, replacing the payload if k already exists.
func (p *Page) Insert(k, payload []byte) (InsertStatus, int, error) {
	found, slot := p.Find(k)
	if found {
		status, err := p.UpdatePayloadAt(slot, payload)
		return status, slot, err
	}
	status, err := p.InsertAt(slot, k, payload)
	return status, slot, err
}

// InsertAt places k with payload at slot, which must be the slot Find
// reported for k.
func (p *Page) InsertAt(slot int, k, payload []byte) (InsertStatus, error) {
	if len(k) < 1 || len(k) > key.MaxEncodedLength {
		return InsertOK, errs.Newf(errs.KindInvalidArgument, "key length %d outside [1,%d]",
			len(k), key.MaxEncodedLength)
	}
	count := p.KeyblockCount()
	if slot < 0 || slot > count {
		return InsertOK, errs.Newf(errs.KindInvalidArgument, "slot %d out of range", slot)
	}

	ebc := 0
	if slot > 0 {
		prev, err := p.KeyAt(slot - 1)
		if err != nil {
			return InsertOK, err
		}
		ebc = key.CommonPrefix(prev, k)
		if ebc >= len(k) {
			return InsertOK, errs.Newf(errs.KindCorruptVolume,
				"key at slot %d does not sort above its predecessor", slot)
		}
	}
	keyTail := k[ebc+1:]

	// The successor's elision is relative to its predecessor; inserting
	// changes that predecessor, so its tail may need rebuilding.
	succNeed := 0
	var succKey, succPayload []byte
	succEBC := -1
	if slot < count {
		var err error
		succKey, err = p.KeyAt(slot)
		if err != nil {
			return InsertOK, err
		}
		succEBC = key.CommonPrefix(k, succKey)
		if succEBC >= len(succKey) {
			return InsertOK, errs.Newf(errs.KindCorruptVolume,
				"key at slot %d does not sort below its successor", slot)
		}
		if succEBC != p.EBCAt(slot) {
			succPayload = append([]byte(nil), p.tailPayload(p.keyblockAt(slot).tbl())...)
			succNeed = align(TailBlockOverhead + len(succKey) - succEBC - 1 + len(succPayload))
		}
	}

	need := align(TailBlockOverhead+len(keyTail)+len(payload)) + succNeed + KeyblockLength
	if p.Alloc()-p.KeyBlockEnd() < need {
		p.Compact()
		if p.Alloc()-p.KeyBlockEnd() < need {
			return NeedsSplit, nil
		}
	}

	tbl := p.allocTail(TailBlockOverhead+len(keyTail)+len(payload), 1)
	if tbl < 0 {
		return NeedsSplit, nil
	}
	p.writeTail(tbl, keyTail, payload)

	// Open the slot.
	end := p.KeyBlockEnd()
	off := KeyBlockStart + slot*KeyblockLength
	copy(p.buf[off+KeyblockLength:end+KeyblockLength], p.buf[off:end])
	p.setKeyBlockEnd(end + KeyblockLength)
	p.setKeyblockAt(slot, makeKeyblock(ebc, k[ebc], tbl))

	if succNeed > 0 {
		succTbl := p.allocTail(TailBlockOverhead+len(succKey)-succEBC-1+len(succPayload), 0)
		if succTbl < 0 {
			return InsertOK, errs.New(errs.KindCorruptVolume, "no room for successor rebuild after reservation")
		}
		p.writeTail(succTbl, succKey[succEBC+1:], succPayload)
		p.setKeyblockAt(slot+1, makeKeyblock(succEBC, succKey[succEBC], succTbl))
	}
	return InsertOK, nil
}

// Remove deletes the record at slot.
func (p *Page) Remove(slot int) error {
	count := p.KeyblockCount()
	if slot < 0 || slot >= count {
		return errs.Newf(errs.KindInvalidArgument, "slot %d out of range", slot)
	}

	// Capture the successor before the keyblock array shifts.
	var succKey, succPayload []byte
	newEBC := -1
	if slot+1 < count {
		var err error
		succKey, err = p.KeyAt(slot + 1)
		if err != nil {
			return err
		}
		prevEBC := 0
		if slot > 0 {
			prev, err := p.KeyAt(slot - 1)
			if err != nil {
				return err
			}
			prevEBC = key.CommonPrefix(prev, succKey)
		}
		if prevEBC != p.EBCAt(slot+1) {
			newEBC = prevEBC
			succPayload = append([]byte(nil), p.tailPayload(p.keyblockAt(slot+1).tbl())...)
		}
	}

	end := p.KeyBlockEnd()
	off := KeyBlockStart + slot*KeyblockLength
	copy(p.buf[off:], p.buf[off+KeyblockLength:end])
	p.setKeyBlockEnd(end - KeyblockLength)

	if newEBC >= 0 {
		size := TailBlockOverhead + len(succKey) - newEBC - 1 + len(succPayload)
		tbl := p.allocTail(size, 0)
		if tbl < 0 {
			p.Compact()
			tbl = p.allocTail(size, 0)
			if tbl < 0 {
				return errs.New(errs.KindCorruptVolume, "no room for successor rebuild during remove")
			}
		}
		p.writeTail(tbl, succKey[newEBC+1:], succPayload)
		p.setKeyblockAt(slot, makeKeyblock(newEBC, succKey[newEBC], tbl))
	}
	return nil
}

// UpdatePayloadAt rewrites the payload at slot in place when it fits,
// reallocating the tail block otherwise.
func (p *Page) UpdatePayloadAt(slot int, payload []byte) (InsertStatus, error) {
	if slot < 0 || slot >= p.KeyblockCount() {
		return InsertOK, errs.Newf(errs.KindInvalidArgument, "slot %d out of range", slot)
	}
	kb := p.keyblockAt(slot)
	tbl := kb.tbl()
	klength := p.tailKLength(tbl)
	newUsed := TailBlockOverhead + klength + len(payload)
	if align(newUsed) <= align(p.tailUsed(tbl)) {
		binary.BigEndian.PutUint16(p.buf[tbl:], uint16(newUsed))
		copy(p.buf[tbl+TailBlockOverhead+klength:], payload)
		return InsertOK, nil
	}

	keyTail := append([]byte(nil), p.tailKeyBytes(tbl)...)
	newTbl := p.allocTail(newUsed, 0)
	if newTbl < 0 {
		p.Compact()
		kb = p.keyblockAt(slot)
		newTbl = p.allocTail(newUsed, 0)
		if newTbl < 0 {
			return NeedsSplit, nil
		}
	}
	p.writeTail(newTbl, keyTail, payload)
	p.setKeyblockAt(slot, makeKeyblock(kb.ebc(), kb.db(), newTbl))
	return InsertOK, nil
}

// Compact squeezes the holes out of the tail region, moving live tail blocks
// to the bottom of the page and rewriting every TBL.
func (p *Page) Compact() {
	count := p.KeyblockCount()
	type rec struct {
		kb   keyblock
		tail []byte
	}
	recs := make([]rec, count)
	for i := 0; i < count; i++ {
		kb := p.keyblockAt(i)
		used := p.tailUsed(kb.tbl())
		recs[i] = rec{kb: kb, tail: append([]byte(nil), p.buf[kb.tbl():kb.tbl()+used]...)}
	}
	alloc := len(p.buf)
	for i := 0; i < count; i++ {
		alloc -= align(len(recs[i].tail))
		copy(p.buf[alloc:], recs[i].tail)
		p.setKeyblockAt(i, makeKeyblock(recs[i].kb.ebc(), recs[i].kb.db(), alloc))
	}
	p.SetAlloc(alloc)
}

// FreeSpace returns the total reclaimable bytes: the contiguous gap plus
// internal tail holes.
func (p *Page) FreeSpace() int {
	live := 0
	for i := 0; i < p.KeyblockCount(); i++ {
		live += align(p.tailUsed(p.keyblockAt(i).tbl()))
	}
	return (p.Alloc() - p.KeyBlockEnd()) + (len(p.buf) - p.Alloc() - live)
}

// BytesInUse returns record bytes in use, excluding page structure overhead.
func (p *Page) BytesInUse() int {
	used := 0
	for i := 0; i < p.KeyblockCount(); i++ {
		used += p.tailUsed(p.keyblockAt(i).tbl()) + KeyblockLength
	}
	return used
}

// Cursor iterates the page's records in key order, reconstructing keys
// incrementally.
type Cursor struct {
	page *Page
	slot int
	key  []byte
}

// NewCursor positions a cursor before the first record.
func (p *Page) NewCursor() *Cursor {
	return &Cursor{page: p, slot: -1}
}

// Next advances; it returns false past the last record.
func (c *Cursor) Next() bool {
	if c.slot+1 >= c.page.KeyblockCount() {
		return false
	}
	c.slot++
	c.key = c.page.rebuildKey(c.key, c.page.keyblockAt(c.slot))
	return true
}

// Slot returns the current slot.
func (c *Cursor) Slot() int { return c.slot }

// Key returns the current full key. The slice is reused across Next calls.
func (c *Cursor) Key() []byte { return c.key }

// Payload returns the current payload; the slice aliases the page image.
func (c *Cursor) Payload() []byte {
	return c.page.tailPayload(c.page.keyblockAt(c.slot).tbl())
}
