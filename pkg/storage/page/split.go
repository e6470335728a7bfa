package page

import (
	"bytes"

	"keelstore/pkg/errs"
	"keelstore/pkg/storage/key"
)

type record struct {
	key     []byte
	payload []byte
}

// tailCost approximates the bytes a record occupies: tail block plus its
// keyblock, ignoring elision since post-split elisions differ anyway.
func tailCost(r record) int {
	return align(TailBlockOverhead+len(r.key)+len(r.payload)) + KeyblockLength
}

// SplitInsert distributes this page's records plus the pending record across
// this page and right, choosing the split point so both halves hold
// approximately equal bytes of live tail. When the pending key sorts above
// the midpoint the split is biased left, leaving more room on the right for
// an ascending insert pattern. The first key of the right half is returned
// as the promoted key; on the right page it is stored with no elision.
//
// right must be a freshly formatted page of the same type and size; sibling
// pointers are rewired here.
func (p *Page) SplitInsert(right *Page, k, payload []byte) ([]byte, error) {
	if right.Size() != p.Size() || right.Type() != p.Type() {
		return nil, errs.New(errs.KindInvalidArgument, "split target must match the source page type and size")
	}

	records := make([]record, 0, p.KeyblockCount()+1)
	cursor := p.NewCursor()
	inserted := false
	for cursor.Next() {
		cmp := bytes.Compare(cursor.Key(), k)
		if cmp == 0 {
			return nil, errs.Newf(errs.KindInvalidArgument, "pending key already present at slot %d", cursor.Slot())
		}
		if cmp > 0 && !inserted {
			records = append(records, record{key: append([]byte(nil), k...), payload: payload})
			inserted = true
		}
		records = append(records, record{
			key:     append([]byte(nil), cursor.Key()...),
			payload: append([]byte(nil), cursor.Payload()...),
		})
	}
	if !inserted {
		records = append(records, record{key: append([]byte(nil), k...), payload: payload})
	}
	n := len(records)
	if n < 2 {
		return nil, errs.New(errs.KindInvalidArgument, "cannot split a page holding fewer than two records")
	}

	total := 0
	prefix := make([]int, n+1)
	for i, r := range records {
		total += tailCost(r)
		prefix[i+1] = total
	}
	// Ascending inserts land right of the midpoint; biasing the split left
	// in that case leaves the right half roomier and avoids rewriting it on
	// the next insert.
	biasLeft := bytes.Compare(k, records[n/2].key) > 0

	split := 1
	bestScore := -1
	for s := 1; s < n; s++ {
		score := prefix[s] - (total - prefix[s])
		if score < 0 {
			score = -score
		}
		if bestScore < 0 || score < bestScore || (score == bestScore && biasLeft) {
			split = s
			bestScore = score
		}
	}

	oldSibling := p.RightSibling()
	if err := p.rebuildFrom(records[:split]); err != nil {
		return nil, err
	}
	if err := right.rebuildFrom(records[split:]); err != nil {
		return nil, err
	}
	right.SetRightSibling(oldSibling)
	p.SetRightSibling(right.PageAddress())

	return records[split].key, nil
}

// rebuildFrom reformats the record area and appends records in order. The
// header identity fields are preserved.
func (p *Page) rebuildFrom(records []record) error {
	p.setKeyBlockEnd(KeyBlockStart)
	p.SetAlloc(len(p.buf))

	var prev []byte
	for i, r := range records {
		ebc := 0
		if i > 0 {
			ebc = key.CommonPrefix(prev, r.key)
			if ebc >= len(r.key) {
				return errs.Newf(errs.KindCorruptVolume, "record %d does not sort above its predecessor", i)
			}
		}
		tbl := p.allocTail(TailBlockOverhead+len(r.key)-ebc-1+len(r.payload), 1)
		if tbl < 0 {
			return errs.Newf(errs.KindCorruptVolume, "record %d does not fit during rebuild", i)
		}
		p.writeTail(tbl, r.key[ebc+1:], r.payload)
		end := p.KeyBlockEnd()
		p.setKeyBlockEnd(end + KeyblockLength)
		p.setKeyblockAt(i, makeKeyblock(ebc, r.key[ebc], tbl))
		prev = r.key
	}
	return nil
}
