// Package tree ties the page codec to volumes: tree metadata, descent, and
// the store path with split propagation. Level 0 holds DATA pages; the root
// sits at level depth-1 and each level is linked left to right by right
// sibling pointers.
package tree

import (
	"keelstore/pkg/errs"
	"keelstore/pkg/logging"
	"keelstore/pkg/memory"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/page"
	"keelstore/pkg/storage/volume"
)

// Tree names a B+tree within a volume.
type Tree struct {
	Name   string
	Handle primitives.TreeHandle
	Volume *volume.Volume
	Root   primitives.PageAddress
	Depth  int
}

// Pair is one key/value record for bulk loading. Keys are already encoded
// and must arrive in strictly ascending order.
type Pair struct {
	Key   []byte
	Value []byte
}

type levelEntry struct {
	firstKey []byte
	address  primitives.PageAddress
}

// BulkLoad materializes a tree bottom-up from sorted pairs. Each level is
// packed left to right and linked by sibling pointers; parents hold the
// first key of each child.
func BulkLoad(pool *memory.Pool, v *volume.Volume, name string, handle primitives.TreeHandle,
	pairs []Pair, ts primitives.Timestamp) (*Tree, error) {
	if len(pairs) == 0 {
		return nil, errs.New(errs.KindInvalidArgument, "bulk load requires at least one pair")
	}

	entries, err := buildLevel(pool, v, 0, pairs, ts)
	if err != nil {
		return nil, err
	}
	depth := 1
	for len(entries) > 1 {
		if depth >= page.MaxTreeDepth {
			return nil, errs.Newf(errs.KindStateViolation, "tree exceeds maximum depth %d", page.MaxTreeDepth)
		}
		parents := make([]Pair, len(entries))
		for i, e := range entries {
			parents[i] = Pair{Key: e.firstKey, Value: page.EncodeChildPointer(e.address)}
		}
		entries, err = buildLevel(pool, v, depth, parents, ts)
		if err != nil {
			return nil, err
		}
		depth++
	}

	t := &Tree{Name: name, Handle: handle, Volume: v, Root: entries[0].address, Depth: depth}
	logging.WithTree(v.Name(), name).Info("tree loaded",
		"root", t.Root, "depth", t.Depth, "pairs", len(pairs))
	return t, nil
}

// buildLevel packs records into pages of the given level, returning one
// entry per page created.
func buildLevel(pool *memory.Pool, v *volume.Volume, level int, records []Pair,
	ts primitives.Timestamp) ([]levelEntry, error) {
	pageType := page.TypeData + level

	address, err := v.AllocatePage()
	if err != nil {
		return nil, err
	}
	current, err := pool.NewPage(v, address, pageType)
	if err != nil {
		return nil, err
	}

	var entries []levelEntry
	first := append([]byte(nil), records[0].Key...)

	for i := 0; i < len(records); i++ {
		r := records[i]
		status, _, err := current.Page().Insert(r.Key, r.Value)
		if err != nil {
			releaseQuiet(pool, current)
			return nil, err
		}
		if status == page.NeedsSplit {
			if current.Page().KeyblockCount() == 0 {
				releaseQuiet(pool, current)
				return nil, errs.Newf(errs.KindInvalidArgument,
					"record %d does not fit an empty %d-byte page", i, v.PageSize())
			}
			next, err := v.AllocatePage()
			if err != nil {
				releaseQuiet(pool, current)
				return nil, err
			}
			current.Page().SetRightSibling(next)
			current.MarkDirty(ts)
			entries = append(entries, levelEntry{firstKey: first, address: address})
			if err := pool.Release(current); err != nil {
				return nil, err
			}

			address = next
			current, err = pool.NewPage(v, address, pageType)
			if err != nil {
				return nil, err
			}
			first = append([]byte(nil), r.Key...)
			i-- // retry the record on the fresh page
		}
	}
	current.MarkDirty(ts)
	entries = append(entries, levelEntry{firstKey: first, address: address})
	if err := pool.Release(current); err != nil {
		return nil, err
	}
	return entries, nil
}

func releaseQuiet(pool *memory.Pool, b *memory.Buffer) {
	_ = pool.Release(b)
}

// childSlot picks the descent slot for k on an index page.
func childSlot(p *page.Page, k []byte) int {
	found, slot := p.Find(k)
	if found {
		return slot
	}
	if slot > 0 {
		return slot - 1
	}
	return 0
}

// Fetch returns the value stored under k, if any.
func (t *Tree) Fetch(pool *memory.Pool, k []byte) ([]byte, bool, error) {
	address := t.Root
	for level := t.Depth - 1; level >= 0; level-- {
		buf, err := pool.Get(t.Volume, address, false, true)
		if err != nil {
			return nil, false, err
		}
		p := buf.Page()
		if level == 0 {
			found, slot := p.Find(k)
			if !found {
				releaseQuiet(pool, buf)
				return nil, false, nil
			}
			payload, err := p.PayloadAt(slot)
			if err != nil {
				releaseQuiet(pool, buf)
				return nil, false, err
			}
			out := append([]byte(nil), payload...)
			releaseQuiet(pool, buf)
			return out, true, nil
		}
		child, err := p.ChildPointerAt(childSlot(p, k))
		releaseQuiet(pool, buf)
		if err != nil {
			return nil, false, err
		}
		address = child
	}
	return nil, false, nil
}

// Store inserts or replaces k. Splits propagate upward; a root split adds a
// level.
func (t *Tree) Store(pool *memory.Pool, k, value []byte, ts primitives.Timestamp) error {
	// Claim the descent path exclusively top-down; split propagation walks
	// it back bottom-up.
	path := make([]*memory.Buffer, 0, t.Depth)
	defer func() {
		for _, buf := range path {
			releaseQuiet(pool, buf)
		}
	}()

	address := t.Root
	for level := t.Depth - 1; level >= 0; level-- {
		buf, err := pool.Get(t.Volume, address, true, true)
		if err != nil {
			return err
		}
		path = append(path, buf)
		if level == 0 {
			break
		}
		child, err := buf.Page().ChildPointerAt(childSlot(buf.Page(), k))
		if err != nil {
			return err
		}
		address = child
	}

	insertKey, insertPayload := k, value
	for i := len(path) - 1; i >= 0; i-- {
		buf := path[i]
		status, _, err := buf.Page().Insert(insertKey, insertPayload)
		if err != nil {
			return err
		}
		if status == page.InsertOK {
			buf.MarkDirty(ts)
			return nil
		}

		rightAddr, err := t.Volume.AllocatePage()
		if err != nil {
			return err
		}
		right, err := pool.NewPage(t.Volume, rightAddr, buf.Page().Type())
		if err != nil {
			return err
		}
		promoted, err := buf.Page().SplitInsert(right.Page(), insertKey, insertPayload)
		if err != nil {
			releaseQuiet(pool, right)
			return err
		}
		buf.MarkDirty(ts)
		right.MarkDirty(ts)
		if err := pool.Release(right); err != nil {
			return err
		}

		if i == 0 {
			return t.growRoot(pool, path[0], promoted, rightAddr, ts)
		}
		insertKey = promoted
		insertPayload = page.EncodeChildPointer(rightAddr)
	}
	return nil
}

// growRoot adds a level above the current root after it split.
func (t *Tree) growRoot(pool *memory.Pool, oldRoot *memory.Buffer, promoted []byte,
	rightAddr primitives.PageAddress, ts primitives.Timestamp) error {
	if t.Depth >= page.MaxTreeDepth {
		return errs.Newf(errs.KindStateViolation, "tree exceeds maximum depth %d", page.MaxTreeDepth)
	}
	leftFirst, err := oldRoot.Page().KeyAt(0)
	if err != nil {
		return err
	}

	newRootAddr, err := t.Volume.AllocatePage()
	if err != nil {
		return err
	}
	root, err := pool.NewPage(t.Volume, newRootAddr, page.TypeData+t.Depth)
	if err != nil {
		return err
	}
	if _, _, err := root.Page().Insert(leftFirst, page.EncodeChildPointer(oldRoot.Address())); err != nil {
		releaseQuiet(pool, root)
		return err
	}
	if _, _, err := root.Page().Insert(promoted, page.EncodeChildPointer(rightAddr)); err != nil {
		releaseQuiet(pool, root)
		return err
	}
	root.MarkDirty(ts)
	if err := pool.Release(root); err != nil {
		return err
	}

	t.Root = newRootAddr
	t.Depth++
	logging.WithTree(t.Volume.Name(), t.Name).Debug("root split", "newRoot", t.Root, "depth", t.Depth)
	return nil
}

// Delete removes k from its leaf. Underfull pages are not merged; the
// verifier and cleanup collaborator deal with long-term shape.
func (t *Tree) Delete(pool *memory.Pool, k []byte, ts primitives.Timestamp) (bool, error) {
	address := t.Root
	for level := t.Depth - 1; level >= 0; level-- {
		buf, err := pool.Get(t.Volume, address, level == 0, true)
		if err != nil {
			return false, err
		}
		p := buf.Page()
		if level == 0 {
			found, slot := p.Find(k)
			if !found {
				releaseQuiet(pool, buf)
				return false, nil
			}
			if err := p.Remove(slot); err != nil {
				releaseQuiet(pool, buf)
				return false, err
			}
			buf.MarkDirty(ts)
			return true, pool.Release(buf)
		}
		child, err := p.ChildPointerAt(childSlot(p, k))
		releaseQuiet(pool, buf)
		if err != nil {
			return false, err
		}
		address = child
	}
	return false, nil
}
