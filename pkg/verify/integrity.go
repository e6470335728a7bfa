// Package verify implements the integrity checker: a traversal of every
// page in one or more trees that validates the structure of each page and
// the relationships between pages, records inconsistencies as Faults, and
// optionally prunes MVCC garbage and enqueues index-hole repairs.
//
// The checker operates reliably only on quiescent trees; concurrent
// mutation produces spurious faults. Callers normally suspend updates for
// the duration of a run.
package verify

import (
	"bytes"
	"fmt"

	"keelstore/pkg/concurrency/txnindex"
	"keelstore/pkg/errs"
	"keelstore/pkg/logging"
	"keelstore/pkg/memory"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/mvcc"
	"keelstore/pkg/storage/page"
	"keelstore/pkg/storage/tree"
	"keelstore/pkg/storage/volume"
)

const (
	// MaxFaults bounds the fault list; traversal continues past the bound
	// for counter accuracy.
	MaxFaults = 200
	// MaxHolesToFix bounds the index-hole repair queue.
	MaxHolesToFix = 1000
	// MaxWalkRight bounds lateral hops between indexed siblings.
	MaxWalkRight = 1000
	// MaxPruningErrors stops pruning after repeated failures.
	MaxPruningErrors = 50
)

// LogLevel selects message verbosity.
type LogLevel int

const (
	LogNormal LogLevel = iota
	LogVerbose
)

// MessageSink receives the checker's progress messages.
type MessageSink func(level LogLevel, message string)

// Options configure a run.
type Options struct {
	// Prune rewrites MVCC chains after each clean page visit.
	Prune bool
	// FixHoles offers accumulated index holes to the cleanup collaborator.
	FixHoles bool
	// ShouldStop is polled between page visits; cancellation is
	// cooperative and partial results stay valid.
	ShouldStop func() bool
}

// IntegrityCheck traverses trees and volumes accumulating faults and
// counters. One instance serves one run; it is not safe for concurrent use.
type IntegrityCheck struct {
	pool     *memory.Pool
	oracle   *txnindex.Index
	sink     HoleSink
	messages MessageSink
	opts     Options

	currentVolume *volume.Volume
	currentTree   *tree.Tree
	usedPageBits  *primitives.LongBitSet
	totalPages    int64
	pagesVisited  int64

	counters Counters
	faults   []Fault
	holes    []IndexHole

	edgeBuffers   [page.MaxTreeDepth]*memory.Buffer
	edgePages     [page.MaxTreeDepth]primitives.PageAddress
	edgePositions [page.MaxTreeDepth]int
	edgeKeys      [page.MaxTreeDepth][]byte
	treeDepth     int

	// per-page MVCC accounting, reset in verifyPage
	pageMvvCount int64
}

// New creates a checker. oracle and sink may be nil when pruning and hole
// fixing are disabled; messages may be nil.
func New(pool *memory.Pool, oracle *txnindex.Index, sink HoleSink, messages MessageSink, opts Options) *IntegrityCheck {
	if messages == nil {
		messages = func(LogLevel, string) {}
	}
	return &IntegrityCheck{
		pool:         pool,
		oracle:       oracle,
		sink:         sink,
		messages:     messages,
		opts:         opts,
		usedPageBits: primitives.NewLongBitSet(),
	}
}

// Faults returns the recorded faults.
func (ic *IntegrityCheck) Faults() []Fault { return ic.faults }

// HasFaults reports whether any fault was recorded.
func (ic *IntegrityCheck) HasFaults() bool { return len(ic.faults) > 0 }

// Counters returns the accumulated counters.
func (ic *IntegrityCheck) Counters() Counters { return ic.counters }

// Holes returns the accumulated index holes.
func (ic *IntegrityCheck) Holes() []IndexHole { return ic.holes }

// UsedPages exposes the page dedup bitset; valid after a volume check.
func (ic *IntegrityCheck) UsedPages() *primitives.LongBitSet { return ic.usedPageBits }

// PagesVisited returns the number of pages touched so far.
func (ic *IntegrityCheck) PagesVisited() int64 { return ic.pagesVisited }

// Progress reports completion on a 0.0 to 1.0 scale.
func (ic *IntegrityCheck) Progress() float64 {
	if ic.totalPages == 0 {
		return 1
	}
	return float64(ic.pagesVisited) / float64(ic.totalPages)
}

func (ic *IntegrityCheck) String() string {
	return fmt.Sprintf("Faults:%3d %s", len(ic.faults), ic.counters)
}

func (ic *IntegrityCheck) resourceName() string {
	switch {
	case ic.currentTree != nil:
		return ic.currentVolume.Name() + ":" + ic.currentTree.Name
	case ic.currentVolume != nil:
		return ic.currentVolume.Name()
	default:
		return "?"
	}
}

func (ic *IntegrityCheck) addFault(description string, pageAddr primitives.PageAddress, level, position int) {
	fault := Fault{
		ResourceName: ic.resourceName(),
		Description:  description,
		Level:        level,
		Depth:        ic.treeDepth,
		Position:     position,
	}
	if ic.treeDepth > level {
		fault.Path = make([]primitives.PageAddress, ic.treeDepth-level)
		for index := ic.treeDepth - 1; index > level; index-- {
			fault.Path[index-level] = ic.edgePages[index]
		}
		fault.Path[0] = pageAddr
	} else {
		fault.Path = []primitives.PageAddress{pageAddr}
	}
	if len(ic.faults) < MaxFaults {
		ic.faults = append(ic.faults, fault)
	}
	ic.messages(LogVerbose, fault.String())
}

func (ic *IntegrityCheck) reset(v *volume.Volume) {
	ic.currentVolume = v
	ic.currentTree = nil
	ic.usedPageBits = primitives.NewLongBitSet()
	ic.totalPages = int64(v.NextAvailable())
	ic.pagesVisited = 0
}

func (ic *IntegrityCheck) initTree(t *tree.Tree) {
	ic.currentVolume = t.Volume
	ic.currentTree = t
	ic.holes = ic.holes[:0]
	ic.treeDepth = t.Depth
	for index := range ic.edgeBuffers {
		ic.edgeBuffers[index] = nil
		ic.edgePages[index] = 0
		ic.edgeKeys[index] = nil
		ic.edgePositions[index] = 0
	}
}

// CheckVolume verifies every supplied tree of the volume and then the
// garbage chain. It returns true when no fault was recorded.
func (ic *IntegrityCheck) CheckVolume(v *volume.Volume, trees []*tree.Tree) (bool, error) {
	ic.reset(v)
	faultsBefore := len(ic.faults)
	ic.messages(LogVerbose, "Volume "+v.Name()+" - checking")

	for _, t := range trees {
		if _, err := ic.CheckTree(t); err != nil {
			ic.messages(LogNormal, err.Error())
		}
	}
	ic.currentTree = nil
	if err := ic.checkGarbage(v.GarbageRoot()); err != nil {
		ic.messages(LogNormal, err.Error())
	}
	return len(ic.faults) == faultsBefore, nil
}

// CheckTree verifies one tree. It returns true when no fault was recorded.
func (ic *IntegrityCheck) CheckTree(t *tree.Tree) (bool, error) {
	if ic.currentVolume != t.Volume {
		ic.reset(t.Volume)
	}
	faultsBefore := len(ic.faults)
	ic.initTree(t)

	err := ic.checkSubtree(nil, 0, t.Root, t.Depth-1)
	// Release every retained edge buffer whether or not the walk
	// completed.
	for index := range ic.edgeBuffers {
		if buf := ic.edgeBuffers[index]; buf != nil {
			ic.releaseQuiet(buf)
			ic.edgeBuffers[index] = nil
			ic.edgePages[index] = 0
		}
	}
	ic.currentTree = nil
	if err != nil {
		return false, err
	}

	if len(ic.holes) > 0 {
		ic.messages(LogNormal, fmt.Sprintf("  Tree %s:%s has %d unindexed pages",
			t.Volume.Name(), t.Name, len(ic.holes)))
		if ic.opts.FixHoles && ic.sink != nil {
			offered := 0
			for _, hole := range ic.holes {
				if ic.sink.Offer(hole) {
					offered++
				}
			}
			ic.messages(LogNormal, fmt.Sprintf("    - enqueued %d for repair", offered))
		}
	}
	return len(ic.faults) == faultsBefore, nil
}

// checkSubtree verifies the subtree rooted at pageAddr. parentKey is the
// key under which the parent references this page; parent is zero at the
// root.
func (ic *IntegrityCheck) checkSubtree(parentKey []byte, parent, pageAddr primitives.PageAddress, level int) error {
	if ic.stopped() {
		return nil
	}
	if level >= page.MaxTreeDepth {
		ic.addFault("Tree is too deep", pageAddr, level, 0)
		return nil
	}
	if ic.usedPageBits.Get(int64(pageAddr)) {
		ic.addFault("Page has more than one parent", pageAddr, level, 0)
		return nil
	}
	if pageAddr == 0 {
		ic.addFault("Page 0 not allowed in tree structure", pageAddr, level, 0)
		return nil
	}
	ic.usedPageBits.Set(int64(pageAddr), true)

	buffer, err := ic.getPage(pageAddr)
	if err != nil {
		// An unreadable page aborts this subtree, not the run.
		ic.addFault("Unreadable page: "+err.Error(), pageAddr, level, 0)
		return nil
	}
	ic.pagesVisited++
	retained := false
	defer func() {
		if !retained {
			ic.releaseQuiet(buffer)
		}
	}()

	if parent == 0 && buffer.Page().RightSibling() != 0 {
		ic.addFault("Tree root has a right sibling", pageAddr, level, 0)
	}

	var edgeKey []byte
	if ic.edgeBuffers[level] != nil {
		leftSibling, lastKey := ic.walkRight(level, pageAddr)
		// The final key of the left sibling must sort below the key the
		// parent holds for this page.
		if parentKey != nil && lastKey != nil && bytes.Compare(lastKey, parentKey) >= 0 {
			ic.addFault("left sibling final key is not less than parent key", pageAddr, level, 0)
		}
		if leftSibling != nil {
			ic.releaseQuiet(leftSibling)
		}
	}
	edgeKey = append([]byte(nil), parentKey...)

	ic.edgeBuffers[level] = buffer
	ic.edgePages[level] = pageAddr
	ic.edgeKeys[level] = edgeKey
	retained = true

	if !ic.checkPageType(buffer, level) {
		return nil
	}
	lastKey, ok := ic.verifyPage(buffer, pageAddr, level, parentKey)
	if !ok {
		return nil
	}
	ic.edgeKeys[level] = lastKey

	p := buffer.Page()
	switch {
	case p.IsData():
		ic.counters.DataPageCount++
		ic.counters.DataBytesInUse += int64(p.BytesInUse())
		for slot := 0; ; {
			next, lr, found := p.NextLongRecord(slot)
			if !found {
				break
			}
			ic.verifyLongRecord(lr, pageAddr, next)
			slot = next + 1
		}
	case p.IsIndex():
		ic.counters.IndexPageCount++
		ic.counters.IndexBytesInUse += int64(p.BytesInUse())
		cursor := p.NewCursor()
		for cursor.Next() {
			if ic.stopped() {
				return nil
			}
			child, err := p.ChildPointerAt(cursor.Slot())
			if err != nil {
				ic.addFault("Unreadable index pointer: "+err.Error(), pageAddr, level, cursor.Slot())
				continue
			}
			if child <= 0 || child > primitives.MaxValidPageAddress {
				ic.addFault(fmt.Sprintf("Invalid index pointer value %d", child), pageAddr, level, cursor.Slot())
				continue
			}
			childKey := append([]byte(nil), cursor.Key()...)
			ic.edgePositions[level] = cursor.Slot()
			if err := ic.checkSubtree(childKey, pageAddr, child, level-1); err != nil {
				return err
			}
		}
	}
	return nil
}

// walkRight follows right siblings from the current edge page at level
// until it reaches toPage. Every intermediate page is an index hole. The
// returned buffer is the direct left sibling of toPage, claimed, with its
// final key; the caller releases it.
func (ic *IntegrityCheck) walkRight(level int, toPage primitives.PageAddress) (*memory.Buffer, []byte) {
	startingBuffer := ic.edgeBuffers[level]
	if startingBuffer == nil {
		return nil, nil
	}
	lastKey := ic.edgeKeys[level]
	ic.edgeBuffers[level] = nil

	if startingBuffer.Address() == toPage {
		ic.addFault("Overlapping page", toPage, level, 0)
		return startingBuffer, lastKey
	}

	buffer := startingBuffer
	walkCount := MaxWalkRight
	for buffer.Page().RightSibling() != toPage {
		pageAddr := buffer.Page().RightSibling()

		if pageAddr == startingBuffer.Address() {
			ic.addFault("Right pointer cycle", pageAddr, level, 0)
			if buffer != startingBuffer {
				ic.releaseQuiet(buffer)
			}
			return startingBuffer, nil
		}
		if pageAddr <= 0 || pageAddr > primitives.MaxValidPageAddress {
			ic.addFault("Invalid right sibling address", buffer.Address(), level, 0)
			if buffer != startingBuffer {
				ic.releaseQuiet(buffer)
			}
			return startingBuffer, nil
		}

		ic.counters.IndexHoleCount++
		if len(ic.holes) < MaxHolesToFix && ic.currentTree != nil {
			ic.holes = append(ic.holes, IndexHole{
				TreeHandle: ic.currentTree.Handle,
				Page:       pageAddr,
				Level:      level,
			})
		}

		walkCount--
		if walkCount <= 0 {
			ic.addFault(fmt.Sprintf("More than %d unindexed siblings", MaxWalkRight), pageAddr, level, 0)
			if buffer != startingBuffer {
				ic.releaseQuiet(buffer)
			}
			return startingBuffer, nil
		}

		next, err := ic.getPage(pageAddr)
		if err != nil {
			ic.addFault("Unreadable right sibling: "+err.Error(), pageAddr, level, 0)
			if buffer != startingBuffer {
				ic.releaseQuiet(buffer)
			}
			return startingBuffer, nil
		}
		if buffer != startingBuffer {
			ic.releaseQuiet(buffer)
		}
		buffer = next

		if !ic.usedPageBits.Get(int64(pageAddr)) {
			ic.usedPageBits.Set(int64(pageAddr), true)
		}
		ic.pagesVisited++
		walked, ok := ic.verifyPage(buffer, pageAddr, level, nil)
		if !ok {
			if buffer != startingBuffer {
				ic.releaseQuiet(buffer)
			}
			return startingBuffer, nil
		}
		lastKey = walked
	}

	if buffer != startingBuffer {
		ic.releaseQuiet(startingBuffer)
	}
	return buffer, lastKey
}

func (ic *IntegrityCheck) checkPageType(buffer *memory.Buffer, level int) bool {
	if buffer.Page().Type() != page.TypeData+level {
		ic.addFault(fmt.Sprintf("Unexpected page type %d", buffer.Page().Type()), buffer.Address(), level, 0)
		return false
	}
	return true
}

// verifyPage runs the page-local checks, accumulates MVCC statistics, and
// prunes when enabled. It returns the page's final key and whether the page
// is clean enough to descend into.
func (ic *IntegrityCheck) verifyPage(buffer *memory.Buffer, pageAddr primitives.PageAddress,
	level int, parentKey []byte) ([]byte, bool) {
	p := buffer.Page()
	if p.PageAddress() != pageAddr {
		ic.addFault(fmt.Sprintf("Buffer contains wrong page %d", p.PageAddress()), pageAddr, level, 0)
		return nil, false
	}
	if !p.IsData() && !p.IsIndex() {
		return nil, true
	}

	ic.pageMvvCount = 0
	if fault := p.Verify(ic.mvvAccountant()); fault != nil {
		ic.addFault(fault.Message, pageAddr, level, 0)
		return nil, false
	}

	count := p.KeyblockCount()
	var firstKey, lastKey []byte
	if count > 0 {
		firstKey, _ = p.KeyAt(0)
		lastKey, _ = p.KeyAt(count - 1)
	}
	if parentKey != nil && firstKey != nil && bytes.Compare(firstKey, parentKey) < 0 {
		ic.addFault("first key is less than parent key", pageAddr, level, 0)
	}

	if ic.pageMvvCount > 0 {
		ic.counters.MvvPageCount++
		if ic.opts.Prune && !ic.currentVolume.ReadOnly() && ic.counters.PruningErrorCount < MaxPruningErrors {
			if err := ic.pruneMvvValues(buffer); err != nil {
				ic.counters.PruningErrorCount++
				logging.WithComponent("verify").Warn("pruning failed", "page", pageAddr, "error", err)
			} else {
				ic.counters.PrunedPageCount++
			}
		}
	}
	return lastKey, true
}

// mvvAccountant observes each data record, counting multi-version values,
// their overhead and their trailing anti-values.
func (ic *IntegrityCheck) mvvAccountant() page.VerifyVisitor {
	return &mvvVisitor{ic: ic}
}

type mvvVisitor struct {
	ic *IntegrityCheck
}

func (v *mvvVisitor) VisitDataRecord(k []byte, slot int, payload []byte) error {
	if !mvcc.IsMultiVersion(payload) {
		return nil
	}
	state := &mvvScan{}
	if err := mvcc.VisitAllVersions(state, payload); err != nil {
		return err
	}
	if state.count == 0 {
		return nil
	}
	v.ic.pageMvvCount++
	v.ic.counters.MvvCount++
	versionLength := len(payload) - state.lastOffset
	v.ic.counters.MvvOverhead += int64(len(payload) - versionLength)
	if state.lastLength == 1 && payload[state.lastOffset] == mvcc.TypeAntiValue {
		v.ic.counters.MvvOverhead++
		v.ic.counters.MvvAntiValues++
	}
	return nil
}

type mvvScan struct {
	count      int
	lastOffset int
	lastLength int
}

func (s *mvvScan) Init() error { return nil }

func (s *mvvScan) SawVersion(version primitives.Version, offset, length int) error {
	if version != mvcc.PrimordialVersion {
		s.count++
		s.lastOffset = offset
		s.lastLength = length
	}
	return nil
}

// pruneMvvValues rewrites every multi-version value on the page under an
// exclusive claim. Observable contents for live snapshots are unchanged.
func (ic *IntegrityCheck) pruneMvvValues(buffer *memory.Buffer) error {
	if err := buffer.Upgrade(); err != nil {
		return err
	}
	p := buffer.Page()
	floor := ic.oracle.Floor()
	changed := false

	for slot := 0; slot < p.KeyblockCount(); slot++ {
		payload, err := p.PayloadAt(slot)
		if err != nil {
			return err
		}
		if !mvcc.IsMultiVersion(payload) {
			continue
		}
		result, err := mvcc.Prune(payload, ic.oracle, floor)
		if err != nil {
			return err
		}
		switch {
		case result.RemoveKey:
			if err := p.Remove(slot); err != nil {
				return err
			}
			slot--
			changed = true
		case result.Changed:
			if status, err := p.UpdatePayloadAt(slot, result.Value); err != nil {
				return err
			} else if status != page.InsertOK {
				return errs.Newf(errs.KindCorruptVolume, "no room rewriting pruned value at slot %d", slot)
			}
			changed = true
		}
	}
	if changed {
		buffer.MarkDirty(p.Timestamp())
	}
	return nil
}

// verifyLongRecord chases one long record chain, marking pages used and
// checking the chain length against the descriptor.
func (ic *IntegrityCheck) verifyLongRecord(lr page.LongRecord, fromPage primitives.PageAddress, slot int) {
	if lr.Size < page.LongRecPrefixSize {
		ic.addFault(fmt.Sprintf("Invalid long record size (%d)", lr.Size), fromPage, 0, slot)
	}
	if lr.Page <= 0 || lr.Page > primitives.MaxValidPageAddress {
		ic.addFault(fmt.Sprintf("Invalid long record pointer (%d)", lr.Page), fromPage, 0, slot)
		return
	}

	remaining := lr.Size - page.LongRecPrefixSize
	previous := fromPage
	for longPage := lr.Page; longPage != 0; {
		if ic.usedPageBits.Get(int64(longPage)) {
			ic.addFault(fmt.Sprintf("Long record page %d is multiply linked", longPage), fromPage, 0, slot)
			return
		}
		ic.usedPageBits.Set(int64(longPage), true)
		if remaining <= 0 {
			ic.addFault(fmt.Sprintf("Long record chain too long at page %d pointed to by %d", longPage, previous),
				fromPage, 0, slot)
			return
		}
		buffer, err := ic.getPage(longPage)
		if err != nil {
			ic.addFault("Unreadable long record page: "+err.Error(), fromPage, 0, slot)
			return
		}
		if !buffer.Page().IsLongRecord() {
			ic.addFault(fmt.Sprintf("Invalid long record page %d: type=%s", longPage, buffer.Page().TypeName()),
				fromPage, 0, slot)
			ic.releaseQuiet(buffer)
			return
		}
		segment := buffer.Page().Size() - page.HeaderSize
		if segment > remaining {
			segment = remaining
		}
		remaining -= segment
		ic.counters.LongRecordBytesInUse += int64(segment)
		ic.counters.LongRecordPageCount++
		ic.pagesVisited++

		previous = longPage
		longPage = buffer.Page().RightSibling()
		ic.releaseQuiet(buffer)
	}
	if remaining > 0 {
		ic.addFault(fmt.Sprintf("Long record chain too short: %d bytes missing after page %d", remaining, previous),
			fromPage, 0, slot)
	}
}

// checkGarbage traverses the volume's garbage chain, verifying each garbage
// page and each free run.
func (ic *IntegrityCheck) checkGarbage(garbageRoot primitives.PageAddress) error {
	garbageAddr := garbageRoot
	first := true
	for garbageAddr != 0 {
		if ic.stopped() {
			return nil
		}
		buffer, err := ic.getPage(garbageAddr)
		if err != nil {
			ic.addFault("Unreadable garbage page: "+err.Error(), garbageAddr, 1, 0)
			return nil
		}
		if first {
			ic.edgePages[0] = garbageAddr
			first = false
		}
		ic.checkGarbagePage(buffer)
		ic.pagesVisited++
		garbageAddr = buffer.Page().RightSibling()
		ic.releaseQuiet(buffer)
	}
	ic.edgePages[0] = 0
	return nil
}

func (ic *IntegrityCheck) checkGarbagePage(buffer *memory.Buffer) {
	p := buffer.Page()
	pageAddr := buffer.Address()
	if !p.IsGarbage() {
		ic.addFault(fmt.Sprintf("Unexpected page type %d expected a garbage page", p.Type()), pageAddr, 1, 0)
		return
	}
	if ic.usedPageBits.Get(int64(pageAddr)) {
		ic.addFault("Garbage page is referenced by multiple parents", pageAddr, 1, 0)
		return
	}
	ic.usedPageBits.Set(int64(pageAddr), true)
	ic.counters.GarbagePageCount++

	count, err := p.GarbageEntryCount()
	if err != nil {
		ic.addFault(err.Error(), pageAddr, 1, 0)
		return
	}
	ic.edgePages[1] = pageAddr
	for i := 0; i < count; i++ {
		left, right, err := p.GarbageRunAt(i)
		if err != nil {
			ic.addFault(err.Error(), pageAddr, 1, 0)
			break
		}
		ic.edgePositions[1] = i
		ic.checkGarbageChain(left, right)
	}
	ic.edgePages[1] = 0
}

func (ic *IntegrityCheck) checkGarbageChain(left, right primitives.PageAddress) {
	pageAddr := left
	ic.edgePages[2] = pageAddr
	for pageAddr != 0 {
		if ic.usedPageBits.Get(int64(pageAddr)) {
			ic.addFault("Page on garbage chain is referenced by multiple parents", pageAddr, 3, 0)
			return
		}
		ic.usedPageBits.Set(int64(pageAddr), true)
		buffer, err := ic.getPage(pageAddr)
		if err != nil {
			ic.addFault("Unreadable page on garbage chain: "+err.Error(), pageAddr, 3, 0)
			return
		}
		p := buffer.Page()
		if !p.IsData() && !p.IsIndex() && !p.IsLongRecord() {
			ic.addFault(fmt.Sprintf("Page of type %s found on garbage page", p.TypeName()), pageAddr, 3, 0)
		}
		ic.counters.GarbagePageCount++
		ic.pagesVisited++
		next := p.RightSibling()
		ic.releaseQuiet(buffer)
		if pageAddr == right {
			break
		}
		pageAddr = next
	}
	ic.edgePages[2] = 0
}

func (ic *IntegrityCheck) getPage(pageAddr primitives.PageAddress) (*memory.Buffer, error) {
	forWrite := ic.opts.Prune && !ic.currentVolume.ReadOnly()
	return ic.pool.Get(ic.currentVolume, pageAddr, forWrite, true)
}

func (ic *IntegrityCheck) releaseQuiet(buffer *memory.Buffer) {
	if err := ic.pool.Release(buffer); err != nil {
		ic.messages(LogNormal, "release failed: "+err.Error())
	}
}

func (ic *IntegrityCheck) stopped() bool {
	return ic.opts.ShouldStop != nil && ic.opts.ShouldStop()
}
