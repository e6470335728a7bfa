package journal

import (
	"os"
	"sync"
	"time"

	"keelstore/pkg/errs"
	"keelstore/pkg/logging"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/volume"
)

// Writer appends records to the journal. Each file begins with a JH record;
// a record that would cross the block boundary closes the block with a JE
// and rolls to the next file. Volume and tree handles are assigned on first
// use and announced through IV and IT records.
type Writer struct {
	mu sync.Mutex

	base           string
	blockSize      int64
	current        primitives.JournalAddress
	file           *os.File
	journalCreated int64

	volumeHandles map[int64]primitives.VolumeHandle
	treeHandles   map[string]primitives.TreeHandle
	nextHandle    int32
}

// NewWriter starts a journal at address zero.
func NewWriter(base string, blockSize int64) (*Writer, error) {
	if blockSize <= 0 {
		return nil, errs.Newf(errs.KindInvalidArgument, "journal block size %d", blockSize)
	}
	w := &Writer{
		base:           base,
		blockSize:      blockSize,
		journalCreated: time.Now().UnixMilli(),
		volumeHandles:  make(map[int64]primitives.VolumeHandle),
		treeHandles:    make(map[string]primitives.TreeHandle),
		nextHandle:     1,
	}
	if err := w.openBlock(0); err != nil {
		return nil, err
	}
	return w, nil
}

// CurrentAddress returns the address the next record will be written at.
func (w *Writer) CurrentAddress() primitives.JournalAddress {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// BlockSize returns the journal block length.
func (w *Writer) BlockSize() int64 { return w.blockSize }

// openBlock creates the file for the block starting at base address and
// writes its JH record. Callers hold mu or run before the writer escapes.
func (w *Writer) openBlock(baseAddress primitives.JournalAddress) error {
	path := FileForAddress(w.base, baseAddress, w.blockSize)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return errs.Wrap(err, errs.KindIO, "openBlock", "Journal")
	}
	w.file = file
	w.current = baseAddress

	jh := JH{
		Version:        JournalVersion,
		BlockSize:      w.blockSize,
		BaseAddress:    baseAddress,
		JournalCreated: w.journalCreated,
		FileCreated:    time.Now().UnixMilli(),
	}
	if err := w.appendLocked(jh.Encode(0)); err != nil {
		return err
	}
	logging.WithComponent("journal").Debug("journal block opened", "path", path, "base", baseAddress)
	return nil
}

// appendLocked writes an encoded record at the current address, rolling to
// the next block when the record would cross the boundary.
func (w *Writer) appendLocked(record []byte) error {
	if int64(len(record)) >= w.blockSize {
		return errs.Newf(errs.KindInvalidArgument,
			"record of %d bytes cannot fit a %d-byte block", len(record), w.blockSize)
	}
	offset := FileOffset(w.current, w.blockSize)
	// Keep room for the JE trailer so every block can be sealed.
	if offset+int64(len(record))+Overhead+jeBodyLen > w.blockSize {
		if err := w.closeBlockLocked(); err != nil {
			return err
		}
		if err := w.openBlock(AddressUp(w.current, w.blockSize)); err != nil {
			return err
		}
		offset = FileOffset(w.current, w.blockSize)
	}
	if _, err := w.file.WriteAt(record, offset); err != nil {
		return errs.Wrap(err, errs.KindIO, "append", "Journal")
	}
	w.current += primitives.JournalAddress(len(record))
	return nil
}

// closeBlockLocked writes the JE trailer for the open block.
func (w *Writer) closeBlockLocked() error {
	je := JE{
		BaseAddress:    primitives.JournalAddress(Generation(w.current, w.blockSize) * w.blockSize),
		CurrentAddress: w.current,
		JournalCreated: w.journalCreated,
	}
	record := je.Encode(0)
	offset := FileOffset(w.current, w.blockSize)
	if offset+int64(len(record)) <= w.blockSize {
		if _, err := w.file.WriteAt(record, offset); err != nil {
			return errs.Wrap(err, errs.KindIO, "closeBlock", "Journal")
		}
		w.current += primitives.JournalAddress(len(record))
	}
	if err := w.file.Close(); err != nil {
		return errs.Wrap(err, errs.KindIO, "closeBlock", "Journal")
	}
	w.file = nil
	return nil
}

// volumeHandleLocked returns v's handle, writing an IV record on first use.
func (w *Writer) volumeHandleLocked(v *volume.Volume) (primitives.VolumeHandle, error) {
	if handle, ok := w.volumeHandles[v.ID()]; ok {
		return handle, nil
	}
	handle := primitives.VolumeHandle(w.nextHandle)
	w.nextHandle++
	iv := IV{Handle: handle, VolumeID: v.ID(), Name: v.Name()}
	if err := w.appendLocked(iv.Encode(0)); err != nil {
		return 0, err
	}
	w.volumeHandles[v.ID()] = handle
	return handle, nil
}

// TreeHandle returns the handle for a tree, writing IV/IT records on first
// use.
func (w *Writer) TreeHandle(v *volume.Volume, treeName string) (primitives.TreeHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := v.Name() + ":" + treeName
	if handle, ok := w.treeHandles[key]; ok {
		return handle, nil
	}
	volumeHandle, err := w.volumeHandleLocked(v)
	if err != nil {
		return 0, err
	}
	handle := primitives.TreeHandle(w.nextHandle)
	w.nextHandle++
	it := IT{Handle: handle, VolumeHandle: volumeHandle, TreeName: treeName}
	if err := w.appendLocked(it.Encode(0)); err != nil {
		return 0, err
	}
	w.treeHandles[key] = handle
	return handle, nil
}

// WritePageImage appends a PA record for one page version.
func (w *Writer) WritePageImage(v *volume.Volume, address primitives.PageAddress,
	image []byte, ts primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	handle, err := w.volumeHandleLocked(v)
	if err != nil {
		return err
	}
	pa := PA{VolumeHandle: handle, PageAddress: address, Image: image}
	return w.appendLocked(pa.Encode(ts))
}

// ObservePageWrite implements the buffer pool's write-back interlock: the
// PA record is appended before the dirty page reaches the volume file.
func (w *Writer) ObservePageWrite(v *volume.Volume, address primitives.PageAddress,
	image []byte, ts primitives.Timestamp) error {
	return w.WritePageImage(v, address, image, ts)
}

// WriteTransactionStart appends a TS record.
func (w *Writer) WriteTransactionStart(start primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(TS{StartTimestamp: start}.Encode(start))
}

// WriteTransactionCommit appends a TC record carrying the commit timestamp.
func (w *Writer) WriteTransactionCommit(commit primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(TC{}.Encode(commit))
}

// WriteStore appends an SR record.
func (w *Writer) WriteStore(tree primitives.TreeHandle, k, value []byte, ts primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(SR{TreeHandle: tree, Key: k, Value: value}.Encode(ts))
}

// WriteDeleteRange appends a DR record.
func (w *Writer) WriteDeleteRange(tree primitives.TreeHandle, key1, key2 []byte, ts primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(DR{TreeHandle: tree, Key1: key1, Key2: key2}.Encode(ts))
}

// WriteDropTree appends a DT record.
func (w *Writer) WriteDropTree(tree primitives.TreeHandle, ts primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(DT{TreeHandle: tree}.Encode(ts))
}

// WriteCheckpoint appends a CP record along with the page and transaction
// maps that describe the recovery state at this point.
func (w *Writer) WriteCheckpoint(pageMap PM, txnMap TM, ts primitives.Timestamp) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.appendLocked(pageMap.Encode(ts)); err != nil {
		return err
	}
	if err := w.appendLocked(txnMap.Encode(ts)); err != nil {
		return err
	}
	cp := CP{BaseAddress: w.current, SystemTimeMillis: time.Now().UnixMilli()}
	return w.appendLocked(cp.Encode(ts))
}

// Close seals the open block with a JE record.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.closeBlockLocked()
}
