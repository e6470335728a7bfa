// Package volume manages a single volume file: a sequence of fixed-size
// pages with the head page at address 0. The head records the directory
// tree root, the garbage chain root and the allocation high-water mark.
package volume

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"keelstore/pkg/config"
	"keelstore/pkg/errs"
	"keelstore/pkg/logging"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/page"
)

// Volume is an open volume file. Page-level claims are the buffer pool's
// business; Volume only serializes head mutations and raw page I/O.
type Volume struct {
	name     string
	path     string
	file     *os.File
	pageSize int
	readOnly bool

	// headMu serializes allocation-state mutations. It is the only guard:
	// callers take no buffer-pool claim on the head page.
	headMu sync.Mutex
	head   *page.Page
}

// Create formats a new volume file. The volume id is derived from a random
// UUID so that journals can distinguish recreated volumes of the same name.
func Create(path, name string, pageSize int) (*Volume, error) {
	if err := config.ValidatePageSize(pageSize); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindIO, "Create", "Volume")
	}

	id := int64(uuid.New().ID())<<32 | int64(uuid.New().ID())
	head := page.New(make([]byte, pageSize), primitives.HeadPageAddress, page.TypeHead)
	if err := head.FormatHead(pageSize, id, time.Now().UnixMilli()); err != nil {
		file.Close()
		return nil, err
	}

	v := &Volume{name: name, path: path, file: file, pageSize: pageSize, head: head}
	if err := v.writeHead(); err != nil {
		file.Close()
		return nil, err
	}
	logging.WithVolume(name).Info("volume created", "path", path, "pageSize", pageSize, "id", id)
	return v, nil
}

// Open reads an existing volume file and validates its head page.
func Open(path, name string, readOnly bool) (*Volume, error) {
	flags := os.O_RDWR
	if readOnly {
		flags = os.O_RDONLY
	}
	file, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindIO, "Open", "Volume")
	}

	probe := make([]byte, page.HeaderSize+64)
	if _, err := file.ReadAt(probe, 0); err != nil {
		file.Close()
		return nil, errs.Wrap(err, errs.KindIO, "Open", "Volume")
	}
	headProbe := page.Wrap(probe)
	if !headProbe.IsHead() || headProbe.HeadVersion() != page.HeadFormatVersion {
		file.Close()
		return nil, errs.Newf(errs.KindCorruptVolume, "%s does not begin with a valid head page", path)
	}
	pageSize := headProbe.HeadPageSize()
	if err := config.ValidatePageSize(pageSize); err != nil {
		file.Close()
		return nil, errs.Newf(errs.KindCorruptVolume, "%s head declares page size %d", path, pageSize)
	}

	headBuf := make([]byte, pageSize)
	if _, err := file.ReadAt(headBuf, 0); err != nil {
		file.Close()
		return nil, errs.Wrap(err, errs.KindIO, "Open", "Volume")
	}
	return &Volume{
		name:     name,
		path:     path,
		file:     file,
		pageSize: pageSize,
		readOnly: readOnly,
		head:     page.Wrap(headBuf),
	}, nil
}

// Name returns the volume's registered name.
func (v *Volume) Name() string { return v.name }

// Path returns the backing file path.
func (v *Volume) Path() string { return v.path }

// PageSize returns the uniform page size of this volume.
func (v *Volume) PageSize() int { return v.pageSize }

// ID returns the volume identity recorded at creation.
func (v *Volume) ID() int64 { return v.head.VolumeID() }

// ReadOnly reports whether the volume was opened read-only.
func (v *Volume) ReadOnly() bool { return v.readOnly }

// NextAvailable returns the allocation high-water mark.
func (v *Volume) NextAvailable() primitives.PageAddress {
	v.headMu.Lock()
	defer v.headMu.Unlock()
	return v.head.NextAvailable()
}

// GarbageRoot returns the head of the garbage page chain.
func (v *Volume) GarbageRoot() primitives.PageAddress {
	v.headMu.Lock()
	defer v.headMu.Unlock()
	return v.head.GarbageRoot()
}

// DirectoryRoot returns the root of the directory tree, or zero before the
// first tree is created.
func (v *Volume) DirectoryRoot() primitives.PageAddress {
	v.headMu.Lock()
	defer v.headMu.Unlock()
	return v.head.DirectoryRoot()
}

// SetDirectoryRoot assigns the directory tree root and persists the head.
func (v *Volume) SetDirectoryRoot(address primitives.PageAddress) error {
	v.headMu.Lock()
	defer v.headMu.Unlock()
	v.head.SetDirectoryRoot(address)
	return v.writeHead()
}

// ReadPage reads the raw image of the page at address.
func (v *Volume) ReadPage(address primitives.PageAddress) ([]byte, error) {
	if address < 0 || address > primitives.MaxValidPageAddress {
		return nil, errs.Newf(errs.KindInvalidArgument, "page address %d out of range", address)
	}
	buf := make([]byte, v.pageSize)
	if _, err := v.file.ReadAt(buf, int64(address)*int64(v.pageSize)); err != nil {
		return nil, errs.Wrap(err, errs.KindIO, "ReadPage", "Volume")
	}
	return buf, nil
}

// WritePage writes the raw image of the page at address.
func (v *Volume) WritePage(address primitives.PageAddress, buf []byte) error {
	if v.readOnly {
		return errs.New(errs.KindStateViolation, "volume is read-only")
	}
	if len(buf) != v.pageSize {
		return errs.Newf(errs.KindInvalidArgument, "page image is %d bytes, volume page size is %d",
			len(buf), v.pageSize)
	}
	if _, err := v.file.WriteAt(buf, int64(address)*int64(v.pageSize)); err != nil {
		return errs.Wrap(err, errs.KindIO, "WritePage", "Volume")
	}
	return nil
}

// AllocatePage returns a free page address: the head of the first garbage
// run when one exists, otherwise the next never-used address.
func (v *Volume) AllocatePage() (primitives.PageAddress, error) {
	if v.readOnly {
		return 0, errs.New(errs.KindStateViolation, "volume is read-only")
	}
	v.headMu.Lock()
	defer v.headMu.Unlock()

	garbageRoot := v.head.GarbageRoot()
	if garbageRoot != 0 {
		address, err := v.popGarbageLocked(garbageRoot)
		if err != nil {
			return 0, err
		}
		if address != 0 {
			return address, nil
		}
	}

	next := v.head.NextAvailable()
	v.head.SetNextAvailable(next + 1)
	if err := v.writeHead(); err != nil {
		return 0, err
	}
	return next, nil
}

// popGarbageLocked takes one page off the first garbage run. It returns 0
// when the chain turned out to be empty.
func (v *Volume) popGarbageLocked(garbageRoot primitives.PageAddress) (primitives.PageAddress, error) {
	buf, err := v.ReadPage(garbageRoot)
	if err != nil {
		return 0, err
	}
	gp := page.Wrap(buf)
	left, right, ok, err := gp.PopGarbageRun()
	if err != nil {
		return 0, err
	}
	if !ok {
		// Empty garbage page: recycle the page itself.
		v.head.SetGarbageRoot(gp.RightSibling())
		if err := v.writeHead(); err != nil {
			return 0, err
		}
		return garbageRoot, nil
	}

	// The run is a sibling-linked chain from left to right inclusive.
	taken := left
	takenBuf, err := v.ReadPage(taken)
	if err != nil {
		return 0, err
	}
	next := page.Wrap(takenBuf).RightSibling()
	if taken != right && next != 0 {
		if _, err := gp.PushGarbageRun(next, right); err != nil {
			return 0, err
		}
	}
	if err := v.WritePage(garbageRoot, gp.Bytes()); err != nil {
		return 0, err
	}
	return taken, nil
}

// DeallocateRun pushes the sibling-linked chain [left, right] onto the
// garbage list. A new garbage page is allocated from the high-water mark
// when the chain head is full or absent.
func (v *Volume) DeallocateRun(left, right primitives.PageAddress) error {
	if v.readOnly {
		return errs.New(errs.KindStateViolation, "volume is read-only")
	}
	v.headMu.Lock()
	defer v.headMu.Unlock()

	garbageRoot := v.head.GarbageRoot()
	if garbageRoot != 0 {
		buf, err := v.ReadPage(garbageRoot)
		if err != nil {
			return err
		}
		gp := page.Wrap(buf)
		ok, err := gp.PushGarbageRun(left, right)
		if err != nil {
			return err
		}
		if ok {
			return v.WritePage(garbageRoot, gp.Bytes())
		}
	}

	next := v.head.NextAvailable()
	v.head.SetNextAvailable(next + 1)
	gp := page.New(make([]byte, v.pageSize), next, page.TypeGarbage)
	gp.SetRightSibling(garbageRoot)
	if _, err := gp.PushGarbageRun(left, right); err != nil {
		return err
	}
	if err := v.WritePage(next, gp.Bytes()); err != nil {
		return err
	}
	v.head.SetGarbageRoot(next)
	return v.writeHead()
}

// writeHead persists the head page; callers hold headMu.
func (v *Volume) writeHead() error {
	if _, err := v.file.WriteAt(v.head.Bytes(), 0); err != nil {
		return errs.Wrap(err, errs.KindIO, "writeHead", "Volume")
	}
	return nil
}

// Sync flushes the backing file.
func (v *Volume) Sync() error {
	if err := v.file.Sync(); err != nil {
		return errs.Wrap(err, errs.KindIO, "Sync", "Volume")
	}
	return nil
}

// Close releases the backing file.
func (v *Volume) Close() error {
	return v.file.Close()
}
