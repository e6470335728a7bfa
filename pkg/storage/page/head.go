package page

import (
	"encoding/binary"

	"keelstore/pkg/errs"
	"keelstore/pkg/primitives"
)

// The volume head page occupies address 0. Its body records the volume's
// structural roots and allocation state.
//
//	[32] format version   uint32
//	[36] page size        uint32
//	[40] directory root   uint64
//	[48] garbage root     uint64
//	[56] next available   uint64
//	[64] volume id        uint64
//	[72] create time (ms) uint64

// HeadFormatVersion identifies the head page layout written by this engine.
const HeadFormatVersion = 1

const (
	headVersionOffset       = 32
	headPageSizeOffset      = 36
	headDirectoryRootOffset = 40
	headGarbageRootOffset   = 48
	headNextAvailableOffset = 56
	headVolumeIDOffset      = 64
	headCreateTimeOffset    = 72
)

func (p *Page) ensureHead() error {
	if !p.IsHead() {
		return errs.Newf(errs.KindCorruptVolume, "page %d is %s, not a head page",
			p.PageAddress(), p.TypeName())
	}
	return nil
}

// FormatHead initializes the head page body.
func (p *Page) FormatHead(pageSize int, volumeID int64, createTimeMillis int64) error {
	if err := p.ensureHead(); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p.buf[headVersionOffset:], HeadFormatVersion)
	binary.BigEndian.PutUint32(p.buf[headPageSizeOffset:], uint32(pageSize))
	binary.BigEndian.PutUint64(p.buf[headVolumeIDOffset:], uint64(volumeID))
	binary.BigEndian.PutUint64(p.buf[headCreateTimeOffset:], uint64(createTimeMillis))
	p.SetNextAvailable(1)
	return nil
}

// HeadVersion returns the head format version.
func (p *Page) HeadVersion() uint32 {
	return binary.BigEndian.Uint32(p.buf[headVersionOffset:])
}

// HeadPageSize returns the volume's page size as recorded in the head.
func (p *Page) HeadPageSize() int {
	return int(binary.BigEndian.Uint32(p.buf[headPageSizeOffset:]))
}

// DirectoryRoot returns the root address of the directory tree.
func (p *Page) DirectoryRoot() primitives.PageAddress {
	return primitives.PageAddress(binary.BigEndian.Uint64(p.buf[headDirectoryRootOffset:]))
}

// SetDirectoryRoot assigns the directory tree root.
func (p *Page) SetDirectoryRoot(address primitives.PageAddress) {
	binary.BigEndian.PutUint64(p.buf[headDirectoryRootOffset:], uint64(address))
}

// GarbageRoot returns the head of the garbage page chain.
func (p *Page) GarbageRoot() primitives.PageAddress {
	return primitives.PageAddress(binary.BigEndian.Uint64(p.buf[headGarbageRootOffset:]))
}

// SetGarbageRoot assigns the head of the garbage page chain.
func (p *Page) SetGarbageRoot(address primitives.PageAddress) {
	binary.BigEndian.PutUint64(p.buf[headGarbageRootOffset:], uint64(address))
}

// NextAvailable returns the lowest never-allocated page address.
func (p *Page) NextAvailable() primitives.PageAddress {
	return primitives.PageAddress(binary.BigEndian.Uint64(p.buf[headNextAvailableOffset:]))
}

// SetNextAvailable assigns the allocation high-water mark.
func (p *Page) SetNextAvailable(address primitives.PageAddress) {
	binary.BigEndian.PutUint64(p.buf[headNextAvailableOffset:], uint64(address))
}

// VolumeID returns the volume's identity as recorded in the head.
func (p *Page) VolumeID() int64 {
	return int64(binary.BigEndian.Uint64(p.buf[headVolumeIDOffset:]))
}

// CreateTimeMillis returns the volume creation wall time.
func (p *Page) CreateTimeMillis() int64 {
	return int64(binary.BigEndian.Uint64(p.buf[headCreateTimeOffset:]))
}
