// Package memory implements the buffer pool: the cache of page images and
// the claim discipline every page access goes through. Each access acquires
// a SHARED claim for reading or an EXCLUSIVE claim for writing; acquisition
// may time out, which surfaces as an InUse error.
package memory

import (
	"sync"
	"sync/atomic"
	"time"

	"keelstore/pkg/errs"
	"keelstore/pkg/logging"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/page"
	"keelstore/pkg/storage/volume"
)

// DefaultClaimTimeout bounds how long a waiting Get blocks before failing
// with InUse.
const DefaultClaimTimeout = 30 * time.Second

// PageWriteObserver is notified with the page image before a dirty page is
// written back to its volume. The journal uses this to guarantee a PA record
// precedes the volume write.
type PageWriteObserver interface {
	ObservePageWrite(v *volume.Volume, address primitives.PageAddress, image []byte, timestamp primitives.Timestamp) error
}

// Buffer is one pooled page frame, returned by Get with a claim held.
type Buffer struct {
	pool      *Pool
	volume    *volume.Volume
	address   primitives.PageAddress
	page      *page.Page
	claims    *claimState
	exclusive bool
	dirty     bool
	// generation is the frame's generation when this claim was taken; the
	// frame's counter increments on every exclusive release. In-memory only.
	generation uint64
}

// Page exposes the decoded page. The claim rules govern access: callers
// holding only a shared claim must not mutate it.
func (b *Buffer) Page() *page.Page { return b.page }

// Address returns the page address held by this buffer.
func (b *Buffer) Address() primitives.PageAddress { return b.address }

// Volume returns the owning volume.
func (b *Buffer) Volume() *volume.Volume { return b.volume }

// Generation returns the frame generation observed when this buffer was
// claimed. It does not change while the buffer is held; a later Get sees a
// larger value once an exclusive claim on the page has been released.
func (b *Buffer) Generation() uint64 { return atomic.LoadUint64(&b.generation) }

// IsExclusive reports whether this buffer holds an exclusive claim.
func (b *Buffer) IsExclusive() bool { return b.exclusive }

// MarkDirty records that the page was modified and stamps it.
func (b *Buffer) MarkDirty(ts primitives.Timestamp) {
	b.dirty = true
	b.page.SetTimestamp(ts)
}

// Upgrade converts a shared claim to exclusive.
func (b *Buffer) Upgrade() error {
	if b.exclusive {
		return nil
	}
	if !b.claims.upgrade(b.pool.claimTimeout) {
		return errs.Newf(errs.KindInUse, "timed out upgrading claim on page %d", b.address)
	}
	b.exclusive = true
	return nil
}

type frameKey struct {
	volumeID int64
	address  primitives.PageAddress
}

type frame struct {
	image  []byte
	claims *claimState
	dirty  bool
	gen    uint64
}

// Pool caches page images per volume and hands out claimed Buffers.
type Pool struct {
	mu           sync.Mutex
	frames       map[frameKey]*frame
	claimTimeout time.Duration
	observer     PageWriteObserver
}

// NewPool creates a buffer pool.
func NewPool() *Pool {
	return &Pool{
		frames:       make(map[frameKey]*frame),
		claimTimeout: DefaultClaimTimeout,
	}
}

// SetClaimTimeout overrides the claim timeout; tests use short values.
func (p *Pool) SetClaimTimeout(d time.Duration) { p.claimTimeout = d }

// SetWriteObserver installs the journal-side observer for page write-back.
func (p *Pool) SetWriteObserver(observer PageWriteObserver) { p.observer = observer }

// Get returns the page at address with a claim held: exclusive when
// forWrite, shared otherwise. When wait is false a contended claim fails
// immediately with InUse.
func (p *Pool) Get(v *volume.Volume, address primitives.PageAddress, forWrite, wait bool) (*Buffer, error) {
	f, err := p.frameFor(v, address)
	if err != nil {
		return nil, err
	}

	timeout := p.claimTimeout
	if !wait {
		timeout = 0
	}
	if !f.claims.acquire(forWrite, timeout) {
		return nil, errs.Newf(errs.KindInUse, "timed out claiming page %d of volume %s", address, v.Name())
	}
	return &Buffer{
		pool:       p,
		volume:     v,
		address:    address,
		page:       page.Wrap(f.image),
		claims:     f.claims,
		exclusive:  forWrite,
		generation: atomic.LoadUint64(&f.gen),
	}, nil
}

func (p *Pool) frameFor(v *volume.Volume, address primitives.PageAddress) (*frame, error) {
	k := frameKey{volumeID: v.ID(), address: address}
	p.mu.Lock()
	f, ok := p.frames[k]
	p.mu.Unlock()
	if ok {
		return f, nil
	}

	image, err := v.ReadPage(address)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.frames[k]; ok {
		return existing, nil
	}
	f = &frame{image: image, claims: newClaimState()}
	p.frames[k] = f
	return f, nil
}

// NewPage formats a fresh page image in the pool without reading the volume
// file, returning it exclusively claimed.
func (p *Pool) NewPage(v *volume.Volume, address primitives.PageAddress, pageType int) (*Buffer, error) {
	k := frameKey{volumeID: v.ID(), address: address}
	f := &frame{image: make([]byte, v.PageSize()), claims: newClaimState()}
	pg := page.New(f.image, address, pageType)

	p.mu.Lock()
	if _, exists := p.frames[k]; exists {
		p.mu.Unlock()
		return nil, errs.Newf(errs.KindStateViolation, "page %d already present in pool", address)
	}
	p.frames[k] = f
	p.mu.Unlock()

	if !f.claims.acquire(true, p.claimTimeout) {
		return nil, errs.Newf(errs.KindInUse, "timed out claiming new page %d", address)
	}
	return &Buffer{
		pool:      p,
		volume:    v,
		address:   address,
		page:      pg,
		claims:    f.claims,
		exclusive: true,
	}, nil
}

// Release returns a buffer's claim. Dirty pages are written back: the
// journal observer sees the image first, then the volume file.
func (p *Pool) Release(b *Buffer) error {
	var err error
	if b.dirty && b.exclusive {
		err = p.writeBack(b)
		b.dirty = false
	}
	k := frameKey{volumeID: b.volume.ID(), address: b.address}
	p.mu.Lock()
	if f, ok := p.frames[k]; ok && b.exclusive {
		atomic.AddUint64(&f.gen, 1)
	}
	p.mu.Unlock()
	b.claims.release(b.exclusive)
	return err
}

func (p *Pool) writeBack(b *Buffer) error {
	if p.observer != nil {
		if err := p.observer.ObservePageWrite(b.volume, b.address, b.page.Bytes(), b.page.Timestamp()); err != nil {
			return err
		}
	}
	if err := b.volume.WritePage(b.address, b.page.Bytes()); err != nil {
		logging.WithVolume(b.volume.Name()).Error("page write-back failed",
			"page", b.address, "error", err)
		return err
	}
	return nil
}

// Evict drops a clean frame from the cache; used by tests to force re-reads.
func (p *Pool) Evict(v *volume.Volume, address primitives.PageAddress) {
	p.mu.Lock()
	delete(p.frames, frameKey{volumeID: v.ID(), address: address})
	p.mu.Unlock()
}
