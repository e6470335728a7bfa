// Package engine assembles the storage components behind one handle: the
// volume, the buffer pool, the journal writer, the transaction index, the
// alert monitor, and the tree registry backed by the volume's directory
// tree.
package engine

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"keelstore/pkg/alert"
	"keelstore/pkg/concurrency/txnindex"
	"keelstore/pkg/config"
	"keelstore/pkg/errs"
	"keelstore/pkg/journal"
	"keelstore/pkg/logging"
	"keelstore/pkg/memory"
	"keelstore/pkg/primitives"
	"keelstore/pkg/storage/key"
	"keelstore/pkg/storage/page"
	"keelstore/pkg/storage/tree"
	"keelstore/pkg/storage/volume"
)

// DirectoryTreeName is the reserved name of the per-volume tree that maps
// user tree names to their roots.
const DirectoryTreeName = "_directory"

// settleWait lets in-flight mutations complete after updates are
// suspended.
const settleWait = 3 * time.Second

// Engine is the embedded storage engine handle.
type Engine struct {
	cfg      config.Config
	pool     *memory.Pool
	journal  *journal.Writer
	txnIndex *txnindex.Index
	alerts   *alert.Monitor
	volume   *volume.Volume

	mu        sync.Mutex
	trees     map[string]*tree.Tree
	directory *tree.Tree

	timestamp       atomic.Int64
	updateSuspended atomic.Bool
	settle          func()
}

// Open creates or opens the configured volume and journal.
func Open(cfg config.Config, dispatcher alert.Dispatcher) (*Engine, error) {
	var v *volume.Volume
	var err error
	if _, statErr := os.Stat(cfg.VolumePath); os.IsNotExist(statErr) {
		v, err = volume.Create(cfg.VolumePath, volumeName(cfg.VolumePath), cfg.PageSize)
	} else {
		v, err = volume.Open(cfg.VolumePath, volumeName(cfg.VolumePath), false)
	}
	if err != nil {
		return nil, err
	}

	w, err := journal.NewWriter(cfg.JournalPath, cfg.JournalBlockSize)
	if err != nil {
		v.Close()
		return nil, err
	}

	pool := memory.NewPool()
	pool.SetWriteObserver(w)

	e := &Engine{
		cfg:      cfg,
		pool:     pool,
		journal:  w,
		txnIndex: txnindex.New(),
		alerts:   alert.NewMonitor(dispatcher),
		volume:   v,
		trees:    make(map[string]*tree.Tree),
		settle:   func() { time.Sleep(settleWait) },
	}
	e.timestamp.Store(int64(time.Now().UnixMilli()))
	if err := e.loadDirectory(); err != nil {
		w.Close()
		v.Close()
		return nil, err
	}
	logging.Info("engine opened", "volume", cfg.VolumePath, "journal", cfg.JournalPath)
	return e, nil
}

func volumeName(path string) string {
	return filepath.Base(path)
}

// Pool returns the buffer pool.
func (e *Engine) Pool() *memory.Pool { return e.pool }

// Journal returns the journal writer.
func (e *Engine) Journal() *journal.Writer { return e.journal }

// TxnIndex returns the transaction index.
func (e *Engine) TxnIndex() *txnindex.Index { return e.txnIndex }

// Alerts returns the alert monitor.
func (e *Engine) Alerts() *alert.Monitor { return e.alerts }

// Volume returns the engine's volume.
func (e *Engine) Volume() *volume.Volume { return e.volume }

// NextTimestamp advances and returns the engine clock.
func (e *Engine) NextTimestamp() primitives.Timestamp {
	return primitives.Timestamp(e.timestamp.Add(1))
}

// SetUpdateSuspended quiesces mutators. Setting true returns only after
// in-flight mutations that observed false have completed, implemented as a
// settlement wait.
func (e *Engine) SetUpdateSuspended(suspended bool) {
	wasSuspended := e.updateSuspended.Swap(suspended)
	if suspended && !wasSuspended {
		e.settle()
	}
}

// IsUpdateSuspended reports whether updates are suspended.
func (e *Engine) IsUpdateSuspended() bool { return e.updateSuspended.Load() }

// directory entry payload: root uint64, depth uint8, handle uint32
const directoryEntryLen = 13

func encodeDirectoryEntry(t *tree.Tree) []byte {
	out := make([]byte, directoryEntryLen)
	binary.BigEndian.PutUint64(out, uint64(t.Root))
	out[8] = byte(t.Depth)
	binary.BigEndian.PutUint32(out[9:], uint32(t.Handle))
	return out
}

func (e *Engine) loadDirectory() error {
	root := e.volume.DirectoryRoot()
	if root == 0 {
		return nil
	}
	e.directory = &tree.Tree{
		Name:   DirectoryTreeName,
		Handle: 1,
		Volume: e.volume,
		Root:   root,
		Depth:  directoryDepth(e, root),
	}
	// Rebuild the registry from the directory tree's leaf level.
	return e.scanDirectory()
}

func directoryDepth(e *Engine, root primitives.PageAddress) int {
	depth := 1
	address := root
	for {
		buf, err := e.pool.Get(e.volume, address, false, true)
		if err != nil {
			return depth
		}
		p := buf.Page()
		if !p.IsIndex() {
			e.pool.Release(buf)
			return depth
		}
		child, err := p.ChildPointerAt(0)
		e.pool.Release(buf)
		if err != nil {
			return depth
		}
		depth++
		address = child
	}
}

func (e *Engine) scanDirectory() error {
	// Walk the leaf level left to right.
	address := e.directory.Root
	for level := e.directory.Depth - 1; level > 0; level-- {
		buf, err := e.pool.Get(e.volume, address, false, true)
		if err != nil {
			return err
		}
		child, err := buf.Page().ChildPointerAt(0)
		e.pool.Release(buf)
		if err != nil {
			return err
		}
		address = child
	}
	for address != 0 {
		buf, err := e.pool.Get(e.volume, address, false, true)
		if err != nil {
			return err
		}
		p := buf.Page()
		cursor := p.NewCursor()
		for cursor.Next() {
			name, err := key.DecodeString(cursor.Key())
			if err != nil {
				continue
			}
			payload := cursor.Payload()
			if len(payload) != directoryEntryLen {
				continue
			}
			e.trees[name] = &tree.Tree{
				Name:   name,
				Handle: primitives.TreeHandle(binary.BigEndian.Uint32(payload[9:])),
				Volume: e.volume,
				Root:   primitives.PageAddress(binary.BigEndian.Uint64(payload)),
				Depth:  int(payload[8]),
			}
		}
		address = p.RightSibling()
		e.pool.Release(buf)
	}
	return nil
}

// CreateTree makes an empty tree and records it in the directory tree.
func (e *Engine) CreateTree(name string) (*tree.Tree, error) {
	if name == DirectoryTreeName {
		return nil, errs.Newf(errs.KindInvalidArgument, "%q is reserved", name)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.trees[name]; exists {
		return nil, errs.Newf(errs.KindStateViolation, "tree %q already exists", name)
	}

	handle, err := e.journal.TreeHandle(e.volume, name)
	if err != nil {
		return nil, err
	}
	address, err := e.volume.AllocatePage()
	if err != nil {
		return nil, err
	}
	leaf, err := e.pool.NewPage(e.volume, address, page.TypeData)
	if err != nil {
		return nil, err
	}
	ts := e.NextTimestamp()
	leaf.MarkDirty(ts)
	if err := e.pool.Release(leaf); err != nil {
		return nil, err
	}

	t := &tree.Tree{Name: name, Handle: handle, Volume: e.volume, Root: address, Depth: 1}
	if err := e.storeDirectoryEntryLocked(t, ts); err != nil {
		return nil, err
	}
	e.trees[name] = t
	logging.WithTree(e.volume.Name(), name).Info("tree created", "root", address, "handle", handle)
	return t, nil
}

// RegisterTree records an externally built tree (for example a bulk load)
// in the registry and directory.
func (e *Engine) RegisterTree(t *tree.Tree) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.storeDirectoryEntryLocked(t, e.NextTimestamp()); err != nil {
		return err
	}
	e.trees[t.Name] = t
	return nil
}

func (e *Engine) storeDirectoryEntryLocked(t *tree.Tree, ts primitives.Timestamp) error {
	if e.directory == nil {
		address, err := e.volume.AllocatePage()
		if err != nil {
			return err
		}
		leaf, err := e.pool.NewPage(e.volume, address, page.TypeData)
		if err != nil {
			return err
		}
		leaf.MarkDirty(ts)
		if err := e.pool.Release(leaf); err != nil {
			return err
		}
		e.directory = &tree.Tree{Name: DirectoryTreeName, Handle: 1, Volume: e.volume, Root: address, Depth: 1}
		if err := e.volume.SetDirectoryRoot(address); err != nil {
			return err
		}
	}
	if err := e.directory.Store(e.pool, key.EncodeString(t.Name), encodeDirectoryEntry(t), ts); err != nil {
		return err
	}
	// A directory root split moves the root.
	if e.volume.DirectoryRoot() != e.directory.Root {
		return e.volume.SetDirectoryRoot(e.directory.Root)
	}
	return nil
}

// Tree returns a registered tree by name.
func (e *Engine) Tree(name string) (*tree.Tree, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.trees[name]
	return t, ok
}

// Trees lists the registered trees. The directory tree is not included.
func (e *Engine) Trees() []*tree.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*tree.Tree, 0, len(e.trees))
	for _, t := range e.trees {
		out = append(out, t)
	}
	return out
}

// DirectoryTree returns the directory tree, or nil before the first tree
// is created.
func (e *Engine) DirectoryTree() *tree.Tree {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.directory
}

// Store writes one key/value pair transactionally: the journal carries TS
// and SR, then the tree mutates, then TC follows. Each of the three records
// may roll to a new journal block on its own; they are not kept in one block.
func (e *Engine) Store(treeName string, k, value []byte) error {
	if e.IsUpdateSuspended() {
		return errs.New(errs.KindInUse, "updates are suspended")
	}
	t, ok := e.Tree(treeName)
	if !ok {
		return errs.Newf(errs.KindInvalidArgument, "no tree named %q", treeName)
	}
	ts := e.NextTimestamp()
	e.txnIndex.Begin(primitives.Version(ts))

	rootBefore, depthBefore := t.Root, t.Depth
	if err := e.journal.WriteTransactionStart(ts); err != nil {
		return err
	}
	if err := e.journal.WriteStore(t.Handle, k, value, ts); err != nil {
		return err
	}
	if err := t.Store(e.pool, k, value, ts); err != nil {
		e.txnIndex.Abort(primitives.Version(ts))
		return err
	}
	if err := e.journal.WriteTransactionCommit(ts); err != nil {
		return err
	}
	e.txnIndex.Commit(primitives.Version(ts))

	// A root split moves the root; the directory entry follows it.
	if t.Root != rootBefore || t.Depth != depthBefore {
		return e.RegisterTree(t)
	}
	return nil
}

// Fetch reads one value.
func (e *Engine) Fetch(treeName string, k []byte) ([]byte, bool, error) {
	t, ok := e.Tree(treeName)
	if !ok {
		return nil, false, errs.Newf(errs.KindInvalidArgument, "no tree named %q", treeName)
	}
	return t.Fetch(e.pool, k)
}

// Checkpoint writes the page and transaction maps followed by a CP marker.
func (e *Engine) Checkpoint() error {
	ts := e.NextTimestamp()
	return e.journal.WriteCheckpoint(journal.PM{}, journal.TM{}, ts)
}

// Close seals the journal and closes the volume.
func (e *Engine) Close() error {
	jerr := e.journal.Close()
	verr := e.volume.Close()
	if jerr != nil {
		return jerr
	}
	return verr
}
