package mvcc

import (
	"bytes"

	"keelstore/pkg/primitives"
)

// Oracle is the transaction index surface pruning depends on. A COMMITTED
// answer means the version is visible to every possible snapshot; ABORTED
// means no snapshot can ever see it.
type Oracle interface {
	Status(version primitives.Version) primitives.CommitStatus
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(version primitives.Version) primitives.CommitStatus

func (f OracleFunc) Status(version primitives.Version) primitives.CommitStatus {
	return f(version)
}

// PruneResult describes the outcome of pruning one value region.
type PruneResult struct {
	// Value is the rewritten region. Meaningless when RemoveKey is set.
	Value []byte
	// RemoveKey indicates the region collapsed to an anti-value; the caller
	// must remove the key from its page.
	RemoveKey bool
	// Changed indicates the region differs from the input.
	Changed bool
}

// Prune rewrites a value region, discarding version entries no snapshot can
// observe. Aborted entries are dropped. Committed entries below minRequired
// that are shadowed by a newer committed entry are collapsed away; when a
// single committed entry remains and no in-flight (UNKNOWN) entry still
// anchors the chain, it becomes the primordial value. Unknown entries are
// always left intact.
//
// Pruning is an optimization: the visible contents for any live snapshot are
// unchanged. The caller must hold an exclusive claim on the enclosing page.
func Prune(b []byte, oracle Oracle, minRequired primitives.Version) (PruneResult, error) {
	if !IsMultiVersion(b) {
		// Primordial regions carry nothing to prune.
		return PruneResult{Value: b}, nil
	}
	entries, err := decode(b)
	if err != nil {
		return PruneResult{}, err
	}

	status := func(e entry) primitives.CommitStatus {
		if e.version == PrimordialVersion {
			return primitives.StatusCommitted
		}
		return oracle.Status(e.version)
	}

	latestCommitted := primitives.Version(0)
	haveCommitted := false
	for _, e := range entries {
		if status(e) == primitives.StatusCommitted && (!haveCommitted || e.version > latestCommitted) {
			latestCommitted = e.version
			haveCommitted = true
		}
	}

	var kept []entry
	unknown := false
	for _, e := range entries {
		switch status(e) {
		case primitives.StatusAborted:
			continue
		case primitives.StatusCommitted:
			if e.version < latestCommitted && e.version < minRequired {
				// Shadowed by a newer committed version and below the
				// low-water mark: no snapshot can require it.
				continue
			}
			kept = append(kept, e)
		default:
			unknown = true
			kept = append(kept, e)
		}
	}

	if len(kept) == 0 {
		return PruneResult{RemoveKey: true, Changed: true}, nil
	}
	if !unknown && len(kept) == 1 {
		payload := kept[0].payload
		if IsAntiValue(payload) {
			return PruneResult{RemoveKey: true, Changed: true}, nil
		}
		out := make([]byte, len(payload))
		copy(out, payload)
		return PruneResult{Value: out, Changed: true}, nil
	}

	out := encode(kept)
	return PruneResult{Value: out, Changed: !bytes.Equal(out, b)}, nil
}
